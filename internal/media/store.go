package media

import (
	"context"
	"errors"
	"io"
	"os"
	"path"
	"strings"

	"github.com/spf13/afero"
)

var ErrObjectNotFound = errors.New("media: object not found")

// Store 图片字节的存放处；数据库只记元数据
type Store interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// FSStore 基于 afero：生产用 OsFs + BasePath，测试用 MemMapFs
type FSStore struct {
	fs afero.Fs
}

func NewFSStore(fs afero.Fs) *FSStore { return &FSStore{fs: fs} }

// NewDirStore 把 dir 作为根目录，不存在就创建
func NewDirStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return NewFSStore(afero.NewBasePathFs(afero.NewOsFs(), dir)), nil
}

func cleanKey(key string) (string, error) {
	k := path.Clean("/" + key)
	if k == "/" || strings.Contains(key, "..") {
		return "", errors.New("media: invalid key")
	}
	return k, nil
}

func (s *FSStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	k, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	if err := afero.WriteFile(s.fs, k, data, 0o644); err != nil {
		return "", err
	}
	return k, nil
}

func (s *FSStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k, err := cleanKey(key)
	if err != nil {
		return nil, ErrObjectNotFound
	}
	f, err := s.fs.Open(k)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Delete 不存在视为成功
func (s *FSStore) Delete(ctx context.Context, key string) error {
	k, err := cleanKey(key)
	if err != nil {
		return nil
	}
	if err := s.fs.Remove(k); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
