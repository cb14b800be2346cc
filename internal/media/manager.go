package media

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"fleet-api/internal/domain"
)

const DefaultMaxBytes int64 = 10 << 20

var allowedTypes = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// Upload 来自 multipart 或 base64 的原始图片
type Upload struct {
	Data        []byte
	ContentType string // 为空时按内容嗅探
}

// Image 校验通过、准备落盘的图片
type Image struct {
	Data []byte
	Type string
	Ext  string
	Size int64
}

type Manager struct {
	store    Store
	maxBytes int64
	now      func() time.Time
}

func NewManager(store Store, maxBytes int64) *Manager {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Manager{store: store, maxBytes: maxBytes, now: time.Now}
}

func (m *Manager) MaxBytes() int64 { return m.maxBytes }

func normalizeType(ct string) string {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if ct == "image/jpg" {
		return "image/jpeg"
	}
	return ct
}

// Prepare 非空、大小上限、MIME 白名单；声明类型缺失或为通用二进制时嗅探内容
func (m *Manager) Prepare(u Upload) (*Image, error) {
	if len(u.Data) == 0 {
		return nil, domain.Validation("image is empty")
	}
	if int64(len(u.Data)) > m.maxBytes {
		return nil, domain.Validation(fmt.Sprintf("image exceeds maximum size of %d bytes", m.maxBytes))
	}
	ct := normalizeType(u.ContentType)
	if ct == "" || ct == "application/octet-stream" {
		ct = normalizeType(mimetype.Detect(u.Data).String())
	}
	ext, ok := allowedTypes[ct]
	if !ok {
		return nil, domain.Validation("invalid image type. Allowed types: image/jpeg, image/png, image/gif, image/webp")
	}
	return &Image{Data: u.Data, Type: ct, Ext: ext, Size: int64(len(u.Data))}, nil
}

// DecodeBase64 接受纯 base64 或 data:<mime>;base64,<payload>
func DecodeBase64(s string) (Upload, error) {
	s = strings.TrimSpace(s)
	var ct string
	if strings.HasPrefix(s, "data:") {
		comma := strings.IndexByte(s, ',')
		if comma < 0 {
			return Upload{}, domain.Validation("invalid image data URL")
		}
		meta := s[len("data:"):comma]
		if !strings.HasSuffix(meta, ";base64") {
			return Upload{}, domain.Validation("image data URL must be base64 encoded")
		}
		ct = strings.TrimSuffix(meta, ";base64")
		s = s[comma+1:]
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		if b, err = base64.RawStdEncoding.DecodeString(s); err != nil {
			return Upload{}, domain.Validation("invalid base64 image data")
		}
	}
	return Upload{Data: b, ContentType: ct}, nil
}

// Key {entity}_{id}_{unixMillis}.{ext}
func (m *Manager) Key(entity string, id uint, img *Image) string {
	return fmt.Sprintf("%s_%d_%d.%s", entity, id, m.now().UnixMilli(), img.Ext)
}

func (m *Manager) Put(ctx context.Context, key string, img *Image) error {
	_, err := m.store.Put(ctx, key, img.Data)
	return err
}

func (m *Manager) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return m.store.Open(ctx, key)
}

// Remove 清理失败不影响主流程，返回 error 供调用方记录
func (m *Manager) Remove(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	return m.store.Delete(ctx, key)
}
