package cache

import (
	"context"
	"encoding/json"
	"time"
)

// GetOrLoadJSON 统计快照的 JSON 读穿缓存。
// 缓存里的内容解不开（结构升级后残留的旧值）时删掉 key 并回源一次。
func GetOrLoadJSON[T any](
	c *Cache,
	ctx context.Context,
	key string,
	ttl time.Duration,
	load func(ctx context.Context) (*T, error),
) (*T, error) {
	loadBytes := func(ctx context.Context) ([]byte, error) {
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	}

	b, err := c.GetOrLoad(ctx, key, ttl, loadBytes)
	if err != nil {
		return nil, err
	}
	out, err := decode[T](b)
	if err == nil {
		return out, nil
	}

	c.Del(ctx, key)
	b, err = c.GetOrLoad(ctx, key, ttl, loadBytes)
	if err != nil {
		return nil, err
	}
	return decode[T](b)
}

func decode[T any](b []byte) (*T, error) {
	if string(b) == "null" {
		return nil, nil
	}
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

