package notify

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"fleet-api/internal/domain"
)

const DefaultRedisPrefix = "fleet:events:"

// RedisPublisher PUBLISH {prefix}{channel}
type RedisPublisher struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisPublisher(rdb *redis.Client, prefix string) *RedisPublisher {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisPublisher{rdb: rdb, prefix: prefix}
}

func (p *RedisPublisher) Publish(ctx context.Context, channel string, ev domain.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, p.prefix+channel, b).Err()
}

// RedisRelay 订阅 {prefix}* 并转发给本地 Hub，让 admin 进程的变更也能推到 api 进程的 ws 客户端
type RedisRelay struct {
	rdb    *redis.Client
	prefix string
	sink   Publisher
	log    *zap.Logger
}

func NewRedisRelay(rdb *redis.Client, prefix string, sink Publisher, l *zap.Logger) *RedisRelay {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if l == nil {
		l = zap.NewNop()
	}
	return &RedisRelay{rdb: rdb, prefix: prefix, sink: sink, log: l}
}

// Run 阻塞直到 ctx 取消
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.rdb.PSubscribe(ctx, r.prefix+"*")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	r.log.Info("redis relay subscribed", zap.String("pattern", r.prefix+"*"))
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.forward(ctx, msg.Channel, []byte(msg.Payload))
		}
	}
}

func (r *RedisRelay) forward(ctx context.Context, channel string, payload []byte) {
	var ev domain.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		r.log.Warn("redis relay: bad payload", zap.String("channel", channel), zap.Error(err))
		return
	}
	room := strings.TrimPrefix(channel, r.prefix)
	if err := r.sink.Publish(ctx, room, ev); err != nil {
		r.log.Warn("redis relay: forward failed", zap.String("room", room), zap.Error(err))
	}
}
