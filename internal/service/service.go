package service

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"fleet-api/internal/core/cache"
	"fleet-api/internal/domain"
	"fleet-api/internal/validate"
)

// EventSink 通知出口；*notify.Notifier 实现它，投递失败不会回传
type EventSink interface {
	Notify(ctx context.Context, ev domain.Event)
}

type Options struct {
	Log      *zap.Logger
	Cache    *cache.Cache
	StatsTTL time.Duration
	Paging   validate.PageDefaults
	Password validate.PasswordPolicy
}

func (o Options) withDefaults() Options {
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
	if o.StatsTTL <= 0 {
		o.StatsTTL = 30 * time.Second
	}
	if o.Paging.MaxLimit <= 0 {
		o.Paging = validate.DefaultPaging
	}
	if o.Password == (validate.PasswordPolicy{}) {
		o.Password = validate.DefaultPasswordPolicy
	}
	return o
}

var transitions = prometheus.NewCounterVec(
	prometheus.CounterOpts{Name: "fleet_lifecycle_transitions_total", Help: "Successful lifecycle transitions"},
	[]string{"entity", "op"},
)

func init() { prometheus.MustRegister(transitions) }

// ListQuery 列表查询的原始参数，统一在这里解析
type ListQuery struct {
	Page     string
	Limit    string
	Q        string
	Role     string
	IsActive string // "" 不过滤；true / false
}

type nopSink struct{}

func (nopSink) Notify(context.Context, domain.Event) {}

func pageResult[T any](items []T, total int64, p domain.Page) *domain.PageResult[T] {
	if items == nil {
		items = []T{}
	}
	return &domain.PageResult[T]{
		Items:      items,
		Total:      total,
		Page:       p.Page,
		Limit:      p.Limit,
		TotalPages: validate.TotalPages(total, p.Limit),
	}
}

func parseID(raw string) (uint, error) {
	r := validate.PositiveInt(raw)
	if !r.Valid {
		return 0, domain.Validation(r.Error)
	}
	return uint(r.Value), nil
}

// ParseID 路径参数里的 id
func ParseID(raw string) (uint, error) { return parseID(raw) }

func FormatID(id uint) string { return strconv.FormatUint(uint64(id), 10) }

// cacheJSON 统计类读走 redis + singleflight；未配置缓存时直接查库
func cacheJSON[T any](ctx context.Context, opt Options, key string, load func(context.Context) (*T, error)) (*T, error) {
	return cache.GetOrLoadJSON(opt.Cache, ctx, key, opt.StatsTTL, load)
}
