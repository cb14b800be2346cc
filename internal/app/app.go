package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"fleet-api/internal/core/auth"
	"fleet-api/internal/core/cache"
	"fleet-api/internal/core/config"
	"fleet-api/internal/core/database"
	"fleet-api/internal/core/server"
	"fleet-api/internal/media"
	"fleet-api/internal/notify"
	"fleet-api/internal/repo"
	"fleet-api/internal/service"
	"fleet-api/internal/transport/http/handler"
	"fleet-api/internal/transport/http/router"
)

type App struct {
	Cfg      *config.Config
	Log      *zap.Logger
	DB       *gorm.DB
	Redis    *redis.Client
	JWT      *auth.JWTer
	Notifier *notify.Notifier

	Users *service.UserService
	Cars  *service.CarService
	Auth  *service.AuthService

	closers []func() error
}

func OpenDB(cfg *config.Config, l *zap.Logger) (*gorm.DB, error) {
	return database.NewGorm(database.Opts{
		Driver:             cfg.DB.Driver,
		DSN:                cfg.DB.DSN,
		Username:           cfg.DB.Username,
		Password:           cfg.DB.Password,
		MaxOpenConns:       cfg.DB.MaxOpenConns,
		MaxIdleConns:       cfg.DB.MaxIdleConns,
		ConnMaxLifetimeMin: cfg.DB.ConnMaxLifetimeMin,
		LogLevel:           cfg.DB.LogLevel,
		PrepareStmt:        cfg.DB.PrepareStmt,
		Log:                l,
	})
}

// New 组装依赖；hub 为 nil 时（admin 进程）只发布不转发
func New(ctx context.Context, cfg *config.Config, l *zap.Logger, hub *notify.Hub) (*App, error) {
	if cfg.JWT.Secret == "" {
		return nil, errors.New("jwt.secret is required")
	}
	a := &App{Cfg: cfg, Log: l}

	db, err := OpenDB(cfg, l)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	a.DB = db
	a.closers = append(a.closers, func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})
	if cfg.DB.AutoMigrate {
		if err := repo.Migrate(db); err != nil {
			a.Close()
			return nil, fmt.Errorf("automigrate: %w", err)
		}
		l.Info("automigrate done")
	}

	if cfg.Redis.Addr != "" {
		a.Redis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		a.closers = append(a.closers, a.Redis.Close)
	}
	var c *cache.Cache
	if cfg.Cache.Enabled && a.Redis != nil {
		c = cache.NewWithClient(a.Redis)
		if err := c.Ping(ctx); err != nil {
			// 缓存不可用时 GetOrLoad 会回源，不阻止启动
			l.Warn("redis ping failed, stats cache degraded", zap.Error(err))
		}
	}

	store, err := media.NewDirStore(cfg.Storage.Dir)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("storage dir: %w", err)
	}

	a.Notifier, err = a.notifier(ctx, hub)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.JWT = &auth.JWTer{
		Secret: []byte(cfg.JWT.Secret),
		Issuer: cfg.JWT.Issuer,
		TTL:    time.Duration(cfg.JWT.AccessTokenTTLMin) * time.Minute,
	}
	opt := service.Options{
		Log:      l,
		Cache:    c,
		StatsTTL: time.Duration(cfg.Cache.StatsTTLSec) * time.Second,
		Paging:   cfg.Pagination,
		Password: cfg.Password,
	}
	st := repo.NewStore(db)
	a.Users = service.NewUserService(st, a.Notifier, opt)
	a.Cars = service.NewCarService(st, media.NewManager(store, cfg.Storage.MaxImageBytes), a.Notifier, opt)
	a.Auth = service.NewAuthService(st, a.JWT, l)
	return a, nil
}

// notifier 按 notify.driver 选择发布方式；redis / amqp 下本进程的 Hub 通过 relay 收事件
func (a *App) notifier(ctx context.Context, hub *notify.Hub) (*notify.Notifier, error) {
	cfg := a.Cfg.Notify
	switch cfg.Driver {
	case "", "local":
		if hub == nil {
			a.Log.Warn("notify.driver=local without a websocket hub, events are dropped")
			return notify.NewNotifier(a.Log), nil
		}
		return notify.NewNotifier(a.Log, hub), nil

	case "redis":
		if a.Redis == nil {
			return nil, errors.New("notify.driver=redis requires redis.addr")
		}
		if hub != nil {
			relay := notify.NewRedisRelay(a.Redis, cfg.Prefix, hub, a.Log)
			a.runRelay(ctx, "redis", relay.Run)
		}
		return notify.NewNotifier(a.Log, notify.NewRedisPublisher(a.Redis, cfg.Prefix)), nil

	case "amqp":
		pub, err := notify.NewAMQPPublisher(cfg.AMQPURL, cfg.Exchange)
		if err != nil {
			return nil, fmt.Errorf("amqp publisher: %w", err)
		}
		a.closers = append(a.closers, pub.Close)
		if hub != nil {
			relay := notify.NewAMQPRelay(cfg.AMQPURL, cfg.Exchange, hub, a.Log)
			a.runRelay(ctx, "amqp", relay.Run)
		}
		return notify.NewNotifier(a.Log, pub), nil
	}
	return nil, fmt.Errorf("unknown notify.driver %q", cfg.Driver)
}

// runRelay 断线后按 backoff 重连，直到 ctx 取消
func (a *App) runRelay(ctx context.Context, name string, run func(context.Context) error) {
	go func() {
		backoff := time.Second
		for {
			err := run(ctx)
			if ctx.Err() != nil {
				return
			}
			a.Log.Warn("notify relay stopped, reconnecting", zap.String("relay", name), zap.Error(err), zap.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
		}
	}()
}

// Ready /health 用
func (a *App) Ready(ctx context.Context) error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Modules 两个引擎共用的路由模块；hub 为 nil 时不挂 /ws
func (a *App) Modules(hub *notify.Hub) *router.Registry {
	reg := router.NewRegistry(
		handler.NewAuthHandler(a.Auth, a.Users),
		handler.NewUserHandler(a.Users, a.Cars),
		handler.NewCarHandler(a.Cars, a.Cfg.Storage.MaxImageBytes),
		handler.NewAdminHandler(a.Users, a.Cars),
	)
	if hub != nil {
		reg.Register(handler.NewWSHandler(hub))
	}
	return reg
}

// ServerOptions 请求体上限按图片上限放大，base64 约多 1/3
func (a *App) ServerOptions() server.Options {
	mode := "debug"
	if a.Cfg.App.Env == "prod" {
		mode = "release"
	}
	return server.Options{
		Name:         a.Cfg.App.Name,
		Mode:         mode,
		CORSOrigins:  a.Cfg.App.CORSOrigins,
		MaxBodyBytes: a.Cfg.Storage.MaxImageBytes*4/3 + 1<<20,
		Ready:        a.Ready,
	}
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Log.Warn("close", zap.Error(err))
		}
	}
	a.closers = nil
}
