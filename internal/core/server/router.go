package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Options struct {
	Name string
	Mode string

	// CORSOrigins 为空则放开所有来源
	CORSOrigins []string
	// MaxBodyBytes 请求体上限；要容得下一张 base64 图片
	MaxBodyBytes int64
	Timeout      time.Duration
	// Ready /health 探活，比如 ping 数据库
	Ready func(ctx context.Context) error
}

func (o Options) WithDefaults() Options {
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = 16 << 20
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	return o
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	cfg.AddAllowHeaders("Authorization", "X-Request-ID")
	cfg.AddExposeHeaders("X-Request-ID")
	return cfg
}

// NewRouter 基础引擎：zap recovery + CORS；其余中间件由各端自己挂
func NewRouter(l *zap.Logger, opt Options) *gin.Engine {
	if opt.Mode != "" {
		gin.SetMode(opt.Mode)
	}
	r := gin.New()
	r.Use(ginzap.RecoveryWithZap(l, true))
	r.Use(cors.New(corsConfig(opt.CORSOrigins)))
	return r
}

// Health 带探活的健康检查
func Health(opt Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		if opt.Ready != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := opt.Ready(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"ok": 0, "name": opt.Name, "error": "not ready"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"ok": 1, "name": opt.Name})
	}
}

func StartHTTP(srv *http.Server, l *zap.Logger) error {
	l.Info("http starting", zap.String("addr", srv.Addr))
	return srv.ListenAndServe()
}

func BuildServer(addr string, handler http.Handler, rt, wt, it time.Duration) *http.Server {
	return &http.Server{
		Addr:           addr,
		Handler:        handler,
		ReadTimeout:    rt,
		WriteTimeout:   wt,
		IdleTimeout:    it,
		MaxHeaderBytes: 1 << 20, // 1MB
	}
}

func Addr(host string, port int) string { return fmt.Sprintf("%s:%d", host, port) }
