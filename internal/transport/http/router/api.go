package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"fleet-api/internal/core/auth"
	"fleet-api/internal/core/server"
	"fleet-api/internal/domain"
	"fleet-api/internal/transport/http/ez"
	mdw "fleet-api/internal/transport/http/middleware"
	"fleet-api/internal/validate"
)

// base 两个引擎共用的中间件链 + /health + /metrics
func base(l *zap.Logger, opt server.Options) *gin.Engine {
	opt = opt.WithDefaults()
	validate.RegisterBindings()

	r := server.NewRouter(l, opt)
	r.Use(
		mdw.RequestID(),
		mdw.RateLimit(200, 400),
		mdw.RateLimitPerIP(20, 40, 10*time.Minute),
		mdw.ConcurrencyLimit(300),
		mdw.MaxBodyBytes(opt.MaxBodyBytes),
		mdw.Timeout(opt.Timeout),
		mdw.SimpleRecovery(l),
		mdw.Metrics(),
		mdw.AccessLog(l),
	)

	// 健康检查
	r.GET("/health", server.Health(opt))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// NewAPIEngine 用户端；同时挂一份 /admin/v1，单进程部署时不必再起 admin。
// who 为 nil 时只信 token
func NewAPIEngine(l *zap.Logger, opt server.Options, jwter *auth.JWTer, who mdw.Principals, mods *Registry) *gin.Engine {
	r := base(l, opt)

	// 前缀
	api := r.Group("/api/v1")
	api.Use(mdw.OptionalAuth(jwter), mdw.Recheck(who, l, "", true))

	// 鉴权分组（⚠️ /me 必须挂这里，才能拿到 userId）
	authUser := api.Group("")
	authUser.Use(mdw.AuthJWT(jwter, ""))

	mods.MountAPI(ez.New(api, l), ez.New(authUser, l))

	admin := r.Group("/admin/v1")
	admin.Use(mdw.AuthJWT(jwter, domain.RoleAdmin), mdw.Recheck(who, l, domain.RoleAdmin, false))
	mods.MountAdmin(ez.New(admin, l))

	return r
}
