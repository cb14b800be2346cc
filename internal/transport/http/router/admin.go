// internal/transport/http/router/admin.go
package router

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"fleet-api/internal/core/auth"
	"fleet-api/internal/core/server"
	"fleet-api/internal/domain"
	"fleet-api/internal/transport/http/ez"
	mdw "fleet-api/internal/transport/http/middleware"
)

func NewAdminEngine(l *zap.Logger, opt server.Options, jwter *auth.JWTer, who mdw.Principals, mods *Registry) *gin.Engine {
	r := base(l, opt)

	// 管理端 v1（统一要求 admin 角色）
	admin := r.Group("/admin/v1")
	admin.Use(mdw.AuthJWT(jwter, domain.RoleAdmin), mdw.Recheck(who, l, domain.RoleAdmin, false))
	mods.MountAdmin(ez.New(admin, l))

	return r
}
