package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"fleet-api/internal/domain"
	"fleet-api/internal/transport/http/ez"
	resp "fleet-api/internal/transport/http/response"
)

// Principals 按 uid 取库里当前的角色与启用状态
type Principals interface {
	Principal(ctx context.Context, uid uint) (role string, active bool, err error)
}

// Recheck token 只证明"签发时是谁"；管理端和写操作再查一次库，
// 降权 / 停用 / 删除立即生效。只读请求沿用 token，最多滞后一个 TTL。
func Recheck(p Principals, l *zap.Logger, requireRole string, writesOnly bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := c.GetUint(ez.KeyUserID)
		if p == nil || uid == 0 || (writesOnly && readOnly(c.Request.Method)) {
			c.Next()
			return
		}

		role, active, err := p.Principal(c.Request.Context(), uid)
		switch {
		case domain.KindOf(err) == domain.KindNotFound:
			c.AbortWithStatusJSON(http.StatusUnauthorized, resp.Error(resp.CodeUnauthorized, "account no longer exists"))
			return
		case err != nil:
			ez.Fail(c, l, err)
			return
		case !active:
			c.AbortWithStatusJSON(http.StatusUnauthorized, resp.Error(resp.CodeUnauthorized, "account is inactive"))
			return
		case requireRole != "" && role != requireRole:
			c.AbortWithStatusJSON(http.StatusForbidden, resp.Error(resp.CodeForbidden, "forbidden"))
			return
		}
		// 后续按库里的角色判断
		c.Set(ez.KeyRole, role)
		c.Next()
	}
}

func readOnly(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}
