package handler

import (
	"github.com/gin-gonic/gin"

	"fleet-api/internal/domain"
	"fleet-api/internal/service"
	"fleet-api/internal/transport/http/ez"
)

type message struct {
	Message string `json:"message"`
}

// listQ ?page=&limit=&q=&role=&isActive=；保持字符串，非法分页值由 validate.PageLimit 回落默认
type listQ struct {
	Page     string `form:"page"`
	Limit    string `form:"limit"`
	Q        string `form:"q"`
	Role     string `form:"role"`
	IsActive string `form:"isActive"`
}

func (q listQ) query() service.ListQuery {
	return service.ListQuery{Page: q.Page, Limit: q.Limit, Q: q.Q, Role: q.Role, IsActive: q.IsActive}
}

func pathID(c *gin.Context, name string) (uint, error) {
	return service.ParseID(c.Param(name))
}

// selfOrAdmin 普通用户只能操作自己
func selfOrAdmin(c *gin.Context, id uint) error {
	uid, role := ez.Caller(c)
	if role == domain.RoleAdmin || uid == id {
		return nil
	}
	return ez.Forbidden("you can only access your own account")
}
