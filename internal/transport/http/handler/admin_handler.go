package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"fleet-api/internal/domain"
	"fleet-api/internal/service"
	"fleet-api/internal/transport/http/ez"
)

// AdminHandler 管理端：已删列表、恢复、彻底删除、重置密码、统计
type AdminHandler struct {
	users *service.UserService
	cars  *service.CarService
}

func NewAdminHandler(u *service.UserService, c *service.CarService) *AdminHandler {
	return &AdminHandler{users: u, cars: c}
}

type adminPasswordIn struct {
	NewPassword string `json:"newPassword" binding:"required"`
}

type overview struct {
	Users        *domain.UserStats               `json:"users"`
	Cars         *domain.CarStats                `json:"cars"`
	DeletedUsers *domain.PageResult[domain.User] `json:"deletedUsers"`
	DeletedCars  *domain.PageResult[domain.Car]  `json:"deletedCars"`
	GeneratedAt  time.Time                       `json:"generatedAt"`
}

// MountAdmin 分组已走 AuthJWT("admin")，这里再按角色兜底
func (h *AdminHandler) MountAdmin(admin ez.EZ) {
	roles := []string{domain.RoleAdmin}

	// --- 用户 ---
	ez.RegisterAction(admin, ez.Action[listQ, *domain.PageResult[domain.User]]{
		Method: http.MethodGet,
		Path:   "/users/deleted",
		Binder: ez.BindQuery,
		Roles:  roles,
		Handler: func(c *gin.Context, in *listQ) (*domain.PageResult[domain.User], error) {
			return h.users.ListDeleted(c.Request.Context(), in.query())
		},
	})

	ez.RegisterAction(admin, ez.Action[struct{}, *domain.UserStats]{
		Method: http.MethodGet,
		Path:   "/users/stats",
		Binder: ez.BindNone,
		Roles:  roles,
		Handler: func(c *gin.Context, _ *struct{}) (*domain.UserStats, error) {
			return h.users.Stats(c.Request.Context())
		},
	})

	ez.RegisterAction(admin, ez.Action[struct{}, *domain.User]{
		Method: http.MethodPost,
		Path:   "/users/:id/restore",
		Binder: ez.BindNone,
		Roles:  roles,
		Handler: func(c *gin.Context, _ *struct{}) (*domain.User, error) {
			id, err := pathID(c, "id")
			if err != nil {
				return nil, err
			}
			return h.users.Restore(c.Request.Context(), id)
		},
	})

	ez.RegisterAction(admin, ez.Action[struct{}, message]{
		Method: http.MethodDelete,
		Path:   "/users/:id/force",
		Binder: ez.BindNone,
		Roles:  roles,
		Handler: func(c *gin.Context, _ *struct{}) (message, error) {
			id, err := pathID(c, "id")
			if err != nil {
				return message{}, err
			}
			if err := h.users.PermanentDelete(c.Request.Context(), id); err != nil {
				return message{}, err
			}
			return message{Message: "user permanently deleted"}, nil
		},
	})

	ez.RegisterAction(admin, ez.Action[adminPasswordIn, message]{
		Method: http.MethodPut,
		Path:   "/users/:id/admin-password",
		Binder: ez.BindJSON,
		Roles:  roles,
		Handler: func(c *gin.Context, in *adminPasswordIn) (message, error) {
			id, err := pathID(c, "id")
			if err != nil {
				return message{}, err
			}
			if err := h.users.AdminResetPassword(c.Request.Context(), id, in.NewPassword); err != nil {
				return message{}, err
			}
			return message{Message: "password reset"}, nil
		},
	})

	// --- 车辆 ---
	ez.RegisterAction(admin, ez.Action[listQ, *domain.PageResult[domain.Car]]{
		Method: http.MethodGet,
		Path:   "/cars/deleted",
		Binder: ez.BindQuery,
		Roles:  roles,
		Handler: func(c *gin.Context, in *listQ) (*domain.PageResult[domain.Car], error) {
			return h.cars.ListDeleted(c.Request.Context(), in.query())
		},
	})

	ez.RegisterAction(admin, ez.Action[struct{}, *domain.CarStats]{
		Method: http.MethodGet,
		Path:   "/cars/stats/count",
		Binder: ez.BindNone,
		Roles:  roles,
		Handler: func(c *gin.Context, _ *struct{}) (*domain.CarStats, error) {
			return h.cars.Stats(c.Request.Context())
		},
	})

	ez.RegisterAction(admin, ez.Action[struct{}, *domain.Car]{
		Method: http.MethodPost,
		Path:   "/cars/:id/restore",
		Binder: ez.BindNone,
		Roles:  roles,
		Handler: func(c *gin.Context, _ *struct{}) (*domain.Car, error) {
			id, err := pathID(c, "id")
			if err != nil {
				return nil, err
			}
			return h.cars.Restore(c.Request.Context(), id)
		},
	})

	ez.RegisterAction(admin, ez.Action[struct{}, message]{
		Method: http.MethodDelete,
		Path:   "/cars/:id/force",
		Binder: ez.BindNone,
		Roles:  roles,
		Handler: func(c *gin.Context, _ *struct{}) (message, error) {
			id, err := pathID(c, "id")
			if err != nil {
				return message{}, err
			}
			if err := h.cars.PermanentDelete(c.Request.Context(), id); err != nil {
				return message{}, err
			}
			return message{Message: "car permanently deleted"}, nil
		},
	})

	// 一次拿齐统计 + 最近删除
	ez.RegisterAction(admin, ez.Action[struct{}, overview]{
		Method: http.MethodGet,
		Path:   "/overview",
		Binder: ez.BindNone,
		Roles:  roles,
		Handler: func(c *gin.Context, _ *struct{}) (overview, error) {
			var out overview
			g, ctx := errgroup.WithContext(c.Request.Context())
			g.Go(func() (err error) { out.Users, err = h.users.Stats(ctx); return })
			g.Go(func() (err error) { out.Cars, err = h.cars.Stats(ctx); return })
			g.Go(func() (err error) { out.DeletedUsers, err = h.users.ListDeleted(ctx, service.ListQuery{}); return })
			g.Go(func() (err error) { out.DeletedCars, err = h.cars.ListDeleted(ctx, service.ListQuery{}); return })
			if err := g.Wait(); err != nil {
				return overview{}, err
			}
			out.GeneratedAt = time.Now().UTC()
			return out, nil
		},
	})
}
