package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"fleet-api/internal/domain"
	"fleet-api/internal/service"
	"fleet-api/internal/transport/http/ez"
)

type UserHandler struct {
	users *service.UserService
	cars  *service.CarService
}

func NewUserHandler(u *service.UserService, c *service.CarService) *UserHandler {
	return &UserHandler{users: u, cars: c}
}

type passwordIn struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword"     binding:"required"`
}

func (h *UserHandler) MountAPI(pub, authed ez.EZ) {
	// 注册：公开；只有管理员能指定 role
	ez.RegisterAction(pub, ez.Action[service.RegisterInput, *domain.User]{
		Method: http.MethodPost,
		Path:   "/users",
		Binder: ez.BindJSON,
		Status: http.StatusCreated,
		Handler: func(c *gin.Context, in *service.RegisterInput) (*domain.User, error) {
			role := strings.TrimSpace(in.Role)
			if role != "" && role != domain.RoleUser && !ez.IsAdmin(c) {
				return nil, ez.Forbidden("only admins can assign roles")
			}
			return h.users.Register(c.Request.Context(), *in)
		},
	})

	ez.RegisterAction(authed, ez.Action[listQ, *domain.PageResult[domain.User]]{
		Method: http.MethodGet,
		Path:   "/users",
		Binder: ez.BindQuery,
		Roles:  []string{domain.RoleAdmin},
		Handler: func(c *gin.Context, in *listQ) (*domain.PageResult[domain.User], error) {
			return h.users.ListActive(c.Request.Context(), in.query())
		},
	})

	ez.RegisterAction(authed, ez.Action[struct{}, *domain.User]{
		Method: http.MethodGet,
		Path:   "/users/:id",
		Binder: ez.BindNone,
		Auth:   true,
		Handler: func(c *gin.Context, _ *struct{}) (*domain.User, error) {
			id, err := h.self(c)
			if err != nil {
				return nil, err
			}
			return h.users.Get(c.Request.Context(), id)
		},
	})

	ez.RegisterAction(authed, ez.Action[service.UserPatch, *domain.User]{
		Method: http.MethodPatch,
		Path:   "/users/:id",
		Binder: ez.BindJSON,
		Auth:   true,
		Handler: func(c *gin.Context, in *service.UserPatch) (*domain.User, error) {
			id, err := h.self(c)
			if err != nil {
				return nil, err
			}
			if in.AdminFields() && !ez.IsAdmin(c) {
				return nil, ez.Forbidden("only admins can change role or isActive")
			}
			return h.users.Update(c.Request.Context(), id, *in)
		},
	})

	// 改密码只能本人，管理员走 /admin/v1/users/:id/admin-password
	ez.RegisterAction(authed, ez.Action[passwordIn, message]{
		Method: http.MethodPut,
		Path:   "/users/:id/password",
		Binder: ez.BindJSON,
		Auth:   true,
		Handler: func(c *gin.Context, in *passwordIn) (message, error) {
			id, err := pathID(c, "id")
			if err != nil {
				return message{}, err
			}
			if uid, _ := ez.Caller(c); uid != id {
				return message{}, ez.Forbidden("you can only change your own password")
			}
			if err := h.users.ChangePassword(c.Request.Context(), id, in.CurrentPassword, in.NewPassword); err != nil {
				return message{}, err
			}
			return message{Message: "password updated"}, nil
		},
	})

	ez.RegisterAction(authed, ez.Action[struct{}, *domain.User]{
		Method: http.MethodDelete,
		Path:   "/users/:id",
		Binder: ez.BindNone,
		Auth:   true,
		Handler: func(c *gin.Context, _ *struct{}) (*domain.User, error) {
			id, err := h.self(c)
			if err != nil {
				return nil, err
			}
			return h.users.SoftDelete(c.Request.Context(), id)
		},
	})

	ez.RegisterAction(authed, ez.Action[struct{}, []domain.Car]{
		Method: http.MethodGet,
		Path:   "/users/:id/cars",
		Binder: ez.BindNone,
		Auth:   true,
		Handler: func(c *gin.Context, _ *struct{}) ([]domain.Car, error) {
			id, err := h.self(c)
			if err != nil {
				return nil, err
			}
			return h.cars.ListByOwner(c.Request.Context(), id)
		},
	})
}

// self 解析 :id 并校验是本人或管理员
func (h *UserHandler) self(c *gin.Context) (uint, error) {
	id, err := pathID(c, "id")
	if err != nil {
		return 0, err
	}
	return id, selfOrAdmin(c, id)
}
