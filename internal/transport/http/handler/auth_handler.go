package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fleet-api/internal/domain"
	"fleet-api/internal/service"
	"fleet-api/internal/transport/http/ez"
)

type AuthHandler struct {
	auth  *service.AuthService
	users *service.UserService
}

func NewAuthHandler(a *service.AuthService, u *service.UserService) *AuthHandler {
	return &AuthHandler{auth: a, users: u}
}

type loginIn struct {
	Email    string `json:"email"    binding:"required"`
	Password string `json:"password" binding:"required"`
}

// MountAPI /auth/login（公共）和 /me（鉴权）
func (h *AuthHandler) MountAPI(pub, authed ez.EZ) {
	ez.RegisterAction(pub, ez.Action[loginIn, *service.LoginResult]{
		Method: http.MethodPost,
		Path:   "/auth/login",
		Binder: ez.BindJSON,
		Handler: func(c *gin.Context, in *loginIn) (*service.LoginResult, error) {
			return h.auth.Login(c.Request.Context(), in.Email, in.Password)
		},
	})

	ez.RegisterAction(authed, ez.Action[struct{}, *domain.User]{
		Method: http.MethodGet,
		Path:   "/me",
		Binder: ez.BindNone,
		Auth:   true,
		Handler: func(c *gin.Context, _ *struct{}) (*domain.User, error) {
			uid, _ := ez.Caller(c)
			return h.users.Get(c.Request.Context(), uid)
		},
	})
}
