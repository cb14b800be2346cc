package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"fleet-api/internal/domain"
	"fleet-api/internal/validate"
	"fleet-api/pkg/utils"
)

// TokenIssuer *auth.JWTer 实现
type TokenIssuer interface {
	Issue(uid uint, role string) (string, error)
}

type LoginResult struct {
	User  *domain.User `json:"user"`
	Token string       `json:"token"`
}

type AuthService struct {
	store  domain.Store
	tokens TokenIssuer
	log    *zap.Logger

	dummyOnce sync.Once
	dummyHash string
}

func NewAuthService(store domain.Store, tokens TokenIssuer, l *zap.Logger) *AuthService {
	if l == nil {
		l = zap.NewNop()
	}
	return &AuthService{store: store, tokens: tokens, log: l}
}

// burn 邮箱不存在时也做一次 bcrypt 比较，响应时间不泄露账号是否存在
func (s *AuthService) burn(pw string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = utils.HashPassword("fleet-api-dummy-password")
	})
	_ = utils.CheckPassword(pw, s.dummyHash)
}

// Login 任何失败（账号不存在、密码错、停用、已删）都只返回 invalid credentials
func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = validate.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, domain.Validation("email and password are required")
	}
	u, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if u == nil {
		s.burn(password)
		return nil, domain.ErrInvalidCredentials
	}
	if !utils.CheckPassword(password, u.PasswordHash) || !u.IsActive {
		return nil, domain.ErrInvalidCredentials
	}

	now := time.Now()
	if err := s.store.Users().Update(ctx, u.ID, map[string]any{"last_login": now}); err != nil {
		return nil, err
	}
	u.LastLogin = &now
	token, err := s.tokens.Issue(u.ID, u.Role)
	if err != nil {
		return nil, domain.Internal("issue token", err)
	}
	s.log.Info("login", zap.Uint("uid", u.ID), zap.String("role", u.Role))
	return &LoginResult{User: u, Token: token}, nil
}
