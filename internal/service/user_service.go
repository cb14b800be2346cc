package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"fleet-api/internal/domain"
	"fleet-api/internal/validate"
	"fleet-api/pkg/utils"
)

const (
	userStatsKey  = "fleet:stats:users"
	errEmailTaken = "email already in use"
	errUserGone   = "user not found"
)

type RegisterInput struct {
	Email     string  `json:"email"`
	Password  string  `json:"password"`
	FirstName string  `json:"firstName"`
	LastName  string  `json:"lastName"`
	Phone     *string `json:"phone" binding:"omitempty,fleet_phone"`
	Role      string  `json:"role"  binding:"omitempty,fleet_role"`
}

// UserPatch 局部更新；字段缺省不改，显式 null 只对 phone 有意义
type UserPatch struct {
	Email     domain.Optional[string] `json:"email"`
	FirstName domain.Optional[string] `json:"firstName"`
	LastName  domain.Optional[string] `json:"lastName"`
	Phone     domain.Optional[string] `json:"phone"`
	Role      domain.Optional[string] `json:"role"`
	IsActive  domain.Optional[bool]   `json:"isActive"`
}

func (p UserPatch) empty() bool {
	return !p.Email.Set && !p.FirstName.Set && !p.LastName.Set && !p.Phone.Set && !p.Role.Set && !p.IsActive.Set
}

// AdminFields 是否动到了只有管理员能改的字段
func (p UserPatch) AdminFields() bool { return p.Role.Set || p.IsActive.Set }

type UserService struct {
	store  domain.Store
	events EventSink
	opt    Options
}

func NewUserService(store domain.Store, events EventSink, opt Options) *UserService {
	if events == nil {
		events = nopSink{}
	}
	return &UserService{store: store, events: events, opt: opt.withDefaults()}
}

func (s *UserService) passwordDetails(pw string) []string {
	missing := s.opt.Password.Check(pw)
	out := make([]string, 0, len(missing))
	for _, m := range missing {
		out = append(out, "password must contain "+m)
	}
	return out
}

func hashPassword(pw string) (string, error) {
	h, err := utils.HashPassword(pw)
	if errors.Is(err, utils.ErrPasswordTooLong) {
		return "", domain.Validation("password is too long", "password must be at most 72 bytes")
	}
	if err != nil {
		return "", domain.Internal("hash password", err)
	}
	return h, nil
}

func (s *UserService) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	email := validate.NormalizeEmail(in.Email)
	var details []string
	if !validate.Email(email) {
		details = append(details, "invalid email format")
	}
	if m := validate.Text("firstName", in.FirstName, 1, 50); m != "" {
		details = append(details, m)
	}
	if m := validate.Text("lastName", in.LastName, 1, 50); m != "" {
		details = append(details, m)
	}
	var phone *string
	if in.Phone != nil {
		if p := strings.TrimSpace(*in.Phone); p != "" {
			if !validate.Phone(p) {
				details = append(details, "invalid phone number")
			}
			phone = &p
		}
	}
	role := strings.TrimSpace(in.Role)
	if role == "" {
		role = domain.RoleUser
	} else if !validate.Role(role) {
		details = append(details, "role must be one of: user, admin")
	}
	details = append(details, s.passwordDetails(in.Password)...)
	if len(details) > 0 {
		return nil, domain.Validation("validation failed", details...)
	}

	hash, err := hashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	u := &domain.User{
		Email:        email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Phone:        phone,
		Role:         role,
		IsActive:     true,
	}
	err = s.store.Transaction(ctx, func(tx domain.Store) error {
		taken, err := tx.Users().ExistsActiveByEmail(ctx, email, 0)
		if err != nil {
			return err
		}
		if taken {
			return domain.Conflict(errEmailTaken)
		}
		return tx.Users().Create(ctx, u)
	})
	if err != nil {
		return nil, err
	}
	s.committed(ctx, domain.EventCreated, "create", u)
	return u, nil
}

// Get 未删除用户 + 其未删除车辆
func (s *UserService) Get(ctx context.Context, id uint) (*domain.User, error) {
	u, err := s.store.Users().FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, domain.NotFound(errUserGone)
	}
	cars, err := s.store.Cars().ListByOwner(ctx, id)
	if err != nil {
		return nil, err
	}
	u.Cars = cars
	return u, nil
}

// Principal 当前角色与启用状态，供鉴权复核；已删除或不存在返回 NotFound
func (s *UserService) Principal(ctx context.Context, id uint) (string, bool, error) {
	u, err := s.store.Users().FindByID(ctx, id)
	if err != nil {
		return "", false, err
	}
	if u == nil {
		return "", false, domain.NotFound(errUserGone)
	}
	return u.Role, u.IsActive, nil
}

func (s *UserService) filter(q ListQuery) (domain.UserFilter, error) {
	roles, ok := validate.RolesParam(q.Role)
	if !ok {
		return domain.UserFilter{}, domain.Validation("role must be one of: user, admin")
	}
	f := domain.UserFilter{
		Page:  validate.PageLimit(q.Page, q.Limit, s.opt.Paging),
		Query: validate.SanitizeQuery(q.Q),
		Roles: roles,
	}
	if raw := strings.TrimSpace(q.IsActive); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return domain.UserFilter{}, domain.Validation("isActive must be true or false")
		}
		f.IsActive = &v
	}
	return f, nil
}

func (s *UserService) ListActive(ctx context.Context, q ListQuery) (*domain.PageResult[domain.User], error) {
	f, err := s.filter(q)
	if err != nil {
		return nil, err
	}
	users, total, err := s.store.Users().ListActive(ctx, f)
	if err != nil {
		return nil, err
	}
	return pageResult(users, total, f.Page), nil
}

func (s *UserService) ListDeleted(ctx context.Context, q ListQuery) (*domain.PageResult[domain.User], error) {
	f, err := s.filter(q)
	if err != nil {
		return nil, err
	}
	users, total, err := s.store.Users().ListDeleted(ctx, f)
	if err != nil {
		return nil, err
	}
	return pageResult(users, total, f.Page), nil
}

func (s *UserService) Update(ctx context.Context, id uint, p UserPatch) (*domain.User, error) {
	if p.empty() {
		return nil, domain.Validation("no data provided for update")
	}
	fields := map[string]any{}
	var details []string
	var email string
	if p.Email.Set {
		email = validate.NormalizeEmail(p.Email.Value)
		if p.Email.Null || !validate.Email(email) {
			details = append(details, "invalid email format")
		}
		fields["email"] = email
	}
	for _, f := range []struct {
		name, column string
		v            domain.Optional[string]
	}{
		{"firstName", "first_name", p.FirstName},
		{"lastName", "last_name", p.LastName},
	} {
		if !f.v.Set {
			continue
		}
		if m := validate.Text(f.name, f.v.Value, 1, 50); m != "" {
			details = append(details, m)
		}
		fields[f.column] = strings.TrimSpace(f.v.Value)
	}
	if p.Phone.Set {
		phone := strings.TrimSpace(p.Phone.Value)
		switch {
		case p.Phone.Null || phone == "":
			fields["phone"] = nil
		case !validate.Phone(phone):
			details = append(details, "invalid phone number")
		default:
			fields["phone"] = phone
		}
	}
	if p.Role.Set {
		if p.Role.Null || !validate.Role(p.Role.Value) {
			details = append(details, "role must be one of: user, admin")
		}
		fields["role"] = strings.TrimSpace(p.Role.Value)
	}
	if p.IsActive.Set {
		if p.IsActive.Null {
			details = append(details, "isActive must be a boolean")
		}
		fields["is_active"] = p.IsActive.Value
	}
	if len(details) > 0 {
		return nil, domain.Validation("validation failed", details...)
	}

	err := s.store.Transaction(ctx, func(tx domain.Store) error {
		u, err := s.loadLive(ctx, tx, id, "cannot update a deleted user")
		if err != nil {
			return err
		}
		if p.Email.Set && email != u.Email {
			taken, err := tx.Users().ExistsActiveByEmail(ctx, email, id)
			if err != nil {
				return err
			}
			if taken {
				return domain.Conflict(errEmailTaken)
			}
		}
		return tx.Users().Update(ctx, id, fields)
	})
	if err != nil {
		return nil, err
	}
	u, err := s.store.Users().FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, domain.NotFound(errUserGone)
	}
	s.committed(ctx, domain.EventUpdated, "update", u)
	return u, nil
}

// loadLive 存在且未软删
func (s *UserService) loadLive(ctx context.Context, tx domain.Store, id uint, deletedMsg string) (*domain.User, error) {
	u, err := tx.Users().FindAnyByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, domain.NotFound(errUserGone)
	}
	if u.Deleted() {
		return nil, domain.StateConflict(deletedMsg)
	}
	return u, nil
}

func (s *UserService) setPassword(ctx context.Context, id uint, check func(*domain.User) error, next string) error {
	if details := s.passwordDetails(next); len(details) > 0 {
		return domain.Validation("password does not meet requirements", details...)
	}
	hash, err := hashPassword(next)
	if err != nil {
		return err
	}
	var u *domain.User
	err = s.store.Transaction(ctx, func(tx domain.Store) error {
		u, err = s.loadLive(ctx, tx, id, "cannot change the password of a deleted user")
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(u); err != nil {
				return err
			}
		}
		return tx.Users().Update(ctx, id, map[string]any{"password_hash": hash})
	})
	if err != nil {
		return err
	}
	s.committed(ctx, domain.EventUpdated, "password", u)
	return nil
}

// ChangePassword 用户自己改密码，需要旧密码
func (s *UserService) ChangePassword(ctx context.Context, id uint, current, next string) error {
	if current == "" {
		return domain.Validation("current password is required")
	}
	return s.setPassword(ctx, id, func(u *domain.User) error {
		if !utils.CheckPassword(current, u.PasswordHash) {
			return domain.Unauthenticated("current password is incorrect")
		}
		return nil
	}, next)
}

// AdminResetPassword 管理员重置，不校验旧密码
func (s *UserService) AdminResetPassword(ctx context.Context, id uint, next string) error {
	return s.setPassword(ctx, id, nil, next)
}

func (s *UserService) SoftDelete(ctx context.Context, id uint) (*domain.User, error) {
	var u *domain.User
	err := s.store.Transaction(ctx, func(tx domain.Store) error {
		var err error
		u, err = s.loadLive(ctx, tx, id, "user is already deleted")
		if err != nil {
			return err
		}
		return tx.Users().SoftDelete(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	u.DeletedAt.Time, u.DeletedAt.Valid = time.Now(), true
	s.committed(ctx, domain.EventDeleted, "soft_delete", u)
	return u, nil
}

// Restore 只能恢复软删的、仍为启用状态的用户；期间邮箱被别人占用则 Conflict
func (s *UserService) Restore(ctx context.Context, id uint) (*domain.User, error) {
	err := s.store.Transaction(ctx, func(tx domain.Store) error {
		u, err := tx.Users().FindAnyByID(ctx, id)
		if err != nil {
			return err
		}
		if u == nil {
			return domain.NotFound(errUserGone)
		}
		if !u.Deleted() {
			return domain.StateConflict("user is not deleted")
		}
		if !u.IsActive {
			return domain.StateConflict("cannot restore an inactive user")
		}
		taken, err := tx.Users().ExistsActiveByEmail(ctx, u.Email, id)
		if err != nil {
			return err
		}
		if taken {
			return domain.Conflict(errEmailTaken)
		}
		return tx.Users().Restore(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	u, err := s.store.Users().FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, domain.NotFound(errUserGone)
	}
	s.committed(ctx, domain.EventCreated, "restore", u)
	return u, nil
}

// PermanentDelete 还有车（含软删）时拒绝，外键级联只是兜底
func (s *UserService) PermanentDelete(ctx context.Context, id uint) error {
	var u *domain.User
	err := s.store.Transaction(ctx, func(tx domain.Store) error {
		var err error
		u, err = tx.Users().FindAnyByID(ctx, id)
		if err != nil {
			return err
		}
		if u == nil {
			return domain.NotFound(errUserGone)
		}
		n, err := tx.Cars().CountByOwner(ctx, id, true)
		if err != nil {
			return err
		}
		if n > 0 {
			return domain.StateConflict("user still owns cars; delete them permanently first")
		}
		return tx.Users().ForceDelete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.committed(ctx, domain.EventDeleted, "purge", u)
	return nil
}

func (s *UserService) Stats(ctx context.Context) (*domain.UserStats, error) {
	return cacheJSON(ctx, s.opt, userStatsKey, func(ctx context.Context) (*domain.UserStats, error) {
		st, err := s.store.Users().Stats(ctx)
		if err != nil {
			return nil, err
		}
		return &st, nil
	})
}

func (s *UserService) committed(ctx context.Context, kind domain.EventKind, op string, u *domain.User) {
	transitions.WithLabelValues(domain.EntityUser, op).Inc()
	s.opt.Cache.Del(ctx, userStatsKey)
	s.opt.Log.Debug("user lifecycle", zap.String("op", op), zap.Uint("id", u.ID))
	s.events.Notify(ctx, domain.NewEvent(domain.EntityUser, kind, u.ID, 0, u))
}
