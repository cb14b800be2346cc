package repo

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"fleet-api/internal/domain"
)

const errEmailTaken = "email already in use"

type UserRepo struct{ db *gorm.DB }

func NewUserRepo(db *gorm.DB) *UserRepo { return &UserRepo{db: db} }

func (r *UserRepo) Create(ctx context.Context, u *domain.User) error {
	return writeErr("create user", errEmailTaken, r.db.WithContext(ctx).Create(u).Error)
}

func (r *UserRepo) FindByID(ctx context.Context, id uint) (*domain.User, error) {
	var u domain.User
	res, err := notFoundNil(&u, r.db.WithContext(ctx).First(&u, "id = ?", id).Error)
	return res, storageErr("find user", err)
}

func (r *UserRepo) FindAnyByID(ctx context.Context, id uint) (*domain.User, error) {
	var u domain.User
	res, err := notFoundNil(&u, r.db.WithContext(ctx).Unscoped().First(&u, "id = ?", id).Error)
	return res, storageErr("find user", err)
}

func (r *UserRepo) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	var u domain.User
	res, err := notFoundNil(&u, r.db.WithContext(ctx).First(&u, "email = ?", email).Error)
	return res, storageErr("find user by email", err)
}

func (r *UserRepo) FindActiveOwner(ctx context.Context, id uint) (*domain.User, error) {
	var u domain.User
	err := r.db.WithContext(ctx).Where("id = ? AND is_active = ?", id, true).First(&u).Error
	res, err := notFoundNil(&u, err)
	return res, storageErr("find owner", err)
}

func (r *UserRepo) ExistsActiveByEmail(ctx context.Context, email string, excludeID uint) (bool, error) {
	var n int64
	tx := r.db.WithContext(ctx).Model(&domain.User{}).Where("email = ?", email)
	if excludeID != 0 {
		tx = tx.Where("id <> ?", excludeID)
	}
	if err := tx.Count(&n).Error; err != nil {
		return false, storageErr("check email", err)
	}
	return n > 0, nil
}

func (r *UserRepo) ListActive(ctx context.Context, f domain.UserFilter) ([]domain.User, int64, error) {
	return r.list(r.db.WithContext(ctx).Model(&domain.User{}), f, "created_at DESC")
}

func (r *UserRepo) ListDeleted(ctx context.Context, f domain.UserFilter) ([]domain.User, int64, error) {
	base := r.db.WithContext(ctx).Unscoped().Model(&domain.User{}).Where("deleted_at IS NOT NULL")
	return r.list(base, f, "deleted_at DESC")
}

func (r *UserRepo) list(base *gorm.DB, f domain.UserFilter, order string) ([]domain.User, int64, error) {
	filtered := func() *gorm.DB {
		tx := base.Session(&gorm.Session{})
		if q := strings.ToLower(f.Query); q != "" {
			like := likeToken(q)
			tx = tx.Where("LOWER(email) LIKE ? ESCAPE '!' OR LOWER(first_name) LIKE ? ESCAPE '!' OR LOWER(last_name) LIKE ? ESCAPE '!'",
				like, like, like)
		}
		if len(f.Roles) > 0 {
			tx = tx.Where("role IN ?", f.Roles)
		}
		if f.IsActive != nil {
			tx = tx.Where("is_active = ?", *f.IsActive)
		}
		return tx
	}

	var total int64
	if err := filtered().Count(&total).Error; err != nil {
		return nil, 0, storageErr("count users", err)
	}
	users := make([]domain.User, 0, f.Page.Limit)
	err := filtered().Order(order).Offset(f.Page.Offset).Limit(f.Page.Limit).Find(&users).Error
	if err != nil {
		return nil, 0, storageErr("list users", err)
	}
	return users, total, nil
}

func (r *UserRepo) Update(ctx context.Context, id uint, fields map[string]any) error {
	err := r.db.WithContext(ctx).Model(&domain.User{}).Where("id = ?", id).Updates(fields).Error
	return writeErr("update user", errEmailTaken, err)
}

func (r *UserRepo) SoftDelete(ctx context.Context, id uint) error {
	return storageErr("delete user", r.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.User{}).Error)
}

func (r *UserRepo) Restore(ctx context.Context, id uint) error {
	err := r.db.WithContext(ctx).Unscoped().Model(&domain.User{}).Where("id = ?", id).Update("deleted_at", nil).Error
	return writeErr("restore user", errEmailTaken, err)
}

func (r *UserRepo) ForceDelete(ctx context.Context, id uint) error {
	return storageErr("purge user", r.db.WithContext(ctx).Unscoped().Where("id = ?", id).Delete(&domain.User{}).Error)
}

func (r *UserRepo) Stats(ctx context.Context) (domain.UserStats, error) {
	var s domain.UserStats
	db := r.db.WithContext(ctx)
	counts := []struct {
		dst   *int64
		query *gorm.DB
	}{
		{&s.Total, db.Model(&domain.User{})},
		{&s.Active, db.Model(&domain.User{}).Where("is_active = ?", true)},
		{&s.Inactive, db.Model(&domain.User{}).Where("is_active = ?", false)},
		{&s.Deleted, db.Unscoped().Model(&domain.User{}).Where("deleted_at IS NOT NULL")},
		{&s.Admins, db.Model(&domain.User{}).Where("role = ?", domain.RoleAdmin)},
	}
	for _, c := range counts {
		if err := c.query.Count(c.dst).Error; err != nil {
			return domain.UserStats{}, storageErr("user stats", err)
		}
	}
	return s, nil
}
