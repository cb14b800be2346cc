package repo

import (
	"context"
	"strconv"
	"strings"

	"gorm.io/gorm"

	"fleet-api/internal/domain"
)

const errPlateTaken = "license plate already registered"

type CarRepo struct{ db *gorm.DB }

func NewCarRepo(db *gorm.DB) *CarRepo { return &CarRepo{db: db} }

// withOwner 车主可能已软删，仍要展示摘要
func withOwner(db *gorm.DB) *gorm.DB {
	return db.Preload("User", func(tx *gorm.DB) *gorm.DB { return tx.Unscoped() })
}

func (r *CarRepo) Create(ctx context.Context, c *domain.Car) error {
	return writeErr("create car", errPlateTaken, r.db.WithContext(ctx).Omit("User").Create(c).Error)
}

func (r *CarRepo) FindByID(ctx context.Context, id uint) (*domain.Car, error) {
	var c domain.Car
	res, err := notFoundNil(&c, withOwner(r.db.WithContext(ctx)).First(&c, "id = ?", id).Error)
	return res, storageErr("find car", err)
}

func (r *CarRepo) FindAnyByID(ctx context.Context, id uint) (*domain.Car, error) {
	var c domain.Car
	res, err := notFoundNil(&c, withOwner(r.db.WithContext(ctx).Unscoped()).First(&c, "id = ?", id).Error)
	return res, storageErr("find car", err)
}

func (r *CarRepo) FindByPlate(ctx context.Context, plate string) (*domain.Car, error) {
	var c domain.Car
	err := withOwner(r.db.WithContext(ctx)).First(&c, "license_plate = ?", plate).Error
	res, err := notFoundNil(&c, err)
	return res, storageErr("find car by plate", err)
}

func (r *CarRepo) ExistsActiveByPlate(ctx context.Context, plate string, excludeID uint) (bool, error) {
	var n int64
	tx := r.db.WithContext(ctx).Model(&domain.Car{}).Where("license_plate = ?", plate)
	if excludeID != 0 {
		tx = tx.Where("id <> ?", excludeID)
	}
	if err := tx.Count(&n).Error; err != nil {
		return false, storageErr("check plate", err)
	}
	return n > 0, nil
}

func (r *CarRepo) ListActive(ctx context.Context, f domain.CarFilter) ([]domain.Car, int64, error) {
	return r.list(r.db.WithContext(ctx).Model(&domain.Car{}), f, "created_at DESC")
}

func (r *CarRepo) ListDeleted(ctx context.Context, f domain.CarFilter) ([]domain.Car, int64, error) {
	base := r.db.WithContext(ctx).Unscoped().Model(&domain.Car{}).Where("deleted_at IS NOT NULL")
	return r.list(base, f, "deleted_at DESC")
}

func (r *CarRepo) list(base *gorm.DB, f domain.CarFilter, order string) ([]domain.Car, int64, error) {
	filtered := func() *gorm.DB {
		tx := base.Session(&gorm.Session{})
		if q := strings.ToLower(f.Query); q != "" {
			like := likeToken(q)
			cond := "LOWER(brand) LIKE ? ESCAPE '!' OR LOWER(model) LIKE ? ESCAPE '!' OR " +
				"LOWER(license_plate) LIKE ? ESCAPE '!' OR LOWER(color) LIKE ? ESCAPE '!'"
			args := []any{like, like, like, like}
			// 纯数字时额外按车主 id 匹配
			if n, err := strconv.ParseUint(q, 10, 32); err == nil && n > 0 {
				cond += " OR user_id = ?"
				args = append(args, uint(n))
			}
			tx = tx.Where(cond, args...)
		}
		return tx
	}

	var total int64
	if err := filtered().Count(&total).Error; err != nil {
		return nil, 0, storageErr("count cars", err)
	}
	cars := make([]domain.Car, 0, f.Page.Limit)
	err := withOwner(filtered()).Order(order).Offset(f.Page.Offset).Limit(f.Page.Limit).Find(&cars).Error
	if err != nil {
		return nil, 0, storageErr("list cars", err)
	}
	return cars, total, nil
}

func (r *CarRepo) ListByOwner(ctx context.Context, userID uint) ([]domain.Car, error) {
	var cars []domain.Car
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&cars).Error
	if err != nil {
		return nil, storageErr("list owner cars", err)
	}
	return cars, nil
}

func (r *CarRepo) CountByOwner(ctx context.Context, userID uint, withDeleted bool) (int64, error) {
	tx := r.db.WithContext(ctx)
	if withDeleted {
		tx = tx.Unscoped()
	}
	var n int64
	if err := tx.Model(&domain.Car{}).Where("user_id = ?", userID).Count(&n).Error; err != nil {
		return 0, storageErr("count owner cars", err)
	}
	return n, nil
}

func (r *CarRepo) Update(ctx context.Context, id uint, fields map[string]any) error {
	err := r.db.WithContext(ctx).Model(&domain.Car{}).Where("id = ?", id).Updates(fields).Error
	return writeErr("update car", errPlateTaken, err)
}

func (r *CarRepo) SoftDelete(ctx context.Context, id uint) error {
	return storageErr("delete car", r.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Car{}).Error)
}

func (r *CarRepo) Restore(ctx context.Context, id uint) error {
	err := r.db.WithContext(ctx).Unscoped().Model(&domain.Car{}).Where("id = ?", id).Update("deleted_at", nil).Error
	return writeErr("restore car", errPlateTaken, err)
}

func (r *CarRepo) ForceDelete(ctx context.Context, id uint) error {
	return storageErr("purge car", r.db.WithContext(ctx).Unscoped().Where("id = ?", id).Delete(&domain.Car{}).Error)
}

func (r *CarRepo) Stats(ctx context.Context) (domain.CarStats, error) {
	var s domain.CarStats
	db := r.db.WithContext(ctx)
	counts := []struct {
		dst   *int64
		query *gorm.DB
	}{
		{&s.Total, db.Model(&domain.Car{})},
		{&s.WithImages, db.Model(&domain.Car{}).Where("image_name IS NOT NULL AND image_name <> ''")},
		{&s.WithLocation, db.Model(&domain.Car{}).Where("latitude IS NOT NULL AND longitude IS NOT NULL")},
		{&s.Deleted, db.Unscoped().Model(&domain.Car{}).Where("deleted_at IS NOT NULL")},
	}
	for _, c := range counts {
		if err := c.query.Count(c.dst).Error; err != nil {
			return domain.CarStats{}, storageErr("car stats", err)
		}
	}
	return s, nil
}
