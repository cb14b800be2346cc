package repo

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"fleet-api/internal/core/database"
	"fleet-api/internal/domain"
)

// Store 基于 gorm 的仓储集合；Transaction 里的 Store 共享同一个 tx
type Store struct{ db *gorm.DB }

func NewStore(db *gorm.DB) *Store { return &Store{db: db} }

func (s *Store) Users() domain.UserRepository { return &UserRepo{db: s.db} }

func (s *Store) Cars() domain.CarRepository { return &CarRepo{db: s.db} }

func (s *Store) Transaction(ctx context.Context, fn func(tx domain.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// Migrate AutoMigrate + 软删唯一索引
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&domain.User{}, &domain.Car{}); err != nil {
		return err
	}
	return database.EnsureSoftUniqueIndexes(db,
		database.SoftUnique{Name: "uq_users_email_active", Table: "users", Column: "email"},
		database.SoftUnique{Name: "uq_cars_plate_active", Table: "cars", Column: "license_plate"},
	)
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	return domain.Storage(op, err)
}

// writeErr 唯一索引冲突映射成 Conflict，索引是最终防线
func writeErr(op, conflictMsg string, err error) error {
	if database.IsUniqueViolation(err) {
		return domain.Conflict(conflictMsg)
	}
	return storageErr(op, err)
}

func notFoundNil[T any](v *T, err error) (*T, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// likeEscape 用 ! 做转义符：反斜杠在 mysql 字面量里还要再转义一层
var likeEscape = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// likeToken 用户输入里的 % _ 按字面匹配，配合 "LIKE ? ESCAPE '!'"
func likeToken(q string) string { return "%" + likeEscape.Replace(q) + "%" }
