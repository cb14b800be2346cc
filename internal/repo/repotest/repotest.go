package repotest

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"fleet-api/internal/core/database"
	"fleet-api/internal/domain"
	"fleet-api/internal/repo"
)

var seq atomic.Int64

// NewDB 每个测试一个独立的内存库，已迁移并建好部分唯一索引
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, seq.Add(1))
	db, err := database.NewGorm(database.Opts{
		Driver:   "sqlite",
		DSN:      dsn,
		LogLevel: "silent",
	})
	require.NoError(t, err)
	require.NoError(t, repo.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func NewStore(t testing.TB) *repo.Store { return repo.NewStore(NewDB(t)) }

func SeedUser(t testing.TB, db *gorm.DB, email string) *domain.User {
	t.Helper()
	u := &domain.User{
		Email:        email,
		PasswordHash: "x",
		FirstName:    "Test",
		LastName:     "User",
		Role:         domain.RoleUser,
		IsActive:     true,
	}
	require.NoError(t, db.Create(u).Error)
	return u
}

func SeedCar(t testing.TB, db *gorm.DB, ownerID uint, plate string) *domain.Car {
	t.Helper()
	c := &domain.Car{UserID: ownerID, LicensePlate: plate, Brand: "Toyota", Model: "Corolla", Color: "Blue"}
	require.NoError(t, db.Omit("User").Create(c).Error)
	return c
}
