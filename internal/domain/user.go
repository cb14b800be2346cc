package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type User struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	Email        string         `gorm:"size:191;not null;index" json:"email"`
	PasswordHash string         `gorm:"column:password_hash;size:100;not null" json:"-"`
	FirstName    string         `gorm:"size:50;not null" json:"firstName"`
	LastName     string         `gorm:"size:50;not null" json:"lastName"`
	Phone        *string        `gorm:"size:32" json:"phone"`
	Role         string         `gorm:"size:16;not null;default:user;index" json:"role"` // "user"/"admin"
	IsActive     bool           `gorm:"not null;default:true;index" json:"isActive"`
	LastLogin    *time.Time     `gorm:"index" json:"lastLogin"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"deletedAt"`

	Cars []Car `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"cars,omitempty"`
}

func (User) TableName() string { return "users" }

func (u *User) Deleted() bool { return u.DeletedAt.Valid }

// UserSummary 列表/车辆详情里内嵌的精简用户
type UserSummary struct {
	ID        uint   `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}

type UserFilter struct {
	Page     Page
	Query    string
	Roles    []string
	IsActive *bool
}

type UserStats struct {
	Total    int64 `json:"total"`
	Active   int64 `json:"active"`
	Inactive int64 `json:"inactive"`
	Deleted  int64 `json:"deleted"`
	Admins   int64 `json:"admins"`
}

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	// FindByID 只查未删除
	FindByID(ctx context.Context, id uint) (*User, error)
	// FindAnyByID 包含软删
	FindAnyByID(ctx context.Context, id uint) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindActiveOwner(ctx context.Context, id uint) (*User, error)
	ExistsActiveByEmail(ctx context.Context, email string, excludeID uint) (bool, error)
	ListActive(ctx context.Context, f UserFilter) ([]User, int64, error)
	ListDeleted(ctx context.Context, f UserFilter) ([]User, int64, error)
	Update(ctx context.Context, id uint, fields map[string]any) error
	SoftDelete(ctx context.Context, id uint) error
	Restore(ctx context.Context, id uint) error
	ForceDelete(ctx context.Context, id uint) error
	Stats(ctx context.Context) (UserStats, error)
}
