package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Car struct {
	ID           uint    `gorm:"primaryKey" json:"id"`
	UserID       uint    `gorm:"not null;index" json:"userId"`
	LicensePlate string  `gorm:"size:20;not null;index" json:"licensePlate"`
	Brand        string  `gorm:"size:50;not null" json:"brand"`
	Model        string  `gorm:"size:50;not null" json:"model"`
	Color        string  `gorm:"size:30;not null" json:"color"`
	ImageName    *string `gorm:"size:191;index" json:"imageName"`
	ImageType    *string `gorm:"size:32" json:"imageType"`
	ImageSize    *int64  `json:"imageSize"`

	Latitude  *float64 `json:"-"`
	Longitude *float64 `json:"-"`

	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deletedAt"`

	Location *GeoPoint    `gorm:"-" json:"location"`
	Owner    *UserSummary `gorm:"-" json:"user,omitempty"`
	User     *User        `gorm:"foreignKey:UserID" json:"-"`
}

func (Car) TableName() string { return "cars" }

func (c *Car) Deleted() bool { return c.DeletedAt.Valid }

func (c *Car) HasImage() bool { return c.ImageName != nil && *c.ImageName != "" }

// SetLocation 同步经纬度列
func (c *Car) SetLocation(p *GeoPoint) {
	c.Location = p
	if p == nil {
		c.Latitude, c.Longitude = nil, nil
		return
	}
	lat, lng := p.Latitude, p.Longitude
	c.Latitude, c.Longitude = &lat, &lng
}

// AfterFind 把列还原成 location / user 摘要
func (c *Car) AfterFind(*gorm.DB) error {
	if c.Latitude != nil && c.Longitude != nil {
		c.Location = &GeoPoint{Latitude: *c.Latitude, Longitude: *c.Longitude}
	} else {
		c.Location = nil
	}
	if c.User != nil {
		c.Owner = &UserSummary{ID: c.User.ID, FirstName: c.User.FirstName, LastName: c.User.LastName, Email: c.User.Email}
	}
	return nil
}

type CarFilter struct {
	Page  Page
	Query string
}

type CarStats struct {
	Total        int64 `json:"total"`
	WithImages   int64 `json:"withImages"`
	WithLocation int64 `json:"withLocation"`
	Deleted      int64 `json:"deleted"`
}

type CarRepository interface {
	Create(ctx context.Context, c *Car) error
	FindByID(ctx context.Context, id uint) (*Car, error)
	FindAnyByID(ctx context.Context, id uint) (*Car, error)
	FindByPlate(ctx context.Context, plate string) (*Car, error)
	ExistsActiveByPlate(ctx context.Context, plate string, excludeID uint) (bool, error)
	ListActive(ctx context.Context, f CarFilter) ([]Car, int64, error)
	ListDeleted(ctx context.Context, f CarFilter) ([]Car, int64, error)
	ListByOwner(ctx context.Context, userID uint) ([]Car, error)
	CountByOwner(ctx context.Context, userID uint, withDeleted bool) (int64, error)
	Update(ctx context.Context, id uint, fields map[string]any) error
	SoftDelete(ctx context.Context, id uint) error
	Restore(ctx context.Context, id uint) error
	ForceDelete(ctx context.Context, id uint) error
	Stats(ctx context.Context) (CarStats, error)
}
