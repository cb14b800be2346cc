package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"fleet-api/internal/domain"
	"fleet-api/internal/media"
	"fleet-api/internal/validate"
)

const (
	carStatsKey   = "fleet:stats:cars"
	errPlateTaken = "license plate already registered"
	errCarGone    = "car not found"
	errBadOwner   = "owner user not found or inactive"
	errBadCoords  = "Invalid coordinates. Latitude must be between -90 and 90, longitude between -180 and 180"
	errCoordPair  = "latitude and longitude must be provided together"
)

// CarInput 创建 / 整体替换；imageData 为 base64 或 data URL
type CarInput struct {
	UserID       domain.FlexID           `json:"userId"`
	LicensePlate string                  `json:"licensePlate"`
	Brand        string                  `json:"brand"`
	Model        string                  `json:"model"`
	Color        string                  `json:"color"`
	Latitude     *float64                `json:"latitude"`
	Longitude    *float64                `json:"longitude"`
	ImageData    domain.Optional[string] `json:"imageData"`
	ImageType    string                  `json:"imageType"`
}

// CarPatch 局部更新；location 两个坐标必须同时给出，同时为 null 表示清除
type CarPatch struct {
	UserID       domain.Optional[domain.FlexID] `json:"userId"`
	LicensePlate domain.Optional[string]        `json:"licensePlate"`
	Brand        domain.Optional[string]        `json:"brand"`
	Model        domain.Optional[string]        `json:"model"`
	Color        domain.Optional[string]        `json:"color"`
	Latitude     domain.Optional[float64]       `json:"latitude"`
	Longitude    domain.Optional[float64]       `json:"longitude"`
	ImageData    domain.Optional[string]        `json:"imageData"`
	ImageType    string                         `json:"imageType"`
}

func (p CarPatch) empty() bool {
	return !p.UserID.Set && !p.LicensePlate.Set && !p.Brand.Set && !p.Model.Set && !p.Color.Set &&
		!p.Latitude.Set && !p.Longitude.Set && !p.ImageData.Set
}

// OwnerChange 是否在转移车主
func (p CarPatch) OwnerChange() bool { return p.UserID.Set }

type CarService struct {
	store  domain.Store
	media  *media.Manager
	events EventSink
	opt    Options
}

func NewCarService(store domain.Store, m *media.Manager, events EventSink, opt Options) *CarService {
	if events == nil {
		events = nopSink{}
	}
	return &CarService{store: store, media: m, events: events, opt: opt.withDefaults()}
}

// imageChange 事务内要做的图片变更
type imageChange struct {
	img   *media.Image
	clear bool
}

// carFields 校验后的待写字段
type carFields struct {
	ownerID  uint
	plate    string
	fields   map[string]any
	image    imageChange
	location *domain.GeoPoint
}

func textField(details *[]string, fields map[string]any, name, column, v string, lo, hi int) {
	if m := validate.Text(name, v, lo, hi); m != "" {
		*details = append(*details, m)
		return
	}
	fields[column] = strings.TrimSpace(v)
}

func ownerID(details *[]string, raw domain.FlexID) uint {
	r := validate.PositiveInt(string(raw))
	if !r.Valid {
		*details = append(*details, "userId: "+r.Error)
		return 0
	}
	return uint(r.Value)
}

func locationOf(details *[]string, lat, lng *float64) *domain.GeoPoint {
	switch {
	case lat == nil && lng == nil:
		return nil
	case lat == nil || lng == nil:
		*details = append(*details, errCoordPair)
		return nil
	case !validate.Coordinates(*lat, *lng):
		*details = append(*details, errBadCoords)
		return nil
	}
	return &domain.GeoPoint{Latitude: *lat, Longitude: *lng}
}

func (s *CarService) imageOf(details *[]string, data domain.Optional[string], declared string) imageChange {
	if !data.Set {
		return imageChange{}
	}
	if data.Null || strings.TrimSpace(data.Value) == "" {
		return imageChange{clear: true}
	}
	up, err := media.DecodeBase64(data.Value)
	if err == nil {
		if declared != "" {
			up.ContentType = declared
		}
		var img *media.Image
		if img, err = s.media.Prepare(up); err == nil {
			return imageChange{img: img}
		}
	}
	if de := domain.As(err); de != nil {
		*details = append(*details, de.Msg)
	} else {
		*details = append(*details, "invalid image")
	}
	return imageChange{}
}

func (s *CarService) checkInput(in CarInput) (carFields, error) {
	var details []string
	cf := carFields{fields: map[string]any{}}
	cf.ownerID = ownerID(&details, in.UserID)
	cf.plate = validate.NormalizePlate(in.LicensePlate)
	textField(&details, cf.fields, "licensePlate", "license_plate", cf.plate, 3, 20)
	textField(&details, cf.fields, "brand", "brand", in.Brand, 2, 50)
	textField(&details, cf.fields, "model", "model", in.Model, 2, 50)
	textField(&details, cf.fields, "color", "color", in.Color, 2, 30)
	cf.location = locationOf(&details, in.Latitude, in.Longitude)
	cf.image = s.imageOf(&details, in.ImageData, in.ImageType)
	if len(details) > 0 {
		return cf, domain.Validation("validation failed", details...)
	}
	cf.fields["user_id"] = cf.ownerID
	return cf, nil
}

func (s *CarService) checkOwner(ctx context.Context, tx domain.Store, id uint) error {
	owner, err := tx.Users().FindActiveOwner(ctx, id)
	if err != nil {
		return err
	}
	if owner == nil {
		return domain.Validation(errBadOwner)
	}
	return nil
}

func (s *CarService) checkPlate(ctx context.Context, tx domain.Store, plate string, excludeID uint) error {
	taken, err := tx.Cars().ExistsActiveByPlate(ctx, plate, excludeID)
	if err != nil {
		return err
	}
	if taken {
		return domain.Conflict(errPlateTaken)
	}
	return nil
}

// storeImage 先写文件，再写元数据；返回新 key 供提交失败时回收
func (s *CarService) storeImage(ctx context.Context, tx domain.Store, carID uint, img *media.Image) (string, error) {
	key := s.media.Key(domain.EntityCar, carID, img)
	if err := s.media.Put(ctx, key, img); err != nil {
		return key, domain.Storage("store image", err)
	}
	return key, tx.Cars().Update(ctx, carID, map[string]any{
		"image_name": key,
		"image_type": img.Type,
		"image_size": img.Size,
	})
}

var clearImageFields = map[string]any{"image_name": nil, "image_type": nil, "image_size": nil}

// finish 事务结束后的文件收尾：失败则删新文件，成功则删被替换的旧文件
func (s *CarService) finish(ctx context.Context, txErr error, newKey, oldKey string) {
	if txErr != nil {
		if newKey != "" {
			s.removeImage(ctx, newKey)
		}
		return
	}
	if oldKey != "" && oldKey != newKey {
		s.removeImage(ctx, oldKey)
	}
}

func (s *CarService) removeImage(ctx context.Context, key string) {
	if err := s.media.Remove(ctx, key); err != nil {
		s.opt.Log.Warn("remove car image", zap.String("key", key), zap.Error(err))
	}
}

func (s *CarService) Create(ctx context.Context, in CarInput) (*domain.Car, error) {
	cf, err := s.checkInput(in)
	if err != nil {
		return nil, err
	}
	car := &domain.Car{
		UserID:       cf.ownerID,
		LicensePlate: cf.plate,
		Brand:        cf.fields["brand"].(string),
		Model:        cf.fields["model"].(string),
		Color:        cf.fields["color"].(string),
	}
	car.SetLocation(cf.location)

	var newKey string
	err = s.store.Transaction(ctx, func(tx domain.Store) error {
		if err := s.checkOwner(ctx, tx, cf.ownerID); err != nil {
			return err
		}
		if err := s.checkPlate(ctx, tx, cf.plate, 0); err != nil {
			return err
		}
		if err := tx.Cars().Create(ctx, car); err != nil {
			return err
		}
		if cf.image.img == nil {
			return nil
		}
		var err error
		newKey, err = s.storeImage(ctx, tx, car.ID, cf.image.img)
		return err
	})
	s.finish(ctx, err, newKey, "")
	if err != nil {
		return nil, err
	}
	return s.reloadAndNotify(ctx, car.ID, domain.EventCreated, "create")
}

func (s *CarService) reloadAndNotify(ctx context.Context, id uint, kind domain.EventKind, op string) (*domain.Car, error) {
	car, err := s.store.Cars().FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if car == nil {
		return nil, domain.NotFound(errCarGone)
	}
	s.committed(ctx, kind, op, car)
	return car, nil
}

func (s *CarService) Get(ctx context.Context, id uint) (*domain.Car, error) {
	car, err := s.store.Cars().FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if car == nil {
		return nil, domain.NotFound(errCarGone)
	}
	return car, nil
}

// Owner 返回车主 id，包含已软删的车；用于接口层的归属判断
func (s *CarService) Owner(ctx context.Context, id uint) (uint, error) {
	car, err := s.store.Cars().FindAnyByID(ctx, id)
	if err != nil {
		return 0, err
	}
	if car == nil {
		return 0, domain.NotFound(errCarGone)
	}
	return car.UserID, nil
}

func (s *CarService) GetByPlate(ctx context.Context, plate string) (*domain.Car, error) {
	plate = validate.NormalizePlate(plate)
	if plate == "" {
		return nil, domain.Validation("license plate is required")
	}
	car, err := s.store.Cars().FindByPlate(ctx, plate)
	if err != nil {
		return nil, err
	}
	if car == nil {
		return nil, domain.NotFound(errCarGone)
	}
	return car, nil
}

// ListByOwner 车主必须存在且未删除
func (s *CarService) ListByOwner(ctx context.Context, userID uint) ([]domain.Car, error) {
	u, err := s.store.Users().FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, domain.NotFound(errUserGone)
	}
	cars, err := s.store.Cars().ListByOwner(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cars == nil {
		cars = []domain.Car{}
	}
	return cars, nil
}

func (s *CarService) filter(q ListQuery) domain.CarFilter {
	return domain.CarFilter{
		Page:  validate.PageLimit(q.Page, q.Limit, s.opt.Paging),
		Query: validate.SanitizeQuery(q.Q),
	}
}

func (s *CarService) ListActive(ctx context.Context, q ListQuery) (*domain.PageResult[domain.Car], error) {
	f := s.filter(q)
	cars, total, err := s.store.Cars().ListActive(ctx, f)
	if err != nil {
		return nil, err
	}
	return pageResult(cars, total, f.Page), nil
}

func (s *CarService) ListDeleted(ctx context.Context, q ListQuery) (*domain.PageResult[domain.Car], error) {
	f := s.filter(q)
	cars, total, err := s.store.Cars().ListDeleted(ctx, f)
	if err != nil {
		return nil, err
	}
	return pageResult(cars, total, f.Page), nil
}

func (s *CarService) loadLive(ctx context.Context, tx domain.Store, id uint, deletedMsg string) (*domain.Car, error) {
	car, err := tx.Cars().FindAnyByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if car == nil {
		return nil, domain.NotFound(errCarGone)
	}
	if car.Deleted() {
		return nil, domain.StateConflict(deletedMsg)
	}
	return car, nil
}

func (s *CarService) checkPatch(p CarPatch) (carFields, error) {
	var details []string
	cf := carFields{fields: map[string]any{}}
	if p.UserID.Set {
		cf.ownerID = ownerID(&details, p.UserID.Value)
		if cf.ownerID != 0 {
			cf.fields["user_id"] = cf.ownerID
		}
	}
	if p.LicensePlate.Set {
		cf.plate = validate.NormalizePlate(p.LicensePlate.Value)
		textField(&details, cf.fields, "licensePlate", "license_plate", cf.plate, 3, 20)
	}
	if p.Brand.Set {
		textField(&details, cf.fields, "brand", "brand", p.Brand.Value, 2, 50)
	}
	if p.Model.Set {
		textField(&details, cf.fields, "model", "model", p.Model.Value, 2, 50)
	}
	if p.Color.Set {
		textField(&details, cf.fields, "color", "color", p.Color.Value, 2, 30)
	}
	switch {
	case !p.Latitude.Set && !p.Longitude.Set:
	case p.Latitude.Set != p.Longitude.Set || p.Latitude.Null != p.Longitude.Null:
		details = append(details, errCoordPair)
	case p.Latitude.Null:
		cf.fields["latitude"], cf.fields["longitude"] = nil, nil
	case !validate.Coordinates(p.Latitude.Value, p.Longitude.Value):
		details = append(details, errBadCoords)
	default:
		cf.location = &domain.GeoPoint{Latitude: p.Latitude.Value, Longitude: p.Longitude.Value}
		cf.fields["latitude"], cf.fields["longitude"] = p.Latitude.Value, p.Longitude.Value
	}
	cf.image = s.imageOf(&details, p.ImageData, p.ImageType)
	if len(details) > 0 {
		return cf, domain.Validation("validation failed", details...)
	}
	return cf, nil
}

// Update 局部更新；车牌变化时在事务内复查唯一性
func (s *CarService) Update(ctx context.Context, id uint, p CarPatch) (*domain.Car, error) {
	if p.empty() {
		return nil, domain.Validation("no data provided for update")
	}
	cf, err := s.checkPatch(p)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, id, cf)
}

// Replace PUT 语义：字段全量覆盖，未给坐标即清除位置；imageData 缺省则保留原图
func (s *CarService) Replace(ctx context.Context, id uint, in CarInput) (*domain.Car, error) {
	cf, err := s.checkInput(in)
	if err != nil {
		return nil, err
	}
	if cf.location != nil {
		cf.fields["latitude"], cf.fields["longitude"] = cf.location.Latitude, cf.location.Longitude
	} else {
		cf.fields["latitude"], cf.fields["longitude"] = nil, nil
	}
	return s.apply(ctx, id, cf)
}

func (s *CarService) apply(ctx context.Context, id uint, cf carFields) (*domain.Car, error) {
	var newKey, oldKey string
	err := s.store.Transaction(ctx, func(tx domain.Store) error {
		car, err := s.loadLive(ctx, tx, id, "cannot update a deleted car")
		if err != nil {
			return err
		}
		if cf.ownerID != 0 && cf.ownerID != car.UserID {
			if err := s.checkOwner(ctx, tx, cf.ownerID); err != nil {
				return err
			}
		}
		if cf.plate != "" && cf.plate != car.LicensePlate {
			if err := s.checkPlate(ctx, tx, cf.plate, id); err != nil {
				return err
			}
		}
		if len(cf.fields) > 0 {
			if err := tx.Cars().Update(ctx, id, cf.fields); err != nil {
				return err
			}
		}
		switch {
		case cf.image.img != nil:
			if car.HasImage() {
				oldKey = *car.ImageName
			}
			newKey, err = s.storeImage(ctx, tx, id, cf.image.img)
			return err
		case cf.image.clear && car.HasImage():
			oldKey = *car.ImageName
			return tx.Cars().Update(ctx, id, clearImageFields)
		}
		return nil
	})
	s.finish(ctx, err, newKey, oldKey)
	if err != nil {
		return nil, err
	}
	return s.reloadAndNotify(ctx, id, domain.EventUpdated, "update")
}

// AttachImage multipart 上传入口
func (s *CarService) AttachImage(ctx context.Context, id uint, up media.Upload) (*domain.Car, error) {
	img, err := s.media.Prepare(up)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, id, carFields{image: imageChange{img: img}})
}

// ClearImage 没有图片时直接返回当前车辆
func (s *CarService) ClearImage(ctx context.Context, id uint) (*domain.Car, error) {
	return s.apply(ctx, id, carFields{image: imageChange{clear: true}})
}

// Image 打开已存的图片；调用方负责 Close
func (s *CarService) Image(ctx context.Context, id uint) (io.ReadCloser, *domain.Car, error) {
	car, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !car.HasImage() {
		return nil, nil, domain.NotFound("image not found")
	}
	rc, err := s.media.Open(ctx, *car.ImageName)
	if errors.Is(err, media.ErrObjectNotFound) {
		return nil, nil, domain.NotFound("image not found")
	}
	if err != nil {
		return nil, nil, domain.Storage("open image", err)
	}
	return rc, car, nil
}

func (s *CarService) SoftDelete(ctx context.Context, id uint) (*domain.Car, error) {
	var car *domain.Car
	err := s.store.Transaction(ctx, func(tx domain.Store) error {
		var err error
		car, err = s.loadLive(ctx, tx, id, "car is already deleted")
		if err != nil {
			return err
		}
		return tx.Cars().SoftDelete(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	car.DeletedAt.Time, car.DeletedAt.Valid = time.Now(), true
	s.committed(ctx, domain.EventDeleted, "soft_delete", car)
	return car, nil
}

// Restore 车主需仍存在且启用；期间车牌被别的车占用则 Conflict
func (s *CarService) Restore(ctx context.Context, id uint) (*domain.Car, error) {
	err := s.store.Transaction(ctx, func(tx domain.Store) error {
		car, err := tx.Cars().FindAnyByID(ctx, id)
		if err != nil {
			return err
		}
		if car == nil {
			return domain.NotFound(errCarGone)
		}
		if !car.Deleted() {
			return domain.StateConflict("car is not deleted")
		}
		owner, err := tx.Users().FindActiveOwner(ctx, car.UserID)
		if err != nil {
			return err
		}
		if owner == nil {
			return domain.StateConflict("cannot restore a car whose owner is deleted or inactive")
		}
		if err := s.checkPlate(ctx, tx, car.LicensePlate, id); err != nil {
			return err
		}
		return tx.Cars().Restore(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return s.reloadAndNotify(ctx, id, domain.EventCreated, "restore")
}

// PermanentDelete 删行后再删图片文件
func (s *CarService) PermanentDelete(ctx context.Context, id uint) error {
	var car *domain.Car
	err := s.store.Transaction(ctx, func(tx domain.Store) error {
		var err error
		car, err = tx.Cars().FindAnyByID(ctx, id)
		if err != nil {
			return err
		}
		if car == nil {
			return domain.NotFound(errCarGone)
		}
		return tx.Cars().ForceDelete(ctx, id)
	})
	if err != nil {
		return err
	}
	if car.HasImage() {
		s.removeImage(ctx, *car.ImageName)
	}
	s.committed(ctx, domain.EventDeleted, "purge", car)
	return nil
}

func (s *CarService) Stats(ctx context.Context) (*domain.CarStats, error) {
	return cacheJSON(ctx, s.opt, carStatsKey, func(ctx context.Context) (*domain.CarStats, error) {
		st, err := s.store.Cars().Stats(ctx)
		if err != nil {
			return nil, err
		}
		return &st, nil
	})
}

func (s *CarService) committed(ctx context.Context, kind domain.EventKind, op string, car *domain.Car) {
	transitions.WithLabelValues(domain.EntityCar, op).Inc()
	s.opt.Cache.Del(ctx, carStatsKey)
	s.opt.Log.Debug("car lifecycle", zap.String("op", op), zap.Uint("id", car.ID), zap.Uint("owner", car.UserID))
	s.events.Notify(ctx, domain.NewEvent(domain.EntityCar, kind, car.ID, car.UserID, car))
}
