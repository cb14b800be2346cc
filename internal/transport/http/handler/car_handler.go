package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"fleet-api/internal/domain"
	"fleet-api/internal/media"
	"fleet-api/internal/service"
	"fleet-api/internal/transport/http/ez"
)

type CarHandler struct {
	cars     *service.CarService
	maxImage int64
}

// NewCarHandler maxImage 为单张图片上限，multipart 读取时多读 1 字节交给 media 判定超限
func NewCarHandler(c *service.CarService, maxImage int64) *CarHandler {
	if maxImage <= 0 {
		maxImage = media.DefaultMaxBytes
	}
	return &CarHandler{cars: c, maxImage: maxImage}
}

func (h *CarHandler) MountAPI(_, authed ez.EZ) {
	ez.RegisterAction(authed, ez.Action[listQ, *domain.PageResult[domain.Car]]{
		Method: http.MethodGet,
		Path:   "/cars",
		Binder: ez.BindQuery,
		Auth:   true,
		Handler: func(c *gin.Context, in *listQ) (*domain.PageResult[domain.Car], error) {
			return h.cars.ListActive(c.Request.Context(), in.query())
		},
	})

	ez.RegisterAction(authed, ez.Action[struct{}, *domain.Car]{
		Method: http.MethodGet,
		Path:   "/cars/license-plate/:plate",
		Binder: ez.BindNone,
		Auth:   true,
		Handler: func(c *gin.Context, _ *struct{}) (*domain.Car, error) {
			return h.cars.GetByPlate(c.Request.Context(), c.Param("plate"))
		},
	})

	ez.RegisterAction(authed, ez.Action[struct{}, []domain.Car]{
		Method: http.MethodGet,
		Path:   "/cars/user/:userId",
		Binder: ez.BindNone,
		Auth:   true,
		Handler: func(c *gin.Context, _ *struct{}) ([]domain.Car, error) {
			id, err := pathID(c, "userId")
			if err != nil {
				return nil, err
			}
			return h.cars.ListByOwner(c.Request.Context(), id)
		},
	})

	ez.RegisterAction(authed, ez.Action[struct{}, *domain.Car]{
		Method: http.MethodGet,
		Path:   "/cars/:id",
		Binder: ez.BindNone,
		Auth:   true,
		Handler: func(c *gin.Context, _ *struct{}) (*domain.Car, error) {
			id, err := pathID(c, "id")
			if err != nil {
				return nil, err
			}
			return h.cars.Get(c.Request.Context(), id)
		},
	})

	ez.RegisterAction(authed, ez.Action[service.CarInput, *domain.Car]{
		Method: http.MethodPost,
		Path:   "/cars",
		Binder: ez.BindJSON,
		Status: http.StatusCreated,
		Auth:   true,
		Handler: func(c *gin.Context, in *service.CarInput) (*domain.Car, error) {
			if err := claimOwner(c, &in.UserID); err != nil {
				return nil, err
			}
			return h.cars.Create(c.Request.Context(), *in)
		},
	})

	ez.RegisterAction(authed, ez.Action[service.CarPatch, *domain.Car]{
		Method: http.MethodPatch,
		Path:   "/cars/:id",
		Binder: ez.BindJSON,
		Auth:   true,
		Handler: func(c *gin.Context, in *service.CarPatch) (*domain.Car, error) {
			id, err := h.owned(c)
			if err != nil {
				return nil, err
			}
			if in.OwnerChange() && !ez.IsAdmin(c) {
				return nil, ez.Forbidden("only admins can transfer a car")
			}
			return h.cars.Update(c.Request.Context(), id, *in)
		},
	})

	ez.RegisterAction(authed, ez.Action[service.CarInput, *domain.Car]{
		Method: http.MethodPut,
		Path:   "/cars/:id",
		Binder: ez.BindJSON,
		Auth:   true,
		Handler: func(c *gin.Context, in *service.CarInput) (*domain.Car, error) {
			id, err := h.owned(c)
			if err != nil {
				return nil, err
			}
			if err := claimOwner(c, &in.UserID); err != nil {
				return nil, err
			}
			return h.cars.Replace(c.Request.Context(), id, *in)
		},
	})

	ez.RegisterAction(authed, ez.Action[struct{}, *domain.Car]{
		Method: http.MethodDelete,
		Path:   "/cars/:id",
		Binder: ez.BindNone,
		Auth:   true,
		Handler: func(c *gin.Context, _ *struct{}) (*domain.Car, error) {
			id, err := h.owned(c)
			if err != nil {
				return nil, err
			}
			return h.cars.SoftDelete(c.Request.Context(), id)
		},
	})

	// multipart 字段名 image
	ez.RegisterAction(authed, ez.Action[struct{}, *domain.Car]{
		Method: http.MethodPut,
		Path:   "/cars/:id/image",
		Binder: ez.BindNone,
		Auth:   true,
		Handler: func(c *gin.Context, _ *struct{}) (*domain.Car, error) {
			id, err := h.owned(c)
			if err != nil {
				return nil, err
			}
			up, err := h.readUpload(c)
			if err != nil {
				return nil, err
			}
			return h.cars.AttachImage(c.Request.Context(), id, up)
		},
	})

	ez.RegisterAction(authed, ez.Action[struct{}, *domain.Car]{
		Method: http.MethodDelete,
		Path:   "/cars/:id/image",
		Binder: ez.BindNone,
		Auth:   true,
		Handler: func(c *gin.Context, _ *struct{}) (*domain.Car, error) {
			id, err := h.owned(c)
			if err != nil {
				return nil, err
			}
			return h.cars.ClearImage(c.Request.Context(), id)
		},
	})

	authed.Group().GET("/cars/:id/image", func(c *gin.Context) {
		if err := h.streamImage(c); err != nil {
			authed.Fail(c, err)
		}
	})
}

// owned 解析 :id，普通用户只能动自己的车
func (h *CarHandler) owned(c *gin.Context) (uint, error) {
	id, err := pathID(c, "id")
	if err != nil {
		return 0, err
	}
	if ez.IsAdmin(c) {
		return id, nil
	}
	owner, err := h.cars.Owner(c.Request.Context(), id)
	if err != nil {
		return 0, err
	}
	if uid, _ := ez.Caller(c); uid != owner {
		return 0, ez.Forbidden("you can only modify your own cars")
	}
	return id, nil
}

// claimOwner 普通用户不填 userId 时默认自己，填了别人则拒绝
func claimOwner(c *gin.Context, raw *domain.FlexID) error {
	if ez.IsAdmin(c) {
		return nil
	}
	uid, _ := ez.Caller(c)
	if *raw == "" {
		*raw = domain.FlexID(service.FormatID(uid))
		return nil
	}
	if id, err := service.ParseID(string(*raw)); err == nil && id != uid {
		return ez.Forbidden("you can only register cars for yourself")
	}
	return nil
}

func (h *CarHandler) readUpload(c *gin.Context) (media.Upload, error) {
	fh, err := c.FormFile("image")
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return media.Upload{}, err
		}
		return media.Upload{}, domain.Validation("image file is required")
	}
	f, err := fh.Open()
	if err != nil {
		return media.Upload{}, domain.Validation("cannot read uploaded image")
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, h.maxImage+1))
	if err != nil {
		return media.Upload{}, domain.Validation("cannot read uploaded image")
	}
	return media.Upload{Data: data, ContentType: fh.Header.Get("Content-Type")}, nil
}

func (h *CarHandler) streamImage(c *gin.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	rc, car, err := h.cars.Image(c.Request.Context(), id)
	if err != nil {
		return err
	}
	defer rc.Close()
	size := int64(-1)
	if car.ImageSize != nil {
		size = *car.ImageSize
	}
	ct := "application/octet-stream"
	if car.ImageType != nil && *car.ImageType != "" {
		ct = *car.ImageType
	}
	c.DataFromReader(http.StatusOK, size, ct, rc, map[string]string{"Cache-Control": "private, max-age=300"})
	return nil
}
