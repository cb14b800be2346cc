package validate

import (
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var registerOnce sync.Once

// RegisterBindings 给 gin 的 validator 挂上 fleet_role / fleet_phone 标签，字段名取 json tag
func RegisterBindings() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
		_ = v.RegisterValidation("fleet_role", func(fl validator.FieldLevel) bool {
			return Role(fl.Field().String())
		})
		_ = v.RegisterValidation("fleet_phone", func(fl validator.FieldLevel) bool {
			return Phone(strings.TrimSpace(fl.Field().String()))
		})
	})
}
