package ez

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"fleet-api/internal/domain"
	resp "fleet-api/internal/transport/http/response"
)

// 与 middleware.AuthJWT 写入的 key 保持一致
const (
	KeyUserID = "userId"
	KeyRole   = "role"
)

type EZ struct {
	g   *gin.RouterGroup
	log *zap.Logger
}

func New(g *gin.RouterGroup, l *zap.Logger) EZ {
	if l == nil {
		l = zap.NewNop()
	}
	return EZ{g: g, log: l}
}

func (e EZ) Logger() *zap.Logger { return e.log }

// Group 非 JSON 出参（文件流、websocket）直接挂在底层分组上
func (e EZ) Group() *gin.RouterGroup { return e.g }

// 绑定方式
type Binder string

const (
	BindJSON  Binder = "json"  // 从 JSON 绑定
	BindQuery Binder = "query" // 从 URL ?a=b 绑定
	BindNone  Binder = "none"  // 不绑定，自己从 c.Param / c.PostForm 取
)

// AErr 传输层自己的错误（权限、请求体过大等），业务错误用 domain.Error
type AErr struct {
	Code int
	Msg  string
	Err  error
}

func (e *AErr) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "action error"
}

func (e *AErr) Unwrap() error { return e.Err }

func Unauthorized(msg string) error { return &AErr{Code: resp.CodeUnauthorized, Msg: msg} }
func Forbidden(msg string) error    { return &AErr{Code: resp.CodeForbidden, Msg: msg} }

// 动作定义：I 入参，O 出参
type Action[I any, O any] struct {
	Method  string   // "GET" | "POST" | "PUT" | "PATCH" | "DELETE"
	Path    string   // 例："/auth/login"、"/cars/:id/restore"
	Binder  Binder   // 绑定方式
	Auth    bool     // 是否要求登录（检查 userId）
	Roles   []string // 限定角色（可选）
	Status  int      // 成功时的 HTTP 状态，默认 200
	Handler func(c *gin.Context, in *I) (O, error)
}

// Caller 当前登录用户；未登录 uid 为 0
func Caller(c *gin.Context) (uint, string) {
	return c.GetUint(KeyUserID), c.GetString(KeyRole)
}

func IsAdmin(c *gin.Context) bool { return c.GetString(KeyRole) == domain.RoleAdmin }

// RegisterAction 在当前 EZ 下注册动作接口
func RegisterAction[I any, O any](e EZ, a Action[I, O]) {
	status := a.Status
	if status == 0 {
		status = http.StatusOK
	}
	h := func(c *gin.Context) {
		// 1) 鉴权/角色
		if a.Auth || len(a.Roles) > 0 {
			uid, role := Caller(c)
			if uid == 0 {
				e.Fail(c, Unauthorized("unauthorized"))
				return
			}
			if len(a.Roles) > 0 && !hasRole(a.Roles, role) {
				e.Fail(c, Forbidden("forbidden"))
				return
			}
		}

		// 2) 绑定入参
		var in I
		var bindErr error
		switch a.Binder {
		case BindJSON:
			bindErr = c.ShouldBindJSON(&in)
		case BindQuery:
			bindErr = c.ShouldBindQuery(&in)
		default: // BindNone: 不绑定
		}
		if bindErr != nil {
			e.Fail(c, bindError(bindErr))
			return
		}

		// 3) 执行
		out, err := a.Handler(c, &in)
		if err != nil {
			e.Fail(c, err)
			return
		}
		c.JSON(status, resp.OK(out))
	}

	switch strings.ToUpper(a.Method) {
	case http.MethodGet:
		e.g.GET(a.Path, h)
	case http.MethodPut:
		e.g.PUT(a.Path, h)
	case http.MethodPatch:
		e.g.PATCH(a.Path, h)
	case http.MethodDelete:
		e.g.DELETE(a.Path, h)
	default: // 默认 POST
		e.g.POST(a.Path, h)
	}
}

func hasRole(roles []string, role string) bool {
	for _, r := range roles {
		if role == r {
			return true
		}
	}
	return false
}

// Fail 统一错误映射；storage / internal 只记日志，不把原因带给调用方
func (e EZ) Fail(c *gin.Context, err error) { Fail(c, e.log, err) }

func Fail(c *gin.Context, l *zap.Logger, err error) {
	code, r := toResp(err)
	if code >= http.StatusInternalServerError {
		l.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("method", c.Request.Method),
			zap.Error(err),
		)
	}
	c.AbortWithStatusJSON(resp.HTTPStatus(code), r)
}

func toResp(err error) (int, resp.Resp) {
	var ae *AErr
	if errors.As(err, &ae) {
		return ae.Code, resp.Error(ae.Code, ae.Error())
	}
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return resp.CodeTooLarge, resp.Error(resp.CodeTooLarge, "request body too large")
	}
	if de := domain.As(err); de != nil {
		switch de.Kind {
		case domain.KindValidation:
			return resp.CodeBadRequest, resp.Error(resp.CodeBadRequest, de.Msg).WithDetails(de.Details...)
		case domain.KindStateConflict:
			return resp.CodeBadRequest, resp.Error(resp.CodeBadRequest, de.Msg)
		case domain.KindNotFound:
			return resp.CodeNotFound, resp.Error(resp.CodeNotFound, de.Msg)
		case domain.KindConflict:
			return resp.CodeConflict, resp.Error(resp.CodeConflict, de.Msg)
		case domain.KindAuth:
			return resp.CodeUnauthorized, resp.Error(resp.CodeUnauthorized, de.Msg)
		case domain.KindStorage:
			return resp.CodeServerError, resp.Error(resp.CodeServerError, "storage error")
		}
	}
	return resp.CodeServerError, resp.Error(resp.CodeServerError, "internal server error")
}

// bindError 绑定失败统一成 400；validator 的字段错误逐条放进 details
func bindError(err error) error {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		details := make([]string, 0, len(ve))
		for _, fe := range ve {
			details = append(details, fieldMessage(fe))
		}
		return domain.Validation("validation failed", details...)
	}
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return err
	}
	var se *json.SyntaxError
	var te *json.UnmarshalTypeError
	switch {
	case errors.As(err, &se), errors.Is(err, io.ErrUnexpectedEOF):
		return domain.Validation("invalid JSON body")
	case errors.As(err, &te):
		return domain.Validation("invalid JSON body", fmt.Sprintf("%s: must be %s", te.Field, te.Type))
	case errors.Is(err, io.EOF):
		return domain.Validation("request body is required")
	}
	return domain.Validation(err.Error())
}

func fieldMessage(fe validator.FieldError) string {
	name := fe.Field()
	switch fe.Tag() {
	case "required":
		return name + " is required"
	case "email":
		return name + " must be a valid email"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", name, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", name, fe.Param())
	case "oneof", "fleet_role":
		return name + " must be one of: user, admin"
	case "fleet_phone":
		return name + " must be a valid phone number"
	}
	return fmt.Sprintf("%s failed on %s", name, fe.Tag())
}
