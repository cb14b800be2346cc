package domain

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation    Kind = "validation"
	KindNotFound      Kind = "not_found"
	KindStateConflict Kind = "state_conflict"
	KindConflict      Kind = "conflict"
	KindAuth          Kind = "auth"
	KindStorage       Kind = "storage"
	KindInternal      Kind = "internal"
)

// Error 业务错误；Details 用于一次性返回全部字段问题
type Error struct {
	Kind    Kind
	Msg     string
	Details []string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Msg != "" {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(msg string, details ...string) error {
	return &Error{Kind: KindValidation, Msg: msg, Details: details}
}
func NotFound(msg string) error        { return &Error{Kind: KindNotFound, Msg: msg} }
func StateConflict(msg string) error   { return &Error{Kind: KindStateConflict, Msg: msg} }
func Conflict(msg string) error        { return &Error{Kind: KindConflict, Msg: msg} }
func Unauthenticated(msg string) error { return &Error{Kind: KindAuth, Msg: msg} }

func Storage(msg string, err error) error  { return &Error{Kind: KindStorage, Msg: msg, Err: err} }
func Internal(msg string, err error) error { return &Error{Kind: KindInternal, Msg: msg, Err: err} }

// ErrInvalidCredentials 不区分邮箱不存在还是密码错误
var ErrInvalidCredentials = &Error{Kind: KindAuth, Msg: "invalid credentials"}

// KindOf 非 *Error 一律视为 internal
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}
