package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Optional 区分 JSON 里 "字段缺省" 和 "显式 null"
type Optional[T any] struct {
	Set   bool
	Null  bool
	Value T
}

func (o *Optional[T]) UnmarshalJSON(b []byte) error {
	o.Set = true
	if string(b) == "null" {
		o.Null = true
		return nil
	}
	return json.Unmarshal(b, &o.Value)
}

func Some[T any](v T) Optional[T] { return Optional[T]{Set: true, Value: v} }

func Null[T any]() Optional[T] { return Optional[T]{Set: true, Null: true} }

// FlexID 请求里的 id 可能是数字也可能是字符串，原样保留，交给 validate.PositiveInt 判定
type FlexID string

func (f *FlexID) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case nil:
		*f = ""
	case string:
		*f = FlexID(x)
	case float64:
		*f = FlexID(strconv.FormatFloat(x, 'f', -1, 64))
	default:
		*f = FlexID(fmt.Sprint(x))
	}
	return nil
}
