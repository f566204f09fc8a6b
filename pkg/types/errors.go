package types

import (
	"errors"
	"strconv"
)

// ErrMissingField 表示配置缺少必填字段。
var ErrMissingField = errors.New("missing required field")

// ValidationError 描述一个配置校验失败。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason != "" {
		return "invalid " + e.Field + ": " + e.Reason
	}
	return ErrMissingField.Error() + ": " + e.Field
}

// Is 让 errors.Is(err, ErrMissingField) 对缺失字段生效。
func (e *ValidationError) Is(target error) bool {
	return target == ErrMissingField && e.Reason == ""
}

func itoa(i int) string { return strconv.Itoa(i) }
