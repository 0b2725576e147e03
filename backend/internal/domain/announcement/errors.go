package announcement

import (
	"errors"
	"fmt"
)

// 公告与修订记录共享的错误分类，handler 层据此映射 HTTP 状态码。
var (
	ErrNotFound   = errors.New("announcement or revision not found")
	ErrConflict   = errors.New("concurrent modification conflict")
	ErrValidation = errors.New("validation failed")
)

// ValidationError 描述某个字段未通过校验，errors.Is(err, ErrValidation) 恒为 true。
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError 构造字段级校验错误。
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
