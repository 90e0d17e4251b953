package errors

import (
	stdErrors "errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// IError 带错误码的错误
type IError interface {
	error
	Code() ErrorCode
	Message() string
	Cause() error
	// Details 附加的上下文，例如实体名或查询语句
	Details() map[string]any
	Stack() string
	WithDetails(details map[string]any) IError
	WithContext(key string, value any) IError
}

// AppError IError 的实现。值不可变，WithDetails/WithContext 返回副本
type AppError struct {
	code    ErrorCode
	message string
	cause   error
	details map[string]any
	pcs     []uintptr
}

func newAppError(code ErrorCode, message string, cause error) *AppError {
	var pcs [32]uintptr
	n := runtime.Callers(3, pcs[:])
	return &AppError{code: code, message: message, cause: cause, pcs: pcs[:n]}
}

// NewError 创建错误
func NewError(code ErrorCode, message string) IError {
	return newAppError(code, message, nil)
}

// NewErrorWithCause 创建带原因的错误
func NewErrorWithCause(code ErrorCode, message string, cause error) IError {
	return newAppError(code, message, cause)
}

// WrapError 以新的错误码包装 err；err 为 nil 时返回 nil
func WrapError(err error, code ErrorCode, message string) IError {
	if err == nil {
		return nil
	}
	return newAppError(code, message, err)
}

// Error 格式为 [CODE] message (k=v, ...): cause
func (e *AppError) Error() string {
	var sb strings.Builder
	sb.WriteString("[")
	sb.WriteString(string(e.code))
	sb.WriteString("] ")
	sb.WriteString(e.message)
	if len(e.details) > 0 {
		keys := make([]string, 0, len(e.details))
		for k := range e.details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s=%v", k, e.details[k])
		}
		sb.WriteString(")")
	}
	if e.cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.cause.Error())
	}
	return sb.String()
}

func (e *AppError) Code() ErrorCode { return e.code }
func (e *AppError) Message() string { return e.message }
func (e *AppError) Cause() error    { return e.cause }
func (e *AppError) Unwrap() error   { return e.cause }

// Details 返回副本
func (e *AppError) Details() map[string]any {
	return copyMap(e.details)
}

// Stack 创建位置的调用栈，按需格式化
func (e *AppError) Stack() string {
	var sb strings.Builder
	frames := runtime.CallersFrames(e.pcs)
	for {
		f, more := frames.Next()
		fmt.Fprintf(&sb, "%s:%d %s\n", f.File, f.Line, f.Function)
		if !more {
			break
		}
	}
	return sb.String()
}

// Is 同错误码的 *AppError 视为相同，配合哨兵错误使用
func (e *AppError) Is(target error) bool {
	if t, ok := target.(*AppError); ok {
		return e.code == t.code
	}
	return false
}

func (e *AppError) WithDetails(details map[string]any) IError {
	c := *e
	c.details = copyMap(e.details)
	for k, v := range details {
		c.details[k] = v
	}
	return &c
}

func (e *AppError) WithContext(key string, value any) IError {
	return e.WithDetails(map[string]any{key: value})
}

// IsErrorCode 错误链中任一 AppError 带有该错误码
func IsErrorCode(err error, code ErrorCode) bool {
	for err != nil {
		var appErr *AppError
		if !stdErrors.As(err, &appErr) {
			return false
		}
		if appErr.code == code {
			return true
		}
		err = appErr.cause
	}
	return false
}

// GetErrorCode 最外层 AppError 的错误码，普通错误为 INTERNAL_ERROR
func GetErrorCode(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if stdErrors.As(err, &appErr) {
		return appErr.code
	}
	return ErrCodeInternal
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
