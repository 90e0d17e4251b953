package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"runtime"

	"folio/logging"
)

// Wrap 以新的错误码包装 err，并在 Debug 级别记录包装位置
func Wrap(ctx context.Context, err error, code ErrorCode, msg string) error {
	if err == nil {
		return nil
	}
	logging.GetLogger().Debug(ctx, "error wrapped",
		logging.String("message", msg),
		logging.String("error_code", string(code)),
		logging.String("location", caller(2)),
	)
	return newAppError(code, msg, err)
}

// WrapWithLog 包装错误并记录警告日志
func WrapWithLog(ctx context.Context, err error, code ErrorCode, msg string, fields ...logging.Field) error {
	if err == nil {
		return nil
	}
	all := append([]logging.Field{
		logging.Error(err),
		logging.String("error_code", string(code)),
		logging.String("location", caller(2)),
	}, fields...)
	logging.GetLogger().Warn(ctx, msg, all...)
	return newAppError(code, msg, err)
}

// WrapDatabaseError 包装存储层错误。已带错误码的错误原样返回，
// 超时与取消归为 TIMEOUT，其余归为 DATABASE_ERROR。
func WrapDatabaseError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(IError); ok {
		return err
	}
	code := ErrCodeDatabase
	if stdErrors.Is(err, context.DeadlineExceeded) || stdErrors.Is(err, context.Canceled) {
		code = ErrCodeTimeout
	}
	return WrapWithLog(ctx, err, code, "storage operation failed: "+operation,
		logging.String("operation", operation),
	)
}

// New 创建错误，消息附带调用位置
func New(code ErrorCode, msg string) error {
	return newAppError(code, fmt.Sprintf("%s (at %s)", msg, caller(2)), nil)
}

// Newf 以格式化消息创建错误
func Newf(code ErrorCode, format string, args ...any) IError {
	return newAppError(code, fmt.Sprintf(format, args...), nil)
}

// NewValidationError 创建校验错误
func NewValidationError(msg string) error {
	return New(ErrCodeValidation, msg)
}

func caller(skip int) string {
	_, file, line, _ := runtime.Caller(skip)
	return fmt.Sprintf("%s:%d", file, line)
}
