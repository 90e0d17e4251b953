package orm

import (
	"folio/errors"
	"folio/orm/mapping"
)

func configurationError(format string, args ...any) errors.IError {
	return errors.Newf(errors.ErrCodeConfiguration, format, args...)
}

func unmanagedError(format string, args ...any) errors.IError {
	return errors.Newf(errors.ErrCodeUnmanagedEntity, format, args...)
}

func transactionError(format string, args ...any) errors.IError {
	return errors.Newf(errors.ErrCodeTransaction, format, args...)
}

func queryError(format string, args ...any) errors.IError {
	return errors.Newf(errors.ErrCodeQuery, format, args...)
}

// staleError 版本检查失败或行已被删除
func staleError(e *mapping.Entity, key any, version int64) errors.IError {
	return errors.Newf(errors.ErrCodeStaleEntity, "%s#%v was updated or deleted by another transaction", e.Name, key).
		WithContext("entity", e.Name).
		WithContext("key", key).
		WithContext("version", version)
}

func lazyLoadError(a *mapping.Association, reason string) errors.IError {
	return errors.Newf(errors.ErrCodeLazyLoad, "cannot load %s.%s: %s", a.Owner.Name, a.Name, reason)
}

func duplicateError(e *mapping.Entity, key any) errors.IError {
	return errors.Newf(errors.ErrCodeDuplicateIdentity, "another %s instance with key %v is already tracked", e.Root().Name, key).
		WithContext("entity", e.Name).
		WithContext("key", key)
}
