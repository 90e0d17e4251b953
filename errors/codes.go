package errors

// ErrorCode 错误代码
type ErrorCode string

// 通用错误代码
const (
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeTimeout      ErrorCode = "TIMEOUT"
	ErrCodeValidation   ErrorCode = "VALIDATION_ERROR"
)

// 会话与映射错误代码
const (
	ErrCodeConfiguration     ErrorCode = "CONFIGURATION_ERROR"
	ErrCodeDuplicateIdentity ErrorCode = "DUPLICATE_IDENTITY"
	ErrCodeUnmanagedEntity   ErrorCode = "UNMANAGED_ENTITY"
	ErrCodeStaleEntity       ErrorCode = "STALE_ENTITY"
	ErrCodeLazyLoad          ErrorCode = "LAZY_LOAD"
	ErrCodeQuery             ErrorCode = "QUERY_ERROR"
	ErrCodeNonUniqueResult   ErrorCode = "NON_UNIQUE_RESULT"
	ErrCodeSessionClosed     ErrorCode = "SESSION_CLOSED"
	ErrCodeTransaction       ErrorCode = "TRANSACTION_ERROR"
)

// 基础设施错误代码
const (
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
	ErrCodeQueue    ErrorCode = "QUEUE_ERROR"
)

// 可与 errors.Is 配合使用的哨兵错误，按错误码匹配
var (
	ErrNotFound          = NewError(ErrCodeNotFound, "not found")
	ErrValidation        = NewError(ErrCodeValidation, "validation failed")
	ErrStaleEntity       = NewError(ErrCodeStaleEntity, "entity was updated or deleted by another transaction")
	ErrDuplicateIdentity = NewError(ErrCodeDuplicateIdentity, "identity already tracked by session")
	ErrSessionClosed     = NewError(ErrCodeSessionClosed, "session is closed")
)

func IsNotFound(err error) bool      { return IsErrorCode(err, ErrCodeNotFound) }
func IsValidation(err error) bool    { return IsErrorCode(err, ErrCodeValidation) }
func IsConfiguration(err error) bool { return IsErrorCode(err, ErrCodeConfiguration) }

// IsStaleEntity 乐观锁冲突。调用方应驱逐或重新加载实体后重试
func IsStaleEntity(err error) bool { return IsErrorCode(err, ErrCodeStaleEntity) }

func IsDuplicateIdentity(err error) bool { return IsErrorCode(err, ErrCodeDuplicateIdentity) }
func IsUnmanagedEntity(err error) bool   { return IsErrorCode(err, ErrCodeUnmanagedEntity) }
func IsLazyLoad(err error) bool          { return IsErrorCode(err, ErrCodeLazyLoad) }

// IsTransient 存储层的非业务失败，只读操作可以重试
func IsTransient(err error) bool {
	return IsErrorCode(err, ErrCodeDatabase) || IsErrorCode(err, ErrCodeTimeout)
}
