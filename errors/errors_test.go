package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestWrap 测试基本错误包装
func TestWrap(t *testing.T) {
	ctx := context.Background()
	original := stdErrors.New("disk full")

	wrapped := Wrap(ctx, original, ErrCodeDatabase, "insert book")
	require.Error(t, wrapped)
	assert.True(t, stdErrors.Is(wrapped, original))
	assert.Equal(t, ErrCodeDatabase, GetErrorCode(wrapped))
	assert.Contains(t, wrapped.Error(), "insert book")

	assert.Nil(t, Wrap(ctx, nil, ErrCodeDatabase, "noop"))
}

// TestWrapDatabaseError_KeepsCodedErrors 已带错误码的错误不应被改写为 DATABASE_ERROR
func TestWrapDatabaseError_KeepsCodedErrors(t *testing.T) {
	ctx := context.Background()

	stale := Newf(ErrCodeStaleEntity, "Book#%d", 1)
	assert.Same(t, stale, WrapDatabaseError(ctx, stale, "update book"))

	raw := stdErrors.New("connection reset")
	wrapped := WrapDatabaseError(ctx, raw, "update book")
	assert.Equal(t, ErrCodeDatabase, GetErrorCode(wrapped))
	assert.True(t, stdErrors.Is(wrapped, raw))

	assert.Nil(t, WrapDatabaseError(ctx, nil, "noop"))
}

// TestIsErrorCode_WalksChain 错误码判断需要穿透包装链
func TestIsErrorCode_WalksChain(t *testing.T) {
	stale := NewError(ErrCodeStaleEntity, "Book#1 version 3")
	outer := WrapError(stale, ErrCodeTransaction, "commit failed")

	assert.True(t, IsStaleEntity(outer))
	assert.True(t, IsErrorCode(outer, ErrCodeTransaction))
	assert.False(t, IsLazyLoad(outer))
	assert.Equal(t, ErrCodeTransaction, GetErrorCode(outer))
	assert.True(t, stdErrors.Is(outer, ErrStaleEntity))
}

// TestPredicates 各类谓词函数
func TestPredicates(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{name: "配置错误", err: Newf(ErrCodeConfiguration, "x"), check: IsConfiguration},
		{name: "重复标识", err: Newf(ErrCodeDuplicateIdentity, "x"), check: IsDuplicateIdentity},
		{name: "未托管实体", err: Newf(ErrCodeUnmanagedEntity, "x"), check: IsUnmanagedEntity},
		{name: "延迟加载", err: Newf(ErrCodeLazyLoad, "x"), check: IsLazyLoad},
		{name: "校验失败", err: NewValidationError("x"), check: IsValidation},
		{name: "未找到", err: Newf(ErrCodeNotFound, "x"), check: IsNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			assert.False(t, tt.check(stdErrors.New("plain")))
			assert.False(t, tt.check(nil))
		})
	}
}

// TestWithDetails 详情与上下文不应修改原错误
func TestWithDetails(t *testing.T) {
	base := NewError(ErrCodeQuery, "unknown property")
	withEntity := base.WithContext("entity", "Book")
	withMore := withEntity.WithDetails(map[string]any{"property": "pages"})

	assert.Empty(t, base.Details())
	assert.Equal(t, "Book", withMore.Details()["entity"])
	assert.Equal(t, "pages", withMore.Details()["property"])
	assert.Equal(t, ErrCodeQuery, withMore.Code())
	assert.Contains(t, base.Stack(), "TestWithDetails")

	d := withMore.Details()
	d["entity"] = "Store"
	assert.Equal(t, "Book", withMore.Details()["entity"])
}

func TestError_FormatsContext(t *testing.T) {
	err := Newf(ErrCodeQuery, "cannot resolve %q", "pages").
		WithContext("query", "from Book b where b.pages > 1").
		WithContext("entity", "Book")
	assert.Equal(t, `[QUERY_ERROR] cannot resolve "pages" (entity=Book, query=from Book b where b.pages > 1)`, err.Error())

	wrapped := WrapError(stdErrors.New("locked"), ErrCodeDatabase, "update book")
	assert.Equal(t, "[DATABASE_ERROR] update book: locked", wrapped.Error())
}

func TestWrapDatabaseError_Timeout(t *testing.T) {
	ctx := context.Background()
	err := WrapDatabaseError(ctx, fmt.Errorf("query: %w", context.DeadlineExceeded), "read book")
	assert.Equal(t, ErrCodeTimeout, GetErrorCode(err))
	assert.True(t, IsTransient(err))
	assert.True(t, IsTransient(WrapDatabaseError(ctx, stdErrors.New("bad conn"), "read book")))
	assert.False(t, IsTransient(Newf(ErrCodeStaleEntity, "Book#1")))
}

// BenchmarkWrap 基准测试：基本包装
func BenchmarkWrap(b *testing.B) {
	ctx := context.Background()
	err := stdErrors.New("boom")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Wrap(ctx, err, ErrCodeInternal, "bench")
	}
}
