package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errTransient = errors.New("transient")

// TestDo_SucceedsOnRetry 第二次尝试成功
func TestDo_SucceedsOnRetry(t *testing.T) {
	var attempts []int
	err := Do(context.Background(), func(ctx context.Context, attempt int) error {
		attempts = append(attempts, attempt)
		if attempt == 1 {
			return errTransient
		}
		return nil
	}, DefaultConfig())

	assert.NoError(t, err)
	assert.Equal(t, []int{1, 2}, attempts)
}

// TestDo_ReturnsLastError 全部失败返回最后一次错误
func TestDo_ReturnsLastError(t *testing.T) {
	calls := 0
	cfg := DefaultConfig()
	cfg.MaxAttempts = 3
	err := Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return errTransient
	}, cfg)

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls)
}

// TestDo_NonRetryable 不可重试错误立即返回
func TestDo_NonRetryable(t *testing.T) {
	permanent := errors.New("permanent")
	cfg := DefaultConfig()
	cfg.Retryable = func(err error) bool { return !errors.Is(err, permanent) }

	calls := 0
	err := Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return permanent
	}, cfg)

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

// TestDo_ContextCancelled 上下文取消时停止
func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxAttempts: 5, InitialDelay: 50 * time.Millisecond, BackoffFactor: 2}

	calls := 0
	err := Do(ctx, func(ctx context.Context, attempt int) error {
		calls++
		cancel()
		return errTransient
	}, cfg)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

// TestDo_ZeroAttempts 至少执行一次
func TestDo_ZeroAttempts(t *testing.T) {
	calls := 0
	_ = Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return nil
	}, Config{})
	assert.Equal(t, 1, calls)
}
