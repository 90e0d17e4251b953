package cache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_BasicOperations(t *testing.T) {
	c := New[string, int](Config{Name: "test", MaxSize: 100})

	c.Set("key1", 100)
	value, found := c.Get("key1")
	assert.True(t, found)
	assert.Equal(t, 100, value)

	c.Set("key1", 101)
	value, _ = c.Get("key1")
	assert.Equal(t, 101, value)
	assert.Equal(t, 1, c.Size())

	_, found = c.Get("nonexistent")
	assert.False(t, found)

	assert.True(t, c.Delete("key1"))
	assert.False(t, c.Delete("key1"))
}

// TestCache_LRUEviction 访问过的条目不会被先驱逐
func TestCache_LRUEviction(t *testing.T) {
	c := New[int, string](Config{Name: "plans", MaxSize: 3})
	c.Set(1, "one")
	c.Set(2, "two")
	c.Set(3, "three")

	_, found := c.Get(1)
	require.True(t, found)

	c.Set(4, "four")
	assert.Equal(t, 3, c.Size())

	_, found = c.Get(2)
	assert.False(t, found)
	_, found = c.Get(1)
	assert.True(t, found)
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

// TestCache_GetOrLoad 未命中时加载，失败不缓存
func TestCache_GetOrLoad(t *testing.T) {
	c := New[string, int](Config{MaxSize: 10})
	calls := 0
	load := func() (int, error) {
		calls++
		return 42, nil
	}

	v, err := c.GetOrLoad("q", load)
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	v, err = c.GetOrLoad("q", load)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 1, calls)

	_, err = c.GetOrLoad("bad", func() (int, error) { return 0, errors.New("parse failed") })
	assert.Error(t, err)
	_, found := c.Get("bad")
	assert.False(t, found)

	s := c.Stats()
	assert.Equal(t, int64(2), s.Loads)
	assert.Equal(t, int64(1), s.Hits)
}

// TestCache_GetOrLoadSharesInFlight 并发未命中只加载一次
func TestCache_GetOrLoadSharesInFlight(t *testing.T) {
	c := New[string, int](Config{MaxSize: 10})
	var calls atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrLoad("from Book", func() (int, error) {
				calls.Add(1)
				<-release
				return 7, nil
			})
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, 7, v)
	}
}

// fn panic 后等待者应收到错误，之后的加载不受影响
func TestCache_GetOrLoadPanicReleasesWaiters(t *testing.T) {
	c := New[string, int](Config{MaxSize: 10})
	started := make(chan struct{})
	release := make(chan struct{})

	go func() {
		defer func() { _ = recover() }()
		_, _ = c.GetOrLoad("from Book", func() (int, error) {
			close(started)
			<-release
			panic("compile failed")
		})
	}()
	<-started

	waited := make(chan error, 1)
	go func() {
		_, err := c.GetOrLoad("from Book", func() (int, error) { return 1, nil })
		waited <- err
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)

	select {
	case err := <-waited:
		// 等待者要么共享到中止的加载，要么在清理后自行加载成功
		if err != nil {
			assert.ErrorIs(t, err, ErrLoadAborted)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter blocked after loader panic")
	}

	v, err := c.GetOrLoad("from Book", func() (int, error) { return 3, nil })
	require.NoError(t, err)
	assert.Contains(t, []int{1, 3}, v)
}

func TestCache_Concurrent(t *testing.T) {
	c := New[int, int](Config{MaxSize: 50})
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				c.Set(base*1000+i, i)
				c.Get(base*1000 + i/2)
			}
		}(g)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Size(), 50)
}

func TestCache_ClearAndString(t *testing.T) {
	c := New[int, int](Config{Name: "plans", MaxSize: 5})
	c.Set(1, 1)
	c.Get(1)
	c.Get(2)
	assert.Contains(t, c.String(), "Cache[plans]: size=1/5")
	assert.InDelta(t, 0.5, c.Stats().HitRate(), 0.001)

	c.Clear()
	assert.Equal(t, 0, c.Size())
	assert.Equal(t, int64(1), c.Stats().Hits)
}
