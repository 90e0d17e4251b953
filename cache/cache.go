// Package cache 提供进程内 LRU 缓存，供查询计划等只读编译产物复用
package cache

import (
	"container/list"
	"errors"
	"fmt"
	"sync"
)

// ErrLoadAborted 共享加载的 fn 未正常返回
var ErrLoadAborted = errors.New("cache: load aborted")

// Config 缓存配置
type Config struct {
	// Name 用于日志和统计
	Name string
	// MaxSize 最大条目数，0 表示无限制
	MaxSize int
}

// Stats 统计快照
type Stats struct {
	Hits      int64
	Misses    int64
	Loads     int64
	Evictions int64
	Size      int
}

// HitRate 命中率，没有访问时为 0
func (s Stats) HitRate() float64 {
	if s.Hits+s.Misses == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Hits+s.Misses)
}

// Cache 并发安全的泛型 LRU 缓存
type Cache[K comparable, V any] struct {
	config Config

	mu      sync.Mutex
	items   map[K]*list.Element
	order   *list.List // 队首为最近使用
	loading map[K]*load[V]
	stats   Stats
}

type entry[K comparable, V any] struct {
	key   K
	value V
}

// load 同一 key 正在进行的加载，并发未命中者等待其结果
type load[V any] struct {
	done  chan struct{}
	value V
	err   error
}

// New 创建缓存
func New[K comparable, V any](config Config) *Cache[K, V] {
	if config.Name == "" {
		config.Name = "unnamed"
	}
	return &Cache[K, V]{
		config:  config,
		items:   make(map[K]*list.Element),
		order:   list.New(),
		loading: make(map[K]*load[V]),
	}
}

// Get 命中时将条目移到队首
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookup(key)
}

func (c *Cache[K, V]) lookup(key K) (V, bool) {
	el, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		var zero V
		return zero, false
	}
	c.order.MoveToFront(el)
	c.stats.Hits++
	return el.Value.(*entry[K, V]).value, true
}

// Set 写入或覆盖，超过容量时驱逐最久未使用的条目
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store(key, value)
}

func (c *Cache[K, V]) store(key K, value V) {
	if el, ok := c.items[key]; ok {
		el.Value.(*entry[K, V]).value = value
		c.order.MoveToFront(el)
		return
	}
	if c.config.MaxSize > 0 && len(c.items) >= c.config.MaxSize {
		if oldest := c.order.Back(); oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*entry[K, V]).key)
			c.stats.Evictions++
		}
	}
	c.items[key] = c.order.PushFront(&entry[K, V]{key: key, value: value})
}

// GetOrLoad 未命中时调用 fn 加载并缓存成功结果。同一 key 的并发未命中
// 只执行一次 fn，其余调用方等待并共享结果；失败结果不缓存。
func (c *Cache[K, V]) GetOrLoad(key K, fn func() (V, error)) (V, error) {
	c.mu.Lock()
	if v, ok := c.lookup(key); ok {
		c.mu.Unlock()
		return v, nil
	}
	if l, ok := c.loading[key]; ok {
		c.mu.Unlock()
		<-l.done
		return l.value, l.err
	}
	// fn 发生 panic 时等待者收到 ErrLoadAborted
	l := &load[V]{done: make(chan struct{}), err: ErrLoadAborted}
	c.loading[key] = l
	c.stats.Loads++
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.loading, key)
		if l.err == nil {
			c.store(key, l.value)
		}
		c.mu.Unlock()
		close(l.done)
	}()

	l.value, l.err = fn()
	return l.value, l.err
}

// Delete 返回条目是否存在
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.order.Remove(el)
	delete(c.items, key)
	return true
}

// Clear 清空条目，统计保留
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]*list.Element)
	c.order.Init()
}

func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = len(c.items)
	return s
}

func (c *Cache[K, V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Cache[K, V]) String() string {
	s := c.Stats()
	return fmt.Sprintf("Cache[%s]: size=%d/%d, hits=%d, misses=%d, hit_rate=%.2f%%, evictions=%d",
		c.config.Name, s.Size, c.config.MaxSize, s.Hits, s.Misses, s.HitRate()*100, s.Evictions)
}
