// Package changefeed 在事务提交后发布实体变更事件
package changefeed

import (
	"context"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Operation 变更类型
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Event 单个实体的已提交变更
type Event struct {
	ID          string    `msgpack:"id"`
	SessionID   string    `msgpack:"session_id"`
	Entity      string    `msgpack:"entity"`
	Key         any       `msgpack:"key"`
	Operation   Operation `msgpack:"op"`
	Version     int64     `msgpack:"version"`
	Changed     []string  `msgpack:"changed,omitempty"`
	CommittedAt time.Time `msgpack:"committed_at"`
}

// Encode 以 msgpack 编码事件
func Encode(e Event) ([]byte, error) {
	return msgpack.Marshal(e)
}

// Decode 解码事件
func Decode(data []byte) (Event, error) {
	var e Event
	err := msgpack.Unmarshal(data, &e)
	return e, err
}

// Publisher 变更发布者。会话在存储事务提交之后调用，发布失败不会回滚提交。
type Publisher interface {
	Publish(ctx context.Context, events []Event) error
}

// PublisherFunc 函数式发布者
type PublisherFunc func(ctx context.Context, events []Event) error

func (f PublisherFunc) Publish(ctx context.Context, events []Event) error { return f(ctx, events) }

// Memory 进程内发布者，保存已发布事件，多用于测试
type Memory struct {
	mu     sync.Mutex
	events []Event
}

// NewMemory 创建内存发布者
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Publish(ctx context.Context, events []Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	return nil
}

// Events 已发布事件的副本
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Reset 清空
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = nil
}

// Fanout 依次发布到多个发布者，返回第一个错误但不中断后续发布
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, events []Event) error {
	var first error
	for _, p := range f {
		if err := p.Publish(ctx, events); err != nil && first == nil {
			first = err
		}
	}
	return first
}
