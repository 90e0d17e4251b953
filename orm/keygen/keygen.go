// Package keygen 为新实体生成主键
package keygen

import (
	"context"
	"sync"

	"folio/codegen/snowflake"
	"folio/errors"
	"folio/orm/mapping"
	"folio/orm/storage"
)

// Generator 主键生成器，实现需并发安全（多个会话共享）
type Generator interface {
	NextKey(ctx context.Context, e *mapping.Entity, entity any) (any, error)
}

// Func 函数式生成器
type Func func(ctx context.Context, e *mapping.Entity, entity any) (any, error)

func (f Func) NextKey(ctx context.Context, e *mapping.Entity, entity any) (any, error) {
	return f(ctx, e, entity)
}

// Snowflake 基于雪花算法的生成器
type Snowflake struct {
	gen *snowflake.Generator
}

// NewSnowflake 创建雪花生成器
func NewSnowflake(datacenterID, workerID int64) (*Snowflake, error) {
	g, err := snowflake.NewGenerator(datacenterID, workerID)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeConfiguration, "invalid snowflake node")
	}
	return &Snowflake{gen: g}, nil
}

func (s *Snowflake) NextKey(ctx context.Context, e *mapping.Entity, entity any) (any, error) {
	id, err := s.gen.NextID(ctx)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInternal, "generate snowflake id")
	}
	return id, nil
}

// Increment 进程内自增：首次使用时读取表中的最大主键，之后在内存中递增。
// 只适用于单进程写入的场景。
type Increment struct {
	exec storage.Executor

	mu   sync.Mutex
	next map[string]int64
}

// NewIncrement 创建自增生成器
func NewIncrement(exec storage.Executor) *Increment {
	return &Increment{exec: exec, next: make(map[string]int64)}
}

func (g *Increment) NextKey(ctx context.Context, e *mapping.Entity, entity any) (any, error) {
	root := e.Root()
	g.mu.Lock()
	defer g.mu.Unlock()

	cur, ok := g.next[root.Name]
	if !ok {
		vals, err := g.exec.ExecuteAggregate(ctx, storage.AggregateRequest{
			Table:      root.Table,
			Aggregates: []storage.Aggregate{{Func: storage.AggMax, Column: root.Key.Name}},
		})
		if err != nil {
			return nil, err
		}
		if len(vals) > 0 && vals[0] != nil {
			top, err := mapping.As[int64](vals[0])
			if err != nil {
				return nil, errors.WrapError(err, errors.ErrCodeConfiguration,
					"increment generator requires an integer key on "+root.Name)
			}
			cur = top
		}
	}
	cur++
	g.next[root.Name] = cur
	return cur, nil
}

// Assigned 由调用方在保存前设置主键
type Assigned struct{}

func (Assigned) NextKey(ctx context.Context, e *mapping.Entity, entity any) (any, error) {
	key := e.KeyOf(entity)
	if key == nil {
		return nil, errors.Newf(errors.ErrCodeValidation, "%s uses assigned keys but none was set", e.Name)
	}
	return key, nil
}

// Set 按名称索引的生成器集合
type Set map[string]Generator

// Defaults 内置生成器：snowflake、increment、assigned
func Defaults(exec storage.Executor, sf *Snowflake) Set {
	return Set{
		mapping.GeneratorSnowflake: sf,
		mapping.GeneratorIncrement: NewIncrement(exec),
		mapping.GeneratorAssigned:  Assigned{},
	}
}

// Lookup 查找生成器
func (s Set) Lookup(name string) (Generator, error) {
	g, ok := s[name]
	if !ok || g == nil {
		return nil, errors.Newf(errors.ErrCodeConfiguration, "unknown key generator %q", name)
	}
	return g, nil
}
