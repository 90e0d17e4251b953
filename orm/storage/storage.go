// Package storage 定义持久化核心与关系存储之间的窄接口。
//
// 会话只通过 Executor 读写表，SQL 方言、连接池与 schema 由具体实现负责
// （sqlstore 基于 data/db，gormstore 基于 gorm）。
package storage

import (
	"context"
)

// Row 一行结果，键为列名；Join 读取的关联表列以 JoinPrefix 为前缀
type Row map[string]any

// JoinPrefix 关联表列的别名前缀
const JoinPrefix = "j__"

// Op 写操作类型
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Order 排序
type Order struct {
	Column string
	Desc   bool
}

// Join 单个 LEFT JOIN：Table.ForeignColumn = 主表.LocalColumn
type Join struct {
	Table         string
	Columns       []string
	LocalColumn   string
	ForeignColumn string
}

// ReadRequest 读请求。Limit <= 0 表示不限制。
type ReadRequest struct {
	Table   string
	Columns []string
	Where   Predicate
	OrderBy []Order
	Offset  int
	Limit   int
	Join    *Join
}

// WriteRequest 写请求。Insert 使用 Values；Update 使用 Values 与 Where；Delete 使用 Where。
type WriteRequest struct {
	Table  string
	Op     Op
	Values map[string]any
	Where  Predicate
}

// WriteResult 写结果
type WriteResult struct {
	RowsAffected int64
	LastInsertID int64
}

// AggregateFunc 聚合函数
type AggregateFunc string

const (
	AggMin   AggregateFunc = "min"
	AggMax   AggregateFunc = "max"
	AggAvg   AggregateFunc = "avg"
	AggSum   AggregateFunc = "sum"
	AggCount AggregateFunc = "count"
)

// Aggregate 聚合投影，Column 为空表示 COUNT(*)
type Aggregate struct {
	Func   AggregateFunc
	Column string
}

// AggregateRequest 聚合请求，结果按 Aggregates 顺序返回
type AggregateRequest struct {
	Table      string
	Aggregates []Aggregate
	Where      Predicate
}

// NativeResult 原生 SQL 结果，保留列顺序
type NativeResult struct {
	Columns []string
	Rows    [][]any
}

// Executor 存储执行器
type Executor interface {
	ExecuteRead(ctx context.Context, req ReadRequest) ([]Row, error)
	ExecuteWrite(ctx context.Context, req WriteRequest) (WriteResult, error)
	ExecuteAggregate(ctx context.Context, req AggregateRequest) ([]any, error)
	// ExecuteNative 执行带 :name 命名参数的原生 SQL
	ExecuteNative(ctx context.Context, sql string, params map[string]any) (NativeResult, error)
}

// Tx 存储事务
type Tx interface {
	Executor
	Commit() error
	Rollback() error
}

// Storage 存储实现
type Storage interface {
	Executor
	Begin(ctx context.Context) (Tx, error)
}
