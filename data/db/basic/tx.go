package basic

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	core "folio/data/db"
	"folio/data/db/dialect"
)

var errNestedTx = errors.New("basic: nested transactions are not supported")

// querier 是 *sql.DB 与 *sql.Tx 共有的执行方法
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// conn 按方言改写占位符后转发给 querier
type conn struct {
	q       querier
	dialect dialect.Dialect
}

func (c conn) Query(ctx context.Context, query string, args ...any) (core.IRows, error) {
	rows, err := c.q.QueryContext(ctx, c.dialect.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	return &Rows{rows: rows}, nil
}

func (c conn) QueryRow(ctx context.Context, query string, args ...any) core.IRow {
	return &Row{row: c.q.QueryRowContext(ctx, c.dialect.Rebind(query), args...)}
}

func (c conn) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.q.ExecContext(ctx, c.dialect.Rebind(query), args...)
}

// ExecScript 逐条执行以分号分隔的 DDL 脚本（不处理字符串中的分号）
func (c conn) ExecScript(ctx context.Context, script string) error {
	for i, stmt := range dialect.SplitStatements(script) {
		if _, err := c.q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("script statement %d: %w", i+1, err)
		}
	}
	return nil
}

// GetDialectName 实现 core.IDialectNameProvider
func (c conn) GetDialectName() string { return string(c.dialect.Name()) }

// Tx 事务。同时实现 core.IDatabase，事务内的构建器与存储可直接复用
type Tx struct {
	conn
	db *sql.DB
	tx *sql.Tx
}

func (t *Tx) Begin(context.Context) (core.ITransaction, error) { return nil, errNestedTx }

func (t *Tx) BeginTx(context.Context, *sql.TxOptions) (core.ITransaction, error) {
	return nil, errNestedTx
}

func (t *Tx) Ping(ctx context.Context) error { return t.db.PingContext(ctx) }
func (t *Tx) Close() error                   { return nil }
func (t *Tx) Raw() any                       { return t.tx }
func (t *Tx) Commit() error                  { return t.tx.Commit() }
func (t *Tx) Rollback() error                { return t.tx.Rollback() }
