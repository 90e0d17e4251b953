// Package sql 是面向 IDatabase 的语句构建器。表名与列名按方言校验并引用，
// 参数值经方言转换后绑定；构建过程中的第一个错误保留到 Build 时返回。
package sql

import (
	"context"
	"database/sql"
	"regexp"

	core "folio/data/db"
	"folio/data/db/dialect"
	"folio/errors"
)

// identPattern 单一标识符或以点分隔的限定名
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// Statement 可构建为 SQL 文本与参数的语句
type Statement interface {
	Build() (query string, args []any, err error)
}

// Builder 绑定数据库与方言的构建入口
type Builder struct {
	db      core.IDatabase
	dialect dialect.Dialect
}

// New 创建构建器，方言从 db 推断
func New(db core.IDatabase) *Builder {
	return &Builder{db: db, dialect: dialect.FromDatabase(db)}
}

// ForDialect 只构建语句、不执行时使用
func ForDialect(d dialect.Dialect) *Builder {
	return &Builder{dialect: d}
}

func (b *Builder) Dialect() dialect.Dialect { return b.dialect }

// Select 列表达式按原样输出，由调用方负责引用
func (b *Builder) Select(exprs ...string) *Select {
	if len(exprs) == 0 {
		exprs = []string{"*"}
	}
	return &Select{base: b.base(), exprs: exprs}
}

func (b *Builder) Insert(table string) *Insert {
	s := &Insert{base: b.base()}
	s.table = s.ident("table", table)
	return s
}

func (b *Builder) Update(table string) *Update {
	s := &Update{base: b.base()}
	s.table = s.ident("table", table)
	return s
}

func (b *Builder) Delete(table string) *Delete {
	s := &Delete{base: b.base()}
	s.table = s.ident("table", table)
	return s
}

// Exec 构建并执行写语句
func (b *Builder) Exec(ctx context.Context, s Statement) (sql.Result, error) {
	bs := b.base()
	return bs.exec(ctx, s)
}

func (b *Builder) base() base { return base{dialect: b.dialect, db: b.db} }

// base 各语句共享的方言与错误状态
type base struct {
	dialect dialect.Dialect
	db      core.IDatabase
	err     error
}

func (s *base) fail(format string, args ...any) {
	if s.err == nil {
		s.err = errors.Newf(errors.ErrCodeInvalidInput, "sql: "+format, args...)
	}
}

// ident 校验并引用标识符，非法时记录错误
func (s *base) ident(kind, name string) string {
	if !identPattern.MatchString(name) {
		s.fail("unsafe %s name %q", kind, name)
		return ""
	}
	return s.dialect.QuoteIdentifier(name)
}

func (s *base) bind(v any) any { return s.dialect.BindValue(v) }

func (s *base) bindAll(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = s.bind(a)
	}
	return out
}

func (s *base) exec(ctx context.Context, st Statement) (sql.Result, error) {
	q, args, err := st.Build()
	if err != nil {
		return nil, err
	}
	if s.db == nil {
		return nil, errors.New(errors.ErrCodeInternal, "sql: statement is not bound to a database")
	}
	return s.db.Exec(ctx, q, args...)
}

// clause 以 AND 连接的条件片段
type clause struct {
	conds []string
	args  []any
}

func (c *clause) add(cond string, args []any) {
	if cond == "" {
		return
	}
	c.conds = append(c.conds, cond)
	c.args = append(c.args, args...)
}

func (c *clause) String() string {
	if len(c.conds) == 0 {
		return ""
	}
	out := " WHERE " + c.conds[0]
	for _, cond := range c.conds[1:] {
		out += " AND " + cond
	}
	return out
}
