package sql

import (
	"context"
	"strings"

	core "folio/data/db"
)

// Select SELECT 语句
type Select struct {
	base
	exprs  []string
	from   string
	joins  []string
	where  clause
	order  []string
	limit  int
	offset int
}

// From 引用表名，alias 非空时附加别名
func (s *Select) From(table, alias string) *Select {
	s.from = s.ident("table", table)
	if alias != "" {
		s.from += " " + s.ident("alias", alias)
	}
	return s
}

// LeftJoin on 为原样输出的连接条件
func (s *Select) LeftJoin(table, alias, on string) *Select {
	t := s.ident("table", table)
	if alias != "" {
		t += " " + s.ident("alias", alias)
	}
	s.joins = append(s.joins, " LEFT JOIN "+t+" ON "+on)
	return s
}

// Where 追加条件，多次调用以 AND 连接
func (s *Select) Where(cond string, args ...any) *Select {
	s.where.add(cond, s.bindAll(args))
	return s
}

// OrderBy 追加排序表达式
func (s *Select) OrderBy(expr string, desc bool) *Select {
	if desc {
		expr += " DESC"
	}
	s.order = append(s.order, expr)
	return s
}

// Page limit<=0 表示不限制条数
func (s *Select) Page(limit, offset int) *Select {
	s.limit, s.offset = limit, offset
	return s
}

func (s *Select) Build() (string, []any, error) {
	if s.err != nil {
		return "", nil, s.err
	}
	if s.from == "" {
		return "", nil, errInvalid("select without FROM")
	}
	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(s.exprs, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(s.from)
	for _, j := range s.joins {
		sb.WriteString(j)
	}
	sb.WriteString(s.where.String())
	if len(s.order) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(s.order, ", "))
	}
	page, pageArgs := s.dialect.LimitOffset(s.limit, s.offset)
	sb.WriteString(page)

	args := make([]any, 0, len(s.where.args)+len(pageArgs))
	args = append(args, s.where.args...)
	return sb.String(), append(args, pageArgs...), nil
}

func (s *Select) Query(ctx context.Context) (core.IRows, error) {
	q, args, err := s.Build()
	if err != nil {
		return nil, err
	}
	return s.db.Query(ctx, q, args...)
}

// QueryRow 构建失败时返回携带该错误的行
func (s *Select) QueryRow(ctx context.Context) core.IRow {
	q, args, err := s.Build()
	if err != nil {
		return errRow{err}
	}
	return s.db.QueryRow(ctx, q, args...)
}

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }
func (r errRow) Err() error { return r.err }
