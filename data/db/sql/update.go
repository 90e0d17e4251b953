package sql

import (
	"context"
	"database/sql"
	"strings"
)

// Update UPDATE 语句
type Update struct {
	base
	table string
	sets  []string
	args  []any
	where clause
}

// Set 设置一列
func (s *Update) Set(column string, v any) *Update {
	s.sets = append(s.sets, s.ident("column", column)+" = ?")
	s.args = append(s.args, s.bind(v))
	return s
}

// SetRow 按列名排序设置多列
func (s *Update) SetRow(row map[string]any) *Update {
	for _, c := range sortedKeys(row) {
		s.Set(c, row[c])
	}
	return s
}

func (s *Update) Where(cond string, args ...any) *Update {
	s.where.add(cond, s.bindAll(args))
	return s
}

func (s *Update) Build() (string, []any, error) {
	if s.err != nil {
		return "", nil, s.err
	}
	if len(s.sets) == 0 {
		return "", nil, errInvalid("update without SET")
	}
	q := "UPDATE " + s.table + " SET " + strings.Join(s.sets, ", ") + s.where.String()
	args := make([]any, 0, len(s.args)+len(s.where.args))
	args = append(args, s.args...)
	return q, append(args, s.where.args...), nil
}

func (s *Update) Exec(ctx context.Context) (sql.Result, error) {
	return s.exec(ctx, s)
}
