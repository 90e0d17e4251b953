package sql

import (
	"context"
	"database/sql"
)

// Delete DELETE 语句，没有条件时删除整表
type Delete struct {
	base
	table string
	where clause
}

func (s *Delete) Where(cond string, args ...any) *Delete {
	s.where.add(cond, s.bindAll(args))
	return s
}

func (s *Delete) Build() (string, []any, error) {
	if s.err != nil {
		return "", nil, s.err
	}
	return "DELETE FROM " + s.table + s.where.String(), append([]any(nil), s.where.args...), nil
}

func (s *Delete) Exec(ctx context.Context) (sql.Result, error) {
	return s.exec(ctx, s)
}
