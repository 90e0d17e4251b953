package sql

import (
	"context"
	"database/sql"
	"sort"
	"strings"

	"folio/errors"
)

// Insert 单行 INSERT 语句
type Insert struct {
	base
	table   string
	columns []string
	values  []any
}

// Set 追加一列
func (s *Insert) Set(column string, v any) *Insert {
	s.columns = append(s.columns, s.ident("column", column))
	s.values = append(s.values, s.bind(v))
	return s
}

// Row 按列名排序写入整行，生成的 SQL 与 map 遍历顺序无关
func (s *Insert) Row(row map[string]any) *Insert {
	for _, c := range sortedKeys(row) {
		s.Set(c, row[c])
	}
	return s
}

func (s *Insert) Build() (string, []any, error) {
	if s.err != nil {
		return "", nil, s.err
	}
	if len(s.columns) == 0 {
		return "", nil, errInvalid("insert without columns")
	}
	q := "INSERT INTO " + s.table + " (" + strings.Join(s.columns, ", ") + ") VALUES (" +
		strings.TrimSuffix(strings.Repeat("?, ", len(s.columns)), ", ") + ")"
	return q, append([]any(nil), s.values...), nil
}

func (s *Insert) Exec(ctx context.Context) (sql.Result, error) {
	return s.exec(ctx, s)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func errInvalid(msg string) error {
	return errors.New(errors.ErrCodeInvalidInput, "sql: "+msg)
}
