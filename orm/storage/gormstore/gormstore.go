// Package gormstore 基于 gorm 连接实现 storage.Storage。
//
// gorm 只承担连接、事务与执行；SQL 由 storage.Renderer 生成，标识符按
// gorm Dialector 的规则引用。
package gormstore

import (
	"context"
	stdErrors "errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"folio/data/db/dialect"
	"folio/errors"
	"folio/orm/storage"
)

// Option 存储选项
type Option func(*Store)

// WithDialect 指定分页与参数绑定使用的方言，默认取 Dialector.Name()
func WithDialect(d dialect.Dialect) Option {
	return func(s *Store) { s.dialect = d }
}

// Store gorm 存储
type Store struct {
	executor
}

// New 创建存储
func New(db *gorm.DB, opts ...Option) *Store {
	s := &Store{executor: executor{db: db, dialect: dialect.New(db.Dialector.Name())}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Begin 开启 gorm 事务
func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, errors.WrapDatabaseError(ctx, tx.Error, "begin")
	}
	return &Tx{executor: executor{db: tx, dialect: s.dialect}}, nil
}

// Tx gorm 事务
type Tx struct {
	executor
}

func (t *Tx) Commit() error   { return t.db.Commit().Error }
func (t *Tx) Rollback() error { return t.db.Rollback().Error }

type executor struct {
	db      *gorm.DB
	dialect dialect.Dialect
}

func (e executor) quote(name string) string {
	var sb strings.Builder
	e.db.Dialector.QuoteTo(&sb, name)
	return sb.String()
}

func (e executor) renderer(qualifier string) storage.Renderer {
	return storage.Renderer{Quote: e.quote, Qualifier: qualifier, Value: e.dialect.BindValue}
}

// buildRead 生成读 SQL，与 sqlstore 的列别名约定一致
func (e executor) buildRead(req storage.ReadRequest) (string, []any, error) {
	if err := req.Validate(); err != nil {
		return "", nil, err
	}
	var sb strings.Builder
	var r storage.Renderer
	sb.WriteString("SELECT ")
	if req.Join == nil {
		r = e.renderer("")
		for i, c := range req.Columns {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(e.quote(c))
		}
		sb.WriteString(" FROM " + e.quote(req.Table))
	} else {
		r = e.renderer("t0")
		cols := make([]string, 0, len(req.Columns)+len(req.Join.Columns))
		for _, c := range req.Columns {
			cols = append(cols, r.Column(c))
		}
		for _, c := range req.Join.Columns {
			cols = append(cols, "t1."+e.quote(c)+" AS "+e.quote(storage.JoinPrefix+c))
		}
		sb.WriteString(strings.Join(cols, ", "))
		sb.WriteString(" FROM " + e.quote(req.Table) + " t0 LEFT JOIN " + e.quote(req.Join.Table) + " t1 ON t1." +
			e.quote(req.Join.ForeignColumn) + " = " + r.Column(req.Join.LocalColumn))
	}
	where, args, err := r.Predicate(req.Where)
	if err != nil {
		return "", nil, err
	}
	if where != "" {
		sb.WriteString(" WHERE " + where)
	}
	if len(req.OrderBy) > 0 {
		parts := make([]string, len(req.OrderBy))
		for i, o := range req.OrderBy {
			parts[i] = r.Column(o.Column)
			if o.Desc {
				parts[i] += " DESC"
			}
		}
		sb.WriteString(" ORDER BY " + strings.Join(parts, ", "))
	}
	page, pageArgs := e.dialect.LimitOffset(req.Limit, req.Offset)
	sb.WriteString(page)
	return sb.String(), append(args, pageArgs...), nil
}

func (e executor) ExecuteRead(ctx context.Context, req storage.ReadRequest) ([]storage.Row, error) {
	query, args, err := e.buildRead(req)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInvalidInput, "invalid read request")
	}
	rows, err := e.db.WithContext(ctx).Raw(query, args...).Rows()
	if err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "read "+req.Table)
	}
	defer rows.Close()
	out, err := storage.ScanRows(rows)
	if err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "scan "+req.Table)
	}
	return out, nil
}

// buildWrite 生成写 SQL，列按名称排序
func (e executor) buildWrite(req storage.WriteRequest) (string, []any, error) {
	r := e.renderer("")
	where, whereArgs, err := r.Predicate(req.Where)
	if err != nil {
		return "", nil, err
	}
	var sb strings.Builder
	var args []any
	switch req.Op {
	case storage.OpInsert:
		if len(req.Values) == 0 {
			return "", nil, fmt.Errorf("insert into %s without values", req.Table)
		}
		cols := storage.SortedColumns(req.Values)
		quoted := make([]string, len(cols))
		for i, c := range cols {
			quoted[i] = e.quote(c)
			args = append(args, e.dialect.BindValue(req.Values[c]))
		}
		sb.WriteString("INSERT INTO " + e.quote(req.Table) + " (" + strings.Join(quoted, ", ") + ") VALUES (")
		sb.WriteString(strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")")
		return sb.String(), args, nil
	case storage.OpUpdate:
		if len(req.Values) == 0 {
			return "", nil, fmt.Errorf("update %s without values", req.Table)
		}
		cols := storage.SortedColumns(req.Values)
		sets := make([]string, len(cols))
		for i, c := range cols {
			sets[i] = e.quote(c) + " = ?"
			args = append(args, e.dialect.BindValue(req.Values[c]))
		}
		sb.WriteString("UPDATE " + e.quote(req.Table) + " SET " + strings.Join(sets, ", "))
	case storage.OpDelete:
		sb.WriteString("DELETE FROM " + e.quote(req.Table))
	default:
		return "", nil, fmt.Errorf("unknown write op %q", req.Op)
	}
	if where != "" {
		sb.WriteString(" WHERE " + where)
		args = append(args, whereArgs...)
	}
	return sb.String(), args, nil
}

func (e executor) ExecuteWrite(ctx context.Context, req storage.WriteRequest) (storage.WriteResult, error) {
	query, args, err := e.buildWrite(req)
	if err != nil {
		return storage.WriteResult{}, errors.WrapError(err, errors.ErrCodeInvalidInput, "invalid write request")
	}
	res := e.db.WithContext(ctx).Exec(query, args...)
	if res.Error != nil {
		if req.Op == storage.OpInsert &&
			(stdErrors.Is(res.Error, gorm.ErrDuplicatedKey) || e.dialect.IsUniqueViolation(res.Error)) {
			return storage.WriteResult{}, errors.NewErrorWithCause(errors.ErrCodeDuplicateIdentity,
				fmt.Sprintf("duplicate row in %s", req.Table), res.Error)
		}
		return storage.WriteResult{}, errors.WrapDatabaseError(ctx, res.Error, string(req.Op)+" "+req.Table)
	}
	return storage.WriteResult{RowsAffected: res.RowsAffected}, nil
}

func (e executor) ExecuteAggregate(ctx context.Context, req storage.AggregateRequest) ([]any, error) {
	if len(req.Aggregates) == 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidInput, "aggregate on %s without projections", req.Table)
	}
	r := e.renderer("")
	exprs := make([]string, len(req.Aggregates))
	for i, a := range req.Aggregates {
		s, err := r.Aggregate(a)
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrCodeInvalidInput, "render aggregate")
		}
		exprs[i] = s
	}
	where, args, err := r.Predicate(req.Where)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInvalidInput, "render aggregate predicate")
	}
	query := "SELECT " + strings.Join(exprs, ", ") + " FROM " + e.quote(req.Table)
	if where != "" {
		query += " WHERE " + where
	}

	vals := make([]any, len(exprs))
	ptrs := make([]any, len(exprs))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := e.db.WithContext(ctx).Raw(query, args...).Row().Scan(ptrs...); err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "aggregate "+req.Table)
	}
	for i, v := range vals {
		if b, ok := v.([]byte); ok {
			vals[i] = string(b)
		}
	}
	return vals, nil
}

func (e executor) ExecuteNative(ctx context.Context, sql string, params map[string]any) (storage.NativeResult, error) {
	query, args, err := storage.ExpandNamed(strings.TrimSpace(sql), params)
	if err != nil {
		return storage.NativeResult{}, errors.WrapError(err, errors.ErrCodeQuery, "bind native query")
	}
	for i, a := range args {
		args[i] = e.dialect.BindValue(a)
	}
	rows, err := e.db.WithContext(ctx).Raw(query, args...).Rows()
	if err != nil {
		return storage.NativeResult{}, errors.WrapDatabaseError(ctx, err, "native query")
	}
	defer rows.Close()
	res, err := storage.ScanNative(rows)
	if err != nil {
		return storage.NativeResult{}, errors.WrapDatabaseError(ctx, err, "scan native query")
	}
	return res, nil
}
