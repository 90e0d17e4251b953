// Package sqlstore 基于 data/db 与 SQL 构建器实现 storage.Storage
package sqlstore

import (
	"context"
	"fmt"
	"strings"

	core "folio/data/db"
	"folio/data/db/dialect"
	sqlb "folio/data/db/sql"
	"folio/errors"
	"folio/orm/storage"
)

const (
	ownerAlias = "t0"
	joinAlias  = "t1"
)

// Store 以 IDatabase 为后端的存储实现
type Store struct {
	executor
	db core.IDatabase
}

// New 创建存储，方言从 db 推断
func New(db core.IDatabase) *Store {
	return &Store{executor: newExecutor(db), db: db}
}

// Begin 开启存储事务，事务内的读写共享同一连接
func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "begin")
	}
	return &Tx{executor: newExecutor(tx), tx: tx}, nil
}

// Tx 存储事务
type Tx struct {
	executor
	tx core.ITransaction
}

func (t *Tx) Commit() error   { return t.tx.Commit() }
func (t *Tx) Rollback() error { return t.tx.Rollback() }

type executor struct {
	sql     *sqlb.Builder
	db      core.IDatabase
	dialect dialect.Dialect
}

func newExecutor(db core.IDatabase) executor {
	s := sqlb.New(db)
	return executor{sql: s, db: db, dialect: s.Dialect()}
}

func (e executor) renderer(qualifier string) storage.Renderer {
	return storage.Renderer{Quote: e.dialect.QuoteIdentifier, Qualifier: qualifier, Value: e.dialect.BindValue}
}

func (e executor) ExecuteRead(ctx context.Context, req storage.ReadRequest) ([]storage.Row, error) {
	if err := req.Validate(); err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInvalidInput, "invalid read request")
	}
	q := e.dialect.QuoteIdentifier

	var r storage.Renderer
	var b *sqlb.Select
	if req.Join == nil {
		r = e.renderer("")
		cols := make([]string, len(req.Columns))
		for i, c := range req.Columns {
			cols[i] = q(c)
		}
		b = e.sql.Select(cols...).From(req.Table, "")
	} else {
		r = e.renderer(ownerAlias)
		cols := make([]string, 0, len(req.Columns)+len(req.Join.Columns))
		for _, c := range req.Columns {
			cols = append(cols, r.Column(c))
		}
		for _, c := range req.Join.Columns {
			cols = append(cols, joinAlias+"."+q(c)+" AS "+q(storage.JoinPrefix+c))
		}
		on := joinAlias + "." + q(req.Join.ForeignColumn) + " = " + r.Column(req.Join.LocalColumn)
		b = e.sql.Select(cols...).
			From(req.Table, ownerAlias).
			LeftJoin(req.Join.Table, joinAlias, on)
	}

	where, args, err := r.Predicate(req.Where)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInvalidInput, "render read predicate")
	}
	b = b.Where(where, args...)
	for _, o := range req.OrderBy {
		b = b.OrderBy(r.Column(o.Column), o.Desc)
	}
	b = b.Page(req.Limit, req.Offset)

	rows, err := b.Query(ctx)
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

func (e executor) ExecuteWrite(ctx context.Context, req storage.WriteRequest) (storage.WriteResult, error) {
	var res storage.WriteResult
	r := e.renderer("")
	where, whereArgs, err := r.Predicate(req.Where)
	if err != nil {
		return res, errors.WrapError(err, errors.ErrCodeInvalidInput, "render write predicate")
	}

	var st sqlb.Statement
	switch req.Op {
	case storage.OpInsert:
		if len(req.Values) == 0 {
			return res, errors.Newf(errors.ErrCodeInvalidInput, "insert into %s without values", req.Table)
		}
		st = e.sql.Insert(req.Table).Row(req.Values)
	case storage.OpUpdate:
		if len(req.Values) == 0 {
			return res, errors.Newf(errors.ErrCodeInvalidInput, "update %s without values", req.Table)
		}
		st = e.sql.Update(req.Table).SetRow(req.Values).Where(where, whereArgs...)
	case storage.OpDelete:
		st = e.sql.Delete(req.Table).Where(where, whereArgs...)
	default:
		return res, errors.Newf(errors.ErrCodeInvalidInput, "unknown write op %q", req.Op)
	}

	result, err := e.sql.Exec(ctx, st)
	if err != nil {
		if req.Op == storage.OpInsert && e.dialect.IsUniqueViolation(err) {
			return res, errors.NewErrorWithCause(errors.ErrCodeDuplicateIdentity,
				fmt.Sprintf("duplicate row in %s", req.Table), err)
		}
		return res, errors.WrapDatabaseError(ctx, err, string(req.Op)+" "+req.Table)
	}
	res.RowsAffected, _ = result.RowsAffected()
	if req.Op == storage.OpInsert {
		res.LastInsertID, _ = result.LastInsertId()
	}
	return res, nil
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

	vals := make([]any, len(exprs))
	ptrs := make([]any, len(exprs))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	row := e.sql.Select(exprs...).From(req.Table, "").Where(where, args...).QueryRow(ctx)
	if err := row.Scan(ptrs...); err != nil {
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
	rows, err := e.db.Query(ctx, query, args...)
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
