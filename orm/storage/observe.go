package storage

import (
	"context"
	"time"

	"folio/logging"
)

// Operation 一次存储调用的观测记录
type Operation struct {
	Kind     string // read, write, aggregate, native, begin, commit, rollback
	Table    string
	Join     string
	Rows     int
	Duration time.Duration
	Err      error
}

// ObserveFunc 观测回调
type ObserveFunc func(ctx context.Context, op Operation)

// Observe 包装 Storage，在每次调用后回调 fn；事务内的调用同样被观测
func Observe(inner Storage, fn ObserveFunc) Storage {
	return &observed{inner: inner, fn: fn}
}

// LogOperations 返回以 debug 级别记录存储调用的观测回调
func LogOperations(logger logging.Logger) ObserveFunc {
	return func(ctx context.Context, op Operation) {
		fields := []logging.Field{
			logging.String("op", op.Kind),
			logging.Duration("elapsed", op.Duration),
		}
		if op.Table != "" {
			fields = append(fields, logging.String("table", op.Table))
		}
		if op.Join != "" {
			fields = append(fields, logging.String("join", op.Join))
		}
		if op.Kind == "read" || op.Kind == "native" {
			fields = append(fields, logging.Int("rows", op.Rows))
		}
		if op.Err != nil {
			fields = append(fields, logging.Error(op.Err))
			logger.Warn(ctx, "storage call failed", fields...)
			return
		}
		logger.Debug(ctx, "storage call", fields...)
	}
}

type observedExecutor struct {
	inner Executor
	fn    ObserveFunc
}

func (o observedExecutor) ExecuteRead(ctx context.Context, req ReadRequest) ([]Row, error) {
	start := time.Now()
	rows, err := o.inner.ExecuteRead(ctx, req)
	op := Operation{Kind: "read", Table: req.Table, Rows: len(rows), Duration: time.Since(start), Err: err}
	if req.Join != nil {
		op.Join = req.Join.Table
	}
	o.fn(ctx, op)
	return rows, err
}

func (o observedExecutor) ExecuteWrite(ctx context.Context, req WriteRequest) (WriteResult, error) {
	start := time.Now()
	res, err := o.inner.ExecuteWrite(ctx, req)
	o.fn(ctx, Operation{Kind: "write", Table: req.Table, Rows: int(res.RowsAffected), Duration: time.Since(start), Err: err})
	return res, err
}

func (o observedExecutor) ExecuteAggregate(ctx context.Context, req AggregateRequest) ([]any, error) {
	start := time.Now()
	res, err := o.inner.ExecuteAggregate(ctx, req)
	o.fn(ctx, Operation{Kind: "aggregate", Table: req.Table, Duration: time.Since(start), Err: err})
	return res, err
}

func (o observedExecutor) ExecuteNative(ctx context.Context, sql string, params map[string]any) (NativeResult, error) {
	start := time.Now()
	res, err := o.inner.ExecuteNative(ctx, sql, params)
	o.fn(ctx, Operation{Kind: "native", Rows: len(res.Rows), Duration: time.Since(start), Err: err})
	return res, err
}

type observed struct {
	inner Storage
	fn    ObserveFunc
}

func (o *observed) exec() observedExecutor { return observedExecutor{inner: o.inner, fn: o.fn} }

func (o *observed) ExecuteRead(ctx context.Context, req ReadRequest) ([]Row, error) {
	return o.exec().ExecuteRead(ctx, req)
}

func (o *observed) ExecuteWrite(ctx context.Context, req WriteRequest) (WriteResult, error) {
	return o.exec().ExecuteWrite(ctx, req)
}

func (o *observed) ExecuteAggregate(ctx context.Context, req AggregateRequest) ([]any, error) {
	return o.exec().ExecuteAggregate(ctx, req)
}

func (o *observed) ExecuteNative(ctx context.Context, sql string, params map[string]any) (NativeResult, error) {
	return o.exec().ExecuteNative(ctx, sql, params)
}

func (o *observed) Begin(ctx context.Context) (Tx, error) {
	start := time.Now()
	tx, err := o.inner.Begin(ctx)
	o.fn(ctx, Operation{Kind: "begin", Duration: time.Since(start), Err: err})
	if err != nil {
		return nil, err
	}
	return &observedTx{observedExecutor: observedExecutor{inner: tx, fn: o.fn}, tx: tx, ctx: ctx}, nil
}

type observedTx struct {
	observedExecutor
	tx  Tx
	ctx context.Context
}

func (t *observedTx) Commit() error {
	start := time.Now()
	err := t.tx.Commit()
	t.fn(t.ctx, Operation{Kind: "commit", Duration: time.Since(start), Err: err})
	return err
}

func (t *observedTx) Rollback() error {
	start := time.Now()
	err := t.tx.Rollback()
	t.fn(t.ctx, Operation{Kind: "rollback", Duration: time.Since(start), Err: err})
	return err
}
