package orm

import (
	"context"
	stdErrors "errors"

	"folio/errors"
	"folio/logging"
	"folio/orm/mapping"
	"folio/orm/query"
	"folio/orm/storage"
)

// Query HQL 查询句柄。构造时的错误延迟到执行时返回。
type Query struct {
	session *Session
	plan    *query.Plan
	params  map[string]any
	first   int
	max     int
	err     error
}

// CreateQuery 编译 HQL（命中计划缓存时复用）
func (s *Session) CreateQuery(hql string) *Query {
	q := &Query{session: s, params: make(map[string]any)}
	if q.err = s.checkOpen(); q.err != nil {
		return q
	}
	q.plan, q.err = s.factory.plan(hql)
	return q
}

// NamedQuery 按名称创建已注册的 HQL 查询
func (s *Session) NamedQuery(name string) *Query {
	hql, ok := s.registry.NamedQuery(name)
	if !ok {
		return &Query{session: s, err: queryError("unknown named query %q", name)}
	}
	return s.CreateQuery(hql)
}

// SetParameter 绑定命名参数；实体参数按主键绑定，切片用于 IN
func (q *Query) SetParameter(name string, value any) *Query {
	if q.params == nil {
		q.params = make(map[string]any)
	}
	q.params[name] = query.EntityValue(q.session.registry, value)
	return q
}

// SetFirstResult 跳过前 n 条
func (q *Query) SetFirstResult(n int) *Query {
	q.first = n
	return q
}

// SetMaxResults 最多返回 n 条，n <= 0 表示不限制
func (q *Query) SetMaxResults(n int) *Query {
	q.max = n
	return q
}

// List 执行查询。实体查询返回实例；聚合查询返回一个按投影顺序排列的 []any。
func (q *Query) List(ctx context.Context) ([]any, error) {
	if q.err != nil {
		return nil, q.err
	}
	if err := q.session.checkOpen(); err != nil {
		return nil, err
	}
	if q.plan.Kind != query.KindSelect {
		return nil, q.fail(queryError("%s statements must be run with ExecuteUpdate", q.plan.Kind))
	}
	return q.session.execute(ctx, q.plan, q.params, q.first, q.max)
}

// UniqueResult 至多一个结果；多于一个时返回 NON_UNIQUE_RESULT
func (q *Query) UniqueResult(ctx context.Context) (any, error) {
	out, err := q.List(ctx)
	if err != nil {
		return nil, err
	}
	return unique(out, q.plan.Source)
}

// ExecuteUpdate 直接在存储上执行批量 DELETE/UPDATE，不经过会话；返回影响行数
func (q *Query) ExecuteUpdate(ctx context.Context) (int64, error) {
	if q.err != nil {
		return 0, q.err
	}
	s := q.session
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	p := q.plan
	req := storage.WriteRequest{Table: p.Entity.Table}
	switch p.Kind {
	case query.KindDelete:
		req.Op = storage.OpDelete
	case query.KindUpdate:
		req.Op = storage.OpUpdate
		req.Values = make(map[string]any, len(p.Sets))
		for col, v := range p.Sets {
			bound, err := storage.BindValue(v, q.params)
			if err != nil {
				return 0, q.fail(err)
			}
			req.Values[col] = bound
		}
	default:
		return 0, q.fail(queryError("select statements cannot be run with ExecuteUpdate"))
	}
	where, err := storage.Bind(p.Where, q.params)
	if err != nil {
		return 0, q.fail(err)
	}
	req.Where = where
	res, err := s.store.ExecuteWrite(ctx, req)
	if err != nil {
		return 0, err
	}
	s.logger.Debug(ctx, "bulk statement executed", logging.Entity(p.Entity.Name),
		logging.String("kind", p.Kind.String()), logging.Int64("rows", res.RowsAffected))
	return res.RowsAffected, nil
}

func (q *Query) fail(err error) error {
	var missing *storage.MissingParamError
	if stdErrors.As(err, &missing) {
		err = queryError("parameter %q is not bound", missing.Name)
	}
	if ae, ok := err.(errors.IError); ok && q.plan != nil && q.plan.Source != "" {
		return ae.WithContext("query", q.plan.Source)
	}
	return err
}

// execute 执行查询计划：会话过滤器、参数绑定、聚合或实体读取
func (s *Session) execute(ctx context.Context, p *query.Plan, params map[string]any, first, limit int) ([]any, error) {
	filtered, err := s.applyFilters(p.Entity, p.Where)
	if err != nil {
		return nil, err
	}
	where, err := storage.Bind(filtered, params)
	if err != nil {
		var missing *storage.MissingParamError
		if stdErrors.As(err, &missing) {
			return nil, queryError("parameter %q is not bound", missing.Name).WithContext("query", p.Source)
		}
		return nil, err
	}
	e := p.Entity

	if p.IsAggregate() {
		values, err := s.store.ExecuteAggregate(ctx, storage.AggregateRequest{Table: e.Table, Aggregates: p.Aggregates, Where: where})
		if err != nil {
			return nil, err
		}
		return []any{values}, nil
	}

	if a := joinAssociation(p, first, limit); a != nil {
		return s.listJoined(ctx, e, where, p.Order, p.Fetch, a, first, limit)
	}
	rows, err := s.store.ExecuteRead(ctx, s.readRequest(e, where, stableOrder(e, p.Order), first, limit))
	if err != nil {
		return nil, err
	}
	return s.load(ctx, e, rows, p.Fetch)
}

// joinAssociation 本次查询用 JOIN 抓取的关联：显式 JOIN FETCH 优先，
// 其次是映射默认 join 的关联（分页查询不使用映射默认值）
func joinAssociation(p *query.Plan, first, limit int) *mapping.Association {
	for name, mode := range p.Fetch {
		if mode == mapping.FetchJoin {
			a, _ := p.Entity.Association(name)
			return a
		}
	}
	if first > 0 || limit > 0 {
		return nil
	}
	for _, a := range p.Entity.Associations() {
		if mode, overridden := p.Fetch[a.Name]; overridden && mode != mapping.FetchJoin {
			continue
		}
		if a.Fetch == mapping.FetchJoin {
			return a
		}
	}
	return nil
}

func unique(out []any, source string) (any, error) {
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		return out[0], nil
	default:
		err := errors.Newf(errors.ErrCodeNonUniqueResult, "query returned %d results", len(out))
		if source != "" {
			return nil, err.WithContext("query", source)
		}
		return nil, err
	}
}

// List 执行查询并把结果转换为 *T
func List[T any](ctx context.Context, q interface {
	List(context.Context) ([]any, error)
}) ([]*T, error) {
	out, err := q.List(ctx)
	if err != nil {
		return nil, err
	}
	typed := make([]*T, 0, len(out))
	for _, v := range out {
		t, ok := v.(*T)
		if !ok {
			return nil, queryError("result %T is not a %T", v, (*T)(nil))
		}
		typed = append(typed, t)
	}
	return typed, nil
}

// Unique 执行查询并返回唯一的 *T，无结果时为 nil
func Unique[T any](ctx context.Context, q interface {
	UniqueResult(context.Context) (any, error)
}) (*T, error) {
	v, err := q.UniqueResult(ctx)
	if err != nil || v == nil {
		return nil, err
	}
	t, ok := v.(*T)
	if !ok {
		return nil, queryError("result %T is not a %T", v, (*T)(nil))
	}
	return t, nil
}

// NativeQuery 原生 SQL 查询，参数使用 :name
type NativeQuery struct {
	session *Session
	sql     string
	params  map[string]any
	err     error
}

// CreateNativeQuery 创建原生 SQL 查询
func (s *Session) CreateNativeQuery(sql string) *NativeQuery {
	return &NativeQuery{session: s, sql: sql, params: make(map[string]any)}
}

// NamedNativeQuery 按名称创建已注册的原生查询
func (s *Session) NamedNativeQuery(name string) *NativeQuery {
	sql, ok := s.registry.NativeQuery(name)
	if !ok {
		return &NativeQuery{session: s, err: queryError("unknown native query %q", name)}
	}
	return s.CreateNativeQuery(sql)
}

// SetParameter 绑定命名参数，实体参数按主键绑定
func (n *NativeQuery) SetParameter(name string, value any) *NativeQuery {
	if n.params == nil {
		n.params = make(map[string]any)
	}
	n.params[name] = query.EntityValue(n.session.registry, value)
	return n
}

// List 单列结果返回标量列表，多列结果每行为 []any
func (n *NativeQuery) List(ctx context.Context) ([]any, error) {
	if n.err != nil {
		return nil, n.err
	}
	if err := n.session.checkOpen(); err != nil {
		return nil, err
	}
	res, err := n.session.store.ExecuteNative(ctx, n.sql, n.params)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(res.Rows))
	for i, row := range res.Rows {
		if len(res.Columns) == 1 {
			out[i] = row[0]
		} else {
			out[i] = row
		}
	}
	return out, nil
}

// UniqueResult 至多一行
func (n *NativeQuery) UniqueResult(ctx context.Context) (any, error) {
	out, err := n.List(ctx)
	if err != nil {
		return nil, err
	}
	return unique(out, n.sql)
}

// Criteria 以条件对象构造的查询
type Criteria struct {
	session *Session
	spec    query.Spec
	first   int
	max     int
	err     error
}

// CreateCriteria 针对实体创建条件查询
func (s *Session) CreateCriteria(entityName string) *Criteria {
	c := &Criteria{session: s, spec: query.Spec{Kind: query.KindSelect, Entity: entityName}}
	if _, ok := s.registry.Entity(entityName); !ok {
		c.err = configurationError("unknown entity %q", entityName)
	}
	return c
}

// Add 追加限制条件（与已有条件合取）
func (c *Criteria) Add(expr query.Expr) *Criteria {
	if expr == nil {
		return c
	}
	c.spec.Where = query.And(c.spec.Where, expr)
	return c
}

// AddOrder 追加排序
func (c *Criteria) AddOrder(o query.OrderItem) *Criteria {
	c.spec.Order = append(c.spec.Order, o)
	return c
}

// SetFetchMode 覆盖关联的抓取策略
func (c *Criteria) SetFetchMode(association string, mode mapping.FetchMode) *Criteria {
	c.spec.Fetch = append(c.spec.Fetch, query.FetchItem{Association: association, Mode: mode})
	return c
}

// SetProjection 聚合投影，结果为一个 []any
func (c *Criteria) SetProjection(items ...query.SelectItem) *Criteria {
	c.spec.Select = append(c.spec.Select, items...)
	return c
}

// SetFirstResult 跳过前 n 条
func (c *Criteria) SetFirstResult(n int) *Criteria {
	c.first = n
	return c
}

// SetMaxResults 最多返回 n 条
func (c *Criteria) SetMaxResults(n int) *Criteria {
	c.max = n
	return c
}

// List 执行查询
func (c *Criteria) List(ctx context.Context) ([]any, error) {
	if c.err != nil {
		return nil, c.err
	}
	if err := c.session.checkOpen(); err != nil {
		return nil, err
	}
	spec := c.spec
	p, err := query.Compile(&spec, c.session.registry)
	if err != nil {
		return nil, err
	}
	return c.session.execute(ctx, p, nil, c.first, c.max)
}

// UniqueResult 至多一个结果
func (c *Criteria) UniqueResult(ctx context.Context) (any, error) {
	out, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	return unique(out, "")
}
