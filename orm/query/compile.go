package query

import (
	"reflect"
	"strings"

	"folio/errors"
	"folio/orm/mapping"
	"folio/orm/storage"
)

// Plan 编译后的执行计划。Where 与 Sets 中可能包含 Param，执行前绑定。
type Plan struct {
	Kind       Kind
	Entity     *mapping.Entity
	Where      storage.Predicate
	Order      []storage.Order
	Aggregates []storage.Aggregate
	// Fetch 按关联名覆盖映射的抓取策略
	Fetch map[string]mapping.FetchMode
	// Sets UPDATE 的列赋值
	Sets map[string]any
	// Params 引用的参数名
	Params []string
	Source string
}

// IsAggregate 是否为聚合查询
func (p *Plan) IsAggregate() bool { return len(p.Aggregates) > 0 }

// Compile 针对注册表解析路径，生成执行计划
func Compile(spec *Spec, reg *mapping.Registry) (*Plan, error) {
	e, ok := reg.Entity(spec.Entity)
	if !ok {
		return nil, compileError(spec, "unknown entity %q", spec.Entity)
	}
	c := &compiler{reg: reg, spec: spec}
	plan := &Plan{Kind: spec.Kind, Entity: e, Source: spec.Source}

	where, err := c.condition(e, spec.Where)
	if err != nil {
		return nil, err
	}
	plan.Where = storage.Conjoin(where, Restriction(e))

	for _, o := range spec.Order {
		col, err := c.column(e, o.Path)
		if err != nil {
			return nil, err
		}
		plan.Order = append(plan.Order, storage.Order{Column: col, Desc: o.Desc})
	}

	for _, it := range spec.Select {
		agg := storage.Aggregate{Func: it.Func}
		if it.Path != "" {
			col, err := c.column(e, it.Path)
			if err != nil {
				return nil, err
			}
			agg.Column = col
		}
		plan.Aggregates = append(plan.Aggregates, agg)
	}

	for _, f := range spec.Fetch {
		a, ok := e.Association(f.Association)
		if !ok {
			return nil, compileError(spec, "%s has no association %q", e.Name, f.Association)
		}
		if plan.Fetch == nil {
			plan.Fetch = make(map[string]mapping.FetchMode)
		}
		plan.Fetch[a.Name] = f.Mode
	}
	joins := 0
	for _, m := range plan.Fetch {
		if m == mapping.FetchJoin {
			joins++
		}
	}
	if joins > 1 {
		return nil, compileError(spec, "only one association can be join-fetched per query")
	}
	if joins > 0 && plan.IsAggregate() {
		return nil, compileError(spec, "join fetch cannot be combined with aggregate projections")
	}

	if len(spec.Sets) > 0 {
		plan.Sets = make(map[string]any, len(spec.Sets))
		for _, s := range spec.Sets {
			col, err := c.column(e, s.Path)
			if err != nil {
				return nil, err
			}
			if ec, ok := e.ColumnByName(col); ok && (ec.Key || ec.Discriminator) {
				return nil, compileError(spec, "cannot assign %s in a bulk update", s.Path)
			}
			plan.Sets[col] = EntityValue(reg, s.Value)
		}
	}

	plan.Params = storage.Params(plan.Where)
	seen := make(map[string]bool, len(plan.Params))
	for _, n := range plan.Params {
		seen[n] = true
	}
	for _, s := range spec.Sets {
		if p, ok := s.Value.(Param); ok && !seen[p.Name] {
			seen[p.Name] = true
			plan.Params = append(plan.Params, p.Name)
		}
	}
	return plan, nil
}

// CompileCondition 编译作用于实体的独立条件（过滤器）
func CompileCondition(e *mapping.Entity, reg *mapping.Registry, cond Expr) (storage.Predicate, error) {
	c := &compiler{reg: reg, spec: &Spec{Entity: e.Name}}
	return c.condition(e, cond)
}

// Restriction 子类型查询的鉴别列条件；根实体返回 nil
func Restriction(e *mapping.Entity) storage.Predicate {
	if e.Parent == nil || e.Discriminator == nil {
		return nil
	}
	return storage.In{Column: e.Discriminator.Name, Values: e.DiscriminatorValues()}
}

// EntityValue 实体值参数按其主键绑定，其它值原样返回
func EntityValue(reg *mapping.Registry, v any) any {
	if v == nil {
		return nil
	}
	t := reflect.TypeOf(v)
	if t.Kind() != reflect.Ptr || t.Elem().Kind() != reflect.Struct {
		return v
	}
	if e, ok := reg.EntityForType(t); ok {
		if reflect.ValueOf(v).IsNil() {
			return nil
		}
		return e.KeyOf(v)
	}
	return v
}

func compileError(spec *Spec, format string, args ...any) error {
	err := errors.Newf(errors.ErrCodeQuery, format, args...)
	if spec.Source != "" {
		return err.WithContext("query", spec.Source)
	}
	return err
}

type compiler struct {
	reg  *mapping.Registry
	spec *Spec
}

// property 在实体及其子类型的列中按属性名查找
func property(e *mapping.Entity, name string) (*mapping.Column, bool) {
	if c, ok := e.Property(name); ok {
		return c, true
	}
	for _, c := range e.HierarchyColumns() {
		if c.Property == name {
			return c, true
		}
	}
	return nil, false
}

// column 将路径解析为实体表上的列：属性、主键或 many-to-one 外键
func (c *compiler) column(e *mapping.Entity, path string) (string, error) {
	if col, ok := property(e, path); ok {
		return col.Name, nil
	}
	head, rest, _ := strings.Cut(path, ".")
	if a, ok := e.Association(head); ok && a.Kind == mapping.ManyToOne &&
		(rest == "" || rest == "id" || rest == a.Target.Key.Property) {
		return a.Column, nil
	}
	return "", compileError(c.spec, "cannot resolve %q to a column of %s", path, e.Name)
}

func (c *compiler) condition(e *mapping.Entity, x Expr) (storage.Predicate, error) {
	switch v := x.(type) {
	case nil:
		return nil, nil
	case Conjunction:
		out := make(storage.And, 0, len(v))
		for _, sub := range v {
			p, err := c.condition(e, sub)
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		}
		return out, nil
	case Disjunction:
		out := make(storage.Or, 0, len(v))
		for _, sub := range v {
			p, err := c.condition(e, sub)
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		}
		return out, nil
	case Negation:
		p, err := c.condition(e, v.X)
		if err != nil {
			return nil, err
		}
		return storage.Not{P: p}, nil
	case Comparison:
		val := EntityValue(c.reg, v.Value)
		return c.resolve(e, v.Path, func(col string) storage.Predicate {
			return storage.Compare{Column: col, Op: v.Op, Value: val}
		})
	case Range:
		lo, hi := EntityValue(c.reg, v.Low), EntityValue(c.reg, v.High)
		return c.resolve(e, v.Path, func(col string) storage.Predicate {
			return storage.Between{Column: col, Low: lo, High: hi, Not: v.Not}
		})
	case Membership:
		values := make([]any, len(v.Values))
		for i, x := range v.Values {
			values[i] = EntityValue(c.reg, x)
		}
		return c.resolve(e, v.Path, func(col string) storage.Predicate {
			return storage.In{Column: col, Values: values, Not: v.Not}
		})
	case Pattern:
		return c.resolve(e, v.Path, func(col string) storage.Predicate {
			return storage.Like{Column: col, Pattern: v.Pattern, Not: v.Not}
		})
	case NullCheck:
		return c.resolve(e, v.Path, func(col string) storage.Predicate {
			return storage.IsNull{Column: col, Not: v.Not}
		})
	default:
		return nil, compileError(c.spec, "unsupported expression %T", x)
	}
}

// resolve 解析条件路径：本表列直接比较，跨关联路径改写为子查询
func (c *compiler) resolve(e *mapping.Entity, path string, build func(col string) storage.Predicate) (storage.Predicate, error) {
	if col, err := c.column(e, path); err == nil {
		return build(col), nil
	}
	head, rest, _ := strings.Cut(path, ".")

	if el, ok := e.Element(head); ok {
		if rest != "" {
			return nil, compileError(c.spec, "element collection %q has no property %q", head, rest)
		}
		return storage.InSubquery{
			Column: e.Key.Name,
			Table:  el.Table,
			Select: el.KeyColumn,
			Where:  build(el.ValueColumn),
		}, nil
	}

	a, ok := e.Association(head)
	if !ok || rest == "" {
		return nil, compileError(c.spec, "cannot resolve %q on %s", path, e.Name)
	}
	inner, err := c.resolve(a.Target, rest, build)
	if err != nil {
		return nil, err
	}
	inner = storage.Conjoin(inner, Restriction(a.Target))
	switch a.Kind {
	case mapping.ManyToOne:
		return storage.InSubquery{Column: a.Column, Table: a.Target.Table, Select: a.Target.Key.Name, Where: inner}, nil
	default:
		return storage.InSubquery{Column: e.Key.Name, Table: a.Target.Table, Select: a.Inverse.Column, Where: inner}, nil
	}
}
