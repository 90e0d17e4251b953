package mapping

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"folio/errors"
)

// Registry 实体映射注册表。进程启动时注册、Freeze 之后只读，可被多个 SessionFactory 共享。
type Registry struct {
	mu       sync.RWMutex
	frozen   bool
	entities map[string]*Entity
	order    []*Entity
	byType   map[reflect.Type]*Entity
	named    map[string]string
	native   map[string]string
	filters  map[string]FilterDef
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{
		entities: make(map[string]*Entity),
		byType:   make(map[reflect.Type]*Entity),
		named:    make(map[string]string),
		native:   make(map[string]string),
		filters:  make(map[string]FilterDef),
	}
}

func configError(format string, args ...any) error {
	return errors.NewError(errors.ErrCodeConfiguration, fmt.Sprintf(format, args...))
}

// Register 注册实体。prototype 为该实体 Go 类型的指针（如 (*Book)(nil) 或 &Book{}）。
// 关联目标在 Freeze 时解析，允许实体之间相互引用。
func (r *Registry) Register(def EntityDef, prototype any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return configError("registry is frozen, cannot register %q", def.Name)
	}
	if def.Name == "" {
		return configError("entity name is required")
	}
	if _, dup := r.entities[def.Name]; dup {
		return configError("entity %q is registered twice", def.Name)
	}

	t := reflect.TypeOf(prototype)
	if t == nil || t.Kind() != reflect.Ptr || t.Elem().Kind() != reflect.Struct {
		return configError("entity %q: prototype must be a pointer to struct, got %T", def.Name, prototype)
	}
	t = t.Elem()

	e := &Entity{
		Name:         def.Name,
		Table:        def.Table,
		Type:         t,
		KeyGenerator: def.KeyGenerator,
		props:        make(map[string]*Column),
		assocs:       make(map[string]*Association),
		elems:        make(map[string]*ElementCollection),
	}

	if def.Extends != "" {
		if err := r.inherit(e, def); err != nil {
			return err
		}
	} else {
		if existing, ok := r.byType[t]; ok {
			return configError("entity %q: type %s is already mapped by %q", def.Name, t, existing.Name)
		}
		if err := r.compileRoot(e, def); err != nil {
			return err
		}
	}

	for _, cd := range def.Columns {
		if _, err := e.addColumn(cd, false, false, false); err != nil {
			return configError("entity %q: %v", def.Name, err)
		}
	}
	for _, ad := range def.Associations {
		if err := e.addAssociation(ad); err != nil {
			return configError("entity %q: %v", def.Name, err)
		}
	}
	for _, ed := range def.Elements {
		if err := e.addElement(ed); err != nil {
			return configError("entity %q: %v", def.Name, err)
		}
	}

	if e.Parent != nil {
		e.Parent.Subtypes = append(e.Parent.Subtypes, e)
	} else {
		r.byType[t] = e
	}
	r.entities[e.Name] = e
	r.order = append(r.order, e)
	return nil
}

func (r *Registry) compileRoot(e *Entity, def EntityDef) error {
	if e.Table == "" {
		e.Table = SnakeCase(e.Name)
	}
	if def.KeyField == "" {
		return configError("entity %q: key field is required", def.Name)
	}
	if e.KeyGenerator == "" {
		e.KeyGenerator = GeneratorSnowflake
	}
	key, err := e.addColumn(ColumnDef{Field: def.KeyField, Column: def.KeyColumn, Property: "id"}, true, false, false)
	if err != nil {
		return configError("entity %q: %v", def.Name, err)
	}
	e.Key = key
	if def.VersionField != "" {
		ver, err := e.addColumn(ColumnDef{Field: def.VersionField, Column: def.VersionColumn}, false, true, false)
		if err != nil {
			return configError("entity %q: %v", def.Name, err)
		}
		switch ver.typ.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		default:
			return configError("entity %q: version field %s must be an integer", def.Name, def.VersionField)
		}
		e.Version = ver
	}
	if d := def.Discriminator; d != nil {
		if d.Field == "" {
			return configError("entity %q: discriminator field is required on the root entity", def.Name)
		}
		disc, err := e.addColumn(ColumnDef{Field: d.Field, Column: d.Column}, false, false, true)
		if err != nil {
			return configError("entity %q: %v", def.Name, err)
		}
		if disc.typ.Kind() != reflect.String {
			return configError("entity %q: discriminator field %s must be a string", def.Name, d.Field)
		}
		e.Discriminator = disc
		e.DiscriminatorValue = d.Value
		if e.DiscriminatorValue == "" {
			e.DiscriminatorValue = e.Name
		}
	}
	return nil
}

func (r *Registry) inherit(e *Entity, def EntityDef) error {
	parent, ok := r.entities[def.Extends]
	if !ok {
		return configError("entity %q extends unregistered entity %q", def.Name, def.Extends)
	}
	if parent.Type != e.Type {
		return configError("entity %q: subtype must share Go type %s with %q", def.Name, parent.Type, parent.Name)
	}
	if parent.Root().Discriminator == nil {
		return configError("entity %q: parent %q has no discriminator", def.Name, parent.Name)
	}
	if def.Table != "" && def.Table != parent.Table {
		return configError("entity %q: subtype table must equal %q", def.Name, parent.Table)
	}
	if def.KeyField != "" || def.VersionField != "" {
		return configError("entity %q: subtype cannot redeclare key or version", def.Name)
	}
	e.Parent = parent
	e.Table = parent.Table
	e.KeyGenerator = parent.KeyGenerator
	e.Key = parent.Key
	e.Version = parent.Version
	e.Discriminator = parent.Root().Discriminator
	e.DiscriminatorValue = def.Name
	if def.Discriminator != nil && def.Discriminator.Value != "" {
		e.DiscriminatorValue = def.Discriminator.Value
	}
	for _, c := range parent.columns {
		e.columns = append(e.columns, c)
		e.props[c.Property] = c
	}
	for _, a := range parent.associations {
		e.associations = append(e.associations, a)
		e.assocs[a.Name] = a
	}
	for _, el := range parent.elements {
		e.elements = append(e.elements, el)
		e.elems[el.Property] = el
	}
	return nil
}

func (e *Entity) addColumn(cd ColumnDef, key, version, disc bool) (*Column, error) {
	if cd.Field == "" {
		return nil, fmt.Errorf("column field is required")
	}
	index, typ, err := resolveField(e.Type, cd.Field)
	if err != nil {
		return nil, err
	}
	if !isScalarType(typ) {
		return nil, fmt.Errorf("field %s has non-scalar type %s", cd.Field, typ)
	}
	c := &Column{
		Property:      cd.Property,
		Name:          cd.Column,
		Field:         cd.Field,
		Key:           key,
		Version:       version,
		Discriminator: disc,
		index:         index,
		typ:           typ,
	}
	if c.Property == "" {
		c.Property = propertyForField(cd.Field)
	}
	if c.Name == "" {
		c.Name = columnForField(cd.Field)
	}
	if _, dup := e.props[c.Property]; dup {
		return nil, fmt.Errorf("property %q is mapped twice", c.Property)
	}
	for _, other := range e.columns {
		if other.Name == c.Name {
			return nil, fmt.Errorf("column %q is mapped twice", c.Name)
		}
	}
	e.columns = append(e.columns, c)
	e.props[c.Property] = c
	return c, nil
}

func (e *Entity) addAssociation(ad AssociationDef) error {
	if ad.Field == "" {
		return fmt.Errorf("association field is required")
	}
	index, typ, err := resolveField(e.Type, ad.Field)
	if err != nil {
		return err
	}
	a := &Association{
		Name:       ad.Name,
		Field:      ad.Field,
		Kind:       ad.Kind,
		Column:     ad.Column,
		MappedBy:   ad.MappedBy,
		Fetch:      ad.Fetch,
		Owner:      e,
		targetName: ad.Target,
		index:      index,
		typ:        typ,
	}
	if a.Name == "" {
		a.Name = propertyForField(ad.Field)
	}
	if a.Fetch == "" {
		a.Fetch = FetchLazy
	}
	switch a.Fetch {
	case FetchLazy, FetchJoin, FetchSelect:
	default:
		return fmt.Errorf("association %q: unknown fetch mode %q", a.Name, a.Fetch)
	}
	for _, c := range ad.Cascade {
		switch c {
		case CascadeSaveUpdate:
			a.CascadeSave = true
		case CascadeDelete:
			a.CascadeDelete = true
		case CascadeAll:
			a.CascadeSave, a.CascadeDelete = true, true
		default:
			return fmt.Errorf("association %q: unknown cascade %q", a.Name, c)
		}
	}
	switch a.Kind {
	case ManyToOne:
		if a.Column == "" {
			a.Column = SnakeCase(a.Name) + "_id"
		}
	case OneToMany:
		if a.MappedBy == "" {
			return fmt.Errorf("one-to-many %q requires mapped_by", a.Name)
		}
	default:
		return fmt.Errorf("association %q: unknown kind %q", a.Name, a.Kind)
	}
	if ad.Target == "" {
		return fmt.Errorf("association %q: target is required", a.Name)
	}
	if _, dup := e.assocs[a.Name]; dup {
		return fmt.Errorf("association %q is mapped twice", a.Name)
	}
	if _, dup := e.props[a.Name]; dup {
		return fmt.Errorf("association %q collides with a column property", a.Name)
	}
	e.associations = append(e.associations, a)
	e.assocs[a.Name] = a
	return nil
}

func (e *Entity) addElement(ed ElementCollectionDef) error {
	if ed.Field == "" || ed.Table == "" || ed.KeyColumn == "" || ed.ValueColumn == "" {
		return fmt.Errorf("element collection %q requires field, table, key_column and value_column", ed.Field)
	}
	index, typ, err := resolveField(e.Type, ed.Field)
	if err != nil {
		return err
	}
	if typ.Kind() != reflect.Slice || !isScalarType(typ.Elem()) {
		return fmt.Errorf("element collection %s must be a slice of scalars, got %s", ed.Field, typ)
	}
	el := &ElementCollection{
		Property:    ed.Property,
		Field:       ed.Field,
		Table:       ed.Table,
		KeyColumn:   ed.KeyColumn,
		ValueColumn: ed.ValueColumn,
		Owner:       e,
		index:       index,
		elemType:    typ.Elem(),
	}
	if el.Property == "" {
		el.Property = propertyForField(ed.Field)
	}
	if _, dup := e.elems[el.Property]; dup {
		return fmt.Errorf("element collection %q is mapped twice", el.Property)
	}
	e.elements = append(e.elements, el)
	e.elems[el.Property] = el
	return nil
}

// RegisterNamedQuery 注册命名 HQL 查询
func (r *Registry) RegisterNamedQuery(name, hql string) error {
	return r.putQuery(r.named, "named query", name, hql)
}

// RegisterNativeQuery 注册命名原生 SQL 查询
func (r *Registry) RegisterNativeQuery(name, sql string) error {
	return r.putQuery(r.native, "native query", name, sql)
}

func (r *Registry) putQuery(target map[string]string, kind, name, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return configError("registry is frozen, cannot register %s %q", kind, name)
	}
	if name == "" || text == "" {
		return configError("%s requires a name and a body", kind)
	}
	if _, dup := target[name]; dup {
		return configError("%s %q is registered twice", kind, name)
	}
	target[name] = text
	return nil
}

// RegisterFilter 注册会话过滤器
func (r *Registry) RegisterFilter(def FilterDef) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return configError("registry is frozen, cannot register filter %q", def.Name)
	}
	if def.Name == "" || def.Condition == "" {
		return configError("filter requires a name and a condition")
	}
	if _, dup := r.filters[def.Name]; dup {
		return configError("filter %q is registered twice", def.Name)
	}
	r.filters[def.Name] = def
	return nil
}

// Freeze 解析关联目标与反向端、计算 flush 层级，之后注册表只读。
// 重复调用是安全的。
func (r *Registry) Freeze() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return nil
	}

	for _, e := range r.order {
		for _, a := range e.associations {
			if a.Target != nil {
				continue
			}
			target, ok := r.entities[a.targetName]
			if !ok {
				return configError("entity %q: association %q references unregistered entity %q", e.Name, a.Name, a.targetName)
			}
			a.Target = target
		}
	}
	for _, e := range r.order {
		for _, a := range e.associations {
			if a.Kind != OneToMany || a.Inverse != nil {
				continue
			}
			inv, ok := a.Target.Association(a.MappedBy)
			if !ok || inv.Kind != ManyToOne {
				return configError("entity %q: one-to-many %q maps by unknown many-to-one %q on %q",
					e.Name, a.Name, a.MappedBy, a.Target.Name)
			}
			if !e.IsA(inv.Target) && !inv.Target.IsA(e) {
				return configError("entity %q: one-to-many %q: %q.%q does not reference %q",
					e.Name, a.Name, a.Target.Name, a.MappedBy, e.Name)
			}
			a.Inverse = inv
		}
	}
	for name, f := range r.filters {
		if _, ok := r.entities[f.Entity]; !ok {
			return configError("filter %q targets unregistered entity %q", name, f.Entity)
		}
	}

	if err := r.computeRanks(); err != nil {
		return err
	}
	r.frozen = true
	return nil
}

// computeRanks 按 many-to-one 依赖计算层级（忽略自引用），存在环时报错
func (r *Registry) computeRanks() error {
	const visiting = -1
	state := make(map[*Entity]int)
	var visit func(e *Entity) (int, error)
	visit = func(e *Entity) (int, error) {
		e = e.Root()
		switch s, seen := state[e]; {
		case seen && s == visiting:
			return 0, configError("many-to-one cycle through entity %q", e.Name)
		case seen:
			return e.rank, nil
		}
		state[e] = visiting
		rank := 0
		var walk func(*Entity) error
		walk = func(cur *Entity) error {
			for _, a := range cur.associations {
				if a.Kind != ManyToOne || a.Target.Root() == e {
					continue
				}
				tr, err := visit(a.Target)
				if err != nil {
					return err
				}
				if tr+1 > rank {
					rank = tr + 1
				}
			}
			for _, sub := range cur.Subtypes {
				if err := walk(sub); err != nil {
					return err
				}
			}
			return nil
		}
		if err := walk(e); err != nil {
			return 0, err
		}
		e.rank = rank
		state[e] = 1
		return rank, nil
	}
	for _, e := range r.order {
		if _, err := visit(e); err != nil {
			return err
		}
	}
	return nil
}

// Frozen 是否已冻结
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Entity 按名称查找实体
func (r *Registry) Entity(name string) (*Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[name]
	return e, ok
}

// Entities 按注册顺序返回全部实体
func (r *Registry) Entities() []*Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Entity(nil), r.order...)
}

// EntityForType 返回 Go 类型（结构体或其指针）对应的根实体
func (r *Registry) EntityForType(t reflect.Type) (*Entity, bool) {
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byType[t]
	return e, ok
}

// EntityOf 返回实例对应的具体实体，多态实体根据鉴别字段解析子类型
func (r *Registry) EntityOf(value any) (*Entity, error) {
	rv := reflect.ValueOf(value)
	if !rv.IsValid() || rv.Kind() != reflect.Ptr || rv.IsNil() {
		return nil, configError("expected a non-nil entity pointer, got %T", value)
	}
	root, ok := r.EntityForType(rv.Type())
	if !ok {
		return nil, configError("type %T is not a mapped entity", value)
	}
	if root.Discriminator == nil {
		return root, nil
	}
	disc, _ := root.Discriminator.Value(value).(string)
	e, ok := root.Resolve(disc)
	if !ok {
		return nil, configError("entity %q: unknown discriminator value %q", root.Name, disc)
	}
	return e, nil
}

// FlushRank 实体的外键依赖层级
func (r *Registry) FlushRank(name string) int {
	if e, ok := r.Entity(name); ok {
		return e.Rank()
	}
	return 0
}

// NamedQuery 查找命名 HQL 查询
func (r *Registry) NamedQuery(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	q, ok := r.named[name]
	return q, ok
}

// NamedQueries 全部命名 HQL 查询名称（排序后）
func (r *Registry) NamedQueries() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.named))
	for n := range r.named {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NativeQuery 查找命名原生 SQL
func (r *Registry) NativeQuery(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	q, ok := r.native[name]
	return q, ok
}

// Filter 查找过滤器定义
func (r *Registry) Filter(name string) (FilterDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.filters[name]
	return f, ok
}

// Filters 全部过滤器定义（按名称排序）
func (r *Registry) Filters() []FilterDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]FilterDef, 0, len(r.filters))
	for _, f := range r.filters {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
