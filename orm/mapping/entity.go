package mapping

import (
	"fmt"
	"reflect"
	"strings"
)

// Column 编译后的标量列
type Column struct {
	Property string
	Name     string
	Field    string

	Key           bool
	Version       bool
	Discriminator bool

	index []int
	typ   reflect.Type
}

// Type 字段的 Go 类型
func (c *Column) Type() reflect.Type { return c.typ }

// Value 读取实体字段的规范值；组件指针为 nil 时返回 nil
func (c *Column) Value(entity any) any {
	fv, ok := fieldByIndex(reflect.ValueOf(entity), c.index, false)
	if !ok {
		return nil
	}
	return Canonical(fv)
}

// Assign 写入字段；值为 nil 且组件指针为 nil 时不分配组件
func (c *Column) Assign(entity any, v any) error {
	fv, ok := fieldByIndex(reflect.ValueOf(entity), c.index, v != nil)
	if !ok {
		return nil
	}
	if err := Assign(fv, v); err != nil {
		return fmt.Errorf("%s: %w", c.Field, err)
	}
	return nil
}

// Association 编译后的关联
type Association struct {
	Name     string
	Field    string
	Kind     AssociationKind
	Target   *Entity
	Column   string // many-to-one 外键列
	MappedBy string
	// Inverse one-to-many 对应的目标端 many-to-one
	Inverse       *Association
	Fetch         FetchMode
	CascadeSave   bool
	CascadeDelete bool
	Owner         *Entity

	targetName string
	index      []int
	typ        reflect.Type
}

// FieldValue 返回关联字段的可寻址值（用于类型断言到关联接口）
func (a *Association) FieldValue(entity any) reflect.Value {
	fv, ok := fieldByIndex(reflect.ValueOf(entity), a.index, true)
	if !ok {
		return reflect.Value{}
	}
	return fv
}

// FieldType 关联字段类型
func (a *Association) FieldType() reflect.Type { return a.typ }

// ElementCollection 编译后的值集合
type ElementCollection struct {
	Property    string
	Field       string
	Table       string
	KeyColumn   string
	ValueColumn string
	Owner       *Entity

	index    []int
	elemType reflect.Type
}

// Values 读取集合的规范值列表
func (e *ElementCollection) Values(entity any) []any {
	fv, ok := fieldByIndex(reflect.ValueOf(entity), e.index, false)
	if !ok || fv.IsNil() {
		return nil
	}
	out := make([]any, fv.Len())
	for i := 0; i < fv.Len(); i++ {
		out[i] = Canonical(fv.Index(i))
	}
	return out
}

// SetValues 用存储值替换集合内容
func (e *ElementCollection) SetValues(entity any, values []any) error {
	fv, ok := fieldByIndex(reflect.ValueOf(entity), e.index, true)
	if !ok {
		return nil
	}
	if values == nil {
		fv.Set(reflect.Zero(fv.Type()))
		return nil
	}
	out := reflect.MakeSlice(fv.Type(), len(values), len(values))
	for i, v := range values {
		if err := Assign(out.Index(i), v); err != nil {
			return fmt.Errorf("%s[%d]: %w", e.Field, i, err)
		}
	}
	fv.Set(out)
	return nil
}

// Entity 编译后的实体映射
type Entity struct {
	Name         string
	Table        string
	Type         reflect.Type
	KeyGenerator string

	Key           *Column
	Version       *Column
	Discriminator *Column
	// DiscriminatorValue 本实体的鉴别值（无多态时为空）
	DiscriminatorValue string

	Parent   *Entity
	Subtypes []*Entity

	columns      []*Column
	props        map[string]*Column
	associations []*Association
	assocs       map[string]*Association
	elements     []*ElementCollection
	elems        map[string]*ElementCollection
	rank         int
}

// Root 继承层次的根实体
func (e *Entity) Root() *Entity {
	for e.Parent != nil {
		e = e.Parent
	}
	return e
}

// IsA 判断 e 是否为 other 或其子类型
func (e *Entity) IsA(other *Entity) bool {
	for cur := e; cur != nil; cur = cur.Parent {
		if cur == other {
			return true
		}
	}
	return false
}

// Columns 本实体的全部标量列（含继承、主键、版本、鉴别列），按声明顺序
func (e *Entity) Columns() []*Column { return e.columns }

// HierarchyColumns 本实体及所有子类型的列并集，用于多态读取
func (e *Entity) HierarchyColumns() []*Column {
	seen := make(map[string]bool)
	var out []*Column
	var walk func(*Entity)
	walk = func(cur *Entity) {
		for _, c := range cur.columns {
			if !seen[c.Name] {
				seen[c.Name] = true
				out = append(out, c)
			}
		}
		for _, sub := range cur.Subtypes {
			walk(sub)
		}
	}
	walk(e)
	return out
}

// DiscriminatorValues 本实体及其子类型的鉴别值
func (e *Entity) DiscriminatorValues() []any {
	var out []any
	var walk func(*Entity)
	walk = func(cur *Entity) {
		if cur.DiscriminatorValue != "" {
			out = append(out, cur.DiscriminatorValue)
		}
		for _, sub := range cur.Subtypes {
			walk(sub)
		}
	}
	walk(e)
	return out
}

// Resolve 根据鉴别值找到层次中的具体实体；空值返回根实体
func (e *Entity) Resolve(discriminator string) (*Entity, bool) {
	root := e.Root()
	if discriminator == "" {
		return root, true
	}
	var found *Entity
	var walk func(*Entity)
	walk = func(cur *Entity) {
		if found != nil {
			return
		}
		if cur.DiscriminatorValue == discriminator {
			found = cur
			return
		}
		for _, sub := range cur.Subtypes {
			walk(sub)
		}
	}
	walk(root)
	return found, found != nil
}

// Property 按属性名查找列
func (e *Entity) Property(name string) (*Column, bool) {
	c, ok := e.props[name]
	return c, ok
}

// ColumnByName 按列名查找
func (e *Entity) ColumnByName(name string) (*Column, bool) {
	for _, c := range e.columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return nil, false
}

// Associations 全部关联（含继承）
func (e *Entity) Associations() []*Association { return e.associations }

// Association 按名称查找关联
func (e *Entity) Association(name string) (*Association, bool) {
	a, ok := e.assocs[name]
	return a, ok
}

// Elements 全部值集合（含继承）
func (e *Entity) Elements() []*ElementCollection { return e.elements }

// Element 按属性名查找值集合
func (e *Entity) Element(name string) (*ElementCollection, bool) {
	el, ok := e.elems[name]
	return el, ok
}

// New 创建该实体类型的新实例（指针），并写入鉴别值
func (e *Entity) New() any {
	v := reflect.New(e.Type).Interface()
	if e.Discriminator != nil && e.DiscriminatorValue != "" {
		_ = e.Discriminator.Assign(v, e.DiscriminatorValue)
	}
	return v
}

// KeyOf 读取归一化主键，未分配时返回 nil
func (e *Entity) KeyOf(entity any) any {
	return NormalizeKey(e.Key.Value(entity))
}

// SetKey 写入主键
func (e *Entity) SetKey(entity any, key any) error {
	return e.Key.Assign(entity, key)
}

// VersionOf 读取版本号，无版本列时返回 0
func (e *Entity) VersionOf(entity any) int64 {
	if e.Version == nil {
		return 0
	}
	n, _ := e.Version.Value(entity).(int64)
	return n
}

// SetVersion 写入版本号
func (e *Entity) SetVersion(entity any, version int64) error {
	if e.Version == nil {
		return nil
	}
	return e.Version.Assign(entity, version)
}

// Rank 外键依赖层级，被引用方层级更低（插入时先写）
func (e *Entity) Rank() int { return e.Root().rank }

func (e *Entity) String() string { return e.Name }

// fieldByIndex 沿索引路径取字段。alloc 为 true 时为 nil 的组件指针分配空间，
// 否则遇到 nil 指针返回 false。
func fieldByIndex(v reflect.Value, index []int, alloc bool) (reflect.Value, bool) {
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return reflect.Value{}, false
		}
		v = v.Elem()
	}
	for i, idx := range index {
		if i > 0 && v.Kind() == reflect.Ptr {
			if v.IsNil() {
				if !alloc {
					return reflect.Value{}, false
				}
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		if v.Kind() != reflect.Struct || idx < 0 || idx >= v.NumField() {
			return reflect.Value{}, false
		}
		v = v.Field(idx)
	}
	return v, true
}

// resolveField 在类型上解析点号字段路径，返回索引路径和字段类型
func resolveField(t reflect.Type, path string) ([]int, reflect.Type, error) {
	var index []int
	cur := t
	parts := strings.Split(path, ".")
	for i, name := range parts {
		for cur.Kind() == reflect.Ptr {
			cur = cur.Elem()
		}
		if cur.Kind() != reflect.Struct {
			return nil, nil, fmt.Errorf("field %q: %s is not a struct", path, cur)
		}
		f, ok := cur.FieldByName(name)
		if !ok || !f.IsExported() {
			return nil, nil, fmt.Errorf("field %q not found on %s", path, t)
		}
		if len(f.Index) > 1 && i > 0 {
			return nil, nil, fmt.Errorf("field %q: promoted fields inside components are not supported", path)
		}
		index = append(index, f.Index...)
		cur = f.Type
	}
	return index, cur, nil
}
