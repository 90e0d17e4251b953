// Package mapping 描述实体到表的映射，并在注册时编译为反射访问路径。
//
// 描述类型（EntityDef 等）是已解析的静态配置，可以由 Go 代码直接构造，
// 也可以由 orm/config 从 YAML 解码得到。Registry 在 Freeze 之后只读。
package mapping

// FetchMode 关联抓取策略
type FetchMode string

const (
	FetchLazy   FetchMode = "lazy"
	FetchJoin   FetchMode = "join"
	FetchSelect FetchMode = "select"
)

// AssociationKind 关联类型
type AssociationKind string

const (
	ManyToOne AssociationKind = "many-to-one"
	OneToMany AssociationKind = "one-to-many"
)

// Cascade 级联选项
type Cascade string

const (
	CascadeSaveUpdate Cascade = "save-update"
	CascadeDelete     Cascade = "delete"
	CascadeAll        Cascade = "all"
)

// Key generator 名称
const (
	GeneratorSnowflake = "snowflake"
	GeneratorIncrement = "increment"
	GeneratorAssigned  = "assigned"
)

// ColumnDef 标量列。Field 是 Go 字段路径（组件用点号，如 Address.Street1），
// Property 为空时按字段路径生成 lowerCamel 名（address.street1），Column 为空时生成 snake_case。
type ColumnDef struct {
	Field    string `yaml:"field"`
	Column   string `yaml:"column"`
	Property string `yaml:"property"`
}

// AssociationDef 关联。many-to-one 由本表的 Column 保存外键；
// one-to-many 为反向端，MappedBy 指向目标实体上的 many-to-one 属性。
type AssociationDef struct {
	Name     string          `yaml:"name"`
	Field    string          `yaml:"field"`
	Kind     AssociationKind `yaml:"kind"`
	Target   string          `yaml:"target"`
	Column   string          `yaml:"column"`
	MappedBy string          `yaml:"mapped_by"`
	Fetch    FetchMode       `yaml:"fetch"`
	Cascade  []Cascade       `yaml:"cascade"`
}

// ElementCollectionDef 值集合（[]标量），存放在独立的表中
type ElementCollectionDef struct {
	Property    string `yaml:"property"`
	Field       string `yaml:"field"`
	Table       string `yaml:"table"`
	KeyColumn   string `yaml:"key_column"`
	ValueColumn string `yaml:"value_column"`
}

// DiscriminatorDef 单表多态鉴别列。根实体给出 Field/Column/Value，子类型只给出 Value。
type DiscriminatorDef struct {
	Field  string `yaml:"field"`
	Column string `yaml:"column"`
	Value  string `yaml:"value"`
}

// EntityDef 实体映射描述
type EntityDef struct {
	Name          string                 `yaml:"name"`
	Table         string                 `yaml:"table"`
	KeyField      string                 `yaml:"key_field"`
	KeyColumn     string                 `yaml:"key_column"`
	KeyGenerator  string                 `yaml:"key_generator"`
	VersionField  string                 `yaml:"version_field"`
	VersionColumn string                 `yaml:"version_column"`
	Columns       []ColumnDef            `yaml:"columns"`
	Associations  []AssociationDef       `yaml:"associations"`
	Elements      []ElementCollectionDef `yaml:"elements"`
	Discriminator *DiscriminatorDef      `yaml:"discriminator"`
	// Extends 父实体名，子类型与父实体共用表和 Go 类型
	Extends string `yaml:"extends"`
}

// FilterDef 会话过滤器，Condition 为作用于 Entity 的 HQL 条件表达式
type FilterDef struct {
	Name      string   `yaml:"name"`
	Entity    string   `yaml:"entity"`
	Condition string   `yaml:"condition"`
	Params    []string `yaml:"params"`
}
