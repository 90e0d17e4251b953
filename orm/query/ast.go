// Package query 解析 HQL 子集与 Criteria 条件，并把它们编译为存储层的读写计划。
//
// 支持的语句：
//
//	[SELECT alias | agg(path), ...] FROM Entity [alias] [LEFT|INNER] JOIN FETCH alias.assoc
//	    [WHERE expr] [ORDER BY path [ASC|DESC], ...]
//	DELETE FROM Entity [alias] [WHERE expr]
//	UPDATE Entity [alias] SET path = operand, ... [WHERE expr]
package query

import (
	"folio/orm/mapping"
	"folio/orm/storage"
)

// Kind 语句类型
type Kind int

const (
	KindSelect Kind = iota
	KindDelete
	KindUpdate
)

func (k Kind) String() string {
	switch k {
	case KindSelect:
		return "select"
	case KindDelete:
		return "delete"
	case KindUpdate:
		return "update"
	default:
		return "unknown"
	}
}

// Param 命名参数
type Param = storage.Param

// Spec 不可变的查询描述，由 HQL 解析或 Criteria 构造得到
type Spec struct {
	Kind   Kind
	Entity string
	Alias  string
	// Select 为空时返回实体
	Select []SelectItem
	Fetch  []FetchItem
	Where  Expr
	Order  []OrderItem
	Sets   []Assignment
	// Source 原始 HQL，Criteria 构造时为空
	Source string
}

// SelectItem 投影：Func 为空表示实体本身
type SelectItem struct {
	Func storage.AggregateFunc
	Path string
}

// FetchItem 覆盖关联的抓取策略
type FetchItem struct {
	Association string
	Mode        mapping.FetchMode
}

// OrderItem 排序项
type OrderItem struct {
	Path string
	Desc bool
}

// Assignment UPDATE 的 SET 项
type Assignment struct {
	Path  string
	Value any
}

// Expr 条件表达式
type Expr interface {
	expr()
}

// Conjunction 合取
type Conjunction []Expr

// Disjunction 析取
type Disjunction []Expr

// Negation 取反
type Negation struct {
	X Expr
}

// Comparison path op operand，Op 为 = <> < <= > >=
type Comparison struct {
	Path  string
	Op    string
	Value any
}

// Range path [NOT] BETWEEN low AND high
type Range struct {
	Path      string
	Low, High any
	Not       bool
}

// Membership path [NOT] IN (values)
type Membership struct {
	Path   string
	Values []any
	Not    bool
}

// Pattern path [NOT] LIKE pattern
type Pattern struct {
	Path    string
	Pattern any
	Not     bool
}

// NullCheck path IS [NOT] NULL
type NullCheck struct {
	Path string
	Not  bool
}

func (Conjunction) expr() {}
func (Disjunction) expr() {}
func (Negation) expr()    {}
func (Comparison) expr()  {}
func (Range) expr()       {}
func (Membership) expr()  {}
func (Pattern) expr()     {}
func (NullCheck) expr()   {}
