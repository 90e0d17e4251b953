package storage

import (
	"fmt"
	"reflect"
)

// Predicate 过滤条件树
type Predicate interface {
	predicate()
}

// Param 命名参数占位，执行前由 Bind 替换
type Param struct {
	Name string
}

// Compare 比较：Op 为 = <> < <= > >=
type Compare struct {
	Column string
	Op     string
	Value  any
}

// Between 区间（闭区间）
type Between struct {
	Column    string
	Low, High any
	Not       bool
}

// In 集合成员；Values 中的单个 Param 可绑定为切片
type In struct {
	Column string
	Values []any
	Not    bool
}

// Like 模式匹配
type Like struct {
	Column  string
	Pattern any
	Not     bool
}

// IsNull 空值判断
type IsNull struct {
	Column string
	Not    bool
}

// And 合取，空 And 恒真
type And []Predicate

// Or 析取，空 Or 恒假
type Or []Predicate

// Not 取反
type Not struct {
	P Predicate
}

// InSubquery Column [NOT] IN (SELECT Select FROM Table WHERE Where)
type InSubquery struct {
	Column string
	Table  string
	Select string
	Where  Predicate
	Not    bool
}

func (Compare) predicate()    {}
func (Between) predicate()    {}
func (In) predicate()         {}
func (Like) predicate()       {}
func (IsNull) predicate()     {}
func (And) predicate()        {}
func (Or) predicate()         {}
func (Not) predicate()        {}
func (InSubquery) predicate() {}

// Conjoin 合并非 nil 条件
func Conjoin(preds ...Predicate) Predicate {
	var out And
	for _, p := range preds {
		switch v := p.(type) {
		case nil:
		case And:
			out = append(out, v...)
		default:
			out = append(out, p)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	default:
		return out
	}
}

// MissingParamError 未绑定的命名参数
type MissingParamError struct {
	Name string
}

func (e *MissingParamError) Error() string {
	return fmt.Sprintf("parameter %q is not bound", e.Name)
}

// Bind 返回替换了全部 Param 的新条件树；未绑定的参数返回 *MissingParamError
func Bind(p Predicate, params map[string]any) (Predicate, error) {
	switch v := p.(type) {
	case nil:
		return nil, nil
	case Compare:
		val, err := bindValue(v.Value, params)
		if err != nil {
			return nil, err
		}
		v.Value = val
		return v, nil
	case Between:
		lo, err := bindValue(v.Low, params)
		if err != nil {
			return nil, err
		}
		hi, err := bindValue(v.High, params)
		if err != nil {
			return nil, err
		}
		v.Low, v.High = lo, hi
		return v, nil
	case In:
		var values []any
		for _, raw := range v.Values {
			val, err := bindValue(raw, params)
			if err != nil {
				return nil, err
			}
			if _, isParam := raw.(Param); isParam {
				values = append(values, expand(val)...)
				continue
			}
			values = append(values, val)
		}
		v.Values = values
		return v, nil
	case Like:
		val, err := bindValue(v.Pattern, params)
		if err != nil {
			return nil, err
		}
		v.Pattern = val
		return v, nil
	case IsNull:
		return v, nil
	case And:
		out := make(And, 0, len(v))
		for _, c := range v {
			b, err := Bind(c, params)
			if err != nil {
				return nil, err
			}
			out = append(out, b)
		}
		return out, nil
	case Or:
		out := make(Or, 0, len(v))
		for _, c := range v {
			b, err := Bind(c, params)
			if err != nil {
				return nil, err
			}
			out = append(out, b)
		}
		return out, nil
	case Not:
		b, err := Bind(v.P, params)
		if err != nil {
			return nil, err
		}
		return Not{P: b}, nil
	case InSubquery:
		b, err := Bind(v.Where, params)
		if err != nil {
			return nil, err
		}
		v.Where = b
		return v, nil
	default:
		return nil, fmt.Errorf("storage: unknown predicate %T", p)
	}
}

// BindValue 绑定单个可能为 Param 的值
func BindValue(v any, params map[string]any) (any, error) {
	return bindValue(v, params)
}

func bindValue(v any, params map[string]any) (any, error) {
	p, ok := v.(Param)
	if !ok {
		return v, nil
	}
	val, ok := params[p.Name]
	if !ok {
		return nil, &MissingParamError{Name: p.Name}
	}
	return val, nil
}

// expand 将切片参数展开为元素列表（[]byte 视为单值）
func expand(v any) []any {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return []any{nil}
	}
	if (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) && rv.Type().Elem().Kind() != reflect.Uint8 {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out
	}
	return []any{v}
}

// Params 收集条件树中引用的参数名（去重，按出现顺序）
func Params(p Predicate) []string {
	var names []string
	seen := make(map[string]bool)
	add := func(v any) {
		if prm, ok := v.(Param); ok && !seen[prm.Name] {
			seen[prm.Name] = true
			names = append(names, prm.Name)
		}
	}
	var walk func(Predicate)
	walk = func(p Predicate) {
		switch v := p.(type) {
		case Compare:
			add(v.Value)
		case Between:
			add(v.Low)
			add(v.High)
		case In:
			for _, x := range v.Values {
				add(x)
			}
		case Like:
			add(v.Pattern)
		case And:
			for _, c := range v {
				walk(c)
			}
		case Or:
			for _, c := range v {
				walk(c)
			}
		case Not:
			walk(v.P)
		case InSubquery:
			walk(v.Where)
		}
	}
	walk(p)
	return names
}
