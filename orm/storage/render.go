package storage

import (
	"fmt"
	"sort"
	"strings"
)

// Renderer 将条件树渲染为带 ? 占位符的 SQL 片段，sqlstore 与 gormstore 共用
type Renderer struct {
	// Quote 标识符引用
	Quote func(string) string
	// Qualifier 非空时列名渲染为 Qualifier.column（Join 读取时为主表别名）
	Qualifier string
	// Value 绑定参数前的值转换（可选）
	Value func(any) any
}

func (r Renderer) quote(name string) string {
	if r.Quote == nil {
		return name
	}
	return r.Quote(name)
}

// Column 渲染（可能带限定的）列
func (r Renderer) Column(name string) string {
	if r.Qualifier != "" {
		return r.Qualifier + "." + r.quote(name)
	}
	return r.quote(name)
}

func (r Renderer) arg(v any) (any, error) {
	if p, ok := v.(Param); ok {
		return nil, &MissingParamError{Name: p.Name}
	}
	if r.Value != nil {
		return r.Value(v), nil
	}
	return v, nil
}

// Predicate 渲染条件；nil 条件返回空串
func (r Renderer) Predicate(p Predicate) (string, []any, error) {
	var sb strings.Builder
	var args []any
	if err := r.write(&sb, &args, p); err != nil {
		return "", nil, err
	}
	return sb.String(), args, nil
}

var compareOps = map[string]bool{"=": true, "<>": true, "<": true, "<=": true, ">": true, ">=": true}

func (r Renderer) write(sb *strings.Builder, args *[]any, p Predicate) error {
	switch v := p.(type) {
	case nil:
		return nil
	case Compare:
		if !compareOps[v.Op] {
			return fmt.Errorf("storage: unsupported operator %q", v.Op)
		}
		if v.Value == nil {
			// 与 NULL 比较按 SQL 语义恒不成立，这里改写为 IS [NOT] NULL
			switch v.Op {
			case "=":
				return r.write(sb, args, IsNull{Column: v.Column})
			case "<>":
				return r.write(sb, args, IsNull{Column: v.Column, Not: true})
			}
		}
		a, err := r.arg(v.Value)
		if err != nil {
			return err
		}
		sb.WriteString(r.Column(v.Column) + " " + v.Op + " ?")
		*args = append(*args, a)
	case Between:
		lo, err := r.arg(v.Low)
		if err != nil {
			return err
		}
		hi, err := r.arg(v.High)
		if err != nil {
			return err
		}
		sb.WriteString(r.Column(v.Column))
		if v.Not {
			sb.WriteString(" NOT")
		}
		sb.WriteString(" BETWEEN ? AND ?")
		*args = append(*args, lo, hi)
	case In:
		if len(v.Values) == 0 {
			if v.Not {
				sb.WriteString("1 = 1")
			} else {
				sb.WriteString("1 = 0")
			}
			return nil
		}
		sb.WriteString(r.Column(v.Column))
		if v.Not {
			sb.WriteString(" NOT")
		}
		sb.WriteString(" IN (")
		for i, x := range v.Values {
			a, err := r.arg(x)
			if err != nil {
				return err
			}
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteByte('?')
			*args = append(*args, a)
		}
		sb.WriteByte(')')
	case Like:
		a, err := r.arg(v.Pattern)
		if err != nil {
			return err
		}
		sb.WriteString(r.Column(v.Column))
		if v.Not {
			sb.WriteString(" NOT")
		}
		sb.WriteString(" LIKE ?")
		*args = append(*args, a)
	case IsNull:
		sb.WriteString(r.Column(v.Column))
		if v.Not {
			sb.WriteString(" IS NOT NULL")
		} else {
			sb.WriteString(" IS NULL")
		}
	case And:
		return r.junction(sb, args, []Predicate(v), " AND ", "1 = 1")
	case Or:
		return r.junction(sb, args, []Predicate(v), " OR ", "1 = 0")
	case Not:
		sb.WriteString("NOT (")
		if err := r.write(sb, args, v.P); err != nil {
			return err
		}
		sb.WriteByte(')')
	case InSubquery:
		inner := Renderer{Quote: r.Quote, Value: r.Value}
		sb.WriteString(r.Column(v.Column))
		if v.Not {
			sb.WriteString(" NOT")
		}
		sb.WriteString(" IN (SELECT " + inner.quote(v.Select) + " FROM " + inner.quote(v.Table))
		if v.Where != nil {
			sb.WriteString(" WHERE ")
			if err := inner.write(sb, args, v.Where); err != nil {
				return err
			}
		}
		sb.WriteByte(')')
	default:
		return fmt.Errorf("storage: unknown predicate %T", p)
	}
	return nil
}

func (r Renderer) junction(sb *strings.Builder, args *[]any, parts []Predicate, sep, empty string) error {
	if len(parts) == 0 {
		sb.WriteString(empty)
		return nil
	}
	if len(parts) == 1 {
		return r.write(sb, args, parts[0])
	}
	sb.WriteByte('(')
	for i, c := range parts {
		if i > 0 {
			sb.WriteString(sep)
		}
		if err := r.write(sb, args, c); err != nil {
			return err
		}
	}
	sb.WriteByte(')')
	return nil
}

// Aggregate 渲染聚合表达式
func (r Renderer) Aggregate(a Aggregate) (string, error) {
	switch a.Func {
	case AggMin, AggMax, AggAvg, AggSum, AggCount:
	default:
		return "", fmt.Errorf("storage: unsupported aggregate %q", a.Func)
	}
	if a.Column == "" {
		if a.Func != AggCount {
			return "", fmt.Errorf("storage: %s requires a column", a.Func)
		}
		return "COUNT(*)", nil
	}
	return strings.ToUpper(string(a.Func)) + "(" + r.Column(a.Column) + ")", nil
}

// ExpandNamed 将原生 SQL 中的 :name 参数改写为 ?，切片参数展开为多个占位符。
// 单引号字符串内的内容与 :: 类型转换不做处理。
func ExpandNamed(sql string, params map[string]any) (string, []any, error) {
	var sb strings.Builder
	var args []any
	inString := false
	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		if ch == '\'' {
			inString = !inString
			sb.WriteByte(ch)
			continue
		}
		if inString || ch != ':' {
			sb.WriteByte(ch)
			continue
		}
		if i+1 < len(sql) && sql[i+1] == ':' {
			sb.WriteString("::")
			i++
			continue
		}
		j := i + 1
		for j < len(sql) && isIdentByte(sql[j]) {
			j++
		}
		if j == i+1 {
			sb.WriteByte(ch)
			continue
		}
		name := sql[i+1 : j]
		val, ok := params[name]
		if !ok {
			return "", nil, &MissingParamError{Name: name}
		}
		for k, x := range expand(val) {
			if k > 0 {
				sb.WriteString(", ")
			}
			sb.WriteByte('?')
			args = append(args, x)
		}
		i = j - 1
	}
	return sb.String(), args, nil
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// RowScanner database/sql 风格的结果集
type RowScanner interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// ScanRows 将结果集读为 Row 列表
func ScanRows(rows RowScanner) ([]Row, error) {
	res, err := ScanNative(rows)
	if err != nil {
		return nil, err
	}
	out := make([]Row, len(res.Rows))
	for i, vals := range res.Rows {
		row := make(Row, len(res.Columns))
		for j, c := range res.Columns {
			row[c] = vals[j]
		}
		out[i] = row
	}
	return out, nil
}

// ScanNative 按列顺序读取结果集，[]byte 复制后返回
func ScanNative(rows RowScanner) (NativeResult, error) {
	cols, err := rows.Columns()
	if err != nil {
		return NativeResult{}, err
	}
	res := NativeResult{Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return NativeResult{}, err
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = append([]byte(nil), b...)
			}
		}
		res.Rows = append(res.Rows, vals)
	}
	return res, rows.Err()
}

// SortedColumns 写请求的列按名称排序，保证生成的 SQL 稳定
func SortedColumns(values map[string]any) []string {
	cols := make([]string, 0, len(values))
	for c := range values {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

// Validate 校验读请求的必填项
func (r ReadRequest) Validate() error {
	if r.Table == "" {
		return fmt.Errorf("storage: read request requires a table")
	}
	if len(r.Columns) == 0 {
		return fmt.Errorf("storage: read request on %s requires columns", r.Table)
	}
	if r.Join != nil && (r.Join.Table == "" || r.Join.LocalColumn == "" || r.Join.ForeignColumn == "") {
		return fmt.Errorf("storage: incomplete join on %s", r.Table)
	}
	return nil
}
