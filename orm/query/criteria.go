package query

// Eq path = value
func Eq(path string, value any) Expr { return Comparison{Path: path, Op: "=", Value: value} }

// Ne path <> value
func Ne(path string, value any) Expr { return Comparison{Path: path, Op: "<>", Value: value} }

// Gt path > value
func Gt(path string, value any) Expr { return Comparison{Path: path, Op: ">", Value: value} }

// Ge path >= value
func Ge(path string, value any) Expr { return Comparison{Path: path, Op: ">=", Value: value} }

// Lt path < value
func Lt(path string, value any) Expr { return Comparison{Path: path, Op: "<", Value: value} }

// Le path <= value
func Le(path string, value any) Expr { return Comparison{Path: path, Op: "<=", Value: value} }

// Between 闭区间
func Between(path string, low, high any) Expr { return Range{Path: path, Low: low, High: high} }

// In 集合成员；单个切片参数会在绑定时展开
func In(path string, values ...any) Expr { return Membership{Path: path, Values: values} }

// Like 模式匹配
func Like(path string, pattern any) Expr { return Pattern{Path: path, Pattern: pattern} }

// IsNull 空值
func IsNull(path string) Expr { return NullCheck{Path: path} }

// IsNotNull 非空
func IsNotNull(path string) Expr { return NullCheck{Path: path, Not: true} }

// IDEq 主键相等
func IDEq(key any) Expr { return Comparison{Path: "id", Op: "=", Value: key} }

// And 合取，忽略 nil
func And(exprs ...Expr) Expr {
	out := make(Conjunction, 0, len(exprs))
	for _, e := range exprs {
		if e != nil {
			out = append(out, e)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

// Or 析取，忽略 nil
func Or(exprs ...Expr) Expr {
	out := make(Disjunction, 0, len(exprs))
	for _, e := range exprs {
		if e != nil {
			out = append(out, e)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

// Not 取反
func Not(e Expr) Expr { return Negation{X: e} }

// Asc 升序
func Asc(path string) OrderItem { return OrderItem{Path: path} }

// Desc 降序
func Desc(path string) OrderItem { return OrderItem{Path: path, Desc: true} }
