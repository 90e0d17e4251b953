package query

import (
	"fmt"
	"strconv"
	"strings"

	"folio/errors"
	"folio/orm/mapping"
	"folio/orm/storage"
)

// Parse 解析 HQL 语句
func Parse(hql string) (*Spec, error) {
	toks, err := tokenize(hql)
	if err != nil {
		return nil, queryError(hql, err.Error())
	}
	p := &parser{src: hql, toks: toks}
	spec, err := p.statement()
	if err != nil {
		return nil, err
	}
	spec.Source = hql
	return spec, nil
}

// ParseCondition 解析单独的条件表达式（过滤器条件）
func ParseCondition(cond string) (Expr, error) {
	toks, err := tokenize(cond)
	if err != nil {
		return nil, queryError(cond, err.Error())
	}
	p := &parser{src: cond, toks: toks}
	e, err := p.expr()
	if err != nil {
		return nil, err
	}
	if !p.at(tokEOF) {
		return nil, p.fail("unexpected %s", p.peek())
	}
	return e, nil
}

func queryError(src, msg string) error {
	return errors.NewError(errors.ErrCodeQuery, msg).WithContext("query", src)
}

type parser struct {
	src  string
	toks []token
	pos  int
	// alias 当前语句的别名，路径中的别名前缀会被去掉
	alias string
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) at(kind tokenKind) bool { return p.peek().kind == kind }

func (p *parser) accept(word string) bool {
	if p.peek().is(word) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(word string) error {
	if !p.accept(word) {
		return p.fail("expected %s, found %s", strings.ToUpper(word), p.peek())
	}
	return nil
}

func (p *parser) fail(format string, args ...any) error {
	return queryError(p.src, fmt.Sprintf(format, args...)+" at position "+strconv.Itoa(p.peek().pos))
}

var reserved = map[string]bool{
	"select": true, "from": true, "where": true, "order": true, "by": true, "join": true,
	"fetch": true, "left": true, "inner": true, "outer": true, "and": true, "or": true,
	"not": true, "between": true, "in": true, "like": true, "is": true, "null": true,
	"asc": true, "desc": true, "set": true, "as": true, "update": true, "delete": true,
}

func (p *parser) statement() (*Spec, error) {
	switch {
	case p.peek().is("select"), p.peek().is("from"):
		return p.selectStatement()
	case p.accept("delete"):
		spec := &Spec{Kind: KindDelete}
		p.accept("from")
		if err := p.entity(spec); err != nil {
			return nil, err
		}
		return spec, p.tail(spec, false)
	case p.accept("update"):
		spec := &Spec{Kind: KindUpdate}
		if err := p.entity(spec); err != nil {
			return nil, err
		}
		if err := p.expect("set"); err != nil {
			return nil, err
		}
		for {
			path, err := p.path()
			if err != nil {
				return nil, err
			}
			if err := p.expect("="); err != nil {
				return nil, err
			}
			v, err := p.operand()
			if err != nil {
				return nil, err
			}
			spec.Sets = append(spec.Sets, Assignment{Path: path, Value: v})
			if !p.accept(",") {
				break
			}
		}
		return spec, p.tail(spec, false)
	default:
		return nil, p.fail("expected SELECT, FROM, UPDATE or DELETE, found %s", p.peek())
	}
}

func (p *parser) selectStatement() (*Spec, error) {
	spec := &Spec{Kind: KindSelect}
	type rawItem struct {
		fn   storage.AggregateFunc
		path string
	}
	var items []rawItem
	if p.accept("select") {
		for {
			t := p.next()
			if t.kind != tokIdent {
				return nil, p.fail("expected projection, found %s", t)
			}
			if p.accept("(") {
				fn := storage.AggregateFunc(strings.ToLower(t.text))
				switch fn {
				case storage.AggMin, storage.AggMax, storage.AggAvg, storage.AggSum, storage.AggCount:
				default:
					return nil, p.fail("unknown aggregate function %s", t.text)
				}
				path := ""
				if !p.accept("*") {
					pt := p.next()
					if pt.kind != tokIdent {
						return nil, p.fail("expected path in %s(), found %s", t.text, pt)
					}
					path = pt.text
				}
				if err := p.expect(")"); err != nil {
					return nil, err
				}
				items = append(items, rawItem{fn: fn, path: path})
			} else {
				items = append(items, rawItem{path: t.text})
			}
			if !p.accept(",") {
				break
			}
		}
	}
	if err := p.expect("from"); err != nil {
		return nil, err
	}
	if err := p.entity(spec); err != nil {
		return nil, err
	}

	for _, it := range items {
		path := p.strip(it.path)
		if it.fn == "" {
			if path != "" {
				return nil, p.fail("only entity and aggregate projections are supported, found %s", it.path)
			}
			continue
		}
		if it.fn == storage.AggCount && path == "" {
			// count(alias) 与 count(*) 等价
			spec.Select = append(spec.Select, SelectItem{Func: it.fn})
			continue
		}
		if path == "" && it.path != "" {
			return nil, p.fail("%s() requires a property path", it.fn)
		}
		spec.Select = append(spec.Select, SelectItem{Func: it.fn, Path: path})
	}
	if len(spec.Select) > 0 && len(spec.Select) != len(items) {
		return nil, p.fail("cannot mix entity and aggregate projections")
	}

	for {
		inner := false
		switch {
		case p.accept("left"):
			p.accept("outer")
		case p.accept("inner"):
			inner = true
		}
		if !p.accept("join") {
			if inner {
				return nil, p.fail("expected JOIN after INNER")
			}
			break
		}
		if err := p.expect("fetch"); err != nil {
			return nil, err
		}
		path, err := p.path()
		if err != nil {
			return nil, err
		}
		if strings.Contains(path, ".") || path == "" {
			return nil, p.fail("join fetch must name an association of %s", spec.Entity)
		}
		// 可选别名
		if t := p.peek(); t.kind == tokIdent && !reserved[strings.ToLower(t.text)] {
			p.next()
		}
		spec.Fetch = append(spec.Fetch, FetchItem{Association: path, Mode: mapping.FetchJoin})
	}
	return spec, p.tail(spec, true)
}

// entity 读取实体名与可选别名
func (p *parser) entity(spec *Spec) error {
	t := p.next()
	if t.kind != tokIdent || reserved[strings.ToLower(t.text)] {
		return p.fail("expected entity name, found %s", t)
	}
	spec.Entity = t.text
	p.accept("as")
	if a := p.peek(); a.kind == tokIdent && !reserved[strings.ToLower(a.text)] {
		p.next()
		spec.Alias = a.text
		p.alias = a.text
	}
	return nil
}

// tail WHERE 与 ORDER BY
func (p *parser) tail(spec *Spec, ordered bool) error {
	if p.accept("where") {
		e, err := p.expr()
		if err != nil {
			return err
		}
		spec.Where = e
	}
	if ordered && p.accept("order") {
		if err := p.expect("by"); err != nil {
			return err
		}
		for {
			path, err := p.path()
			if err != nil {
				return err
			}
			item := OrderItem{Path: path}
			if p.accept("desc") {
				item.Desc = true
			} else {
				p.accept("asc")
			}
			spec.Order = append(spec.Order, item)
			if !p.accept(",") {
				break
			}
		}
	}
	if !p.at(tokEOF) {
		return p.fail("unexpected %s", p.peek())
	}
	return nil
}

// strip 去掉路径的别名前缀；路径恰为别名时返回空串
func (p *parser) strip(path string) string {
	if p.alias == "" {
		return path
	}
	if path == p.alias {
		return ""
	}
	return strings.TrimPrefix(path, p.alias+".")
}

func (p *parser) path() (string, error) {
	t := p.next()
	if t.kind != tokIdent || reserved[strings.ToLower(t.text)] {
		return "", p.fail("expected property path, found %s", t)
	}
	return p.strip(t.text), nil
}

func (p *parser) expr() (Expr, error) {
	left, err := p.conjunction()
	if err != nil {
		return nil, err
	}
	if !p.peek().is("or") {
		return left, nil
	}
	out := Disjunction{left}
	for p.accept("or") {
		right, err := p.conjunction()
		if err != nil {
			return nil, err
		}
		out = append(out, right)
	}
	return out, nil
}

func (p *parser) conjunction() (Expr, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	if !p.peek().is("and") {
		return left, nil
	}
	out := Conjunction{left}
	for p.accept("and") {
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		out = append(out, right)
	}
	return out, nil
}

func (p *parser) unary() (Expr, error) {
	if p.accept("not") {
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		return Negation{X: x}, nil
	}
	if p.accept("(") {
		x, err := p.expr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		return x, nil
	}
	return p.predicate()
}

func (p *parser) predicate() (Expr, error) {
	path, err := p.path()
	if err != nil {
		return nil, err
	}
	if path == "" {
		// 别名本身指代主键
		path = "id"
	}

	if p.accept("is") {
		not := p.accept("not")
		if err := p.expect("null"); err != nil {
			return nil, err
		}
		return NullCheck{Path: path, Not: not}, nil
	}

	not := p.accept("not")
	switch {
	case p.accept("between"):
		lo, err := p.operand()
		if err != nil {
			return nil, err
		}
		if err := p.expect("and"); err != nil {
			return nil, err
		}
		hi, err := p.operand()
		if err != nil {
			return nil, err
		}
		return Range{Path: path, Low: lo, High: hi, Not: not}, nil
	case p.accept("in"):
		var values []any
		if p.at(tokParam) {
			values = append(values, Param{Name: p.next().text})
			return Membership{Path: path, Values: values, Not: not}, nil
		}
		if err := p.expect("("); err != nil {
			return nil, err
		}
		for {
			v, err := p.operand()
			if err != nil {
				return nil, err
			}
			values = append(values, v)
			if !p.accept(",") {
				break
			}
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		return Membership{Path: path, Values: values, Not: not}, nil
	case p.accept("like"):
		v, err := p.operand()
		if err != nil {
			return nil, err
		}
		return Pattern{Path: path, Pattern: v, Not: not}, nil
	}
	if not {
		return nil, p.fail("expected BETWEEN, IN or LIKE after NOT, found %s", p.peek())
	}

	op := p.peek()
	if op.kind != tokSymbol {
		return nil, p.fail("expected comparison operator, found %s", op)
	}
	switch op.text {
	case "=", "<>", "<", "<=", ">", ">=":
	case "!=":
		op.text = "<>"
	default:
		return nil, p.fail("expected comparison operator, found %s", op)
	}
	p.next()
	v, err := p.operand()
	if err != nil {
		return nil, err
	}
	return Comparison{Path: path, Op: op.text, Value: v}, nil
}

func (p *parser) operand() (any, error) {
	t := p.next()
	switch t.kind {
	case tokParam:
		return Param{Name: t.text}, nil
	case tokString:
		return t.text, nil
	case tokNumber:
		return parseNumber(t.text)
	case tokSymbol:
		if t.text == "-" && p.at(tokNumber) {
			n, err := parseNumber(p.next().text)
			if err != nil {
				return nil, err
			}
			switch v := n.(type) {
			case int64:
				return -v, nil
			case float64:
				return -v, nil
			}
		}
	case tokIdent:
		switch strings.ToLower(t.text) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "null":
			return nil, nil
		}
	}
	return nil, p.fail("expected literal or parameter, found %s", t)
}

func parseNumber(s string) (any, error) {
	if strings.Contains(s, ".") {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, errors.Newf(errors.ErrCodeQuery, "invalid number %q", s)
		}
		return f, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, errors.Newf(errors.ErrCodeQuery, "invalid number %q", s)
	}
	return n, nil
}
