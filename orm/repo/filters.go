package repo

import (
	"reflect"
	"strings"

	"folio/errors"
	"folio/orm"
	"folio/orm/mapping"
	"folio/orm/query"
)

var suffixes = []string{"_not_in", "_like", "_gte", "_lte", "_gt", "_lt", "_ne", "_in"}

// splitFilterKey 拆分属性名与操作后缀
func splitFilterKey(key string) (property, op string) {
	for _, s := range suffixes {
		if strings.HasSuffix(key, s) && len(key) > len(s) {
			return strings.TrimSuffix(key, s), s
		}
	}
	return key, ""
}

// column 按属性名查找列（包括子类型的列）
func (r *Repo[T]) column(property string) (*mapping.Column, bool) {
	if c, ok := r.entity.Property(property); ok {
		return c, true
	}
	for _, c := range r.entity.HierarchyColumns() {
		if c.Property == property {
			return c, true
		}
	}
	return nil, false
}

// typed 把字符串形式的过滤值转换为列的 Go 类型
func typed(c *mapping.Column, raw string) (any, error) {
	v := reflect.New(c.Type()).Elem()
	if err := mapping.Assign(v, raw); err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInvalidInput, "filter value for "+c.Property)
	}
	return mapping.Canonical(v), nil
}

// applyFilters 未映射的属性忽略
func (r *Repo[T]) applyFilters(c *orm.Criteria, filters map[string]string) error {
	for key, raw := range filters {
		property, op := splitFilterKey(key)
		col, ok := r.column(property)
		if !ok {
			continue
		}
		if op == "_like" {
			c.Add(query.Like(property, "%"+raw+"%"))
			continue
		}
		if op == "_in" || op == "_not_in" {
			parts := strings.Split(raw, ",")
			values := make([]any, 0, len(parts))
			for _, p := range parts {
				v, err := typed(col, strings.TrimSpace(p))
				if err != nil {
					return err
				}
				values = append(values, v)
			}
			expr := query.In(property, values...)
			if op == "_not_in" {
				expr = query.Not(expr)
			}
			c.Add(expr)
			continue
		}
		v, err := typed(col, raw)
		if err != nil {
			return err
		}
		switch op {
		case "_gt":
			c.Add(query.Gt(property, v))
		case "_gte":
			c.Add(query.Ge(property, v))
		case "_lt":
			c.Add(query.Lt(property, v))
		case "_lte":
			c.Add(query.Le(property, v))
		case "_ne":
			c.Add(query.Ne(property, v))
		default:
			c.Add(query.Eq(property, v))
		}
	}
	return nil
}

// applySorting Sorts 优先，其次 Order（按主键）
func (r *Repo[T]) applySorting(c *orm.Criteria, options *QueryOptions) {
	if len(options.Sorts) > 0 {
		for _, property := range sortedKeys(options.Sorts) {
			dir := options.Sorts[property]
			if _, ok := r.column(property); !ok || !dir.IsValid() {
				continue
			}
			if dir == DESC {
				c.AddOrder(query.Desc(property))
			} else {
				c.AddOrder(query.Asc(property))
			}
		}
		return
	}
	if strings.EqualFold(options.Order, string(DESC)) {
		c.AddOrder(query.Desc("id"))
	}
}
