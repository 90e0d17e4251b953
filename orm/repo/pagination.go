package repo

import (
	"context"
	"math"
	"sort"

	"folio/orm"
)

// ListPage 分页查询，Page 从 1 开始
func (r *Repo[T]) ListPage(ctx context.Context, options *QueryOptions) (*PagedResult[T], error) {
	if options == nil {
		options = &QueryOptions{}
	}
	page, size := options.Page, options.Size
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}

	total, err := r.CountWithFilters(ctx, options.Filters)
	if err != nil {
		return nil, err
	}

	c := r.criteria()
	if err := r.applyFilters(c, options.Filters); err != nil {
		return nil, err
	}
	r.applySorting(c, options)
	data, err := orm.List[T](ctx, c.SetFirstResult((page-1)*size).SetMaxResults(size))
	if err != nil {
		return nil, err
	}

	return &PagedResult[T]{
		Data:       data,
		Total:      total,
		Page:       page,
		Size:       size,
		TotalPages: int(math.Ceil(float64(total) / float64(size))),
	}, nil
}

func sortedKeys(m map[string]SortDirection) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
