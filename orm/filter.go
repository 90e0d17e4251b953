package orm

import (
	stdErrors "errors"

	"folio/orm/mapping"
	"folio/orm/query"
	"folio/orm/storage"
)

// Filter 已启用的会话过滤器，条件会与目标实体（及其子类型）的每个查询合取
type Filter struct {
	compiled *compiledFilter
	params   map[string]any
	registry *mapping.Registry
}

// Name 过滤器名称
func (f *Filter) Name() string { return f.compiled.def.Name }

// SetParameter 绑定过滤器参数
func (f *Filter) SetParameter(name string, value any) *Filter {
	f.params[name] = query.EntityValue(f.registry, value)
	return f
}

// EnableFilter 启用过滤器；已启用时返回同一句柄
func (s *Session) EnableFilter(name string) (*Filter, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if f, ok := s.filters[name]; ok {
		return f, nil
	}
	compiled, ok := s.factory.filters[name]
	if !ok {
		return nil, configurationError("unknown filter %q", name)
	}
	f := &Filter{compiled: compiled, params: make(map[string]any), registry: s.registry}
	s.filters[name] = f
	return f, nil
}

// DisableFilter 停用过滤器
func (s *Session) DisableFilter(name string) {
	delete(s.filters, name)
}

// EnabledFilter 返回已启用的过滤器
func (s *Session) EnabledFilter(name string) (*Filter, bool) {
	f, ok := s.filters[name]
	return f, ok
}

// applyFilters 把作用于 e 的已启用过滤器条件合取到 where
func (s *Session) applyFilters(e *mapping.Entity, where storage.Predicate) (storage.Predicate, error) {
	if len(s.filters) == 0 {
		return where, nil
	}
	preds := []storage.Predicate{where}
	for _, name := range sortedKeys(s.filters) {
		f := s.filters[name]
		if !e.IsA(f.compiled.entity) {
			continue
		}
		bound, err := storage.Bind(f.compiled.where, f.params)
		if err != nil {
			var missing *storage.MissingParamError
			if stdErrors.As(err, &missing) {
				return nil, queryError("filter %q: parameter %q is not bound", name, missing.Name)
			}
			return nil, err
		}
		preds = append(preds, bound)
	}
	return storage.Conjoin(preds...), nil
}
