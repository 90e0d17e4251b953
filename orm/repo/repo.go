// Package repo 在 orm.Session 之上提供按实体类型的通用仓储：
// 按主键读取、条件过滤、分页与增删。写操作只登记到会话，随事务提交。
package repo

import (
	"context"
	"reflect"

	"folio/errors"
	"folio/orm"
	"folio/orm/mapping"
	"folio/orm/query"
	"folio/orm/storage"
)

// Repo 实体 T 的仓储，绑定一个会话
type Repo[T any] struct {
	session *orm.Session
	entity  *mapping.Entity
}

// New 创建仓储；T 必须是已注册的实体类型
func New[T any](s *orm.Session) (*Repo[T], error) {
	t := reflect.TypeOf((*T)(nil))
	e, ok := s.Factory().Registry().EntityForType(t)
	if !ok {
		return nil, errors.Newf(errors.ErrCodeConfiguration, "type %s is not a mapped entity", t.Elem())
	}
	return &Repo[T]{session: s, entity: e}, nil
}

// Entity 仓储对应的（根）实体
func (r *Repo[T]) Entity() *mapping.Entity { return r.entity }

// Session 绑定的会话
func (r *Repo[T]) Session() *orm.Session { return r.session }

func (r *Repo[T]) criteria() *orm.Criteria {
	return r.session.CreateCriteria(r.entity.Name)
}

// Get 按主键读取，不存在时返回 NOT_FOUND
func (r *Repo[T]) Get(ctx context.Context, id any) (*T, error) {
	v, err := orm.Get[T](ctx, r.session, id)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, errors.Newf(errors.ErrCodeNotFound, "%s#%v not found", r.entity.Name, id)
	}
	return v, nil
}

// Exists 主键是否存在
func (r *Repo[T]) Exists(ctx context.Context, id any) (bool, error) {
	n, err := r.count(ctx, r.criteria().Add(query.IDEq(id)))
	return n > 0, err
}

// List 按主键顺序的偏移/限制列表
func (r *Repo[T]) List(ctx context.Context, offset, limit int) ([]*T, error) {
	return orm.List[T](ctx, r.criteria().AddOrder(query.Asc("id")).SetFirstResult(offset).SetMaxResults(limit))
}

// ListAll 全部实体
func (r *Repo[T]) ListAll(ctx context.Context) ([]*T, error) {
	return r.List(ctx, 0, 0)
}

// ListByIDs 按主键集合读取
func (r *Repo[T]) ListByIDs(ctx context.Context, ids []any) ([]*T, error) {
	if len(ids) == 0 {
		return []*T{}, nil
	}
	return orm.List[T](ctx, r.criteria().Add(query.In("id", ids...)).AddOrder(query.Asc("id")))
}

// Count 实体总数
func (r *Repo[T]) Count(ctx context.Context) (int64, error) {
	return r.count(ctx, r.criteria())
}

// Find 按过滤条件查询
func (r *Repo[T]) Find(ctx context.Context, filters map[string]string) ([]*T, error) {
	c := r.criteria()
	if err := r.applyFilters(c, filters); err != nil {
		return nil, err
	}
	return orm.List[T](ctx, c.AddOrder(query.Asc("id")))
}

// CountWithFilters 满足过滤条件的数量
func (r *Repo[T]) CountWithFilters(ctx context.Context, filters map[string]string) (int64, error) {
	c := r.criteria()
	if err := r.applyFilters(c, filters); err != nil {
		return 0, err
	}
	return r.count(ctx, c)
}

func (r *Repo[T]) count(ctx context.Context, c *orm.Criteria) (int64, error) {
	v, err := c.SetProjection(query.SelectItem{Func: storage.AggCount}).UniqueResult(ctx)
	if err != nil {
		return 0, err
	}
	row, _ := v.([]any)
	if len(row) == 0 {
		return 0, nil
	}
	return mapping.As[int64](row[0])
}

// Add 登记为待插入
func (r *Repo[T]) Add(ctx context.Context, entity *T) error {
	_, err := r.session.Save(ctx, entity)
	return err
}

// AddAll 批量登记
func (r *Repo[T]) AddAll(ctx context.Context, entities []*T) error {
	for _, e := range entities {
		if err := r.Add(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// Update 显式标记托管实体为需要更新
func (r *Repo[T]) Update(entity *T) error {
	return r.session.Update(entity)
}

// Delete 按主键删除，不存在时返回 NOT_FOUND
func (r *Repo[T]) Delete(ctx context.Context, id any) error {
	v, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	return r.session.Delete(v)
}

// DeleteAll 按主键批量删除，忽略不存在的主键
func (r *Repo[T]) DeleteAll(ctx context.Context, ids []any) error {
	list, err := r.ListByIDs(ctx, ids)
	if err != nil {
		return err
	}
	for _, v := range list {
		if err := r.session.Delete(v); err != nil {
			return err
		}
	}
	return nil
}
