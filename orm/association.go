package orm

import (
	"context"
	"reflect"

	"folio/errors"
	"folio/orm/mapping"
)

// binding 关联字段与所属会话、映射和宿主实例的绑定
type binding struct {
	session *Session
	assoc   *mapping.Association
	owner   any
}

func (b *binding) check() error {
	if b == nil {
		return nil
	}
	if b.session.closed {
		return lazyLoadError(b.assoc, "the owning session is closed")
	}
	return nil
}

// referenceField Reference[T] 的内部视图
type referenceField interface {
	bindTo(b *binding)
	refState() (key any, target any, loaded bool)
	setLoaded(target any)
	setKey(key any)
	targetType() reflect.Type
}

// collectionField Collection[T] 的内部视图
type collectionField interface {
	bindTo(b *binding)
	// collState 已加载时返回全部元素，否则返回尚未持久化的待添加元素
	collState() (items []any, loaded bool)
	setItems(items []any)
	markLoaded()
	targetType() reflect.Type
}

// Reference many-to-one 关联。持有目标实例或仅持有外键，后者在首次 Get 时从所属会话加载。
type Reference[T any] struct {
	key    any
	target *T
	loaded bool
	bind   *binding
}

// Set 指向目标实例，nil 清空关联
func (r *Reference[T]) Set(target *T) {
	r.target = target
	r.key = nil
	r.loaded = true
}

// SetKey 只设置外键，目标在访问时加载
func (r *Reference[T]) SetKey(key any) {
	r.key = mapping.NormalizeKey(key)
	r.target = nil
	r.loaded = r.key == nil
}

// Key 外键值；未关联时为 nil
func (r *Reference[T]) Key() any {
	if r.target != nil && r.bind != nil {
		return r.bind.assoc.Target.KeyOf(r.target)
	}
	return r.key
}

// Loaded 目标是否已在内存中
func (r *Reference[T]) Loaded() bool { return r.loaded }

// Get 返回目标实例，必要时通过所属会话加载
func (r *Reference[T]) Get(ctx context.Context) (*T, error) {
	if r.loaded || r.key == nil {
		return r.target, nil
	}
	if r.bind == nil {
		return nil, errors.Newf(errors.ErrCodeLazyLoad, "reference to %s#%v is not attached to a session", r.targetType().Name(), r.key)
	}
	if err := r.bind.check(); err != nil {
		return nil, err
	}
	v, err := r.bind.session.loadReference(ctx, r.bind.assoc, r.key)
	if err != nil {
		return nil, err
	}
	r.setLoaded(v)
	return r.target, nil
}

func (r *Reference[T]) bindTo(b *binding) { r.bind = b }

func (r *Reference[T]) refState() (any, any, bool) {
	if r.target == nil {
		return r.key, nil, r.loaded
	}
	return r.key, r.target, r.loaded
}

func (r *Reference[T]) setLoaded(target any) {
	r.loaded = true
	if target == nil {
		r.target = nil
		return
	}
	r.target = target.(*T)
	if r.bind != nil {
		r.key = r.bind.assoc.Target.KeyOf(r.target)
	}
}

func (r *Reference[T]) setKey(key any) {
	r.key = mapping.NormalizeKey(key)
	r.target = nil
	r.loaded = r.key == nil
}

func (r *Reference[T]) targetType() reflect.Type { return reflect.TypeOf((*T)(nil)).Elem() }

// Collection one-to-many 关联（反向端）。首次 All 时从所属会话加载；
// 加载前 Add 的元素暂存，加载后合并。
type Collection[T any] struct {
	items   []*T
	loaded  bool
	pending []*T
	bind    *binding
}

// Add 添加元素；外键由元素一侧的 many-to-one 决定
func (c *Collection[T]) Add(items ...*T) {
	for _, it := range items {
		if it == nil {
			continue
		}
		if c.loaded {
			if !containsPtr(c.items, it) {
				c.items = append(c.items, it)
			}
		} else if !containsPtr(c.pending, it) {
			c.pending = append(c.pending, it)
		}
	}
}

// Loaded 是否已初始化
func (c *Collection[T]) Loaded() bool { return c.loaded }

// All 返回全部元素，必要时通过所属会话加载
func (c *Collection[T]) All(ctx context.Context) ([]*T, error) {
	if c.loaded {
		return append([]*T(nil), c.items...), nil
	}
	if c.bind == nil {
		return append([]*T(nil), c.pending...), nil
	}
	if err := c.bind.check(); err != nil {
		return nil, err
	}
	loaded, err := c.bind.session.loadCollection(ctx, c.bind.assoc, c.bind.owner)
	if err != nil {
		return nil, err
	}
	c.setItems(loaded)
	return append([]*T(nil), c.items...), nil
}

func (c *Collection[T]) bindTo(b *binding) { c.bind = b }

func (c *Collection[T]) collState() ([]any, bool) {
	src := c.pending
	if c.loaded {
		src = c.items
	}
	out := make([]any, len(src))
	for i, it := range src {
		out[i] = it
	}
	return out, c.loaded
}

func (c *Collection[T]) setItems(items []any) {
	c.items = make([]*T, 0, len(items)+len(c.pending))
	for _, it := range items {
		c.items = append(c.items, it.(*T))
	}
	for _, it := range c.pending {
		if !containsPtr(c.items, it) {
			c.items = append(c.items, it)
		}
	}
	c.pending = nil
	c.loaded = true
}

func (c *Collection[T]) markLoaded() {
	if c.loaded {
		return
	}
	c.setItems(nil)
}

func (c *Collection[T]) targetType() reflect.Type { return reflect.TypeOf((*T)(nil)).Elem() }

func containsPtr[T any](list []*T, it *T) bool {
	for _, x := range list {
		if x == it {
			return true
		}
	}
	return false
}

func referenceOf(a *mapping.Association, owner any) referenceField {
	fv := a.FieldValue(owner)
	if !fv.IsValid() || !fv.CanAddr() {
		return nil
	}
	ref, _ := fv.Addr().Interface().(referenceField)
	return ref
}

func collectionOf(a *mapping.Association, owner any) collectionField {
	fv := a.FieldValue(owner)
	if !fv.IsValid() || !fv.CanAddr() {
		return nil
	}
	coll, _ := fv.Addr().Interface().(collectionField)
	return coll
}

// referenceKey many-to-one 当前指向的外键
func referenceKey(a *mapping.Association, owner any) any {
	ref := referenceOf(a, owner)
	if ref == nil {
		return nil
	}
	key, target, _ := ref.refState()
	if target != nil {
		return a.Target.KeyOf(target)
	}
	return key
}
