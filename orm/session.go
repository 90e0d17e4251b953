package orm

import (
	"context"
	"reflect"

	"folio/errors"
	"folio/logging"
	"folio/orm/mapping"
	"folio/orm/query"
	"folio/orm/storage"
)

// Session 工作单元：身份映射、待提交变更与当前事务。非并发安全。
type Session struct {
	id       string
	factory  *SessionFactory
	registry *mapping.Registry
	store    storage.Storage
	logger   logging.Logger
	entities *identityMap
	tx       *Transaction
	txSeq    int
	filters  map[string]*Filter
	closed   bool
}

// ID 会话标识
func (s *Session) ID() string { return s.id }

// IsOpen 是否未关闭
func (s *Session) IsOpen() bool { return !s.closed }

// Factory 所属工厂
func (s *Session) Factory() *SessionFactory { return s.factory }

// Transaction 当前事务，未开启时为 nil
func (s *Session) Transaction() *Transaction { return s.tx }

func (s *Session) checkOpen() error {
	if s.closed {
		return errors.Newf(errors.ErrCodeSessionClosed, "session %s is closed", s.id)
	}
	return nil
}

// Close 丢弃身份映射与未提交的变更；绑定到本会话的延迟关联随后访问会失败
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	if s.tx != nil && s.tx.IsActive() {
		s.tx.state = TxRolledBack
	}
	s.logger.Debug(context.Background(), "session closed", logging.Int("tracked", s.entities.len()))
	s.closed = true
	s.tx = nil
	s.entities = newIdentityMap()
	s.filters = nil
	return nil
}

func (s *Session) entity(name string) (*mapping.Entity, error) {
	e, ok := s.registry.Entity(name)
	if !ok {
		return nil, configurationError("unknown entity %q", name)
	}
	return e, nil
}

// Get 按主键获取实体：身份映射命中直接返回，否则从存储加载；不存在时返回 nil, nil。
// 通过子类型名获取时只返回该子类型的行。
func (s *Session) Get(ctx context.Context, entityName string, key any) (any, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	e, err := s.entity(entityName)
	if err != nil {
		return nil, err
	}
	return s.get(ctx, e, key)
}

func (s *Session) get(ctx context.Context, e *mapping.Entity, key any) (any, error) {
	k := mapping.NormalizeKey(key)
	if k == nil {
		return nil, nil
	}
	if en, ok := s.entities.lookup(e, k); ok {
		if en.status == statusRemoved || !en.entity.IsA(e) {
			return nil, nil
		}
		return en.instance, nil
	}
	where := storage.Conjoin(storage.Compare{Column: e.Key.Name, Op: "=", Value: k}, query.Restriction(e))
	rows, err := s.store.ExecuteRead(ctx, s.readRequest(e, where, nil, 0, 0))
	if err != nil {
		return nil, err
	}
	out, err := s.load(ctx, e, rows, nil)
	if err != nil || len(out) == 0 {
		return nil, err
	}
	return out[0], nil
}

// Get 按 Go 类型获取实体
func Get[T any](ctx context.Context, s *Session, key any) (*T, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	e, ok := s.registry.EntityForType(reflect.TypeOf((*T)(nil)))
	if !ok {
		return nil, configurationError("type %s is not a mapped entity", reflect.TypeOf((*T)(nil)).Elem())
	}
	v, err := s.get(ctx, e, key)
	if err != nil || v == nil {
		return nil, err
	}
	return v.(*T), nil
}

// Save 生成主键并登记为待插入；同一实例重复保存返回已有主键
func (s *Session) Save(ctx context.Context, entity any) (any, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if en, ok := s.entities.byInstance(entity); ok {
		if en.status == statusRemoved {
			en.status = statusManaged
		}
		return en.key, nil
	}
	e, err := s.registry.EntityOf(entity)
	if err != nil {
		return nil, err
	}
	if d := e.Discriminator; d != nil {
		if v, _ := d.Value(entity).(string); v == "" {
			if err := d.Assign(entity, e.DiscriminatorValue); err != nil {
				return nil, errors.WrapError(err, errors.ErrCodeInvalidInput, "set discriminator")
			}
		}
	}

	key := e.KeyOf(entity)
	if key == nil {
		g, err := s.factory.keys.Lookup(e.Root().KeyGenerator)
		if err != nil {
			return nil, err
		}
		raw, err := g.NextKey(ctx, e.Root(), entity)
		if err != nil {
			return nil, err
		}
		if err := e.SetKey(entity, raw); err != nil {
			return nil, errors.WrapError(err, errors.ErrCodeInvalidInput, "assign generated key")
		}
		key = e.KeyOf(entity)
	}
	if _, exists := s.entities.lookup(e, key); exists {
		return nil, duplicateError(e, key)
	}

	en := &entry{entity: e, instance: entity, key: key, status: statusNew}
	s.entities.add(en)
	s.attach(en)
	en.snapshot = takeSnapshot(en)
	s.logger.Debug(ctx, "entity saved", logging.Entity(e.Name), logging.Key(key))
	return key, nil
}

// Update 把已跟踪的实体标记为提交时整体更新
func (s *Session) Update(entity any) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	en, ok := s.entities.byInstance(entity)
	if !ok {
		return unmanagedError("cannot update %T: instance is not tracked by this session", entity)
	}
	switch en.status {
	case statusRemoved:
		return unmanagedError("cannot update %s#%v: it is scheduled for removal", en.entity.Name, en.key)
	case statusManaged:
		en.explicit = true
	}
	return nil
}

// Delete 标记删除；尚未插入的实体直接移出会话
func (s *Session) Delete(entity any) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	en, ok := s.entities.byInstance(entity)
	if !ok {
		return unmanagedError("cannot delete %T: instance is not tracked by this session", entity)
	}
	switch en.status {
	case statusNew:
		s.entities.remove(en)
	case statusManaged:
		en.status = statusRemoved
	}
	return nil
}

// Evict 使实例脱离会话，丢弃其未提交的变更
func (s *Session) Evict(entity any) {
	if s.closed {
		return
	}
	if en, ok := s.entities.byInstance(entity); ok {
		s.entities.remove(en)
	}
}

// Contains 实例是否被本会话托管（已标记删除的不算）
func (s *Session) Contains(entity any) bool {
	if s.closed {
		return false
	}
	en, ok := s.entities.byInstance(entity)
	return ok && en.status != statusRemoved
}

// Merge 把脱管实例的状态复制到托管实例上并返回托管实例。
// 带版本的实体版本与存储不一致时返回 StaleEntity 错误。
func (s *Session) Merge(ctx context.Context, detached any) (any, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if _, ok := s.entities.byInstance(detached); ok {
		return detached, nil
	}
	e, err := s.registry.EntityOf(detached)
	if err != nil {
		return nil, err
	}
	key := e.KeyOf(detached)
	if key == nil {
		if _, err := s.Save(ctx, detached); err != nil {
			return nil, err
		}
		return detached, nil
	}

	managed, err := s.get(ctx, e.Root(), key)
	if err != nil {
		return nil, err
	}
	if managed == nil {
		return nil, staleError(e, key, e.VersionOf(detached))
	}
	en, _ := s.entities.byInstance(managed)
	if e.Version != nil && e.VersionOf(detached) != en.entity.VersionOf(managed) {
		return nil, staleError(e, key, e.VersionOf(detached)).
			WithContext("current_version", en.entity.VersionOf(managed))
	}

	for _, c := range e.Columns() {
		if c.Key || c.Version || c.Discriminator {
			continue
		}
		if err := c.Assign(managed, c.Value(detached)); err != nil {
			return nil, errors.WrapError(err, errors.ErrCodeInvalidInput, "merge "+e.Name)
		}
	}
	for _, a := range e.Associations() {
		if a.Kind != mapping.ManyToOne {
			continue
		}
		k := referenceKey(a, detached)
		if mapping.ValuesEqual(k, referenceKey(a, managed)) {
			continue
		}
		if ref := referenceOf(a, managed); ref != nil {
			if k == nil {
				ref.setLoaded(nil)
			} else {
				ref.setKey(k)
			}
		}
	}
	for _, el := range e.Elements() {
		if err := el.SetValues(managed, el.Values(detached)); err != nil {
			return nil, errors.WrapError(err, errors.ErrCodeInvalidInput, "merge "+e.Name)
		}
	}
	s.logger.Debug(ctx, "entity merged", logging.Entity(e.Name), logging.Key(key))
	return managed, nil
}

// attach 把实体的关联字段绑定到本会话；新实体的集合视为已加载
func (s *Session) attach(en *entry) {
	for _, a := range en.entity.Associations() {
		b := &binding{session: s, assoc: a, owner: en.instance}
		switch a.Kind {
		case mapping.ManyToOne:
			if ref := referenceOf(a, en.instance); ref != nil {
				ref.bindTo(b)
			}
		case mapping.OneToMany:
			if coll := collectionOf(a, en.instance); coll != nil {
				coll.bindTo(b)
				if en.status == statusNew {
					coll.markLoaded()
				}
			}
		}
	}
}
