package orm

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"folio/errors"
	"folio/logging"
	"folio/orm/changefeed"
	"folio/orm/mapping"
	"folio/orm/storage"
	"folio/validation"
)

// change 一条待写入的实体变更
type change struct {
	en     *entry
	op     storage.Op
	values map[string]any
	where  storage.Predicate
	// elements 需要重写的值集合
	elements []*mapping.ElementCollection
	names    []string
	version  int64
}

// flushPlan 按外键层级排好序的写入计划
type flushPlan struct {
	inserts []*change
	updates []*change
	deletes []*change
}

func (p *flushPlan) empty() bool {
	return len(p.inserts) == 0 && len(p.updates) == 0 && len(p.deletes) == 0
}

// flush 计算变更并在一个存储事务内写入；成功后更新会话状态并返回变更事件
func (s *Session) flush(ctx context.Context) ([]changefeed.Event, error) {
	if err := s.cascadeSave(ctx); err != nil {
		return nil, err
	}
	if err := s.cascadeDelete(ctx); err != nil {
		return nil, err
	}
	plan, err := s.planFlush()
	if err != nil {
		return nil, err
	}
	if plan.empty() {
		return nil, nil
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.apply(ctx, tx, plan); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn(ctx, "storage rollback failed", logging.Error(rbErr))
		}
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "commit")
	}
	return s.finish(ctx, plan), nil
}

// cascadeSave 沿 save-update 级联保存可达的瞬时实例，直到不再有新实例
func (s *Session) cascadeSave(ctx context.Context) error {
	for {
		added := false
		for _, en := range s.entities.ordered() {
			if en.status == statusRemoved {
				continue
			}
			for _, a := range en.entity.Associations() {
				if !a.CascadeSave {
					continue
				}
				for _, target := range associated(a, en.instance) {
					if _, ok := s.entities.byInstance(target); ok {
						continue
					}
					if _, err := s.Save(ctx, target); err != nil {
						return err
					}
					added = true
				}
			}
		}
		if !added {
			return nil
		}
	}
}

// associated 已在内存中的关联实例，不触发加载
func associated(a *mapping.Association, owner any) []any {
	switch a.Kind {
	case mapping.ManyToOne:
		if ref := referenceOf(a, owner); ref != nil {
			if _, target, _ := ref.refState(); target != nil {
				return []any{target}
			}
		}
	case mapping.OneToMany:
		if coll := collectionOf(a, owner); coll != nil {
			items, _ := coll.collState()
			return items
		}
	}
	return nil
}

// cascadeDelete 沿 delete 级联删除，必要时加载集合
func (s *Session) cascadeDelete(ctx context.Context) error {
	done := make(map[*entry]bool)
	for {
		progressed := false
		for _, en := range s.entities.ordered() {
			if en.status != statusRemoved || done[en] {
				continue
			}
			done[en] = true
			progressed = true
			for _, a := range en.entity.Associations() {
				if !a.CascadeDelete {
					continue
				}
				targets, err := s.cascadeTargets(ctx, a, en.instance)
				if err != nil {
					return err
				}
				for _, t := range targets {
					if child, ok := s.entities.byInstance(t); ok && child.status != statusRemoved {
						if err := s.Delete(t); err != nil {
							return err
						}
					}
				}
			}
		}
		if !progressed {
			return nil
		}
	}
}

func (s *Session) cascadeTargets(ctx context.Context, a *mapping.Association, owner any) ([]any, error) {
	switch a.Kind {
	case mapping.OneToMany:
		coll := collectionOf(a, owner)
		if coll == nil {
			return nil, nil
		}
		if items, loaded := coll.collState(); loaded {
			return items, nil
		}
		items, err := s.loadCollection(ctx, a, owner)
		if err != nil {
			return nil, err
		}
		coll.setItems(items)
		all, _ := coll.collState()
		return all, nil
	case mapping.ManyToOne:
		ref := referenceOf(a, owner)
		if ref == nil {
			return nil, nil
		}
		key, target, loaded := ref.refState()
		if !loaded && key != nil {
			v, err := s.loadReference(ctx, a, key)
			if err != nil {
				return nil, err
			}
			ref.setLoaded(v)
			target = v
		}
		if target != nil {
			return []any{target}, nil
		}
	}
	return nil, nil
}

func (s *Session) planFlush() (*flushPlan, error) {
	plan := &flushPlan{}
	for _, en := range s.entities.ordered() {
		switch en.status {
		case statusNew:
			c, err := s.insertChange(en)
			if err != nil {
				return nil, err
			}
			plan.inserts = append(plan.inserts, c)
		case statusManaged:
			c, err := s.updateChange(en)
			if err != nil {
				return nil, err
			}
			if c != nil {
				plan.updates = append(plan.updates, c)
			}
		case statusRemoved:
			plan.deletes = append(plan.deletes, s.deleteChange(en))
		}
	}

	for _, c := range append(append([]*change(nil), plan.inserts...), plan.updates...) {
		if v, ok := c.en.instance.(validation.IValidator); ok {
			if err := v.Validate(); err != nil {
				if !errors.IsValidation(err) {
					err = errors.WrapError(err, errors.ErrCodeValidation, "validate "+c.en.entity.Name)
				}
				return nil, err
			}
		}
	}

	byRank := func(list []*change, desc bool) {
		sort.SliceStable(list, func(i, j int) bool {
			ri, rj := list[i].en.entity.Rank(), list[j].en.entity.Rank()
			if ri != rj {
				if desc {
					return ri > rj
				}
				return ri < rj
			}
			return list[i].en.seq < list[j].en.seq
		})
	}
	byRank(plan.inserts, false)
	byRank(plan.updates, false)
	byRank(plan.deletes, true)
	return plan, nil
}

// foreignKeys many-to-one 外键值；指向未跟踪且无主键的瞬时实例时报错
func (s *Session) foreignKeys(en *entry) (map[string]any, error) {
	out := make(map[string]any)
	for _, a := range en.entity.Associations() {
		if a.Kind != mapping.ManyToOne {
			continue
		}
		ref := referenceOf(a, en.instance)
		if ref == nil {
			continue
		}
		key, target, _ := ref.refState()
		if target != nil {
			key = a.Target.KeyOf(target)
			if _, tracked := s.entities.byInstance(target); !tracked && key == nil {
				return nil, unmanagedError("%s#%v.%s references a transient %s instance; save it first",
					en.entity.Name, en.key, a.Name, a.Target.Name)
			}
		}
		out[a.Column] = key
	}
	return out, nil
}

func (s *Session) insertChange(en *entry) (*change, error) {
	fks, err := s.foreignKeys(en)
	if err != nil {
		return nil, err
	}
	values := make(map[string]any, len(en.entity.Columns())+len(fks))
	for _, c := range en.entity.Columns() {
		values[c.Name] = c.Value(en.instance)
	}
	for col, v := range fks {
		values[col] = v
	}
	return &change{
		en:       en,
		op:       storage.OpInsert,
		values:   values,
		elements: en.entity.Elements(),
		version:  en.entity.VersionOf(en.instance),
	}, nil
}

func (s *Session) updateChange(en *entry) (*change, error) {
	e := en.entity
	cur := takeSnapshot(en)
	d := diff(e, en.snapshot, cur)
	if d.empty() && !en.explicit {
		return nil, nil
	}

	fks, err := s.foreignKeys(en)
	if err != nil {
		return nil, err
	}
	values := make(map[string]any)
	if en.explicit {
		for _, c := range e.Columns() {
			if !c.Key {
				values[c.Name] = cur.values[c.Name]
			}
		}
		for col, v := range fks {
			values[col] = v
		}
	} else {
		for _, col := range d.columns {
			values[col] = cur.values[col]
		}
	}

	where := storage.Predicate(storage.Compare{Column: e.Key.Name, Op: "=", Value: en.key})
	var version int64
	if e.Version != nil {
		old, _ := mapping.As[int64](en.snapshot.values[e.Version.Name])
		version = old + 1
		values[e.Version.Name] = version
		where = storage.And{where, storage.Compare{Column: e.Version.Name, Op: "=", Value: old}}
	}
	return &change{
		en:       en,
		op:       storage.OpUpdate,
		values:   values,
		where:    where,
		elements: d.elements,
		names:    d.names,
		version:  version,
	}, nil
}

func (s *Session) deleteChange(en *entry) *change {
	e := en.entity
	where := storage.Predicate(storage.Compare{Column: e.Key.Name, Op: "=", Value: en.key})
	var version int64
	if e.Version != nil {
		version, _ = mapping.As[int64](en.snapshot.values[e.Version.Name])
		where = storage.And{where, storage.Compare{Column: e.Version.Name, Op: "=", Value: version}}
	}
	return &change{en: en, op: storage.OpDelete, where: where, elements: e.Elements(), version: version}
}

// apply 依次执行插入、更新、删除
func (s *Session) apply(ctx context.Context, exec storage.Executor, plan *flushPlan) error {
	for _, c := range plan.inserts {
		if _, err := exec.ExecuteWrite(ctx, storage.WriteRequest{Table: c.en.entity.Table, Op: storage.OpInsert, Values: c.values}); err != nil {
			return errors.Wrap(ctx, err, errors.GetErrorCode(err), "insert "+c.en.entity.Name)
		}
		if err := s.writeElements(ctx, exec, c.en, c.elements, false); err != nil {
			return err
		}
	}
	for _, c := range plan.updates {
		if len(c.values) > 0 {
			res, err := exec.ExecuteWrite(ctx, storage.WriteRequest{Table: c.en.entity.Table, Op: storage.OpUpdate, Values: c.values, Where: c.where})
			if err != nil {
				return errors.Wrap(ctx, err, errors.GetErrorCode(err), "update "+c.en.entity.Name)
			}
			if res.RowsAffected == 0 {
				return staleError(c.en.entity, c.en.key, c.en.entity.VersionOf(c.en.instance))
			}
		}
		if err := s.writeElements(ctx, exec, c.en, c.elements, true); err != nil {
			return err
		}
	}
	for _, c := range plan.deletes {
		for _, el := range c.elements {
			if _, err := exec.ExecuteWrite(ctx, storage.WriteRequest{
				Table: el.Table, Op: storage.OpDelete,
				Where: storage.Compare{Column: el.KeyColumn, Op: "=", Value: c.en.key},
			}); err != nil {
				return err
			}
		}
		res, err := exec.ExecuteWrite(ctx, storage.WriteRequest{Table: c.en.entity.Table, Op: storage.OpDelete, Where: c.where})
		if err != nil {
			return errors.Wrap(ctx, err, errors.GetErrorCode(err), "delete "+c.en.entity.Name)
		}
		if res.RowsAffected == 0 {
			return staleError(c.en.entity, c.en.key, c.version)
		}
	}
	return nil
}

// writeElements 写入值集合；replace 时先删除旧元素
func (s *Session) writeElements(ctx context.Context, exec storage.Executor, en *entry, elems []*mapping.ElementCollection, replace bool) error {
	for _, el := range elems {
		if replace {
			if _, err := exec.ExecuteWrite(ctx, storage.WriteRequest{
				Table: el.Table, Op: storage.OpDelete,
				Where: storage.Compare{Column: el.KeyColumn, Op: "=", Value: en.key},
			}); err != nil {
				return err
			}
		}
		for _, v := range el.Values(en.instance) {
			if _, err := exec.ExecuteWrite(ctx, storage.WriteRequest{
				Table: el.Table, Op: storage.OpInsert,
				Values: map[string]any{el.KeyColumn: en.key, el.ValueColumn: v},
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// finish 存储提交成功后同步会话状态并生成事件
func (s *Session) finish(ctx context.Context, plan *flushPlan) []changefeed.Event {
	now := time.Now().UTC()
	events := make([]changefeed.Event, 0, len(plan.inserts)+len(plan.updates)+len(plan.deletes))
	event := func(c *change, op changefeed.Operation) changefeed.Event {
		return changefeed.Event{
			ID:          uuid.NewString(),
			SessionID:   s.id,
			Entity:      c.en.entity.Name,
			Key:         c.en.key,
			Operation:   op,
			Version:     c.version,
			Changed:     c.names,
			CommittedAt: now,
		}
	}
	for _, c := range plan.inserts {
		c.en.status = statusManaged
		c.en.explicit = false
		c.en.snapshot = takeSnapshot(c.en)
		events = append(events, event(c, changefeed.OpInsert))
	}
	for _, c := range plan.updates {
		if c.en.entity.Version != nil {
			if err := c.en.entity.SetVersion(c.en.instance, c.version); err != nil {
				s.logger.Warn(ctx, "version not written back", logging.Error(err),
					logging.Entity(c.en.entity.Name), logging.Key(c.en.key))
			}
		}
		c.en.explicit = false
		c.en.snapshot = takeSnapshot(c.en)
		events = append(events, event(c, changefeed.OpUpdate))
	}
	for _, c := range plan.deletes {
		s.entities.remove(c.en)
		events = append(events, event(c, changefeed.OpDelete))
	}
	return events
}
