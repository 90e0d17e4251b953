package orm

import (
	"context"
	"sort"

	"folio/errors"
	"folio/logging"
	"folio/orm/mapping"
	"folio/orm/query"
	"folio/orm/storage"
	"folio/patterns/retry"
)

// batchSize 批量 IN 读取的单批主键数
const batchSize = 500

// hierarchyAssociations 实体及其子类型的全部关联（去重）
func hierarchyAssociations(e *mapping.Entity) []*mapping.Association {
	seen := make(map[*mapping.Association]bool)
	var out []*mapping.Association
	var walk func(*mapping.Entity)
	walk = func(cur *mapping.Entity) {
		for _, a := range cur.Associations() {
			if !seen[a] {
				seen[a] = true
				out = append(out, a)
			}
		}
		for _, sub := range cur.Subtypes {
			walk(sub)
		}
	}
	walk(e)
	return out
}

// readColumns 多态读取需要的列：层次内全部标量列与 many-to-one 外键列
func readColumns(e *mapping.Entity) []string {
	var cols []string
	seen := make(map[string]bool)
	for _, c := range e.HierarchyColumns() {
		seen[c.Name] = true
		cols = append(cols, c.Name)
	}
	for _, a := range hierarchyAssociations(e) {
		if a.Kind == mapping.ManyToOne && !seen[a.Column] {
			seen[a.Column] = true
			cols = append(cols, a.Column)
		}
	}
	return cols
}

// stableOrder 在排序末尾追加主键，保证分页稳定
func stableOrder(e *mapping.Entity, order []storage.Order) []storage.Order {
	for _, o := range order {
		if o.Column == e.Key.Name {
			return order
		}
	}
	out := make([]storage.Order, 0, len(order)+1)
	out = append(out, order...)
	return append(out, storage.Order{Column: e.Key.Name})
}

func (s *Session) readRequest(e *mapping.Entity, where storage.Predicate, order []storage.Order, offset, limit int) storage.ReadRequest {
	return storage.ReadRequest{
		Table:   e.Table,
		Columns: readColumns(e),
		Where:   where,
		OrderBy: order,
		Offset:  offset,
		Limit:   limit,
	}
}

// secondaryRead 关联的批量读取，遇到存储错误按工厂的重试策略重试
func (s *Session) secondaryRead(ctx context.Context, req storage.ReadRequest) ([]storage.Row, error) {
	var rows []storage.Row
	err := retry.Do(ctx, func(ctx context.Context, attempt int) error {
		var err error
		rows, err = s.store.ExecuteRead(ctx, req)
		if err != nil {
			s.logger.Warn(ctx, "association read failed",
				logging.String("table", req.Table), logging.Int("attempt", attempt), logging.Error(err))
		}
		return err
	}, s.factory.retry)
	return rows, err
}

// load 把主查询的行转换为实例（保持行序），并初始化新加载的实例
func (s *Session) load(ctx context.Context, e *mapping.Entity, rows []storage.Row, fetch map[string]mapping.FetchMode) ([]any, error) {
	var fresh []*entry
	out := make([]any, 0, len(rows))
	for _, row := range rows {
		en, isNew, err := s.materialize(e, row, "")
		if err != nil {
			return nil, err
		}
		if en == nil {
			continue
		}
		if isNew {
			fresh = append(fresh, en)
		}
		if en.status != statusRemoved {
			out = append(out, en.instance)
		}
	}
	if err := s.initialize(ctx, fresh, fetch, nil); err != nil {
		return nil, err
	}
	return out, nil
}

// materialize 把一行转换为托管实例。身份已在会话中时返回已有实例，不用行数据覆盖。
// prefix 非空时读取 Join 的关联表列；该侧主键为空（无匹配行）时返回 nil。
func (s *Session) materialize(base *mapping.Entity, row storage.Row, prefix string) (*entry, bool, error) {
	key := mapping.NormalizeKey(row[prefix+base.Key.Name])
	if key == nil {
		return nil, false, nil
	}
	if en, ok := s.entities.lookup(base, key); ok {
		return en, false, nil
	}

	e := base.Root()
	if d := e.Discriminator; d != nil {
		disc, _ := mapping.As[string](row[prefix+d.Name])
		concrete, ok := base.Resolve(disc)
		if !ok {
			return nil, false, configurationError("%s#%v has unknown discriminator value %q", base.Name, key, disc)
		}
		e = concrete
	}

	instance := e.New()
	for _, c := range e.Columns() {
		v, ok := row[prefix+c.Name]
		if !ok {
			continue
		}
		if err := c.Assign(instance, v); err != nil {
			return nil, false, errors.WrapError(err, errors.ErrCodeDatabase, "materialize "+e.Name)
		}
	}

	en := &entry{entity: e, instance: instance, key: key, status: statusManaged}
	s.entities.add(en)
	s.attach(en)
	for _, a := range e.Associations() {
		if a.Kind != mapping.ManyToOne {
			continue
		}
		if ref := referenceOf(a, instance); ref != nil {
			if fk := mapping.NormalizeKey(row[prefix+a.Column]); fk != nil {
				ref.setKey(fk)
			} else {
				ref.setLoaded(nil)
			}
		}
	}
	return en, true, nil
}

// initialize 加载新实例的值集合、记录快照，并按抓取策略预加载关联；
// skip 为已由 Join 读取填充的关联。
func (s *Session) initialize(ctx context.Context, fresh []*entry, fetch map[string]mapping.FetchMode, skip *mapping.Association) error {
	if len(fresh) == 0 {
		return nil
	}
	if err := s.loadElements(ctx, fresh); err != nil {
		return err
	}
	for _, en := range fresh {
		en.snapshot = takeSnapshot(en)
	}

	var assocs []*mapping.Association
	owners := make(map[*mapping.Association][]*entry)
	for _, en := range fresh {
		for _, a := range en.entity.Associations() {
			if a == skip {
				continue
			}
			mode := a.Fetch
			if m, ok := fetch[a.Name]; ok {
				mode = m
			}
			if mode == mapping.FetchLazy {
				continue
			}
			if _, ok := owners[a]; !ok {
				assocs = append(assocs, a)
			}
			owners[a] = append(owners[a], en)
		}
	}

	var next []*entry
	for _, a := range assocs {
		var loaded []*entry
		var err error
		if a.Kind == mapping.ManyToOne {
			loaded, err = s.fetchReferences(ctx, a, owners[a])
		} else {
			loaded, err = s.fetchCollections(ctx, a, owners[a])
		}
		if err != nil {
			return err
		}
		next = append(next, loaded...)
	}
	return s.initialize(ctx, next, nil, nil)
}

// loadElements 按值集合批量读取元素
func (s *Session) loadElements(ctx context.Context, fresh []*entry) error {
	var elems []*mapping.ElementCollection
	owners := make(map[*mapping.ElementCollection][]*entry)
	for _, en := range fresh {
		for _, el := range en.entity.Elements() {
			if _, ok := owners[el]; !ok {
				elems = append(elems, el)
			}
			owners[el] = append(owners[el], en)
		}
	}
	for _, el := range elems {
		list := owners[el]
		values := make(map[any][]any, len(list))
		for _, keys := range chunkKeys(list) {
			rows, err := s.secondaryRead(ctx, storage.ReadRequest{
				Table:   el.Table,
				Columns: []string{el.KeyColumn, el.ValueColumn},
				Where:   storage.In{Column: el.KeyColumn, Values: keys},
				OrderBy: []storage.Order{{Column: el.KeyColumn}, {Column: el.ValueColumn}},
			})
			if err != nil {
				return err
			}
			for _, row := range rows {
				k := mapping.NormalizeKey(row[el.KeyColumn])
				values[k] = append(values[k], row[el.ValueColumn])
			}
		}
		for _, en := range list {
			if err := el.SetValues(en.instance, values[en.key]); err != nil {
				return errors.WrapError(err, errors.ErrCodeDatabase, "load "+en.entity.Name+"."+el.Property)
			}
		}
	}
	return nil
}

func chunkKeys(list []*entry) [][]any {
	var out [][]any
	for start := 0; start < len(list); start += batchSize {
		end := min(start+batchSize, len(list))
		keys := make([]any, 0, end-start)
		for _, en := range list[start:end] {
			keys = append(keys, en.key)
		}
		out = append(out, keys)
	}
	return out
}

// fetchReferences 批量加载 many-to-one 目标，返回新加载的实例
func (s *Session) fetchReferences(ctx context.Context, a *mapping.Association, owners []*entry) ([]*entry, error) {
	var missing []any
	seen := make(map[any]bool)
	for _, en := range owners {
		ref := referenceOf(a, en.instance)
		if ref == nil {
			continue
		}
		key, _, loaded := ref.refState()
		if loaded || key == nil || seen[key] {
			continue
		}
		seen[key] = true
		if _, ok := s.entities.lookup(a.Target, key); !ok {
			missing = append(missing, key)
		}
	}

	var fresh []*entry
	for start := 0; start < len(missing); start += batchSize {
		keys := missing[start:min(start+batchSize, len(missing))]
		where := storage.Conjoin(storage.In{Column: a.Target.Key.Name, Values: keys}, query.Restriction(a.Target))
		rows, err := s.secondaryRead(ctx, s.readRequest(a.Target, where, []storage.Order{{Column: a.Target.Key.Name}}, 0, 0))
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			en, isNew, err := s.materialize(a.Target, row, "")
			if err != nil {
				return nil, err
			}
			if isNew {
				fresh = append(fresh, en)
			}
		}
	}

	for _, en := range owners {
		ref := referenceOf(a, en.instance)
		if ref == nil {
			continue
		}
		key, _, loaded := ref.refState()
		if loaded || key == nil {
			continue
		}
		if target, ok := s.entities.lookup(a.Target, key); ok && target.status != statusRemoved {
			ref.setLoaded(target.instance)
		}
	}
	return fresh, nil
}

// fetchCollections 以 FK IN (宿主主键) 一次读取多个宿主的集合
func (s *Session) fetchCollections(ctx context.Context, a *mapping.Association, owners []*entry) ([]*entry, error) {
	fk := a.Inverse.Column
	groups := make(map[any][]any, len(owners))
	var fresh []*entry
	for _, keys := range chunkKeys(owners) {
		where := storage.Conjoin(storage.In{Column: fk, Values: keys}, query.Restriction(a.Target))
		rows, err := s.secondaryRead(ctx, s.readRequest(a.Target, where, []storage.Order{{Column: a.Target.Key.Name}}, 0, 0))
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			en, isNew, err := s.materialize(a.Target, row, "")
			if err != nil {
				return nil, err
			}
			if isNew {
				fresh = append(fresh, en)
			}
			if en.status == statusRemoved {
				continue
			}
			owner := mapping.NormalizeKey(row[fk])
			groups[owner] = append(groups[owner], en.instance)
		}
	}
	for _, en := range owners {
		if coll := collectionOf(a, en.instance); coll != nil {
			if _, loaded := coll.collState(); !loaded {
				coll.setItems(groups[en.key])
			}
		}
	}
	return fresh, nil
}

// loadReference Reference.Get 的延迟加载
func (s *Session) loadReference(ctx context.Context, a *mapping.Association, key any) (any, error) {
	s.logger.Debug(ctx, "lazy reference load", logging.String("association", a.Owner.Name+"."+a.Name), logging.Key(key))
	return s.get(ctx, a.Target, key)
}

// loadCollection Collection.All 的延迟加载，按目标主键排序
func (s *Session) loadCollection(ctx context.Context, a *mapping.Association, owner any) ([]any, error) {
	ownerKey := a.Owner.KeyOf(owner)
	if ownerKey == nil {
		return nil, nil
	}
	s.logger.Debug(ctx, "lazy collection load", logging.String("association", a.Owner.Name+"."+a.Name), logging.Key(ownerKey))
	where := storage.Conjoin(storage.Compare{Column: a.Inverse.Column, Op: "=", Value: ownerKey}, query.Restriction(a.Target))
	rows, err := s.store.ExecuteRead(ctx, s.readRequest(a.Target, where, []storage.Order{{Column: a.Target.Key.Name}}, 0, 0))
	if err != nil {
		return nil, err
	}
	return s.load(ctx, a.Target, rows, nil)
}

// listJoined 用一次 LEFT JOIN 读取宿主与关联，分页作用于去重后的宿主
func (s *Session) listJoined(ctx context.Context, e *mapping.Entity, where storage.Predicate, order []storage.Order,
	fetch map[string]mapping.FetchMode, a *mapping.Association, offset, limit int) ([]any, error) {
	join := &storage.Join{Table: a.Target.Table, Columns: readColumns(a.Target)}
	if a.Kind == mapping.ManyToOne {
		join.LocalColumn, join.ForeignColumn = a.Column, a.Target.Key.Name
	} else {
		join.LocalColumn, join.ForeignColumn = e.Key.Name, a.Inverse.Column
	}
	req := s.readRequest(e, where, stableOrder(e, order), 0, 0)
	req.Join = join
	rows, err := s.store.ExecuteRead(ctx, req)
	if err != nil {
		return nil, err
	}

	var owners []*entry
	var fresh, freshChildren []*entry
	children := make(map[*entry][]*entry)
	for _, row := range rows {
		owner, isNew, err := s.materialize(e, row, "")
		if err != nil {
			return nil, err
		}
		if owner == nil {
			continue
		}
		if _, seen := children[owner]; !seen {
			children[owner] = nil
			owners = append(owners, owner)
			if isNew {
				fresh = append(fresh, owner)
			}
		}
		child, childNew, err := s.materialize(a.Target, row, storage.JoinPrefix)
		if err != nil {
			return nil, err
		}
		if child == nil {
			continue
		}
		if childNew {
			freshChildren = append(freshChildren, child)
		}
		if !containsEntry(children[owner], child) {
			children[owner] = append(children[owner], child)
		}
	}

	for _, owner := range owners {
		list := children[owner]
		switch a.Kind {
		case mapping.ManyToOne:
			if ref := referenceOf(a, owner.instance); ref != nil {
				if _, _, loaded := ref.refState(); !loaded && len(list) > 0 {
					ref.setLoaded(list[0].instance)
				}
			}
		case mapping.OneToMany:
			if coll := collectionOf(a, owner.instance); coll != nil {
				if _, loaded := coll.collState(); !loaded {
					sort.SliceStable(list, func(i, j int) bool { return compareCanonical(list[i].key, list[j].key) < 0 })
					items := make([]any, 0, len(list))
					for _, c := range list {
						if c.status != statusRemoved {
							items = append(items, c.instance)
						}
					}
					coll.setItems(items)
				}
			}
		}
	}

	if err := s.initialize(ctx, fresh, fetch, a); err != nil {
		return nil, err
	}
	if err := s.initialize(ctx, freshChildren, nil, nil); err != nil {
		return nil, err
	}

	page := pageOf(owners, offset, limit)
	out := make([]any, 0, len(page))
	for _, en := range page {
		if en.status != statusRemoved {
			out = append(out, en.instance)
		}
	}
	return out, nil
}

func containsEntry(list []*entry, en *entry) bool {
	for _, x := range list {
		if x == en {
			return true
		}
	}
	return false
}

// pageOf 返回 min(limit, max(0, n-offset)) 个元素；limit <= 0 表示不限制
func pageOf[T any](list []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(list) {
		return nil
	}
	list = list[offset:]
	if limit > 0 && limit < len(list) {
		list = list[:limit]
	}
	return list
}
