package orm

import (
	"reflect"
	"sort"

	"folio/orm/mapping"
)

// identity 会话内的实体身份：根实体名 + 归一化主键
type identity struct {
	root string
	key  any
}

type status int

const (
	statusNew status = iota
	statusManaged
	statusRemoved
)

func (s status) String() string {
	switch s {
	case statusNew:
		return "new"
	case statusManaged:
		return "managed"
	case statusRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// entry 被会话跟踪的实例
type entry struct {
	entity   *mapping.Entity
	instance any
	key      any
	status   status
	snapshot *snapshot
	// explicit 调用过 Update，提交时写全部列
	explicit bool
	seq      int
}

func (en *entry) identity() identity {
	return identity{root: en.entity.Root().Name, key: en.key}
}

// identityMap 每个身份至多一个实例，同时按指针索引
type identityMap struct {
	entries map[identity]*entry
	byPtr   map[any]*entry
	seq     int
}

func newIdentityMap() *identityMap {
	return &identityMap{
		entries: make(map[identity]*entry),
		byPtr:   make(map[any]*entry),
	}
}

func (m *identityMap) lookup(e *mapping.Entity, key any) (*entry, bool) {
	en, ok := m.entries[identity{root: e.Root().Name, key: key}]
	return en, ok
}

func (m *identityMap) byInstance(v any) (*entry, bool) {
	// 只按指针登记；结构体值可能含切片，不能作为 map 键
	if v == nil || reflect.ValueOf(v).Kind() != reflect.Pointer {
		return nil, false
	}
	en, ok := m.byPtr[v]
	return en, ok
}

func (m *identityMap) add(en *entry) {
	m.seq++
	en.seq = m.seq
	m.entries[en.identity()] = en
	m.byPtr[en.instance] = en
}

func (m *identityMap) remove(en *entry) {
	delete(m.entries, en.identity())
	delete(m.byPtr, en.instance)
}

func (m *identityMap) len() int { return len(m.entries) }

// ordered 按加入顺序返回全部条目
func (m *identityMap) ordered() []*entry {
	out := make([]*entry, 0, len(m.entries))
	for _, en := range m.entries {
		out = append(out, en)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}
