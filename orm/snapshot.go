package orm

import (
	"bytes"
	"cmp"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"

	"folio/orm/mapping"
)

// snapshot 实体在加载或上次提交时的持久化状态
type snapshot struct {
	// values 列名到规范值，包含 many-to-one 外键列
	values map[string]any
	// elements 值集合属性到元素（存储顺序）
	elements map[string][]any
	sum      uint64
}

// delta 快照之间的差异
type delta struct {
	columns  []string
	names    []string
	elements []*mapping.ElementCollection
}

func (d delta) empty() bool {
	return len(d.columns) == 0 && len(d.elements) == 0
}

func takeSnapshot(en *entry) *snapshot {
	e := en.entity
	snap := &snapshot{
		values:   make(map[string]any, len(e.Columns())+len(e.Associations())),
		elements: make(map[string][]any, len(e.Elements())),
	}
	for _, c := range e.Columns() {
		snap.values[c.Name] = c.Value(en.instance)
	}
	for _, a := range e.Associations() {
		if a.Kind == mapping.ManyToOne {
			snap.values[a.Column] = referenceKey(a, en.instance)
		}
	}
	for _, el := range e.Elements() {
		snap.elements[el.Property] = el.Values(en.instance)
	}
	snap.sum = fingerprint(snap)
	return snap
}

// fingerprint 状态的 msgpack 编码哈希，相同指纹视为未修改；编码失败返回 0
func fingerprint(snap *snapshot) uint64 {
	flat := make([]any, 0, 2*(len(snap.values)+len(snap.elements)))
	for _, name := range sortedKeys(snap.values) {
		flat = append(flat, name, snap.values[name])
	}
	for _, name := range sortedKeys(snap.elements) {
		flat = append(flat, name, sortedBag(snap.elements[name]))
	}
	data, err := msgpack.Marshal(flat)
	if err != nil {
		return 0
	}
	return xxhash.Sum64(data)
}

func diff(e *mapping.Entity, old, cur *snapshot) delta {
	var d delta
	if old.sum != 0 && old.sum == cur.sum {
		return d
	}
	for _, c := range e.Columns() {
		if c.Key {
			continue
		}
		if !mapping.ValuesEqual(old.values[c.Name], cur.values[c.Name]) {
			d.columns = append(d.columns, c.Name)
			d.names = append(d.names, c.Property)
		}
	}
	for _, a := range e.Associations() {
		if a.Kind != mapping.ManyToOne {
			continue
		}
		if !mapping.ValuesEqual(old.values[a.Column], cur.values[a.Column]) {
			d.columns = append(d.columns, a.Column)
			d.names = append(d.names, a.Name)
		}
	}
	for _, el := range e.Elements() {
		if !sameBag(old.elements[el.Property], cur.elements[el.Property]) {
			d.elements = append(d.elements, el)
			d.names = append(d.names, el.Property)
		}
	}
	return d
}

// restore 把实例恢复为快照状态
func restore(en *entry, snap *snapshot) error {
	e := en.entity
	for _, c := range e.Columns() {
		if err := c.Assign(en.instance, snap.values[c.Name]); err != nil {
			return err
		}
	}
	for _, a := range e.Associations() {
		if a.Kind != mapping.ManyToOne {
			continue
		}
		ref := referenceOf(a, en.instance)
		if ref == nil {
			continue
		}
		if key := snap.values[a.Column]; !mapping.ValuesEqual(referenceKey(a, en.instance), key) {
			if key == nil {
				ref.setLoaded(nil)
			} else {
				ref.setKey(key)
			}
		}
	}
	for _, el := range e.Elements() {
		if err := el.SetValues(en.instance, snap.elements[el.Property]); err != nil {
			return err
		}
	}
	return nil
}

// sameBag 按多重集合比较（值集合不保证顺序）
func sameBag(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	sa, sb := sortedBag(a), sortedBag(b)
	for i := range sa {
		if !mapping.ValuesEqual(sa[i], sb[i]) {
			return false
		}
	}
	return true
}

func sortedBag(values []any) []any {
	out := append([]any(nil), values...)
	sort.SliceStable(out, func(i, j int) bool { return compareCanonical(out[i], out[j]) < 0 })
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// compareCanonical 规范值排序；类型不同时按类型序
func compareCanonical(a, b any) int {
	switch x := a.(type) {
	case int64:
		if y, ok := b.(int64); ok {
			return cmp.Compare(x, y)
		}
	case float64:
		if y, ok := b.(float64); ok {
			return cmp.Compare(x, y)
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			default:
				return 1
			}
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	case []byte:
		if y, ok := b.([]byte); ok {
			return bytes.Compare(x, y)
		}
	}
	return cmp.Compare(typeRank(a), typeRank(b))
}

func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case int64:
		return 2
	case float64:
		return 3
	case string:
		return 4
	case []byte:
		return 5
	case time.Time:
		return 6
	default:
		return 7
	}
}
