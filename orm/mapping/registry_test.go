package mapping

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"folio/errors"
)

type address struct {
	Street1 string
	City    string
}

type edition struct {
	URL    string
	Format string
}

type shop struct {
	ID      int64
	Name    string
	Address address
	Version int
}

type title struct {
	ID        int64
	ISBN      string
	Published time.Time
	Kind      string
	Digital   *edition
	Tags      []string
	Copies    struct{} // 关联字段占位
	Version   int64
}

type stock struct {
	ID    int64
	Title struct{}
	Shop  struct{}
	Count int
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, r.Register(EntityDef{
		Name:         "Shop",
		KeyField:     "ID",
		VersionField: "Version",
		Columns: []ColumnDef{
			{Field: "Name", Column: "nick_name"},
			{Field: "Address.Street1"},
			{Field: "Address.City"},
		},
	}, (*shop)(nil)))
	require.NoError(t, r.Register(EntityDef{
		Name:          "Title",
		Table:         "book",
		KeyField:      "ID",
		VersionField:  "Version",
		KeyGenerator:  GeneratorIncrement,
		Discriminator: &DiscriminatorDef{Field: "Kind", Column: "kind", Value: "BOOK"},
		Columns: []ColumnDef{
			{Field: "ISBN"},
			{Field: "Published", Property: "publishedOn", Column: "published_on"},
		},
		Associations: []AssociationDef{
			{Name: "copies", Field: "Copies", Kind: OneToMany, Target: "Stock", MappedBy: "title", Cascade: []Cascade{CascadeSaveUpdate}},
		},
		Elements: []ElementCollectionDef{
			{Field: "Tags", Table: "book_tags", KeyColumn: "book_id", ValueColumn: "tag"},
		},
	}, &title{}))
	require.NoError(t, r.Register(EntityDef{
		Name:          "DigitalTitle",
		Extends:       "Title",
		Discriminator: &DiscriminatorDef{Value: "EBOOK"},
		Columns: []ColumnDef{
			{Field: "Digital.URL"},
			{Field: "Digital.Format"},
		},
	}, &title{}))
	require.NoError(t, r.Register(EntityDef{
		Name:     "Stock",
		Table:    "inventory",
		KeyField: "ID",
		Columns:  []ColumnDef{{Field: "Count", Column: "quantity"}},
		Associations: []AssociationDef{
			{Field: "Title", Kind: ManyToOne, Target: "Title", Column: "book_id", Fetch: FetchJoin},
			{Field: "Shop", Kind: ManyToOne, Target: "Shop"},
		},
	}, &stock{}))
	return r
}

// TestRegistry_CompilesColumns 默认属性名与列名
func TestRegistry_CompilesColumns(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Freeze())

	s, ok := r.Entity("Shop")
	require.True(t, ok)
	assert.Equal(t, "shop", s.Table)
	assert.Equal(t, GeneratorSnowflake, s.KeyGenerator)
	assert.Equal(t, "id", s.Key.Property)
	assert.Equal(t, "id", s.Key.Name)

	col, ok := s.Property("address.street1")
	require.True(t, ok)
	assert.Equal(t, "address_street1", col.Name)

	col, ok = s.Property("name")
	require.True(t, ok)
	assert.Equal(t, "nick_name", col.Name)

	b, _ := r.Entity("Title")
	isbn, ok := b.Property("isbn")
	require.True(t, ok)
	assert.Equal(t, "isbn", isbn.Name)
}

// TestRegistry_Hierarchy 子类型继承列与关联，共享表
func TestRegistry_Hierarchy(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Freeze())

	base, _ := r.Entity("Title")
	sub, _ := r.Entity("DigitalTitle")
	assert.Same(t, base, sub.Parent)
	assert.Equal(t, "book", sub.Table)
	assert.True(t, sub.IsA(base))
	assert.False(t, base.IsA(sub))
	assert.Equal(t, []any{"BOOK", "EBOOK"}, base.DiscriminatorValues())
	assert.Equal(t, []any{"EBOOK"}, sub.DiscriminatorValues())

	_, ok := base.Property("digital.url")
	assert.False(t, ok, "父实体不包含子类型列")
	_, ok = sub.Property("digital.url")
	assert.True(t, ok)
	_, ok = sub.Association("copies")
	assert.True(t, ok)

	assert.Len(t, base.HierarchyColumns(), len(base.Columns())+2)

	resolved, ok := base.Resolve("EBOOK")
	require.True(t, ok)
	assert.Same(t, sub, resolved)
}

// TestRegistry_EntityOf 按鉴别字段解析具体实体
func TestRegistry_EntityOf(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Freeze())

	e, err := r.EntityOf(&title{Kind: "EBOOK"})
	require.NoError(t, err)
	assert.Equal(t, "DigitalTitle", e.Name)

	e, err = r.EntityOf(&title{})
	require.NoError(t, err)
	assert.Equal(t, "Title", e.Name)

	_, err = r.EntityOf(&title{Kind: "AUDIO"})
	assert.True(t, errors.IsConfiguration(err))

	_, err = r.EntityOf(title{})
	assert.True(t, errors.IsConfiguration(err))

	_, err = r.EntityOf(&address{})
	assert.True(t, errors.IsConfiguration(err))
}

// TestRegistry_FreezeResolvesAssociations 关联目标、反向端与 flush 层级
func TestRegistry_FreezeResolvesAssociations(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Freeze())

	b, _ := r.Entity("Title")
	copies, ok := b.Association("copies")
	require.True(t, ok)
	assert.Equal(t, "Stock", copies.Target.Name)
	require.NotNil(t, copies.Inverse)
	assert.Equal(t, "book_id", copies.Inverse.Column)
	assert.True(t, copies.CascadeSave)
	assert.Equal(t, FetchLazy, copies.Fetch)

	st, _ := r.Entity("Stock")
	shopRef, _ := st.Association("shop")
	assert.Equal(t, "shop_id", shopRef.Column)

	assert.Equal(t, 0, r.FlushRank("Shop"))
	assert.Equal(t, 0, r.FlushRank("DigitalTitle"))
	assert.Equal(t, 1, r.FlushRank("Stock"))
}

// TestRegistry_ConfigurationErrors 注册期与冻结期的配置错误
func TestRegistry_ConfigurationErrors(t *testing.T) {
	t.Run("重复注册", func(t *testing.T) {
		r := newTestRegistry(t)
		err := r.Register(EntityDef{Name: "Shop", KeyField: "ID"}, &shop{})
		assert.True(t, errors.IsConfiguration(err))
	})
	t.Run("未知字段", func(t *testing.T) {
		r := NewRegistry()
		err := r.Register(EntityDef{Name: "Shop", KeyField: "ID", Columns: []ColumnDef{{Field: "Missing"}}}, &shop{})
		assert.True(t, errors.IsConfiguration(err))
	})
	t.Run("原型不是结构体指针", func(t *testing.T) {
		r := NewRegistry()
		err := r.Register(EntityDef{Name: "Shop", KeyField: "ID"}, shop{})
		assert.True(t, errors.IsConfiguration(err))
	})
	t.Run("引用未注册实体", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Register(EntityDef{
			Name: "Stock", KeyField: "ID",
			Associations: []AssociationDef{{Field: "Shop", Kind: ManyToOne, Target: "Shop"}},
		}, &stock{}))
		assert.True(t, errors.IsConfiguration(r.Freeze()))
	})
	t.Run("未知 mapped_by", func(t *testing.T) {
		r := newTestRegistry(t)
		b, _ := r.Entity("Title")
		b.assocs["copies"].MappedBy = "owner"
		assert.True(t, errors.IsConfiguration(r.Freeze()))
	})
	t.Run("冻结后只读", func(t *testing.T) {
		r := newTestRegistry(t)
		require.NoError(t, r.Freeze())
		require.NoError(t, r.Freeze())
		assert.True(t, errors.IsConfiguration(r.Register(EntityDef{Name: "X", KeyField: "ID"}, &shop{})))
		assert.True(t, errors.IsConfiguration(r.RegisterNamedQuery("q", "FROM Shop")))
		assert.True(t, errors.IsConfiguration(r.RegisterFilter(FilterDef{Name: "f", Entity: "Shop", Condition: "id > 0"})))
	})
	t.Run("过滤器实体未注册", func(t *testing.T) {
		r := newTestRegistry(t)
		require.NoError(t, r.RegisterFilter(FilterDef{Name: "f", Entity: "Nope", Condition: "id > 0"}))
		assert.True(t, errors.IsConfiguration(r.Freeze()))
	})
	t.Run("子类型类型不一致", func(t *testing.T) {
		r := newTestRegistry(t)
		err := r.Register(EntityDef{Name: "X", Extends: "Title"}, &shop{})
		assert.True(t, errors.IsConfiguration(err))
	})
}

// TestEntity_Accessors 主键、版本、组件与值集合读写
func TestEntity_Accessors(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Freeze())
	sub, _ := r.Entity("DigitalTitle")

	v := sub.New().(*title)
	assert.Equal(t, "EBOOK", v.Kind)
	assert.Nil(t, sub.KeyOf(v))

	require.NoError(t, sub.SetKey(v, int32(8)))
	assert.Equal(t, int64(8), sub.KeyOf(v))
	require.NoError(t, sub.SetVersion(v, 3))
	assert.Equal(t, int64(3), sub.VersionOf(v))

	url, _ := sub.Property("digital.url")
	assert.Nil(t, url.Value(v), "组件指针为 nil")
	require.NoError(t, url.Assign(v, nil))
	assert.Nil(t, v.Digital, "写入 nil 不分配组件")
	require.NoError(t, url.Assign(v, []byte("http://example.com/b8.pdf")))
	require.NotNil(t, v.Digital)
	assert.Equal(t, "http://example.com/b8.pdf", v.Digital.URL)

	published, _ := sub.Property("publishedOn")
	require.NoError(t, published.Assign(v, "2008-03-01 00:00:00"))
	assert.Equal(t, time.Date(2008, 3, 1, 0, 0, 0, 0, time.UTC), v.Published)

	tags, _ := sub.Element("tags")
	require.NoError(t, tags.SetValues(v, []any{"go", []byte("orm")}))
	assert.Equal(t, []string{"go", "orm"}, v.Tags)
	assert.Equal(t, []any{"go", "orm"}, tags.Values(v))

	copies, _ := sub.Association("copies")
	fv := copies.FieldValue(v)
	require.True(t, fv.IsValid())
	assert.True(t, fv.CanAddr())
	assert.Equal(t, reflect.TypeOf(struct{}{}), copies.FieldType())
}
