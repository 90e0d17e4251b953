package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"folio/errors"
	"folio/orm/mapping"
	"folio/orm/storage"
)

type outlet struct {
	ID   int64
	Name string
	City string
	Ver  int64
}

type volume struct {
	ID      int64
	Title   string
	Price   float64
	Kind    string
	Link    string
	Authors []string
	Stock   struct{}
	Ver     int64
}

type holding struct {
	ID       int64
	Volume   struct{}
	Outlet   struct{}
	Quantity int
}

func newRegistry(t *testing.T) *mapping.Registry {
	t.Helper()
	r := mapping.NewRegistry()
	require.NoError(t, r.Register(mapping.EntityDef{
		Name: "Outlet", Table: "store", KeyField: "ID", VersionField: "Ver", VersionColumn: "version",
		Columns: []mapping.ColumnDef{{Field: "Name", Column: "nick_name", Property: "nickName"}, {Field: "City"}},
	}, (*outlet)(nil)))
	require.NoError(t, r.Register(mapping.EntityDef{
		Name: "Volume", Table: "book", KeyField: "ID", VersionField: "Ver", VersionColumn: "version",
		Discriminator: &mapping.DiscriminatorDef{Field: "Kind", Column: "kind", Value: "BOOK"},
		Columns:       []mapping.ColumnDef{{Field: "Title"}, {Field: "Price"}},
		Associations: []mapping.AssociationDef{
			{Name: "stock", Field: "Stock", Kind: mapping.OneToMany, Target: "Holding", MappedBy: "volume"},
		},
		Elements: []mapping.ElementCollectionDef{
			{Field: "Authors", Table: "book_authors", KeyColumn: "book_id", ValueColumn: "author"},
		},
	}, (*volume)(nil)))
	require.NoError(t, r.Register(mapping.EntityDef{
		Name: "EVolume", Extends: "Volume",
		Discriminator: &mapping.DiscriminatorDef{Value: "EBOOK"},
		Columns:       []mapping.ColumnDef{{Field: "Link", Column: "url"}},
	}, (*volume)(nil)))
	require.NoError(t, r.Register(mapping.EntityDef{
		Name: "Holding", Table: "inventory", KeyField: "ID",
		Columns: []mapping.ColumnDef{{Field: "Quantity"}},
		Associations: []mapping.AssociationDef{
			{Name: "volume", Field: "Volume", Kind: mapping.ManyToOne, Target: "Volume", Column: "book_id"},
			{Name: "outlet", Field: "Outlet", Kind: mapping.ManyToOne, Target: "Outlet", Column: "store_id"},
		},
	}, (*holding)(nil)))
	require.NoError(t, r.Freeze())
	return r
}

func compile(t *testing.T, r *mapping.Registry, hql string) *Plan {
	t.Helper()
	spec, err := Parse(hql)
	require.NoError(t, err)
	plan, err := Compile(spec, r)
	require.NoError(t, err)
	return plan
}

func TestCompile_ColumnsAndOrder(t *testing.T) {
	r := newRegistry(t)
	plan := compile(t, r, "from Outlet s where s.nickName = :name and s.id > 1 order by s.city desc")
	assert.Equal(t, storage.And{
		storage.Compare{Column: "nick_name", Op: "=", Value: Param{Name: "name"}},
		storage.Compare{Column: "id", Op: ">", Value: int64(1)},
	}, plan.Where)
	assert.Equal(t, []storage.Order{{Column: "city", Desc: true}}, plan.Order)
	assert.Equal(t, []string{"name"}, plan.Params)
}

func TestCompile_AssociationPaths(t *testing.T) {
	r := newRegistry(t)

	plan := compile(t, r, "from Holding i where i.volume.id = :book and i.outlet = :store")
	assert.Equal(t, storage.And{
		storage.Compare{Column: "book_id", Op: "=", Value: Param{Name: "book"}},
		storage.Compare{Column: "store_id", Op: "=", Value: Param{Name: "store"}},
	}, plan.Where)

	plan = compile(t, r, "from Holding i where i.volume.title = 'Pro Spring'")
	assert.Equal(t, storage.InSubquery{
		Column: "book_id", Table: "book", Select: "id",
		Where: storage.Compare{Column: "title", Op: "=", Value: "Pro Spring"},
	}, plan.Where)

	plan = compile(t, r, "from Volume b where b.stock.quantity > 5")
	assert.Equal(t, storage.InSubquery{
		Column: "id", Table: "inventory", Select: "book_id",
		Where: storage.Compare{Column: "quantity", Op: ">", Value: int64(5)},
	}, plan.Where)

	plan = compile(t, r, "from Volume b where b.authors = 'Asleson'")
	assert.Equal(t, storage.InSubquery{
		Column: "id", Table: "book_authors", Select: "book_id",
		Where: storage.Compare{Column: "author", Op: "=", Value: "Asleson"},
	}, plan.Where)
}

func TestCompile_SubtypeRestriction(t *testing.T) {
	r := newRegistry(t)
	plan := compile(t, r, "from EVolume e where e.link like 'http%'")
	assert.Equal(t, storage.And{
		storage.Like{Column: "url", Pattern: "http%"},
		storage.In{Column: "kind", Values: []any{"EBOOK"}},
	}, plan.Where)

	// 根实体查询覆盖整个层次，子类型列也可用于条件
	plan = compile(t, r, "from Volume b where b.link is null")
	assert.Equal(t, storage.IsNull{Column: "url"}, plan.Where)
}

func TestCompile_AggregatesAndFetch(t *testing.T) {
	r := newRegistry(t)
	plan := compile(t, r, "select min(b.price), max(b.price), count(*) from Volume b")
	assert.True(t, plan.IsAggregate())
	assert.Equal(t, []storage.Aggregate{
		{Func: storage.AggMin, Column: "price"},
		{Func: storage.AggMax, Column: "price"},
		{Func: storage.AggCount},
	}, plan.Aggregates)

	plan = compile(t, r, "from Volume b join fetch b.stock")
	assert.Equal(t, map[string]mapping.FetchMode{"stock": mapping.FetchJoin}, plan.Fetch)
}

func TestCompile_Bulk(t *testing.T) {
	r := newRegistry(t)
	plan := compile(t, r, "update Volume b set b.price = :price where b.title = 'x'")
	assert.Equal(t, map[string]any{"price": Param{Name: "price"}}, plan.Sets)
	assert.Equal(t, []string{"price"}, plan.Params)

	spec, err := Parse("update Volume b set b.id = 1")
	require.NoError(t, err)
	_, err = Compile(spec, r)
	assert.Error(t, err)
}

func TestCompile_Errors(t *testing.T) {
	r := newRegistry(t)
	for _, hql := range []string{
		"from Nope",
		"from Volume b where b.missing = 1",
		"from Volume b order by b.stock.quantity",
		"from Volume b join fetch b.title",
		"select sum(b.stock) from Volume b",
		"from Volume b where b.stock = 1",
	} {
		spec, err := Parse(hql)
		require.NoError(t, err, hql)
		_, err = Compile(spec, r)
		assert.True(t, errors.IsErrorCode(err, errors.ErrCodeQuery), hql)
	}
}

func TestCompile_EntityValues(t *testing.T) {
	r := newRegistry(t)
	s := &outlet{ID: 2}
	spec := &Spec{Kind: KindSelect, Entity: "Holding", Where: And(Eq("outlet", s), Ge("quantity", 1))}
	plan, err := Compile(spec, r)
	require.NoError(t, err)
	assert.Equal(t, storage.And{
		storage.Compare{Column: "store_id", Op: "=", Value: int64(2)},
		storage.Compare{Column: "quantity", Op: ">=", Value: 1},
	}, plan.Where)
	assert.Nil(t, EntityValue(r, (*outlet)(nil)))
	assert.Equal(t, "x", EntityValue(r, "x"))
}

func TestCompileCondition(t *testing.T) {
	r := newRegistry(t)
	e, _ := r.Entity("Volume")
	cond, err := ParseCondition("price between :lo and :hi")
	require.NoError(t, err)
	p, err := CompileCondition(e, r, cond)
	require.NoError(t, err)
	assert.Equal(t, storage.Between{Column: "price", Low: Param{Name: "lo"}, High: Param{Name: "hi"}}, p)
}
