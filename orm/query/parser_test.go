package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"folio/errors"
	"folio/orm/mapping"
	"folio/orm/storage"
)

func TestParse_Select(t *testing.T) {
	spec, err := Parse("from Book b left join fetch b.inventoryRecords where b.isbn = :isbn and (b.price >= 10.5 or b.title like 'Pro%') order by b.publishedOn desc, b.id")
	require.NoError(t, err)
	assert.Equal(t, KindSelect, spec.Kind)
	assert.Equal(t, "Book", spec.Entity)
	assert.Equal(t, "b", spec.Alias)
	assert.Equal(t, []FetchItem{{Association: "inventoryRecords", Mode: mapping.FetchJoin}}, spec.Fetch)
	assert.Equal(t, Conjunction{
		Comparison{Path: "isbn", Op: "=", Value: Param{Name: "isbn"}},
		Disjunction{
			Comparison{Path: "price", Op: ">=", Value: 10.5},
			Pattern{Path: "title", Pattern: "Pro%"},
		},
	}, spec.Where)
	assert.Equal(t, []OrderItem{{Path: "publishedOn", Desc: true}, {Path: "id"}}, spec.Order)
}

func TestParse_Projections(t *testing.T) {
	spec, err := Parse("SELECT min(b.price), max(b.price), avg(b.price), count(b) FROM Book b")
	require.NoError(t, err)
	assert.Equal(t, []SelectItem{
		{Func: storage.AggMin, Path: "price"},
		{Func: storage.AggMax, Path: "price"},
		{Func: storage.AggAvg, Path: "price"},
		{Func: storage.AggCount},
	}, spec.Select)

	spec, err = Parse("select s from Store as s where s.id in (1, 2, -3)")
	require.NoError(t, err)
	assert.Empty(t, spec.Select)
	assert.Equal(t, Membership{Path: "id", Values: []any{int64(1), int64(2), int64(-3)}}, spec.Where)

	_, err = Parse("select b.title from Book b")
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeQuery))
	_, err = Parse("select b, count(b) from Book b")
	assert.Error(t, err)
	_, err = Parse("select median(b.price) from Book b")
	assert.Error(t, err)
}

func TestParse_Predicates(t *testing.T) {
	spec, err := Parse(`from Book where not publishedOn between :start and :end
		and street2 is not null and kind not in :kinds and title <> 'It''s' and version != 0 and archived = false`)
	require.NoError(t, err)
	assert.Equal(t, Conjunction{
		Negation{X: Range{Path: "publishedOn", Low: Param{Name: "start"}, High: Param{Name: "end"}}},
		NullCheck{Path: "street2", Not: true},
		Membership{Path: "kind", Values: []any{Param{Name: "kinds"}}, Not: true},
		Comparison{Path: "title", Op: "<>", Value: "It's"},
		Comparison{Path: "version", Op: "<>", Value: int64(0)},
		Comparison{Path: "archived", Op: "=", Value: false},
	}, spec.Where)
}

func TestParse_Bulk(t *testing.T) {
	spec, err := Parse("update Book b set b.price = :price, b.title = 'x' where b.id = 3")
	require.NoError(t, err)
	assert.Equal(t, KindUpdate, spec.Kind)
	assert.Equal(t, []Assignment{{Path: "price", Value: Param{Name: "price"}}, {Path: "title", Value: "x"}}, spec.Sets)

	spec, err = Parse("delete from Inventory i where i.quantity = 0")
	require.NoError(t, err)
	assert.Equal(t, KindDelete, spec.Kind)
	assert.Equal(t, "i", spec.Alias)

	spec, err = Parse("DELETE Inventory")
	require.NoError(t, err)
	assert.Nil(t, spec.Where)
}

func TestParse_Errors(t *testing.T) {
	for _, hql := range []string{
		"",
		"from",
		"from Book b where",
		"from Book b where b.title = ",
		"from Book b where b.title 'x'",
		"from Book b where b.title = 'open",
		"from Book b order b.id",
		"from Book b where b.id not = 1",
		"from Book b inner fetch b.x",
		"from Book b where b. = 1",
		"insert into Book",
		"from Book b where b.id = 1 extra",
	} {
		_, err := Parse(hql)
		assert.Error(t, err, hql)
		assert.True(t, errors.IsErrorCode(err, errors.ErrCodeQuery), hql)
	}
}

func TestParseCondition(t *testing.T) {
	e, err := ParseCondition("publishedOn BETWEEN :start AND :end")
	require.NoError(t, err)
	assert.Equal(t, Range{Path: "publishedOn", Low: Param{Name: "start"}, High: Param{Name: "end"}}, e)

	_, err = ParseCondition("publishedOn between :start and :end order by id")
	assert.Error(t, err)
}

func TestCriteriaBuilders(t *testing.T) {
	assert.Equal(t, Comparison{Path: "id", Op: "=", Value: 3}, IDEq(3))
	assert.Equal(t, Comparison{Path: "title", Op: "=", Value: "x"}, And(nil, Eq("title", "x")))
	assert.Equal(t, Disjunction{Gt("price", 1), Le("price", 0)}, Or(Gt("price", 1), Le("price", 0)))
	assert.Equal(t, Negation{X: IsNull("street2")}, Not(IsNull("street2")))
	assert.Equal(t, OrderItem{Path: "price", Desc: true}, Desc("price"))
}
