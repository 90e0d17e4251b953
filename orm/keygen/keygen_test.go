package keygen

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"folio/errors"
	"folio/orm/mapping"
	"folio/orm/storage"
)

type item struct {
	ID   int64
	Name string
}

type maxExecutor struct {
	storage.Executor
	max   any
	calls int
}

func (m *maxExecutor) ExecuteAggregate(ctx context.Context, req storage.AggregateRequest) ([]any, error) {
	m.calls++
	return []any{m.max}, nil
}

func itemEntity(t *testing.T, gen string) *mapping.Entity {
	t.Helper()
	r := mapping.NewRegistry()
	require.NoError(t, r.Register(mapping.EntityDef{
		Name: "Item", KeyField: "ID", KeyGenerator: gen,
		Columns: []mapping.ColumnDef{{Field: "Name"}},
	}, (*item)(nil)))
	require.NoError(t, r.Freeze())
	e, _ := r.Entity("Item")
	return e
}

func TestIncrement(t *testing.T) {
	ctx := context.Background()
	exec := &maxExecutor{max: int64(8)}
	g := NewIncrement(exec)
	e := itemEntity(t, mapping.GeneratorIncrement)

	k, err := g.NextKey(ctx, e, &item{})
	require.NoError(t, err)
	assert.Equal(t, int64(9), k)
	k, err = g.NextKey(ctx, e, &item{})
	require.NoError(t, err)
	assert.Equal(t, int64(10), k)
	assert.Equal(t, 1, exec.calls, "最大值只读取一次")

	empty := NewIncrement(&maxExecutor{})
	k, err = empty.NextKey(ctx, e, &item{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), k)
}

func TestIncrement_Concurrent(t *testing.T) {
	g := NewIncrement(&maxExecutor{max: int64(0)})
	e := itemEntity(t, mapping.GeneratorIncrement)
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[any]bool)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			k, err := g.NextKey(context.Background(), e, &item{})
			assert.NoError(t, err)
			mu.Lock()
			seen[k] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 50)
}

func TestSnowflakeAndAssigned(t *testing.T) {
	ctx := context.Background()
	e := itemEntity(t, mapping.GeneratorSnowflake)
	sf, err := NewSnowflake(1, 1)
	require.NoError(t, err)
	a, err := sf.NextKey(ctx, e, &item{})
	require.NoError(t, err)
	b, err := sf.NextKey(ctx, e, &item{})
	require.NoError(t, err)
	assert.Greater(t, b.(int64), a.(int64))

	_, err = NewSnowflake(-1, 0)
	assert.True(t, errors.IsConfiguration(err))

	_, err = Assigned{}.NextKey(ctx, e, &item{})
	assert.True(t, errors.IsValidation(err))
	k, err := Assigned{}.NextKey(ctx, e, &item{ID: 42})
	require.NoError(t, err)
	assert.Equal(t, int64(42), k)

	set := Defaults(&maxExecutor{}, sf)
	_, err = set.Lookup("uuid")
	assert.True(t, errors.IsConfiguration(err))
	g, err := set.Lookup(mapping.GeneratorAssigned)
	require.NoError(t, err)
	assert.IsType(t, Assigned{}, g)
}
