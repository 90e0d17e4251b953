package orm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"folio/errors"
	"folio/orm/changefeed"
)

func TestGet_IdentityMap(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.open(t)

	first, err := s.Get(ctx, "Title", 1)
	require.NoError(t, err)
	require.NotNil(t, first)
	again, err := s.Get(ctx, "Title", int64(1))
	require.NoError(t, err)
	assert.Same(t, first, again, "同一会话内同一身份只有一个实例")

	b := first.(*title)
	assert.Equal(t, "Alpha", b.Name)
	assert.Equal(t, "PAPER", b.Kind)
	assert.True(t, b.PublishedOn.Equal(date(2020, 1, 15)))
	assert.ElementsMatch(t, []string{"Ann", "Bob"}, b.Authors)

	missing, err := s.Get(ctx, "Title", 99)
	require.NoError(t, err)
	assert.Nil(t, missing)

	other := f.open(t)
	fromOther, err := other.Get(ctx, "Title", 1)
	require.NoError(t, err)
	assert.NotSame(t, first, fromOther)

	_, err = s.Get(ctx, "Nope", 1)
	assert.True(t, errors.IsConfiguration(err))
}

func TestGet_Polymorphic(t *testing.T) {
	ctx := context.Background()
	s := newFixture(t).open(t)

	v, err := s.Get(ctx, "ETitle", 1)
	require.NoError(t, err)
	assert.Nil(t, v, "子类型名只返回该子类型的行")

	eb, err := Get[title](ctx, s, 3)
	require.NoError(t, err)
	require.NotNil(t, eb)
	assert.Equal(t, "EBOOK", eb.Kind)
	require.NotNil(t, eb.Link)
	assert.Equal(t, "http://gamma", eb.Link.URL)

	v, err = s.Get(ctx, "ETitle", 3)
	require.NoError(t, err)
	assert.Same(t, eb, v)

	paper, err := Get[title](ctx, s, 2)
	require.NoError(t, err)
	assert.Nil(t, paper.Link)
}

func TestSave_GeneratesKeyAndPersists(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.open(t)

	tx, err := s.Begin()
	require.NoError(t, err)
	b := &title{ISBN: "555", Name: "Delta", Price: 12.5, PublishedOn: date(2008, 5, 1), Authors: []string{"Schutta", "Asleson"}}
	key, err := s.Save(ctx, b)
	require.NoError(t, err)
	assert.EqualValues(t, 5, key, "increment 生成器从表中最大主键继续")
	assert.Equal(t, "PAPER", b.Kind)

	again, err := s.Save(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, key, again)
	require.NoError(t, tx.Commit(ctx))
	assert.Equal(t, TxCommitted, tx.State())

	other := f.open(t)
	loaded, err := Get[title](ctx, other, key)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "Delta", loaded.Name)
	assert.True(t, loaded.PublishedOn.Equal(date(2008, 5, 1)))
	assert.ElementsMatch(t, []string{"Schutta", "Asleson"}, loaded.Authors)
	assert.EqualValues(t, 2, f.count(t, "title_authors", "title_id = ?", key))
}

func TestSave_DuplicateIdentity(t *testing.T) {
	ctx := context.Background()
	s := newFixture(t).open(t)

	_, err := s.Get(ctx, "Title", 1)
	require.NoError(t, err)
	_, err = s.Save(ctx, &title{ID: 1, ISBN: "x"})
	assert.True(t, errors.IsDuplicateIdentity(err))
}

func TestUpdateDelete_Unmanaged(t *testing.T) {
	s := newFixture(t).open(t)
	stranger := &title{ID: 1}
	assert.True(t, errors.IsUnmanagedEntity(s.Update(stranger)))
	assert.True(t, errors.IsUnmanagedEntity(s.Delete(stranger)))
	assert.False(t, s.Contains(stranger))
}

// 传入结构体值（含切片字段）时返回错误而不是 panic
func TestSession_ValueInsteadOfPointer(t *testing.T) {
	ctx := context.Background()
	s := newFixture(t).open(t)
	v := title{ISBN: "1590595823", Name: "x", Authors: []string{"a"}}

	_, err := s.Save(ctx, v)
	assert.True(t, errors.IsConfiguration(err))
	assert.True(t, errors.IsUnmanagedEntity(s.Update(v)))
	assert.True(t, errors.IsUnmanagedEntity(s.Delete(v)))
	assert.False(t, s.Contains(v))
	assert.NotPanics(t, func() { s.Evict(v) })
	_, err = s.Merge(ctx, v)
	assert.True(t, errors.IsConfiguration(err))
}

func TestEvict_DiscardsPendingChanges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.open(t)

	b, err := Get[title](ctx, s, 2)
	require.NoError(t, err)
	b.Name = "Changed"
	s.Evict(b)
	assert.False(t, s.Contains(b))

	tx, err := s.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	assert.EqualValues(t, 1, f.count(t, "title", "id = 2 AND name = 'Beta'"))

	reloaded, err := Get[title](ctx, s, 2)
	require.NoError(t, err)
	assert.NotSame(t, b, reloaded)
	assert.Equal(t, "Beta", reloaded.Name)
}

func TestDirtyCheck_ComponentUpdate(t *testing.T) {
	ctx := context.Background()
	feed := changefeed.NewMemory()
	f := newFixture(t, WithPublisher(feed))
	s := f.open(t)

	tx, err := s.Begin()
	require.NoError(t, err)
	store, err := Get[shop](ctx, s, 1)
	require.NoError(t, err)
	store.Address.City = "Scottsdale"
	require.NoError(t, tx.Commit(ctx))
	assert.Equal(t, 1, store.Version)

	other := f.open(t)
	reloaded, err := Get[shop](ctx, other, 1)
	require.NoError(t, err)
	assert.Equal(t, "Scottsdale", reloaded.Address.City)
	assert.Equal(t, 1, reloaded.Version)

	events := feed.Events()
	require.Len(t, events, 1)
	assert.Equal(t, changefeed.OpUpdate, events[0].Operation)
	assert.Equal(t, "Shop", events[0].Entity)
	assert.Equal(t, []string{"address.city"}, events[0].Changed)
	assert.EqualValues(t, 1, events[0].Version)
	assert.Equal(t, s.ID(), events[0].SessionID)

	// 未修改的实体不产生写入
	tx, err = s.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	assert.Len(t, feed.Events(), 1)
}

func TestUpdate_ExplicitWritesRow(t *testing.T) {
	ctx := context.Background()
	feed := changefeed.NewMemory()
	f := newFixture(t, WithPublisher(feed))
	s := f.open(t)

	b, err := Get[title](ctx, s, 4)
	require.NoError(t, err)
	tx, err := s.Begin()
	require.NoError(t, err)
	require.NoError(t, s.Update(b))
	require.NoError(t, tx.Commit(ctx))
	assert.Equal(t, 1, b.Version)
	assert.EqualValues(t, 1, f.count(t, "title", "id = 4 AND version = 1"))
	require.Len(t, feed.Events(), 1)
}

func TestMerge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first := f.open(t)
	detached, err := Get[title](ctx, first, 2)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	// 另一个会话先提交
	second := f.open(t)
	current, err := Get[title](ctx, second, 2)
	require.NoError(t, err)
	tx, err := second.Begin()
	require.NoError(t, err)
	current.Price = 25
	require.NoError(t, tx.Commit(ctx))

	third := f.open(t)
	detached.Price = 99
	_, err = third.Merge(ctx, detached)
	assert.True(t, errors.IsStaleEntity(err), "版本落后的脱管实例不能合并")

	detached.Version = current.Version
	merged, err := third.Merge(ctx, detached)
	require.NoError(t, err)
	assert.NotSame(t, detached, merged)
	assert.False(t, third.Contains(detached))
	assert.True(t, third.Contains(merged))
	tx, err = third.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	assert.EqualValues(t, 1, f.count(t, "title", "id = 2 AND price = 99 AND version = 2"))
}

func TestMerge_TransientIsSaved(t *testing.T) {
	ctx := context.Background()
	s := newFixture(t).open(t)
	b := &title{ISBN: "777", Name: "Merged"}
	merged, err := s.Merge(ctx, b)
	require.NoError(t, err)
	assert.Same(t, b, merged)
	assert.True(t, s.Contains(b))
	assert.NotZero(t, b.ID)
}

func TestClosedSession(t *testing.T) {
	ctx := context.Background()
	s := newFixture(t).open(t)
	require.NoError(t, s.Close())
	assert.False(t, s.IsOpen())

	_, err := s.Get(ctx, "Title", 1)
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeSessionClosed))
	_, err = s.Begin()
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeSessionClosed))
	_, err = s.CreateQuery("from Title").List(ctx)
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeSessionClosed))
	assert.NoError(t, s.Close())
}
