package sql

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"folio/data/db/dialect"
	"folio/errors"
)

func TestSelect_JoinOrderPage(t *testing.T) {
	s := ForDialect(dialect.New("sqlite")).
		Select(`t0."id"`, `t1."quantity" AS "j__quantity"`).
		From("book", "t0").
		LeftJoin("inventory", "t1", `t1."book_id" = t0."id"`).
		Where(`t0."title" = ?`, "Beginning POJOs").
		OrderBy(`t0."isbn"`, false).
		OrderBy(`t0."id"`, true).
		Page(0, 3)

	q, args, err := s.Build()
	require.NoError(t, err)
	assert.Equal(t, `SELECT t0."id", t1."quantity" AS "j__quantity" FROM "book" "t0" LEFT JOIN "inventory" "t1" ON t1."book_id" = t0."id" WHERE t0."title" = ? ORDER BY t0."isbn", t0."id" DESC LIMIT -1 OFFSET ?`, q)
	assert.Equal(t, []any{"Beginning POJOs", 3}, args)

	q2, args2, err := s.Build()
	require.NoError(t, err)
	assert.Equal(t, q, q2)
	assert.Equal(t, args, args2)
}

func TestSelect_BindsTimeForSQLite(t *testing.T) {
	at := time.Date(2008, 1, 1, 0, 0, 0, 0, time.UTC)
	_, args, err := ForDialect(dialect.New("sqlite")).Select().From("book", "").
		Where("published_on >= ?", at).Page(5, 0).Build()
	require.NoError(t, err)
	assert.Equal(t, []any{"2008-01-01 00:00:00", 5}, args)

	_, args, err = ForDialect(dialect.New("mysql")).Select().From("book", "").
		Where("published_on >= ?", at).Build()
	require.NoError(t, err)
	assert.Equal(t, []any{at}, args)
}

func TestInsert_Row(t *testing.T) {
	q, args, err := ForDialect(dialect.New("mysql")).Insert("book").
		Row(map[string]any{"isbn": "1590595823", "id": 2, "price": 34.99}).
		Build()
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO `book` (`id`, `isbn`, `price`) VALUES (?, ?, ?)", q)
	assert.Equal(t, []any{2, "1590595823", 34.99}, args)

	_, _, err = ForDialect(dialect.New("mysql")).Insert("book").Build()
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeInvalidInput))
}

func TestUpdate_ArgOrder(t *testing.T) {
	q, args, err := ForDialect(dialect.New("sqlite")).Update("store").
		SetRow(map[string]any{"nick_name": "Tempe"}).
		Set("version", 1).
		Where(`"id" = ?`, 1).
		Where(`"version" = ?`, 0).
		Build()
	require.NoError(t, err)
	assert.Equal(t, `UPDATE "store" SET "nick_name" = ?, "version" = ? WHERE "id" = ? AND "version" = ?`, q)
	assert.Equal(t, []any{"Tempe", 1, 1, 0}, args)

	_, _, err = ForDialect(dialect.New("sqlite")).Update("store").Build()
	assert.Error(t, err)
}

func TestDelete_WithoutWhere(t *testing.T) {
	q, args, err := ForDialect(dialect.New("mysql")).Delete("inventory").Build()
	require.NoError(t, err)
	assert.Equal(t, "DELETE FROM `inventory`", q)
	assert.Empty(t, args)
}

func TestUnsafeIdentifiers(t *testing.T) {
	b := ForDialect(dialect.New("sqlite"))
	for _, st := range []Statement{
		b.Insert("book; DROP TABLE store").Set("id", 1),
		b.Update("store").Set("nick name", "x"),
		b.Delete("1book"),
		b.Select().From("main..book", ""),
	} {
		_, _, err := st.Build()
		assert.True(t, errors.IsErrorCode(err, errors.ErrCodeInvalidInput), "%T", st)
	}

	_, _, err := b.Select().From("main.book", "b").Build()
	assert.NoError(t, err)
}

func TestExec_Unbound(t *testing.T) {
	b := ForDialect(dialect.New("sqlite"))
	_, err := b.Exec(context.Background(), b.Delete("book"))
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeInternal))

	var n int
	err = b.Select("count(*)").From("book; --", "").QueryRow(context.Background()).Scan(&n)
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeInvalidInput))
}
