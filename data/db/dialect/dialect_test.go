package dialect

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
)

func TestRebind_Postgres(t *testing.T) {
	d := New("postgres")
	got := d.Rebind("SELECT * FROM t WHERE a = ? AND b IN (?, ?) AND c = 'what?'")
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b IN ($2, $3) AND c = 'what?'", got)
}

func TestRebind_NoChangeForMySQLSQLite(t *testing.T) {
	orig := "DELETE FROM t WHERE id = ? AND name = ?"
	for _, name := range []string{"mysql", "sqlite", "unknown"} {
		assert.Equal(t, orig, New(name).Rebind(orig), name)
	}
}

func TestQuoteIdentifier(t *testing.T) {
	assert.Equal(t, "`book`.`isbn`", New("mysql").QuoteIdentifier("book.isbn"))
	assert.Equal(t, `"inventory"`, New("sqlite3").QuoteIdentifier("inventory"))
	assert.Equal(t, "store", New("").QuoteIdentifier("store"))
	assert.Equal(t, "", New("mysql").QuoteIdentifier(""))
}

func TestLimitOffset(t *testing.T) {
	tests := []struct {
		dialect       string
		limit, offset int
		wantSQL       string
		wantArgs      []any
	}{
		{"sqlite", 3, 6, " LIMIT ? OFFSET ?", []any{3, 6}},
		{"sqlite", 3, 0, " LIMIT ?", []any{3}},
		{"sqlite", 0, 6, " LIMIT -1 OFFSET ?", []any{6}},
		{"mysql", 0, 6, " LIMIT 18446744073709551615 OFFSET ?", []any{6}},
		{"postgres", 0, 6, " OFFSET ?", []any{6}},
		{"mysql", 0, 0, "", nil},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_%d_%d", tt.dialect, tt.limit, tt.offset), func(t *testing.T) {
			sql, args := New(tt.dialect).LimitOffset(tt.limit, tt.offset)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	dup := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry '1' for key 'PRIMARY'"}
	assert.True(t, New("mysql").IsUniqueViolation(fmt.Errorf("insert: %w", dup)))
	assert.False(t, New("mysql").IsUniqueViolation(&mysql.MySQLError{Number: 1213, Message: "Deadlock"}))
	assert.True(t, New("sqlite").IsUniqueViolation(errors.New("constraint failed: UNIQUE constraint failed: book.isbn (2067)")))
	assert.False(t, New("sqlite").IsUniqueViolation(errors.New("no such table: book")))
	assert.False(t, New("sqlite").IsUniqueViolation(nil))
}

func TestSplitStatements(t *testing.T) {
	script := `
-- stores
CREATE TABLE store (id INTEGER PRIMARY KEY);

CREATE TABLE book (id INTEGER PRIMARY KEY);
;
`
	stmts := SplitStatements(script)
	assert.Equal(t, []string{
		"CREATE TABLE store (id INTEGER PRIMARY KEY)",
		"CREATE TABLE book (id INTEGER PRIMARY KEY)",
	}, stmts)
}

func TestBindValue(t *testing.T) {
	ts := time.Date(2008, 3, 1, 8, 30, 0, 0, time.FixedZone("MST", -7*3600))
	assert.Equal(t, "2008-03-01 15:30:00", New("sqlite").BindValue(ts))
	assert.Equal(t, "2008-03-01 15:30:00", New("sqlite").BindValue(&ts))
	var nilTime *time.Time
	assert.Nil(t, New("sqlite").BindValue(nilTime))
	assert.Equal(t, ts, New("mysql").BindValue(ts))
	assert.Equal(t, int64(3), New("sqlite").BindValue(int64(3)))
}
