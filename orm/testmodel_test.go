package orm

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	core "folio/data/db"
	"folio/data/db/basic"
	"folio/logging"
	"folio/orm/mapping"
	"folio/orm/storage/sqlstore"
	"folio/validation"
)

type address struct {
	Street string
	City   string
}

type shop struct {
	ID      int64
	Name    string
	Address *address
	Version int
	Stock   Collection[stockItem]
}

type edition struct {
	URL string
}

type title struct {
	ID          int64
	Kind        string
	ISBN        string
	Name        string
	Price       float64
	PublishedOn time.Time
	Version     int
	Authors     []string
	Link        *edition
	Stock       Collection[stockItem]
}

func (t *title) Validate() error {
	return validation.ValidateRequired(t.ISBN, "isbn")
}

type stockItem struct {
	ID       int64
	Title    Reference[title]
	Shop     Reference[shop]
	Quantity int
}

const testSchema = `
CREATE TABLE shop (id INTEGER PRIMARY KEY, name TEXT NOT NULL, street TEXT, city TEXT, version INTEGER NOT NULL DEFAULT 0);
CREATE TABLE title (
	id INTEGER PRIMARY KEY,
	kind TEXT NOT NULL,
	isbn TEXT NOT NULL UNIQUE,
	name TEXT,
	price REAL,
	published_on DATE,
	url TEXT,
	version INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE title_authors (title_id INTEGER NOT NULL, author TEXT NOT NULL);
CREATE TABLE stock (id INTEGER PRIMARY KEY, title_id INTEGER, shop_id INTEGER, quantity INTEGER);

INSERT INTO shop (id, name, street, city) VALUES (1, 'Desert Ridge', '21001 N Tatum Blvd', 'Phoenix');
INSERT INTO shop (id, name, street, city) VALUES (2, 'Tempe Marketplace', '2000 E Rio Salado Pkwy', 'Tempe');
INSERT INTO title (id, kind, isbn, name, price, published_on) VALUES (1, 'PAPER', '111', 'Alpha', 10.0, '2020-01-15 00:00:00');
INSERT INTO title (id, kind, isbn, name, price, published_on) VALUES (2, 'PAPER', '222', 'Beta', 20.0, '2021-03-01 00:00:00');
INSERT INTO title (id, kind, isbn, name, price, published_on, url) VALUES (3, 'EBOOK', '333', 'Gamma', 30.0, '2021-06-01 00:00:00', 'http://gamma');
INSERT INTO title (id, kind, isbn, name, price, published_on) VALUES (4, 'PAPER', '444', 'Beta', 40.0, '2022-09-01 00:00:00');
INSERT INTO title_authors (title_id, author) VALUES (1, 'Bob');
INSERT INTO title_authors (title_id, author) VALUES (1, 'Ann');
INSERT INTO stock (id, title_id, shop_id, quantity) VALUES (1, 1, 1, 5);
INSERT INTO stock (id, title_id, shop_id, quantity) VALUES (2, 1, 2, 3);
INSERT INTO stock (id, title_id, shop_id, quantity) VALUES (3, 2, 1, 7);
`

func testRegistry(t *testing.T) *mapping.Registry {
	t.Helper()
	r := mapping.NewRegistry()
	require.NoError(t, r.Register(mapping.EntityDef{
		Name:         "Shop",
		Table:        "shop",
		KeyField:     "ID",
		KeyGenerator: mapping.GeneratorIncrement,
		VersionField: "Version",
		Columns: []mapping.ColumnDef{
			{Field: "Name"},
			{Field: "Address.Street", Column: "street"},
			{Field: "Address.City", Column: "city"},
		},
		Associations: []mapping.AssociationDef{
			{Name: "stock", Field: "Stock", Kind: mapping.OneToMany, Target: "Stock", MappedBy: "shop"},
		},
	}, (*shop)(nil)))
	require.NoError(t, r.Register(mapping.EntityDef{
		Name:          "Title",
		Table:         "title",
		KeyField:      "ID",
		KeyGenerator:  mapping.GeneratorIncrement,
		VersionField:  "Version",
		Discriminator: &mapping.DiscriminatorDef{Field: "Kind", Column: "kind", Value: "PAPER"},
		Columns: []mapping.ColumnDef{
			{Field: "ISBN", Column: "isbn"},
			{Field: "Name"},
			{Field: "Price"},
			{Field: "PublishedOn", Column: "published_on", Property: "publishedOn"},
		},
		Associations: []mapping.AssociationDef{
			{Name: "stock", Field: "Stock", Kind: mapping.OneToMany, Target: "Stock", MappedBy: "title",
				Cascade: []mapping.Cascade{mapping.CascadeAll}},
		},
		Elements: []mapping.ElementCollectionDef{
			{Property: "authors", Field: "Authors", Table: "title_authors", KeyColumn: "title_id", ValueColumn: "author"},
		},
	}, (*title)(nil)))
	require.NoError(t, r.Register(mapping.EntityDef{
		Name:          "ETitle",
		Extends:       "Title",
		Discriminator: &mapping.DiscriminatorDef{Value: "EBOOK"},
		Columns:       []mapping.ColumnDef{{Field: "Link.URL", Column: "url", Property: "url"}},
	}, (*title)(nil)))
	require.NoError(t, r.Register(mapping.EntityDef{
		Name:         "Stock",
		Table:        "stock",
		KeyField:     "ID",
		KeyGenerator: mapping.GeneratorIncrement,
		Columns:      []mapping.ColumnDef{{Field: "Quantity"}},
		Associations: []mapping.AssociationDef{
			{Name: "title", Field: "Title", Kind: mapping.ManyToOne, Target: "Title", Column: "title_id"},
			{Name: "shop", Field: "Shop", Kind: mapping.ManyToOne, Target: "Shop", Column: "shop_id"},
		},
	}, (*stockItem)(nil)))
	require.NoError(t, r.RegisterNamedQuery("Title.byISBN", "from Title t where t.isbn = :isbn"))
	require.NoError(t, r.RegisterNativeQuery("Shop.stockValue",
		"select sum(s.quantity * t.price) from stock s join title t on t.id = s.title_id where s.shop_id = :shop"))
	require.NoError(t, r.RegisterFilter(mapping.FilterDef{
		Name:      "publishedBetween",
		Entity:    "Title",
		Condition: "publishedOn between :from and :to",
		Params:    []string{"from", "to"},
	}))
	require.NoError(t, r.Freeze())
	return r
}

type fixture struct {
	factory *SessionFactory
	db      *basic.DB
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := basic.Open(ctx, core.DBConfig{
		Driver:   "sqlite",
		Database: filepath.Join(t.TempDir(), "orm.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.ExecScript(ctx, testSchema))

	opts = append([]Option{WithLogger(logging.NewNoopLogger())}, opts...)
	f, err := NewSessionFactory(testRegistry(t), sqlstore.New(db), opts...)
	require.NoError(t, err)
	return &fixture{factory: f, db: db}
}

func (f *fixture) open(t *testing.T) *Session {
	t.Helper()
	s := f.factory.OpenSession(context.Background())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// count 直接查询表行数
func (f *fixture) count(t *testing.T, table, where string, args ...any) int64 {
	t.Helper()
	q := "SELECT COUNT(*) FROM " + table
	if where != "" {
		q += " WHERE " + where
	}
	var n int64
	require.NoError(t, f.db.QueryRow(context.Background(), q, args...).Scan(&n))
	return n
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
