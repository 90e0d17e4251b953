// Package bookstore 示例领域：门店、图书（含电子书子类型）与库存记录，
// 映射、表结构与种子数据均以内嵌文件提供。
package bookstore

import (
	"fmt"
	"time"

	"folio/orm"
	"folio/validation"
)

// 图书鉴别值
const (
	KindBook       = "BOOK"
	KindElectronic = "EBOOK"
)

// Address 门店地址组件
type Address struct {
	Street1 string
	Street2 string
	City    string
	State   string
	Zip     string
}

func (a Address) String() string {
	return fmt.Sprintf("%s, %s, %s %s", a.Street1, a.City, a.State, a.Zip)
}

// Store 门店
type Store struct {
	ID        int64
	NickName  string
	Address   Address
	Version   int
	Inventory orm.Collection[Inventory]
}

// NewStore 创建未持久化的门店
func NewStore(nickName, street1, city, state, zip string) *Store {
	return &Store{
		NickName: nickName,
		Address:  Address{Street1: street1, City: city, State: state, Zip: zip},
	}
}

func (s *Store) String() string { return s.NickName }

// Validate 提交前校验
func (s *Store) Validate() error {
	var c validation.Collector
	c.Check(validation.ValidateRequired(s.NickName, "nickName"))
	c.Check(validation.ValidateStringLength(s.Address.State, "address.state", 0, 2))
	return c.Err()
}

// Edition 电子书的发行信息，仅 EBOOK 行有值
type Edition struct {
	URL    string
	Format string
}

// Book 图书。Kind 为 EBOOK 时按 ElectronicBook 实体加载，Electronic 非空。
type Book struct {
	ID               int64
	Kind             string
	ISBN             string
	Title            string
	PublishedOn      time.Time
	Price            float64
	Electronic       *Edition
	Authors          []string
	InventoryRecords orm.Collection[Inventory]
	Version          int
}

// NewBook 创建纸质图书
func NewBook(isbn, title string, publishedOn time.Time, price float64) *Book {
	return &Book{Kind: KindBook, ISBN: isbn, Title: title, PublishedOn: publishedOn, Price: price}
}

// NewElectronicBook 创建电子书
func NewElectronicBook(isbn, title string, publishedOn time.Time, price float64, url, format string) *Book {
	b := NewBook(isbn, title, publishedOn, price)
	b.Kind = KindElectronic
	b.Electronic = &Edition{URL: url, Format: format}
	return b
}

// IsElectronic 是否为电子书
func (b *Book) IsElectronic() bool { return b.Kind == KindElectronic }

// AddInventoryRecord 在门店登记库存；保存图书时级联保存该记录
func (b *Book) AddInventoryRecord(store *Store, quantity int) *Inventory {
	rec := &Inventory{Quantity: quantity}
	rec.Book.Set(b)
	rec.Store.Set(store)
	b.InventoryRecords.Add(rec)
	return rec
}

// Validate 提交前校验
func (b *Book) Validate() error {
	var c validation.Collector
	c.Check(validation.ValidateISBN(b.ISBN))
	c.Check(validation.ValidateRequired(b.Title, "title"))
	c.Check(validation.ValidateNonNegativeFloat(b.Price, "price"))
	if b.IsElectronic() && b.Electronic != nil {
		c.Check(validation.ValidateEnum(b.Electronic.Format, "format", []string{"PDF", "EPUB", "MOBI"}))
	}
	return c.Err()
}

// Inventory 某本书在某门店的库存
type Inventory struct {
	ID       int64
	Book     orm.Reference[Book]
	Store    orm.Reference[Store]
	Quantity int
}

// Validate 提交前校验
func (i *Inventory) Validate() error {
	return validation.ValidateNonNegative(i.Quantity, "quantity")
}
