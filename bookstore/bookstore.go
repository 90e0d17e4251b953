package bookstore

import (
	"context"
	"embed"
	"time"

	core "folio/data/db"
	"folio/errors"
	"folio/orm"
	"folio/orm/config"
	"folio/orm/fixture"
	"folio/orm/storage"
)

// 命名查询与过滤器
const (
	QueryFindByISBN        = "Book.findByISBN"
	QueryTotalStoreValue   = "Store.findTotalValueOfBookForStore"
	FilterPublishedBetween = "publishedBetweenFilter"
)

//go:embed bookstore.yaml schema.sql dataset.yaml
var files embed.FS

// Types 实体名到 Go 原型；ElectronicBook 沿用 Book
func Types() map[string]any {
	return map[string]any{
		"Store":     (*Store)(nil),
		"Book":      (*Book)(nil),
		"Inventory": (*Inventory)(nil),
	}
}

// Config 内嵌的映射与默认设置；db 非零时替换数据库配置
func Config(db core.DBConfig) (*config.Config, error) {
	data, err := files.ReadFile("bookstore.yaml")
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeConfiguration, "read embedded mapping")
	}
	cfg, err := config.Parse(data)
	if err != nil {
		return nil, err
	}
	if db != (core.DBConfig{}) {
		cfg.Database = db
	}
	return cfg, nil
}

// Open 按配置打开会话工厂
func Open(ctx context.Context, cfg *config.Config, opts ...orm.Option) (*config.Runtime, error) {
	return config.Open(ctx, cfg, Types(), opts...)
}

// CreateSchema 执行内嵌的建表脚本
func CreateSchema(ctx context.Context, db interface {
	ExecScript(ctx context.Context, script string) error
}) error {
	ddl, err := files.ReadFile("schema.sql")
	if err != nil {
		return errors.WrapError(err, errors.ErrCodeConfiguration, "read embedded schema")
	}
	return db.ExecScript(ctx, string(ddl))
}

// Dataset 内嵌的种子数据
func Dataset() (*fixture.Dataset, error) {
	return fixture.Load(files, "dataset.yaml")
}

// Seed 清空并重新写入种子数据
func Seed(ctx context.Context, store storage.Storage) error {
	ds, err := Dataset()
	if err != nil {
		return err
	}
	return ds.CleanInsert(ctx, store)
}

// FindByISBN 按 ISBN 查找图书，不存在时返回 nil
func FindByISBN(ctx context.Context, s *orm.Session, isbn string) (*Book, error) {
	return orm.Unique[Book](ctx, s.NamedQuery(QueryFindByISBN).SetParameter("isbn", isbn))
}

// TotalValue 门店库存总值（数量 × 单价），门店无库存时为 0
func TotalValue(ctx context.Context, s *orm.Session, storeID int64) (float64, error) {
	v, err := s.NamedNativeQuery(QueryTotalStoreValue).SetParameter("store_id", storeID).UniqueResult(ctx)
	if err != nil || v == nil {
		return 0, err
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	default:
		return 0, errors.Newf(errors.ErrCodeQuery, "unexpected total value type %T", v)
	}
}

// PublishedBetween 启用出版日期过滤器，闭区间
func PublishedBetween(s *orm.Session, from, to time.Time) error {
	f, err := s.EnableFilter(FilterPublishedBetween)
	if err != nil {
		return err
	}
	f.SetParameter("startDate", from).SetParameter("endDate", to)
	return nil
}
