// Package basic 基于 database/sql 实现 db.IDatabase
package basic

import (
	"context"
	"database/sql"
	"time"

	// 注册 mysql 与 sqlite 驱动
	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	core "folio/data/db"
	"folio/data/db/dialect"
)

// DB 包装 *sql.DB，按方言改写占位符
type DB struct {
	conn
	db *sql.DB
}

// Open 按配置打开连接池并 Ping 校验
func Open(ctx context.Context, config core.DBConfig) (*DB, error) {
	driver := config.DriverName()
	dsn, err := config.DataSourceName()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(config.ConnMaxLifetime) * time.Second)
	}
	if config.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(time.Duration(config.ConnMaxIdleTime) * time.Second)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return Wrap(db, driver), nil
}

// Wrap 包装已有的 *sql.DB
func Wrap(db *sql.DB, driver string) *DB {
	return &DB{conn: conn{q: db, dialect: dialect.New(driver)}, db: db}
}

func (d *DB) Begin(ctx context.Context) (core.ITransaction, error) {
	return d.BeginTx(ctx, nil)
}

func (d *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (core.ITransaction, error) {
	tx, err := d.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{conn: conn{q: tx, dialect: d.dialect}, db: d.db, tx: tx}, nil
}

func (d *DB) Ping(ctx context.Context) error { return d.db.PingContext(ctx) }
func (d *DB) Close() error                   { return d.db.Close() }
func (d *DB) Raw() any                       { return d.db }
