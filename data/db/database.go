// Package db 提供通用的数据库抽象接口，屏蔽 database/sql 驱动差异
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// IDatabase 通用数据库接口
type IDatabase interface {
	// 查询操作
	Query(ctx context.Context, query string, args ...any) (IRows, error)
	QueryRow(ctx context.Context, query string, args ...any) IRow

	// 执行操作
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)

	// 事务操作
	Begin(ctx context.Context) (ITransaction, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (ITransaction, error)

	// 连接管理
	Ping(ctx context.Context) error
	Close() error

	// 获取原始连接（*sql.DB 或 *sql.Tx）
	Raw() any
}

// IDialectNameProvider 可选接口：提供底层数据库方言名称（mysql、sqlite、postgres）
type IDialectNameProvider interface {
	GetDialectName() string
}

// ITransaction 事务接口
type ITransaction interface {
	IDatabase

	Commit() error
	Rollback() error
}

// IRows 查询结果集接口
type IRows interface {
	Next() bool
	Scan(dest ...any) error
	Close() error
	Err() error

	Columns() ([]string, error)
	ColumnTypes() ([]*sql.ColumnType, error)
}

// IRow 单行结果接口
type IRow interface {
	Scan(dest ...any) error
	Err() error
}

// DBConfig 数据库配置
//
// DSN 非空时直接使用；否则 mysql 驱动根据 Host/Port/Database/Username/Password 组装 DSN，
// sqlite 驱动把 Database 当作文件路径。
type DBConfig struct {
	Driver   string `yaml:"driver"` // mysql, sqlite
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// 连接池配置
	MaxOpenConns    int `yaml:"max_open_conns"`
	MaxIdleConns    int `yaml:"max_idle_conns"`
	ConnMaxLifetime int `yaml:"conn_max_lifetime"`  // 秒
	ConnMaxIdleTime int `yaml:"conn_max_idle_time"` // 秒

	// mysql 选项
	Charset   string `yaml:"charset"`
	ParseTime bool   `yaml:"parse_time"`
	Location  string `yaml:"location"`
}

// DriverName 返回 database/sql 注册的驱动名，默认 sqlite
func (c DBConfig) DriverName() string {
	switch strings.ToLower(strings.TrimSpace(c.Driver)) {
	case "", "sqlite", "sqlite3":
		return "sqlite"
	default:
		return strings.ToLower(strings.TrimSpace(c.Driver))
	}
}

// DataSourceName 组装 DSN
func (c DBConfig) DataSourceName() (string, error) {
	if c.DSN != "" {
		return c.DSN, nil
	}
	switch c.DriverName() {
	case "mysql":
		cfg := mysql.NewConfig()
		cfg.User = c.Username
		cfg.Passwd = c.Password
		cfg.Net = "tcp"
		host := c.Host
		if host == "" {
			host = "127.0.0.1"
		}
		port := c.Port
		if port == 0 {
			port = 3306
		}
		cfg.Addr = fmt.Sprintf("%s:%d", host, port)
		cfg.DBName = c.Database
		cfg.ParseTime = c.ParseTime
		if c.Charset != "" {
			cfg.Params = map[string]string{"charset": c.Charset}
		}
		if c.Location != "" {
			loc, err := time.LoadLocation(c.Location)
			if err != nil {
				return "", fmt.Errorf("db: invalid location %q: %w", c.Location, err)
			}
			cfg.Loc = loc
		}
		return cfg.FormatDSN(), nil
	case "sqlite":
		if c.Database == "" {
			return "", fmt.Errorf("db: sqlite requires database path")
		}
		return c.Database, nil
	default:
		return "", fmt.Errorf("db: unsupported driver %q", c.Driver)
	}
}
