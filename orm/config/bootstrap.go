package config

import (
	"context"
	"io"
	"strings"

	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	core "folio/data/db"
	"folio/data/db/basic"
	"folio/errors"
	"folio/logging"
	"folio/orm"
	"folio/orm/changefeed"
	"folio/orm/storage"
	"folio/orm/storage/gormstore"
	"folio/orm/storage/sqlstore"
)

// Runtime Open 的结果：会话工厂及其持有的连接
type Runtime struct {
	Factory *orm.SessionFactory
	// DB sql 存储下的连接，gorm 存储时为 nil
	DB *basic.DB
	// Gorm gorm 存储下的连接
	Gorm      *gorm.DB
	Publisher changefeed.Publisher
	Logger    logging.Logger

	closers []func() error
}

// Close 按打开的逆序释放发布器与连接
func (r *Runtime) Close() error {
	var first error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	r.closers = nil
	return first
}

// Open 按配置打开存储、构造注册表与发布器，返回可用的会话工厂。
// opts 追加在配置生成的选项之后。
func Open(ctx context.Context, cfg *Config, types map[string]any, opts ...orm.Option) (*Runtime, error) {
	reg, err := cfg.Mapping.Registry(types)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{Logger: cfg.NewLogger()}
	ok := false
	defer func() {
		if !ok {
			_ = rt.Close()
		}
	}()

	var store storage.Storage
	switch cfg.Storage {
	case StorageGorm:
		dsn, err := cfg.Database.DataSourceName()
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrCodeConfiguration, "database dsn")
		}
		gdb, err := gorm.Open(gormmysql.Open(dsn), &gorm.Config{
			SkipDefaultTransaction: true,
			Logger:                 gormlogger.Default.LogMode(gormLevel(cfg.Logging.GormLevel)),
		})
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrCodeDatabase, "open gorm connection")
		}
		if sqlDB, err := gdb.DB(); err == nil {
			applyPool(cfg.Database, sqlDB.SetMaxOpenConns, sqlDB.SetMaxIdleConns)
			rt.closers = append(rt.closers, sqlDB.Close)
		}
		rt.Gorm = gdb
		store = gormstore.New(gdb)
	default:
		db, err := basic.Open(ctx, cfg.Database)
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrCodeDatabase, "open database")
		}
		rt.closers = append(rt.closers, db.Close)
		rt.DB = db
		store = sqlstore.New(db)
	}

	pub, err := cfg.Changefeed.publisher(rt.Logger)
	if err != nil {
		return nil, err
	}
	if c, isCloser := pub.(io.Closer); isCloser {
		rt.closers = append(rt.closers, c.Close)
	}

	base := []orm.Option{
		orm.WithLogger(rt.Logger.WithFields(logging.String("component", "orm"))),
		orm.WithPlanCacheSize(cfg.PlanCacheSize),
		orm.WithSnowflakeNode(cfg.Snowflake.Datacenter, cfg.Snowflake.Worker),
	}
	if pub != nil {
		rt.Publisher = pub
		base = append(base, orm.WithPublisher(pub))
	}
	if cfg.LogOperations {
		base = append(base, orm.WithObserver(storage.LogOperations(rt.Logger.WithFields(logging.String("component", "storage")))))
	}
	rt.Factory, err = orm.NewSessionFactory(reg, store, append(base, opts...)...)
	if err != nil {
		return nil, err
	}

	rt.Logger.Info(ctx, "session factory ready",
		logging.String("storage", cfg.Storage),
		logging.String("driver", cfg.Database.DriverName()),
		logging.Int("entities", len(reg.Entities())),
		logging.String("changefeed", cfg.Changefeed.Driver))
	ok = true
	return rt, nil
}

// NewLogger 按日志配置创建标准日志器
func (c *Config) NewLogger() logging.Logger {
	l := logging.NewStdLogger(c.Logging.Prefix)
	l.SetLevel(logging.ParseLevel(c.Logging.Level))
	return l
}

func (c ChangefeedConfig) publisher(logger logging.Logger) (changefeed.Publisher, error) {
	logger = logger.WithFields(logging.String("component", "changefeed"))
	switch c.Driver {
	case ChangefeedMemory:
		return changefeed.NewMemory(), nil
	case ChangefeedRedis:
		return changefeed.NewRedis(changefeed.RedisConfig{
			Addr:         c.Redis.Addr,
			Username:     c.Redis.Username,
			Password:     c.Redis.Password,
			DB:           c.Redis.DB,
			StreamPrefix: c.Redis.StreamPrefix,
			MaxLen:       c.Redis.MaxLen,
			Logger:       logger,
		})
	case ChangefeedNATS:
		return changefeed.NewNATS(changefeed.NATSConfig{
			URL:           c.NATS.URL,
			Stream:        c.NATS.Stream,
			SubjectPrefix: c.NATS.SubjectPrefix,
			Logger:        logger,
		}), nil
	default:
		return nil, nil
	}
}

func applyPool(cfg core.DBConfig, maxOpen, maxIdle func(int)) {
	if cfg.MaxOpenConns > 0 {
		maxOpen(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		maxIdle(cfg.MaxIdleConns)
	}
}

func gormLevel(level string) gormlogger.LogLevel {
	switch strings.ToLower(level) {
	case "info":
		return gormlogger.Info
	case "warn":
		return gormlogger.Warn
	case "error":
		return gormlogger.Error
	default:
		return gormlogger.Silent
	}
}
