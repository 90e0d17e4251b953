// Package config 从 YAML 读取映射描述与运行时设置，并据此构造 SessionFactory。
//
// 配置文件示例：
//
//	database:
//	  driver: sqlite
//	  database: ./bookstore.db
//	storage: sql
//	logging:
//	  level: info
//	mapping:
//	  entities:
//	    - name: Store
//	      key_field: ID
//	      ...
//	changefeed:
//	  driver: redis
//	  redis:
//	    addr: 127.0.0.1:6379
//
// 文件内容中的 ${VAR} 在解析前按环境变量展开。
package config

import (
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	core "folio/data/db"
	"folio/errors"
	"folio/orm/mapping"
)

// 存储实现
const (
	StorageSQL  = "sql"
	StorageGorm = "gorm"
)

// 变更事件发布方式
const (
	ChangefeedNone   = ""
	ChangefeedMemory = "memory"
	ChangefeedRedis  = "redis"
	ChangefeedNATS   = "nats"
)

// Config 顶层配置
type Config struct {
	Database      core.DBConfig    `yaml:"database"`
	Storage       string           `yaml:"storage"`
	Logging       LoggingConfig    `yaml:"logging"`
	LogOperations bool             `yaml:"log_operations"`
	PlanCacheSize int              `yaml:"plan_cache_size"`
	Snowflake     SnowflakeConfig  `yaml:"snowflake"`
	Mapping       MappingConfig    `yaml:"mapping"`
	Changefeed    ChangefeedConfig `yaml:"changefeed"`
}

// LoggingConfig 日志设置，Level 取 debug/info/warn/error
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Prefix string `yaml:"prefix"`
	// GormLevel gorm 自身的日志级别：silent/error/warn/info
	GormLevel string `yaml:"gorm_level"`
}

// SnowflakeConfig snowflake 主键生成器节点
type SnowflakeConfig struct {
	Datacenter int64 `yaml:"datacenter"`
	Worker     int64 `yaml:"worker"`
}

// MappingConfig 实体映射、命名查询与过滤器
type MappingConfig struct {
	Entities      []mapping.EntityDef `yaml:"entities"`
	Queries       map[string]string   `yaml:"queries"`
	NativeQueries map[string]string   `yaml:"native_queries"`
	Filters       []mapping.FilterDef `yaml:"filters"`
}

// ChangefeedConfig 提交后事件发布
type ChangefeedConfig struct {
	Driver string      `yaml:"driver"`
	Redis  RedisConfig `yaml:"redis"`
	NATS   NATSConfig  `yaml:"nats"`
}

// RedisConfig Redis Streams 发布设置
type RedisConfig struct {
	Addr         string `yaml:"addr"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	DB           int    `yaml:"db"`
	StreamPrefix string `yaml:"stream_prefix"`
	MaxLen       int64  `yaml:"max_len"`
}

// NATSConfig JetStream 发布设置
type NATSConfig struct {
	URL           string `yaml:"url"`
	Stream        string `yaml:"stream"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// Load 读取并解析配置文件
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeConfiguration, "read config "+path)
	}
	cfg, err := Parse(data)
	if err != nil {
		if ae, ok := err.(errors.IError); ok {
			return nil, ae.WithContext("path", path)
		}
		return nil, err
	}
	return cfg, nil
}

// Parse 解析 YAML 配置，补全默认值并校验
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeConfiguration, "parse config")
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	c.Storage = strings.ToLower(strings.TrimSpace(c.Storage))
	if c.Storage == "" {
		c.Storage = StorageSQL
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Prefix == "" {
		c.Logging.Prefix = "[folio] "
	}
	if c.PlanCacheSize <= 0 {
		c.PlanCacheSize = 256
	}
	c.Changefeed.Driver = strings.ToLower(strings.TrimSpace(c.Changefeed.Driver))
}

// Validate 检查取值组合
func (c *Config) Validate() error {
	switch c.Storage {
	case StorageSQL:
	case StorageGorm:
		if c.Database.DriverName() != "mysql" {
			return errors.Newf(errors.ErrCodeConfiguration, "gorm storage supports the mysql driver only, got %q", c.Database.Driver)
		}
	default:
		return errors.Newf(errors.ErrCodeConfiguration, "unknown storage %q", c.Storage)
	}
	switch c.Changefeed.Driver {
	case ChangefeedNone, ChangefeedMemory:
	case ChangefeedRedis:
		if c.Changefeed.Redis.Addr == "" {
			return errors.NewError(errors.ErrCodeConfiguration, "changefeed.redis.addr is required")
		}
	case ChangefeedNATS:
		if c.Changefeed.NATS.URL == "" {
			return errors.NewError(errors.ErrCodeConfiguration, "changefeed.nats.url is required")
		}
	default:
		return errors.Newf(errors.ErrCodeConfiguration, "unknown changefeed driver %q", c.Changefeed.Driver)
	}
	if len(c.Mapping.Entities) == 0 {
		return errors.NewError(errors.ErrCodeConfiguration, "mapping.entities is empty")
	}
	return nil
}

// Registry 注册映射并冻结。types 按实体名给出原型（如 (*Book)(nil)），
// 子类型缺省时沿用父实体的原型。
func (m MappingConfig) Registry(types map[string]any) (*mapping.Registry, error) {
	r := mapping.NewRegistry()
	resolved := make(map[string]any, len(m.Entities))
	for _, def := range m.Entities {
		proto, ok := types[def.Name]
		if !ok && def.Extends != "" {
			proto, ok = resolved[def.Extends]
		}
		if !ok {
			return nil, errors.Newf(errors.ErrCodeConfiguration, "no Go type registered for entity %q", def.Name)
		}
		resolved[def.Name] = proto
		if err := r.Register(def, proto); err != nil {
			return nil, err
		}
	}
	for _, name := range sortedNames(m.Queries) {
		if err := r.RegisterNamedQuery(name, m.Queries[name]); err != nil {
			return nil, err
		}
	}
	for _, name := range sortedNames(m.NativeQueries) {
		if err := r.RegisterNativeQuery(name, m.NativeQueries[name]); err != nil {
			return nil, err
		}
	}
	for _, f := range m.Filters {
		if err := r.RegisterFilter(f); err != nil {
			return nil, err
		}
	}
	if err := r.Freeze(); err != nil {
		return nil, err
	}
	return r, nil
}

func sortedNames(m map[string]string) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
