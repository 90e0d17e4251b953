// Package orm 持久化核心：会话、身份映射、事务与关联加载。
//
// SessionFactory 由冻结的 mapping.Registry 与 storage.Storage 构造，线程安全；
// Session 由单个 goroutine 使用，结束时必须 Close。
package orm

import (
	"context"
	"reflect"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"folio/cache"
	"folio/errors"
	"folio/logging"
	"folio/orm/changefeed"
	"folio/orm/keygen"
	"folio/orm/mapping"
	"folio/orm/query"
	"folio/orm/storage"
	"folio/patterns/retry"
)

// Option SessionFactory 配置项
type Option func(*options)

type options struct {
	logger     logging.Logger
	generators map[string]keygen.Generator
	datacenter int64
	worker     int64
	planCache  int
	publisher  changefeed.Publisher
	retry      retry.Config
	observer   storage.ObserveFunc
}

// WithLogger 设置日志器
func WithLogger(logger logging.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithKeyGenerator 注册或替换主键生成器
func WithKeyGenerator(name string, g keygen.Generator) Option {
	return func(o *options) { o.generators[name] = g }
}

// WithSnowflakeNode 设置 snowflake 生成器的数据中心与机器号
func WithSnowflakeNode(datacenterID, workerID int64) Option {
	return func(o *options) {
		o.datacenter = datacenterID
		o.worker = workerID
	}
}

// WithPlanCacheSize 查询计划缓存容量
func WithPlanCacheSize(size int) Option {
	return func(o *options) { o.planCache = size }
}

// WithPublisher 提交后发布变更事件
func WithPublisher(p changefeed.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithRetry 关联批量读取的重试策略
func WithRetry(cfg retry.Config) Option {
	return func(o *options) { o.retry = cfg }
}

// WithObserver 观察每次存储操作（如 storage.LogOperations）
func WithObserver(fn storage.ObserveFunc) Option {
	return func(o *options) { o.observer = fn }
}

// compiledFilter 预编译的会话过滤器
type compiledFilter struct {
	def    mapping.FilterDef
	entity *mapping.Entity
	where  storage.Predicate
}

// SessionFactory 会话工厂
type SessionFactory struct {
	registry  *mapping.Registry
	store     storage.Storage
	logger    logging.Logger
	keys      keygen.Set
	plans     *cache.Cache[uint64, *query.Plan]
	filters   map[string]*compiledFilter
	publisher changefeed.Publisher
	retry     retry.Config
}

// NewSessionFactory 校验映射、预编译命名查询与过滤器
func NewSessionFactory(reg *mapping.Registry, store storage.Storage, opts ...Option) (*SessionFactory, error) {
	if reg == nil || !reg.Frozen() {
		return nil, configurationError("registry must be frozen before creating a session factory")
	}
	if store == nil {
		return nil, configurationError("storage is required")
	}

	o := &options{
		generators: make(map[string]keygen.Generator),
		planCache:  256,
		retry:      retry.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.ComponentLogger("orm")
	}
	if o.retry.Retryable == nil {
		o.retry.Retryable = errors.IsTransient
	}
	if o.observer != nil {
		store = storage.Observe(store, o.observer)
	}

	sf, err := keygen.NewSnowflake(o.datacenter, o.worker)
	if err != nil {
		return nil, err
	}
	keys := keygen.Defaults(store, sf)
	for name, g := range o.generators {
		keys[name] = g
	}

	f := &SessionFactory{
		registry:  reg,
		store:     store,
		logger:    o.logger,
		keys:      keys,
		plans:     cache.New[uint64, *query.Plan](cache.Config{Name: "orm.plans", MaxSize: o.planCache}),
		filters:   make(map[string]*compiledFilter),
		publisher: o.publisher,
		retry:     o.retry,
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return f, nil
}

var (
	referenceType  = reflect.TypeOf((*referenceField)(nil)).Elem()
	collectionType = reflect.TypeOf((*collectionField)(nil)).Elem()
)

func (f *SessionFactory) validate() error {
	for _, e := range f.registry.Entities() {
		if e.Parent == nil {
			if _, err := f.keys.Lookup(e.KeyGenerator); err != nil {
				return configurationError("entity %q uses unknown key generator %q", e.Name, e.KeyGenerator)
			}
		}
		for _, a := range e.Associations() {
			if a.Owner != e {
				continue
			}
			if err := checkAssociationField(a); err != nil {
				return err
			}
		}
	}

	for _, name := range f.registry.NamedQueries() {
		hql, _ := f.registry.NamedQuery(name)
		if _, err := f.plan(hql); err != nil {
			return errors.NewErrorWithCause(errors.ErrCodeConfiguration, "named query "+name+" does not compile", err)
		}
	}

	for _, def := range f.registry.Filters() {
		e, _ := f.registry.Entity(def.Entity)
		cond, err := query.ParseCondition(def.Condition)
		if err == nil {
			var where storage.Predicate
			where, err = query.CompileCondition(e, f.registry, cond)
			if err == nil {
				if err = checkFilterParams(def, where); err == nil {
					f.filters[def.Name] = &compiledFilter{def: def, entity: e, where: where}
				}
			}
		}
		if err != nil {
			return errors.NewErrorWithCause(errors.ErrCodeConfiguration, "filter "+def.Name+" does not compile", err)
		}
	}
	return nil
}

func checkAssociationField(a *mapping.Association) error {
	ptr := reflect.PointerTo(a.FieldType())
	var target reflect.Type
	switch a.Kind {
	case mapping.ManyToOne:
		if !ptr.Implements(referenceType) {
			return configurationError("%s.%s: many-to-one field must be an orm.Reference, got %s", a.Owner.Name, a.Name, a.FieldType())
		}
		target = reflect.New(a.FieldType()).Interface().(referenceField).targetType()
	case mapping.OneToMany:
		if !ptr.Implements(collectionType) {
			return configurationError("%s.%s: one-to-many field must be an orm.Collection, got %s", a.Owner.Name, a.Name, a.FieldType())
		}
		target = reflect.New(a.FieldType()).Interface().(collectionField).targetType()
	}
	if target != a.Target.Type {
		return configurationError("%s.%s: field element type %s does not match entity %s (%s)",
			a.Owner.Name, a.Name, target, a.Target.Name, a.Target.Type)
	}
	return nil
}

func checkFilterParams(def mapping.FilterDef, where storage.Predicate) error {
	if len(def.Params) == 0 {
		return nil
	}
	declared := make(map[string]bool, len(def.Params))
	for _, p := range def.Params {
		declared[p] = true
	}
	for _, p := range storage.Params(where) {
		if !declared[p] {
			return configurationError("filter %q uses undeclared parameter %q", def.Name, p)
		}
	}
	return nil
}

// plan 解析并编译 HQL，结果按文本哈希缓存
func (f *SessionFactory) plan(hql string) (*query.Plan, error) {
	compile := func() (*query.Plan, error) {
		spec, err := query.Parse(hql)
		if err != nil {
			return nil, err
		}
		return query.Compile(spec, f.registry)
	}
	p, err := f.plans.GetOrLoad(xxhash.Sum64String(hql), compile)
	if err != nil {
		return nil, err
	}
	if p.Source != hql {
		// 哈希冲突，不走缓存
		return compile()
	}
	return p, nil
}

// Registry 映射注册表
func (f *SessionFactory) Registry() *mapping.Registry { return f.registry }

// Storage 底层存储
func (f *SessionFactory) Storage() storage.Storage { return f.store }

// PlanCacheStats 查询计划缓存统计
func (f *SessionFactory) PlanCacheStats() cache.Stats { return f.plans.Stats() }

// OpenSession 打开新会话
func (f *SessionFactory) OpenSession(ctx context.Context) *Session {
	id := uuid.NewString()
	s := &Session{
		id:       id,
		factory:  f,
		registry: f.registry,
		store:    f.store,
		logger:   f.logger.WithFields(logging.Session(id)),
		entities: newIdentityMap(),
		filters:  make(map[string]*Filter),
	}
	s.logger.Debug(ctx, "session opened")
	return s
}
