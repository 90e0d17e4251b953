package changefeed

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"folio/errors"
	"folio/logging"
)

// streamClient go-redis 中用到的命令子集，便于测试替换
type streamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// RedisConfig Redis Streams 发布配置
type RedisConfig struct {
	Client   redis.UniversalClient
	Addr     string
	Username string
	Password string
	DB       int
	// StreamPrefix 每个实体一个流：StreamPrefix + 实体名
	StreamPrefix string
	// MaxLen 流的近似最大长度，0 表示不裁剪
	MaxLen int64
	Logger logging.Logger
}

// Redis 把事件写入 Redis Streams
type Redis struct {
	cfg       RedisConfig
	client    streamClient
	ownClient bool
	logger    logging.Logger
}

// NewRedis 创建 Redis Streams 发布者；未提供 Client 时按 Addr 建立连接
func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.StreamPrefix == "" {
		cfg.StreamPrefix = "folio:changes:"
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.ComponentLogger("changefeed.redis")
	}
	r := &Redis{cfg: cfg, logger: cfg.Logger}
	if cfg.Client != nil {
		r.client = cfg.Client
	} else {
		if cfg.Addr == "" {
			return nil, errors.NewError(errors.ErrCodeConfiguration, "redis changefeed requires a client or an address")
		}
		r.client = redis.NewClient(&redis.Options{Addr: cfg.Addr, Username: cfg.Username, Password: cfg.Password, DB: cfg.DB})
		r.ownClient = true
	}
	return r, nil
}

func (r *Redis) stream(entity string) string {
	return r.cfg.StreamPrefix + entity
}

func (r *Redis) Publish(ctx context.Context, events []Event) error {
	for _, e := range events {
		payload, err := Encode(e)
		if err != nil {
			return errors.WrapError(err, errors.ErrCodeQueue, "encode change event")
		}
		args := &redis.XAddArgs{
			Stream: r.stream(e.Entity),
			Values: map[string]any{
				"id":      e.ID,
				"entity":  e.Entity,
				"op":      string(e.Operation),
				"key":     fmt.Sprint(e.Key),
				"payload": payload,
			},
		}
		if r.cfg.MaxLen > 0 {
			args.MaxLen = r.cfg.MaxLen
			args.Approx = true
		}
		if err := r.client.XAdd(ctx, args).Err(); err != nil {
			return errors.WrapError(err, errors.ErrCodeQueue, "xadd "+args.Stream)
		}
	}
	r.logger.Debug(ctx, "change events published", logging.Int("count", len(events)))
	return nil
}

// Close 关闭自行创建的连接
func (r *Redis) Close() error {
	if r.ownClient {
		return r.client.Close()
	}
	return nil
}
