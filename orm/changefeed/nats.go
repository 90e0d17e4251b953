package changefeed

import (
	"context"
	stdErrors "errors"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"

	"folio/errors"
	"folio/logging"
)

// jetStream nats.JetStreamContext 中用到的方法子集
type jetStream interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
}

// NATSConfig JetStream 发布配置
type NATSConfig struct {
	URL    string
	Conn   *nats.Conn
	Stream string
	// SubjectPrefix 事件主题为 SubjectPrefix + 实体名 + "." + 操作
	SubjectPrefix string
	Logger        logging.Logger
}

// NATS 把事件发布到 JetStream，事件 ID 作为消息 ID 去重
type NATS struct {
	cfg    NATSConfig
	logger logging.Logger

	mu       sync.Mutex
	conn     *nats.Conn
	js       jetStream
	ownsConn bool
}

// NewNATS 创建 JetStream 发布者，连接在首次发布时建立
func NewNATS(cfg NATSConfig) *NATS {
	if cfg.Stream == "" {
		cfg.Stream = "FOLIO_CHANGES"
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "folio.changes."
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.ComponentLogger("changefeed.nats")
	}
	return &NATS{cfg: cfg, logger: cfg.Logger}
}

func (n *NATS) subject(e Event) string {
	return n.cfg.SubjectPrefix + e.Entity + "." + string(e.Operation)
}

func (n *NATS) jetStream() (jetStream, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.js != nil {
		return n.js, nil
	}
	if n.cfg.Conn != nil {
		n.conn = n.cfg.Conn
	} else {
		url := n.cfg.URL
		if url == "" {
			url = nats.DefaultURL
		}
		conn, err := nats.Connect(url)
		if err != nil {
			return nil, err
		}
		n.conn = conn
		n.ownsConn = true
	}
	js, err := n.conn.JetStream()
	if err != nil {
		return nil, err
	}
	if err := n.ensureStream(js); err != nil {
		return nil, err
	}
	n.js = js
	return js, nil
}

func (n *NATS) ensureStream(js jetStream) error {
	_, err := js.StreamInfo(n.cfg.Stream)
	if err == nil {
		return nil
	}
	if !stdErrors.Is(err, nats.ErrStreamNotFound) && !strings.Contains(err.Error(), "stream not found") {
		return err
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:      n.cfg.Stream,
		Subjects:  []string{n.cfg.SubjectPrefix + ">"},
		Retention: nats.LimitsPolicy,
	})
	return err
}

func (n *NATS) Publish(ctx context.Context, events []Event) error {
	js, err := n.jetStream()
	if err != nil {
		return errors.WrapError(err, errors.ErrCodeQueue, "connect jetstream")
	}
	for _, e := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := Encode(e)
		if err != nil {
			return errors.WrapError(err, errors.ErrCodeQueue, "encode change event")
		}
		if _, err := js.Publish(n.subject(e), data, nats.MsgId(e.ID)); err != nil {
			return errors.WrapError(err, errors.ErrCodeQueue, "publish "+n.subject(e))
		}
	}
	n.logger.Debug(ctx, "change events published", logging.Int("count", len(events)))
	return nil
}

// Close 关闭自行建立的连接
func (n *NATS) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ownsConn && n.conn != nil {
		n.conn.Close()
	}
	n.js = nil
	return nil
}
