package messaging

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/a2abridge/agent/delivery"
	"github.com/BaSui01/a2abridge/agent/discovery"
	"github.com/BaSui01/a2abridge/agent/lifecycle"
	"github.com/BaSui01/a2abridge/agent/protocol/a2a"
	"github.com/BaSui01/a2abridge/agent/transport"
	"github.com/BaSui01/a2abridge/types"
)

const instrumentationName = "github.com/BaSui01/a2abridge/agent/messaging"

// MetadataDelegatedBy 接收方在任务 metadata 中记录委派方 Agent ID 的键.
const MetadataDelegatedBy = "delegated_by"

// 报文方向, 作为指标标签.
const (
	DirectionOutbound = "outbound"
	DirectionInbound  = "inbound"
)

// Directory 是 Client 依赖的发现服务, *discovery.Registry 满足该接口.
type Directory interface {
	LookupAgent(ctx context.Context, agentID string) (*a2a.AgentCard, error)
	ListAgents(ctx context.Context, filter discovery.AgentFilter) ([]*a2a.AgentCard, error)
}

// 报文处理结果, 失败时使用错误码.
const (
	OutcomeOK        = "ok"
	OutcomeDropped   = "dropped"
	OutcomeDuplicate = "duplicate"
)

// Recorder 接收报文收发统计.
type Recorder interface {
	ObserveMessage(direction, messageType, outcome string)
}

// Handler 在入站报文处理成功后被调用.
type Handler func(ctx context.Context, msg *a2a.Message) error

// Config 客户端配置.
type Config struct {
	// DedupSize 入站去重缓存容量
	DedupSize int `json:"dedup_size" yaml:"dedup_size"`

	// DedupTTL 已处理 message_id 的保留时间
	DedupTTL time.Duration `json:"dedup_ttl" yaml:"dedup_ttl"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DedupSize: 4096,
		DedupTTL:  10 * time.Minute,
	}
}

// Client 是 A2A 报文客户端: 构造并校验报文, 解析接收方, 经 Executor 投递,
// 成功后驱动本地生命周期引擎. 同时作为 transport.Processor 处理入站报文.
type Client struct {
	self      *a2a.AgentCard
	directory Directory
	engine    *lifecycle.Engine
	executor  *delivery.Executor
	transport transport.Transport

	mu       sync.RWMutex
	handlers map[a2a.MessageType][]Handler

	seen     *expirable.LRU[string, *a2a.Ack]
	tracer   trace.Tracer
	recorder Recorder
	logger   *zap.Logger
}

// Option 配置 Client.
type Option func(*Client)

// WithTracer 替换 OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(c *Client) { c.tracer = t }
}

// WithRecorder 设置报文统计.
func WithRecorder(r Recorder) Option {
	return func(c *Client) { c.recorder = r }
}

// WithExecutor 替换投递执行器.
func WithExecutor(e *delivery.Executor) Option {
	return func(c *Client) { c.executor = e }
}

// WithConfig 设置客户端配置.
func WithConfig(cfg *Config) Option {
	return func(c *Client) {
		if cfg != nil {
			c.seen = newDedupCache(cfg)
		}
	}
}

// NewClient 创建报文客户端. self 是本 Agent 的卡片, 必须通过校验.
func NewClient(self *a2a.AgentCard, directory Directory, engine *lifecycle.Engine, tr transport.Transport, logger *zap.Logger, opts ...Option) (*Client, error) {
	if self == nil {
		return nil, types.NewError(types.ErrInvalidAgentCard, "self agent card is required")
	}
	if err := self.Validate(); err != nil {
		return nil, err
	}
	if directory == nil || engine == nil || tr == nil {
		return nil, errors.New("messaging: directory, engine and transport are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "messaging"), zap.String("agent_id", self.ID))

	c := &Client{
		self:      self.Clone(),
		directory: directory,
		engine:    engine,
		transport: tr,
		handlers:  make(map[a2a.MessageType][]Handler),
		seen:      newDedupCache(DefaultConfig()),
		tracer:    otel.Tracer(instrumentationName),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.executor == nil {
		c.executor = delivery.NewExecutor(nil, logger)
	}
	return c, nil
}

func newDedupCache(cfg *Config) *expirable.LRU[string, *a2a.Ack] {
	size := cfg.DedupSize
	if size <= 0 {
		size = DefaultConfig().DedupSize
	}
	return expirable.NewLRU[string, *a2a.Ack](size, nil, cfg.DedupTTL)
}

// Self 返回本 Agent 卡片的副本.
func (c *Client) Self() *a2a.AgentCard {
	return c.self.Clone()
}

// Engine 返回客户端驱动的生命周期引擎.
func (c *Client) Engine() *lifecycle.Engine {
	return c.engine
}

// OnMessage 注册入站报文处理器, 同一类型可以注册多个, 按注册顺序调用.
func (c *Client) OnMessage(mt a2a.MessageType, h Handler) {
	if h == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[mt] = append(c.handlers[mt], h)
}

// Receipt 一次出站投递的结果.
type Receipt struct {
	MessageID string
	To        string
	Ack       *a2a.Ack
	Attempts  int
	Retries   int
	TotalWait time.Duration

	// Dropped fire-and-forget 报文未送达时的错误
	Dropped error
}

// send 编码并投递报文. 接收方的确认必须对应本报文.
// check 在每次尝试拿到确认后调用, 返回的错误同样参与重试分类.
func (c *Client) send(ctx context.Context, msg *a2a.Message, endpoint string, check func(*a2a.Ack) error) (*Receipt, error) {
	raw, err := msg.Encode()
	if err != nil {
		c.observe(DirectionOutbound, msg.Type, outcomeOf(err))
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "a2a.send "+string(msg.Type),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("a2a.message_id", msg.MessageID),
			attribute.String("a2a.message_type", string(msg.Type)),
			attribute.String("a2a.to", msg.To),
			attribute.String("a2a.endpoint", endpoint),
		),
	)
	defer span.End()

	out, err := delivery.Deliver(ctx, c.executor, msg.Type, func(ctx context.Context) (*a2a.Ack, error) {
		resp, err := c.transport.Send(ctx, endpoint, raw)
		if err != nil {
			return nil, err
		}
		ack, err := a2a.InterpretResponse(resp.StatusCode, resp.Body)
		if err != nil {
			return nil, err
		}
		if ack.MessageID != "" && ack.MessageID != msg.MessageID {
			return nil, types.Errorf(types.ErrProtocolViolation,
				"acknowledgment is for message %s, expected %s", ack.MessageID, msg.MessageID).
				WithDetail("message_id", msg.MessageID)
		}
		if check != nil {
			if err := check(ack); err != nil {
				return nil, err
			}
		}
		return ack, nil
	})

	receipt := &Receipt{MessageID: msg.MessageID, To: msg.To}
	if out != nil {
		receipt.Ack = out.Value
		receipt.Attempts = out.Attempts
		receipt.Retries = out.Retries()
		receipt.TotalWait = out.TotalWait
		receipt.Dropped = out.Dropped
	}
	span.SetAttributes(
		attribute.Int("a2a.attempts", receipt.Attempts),
		attribute.Int64("a2a.total_wait_ms", receipt.TotalWait.Milliseconds()),
	)

	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		outcome := outcomeOf(err)
		if ex, ok := delivery.AsExhausted(err); ok {
			outcome = string(ex.Code())
		}
		c.observe(DirectionOutbound, msg.Type, outcome)
		return receipt, err
	case receipt.Dropped != nil:
		span.SetStatus(codes.Error, receipt.Dropped.Error())
		c.observe(DirectionOutbound, msg.Type, OutcomeDropped)
	default:
		c.observe(DirectionOutbound, msg.Type, OutcomeOK)
	}
	return receipt, nil
}

// resolve 查找接收方卡片.
func (c *Client) resolve(ctx context.Context, agentID string) (*a2a.AgentCard, error) {
	if agentID == "" {
		return nil, types.NewError(types.ErrAgentNotFound, "recipient is required")
	}
	card, err := c.directory.LookupAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if card.Endpoint == "" {
		return nil, types.Errorf(types.ErrInvalidAgentCard, "agent %s has no endpoint", agentID).
			WithDetail("agent_id", agentID)
	}
	return card, nil
}

func (c *Client) observe(direction string, mt a2a.MessageType, outcome string) {
	if c.recorder == nil {
		return
	}
	c.recorder.ObserveMessage(direction, string(mt), outcome)
}

func outcomeOf(err error) string {
	if err == nil {
		return OutcomeOK
	}
	if code := types.GetErrorCode(err); code != "" {
		return string(code)
	}
	return string(types.ErrInternalError)
}
