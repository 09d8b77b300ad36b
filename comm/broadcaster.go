package comm

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/swarmflow/agent"
	"github.com/BaSui01/swarmflow/internal/metrics"
	"github.com/BaSui01/swarmflow/internal/pool"
)

// FilterFunc 订阅过滤谓词；返回 false 的消息不投递给该订阅
type FilterFunc func(msg *agent.AgentMessage) bool

// SubscriberFunc 订阅回调
type SubscriberFunc func(ctx context.Context, msg *agent.AgentMessage) error

// BroadcasterConfig Broadcaster 配置
type BroadcasterConfig struct {
	// RetentionCount 每个主题保留的最近消息数，供新订阅者回放
	RetentionCount int `json:"retention_count" yaml:"retention_count"`

	// PublishRate 每主题每秒发布上限；0 表示不限速
	PublishRate float64 `json:"publish_rate,omitempty" yaml:"publish_rate,omitempty"`

	// PublishBurst 限速突发额度
	PublishBurst int `json:"publish_burst,omitempty" yaml:"publish_burst,omitempty"`
}

// DefaultBroadcasterConfig 默认配置
func DefaultBroadcasterConfig() BroadcasterConfig {
	return BroadcasterConfig{RetentionCount: 16}
}

// Subscription 一个主题订阅
type Subscription struct {
	ID      string
	Topic   string
	Filter  FilterFunc
	Handler SubscriberFunc
}

// SubscribeOption 订阅选项
type SubscribeOption func(*subscribeOptions)

type subscribeOptions struct {
	filter FilterFunc
	replay bool
}

// WithFilter 设置投递过滤谓词
func WithFilter(f FilterFunc) SubscribeOption {
	return func(o *subscribeOptions) { o.filter = f }
}

// WithReplay 订阅时回放该主题保留的最近消息（按发布顺序）
func WithReplay() SubscribeOption {
	return func(o *subscribeOptions) { o.replay = true }
}

type topicState struct {
	name      string
	retained  []*agent.AgentMessage
	published int64
	subs      map[string]*Subscription
	subOrder  []string
	limiter   *rate.Limiter
}

// Broadcaster 基于主题的发布订阅。
// 单个订阅者的投递失败被隔离记录，不影响其余订阅者。
type Broadcaster struct {
	mu     sync.RWMutex
	topics map[string]*topicState
	cfg    BroadcasterConfig

	// replayPool 非空时，回放在后台工作池中调度
	replayPool *pool.WorkPool

	collector *metrics.Collector // 可选
	logger    *zap.Logger
}

// NewBroadcaster 创建 Broadcaster
func NewBroadcaster(cfg BroadcasterConfig, logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RetentionCount <= 0 {
		cfg.RetentionCount = DefaultBroadcasterConfig().RetentionCount
	}
	return &Broadcaster{
		topics: make(map[string]*topicState),
		cfg:    cfg,
		logger: logger.With(zap.String("component", "broadcaster")),
	}
}

// WithReplayPool 配置后台回放工作池；用于异步订阅回调
func (b *Broadcaster) WithReplayPool(p *pool.WorkPool) *Broadcaster {
	b.replayPool = p
	return b
}

// WithCollector 配置指标收集
func (b *Broadcaster) WithCollector(c *metrics.Collector) *Broadcaster {
	b.collector = c
	return b
}

// CreateTopic 创建主题；重复创建是无操作
func (b *Broadcaster) CreateTopic(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ensureTopic(name)
}

func (b *Broadcaster) ensureTopic(name string) *topicState {
	t, ok := b.topics[name]
	if !ok {
		t = &topicState{
			name: name,
			subs: make(map[string]*Subscription),
		}
		if b.cfg.PublishRate > 0 {
			burst := b.cfg.PublishBurst
			if burst <= 0 {
				burst = 1
			}
			t.limiter = rate.NewLimiter(rate.Limit(b.cfg.PublishRate), burst)
		}
		b.topics[name] = t
		b.logger.Debug("topic created", zap.String("topic", name))
	}
	return t
}

// Subscribe 订阅主题，主题不存在时隐式创建；返回订阅 ID。
// 带 WithReplay 时同步回放保留消息（配置了回放池则在池中调度）。
func (b *Broadcaster) Subscribe(ctx context.Context, topic string, handler SubscriberFunc, opts ...SubscribeOption) (string, error) {
	if handler == nil {
		return "", fmt.Errorf("subscribe to %s: handler is required", topic)
	}
	var o subscribeOptions
	for _, opt := range opts {
		opt(&o)
	}

	sub := &Subscription{
		ID:      uuid.NewString(),
		Topic:   topic,
		Filter:  o.filter,
		Handler: handler,
	}

	b.mu.Lock()
	t := b.ensureTopic(topic)
	t.subs[sub.ID] = sub
	t.subOrder = append(t.subOrder, sub.ID)
	var replay []*agent.AgentMessage
	if o.replay {
		replay = make([]*agent.AgentMessage, len(t.retained))
		copy(replay, t.retained)
	}
	b.mu.Unlock()

	b.logger.Debug("subscribed",
		zap.String("topic", topic),
		zap.String("subscription_id", sub.ID),
		zap.Int("replay_count", len(replay)),
	)

	for _, msg := range replay {
		if sub.Filter != nil && !sub.Filter(msg) {
			continue
		}
		if b.replayPool != nil {
			msg := msg
			if err := b.replayPool.Submit(ctx, func(ctx context.Context) error {
				return sub.Handler(ctx, msg)
			}); err != nil {
				b.logger.Warn("replay scheduling failed",
					zap.String("subscription_id", sub.ID),
					zap.Error(err),
				)
			}
			continue
		}
		b.deliver(ctx, sub, msg)
	}
	return sub.ID, nil
}

// Unsubscribe 取消订阅
func (b *Broadcaster) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range b.topics {
		if _, ok := t.subs[id]; ok {
			delete(t.subs, id)
			for i, sid := range t.subOrder {
				if sid == id {
					t.subOrder = append(t.subOrder[:i], t.subOrder[i+1:]...)
					break
				}
			}
			return nil
		}
	}
	return &agent.NotFoundError{Kind: "subscription", ID: id}
}

// Publish 发布消息：递增主题计数，按保留上限留存（淘汰最旧），
// 投递给过滤通过的每个订阅；返回实际触达的订阅者数量。
func (b *Broadcaster) Publish(ctx context.Context, topic string, msg *agent.AgentMessage) (int, error) {
	b.mu.Lock()
	t := b.ensureTopic(topic)
	limiter := t.limiter
	b.mu.Unlock()

	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return 0, err
		}
	}

	b.mu.Lock()
	t.published++
	t.retained = append(t.retained, msg)
	if len(t.retained) > b.cfg.RetentionCount {
		t.retained = t.retained[len(t.retained)-b.cfg.RetentionCount:]
	}
	subs := make([]*Subscription, 0, len(t.subOrder))
	for _, sid := range t.subOrder {
		subs = append(subs, t.subs[sid])
	}
	b.mu.Unlock()

	b.collector.RecordPublish(topic)
	reached := 0
	for _, sub := range subs {
		if sub.Filter != nil && !sub.Filter(msg) {
			continue
		}
		if b.deliver(ctx, sub, msg) {
			reached++
		}
	}
	b.logger.Debug("published",
		zap.String("topic", topic),
		zap.String("message_id", msg.ID),
		zap.Int("reached", reached),
	)
	return reached, nil
}

// deliver 调用订阅回调；错误与 panic 被隔离记录。
// 返回是否成功触达。
func (b *Broadcaster) deliver(ctx context.Context, sub *Subscription, msg *agent.AgentMessage) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			b.collector.RecordDeliveryFailure()
			b.logger.Error("subscriber panicked",
				zap.String("subscription_id", sub.ID),
				zap.String("topic", sub.Topic),
				zap.Any("panic", r),
			)
		}
	}()
	if err := sub.Handler(ctx, msg); err != nil {
		b.collector.RecordDeliveryFailure()
		b.logger.Warn("subscriber delivery failed",
			zap.String("subscription_id", sub.ID),
			zap.String("topic", sub.Topic),
			zap.Error(err),
		)
		return false
	}
	return true
}

// TopicStats 主题统计
type TopicStats struct {
	Name        string `json:"name"`
	Published   int64  `json:"published"`
	Retained    int    `json:"retained"`
	Subscribers int    `json:"subscribers"`
}

// Stats 返回主题统计；主题不存在时返回 NotFoundError
func (b *Broadcaster) Stats(topic string) (*TopicStats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.topics[topic]
	if !ok {
		return nil, &agent.NotFoundError{Kind: "topic", ID: topic}
	}
	return &TopicStats{
		Name:        t.name,
		Published:   t.published,
		Retained:    len(t.retained),
		Subscribers: len(t.subs),
	}, nil
}
