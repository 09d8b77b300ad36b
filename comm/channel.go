package comm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/agent"
	"github.com/BaSui01/swarmflow/internal/channel"
)

// ChannelState 通道状态
type ChannelState string

const (
	ChannelOpen   ChannelState = "open"
	ChannelClosed ChannelState = "closed"
	ChannelPaused ChannelState = "paused"
	ChannelError  ChannelState = "error"
)

var (
	// ErrChannelClosed 通道已关闭
	ErrChannelClosed = errors.New("channel is closed")

	// ErrChannelPaused 通道已暂停
	ErrChannelPaused = errors.New("channel is paused")

	// ErrChannelFull 有界通道等待空位超时
	ErrChannelFull = errors.New("channel is full")

	// ErrChannelEmpty 接收等待超时
	ErrChannelEmpty = errors.New("channel receive timed out")
)

// Channel 通信通道抽象。Send/Receive 是唯一必须实现的操作；
// Close/Pause/Resume 只改变状态，不影响已缓冲的内容。
type Channel interface {
	ID() string
	Name() string
	State() ChannelState

	Send(ctx context.Context, msg *agent.AgentMessage) error
	Receive(ctx context.Context) (*agent.AgentMessage, error)

	Close() error
	Pause() error
	Resume() error
}

// QueueChannelConfig QueueChannel 配置
type QueueChannelConfig struct {
	Name        string        `json:"name"`
	Capacity    int           `json:"capacity"`               // 0 表示无界
	TTL         time.Duration `json:"ttl,omitempty"`          // 消息存活时间，0 表示不过期
	SendTimeout time.Duration `json:"send_timeout,omitempty"` // 有界通道满时的等待上限
	RecvTimeout time.Duration `json:"recv_timeout,omitempty"` // 空通道的等待上限
}

type envelope struct {
	msg      *agent.AgentMessage
	enqueued time.Time
}

// QueueChannel 有界或无界的 FIFO 通道。
// 无界时 Send 永不阻塞；有界满时 Send 最多等待 SendTimeout。
// 过期消息在 Receive 路径上被静默跳过，从不返回给调用方。
type QueueChannel struct {
	id   string
	name string
	ttl  time.Duration

	sendTimeout time.Duration
	recvTimeout time.Duration

	// bounded 时用原生 chan 获得阻塞式带超时的 put；
	// unbounded 时用内部无界队列，put 永不阻塞。
	bounded chan envelope
	queue   *channel.Queue[envelope]

	mu        sync.RWMutex
	state     ChannelState
	closeOnce sync.Once

	logger *zap.Logger
}

// NewQueueChannel 创建 QueueChannel
func NewQueueChannel(cfg QueueChannelConfig, logger *zap.Logger) *QueueChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &QueueChannel{
		id:          uuid.NewString(),
		name:        cfg.Name,
		ttl:         cfg.TTL,
		sendTimeout: cfg.SendTimeout,
		recvTimeout: cfg.RecvTimeout,
		state:       ChannelOpen,
		logger:      logger.With(zap.String("component", "queue_channel"), zap.String("channel", cfg.Name)),
	}
	if cfg.Capacity > 0 {
		c.bounded = make(chan envelope, cfg.Capacity)
	} else {
		c.queue = channel.NewQueue[envelope](0)
	}
	return c
}

func (c *QueueChannel) ID() string   { return c.id }
func (c *QueueChannel) Name() string { return c.name }

// State 返回通道状态
func (c *QueueChannel) State() ChannelState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Send 入队一条消息
func (c *QueueChannel) Send(ctx context.Context, msg *agent.AgentMessage) error {
	switch c.State() {
	case ChannelClosed:
		return ErrChannelClosed
	case ChannelPaused:
		return ErrChannelPaused
	}

	env := envelope{msg: msg, enqueued: time.Now()}
	if c.bounded == nil {
		return c.queue.Put(env)
	}

	// 有界：先尝试非阻塞写，再按超时等待空位
	select {
	case c.bounded <- env:
		return nil
	default:
	}
	if c.sendTimeout <= 0 {
		return ErrChannelFull
	}
	timer := time.NewTimer(c.sendTimeout)
	defer timer.Stop()
	select {
	case c.bounded <- env:
		return nil
	case <-timer.C:
		return ErrChannelFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive 取出最早的一条未过期消息
func (c *QueueChannel) Receive(ctx context.Context) (*agent.AgentMessage, error) {
	for {
		switch c.State() {
		case ChannelPaused:
			return nil, ErrChannelPaused
		}

		env, err := c.next(ctx)
		if err != nil {
			return nil, err
		}
		if c.expired(env) {
			c.logger.Debug("skipping expired message", zap.String("message_id", env.msg.ID))
			continue
		}
		return env.msg, nil
	}
}

func (c *QueueChannel) next(ctx context.Context) (envelope, error) {
	if c.recvTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.recvTimeout)
		defer cancel()
	}
	if c.bounded == nil {
		env, err := c.queue.Get(ctx)
		if err == channel.ErrQueueClosed {
			return envelope{}, ErrChannelClosed
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return envelope{}, ErrChannelEmpty
		}
		return env, err
	}
	select {
	case env, ok := <-c.bounded:
		if !ok {
			return envelope{}, ErrChannelClosed
		}
		return env, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return envelope{}, ErrChannelEmpty
		}
		return envelope{}, ctx.Err()
	}
}

func (c *QueueChannel) expired(env envelope) bool {
	return c.ttl > 0 && time.Since(env.enqueued) > c.ttl
}

// Close 关闭通道。已缓冲的消息仍可被接收方取完。
func (c *QueueChannel) Close() error {
	c.mu.Lock()
	c.state = ChannelClosed
	c.mu.Unlock()
	c.closeOnce.Do(func() {
		if c.bounded != nil {
			close(c.bounded)
		} else {
			c.queue.Close()
		}
	})
	return nil
}

// Pause 暂停收发，不影响缓冲内容
func (c *QueueChannel) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == ChannelClosed {
		return ErrChannelClosed
	}
	c.state = ChannelPaused
	return nil
}

// Resume 恢复收发
func (c *QueueChannel) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == ChannelClosed {
		return ErrChannelClosed
	}
	c.state = ChannelOpen
	return nil
}

// Len 当前缓冲消息数
func (c *QueueChannel) Len() int {
	if c.bounded != nil {
		return len(c.bounded)
	}
	return c.queue.Len()
}
