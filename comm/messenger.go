package comm

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/agent"
	"github.com/BaSui01/swarmflow/persistence"
)

var (
	// ErrRequestTimeout 等待应答超时
	ErrRequestTimeout = errors.New("request timed out waiting for response")
)

// RequestHandler 接收方处理回调。返回非 nil 值时请求立即完成；
// 返回 (nil, nil) 表示接收方稍后通过 Respond 异步应答。
type RequestHandler func(ctx context.Context, msg *agent.AgentMessage) (any, error)

// DirectMessengerConfig DirectMessenger 配置
type DirectMessengerConfig struct {
	// RequestTimeout 请求等待应答的上限
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout"`

	// AuditLimit 审计日志保留的消息条数上限（淘汰最旧）
	AuditLimit int `json:"audit_limit" yaml:"audit_limit"`

	// StoreRetry 镜像写入失败后的后台重试退避策略
	StoreRetry persistence.RetryConfig `json:"store_retry" yaml:"store_retry"`
}

// DefaultDirectMessengerConfig 默认配置
func DefaultDirectMessengerConfig() DirectMessengerConfig {
	return DirectMessengerConfig{
		RequestTimeout: 30 * time.Second,
		AuditLimit:     1024,
		StoreRetry:     persistence.DefaultRetryConfig(),
	}
}

type pendingRequest struct {
	done chan any
}

// DirectMessenger 点对点消息传递，支持请求/应答关联，无需中心代理。
// 所有经手的消息都追加进有界审计日志，与投递结果无关；
// 配置了 MessageStore 时同时镜像到持久化存储。
type DirectMessenger struct {
	mu       sync.Mutex
	handlers map[string]RequestHandler  // 接收方 Agent ID -> 处理回调
	pending  map[string]*pendingRequest // 请求消息 ID -> 待完成应答
	audit    []*agent.AgentMessage

	cfg    DirectMessengerConfig
	store  persistence.MessageStore // 可选
	logger *zap.Logger
}

// NewDirectMessenger 创建 DirectMessenger
func NewDirectMessenger(cfg DirectMessengerConfig, logger *zap.Logger) *DirectMessenger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultDirectMessengerConfig().RequestTimeout
	}
	if cfg.AuditLimit <= 0 {
		cfg.AuditLimit = DefaultDirectMessengerConfig().AuditLimit
	}
	if cfg.StoreRetry.MaxRetries <= 0 {
		cfg.StoreRetry = persistence.DefaultRetryConfig()
	}
	return &DirectMessenger{
		handlers: make(map[string]RequestHandler),
		pending:  make(map[string]*pendingRequest),
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "direct_messenger")),
	}
}

// WithStore 配置持久化镜像
func (m *DirectMessenger) WithStore(store persistence.MessageStore) *DirectMessenger {
	m.store = store
	return m
}

// RegisterHandler 注册接收方处理回调
func (m *DirectMessenger) RegisterHandler(agentID string, h RequestHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[agentID] = h
}

// UnregisterHandler 注销接收方
func (m *DirectMessenger) UnregisterHandler(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, agentID)
}

// Send 发后即忘。接收方未注册处理回调时失败。
func (m *DirectMessenger) Send(ctx context.Context, msg *agent.AgentMessage) error {
	m.recordAudit(ctx, msg)

	m.mu.Lock()
	h, ok := m.handlers[msg.To]
	m.mu.Unlock()
	if !ok {
		return &agent.NotFoundError{Kind: "message handler", ID: msg.To}
	}
	if _, err := h(ctx, msg); err != nil {
		return err
	}
	return nil
}

// Request 发送请求并等待应答。
// 处理回调同步返回非 nil 值则立即完成；否则挂起等待配对的
// Respond 调用，超时返回 ErrRequestTimeout。
func (m *DirectMessenger) Request(ctx context.Context, msg *agent.AgentMessage) (any, error) {
	m.recordAudit(ctx, msg)

	m.mu.Lock()
	h, ok := m.handlers[msg.To]
	if !ok {
		m.mu.Unlock()
		return nil, &agent.NotFoundError{Kind: "message handler", ID: msg.To}
	}
	pr := &pendingRequest{done: make(chan any, 1)}
	m.pending[msg.ID] = pr
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.pending, msg.ID)
		m.mu.Unlock()
	}()

	reply, err := h(ctx, msg)
	if err != nil {
		return nil, err
	}
	if reply != nil {
		return reply, nil
	}

	timer := time.NewTimer(m.cfg.RequestTimeout)
	defer timer.Stop()
	select {
	case v := <-pr.done:
		return v, nil
	case <-timer.C:
		return nil, ErrRequestTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Respond 完成 requestID 对应的挂起请求。
// 没有挂起请求时返回 NotFoundError（可能已超时）。
func (m *DirectMessenger) Respond(ctx context.Context, requestID string, payload any) error {
	m.mu.Lock()
	pr, ok := m.pending[requestID]
	m.mu.Unlock()
	if !ok {
		return &agent.NotFoundError{Kind: "pending request", ID: requestID}
	}
	select {
	case pr.done <- payload:
		return nil
	default:
		// 已有应答写入；重复应答是无操作
		return nil
	}
}

// Audit 返回审计日志的副本（最旧在前）
func (m *DirectMessenger) Audit() []*agent.AgentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*agent.AgentMessage, len(m.audit))
	copy(out, m.audit)
	return out
}

func (m *DirectMessenger) recordAudit(ctx context.Context, msg *agent.AgentMessage) {
	m.mu.Lock()
	m.audit = append(m.audit, msg)
	if len(m.audit) > m.cfg.AuditLimit {
		m.audit = m.audit[len(m.audit)-m.cfg.AuditLimit:]
	}
	store := m.store
	m.mu.Unlock()

	if store == nil {
		return
	}
	body, err := json.Marshal(msg.Content)
	if err != nil {
		body = nil
	}
	rec := &persistence.MessageRecord{
		ID:        msg.ID,
		From:      msg.From,
		To:        msg.To,
		Type:      string(msg.Type),
		Body:      body,
		CreatedAt: msg.Timestamp,
	}
	if err := store.SaveMessage(ctx, rec); err != nil {
		m.logger.Warn("audit mirror failed, retrying in background",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		go m.retrySave(store, rec)
	}
}

// retrySave 按退避策略在后台重试镜像写入；重试耗尽后该条记录被放弃。
// 首次写入在调用方路径上同步完成，这里只承担失败后的补偿。
func (m *DirectMessenger) retrySave(store persistence.MessageStore, rec *persistence.MessageRecord) {
	for attempt := 0; attempt < m.cfg.StoreRetry.MaxRetries; attempt++ {
		time.Sleep(m.cfg.StoreRetry.Backoff(attempt))
		if err := store.SaveMessage(context.Background(), rec); err == nil {
			m.logger.Info("audit mirror recovered",
				zap.String("message_id", rec.ID),
				zap.Int("attempt", attempt+1),
			)
			return
		}
	}
	m.logger.Error("audit mirror dropped after retries",
		zap.String("message_id", rec.ID),
		zap.Int("retries", m.cfg.StoreRetry.MaxRetries),
	)
}
