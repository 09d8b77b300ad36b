package agent

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/internal/channel"
)

// Agent 定义核心行为接口
//
// 具体实现有 WorkerAgent、SupervisorAgent，也可由使用方自行实现。
// 状态、计数器与心跳只由 Agent 自身写入，外部组件仅读取。
type Agent interface {
	// 身份标识
	ID() string
	Name() string

	// 能力集
	Capabilities() []Capability
	HasCapability(c Capability) bool

	// 生命周期
	State() AgentState
	Heartbeat() time.Time
	MarkUnhealthy(reason string)
	Terminate()

	// 任务执行
	ProcessTask(ctx context.Context, task *Task) *TaskResult

	// 收件箱
	Deliver(msg *AgentMessage) error
	Receive(ctx context.Context) (*AgentMessage, error)

	// 运行统计
	Stats() AgentStats
}

// AgentStats Agent 运行计数
type AgentStats struct {
	TasksCompleted int64 `json:"tasks_completed"`
	TasksFailed    int64 `json:"tasks_failed"`
}

// MessageHandler 按消息类型注册的处理回调
type MessageHandler func(ctx context.Context, msg *AgentMessage) error

// ExecuteFunc 变体特定的任务执行钩子
type ExecuteFunc func(ctx context.Context, task *Task) (any, error)

// AgentConfig 基础 Agent 配置
type AgentConfig struct {
	ID           string       `json:"id,omitempty"` // 留空则自动生成
	Name         string       `json:"name"`
	Capabilities []Capability `json:"capabilities,omitempty"`
	MailboxSize  int          `json:"mailbox_size,omitempty"` // 0 表示无界
}

// BaseAgent 提供可复用的状态管理、收件箱与任务执行骨架
type BaseAgent struct {
	id   string
	name string

	// 能力集，保持注册顺序
	capMu    sync.RWMutex
	capOrder []Capability
	capSet   map[Capability]struct{}

	// 单写者：仅本 Agent 的方法修改
	stateMu  sync.Mutex
	state    AgentState
	inFlight string // 正在执行的任务 ID

	inbox    *channel.Queue[*AgentMessage]
	handlers map[MessageType]MessageHandler
	handleMu sync.RWMutex

	completed atomic.Int64
	failed    atomic.Int64
	heartbeat atomic.Int64 // unix nano

	exec   ExecuteFunc
	logger *zap.Logger
}

// NewBaseAgent 创建基础 Agent
func NewBaseAgent(cfg AgentConfig, logger *zap.Logger) *BaseAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	b := &BaseAgent{
		id:       cfg.ID,
		name:     cfg.Name,
		capSet:   make(map[Capability]struct{}, len(cfg.Capabilities)),
		state:    StateIdle,
		inbox:    channel.NewQueue[*AgentMessage](cfg.MailboxSize),
		handlers: make(map[MessageType]MessageHandler),
		logger:   logger.With(zap.String("agent_id", cfg.ID), zap.String("agent_name", cfg.Name)),
	}
	for _, c := range cfg.Capabilities {
		b.AddCapability(c)
	}
	b.touchHeartbeat()
	return b
}

func (b *BaseAgent) ID() string   { return b.id }
func (b *BaseAgent) Name() string { return b.name }

// State 返回当前状态
func (b *BaseAgent) State() AgentState {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	return b.state
}

// Capabilities 返回能力集（注册顺序）
func (b *BaseAgent) Capabilities() []Capability {
	b.capMu.RLock()
	defer b.capMu.RUnlock()
	out := make([]Capability, len(b.capOrder))
	copy(out, b.capOrder)
	return out
}

// HasCapability 是否具备能力 c
func (b *BaseAgent) HasCapability(c Capability) bool {
	b.capMu.RLock()
	defer b.capMu.RUnlock()
	_, ok := b.capSet[c]
	return ok
}

// AddCapability 添加能力；重复添加是无操作
func (b *BaseAgent) AddCapability(c Capability) {
	b.capMu.Lock()
	defer b.capMu.Unlock()
	if _, ok := b.capSet[c]; ok {
		return
	}
	b.capSet[c] = struct{}{}
	b.capOrder = append(b.capOrder, c)
}

// SetExecutor 绑定任务执行钩子
func (b *BaseAgent) SetExecutor(fn ExecuteFunc) {
	b.exec = fn
}

// ProcessTask 执行任务
//
// busy 状态下立即返回失败结果（携带在执行任务的 ID），不排队。
// 执行钩子抛出的错误与 panic 都被捕获为失败的 TaskResult，绝不向
// 调用方传播；无论成败，退出路径上恢复 idle 状态并刷新心跳。
func (b *BaseAgent) ProcessTask(ctx context.Context, task *Task) *TaskResult {
	b.stateMu.Lock()
	switch b.state {
	case StateBusy:
		current := b.inFlight
		b.stateMu.Unlock()
		return FailedResult(task.ID, b.id, &BusyError{AgentID: b.id, TaskID: current}, 0)
	case StateTerminated:
		b.stateMu.Unlock()
		return FailedResult(task.ID, b.id, ErrAgentTerminated, 0)
	}
	b.state = StateBusy
	b.inFlight = task.ID
	b.stateMu.Unlock()

	start := time.Now()
	defer func() {
		b.stateMu.Lock()
		if b.state == StateBusy {
			b.state = StateIdle
		}
		b.inFlight = ""
		b.stateMu.Unlock()
		b.touchHeartbeat()
	}()

	output, err := b.safeExecute(ctx, task)
	duration := time.Since(start)
	if err != nil {
		b.failed.Add(1)
		b.logger.Warn("task execution failed",
			zap.String("task_id", task.ID),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return FailedResult(task.ID, b.id, err, duration)
	}

	b.completed.Add(1)
	b.logger.Debug("task executed",
		zap.String("task_id", task.ID),
		zap.Duration("duration", duration),
	)
	return &TaskResult{
		TaskID:      task.ID,
		Success:     true,
		Output:      output,
		Duration:    duration,
		AgentID:     b.id,
		CompletedAt: time.Now(),
	}
}

func (b *BaseAgent) safeExecute(ctx context.Context, task *Task) (output any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task handler panicked: %v", r)
		}
	}()
	if b.exec == nil {
		return nil, ErrNoExecutor
	}
	return b.exec(ctx, task)
}

// Deliver 投递消息到收件箱，永不阻塞发送方。
// 有界收件箱满时返回 ErrMailboxFull。
func (b *BaseAgent) Deliver(msg *AgentMessage) error {
	if err := b.inbox.Put(msg); err != nil {
		if err == channel.ErrQueueFull {
			return ErrMailboxFull
		}
		return err
	}
	return nil
}

// Receive 阻塞等待下一条消息（通过协作式挂起，可被 ctx 取消）
func (b *BaseAgent) Receive(ctx context.Context) (*AgentMessage, error) {
	return b.inbox.Get(ctx)
}

// RegisterMessageHandler 注册按类型分发的消息处理器
func (b *BaseAgent) RegisterMessageHandler(typ MessageType, h MessageHandler) {
	b.handleMu.Lock()
	defer b.handleMu.Unlock()
	b.handlers[typ] = h
}

// StartMessageLoop 启动消息分发循环，直到 ctx 取消。
// 未注册处理器的消息类型记录日志后丢弃，从不致命。
func (b *BaseAgent) StartMessageLoop(ctx context.Context) {
	go func() {
		for {
			msg, err := b.Receive(ctx)
			if err != nil {
				return
			}
			b.dispatchMessage(ctx, msg)
		}
	}()
}

func (b *BaseAgent) dispatchMessage(ctx context.Context, msg *AgentMessage) {
	b.handleMu.RLock()
	h, ok := b.handlers[msg.Type]
	b.handleMu.RUnlock()
	if !ok {
		b.logger.Debug("dropping message with unhandled type",
			zap.String("message_id", msg.ID),
			zap.String("message_type", string(msg.Type)),
		)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("message handler panicked",
				zap.String("message_id", msg.ID),
				zap.Any("panic", r),
			)
		}
	}()
	if err := h(ctx, msg); err != nil {
		b.logger.Warn("message handler failed",
			zap.String("message_id", msg.ID),
			zap.String("message_type", string(msg.Type)),
			zap.Error(err),
		)
	}
}

// Heartbeat 最近一次心跳时间
func (b *BaseAgent) Heartbeat() time.Time {
	return time.Unix(0, b.heartbeat.Load())
}

// MarkUnhealthy 由健康监控触发，Agent 自身转入 error 状态
func (b *BaseAgent) MarkUnhealthy(reason string) {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	if b.state == StateTerminated {
		return
	}
	b.logger.Warn("agent marked unhealthy", zap.String("reason", reason), zap.String("previous_state", string(b.state)))
	b.state = StateError
}

// Terminate 终止 Agent 并关闭收件箱
func (b *BaseAgent) Terminate() {
	b.stateMu.Lock()
	b.state = StateTerminated
	b.stateMu.Unlock()
	b.inbox.Close()
}

// Stats 返回完成/失败计数
func (b *BaseAgent) Stats() AgentStats {
	return AgentStats{
		TasksCompleted: b.completed.Load(),
		TasksFailed:    b.failed.Load(),
	}
}

func (b *BaseAgent) touchHeartbeat() {
	b.heartbeat.Store(time.Now().UnixNano())
}

// Logger 返回组件日志器，供嵌入方复用
func (b *BaseAgent) Logger() *zap.Logger { return b.logger }
