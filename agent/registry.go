package agent

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/internal/metrics"
)

// RegistryEvent 注册表事件
type RegistryEvent string

const (
	EventRegistered   RegistryEvent = "registered"
	EventUnregistered RegistryEvent = "unregistered"
	EventUnhealthy    RegistryEvent = "unhealthy"
)

// RegistryListener 注册表事件回调。回调中的错误与 panic 被捕获记录，
// 不会中断事件分发。
type RegistryListener func(event RegistryEvent, a Agent)

// RegistryConfig 注册表配置
type RegistryConfig struct {
	HealthCheckInterval time.Duration `json:"health_check_interval" yaml:"health_check_interval"`
	HeartbeatTimeout    time.Duration `json:"heartbeat_timeout" yaml:"heartbeat_timeout"`
}

// DefaultRegistryConfig 默认配置
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		HealthCheckInterval: 10 * time.Second,
		HeartbeatTimeout:    60 * time.Second,
	}
}

// SwarmStatus 集群聚合状态
type SwarmStatus struct {
	TotalAgents int                `json:"total_agents"`
	ByState     map[AgentState]int `json:"by_state"`
	Uptime      time.Duration      `json:"uptime"`
}

// AgentRegistry 进程级 Agent 目录
//
// 两个索引（ID 映射与能力倒排索引）只通过 Register/Unregister 修改，
// 且在同一把锁下更新，读取方不会观察到不一致的中间态。
type AgentRegistry struct {
	mu           sync.RWMutex
	agents       map[string]Agent
	byCapability map[Capability]map[string]struct{}
	listeners    []RegistryListener

	cfg          RegistryConfig
	collector    *metrics.Collector // 可选
	monitorStart time.Time
	monitorStop  context.CancelFunc
	monitorDone  chan struct{}
	logger       *zap.Logger
}

// NewRegistry 创建注册表
func NewRegistry(cfg RegistryConfig, logger *zap.Logger) *AgentRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = DefaultRegistryConfig().HealthCheckInterval
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = DefaultRegistryConfig().HeartbeatTimeout
	}
	return &AgentRegistry{
		agents:       make(map[string]Agent),
		byCapability: make(map[Capability]map[string]struct{}),
		cfg:          cfg,
		logger:       logger.With(zap.String("component", "registry")),
	}
}

// WithCollector 配置指标收集
func (r *AgentRegistry) WithCollector(c *metrics.Collector) *AgentRegistry {
	r.collector = c
	return r
}

var (
	defaultRegistry   *AgentRegistry
	defaultRegistryMu sync.Mutex
)

// Default 返回进程级默认注册表，惰性构造
func Default() *AgentRegistry {
	defaultRegistryMu.Lock()
	defer defaultRegistryMu.Unlock()
	if defaultRegistry == nil {
		defaultRegistry = NewRegistry(DefaultRegistryConfig(), zap.NewNop())
	}
	return defaultRegistry
}

// ResetDefault 重置默认注册表，用于测试隔离
func ResetDefault() {
	defaultRegistryMu.Lock()
	defer defaultRegistryMu.Unlock()
	if defaultRegistry != nil {
		defaultRegistry.StopHealthMonitor()
	}
	defaultRegistry = nil
}

// Register 注册 Agent 并更新能力索引，随后通知监听者
func (r *AgentRegistry) Register(a Agent) error {
	r.mu.Lock()
	if _, ok := r.agents[a.ID()]; ok {
		r.mu.Unlock()
		return ErrAgentExists
	}
	r.agents[a.ID()] = a
	for _, c := range a.Capabilities() {
		set, ok := r.byCapability[c]
		if !ok {
			set = make(map[string]struct{})
			r.byCapability[c] = set
		}
		set[a.ID()] = struct{}{}
	}
	total := len(r.agents)
	r.mu.Unlock()

	r.collector.SetAgentsRegistered(total)
	r.logger.Info("agent registered",
		zap.String("agent_id", a.ID()),
		zap.String("agent_name", a.Name()),
	)
	r.notify(EventRegistered, a)
	return nil
}

// Unregister 注销 Agent；能力在零个 Agent 上时从索引剪除
func (r *AgentRegistry) Unregister(id string) error {
	r.mu.Lock()
	a, ok := r.agents[id]
	if !ok {
		r.mu.Unlock()
		return &NotFoundError{Kind: "agent", ID: id}
	}
	delete(r.agents, id)
	for _, c := range a.Capabilities() {
		if set, ok := r.byCapability[c]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(r.byCapability, c)
			}
		}
	}
	total := len(r.agents)
	r.mu.Unlock()

	r.collector.SetAgentsRegistered(total)
	r.logger.Info("agent unregistered", zap.String("agent_id", id))
	r.notify(EventUnregistered, a)
	return nil
}

// Get 按 ID 查找
func (r *AgentRegistry) Get(id string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return nil, &NotFoundError{Kind: "agent", ID: id}
	}
	return a, nil
}

// FindByCapability 返回具备能力 c 的所有 Agent
func (r *AgentRegistry) FindByCapability(c Capability) []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Agent, 0)
	for id := range r.byCapability[c] {
		out = append(out, r.agents[id])
	}
	return out
}

// FindByCapabilities 返回同时具备全部能力的 Agent（交集语义）
func (r *AgentRegistry) FindByCapabilities(caps ...Capability) []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Agent, 0)
	for id, a := range r.agents {
		all := true
		for _, c := range caps {
			if _, ok := r.byCapability[c][id]; !ok {
				all = false
				break
			}
		}
		if all {
			out = append(out, a)
		}
	}
	return out
}

// FindByState 返回处于状态 s 的所有 Agent
func (r *AgentRegistry) FindByState(s AgentState) []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Agent, 0)
	for _, a := range r.agents {
		if a.State() == s {
			out = append(out, a)
		}
	}
	return out
}

// All 返回全部已注册 Agent
func (r *AgentRegistry) All() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	return out
}

// AddListener 注册事件监听回调
func (r *AgentRegistry) AddListener(l RegistryListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// GetSwarmStatus 聚合各状态 Agent 数量与监控启动以来的运行时长
func (r *AgentRegistry) GetSwarmStatus() SwarmStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := SwarmStatus{
		TotalAgents: len(r.agents),
		ByState:     make(map[AgentState]int),
	}
	for _, a := range r.agents {
		st.ByState[a.State()]++
	}
	if !r.monitorStart.IsZero() {
		st.Uptime = time.Since(r.monitorStart)
	}
	return st
}

// StartHealthMonitor 启动后台健康检查循环。
// 心跳超过 HeartbeatTimeout 的 Agent 被置为 error 状态并触发
// unhealthy 事件。重复调用是无操作。
func (r *AgentRegistry) StartHealthMonitor(ctx context.Context) {
	r.mu.Lock()
	if r.monitorStop != nil {
		r.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.monitorStop = cancel
	r.monitorDone = make(chan struct{})
	r.monitorStart = time.Now()
	done := r.monitorDone
	r.mu.Unlock()

	r.logger.Info("health monitor started",
		zap.Duration("interval", r.cfg.HealthCheckInterval),
		zap.Duration("heartbeat_timeout", r.cfg.HeartbeatTimeout),
	)

	go func() {
		defer close(done)
		ticker := time.NewTicker(r.cfg.HealthCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.healthCheckPass()
			}
		}
	}()
}

// StopHealthMonitor 停止健康检查，等待当前一轮检查完成后返回
func (r *AgentRegistry) StopHealthMonitor() {
	r.mu.Lock()
	stop := r.monitorStop
	done := r.monitorDone
	r.monitorStop = nil
	r.monitorDone = nil
	r.mu.Unlock()
	if stop == nil {
		return
	}
	stop()
	<-done
	r.logger.Info("health monitor stopped")
}

func (r *AgentRegistry) healthCheckPass() {
	cutoff := time.Now().Add(-r.cfg.HeartbeatTimeout)
	for _, a := range r.All() {
		st := a.State()
		if st == StateError || st == StateTerminated {
			continue
		}
		if a.Heartbeat().Before(cutoff) {
			a.MarkUnhealthy("heartbeat timeout")
			r.logger.Warn("agent failed health check",
				zap.String("agent_id", a.ID()),
				zap.Time("last_heartbeat", a.Heartbeat()),
			)
			r.notify(EventUnhealthy, a)
		}
	}
}

// notify 逐个调用监听回调；单个回调的 panic 被捕获记录，
// 不影响其余监听者与本轮健康检查。
func (r *AgentRegistry) notify(event RegistryEvent, a Agent) {
	r.mu.RLock()
	listeners := make([]RegistryListener, len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.RUnlock()
	for _, l := range listeners {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error("registry listener panicked",
						zap.String("event", string(event)),
						zap.Any("panic", rec),
					)
				}
			}()
			l(event, a)
		}()
	}
}
