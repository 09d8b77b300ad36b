package coordination

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/agent"
	"github.com/BaSui01/swarmflow/internal/metrics"
)

// ElectionState 选举状态
type ElectionState string

const (
	ElectionIdle       ElectionState = "idle"
	ElectionInProgress ElectionState = "in_progress"
	ElectionCompleted  ElectionState = "completed"
	ElectionFailed     ElectionState = "failed"
)

// PriorityFunc 计算 Agent 的选举优先级；同一选举内对同一 Agent
// 可被多次调用，必须无副作用
type PriorityFunc func(a agent.Agent) uint64

// DefaultPriority 默认优先级：Agent ID 的 FNV-1a 哈希
func DefaultPriority(a agent.Agent) uint64 {
	h := fnv.New64a()
	h.Write([]byte(a.ID()))
	return h.Sum64()
}

// ElectionResult 一次选举的结果
type ElectionResult struct {
	LeaderID     string    `json:"leader_id,omitempty"`
	Success      bool      `json:"success"`
	Strategy     string    `json:"strategy"`
	Rounds       int       `json:"rounds"`
	Participants int       `json:"participants"`
	Err          string    `json:"error,omitempty"`
	ElectedAt    time.Time `json:"elected_at"`
}

// electionBase 各策略共享的状态：选举状态、现任领导者与只增历史
type electionBase struct {
	mu      sync.Mutex
	state   ElectionState
	leader  string
	history []*ElectionResult

	strategy  string
	collector *metrics.Collector // 可选
	logger    *zap.Logger
}

func newElectionBase(strategy string, logger *zap.Logger) electionBase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return electionBase{
		state:    ElectionIdle,
		strategy: strategy,
		logger:   logger.With(zap.String("component", "election"), zap.String("strategy", strategy)),
	}
}

// State 当前选举状态
func (e *electionBase) State() ElectionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Leader 现任领导者 ID；尚无领导者时为空串
func (e *electionBase) Leader() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leader
}

// History 返回选举历史副本（按时间先后）
func (e *electionBase) History() []*ElectionResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*ElectionResult, len(e.history))
	copy(out, e.history)
	return out
}

// healthyAgents 过滤 error 状态的 Agent，保持传入顺序
func healthyAgents(agents []agent.Agent) []agent.Agent {
	healthy := make([]agent.Agent, 0, len(agents))
	for _, a := range agents {
		if a.State() != agent.StateError {
			healthy = append(healthy, a)
		}
	}
	return healthy
}

// begin 进入选举并做共同的健康检查；失败路径直接产出负结果
func (e *electionBase) begin(agents []agent.Agent) ([]agent.Agent, *ElectionResult) {
	e.mu.Lock()
	e.state = ElectionInProgress
	e.mu.Unlock()

	if len(agents) == 0 {
		return nil, e.fail(0, "no agents available for election")
	}
	healthy := healthyAgents(agents)
	if len(healthy) == 0 {
		return nil, e.fail(len(agents), "all agents are unhealthy")
	}
	return healthy, nil
}

func (e *electionBase) fail(participants int, msg string) *ElectionResult {
	result := &ElectionResult{
		Success:      false,
		Strategy:     e.strategy,
		Participants: participants,
		Err:          msg,
		ElectedAt:    time.Now(),
	}
	e.record(result)
	return result
}

func (e *electionBase) succeed(leaderID string, rounds, participants int) *ElectionResult {
	result := &ElectionResult{
		LeaderID:     leaderID,
		Success:      true,
		Strategy:     e.strategy,
		Rounds:       rounds,
		Participants: participants,
		ElectedAt:    time.Now(),
	}
	e.record(result)
	return result
}

func (e *electionBase) record(result *ElectionResult) {
	e.mu.Lock()
	if result.Success {
		e.state = ElectionCompleted
		e.leader = result.LeaderID
	} else {
		e.state = ElectionFailed
	}
	e.history = append(e.history, result)
	e.mu.Unlock()

	e.collector.RecordElection(e.strategy, result.Success)
	if result.Success {
		e.logger.Info("leader elected",
			zap.String("leader_id", result.LeaderID),
			zap.Int("rounds", result.Rounds),
			zap.Int("participants", result.Participants),
		)
	} else {
		e.logger.Warn("election failed", zap.String("reason", result.Err))
	}
}

// highestPriority 在 agents 中选出优先级最高者；优先级相同时取
// ID 字典序较大者，保证结果与遍历顺序无关
func highestPriority(agents []agent.Agent, priority PriorityFunc) agent.Agent {
	var best agent.Agent
	var bestP uint64
	for _, a := range agents {
		p := priority(a)
		if best == nil || p > bestP || (p == bestP && a.ID() > best.ID()) {
			best, bestP = a, p
		}
	}
	return best
}

// BullyElection 霸凌算法：幸存者中优先级最高者单轮胜出
type BullyElection struct {
	electionBase
	priority PriorityFunc
}

// NewBullyElection 创建 Bully 选举；priority 为 nil 时使用默认哈希
func NewBullyElection(priority PriorityFunc, logger *zap.Logger) *BullyElection {
	if priority == nil {
		priority = DefaultPriority
	}
	return &BullyElection{
		electionBase: newElectionBase("bully", logger),
		priority:     priority,
	}
}

// WithCollector 配置指标收集
func (e *BullyElection) WithCollector(c *metrics.Collector) *BullyElection {
	e.collector = c
	return e
}

// Elect 执行选举
func (e *BullyElection) Elect(agents []agent.Agent) *ElectionResult {
	healthy, failed := e.begin(agents)
	if failed != nil {
		return failed
	}
	winner := highestPriority(healthy, e.priority)
	return e.succeed(winner.ID(), 1, len(healthy))
}

// RingElection 环算法：模拟单圈遍历收集 (优先级, Agent) 再取最大。
// 胜者与 Bully 一致，轮数记为健康 Agent 数（建模环上的跳数）。
type RingElection struct {
	electionBase
	priority PriorityFunc
}

// NewRingElection 创建 Ring 选举；priority 为 nil 时使用默认哈希
func NewRingElection(priority PriorityFunc, logger *zap.Logger) *RingElection {
	if priority == nil {
		priority = DefaultPriority
	}
	return &RingElection{
		electionBase: newElectionBase("ring", logger),
		priority:     priority,
	}
}

// WithCollector 配置指标收集
func (e *RingElection) WithCollector(c *metrics.Collector) *RingElection {
	e.collector = c
	return e
}

// Elect 执行选举
func (e *RingElection) Elect(agents []agent.Agent) *ElectionResult {
	healthy, failed := e.begin(agents)
	if failed != nil {
		return failed
	}
	winner := highestPriority(healthy, e.priority)
	return e.succeed(winner.ID(), len(healthy), len(healthy))
}

// RandomElection 在健康 Agent 中等概率随机选取
type RandomElection struct {
	electionBase
	rng *rand.Rand
}

// NewRandomElection 创建随机选举
func NewRandomElection(logger *zap.Logger) *RandomElection {
	return &RandomElection{
		electionBase: newElectionBase("random", logger),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithCollector 配置指标收集
func (e *RandomElection) WithCollector(c *metrics.Collector) *RandomElection {
	e.collector = c
	return e
}

// Elect 执行选举
func (e *RandomElection) Elect(agents []agent.Agent) *ElectionResult {
	healthy, failed := e.begin(agents)
	if failed != nil {
		return failed
	}
	e.mu.Lock()
	winner := healthy[e.rng.Intn(len(healthy))]
	e.mu.Unlock()
	return e.succeed(winner.ID(), 1, len(healthy))
}

// RotatingLeadership 显式名单上的轮值领导。不是一次性选举，而是
// 带任期计数的环形游标：Rotate 推进游标（回绕）并递增任期；移除
// 现任或更早位置的 Agent 时回调游标，保证「现任」指针相对幸存
// 名单保持稳定。
type RotatingLeadership struct {
	mu     sync.Mutex
	ids    []string
	cursor int
	term   int

	logger *zap.Logger
}

// NewRotatingLeadership 创建轮值领导；初始领导者为名单首位
func NewRotatingLeadership(agentIDs []string, logger *zap.Logger) *RotatingLeadership {
	if logger == nil {
		logger = zap.NewNop()
	}
	ids := make([]string, len(agentIDs))
	copy(ids, agentIDs)
	return &RotatingLeadership{
		ids:    ids,
		logger: logger.With(zap.String("component", "election"), zap.String("strategy", "rotating")),
	}
}

// Current 返回现任领导者 ID；名单为空时返回 false
func (r *RotatingLeadership) Current() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ids) == 0 {
		return "", false
	}
	return r.ids[r.cursor], true
}

// Term 当前任期计数
func (r *RotatingLeadership) Term() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.term
}

// Rotate 推进到下一任领导者并递增任期；名单为空时返回错误
func (r *RotatingLeadership) Rotate() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ids) == 0 {
		return "", fmt.Errorf("rotate: no agents in rotation")
	}
	r.cursor = (r.cursor + 1) % len(r.ids)
	r.term++
	leader := r.ids[r.cursor]
	r.logger.Info("leadership rotated",
		zap.String("leader_id", leader),
		zap.Int("term", r.term),
	)
	return leader, nil
}

// AddAgent 追加 Agent 到名单末尾；重复追加是无操作
func (r *RotatingLeadership) AddAgent(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.ids {
		if id == agentID {
			return
		}
	}
	r.ids = append(r.ids, agentID)
}

// RemoveAgent 从名单移除 Agent 并调整游标：移除现任或更早位置的
// Agent 时游标前移，使「现任」指针相对幸存名单保持稳定。
func (r *RotatingLeadership) RemoveAgent(agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := -1
	for i, id := range r.ids {
		if id == agentID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	r.ids = append(r.ids[:idx], r.ids[idx+1:]...)
	if len(r.ids) == 0 {
		r.cursor = 0
		return true
	}
	if idx <= r.cursor {
		r.cursor--
		if r.cursor < 0 {
			r.cursor = len(r.ids) - 1
		}
	}
	return true
}

// Members 返回名单副本（轮值顺序）
func (r *RotatingLeadership) Members() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.ids))
	copy(out, r.ids)
	return out
}
