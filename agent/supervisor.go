package agent

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/internal/metrics"
)

// SelectionStrategy 工作者选择策略
type SelectionStrategy string

const (
	StrategyRoundRobin SelectionStrategy = "round_robin" // 轮询
	StrategyLeastBusy  SelectionStrategy = "least_busy"  // 空闲优先
	StrategyCapability SelectionStrategy = "capability"  // 能力交集最大（默认）
)

// SupervisorConfig SupervisorAgent 配置
type SupervisorConfig struct {
	AgentConfig `json:",inline"`
	MaxRetries  int               `json:"max_retries"` // 委派失败的最大尝试次数
	Strategy    SelectionStrategy `json:"strategy"`
}

// DefaultSupervisorConfig 默认配置
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		MaxRetries: 3,
		Strategy:   StrategyCapability,
	}
}

// SupervisorAgent 持有 Worker 池并按策略委派任务，失败时重试
type SupervisorAgent struct {
	*BaseAgent

	mu      sync.Mutex
	workers map[string]*WorkerAgent
	order   []string // 加入顺序，保证选择的确定性
	rrIndex int

	maxRetries int
	strategy   SelectionStrategy
	collector  *metrics.Collector // 可选
}

// NewSupervisorAgent 创建 SupervisorAgent
func NewSupervisorAgent(cfg SupervisorConfig, logger *zap.Logger) *SupervisorAgent {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultSupervisorConfig().MaxRetries
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyCapability
	}
	s := &SupervisorAgent{
		BaseAgent:  NewBaseAgent(cfg.AgentConfig, logger),
		workers:    make(map[string]*WorkerAgent),
		maxRetries: cfg.MaxRetries,
		strategy:   cfg.Strategy,
	}
	// Supervisor 自身执行任务等价于一次委派
	s.SetExecutor(func(ctx context.Context, task *Task) (any, error) {
		res := s.Delegate(ctx, task)
		if !res.Success {
			return nil, errors.New(res.Error)
		}
		return res.Output, nil
	})
	return s
}

// WithCollector 配置指标收集
func (s *SupervisorAgent) WithCollector(c *metrics.Collector) *SupervisorAgent {
	s.collector = c
	return s
}

// AddWorker 将 Worker 加入池中
func (s *SupervisorAgent) AddWorker(w *WorkerAgent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workers[w.ID()]; ok {
		return
	}
	s.workers[w.ID()] = w
	s.order = append(s.order, w.ID())
	s.Logger().Info("worker added to pool", zap.String("worker_id", w.ID()))
}

// RemoveWorker 按 ID 移出池
func (s *SupervisorAgent) RemoveWorker(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workers[id]; !ok {
		return false
	}
	delete(s.workers, id)
	for i, wid := range s.order {
		if wid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.Logger().Info("worker removed from pool", zap.String("worker_id", id))
	return true
}

// Workers 返回池中 Worker（加入顺序）
func (s *SupervisorAgent) Workers() []*WorkerAgent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*WorkerAgent, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.workers[id])
	}
	return out
}

// selectWorker 先过滤出能力超集的 Worker，再按策略选择。
// 过滤结果为空时返回能力不匹配错误（携带需求与可用能力集合）。
func (s *SupervisorAgent) selectWorker(task *Task) (*WorkerAgent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.order) == 0 {
		return nil, ErrNoWorkers
	}

	capable := make([]*WorkerAgent, 0, len(s.order))
	available := make([]Capability, 0)
	seen := make(map[Capability]struct{})
	for _, id := range s.order {
		w := s.workers[id]
		for _, c := range w.Capabilities() {
			if _, ok := seen[c]; !ok {
				seen[c] = struct{}{}
				available = append(available, c)
			}
		}
		if hasAllCapabilities(w, task.RequiredCapabilities) {
			capable = append(capable, w)
		}
	}
	if len(capable) == 0 {
		return nil, &CapabilityMismatchError{
			Required:  task.RequiredCapabilities,
			Available: available,
		}
	}

	switch s.strategy {
	case StrategyRoundRobin:
		// 每次调用都推进游标，包括失败后的重试
		w := capable[s.rrIndex%len(capable)]
		s.rrIndex++
		return w, nil
	case StrategyLeastBusy:
		for _, w := range capable {
			if w.State() == StateIdle {
				return w, nil
			}
		}
		return capable[0], nil
	default: // StrategyCapability
		best := capable[0]
		bestOverlap := capabilityOverlap(best, task.RequiredCapabilities)
		for _, w := range capable[1:] {
			if overlap := capabilityOverlap(w, task.RequiredCapabilities); overlap > bestOverlap {
				best, bestOverlap = w, overlap
			}
		}
		return best, nil
	}
}

// Delegate 选择 Worker 并执行，失败立即重试，最多 MaxRetries 次尝试。
// 能力不匹配不重试（属于调用方配置错误）；耗尽后返回最后一次选中
// Worker 的失败结果。
func (s *SupervisorAgent) Delegate(ctx context.Context, task *Task) *TaskResult {
	var last *TaskResult
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		w, err := s.selectWorker(task)
		if err != nil {
			var mismatch *CapabilityMismatchError
			if errors.As(err, &mismatch) {
				s.Logger().Warn("delegation aborted on capability mismatch",
					zap.String("task_id", task.ID),
					zap.Error(err),
				)
				return FailedResult(task.ID, s.ID(), err, 0)
			}
			return FailedResult(task.ID, s.ID(), err, 0)
		}

		s.collector.RecordDelegationAttempt()
		res := w.ProcessTask(ctx, task)
		if res.Success {
			if attempt > 1 {
				s.Logger().Info("delegation succeeded after retry",
					zap.String("task_id", task.ID),
					zap.Int("attempt", attempt),
				)
			}
			return res
		}
		last = res
		s.Logger().Warn("delegation attempt failed",
			zap.String("task_id", task.ID),
			zap.String("worker_id", w.ID()),
			zap.Int("attempt", attempt),
			zap.String("error", res.Error),
		)
	}
	return last
}

// DelegateBatch 批量委派。parallel 为真时并发扇出，单任务的异常
// 转为失败结果，不丢失任务与结果的对应关系。
func (s *SupervisorAgent) DelegateBatch(ctx context.Context, tasks []*Task, parallel bool) []*TaskResult {
	results := make([]*TaskResult, len(tasks))
	if !parallel {
		for i, task := range tasks {
			results[i] = s.delegateSafe(ctx, task)
		}
		return results
	}
	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(i int, task *Task) {
			defer wg.Done()
			results[i] = s.delegateSafe(ctx, task)
		}(i, task)
	}
	wg.Wait()
	return results
}

func (s *SupervisorAgent) delegateSafe(ctx context.Context, task *Task) (res *TaskResult) {
	defer func() {
		if r := recover(); r != nil {
			res = FailedResult(task.ID, s.ID(), errors.New("delegation panicked"), 0)
		}
	}()
	return s.Delegate(ctx, task)
}

// ExecuteWorkflow 依赖感知的批量执行：反复取出依赖全部完成的
// 就绪任务并发委派；若仍有剩余任务却没有任何就绪任务，以依赖
// 停滞错误终止（同时捕获缺失依赖与依赖环，不做拓扑环检测）。
//
// 只有成功完成的任务进入 completed 集合；失败任务的依赖者会因
// 依赖永不满足而触发停滞错误。
func (s *SupervisorAgent) ExecuteWorkflow(ctx context.Context, tasks []*Task) (map[string]*TaskResult, error) {
	results := make(map[string]*TaskResult, len(tasks))
	completed := make(map[string]struct{}, len(tasks))
	remaining := make(map[string]*Task, len(tasks))
	order := make([]string, 0, len(tasks))
	for _, t := range tasks {
		remaining[t.ID] = t
		order = append(order, t.ID)
	}

	for len(remaining) > 0 {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		ready := make([]*Task, 0, len(remaining))
		for _, id := range order {
			t, ok := remaining[id]
			if !ok {
				continue
			}
			if dependenciesMet(t, completed) {
				ready = append(ready, t)
			}
		}

		if len(ready) == 0 {
			stalled := make(map[string][]string, len(remaining))
			for id, t := range remaining {
				stalled[id] = missingDependencies(t, completed)
			}
			err := &DependencyError{Stalled: stalled}
			s.Logger().Error("workflow stalled", zap.Error(err))
			return results, err
		}

		batch := s.DelegateBatch(ctx, ready, true)
		for i, res := range batch {
			t := ready[i]
			results[t.ID] = res
			delete(remaining, t.ID)
			if res.Success {
				completed[t.ID] = struct{}{}
			}
		}
	}
	return results, nil
}

func hasAllCapabilities(w *WorkerAgent, required []Capability) bool {
	for _, c := range required {
		if !w.HasCapability(c) {
			return false
		}
	}
	return true
}

func capabilityOverlap(w *WorkerAgent, required []Capability) int {
	n := 0
	for _, c := range required {
		if w.HasCapability(c) {
			n++
		}
	}
	return n
}

func dependenciesMet(t *Task, completed map[string]struct{}) bool {
	for _, dep := range t.Dependencies {
		if _, ok := completed[dep]; !ok {
			return false
		}
	}
	return true
}

func missingDependencies(t *Task, completed map[string]struct{}) []string {
	missing := make([]string, 0, len(t.Dependencies))
	for _, dep := range t.Dependencies {
		if _, ok := completed[dep]; !ok {
			missing = append(missing, dep)
		}
	}
	return missing
}
