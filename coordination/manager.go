package coordination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/agent"
	"github.com/BaSui01/swarmflow/internal/metrics"
	"github.com/BaSui01/swarmflow/internal/pool"
	"github.com/BaSui01/swarmflow/persistence"
)

var (
	// ErrTaskNotCancellable 任务不在排队中，无法取消
	ErrTaskNotCancellable = errors.New("task is not queued; only queued tasks can be cancelled")
	// ErrManagerClosed 调度器已关闭
	ErrManagerClosed = errors.New("task manager is closed")
)

// TaskCallback 任务终止回调
type TaskCallback func(task *agent.Task, result *agent.TaskResult)

// TaskManagerConfig 调度器配置
type TaskManagerConfig struct {
	// MaxConcurrentPerAgent 单个 Agent 同时认领的任务上限
	MaxConcurrentPerAgent int `json:"max_concurrent_per_agent" yaml:"max_concurrent_per_agent"`

	// PollInterval RunWorkflow 轮询间隔
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`

	// DispatchWorkers RunWorkflow 派发工作池大小
	DispatchWorkers int `json:"dispatch_workers" yaml:"dispatch_workers"`

	// StoreRetry 归档写入失败后的后台重试退避策略
	StoreRetry persistence.RetryConfig `json:"store_retry" yaml:"store_retry"`
}

// DefaultTaskManagerConfig 默认配置
func DefaultTaskManagerConfig() TaskManagerConfig {
	return TaskManagerConfig{
		MaxConcurrentPerAgent: 1,
		PollInterval:          10 * time.Millisecond,
		DispatchWorkers:       8,
		StoreRetry:            persistence.DefaultRetryConfig(),
	}
}

// TaskManager 依赖感知的优先级任务调度器。
//
// 认领路径由单把互斥锁串行化：同一任务只会被交给一个 Agent，
// 任务在全部依赖完成前不会被派发。只有成功的任务进入已完成
// 集合；失败任务的后继会一直阻塞，由工作流层面报告停滞。
type TaskManager struct {
	mu        sync.Mutex
	queue     *TaskQueue
	graph     *DependencyGraph
	tasks     map[string]*agent.Task        // 全部已提交任务
	running   map[string]string             // 任务 ID -> 认领它的 Agent ID
	agentLoad map[string]int                // Agent ID -> 在跑任务数
	completed map[string]struct{}           // 成功完成的任务 ID
	results   map[string]*agent.TaskResult  // 终止任务的结果
	callbacks []TaskCallback
	closed    bool

	cfg       TaskManagerConfig
	collector *metrics.Collector    // 可选
	store     persistence.TaskStore // 可选
	tracer    trace.Tracer
	logger    *zap.Logger
}

// NewTaskManager 创建调度器
func NewTaskManager(cfg TaskManagerConfig, logger *zap.Logger) *TaskManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultTaskManagerConfig()
	if cfg.MaxConcurrentPerAgent <= 0 {
		cfg.MaxConcurrentPerAgent = def.MaxConcurrentPerAgent
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.DispatchWorkers <= 0 {
		cfg.DispatchWorkers = def.DispatchWorkers
	}
	if cfg.StoreRetry.MaxRetries <= 0 {
		cfg.StoreRetry = def.StoreRetry
	}
	return &TaskManager{
		queue:     NewTaskQueue(),
		graph:     NewDependencyGraph(),
		tasks:     make(map[string]*agent.Task),
		running:   make(map[string]string),
		agentLoad: make(map[string]int),
		completed: make(map[string]struct{}),
		results:   make(map[string]*agent.TaskResult),
		cfg:       cfg,
		tracer:    otel.Tracer("swarmflow/coordination"),
		logger:    logger.With(zap.String("component", "task_manager")),
	}
}

// WithCollector 配置指标收集
func (m *TaskManager) WithCollector(c *metrics.Collector) *TaskManager {
	m.collector = c
	return m
}

// WithStore 配置结果归档存储
func (m *TaskManager) WithStore(store persistence.TaskStore) *TaskManager {
	m.store = store
	return m
}

// OnTaskComplete 注册终止回调；回调 panic 被隔离，不影响调度
func (m *TaskManager) OnTaskComplete(cb TaskCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// Submit 提交任务：登记依赖并入队。
// 引入依赖环时拒绝，任务保持 pending。
func (m *TaskManager) Submit(task *agent.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}
	if _, exists := m.tasks[task.ID]; exists {
		return fmt.Errorf("task %s already submitted", task.ID)
	}

	m.graph.AddTask(task.ID, task.Dependencies)
	if err := m.graph.Validate(); err != nil {
		m.graph.RemoveTask(task.ID)
		return err
	}

	task.Status = agent.TaskStatusQueued
	m.tasks[task.ID] = task
	m.queue.Push(task)
	m.collector.RecordTaskSubmitted()

	m.logger.Debug("task submitted",
		zap.String("task_id", task.ID),
		zap.String("task_name", task.Name),
		zap.Int("priority", task.Priority),
		zap.Strings("dependencies", task.Dependencies),
	)
	return nil
}

// Cancel 取消排队中的任务。已被认领或已终止的任务不可取消。
func (m *TaskManager) Cancel(taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskID]
	if !ok {
		return &agent.NotFoundError{Kind: "task", ID: taskID}
	}
	if task.Status != agent.TaskStatusQueued || !m.queue.Remove(taskID) {
		return ErrTaskNotCancellable
	}
	task.Status = agent.TaskStatusCancelled
	m.graph.RemoveTask(taskID)
	m.results[taskID] = &agent.TaskResult{
		TaskID:      taskID,
		Success:     false,
		Error:       "cancelled",
		CompletedAt: time.Now(),
	}
	m.logger.Info("task cancelled", zap.String("task_id", taskID))
	return nil
}

// GetNextTask 为 a 认领下一个就绪任务。
//
// 按优先级顺序扫描队列，跳过依赖未满足或能力不匹配的任务
// （跳过的任务原样回队，保持入队顺序语义）。没有可认领的
// 任务时返回 (nil, nil)。整个认领路径持锁执行，同一任务至多
// 被认领一次。
func (m *TaskManager) GetNextTask(a agent.Agent) (*agent.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	if m.agentLoad[a.ID()] >= m.cfg.MaxConcurrentPerAgent {
		return nil, nil
	}

	var skipped []*agent.Task
	defer func() {
		for _, t := range skipped {
			m.queue.Push(t)
		}
	}()

	for {
		task := m.queue.Pop()
		if task == nil {
			return nil, nil
		}
		if !m.dependenciesMetLocked(task) || !agentCanRun(a, task) {
			skipped = append(skipped, task)
			continue
		}
		task.Status = agent.TaskStatusRunning
		task.AssignedAgentID = a.ID()
		m.running[task.ID] = a.ID()
		m.agentLoad[a.ID()]++
		m.collector.RecordTaskClaimed()
		m.logger.Debug("task claimed",
			zap.String("task_id", task.ID),
			zap.String("agent_id", a.ID()),
		)
		return task, nil
	}
}

func (m *TaskManager) dependenciesMetLocked(task *agent.Task) bool {
	for _, dep := range task.Dependencies {
		if _, done := m.completed[dep]; !done {
			return false
		}
	}
	return true
}

func agentCanRun(a agent.Agent, task *agent.Task) bool {
	for _, c := range task.RequiredCapabilities {
		if !a.HasCapability(c) {
			return false
		}
	}
	return true
}

// CompleteTask 记录任务终止结果。
// 只有成功的任务进入已完成集合并解锁后继；失败结果同样归档，
// 但其后继保持阻塞。
func (m *TaskManager) CompleteTask(ctx context.Context, result *agent.TaskResult) error {
	m.mu.Lock()
	task, ok := m.tasks[result.TaskID]
	if !ok {
		m.mu.Unlock()
		return &agent.NotFoundError{Kind: "task", ID: result.TaskID}
	}
	if agentID, running := m.running[result.TaskID]; running {
		delete(m.running, result.TaskID)
		if m.agentLoad[agentID] > 0 {
			m.agentLoad[agentID]--
		}
	}

	status := agent.TaskStatusFailed
	if result.Success {
		status = agent.TaskStatusCompleted
		m.completed[result.TaskID] = struct{}{}
		m.graph.RemoveTask(result.TaskID)
	}
	task.Status = status
	m.results[result.TaskID] = result
	callbacks := make([]TaskCallback, len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()

	m.collector.RecordTaskCompleted(string(status), result.Duration)
	if m.store != nil {
		m.archiveResult(ctx, result)
	}
	for _, cb := range callbacks {
		m.invokeCallback(cb, task, result)
	}
	m.logger.Debug("task completed",
		zap.String("task_id", result.TaskID),
		zap.String("status", string(status)),
		zap.Duration("duration", result.Duration),
	)
	return nil
}

func (m *TaskManager) invokeCallback(cb TaskCallback, task *agent.Task, result *agent.TaskResult) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("task callback panicked",
				zap.String("task_id", task.ID),
				zap.Any("panic", r),
			)
		}
	}()
	cb(task, result)
}

func (m *TaskManager) archiveResult(ctx context.Context, result *agent.TaskResult) {
	output, err := json.Marshal(result.Output)
	if err != nil {
		output = nil
	}
	rec := &persistence.TaskRecord{
		TaskID:      result.TaskID,
		AgentID:     result.AgentID,
		Success:     result.Success,
		Output:      output,
		Error:       result.Error,
		DurationMS:  result.Duration.Milliseconds(),
		CompletedAt: result.CompletedAt,
	}
	if err := m.store.SaveResult(ctx, rec); err != nil {
		m.logger.Warn("result archive failed, retrying in background",
			zap.String("task_id", result.TaskID),
			zap.Error(err),
		)
		go m.retryArchive(rec)
	}
}

// retryArchive 按退避策略在后台重试归档写入；重试耗尽后放弃该条记录
func (m *TaskManager) retryArchive(rec *persistence.TaskRecord) {
	for attempt := 0; attempt < m.cfg.StoreRetry.MaxRetries; attempt++ {
		time.Sleep(m.cfg.StoreRetry.Backoff(attempt))
		if err := m.store.SaveResult(context.Background(), rec); err == nil {
			m.logger.Info("result archive recovered",
				zap.String("task_id", rec.TaskID),
				zap.Int("attempt", attempt+1),
			)
			return
		}
	}
	m.logger.Error("result archive dropped after retries",
		zap.String("task_id", rec.TaskID),
		zap.Int("retries", m.cfg.StoreRetry.MaxRetries),
	)
}

// GetResult 返回任务结果；任务未终止时返回 NotFoundError
func (m *TaskManager) GetResult(taskID string) (*agent.TaskResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result, ok := m.results[taskID]
	if !ok {
		return nil, &agent.NotFoundError{Kind: "task result", ID: taskID}
	}
	return result, nil
}

// GetTask 返回已提交任务
func (m *TaskManager) GetTask(taskID string) (*agent.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskID]
	if !ok {
		return nil, &agent.NotFoundError{Kind: "task", ID: taskID}
	}
	return task, nil
}

// ManagerStatus 调度器快照
type ManagerStatus struct {
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Status 返回调度器快照
func (m *TaskManager) Status() ManagerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := ManagerStatus{
		Queued:  m.queue.Len(),
		Running: len(m.running),
	}
	for _, task := range m.tasks {
		switch task.Status {
		case agent.TaskStatusCompleted:
			st.Completed++
		case agent.TaskStatusFailed:
			st.Failed++
		case agent.TaskStatusCancelled:
			st.Cancelled++
		}
	}
	return st
}

// RunWorkflow 轮询派发已提交任务给 agents，直到队列排空且无在跑
// 任务，或出现停滞（剩余任务的依赖永远无法满足）。
//
// 派发通过内部工作池并发执行；执行结果经由 CompleteTask 回流。
// 停滞时返回 DependencyError，列出每个滞留任务缺失的依赖。
func (m *TaskManager) RunWorkflow(ctx context.Context, agents []agent.Agent) error {
	if len(agents) == 0 {
		return agent.ErrNoWorkers
	}

	ctx, span := m.tracer.Start(ctx, "TaskManager.RunWorkflow",
		trace.WithAttributes(attribute.Int("agents", len(agents))),
	)
	defer span.End()

	wp := pool.New(pool.Config{MaxWorkers: m.cfg.DispatchWorkers, QueueSize: m.cfg.DispatchWorkers * 4})
	defer wp.Close()

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		dispatched := false
		for _, a := range agents {
			task, err := m.GetNextTask(a)
			if err != nil {
				return err
			}
			if task == nil {
				continue
			}
			dispatched = true
			a, task := a, task
			if err := wp.Submit(ctx, func(ctx context.Context) error {
				ctx, span := m.tracer.Start(ctx, "TaskManager.dispatch",
					trace.WithAttributes(
						attribute.String("task.id", task.ID),
						attribute.String("agent.id", a.ID()),
					),
				)
				defer span.End()
				return m.CompleteTask(ctx, a.ProcessTask(ctx, task))
			}); err != nil {
				// 工作池拒绝时回退为同步执行
				if cerr := m.CompleteTask(ctx, a.ProcessTask(ctx, task)); cerr != nil {
					return cerr
				}
			}
		}

		m.mu.Lock()
		queued := m.queue.Len()
		runningCount := len(m.running)
		m.mu.Unlock()
		if queued == 0 && runningCount == 0 {
			return nil
		}
		if !dispatched && runningCount == 0 {
			if stalled := m.stalledTasks(); len(stalled) > 0 {
				return &agent.DependencyError{Stalled: stalled}
			}
			// 无依赖缺口却派发不出去：没有 Agent 能运行剩余任务
			return fmt.Errorf("workflow stuck: %d queued tasks match no agent capabilities", queued)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// stalledTasks 收集排队中但依赖无法再满足的任务
func (m *TaskManager) stalledTasks() map[string][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	stalled := make(map[string][]string)
	for id, task := range m.tasks {
		if task.Status != agent.TaskStatusQueued {
			continue
		}
		if missing := m.graph.MissingFor(id, m.completed); len(missing) > 0 {
			stalled[id] = missing
		}
	}
	return stalled
}

// Close 关闭调度器；后续 Submit/GetNextTask 返回 ErrManagerClosed
func (m *TaskManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}
