package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// TaskHandler 任务处理回调，由嵌入方提供。
// 回调可以同步计算返回，也可以在内部等待异步工作完成；
// 两者都在批量执行的并发闸门下运行。
type TaskHandler func(ctx context.Context, task *Task) (any, error)

// DefaultHandlerKey 兜底处理器的注册键
const DefaultHandlerKey Capability = "default"

// WorkerConfig WorkerAgent 配置
type WorkerConfig struct {
	AgentConfig        `json:",inline"`
	MaxConcurrentTasks int `json:"max_concurrent_tasks,omitempty"`
}

// DefaultWorkerConfig 默认配置
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{MaxConcurrentTasks: 4}
}

// WorkerAgent 将任务能力映射到已注册的处理回调
type WorkerAgent struct {
	*BaseAgent

	handlerMu      sync.RWMutex
	handlers       map[Capability]TaskHandler
	defaultHandler TaskHandler

	maxConcurrent int64
	gate          *semaphore.Weighted
}

// NewWorkerAgent 创建 WorkerAgent
func NewWorkerAgent(cfg WorkerConfig, logger *zap.Logger) *WorkerAgent {
	if cfg.MaxConcurrentTasks <= 0 {
		cfg.MaxConcurrentTasks = DefaultWorkerConfig().MaxConcurrentTasks
	}
	w := &WorkerAgent{
		BaseAgent:     NewBaseAgent(cfg.AgentConfig, logger),
		handlers:      make(map[Capability]TaskHandler),
		maxConcurrent: int64(cfg.MaxConcurrentTasks),
		gate:          semaphore.NewWeighted(int64(cfg.MaxConcurrentTasks)),
	}
	w.SetExecutor(w.executeTask)
	return w
}

// RegisterHandler 注册能力对应的处理回调，并通告该能力
func (w *WorkerAgent) RegisterHandler(c Capability, h TaskHandler) {
	w.handlerMu.Lock()
	w.handlers[c] = h
	w.handlerMu.Unlock()
	w.AddCapability(c)
}

// RegisterDefaultHandler 注册兜底处理回调
func (w *WorkerAgent) RegisterDefaultHandler(h TaskHandler) {
	w.handlerMu.Lock()
	w.defaultHandler = h
	w.handlerMu.Unlock()
}

// executeTask 按任务声明的能力顺序解析处理器：
// 取第一个有注册处理器的能力；都没有则用兜底处理器；
// 仍没有则以能力不匹配失败。
func (w *WorkerAgent) executeTask(ctx context.Context, task *Task) (any, error) {
	h := w.resolveHandler(task)
	if h == nil {
		return nil, &CapabilityMismatchError{
			Required:  task.RequiredCapabilities,
			Available: w.Capabilities(),
		}
	}
	return h(ctx, task)
}

func (w *WorkerAgent) resolveHandler(task *Task) TaskHandler {
	w.handlerMu.RLock()
	defer w.handlerMu.RUnlock()
	for _, c := range task.RequiredCapabilities {
		if h, ok := w.handlers[c]; ok {
			return h
		}
	}
	return w.defaultHandler
}

// ExecuteBatch 并发执行一批任务，最多 MaxConcurrentTasks 个同时运行。
// 单个任务的错误或 panic 转为失败结果，不中断整批；
// 返回切片与输入顺序一一对应。
func (w *WorkerAgent) ExecuteBatch(ctx context.Context, tasks []*Task) []*TaskResult {
	results := make([]*TaskResult, len(tasks))
	var wg sync.WaitGroup
	for i, task := range tasks {
		if err := w.gate.Acquire(ctx, 1); err != nil {
			results[i] = FailedResult(task.ID, w.ID(), err, 0)
			continue
		}
		wg.Add(1)
		go func(i int, task *Task) {
			defer wg.Done()
			defer w.gate.Release(1)
			results[i] = w.runOne(ctx, task)
		}(i, task)
	}
	wg.Wait()
	return results
}

// runOne 在批量路径下直接调用执行钩子，绕过 busy 互斥：
// 批内并发由闸门限制，Agent 级 busy 语义只约束外部单任务投递。
func (w *WorkerAgent) runOne(ctx context.Context, task *Task) *TaskResult {
	start := time.Now()
	output, err := w.safeRun(ctx, task)
	duration := time.Since(start)
	if err != nil {
		w.failed.Add(1)
		return FailedResult(task.ID, w.ID(), err, duration)
	}
	w.completed.Add(1)
	return &TaskResult{
		TaskID:      task.ID,
		Success:     true,
		Output:      output,
		Duration:    duration,
		AgentID:     w.ID(),
		CompletedAt: time.Now(),
	}
}

func (w *WorkerAgent) safeRun(ctx context.Context, task *Task) (output any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task handler panicked: %v", r)
		}
	}()
	return w.executeTask(ctx, task)
}
