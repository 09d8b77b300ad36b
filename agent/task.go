package agent

import (
	"time"

	"github.com/google/uuid"
)

// Capability 是 Agent 对外通告的能力名；任务按集合包含匹配
type Capability string

// TaskStatus 任务状态
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"   // 已创建，未提交
	TaskStatusQueued    TaskStatus = "queued"    // 已入队，等待调度
	TaskStatusRunning   TaskStatus = "running"   // 已被 Agent 认领
	TaskStatusCompleted TaskStatus = "completed" // 成功完成
	TaskStatusFailed    TaskStatus = "failed"    // 失败
	TaskStatusCancelled TaskStatus = "cancelled" // 已取消（仅限排队中）
)

// Terminal 是否为终止状态
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// Task 工作单元
//
// Dependencies 中的所有任务进入 completed 集合后，任务才允许转入 running。
type Task struct {
	ID                   string         `json:"id"`
	Name                 string         `json:"name"`
	Description          string         `json:"description,omitempty"`
	RequiredCapabilities []Capability   `json:"required_capabilities,omitempty"`
	Priority             int            `json:"priority"` // 数值越大越紧急
	Dependencies         []string       `json:"dependencies,omitempty"`
	Status               TaskStatus     `json:"status"`
	AssignedAgentID      string         `json:"assigned_agent_id,omitempty"`
	Payload              any            `json:"payload,omitempty"`
	Metadata             map[string]any `json:"metadata,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
}

// NewTask 创建任务
func NewTask(name string, capabilities ...Capability) *Task {
	return &Task{
		ID:                   uuid.NewString(),
		Name:                 name,
		RequiredCapabilities: capabilities,
		Status:               TaskStatusPending,
		CreatedAt:            time.Now(),
	}
}

// WithPriority 设置优先级
func (t *Task) WithPriority(p int) *Task {
	t.Priority = p
	return t
}

// WithDependencies 设置前置任务
func (t *Task) WithDependencies(ids ...string) *Task {
	t.Dependencies = append(t.Dependencies, ids...)
	return t
}

// WithPayload 设置任务负载
func (t *Task) WithPayload(payload any) *Task {
	t.Payload = payload
	return t
}

// TaskResult 一次执行尝试的结果，构造后不可变
type TaskResult struct {
	TaskID      string        `json:"task_id"`
	Success     bool          `json:"success"`
	Output      any           `json:"output,omitempty"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration"`
	AgentID     string        `json:"agent_id,omitempty"`
	CompletedAt time.Time     `json:"completed_at"`
}

// FailedResult 构造失败结果
func FailedResult(taskID, agentID string, err error, duration time.Duration) *TaskResult {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &TaskResult{
		TaskID:      taskID,
		Success:     false,
		Error:       msg,
		Duration:    duration,
		AgentID:     agentID,
		CompletedAt: time.Now(),
	}
}
