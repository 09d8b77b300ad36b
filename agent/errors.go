package agent

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrAgentExists 注册时 ID 已存在
	ErrAgentExists = errors.New("agent already registered")

	// ErrAgentTerminated Agent 已终止，不再接受任务
	ErrAgentTerminated = errors.New("agent is terminated")

	// ErrNoExecutor 未绑定执行钩子
	ErrNoExecutor = errors.New("agent has no task executor")

	// ErrMailboxFull 有界收件箱已满
	ErrMailboxFull = errors.New("agent mailbox is full")

	// ErrNoWorkers Supervisor 工作池为空
	ErrNoWorkers = errors.New("supervisor has no workers")
)

// NotFoundError 资源未找到（agent/task/topic/request）
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// BusyError Agent 正在执行其他任务
type BusyError struct {
	AgentID string
	TaskID  string // 正在执行的任务
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("agent %s is busy with task %s", e.AgentID, e.TaskID)
}

// CapabilityMismatchError 能力不匹配；携带双方能力集合便于定位配置问题
type CapabilityMismatchError struct {
	Required  []Capability
	Available []Capability
}

func (e *CapabilityMismatchError) Error() string {
	return fmt.Sprintf("capability mismatch: required=%s available=%s",
		formatCapabilities(e.Required), formatCapabilities(e.Available))
}

// DependencyError 工作流依赖停滞：剩余任务没有任何一个就绪
type DependencyError struct {
	Stalled map[string][]string // 任务 ID -> 缺失的依赖 ID
}

func (e *DependencyError) Error() string {
	ids := make([]string, 0, len(e.Stalled))
	for id := range e.Stalled {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%s (missing %s)", id, strings.Join(e.Stalled[id], ",")))
	}
	return "dependency stall, no task is ready: " + strings.Join(parts, "; ")
}

func formatCapabilities(caps []Capability) string {
	names := make([]string, len(caps))
	for i, c := range caps {
		names[i] = string(c)
	}
	sort.Strings(names)
	return "{" + strings.Join(names, ",") + "}"
}
