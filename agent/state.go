package agent

import "fmt"

// AgentState 定义 Agent 生命周期状态
type AgentState string

const (
	StateIdle       AgentState = "idle"       // 空闲，可接受任务
	StateBusy       AgentState = "busy"       // 正在执行任务
	StateWaiting    AgentState = "waiting"    // 等待外部输入/消息
	StateError      AgentState = "error"      // 异常（心跳超时或执行故障）
	StateTerminated AgentState = "terminated" // 已终止
)

// validTransitions 定义合法的状态转换
var validTransitions = map[AgentState][]AgentState{
	StateIdle:       {StateBusy, StateWaiting, StateError, StateTerminated},
	StateBusy:       {StateIdle, StateWaiting, StateError, StateTerminated},
	StateWaiting:    {StateIdle, StateBusy, StateError, StateTerminated},
	StateError:      {StateIdle, StateTerminated}, // 支持恢复后重新调度
	StateTerminated: {},
}

// CanTransition 检查状态转换是否合法
func CanTransition(from, to AgentState) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// ErrInvalidTransition 非法状态转换错误
type ErrInvalidTransition struct {
	From AgentState
	To   AgentState
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid state transition: %s -> %s", e.From, e.To)
}
