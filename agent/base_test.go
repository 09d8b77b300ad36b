package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestAgent(t *testing.T, cfg AgentConfig) *BaseAgent {
	t.Helper()
	return NewBaseAgent(cfg, zaptest.NewLogger(t))
}

func TestBaseAgent_ProcessTaskSuccess(t *testing.T) {
	t.Parallel()

	a := newTestAgent(t, AgentConfig{Name: "worker-1"})
	a.SetExecutor(func(ctx context.Context, task *Task) (any, error) {
		return "done:" + task.Name, nil
	})

	res := a.ProcessTask(context.Background(), NewTask("compile"))
	require.True(t, res.Success)
	assert.Equal(t, "done:compile", res.Output)
	assert.Equal(t, a.ID(), res.AgentID)
	assert.Equal(t, StateIdle, a.State())
	assert.Equal(t, int64(1), a.Stats().TasksCompleted)
}

func TestBaseAgent_BusyRejectionCarriesInFlightTaskID(t *testing.T) {
	t.Parallel()

	a := newTestAgent(t, AgentConfig{Name: "worker-1"})
	started := make(chan struct{})
	release := make(chan struct{})
	a.SetExecutor(func(ctx context.Context, task *Task) (any, error) {
		close(started)
		<-release
		return nil, nil
	})

	first := NewTask("long-running")
	go a.ProcessTask(context.Background(), first)
	<-started

	second := NewTask("rejected")
	res := a.ProcessTask(context.Background(), second)
	close(release)

	require.False(t, res.Success)
	assert.Equal(t, second.ID, res.TaskID)
	// 拒绝结果必须携带正在执行的任务 ID
	assert.Contains(t, res.Error, first.ID)
}

func TestBaseAgent_BusyClearedOnAllExitPaths(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		exec ExecuteFunc
	}{
		{"handler error", func(ctx context.Context, task *Task) (any, error) {
			return nil, errors.New("boom")
		}},
		{"handler panic", func(ctx context.Context, task *Task) (any, error) {
			panic("kaboom")
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := newTestAgent(t, AgentConfig{Name: "worker-1"})
			a.SetExecutor(tc.exec)

			res := a.ProcessTask(context.Background(), NewTask("doomed"))
			require.False(t, res.Success)
			assert.NotEmpty(t, res.Error)
			assert.Equal(t, StateIdle, a.State())
			assert.Equal(t, int64(1), a.Stats().TasksFailed)
		})
	}
}

func TestBaseAgent_TerminatedRejectsTasks(t *testing.T) {
	t.Parallel()

	a := newTestAgent(t, AgentConfig{Name: "worker-1"})
	a.SetExecutor(func(ctx context.Context, task *Task) (any, error) { return nil, nil })
	a.Terminate()

	res := a.ProcessTask(context.Background(), NewTask("late"))
	require.False(t, res.Success)
	assert.Contains(t, res.Error, "terminated")
	assert.Equal(t, StateTerminated, a.State())
}

func TestBaseAgent_MailboxFIFO(t *testing.T) {
	t.Parallel()

	a := newTestAgent(t, AgentConfig{Name: "worker-1"})
	for i := 0; i < 5; i++ {
		msg := NewMessage("sender", a.ID(), MessageTypeStatus, fmt.Sprintf("msg-%d", i))
		require.NoError(t, a.Deliver(msg))
	}

	for i := 0; i < 5; i++ {
		msg, err := a.Receive(context.Background())
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("msg-%d", i), msg.Content)
	}
}

func TestBaseAgent_BoundedMailboxFull(t *testing.T) {
	t.Parallel()

	a := newTestAgent(t, AgentConfig{Name: "worker-1", MailboxSize: 2})
	require.NoError(t, a.Deliver(NewMessage("s", a.ID(), MessageTypeStatus, 1)))
	require.NoError(t, a.Deliver(NewMessage("s", a.ID(), MessageTypeStatus, 2)))

	err := a.Deliver(NewMessage("s", a.ID(), MessageTypeStatus, 3))
	assert.ErrorIs(t, err, ErrMailboxFull)
}

func TestBaseAgent_ReceiveCancellable(t *testing.T) {
	t.Parallel()

	a := newTestAgent(t, AgentConfig{Name: "worker-1"})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := a.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBaseAgent_MessageLoopDispatchesByType(t *testing.T) {
	t.Parallel()

	a := newTestAgent(t, AgentConfig{Name: "worker-1"})

	var mu sync.Mutex
	var handled []string
	a.RegisterMessageHandler(MessageTypeRequest, func(ctx context.Context, msg *AgentMessage) error {
		mu.Lock()
		handled = append(handled, msg.ID)
		mu.Unlock()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.StartMessageLoop(ctx)

	req := NewMessage("s", a.ID(), MessageTypeRequest, "do it")
	// 未注册处理器的类型被丢弃，不影响循环
	unhandled := NewMessage("s", a.ID(), MessageTypeBroadcast, "noise")
	require.NoError(t, a.Deliver(unhandled))
	require.NoError(t, a.Deliver(req))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(handled) == 1 && handled[0] == req.ID
	}, time.Second, 5*time.Millisecond)
}

func TestBaseAgent_MessageHandlerPanicIsolated(t *testing.T) {
	t.Parallel()

	a := newTestAgent(t, AgentConfig{Name: "worker-1"})
	var mu sync.Mutex
	count := 0
	a.RegisterMessageHandler(MessageTypeRequest, func(ctx context.Context, msg *AgentMessage) error {
		mu.Lock()
		count++
		mu.Unlock()
		if count == 1 {
			panic("first handler call explodes")
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.StartMessageLoop(ctx)

	require.NoError(t, a.Deliver(NewMessage("s", a.ID(), MessageTypeRequest, 1)))
	require.NoError(t, a.Deliver(NewMessage("s", a.ID(), MessageTypeRequest, 2)))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 2
	}, time.Second, 5*time.Millisecond)
}

func TestBaseAgent_CapabilitiesInsertionOrderAndIdempotence(t *testing.T) {
	t.Parallel()

	a := newTestAgent(t, AgentConfig{Name: "worker-1", Capabilities: []Capability{"parse", "plan"}})
	a.AddCapability("parse") // 重复添加
	a.AddCapability("act")

	assert.Equal(t, []Capability{"parse", "plan", "act"}, a.Capabilities())
	assert.True(t, a.HasCapability("plan"))
	assert.False(t, a.HasCapability("fly"))
}

func TestBaseAgent_MarkUnhealthy(t *testing.T) {
	t.Parallel()

	a := newTestAgent(t, AgentConfig{Name: "worker-1"})
	a.MarkUnhealthy("heartbeat timeout")
	assert.Equal(t, StateError, a.State())

	// 已终止的 Agent 不被改写
	b := newTestAgent(t, AgentConfig{Name: "worker-2"})
	b.Terminate()
	b.MarkUnhealthy("heartbeat timeout")
	assert.Equal(t, StateTerminated, b.State())
}

func TestStateTransitions(t *testing.T) {
	t.Parallel()

	assert.True(t, CanTransition(StateIdle, StateBusy))
	assert.True(t, CanTransition(StateBusy, StateIdle))
	assert.True(t, CanTransition(StateIdle, StateTerminated))
	assert.False(t, CanTransition(StateTerminated, StateIdle))
}
