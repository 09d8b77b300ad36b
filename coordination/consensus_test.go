package coordination

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/swarmflow/agent"
)

func newTestConsensus(t *testing.T, cfg ConsensusConfig) *ConsensusBuilder {
	t.Helper()
	b, err := NewConsensusBuilder(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	return b
}

func consensusAgents(n int) []agent.Agent {
	agents := make([]agent.Agent, n)
	for i := range agents {
		agents[i] = agent.NewBaseAgent(agent.AgentConfig{
			ID:   fmt.Sprintf("agent-%d", i),
			Name: "voter",
		}, nil)
	}
	return agents
}

func TestConsensusConfig_Validate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, DefaultConsensusConfig().Validate())
	for _, cfg := range []ConsensusConfig{
		{ConvergenceThreshold: 0, MaxRounds: 5},
		{ConvergenceThreshold: 1.5, MaxRounds: 5},
		{ConvergenceThreshold: 0.66, MaxRounds: 0},
	} {
		_, err := NewConsensusBuilder(cfg, nil)
		assert.Error(t, err)
	}
}

func TestConsensus_CheckConsensusThreshold(t *testing.T) {
	t.Parallel()

	b := newTestConsensus(t, ConsensusConfig{ConvergenceThreshold: 0.66, MaxRounds: 1})

	b.ProposeValue("plan", "a", "north")
	b.ProposeValue("plan", "b", "south")
	_, ok := b.CheckConsensus("plan", 3)
	assert.False(t, ok)

	// 第三个 Agent 加入多数派：2/3 仍不足 0.66*3=1.98？2 ≥ 1.98 成立
	b.ProposeValue("plan", "c", "north")
	value, ok := b.CheckConsensus("plan", 3)
	require.True(t, ok)
	assert.Equal(t, "north", value)

	// 收敛值已缓存
	cached, ok := b.GetConsensus("plan")
	require.True(t, ok)
	assert.Equal(t, "north", cached)
}

func TestConsensus_ProposalsOverwritePerAgent(t *testing.T) {
	t.Parallel()

	b := newTestConsensus(t, ConsensusConfig{ConvergenceThreshold: 1.0, MaxRounds: 1})

	b.ProposeValue("plan", "a", "north")
	b.ProposeValue("plan", "b", "south")
	_, ok := b.CheckConsensus("plan", 2)
	require.False(t, ok)

	// b 改投 north：同一 Agent 的新提议覆盖旧提议
	b.ProposeValue("plan", "b", "north")
	value, ok := b.CheckConsensus("plan", 2)
	require.True(t, ok)
	assert.Equal(t, "north", value)
}

func TestConsensus_ReturnsOriginalValueNotString(t *testing.T) {
	t.Parallel()

	b := newTestConsensus(t, ConsensusConfig{ConvergenceThreshold: 0.5, MaxRounds: 1})

	route := []string{"hop-1", "hop-2"}
	b.ProposeValue("route", "a", route)
	b.ProposeValue("route", "b", []string{"hop-1", "hop-2"})

	value, ok := b.CheckConsensus("route", 2)
	require.True(t, ok)
	// 分组按字符串形式，返回的是原始值
	assert.Equal(t, []string{"hop-1", "hop-2"}, value)
}

func TestConsensus_CheckConsensusEdgeCases(t *testing.T) {
	t.Parallel()

	b := newTestConsensus(t, DefaultConsensusConfig())

	_, ok := b.CheckConsensus("empty", 3)
	assert.False(t, ok)
	_, ok = b.CheckConsensus("empty", 0)
	assert.False(t, ok)
	_, ok = b.GetConsensus("empty")
	assert.False(t, ok)
}

func TestConsensus_ReachConsensusConverges(t *testing.T) {
	t.Parallel()

	b := newTestConsensus(t, ConsensusConfig{
		ConvergenceThreshold: 1.0,
		MaxRounds:            3,
		RoundDelay:           time.Millisecond,
	})
	agents := consensusAgents(3)

	// 第一轮各说各话，第二轮起全体归一
	var round atomic.Int32
	value, ok, err := b.ReachConsensus(context.Background(), "plan", agents, func(ctx context.Context, a agent.Agent) (any, error) {
		if round.Add(1) <= 3 {
			return a.ID(), nil
		}
		return "agreed", nil
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "agreed", value)
}

func TestConsensus_ReachConsensusExhaustsRounds(t *testing.T) {
	t.Parallel()

	b := newTestConsensus(t, ConsensusConfig{
		ConvergenceThreshold: 1.0,
		MaxRounds:            2,
		RoundDelay:           time.Millisecond,
	})
	agents := consensusAgents(2)

	value, ok, err := b.ReachConsensus(context.Background(), "plan", agents, func(ctx context.Context, a agent.Agent) (any, error) {
		return a.ID(), nil // 永不一致
	})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, value)
}

func TestConsensus_CollectionFailuresSkipped(t *testing.T) {
	t.Parallel()

	b := newTestConsensus(t, ConsensusConfig{
		ConvergenceThreshold: 0.66,
		MaxRounds:            1,
		RoundDelay:           time.Millisecond,
	})
	agents := consensusAgents(3)

	// agent-2 永远收集失败，其余两个一致：2/3 ≥ 0.66 收敛
	value, ok, err := b.ReachConsensus(context.Background(), "plan", agents, func(ctx context.Context, a agent.Agent) (any, error) {
		if a.ID() == "agent-2" {
			return nil, errors.New("unreachable")
		}
		return "agreed", nil
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "agreed", value)
}

func TestConsensus_ReachConsensusRequiresAgents(t *testing.T) {
	t.Parallel()

	b := newTestConsensus(t, DefaultConsensusConfig())
	_, _, err := b.ReachConsensus(context.Background(), "plan", nil, func(ctx context.Context, a agent.Agent) (any, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, agent.ErrNoWorkers)
}

func TestConsensus_ReachConsensusCancellable(t *testing.T) {
	t.Parallel()

	b := newTestConsensus(t, ConsensusConfig{
		ConvergenceThreshold: 1.0,
		MaxRounds:            10,
		RoundDelay:           time.Second,
	})
	agents := consensusAgents(2)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok, err := b.ReachConsensus(ctx, "plan", agents, func(ctx context.Context, a agent.Agent) (any, error) {
		return a.ID(), nil
	})
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
