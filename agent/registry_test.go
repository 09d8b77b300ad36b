package agent

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/BaSui01/swarmflow/internal/metrics"
)

func newTestRegistry(t *testing.T, cfg RegistryConfig) *AgentRegistry {
	t.Helper()
	return NewRegistry(cfg, zaptest.NewLogger(t))
}

func TestRegistry_RegisterAndFind(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, RegistryConfig{})
	a := newTestAgent(t, AgentConfig{Name: "worker-1", Capabilities: []Capability{"parse", "plan"}})
	require.NoError(t, r.Register(a))

	got, err := r.Get(a.ID())
	require.NoError(t, err)
	assert.Equal(t, a.ID(), got.ID())

	byCap := r.FindByCapability("parse")
	require.Len(t, byCap, 1)
	assert.Equal(t, a.ID(), byCap[0].ID())

	assert.Empty(t, r.FindByCapability("fly"))
}

func TestRegistry_DuplicateRegisterRejected(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, RegistryConfig{})
	a := newTestAgent(t, AgentConfig{Name: "worker-1"})
	require.NoError(t, r.Register(a))
	assert.ErrorIs(t, r.Register(a), ErrAgentExists)
}

func TestRegistry_UnregisterPrunesCapabilityIndex(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, RegistryConfig{})
	a := newTestAgent(t, AgentConfig{Name: "worker-1", Capabilities: []Capability{"parse"}})
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Unregister(a.ID()))

	assert.Empty(t, r.FindByCapability("parse"))
	_, err := r.Get(a.ID())
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)

	err = r.Unregister(a.ID())
	assert.ErrorAs(t, err, &nf)
}

func TestRegistry_FindByCapabilitiesIsIntersection(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, RegistryConfig{})
	both := newTestAgent(t, AgentConfig{Name: "both", Capabilities: []Capability{"parse", "plan"}})
	parseOnly := newTestAgent(t, AgentConfig{Name: "parse-only", Capabilities: []Capability{"parse"}})
	require.NoError(t, r.Register(both))
	require.NoError(t, r.Register(parseOnly))

	found := r.FindByCapabilities("parse", "plan")
	require.Len(t, found, 1)
	assert.Equal(t, both.ID(), found[0].ID())

	assert.Len(t, r.FindByCapabilities("parse"), 2)
}

func TestRegistry_FindByState(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, RegistryConfig{})
	healthy := newTestAgent(t, AgentConfig{Name: "healthy"})
	sick := newTestAgent(t, AgentConfig{Name: "sick"})
	sick.MarkUnhealthy("test")
	require.NoError(t, r.Register(healthy))
	require.NoError(t, r.Register(sick))

	idle := r.FindByState(StateIdle)
	require.Len(t, idle, 1)
	assert.Equal(t, healthy.ID(), idle[0].ID())

	errored := r.FindByState(StateError)
	require.Len(t, errored, 1)
	assert.Equal(t, sick.ID(), errored[0].ID())
}

func TestRegistry_ListenersNotifiedAndPanicsIsolated(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, RegistryConfig{})
	var mu sync.Mutex
	var events []RegistryEvent
	r.AddListener(func(event RegistryEvent, a Agent) {
		panic("bad listener")
	})
	r.AddListener(func(event RegistryEvent, a Agent) {
		mu.Lock()
		events = append(events, event)
		mu.Unlock()
	})

	a := newTestAgent(t, AgentConfig{Name: "worker-1"})
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Unregister(a.ID()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []RegistryEvent{EventRegistered, EventUnregistered}, events)
}

func TestRegistry_HealthMonitorMarksStaleAgents(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, RegistryConfig{
		HealthCheckInterval: 10 * time.Millisecond,
		HeartbeatTimeout:    30 * time.Millisecond,
	})

	var mu sync.Mutex
	var unhealthy []string
	r.AddListener(func(event RegistryEvent, a Agent) {
		if event == EventUnhealthy {
			mu.Lock()
			unhealthy = append(unhealthy, a.ID())
			mu.Unlock()
		}
	})

	a := newTestAgent(t, AgentConfig{Name: "stale"})
	require.NoError(t, r.Register(a))

	r.StartHealthMonitor(context.Background())
	defer r.StopHealthMonitor()

	assert.Eventually(t, func() bool {
		return a.State() == StateError
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, unhealthy)
	assert.Equal(t, a.ID(), unhealthy[0])
}

func TestRegistry_StopHealthMonitorAwaitsLoop(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, RegistryConfig{HealthCheckInterval: 5 * time.Millisecond})
	r.StartHealthMonitor(context.Background())
	time.Sleep(15 * time.Millisecond)
	r.StopHealthMonitor()
	// 重复停止是无操作
	r.StopHealthMonitor()
}

func TestRegistry_GetSwarmStatus(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, RegistryConfig{})
	idle := newTestAgent(t, AgentConfig{Name: "idle"})
	errored := newTestAgent(t, AgentConfig{Name: "errored"})
	errored.MarkUnhealthy("test")
	require.NoError(t, r.Register(idle))
	require.NoError(t, r.Register(errored))

	st := r.GetSwarmStatus()
	assert.Equal(t, 2, st.TotalAgents)
	assert.Equal(t, 1, st.ByState[StateIdle])
	assert.Equal(t, 1, st.ByState[StateError])
}

func TestRegistry_DefaultSingleton(t *testing.T) {
	ResetDefault()
	t.Cleanup(ResetDefault)

	first := Default()
	second := Default()
	assert.Same(t, first, second)

	a := NewBaseAgent(AgentConfig{Name: "worker-1"}, nil)
	require.NoError(t, first.Register(a))
	_, err := second.Get(a.ID())
	assert.NoError(t, err)

	ResetDefault()
	_, err = Default().Get(a.ID())
	assert.Error(t, err)
}

// 属性：任意注册/注销序列后，能力倒排索引与 ID 映射始终一致。
func TestRegistry_IndexConsistencyProperty(t *testing.T) {
	t.Parallel()

	capPool := []Capability{"parse", "plan", "act", "review"}

	rapid.Check(t, func(rt *rapid.T) {
		r := NewRegistry(RegistryConfig{}, nil)
		registered := make(map[string]Agent)

		steps := rapid.IntRange(1, 40).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			if len(registered) == 0 || rapid.Bool().Draw(rt, "register") {
				n := rapid.IntRange(1, len(capPool)).Draw(rt, "ncaps")
				caps := make([]Capability, n)
				copy(caps, capPool[:n])
				a := NewBaseAgent(AgentConfig{
					ID:           fmt.Sprintf("agent-%d", i),
					Name:         "prop",
					Capabilities: caps,
				}, nil)
				require.NoError(rt, r.Register(a))
				registered[a.ID()] = a
			} else {
				var victim string
				for id := range registered {
					victim = id
					break
				}
				require.NoError(rt, r.Unregister(victim))
				delete(registered, victim)
			}
		}

		// 两个索引必须观察到同一个世界
		assert.Len(rt, r.All(), len(registered))
		for _, c := range capPool {
			want := make(map[string]struct{})
			for id, a := range registered {
				if a.HasCapability(c) {
					want[id] = struct{}{}
				}
			}
			got := r.FindByCapability(c)
			require.Len(rt, got, len(want))
			for _, a := range got {
				_, ok := want[a.ID()]
				assert.True(rt, ok)
			}
		}
	})
}

// metricSample 在 reg 中查找指标族 name 下匹配 labels 的样本值
func metricSample(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			matched := 0
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] == lp.GetValue() {
					matched++
				}
			}
			if matched != len(labels) {
				continue
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			if g := m.GetGauge(); g != nil {
				return g.GetValue()
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return 0
}

func TestRegistry_TracksRegisteredGauge(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	col := metrics.NewCollector("regtest", reg, zaptest.NewLogger(t))
	r := newTestRegistry(t, RegistryConfig{}).WithCollector(col)

	a := NewBaseAgent(AgentConfig{Name: "a"}, zaptest.NewLogger(t))
	b := NewBaseAgent(AgentConfig{Name: "b"}, zaptest.NewLogger(t))
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))
	assert.Equal(t, 2.0, metricSample(t, reg, "regtest_agents_registered", nil))

	require.NoError(t, r.Unregister(a.ID()))
	assert.Equal(t, 1.0, metricSample(t, reg, "regtest_agents_registered", nil))
}
