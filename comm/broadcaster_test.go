package comm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/swarmflow/agent"
	"github.com/BaSui01/swarmflow/internal/metrics"
	"github.com/BaSui01/swarmflow/internal/pool"
)

type recordingSubscriber struct {
	mu       sync.Mutex
	received []any
}

func (r *recordingSubscriber) handler(ctx context.Context, msg *agent.AgentMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received = append(r.received, msg.Content)
	return nil
}

func (r *recordingSubscriber) snapshot() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]any, len(r.received))
	copy(out, r.received)
	return out
}

func TestBroadcaster_PublishReachesAllSubscribers(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(BroadcasterConfig{}, zaptest.NewLogger(t))
	ctx := context.Background()

	var first, second recordingSubscriber
	_, err := b.Subscribe(ctx, "alerts", first.handler)
	require.NoError(t, err)
	_, err = b.Subscribe(ctx, "alerts", second.handler)
	require.NoError(t, err)

	reached, err := b.Publish(ctx, "alerts", testMsg("fire"))
	require.NoError(t, err)
	assert.Equal(t, 2, reached)
	assert.Equal(t, []any{"fire"}, first.snapshot())
	assert.Equal(t, []any{"fire"}, second.snapshot())
}

func TestBroadcaster_CreateTopicIdempotent(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(BroadcasterConfig{}, zaptest.NewLogger(t))
	b.CreateTopic("alerts")
	b.CreateTopic("alerts")

	st, err := b.Stats("alerts")
	require.NoError(t, err)
	assert.Equal(t, "alerts", st.Name)
	assert.Zero(t, st.Published)
}

func TestBroadcaster_RetentionEvictsOldestAndReplaysInPublishOrder(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(BroadcasterConfig{RetentionCount: 2}, zaptest.NewLogger(t))
	ctx := context.Background()

	for _, content := range []string{"one", "two", "three"} {
		_, err := b.Publish(ctx, "alerts", testMsg(content))
		require.NoError(t, err)
	}

	// 保留 2 条时最旧的被淘汰，回放按发布顺序
	var late recordingSubscriber
	_, err := b.Subscribe(ctx, "alerts", late.handler, WithReplay())
	require.NoError(t, err)
	assert.Equal(t, []any{"two", "three"}, late.snapshot())

	st, err := b.Stats("alerts")
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.Published)
	assert.Equal(t, 2, st.Retained)
}

func TestBroadcaster_ReplayOnWorkPool(t *testing.T) {
	t.Parallel()

	wp := pool.New(pool.Config{MaxWorkers: 2, QueueSize: 8})
	defer wp.Close()

	b := NewBroadcaster(BroadcasterConfig{}, zaptest.NewLogger(t)).WithReplayPool(wp)
	ctx := context.Background()

	_, err := b.Publish(ctx, "alerts", testMsg("retained"))
	require.NoError(t, err)

	var late recordingSubscriber
	_, err = b.Subscribe(ctx, "alerts", late.handler, WithReplay())
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		got := late.snapshot()
		return len(got) == 1 && got[0] == "retained"
	}, time.Second, 5*time.Millisecond)
}

func TestBroadcaster_FilterGatesDelivery(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(BroadcasterConfig{}, zaptest.NewLogger(t))
	ctx := context.Background()

	var onlyErrors recordingSubscriber
	_, err := b.Subscribe(ctx, "alerts", onlyErrors.handler, WithFilter(func(msg *agent.AgentMessage) bool {
		return msg.Type == agent.MessageTypeError
	}))
	require.NoError(t, err)

	reached, err := b.Publish(ctx, "alerts", testMsg("ignored"))
	require.NoError(t, err)
	assert.Zero(t, reached)

	errMsg := agent.NewMessage("sender", "", agent.MessageTypeError, "boom")
	reached, err = b.Publish(ctx, "alerts", errMsg)
	require.NoError(t, err)
	assert.Equal(t, 1, reached)
	assert.Equal(t, []any{"boom"}, onlyErrors.snapshot())
}

func TestBroadcaster_SubscriberFailuresIsolated(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(BroadcasterConfig{}, zaptest.NewLogger(t))
	ctx := context.Background()

	_, err := b.Subscribe(ctx, "alerts", func(ctx context.Context, msg *agent.AgentMessage) error {
		return errors.New("delivery failed")
	})
	require.NoError(t, err)
	_, err = b.Subscribe(ctx, "alerts", func(ctx context.Context, msg *agent.AgentMessage) error {
		panic("subscriber exploded")
	})
	require.NoError(t, err)
	var healthy recordingSubscriber
	_, err = b.Subscribe(ctx, "alerts", healthy.handler)
	require.NoError(t, err)

	// 失败与 panic 都不阻断后续订阅者；触达数只计成功投递
	reached, err := b.Publish(ctx, "alerts", testMsg("fire"))
	require.NoError(t, err)
	assert.Equal(t, 1, reached)
	assert.Equal(t, []any{"fire"}, healthy.snapshot())
}

func TestBroadcaster_Unsubscribe(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(BroadcasterConfig{}, zaptest.NewLogger(t))
	ctx := context.Background()

	var sub recordingSubscriber
	id, err := b.Subscribe(ctx, "alerts", sub.handler)
	require.NoError(t, err)
	require.NoError(t, b.Unsubscribe(id))

	reached, err := b.Publish(ctx, "alerts", testMsg("after"))
	require.NoError(t, err)
	assert.Zero(t, reached)
	assert.Empty(t, sub.snapshot())

	var nf *agent.NotFoundError
	assert.ErrorAs(t, b.Unsubscribe(id), &nf)
}

func TestBroadcaster_StatsUnknownTopic(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(BroadcasterConfig{}, zaptest.NewLogger(t))
	_, err := b.Stats("ghost")
	var nf *agent.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestBroadcaster_NilHandlerRejected(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(BroadcasterConfig{}, zaptest.NewLogger(t))
	_, err := b.Subscribe(context.Background(), "alerts", nil)
	assert.Error(t, err)
}

// gatheredValue 在 reg 中查找指标族 name 下匹配 labels 的样本值
func gatheredValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
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

func TestBroadcaster_RecordsPublishAndDeliveryFailureMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	col := metrics.NewCollector("commtest", reg, zaptest.NewLogger(t))
	b := NewBroadcaster(BroadcasterConfig{}, zaptest.NewLogger(t)).WithCollector(col)
	ctx := context.Background()

	_, err := b.Subscribe(ctx, "alerts", func(ctx context.Context, msg *agent.AgentMessage) error {
		return errors.New("delivery failed")
	})
	require.NoError(t, err)
	var healthy recordingSubscriber
	_, err = b.Subscribe(ctx, "alerts", healthy.handler)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := b.Publish(ctx, "alerts", testMsg("fire"))
		require.NoError(t, err)
	}
	_, err = b.Publish(ctx, "noise", testMsg("hum"))
	require.NoError(t, err)

	assert.Equal(t, 2.0, gatheredValue(t, reg, "commtest_messages_published_total", map[string]string{"topic": "alerts"}))
	assert.Equal(t, 1.0, gatheredValue(t, reg, "commtest_messages_published_total", map[string]string{"topic": "noise"}))
	assert.Equal(t, 2.0, gatheredValue(t, reg, "commtest_delivery_failures_total", nil))
}
