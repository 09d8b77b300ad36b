package comm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/swarmflow/agent"
)

func testMsg(content any) *agent.AgentMessage {
	return agent.NewMessage("sender", "receiver", agent.MessageTypeStatus, content)
}

func TestQueueChannel_UnboundedFIFO(t *testing.T) {
	t.Parallel()

	c := NewQueueChannel(QueueChannelConfig{Name: "events"}, zaptest.NewLogger(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Send(ctx, testMsg(i)))
	}
	for i := 0; i < 3; i++ {
		msg, err := c.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, msg.Content)
	}
}

func TestQueueChannel_BoundedFullWithoutTimeout(t *testing.T) {
	t.Parallel()

	c := NewQueueChannel(QueueChannelConfig{Name: "events", Capacity: 1}, zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, c.Send(ctx, testMsg(1)))
	assert.ErrorIs(t, c.Send(ctx, testMsg(2)), ErrChannelFull)
}

func TestQueueChannel_BoundedSendTimeout(t *testing.T) {
	t.Parallel()

	c := NewQueueChannel(QueueChannelConfig{
		Name:        "events",
		Capacity:    1,
		SendTimeout: 20 * time.Millisecond,
	}, zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, c.Send(ctx, testMsg(1)))

	start := time.Now()
	err := c.Send(ctx, testMsg(2))
	assert.ErrorIs(t, err, ErrChannelFull)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	// 腾出空位后发送成功
	_, err = c.Receive(ctx)
	require.NoError(t, err)
	assert.NoError(t, c.Send(ctx, testMsg(3)))
}

func TestQueueChannel_ReceiveTimeout(t *testing.T) {
	t.Parallel()

	c := NewQueueChannel(QueueChannelConfig{
		Name:        "events",
		RecvTimeout: 20 * time.Millisecond,
	}, zaptest.NewLogger(t))

	_, err := c.Receive(context.Background())
	assert.ErrorIs(t, err, ErrChannelEmpty)
}

func TestQueueChannel_TTLSkipsExpiredMessages(t *testing.T) {
	t.Parallel()

	c := NewQueueChannel(QueueChannelConfig{
		Name: "events",
		TTL:  10 * time.Millisecond,
	}, zaptest.NewLogger(t))
	ctx := context.Background()

	stale := testMsg("stale")
	require.NoError(t, c.Send(ctx, stale))
	time.Sleep(25 * time.Millisecond)
	fresh := testMsg("fresh")
	require.NoError(t, c.Send(ctx, fresh))

	// 过期消息被静默跳过，直接取到新消息
	msg, err := c.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fresh", msg.Content)
}

func TestQueueChannel_PauseAndResume(t *testing.T) {
	t.Parallel()

	c := NewQueueChannel(QueueChannelConfig{Name: "events"}, zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, c.Send(ctx, testMsg(1)))
	require.NoError(t, c.Pause())
	assert.Equal(t, ChannelPaused, c.State())

	assert.ErrorIs(t, c.Send(ctx, testMsg(2)), ErrChannelPaused)
	_, err := c.Receive(ctx)
	assert.ErrorIs(t, err, ErrChannelPaused)

	// 恢复后缓冲内容原样可用
	require.NoError(t, c.Resume())
	msg, err := c.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, msg.Content)
}

func TestQueueChannel_CloseDrainsBuffered(t *testing.T) {
	t.Parallel()

	c := NewQueueChannel(QueueChannelConfig{Name: "events", Capacity: 4}, zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, c.Send(ctx, testMsg("buffered")))
	require.NoError(t, c.Close())
	assert.Equal(t, ChannelClosed, c.State())

	assert.ErrorIs(t, c.Send(ctx, testMsg("late")), ErrChannelClosed)

	msg, err := c.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "buffered", msg.Content)

	_, err = c.Receive(ctx)
	assert.ErrorIs(t, err, ErrChannelClosed)
}

func TestQueueChannel_PausedClosedTransitions(t *testing.T) {
	t.Parallel()

	c := NewQueueChannel(QueueChannelConfig{Name: "events"}, zaptest.NewLogger(t))
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Pause(), ErrChannelClosed)
	assert.ErrorIs(t, c.Resume(), ErrChannelClosed)
}
