package coordination

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/swarmflow/agent"
)

func TestTaskQueue_PopsByPriorityDescending(t *testing.T) {
	t.Parallel()

	q := NewTaskQueue()
	low := agent.NewTask("low").WithPriority(1)
	high := agent.NewTask("high").WithPriority(10)
	mid := agent.NewTask("mid").WithPriority(5)
	q.Push(low)
	q.Push(high)
	q.Push(mid)

	assert.Equal(t, "high", q.Pop().Name)
	assert.Equal(t, "mid", q.Pop().Name)
	assert.Equal(t, "low", q.Pop().Name)
	assert.Nil(t, q.Pop())
}

func TestTaskQueue_EqualPriorityIsFIFO(t *testing.T) {
	t.Parallel()

	q := NewTaskQueue()
	for i := 0; i < 5; i++ {
		q.Push(agent.NewTask(fmt.Sprintf("task-%d", i)).WithPriority(3))
	}
	for i := 0; i < 5; i++ {
		assert.Equal(t, fmt.Sprintf("task-%d", i), q.Pop().Name)
	}
}

func TestTaskQueue_RemoveIsLazy(t *testing.T) {
	t.Parallel()

	q := NewTaskQueue()
	keep := agent.NewTask("keep").WithPriority(1)
	drop := agent.NewTask("drop").WithPriority(10)
	q.Push(keep)
	q.Push(drop)

	require.True(t, q.Remove(drop.ID))
	assert.False(t, q.Remove(drop.ID))
	assert.False(t, q.Contains(drop.ID))
	assert.Equal(t, 1, q.Len())

	// 被删条目仍在堆里，Peek/Pop 必须跳过它
	assert.Equal(t, keep.ID, q.Peek().ID)
	assert.Equal(t, keep.ID, q.Pop().ID)
	assert.Nil(t, q.Pop())
}

func TestTaskQueue_PeekDoesNotDequeue(t *testing.T) {
	t.Parallel()

	q := NewTaskQueue()
	assert.Nil(t, q.Peek())

	task := agent.NewTask("only")
	q.Push(task)
	assert.Equal(t, task.ID, q.Peek().ID)
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, task.ID, q.Pop().ID)
	assert.Zero(t, q.Len())
}
