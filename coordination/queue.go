package coordination

import (
	"container/heap"
	"sync"

	"github.com/BaSui01/swarmflow/agent"
)

// TaskQueue 优先级队列：优先级高者先出，同优先级按入队顺序（稳定 FIFO）。
// 取消采用惰性删除：Remove 只从侧表摘除，堆中条目在 Pop/Peek 时跳过。
type TaskQueue struct {
	mu      sync.Mutex
	items   taskHeap
	alive   map[string]struct{} // 仍然有效的任务 ID
	nextSeq int64
}

type queueItem struct {
	task     *agent.Task
	priority int
	seq      int64
}

type taskHeap []*queueItem

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*queueItem)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// NewTaskQueue 创建任务队列
func NewTaskQueue() *TaskQueue {
	return &TaskQueue{alive: make(map[string]struct{})}
}

// Push 入队
func (q *TaskQueue) Push(t *agent.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.alive[t.ID] = struct{}{}
	heap.Push(&q.items, &queueItem{task: t, priority: t.Priority, seq: q.nextSeq})
	q.nextSeq++
}

// Pop 出队最高优先级任务；空队列返回 nil
func (q *TaskQueue) Pop() *agent.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.items.Len() > 0 {
		item := heap.Pop(&q.items).(*queueItem)
		if _, ok := q.alive[item.task.ID]; !ok {
			continue // 已被惰性删除
		}
		delete(q.alive, item.task.ID)
		return item.task
	}
	return nil
}

// Peek 查看队首任务但不出队；空队列返回 nil
func (q *TaskQueue) Peek() *agent.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.items.Len() > 0 {
		item := q.items[0]
		if _, ok := q.alive[item.task.ID]; ok {
			return item.task
		}
		heap.Pop(&q.items)
	}
	return nil
}

// Remove 惰性删除；任务不在队列中时返回 false
func (q *TaskQueue) Remove(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.alive[taskID]; !ok {
		return false
	}
	delete(q.alive, taskID)
	return true
}

// Contains 任务是否仍在队列中
func (q *TaskQueue) Contains(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.alive[taskID]
	return ok
}

// Len 队列中有效任务数
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.alive)
}
