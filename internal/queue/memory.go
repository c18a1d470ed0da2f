package queue

import (
	"container/heap"
	"context"
	"sync"

	"github.com/nadmax/forgeq/internal/task"
)

type item struct {
	task *task.Task
	seq  uint64
}

type taskHeap []item

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(item)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = item{}
	*h = old[:n-1]
	return it
}

// Memory is an in-process queue with one binary heap per category.
type Memory struct {
	mu     sync.Mutex
	seq    uint64
	queues map[task.Category]*taskHeap
}

func NewMemory() *Memory {
	queues := make(map[task.Category]*taskHeap)
	for _, c := range task.Categories() {
		queues[c] = &taskHeap{}
	}
	return &Memory{queues: queues}
}

func (q *Memory) Handle(t *task.Task) string {
	return "memory:" + string(t.Category) + "/" + t.ID
}

func (q *Memory) Enqueue(_ context.Context, t *task.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	h, ok := q.queues[t.Category]
	if !ok {
		return &task.SubmissionError{Reason: "unknown category " + string(t.Category)}
	}

	q.seq++
	heap.Push(h, item{task: t, seq: q.seq})
	return nil
}

func (q *Memory) Dequeue(_ context.Context, category task.Category) (*task.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	h, ok := q.queues[category]
	if !ok || h.Len() == 0 {
		return nil, nil
	}

	return heap.Pop(h).(item).task, nil
}

func (q *Memory) Len(_ context.Context, category task.Category) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	h, ok := q.queues[category]
	if !ok {
		return 0, nil
	}
	return h.Len(), nil
}

func (q *Memory) Close() error {
	return nil
}
