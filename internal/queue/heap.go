package queue

import (
	"container/heap"

	"github.com/jafechang/atlas/internal/domain/task"
)

// item wraps a Task with the monotonic sequence number used to break
// priority ties FIFO (§4.8's "(priority, submit_time)" discipline; a
// counter stands in for submit_time so ordering is deterministic even when
// two tasks are submitted within the same clock tick).
type item struct {
	task    *task.Task
	seq     int64
	heapIdx int
}

// itemHeap is a container/heap.Interface min-heap ordered by (priority, seq)
// ascending — Priority 0 (urgent) pops before 1 (high), and equal-priority
// items pop in submission order.
type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority < h[j].task.Priority
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIdx = i
	h[j].heapIdx = j
}

func (h *itemHeap) Push(x any) {
	it := x.(*item)
	it.heapIdx = len(*h)
	*h = append(*h, it)
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.heapIdx = -1
	*h = old[:n-1]
	return it
}

var _ heap.Interface = (*itemHeap)(nil)
