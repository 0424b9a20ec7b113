package llmqueue

import (
	"container/heap"

	"github.com/jafechang/atlas/internal/domain/llmtask"
)

// item wraps an LLMTask with the monotonic sequence number that breaks
// priority ties in FIFO order, the same scheme TaskQueue (C8) uses.
type item struct {
	task    *llmtask.Task
	seq     int64
	heapIdx int
}

// itemHeap is a container/heap.Interface min-heap over (priority, seq).
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
	*h = old[:n-1]
	return it
}

var _ heap.Interface = (*itemHeap)(nil)
