// Package queue implements TaskQueue (§4.8): a min-heap priority queue
// guarded by a mutex and condition variable, backing a fixed-size worker
// pool that runs, times out, retries, and cancels tasks.
package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/jafechang/atlas/internal/domain"
	"github.com/jafechang/atlas/internal/domain/task"
)

// Handler performs the actual work for a task, keyed by Task.Name in the
// queue's handler registry. It must honor ctx cancellation promptly.
type Handler func(ctx context.Context, payload any) (result any, err error)

// Options configures a Queue.
type Options struct {
	// MaxSize bounds the queue when > 0; Submit returns domain.ErrBackpressure
	// once the heap holds MaxSize pending tasks. 0 means unbounded (§4.8's
	// default).
	MaxSize int
	// BaseDelay is the retry backoff base: delay = BaseDelay * 2^attempts * jitter.
	BaseDelay time.Duration
}

// DefaultOptions returns an unbounded queue with a 500ms retry base delay.
func DefaultOptions() Options {
	return Options{BaseDelay: 500 * time.Millisecond}
}

// Queue is the TaskQueue port implementation described by §4.8.
type Queue struct {
	opts Options

	mu       sync.Mutex
	cond     *sync.Cond
	heap     itemHeap
	seq      int64
	closed   bool
	draining bool

	running   map[string]context.CancelFunc
	handlers  map[string]Handler
	runningWG sync.WaitGroup

	onTransition func(ctx context.Context, t *task.Task)
}

// New builds a Queue. onTransition, if non-nil, is invoked on every status
// change (wiring point for StatusManager/C7).
func New(opts Options, onTransition func(ctx context.Context, t *task.Task)) *Queue {
	q := &Queue{
		opts:         opts,
		running:      make(map[string]context.CancelFunc),
		handlers:     make(map[string]Handler),
		onTransition: onTransition,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// RegisterHandler binds a task name to the function that executes it.
func (q *Queue) RegisterHandler(name string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[name] = h
}

// Submit admits a new task. Submission never blocks; in bounded mode a full
// queue returns domain.ErrBackpressure instead (§4.8's failure semantics).
func (q *Queue) Submit(t *task.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.draining {
		return domain.ErrCancelled
	}
	if q.opts.MaxSize > 0 && len(q.heap) >= q.opts.MaxSize {
		return domain.ErrBackpressure
	}

	t.Status = task.StatusPending
	q.seq++
	heap.Push(&q.heap, &item{task: t, seq: q.seq})
	q.cond.Signal()
	return nil
}

// Cancel removes a pending task from the heap, or signals cancellation to a
// running one (§4.8's "Cancellation").
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, it := range q.heap {
		if it.task.ID == id {
			heap.Remove(&q.heap, i)
			it.task.Status = task.StatusCancelled
			q.notify(it.task)
			return true
		}
	}
	if cancel, ok := q.running[id]; ok {
		cancel()
		return true
	}
	return false
}

// Shutdown stops admitting new submissions and waits (up to ctx's deadline)
// for running tasks to finish, then cancels whatever remains (§4.8's
// "Shutdown: draining mode").
func (q *Queue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	q.draining = true
	q.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		q.runningWG.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
	}

	q.mu.Lock()
	q.closed = true
	for _, cancel := range q.running {
		cancel()
	}
	q.cond.Broadcast()
	q.mu.Unlock()
}

// pop blocks until a task is available, the queue closes, or ctx is done.
func (q *Queue) pop(ctx context.Context) (*task.Task, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		case <-done:
		}
	}()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.heap) == 0 && !q.closed {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		q.cond.Wait()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(q.heap) == 0 && q.closed {
		return nil, domain.ErrCancelled
	}
	it := heap.Pop(&q.heap).(*item)
	return it.task, nil
}

func (q *Queue) notify(t *task.Task) {
	if q.onTransition != nil {
		cp := *t
		q.onTransition(context.Background(), &cp)
	}
}

// requeueAfter re-enters t into the heap after delay, used for retries.
func (q *Queue) requeueAfter(t *task.Task, delay time.Duration) {
	time.AfterFunc(delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if q.closed {
			return
		}
		q.seq++
		heap.Push(&q.heap, &item{task: t, seq: q.seq})
		q.cond.Signal()
	})
}

// Len reports the number of pending (not yet picked up) tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}
