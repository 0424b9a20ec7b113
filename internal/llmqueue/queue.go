// Package llmqueue implements LLMQueue (§4.11): a priority queue dedicated
// to LLM work, with a result cache and dynamically owned concurrency.
package llmqueue

import (
	"container/heap"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jafechang/atlas/internal/domain"
	"github.com/jafechang/atlas/internal/domain/llmtask"
	"github.com/jafechang/atlas/internal/port/cache"
)

// Handler performs the LLM call for one task type.
type Handler func(ctx context.Context, payload any) (result any, err error)

// Options configures a Queue.
type Options struct {
	// MaxSize bounds pending tasks when > 0.
	MaxSize int
	// InitialConcurrency is the starting number of in-flight dispatches;
	// AdaptiveController (C12) adjusts it live via Resize.
	InitialConcurrency int
	CacheTTL           time.Duration
}

// DefaultOptions returns an unbounded queue starting at concurrency 2.
func DefaultOptions() Options {
	return Options{InitialConcurrency: 2, CacheTTL: time.Hour}
}

// reapInterval is how often Run sweeps the heap for expired-but-pending
// tasks.
const reapInterval = 200 * time.Millisecond

// Queue is the LLMQueue port implementation.
type Queue struct {
	opts Options

	mu       sync.Mutex
	cond     *sync.Cond
	heap     itemHeap
	seq      int64
	closed   bool
	draining bool

	capacity  int
	inUse     int
	handlers  map[llmtask.Type]Handler
	runningWG sync.WaitGroup

	cache        cache.Cache
	onTransition func(ctx context.Context, t *llmtask.Task)

	runCtx         context.Context
	dispatchCtx    context.Context
	dispatchCancel context.CancelFunc
}

// New builds a Queue. cache may be nil (disables result sharing).
// onTransition, if non-nil, is invoked whenever a task reaches a result or
// error.
func New(opts Options, c cache.Cache, onTransition func(ctx context.Context, t *llmtask.Task)) *Queue {
	if opts.InitialConcurrency < 1 {
		opts.InitialConcurrency = 1
	}
	q := &Queue{
		opts:         opts,
		capacity:     opts.InitialConcurrency,
		handlers:     make(map[llmtask.Type]Handler),
		cache:        c,
		onTransition: onTransition,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// RegisterHandler binds an LLMTask type to the function that performs it.
func (q *Queue) RegisterHandler(t llmtask.Type, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[t] = h
}

// Resize changes the live concurrency cap — AdaptiveController's (C12) only
// write into this package. n is floored at 0 (EMERGENCY_STOP/CIRCUIT_OPEN).
func (q *Queue) Resize(n int) {
	if n < 0 {
		n = 0
	}
	q.mu.Lock()
	q.capacity = n
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Submit admits a task. Submission never blocks; a bounded, full queue
// returns domain.ErrBackpressure.
func (q *Queue) Submit(t *llmtask.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.draining {
		return domain.ErrCancelled
	}
	if q.opts.MaxSize > 0 && len(q.heap) >= q.opts.MaxSize {
		return domain.ErrBackpressure
	}
	if t.SubmitTime.IsZero() {
		t.SubmitTime = time.Now()
	}

	q.seq++
	heap.Push(&q.heap, &item{task: t, seq: q.seq})
	q.cond.Signal()
	return nil
}

// Len reports the number of pending (not yet dispatched) tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// Run starts the dispatch loop: pop the highest-priority task, wait for a
// concurrency slot, then run it in its own goroutine. It blocks until ctx
// is cancelled or the queue is closed. A background sweep expires tasks
// whose deadline passes while they are still pending — e.g. while
// AdaptiveController (C12) has concurrency reduced to 0 — since otherwise
// an aging task sitting in the heap would only be noticed once it is
// finally popped.
func (q *Queue) Run(ctx context.Context) {
	q.mu.Lock()
	q.runCtx = ctx
	q.dispatchCtx, q.dispatchCancel = context.WithCancel(ctx)
	q.mu.Unlock()

	go q.reapExpiredLoop(ctx)

	for {
		t, err := q.pop(ctx)
		if err != nil {
			return
		}
		if t.Late(time.Now()) {
			t.Error = "deadline exceeded before dispatch"
			q.notify(t)
			continue
		}
		if !q.acquire(ctx) {
			t.Error = "queue closed or cancelled before dispatch"
			q.notify(t)
			return
		}

		q.mu.Lock()
		dctx := q.dispatchCtx
		q.mu.Unlock()

		q.runningWG.Add(1)
		go func(t *llmtask.Task, dctx context.Context) {
			defer q.runningWG.Done()
			defer q.release()
			q.dispatch(dctx, t)
		}(t, dctx)
	}
}

// CancelInFlight cancels every currently-dispatched task's context without
// stopping Run's own loop — AdaptiveController's (C12) EMERGENCY_STOP action
// uses this to abandon in-flight work immediately rather than waiting for it
// to finish on its own.
func (q *Queue) CancelInFlight() {
	q.mu.Lock()
	oldCancel := q.dispatchCancel
	if q.runCtx != nil {
		q.dispatchCtx, q.dispatchCancel = context.WithCancel(q.runCtx)
	}
	q.mu.Unlock()
	if oldCancel != nil {
		oldCancel()
	}
}

// reapExpiredLoop periodically removes pending tasks whose deadline has
// passed, per §5's "pending LLMQueue tasks... age out at their deadlines."
func (q *Queue) reapExpiredLoop(ctx context.Context) {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.reapExpired()
		}
	}
}

func (q *Queue) reapExpired() {
	now := time.Now()
	var expired []*llmtask.Task

	q.mu.Lock()
	for i := 0; i < len(q.heap); {
		if q.heap[i].task.Late(now) {
			it := heap.Remove(&q.heap, i).(*item)
			expired = append(expired, it.task)
			continue
		}
		i++
	}
	q.mu.Unlock()

	for _, t := range expired {
		t.Error = "deadline exceeded while pending"
		q.notify(t)
	}
}

// Shutdown stops admitting submissions and waits (up to ctx's deadline) for
// in-flight dispatches to finish.
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
	q.cond.Broadcast()
	q.mu.Unlock()
}

func (q *Queue) pop(ctx context.Context) (*llmtask.Task, error) {
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

// acquire blocks until a concurrency slot is free, the queue closes, or ctx
// is done. It returns false when the caller should stop dispatching.
func (q *Queue) acquire(ctx context.Context) bool {
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
	for q.inUse >= q.capacity && !q.closed {
		if ctx.Err() != nil {
			return false
		}
		q.cond.Wait()
	}
	if ctx.Err() != nil || q.closed {
		return false
	}
	q.inUse++
	return true
}

func (q *Queue) release() {
	q.mu.Lock()
	q.inUse--
	q.mu.Unlock()
	q.cond.Broadcast()
}

// dispatch runs t's handler, consulting and populating the result cache by
// (type, cache_key) first.
func (q *Queue) dispatch(ctx context.Context, t *llmtask.Task) {
	if t.Cacheable() && q.cache != nil {
		if cached, ok := q.lookupCache(ctx, t); ok {
			t.Result = cached
			q.notify(t)
			return
		}
	}

	q.mu.Lock()
	h, ok := q.handlers[t.Type]
	q.mu.Unlock()
	if !ok {
		t.Error = fmt.Sprintf("llmqueue: no handler registered for %q", t.Type)
		q.notify(t)
		return
	}

	result, err := h(ctx, t.Payload)
	if err != nil {
		t.Error = err.Error()
		q.notify(t)
		return
	}
	t.Result = result
	if t.Cacheable() && q.cache != nil {
		q.storeCache(ctx, t, result)
	}
	q.notify(t)
}

// lookupCache decodes a cached result. Results are stored JSON-encoded
// since a task's Result may be any handler-specific shape (a Completion, an
// embedding vector, ...); a cache failure degrades silently to a miss, the
// same best-effort contract HttpClient's (C2) response cache follows.
func (q *Queue) lookupCache(ctx context.Context, t *llmtask.Task) (any, bool) {
	data, ok, err := q.cache.Get(ctx, cacheKey(t))
	if err != nil || !ok {
		return nil, false
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, false
	}
	return decoded, true
}

func (q *Queue) storeCache(ctx context.Context, t *llmtask.Task, result any) {
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := q.cache.Set(ctx, cacheKey(t), data, q.opts.CacheTTL); err != nil {
		slog.Warn("llmqueue: cache store failed", "task_id", t.ID, "error", err)
	}
}

// cacheKey hashes (task_type, cache_key) per §4.11's cache key definition.
func cacheKey(t *llmtask.Task) string {
	h := sha256.New()
	h.Write([]byte(t.Type))
	h.Write([]byte{'|'})
	h.Write([]byte(t.CacheKey))
	return hex.EncodeToString(h.Sum(nil))
}

func (q *Queue) notify(t *llmtask.Task) {
	if q.onTransition != nil {
		cp := *t
		q.onTransition(context.Background(), &cp)
	}
}
