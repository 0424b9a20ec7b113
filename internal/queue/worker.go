package queue

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/jafechang/atlas/internal/domain/task"
)

// StartWorkers launches n worker goroutines that pop tasks and run them to
// completion, and returns immediately. Each worker runs until ctx is
// cancelled or the queue closes.
func (q *Queue) StartWorkers(ctx context.Context, n int) {
	for i := 0; i < n; i++ {
		go q.workerLoop(ctx)
	}
}

func (q *Queue) workerLoop(ctx context.Context) {
	for {
		t, err := q.pop(ctx)
		if err != nil {
			return
		}
		q.runOne(ctx, t)
	}
}

// runOne executes one task through the lifecycle named in §4.8: transition
// to running, invoke under a timeout, then success/retry/failure.
func (q *Queue) runOne(parent context.Context, t *task.Task) {
	q.runningWG.Add(1)
	defer q.runningWG.Done()

	t.Attempts++
	t.Status = task.StatusRunning
	t.StartedAt = time.Now()
	q.notify(t)

	taskCtx, cancel := context.WithTimeout(parent, t.Timeout())
	q.mu.Lock()
	q.running[t.ID] = cancel
	q.mu.Unlock()

	result, err := q.invoke(taskCtx, t)

	q.mu.Lock()
	delete(q.running, t.ID)
	q.mu.Unlock()
	cancel()

	t.CompletedAt = time.Now()

	switch {
	case err == nil:
		t.Status = task.StatusSuccess
		t.Result = result
		q.notify(t)

	case taskCtx.Err() == context.DeadlineExceeded:
		t.Status = task.StatusTimeout
		t.ErrorMessage = "timeout"
		q.notify(t)
		if t.Attempts <= t.MaxRetries {
			t.Status = task.StatusRetrying
			q.notify(t)
			delay := backoffDelay(q.opts.BaseDelay, t.Attempts)
			q.requeueAfter(t, delay)
		} else {
			t.Status = task.StatusFailed
			q.notify(t)
		}

	case t.Attempts <= t.MaxRetries:
		t.Status = task.StatusRetrying
		t.ErrorMessage = err.Error()
		q.notify(t)
		delay := backoffDelay(q.opts.BaseDelay, t.Attempts)
		q.requeueAfter(t, delay)

	default:
		t.Status = task.StatusFailed
		t.ErrorMessage = err.Error()
		q.notify(t)
	}
}

// invoke runs the registered handler for t, recovering a worker-crashing
// panic into a worker_crash failure rather than taking the worker down
// (§4.8's "Worker panics/crashes are caught, logged, and transitioned to
// failed with reason worker_crash").
func (q *Queue) invoke(ctx context.Context, t *task.Task) (result any, err error) {
	q.mu.Lock()
	h, ok := q.handlers[t.Name]
	q.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("queue: no handler registered for %q", t.Name)
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("queue: worker panic", "task_id", t.ID, "task_name", t.Name, "panic", r)
			err = fmt.Errorf("worker_crash: %v", r)
		}
	}()
	return h(ctx, t.Payload)
}

// backoffDelay computes base * 2^attempts * jitter, jitter in [0.5, 1.5),
// matching §4.8's retry formula.
func backoffDelay(base time.Duration, attempts int) time.Duration {
	factor := 1 << uint(attempts)
	jitter := 0.5 + rand.Float64()
	return time.Duration(float64(base) * float64(factor) * jitter)
}
