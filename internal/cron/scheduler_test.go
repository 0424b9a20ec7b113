package cron_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jafechang/atlas/internal/cron"
	"github.com/jafechang/atlas/internal/domain/task"
	"github.com/jafechang/atlas/internal/port/messagequeue"
)

type stubQueue struct {
	mu        sync.Mutex
	published []string
}

func (q *stubQueue) Publish(_ context.Context, subject string, _ []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published = append(q.published, subject)
	return nil
}
func (q *stubQueue) Subscribe(context.Context, string, messagequeue.Handler) (func(), error) {
	return func() {}, nil
}
func (q *stubQueue) Drain() error      { return nil }
func (q *stubQueue) Close() error      { return nil }
func (q *stubQueue) IsConnected() bool { return true }

func (q *stubQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.published)
}

type recordingSubmitter struct {
	mu   sync.Mutex
	subs []*task.Task
	fail bool
}

func (r *recordingSubmitter) Submit(t *task.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errFailingSubmit
	}
	r.subs = append(r.subs, t)
	return nil
}

func (r *recordingSubmitter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

var errFailingSubmit = &submitError{"submitter refused"}

type submitError struct{ s string }

func (e *submitError) Error() string { return e.s }

func TestAddJob_RejectsEveryExpression(t *testing.T) {
	s := cron.New(&recordingSubmitter{}, nil)
	if err := s.AddJob("j", "@every 5m", "handler", task.PriorityNormal); err == nil {
		t.Fatal("expected @every to be rejected")
	}
}

func TestAddJob_RejectsMalformedExpression(t *testing.T) {
	s := cron.New(&recordingSubmitter{}, nil)
	if err := s.AddJob("j", "not a cron expr", "handler", task.PriorityNormal); err == nil {
		t.Fatal("expected malformed expression to be rejected")
	}
}

func TestAddJob_AcceptsStandardAndAliasExpressions(t *testing.T) {
	s := cron.New(&recordingSubmitter{}, nil)
	if err := s.AddJob("every-minute", "* * * * *", "h", task.PriorityNormal); err != nil {
		t.Fatalf("unexpected error for standard expression: %v", err)
	}
	if err := s.AddJob("daily", "@daily", "h", task.PriorityNormal); err != nil {
		t.Fatalf("unexpected error for @daily alias: %v", err)
	}
}

func TestRunNow_DispatchesWithoutWaitingForSchedule(t *testing.T) {
	sub := &recordingSubmitter{}
	s := cron.New(sub, nil)
	if err := s.AddJob("hourly-report", "0 * * * *", "report", task.PriorityNormal); err != nil {
		t.Fatalf("AddJob: %v", err)
	}

	id, err := s.RunNow("hourly-report")
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if id == "" {
		t.Error("expected a non-empty task id")
	}
	if sub.count() != 1 {
		t.Errorf("expected 1 submission, got %d", sub.count())
	}
}

func TestRunNow_DoesNotAlterNextRunAt(t *testing.T) {
	sub := &recordingSubmitter{}
	s := cron.New(sub, nil)
	_ = s.AddJob("hourly", "0 * * * *", "h", task.PriorityNormal)

	before := jobNextRunAt(t, s, "hourly")
	if _, err := s.RunNow("hourly"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	after := jobNextRunAt(t, s, "hourly")
	if !before.Equal(after) {
		t.Errorf("expected next_run_at to stay at %v, got %v", before, after)
	}
}

func TestRunNow_UnknownJobReturnsError(t *testing.T) {
	s := cron.New(&recordingSubmitter{}, nil)
	if _, err := s.RunNow("missing"); err == nil {
		t.Fatal("expected error for unknown job")
	}
}

func TestRun_FiresDueJobOnceAndAdvancesNextRunAt(t *testing.T) {
	sub := &recordingSubmitter{}
	s := cron.New(sub, nil)
	// Every-minute expression guarantees a due job almost immediately in
	// real wall-clock time; the test checks it doesn't fire twice for the
	// same instant and that a fire moves NextRunAt past the run.
	if err := s.AddJob("tick", "* * * * *", "h", task.PriorityNormal); err != nil {
		t.Fatalf("AddJob: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	go s.Run(ctx)
	<-ctx.Done()

	// With a real one-minute-granularity cron expression, Run may or may
	// not have crossed a minute boundary during this short window, so at
	// most one fire is possible; if it fired, NextRunAt must be after it.
	if sub.count() > 1 {
		t.Errorf("expected at most one fire for a single due instant, got %d", sub.count())
	}
	for _, j := range s.Jobs() {
		if j.RunCount > 0 && !j.NextRunAt.After(j.LastRunAt) {
			t.Errorf("expected NextRunAt %v to advance past LastRunAt %v", j.NextRunAt, j.LastRunAt)
		}
	}
}

func TestJobs_PreservesRegistrationOrder(t *testing.T) {
	s := cron.New(&recordingSubmitter{}, nil)
	names := []string{"zebra", "apple", "mango", "banana", "cherry"}
	for _, name := range names {
		if err := s.AddJob(name, "* * * * *", "h", task.PriorityNormal); err != nil {
			t.Fatalf("AddJob(%q): %v", name, err)
		}
	}

	jobs := s.Jobs()
	if len(jobs) != len(names) {
		t.Fatalf("expected %d jobs, got %d", len(names), len(jobs))
	}
	for i, j := range jobs {
		if j.Name != names[i] {
			t.Errorf("job %d: expected %q, got %q", i, names[i], j.Name)
		}
	}
}

func TestRun_DispatchesSameInstantJobsInRegistrationOrder(t *testing.T) {
	sub := &recordingSubmitter{}
	s := cron.New(sub, nil)
	// All three share the same every-minute schedule, so whenever a minute
	// boundary is crossed during this test they become due at the same
	// next_run_at and §5 requires registration order among them.
	for _, name := range []string{"job-a", "job-b", "job-c"} {
		if err := s.AddJob(name, "* * * * *", name, task.PriorityNormal); err != nil {
			t.Fatalf("AddJob(%q): %v", name, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go s.Run(ctx)
	<-ctx.Done()

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if len(sub.subs) == 0 {
		return // minute boundary not crossed during this run; nothing to assert.
	}
	if len(sub.subs) != 3 {
		t.Fatalf("expected all 3 same-instant jobs to fire together, got %d", len(sub.subs))
	}
	want := []string{"job-a", "job-b", "job-c"}
	for i, tk := range sub.subs {
		if tk.Name != want[i] {
			t.Errorf("dispatch %d: expected %q, got %q", i, want[i], tk.Name)
		}
	}
}

func TestRunNow_PublishesCronFiredEvent(t *testing.T) {
	sub := &recordingSubmitter{}
	q := &stubQueue{}
	s := cron.New(sub, nil, cron.WithQueue(q))
	if err := s.AddJob("hourly-report", "0 * * * *", "report", task.PriorityNormal); err != nil {
		t.Fatalf("AddJob: %v", err)
	}

	if _, err := s.RunNow("hourly-report"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if q.count() != 1 {
		t.Errorf("expected 1 published event, got %d", q.count())
	}
}

func TestSetEnabled_DisabledJobNeverDue(t *testing.T) {
	sub := &recordingSubmitter{}
	s := cron.New(sub, nil)
	_ = s.AddJob("job", "* * * * *", "h", task.PriorityNormal)
	s.SetEnabled("job", false)

	jobs := s.Jobs()
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
	if jobs[0].Enabled {
		t.Error("expected job to be disabled")
	}
	if jobs[0].Due(jobs[0].NextRunAt) {
		t.Error("expected a disabled job not to be due even at its next_run_at")
	}
}

func jobNextRunAt(t *testing.T, s *cron.Scheduler, name string) time.Time {
	t.Helper()
	for _, j := range s.Jobs() {
		if j.Name == name {
			return j.NextRunAt
		}
	}
	t.Fatalf("job %q not found", name)
	return time.Time{}
}
