package status_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jafechang/atlas/internal/domain/task"
	"github.com/jafechang/atlas/internal/port/messagequeue"
	"github.com/jafechang/atlas/internal/status"
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

func TestRecord_PersistsSnapshotOnTerminalTransition(t *testing.T) {
	dir := t.TempDir()
	m := status.New(dir)

	tk := &task.Task{ID: "t1", Name: "fetch", Status: task.StatusRunning, StartedAt: time.Now()}
	if err := m.Record(context.Background(), tk); err != nil {
		t.Fatalf("Record (running): %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "status_snapshot.json")); err == nil {
		t.Fatal("expected no snapshot written for a non-terminal transition")
	}

	tk.Status = task.StatusSuccess
	tk.CompletedAt = time.Now()
	if err := m.Record(context.Background(), tk); err != nil {
		t.Fatalf("Record (success): %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "status_snapshot.json")); err != nil {
		t.Fatalf("expected snapshot written for a terminal transition: %v", err)
	}
}

func TestRecord_PublishesToQueue(t *testing.T) {
	q := &stubQueue{}
	m := status.New(t.TempDir(), status.WithQueue(q))

	tk := &task.Task{ID: "t1", Name: "fetch", Status: task.StatusPending}
	if err := m.Record(context.Background(), tk); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if q.count() != 1 {
		t.Errorf("expected 1 published event, got %d", q.count())
	}
}

func TestResume_LoadsPriorSnapshot(t *testing.T) {
	dir := t.TempDir()
	m1 := status.New(dir)
	tk := &task.Task{ID: "t1", Name: "fetch", Status: task.StatusSuccess, CompletedAt: time.Now()}
	if err := m1.Record(context.Background(), tk); err != nil {
		t.Fatalf("Record: %v", err)
	}

	m2 := status.New(dir)
	if err := m2.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	got, ok := m2.Get("t1")
	if !ok {
		t.Fatal("expected resumed record for t1")
	}
	if got.Status != task.StatusSuccess {
		t.Errorf("expected status success, got %s", got.Status)
	}
}

func TestResume_TransitionsCrashedRunningTasksToFailed(t *testing.T) {
	dir := t.TempDir()
	snapshot := map[string]*task.Task{
		"t1": {ID: "t1", Name: "fetch", Status: task.StatusRunning, StartedAt: time.Now()},
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "status_snapshot.json"), data, 0o644); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}

	m := status.New(dir)
	if err := m.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	got, ok := m.Get("t1")
	if !ok {
		t.Fatal("expected record for t1")
	}
	if got.Status != task.StatusFailed {
		t.Errorf("expected failed, got %s", got.Status)
	}
	if got.ErrorMessage != "crashed" {
		t.Errorf("expected error message 'crashed', got %q", got.ErrorMessage)
	}
}

func TestResume_MissingSnapshotIsNotAnError(t *testing.T) {
	m := status.New(t.TempDir())
	if err := m.Resume(); err != nil {
		t.Fatalf("expected no error for missing snapshot, got %v", err)
	}
}

func TestMetrics_ComputesCountsAndSuccessRate(t *testing.T) {
	m := status.New(t.TempDir())
	ctx := context.Background()
	now := time.Now()

	_ = m.Record(ctx, &task.Task{ID: "a", Status: task.StatusSuccess, StartedAt: now, CompletedAt: now.Add(10 * time.Millisecond)})
	_ = m.Record(ctx, &task.Task{ID: "b", Status: task.StatusSuccess, StartedAt: now, CompletedAt: now.Add(20 * time.Millisecond)})
	_ = m.Record(ctx, &task.Task{ID: "c", Status: task.StatusFailed, StartedAt: now, CompletedAt: now.Add(30 * time.Millisecond)})
	_ = m.Record(ctx, &task.Task{ID: "d", Status: task.StatusPending})

	metrics := m.Metrics()
	if metrics.Total != 4 {
		t.Errorf("expected total 4, got %d", metrics.Total)
	}
	if metrics.CountByStatus[task.StatusSuccess] != 2 {
		t.Errorf("expected 2 successes, got %d", metrics.CountByStatus[task.StatusSuccess])
	}
	wantRate := 2.0 / 3.0
	if diff := metrics.SuccessRate - wantRate; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected success rate %.4f, got %.4f", wantRate, metrics.SuccessRate)
	}
	if metrics.P50Duration == 0 {
		t.Error("expected non-zero p50 duration")
	}
}

func TestRun_FlushesPeriodically(t *testing.T) {
	dir := t.TempDir()
	m := status.New(dir, status.WithFlushInterval(10*time.Millisecond))
	_ = m.Record(context.Background(), &task.Task{ID: "a", Status: task.StatusPending})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	m.Run(ctx)

	if _, err := os.Stat(filepath.Join(dir, "status_snapshot.json")); err != nil {
		t.Fatalf("expected periodic flush to write a snapshot: %v", err)
	}
}
