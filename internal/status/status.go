// Package status tracks every Task's lifecycle in memory and durably
// persists it to a JSON snapshot, so a restart resumes from the last known
// state instead of losing history (§4.7).
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jafechang/atlas/internal/domain/task"
	"github.com/jafechang/atlas/internal/port/messagequeue"
)

// crashedReason is recorded on tasks found "running" at snapshot-load time —
// a process that died mid-task cannot have completed it (§4.7).
const crashedReason = "crashed"

// Manager keeps an in-memory task_id -> Task map, durably snapshotted.
type Manager struct {
	mu          sync.RWMutex
	records     map[string]*task.Task
	snapshotDir string

	flushInterval time.Duration
	queue         messagequeue.Queue // optional; nil disables event fan-out
	now           func() time.Time
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithQueue wires a message queue for publishing every task transition on
// messagequeue.SubjectTaskStatus, so the out-of-scope dashboard can
// subscribe instead of polling the snapshot file.
func WithQueue(q messagequeue.Queue) Option {
	return func(m *Manager) { m.queue = q }
}

// WithFlushInterval overrides the periodic full-snapshot interval (default
// 5s per §4.7).
func WithFlushInterval(d time.Duration) Option {
	return func(m *Manager) { m.flushInterval = d }
}

// New builds a Manager whose snapshots live under snapshotDir. It does not
// load any prior snapshot; call Resume for that.
func New(snapshotDir string, opts ...Option) *Manager {
	m := &Manager{
		records:       make(map[string]*task.Task),
		snapshotDir:   snapshotDir,
		flushInterval: 5 * time.Second,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) snapshotPath() string {
	return filepath.Join(m.snapshotDir, "status_snapshot.json")
}

// Resume loads the last snapshot, if any, and transitions any task left in
// "running" to "failed" with reason "crashed" (§4.7). A missing snapshot
// file is not an error — it means this is a first run.
func (m *Manager) Resume() error {
	data, err := os.ReadFile(m.snapshotPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("status: read snapshot: %w", err)
	}

	var records map[string]*task.Task
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("status: decode snapshot: %w", err)
	}

	now := m.now()
	for _, t := range records {
		if t.Status == task.StatusRunning {
			t.Status = task.StatusFailed
			t.ErrorMessage = crashedReason
			t.CompletedAt = now
			slog.Warn("status: task was running at crash, marked failed", "task_id", t.ID)
		}
	}

	m.mu.Lock()
	m.records = records
	m.mu.Unlock()
	return nil
}

// Record upserts a task's current state and publishes a status event on
// every call; on a terminal transition it also writes a full snapshot.
func (m *Manager) Record(ctx context.Context, t *task.Task) error {
	cp := *t
	m.mu.Lock()
	m.records[t.ID] = &cp
	m.mu.Unlock()

	m.publish(ctx, &cp)

	if t.Status.Terminal() {
		return m.writeSnapshot()
	}
	return nil
}

// Get returns a copy of the current record for id, if any.
func (m *Manager) Get(id string) (*task.Task, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.records[id]
	if !ok {
		return nil, false
	}
	cp := *t
	return &cp, true
}

// All returns a snapshot copy of every tracked record.
func (m *Manager) All() []*task.Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*task.Task, 0, len(m.records))
	for _, t := range m.records {
		cp := *t
		out = append(out, &cp)
	}
	return out
}

// Run starts the periodic full-snapshot flush loop; it blocks until ctx is
// cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.writeSnapshot(); err != nil {
				slog.Error("status: periodic snapshot failed", "error", err)
			}
		}
	}
}

// writeSnapshot persists the current record set via write-to-temp +
// os.Rename, atomic on POSIX filesystems (§5's shared-resource policy).
func (m *Manager) writeSnapshot() error {
	m.mu.RLock()
	data, err := json.Marshal(m.records)
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("status: encode snapshot: %w", err)
	}

	if err := os.MkdirAll(m.snapshotDir, 0o755); err != nil {
		return fmt.Errorf("status: mkdir snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(m.snapshotDir, "status_snapshot_*.json.tmp")
	if err != nil {
		return fmt.Errorf("status: create temp snapshot: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("status: write temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("status: close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, m.snapshotPath()); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("status: rename temp snapshot: %w", err)
	}
	return nil
}

func (m *Manager) publish(ctx context.Context, t *task.Task) {
	if m.queue == nil {
		return
	}
	payload := messagequeue.TaskStatusPayload{
		TaskID:    t.ID,
		Name:      t.Name,
		Status:    string(t.Status),
		Attempt:   t.Attempts,
		Error:     t.ErrorMessage,
		UpdatedAt: m.now().UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("status: marshal event payload", "error", err)
		return
	}
	if err := m.queue.Publish(ctx, messagequeue.SubjectTaskStatus, data); err != nil {
		slog.Warn("status: publish event failed", "task_id", t.ID, "error", err)
	}
}
