// Package cron implements CronScheduler (§4.9): a hand-written dispatch
// loop with coalesced-wakeup semantics, using robfig/cron/v3 only for
// expression parsing and next-fire-time math.
package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	robfigcron "github.com/robfig/cron/v3"

	"github.com/jafechang/atlas/internal/domain/cronjob"
	"github.com/jafechang/atlas/internal/domain/task"
	"github.com/jafechang/atlas/internal/port/messagequeue"
)

// parser accepts the standard 5-field dialect plus the five named
// descriptors (§4.9); "@every" is deliberately excluded — per the Open
// Questions resolution, Atlas only accepts the five-field syntax and the
// five aliases, not robfig's own "@every Nm" extension.
var parser = robfigcron.NewParser(
	robfigcron.Minute | robfigcron.Hour | robfigcron.Dom | robfigcron.Month | robfigcron.Dow | robfigcron.Descriptor,
)

// Submitter is the narrow TaskQueue dependency CronScheduler needs.
type Submitter interface {
	Submit(t *task.Task) error
}

// entry pairs a CronJob with its parsed schedule (schedules aren't
// serializable, so they're kept alongside the job rather than on it).
type entry struct {
	job      *cronjob.Job
	schedule robfigcron.Schedule
	priority task.Priority
}

// Scheduler dispatches CronJobs to a TaskQueue at their due times.
type Scheduler struct {
	mu       sync.Mutex
	entries  map[string]*entry
	order    []string // registration order, for §5's identical-next_run_at tiebreak
	location *time.Location
	submit   Submitter
	now      func() time.Time
	wake     chan struct{}

	queue messagequeue.Queue // optional; nil disables event fan-out
}

// Option configures a Scheduler at construction time.
type Option func(*Scheduler)

// WithQueue wires a message queue for publishing every dispatch on
// messagequeue.SubjectCronFired, mirroring status.Manager's WithQueue.
func WithQueue(q messagequeue.Queue) Option {
	return func(s *Scheduler) { s.queue = q }
}

// New builds a Scheduler. location defaults to UTC when nil (§4.9's
// default timezone).
func New(submit Submitter, location *time.Location, opts ...Option) *Scheduler {
	if location == nil {
		location = time.UTC
	}
	s := &Scheduler{
		entries:  make(map[string]*entry),
		location: location,
		submit:   submit,
		now:      time.Now,
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddJob parses expr and registers a new job. funcKey names the handler the
// submitted task will invoke (via TaskQueue's handler registry).
func (s *Scheduler) AddJob(name, expr, funcKey string, priority task.Priority) error {
	if strings.HasPrefix(strings.TrimSpace(expr), "@every") {
		return fmt.Errorf("cron: %q: @every is not a supported expression", expr)
	}
	schedule, err := parser.Parse(expr)
	if err != nil {
		return fmt.Errorf("cron: parse %q: %w", expr, err)
	}

	now := s.now().In(s.location)
	job := &cronjob.Job{
		Name:           name,
		CronExpression: expr,
		Enabled:        true,
		FuncKey:        funcKey,
		NextRunAt:      schedule.Next(now),
	}

	s.mu.Lock()
	if _, exists := s.entries[name]; !exists {
		s.order = append(s.order, name)
	}
	s.entries[name] = &entry{job: job, schedule: schedule, priority: priority}
	s.mu.Unlock()
	s.poke()
	return nil
}

// SetEnabled toggles a job without removing it.
func (s *Scheduler) SetEnabled(name string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[name]; ok {
		e.job.Enabled = enabled
	}
	s.poke()
}

// Jobs returns a snapshot copy of every registered job.
func (s *Scheduler) Jobs() []*cronjob.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*cronjob.Job, 0, len(s.entries))
	for _, name := range s.order {
		cp := *s.entries[name].job
		out = append(out, &cp)
	}
	return out
}

// RunNow synthesizes an immediate Task for name without altering its
// next_run_at (§4.9's "Manual run").
func (s *Scheduler) RunNow(name string) (string, error) {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("cron: unknown job %q", name)
	}
	return s.dispatch(e, false)
}

// Run starts the dispatch loop; it blocks until ctx is cancelled. The loop
// sleeps until the earliest next_run_at across all enabled jobs, then fires
// every job whose next_run_at has passed. If the process slept through
// several due instants, each job still fires at most once per wakeup —
// missed runs are not replayed (§4.9's coalesced-wakeup requirement).
func (s *Scheduler) Run(ctx context.Context) {
	for {
		d := s.nextWakeDelay()
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		case <-s.wake:
			timer.Stop()
		}
		s.fireDue()
	}
}

func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// nextWakeDelay returns the duration until the earliest enabled job's
// next_run_at, capped at 1 hour so newly added jobs and clock changes are
// noticed promptly even with no jobs registered yet.
func (s *Scheduler) nextWakeDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	const maxWait = time.Hour
	now := s.now()
	min := now.Add(maxWait)
	found := false
	for _, name := range s.order {
		e := s.entries[name]
		if !e.job.Enabled {
			continue
		}
		if e.job.NextRunAt.Before(min) {
			min = e.job.NextRunAt
			found = true
		}
	}
	if !found {
		return maxWait
	}
	d := min.Sub(now)
	if d < 0 {
		d = 0
	}
	return d
}

// fireDue collects every currently-due job and dispatches them in
// registration order, so two jobs sharing the same next_run_at fire in the
// order they were added to the Scheduler (§5).
func (s *Scheduler) fireDue() {
	s.mu.Lock()
	now := s.now().In(s.location)
	var due []*entry
	for _, name := range s.order {
		e := s.entries[name]
		if e.job.Due(now) {
			due = append(due, e)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		if _, err := s.dispatch(e, true); err != nil {
			slog.Error("cron: dispatch failed", "job", e.job.Name, "error", err)
		}
	}
}

// dispatch submits a Task for e's job and, when advance is set, advances
// next_run_at exactly once (never replaying missed runs); RunNow passes
// advance=false. run_count is incremented regardless of submission outcome —
// submission failure is recorded via FailureCount.
func (s *Scheduler) dispatch(e *entry, advance bool) (string, error) {
	t := &task.Task{
		ID:       uuid.NewString(),
		Name:     e.job.FuncKey,
		Priority: e.priority,
		Status:   task.StatusPending,
	}
	err := s.submit.Submit(t)

	s.mu.Lock()
	now := s.now().In(s.location)
	e.job.RecordRun(now, err == nil)
	if advance {
		e.job.NextRunAt = e.schedule.Next(now)
	}
	s.mu.Unlock()

	if err != nil {
		return "", fmt.Errorf("cron: submit job %q: %w", e.job.Name, err)
	}
	s.publish(e.job.Name, t.ID, now)
	return t.ID, nil
}

// publish emits a dispatch event on messagequeue.SubjectCronFired, mirroring
// status.Manager.publish.
func (s *Scheduler) publish(jobName, taskID string, scheduledAt time.Time) {
	if s.queue == nil {
		return
	}
	payload := messagequeue.CronFiredPayload{
		JobID:       jobName,
		JobName:     jobName,
		ScheduledAt: scheduledAt.UTC().Format(time.RFC3339),
		TaskID:      taskID,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("cron: marshal event payload", "error", err)
		return
	}
	if err := s.queue.Publish(context.Background(), messagequeue.SubjectCronFired, data); err != nil {
		slog.Warn("cron: publish event failed", "job", jobName, "task_id", taskID, "error", err)
	}
}
