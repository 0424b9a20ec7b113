package adaptive_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jafechang/atlas/internal/adaptive"
	"github.com/jafechang/atlas/internal/domain"
	"github.com/jafechang/atlas/internal/port/messagequeue"
)

type fakeResizer struct {
	mu      sync.Mutex
	history []int
}

func (r *fakeResizer) Resize(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, n)
}

func (r *fakeResizer) last() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.history) == 0 {
		return -1
	}
	return r.history[len(r.history)-1]
}

type fakeDepther struct {
	mu    sync.Mutex
	depth int
}

func (d *fakeDepther) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.depth
}

func (d *fakeDepther) set(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.depth = n
}

type fakeCanceller struct {
	mu        sync.Mutex
	cancelled int
}

func (c *fakeCanceller) CancelInFlight() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled++
}

func (c *fakeCanceller) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

func newTestController(cfg adaptive.Config) (*adaptive.Controller, *fakeResizer, *fakeDepther, *fakeCanceller) {
	r := &fakeResizer{}
	d := &fakeDepther{}
	c := &fakeCanceller{}
	return adaptive.New(cfg, r, d, c), r, d, c
}

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

// waitForState polls ctrl.State() until it matches want or the timeout
// elapses (the controller's state only changes from inside its own Run
// loop, so tests observe it rather than driving it directly).
func waitForState(t *testing.T, ctrl *adaptive.Controller, want adaptive.State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if ctrl.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %v, last observed %v", want, ctrl.State())
}

func TestScaleUp_RequiresHysteresisSamples(t *testing.T) {
	cfg := adaptive.DefaultConfig()
	cfg.SampleInterval = 5 * time.Millisecond
	cfg.HysteresisSamples = 3
	cfg.HighWatermark = 5
	cfg.StartConcurrency = 2
	cfg.MaxWorkers = 10
	ctrl, resizer, depther, _ := newTestController(cfg)
	depther.set(10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ctrl.Run(ctx)

	waitForState(t, ctrl, adaptive.StateScaledUp, time.Second)
	if resizer.last() <= cfg.StartConcurrency {
		t.Errorf("expected concurrency to have increased past %d, last resize was %d", cfg.StartConcurrency, resizer.last())
	}
}

func TestScaleUp_PublishesStateTransition(t *testing.T) {
	cfg := adaptive.DefaultConfig()
	cfg.SampleInterval = 5 * time.Millisecond
	cfg.HysteresisSamples = 3
	cfg.HighWatermark = 5
	cfg.StartConcurrency = 2
	cfg.MaxWorkers = 10

	r := &fakeResizer{}
	d := &fakeDepther{}
	q := &stubQueue{}
	ctrl := adaptive.New(cfg, r, d, nil, adaptive.WithQueue(q))
	d.set(10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ctrl.Run(ctx)

	waitForState(t, ctrl, adaptive.StateScaledUp, time.Second)

	deadline := time.Now().Add(time.Second)
	for q.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if q.count() == 0 {
		t.Fatal("expected a published event for the NORMAL -> SCALED_UP transition")
	}
}

func TestCheckSubmit_AllowsByDefault(t *testing.T) {
	cfg := adaptive.DefaultConfig()
	cfg.SampleInterval = time.Hour
	ctrl, _, _, _ := newTestController(cfg)

	if err := ctrl.CheckSubmit(); err != nil {
		t.Fatalf("expected no rejection before any samples, got %v", err)
	}
}

func TestEmergencyStop_ZeroesConcurrencyAndCancelsInFlight(t *testing.T) {
	cfg := adaptive.DefaultConfig()
	cfg.SampleInterval = time.Hour
	ctrl, resizer, _, canceller := newTestController(cfg)

	ctrl.TriggerEmergencyStop()

	if ctrl.State() != adaptive.StateEmergencyStop {
		t.Fatalf("expected EMERGENCY_STOP, got %v", ctrl.State())
	}
	if resizer.last() != 0 {
		t.Errorf("expected concurrency resized to 0, got %d", resizer.last())
	}
	if canceller.count() != 1 {
		t.Errorf("expected in-flight work cancelled once, got %d", canceller.count())
	}
}

func TestResumeFromEmergencyStop_ClearsManualFlag(t *testing.T) {
	cfg := adaptive.DefaultConfig()
	cfg.SampleInterval = time.Hour
	ctrl, _, _, _ := newTestController(cfg)

	ctrl.TriggerEmergencyStop()
	ctrl.ResumeFromEmergencyStop()

	if err := ctrl.CheckSubmit(); err != nil {
		t.Errorf("expected resumed controller to accept submissions, got %v", err)
	}
}

func TestRecorder_SustainedErrorsOpenCircuit(t *testing.T) {
	cfg := adaptive.DefaultConfig()
	cfg.CircuitThreshold = 0.5
	cfg.OpenWindow = 10 * time.Millisecond
	cfg.SampleInterval = 5 * time.Millisecond
	cfg.LatencyWindow = time.Minute
	ctrl, resizer, _, _ := newTestController(cfg)

	rec := ctrl.Recorder()
	for i := 0; i < 10; i++ {
		rec.Record(10*time.Millisecond, errors.New("connection refused"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ctrl.Run(ctx)

	waitForState(t, ctrl, adaptive.StateCircuitOpen, time.Second)
	if resizer.last() != 0 {
		t.Errorf("expected concurrency zeroed on circuit open, got %d", resizer.last())
	}
	if err := ctrl.CheckSubmit(); !errors.Is(err, domain.ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen while circuit is fully open, got %v", err)
	}
}

func TestRecorder_CircuitHalfOpensAfterCooldownThenCloses(t *testing.T) {
	cfg := adaptive.DefaultConfig()
	cfg.CircuitThreshold = 0.5
	cfg.OpenWindow = 10 * time.Millisecond
	cfg.Cooldown = 20 * time.Millisecond
	cfg.SampleInterval = 5 * time.Millisecond
	cfg.LatencyWindow = 20 * time.Millisecond
	ctrl, resizer, _, _ := newTestController(cfg)

	rec := ctrl.Recorder()
	for i := 0; i < 10; i++ {
		rec.Record(time.Millisecond, errors.New("connection refused"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ctrl.Run(ctx)

	waitForState(t, ctrl, adaptive.StateCircuitOpen, time.Second)

	// Let the failing samples age out of the short latency window so the
	// half-open trial sees a clean error rate, then wait for recovery.
	time.Sleep(60 * time.Millisecond)
	waitForState(t, ctrl, adaptive.StateNormal, time.Second)
	if resizer.last() < 1 {
		t.Errorf("expected concurrency restored to at least 1 after circuit closes, got %d", resizer.last())
	}
}
