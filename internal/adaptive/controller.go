// Package adaptive implements AdaptiveController (§4.12): a sampling loop
// that watches host and LLMQueue health and adjusts LLMQueue's live
// concurrency, generalizing the teacher's internal/resilience.Breaker
// (consecutive-failure counting with a timed reopen) from a single binary
// breaker guarding one call into a five-state health controller over a
// whole queue.
package adaptive

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jafechang/atlas/internal/domain"
	"github.com/jafechang/atlas/internal/llm"
	"github.com/jafechang/atlas/internal/port/messagequeue"
)

// State names one of the five controller states from the §4.12 table.
type State int

const (
	StateNormal State = iota
	StateScaledUp
	StateScaledDown
	StateCircuitOpen
	StateEmergencyStop
)

func (s State) String() string {
	switch s {
	case StateNormal:
		return "NORMAL"
	case StateScaledUp:
		return "SCALED_UP"
	case StateScaledDown:
		return "SCALED_DOWN"
	case StateCircuitOpen:
		return "CIRCUIT_OPEN"
	case StateEmergencyStop:
		return "EMERGENCY_STOP"
	default:
		return "UNKNOWN"
	}
}

// Resizer is the live-concurrency control surface AdaptiveController drives.
// LLMQueue satisfies it.
type Resizer interface {
	Resize(n int)
}

// InFlightCanceller is implemented by queues that can abandon already-
// dispatched work. LLMQueue satisfies it; EMERGENCY_STOP uses it.
type InFlightCanceller interface {
	CancelInFlight()
}

// Depther reports pending queue depth. LLMQueue satisfies it.
type Depther interface {
	Len() int
}

// Config holds the §4.12 thresholds. Field names follow the spec's own
// vocabulary (high_watermark, max_workers, ...) rather than renaming them.
type Config struct {
	SampleInterval time.Duration

	StartConcurrency int
	MaxWorkers       int

	HighWatermark int
	HighLatency   time.Duration

	CPUScaleUpMax     float64 // fraction, e.g. 0.70
	ErrRateScaleUpMax float64 // fraction, e.g. 0.05

	CPUScaleDownMin float64 // fraction, e.g. 0.85
	MemScaleDownMin float64 // fraction, e.g. 0.90

	CircuitThreshold float64 // fraction, e.g. 0.50
	OpenWindow       time.Duration
	Cooldown         time.Duration

	MemEmergencyMin float64 // fraction, e.g. 0.97

	// HysteresisSamples is k: scale decisions require this many consecutive
	// qualifying samples before acting.
	HysteresisSamples int

	// LatencyWindow bounds the in-memory sample window used for p95/error
	// rate; samples older than this are pruned.
	LatencyWindow time.Duration
}

// DefaultConfig returns the §4.12 defaults.
func DefaultConfig() Config {
	return Config{
		SampleInterval:    2 * time.Second,
		StartConcurrency:  2,
		MaxWorkers:        8,
		HighWatermark:     20,
		HighLatency:       5 * time.Second,
		CPUScaleUpMax:     0.70,
		ErrRateScaleUpMax: 0.05,
		CPUScaleDownMin:   0.85,
		MemScaleDownMin:   0.90,
		CircuitThreshold:  0.50,
		OpenWindow:        10 * time.Second,
		Cooldown:          30 * time.Second,
		MemEmergencyMin:   0.97,
		HysteresisSamples: 3,
		LatencyWindow:     time.Minute,
	}
}

// Controller is the AdaptiveController port implementation.
type Controller struct {
	cfg       Config
	resizer   Resizer
	depther   Depther
	canceller InFlightCanceller
	window    *slidingWindow
	host      *hostSampler
	now       func() time.Time

	mu              sync.Mutex
	state           State
	concurrency     int
	scaleUpStreak   int
	scaleDownStreak int

	circuitConditionSince time.Time
	circuitOpenedAt       time.Time
	halfOpen              bool

	manualEmergency bool

	queue messagequeue.Queue // optional; nil disables event fan-out
}

// Option configures a Controller at construction time.
type Option func(*Controller)

// WithQueue wires a message queue for publishing every state transition on
// messagequeue.SubjectLLMCircuit, mirroring status.Manager's WithQueue.
func WithQueue(q messagequeue.Queue) Option {
	return func(c *Controller) { c.queue = q }
}

// New builds a Controller driving resizer's concurrency and reading depth
// from depther. canceller may be nil (EMERGENCY_STOP then only zeroes
// concurrency instead of also cancelling in-flight work).
func New(cfg Config, resizer Resizer, depther Depther, canceller InFlightCanceller, opts ...Option) *Controller {
	if cfg.HysteresisSamples < 1 {
		cfg.HysteresisSamples = 1
	}
	if cfg.StartConcurrency < 1 {
		cfg.StartConcurrency = 1
	}
	c := &Controller{
		cfg:         cfg,
		resizer:     resizer,
		depther:     depther,
		canceller:   canceller,
		window:      newSlidingWindow(cfg.LatencyWindow),
		host:        newHostSampler(),
		now:         time.Now,
		state:       StateNormal,
		concurrency: cfg.StartConcurrency,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Recorder returns the llm.Recorder this Controller samples latency and
// errors from. Wire it with (*llm.Client).SetRecorder.
func (c *Controller) Recorder() llm.Recorder {
	return c.window
}

// State reports the controller's current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Concurrency reports the concurrency level last pushed to the resizer.
func (c *Controller) Concurrency() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.concurrency
}

// CheckSubmit reports whether LLMQueue should currently accept new
// submissions. Only a fully open circuit rejects; EMERGENCY_STOP instead
// lets tasks queue up and age out at their deadlines, per §5's backpressure
// note.
func (c *Controller) CheckSubmit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateCircuitOpen && !c.halfOpen {
		return domain.ErrCircuitOpen
	}
	return nil
}

// TriggerEmergencyStop forces EMERGENCY_STOP until ResumeFromEmergencyStop
// is called, per §4.12's "manual" entry condition.
func (c *Controller) TriggerEmergencyStop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.manualEmergency = true
	c.enterEmergencyStopLocked()
}

// ResumeFromEmergencyStop clears a manual stop. If host memory is still
// above MemEmergencyMin the next sample re-enters EMERGENCY_STOP.
func (c *Controller) ResumeFromEmergencyStop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.manualEmergency = false
}

// Run samples at cfg.SampleInterval until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.SampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sampleAndTransition(ctx)
		}
	}
}

// sampleAndTransition samples host/queue health, runs the state machine,
// and — if the state actually changed — publishes the transition on
// messagequeue.SubjectLLMCircuit (§5's messaging wiring for AdaptiveController).
func (c *Controller) sampleAndTransition(ctx context.Context) {
	before := c.State()
	after, reason := c.transitionLocked()
	if after != before {
		c.publish(ctx, before, after, reason)
	}
}

// transitionLocked runs one sampling cycle's state machine under c.mu and
// returns the resulting state plus a short machine-readable reason for it.
func (c *Controller) transitionLocked() (State, string) {
	depth := 0
	if c.depther != nil {
		depth = c.depther.Len()
	}
	cpu := c.host.cpuFraction()
	mem := memFraction()
	p95, errRate := c.window.stats()

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()

	if c.manualEmergency || mem > c.cfg.MemEmergencyMin {
		c.enterEmergencyStopLocked()
		if c.manualEmergency {
			return c.state, "manual_stop"
		}
		return c.state, "memory_emergency"
	}
	if c.state == StateEmergencyStop {
		// Host-triggered stop clears once memory pressure recedes; a manual
		// stop only clears via ResumeFromEmergencyStop (checked above).
		c.state = StateNormal
		c.scaleUpStreak, c.scaleDownStreak = 0, 0
	}

	if c.state == StateCircuitOpen {
		reason := c.stepCircuitOpenLocked(now, errRate)
		return c.state, reason
	}

	circuitCond := errRate >= c.cfg.CircuitThreshold
	if circuitCond {
		if c.circuitConditionSince.IsZero() {
			c.circuitConditionSince = now
		}
		if now.Sub(c.circuitConditionSince) >= c.cfg.OpenWindow {
			c.openCircuitLocked(now)
			return c.state, "error_rate_threshold"
		}
	} else {
		c.circuitConditionSince = time.Time{}
	}

	scaleDownCond := cpu > c.cfg.CPUScaleDownMin || mem > c.cfg.MemScaleDownMin ||
		(c.cfg.HighLatency > 0 && p95 > c.cfg.HighLatency)
	scaleUpCond := depth > c.cfg.HighWatermark && errRate < c.cfg.ErrRateScaleUpMax && cpu < c.cfg.CPUScaleUpMax

	switch {
	case scaleDownCond:
		c.scaleDownStreak++
		c.scaleUpStreak = 0
	case scaleUpCond:
		c.scaleUpStreak++
		c.scaleDownStreak = 0
	default:
		c.scaleUpStreak = 0
		c.scaleDownStreak = 0
	}

	k := c.cfg.HysteresisSamples
	reason := "stabilized"
	switch {
	case c.scaleDownStreak >= k:
		if c.concurrency > 1 {
			c.concurrency--
			c.resizer.Resize(c.concurrency)
		}
		c.state = StateScaledDown
		c.scaleDownStreak = 0
		reason = "host_or_latency_pressure"
	case c.scaleUpStreak >= k:
		if c.concurrency < c.cfg.MaxWorkers {
			c.concurrency++
			c.resizer.Resize(c.concurrency)
		}
		c.state = StateScaledUp
		c.scaleUpStreak = 0
		reason = "queue_depth_high"
	default:
		c.state = StateNormal
	}
	return c.state, reason
}

// stepCircuitOpenLocked must be called with c.mu held and c.state ==
// StateCircuitOpen. It returns a reason describing whatever transition (if
// any) it made.
func (c *Controller) stepCircuitOpenLocked(now time.Time, errRate float64) string {
	if c.halfOpen {
		if errRate >= c.cfg.CircuitThreshold {
			// Trial call(s) still failing — reopen fully and restart cooldown.
			c.halfOpen = false
			c.circuitOpenedAt = now
			c.concurrency = 0
			c.resizer.Resize(0)
			return "half_open_trial_failed"
		}
		c.state = StateNormal
		c.halfOpen = false
		c.scaleUpStreak, c.scaleDownStreak = 0, 0
		return "half_open_trial_succeeded"
	}
	if now.Sub(c.circuitOpenedAt) >= c.cfg.Cooldown {
		c.halfOpen = true
		c.concurrency = 1
		c.resizer.Resize(1)
		return "cooldown_elapsed_half_open"
	}
	return "circuit_open"
}

// openCircuitLocked must be called with c.mu held.
func (c *Controller) openCircuitLocked(now time.Time) {
	c.state = StateCircuitOpen
	c.halfOpen = false
	c.circuitOpenedAt = now
	c.circuitConditionSince = time.Time{}
	c.concurrency = 0
	c.resizer.Resize(0)
}

// enterEmergencyStopLocked must be called with c.mu held.
func (c *Controller) enterEmergencyStopLocked() {
	c.state = StateEmergencyStop
	c.concurrency = 0
	c.resizer.Resize(0)
	if c.canceller != nil {
		c.canceller.CancelInFlight()
	}
}

// publish emits a state transition on messagequeue.SubjectLLMCircuit,
// mirroring status.Manager.publish.
func (c *Controller) publish(ctx context.Context, from, to State, reason string) {
	if c.queue == nil {
		return
	}
	payload := messagequeue.LLMCircuitPayload{
		Source:     "adaptive_controller",
		FromState:  from.String(),
		ToState:    to.String(),
		Reason:     reason,
		OccurredAt: c.now().UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("adaptive: marshal event payload", "error", err)
		return
	}
	if err := c.queue.Publish(ctx, messagequeue.SubjectLLMCircuit, data); err != nil {
		slog.Warn("adaptive: publish event failed", "from", from, "to", to, "error", err)
	}
}
