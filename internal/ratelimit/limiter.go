package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/jafechang/atlas/internal/domain"
)

// Limiter grants or denies admission to fetch a URL belonging to a given
// domain, per that domain's configured Policy. Each domain has an
// independent lock for its bucket state; different domains share only the
// brief bucket-map lookup under the Limiter's own mutex.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*domainBucket
	def     Policy
}

// New creates a Limiter using def for any domain without an explicit
// SetPolicy call.
func New(def Policy) *Limiter {
	return &Limiter{
		buckets: make(map[string]*domainBucket),
		def:     def,
	}
}

func (l *Limiter) bucket(d string) *domainBucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[d]
	if !ok {
		b = newDomainBucket(l.def)
		l.buckets[d] = b
	}
	return b
}

// SetPolicy replaces the per-domain config, resetting its adaptive state.
func (l *Limiter) SetPolicy(domainName string, p Policy) {
	l.bucket(domainName).setPolicy(p)
}

// minPoll/maxPoll bound the re-check interval used while a blocking Acquire
// waits for capacity to free up. The algorithm's own retryAfter hint is
// clamped into this range: frequent enough to feel responsive, coarse
// enough not to spin-lock a bucket under heavy contention.
const (
	minPoll = 5 * time.Millisecond
	maxPoll = 250 * time.Millisecond
)

// Acquire returns true when a fetch slot is available for domainName. In
// non-blocking mode it returns immediately and never fails. In blocking mode
// it suspends the caller until a slot opens, timeout elapses, or ctx is
// cancelled — returning domain.ErrTimeout or domain.ErrCancelled respectively.
func (l *Limiter) Acquire(ctx context.Context, domainName string, blocking bool, timeout time.Duration) (bool, error) {
	b := l.bucket(domainName)

	ok, retryAfter := b.tryAcquire(time.Now())
	if ok {
		return true, nil
	}
	if !blocking {
		return false, nil
	}

	var deadlineCh <-chan time.Time
	if timeout > 0 {
		deadlineTimer := time.NewTimer(timeout)
		defer deadlineTimer.Stop()
		deadlineCh = deadlineTimer.C
	}

	for {
		wait := retryAfter
		if wait < minPoll {
			wait = minPoll
		}
		if wait > maxPoll {
			wait = maxPoll
		}
		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			return false, domain.ErrCancelled
		case <-deadlineCh:
			timer.Stop()
			return false, domain.ErrTimeout
		case <-timer.C:
		}

		ok, retryAfter = b.tryAcquire(time.Now())
		if ok {
			return true, nil
		}
	}
}

// RecordOutcome updates the adaptive state for domainName. Best-effort: it
// never fails.
func (l *Limiter) RecordOutcome(domainName string, success bool, _ time.Duration) {
	b := l.bucket(domainName)
	b.recordOutcome(success, b.policy.AdaptiveAlpha, b.policy.AdaptiveConsecutive)
}

// Len reports the number of tracked domain buckets, for metrics and tests.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
