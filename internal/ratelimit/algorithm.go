package ratelimit

import (
	"time"

	"golang.org/x/time/rate"
)

// grantAlgorithm is satisfied by each of the four strategies. tryAcquire
// attempts to admit one request at instant now, with mult applied
// multiplicatively to the policy's configured rate (the adaptive wrapper's
// effective-rate scaling). It returns whether the request was admitted and,
// if not, a best-effort hint for how long the caller should wait before
// retrying.
type grantAlgorithm interface {
	tryAcquire(now time.Time, mult float64) (ok bool, retryAfter time.Duration)
}

func newAlgorithm(p Policy) grantAlgorithm {
	switch p.Algorithm {
	case FixedWindow:
		return &fixedWindowAlgorithm{rate: p.Rate, window: p.Window}
	case SlidingWindow:
		return &slidingWindowAlgorithm{rate: p.Rate, window: p.Window}
	case LeakyBucket:
		return &leakyBucketAlgorithm{rate: p.Rate, depth: float64(p.Burst)}
	case TokenBucket:
		fallthrough
	default:
		return &tokenBucketAlgorithm{
			limiter: rate.NewLimiter(rate.Limit(p.Rate), p.Burst),
			base:    rate.Limit(p.Rate),
		}
	}
}

// fixedWindowAlgorithm resets its counter every window and denies once the
// counter reaches rate*window.
type fixedWindowAlgorithm struct {
	rate        float64
	window      time.Duration
	windowStart time.Time
	count       int
}

func (f *fixedWindowAlgorithm) tryAcquire(now time.Time, mult float64) (bool, time.Duration) {
	if f.windowStart.IsZero() || now.Sub(f.windowStart) >= f.window {
		f.windowStart = now
		f.count = 0
	}
	limit := f.rate * mult * f.window.Seconds()
	if float64(f.count) >= limit {
		return false, f.windowStart.Add(f.window).Sub(now)
	}
	f.count++
	return true, 0
}

// slidingWindowAlgorithm keeps timestamps of the last admitted requests and
// grants when the oldest one falls outside now-window.
type slidingWindowAlgorithm struct {
	rate       float64
	window     time.Duration
	timestamps []time.Time
}

func (s *slidingWindowAlgorithm) tryAcquire(now time.Time, mult float64) (bool, time.Duration) {
	cutoff := now.Add(-s.window)
	kept := s.timestamps[:0]
	for _, ts := range s.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	s.timestamps = kept

	limit := int(s.rate * mult * s.window.Seconds())
	if limit < 1 {
		limit = 1
	}
	if len(s.timestamps) >= limit {
		oldest := s.timestamps[0]
		return false, oldest.Add(s.window).Sub(now)
	}
	s.timestamps = append(s.timestamps, now)
	return true, 0
}

// tokenBucketAlgorithm wraps golang.org/x/time/rate.Limiter, re-applying the
// adaptive multiplier to its limit before every check.
type tokenBucketAlgorithm struct {
	limiter *rate.Limiter
	base    rate.Limit
}

func (t *tokenBucketAlgorithm) tryAcquire(now time.Time, mult float64) (bool, time.Duration) {
	t.limiter.SetLimitAt(now, rate.Limit(float64(t.base)*mult))
	res := t.limiter.ReserveN(now, 1)
	if !res.OK() {
		return false, 0
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// leakyBucketAlgorithm models a virtual queue of depth B draining at rate R;
// a grant is admitted only while the queue has room for one more request
// (level+1 <= depth).
type leakyBucketAlgorithm struct {
	rate      float64
	depth     float64
	level     float64
	lastDrain time.Time
}

func (l *leakyBucketAlgorithm) tryAcquire(now time.Time, mult float64) (bool, time.Duration) {
	if !l.lastDrain.IsZero() {
		elapsed := now.Sub(l.lastDrain).Seconds()
		l.level -= elapsed * l.rate * mult
		if l.level < 0 {
			l.level = 0
		}
	}
	l.lastDrain = now

	if l.level+1 > l.depth {
		drainRate := l.rate * mult
		if drainRate <= 0 {
			return false, time.Second
		}
		return false, time.Duration((l.level-l.depth+1)/drainRate*float64(time.Second)) + time.Millisecond
	}
	l.level++
	return true, 0
}
