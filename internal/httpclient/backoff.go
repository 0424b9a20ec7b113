package httpclient

import (
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

// backoffDelay computes the exponential backoff with jitter named by §4.2:
// delay = base * 2^(attempt-1) * jitter, jitter in [0.5, 1.5]. attempt is
// 1-indexed (the delay before the 2nd attempt uses attempt=1).
func backoffDelay(base time.Duration, attempt int) time.Duration {
	jitter := 0.5 + rand.Float64() //nolint:gosec // G404: jitter, not security-sensitive
	mult := math.Pow(2, float64(attempt-1))
	return time.Duration(float64(base) * mult * jitter)
}

// retryAfterDelay parses a Retry-After header (seconds or HTTP-date), which
// overrides the computed backoff per §4.2.
func retryAfterDelay(h http.Header) (time.Duration, bool) {
	v := h.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

// shouldRetryStatus reports whether a completed response's status code is
// retryable per §4.2: 5xx and 429, but no other 4xx.
func shouldRetryStatus(code int) bool {
	if code == http.StatusTooManyRequests {
		return true
	}
	return code >= 500
}
