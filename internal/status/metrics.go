package status

import (
	"sort"
	"time"

	"github.com/jafechang/atlas/internal/domain/task"
)

// Metrics is the aggregate view over every tracked task, named in §4.7.
type Metrics struct {
	CountByStatus map[task.Status]int
	Total         int
	SuccessRate   float64 // successes / terminal tasks, 0 if none terminal
	P50Duration   time.Duration
	P95Duration   time.Duration
}

// Metrics computes the aggregate view over the current record set.
func (m *Manager) Metrics() Metrics {
	records := m.All()

	out := Metrics{CountByStatus: make(map[task.Status]int)}
	var durations []time.Duration
	var terminalCount, successCount int

	for _, t := range records {
		out.Total++
		out.CountByStatus[t.Status]++
		if !t.Status.Terminal() {
			continue
		}
		terminalCount++
		if t.Status == task.StatusSuccess {
			successCount++
		}
		if !t.StartedAt.IsZero() && !t.CompletedAt.IsZero() && t.CompletedAt.After(t.StartedAt) {
			durations = append(durations, t.CompletedAt.Sub(t.StartedAt))
		}
	}

	if terminalCount > 0 {
		out.SuccessRate = float64(successCount) / float64(terminalCount)
	}
	out.P50Duration = percentile(durations, 0.50)
	out.P95Duration = percentile(durations, 0.95)
	return out
}

// percentile returns the p-th percentile (0..1) of samples: the sorted
// sample at index int(p*(n-1)), with no interpolation between neighbours.
// Returns 0 for an empty input.
func percentile(samples []time.Duration, p float64) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	rank := int(p * float64(len(sorted)-1))
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
