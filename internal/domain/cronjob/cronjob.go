// Package cronjob defines the CronJob domain entity owned by CronScheduler.
package cronjob

import "time"

// Job is a named, scheduled unit of recurring work. NextRunAt must be in the
// future whenever Enabled is true and the job is not currently executing.
type Job struct {
	Name           string    `json:"name"`
	CronExpression string    `json:"cron_expression"`
	Enabled        bool      `json:"enabled"`
	FuncKey        string    `json:"func_key"` // names the registered handler to invoke
	LastRunAt      time.Time `json:"last_run_at,omitempty"`
	NextRunAt      time.Time `json:"next_run_at"`
	RunCount       int64     `json:"run_count"`
	SuccessCount   int64     `json:"success_count"`
	FailureCount   int64     `json:"failure_count"`
}

// Due reports whether the job should fire at instant now.
func (j *Job) Due(now time.Time) bool {
	return j.Enabled && !j.NextRunAt.After(now)
}

// RecordRun updates the run counters and LastRunAt after an execution.
func (j *Job) RecordRun(ranAt time.Time, ok bool) {
	j.LastRunAt = ranAt
	j.RunCount++
	if ok {
		j.SuccessCount++
	} else {
		j.FailureCount++
	}
}
