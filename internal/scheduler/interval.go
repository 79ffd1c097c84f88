package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// IntervalFunc adapts a name, a fixed period, and a plain function into a
// Job. Most control-plane jobs (device sync, agent ping) are exactly this
// shape: run a function on a constant cadence.
type IntervalFunc struct {
	name     string
	interval time.Duration
	fn       func(context.Context) error
}

// NewIntervalJob builds a Job that runs fn every interval.
func NewIntervalJob(name string, interval time.Duration, fn func(context.Context) error) *IntervalFunc {
	return &IntervalFunc{name: name, interval: interval, fn: fn}
}

func (j *IntervalFunc) Name() string { return j.name }

func (j *IntervalFunc) Execute(ctx context.Context) error { return j.fn(ctx) }

func (j *IntervalFunc) NextExecution(now time.Time) time.Time {
	return now.Add(j.interval)
}

// ValidateCronExpression checks that expr parses as a standard five-field
// cron expression. config.Validate calls this at startup to reject a
// malformed API_SCANNING_DEVICE_SCAN_CRON_EXPR override before it ever
// reaches the scheduler.
func ValidateCronExpression(expr string) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// CronJob adapts a five-field cron expression into a Job, for the optional
// per-job cadence override (spec.md §6.3) that replaces a fixed interval
// with a cron schedule for operators who want, e.g., scans only outside
// business hours.
type CronJob struct {
	name     string
	schedule cron.Schedule
	fn       func(context.Context) error
}

// NewCronJob builds a Job that runs fn on expr's cron schedule. The caller
// is expected to have already validated expr with ValidateCronExpression
// (config.Validate does this at startup), so a parse failure here is
// reported rather than silently falling back to any default cadence.
func NewCronJob(name, expr string, fn func(context.Context) error) (*CronJob, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return &CronJob{name: name, schedule: schedule, fn: fn}, nil
}

func (j *CronJob) Name() string { return j.name }

func (j *CronJob) Execute(ctx context.Context) error { return j.fn(ctx) }

func (j *CronJob) NextExecution(now time.Time) time.Time {
	return j.schedule.Next(now)
}
