// Package scheduler runs a fixed set of periodic jobs (the device scan and
// the per-agent liveness ping, spec.md §6.2) on a single loop that always
// sleeps exactly until the next job is due, rather than polling on one
// fixed tick. Generalized from the teacher's single-purpose scan scheduler,
// which ran one job on one fixed interval with no notion of "next due job"
// across a set.
package scheduler

import (
	"context"
	"time"

	"github.com/helios-home/control-plane/internal/clock"
	"github.com/helios-home/control-plane/internal/logging"
	"github.com/helios-home/control-plane/internal/metrics"
)

// Job is one periodic unit of work. NextExecution reports when it should
// next run given that it last ran at (or would have first run at) last;
// Scheduler calls it again immediately after each Execute to schedule the
// following run, so a Job can vary its own cadence (e.g. back off after a
// failure) without the scheduler knowing anything about why.
type Job interface {
	// Name identifies the job in logs and metrics.
	Name() string
	// Execute runs one cycle of the job. Errors are logged by the scheduler
	// and never stop the loop; a failing job just tries again at its next
	// scheduled time.
	Execute(ctx context.Context) error
	// NextExecution returns the time this job should next run, given that
	// "now" (as seen by the scheduler's clock) is the instant being asked.
	NextExecution(now time.Time) time.Time
}

// scheduledJob tracks the next due time for one registered Job so the
// scheduler doesn't have to re-ask every job on every wakeup.
type scheduledJob struct {
	job  Job
	next time.Time
}

// Scheduler runs every registered Job, always waking at the earliest next
// due time across the set and running exactly the jobs that are due,
// serially, in registration order. Jobs never run concurrently with each
// other; a long-running job delays the next wakeup, which is the same
// trade-off the teacher's single-job scheduler makes.
type Scheduler struct {
	jobs  []*scheduledJob
	clock clock.Clock
	log   *logging.Logger
}

// New constructs a Scheduler over jobs. Each job's first run is scheduled
// immediately (NextExecution's offset from "now" is honored for every run
// after that), matching the teacher's "run an initial scan immediately"
// behavior.
func New(clk clock.Clock, log *logging.Logger, jobs ...Job) *Scheduler {
	now := clk.Now()
	scheduled := make([]*scheduledJob, 0, len(jobs))
	for _, j := range jobs {
		scheduled = append(scheduled, &scheduledJob{job: j, next: now})
	}
	return &Scheduler{jobs: scheduled, clock: clk, log: log}
}

// Run drives the scheduling loop until ctx is cancelled. It never returns
// an error: a job failure is logged and the loop continues, since one
// misbehaving job (e.g. SyncDevices hitting a flaky router API) should
// never stop the others (e.g. AgentPing) from running.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.jobs) == 0 {
		<-ctx.Done()
		return nil
	}

	for {
		wait := s.earliestWait()
		select {
		case <-s.clock.After(wait):
			s.runDue(ctx)
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return nil
		}
	}
}

// earliestWait returns how long until the soonest job is due, clamped to
// zero so an already-due job doesn't wait for a full clock tick.
func (s *Scheduler) earliestWait() time.Duration {
	now := s.clock.Now()
	earliest := s.jobs[0].next
	for _, sj := range s.jobs[1:] {
		if sj.next.Before(earliest) {
			earliest = sj.next
		}
	}
	wait := earliest.Sub(now)
	if wait < 0 {
		wait = 0
	}
	return wait
}

// runDue executes every job whose next due time has arrived and reschedules
// each one immediately after it runs.
func (s *Scheduler) runDue(ctx context.Context) {
	now := s.clock.Now()
	for _, sj := range s.jobs {
		if sj.next.After(now) {
			continue
		}
		s.log.Info("running job", "job", sj.job.Name())
		start := s.clock.Now()
		err := sj.job.Execute(ctx)
		duration := s.clock.Since(start)
		metrics.SchedulerJobDuration.WithLabelValues(sj.job.Name()).Observe(duration.Seconds())
		if err != nil {
			metrics.SchedulerJobFailures.WithLabelValues(sj.job.Name()).Inc()
			s.log.Error("job failed", "job", sj.job.Name(), "error", err, "duration", duration)
		} else {
			s.log.Info("job complete", "job", sj.job.Name(), "duration", duration)
		}
		sj.next = sj.job.NextExecution(s.clock.Now())
	}
}
