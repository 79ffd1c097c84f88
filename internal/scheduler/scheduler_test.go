package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/helios-home/control-plane/internal/logging"
)

// fakeClock is a manually-advanced clock.Clock for deterministic scheduler
// tests: After returns a channel that fires only when advance() moves "now"
// past the requested deadline.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []fakeWaiter
}

type fakeWaiter struct {
	deadline time.Time
	ch       chan time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	deadline := c.now.Add(d)
	if !deadline.After(c.now) {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, fakeWaiter{deadline: deadline, ch: ch})
	return ch
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	remaining := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.deadline.After(c.now) {
			w.ch <- c.now
		} else {
			remaining = append(remaining, w)
		}
	}
	c.waiters = remaining
	c.mu.Unlock()
}

func TestSchedulerRunsDueJobsAndReschedules(t *testing.T) {
	clk := newFakeClock(time.Unix(0, 0))
	log := logging.New(false)

	var mu sync.Mutex
	var runsA, runsB int

	jobA := NewIntervalJob("a", 10*time.Second, func(ctx context.Context) error {
		mu.Lock()
		runsA++
		mu.Unlock()
		return nil
	})
	jobB := NewIntervalJob("b", 30*time.Second, func(ctx context.Context) error {
		mu.Lock()
		runsB++
		mu.Unlock()
		return nil
	})

	s := New(clk, log, jobA, jobB)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()

	// Both jobs are scheduled to run immediately at construction time.
	waitForCount(t, &mu, &runsA, 1)
	waitForCount(t, &mu, &runsB, 1)

	clk.advance(10 * time.Second)
	waitForCount(t, &mu, &runsA, 2)

	clk.advance(10 * time.Second) // t=20s: only A due again
	waitForCount(t, &mu, &runsA, 3)

	clk.advance(10 * time.Second) // t=30s: both due
	waitForCount(t, &mu, &runsA, 4)
	waitForCount(t, &mu, &runsB, 2)

	cancel()
	<-done
}

func waitForCount(t *testing.T, mu *sync.Mutex, counter *int, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		got := *counter
		mu.Unlock()
		if got >= want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("counter did not reach %d in time", want)
}

func TestSchedulerWithNoJobsWaitsForCancellation(t *testing.T) {
	clk := newFakeClock(time.Unix(0, 0))
	log := logging.New(false)
	s := New(clk, log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("scheduler with no jobs returned before cancellation")
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
}

func TestValidateCronExpression(t *testing.T) {
	if err := ValidateCronExpression("*/5 * * * *"); err != nil {
		t.Fatalf("expected valid expression to parse, got %v", err)
	}
	if err := ValidateCronExpression("not a cron expression"); err == nil {
		t.Fatal("expected invalid expression to fail")
	}
}

func TestNewCronJobRejectsMalformedExpression(t *testing.T) {
	if _, err := NewCronJob("test", "not a cron expression", func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected malformed cron expression to be rejected")
	}
}

func TestCronJobNextExecutionFollowsSchedule(t *testing.T) {
	job, err := NewCronJob("test", "0 0 * * *", func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("NewCronJob: %v", err)
	}
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	next := job.NextExecution(now)
	want := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("NextExecution(%s) = %s, want %s", now, next, want)
	}
}
