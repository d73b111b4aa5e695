package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestScheduler_RunsDueJobAndSkipsNotYetDue(t *testing.T) {
	var fastRuns, slowRuns int32
	s := New(20*time.Millisecond, zerolog.Nop())
	s.AddJob(Job{Name: "fast", Interval: 20 * time.Millisecond, Fn: func(ctx context.Context) error {
		atomic.AddInt32(&fastRuns, 1)
		return nil
	}})
	s.AddJob(Job{Name: "slow", Interval: time.Hour, Fn: func(ctx context.Context) error {
		atomic.AddInt32(&slowRuns, 1)
		return nil
	}})

	s.Start(context.Background())
	time.Sleep(120 * time.Millisecond)
	s.Stop()

	assert.Greater(t, atomic.LoadInt32(&fastRuns), int32(1))
	assert.Zero(t, atomic.LoadInt32(&slowRuns))
}

func TestScheduler_SkipsTickWhilePreviousStillRunning(t *testing.T) {
	var runs int32
	started := make(chan struct{}, 8)
	release := make(chan struct{})

	s := New(10*time.Millisecond, zerolog.Nop())
	s.AddJob(Job{Name: "slow", Interval: 10 * time.Millisecond, Fn: func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		started <- struct{}{}
		<-release
		return nil
	}})

	s.Start(context.Background())
	<-started // first invocation has begun and is blocked on release

	time.Sleep(50 * time.Millisecond) // several heartbeats elapse while the job is still running
	close(release)
	s.Stop()

	// Only the first invocation should have started; overlapping ticks are
	// skipped because the job was still marked running.
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
}

func TestScheduler_JobFailureDoesNotAffectOtherJobs(t *testing.T) {
	var okRuns int32
	s := New(15*time.Millisecond, zerolog.Nop())
	s.AddJob(Job{Name: "failing", Interval: 15 * time.Millisecond, Fn: func(ctx context.Context) error {
		return assertError{}
	}})
	s.AddJob(Job{Name: "ok", Interval: 15 * time.Millisecond, Fn: func(ctx context.Context) error {
		atomic.AddInt32(&okRuns, 1)
		return nil
	}})

	s.Start(context.Background())
	time.Sleep(60 * time.Millisecond)
	s.Stop()

	assert.Greater(t, atomic.LoadInt32(&okRuns), int32(1))
}

type assertError struct{}

func (assertError) Error() string { return "job failed deliberately" }
