// Package scheduler implements the Scheduler (C9, spec §4.9): a periodic
// driver of N named jobs, each with its own interval, ticked by a single
// heartbeat. A job whose previous invocation is still running when its
// interval next elapses is skipped for that tick (spec §5's "the next tick
// is skipped if the previous run is still executing").
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is one named, independently-intervaled unit of scheduled work (spec
// §4.9: "N named jobs, each carrying a name, a function, and an interval").
type Job struct {
	Name     string
	Fn       func(context.Context) error
	Interval time.Duration
}

type jobState struct {
	job     Job
	lastRun time.Time
	running bool
	mu      sync.Mutex
}

// Scheduler drives every registered Job off a single cron heartbeat and
// skips overlapping invocations per job (spec §4.9, §5). The heartbeat
// itself is a `github.com/robfig/cron/v3` entry rather than a raw
// time.Ticker, so jobs can carry arbitrary intervals while the tick rate
// stays fixed and testable.
type Scheduler struct {
	heartbeat     time.Duration
	heartbeatSpec string
	cron          *cron.Cron
	jobs          []*jobState
	wg            sync.WaitGroup
	log           zerolog.Logger
}

// New creates a Scheduler that ticks every heartbeat period (spec §4.9's
// "10-second heartbeat").
func New(heartbeat time.Duration, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		heartbeat:     heartbeat,
		heartbeatSpec: fmt.Sprintf("@every %s", heartbeat),
		cron:          cron.New(),
		log:           log.With().Str("component", "scheduler").Logger(),
	}
}

// AddJob registers job. A job first becomes due one Interval after it is
// added. The job list is not synchronized with the running heartbeat, so
// AddJob is race-free only before Start.
func (s *Scheduler) AddJob(job Job) {
	s.jobs = append(s.jobs, &jobState{job: job, lastRun: time.Now()})
}

// fixedDelay is a cron.Schedule that fires heartbeat after each activation.
// Unlike cron's "@every" spec it keeps sub-second periods as given.
type fixedDelay time.Duration

func (d fixedDelay) Next(t time.Time) time.Time { return t.Add(time.Duration(d)) }

// Start registers the heartbeat entry and begins the cron driver. ctx scopes
// every job invocation; cancelling it does not by itself stop new ticks —
// call Stop for that.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron.Schedule(fixedDelay(s.heartbeat), cron.FuncJob(func() { s.tick(ctx) }))
	s.cron.Start()
	s.log.Info().Str("heartbeat", s.heartbeatSpec).Int("jobs", len(s.jobs)).Msg("scheduler started")
}

// Stop halts the cron driver and waits for every in-flight job to finish.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.wg.Wait()
	s.log.Info().Msg("scheduler stopped")
}

// tick runs every job whose interval has elapsed since its last run, each in
// its own goroutine so a slow job never delays another's due tick (spec
// §5's "parallel workers for I/O-bound ... invocations").
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()
	for _, js := range s.jobs {
		js := js
		js.mu.Lock()
		due := now.Sub(js.lastRun) >= js.job.Interval
		if !due || js.running {
			if due && js.running {
				s.log.Debug().Str("job", js.job.Name).Msg("skipping tick: previous run still executing")
			}
			js.mu.Unlock()
			continue
		}
		js.running = true
		js.lastRun = now
		js.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				js.mu.Lock()
				js.running = false
				js.mu.Unlock()
			}()
			s.runJob(ctx, js.job)
		}()
	}
}

// runJob executes one job, logging and isolating its failure (spec §4.9:
// "failures are logged and do not affect other jobs").
func (s *Scheduler) runJob(ctx context.Context, job Job) {
	start := time.Now()
	if err := job.Fn(ctx); err != nil {
		s.log.Error().Err(err).Str("job", job.Name).Dur("elapsed", time.Since(start)).Msg("job failed")
		return
	}
	s.log.Debug().Str("job", job.Name).Dur("elapsed", time.Since(start)).Msg("job completed")
}
