// Package schedule provides a small interval scheduler for recurring
// ETL jobs. Jobs run sequentially on a shared loop; a job that fails is
// logged and retried at its next interval.
package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Job is one recurring unit of work. Run must respect ctx cancellation
// and return an error for a failed pass.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Stats reports scheduler progress counters.
type Stats struct {
	Jobs          int       `json:"jobs"`
	CompletedRuns int64     `json:"completed_runs"`
	FailedRuns    int64     `json:"failed_runs"`
	LastRun       time.Time `json:"last_run"`
}

// stopTimeout bounds how long Stop waits for the loop goroutine.
const stopTimeout = 5 * time.Second

// Scheduler executes registered jobs at their intervals. Deadlines are
// checked once per tick, so the effective resolution is TickInterval.
type Scheduler struct {
	clock  clock.Clock
	logger *slog.Logger
	tick   time.Duration

	mu      sync.Mutex
	jobs    []*scheduledJob
	stats   Stats
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

type scheduledJob struct {
	job     Job
	nextRun time.Time
}

// NewScheduler creates a scheduler checking job deadlines every
// tickInterval (default one second). A nil clock falls back to the real
// clock; a nil logger falls back to slog.Default().
func NewScheduler(tickInterval time.Duration, clk clock.Clock, logger *slog.Logger) *Scheduler {
	if tickInterval <= 0 {
		tickInterval = time.Second
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		clock:  clk,
		logger: logger.With("component", "scheduler"),
		tick:   tickInterval,
	}
}

// Add registers a job. The first run happens one interval after Start;
// call RunAll for an immediate pass. Adding while running is allowed.
func (s *Scheduler) Add(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, &scheduledJob{
		job:     job,
		nextRun: s.clock.Now().Add(job.Interval),
	})
	s.stats.Jobs = len(s.jobs)
}

// RunAll executes every registered job once, immediately and
// sequentially, and resets their next deadlines. Used for the startup
// pass before the loop takes over.
func (s *Scheduler) RunAll(ctx context.Context) {
	s.mu.Lock()
	jobs := make([]*scheduledJob, len(s.jobs))
	copy(jobs, s.jobs)
	s.mu.Unlock()

	for _, sj := range jobs {
		s.execute(ctx, sj)
	}
}

// Start launches the scheduling loop. Starting an already running
// scheduler is a no-op warning.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Warn("scheduler already running")
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.loop(loopCtx)
	s.logger.Info("scheduler started", "jobs", len(s.jobs), "tick", s.tick)
}

// Stop signals the loop to exit and waits for it, bounded by
// stopTimeout. Stopping an already stopped scheduler is a no-op
// warning.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		s.logger.Warn("scheduler not running")
		return
	}

	s.cancel()
	select {
	case <-s.done:
	case <-s.clock.After(stopTimeout):
		s.logger.Warn("timed out waiting for scheduler loop to exit")
	}
	s.running = false
	s.logger.Info("scheduler stopped")
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// GetStats returns a copy of the progress counters.
func (s *Scheduler) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := s.clock.Ticker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := s.clock.Now()
		for _, sj := range s.due(now) {
			if ctx.Err() != nil {
				return
			}
			s.execute(ctx, sj)
		}
	}
}

// due returns the jobs whose deadline has passed, advancing their next
// deadlines before release so a slow job cannot double-fire.
func (s *Scheduler) due(now time.Time) []*scheduledJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*scheduledJob
	for _, sj := range s.jobs {
		if now.Before(sj.nextRun) {
			continue
		}
		sj.nextRun = now.Add(sj.job.Interval)
		out = append(out, sj)
	}
	return out
}

func (s *Scheduler) execute(ctx context.Context, sj *scheduledJob) {
	started := s.clock.Now()
	err := sj.job.Run(ctx)

	s.mu.Lock()
	s.stats.LastRun = started
	if err != nil {
		s.stats.FailedRuns++
	} else {
		s.stats.CompletedRuns++
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("job failed", "job", sj.job.Name, "error", err)
		return
	}
	s.logger.Debug("job complete", "job", sj.job.Name)
}
