// Package scheduler runs background jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job represents a scheduled job
type Job interface {
	Run(ctx context.Context) error
	Name() string
}

// Entry describes a registered job and its next run.
type Entry struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next"`
}

type registration struct {
	name     string
	schedule string
}

// Scheduler manages background jobs
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	log    zerolog.Logger

	mu   sync.Mutex
	jobs map[cron.EntryID]registration
}

// New creates a new scheduler. A run still in progress when its next
// tick fires is not started twice; the skipped tick is logged.
func New(log zerolog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	log = log.With().Str("component", "scheduler").Logger()
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cronLogger{log: log}),
		),
		ctx:    ctx,
		cancel: cancel,
		log:    log,
		jobs:   make(map[cron.EntryID]registration),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.cron.Entries())).Msg("Scheduler started")
}

// Stop cancels running jobs and waits for them to return
func (s *Scheduler) Stop() {
	s.cancel()
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a new job with cron schedule
// Schedule examples:
//   - "0 */5 * * * *"        - Every 5 minutes
//   - "@hourly"              - Every hour
//   - "0 30 22 * * MON-FRI"  - 22:30 on weekdays
//   - "@every 30s"           - Every 30 seconds
func (s *Scheduler) AddJob(schedule string, job Job) error {
	id, err := s.cron.AddJob(schedule, s.cronJob(job))
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", schedule, job.Name(), err)
	}

	s.mu.Lock()
	s.jobs[id] = registration{name: job.Name(), schedule: schedule}
	s.mu.Unlock()

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")

	return nil
}

// RunNow executes a job immediately (outside schedule)
func (s *Scheduler) RunNow(ctx context.Context, job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("Running job immediately")
	return s.run(ctx, job)
}

// Entries lists registered jobs ordered by next run.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.jobs))
	for _, e := range s.cron.Entries() {
		reg, ok := s.jobs[e.ID]
		if !ok {
			continue
		}
		out = append(out, Entry{Name: reg.name, Schedule: reg.schedule, Next: e.Next})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Next.Before(out[j].Next) })
	return out
}

// cronJob wraps job so overlapping ticks are skipped and logged under the
// job's name.
func (s *Scheduler) cronJob(job Job) cron.Job {
	logger := cronLogger{log: s.log.With().Str("job", job.Name()).Logger()}
	return cron.NewChain(cron.SkipIfStillRunning(logger)).Then(cron.FuncJob(func() {
		_ = s.run(s.ctx, job)
	}))
}

func (s *Scheduler) run(ctx context.Context, job Job) error {
	log := s.log.With().
		Str("job", job.Name()).
		Str("run_id", uuid.New().String()).
		Logger()
	ctx = log.WithContext(ctx)

	log.Debug().Msg("Running job")
	start := time.Now()

	if err := job.Run(ctx); err != nil {
		log.Error().
			Err(err).
			Dur("duration_ms", time.Since(start)).
			Msg("Job failed")
		return err
	}

	log.Debug().Dur("duration_ms", time.Since(start)).Msg("Job completed")
	return nil
}
