// Package scheduler runs the periodic background jobs: reconciling profile
// status against launch locks, refreshing the proxy catalog and any custom
// jobs such as pruning expired pool rows.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
)

// DefaultStatusInterval matches the status board refresh rate.
const DefaultStatusInterval = 30 * time.Second

// Task is a job body. It reports how many items it changed.
type Task func(ctx context.Context) (int, error)

// Options configures the jobs. A nil task or a zero interval disables
// the corresponding job.
type Options struct {
	StatusInterval time.Duration
	RefreshStatus  Task
	PoolInterval   time.Duration
	RefreshPool    Task
	Logger         zerolog.Logger
}

// Scheduler drives the background jobs.
type Scheduler struct {
	scheduler gocron.Scheduler
	opts      Options
	logger    zerolog.Logger

	mu      sync.Mutex
	running bool
	custom  map[string]job
}

// New creates a scheduler. Jobs are registered on Start.
func New(opts Options) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &Scheduler{scheduler: s, opts: opts, logger: opts.Logger, custom: map[string]job{}}, nil
}

// Start registers the jobs, starts the scheduler and runs every job once
// in the background.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	jobs := s.jobs()
	for name, j := range jobs {
		task := j.task
		_, err := s.scheduler.NewJob(
			gocron.DurationJob(j.interval),
			gocron.NewTask(func() { s.run(ctx, name, task) }),
			gocron.WithName(name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("failed to create %s job: %w", name, err)
		}
	}

	s.scheduler.Start()
	s.running = true

	for name, j := range jobs {
		go s.run(ctx, name, j.task)
	}
	return nil
}

type job struct {
	interval time.Duration
	task     Task
}

func (s *Scheduler) jobs() map[string]job {
	out := map[string]job{}
	if s.opts.RefreshStatus != nil {
		interval := s.opts.StatusInterval
		if interval <= 0 {
			interval = DefaultStatusInterval
		}
		out["status"] = job{interval, s.opts.RefreshStatus}
	}
	if s.opts.RefreshPool != nil && s.opts.PoolInterval > 0 {
		out["pool"] = job{s.opts.PoolInterval, s.opts.RefreshPool}
	}
	for name, j := range s.custom {
		out[name] = j
	}
	return out
}

// Stop shuts the scheduler down.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return fmt.Errorf("scheduler is not running")
	}
	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	s.running = false
	return nil
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunNow runs every configured job synchronously, regardless of interval.
func (s *Scheduler) RunNow(ctx context.Context) {
	for name, j := range s.jobs() {
		s.run(ctx, name, j.task)
	}
}

// ScheduleCustomJob registers an additional named job. It must be called
// before Start; the job then runs on start and every interval.
func (s *Scheduler) ScheduleCustomJob(name string, interval time.Duration, task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("cannot add %s job to a running scheduler", name)
	}
	if interval <= 0 || task == nil {
		return fmt.Errorf("%s job needs a task and a positive interval", name)
	}
	if _, dup := s.jobs()[name]; dup {
		return fmt.Errorf("job %s already exists", name)
	}
	s.custom[name] = job{interval, task}
	return nil
}

func (s *Scheduler) run(ctx context.Context, name string, task Task) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	n, err := task(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Str("job", name).Msg("job failed")
		return
	}
	s.logger.Debug().Str("job", name).Int("changed", n).Dur("took", time.Since(start)).Msg("job done")
}
