// Package scheduling runs named background jobs on cron expressions or
// fixed intervals.
package scheduling

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// jobTimeout bounds a single run of any job.
const jobTimeout = time.Minute

// Job is one unit of scheduled work. The context ends when the scheduler
// stops or the run exceeds jobTimeout.
type Job func(ctx context.Context) error

// Entry describes a registered job.
type Entry struct {
	Name     string
	Schedule string
	Next     time.Time
}

type registered struct {
	id       cron.EntryID
	schedule string
}

// Scheduler owns a cron runner and the named jobs added to it. A job that
// is still running when its next tick arrives is skipped for that tick.
type Scheduler struct {
	runner *cron.Cron
	logger *slog.Logger

	mu      sync.Mutex
	jobs    map[string]registered
	running bool
	runCtx  context.Context
	cancel  context.CancelFunc
}

// NewScheduler returns an idle scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner: cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger: logger,
		jobs:   make(map[string]registered),
	}
}

// Add schedules job under name. Names are unique.
func (s *Scheduler) Add(name, schedule string, job Job) error {
	if name == "" {
		return fmt.Errorf("scheduler: job name is required")
	}
	if job == nil {
		return fmt.Errorf("scheduler: job %q has no function", name)
	}
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return fmt.Errorf("scheduler: job %q: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[name]; dup {
		return fmt.Errorf("scheduler: job %q already registered", name)
	}

	id := s.runner.Schedule(sched, cron.FuncJob(func() { s.run(name, job) }))
	s.jobs[name] = registered{id: id, schedule: schedule}
	s.logger.Info("job scheduled", "job", name, "schedule", schedule)
	return nil
}

func (s *Scheduler) run(name string, job Job) {
	s.mu.Lock()
	parent := s.runCtx
	s.mu.Unlock()
	if parent == nil {
		return
	}

	ctx, cancel := context.WithTimeout(parent, jobTimeout)
	defer cancel()

	start := time.Now()
	if err := job(ctx); err != nil {
		s.logger.Warn("job failed", "job", name, "error", err, "duration", time.Since(start))
		return
	}
	s.logger.Debug("job finished", "job", name, "duration", time.Since(start))
}

// Len reports how many jobs are registered.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Entries lists the registered jobs by name. Next is zero until the
// scheduler has started.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	out := make([]Entry, 0, len(s.jobs))
	for name, r := range s.jobs {
		out = append(out, Entry{Name: name, Schedule: r.schedule, Next: s.runner.Entry(r.id).Next})
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start runs the jobs until ctx ends or Stop is called. Starting twice is a
// no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.runner.Start()
	s.running = true
}

// Stop cancels in-flight jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.runCtx = nil
	s.running = false
	s.mu.Unlock()

	// run takes s.mu, so wait unlocked.
	<-s.runner.Stop().Done()
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule accepts a five-field cron expression, a descriptor such as
// "@hourly" or "@every 5m", or a bare positive duration like "30s".
func ParseSchedule(spec string) (cron.Schedule, error) {
	if spec == "" {
		return nil, fmt.Errorf("empty schedule")
	}
	if sched, err := cronParser.Parse(spec); err == nil {
		return sched, nil
	}
	d, err := time.ParseDuration(spec)
	if err != nil {
		return nil, fmt.Errorf("schedule %q is neither cron nor a duration", spec)
	}
	if d <= 0 {
		return nil, fmt.Errorf("schedule %q must be positive", spec)
	}
	return interval(d), nil
}

// interval fires every d, including sub-second periods that cron.Every
// rounds up.
type interval time.Duration

func (d interval) Next(t time.Time) time.Time { return t.Add(time.Duration(d)) }
