// Package scheduler runs workflow sweeps on cron schedules, one job per
// workflow label.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// SweepFunc is called when a workflow's schedule fires.
type SweepFunc func(ctx context.Context, label string)

// Scheduler manages cron-based sweep schedules.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	jobs    map[string]cron.EntryID // workflow label → entry ID
	sweepFn SweepFunc
	ctx     context.Context
	logger  *slog.Logger
}

// New creates a new scheduler. A sweep that is still running when its
// schedule fires again is skipped rather than overlapped.
func New(sweepFn SweepFunc, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cronLog := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog))),
		jobs:    make(map[string]cron.EntryID),
		sweepFn: sweepFn,
		ctx:     context.Background(),
		logger:  logger,
	}
}

// Start begins the cron scheduler. Blocks until context is cancelled.
// Sweeps fired while running receive ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", s.JobCount())

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
	return ctx.Err()
}

// Schedule sets the sweep schedule for a workflow, replacing any previous
// one. The schedule is a standard 5-field cron expression or a descriptor
// like @every 1m.
func (s *Scheduler) Schedule(label, schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(schedule, func() {
		s.logger.Debug("cron fired", "workflow", label)
		s.sweepFn(s.context(), label)
	})
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q for %s: %w", schedule, label, err)
	}

	if old, ok := s.jobs[label]; ok {
		s.cron.Remove(old)
	}
	s.jobs[label] = id
	s.logger.Info("job registered", "workflow", label, "schedule", schedule)
	return nil
}

// Next reports when the workflow's sweep fires next. The time is zero until
// the scheduler has been started.
func (s *Scheduler) Next(label string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.jobs[label]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

// Labels returns the scheduled workflow labels, sorted.
func (s *Scheduler) Labels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	labels := make([]string, 0, len(s.jobs))
	for l := range s.jobs {
		labels = append(labels, l)
	}
	slices.Sort(labels)
	return labels
}

// JobCount returns the number of scheduled workflows.
func (s *Scheduler) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}
