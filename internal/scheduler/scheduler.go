package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/seqrun/seqrun/pkg/schema"
)

// WorkflowRunner is the interface the scheduler uses to start runs.
// Satisfied by engine.Runner (avoids an import cycle).
type WorkflowRunner interface {
	Execute(ctx context.Context, wf *schema.Workflow, input map[string]any) (*schema.Run, error)
}

// Job is a cron-scheduled workflow invocation.
type Job struct {
	ID       string
	Workflow *schema.Workflow
	Input    map[string]any
	Spec     string // standard 5-field cron expression

	schedule  cron.Schedule
	nextRunAt time.Time
}

// Scheduler runs registered jobs on their cron schedules. Jobs are
// registered before Start; the ticker loop fires due jobs with
// per-job dedup so a slow run never overlaps itself.
type Scheduler struct {
	runner   WorkflowRunner
	parser   cron.Parser
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	jobs   map[string]*Job
	cancel context.CancelFunc
	done   chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// NewScheduler creates a Scheduler. interval <= 0 selects the default
// 60s tick.
func NewScheduler(runner WorkflowRunner, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runner:   runner,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		interval: interval,
		logger:   logger,
		jobs:     make(map[string]*Job),
		inflight: make(map[string]struct{}),
	}
}

// AddJob parses the cron spec and registers the job. A job with the
// same ID replaces the previous registration.
func (s *Scheduler) AddJob(job *Job) error {
	if job == nil || job.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "scheduled job requires an id")
	}
	if job.Workflow == nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "scheduled job %q has no workflow", job.ID)
	}
	sched, err := s.parser.Parse(job.Spec)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"scheduled job %q has invalid cron spec %q: %v", job.ID, job.Spec, err).WithCause(err)
	}
	job.schedule = sched
	job.nextRunAt = sched.Next(time.Now().UTC())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))
	return nil
}

// Stop cancels the loop and waits for it to drain.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, time.Now().UTC())
		}
	}
}

// tick fires every job whose next run time has passed.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	due := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if !job.nextRunAt.After(now) {
			job.nextRunAt = job.schedule.Next(now)
			due = append(due, job)
		}
	}
	s.mu.Unlock()

	for _, job := range due {
		if !s.tryAcquire(job.ID) {
			continue // previous invocation still running
		}
		go func(job *Job) {
			defer s.release(job.ID)
			s.runJob(ctx, job)
		}(job)
	}
}

func (s *Scheduler) runJob(ctx context.Context, job *Job) {
	s.logger.Info("scheduled run starting",
		slog.String("job_id", job.ID),
		slog.String("workflow_id", job.Workflow.ID))

	run, err := s.runner.Execute(ctx, job.Workflow, job.Input)
	if err != nil {
		s.logger.Error("scheduled run failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()))
		return
	}
	s.logger.Info("scheduled run finished",
		slog.String("job_id", job.ID),
		slog.String("run_id", run.RunID),
		slog.String("status", string(run.Status)))
}

func (s *Scheduler) tryAcquire(jobID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, running := s.inflight[jobID]; running {
		return false
	}
	s.inflight[jobID] = struct{}{}
	return true
}

func (s *Scheduler) release(jobID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, jobID)
}
