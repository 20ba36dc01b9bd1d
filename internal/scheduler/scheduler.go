// Package scheduler runs the periodic maintenance jobs: session idle
// sweeps, expired-token sweeps and the nightly index rescan.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"
)

// Job is one named piece of periodic work.
type Job struct {
	Name string
	Run  func(ctx context.Context)
}

// Scheduler drives interval jobs on tickers and cron jobs on a
// once-a-minute due check.
type Scheduler struct {
	gron *gronx.Gronx
	log  *slog.Logger

	mu        sync.Mutex
	intervals []intervalJob
	crons     []cronJob
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

type intervalJob struct {
	job   Job
	every time.Duration
}

type cronJob struct {
	job  Job
	expr string
}

func New() *Scheduler {
	return &Scheduler{
		gron: gronx.New(),
		log:  slog.With("component", "scheduler"),
	}
}

// Every registers job to run each interval. Must be called before Start.
func (s *Scheduler) Every(interval time.Duration, job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intervals = append(s.intervals, intervalJob{job: job, every: interval})
}

// Cron registers job against a five-field cron expression. Invalid
// expressions are rejected here rather than silently never firing.
func (s *Scheduler) Cron(expr string, job Job) error {
	if !s.gron.IsValid(expr) {
		return &InvalidCronError{Expr: expr}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.crons = append(s.crons, cronJob{job: job, expr: expr})
	return nil
}

// InvalidCronError reports a malformed cron expression.
type InvalidCronError struct {
	Expr string
}

func (e *InvalidCronError) Error() string {
	return "invalid cron expression: " + e.Expr
}

// Start launches every registered job. Stop cancels them.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.cancel = cancel
	intervals := append([]intervalJob(nil), s.intervals...)
	crons := append([]cronJob(nil), s.crons...)
	s.mu.Unlock()

	for _, ij := range intervals {
		s.wg.Add(1)
		go s.runInterval(ctx, ij)
	}
	if len(crons) > 0 {
		s.wg.Add(1)
		go s.runCrons(ctx, crons)
	}
	s.log.Info("scheduler started", "interval_jobs", len(intervals), "cron_jobs", len(crons))
}

// Stop cancels all jobs and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) runInterval(ctx context.Context, ij intervalJob) {
	defer s.wg.Done()
	ticker := time.NewTicker(ij.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.invoke(ctx, ij.job)
		}
	}
}

// runCrons wakes at the top of every minute and fires whatever is due.
func (s *Scheduler) runCrons(ctx context.Context, crons []cronJob) {
	defer s.wg.Done()
	for {
		next := time.Now().Truncate(time.Minute).Add(time.Minute)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
		}
		now := time.Now()
		for _, cj := range crons {
			due, err := s.gron.IsDue(cj.expr, now)
			if err != nil {
				s.log.Warn("cron check failed", "job", cj.job.Name, "error", err)
				continue
			}
			if due {
				s.invoke(ctx, cj.job)
			}
		}
	}
}

// invoke runs one job, isolating panics so a bad sweep cannot take the
// scheduler down.
func (s *Scheduler) invoke(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("job panicked", "job", job.Name, "panic", r)
		}
	}()
	start := time.Now()
	job.Run(ctx)
	s.log.Debug("job finished", "job", job.Name, "elapsed", time.Since(start))
}
