package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestIntervalJobRuns(t *testing.T) {
	s := New()
	var runs atomic.Int32
	s.Every(20*time.Millisecond, Job{
		Name: "tick",
		Run:  func(ctx context.Context) { runs.Add(1) },
	})
	s.Start(context.Background())
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if runs.Load() >= 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("interval job ran %d times", runs.Load())
}

func TestStopWaitsForJobs(t *testing.T) {
	s := New()
	var runs atomic.Int32
	s.Every(10*time.Millisecond, Job{
		Name: "tick",
		Run:  func(ctx context.Context) { runs.Add(1) },
	})
	s.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()
	after := runs.Load()
	time.Sleep(50 * time.Millisecond)
	if runs.Load() != after {
		t.Error("job still running after Stop")
	}
}

func TestCronRejectsInvalidExpression(t *testing.T) {
	s := New()
	err := s.Cron("not a cron", Job{Name: "scan", Run: func(ctx context.Context) {}})
	if err == nil {
		t.Fatal("invalid expression accepted")
	}
	if err := s.Cron("30 2 * * *", Job{Name: "scan", Run: func(ctx context.Context) {}}); err != nil {
		t.Fatalf("valid expression rejected: %v", err)
	}
}

func TestPanickingJobDoesNotKillScheduler(t *testing.T) {
	s := New()
	var runs atomic.Int32
	s.Every(10*time.Millisecond, Job{
		Name: "bad",
		Run: func(ctx context.Context) {
			runs.Add(1)
			panic("boom")
		},
	})
	s.Start(context.Background())
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if runs.Load() >= 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("panicking job ran %d times", runs.Load())
}
