package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func counter(n *atomic.Int32, err error) Task {
	return func(context.Context) (int, error) {
		n.Add(1)
		return 1, err
	}
}

func TestStartRunsJobsImmediatelyAndPeriodically(t *testing.T) {
	var status, pool atomic.Int32
	s, err := New(Options{
		StatusInterval: 50 * time.Millisecond,
		RefreshStatus:  counter(&status, nil),
		PoolInterval:   time.Hour,
		RefreshPool:    counter(&pool, errors.New("source down")),
		Logger:         zerolog.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}

	deadline := time.Now().Add(2 * time.Second)
	for status.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}

	if status.Load() < 2 {
		t.Errorf("status job ran %d times, want at least 2", status.Load())
	}
	if pool.Load() != 1 {
		t.Errorf("pool job ran %d times, want only the initial run", pool.Load())
	}
	if s.IsRunning() {
		t.Error("still running after Stop")
	}
	if err := s.Stop(); err == nil {
		t.Error("second Stop should fail")
	}
}

func TestRunNowSkipsDisabledJobs(t *testing.T) {
	var status, pool atomic.Int32
	s, err := New(Options{
		RefreshStatus: counter(&status, nil),
		RefreshPool:   counter(&pool, nil),
		Logger:        zerolog.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}

	s.RunNow(context.Background())
	if status.Load() != 1 {
		t.Errorf("status runs = %d", status.Load())
	}
	if pool.Load() != 0 {
		t.Errorf("pool job with zero interval ran %d times", pool.Load())
	}
}

func TestRunSkipsCancelledContext(t *testing.T) {
	var n atomic.Int32
	s, _ := New(Options{RefreshStatus: counter(&n, nil), Logger: zerolog.Nop()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s.RunNow(ctx)
	if n.Load() != 0 {
		t.Errorf("ran %d times on cancelled context", n.Load())
	}
}

func TestScheduleCustomJob(t *testing.T) {
	var status, sweep atomic.Int32
	s, err := New(Options{RefreshStatus: counter(&status, nil), Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		interval time.Duration
		task     Task
		wantErr  bool
	}{
		{"sweep", time.Hour, counter(&sweep, nil), false},
		{"zero interval", 0, counter(&sweep, nil), true},
		{"no task", time.Hour, nil, true},
		{"status", time.Hour, counter(&sweep, nil), true},
		{"sweep", time.Hour, counter(&sweep, nil), true},
	}
	for _, tt := range tests {
		err := s.ScheduleCustomJob(tt.name, tt.interval, tt.task)
		if (err != nil) != tt.wantErr {
			t.Errorf("ScheduleCustomJob(%q, %v): err = %v, wantErr %v", tt.name, tt.interval, err, tt.wantErr)
		}
	}

	s.RunNow(context.Background())
	if sweep.Load() != 1 || status.Load() != 1 {
		t.Errorf("runs: sweep %d, status %d", sweep.Load(), status.Load())
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()
	if err := s.ScheduleCustomJob("late", time.Hour, counter(&sweep, nil)); err == nil {
		t.Error("adding a job to a running scheduler should fail")
	}
}
