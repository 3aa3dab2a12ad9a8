package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSupervisedTaskBackoff(t *testing.T) {
	task := NewSupervisedTask("t", time.Second, 5, 100*time.Millisecond, time.Second, nil, newTestLogger())
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, time.Second, time.Second}
	for i, w := range want {
		if got := task.Backoff(i + 1); got != w {
			t.Fatalf("Backoff(%d) = %s, want %s", i+1, got, w)
		}
	}
}

func TestSupervisedTaskGivesUpAfterMaxAttempts(t *testing.T) {
	var calls int32
	task := NewSupervisedTask("failing", time.Millisecond, 3, time.Millisecond, 2*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("boom")
	}, newTestLogger())

	err := task.Run(context.Background())
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("err = %v, want ErrRetriesExhausted", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	status := task.Status()
	if status.State != TaskStateFailed || status.Attempts != 3 || status.LastError != "boom" {
		t.Fatalf("status = %+v", status)
	}
}

func TestSupervisedTaskSuccessResetsFailures(t *testing.T) {
	var calls int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// fail, fail, succeed, repeating: never three failures in a row
	task := NewSupervisedTask("flaky", time.Millisecond, 3, time.Millisecond, time.Millisecond, func(ctx context.Context) error {
		n := atomic.AddInt32(&calls, 1)
		if n >= 12 {
			cancel()
			return nil
		}
		if n%3 != 0 {
			return errors.New("transient")
		}
		return nil
	}, newTestLogger())

	err := task.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	status := task.Status()
	if status.State != TaskStateStopped || status.TotalFailures != 8 {
		t.Fatalf("status = %+v", status)
	}
	if status.LastSuccessAt == nil {
		t.Fatal("last success not recorded")
	}
}

func TestDepositListenerCallsOnFatal(t *testing.T) {
	gormDB, _, reconciler, _ := newDepositFixture(t)
	chain := newFakeChain(10)
	chain.headErr = errors.New("rpc down")
	cfg := chainConfig()
	cfg.PollInterval = 1
	cfg.MaxRetries = 2
	cfg.BackoffBaseMs = 1
	cfg.BackoffMaxMs = 2

	fatal := make(chan error, 1)
	listener := NewDepositListener(NewDepositScanner(gormDB, chain, reconciler, cfg, newTestLogger()), cfg, func(err error) {
		fatal <- err
	}, newTestLogger())
	listener.Start()
	defer listener.Stop()

	select {
	case err := <-fatal:
		if !errors.Is(err, ErrRetriesExhausted) {
			t.Fatalf("fatal err = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("onFatal was not called")
	}
	if status := listener.Status(); status.State != TaskStateFailed {
		t.Fatalf("state = %s", status.State)
	}
}
