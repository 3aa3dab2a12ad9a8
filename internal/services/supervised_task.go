package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ledger-backend/internal/metrics"

	"github.com/sirupsen/logrus"
)

// TaskState lifecycle of a supervised task
type TaskState string

const (
	TaskStateIdle    TaskState = "idle"
	TaskStateRunning TaskState = "running"
	TaskStateBackoff TaskState = "backoff"
	TaskStateStopped TaskState = "stopped"
	TaskStateFailed  TaskState = "failed"
)

// TaskStatus snapshot exposed for monitoring
type TaskStatus struct {
	Name          string     `json:"name"`
	State         TaskState  `json:"state"`
	Attempts      int        `json:"attempts"` // consecutive failures
	TotalFailures int64      `json:"total_failures"`
	LastError     string     `json:"last_error,omitempty"`
	LastErrorAt   *time.Time `json:"last_error_at,omitempty"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
}

// SupervisedTask runs Step every Interval. Failures back off exponentially;
// MaxAttempts consecutive failures end Run with ErrRetriesExhausted. Any
// success resets the failure count.
type SupervisedTask struct {
	Name        string
	Interval    time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Step        func(ctx context.Context) error

	logger *logrus.Logger
	mu     sync.RWMutex
	status TaskStatus
}

// NewSupervisedTask creates a supervised task
func NewSupervisedTask(name string, interval time.Duration, maxAttempts int, baseDelay, maxDelay time.Duration, step func(ctx context.Context) error, logger *logrus.Logger) *SupervisedTask {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	return &SupervisedTask{
		Name:        name,
		Interval:    interval,
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		MaxDelay:    maxDelay,
		Step:        step,
		logger:      logger,
		status:      TaskStatus{Name: name, State: TaskStateIdle},
	}
}

// Backoff delay after the n-th consecutive failure: min(BaseDelay*2^(n-1), MaxDelay)
func (t *SupervisedTask) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	delay := t.BaseDelay
	for i := 1; i < n; i++ {
		if delay >= t.MaxDelay/2 {
			return t.MaxDelay
		}
		delay *= 2
	}
	if delay > t.MaxDelay {
		return t.MaxDelay
	}
	return delay
}

// Run blocks until ctx is cancelled or the retry budget is spent
func (t *SupervisedTask) Run(ctx context.Context) error {
	t.setState(TaskStateRunning)
	metrics.ListenerStatus.WithLabelValues(t.Name).Set(1)

	for {
		err := t.Step(ctx)
		if ctx.Err() != nil {
			t.setState(TaskStateStopped)
			metrics.ListenerStatus.WithLabelValues(t.Name).Set(0)
			return ctx.Err()
		}

		var wait time.Duration
		if err == nil {
			t.recordSuccess()
			wait = t.Interval
		} else {
			attempts := t.recordFailure(err)
			if attempts >= t.MaxAttempts {
				t.setState(TaskStateFailed)
				metrics.ListenerStatus.WithLabelValues(t.Name).Set(-1)
				t.logger.WithError(err).WithFields(logrus.Fields{
					"task":     t.Name,
					"attempts": attempts,
				}).Error("❌ Supervised task gave up")
				return fmt.Errorf("%s: %w after %d attempts: %v", t.Name, ErrRetriesExhausted, attempts, err)
			}
			wait = t.Backoff(attempts)
			t.setState(TaskStateBackoff)
			t.logger.WithError(err).WithFields(logrus.Fields{
				"task":     t.Name,
				"attempts": attempts,
				"retry_in": wait.String(),
			}).Warn("⚠️ Supervised task iteration failed, backing off")
		}

		next := time.Now().Add(wait)
		t.mu.Lock()
		t.status.NextRunAt = &next
		t.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			t.setState(TaskStateStopped)
			metrics.ListenerStatus.WithLabelValues(t.Name).Set(0)
			return ctx.Err()
		case <-timer.C:
		}
		t.setState(TaskStateRunning)
	}
}

// Status returns a copy of the current status
func (t *SupervisedTask) Status() TaskStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

func (t *SupervisedTask) setState(state TaskState) {
	t.mu.Lock()
	t.status.State = state
	t.mu.Unlock()
}

func (t *SupervisedTask) recordSuccess() {
	now := time.Now()
	t.mu.Lock()
	t.status.Attempts = 0
	t.status.LastSuccessAt = &now
	t.mu.Unlock()

	metrics.ListenerConsecutiveFailures.WithLabelValues(t.Name).Set(0)
	metrics.ListenerLastSuccess.WithLabelValues(t.Name).Set(float64(now.Unix()))
}

func (t *SupervisedTask) recordFailure(err error) int {
	now := time.Now()
	t.mu.Lock()
	t.status.Attempts++
	t.status.TotalFailures++
	t.status.LastError = err.Error()
	t.status.LastErrorAt = &now
	attempts := t.status.Attempts
	t.mu.Unlock()

	metrics.ListenerErrors.WithLabelValues(t.Name).Inc()
	metrics.ListenerConsecutiveFailures.WithLabelValues(t.Name).Set(float64(attempts))
	return attempts
}
