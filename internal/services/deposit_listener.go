package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"ledger-backend/internal/config"

	"github.com/sirupsen/logrus"
)

// DepositListener runs the deposit scanner as a supervised background poller
type DepositListener struct {
	scanner *DepositScanner
	task    *SupervisedTask
	onFatal func(error)
	logger  *logrus.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDepositListener creates the listener. onFatal is called once the retry
// budget is exhausted.
func NewDepositListener(scanner *DepositScanner, cfg config.BlockchainConfig, onFatal func(error), logger *logrus.Logger) *DepositListener {
	l := &DepositListener{
		scanner: scanner,
		onFatal: onFatal,
		logger:  logger,
	}
	l.task = NewSupervisedTask(
		"deposit_listener",
		time.Duration(cfg.PollInterval)*time.Second,
		cfg.MaxRetries,
		time.Duration(cfg.BackoffBaseMs)*time.Millisecond,
		time.Duration(cfg.BackoffMaxMs)*time.Millisecond,
		l.step,
		logger,
	)
	return l
}

func (l *DepositListener) step(ctx context.Context) error {
	_, err := l.scanner.ScanOnce(ctx)
	return err
}

// Start launches the polling loop
func (l *DepositListener) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})

	l.logger.WithFields(logrus.Fields{
		"stream":   l.scanner.StreamID(),
		"interval": l.task.Interval.String(),
	}).Info("🚀 Deposit listener starting")

	go func() {
		defer close(l.done)
		err := l.task.Run(ctx)
		if errors.Is(err, ErrRetriesExhausted) && l.onFatal != nil {
			l.onFatal(err)
		}
	}()
}

// Stop cancels the loop and waits for the current iteration to finish
func (l *DepositListener) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel = nil
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	l.logger.Info("🛑 Stopping deposit listener...")
	cancel()
	<-done
	l.logger.Info("✅ Deposit listener stopped")
}

// Status supervised task status
func (l *DepositListener) Status() TaskStatus {
	return l.task.Status()
}

// Cursor persisted scan position
func (l *DepositListener) Cursor(ctx context.Context) (uint64, bool, error) {
	return l.scanner.Cursor(ctx)
}
