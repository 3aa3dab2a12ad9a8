// Scheduler Service
// Hosts periodic ledger jobs: reputation sweep and ledger audit
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"
)

// SchedulerService manages periodic background tasks on a gocron scheduler
type SchedulerService struct {
	scheduler gocron.Scheduler
	logger    *logrus.Logger
	jobs      []string
}

// NewSchedulerService creates a new SchedulerService instance
func NewSchedulerService(logger *logrus.Logger) (*SchedulerService, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &SchedulerService{scheduler: scheduler, logger: logger}, nil
}

// Every registers fn to run every interval. A run that is still going when the
// next one is due is skipped; each run gets its own timeout.
func (s *SchedulerService) Every(name string, interval, timeout time.Duration, fn func(ctx context.Context) error) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			if err := fn(ctx); err != nil {
				s.logger.WithError(err).WithField("job", name).Error("❌ Scheduled task failed")
			}
		}),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	s.jobs = append(s.jobs, name)
	s.logger.WithFields(logrus.Fields{"job": name, "interval": interval.String()}).Info("📅 Scheduled task registered")
	return nil
}

// Start begins all scheduled tasks
func (s *SchedulerService) Start() {
	s.logger.WithField("jobs", len(s.jobs)).Info("🚀 Scheduler service starting...")
	s.scheduler.Start()
}

// Stop gracefully stops all scheduled tasks, waiting for running ones
func (s *SchedulerService) Stop() {
	s.logger.Info("🛑 Stopping scheduler service...")
	if err := s.scheduler.Shutdown(); err != nil {
		s.logger.WithError(err).Warn("⚠️ Scheduler shutdown returned an error")
	}
	s.logger.Info("✅ Scheduler service stopped")
}
