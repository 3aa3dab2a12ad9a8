package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ledger-backend/internal/config"
	"ledger-backend/internal/dto"
	"ledger-backend/internal/metrics"
	"ledger-backend/internal/models"
	"ledger-backend/internal/repository"
	"ledger-backend/internal/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ReputationEngine recomputes a wallet's trust score
type ReputationEngine interface {
	RecomputeScore(ctx context.Context, wallet string) (dto.ScoreResult, error)
}

// ReputationDispatcher persists reputation recompute jobs and works them off
// with a bounded worker pool. Jobs outlive the request that created them: a
// crash or a full queue leaves them PENDING for the periodic sweep.
type ReputationDispatcher struct {
	jobs        repository.ReputationJobRepository
	engine      ReputationEngine
	queue       chan string
	workers     int
	maxAttempts int
	retryDelay  time.Duration
	timeout     time.Duration
	sweepAge    time.Duration
	logger      *logrus.Logger

	inflight sync.Map
	stopCh   chan struct{}
	wg       sync.WaitGroup
	started  bool
	mu       sync.Mutex
}

// NewReputationDispatcher creates the dispatcher. engine may be nil, in which
// case jobs are recorded as SKIPPED.
func NewReputationDispatcher(db *gorm.DB, engine ReputationEngine, cfg config.ReputationConfig, logger *logrus.Logger) *ReputationDispatcher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}
	return &ReputationDispatcher{
		jobs:        repository.NewReputationJobRepository(db),
		engine:      engine,
		queue:       make(chan string, queueSize),
		workers:     workers,
		maxAttempts: 3,
		retryDelay:  time.Second,
		timeout:     time.Duration(cfg.Timeout) * time.Second,
		sweepAge:    time.Duration(cfg.SweepInterval) * time.Second,
		logger:      logger,
		stopCh:      make(chan struct{}),
	}
}

// Enqueue records a PENDING job and hands it to the worker pool
func (d *ReputationDispatcher) Enqueue(ctx context.Context, wallet, trigger string) (*models.ReputationJob, error) {
	job, err := d.newJob(wallet, trigger)
	if err != nil {
		return nil, err
	}
	if err := d.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create reputation job: %w", err)
	}
	d.Dispatch(ctx, job)
	return job, nil
}

// EnqueueTx records a PENDING job inside the caller's transaction, so the job
// commits or rolls back with the change that triggered it. Call Dispatch after commit.
func (d *ReputationDispatcher) EnqueueTx(ctx context.Context, tx *gorm.DB, wallet, trigger string) (*models.ReputationJob, error) {
	job, err := d.newJob(wallet, trigger)
	if err != nil {
		return nil, err
	}
	if err := d.jobs.WithTx(tx).Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create reputation job: %w", err)
	}
	return job, nil
}

// Dispatch hands a committed job to the worker pool. A job that cannot be
// handed over stays PENDING for the sweep.
func (d *ReputationDispatcher) Dispatch(ctx context.Context, job *models.ReputationJob) {
	if d.engine == nil {
		// 请求已结束也要落最终状态
		ctx = context.WithoutCancel(ctx)
		if err := d.jobs.MarkFinal(ctx, job.ID, models.ReputationJobSkipped, 0, "no reputation engine configured"); err != nil {
			d.logger.WithError(err).WithField("job_id", job.ID).Warn("⚠️ Failed to mark reputation job skipped, left for the sweep")
			return
		}
		job.Status = models.ReputationJobSkipped
		metrics.ReputationJobs.WithLabelValues(string(models.ReputationJobSkipped)).Inc()
		return
	}
	d.submit(job.ID)
}

func (d *ReputationDispatcher) newJob(wallet, trigger string) (*models.ReputationJob, error) {
	address, err := utils.NormalizeEvmAddress(wallet)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	now := time.Now()
	return &models.ReputationJob{
		ID:            uuid.NewString(),
		WalletAddress: address,
		Trigger:       trigger,
		Status:        models.ReputationJobPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// submit queues a job id unless it is already queued or running
func (d *ReputationDispatcher) submit(jobID string) bool {
	if _, loaded := d.inflight.LoadOrStore(jobID, struct{}{}); loaded {
		return false
	}
	select {
	case d.queue <- jobID:
		return true
	default:
		d.inflight.Delete(jobID)
		d.logger.WithField("job_id", jobID).Warn("⚠️ Reputation queue full, job left for the sweep")
		return false
	}
}

// Start launches the worker pool
func (d *ReputationDispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true
	d.stopCh = make(chan struct{})

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	d.logger.WithField("workers", d.workers).Info("✅ Reputation dispatcher started")
}

// Stop waits for in-flight jobs; queued jobs stay PENDING in the store.
// A stopped dispatcher can be started again.
func (d *ReputationDispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return
	}
	d.started = false

	close(d.stopCh)
	d.wg.Wait()
	d.logger.Info("✅ Reputation dispatcher stopped")
}

func (d *ReputationDispatcher) worker(id int) {
	defer d.wg.Done()
	for {
		select {
		case <-d.stopCh:
			return
		case jobID := <-d.queue:
			d.ProcessJob(context.Background(), jobID)
			d.inflight.Delete(jobID)
		}
	}
}

// ProcessJob runs one job to completion, retrying the engine up to maxAttempts
func (d *ReputationDispatcher) ProcessJob(ctx context.Context, jobID string) {
	job, err := d.jobs.Get(ctx, jobID)
	if err != nil {
		d.logger.WithError(err).WithField("job_id", jobID).Error("❌ Failed to load reputation job")
		return
	}
	if job.Status != models.ReputationJobPending {
		return
	}
	if d.engine == nil {
		_ = d.jobs.MarkFinal(ctx, job.ID, models.ReputationJobSkipped, job.Attempts, "no reputation engine configured")
		metrics.ReputationJobs.WithLabelValues(string(models.ReputationJobSkipped)).Inc()
		return
	}

	attempts := job.Attempts
	var lastErr error
	for attempts < d.maxAttempts {
		attempts++
		result, err := d.recompute(ctx, job.WalletAddress)
		if err == nil {
			if err := d.jobs.MarkDone(ctx, job.ID, attempts, result.Changed, result.Level, result.TotalScore); err != nil {
				d.logger.WithError(err).WithField("job_id", job.ID).Error("❌ Failed to record reputation result")
				return
			}
			metrics.ReputationJobs.WithLabelValues(string(models.ReputationJobDone)).Inc()
			d.logger.WithFields(logrus.Fields{
				"job_id":      job.ID,
				"wallet":      job.WalletAddress,
				"trigger":     job.Trigger,
				"changed":     result.Changed,
				"level":       result.Level,
				"total_score": result.TotalScore,
			}).Info("⭐ Reputation recomputed")
			return
		}

		lastErr = err
		if recErr := d.jobs.RecordAttempt(ctx, job.ID, attempts, err.Error()); recErr != nil {
			d.logger.WithError(recErr).WithField("job_id", job.ID).Warn("⚠️ Failed to record reputation attempt")
		}
		if attempts < d.maxAttempts && !d.sleep(d.retryDelay*time.Duration(attempts)) {
			// shutting down: leave the job PENDING for the next sweep
			return
		}
	}

	if err := d.jobs.MarkFinal(ctx, job.ID, models.ReputationJobFailed, attempts, errorString(lastErr)); err != nil {
		d.logger.WithError(err).WithField("job_id", job.ID).Error("❌ Failed to mark reputation job failed")
		return
	}
	metrics.ReputationJobs.WithLabelValues(string(models.ReputationJobFailed)).Inc()
	d.logger.WithError(lastErr).WithFields(logrus.Fields{
		"job_id":   job.ID,
		"wallet":   job.WalletAddress,
		"attempts": attempts,
	}).Error("❌ Reputation recompute failed")
}

func (d *ReputationDispatcher) recompute(ctx context.Context, wallet string) (dto.ScoreResult, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	return d.engine.RecomputeScore(ctx, wallet)
}

// sleep returns false when the dispatcher is stopping
func (d *ReputationDispatcher) sleep(delay time.Duration) bool {
	if delay <= 0 {
		return true
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-d.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

// Sweep re-queues PENDING jobs older than the sweep age
func (d *ReputationDispatcher) Sweep(ctx context.Context) error {
	pending, err := d.jobs.FindPending(ctx, time.Now().Add(-d.sweepAge), cap(d.queue))
	if err != nil {
		return fmt.Errorf("failed to load pending reputation jobs: %w", err)
	}
	queued := 0
	for _, job := range pending {
		if d.submit(job.ID) {
			queued++
		}
	}
	if queued > 0 {
		d.logger.WithField("queued", queued).Info("🔄 Re-queued pending reputation jobs")
	}
	return nil
}

// Counts jobs per status
func (d *ReputationDispatcher) Counts(ctx context.Context) (map[models.ReputationJobStatus]int64, error) {
	return d.jobs.CountByStatus(ctx)
}

// Job reads one job
func (d *ReputationDispatcher) Job(ctx context.Context, id string) (*models.ReputationJob, error) {
	job, err := d.jobs.Get(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("reputation job %s not found: %w", id, err)
	}
	return job, err
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
