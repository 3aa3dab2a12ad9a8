package repository

import (
	"context"
	"time"

	"ledger-backend/internal/models"

	"gorm.io/gorm"
)

// ReputationJobRepository defines the interface for post-commit reputation jobs
type ReputationJobRepository interface {
	WithTx(tx *gorm.DB) ReputationJobRepository
	Create(ctx context.Context, job *models.ReputationJob) error
	Get(ctx context.Context, id string) (*models.ReputationJob, error)
	RecordAttempt(ctx context.Context, id string, attempts int, lastErr string) error
	MarkDone(ctx context.Context, id string, attempts int, changed bool, level string, totalScore int64) error
	MarkFinal(ctx context.Context, id string, status models.ReputationJobStatus, attempts int, lastErr string) error
	FindPending(ctx context.Context, createdBefore time.Time, limit int) ([]*models.ReputationJob, error)
	CountByStatus(ctx context.Context) (map[models.ReputationJobStatus]int64, error)
}

type reputationJobRepository struct {
	db *gorm.DB
}

// NewReputationJobRepository creates a new ReputationJobRepository instance
func NewReputationJobRepository(db *gorm.DB) ReputationJobRepository {
	return &reputationJobRepository{db: db}
}

func (r *reputationJobRepository) WithTx(tx *gorm.DB) ReputationJobRepository {
	return &reputationJobRepository{db: tx}
}

func (r *reputationJobRepository) Create(ctx context.Context, job *models.ReputationJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *reputationJobRepository) Get(ctx context.Context, id string) (*models.ReputationJob, error) {
	var job models.ReputationJob
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *reputationJobRepository) RecordAttempt(ctx context.Context, id string, attempts int, lastErr string) error {
	return r.db.WithContext(ctx).Model(&models.ReputationJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"attempts":   attempts,
			"last_error": lastErr,
			"updated_at": time.Now(),
		}).Error
}

func (r *reputationJobRepository) MarkDone(ctx context.Context, id string, attempts int, changed bool, level string, totalScore int64) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&models.ReputationJob{}).
		Where("id = ? AND status = ?", id, models.ReputationJobPending).
		Updates(map[string]interface{}{
			"status":       models.ReputationJobDone,
			"attempts":     attempts,
			"last_error":   "",
			"changed":      changed,
			"level":        level,
			"total_score":  totalScore,
			"completed_at": now,
			"updated_at":   now,
		}).Error
}

// MarkFinal closes a pending job as FAILED or SKIPPED
func (r *reputationJobRepository) MarkFinal(ctx context.Context, id string, status models.ReputationJobStatus, attempts int, lastErr string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&models.ReputationJob{}).
		Where("id = ? AND status = ?", id, models.ReputationJobPending).
		Updates(map[string]interface{}{
			"status":       status,
			"attempts":     attempts,
			"last_error":   lastErr,
			"completed_at": now,
			"updated_at":   now,
		}).Error
}

func (r *reputationJobRepository) FindPending(ctx context.Context, createdBefore time.Time, limit int) ([]*models.ReputationJob, error) {
	var jobs []*models.ReputationJob
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.ReputationJobPending, createdBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *reputationJobRepository) CountByStatus(ctx context.Context) (map[models.ReputationJobStatus]int64, error) {
	var rows []struct {
		Status models.ReputationJobStatus
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&models.ReputationJob{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[models.ReputationJobStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
