package repository

import (
	"context"
	"errors"
	"time"

	"ledger-backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CursorRepository persists per-stream scan cursors. Cursors only move forward.
type CursorRepository interface {
	WithTx(tx *gorm.DB) CursorRepository
	Get(ctx context.Context, id string) (uint64, bool, error)
	Seed(ctx context.Context, id string, block uint64) (uint64, error)
	Advance(ctx context.Context, id string, block uint64) (bool, error)
}

type cursorRepository struct {
	db *gorm.DB
}

// NewCursorRepository creates a new CursorRepository instance
func NewCursorRepository(db *gorm.DB) CursorRepository {
	return &cursorRepository{db: db}
}

func (r *cursorRepository) WithTx(tx *gorm.DB) CursorRepository {
	return &cursorRepository{db: tx}
}

// Get returns found=false when the stream has never been seeded
func (r *cursorRepository) Get(ctx context.Context, id string) (uint64, bool, error) {
	var cursor models.SyncCursor
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&cursor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return cursor.LastBlock, true, nil
}

// Seed creates the cursor at block unless another writer got there first,
// and returns the stored value either way
func (r *cursorRepository) Seed(ctx context.Context, id string, block uint64) (uint64, error) {
	cursor := models.SyncCursor{ID: id, LastBlock: block, UpdatedAt: time.Now()}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&cursor).Error; err != nil {
		return 0, err
	}
	last, _, err := r.Get(ctx, id)
	return last, err
}

// Advance moves the cursor to block only if that is forward; reports whether it moved
func (r *cursorRepository) Advance(ctx context.Context, id string, block uint64) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.SyncCursor{}).
		Where("id = ? AND last_block < ?", id, block).
		Updates(map[string]interface{}{
			"last_block": block,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
