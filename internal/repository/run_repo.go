package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/listrelay/listrelay/internal/domain"
)

const maxRunListLimit = 200

// RunRepository persists the audit trail of finished reload runs.
type RunRepository struct {
	db *gorm.DB
}

// NewRunRepository creates a new RunRepository.
func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Create inserts a finished run record.
func (r *RunRepository) Create(ctx context.Context, run *domain.ReloadRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

// Recent returns the most recently finished runs, newest first. The limit is
// capped; a non-positive limit uses a default page.
func (r *RunRepository) Recent(ctx context.Context, limit int) ([]domain.ReloadRun, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > maxRunListLimit {
		limit = maxRunListLimit
	}
	var runs []domain.ReloadRun
	err := r.db.WithContext(ctx).
		Order("finished_at DESC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, err
	}
	return runs, nil
}

// CountByStatus returns how many recorded runs finished with the given
// status.
func (r *RunRepository) CountByStatus(ctx context.Context, status domain.RunStatus) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&domain.ReloadRun{}).
		Where("status = ?", status).
		Count(&n).Error
	return n, err
}
