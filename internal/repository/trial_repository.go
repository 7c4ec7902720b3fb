package repository

import (
	"context"
	"errors"
	"time"

	"github.com/channelpulse/device-sync-service/internal/domain"
	"github.com/channelpulse/device-sync-service/internal/observability"

	"gorm.io/gorm"
)

var ErrTrialRecordNotFound = errors.New("trial record not found")

type TrialRepository interface {
	Get(ctx context.Context, fingerprint string) (*domain.TrialRecord, error)
	Create(ctx context.Context, record *domain.TrialRecord) error
	Mutate(ctx context.Context, fingerprint string, fn func(*domain.TrialRecord) error) (*domain.TrialRecord, error)
	Ping(ctx context.Context) error
	CleanupStale(ctx context.Context, olderThan time.Time) (int64, error)
}

type GormTrialRepository struct{ db *gorm.DB }

func NewTrialRepository(db *gorm.DB) *GormTrialRepository { return &GormTrialRepository{db: db} }

func (r *GormTrialRepository) Get(ctx context.Context, fingerprint string) (*domain.TrialRecord, error) {
	var record domain.TrialRecord
	err := r.db.WithContext(ctx).Where("fingerprint = ?", fingerprint).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "trial_record", "get", "not_found")
			return nil, ErrTrialRecordNotFound
		}
		observability.RecordRepositoryOperation(ctx, "trial_record", "get", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "trial_record", "get", "success")
	return &record, nil
}

func (r *GormTrialRepository) Create(ctx context.Context, record *domain.TrialRecord) error {
	err := r.db.WithContext(ctx).Create(record).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "trial_record", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "trial_record", "create", "success")
	return nil
}

// Mutate applies fn to the record under a row lock and persists the result in
// the same transaction. Consumption goes through here so two concurrent
// consumes for one fingerprint serialize on the row instead of both reading
// the same remaining count.
func (r *GormTrialRepository) Mutate(ctx context.Context, fingerprint string, fn func(*domain.TrialRecord) error) (*domain.TrialRecord, error) {
	var mutated *domain.TrialRecord
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record domain.TrialRecord
		err := lockForUpdate(tx).
			Where("fingerprint = ?", fingerprint).
			First(&record).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTrialRecordNotFound
			}
			return err
		}
		if err := fn(&record); err != nil {
			return err
		}
		if err := tx.Save(&record).Error; err != nil {
			return err
		}
		mutated = &record
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrTrialRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "trial_record", "mutate", "not_found")
		} else {
			observability.RecordRepositoryOperation(ctx, "trial_record", "mutate", "error")
		}
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "trial_record", "mutate", "success")
	return mutated, nil
}

// Ping is the lightweight availability probe used by the failover store.
func (r *GormTrialRepository) Ping(ctx context.Context) error {
	return r.db.WithContext(ctx).Exec("SELECT 1").Error
}

// CleanupStale hard-deletes anonymous records that never converted and have
// been idle past the retention cutoff. The only path that deletes trial rows.
func (r *GormTrialRepository) CleanupStale(ctx context.Context, olderThan time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("converted_user_id IS NULL AND last_reset_at < ?", olderThan).
		Delete(&domain.TrialRecord{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "trial_record", "cleanup_stale", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "trial_record", "cleanup_stale", "success")
	return res.RowsAffected, nil
}
