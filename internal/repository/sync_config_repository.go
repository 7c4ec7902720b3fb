package repository

import (
	"context"
	"errors"

	"github.com/channelpulse/device-sync-service/internal/domain"
	"github.com/channelpulse/device-sync-service/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrSyncConfigNotFound = errors.New("sync config not found")

type SyncConfigRepository interface {
	FindByUserID(ctx context.Context, userID uint) (*domain.SyncConfig, error)
	Upsert(ctx context.Context, cfg *domain.SyncConfig) error
}

type GormSyncConfigRepository struct{ db *gorm.DB }

func NewSyncConfigRepository(db *gorm.DB) *GormSyncConfigRepository {
	return &GormSyncConfigRepository{db: db}
}

func (r *GormSyncConfigRepository) FindByUserID(ctx context.Context, userID uint) (*domain.SyncConfig, error) {
	var cfg domain.SyncConfig
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&cfg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "sync_config", "find_by_user_id", "not_found")
			return nil, ErrSyncConfigNotFound
		}
		observability.RecordRepositoryOperation(ctx, "sync_config", "find_by_user_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "sync_config", "find_by_user_id", "success")
	return &cfg, nil
}

// Upsert writes the user's config row, replacing any prior partial row. Nil
// fields stay null in storage so reads keep coalescing them over defaults.
func (r *GormSyncConfigRepository) Upsert(ctx context.Context, cfg *domain.SyncConfig) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"max_concurrent_sessions",
			"auto_logout_inactive_sessions",
			"inactive_session_timeout",
			"require_device_approval",
			"enable_security_alerts",
			"sync_preferences",
			"sync_activity",
			"updated_at",
		}),
	}).Create(cfg).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "sync_config", "upsert", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "sync_config", "upsert", "success")
	return nil
}
