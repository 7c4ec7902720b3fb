package repository

import (
	"context"
	"errors"
	"time"

	"github.com/channelpulse/device-sync-service/internal/domain"
	"github.com/channelpulse/device-sync-service/internal/observability"

	"gorm.io/gorm"
)

var ErrSyncEventNotFound = errors.New("sync event not found")

type SyncEventRepository interface {
	Create(ctx context.Context, event *domain.SyncEvent) error
	ListPendingByUserID(ctx context.Context, userID uint, limit int) ([]domain.SyncEvent, error)
	MarkProcessed(ctx context.Context, userID, eventID uint, now time.Time) (bool, error)
}

type GormSyncEventRepository struct{ db *gorm.DB }

func NewSyncEventRepository(db *gorm.DB) *GormSyncEventRepository {
	return &GormSyncEventRepository{db: db}
}

func (r *GormSyncEventRepository) Create(ctx context.Context, event *domain.SyncEvent) error {
	err := r.db.WithContext(ctx).Create(event).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "sync_event", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "sync_event", "create", "success")
	return nil
}

func (r *GormSyncEventRepository) ListPendingByUserID(ctx context.Context, userID uint, limit int) ([]domain.SyncEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var events []domain.SyncEvent
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_processed = ?", userID, false).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "sync_event", "list_pending_by_user_id", "error")
		return events, err
	}
	observability.RecordRepositoryOperation(ctx, "sync_event", "list_pending_by_user_id", "success")
	return events, nil
}

// MarkProcessed acks an event. Idempotent: a second ack for the same id is a
// no-op reported as changed=false, not an error.
func (r *GormSyncEventRepository) MarkProcessed(ctx context.Context, userID, eventID uint, now time.Time) (bool, error) {
	var exists int64
	if err := r.db.WithContext(ctx).Model(&domain.SyncEvent{}).
		Where("user_id = ? AND id = ?", userID, eventID).
		Count(&exists).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "sync_event", "mark_processed", "error")
		return false, err
	}
	if exists == 0 {
		observability.RecordRepositoryOperation(ctx, "sync_event", "mark_processed", "not_found")
		return false, ErrSyncEventNotFound
	}
	res := r.db.WithContext(ctx).Model(&domain.SyncEvent{}).
		Where("user_id = ? AND id = ? AND is_processed = ?", userID, eventID, false).
		Updates(map[string]any{"is_processed": true, "processed_at": now})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "sync_event", "mark_processed", "error")
		return false, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "sync_event", "mark_processed", "success")
	return res.RowsAffected > 0, nil
}
