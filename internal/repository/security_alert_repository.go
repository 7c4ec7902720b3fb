package repository

import (
	"context"
	"errors"

	"github.com/channelpulse/device-sync-service/internal/domain"
	"github.com/channelpulse/device-sync-service/internal/observability"

	"gorm.io/gorm"
)

var ErrSecurityAlertNotFound = errors.New("security alert not found")

type SecurityAlertRepository interface {
	Create(ctx context.Context, alert *domain.SecurityAlert) error
	ListByUserID(ctx context.Context, userID uint, unresolvedOnly bool) ([]domain.SecurityAlert, error)
	Acknowledge(ctx context.Context, userID, alertID uint) (bool, error)
	Resolve(ctx context.Context, userID, alertID uint) (bool, error)
}

type GormSecurityAlertRepository struct{ db *gorm.DB }

func NewSecurityAlertRepository(db *gorm.DB) *GormSecurityAlertRepository {
	return &GormSecurityAlertRepository{db: db}
}

func (r *GormSecurityAlertRepository) Create(ctx context.Context, alert *domain.SecurityAlert) error {
	err := r.db.WithContext(ctx).Create(alert).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "security_alert", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "security_alert", "create", "success")
	return nil
}

func (r *GormSecurityAlertRepository) ListByUserID(ctx context.Context, userID uint, unresolvedOnly bool) ([]domain.SecurityAlert, error) {
	query := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if unresolvedOnly {
		query = query.Where("is_resolved = ?", false)
	}
	var alerts []domain.SecurityAlert
	err := query.Order("created_at DESC, id DESC").Find(&alerts).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "security_alert", "list_by_user_id", "error")
		return alerts, err
	}
	observability.RecordRepositoryOperation(ctx, "security_alert", "list_by_user_id", "success")
	return alerts, nil
}

// Acknowledge flips only the acknowledged flag. Resolution is a separate,
// independent transition.
func (r *GormSecurityAlertRepository) Acknowledge(ctx context.Context, userID, alertID uint) (bool, error) {
	return r.setFlag(ctx, userID, alertID, "is_acknowledged", "acknowledge")
}

func (r *GormSecurityAlertRepository) Resolve(ctx context.Context, userID, alertID uint) (bool, error) {
	return r.setFlag(ctx, userID, alertID, "is_resolved", "resolve")
}

func (r *GormSecurityAlertRepository) setFlag(ctx context.Context, userID, alertID uint, column, operation string) (bool, error) {
	var exists int64
	if err := r.db.WithContext(ctx).Model(&domain.SecurityAlert{}).
		Where("user_id = ? AND id = ?", userID, alertID).
		Count(&exists).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "security_alert", operation, "error")
		return false, err
	}
	if exists == 0 {
		observability.RecordRepositoryOperation(ctx, "security_alert", operation, "not_found")
		return false, ErrSecurityAlertNotFound
	}
	res := r.db.WithContext(ctx).Model(&domain.SecurityAlert{}).
		Where("user_id = ? AND id = ? AND "+column+" = ?", userID, alertID, false).
		Update(column, true)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "security_alert", operation, "error")
		return false, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "security_alert", operation, "success")
	return res.RowsAffected > 0, nil
}
