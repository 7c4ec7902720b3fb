package repository

import (
	"context"
	"errors"
	"time"

	"github.com/channelpulse/device-sync-service/internal/domain"
	"github.com/channelpulse/device-sync-service/internal/observability"

	"gorm.io/gorm"
)

var ErrSessionNotFound = errors.New("device session not found")

type SessionRepository interface {
	Create(ctx context.Context, s *domain.DeviceSession) error
	FindByID(ctx context.Context, sessionID uint) (*domain.DeviceSession, error)
	ListActiveByUserID(ctx context.Context, userID uint, now time.Time) ([]domain.DeviceSession, error)
	CountActiveByUserID(ctx context.Context, userID uint, now time.Time) (int64, error)
	TerminateOldestActive(ctx context.Context, userID uint, count int, reason string, now time.Time) (int64, error)
	TerminateByDeviceID(ctx context.Context, deviceID uint, reason string, now time.Time) (int64, error)
	TerminateByUserExceptDevice(ctx context.Context, userID, keepDeviceID uint, reason string, now time.Time) (int64, error)
	TouchActivity(ctx context.Context, sessionID uint, now time.Time) error
	TerminateInactiveSince(ctx context.Context, userID uint, cutoff time.Time, reason string, now time.Time) (int64, error)
	CleanupExpired(ctx context.Context, now time.Time) (int64, error)
}

type GormSessionRepository struct{ db *gorm.DB }

func NewSessionRepository(db *gorm.DB) *GormSessionRepository { return &GormSessionRepository{db: db} }

func (r *GormSessionRepository) Create(ctx context.Context, s *domain.DeviceSession) error {
	err := r.db.WithContext(ctx).Create(s).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "device_session", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "device_session", "create", "success")
	return nil
}

func (r *GormSessionRepository) FindByID(ctx context.Context, sessionID uint) (*domain.DeviceSession, error) {
	var s domain.DeviceSession
	err := r.db.WithContext(ctx).Where("id = ?", sessionID).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "device_session", "find_by_id", "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(ctx, "device_session", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "device_session", "find_by_id", "success")
	return &s, nil
}

func (r *GormSessionRepository) ListActiveByUserID(ctx context.Context, userID uint, now time.Time) ([]domain.DeviceSession, error) {
	var sessions []domain.DeviceSession
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ? AND expires_at > ?", userID, true, now).
		Order("login_at ASC, id ASC").
		Find(&sessions).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "device_session", "list_active_by_user_id", "error")
		return sessions, err
	}
	observability.RecordRepositoryOperation(ctx, "device_session", "list_active_by_user_id", "success")
	return sessions, nil
}

func (r *GormSessionRepository) CountActiveByUserID(ctx context.Context, userID uint, now time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.DeviceSession{}).
		Where("user_id = ? AND is_active = ? AND expires_at > ?", userID, true, now).
		Count(&count).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "device_session", "count_active_by_user_id", "error")
		return 0, err
	}
	observability.RecordRepositoryOperation(ctx, "device_session", "count_active_by_user_id", "success")
	return count, nil
}

// TerminateOldestActive evicts up to count active sessions for the user,
// oldest login first. Sessions sharing a login_at instant order by ascending
// id so eviction stays reproducible. Selection and update run in one
// transaction under row locks.
func (r *GormSessionRepository) TerminateOldestActive(ctx context.Context, userID uint, count int, reason string, now time.Time) (int64, error) {
	if count <= 0 {
		return 0, nil
	}
	var terminated int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var victims []domain.DeviceSession
		err := lockForUpdate(tx).
			Where("user_id = ? AND is_active = ? AND expires_at > ?", userID, true, now).
			Order("login_at ASC, id ASC").
			Limit(count).
			Find(&victims).Error
		if err != nil {
			return err
		}
		if len(victims) == 0 {
			return nil
		}
		ids := make([]uint, 0, len(victims))
		for _, v := range victims {
			ids = append(ids, v.ID)
		}
		res := tx.Model(&domain.DeviceSession{}).
			Where("id IN ?", ids).
			Updates(map[string]any{"is_active": false, "logout_at": now, "logout_reason": reason})
		if res.Error != nil {
			return res.Error
		}
		terminated = res.RowsAffected
		return nil
	})
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "device_session", "terminate_oldest_active", "error")
		return 0, err
	}
	observability.RecordRepositoryOperation(ctx, "device_session", "terminate_oldest_active", "success")
	return terminated, nil
}

func (r *GormSessionRepository) TerminateByDeviceID(ctx context.Context, deviceID uint, reason string, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.DeviceSession{}).
		Where("device_id = ? AND is_active = ?", deviceID, true).
		Updates(map[string]any{"is_active": false, "logout_at": now, "logout_reason": reason})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "device_session", "terminate_by_device_id", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "device_session", "terminate_by_device_id", "success")
	return res.RowsAffected, nil
}

func (r *GormSessionRepository) TerminateByUserExceptDevice(ctx context.Context, userID, keepDeviceID uint, reason string, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.DeviceSession{}).
		Where("user_id = ? AND device_id <> ? AND is_active = ?", userID, keepDeviceID, true).
		Updates(map[string]any{"is_active": false, "logout_at": now, "logout_reason": reason})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "device_session", "terminate_by_user_except_device", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "device_session", "terminate_by_user_except_device", "success")
	return res.RowsAffected, nil
}

func (r *GormSessionRepository) TouchActivity(ctx context.Context, sessionID uint, now time.Time) error {
	err := r.db.WithContext(ctx).Model(&domain.DeviceSession{}).
		Where("id = ? AND is_active = ?", sessionID, true).
		Update("last_activity_at", now).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "device_session", "touch_activity", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "device_session", "touch_activity", "success")
	return nil
}

// TerminateInactiveSince deactivates active sessions whose last activity
// predates the cutoff. Backs the auto-logout-inactive-sessions policy.
func (r *GormSessionRepository) TerminateInactiveSince(ctx context.Context, userID uint, cutoff time.Time, reason string, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.DeviceSession{}).
		Where("user_id = ? AND is_active = ? AND last_activity_at < ?", userID, true, cutoff).
		Updates(map[string]any{"is_active": false, "logout_at": now, "logout_reason": reason})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "device_session", "terminate_inactive_since", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "device_session", "terminate_inactive_since", "success")
	return res.RowsAffected, nil
}

// CleanupExpired flips still-active rows whose expiry has passed. Sessions are
// never physically deleted; expiry is one more terminal transition.
func (r *GormSessionRepository) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.DeviceSession{}).
		Where("is_active = ? AND expires_at <= ?", true, now).
		Updates(map[string]any{"is_active": false, "logout_at": now, "logout_reason": domain.LogoutReasonSessionExpired})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "device_session", "cleanup_expired", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "device_session", "cleanup_expired", "success")
	return res.RowsAffected, nil
}
