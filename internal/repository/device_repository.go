package repository

import (
	"context"
	"errors"
	"time"

	"github.com/channelpulse/device-sync-service/internal/domain"
	"github.com/channelpulse/device-sync-service/internal/observability"

	"gorm.io/gorm"
)

var ErrDeviceNotFound = errors.New("device not found")

type DeviceRepository interface {
	Upsert(ctx context.Context, device *domain.UserDevice) (created bool, err error)
	FindByID(ctx context.Context, deviceID uint) (*domain.UserDevice, error)
	FindByUserAndFingerprint(ctx context.Context, userID uint, fingerprint string) (*domain.UserDevice, error)
	ListByUserID(ctx context.Context, userID uint) ([]domain.UserDevice, error)
	ListActiveByUserID(ctx context.Context, userID uint) ([]domain.UserDevice, error)
	TouchLastSeen(ctx context.Context, deviceID uint, now time.Time) error
	Deactivate(ctx context.Context, deviceID uint) error
	DeactivateOthers(ctx context.Context, userID, keepDeviceID uint) (int64, error)
}

type GormDeviceRepository struct{ db *gorm.DB }

func NewDeviceRepository(db *gorm.DB) *GormDeviceRepository { return &GormDeviceRepository{db: db} }

// Upsert registers a device keyed on (user_id, device_fingerprint). Descriptive
// fields and last_seen_at are refreshed on conflict; an IP or UA change never
// creates a second row. The record's ID is populated on return, and created
// reports whether this was the first sighting of the pair.
func (r *GormDeviceRepository) Upsert(ctx context.Context, device *domain.UserDevice) (bool, error) {
	created := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing domain.UserDevice
		err := lockForUpdate(tx).
			Where("user_id = ? AND device_fingerprint = ?", device.UserID, device.DeviceFingerprint).
			First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			created = true
			return tx.Create(device).Error
		}
		if err != nil {
			return err
		}
		if err := tx.Model(&existing).Updates(map[string]any{
			"device_name":     device.DeviceName,
			"device_type":     device.DeviceType,
			"browser_name":    device.BrowserName,
			"browser_version": device.BrowserVersion,
			"os_name":         device.OSName,
			"os_version":      device.OSVersion,
			"ip_address":      device.IPAddress,
			"is_active":       true,
			"last_seen_at":    device.LastSeenAt,
		}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", existing.ID).First(device).Error
	})
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "user_device", "upsert", "error")
		return false, err
	}
	observability.RecordRepositoryOperation(ctx, "user_device", "upsert", "success")
	return created, nil
}

func (r *GormDeviceRepository) FindByID(ctx context.Context, deviceID uint) (*domain.UserDevice, error) {
	var device domain.UserDevice
	err := r.db.WithContext(ctx).Where("id = ?", deviceID).First(&device).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "user_device", "find_by_id", "not_found")
			return nil, ErrDeviceNotFound
		}
		observability.RecordRepositoryOperation(ctx, "user_device", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "user_device", "find_by_id", "success")
	return &device, nil
}

func (r *GormDeviceRepository) FindByUserAndFingerprint(ctx context.Context, userID uint, fingerprint string) (*domain.UserDevice, error) {
	var device domain.UserDevice
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND device_fingerprint = ?", userID, fingerprint).
		First(&device).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "user_device", "find_by_user_and_fingerprint", "not_found")
			return nil, ErrDeviceNotFound
		}
		observability.RecordRepositoryOperation(ctx, "user_device", "find_by_user_and_fingerprint", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "user_device", "find_by_user_and_fingerprint", "success")
	return &device, nil
}

func (r *GormDeviceRepository) ListByUserID(ctx context.Context, userID uint) ([]domain.UserDevice, error) {
	var devices []domain.UserDevice
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("last_seen_at DESC").
		Find(&devices).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "user_device", "list_by_user_id", "error")
		return devices, err
	}
	observability.RecordRepositoryOperation(ctx, "user_device", "list_by_user_id", "success")
	return devices, nil
}

func (r *GormDeviceRepository) ListActiveByUserID(ctx context.Context, userID uint) ([]domain.UserDevice, error) {
	var devices []domain.UserDevice
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("last_seen_at DESC").
		Find(&devices).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "user_device", "list_active_by_user_id", "error")
		return devices, err
	}
	observability.RecordRepositoryOperation(ctx, "user_device", "list_active_by_user_id", "success")
	return devices, nil
}

func (r *GormDeviceRepository) TouchLastSeen(ctx context.Context, deviceID uint, now time.Time) error {
	err := r.db.WithContext(ctx).Model(&domain.UserDevice{}).
		Where("id = ?", deviceID).
		Update("last_seen_at", now).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "user_device", "touch_last_seen", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "user_device", "touch_last_seen", "success")
	return nil
}

func (r *GormDeviceRepository) Deactivate(ctx context.Context, deviceID uint) error {
	err := r.db.WithContext(ctx).Model(&domain.UserDevice{}).
		Where("id = ? AND is_active = ?", deviceID, true).
		Update("is_active", false).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "user_device", "deactivate", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "user_device", "deactivate", "success")
	return nil
}

func (r *GormDeviceRepository) DeactivateOthers(ctx context.Context, userID, keepDeviceID uint) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.UserDevice{}).
		Where("user_id = ? AND id <> ? AND is_active = ?", userID, keepDeviceID, true).
		Update("is_active", false)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "user_device", "deactivate_others", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "user_device", "deactivate_others", "success")
	return res.RowsAffected, nil
}
