package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/channelpulse/device-sync-service/internal/domain"
	"github.com/channelpulse/device-sync-service/internal/observability"
	"github.com/channelpulse/device-sync-service/internal/repository"
)

type DeviceInfo struct {
	Fingerprint    string `json:"fingerprint"`
	DeviceName     string `json:"device_name"`
	DeviceType     string `json:"device_type"`
	BrowserName    string `json:"browser_name"`
	BrowserVersion string `json:"browser_version"`
	OSName         string `json:"os_name"`
	OSVersion      string `json:"os_version"`
	IPAddress      string `json:"ip_address"`
}

type SessionParams struct {
	SessionToken      string
	ExternalSessionID *string
	LoginMethod       string
	ExpiresAt         time.Time
}

type ConflictReport struct {
	HasConflicts        bool `json:"has_conflicts"`
	ActiveSessions      int  `json:"active_sessions"`
	MaxSessions         int  `json:"max_sessions"`
	SessionsToTerminate int  `json:"sessions_to_terminate"`
}

var (
	ErrInvalidDeviceInfo = errors.New("device fingerprint is required")
	ErrInvalidSyncConfig = errors.New("max_concurrent_sessions must be positive")
)

// DeviceSyncService maintains one device row per (user, fingerprint), enforces
// the concurrent-session cap by evicting the oldest sessions, and surfaces
// state changes as durable sync events and security alerts. Event and alert
// writes are best-effort: a failed audit write never rolls back the mutation
// it describes.
type DeviceSyncService struct {
	devices  repository.DeviceRepository
	sessions repository.SessionRepository
	events   repository.SyncEventRepository
	alerts   repository.SecurityAlertRepository
	configs  repository.SyncConfigRepository

	defaults   domain.EffectiveSyncConfig
	sessionTTL time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

func NewDeviceSyncService(
	devices repository.DeviceRepository,
	sessions repository.SessionRepository,
	events repository.SyncEventRepository,
	alerts repository.SecurityAlertRepository,
	configs repository.SyncConfigRepository,
	defaults domain.EffectiveSyncConfig,
	sessionTTL time.Duration,
	logger *slog.Logger,
) *DeviceSyncService {
	if defaults.MaxConcurrentSessions <= 0 {
		defaults.MaxConcurrentSessions = 5
	}
	if defaults.InactiveSessionTimeout <= 0 {
		defaults.InactiveSessionTimeout = int((30 * 24 * time.Hour).Seconds())
	}
	if sessionTTL <= 0 {
		sessionTTL = 7 * 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DeviceSyncService{
		devices:    devices,
		sessions:   sessions,
		events:     events,
		alerts:     alerts,
		configs:    configs,
		defaults:   defaults,
		sessionTTL: sessionTTL,
		logger:     logger,
		now:        time.Now,
	}
}

// RegisterDevice upserts the device keyed on (userID, fingerprint). A repeat
// registration with a different IP or browser version updates the existing
// row; it never creates a second device. First sightings raise a new_device
// security alert when the user has alerts enabled.
func (s *DeviceSyncService) RegisterDevice(ctx context.Context, userID uint, info DeviceInfo) (*domain.UserDevice, error) {
	if info.Fingerprint == "" {
		return nil, ErrInvalidDeviceInfo
	}
	now := s.now()
	device := &domain.UserDevice{
		UserID:            userID,
		DeviceFingerprint: info.Fingerprint,
		DeviceName:        info.DeviceName,
		DeviceType:        normalizeDeviceType(info.DeviceType),
		BrowserName:       info.BrowserName,
		BrowserVersion:    info.BrowserVersion,
		OSName:            info.OSName,
		OSVersion:         info.OSVersion,
		IPAddress:         info.IPAddress,
		IsActive:          true,
		FirstSeenAt:       now,
		LastSeenAt:        now,
	}
	created, err := s.devices.Upsert(ctx, device)
	if err != nil {
		return nil, fmt.Errorf("register device: %w", err)
	}
	if created {
		s.emitAlert(ctx, userID, &device.ID, domain.AlertTypeNewDevice, domain.SeverityMedium, map[string]string{
			"device_name": device.DeviceName,
			"device_type": device.DeviceType,
			"ip_address":  device.IPAddress,
		})
	}
	return device, nil
}

// CreateDeviceSession inserts a session row. It deliberately does not check
// the concurrency cap: conflict detection and resolution are explicit calls
// the login flow makes afterward, so callers can create a session
// provisionally and decide eviction policy on their own schedule.
func (s *DeviceSyncService) CreateDeviceSession(ctx context.Context, userID, deviceID uint, params SessionParams) (*domain.DeviceSession, error) {
	device, err := s.devices.FindByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if device.UserID != userID {
		return nil, repository.ErrDeviceNotFound
	}
	now := s.now()
	if params.SessionToken == "" {
		params.SessionToken = uuid.NewString()
	}
	if params.ExpiresAt.IsZero() {
		params.ExpiresAt = now.Add(s.sessionTTL)
	}
	session := &domain.DeviceSession{
		DeviceID:          device.ID,
		UserID:            device.UserID,
		SessionToken:      params.SessionToken,
		ExternalSessionID: params.ExternalSessionID,
		LoginMethod:       params.LoginMethod,
		LoginAt:           now,
		LastActivityAt:    now,
		ExpiresAt:         params.ExpiresAt,
		IsActive:          true,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create device session: %w", err)
	}
	if err := s.devices.TouchLastSeen(ctx, device.ID, now); err != nil {
		s.logger.WarnContext(ctx, "bump device last_seen failed", "device_id", device.ID, "error", err.Error())
	}
	s.emitEvent(ctx, &domain.SyncEvent{
		UserID:    device.UserID,
		DeviceID:  device.ID,
		EventType: domain.SyncEventLogin,
		EventData: map[string]string{
			"login_method": params.LoginMethod,
			"session_id":   strconv.FormatUint(uint64(session.ID), 10),
		},
		SourceDeviceID: &device.ID,
	})
	return session, nil
}

// DetectLoginConflicts is a pure read: it counts live sessions across all of
// the user's devices and compares against the configured cap.
func (s *DeviceSyncService) DetectLoginConflicts(ctx context.Context, userID uint) (ConflictReport, error) {
	cfg, err := s.GetSyncConfig(ctx, userID)
	if err != nil {
		return ConflictReport{}, err
	}
	count, err := s.sessions.CountActiveByUserID(ctx, userID, s.now())
	if err != nil {
		return ConflictReport{}, fmt.Errorf("count active sessions: %w", err)
	}
	active := int(count)
	toTerminate := active - cfg.MaxConcurrentSessions
	if toTerminate < 0 {
		toTerminate = 0
	}
	return ConflictReport{
		HasConflicts:        toTerminate > 0,
		ActiveSessions:      active,
		MaxSessions:         cfg.MaxConcurrentSessions,
		SessionsToTerminate: toTerminate,
	}, nil
}

// HandleLoginConflicts re-runs detection and evicts the oldest sessions by
// login time, globally across the user's devices. Newest logins win. One
// aggregate conflict event is recorded per resolution call regardless of how
// many sessions were terminated.
func (s *DeviceSyncService) HandleLoginConflicts(ctx context.Context, userID, currentDeviceID uint) (ConflictReport, error) {
	cfg, err := s.GetSyncConfig(ctx, userID)
	if err != nil {
		return ConflictReport{}, err
	}
	now := s.now()
	if cfg.AutoLogoutInactiveSessions {
		cutoff := now.Add(-time.Duration(cfg.InactiveSessionTimeout) * time.Second)
		if _, err := s.sessions.TerminateInactiveSince(ctx, userID, cutoff, domain.LogoutReasonSessionExpired, now); err != nil {
			s.logger.WarnContext(ctx, "auto-logout of inactive sessions failed", "user_id", userID, "error", err.Error())
		}
	}

	report, err := s.DetectLoginConflicts(ctx, userID)
	if err != nil {
		return ConflictReport{}, err
	}
	if !report.HasConflicts {
		return report, nil
	}

	terminated, err := s.sessions.TerminateOldestActive(ctx, userID, report.SessionsToTerminate, domain.LogoutReasonConflict, now)
	if err != nil {
		return report, fmt.Errorf("terminate conflicting sessions: %w", err)
	}
	observability.RecordSessionConflict(terminated)

	s.emitEvent(ctx, &domain.SyncEvent{
		UserID:    userID,
		DeviceID:  currentDeviceID,
		EventType: domain.SyncEventConflict,
		EventData: map[string]string{
			"terminated_sessions": strconv.FormatInt(terminated, 10),
			"max_sessions":        strconv.Itoa(report.MaxSessions),
			"reason":              domain.LogoutReasonConflict,
		},
		SourceDeviceID: &currentDeviceID,
	})
	s.emitAlert(ctx, userID, &currentDeviceID, domain.AlertTypeConcurrentSessions, domain.SeverityMedium, map[string]string{
		"active_sessions":     strconv.Itoa(report.ActiveSessions),
		"max_sessions":        strconv.Itoa(report.MaxSessions),
		"terminated_sessions": strconv.FormatInt(terminated, 10),
	})
	return report, nil
}

// LogoutDevice terminates every active session of one device and deactivates
// the device row. Device-level, not session-level.
func (s *DeviceSyncService) LogoutDevice(ctx context.Context, userID, deviceID uint, reason string) (int64, error) {
	device, err := s.devices.FindByID(ctx, deviceID)
	if err != nil {
		return 0, err
	}
	if device.UserID != userID {
		return 0, repository.ErrDeviceNotFound
	}
	if reason == "" {
		reason = domain.LogoutReasonUserInitiated
	}
	now := s.now()
	terminated, err := s.sessions.TerminateByDeviceID(ctx, deviceID, reason, now)
	if err != nil {
		return 0, fmt.Errorf("terminate device sessions: %w", err)
	}
	if err := s.devices.Deactivate(ctx, deviceID); err != nil {
		return terminated, fmt.Errorf("deactivate device: %w", err)
	}
	s.emitEvent(ctx, &domain.SyncEvent{
		UserID:    device.UserID,
		DeviceID:  deviceID,
		EventType: domain.SyncEventLogout,
		EventData: map[string]string{
			"reason":              reason,
			"terminated_sessions": strconv.FormatInt(terminated, 10),
		},
		TargetDeviceID: &deviceID,
	})
	return terminated, nil
}

// LogoutOtherDevices implements "log out everywhere else": every active device
// except the current one loses its sessions and is deactivated. Returns the
// number of devices affected.
func (s *DeviceSyncService) LogoutOtherDevices(ctx context.Context, userID, currentDeviceID uint) (int64, error) {
	now := s.now()
	if _, err := s.sessions.TerminateByUserExceptDevice(ctx, userID, currentDeviceID, domain.LogoutReasonLogoutOtherDevices, now); err != nil {
		return 0, fmt.Errorf("terminate other sessions: %w", err)
	}
	terminatedDevices, err := s.devices.DeactivateOthers(ctx, userID, currentDeviceID)
	if err != nil {
		return 0, fmt.Errorf("deactivate other devices: %w", err)
	}
	s.emitEvent(ctx, &domain.SyncEvent{
		UserID:    userID,
		DeviceID:  currentDeviceID,
		EventType: domain.SyncEventLogout,
		EventData: map[string]string{
			"reason":             domain.LogoutReasonLogoutOtherDevices,
			"terminated_devices": strconv.FormatInt(terminatedDevices, 10),
		},
		SourceDeviceID: &currentDeviceID,
	})
	return terminatedDevices, nil
}

func (s *DeviceSyncService) ListDevices(ctx context.Context, userID uint) ([]domain.UserDevice, error) {
	return s.devices.ListByUserID(ctx, userID)
}

func (s *DeviceSyncService) ListActiveDevices(ctx context.Context, userID uint) ([]domain.UserDevice, error) {
	return s.devices.ListActiveByUserID(ctx, userID)
}

func (s *DeviceSyncService) GetPendingSyncEvents(ctx context.Context, userID uint, limit int) ([]domain.SyncEvent, error) {
	return s.events.ListPendingByUserID(ctx, userID, limit)
}

func (s *DeviceSyncService) MarkSyncEventProcessed(ctx context.Context, userID, eventID uint) (bool, error) {
	return s.events.MarkProcessed(ctx, userID, eventID, s.now())
}

func (s *DeviceSyncService) ListSecurityAlerts(ctx context.Context, userID uint, unresolvedOnly bool) ([]domain.SecurityAlert, error) {
	return s.alerts.ListByUserID(ctx, userID, unresolvedOnly)
}

func (s *DeviceSyncService) AcknowledgeSecurityAlert(ctx context.Context, userID, alertID uint) (bool, error) {
	return s.alerts.Acknowledge(ctx, userID, alertID)
}

func (s *DeviceSyncService) ResolveSecurityAlert(ctx context.Context, userID, alertID uint) (bool, error) {
	return s.alerts.Resolve(ctx, userID, alertID)
}

// GetSyncConfig coalesces the stored row column-by-column over the service
// defaults. A user with no row is indistinguishable from one with an
// all-default row.
func (s *DeviceSyncService) GetSyncConfig(ctx context.Context, userID uint) (domain.EffectiveSyncConfig, error) {
	stored, err := s.configs.FindByUserID(ctx, userID)
	if errors.Is(err, repository.ErrSyncConfigNotFound) {
		return s.defaults, nil
	}
	if err != nil {
		// Availability over strictness: a broken config read falls back to
		// defaults rather than failing the caller's flow.
		s.logger.WarnContext(ctx, "sync config read failed, using defaults", "user_id", userID, "error", err.Error())
		return s.defaults, nil
	}
	return s.coalesce(stored), nil
}

// UpdateSyncConfig merges the non-nil fields of updates into the stored row.
func (s *DeviceSyncService) UpdateSyncConfig(ctx context.Context, userID uint, updates domain.SyncConfig) (domain.EffectiveSyncConfig, error) {
	stored, err := s.configs.FindByUserID(ctx, userID)
	if errors.Is(err, repository.ErrSyncConfigNotFound) {
		stored = &domain.SyncConfig{UserID: userID}
	} else if err != nil {
		return domain.EffectiveSyncConfig{}, err
	}
	if updates.MaxConcurrentSessions != nil {
		if *updates.MaxConcurrentSessions <= 0 {
			return domain.EffectiveSyncConfig{}, ErrInvalidSyncConfig
		}
		stored.MaxConcurrentSessions = updates.MaxConcurrentSessions
	}
	if updates.AutoLogoutInactiveSessions != nil {
		stored.AutoLogoutInactiveSessions = updates.AutoLogoutInactiveSessions
	}
	if updates.InactiveSessionTimeout != nil {
		stored.InactiveSessionTimeout = updates.InactiveSessionTimeout
	}
	if updates.RequireDeviceApproval != nil {
		stored.RequireDeviceApproval = updates.RequireDeviceApproval
	}
	if updates.EnableSecurityAlerts != nil {
		stored.EnableSecurityAlerts = updates.EnableSecurityAlerts
	}
	if updates.SyncPreferences != nil {
		stored.SyncPreferences = updates.SyncPreferences
	}
	if updates.SyncActivity != nil {
		stored.SyncActivity = updates.SyncActivity
	}
	if err := s.configs.Upsert(ctx, stored); err != nil {
		return domain.EffectiveSyncConfig{}, fmt.Errorf("update sync config: %w", err)
	}
	return s.coalesce(stored), nil
}

// CleanupExpiredSessions is the periodic maintenance pass; not invoked on the
// request path.
func (s *DeviceSyncService) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	return s.sessions.CleanupExpired(ctx, s.now())
}

func (s *DeviceSyncService) coalesce(stored *domain.SyncConfig) domain.EffectiveSyncConfig {
	out := s.defaults
	if stored.MaxConcurrentSessions != nil {
		out.MaxConcurrentSessions = *stored.MaxConcurrentSessions
	}
	if stored.AutoLogoutInactiveSessions != nil {
		out.AutoLogoutInactiveSessions = *stored.AutoLogoutInactiveSessions
	}
	if stored.InactiveSessionTimeout != nil {
		out.InactiveSessionTimeout = *stored.InactiveSessionTimeout
	}
	if stored.RequireDeviceApproval != nil {
		out.RequireDeviceApproval = *stored.RequireDeviceApproval
	}
	if stored.EnableSecurityAlerts != nil {
		out.EnableSecurityAlerts = *stored.EnableSecurityAlerts
	}
	if stored.SyncPreferences != nil {
		out.SyncPreferences = *stored.SyncPreferences
	}
	if stored.SyncActivity != nil {
		out.SyncActivity = *stored.SyncActivity
	}
	return out
}

// emitEvent writes a sync event for downstream consumers. Best-effort: the
// originating mutation already committed, so failures are logged and dropped.
func (s *DeviceSyncService) emitEvent(ctx context.Context, event *domain.SyncEvent) {
	if err := s.events.Create(ctx, event); err != nil {
		observability.RecordSyncEventEmitted(event.EventType, "error")
		s.logger.WarnContext(ctx, "sync event write failed",
			"event_type", event.EventType,
			"user_id", event.UserID,
			"error", err.Error(),
		)
		return
	}
	observability.RecordSyncEventEmitted(event.EventType, "success")
}

func (s *DeviceSyncService) emitAlert(ctx context.Context, userID uint, deviceID *uint, alertType, severity string, data map[string]string) {
	cfg, err := s.GetSyncConfig(ctx, userID)
	if err == nil && !cfg.EnableSecurityAlerts {
		return
	}
	alert := &domain.SecurityAlert{
		UserID:    userID,
		DeviceID:  deviceID,
		AlertType: alertType,
		Severity:  severity,
		AlertData: data,
	}
	if err := s.alerts.Create(ctx, alert); err != nil {
		s.logger.WarnContext(ctx, "security alert write failed",
			"alert_type", alertType,
			"user_id", userID,
			"error", err.Error(),
		)
		return
	}
	observability.RecordSecurityAlertCreated(alertType, severity)
}

func normalizeDeviceType(deviceType string) string {
	switch deviceType {
	case domain.DeviceTypeDesktop, domain.DeviceTypeMobile, domain.DeviceTypeTablet:
		return deviceType
	default:
		return domain.DeviceTypeDesktop
	}
}
