package domain

import "time"

const (
	SyncEventLogin         = "login"
	SyncEventLogout        = "logout"
	SyncEventConflict      = "conflict"
	SyncEventSecurityAlert = "security_alert"
	SyncEventSync          = "sync"
)

const (
	AlertTypeNewDevice          = "new_device"
	AlertTypeSuspiciousLogin    = "suspicious_login"
	AlertTypeConcurrentSessions = "concurrent_sessions"
	AlertTypeLocationChange     = "location_change"
)

const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// SyncEvent is an append-only record of a cross-device state change. Consumers
// ack by setting is_processed; the ack is idempotent by id.
type SyncEvent struct {
	ID             uint              `gorm:"primaryKey" json:"id"`
	UserID         uint              `gorm:"index;not null" json:"user_id"`
	DeviceID       uint              `gorm:"index;not null" json:"device_id"`
	EventType      string            `gorm:"size:32;index;not null" json:"event_type"`
	EventData      map[string]string `gorm:"serializer:json" json:"event_data"`
	SourceDeviceID *uint             `json:"source_device_id,omitempty"`
	TargetDeviceID *uint             `json:"target_device_id,omitempty"`
	IsProcessed    bool              `gorm:"index;not null;default:false" json:"is_processed"`
	ProcessedAt    *time.Time        `json:"processed_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// SecurityAlert carries two independent terminal flags: acknowledging an alert
// does not resolve it and resolving does not acknowledge it.
type SecurityAlert struct {
	ID             uint              `gorm:"primaryKey" json:"id"`
	UserID         uint              `gorm:"index;not null" json:"user_id"`
	DeviceID       *uint             `gorm:"index" json:"device_id,omitempty"`
	AlertType      string            `gorm:"size:32;not null" json:"alert_type"`
	Severity       string            `gorm:"size:16;not null" json:"severity"`
	AlertData      map[string]string `gorm:"serializer:json" json:"alert_data"`
	IsAcknowledged bool              `gorm:"not null;default:false" json:"is_acknowledged"`
	IsResolved     bool              `gorm:"not null;default:false" json:"is_resolved"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// SyncConfig holds per-user sync policy. Columns are nullable so a stored row
// may be partial; reads coalesce column-by-column over ConfigDefaults, which
// makes a missing row indistinguishable from an all-default one.
type SyncConfig struct {
	ID                         uint      `gorm:"primaryKey" json:"id"`
	UserID                     uint      `gorm:"uniqueIndex;not null" json:"user_id"`
	MaxConcurrentSessions      *int      `json:"max_concurrent_sessions,omitempty"`
	AutoLogoutInactiveSessions *bool     `json:"auto_logout_inactive_sessions,omitempty"`
	InactiveSessionTimeout     *int      `json:"inactive_session_timeout,omitempty"`
	RequireDeviceApproval      *bool     `json:"require_device_approval,omitempty"`
	EnableSecurityAlerts       *bool     `json:"enable_security_alerts,omitempty"`
	SyncPreferences            *bool     `json:"sync_preferences,omitempty"`
	SyncActivity               *bool     `json:"sync_activity,omitempty"`
	CreatedAt                  time.Time `json:"created_at"`
	UpdatedAt                  time.Time `json:"updated_at"`
}

// EffectiveSyncConfig is the fully-coalesced view handed to callers.
type EffectiveSyncConfig struct {
	MaxConcurrentSessions      int  `json:"max_concurrent_sessions"`
	AutoLogoutInactiveSessions bool `json:"auto_logout_inactive_sessions"`
	InactiveSessionTimeout     int  `json:"inactive_session_timeout"`
	RequireDeviceApproval      bool `json:"require_device_approval"`
	EnableSecurityAlerts       bool `json:"enable_security_alerts"`
	SyncPreferences            bool `json:"sync_preferences"`
	SyncActivity               bool `json:"sync_activity"`
}
