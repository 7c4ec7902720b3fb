package domain

import "time"

const (
	DeviceTypeDesktop = "desktop"
	DeviceTypeMobile  = "mobile"
	DeviceTypeTablet  = "tablet"
)

const (
	LogoutReasonUserInitiated      = "user_initiated"
	LogoutReasonConflict           = "conflict"
	LogoutReasonSessionExpired     = "session_expired"
	LogoutReasonLogoutOtherDevices = "logout_other_devices"
)

// UserDevice is one row per (user, fingerprint). The fingerprint is the sole
// identity key; IP and user agent are descriptive metadata and may change
// without creating a new device.
type UserDevice struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	UserID            uint      `gorm:"index:idx_user_fingerprint,unique;not null" json:"user_id"`
	DeviceFingerprint string    `gorm:"size:128;index:idx_user_fingerprint,unique;not null" json:"device_fingerprint"`
	DeviceName        string    `gorm:"size:128" json:"device_name"`
	DeviceType        string    `gorm:"size:16" json:"device_type"`
	BrowserName       string    `gorm:"size:64" json:"browser_name"`
	BrowserVersion    string    `gorm:"size:32" json:"browser_version"`
	OSName            string    `gorm:"size:64" json:"os_name"`
	OSVersion         string    `gorm:"size:32" json:"os_version"`
	IPAddress         string    `gorm:"size:64" json:"ip_address"`
	IsTrusted         bool      `gorm:"not null;default:false" json:"is_trusted"`
	IsActive          bool      `gorm:"not null;default:true" json:"is_active"`
	FirstSeenAt       time.Time `gorm:"not null" json:"first_seen_at"`
	LastSeenAt        time.Time `gorm:"not null" json:"last_seen_at"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// DeviceSession is one row per login. Sessions are never deleted on logout or
// eviction; they transition to inactive with a stamped reason so the audit
// trail survives.
type DeviceSession struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	DeviceID          uint       `gorm:"index;not null" json:"device_id"`
	UserID            uint       `gorm:"index;not null" json:"user_id"`
	SessionToken      string     `gorm:"size:128;uniqueIndex;not null" json:"-"`
	ExternalSessionID *string    `gorm:"size:128;index" json:"external_session_id,omitempty"`
	LoginMethod       string     `gorm:"size:32" json:"login_method"`
	LoginAt           time.Time  `gorm:"index;not null" json:"login_at"`
	LastActivityAt    time.Time  `gorm:"not null" json:"last_activity_at"`
	ExpiresAt         time.Time  `gorm:"index;not null" json:"expires_at"`
	IsActive          bool       `gorm:"index;not null;default:true" json:"is_active"`
	LogoutAt          *time.Time `json:"logout_at,omitempty"`
	LogoutReason      *string    `gorm:"size:64" json:"logout_reason,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Live reports whether the session counts toward the concurrency cap.
func (s *DeviceSession) Live(now time.Time) bool {
	return s.IsActive && s.ExpiresAt.After(now)
}
