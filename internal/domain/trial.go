package domain

import "time"

// MaxTrialActions caps the per-record action log; older entries are dropped.
const MaxTrialActions = 100

type TrialAction struct {
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	IPAddress string            `json:"ip_address,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// TrialRecord tracks anonymous pre-login usage, keyed by the client-supplied
// device fingerprint. IP and user-agent hash are provenance only and never
// participate in identity.
type TrialRecord struct {
	ID              uint          `gorm:"primaryKey" json:"id"`
	Fingerprint     string        `gorm:"size:128;uniqueIndex;not null" json:"fingerprint"`
	IPAddress       string        `gorm:"size:64" json:"ip_address,omitempty"`
	UserAgentHash   string        `gorm:"size:128" json:"-"`
	TrialCount      int           `gorm:"not null;default:0" json:"trial_count"`
	MaxTrials       int           `gorm:"not null" json:"max_trials"`
	Actions         []TrialAction `gorm:"serializer:json" json:"actions"`
	LastResetAt     time.Time     `gorm:"not null" json:"last_reset_at"`
	IsBlocked       bool          `gorm:"not null;default:false" json:"is_blocked"`
	BlockedUntil    *time.Time    `json:"blocked_until,omitempty"`
	ConvertedUserID *uint         `gorm:"index" json:"converted_user_id,omitempty"`
	ConvertedAt     *time.Time    `json:"converted_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

func (r *TrialRecord) Remaining() int {
	remaining := r.MaxTrials - r.TrialCount
	if remaining < 0 {
		return 0
	}
	return remaining
}

// BlockActive reports whether a hard block is in force at the given instant.
func (r *TrialRecord) BlockActive(now time.Time) bool {
	return r.IsBlocked && r.BlockedUntil != nil && r.BlockedUntil.After(now)
}

// ResetDue reports whether the quota window has elapsed and the record should
// be zeroed on the next read.
func (r *TrialRecord) ResetDue(now time.Time, interval time.Duration) bool {
	return now.Sub(r.LastResetAt) > interval
}

// ActionsSince counts logged actions newer than the cutoff. Used by the
// advisory hourly rate limit.
func (r *TrialRecord) ActionsSince(cutoff time.Time) int {
	n := 0
	for _, a := range r.Actions {
		if a.Timestamp.After(cutoff) {
			n++
		}
	}
	return n
}
