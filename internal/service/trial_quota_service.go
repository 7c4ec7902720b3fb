package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/channelpulse/device-sync-service/internal/domain"
	"github.com/channelpulse/device-sync-service/internal/observability"
	"github.com/channelpulse/device-sync-service/internal/repository"
	"github.com/channelpulse/device-sync-service/internal/security"
)

type TrialPolicy struct {
	DefaultMaxTrials  int
	ResetInterval     time.Duration
	BlockDuration     time.Duration
	MaxActionsPerHour int
}

type ConsumeResult struct {
	Success     bool       `json:"success"`
	Remaining   int        `json:"remaining"`
	Blocked     bool       `json:"blocked"`
	Message     string     `json:"message"`
	NextResetAt *time.Time `json:"next_reset_at,omitempty"`
}

type TrialStatus struct {
	Fingerprint  string     `json:"fingerprint"`
	TrialCount   int        `json:"trial_count"`
	MaxTrials    int        `json:"max_trials"`
	Remaining    int        `json:"remaining"`
	IsBlocked    bool       `json:"is_blocked"`
	BlockedUntil *time.Time `json:"blocked_until,omitempty"`
	NextResetAt  time.Time  `json:"next_reset_at"`
	Converted    bool       `json:"converted"`
}

type RateLimitResult struct {
	Allowed   bool `json:"allowed"`
	Remaining int  `json:"remaining"`
}

// TrialQuotaService gates anonymous usage by a consumable per-fingerprint
// quota with time-windowed reset and hard blocking on exhaustion. All store
// access goes through the TrialStore strategy, so durable-store outages
// degrade transparently; this service never surfaces a store error as a
// caller-visible failure.
type TrialQuotaService struct {
	store  TrialStore
	policy TrialPolicy
	pepper string
	logger *slog.Logger
	now    func() time.Time
}

func NewTrialQuotaService(store TrialStore, policy TrialPolicy, pepper string, logger *slog.Logger) *TrialQuotaService {
	if policy.DefaultMaxTrials <= 0 {
		policy.DefaultMaxTrials = 5
	}
	if policy.ResetInterval <= 0 {
		policy.ResetInterval = 24 * time.Hour
	}
	if policy.BlockDuration <= 0 {
		policy.BlockDuration = 24 * time.Hour
	}
	if policy.MaxActionsPerHour <= 0 {
		policy.MaxActionsPerHour = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TrialQuotaService{
		store:  store,
		policy: policy,
		pepper: pepper,
		logger: logger,
		now:    time.Now,
	}
}

// GetOrCreateRecord loads the record for a fingerprint, creating it with the
// default quota on first sight and applying the eager reset-on-read when the
// quota window has elapsed.
func (s *TrialQuotaService) GetOrCreateRecord(ctx context.Context, fingerprint, ipAddress, userAgent string) (*domain.TrialRecord, error) {
	record, err := s.store.Get(ctx, fingerprint)
	if errors.Is(err, repository.ErrTrialRecordNotFound) {
		record = s.newRecord(fingerprint, ipAddress, userAgent)
		if createErr := s.store.Create(ctx, record); createErr != nil {
			s.logger.WarnContext(ctx, "trial record create failed", "error", createErr.Error())
		}
		return record, nil
	}
	if err != nil {
		return nil, err
	}
	if record.ResetDue(s.now(), s.policy.ResetInterval) {
		reset, mutateErr := s.store.Mutate(ctx, fingerprint, func(r *domain.TrialRecord) error {
			s.applyResetIfDue(r)
			return nil
		})
		if mutateErr == nil {
			return reset, nil
		}
		// Persisting the reset failed; serve the reset view anyway so the
		// caller sees a restored quota.
		s.logger.WarnContext(ctx, "trial reset persist failed", "error", mutateErr.Error())
		s.applyResetIfDue(record)
	}
	return record, nil
}

// ConsumeTrial spends weight units of quota for one action. Denials are normal
// results, never errors. Consumption is all-or-nothing: a weight larger than
// the remaining quota denies without partial decrement and transitions the
// record to blocked.
func (s *TrialQuotaService) ConsumeTrial(ctx context.Context, fingerprint string, action domain.TrialAction, weight int) ConsumeResult {
	if weight <= 0 {
		weight = 1
	}
	if action.Timestamp.IsZero() {
		action.Timestamp = s.now()
	}

	if _, err := s.GetOrCreateRecord(ctx, fingerprint, action.IPAddress, ""); err != nil {
		return s.unavailableResult(ctx, err)
	}

	var result ConsumeResult
	_, err := s.store.Mutate(ctx, fingerprint, func(r *domain.TrialRecord) error {
		now := s.now()
		s.applyResetIfDue(r)

		if r.BlockActive(now) {
			until := *r.BlockedUntil
			result = ConsumeResult{
				Remaining:   r.Remaining(),
				Blocked:     true,
				Message:     "Free trial limit reached. Please log in to continue.",
				NextResetAt: &until,
			}
			return nil
		}

		remaining := r.Remaining()
		if remaining < weight {
			blockedUntil := now.Add(s.policy.BlockDuration)
			r.IsBlocked = true
			r.BlockedUntil = &blockedUntil
			// The reported reset is the natural window boundary, not the
			// block expiry. The two clocks intentionally differ.
			nextReset := r.LastResetAt.Add(s.policy.ResetInterval)
			result = ConsumeResult{
				Remaining:   0,
				Blocked:     true,
				Message:     "No free trials remaining. Please log in to continue.",
				NextResetAt: &nextReset,
			}
			return nil
		}

		r.Actions = append(r.Actions, action)
		if len(r.Actions) > domain.MaxTrialActions {
			r.Actions = r.Actions[len(r.Actions)-domain.MaxTrialActions:]
		}
		r.TrialCount += weight
		// A successful consume implies the record is not blocked; clear any
		// stale flags left behind by an expired block.
		r.IsBlocked = false
		r.BlockedUntil = nil

		left := r.Remaining()
		message := fmt.Sprintf("You have %d free trials remaining.", left)
		if left == 0 {
			message = "That was your last free trial. Log in to keep going."
		}
		result = ConsumeResult{
			Success:   true,
			Remaining: left,
			Message:   message,
		}
		return nil
	})
	if err != nil {
		return s.unavailableResult(ctx, err)
	}

	outcome := "denied"
	if result.Success {
		outcome = "allowed"
	} else if result.Blocked {
		outcome = "blocked"
	}
	observability.RecordTrialConsume(outcome, s.storePath())
	return result
}

// GetTrialStatus is a read-only projection; it shares the lazy reset path
// with GetOrCreateRecord.
func (s *TrialQuotaService) GetTrialStatus(ctx context.Context, fingerprint string) (TrialStatus, error) {
	record, err := s.GetOrCreateRecord(ctx, fingerprint, "", "")
	if err != nil {
		return TrialStatus{}, err
	}
	return TrialStatus{
		Fingerprint:  record.Fingerprint,
		TrialCount:   record.TrialCount,
		MaxTrials:    record.MaxTrials,
		Remaining:    record.Remaining(),
		IsBlocked:    record.IsBlocked,
		BlockedUntil: record.BlockedUntil,
		NextResetAt:  record.LastResetAt.Add(s.policy.ResetInterval),
		Converted:    record.ConvertedUserID != nil,
	}, nil
}

// CheckRateLimit is an advisory hourly throttle computed from the record's
// action log. It never mutates state and is independent of the quota.
func (s *TrialQuotaService) CheckRateLimit(ctx context.Context, fingerprint string) (RateLimitResult, error) {
	record, err := s.GetOrCreateRecord(ctx, fingerprint, "", "")
	if err != nil {
		return RateLimitResult{Allowed: true, Remaining: s.policy.MaxActionsPerHour}, err
	}
	recent := record.ActionsSince(s.now().Add(-time.Hour))
	remaining := s.policy.MaxActionsPerHour - recent
	if remaining < 0 {
		remaining = 0
	}
	return RateLimitResult{
		Allowed:   recent < s.policy.MaxActionsPerHour,
		Remaining: remaining,
	}, nil
}

// MarkUserConverted stamps the record once the anonymous device authenticates
// as a real user. One-way: a second call for an already-converted record is a
// no-op. Quota state is untouched; the stamp exists for funnel analytics.
func (s *TrialQuotaService) MarkUserConverted(ctx context.Context, fingerprint string, userID uint) error {
	if _, err := s.GetOrCreateRecord(ctx, fingerprint, "", ""); err != nil {
		return err
	}
	_, err := s.store.Mutate(ctx, fingerprint, func(r *domain.TrialRecord) error {
		if r.ConvertedUserID != nil {
			return nil
		}
		now := s.now()
		r.ConvertedUserID = &userID
		r.ConvertedAt = &now
		return nil
	})
	return err
}

func (s *TrialQuotaService) newRecord(fingerprint, ipAddress, userAgent string) *domain.TrialRecord {
	now := s.now()
	record := &domain.TrialRecord{
		Fingerprint: fingerprint,
		IPAddress:   ipAddress,
		TrialCount:  0,
		MaxTrials:   s.policy.DefaultMaxTrials,
		LastResetAt: now,
	}
	if userAgent != "" {
		record.UserAgentHash = s.hashUserAgent(userAgent)
	}
	return record
}

// applyResetIfDue zeroes the record in place once the quota window elapses:
// count back to zero, allotment back to default, action log and block state
// cleared. Not an append-only history.
func (s *TrialQuotaService) applyResetIfDue(r *domain.TrialRecord) {
	now := s.now()
	if !r.ResetDue(now, s.policy.ResetInterval) {
		return
	}
	r.TrialCount = 0
	r.MaxTrials = s.policy.DefaultMaxTrials
	r.Actions = nil
	r.IsBlocked = false
	r.BlockedUntil = nil
	r.LastResetAt = now
}

func (s *TrialQuotaService) hashUserAgent(userAgent string) string {
	return security.PepperedDigest(userAgent, s.pepper)
}

func (s *TrialQuotaService) storePath() string {
	if failover, ok := s.store.(*FailoverTrialStore); ok && !failover.Available() {
		return "memory"
	}
	return "durable"
}

// unavailableResult is the terminal fallback when even the degraded path
// errored. With the failover store in front this is not reachable under a
// plain database outage.
func (s *TrialQuotaService) unavailableResult(ctx context.Context, err error) ConsumeResult {
	s.logger.ErrorContext(ctx, "trial consume failed on all store paths", "error", err.Error())
	observability.RecordTrialConsume("error", s.storePath())
	return ConsumeResult{
		Remaining: 0,
		Message:   "Trial service is temporarily unavailable. Please try again.",
	}
}
