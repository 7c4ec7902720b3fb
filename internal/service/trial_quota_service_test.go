package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/channelpulse/device-sync-service/internal/domain"
)

func newTrialServiceForTest(store TrialStore) *TrialQuotaService {
	return NewTrialQuotaService(store, TrialPolicy{
		DefaultMaxTrials:  3,
		ResetInterval:     24 * time.Hour,
		BlockDuration:     24 * time.Hour,
		MaxActionsPerHour: 10,
	}, "test-pepper", nil)
}

func consumeAction(actionType string) domain.TrialAction {
	return domain.TrialAction{Type: actionType, IPAddress: "10.0.0.1"}
}

func TestConsumeTrialDecreasesMonotonically(t *testing.T) {
	svc := newTrialServiceForTest(NewInMemoryTrialStore())
	ctx := context.Background()

	wantRemaining := []int{2, 1, 0}
	for i, want := range wantRemaining {
		result := svc.ConsumeTrial(ctx, "fp-mono", consumeAction("analyze"), 1)
		if !result.Success {
			t.Fatalf("consume %d should succeed: %+v", i, result)
		}
		if result.Remaining != want {
			t.Fatalf("consume %d remaining=%d, want %d", i, result.Remaining, want)
		}
	}

	// Quota exhausted: deny, block, and report the natural window reset.
	result := svc.ConsumeTrial(ctx, "fp-mono", consumeAction("analyze"), 1)
	if result.Success || !result.Blocked {
		t.Fatalf("expected blocked denial, got %+v", result)
	}
	if result.NextResetAt == nil {
		t.Fatal("denial should carry next_reset_at")
	}

	status, err := svc.GetTrialStatus(ctx, "fp-mono")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.TrialCount != 3 || !status.IsBlocked || status.BlockedUntil == nil {
		t.Fatalf("unexpected status after exhaustion: %+v", status)
	}
}

func TestConsumeTrialWindowResetRestoresQuota(t *testing.T) {
	svc := newTrialServiceForTest(NewInMemoryTrialStore())
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	for i := 0; i < 4; i++ {
		svc.ConsumeTrial(ctx, "fp-reset", consumeAction("analyze"), 1)
	}
	blocked := svc.ConsumeTrial(ctx, "fp-reset", consumeAction("analyze"), 1)
	if blocked.Success {
		t.Fatalf("expected denial before reset, got %+v", blocked)
	}

	// Past the reset window the quota, the action log, and the block all clear.
	svc.now = func() time.Time { return base.Add(25 * time.Hour) }
	result := svc.ConsumeTrial(ctx, "fp-reset", consumeAction("analyze"), 1)
	if !result.Success {
		t.Fatalf("expected success after window reset, got %+v", result)
	}
	if result.Remaining != 2 {
		t.Fatalf("expected full quota minus one, got remaining=%d", result.Remaining)
	}

	status, err := svc.GetTrialStatus(ctx, "fp-reset")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.IsBlocked || status.TrialCount != 1 {
		t.Fatalf("reset did not clear state: %+v", status)
	}
}

func TestConsumeTrialBlockedDenialReportsBlockExpiry(t *testing.T) {
	svc := newTrialServiceForTest(NewInMemoryTrialStore())
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	for i := 0; i < 3; i++ {
		svc.ConsumeTrial(ctx, "fp-block", consumeAction("analyze"), 1)
	}

	// The exhaustion denial reports the window boundary, anchored at the last
	// reset, even though the block it installs expires an hour later.
	svc.now = func() time.Time { return base.Add(time.Hour) }
	first := svc.ConsumeTrial(ctx, "fp-block", consumeAction("analyze"), 1)
	if first.Success || first.NextResetAt == nil {
		t.Fatalf("expected blocking denial, got %+v", first)
	}
	if !first.NextResetAt.Equal(base.Add(24 * time.Hour)) {
		t.Fatalf("exhaustion denial should report the window reset, got %v", first.NextResetAt)
	}

	// A later attempt while the block is in force reports the block expiry.
	svc.now = func() time.Time { return base.Add(2 * time.Hour) }
	second := svc.ConsumeTrial(ctx, "fp-block", consumeAction("analyze"), 1)
	if second.Success || second.NextResetAt == nil {
		t.Fatalf("expected blocked denial, got %+v", second)
	}
	if !second.NextResetAt.Equal(base.Add(25 * time.Hour)) {
		t.Fatalf("blocked denial should report block expiry, got %v", second.NextResetAt)
	}
}

func TestConsumeTrialWeightIsAllOrNothing(t *testing.T) {
	svc := newTrialServiceForTest(NewInMemoryTrialStore())
	ctx := context.Background()

	if result := svc.ConsumeTrial(ctx, "fp-weight", consumeAction("analyze"), 2); !result.Success || result.Remaining != 1 {
		t.Fatalf("weighted consume failed: %+v", result)
	}

	// Two units requested, one left: deny without partial decrement.
	result := svc.ConsumeTrial(ctx, "fp-weight", consumeAction("deep-analyze"), 2)
	if result.Success {
		t.Fatalf("expected all-or-nothing denial, got %+v", result)
	}

	status, err := svc.GetTrialStatus(ctx, "fp-weight")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.TrialCount != 2 {
		t.Fatalf("denied consume must not decrement, trial_count=%d", status.TrialCount)
	}
	if !status.IsBlocked {
		t.Fatal("oversized request against insufficient quota should block")
	}
}

func TestConsumeTrialZeroWeightCountsAsOne(t *testing.T) {
	svc := newTrialServiceForTest(NewInMemoryTrialStore())

	result := svc.ConsumeTrial(context.Background(), "fp-zero", consumeAction("analyze"), 0)
	if !result.Success || result.Remaining != 2 {
		t.Fatalf("zero weight should default to one unit: %+v", result)
	}
}

func TestCheckRateLimitCountsLastHourOnly(t *testing.T) {
	svc := NewTrialQuotaService(NewInMemoryTrialStore(), TrialPolicy{
		DefaultMaxTrials:  100,
		ResetInterval:     24 * time.Hour,
		BlockDuration:     24 * time.Hour,
		MaxActionsPerHour: 2,
	}, "test-pepper", nil)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	svc.ConsumeTrial(ctx, "fp-rate", consumeAction("analyze"), 1)
	svc.ConsumeTrial(ctx, "fp-rate", consumeAction("analyze"), 1)

	limited, err := svc.CheckRateLimit(ctx, "fp-rate")
	if err != nil {
		t.Fatalf("check rate limit: %v", err)
	}
	if limited.Allowed || limited.Remaining != 0 {
		t.Fatalf("expected throttled, got %+v", limited)
	}

	// The advisory check is a pure read and ages out with the clock.
	svc.now = func() time.Time { return base.Add(2 * time.Hour) }
	relaxed, err := svc.CheckRateLimit(ctx, "fp-rate")
	if err != nil {
		t.Fatalf("check rate limit: %v", err)
	}
	if !relaxed.Allowed || relaxed.Remaining != 2 {
		t.Fatalf("expected allowed after actions aged out, got %+v", relaxed)
	}
}

func TestMarkUserConvertedIsOneWay(t *testing.T) {
	store := NewInMemoryTrialStore()
	svc := newTrialServiceForTest(store)
	ctx := context.Background()

	if err := svc.MarkUserConverted(ctx, "fp-conv", 42); err != nil {
		t.Fatalf("convert: %v", err)
	}
	if err := svc.MarkUserConverted(ctx, "fp-conv", 77); err != nil {
		t.Fatalf("second convert: %v", err)
	}

	record, err := store.Get(ctx, "fp-conv")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record.ConvertedUserID == nil || *record.ConvertedUserID != 42 {
		t.Fatalf("conversion must keep the first user, got %+v", record.ConvertedUserID)
	}

	status, err := svc.GetTrialStatus(ctx, "fp-conv")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Converted {
		t.Fatal("status should report converted")
	}
}

type failingTrialStore struct{}

func (failingTrialStore) Get(context.Context, string) (*domain.TrialRecord, error) {
	return nil, errors.New("db down")
}
func (failingTrialStore) Create(context.Context, *domain.TrialRecord) error {
	return errors.New("db down")
}
func (failingTrialStore) Mutate(context.Context, string, func(*domain.TrialRecord) error) (*domain.TrialRecord, error) {
	return nil, errors.New("db down")
}
func (failingTrialStore) Ping(context.Context) error { return errors.New("db down") }

func TestConsumeTrialDegradesToMemoryOnDurableOutage(t *testing.T) {
	failover := NewFailoverTrialStore(failingTrialStore{}, NewInMemoryTrialStore(), time.Minute, nil)
	svc := newTrialServiceForTest(failover)
	ctx := context.Background()

	first := svc.ConsumeTrial(ctx, "fp-outage", consumeAction("analyze"), 1)
	if !first.Success {
		t.Fatalf("consume should succeed on the memory path: %+v", first)
	}
	if failover.Available() {
		t.Fatal("durable store should be marked unavailable")
	}

	// The degraded path keeps state between calls.
	second := svc.ConsumeTrial(ctx, "fp-outage", consumeAction("analyze"), 1)
	if !second.Success || second.Remaining != first.Remaining-1 {
		t.Fatalf("memory path lost state: first=%+v second=%+v", first, second)
	}
}
