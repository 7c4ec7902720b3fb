package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/channelpulse/device-sync-service/internal/domain"
	"github.com/channelpulse/device-sync-service/internal/repository"
)

func TestInMemoryTrialStoreCreateExistingReturnsStoredRecord(t *testing.T) {
	store := NewInMemoryTrialStore()
	ctx := context.Background()

	first := &domain.TrialRecord{Fingerprint: "fp", MaxTrials: 5, TrialCount: 2}
	if err := store.Create(ctx, first); err != nil {
		t.Fatalf("create: %v", err)
	}

	second := &domain.TrialRecord{Fingerprint: "fp", MaxTrials: 5}
	if err := store.Create(ctx, second); err != nil {
		t.Fatalf("second create: %v", err)
	}
	if second.TrialCount != 2 || second.ID != first.ID {
		t.Fatalf("second create should hand back the stored record, got %+v", second)
	}
}

func TestInMemoryTrialStoreReturnsCopies(t *testing.T) {
	store := NewInMemoryTrialStore()
	ctx := context.Background()

	if err := store.Create(ctx, &domain.TrialRecord{Fingerprint: "fp", MaxTrials: 5}); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := store.Get(ctx, "fp")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got.TrialCount = 99
	got.Actions = append(got.Actions, domain.TrialAction{Type: "analyze"})

	fresh, err := store.Get(ctx, "fp")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fresh.TrialCount != 0 || len(fresh.Actions) != 0 {
		t.Fatalf("caller mutation leaked into the store: %+v", fresh)
	}
}

func TestInMemoryTrialStoreMutateErrorDiscardsChanges(t *testing.T) {
	store := NewInMemoryTrialStore()
	ctx := context.Background()

	if err := store.Create(ctx, &domain.TrialRecord{Fingerprint: "fp", MaxTrials: 5}); err != nil {
		t.Fatalf("create: %v", err)
	}
	boom := errors.New("boom")
	if _, err := store.Mutate(ctx, "fp", func(r *domain.TrialRecord) error {
		r.TrialCount = 99
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}

	got, err := store.Get(ctx, "fp")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.TrialCount != 0 {
		t.Fatalf("failed mutation must not persist, got %+v", got)
	}
}

func TestInMemoryTrialStoreConcurrentMutations(t *testing.T) {
	store := NewInMemoryTrialStore()
	ctx := context.Background()

	if err := store.Create(ctx, &domain.TrialRecord{Fingerprint: "fp", MaxTrials: 1000}); err != nil {
		t.Fatalf("create: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.Mutate(ctx, "fp", func(r *domain.TrialRecord) error {
				r.TrialCount++
				return nil
			})
		}()
	}
	wg.Wait()

	got, err := store.Get(ctx, "fp")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.TrialCount != 50 {
		t.Fatalf("lost updates under concurrency: trial_count=%d", got.TrialCount)
	}
}

// switchableTrialStore wraps the in-memory store and fails on demand, standing
// in for a database that goes down and comes back.
type switchableTrialStore struct {
	inner *InMemoryTrialStore

	mu      sync.Mutex
	healthy bool
}

func (s *switchableTrialStore) setHealthy(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthy = v
}

func (s *switchableTrialStore) fail() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.healthy {
		return errors.New("durable store down")
	}
	return nil
}

func (s *switchableTrialStore) Get(ctx context.Context, fp string) (*domain.TrialRecord, error) {
	if err := s.fail(); err != nil {
		return nil, err
	}
	return s.inner.Get(ctx, fp)
}

func (s *switchableTrialStore) Create(ctx context.Context, record *domain.TrialRecord) error {
	if err := s.fail(); err != nil {
		return err
	}
	return s.inner.Create(ctx, record)
}

func (s *switchableTrialStore) Mutate(ctx context.Context, fp string, fn func(*domain.TrialRecord) error) (*domain.TrialRecord, error) {
	if err := s.fail(); err != nil {
		return nil, err
	}
	return s.inner.Mutate(ctx, fp, fn)
}

func (s *switchableTrialStore) Ping(context.Context) error { return s.fail() }

func TestFailoverTrialStoreDegradesThenRecovers(t *testing.T) {
	durable := &switchableTrialStore{inner: NewInMemoryTrialStore(), healthy: true}
	failover := NewFailoverTrialStore(durable, NewInMemoryTrialStore(), 30*time.Second, nil)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	failover.now = func() time.Time { return base }
	ctx := context.Background()

	if err := failover.Create(ctx, &domain.TrialRecord{Fingerprint: "fp", MaxTrials: 5}); err != nil {
		t.Fatalf("create: %v", err)
	}

	durable.setHealthy(false)
	if _, err := failover.Mutate(ctx, "fp", func(r *domain.TrialRecord) error {
		r.TrialCount++
		return nil
	}); !errors.Is(err, repository.ErrTrialRecordNotFound) {
		// The memory store never saw the record, so the degraded mutate
		// reports not-found rather than the durable error.
		t.Fatalf("expected memory-path not found, got %v", err)
	}
	if failover.Available() {
		t.Fatal("failover should mark the durable store unavailable")
	}

	// Within the probe interval nothing re-checks the durable store.
	durable.setHealthy(true)
	failover.now = func() time.Time { return base.Add(10 * time.Second) }
	if _, err := failover.Get(ctx, "fp"); !errors.Is(err, repository.ErrTrialRecordNotFound) {
		t.Fatalf("expected memory path before probe interval, got %v", err)
	}

	// After the interval the probe succeeds and the durable record is visible.
	failover.now = func() time.Time { return base.Add(time.Minute) }
	record, err := failover.Get(ctx, "fp")
	if err != nil {
		t.Fatalf("expected durable path after recovery, got %v", err)
	}
	if record.Fingerprint != "fp" {
		t.Fatalf("unexpected record: %+v", record)
	}
	if !failover.Available() {
		t.Fatal("failover should mark the durable store available again")
	}
}

func TestFailoverTrialStoreNotFoundIsNotAnOutage(t *testing.T) {
	durable := &switchableTrialStore{inner: NewInMemoryTrialStore(), healthy: true}
	failover := NewFailoverTrialStore(durable, NewInMemoryTrialStore(), 30*time.Second, nil)

	if _, err := failover.Get(context.Background(), "missing"); !errors.Is(err, repository.ErrTrialRecordNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if !failover.Available() {
		t.Fatal("a not-found must not degrade the durable path")
	}
}
