package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/channelpulse/device-sync-service/internal/domain"
	"github.com/channelpulse/device-sync-service/internal/observability"
	"github.com/channelpulse/device-sync-service/internal/repository"
)

// TrialStore is the persistence strategy for trial records. The durable
// implementation lives in the repository package; the in-memory twin below
// backs the degraded path when the database is unreachable.
type TrialStore interface {
	Get(ctx context.Context, fingerprint string) (*domain.TrialRecord, error)
	Create(ctx context.Context, record *domain.TrialRecord) error
	Mutate(ctx context.Context, fingerprint string, fn func(*domain.TrialRecord) error) (*domain.TrialRecord, error)
	Ping(ctx context.Context) error
}

type InMemoryTrialStore struct {
	mu      sync.RWMutex
	records map[string]*domain.TrialRecord
	nextID  uint
}

func NewInMemoryTrialStore() *InMemoryTrialStore {
	return &InMemoryTrialStore{records: make(map[string]*domain.TrialRecord)}
}

func (s *InMemoryTrialStore) Get(_ context.Context, fingerprint string) (*domain.TrialRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[fingerprint]
	if !ok {
		return nil, repository.ErrTrialRecordNotFound
	}
	return copyTrialRecord(record), nil
}

func (s *InMemoryTrialStore) Create(_ context.Context, record *domain.TrialRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[record.Fingerprint]; ok {
		*record = *copyTrialRecord(existing)
		return nil
	}
	s.nextID++
	record.ID = s.nextID
	s.records[record.Fingerprint] = copyTrialRecord(record)
	return nil
}

func (s *InMemoryTrialStore) Mutate(_ context.Context, fingerprint string, fn func(*domain.TrialRecord) error) (*domain.TrialRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[fingerprint]
	if !ok {
		return nil, repository.ErrTrialRecordNotFound
	}
	scratch := copyTrialRecord(record)
	if err := fn(scratch); err != nil {
		return nil, err
	}
	s.records[fingerprint] = scratch
	return copyTrialRecord(scratch), nil
}

func (s *InMemoryTrialStore) Ping(context.Context) error { return nil }

func copyTrialRecord(record *domain.TrialRecord) *domain.TrialRecord {
	out := *record
	out.Actions = append([]domain.TrialAction(nil), record.Actions...)
	if record.BlockedUntil != nil {
		t := *record.BlockedUntil
		out.BlockedUntil = &t
	}
	if record.ConvertedUserID != nil {
		id := *record.ConvertedUserID
		out.ConvertedUserID = &id
	}
	if record.ConvertedAt != nil {
		t := *record.ConvertedAt
		out.ConvertedAt = &t
	}
	return &out
}

// FailoverTrialStore routes to the durable store while it is believed healthy
// and degrades to the in-memory store on any durable failure. Availability is
// re-probed at most once per probe interval rather than on every call.
//
// The memory path is process-local: in a multi-instance deployment each
// instance enforces its own quota while the database is down. That is the
// intended best-effort behavior under outage, not a bug.
type FailoverTrialStore struct {
	durable       TrialStore
	memory        *InMemoryTrialStore
	probeInterval time.Duration
	logger        *slog.Logger
	now           func() time.Time

	mu        sync.Mutex
	available bool
	lastProbe time.Time
}

func NewFailoverTrialStore(durable TrialStore, memory *InMemoryTrialStore, probeInterval time.Duration, logger *slog.Logger) *FailoverTrialStore {
	if memory == nil {
		memory = NewInMemoryTrialStore()
	}
	if probeInterval <= 0 {
		probeInterval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FailoverTrialStore{
		durable:       durable,
		memory:        memory,
		probeInterval: probeInterval,
		logger:        logger,
		now:           time.Now,
		available:     true,
	}
}

// Available reports the cached health verdict for the durable store.
func (s *FailoverTrialStore) Available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available
}

func (s *FailoverTrialStore) Get(ctx context.Context, fingerprint string) (*domain.TrialRecord, error) {
	if s.durableHealthy(ctx) {
		record, err := s.durable.Get(ctx, fingerprint)
		if err == nil || err == repository.ErrTrialRecordNotFound {
			return record, err
		}
		s.degrade(ctx, "get", err)
	}
	return s.memory.Get(ctx, fingerprint)
}

func (s *FailoverTrialStore) Create(ctx context.Context, record *domain.TrialRecord) error {
	if s.durableHealthy(ctx) {
		err := s.durable.Create(ctx, record)
		if err == nil {
			return nil
		}
		s.degrade(ctx, "create", err)
	}
	return s.memory.Create(ctx, record)
}

func (s *FailoverTrialStore) Mutate(ctx context.Context, fingerprint string, fn func(*domain.TrialRecord) error) (*domain.TrialRecord, error) {
	if s.durableHealthy(ctx) {
		record, err := s.durable.Mutate(ctx, fingerprint, fn)
		if err == nil || err == repository.ErrTrialRecordNotFound {
			return record, err
		}
		s.degrade(ctx, "mutate", err)
	}
	return s.memory.Mutate(ctx, fingerprint, fn)
}

func (s *FailoverTrialStore) Ping(ctx context.Context) error {
	return s.durable.Ping(ctx)
}

func (s *FailoverTrialStore) durableHealthy(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.available {
		return true
	}
	now := s.now()
	if now.Sub(s.lastProbe) < s.probeInterval {
		return false
	}
	s.lastProbe = now
	if err := s.durable.Ping(ctx); err != nil {
		return false
	}
	s.available = true
	s.logger.Info("trial store recovered, resuming durable path")
	return true
}

func (s *FailoverTrialStore) degrade(ctx context.Context, operation string, err error) {
	s.mu.Lock()
	s.available = false
	s.lastProbe = s.now()
	s.mu.Unlock()
	observability.RecordTrialFallback(operation)
	s.logger.WarnContext(ctx, "trial store unavailable, degrading to memory",
		"operation", operation,
		"error", err.Error(),
	)
}
