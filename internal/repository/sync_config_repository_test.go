package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/channelpulse/device-sync-service/internal/domain"
)

func TestSyncConfigRepositoryFindNotFound(t *testing.T) {
	repo := NewSyncConfigRepository(newTestDB(t))

	_, err := repo.FindByUserID(context.Background(), 1)
	if !errors.Is(err, ErrSyncConfigNotFound) {
		t.Fatalf("expected ErrSyncConfigNotFound, got %v", err)
	}
}

func TestSyncConfigRepositoryUpsertInsertThenUpdate(t *testing.T) {
	repo := NewSyncConfigRepository(newTestDB(t))
	ctx := context.Background()

	first := &domain.SyncConfig{
		UserID:                1,
		MaxConcurrentSessions: intPtr(3),
	}
	if err := repo.Upsert(ctx, first); err != nil {
		t.Fatalf("insert: %v", err)
	}

	second := &domain.SyncConfig{
		UserID:                1,
		MaxConcurrentSessions: intPtr(8),
		EnableSecurityAlerts:  boolPtr(false),
	}
	if err := repo.Upsert(ctx, second); err != nil {
		t.Fatalf("update: %v", err)
	}

	stored, err := repo.FindByUserID(ctx, 1)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored.MaxConcurrentSessions == nil || *stored.MaxConcurrentSessions != 8 {
		t.Fatalf("max_concurrent_sessions not updated: %+v", stored)
	}
	if stored.EnableSecurityAlerts == nil || *stored.EnableSecurityAlerts {
		t.Fatalf("enable_security_alerts not updated: %+v", stored)
	}
	if stored.AutoLogoutInactiveSessions != nil {
		t.Fatalf("untouched column must stay null: %+v", stored)
	}
}
