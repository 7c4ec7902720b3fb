package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/channelpulse/device-sync-service/internal/domain"
	"github.com/channelpulse/device-sync-service/internal/repository"
	"github.com/channelpulse/device-sync-service/internal/service"
)

func newAppForTest(t *testing.T) (*App, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&domain.TrialRecord{},
		&domain.UserDevice{},
		&domain.DeviceSession{},
		&domain.SyncEvent{},
		&domain.SecurityAlert{},
		&domain.SyncConfig{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	trialRepo := repository.NewTrialRepository(db)
	devices := service.NewDeviceSyncService(
		repository.NewDeviceRepository(db),
		repository.NewSessionRepository(db),
		repository.NewSyncEventRepository(db),
		repository.NewSecurityAlertRepository(db),
		repository.NewSyncConfigRepository(db),
		domain.EffectiveSyncConfig{MaxConcurrentSessions: 5},
		7*24*time.Hour,
		nil,
	)
	return &App{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		DB:        db,
		Devices:   devices,
		trialRepo: trialRepo,
	}, db
}

func TestCleanupDeactivatesExpiredSessionsAndDeletesStaleTrials(t *testing.T) {
	a, db := newAppForTest(t)
	ctx := context.Background()
	now := time.Now()

	expired := domain.DeviceSession{
		DeviceID:       1,
		UserID:         1,
		SessionToken:   "tok-expired",
		LoginAt:        now.Add(-48 * time.Hour),
		LastActivityAt: now.Add(-48 * time.Hour),
		ExpiresAt:      now.Add(-time.Hour),
		IsActive:       true,
	}
	live := domain.DeviceSession{
		DeviceID:       1,
		UserID:         1,
		SessionToken:   "tok-live",
		LoginAt:        now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(time.Hour),
		IsActive:       true,
	}
	if err := db.Create(&expired).Error; err != nil {
		t.Fatalf("seed expired session: %v", err)
	}
	if err := db.Create(&live).Error; err != nil {
		t.Fatalf("seed live session: %v", err)
	}

	userID := uint(9)
	stale := domain.TrialRecord{Fingerprint: "fp-stale", MaxTrials: 3, LastResetAt: now.Add(-120 * 24 * time.Hour)}
	converted := domain.TrialRecord{Fingerprint: "fp-converted", MaxTrials: 3, LastResetAt: now.Add(-120 * 24 * time.Hour), ConvertedUserID: &userID}
	fresh := domain.TrialRecord{Fingerprint: "fp-fresh", MaxTrials: 3, LastResetAt: now}
	for _, record := range []*domain.TrialRecord{&stale, &converted, &fresh} {
		if err := db.Create(record).Error; err != nil {
			t.Fatalf("seed trial record: %v", err)
		}
	}

	if err := a.Cleanup(ctx, 90*24*time.Hour); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	var got domain.DeviceSession
	if err := db.First(&got, expired.ID).Error; err != nil {
		t.Fatalf("expired session should survive as an audit row: %v", err)
	}
	if got.IsActive {
		t.Fatal("expired session should be inactive after cleanup")
	}
	var gotLive domain.DeviceSession
	if err := db.First(&gotLive, live.ID).Error; err != nil || !gotLive.IsActive {
		t.Fatalf("live session must stay active: err=%v active=%v", err, gotLive.IsActive)
	}

	var fingerprints []string
	if err := db.Model(&domain.TrialRecord{}).Order("fingerprint").Pluck("fingerprint", &fingerprints).Error; err != nil {
		t.Fatalf("list trial records: %v", err)
	}
	want := []string{"fp-converted", "fp-fresh"}
	if len(fingerprints) != len(want) || fingerprints[0] != want[0] || fingerprints[1] != want[1] {
		t.Fatalf("expected %v to survive, got %v", want, fingerprints)
	}
}
