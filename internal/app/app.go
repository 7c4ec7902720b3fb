package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/channelpulse/device-sync-service/internal/config"
	"github.com/channelpulse/device-sync-service/internal/domain"
	"github.com/channelpulse/device-sync-service/internal/health"
	"github.com/channelpulse/device-sync-service/internal/http/handler"
	"github.com/channelpulse/device-sync-service/internal/http/middleware"
	"github.com/channelpulse/device-sync-service/internal/http/router"
	"github.com/channelpulse/device-sync-service/internal/observability"
	"github.com/channelpulse/device-sync-service/internal/repository"
	"github.com/channelpulse/device-sync-service/internal/security"
	"github.com/channelpulse/device-sync-service/internal/service"
)

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	Observability *observability.Runtime

	DB    *gorm.DB
	Redis *redis.Client

	Trials  *service.TrialQuotaService
	Devices *service.DeviceSyncService

	trialRepo repository.TrialRepository
}

// Build wires the full dependency graph from configuration. Redis is optional:
// without it rate limiting falls back to the process-local limiter.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, loggerProvider, err := observability.NewLogger(ctx, cfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	runtime, err := observability.InitRuntime(ctx, cfg, logger, loggerProvider)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.WithContext(ctx).AutoMigrate(
		&domain.TrialRecord{},
		&domain.UserDevice{},
		&domain.DeviceSession{},
		&domain.SyncEvent{},
		&domain.SecurityAlert{},
		&domain.SyncConfig{},
	); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.WarnContext(ctx, "redis unreachable at startup", "addr", cfg.RedisAddr, "error", err.Error())
		}
	}

	trialRepo := repository.NewTrialRepository(db)
	deviceRepo := repository.NewDeviceRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	eventRepo := repository.NewSyncEventRepository(db)
	alertRepo := repository.NewSecurityAlertRepository(db)
	configRepo := repository.NewSyncConfigRepository(db)

	trialStore := service.NewFailoverTrialStore(trialRepo, service.NewInMemoryTrialStore(), cfg.TrialProbeInterval, logger)
	trials := service.NewTrialQuotaService(trialStore, service.TrialPolicy{
		DefaultMaxTrials:  cfg.TrialDefaultMax,
		ResetInterval:     cfg.TrialResetInterval,
		BlockDuration:     cfg.TrialBlockDuration,
		MaxActionsPerHour: cfg.TrialMaxActionsPerHour,
	}, cfg.SessionTokenPepper, logger)

	devices := service.NewDeviceSyncService(
		deviceRepo, sessionRepo, eventRepo, alertRepo, configRepo,
		domain.EffectiveSyncConfig{
			MaxConcurrentSessions:  cfg.DefaultMaxConcurrentSessions,
			InactiveSessionTimeout: int(cfg.DefaultInactiveSessionTimeout.Seconds()),
			EnableSecurityAlerts:   true,
			SyncPreferences:        true,
			SyncActivity:           true,
		},
		cfg.DefaultSessionTTL,
		logger,
	)

	jwtMgr := security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTAccessSecret)

	checkers := []health.Checker{health.DatabaseChecker(trialRepo.Ping)}
	if redisClient != nil {
		checkers = append(checkers, health.RedisChecker(redisClient))
	}
	readiness := health.NewProbeRunner(2*time.Second, 5*time.Second, checkers...)

	dep := router.Dependencies{
		TrialHandler:      handler.NewTrialHandler(trials),
		DeviceHandler:     handler.NewDeviceHandler(devices),
		SyncHandler:       handler.NewSyncHandler(devices),
		SecurityHandler:   handler.NewSecurityHandler(devices),
		JWTManager:        jwtMgr,
		CORSOrigins:       cfg.CORSOrigins,
		APIRateLimitRPM:   cfg.APIRateLimitRPM,
		TrialRateLimitRPM: cfg.TrialRateLimitRPM,
		Readiness:         readiness,
		EnableOTelHTTP:    cfg.EnableOTelHTTP,
	}
	if redisClient != nil {
		mode := middleware.FailClosed
		if cfg.RateLimitFailOpen {
			mode = middleware.FailOpen
		}
		limiter := middleware.NewRedisSlidingWindowLimiter(redisClient, "rate_limit")
		dep.GlobalRateLimiter = middleware.NewDistributedRateLimiter(
			limiter, cfg.APIRateLimitRPM, time.Minute, mode, "api", nil,
		).Middleware()
		dep.TrialRateLimiter = middleware.NewDistributedRateLimiter(
			limiter, cfg.TrialRateLimitRPM, time.Minute, mode, "trial", middleware.FingerprintOrIPKeyFunc,
		).Middleware()
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.NewRouter(dep),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &App{
		Config:        cfg,
		Logger:        logger,
		Server:        server,
		Observability: runtime,
		DB:            db,
		Redis:         redisClient,
		Trials:        trials,
		Devices:       devices,
		trialRepo:     trialRepo,
	}, nil
}

// Run serves HTTP until ctx is cancelled, then drains in-flight requests and
// flushes telemetry.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("http server starting", "addr", a.Server.Addr, "env", a.Config.Environment)
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.Logger.Info("http server draining")
		return a.Server.Shutdown(shutdownCtx)
	})

	err := g.Wait()

	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if shutdownErr := a.Observability.Shutdown(flushCtx); shutdownErr != nil {
		a.Logger.Warn("observability shutdown incomplete", "error", shutdownErr.Error())
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	return err
}

// Cleanup runs the maintenance pass: expired sessions flip to inactive and
// stale unconverted trial records are deleted.
func (a *App) Cleanup(ctx context.Context, trialRetention time.Duration) error {
	expired, err := a.Devices.CleanupExpiredSessions(ctx)
	if err != nil {
		return fmt.Errorf("cleanup expired sessions: %w", err)
	}
	a.Logger.InfoContext(ctx, "expired sessions deactivated", "count", expired)

	cutoff := time.Now().Add(-trialRetention)
	deleted, err := a.trialRepo.CleanupStale(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("cleanup stale trial records: %w", err)
	}
	a.Logger.InfoContext(ctx, "stale trial records deleted", "count", deleted, "cutoff", cutoff)
	return nil
}
