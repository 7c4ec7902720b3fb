package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/channelpulse/device-sync-service/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

type AppMetrics struct {
	trialConsumeCounter    metric.Int64Counter
	trialFallbackCounter   metric.Int64Counter
	sessionConflictCounter metric.Int64Counter
	syncEventCounter       metric.Int64Counter
	securityAlertCounter   metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.OTELMetricsEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.OTELServiceName),
			attribute.String("deployment.environment", cfg.OTELEnvironment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	meter := mp.Meter("device-sync-service")
	consumeCounter, err := meter.Int64Counter("trial.consume.attempts")
	if err != nil {
		return nil, err
	}
	fallbackCounter, err := meter.Int64Counter("trial.store.fallback.events")
	if err != nil {
		return nil, err
	}
	conflictCounter, err := meter.Int64Counter("device.session.conflicts")
	if err != nil {
		return nil, err
	}
	syncEventCounter, err := meter.Int64Counter("sync.events.emitted")
	if err != nil {
		return nil, err
	}
	alertCounter, err := meter.Int64Counter("security.alerts.created")
	if err != nil {
		return nil, err
	}

	metricsMu.Lock()
	appMetrics = &AppMetrics{
		trialConsumeCounter:    consumeCounter,
		trialFallbackCounter:   fallbackCounter,
		sessionConflictCounter: conflictCounter,
		syncEventCounter:       syncEventCounter,
		securityAlertCounter:   alertCounter,
	}
	metricsMu.Unlock()

	logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return mp, nil
}

func RecordTrialConsume(outcome, storePath string) {
	metricsMu.RLock()
	m := appMetrics
	metricsMu.RUnlock()
	if m == nil {
		return
	}
	m.trialConsumeCounter.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("outcome", outcome),
			attribute.String("store_path", storePath),
		),
	)
}

func RecordTrialFallback(operation string) {
	metricsMu.RLock()
	m := appMetrics
	metricsMu.RUnlock()
	if m == nil {
		return
	}
	m.trialFallbackCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("operation", operation)))
}

func RecordSessionConflict(terminated int64) {
	metricsMu.RLock()
	m := appMetrics
	metricsMu.RUnlock()
	if m == nil {
		return
	}
	m.sessionConflictCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.Int64("terminated", terminated)))
}

func RecordSyncEventEmitted(eventType, status string) {
	metricsMu.RLock()
	m := appMetrics
	metricsMu.RUnlock()
	if m == nil {
		return
	}
	m.syncEventCounter.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("event_type", eventType),
			attribute.String("status", status),
		),
	)
}

func RecordSecurityAlertCreated(alertType, severity string) {
	metricsMu.RLock()
	m := appMetrics
	metricsMu.RUnlock()
	if m == nil {
		return
	}
	m.securityAlertCounter.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("alert_type", alertType),
			attribute.String("severity", severity),
		),
	)
}
