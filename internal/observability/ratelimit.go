package observability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	rateLimitMetricsOnce  sync.Once
	rateLimitCounter      metric.Int64Counter
	rateLimitRetryCounter metric.Int64Counter
)

func initRateLimitMetrics() {
	rateLimitMetricsOnce.Do(func() {
		meter := otel.Meter("device-sync-service")
		if counter, err := meter.Int64Counter("http.rate_limit.decisions"); err == nil {
			rateLimitCounter = counter
		}
		if counter, err := meter.Int64Counter("http.rate_limit.retry_after"); err == nil {
			rateLimitRetryCounter = counter
		}
	})
}

func RecordRateLimitDecision(ctx context.Context, scope, outcome, mode, keyType string) {
	initRateLimitMetrics()
	if rateLimitCounter == nil {
		return
	}
	rateLimitCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("outcome", outcome),
		attribute.String("mode", mode),
		attribute.String("key_type", keyType),
	))
}

func RecordRateLimitRetryAfter(ctx context.Context, scope, reason string, retryAfter time.Duration) {
	initRateLimitMetrics()
	if rateLimitRetryCounter == nil {
		return
	}
	rateLimitRetryCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("reason", reason),
		attribute.Int64("retry_after_ms", retryAfter.Milliseconds()),
	))
}
