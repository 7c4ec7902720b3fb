package observability

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	authMetricsOnce  sync.Once
	tokenValidations metric.Int64Counter
)

func RecordAccessTokenValidation(ctx context.Context, outcome, source string) {
	authMetricsOnce.Do(func() {
		counter, err := otel.Meter("device-sync-service").Int64Counter("auth.token.validations")
		if err == nil {
			tokenValidations = counter
		}
	})
	if tokenValidations == nil {
		return
	}
	tokenValidations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("source", source),
	))
}
