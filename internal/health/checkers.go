package health

import (
	"context"

	"github.com/redis/go-redis/v9"
)

func DatabaseChecker(ping func(ctx context.Context) error) Checker {
	return CheckerFunc(func(ctx context.Context) CheckResult {
		result := CheckResult{Name: "database", Healthy: true}
		if err := ping(ctx); err != nil {
			result.Healthy = false
			result.Error = err.Error()
		}
		return result
	})
}

func RedisChecker(client redis.UniversalClient) Checker {
	return CheckerFunc(func(ctx context.Context) CheckResult {
		result := CheckResult{Name: "redis", Healthy: true}
		if err := client.Ping(ctx).Err(); err != nil {
			result.Healthy = false
			result.Error = err.Error()
		}
		return result
	})
}
