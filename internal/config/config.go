package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Environment string
	HTTPAddr    string

	DatabaseDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTIssuer       string
	JWTAudience     string
	JWTAccessSecret string

	SessionTokenPepper string

	// Anonymous trial policy.
	TrialDefaultMax        int
	TrialResetInterval     time.Duration
	TrialBlockDuration     time.Duration
	TrialMaxActionsPerHour int
	TrialProbeInterval     time.Duration

	// Device sync policy defaults.
	DefaultMaxConcurrentSessions  int
	DefaultInactiveSessionTimeout time.Duration
	DefaultSessionTTL             time.Duration

	// HTTP rate limits (requests per minute).
	APIRateLimitRPM   int
	TrialRateLimitRPM int
	RateLimitFailOpen bool

	CORSOrigins []string

	OTELServiceName           string
	OTELEnvironment           string
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELMetricsEnabled        bool
	OTELTracingEnabled        bool
	OTELLogsEnabled           bool
	OTELMetricsExportInterval time.Duration
	EnableOTelHTTP            bool
}

func Load(ctx context.Context) (*Config, error) {
	cfg := &Config{
		Environment: getEnv("APP_ENV", "development"),
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),

		DatabaseDSN: getEnv("DATABASE_DSN", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		JWTIssuer:       getEnv("JWT_ISSUER", "device-sync-service"),
		JWTAudience:     getEnv("JWT_AUDIENCE", "device-sync-service"),
		JWTAccessSecret: getEnv("JWT_ACCESS_SECRET", ""),

		SessionTokenPepper: getEnv("SESSION_TOKEN_PEPPER", ""),

		TrialDefaultMax:        getEnvInt("TRIAL_DEFAULT_MAX", 5),
		TrialResetInterval:     getEnvDuration("TRIAL_RESET_INTERVAL", 24*time.Hour),
		TrialBlockDuration:     getEnvDuration("TRIAL_BLOCK_DURATION", 24*time.Hour),
		TrialMaxActionsPerHour: getEnvInt("TRIAL_MAX_ACTIONS_PER_HOUR", 10),
		TrialProbeInterval:     getEnvDuration("TRIAL_STORE_PROBE_INTERVAL", 30*time.Second),

		DefaultMaxConcurrentSessions:  getEnvInt("SYNC_DEFAULT_MAX_CONCURRENT_SESSIONS", 5),
		DefaultInactiveSessionTimeout: getEnvDuration("SYNC_DEFAULT_INACTIVE_SESSION_TIMEOUT", 30*24*time.Hour),
		DefaultSessionTTL:             getEnvDuration("SYNC_DEFAULT_SESSION_TTL", 7*24*time.Hour),

		APIRateLimitRPM:   getEnvInt("API_RATE_LIMIT_RPM", 300),
		TrialRateLimitRPM: getEnvInt("TRIAL_RATE_LIMIT_RPM", 60),
		RateLimitFailOpen: getEnvBool("RATE_LIMIT_FAIL_OPEN", true),

		CORSOrigins: splitCSV(getEnv("CORS_ORIGINS", "")),

		OTELServiceName:           getEnv("OTEL_SERVICE_NAME", "device-sync-service"),
		OTELEnvironment:           getEnv("OTEL_ENVIRONMENT", "development"),
		OTELExporterOTLPEndpoint:  getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTELExporterOTLPInsecure:  getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		OTELMetricsEnabled:        getEnvBool("OTEL_METRICS_ENABLED", false),
		OTELTracingEnabled:        getEnvBool("OTEL_TRACING_ENABLED", false),
		OTELLogsEnabled:           getEnvBool("OTEL_LOGS_ENABLED", false),
		OTELMetricsExportInterval: getEnvDuration("OTEL_METRICS_EXPORT_INTERVAL", 30*time.Second),
		EnableOTelHTTP:            getEnvBool("OTEL_HTTP_ENABLED", false),
	}

	if err := cfg.validate(); err != nil {
		recordConfigValidationEvent(ctx, cfg.Environment, "failure", classifyConfigLoadError(err))
		return nil, err
	}
	recordConfigValidationEvent(ctx, cfg.Environment, "success", "none")
	return cfg, nil
}

func (c *Config) validate() error {
	var problems []string
	if c.DatabaseDSN == "" {
		problems = append(problems, "DATABASE_DSN is required")
	}
	if c.JWTAccessSecret == "" {
		problems = append(problems, "JWT_ACCESS_SECRET is required")
	}
	if c.TrialDefaultMax <= 0 {
		problems = append(problems, "TRIAL_DEFAULT_MAX must be positive")
	}
	if c.TrialResetInterval <= 0 {
		problems = append(problems, "TRIAL_RESET_INTERVAL must be positive")
	}
	if c.TrialBlockDuration <= 0 {
		problems = append(problems, "TRIAL_BLOCK_DURATION must be positive")
	}
	if c.TrialMaxActionsPerHour <= 0 {
		problems = append(problems, "TRIAL_MAX_ACTIONS_PER_HOUR must be positive")
	}
	if c.DefaultMaxConcurrentSessions <= 0 {
		problems = append(problems, "SYNC_DEFAULT_MAX_CONCURRENT_SESSIONS must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("validate config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return d
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
