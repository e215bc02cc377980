package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrConfig marks configuration that prevents startup
var ErrConfig = errors.New("invalid configuration")

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Storage       StorageConfig
	Quota         QuotaConfig
	Webhook       WebhookConfig
	Ledger        LedgerConfig
	Plans         PlansConfig
	Audit         AuditConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// InternalToken guards the internal quota API when set. Comma-separated
	// values are all accepted, for rotation.
	InternalToken string
}

// StorageConfig selects and configures persistence
type StorageConfig struct {
	// Type is "postgres" or "memory"
	Type string

	DatabaseURL     string
	MaxConns        int
	MinConns        int
	ConnTimeout     time.Duration
	ConnMaxLifetime time.Duration
	RunMigrations   bool

	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int
}

// QuotaConfig configures usage metering
type QuotaConfig struct {
	// Backend is "postgres", "redis", "memory" or "none"
	Backend        string
	LimitCacheSize int
	LimitCacheTTL  time.Duration
}

// WebhookConfig configures billing event intake
type WebhookConfig struct {
	Secret          string
	SignatureHeader string
	Tolerance       time.Duration
	MaxBodyBytes    int64

	// StripeAPIKey enables the live subscription lookup at checkout
	StripeAPIKey string
}

// LedgerConfig configures the idempotency ledger and its sweeper
type LedgerConfig struct {
	// ReclaimAfter lets a redelivery re-claim a processing row older than
	// this. Zero disables re-claiming.
	ReclaimAfter  time.Duration
	SweepSchedule string
	SweepStale    time.Duration
}

// PlansConfig locates the optional plan table file
type PlansConfig struct {
	File  string
	Watch bool
}

// AuditConfig configures best-effort audit writes
type AuditConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Async        bool
	Workers      int
	QueueSize    int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Quota:         loadQuotaConfig(),
		Webhook:       loadWebhookConfig(),
		Ledger:        loadLedgerConfig(),
		Plans:         loadPlansConfig(),
		Audit:         loadAuditConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("BILLSYNC_HOST", "0.0.0.0"),
		Port:            getEnv("BILLSYNC_PORT", "8080"),
		ReadTimeout:     getEnvDuration("BILLSYNC_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("BILLSYNC_WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:     getEnvDuration("BILLSYNC_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("BILLSYNC_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("BILLSYNC_HEALTH_PORT", "9090"),
		InternalToken:   getEnv("BILLSYNC_INTERNAL_TOKEN", ""),
	}
}

func loadStorageConfig() StorageConfig {
	return StorageConfig{
		Type:            strings.ToLower(getEnv("BILLSYNC_STORAGE_TYPE", "postgres")),
		DatabaseURL:     getEnv("BILLSYNC_DATABASE_URL", ""),
		MaxConns:        getEnvInt("BILLSYNC_DATABASE_MAX_CONNS", 20),
		MinConns:        getEnvInt("BILLSYNC_DATABASE_MIN_CONNS", 2),
		ConnTimeout:     getEnvDuration("BILLSYNC_DATABASE_TIMEOUT", 5*time.Second),
		ConnMaxLifetime: getEnvDuration("BILLSYNC_DATABASE_MAX_LIFETIME", 30*time.Minute),
		RunMigrations:   getEnvBool("BILLSYNC_RUN_MIGRATIONS", true),
		RedisURL:        getEnv("BILLSYNC_REDIS_URL", ""),
		RedisPassword:   getEnv("BILLSYNC_REDIS_PASSWORD", ""),
		RedisDB:         getEnvInt("BILLSYNC_REDIS_DB", 0),
		RedisMaxRetries: getEnvInt("BILLSYNC_REDIS_MAX_RETRIES", 1),
		RedisPoolSize:   getEnvInt("BILLSYNC_REDIS_POOL_SIZE", 0),
	}
}

func loadQuotaConfig() QuotaConfig {
	return QuotaConfig{
		Backend:        strings.ToLower(getEnv("BILLSYNC_QUOTA_BACKEND", "postgres")),
		LimitCacheSize: getEnvInt("BILLSYNC_LIMIT_CACHE_SIZE", 10000),
		LimitCacheTTL:  getEnvDuration("BILLSYNC_LIMIT_CACHE_TTL", time.Minute),
	}
}

func loadWebhookConfig() WebhookConfig {
	return WebhookConfig{
		Secret:          getEnv("BILLSYNC_WEBHOOK_SECRET", ""),
		SignatureHeader: getEnv("BILLSYNC_WEBHOOK_SIGNATURE_HEADER", "Stripe-Signature"),
		Tolerance:       getEnvDuration("BILLSYNC_WEBHOOK_TOLERANCE", 5*time.Minute),
		MaxBodyBytes:    getEnvInt64("BILLSYNC_WEBHOOK_MAX_BODY_BYTES", 1<<20),
		StripeAPIKey:    getEnv("BILLSYNC_STRIPE_API_KEY", ""),
	}
}

func loadLedgerConfig() LedgerConfig {
	return LedgerConfig{
		ReclaimAfter:  getEnvDuration("BILLSYNC_LEDGER_RECLAIM_AFTER", 10*time.Minute),
		SweepSchedule: getEnv("BILLSYNC_SWEEP_SCHEDULE", "@every 5m"),
		SweepStale:    getEnvDuration("BILLSYNC_SWEEP_STALE_AFTER", 15*time.Minute),
	}
}

func loadPlansConfig() PlansConfig {
	return PlansConfig{
		File:  getEnv("BILLSYNC_PLANS_FILE", ""),
		Watch: getEnvBool("BILLSYNC_PLANS_WATCH", false),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		MaxAttempts:  getEnvInt("BILLSYNC_AUDIT_MAX_ATTEMPTS", 3),
		InitialDelay: getEnvDuration("BILLSYNC_AUDIT_INITIAL_DELAY", 50*time.Millisecond),
		MaxDelay:     getEnvDuration("BILLSYNC_AUDIT_MAX_DELAY", time.Second),
		Async:        getEnvBool("BILLSYNC_AUDIT_ASYNC", false),
		Workers:      getEnvInt("BILLSYNC_AUDIT_WORKERS", 4),
		QueueSize:    getEnvInt("BILLSYNC_AUDIT_QUEUE_SIZE", 1024),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           getEnv("BILLSYNC_LOG_LEVEL", "info"),
		LogFormat:          getEnv("BILLSYNC_LOG_FORMAT", "json"),
		MetricsEnabled:     getEnvBool("BILLSYNC_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("BILLSYNC_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("BILLSYNC_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("BILLSYNC_OTEL_SERVICE_NAME", "billsync"),
		OTelServiceVersion: getEnv("BILLSYNC_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("BILLSYNC_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("BILLSYNC_OTEL_SAMPLE_RATIO", 1),
	}
}

// Validate checks if the configuration is valid. Every failure wraps ErrConfig.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return nil
}

func (c *Config) validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Webhook.Secret == "" {
		return fmt.Errorf("webhook signing secret is required (BILLSYNC_WEBHOOK_SECRET)")
	}
	if c.Webhook.SignatureHeader == "" {
		return fmt.Errorf("webhook signature header is required")
	}
	if c.Webhook.Tolerance <= 0 {
		return fmt.Errorf("webhook tolerance must be positive")
	}
	if c.Webhook.MaxBodyBytes <= 0 {
		return fmt.Errorf("webhook max body bytes must be positive")
	}

	switch c.Storage.Type {
	case "memory":
	case "postgres":
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("database URL is required for postgres storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be postgres or memory)", c.Storage.Type)
	}

	switch c.Quota.Backend {
	case "none", "memory":
	case "postgres":
		if c.Storage.Type != "postgres" {
			return fmt.Errorf("postgres quota backend requires postgres storage")
		}
	case "redis":
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("redis URL is required for redis quota backend")
		}
	default:
		return fmt.Errorf("invalid quota backend: %s (must be postgres, redis, memory or none)", c.Quota.Backend)
	}

	if c.Ledger.ReclaimAfter < 0 {
		return fmt.Errorf("ledger reclaim interval must not be negative")
	}
	if c.Plans.Watch && c.Plans.File == "" {
		return fmt.Errorf("plans file is required when plan watching is enabled")
	}
	if c.Audit.MaxAttempts < 1 {
		return fmt.Errorf("audit max attempts must be at least 1")
	}
	if c.Audit.Async && c.Audit.Workers < 1 {
		return fmt.Errorf("audit workers must be at least 1 when async")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// ServerAddr returns the main listener address
func (c *Config) ServerAddr() string {
	return c.Server.Host + ":" + c.Server.Port
}

// HealthAddr returns the health and metrics listener address
func (c *Config) HealthAddr() string {
	return c.Server.Host + ":" + c.Server.HealthPort
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
