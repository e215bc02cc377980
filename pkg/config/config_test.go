package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("BILLSYNC_TEST_STRING", "custom")
	t.Setenv("BILLSYNC_TEST_BOOL", "1")
	t.Setenv("BILLSYNC_TEST_INT", "42")
	t.Setenv("BILLSYNC_TEST_BAD_INT", "forty")
	t.Setenv("BILLSYNC_TEST_INT64", "9000000000")
	t.Setenv("BILLSYNC_TEST_FLOAT", "0.25")
	t.Setenv("BILLSYNC_TEST_DURATION", "90s")
	t.Setenv("BILLSYNC_TEST_BAD_DURATION", "soon")

	assert.Equal(t, "custom", getEnv("BILLSYNC_TEST_STRING", "default"))
	assert.Equal(t, "default", getEnv("BILLSYNC_TEST_UNSET", "default"))
	assert.True(t, getEnvBool("BILLSYNC_TEST_BOOL", false))
	assert.True(t, getEnvBool("BILLSYNC_TEST_UNSET", true))
	assert.Equal(t, 42, getEnvInt("BILLSYNC_TEST_INT", 1))
	assert.Equal(t, 1, getEnvInt("BILLSYNC_TEST_BAD_INT", 1))
	assert.Equal(t, int64(9000000000), getEnvInt64("BILLSYNC_TEST_INT64", 0))
	assert.Equal(t, 0.25, getEnvFloat("BILLSYNC_TEST_FLOAT", 1))
	assert.Equal(t, 90*time.Second, getEnvDuration("BILLSYNC_TEST_DURATION", time.Second))
	assert.Equal(t, time.Second, getEnvDuration("BILLSYNC_TEST_BAD_DURATION", time.Second))
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("BILLSYNC_WEBHOOK_SECRET", "whsec_test")
	t.Setenv("BILLSYNC_DATABASE_URL", "postgres://localhost/billsync")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.ServerAddr())
	assert.Equal(t, "0.0.0.0:9090", cfg.HealthAddr())
	assert.Equal(t, "postgres", cfg.Storage.Type)
	assert.Equal(t, "postgres", cfg.Quota.Backend)
	assert.Equal(t, "Stripe-Signature", cfg.Webhook.SignatureHeader)
	assert.Equal(t, 5*time.Minute, cfg.Webhook.Tolerance)
	assert.Equal(t, int64(1<<20), cfg.Webhook.MaxBodyBytes)
	assert.Equal(t, 10*time.Minute, cfg.Ledger.ReclaimAfter)
	assert.Equal(t, "@every 5m", cfg.Ledger.SweepSchedule)
	assert.Equal(t, 3, cfg.Audit.MaxAttempts)
	assert.False(t, cfg.Audit.Async)
	assert.Equal(t, "info", cfg.Observability.LogLevel)
	assert.True(t, cfg.Observability.MetricsEnabled)
	assert.False(t, cfg.Observability.OTelEnabled)
}

func TestLoadConfig_MissingSecretRefusesStartup(t *testing.T) {
	t.Setenv("BILLSYNC_WEBHOOK_SECRET", "")
	t.Setenv("BILLSYNC_STORAGE_TYPE", "memory")
	t.Setenv("BILLSYNC_QUOTA_BACKEND", "memory")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfig))
	assert.Contains(t, err.Error(), "BILLSYNC_WEBHOOK_SECRET")
}

func validConfig() *Config {
	return &Config{
		Server:  ServerConfig{Port: "8080", HealthPort: "9090"},
		Storage: StorageConfig{Type: "memory"},
		Quota:   QuotaConfig{Backend: "memory"},
		Webhook: WebhookConfig{
			Secret:          "whsec_test",
			SignatureHeader: "Stripe-Signature",
			Tolerance:       5 * time.Minute,
			MaxBodyBytes:    1 << 20,
		},
		Audit: AuditConfig{MaxAttempts: 3},
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"same ports", func(c *Config) { c.Server.HealthPort = "8080" }, "must be different"},
		{"missing secret", func(c *Config) { c.Webhook.Secret = "" }, "signing secret"},
		{"zero tolerance", func(c *Config) { c.Webhook.Tolerance = 0 }, "tolerance"},
		{"postgres without url", func(c *Config) { c.Storage.Type = "postgres" }, "database URL"},
		{"unknown storage", func(c *Config) { c.Storage.Type = "s3" }, "invalid storage type"},
		{"postgres quota on memory storage", func(c *Config) { c.Quota.Backend = "postgres" }, "requires postgres storage"},
		{"redis quota without url", func(c *Config) { c.Quota.Backend = "redis" }, "redis URL"},
		{"redis quota with url", func(c *Config) {
			c.Quota.Backend = "redis"
			c.Storage.RedisURL = "redis://localhost:6379"
		}, ""},
		{"unknown quota backend", func(c *Config) { c.Quota.Backend = "dynamo" }, "invalid quota backend"},
		{"negative reclaim", func(c *Config) { c.Ledger.ReclaimAfter = -time.Second }, "reclaim"},
		{"watch without file", func(c *Config) { c.Plans.Watch = true }, "plans file"},
		{"zero audit attempts", func(c *Config) { c.Audit.MaxAttempts = 0 }, "audit max attempts"},
		{"async without workers", func(c *Config) { c.Audit.Async = true }, "audit workers"},
		{"otel without endpoint", func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelServiceName = "billsync"
		}, "endpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrConfig))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
