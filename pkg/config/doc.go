// Package config loads billsync configuration from environment variables.
//
// Every setting has a default except the webhook signing secret, and
// LoadConfig refuses to return a configuration without one. Validation
// failures wrap ErrConfig.
//
// Server settings:
//
//	BILLSYNC_HOST="0.0.0.0"
//	BILLSYNC_PORT="8080"
//	BILLSYNC_HEALTH_PORT="9090"
//	BILLSYNC_INTERNAL_TOKEN="..."          # guards /internal/usage, comma-separated
//
// Storage settings:
//
//	BILLSYNC_STORAGE_TYPE="postgres"       # postgres, memory
//	BILLSYNC_DATABASE_URL="postgres://localhost/billsync?sslmode=disable"
//	BILLSYNC_REDIS_URL="redis://localhost:6379/0"
//	BILLSYNC_QUOTA_BACKEND="postgres"      # postgres, redis, memory, none
//
// Billing event intake:
//
//	BILLSYNC_WEBHOOK_SECRET="whsec_..."
//	BILLSYNC_WEBHOOK_TOLERANCE="5m"
//	BILLSYNC_STRIPE_API_KEY="sk_..."       # optional live subscription lookup
//	BILLSYNC_LEDGER_RECLAIM_AFTER="10m"
//
// Plans and audit:
//
//	BILLSYNC_PLANS_FILE="/etc/billsync/plans.yaml"
//	BILLSYNC_PLANS_WATCH="true"
//	BILLSYNC_AUDIT_MAX_ATTEMPTS="3"
//	BILLSYNC_AUDIT_ASYNC="false"
//	BILLSYNC_AUDIT_QUEUE_SIZE="1024"       # async backlog; overflow is dropped
//
// Observability settings:
//
//	BILLSYNC_LOG_LEVEL="info"              # debug, info, warn, error
//	BILLSYNC_LOG_FORMAT="json"             # json, text
//	BILLSYNC_METRICS_ENABLED="true"
//	BILLSYNC_OTEL_ENABLED="true"
//	BILLSYNC_OTEL_ENDPOINT="otel-collector:4317"
package config
