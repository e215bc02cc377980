package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations returns all schema migrations in order
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create organizations reference table",
			SQL: `
				CREATE TABLE IF NOT EXISTS organizations (
					id TEXT PRIMARY KEY,
					owner_id TEXT,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     2,
			Description: "Create subscription tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS personal_subscriptions (
					user_id TEXT PRIMARY KEY,
					plan VARCHAR(32) NOT NULL DEFAULT 'free',
					seat_limit BIGINT,
					document_limit BIGINT,
					provider_customer_id TEXT,
					provider_subscription_id TEXT,
					billing_email TEXT,
					status VARCHAR(32) NOT NULL DEFAULT 'active',
					current_period_end TIMESTAMP WITH TIME ZONE,
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS organization_subscriptions (
					organization_id TEXT PRIMARY KEY,
					plan VARCHAR(32) NOT NULL DEFAULT 'free',
					seat_limit BIGINT,
					document_limit BIGINT,
					provider_customer_id TEXT,
					provider_subscription_id TEXT,
					billing_email TEXT,
					status VARCHAR(32) NOT NULL DEFAULT 'active',
					current_period_end TIMESTAMP WITH TIME ZONE,
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_personal_subscriptions_customer ON personal_subscriptions(provider_customer_id);
				CREATE INDEX IF NOT EXISTS idx_organization_subscriptions_customer ON organization_subscriptions(provider_customer_id);
			`,
		},
		{
			Version:     3,
			Description: "Create inbound_events ledger",
			SQL: `
				CREATE TABLE IF NOT EXISTS inbound_events (
					id TEXT PRIMARY KEY,
					type VARCHAR(100) NOT NULL,
					livemode BOOLEAN NOT NULL DEFAULT FALSE,
					status VARCHAR(20) NOT NULL
						CHECK (status IN ('processing', 'processed', 'failed', 'ignored')),
					payload_snapshot JSONB,
					attempts INT NOT NULL DEFAULT 1,
					claimed_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					processed_at TIMESTAMP WITH TIME ZONE,
					error_message VARCHAR(500)
				);

				CREATE INDEX IF NOT EXISTS idx_inbound_events_status_claimed ON inbound_events(status, claimed_at);
			`,
		},
		{
			Version:     4,
			Description: "Create usage_counters table",
			SQL: `
				CREATE TABLE IF NOT EXISTS usage_counters (
					scope_type VARCHAR(20) NOT NULL,
					scope_id TEXT NOT NULL,
					month_start DATE NOT NULL,
					calls BIGINT NOT NULL DEFAULT 0 CHECK (calls >= 0),
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					PRIMARY KEY (scope_type, scope_id, month_start)
				);
			`,
		},
		{
			Version:     5,
			Description: "Create activity_log table",
			SQL: `
				CREATE TABLE IF NOT EXISTS activity_log (
					id BIGSERIAL PRIMARY KEY,
					actor_user_id TEXT,
					organization_id TEXT,
					action VARCHAR(100) NOT NULL,
					document_id TEXT,
					title TEXT,
					metadata JSONB,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_activity_log_organization_id ON activity_log(organization_id, created_at DESC);
				CREATE INDEX IF NOT EXISTS idx_activity_log_actor_user_id ON activity_log(actor_user_id, created_at DESC);
			`,
		},
	}
}

// RunMigrations applies pending migrations
func RunMigrations(ctx context.Context, db *sql.DB, logger logrus.FieldLogger) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS billsync_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range Migrations() {
		if applied[m.Version] {
			continue
		}

		log := logger.WithFields(logrus.Fields{"version": m.Version, "description": m.Description})
		log.Info("Running migration")

		if err := apply(ctx, db, m); err != nil {
			return err
		}
		log.Info("Migration completed")
	}
	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM billsync_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}
	return applied, nil
}

func apply(ctx context.Context, db *sql.DB, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to execute migration %d: %w", m.Version, err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO billsync_migrations (version, description) VALUES ($1, $2)",
		m.Version, m.Description,
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
	}
	return nil
}
