package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// DBSink writes entries to the activity_log table
type DBSink struct {
	db *sql.DB
}

// NewDBSink creates a database sink and ensures its table exists
func NewDBSink(ctx context.Context, db *sql.DB) (*DBSink, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	sink := &DBSink{db: db}
	if err := sink.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure activity_log table: %w", err)
	}
	return sink, nil
}

// ensureTable creates the activity_log table if it doesn't exist.
// The table is shared with the activity feed.
func (s *DBSink) ensureTable(ctx context.Context) error {
	query := `
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
	`

	_, err := s.db.ExecContext(ctx, query)
	return err
}

// Write inserts an entry and sets its ID
func (s *DBSink) Write(ctx context.Context, entry *Entry) error {
	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO activity_log (
			actor_user_id, organization_id, action,
			document_id, title, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	err := s.db.QueryRowContext(ctx, query,
		nullString(entry.ActorUserID), nullString(entry.OrganizationID), string(entry.Action),
		nullString(entry.DocumentID), nullString(entry.Title), metadataJSON, entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to insert activity log: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
