// Package storage opens the PostgreSQL and Redis connections used by the
// billing and quota stores and applies the schema migrations they depend on.
//
// Migrations are versioned and recorded in billsync_migrations. Each one runs
// in its own transaction, so a failed migration leaves earlier ones applied
// and is retried on the next start.
//
//	db, err := storage.OpenPostgres(ctx, storage.PostgresConfig{URL: url})
//	if err != nil {
//		return err
//	}
//	if err := storage.RunMigrations(ctx, db, logger); err != nil {
//		return err
//	}
package storage
