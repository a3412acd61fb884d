package jobstore

import (
	"context"
	"database/sql"
	"fmt"
)

const SchemaVersion = 1

// Migrate creates (or upgrades) the job schema in-place.
//
// The DDL is restricted to the dialect intersection of sqlite and postgres:
// TEXT primary keys, TEXT timestamps (RFC3339 UTC), BIGINT counters, and
// composite primary keys instead of serial surrogates.
func Migrate(ctx context.Context, db *sql.DB) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if db == nil {
		return fmt.Errorf("db is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL
		);`,

		`CREATE TABLE IF NOT EXISTS delayed_job (
			id TEXT PRIMARY KEY,
			job_type TEXT NOT NULL,
			status TEXT NOT NULL,
			progress INTEGER NOT NULL DEFAULT 0,
			status_log TEXT NOT NULL DEFAULT '',
			status_description TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			started_at TEXT,
			finished_at TEXT,
			expires_at TEXT,
			raw_params TEXT NOT NULL DEFAULT '',
			docker_image_url TEXT NOT NULL DEFAULT '',
			run_dir_path TEXT NOT NULL DEFAULT '',
			output_dir_path TEXT NOT NULL DEFAULT '',
			num_failures INTEGER NOT NULL DEFAULT 0,
			lsf_job_id BIGINT NOT NULL DEFAULT 0,
			lsf_host TEXT NOT NULL DEFAULT '',
			requirements_params TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_delayed_job_lsf_host ON delayed_job(lsf_host, status);`,
		`CREATE INDEX IF NOT EXISTS idx_delayed_job_expires_at ON delayed_job(expires_at);`,
		`CREATE INDEX IF NOT EXISTS idx_delayed_job_type ON delayed_job(job_type);`,

		`CREATE TABLE IF NOT EXISTS input_file (
			job_id TEXT NOT NULL,
			field_key TEXT NOT NULL,
			internal_path TEXT NOT NULL,
			PRIMARY KEY (job_id, field_key),
			FOREIGN KEY (job_id) REFERENCES delayed_job(id)
		);`,

		`CREATE TABLE IF NOT EXISTS output_file (
			job_id TEXT NOT NULL,
			internal_path TEXT NOT NULL,
			public_url TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (job_id, internal_path),
			FOREIGN KEY (job_id) REFERENCES delayed_job(id)
		);`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement: %w", err)
		}
	}

	// Upsert the version marker; the dialect-neutral form is a delete+insert.
	if _, err := tx.ExecContext(ctx, `DELETE FROM schema_meta WHERE id = 1`); err != nil {
		return fmt.Errorf("reset schema version: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_meta (id, schema_version) VALUES (1, $1)`, SchemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}
