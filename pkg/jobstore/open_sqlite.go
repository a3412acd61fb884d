package jobstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
)

const driverSQLite = "delayedjobs_sqlite"

func init() {
	sql.Register(driverSQLite, &sqlite.Driver{})
}

func openSQLite(ctx context.Context, path string) (*sql.DB, error) {
	dsn := strings.TrimSpace(path)
	if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		if err := ensureStoreDir(dsn); err != nil {
			return nil, err
		}
		dsn = "file:" + dsn
	}

	db, err := sql.Open(driverSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}

	if err := configureLocalSQLite(ctx, db, dsn); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func configureLocalSQLite(ctx context.Context, db *sql.DB, dsn string) error {
	// Keep a single connection and use WAL to reduce lock contention. An
	// in-memory DB also needs a single connection or each pool conn would
	// see its own empty database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if !strings.HasPrefix(dsn, "file:") {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var journalMode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	var busyTimeout int
	if err := db.QueryRowContext(ctx, "PRAGMA busy_timeout=5000").Scan(&busyTimeout); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	return nil
}
