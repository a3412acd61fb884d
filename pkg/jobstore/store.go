// Package jobstore persists delayed jobs and their file records in a
// relational store.
//
// Two backends are supported behind one schema: a sqlite file (or
// ":memory:") for single-node deployments and tests, and Postgres for
// multi-replica deployments. The backend is selected from the DSN.
package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrNotExist is returned when a job (or file record) lookup finds no row.
var ErrNotExist = errors.New("job does not exist")

// Store wraps the relational database holding job state.
type Store struct {
	db *sql.DB
}

// Open connects to the store described by uri and migrates the schema.
//
//   - postgres:// or postgresql:// DSNs use the pgx driver.
//   - everything else is treated as a sqlite path (":memory:" allowed).
func Open(ctx context.Context, uri string) (*Store, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil, errors.New("store uri is required")
	}

	var (
		db  *sql.DB
		err error
	)
	if strings.HasPrefix(uri, "postgres://") || strings.HasPrefix(uri, "postgresql://") {
		db, err = openPostgres(uri)
	} else {
		db, err = openSQLite(ctx, uri)
	}
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping job store: %w", err)
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports store reachability; used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DB exposes the underlying handle for tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

func ensureStoreDir(path string) error {
	if strings.TrimSpace(path) == "" || path == ":memory:" {
		return nil
	}
	dir := filepath.Dir(filepath.Clean(path))
	if dir == "." || dir == string(filepath.Separator) {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	return nil
}

// colTimeLayout is RFC3339 with a fixed nine-digit fraction. The fixed
// width keeps lexicographic ordering of the TEXT columns chronological,
// which the expiry query relies on.
const colTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string {
	return t.UTC().Format(colTimeLayout)
}

// timeToCol renders an optional timestamp for storage.
func timeToCol(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func colToTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil, fmt.Errorf("parse stored timestamp %q: %w", v.String, err)
	}
	t = t.UTC()
	return &t, nil
}
