// Package history persists a local record of provisioning attempts in
// SQLite, so operators can answer "when did this node last get
// provisioned, and did it work" without querying the Registry.
package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/nodesync/nodesync/pkg/provision"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is a SQLite-backed provisioning history. It implements
// provision.Recorder.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens the history database, creating and migrating it as needed.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("history database path is required")
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping history database: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// RecordProvision appends one provisioning attempt.
func (s *Store) RecordProvision(ctx context.Context, rec provision.Record) error {
	query := `
		INSERT INTO provision_runs (
			run_id, hostname, os, outcome, node_id, created, replayed,
			scan_job_id, error, duration_ms, at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	at := rec.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, query,
		rec.RunID,
		rec.Hostname,
		rec.OS,
		string(rec.Outcome),
		rec.NodeID,
		rec.Created,
		rec.Replayed,
		rec.ScanJobID,
		rec.Error,
		rec.Duration.Milliseconds(),
		at.UTC().Format("2006-01-02 15:04:05"),
	)
	if err != nil {
		return fmt.Errorf("record provisioning run: %w", err)
	}
	return nil
}

// List returns the most recent provisioning attempts, newest first. An
// empty hostname returns attempts for all nodes.
func (s *Store) List(ctx context.Context, hostname string, limit int) ([]provision.Record, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT run_id, hostname, os, outcome, node_id, created, replayed,
		       scan_job_id, error, duration_ms, at
		FROM provision_runs
		WHERE (? = '' OR hostname = ?)
		ORDER BY at DESC, id DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, hostname, hostname, limit)
	if err != nil {
		return nil, fmt.Errorf("list provisioning runs: %w", err)
	}
	defer rows.Close()

	var recs []provision.Record
	for rows.Next() {
		var (
			rec        provision.Record
			outcome    string
			durationMS int64
			at         string
		)
		err := rows.Scan(
			&rec.RunID,
			&rec.Hostname,
			&rec.OS,
			&outcome,
			&rec.NodeID,
			&rec.Created,
			&rec.Replayed,
			&rec.ScanJobID,
			&rec.Error,
			&durationMS,
			&at,
		)
		if err != nil {
			return nil, fmt.Errorf("scan provisioning run: %w", err)
		}
		rec.Outcome = provision.Outcome(outcome)
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		if t, err := time.Parse("2006-01-02 15:04:05", at); err == nil {
			rec.At = t.UTC()
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate provisioning runs: %w", err)
	}
	return recs, nil
}
