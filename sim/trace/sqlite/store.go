// Package sqlite persists simulation event streams in a SQLite database so
// runs can be listed and summarized after the process exits.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/traffic-sim/traffic-sim/sim/trace"
)

//go:embed schema.sql
var schema string

var (
	// ErrRunExists is returned by SaveRun when the run id is already stored.
	ErrRunExists = errors.New("run already stored")
	// ErrRunNotFound is returned by LoadRun for an unknown run id.
	ErrRunNotFound = errors.New("run not found")
)

// Run describes one stored simulation run.
type Run struct {
	ID           uuid.UUID
	Map          string
	Scenario     string
	Seed         int64
	CreatedAt    time.Time
	SimEndedTime int64 // ticks
	EventCount   int
}

// Store persists runs in SQLite.
type Store struct {
	sqlDB *sql.DB
}

// Open opens (creating if needed) a run store at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// SaveRun stores run and its events in one transaction. EventCount is taken
// from records.
func (s *Store) SaveRun(ctx context.Context, run Run, records []trace.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if run.ID == uuid.Nil {
		return fmt.Errorf("run id is required")
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, map_name, scenario, seed, created_at, sim_ended_time, event_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID.String(), run.Map, run.Scenario, run.Seed, run.CreatedAt.UTC().UnixMilli(), run.SimEndedTime, len(records),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("save run %s: %w", run.ID, ErrRunExists)
		}
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO events (run_id, seq, time, kind, agent, trip, lane, intersection, turn, spot, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare event insert: %w", err)
	}
	defer stmt.Close()
	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, run.ID.String(), r.Seq, r.Time, string(r.Kind), r.Agent,
			r.Trip, r.Lane, r.Intersection, r.Turn, r.Spot, r.Detail); err != nil {
			return fmt.Errorf("save event %d of run %s: %w", r.Seq, run.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run %s: %w", run.ID, err)
	}
	return nil
}

// LoadRun returns a stored run and its events in sequence order.
func (s *Store) LoadRun(ctx context.Context, id uuid.UUID) (Run, []trace.Record, error) {
	if err := ctx.Err(); err != nil {
		return Run{}, nil, err
	}
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, map_name, scenario, seed, created_at, sim_ended_time, event_count FROM runs WHERE id = ?`, id.String())
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, nil, fmt.Errorf("load run %s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return Run{}, nil, fmt.Errorf("load run %s: %w", id, err)
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT seq, time, kind, agent, trip, lane, intersection, turn, spot, detail
		 FROM events WHERE run_id = ? ORDER BY seq`, id.String())
	if err != nil {
		return Run{}, nil, fmt.Errorf("load events of run %s: %w", id, err)
	}
	defer rows.Close()
	records := make([]trace.Record, 0, run.EventCount)
	for rows.Next() {
		var r trace.Record
		var kind string
		if err := rows.Scan(&r.Seq, &r.Time, &kind, &r.Agent, &r.Trip, &r.Lane, &r.Intersection, &r.Turn, &r.Spot, &r.Detail); err != nil {
			return Run{}, nil, fmt.Errorf("scan event of run %s: %w", id, err)
		}
		r.Kind = trace.Kind(kind)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return Run{}, nil, fmt.Errorf("read events of run %s: %w", id, err)
	}
	return run, records, nil
}

// ListRuns returns every stored run, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, map_name, scenario, seed, created_at, sim_ended_time, event_count
		 FROM runs ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var run Run
	var id string
	var created int64
	if err := sc.Scan(&id, &run.Map, &run.Scenario, &run.Seed, &created, &run.SimEndedTime, &run.EventCount); err != nil {
		return Run{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return Run{}, fmt.Errorf("stored run id %q: %w", id, err)
	}
	run.ID = parsed
	run.CreatedAt = time.UnixMilli(created).UTC()
	return run, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
