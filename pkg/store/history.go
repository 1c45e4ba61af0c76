// Package store persists harness runs so suite results can be compared over time.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/dan-solli/entityx/pkg/assertion"
	"github.com/dan-solli/entityx/pkg/harness"
)

// ErrRunNotFound is returned by GetRun for unknown ids
var ErrRunNotFound = errors.New("run not found")

// Run is one persisted harness run
type Run struct {
	ID        string
	StartedAt time.Time
	// Target is the endpoint URL, or "local" for in-process runs
	Target    string
	PassRatio float64
	Cases     []harness.CaseRecord
}

// Summary derives the run's aggregate numbers from its case records
func (r *Run) Summary() harness.Summary {
	return harness.Summarize(r.Cases)
}

// RunStore persists harness runs
type RunStore interface {
	SaveRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error
	RunCount(ctx context.Context) (int64, error)
	Close() error
}

// SQLiteRunStore implements RunStore using SQLite as the backend.
type SQLiteRunStore struct {
	db *sql.DB
}

// NewSQLiteRunStore opens (or creates) a run history database.
// The dbPath can be a file path or ":memory:" for an in-memory database.
func NewSQLiteRunStore(dbPath string) (*SQLiteRunStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	// a single connection keeps ":memory:" databases shared across calls
	db.SetMaxOpenConns(1)

	store := &SQLiteRunStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to initialize schema")
	}

	return store, nil
}

func (s *SQLiteRunStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		target TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

	CREATE TABLE IF NOT EXISTS run_cases (
		run_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		passed INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		assertions_passed INTEGER NOT NULL,
		assertions_total INTEGER NOT NULL,
		verdicts TEXT,
		error TEXT,
		PRIMARY KEY (run_id, position),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return s.migrateSchema()
}

// migrateSchema adds columns introduced after the first release
func (s *SQLiteRunStore) migrateSchema() error {
	if !s.columnExists("runs", "pass_ratio") {
		if _, err := s.db.Exec("ALTER TABLE runs ADD COLUMN pass_ratio REAL DEFAULT 0.6"); err != nil {
			return errors.Wrap(err, "failed to add pass_ratio column")
		}
	}
	return nil
}

func (s *SQLiteRunStore) columnExists(tableName, columnName string) bool {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notnull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return false
		}
		if name == columnName {
			return true
		}
	}
	return false
}

// SaveRun stores a run and its case records in one transaction.
// An empty ID is replaced by a new uuid.
func (s *SQLiteRunStore) SaveRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, target, pass_ratio) VALUES (?, ?, ?, ?)`,
		run.ID, run.StartedAt.UTC(), run.Target, run.PassRatio)
	if err != nil {
		return errors.Wrapf(err, "insert run %s", run.ID)
	}

	for i, c := range run.Cases {
		verdicts, err := json.Marshal(c.Verdicts)
		if err != nil {
			return errors.Wrapf(err, "encode verdicts of %q", c.Name)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO run_cases (run_id, position, name, passed, duration_ms, assertions_passed, assertions_total, verdicts, error)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, i, c.Name, c.Passed, c.Duration.Milliseconds(),
			c.AssertionsPassed, c.AssertionsTotal, string(verdicts), c.Error)
		if err != nil {
			return errors.Wrapf(err, "insert case %q", c.Name)
		}
	}

	return errors.Wrap(tx.Commit(), "commit run")
}

// GetRun loads a run with its cases
func (s *SQLiteRunStore) GetRun(ctx context.Context, id string) (*Run, error) {
	run := &Run{ID: id}
	err := s.db.QueryRowContext(ctx,
		`SELECT started_at, target, pass_ratio FROM runs WHERE id = ?`, id).
		Scan(&run.StartedAt, &run.Target, &run.PassRatio)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrRunNotFound, "run %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get run %s", id)
	}

	if run.Cases, err = s.loadCases(ctx, id); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *SQLiteRunStore) loadCases(ctx context.Context, runID string) ([]harness.CaseRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, passed, duration_ms, assertions_passed, assertions_total, verdicts, error
		 FROM run_cases WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, errors.Wrapf(err, "query cases of run %s", runID)
	}
	defer rows.Close()

	var cases []harness.CaseRecord
	for rows.Next() {
		var (
			c          harness.CaseRecord
			durationMs int64
			verdicts   sql.NullString
			caseErr    sql.NullString
		)
		if err := rows.Scan(&c.Name, &c.Passed, &durationMs, &c.AssertionsPassed, &c.AssertionsTotal, &verdicts, &caseErr); err != nil {
			return nil, errors.Wrap(err, "scan case")
		}
		c.Duration = time.Duration(durationMs) * time.Millisecond
		c.Error = caseErr.String
		if verdicts.Valid && verdicts.String != "" && verdicts.String != "null" {
			var vs []assertion.Verdict
			if err := json.Unmarshal([]byte(verdicts.String), &vs); err != nil {
				return nil, errors.Wrapf(err, "decode verdicts of %q", c.Name)
			}
			c.Verdicts = vs
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

// ListRuns returns the most recent runs first, with their cases.
// limit <= 0 returns every run.
func (s *SQLiteRunStore) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	query := `SELECT id, started_at, target, pass_ratio FROM runs ORDER BY started_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list runs")
	}

	var runs []*Run
	for rows.Next() {
		run := &Run{}
		if err := rows.Scan(&run.ID, &run.StartedAt, &run.Target, &run.PassRatio); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan run")
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// release the single connection before loading cases
	rows.Close()

	for _, run := range runs {
		if run.Cases, err = s.loadCases(ctx, run.ID); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

// DeleteRun removes a run and its cases
func (s *SQLiteRunStore) DeleteRun(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_cases WHERE run_id = ?`, id); err != nil {
		return errors.Wrapf(err, "delete cases of run %s", id)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, "delete run %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(ErrRunNotFound, "run %s", id)
	}
	return errors.Wrap(tx.Commit(), "commit delete")
}

// RunCount returns the number of stored runs
func (s *SQLiteRunStore) RunCount(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "count runs")
	}
	return count, nil
}

// Close closes the database connection
func (s *SQLiteRunStore) Close() error {
	return s.db.Close()
}
