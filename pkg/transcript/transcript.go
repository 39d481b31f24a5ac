// Package transcript provides SQLite-backed storage of terminal run
// records. The store is an optional collaborator of the agent runtime; a
// run's outcome never depends on a transcript write succeeding.
package transcript

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go sqlite driver

	"conductor/pkg/agent"
	"conductor/pkg/logx"
)

// ErrRunNotFound indicates a lookup for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id        TEXT PRIMARY KEY,
	model         TEXT NOT NULL,
	status        TEXT NOT NULL,
	reason        TEXT NOT NULL DEFAULT '',
	iterations    INTEGER NOT NULL DEFAULT 0,
	final_content TEXT NOT NULL DEFAULT '',
	conversation  TEXT NOT NULL DEFAULT '[]',
	started_at    TEXT NOT NULL,
	finished_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

// Store persists run records in a SQLite database. Safe for concurrent
// use; SQLite allows a single writer, so the pool is capped at one
// connection.
type Store struct {
	db     *sql.DB
	logger *logx.Logger
}

// Open creates or opens the transcript database at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	// WAL mode and busy timeout keep concurrent readers off the writer's
	// back. The driver takes pragmas in _pragma=name(value) form; other
	// spellings are silently ignored.
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)",
		path,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping transcript database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize transcript schema: %w", err)
	}

	// SQLite supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	logger := logx.NewLogger("transcript")
	logger.Debug("transcript store opened: %s", path)
	return &Store{db: db, logger: logger}, nil
}

// RecordRun inserts one terminal run record, conversation included.
// Implements agent.Recorder.
func (s *Store) RecordRun(ctx context.Context, rec agent.RunRecord) error {
	conversation, err := json.Marshal(rec.Conversation)
	if err != nil {
		return fmt.Errorf("failed to serialize conversation for run %s: %w", rec.RunID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, model, status, reason, iterations, final_content, conversation, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Model, string(rec.Status), string(rec.Reason), rec.Iterations,
		rec.FinalContent, string(conversation),
		rec.StartedAt.UTC().Format(time.RFC3339Nano),
		rec.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", rec.RunID, err)
	}
	return nil
}

// GetRun fetches one run record by ID.
func (s *Store) GetRun(ctx context.Context, runID string) (agent.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, model, status, reason, iterations, final_content, conversation, started_at, finished_at
		FROM runs WHERE run_id = ?`, runID)

	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return agent.RunRecord{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return rec, err
}

// ListRuns returns the most recent run records, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]agent.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, model, status, reason, iterations, final_content, conversation, started_at, finished_at
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []agent.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (agent.RunRecord, error) {
	var (
		rec                 agent.RunRecord
		status, reason      string
		conversation        string
		startedAt, finished string
	)
	err := row.Scan(&rec.RunID, &rec.Model, &status, &reason, &rec.Iterations,
		&rec.FinalContent, &conversation, &startedAt, &finished)
	if err != nil {
		return agent.RunRecord{}, err
	}
	rec.Status = agent.Status(status)
	rec.Reason = agent.FailReason(reason)
	if err := json.Unmarshal([]byte(conversation), &rec.Conversation); err != nil {
		return agent.RunRecord{}, fmt.Errorf("failed to parse conversation: %w", err)
	}
	if rec.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return agent.RunRecord{}, fmt.Errorf("failed to parse started_at: %w", err)
	}
	if rec.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
		return agent.RunRecord{}, fmt.Errorf("failed to parse finished_at: %w", err)
	}
	return rec, nil
}
