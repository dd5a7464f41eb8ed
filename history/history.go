// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package history records flash and power jobs in a local SQLite
// database so an operator can ask a rig what it has been doing.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/testrig/lib/clock"
	"github.com/bureau-foundation/testrig/lib/sqlitepool"
)

// Outcome is a job or attempt's terminal state.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeCancelled Outcome = "cancelled"
)

// Job is one recorded operation: a flash or a power cycle against one
// device family.
type Job struct {
	ID          int64
	Kind        string // "flash", "power-on", "power-off"
	Family      string
	ImageName   string
	ImageDigest string
	Started     time.Time
	Finished    time.Time // zero while the job is running
	Outcome     Outcome   // empty while the job is running
	Error       string
}

// Attempt is one try within a job. Flash strategies that retry (USB
// boot) record a row per attempt; single-shot strategies record one.
type Attempt struct {
	JobID    int64
	Index    int
	Started  time.Time
	Finished time.Time
	Outcome  Outcome
	Error    string
}

// Config holds the parameters for opening a history store.
type Config struct {
	// Path is the SQLite database file. Required.
	Path string

	// Clock provides timestamps. Required.
	Clock clock.Clock

	// Logger receives operational messages. Required.
	Logger *slog.Logger
}

// Store is the SQLite-backed job log.
type Store struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id           INTEGER PRIMARY KEY,
	kind         TEXT NOT NULL,
	family       TEXT NOT NULL,
	image_name   TEXT NOT NULL DEFAULT '',
	image_digest TEXT NOT NULL DEFAULT '',
	started_ms   INTEGER NOT NULL,
	finished_ms  INTEGER,
	outcome      TEXT,
	error        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS jobs_started ON jobs (started_ms DESC);

CREATE TABLE IF NOT EXISTS attempts (
	job_id       INTEGER NOT NULL REFERENCES jobs (id) ON DELETE CASCADE,
	attempt      INTEGER NOT NULL,
	started_ms   INTEGER NOT NULL,
	finished_ms  INTEGER NOT NULL,
	outcome      TEXT NOT NULL,
	error        TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (job_id, attempt)
);
`

// Open creates or opens the history database at cfg.Path.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("history: Path is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("history: Clock is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("history: Logger is required")
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   cfg.Path,
		Logger: cfg.Logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return &Store{pool: pool, clock: cfg.Clock, logger: cfg.Logger}, nil
}

// Close releases the underlying pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// BeginJob inserts a running job row and returns its id.
func (s *Store) BeginJob(ctx context.Context, kind, family, imageName, imageDigest string) (int64, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO jobs (kind, family, image_name, image_digest, started_ms)
		VALUES (?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{kind, family, imageName, imageDigest, s.clock.Now().UnixMilli()},
		})
	if err != nil {
		return 0, fmt.Errorf("history: begin job: %w", err)
	}
	return conn.LastInsertRowID(), nil
}

// FinishJob marks a job done. errText is empty on success.
func (s *Store) FinishJob(ctx context.Context, jobID int64, outcome Outcome, errText string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		UPDATE jobs SET finished_ms = ?, outcome = ?, error = ? WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{s.clock.Now().UnixMilli(), string(outcome), errText, jobID},
		})
	if err != nil {
		return fmt.Errorf("history: finish job %d: %w", jobID, err)
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("history: finish job %d: no such job", jobID)
	}
	return nil
}

// RecordAttempt inserts one attempt row for a job.
func (s *Store) RecordAttempt(ctx context.Context, attempt Attempt) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO attempts (job_id, attempt, started_ms, finished_ms, outcome, error)
		VALUES (?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				attempt.JobID, attempt.Index,
				attempt.Started.UnixMilli(), attempt.Finished.UnixMilli(),
				string(attempt.Outcome), attempt.Error,
			},
		})
	if err != nil {
		return fmt.Errorf("history: record attempt %d/%d: %w", attempt.JobID, attempt.Index, err)
	}
	return nil
}

// RecentJobs returns the newest jobs, most recent first. A limit of
// zero or less defaults to 20.
func (s *Store) RecentJobs(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 20
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var jobs []Job
	err = sqlitex.Execute(conn, `
		SELECT id, kind, family, image_name, image_digest,
		       started_ms, finished_ms, outcome, error
		FROM jobs ORDER BY started_ms DESC, id DESC LIMIT ?`,
		&sqlitex.ExecOptions{
			Args: []any{limit},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				job := Job{
					ID:          stmt.ColumnInt64(0),
					Kind:        stmt.ColumnText(1),
					Family:      stmt.ColumnText(2),
					ImageName:   stmt.ColumnText(3),
					ImageDigest: stmt.ColumnText(4),
					Started:     time.UnixMilli(stmt.ColumnInt64(5)),
					Outcome:     Outcome(stmt.ColumnText(7)),
					Error:       stmt.ColumnText(8),
				}
				if !stmt.ColumnIsNull(6) {
					job.Finished = time.UnixMilli(stmt.ColumnInt64(6))
				}
				jobs = append(jobs, job)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("history: listing jobs: %w", err)
	}
	return jobs, nil
}

// JobAttempts returns a job's attempt rows in order.
func (s *Store) JobAttempts(ctx context.Context, jobID int64) ([]Attempt, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var attempts []Attempt
	err = sqlitex.Execute(conn, `
		SELECT attempt, started_ms, finished_ms, outcome, error
		FROM attempts WHERE job_id = ? ORDER BY attempt`,
		&sqlitex.ExecOptions{
			Args: []any{jobID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				attempts = append(attempts, Attempt{
					JobID:    jobID,
					Index:    stmt.ColumnInt(0),
					Started:  time.UnixMilli(stmt.ColumnInt64(1)),
					Finished: time.UnixMilli(stmt.ColumnInt64(2)),
					Outcome:  Outcome(stmt.ColumnText(3)),
					Error:    stmt.ColumnText(4),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("history: listing attempts for job %d: %w", jobID, err)
	}
	return attempts, nil
}

// Prune deletes finished jobs older than the retention period.
// Attempt rows cascade. Returns the number of jobs removed.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	cutoff := s.clock.Now().Add(-retention).UnixMilli()
	err = sqlitex.Execute(conn, `
		DELETE FROM jobs WHERE finished_ms IS NOT NULL AND finished_ms < ?`,
		&sqlitex.ExecOptions{Args: []any{cutoff}})
	if err != nil {
		return 0, fmt.Errorf("history: pruning: %w", err)
	}
	pruned := conn.Changes()
	if pruned > 0 {
		s.logger.Info("history pruned", "jobs", pruned, "retention", retention)
	}
	return pruned, nil
}
