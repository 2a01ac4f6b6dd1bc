package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/coldvault/broker/internal/model"
)

// DefaultListLimit caps List when no limit is given.
const DefaultListLimit = 50

const runColumns = `id, connection_id, command_id, script, status, exit_code, error, transcript_path, started_at, finished_at`

// RunRepository provides data access for command runs.
type RunRepository struct {
	db *sql.DB
}

// NewRunRepository creates a new RunRepository.
func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Create inserts a new run.
func (r *RunRepository) Create(ctx context.Context, run *model.CommandRun) error {
	query := `
		INSERT INTO command_runs (` + runColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		run.ID,
		run.ConnectionID,
		run.CommandID,
		run.Script,
		run.Status,
		run.ExitCode,
		nullString(run.Error),
		nullString(run.TranscriptPath),
		run.StartedAt.UTC(),
		run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// Finish records the outcome of a run.
func (r *RunRepository) Finish(ctx context.Context, id string, status model.RunStatus, exitCode *int, errText string) error {
	query := `
		UPDATE command_runs
		SET status = ?, exit_code = ?, error = ?, finished_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query, status, exitCode, nullString(errText), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return model.ErrRunNotFound
	}
	return nil
}

// GetByID retrieves a run by its ID.
func (r *RunRepository) GetByID(ctx context.Context, id string) (*model.CommandRun, error) {
	query := `SELECT ` + runColumns + ` FROM command_runs WHERE id = ?`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// List returns the most recent runs, newest first.
func (r *RunRepository) List(ctx context.Context, limit int) ([]*model.CommandRun, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `SELECT ` + runColumns + ` FROM command_runs ORDER BY started_at DESC, id DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*model.CommandRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// MarkInterrupted closes runs left in the running state by a previous
// broker process. It returns the number of runs updated.
func (r *RunRepository) MarkInterrupted(ctx context.Context) (int64, error) {
	query := `
		UPDATE command_runs
		SET status = ?, error = ?, finished_at = ?
		WHERE status = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		model.RunStatusCancelled, "broker restarted", time.Now().UTC(), model.RunStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to mark interrupted runs: %w", err)
	}
	return result.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*model.CommandRun, error) {
	run := &model.CommandRun{}
	var exitCode sql.NullInt64
	var errText, transcript sql.NullString
	var finishedAt sql.NullTime

	err := s.Scan(
		&run.ID,
		&run.ConnectionID,
		&run.CommandID,
		&run.Script,
		&run.Status,
		&exitCode,
		&errText,
		&transcript,
		&run.StartedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}

	if exitCode.Valid {
		code := int(exitCode.Int64)
		run.ExitCode = &code
	}
	run.Error = errText.String
	run.TranscriptPath = transcript.String
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	return run, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
