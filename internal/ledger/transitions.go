package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Transition advances a job's lifecycle and emits a progress event once the
// write is durable. It fails with ErrInvalidTransition when the job is
// already terminal, or when status, stage, or progress would move backward.
// Progress 100 is reserved for the completed status.
func (s *Store) Transition(ctx context.Context, id string, status Status, stage Stage, progress int, message string) (*Job, error) {
	if _, known := statusRank[status]; !known {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, status)
	}
	if !stage.Known() {
		return nil, fmt.Errorf("%w: unknown stage %q", ErrInvalidTransition, stage)
	}
	if progress < 0 || progress > 100 {
		return nil, fmt.Errorf("%w: progress %d out of range", ErrInvalidTransition, progress)
	}
	if status == StatusCompleted {
		progress = ProgressCompleted
	} else if progress == ProgressCompleted {
		return nil, fmt.Errorf("%w: progress 100 requires completed status", ErrInvalidTransition)
	}

	var job *Job
	err := retryOnBusy(ctx, func() error {
		var txErr error
		job, txErr = s.transitionTx(ctx, id, status, stage, progress, message)
		return txErr
	})
	if err != nil {
		return nil, err
	}

	s.publish(job, message)
	return job, nil
}

func (s *Store) transitionTx(ctx context.Context, id string, status Status, stage Stage, progress int, message string) (*Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transition tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	current, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load job for transition: %w", err)
	}

	if current.IsTerminal() {
		return nil, fmt.Errorf("%w: job %s is already %s", ErrInvalidTransition, id, current.Status)
	}
	if statusRank[status] < statusRank[current.Status] {
		return nil, fmt.Errorf("%w: job %s cannot move %s -> %s", ErrInvalidTransition, id, current.Status, status)
	}
	if status == StatusProcessing && current.Status == StatusProcessing && stageRank[stage] < stageRank[current.Stage] {
		return nil, fmt.Errorf("%w: job %s cannot move stage %s -> %s", ErrInvalidTransition, id, current.Stage, stage)
	}

	// Progress is monotonically non-decreasing while non-terminal; a resumed
	// worker re-entering a stage keeps the higher value already recorded.
	if progress < current.Progress {
		progress = current.Progress
	}

	now := time.Now().UTC()
	current.Status = status
	current.Stage = stage
	current.Progress = progress
	current.Message = strings.TrimSpace(message)
	current.UpdatedAt = now
	if current.StartedAt == nil && status != StatusPending {
		started := now
		current.StartedAt = &started
	}
	if status.IsTerminal() && current.CompletedAt == nil {
		completed := now
		current.CompletedAt = &completed
	}
	if status == StatusCompleted {
		current.Stage = StageCompleted
	}

	_, err = tx.ExecContext(
		ctx,
		`UPDATE jobs
         SET status = ?, stage = ?, progress = ?, message = ?, updated_at = ?,
             started_at = ?, completed_at = ?
         WHERE id = ?`,
		current.Status,
		nullableString(string(current.Stage)),
		current.Progress,
		nullableString(current.Message),
		now.Format(time.RFC3339Nano),
		nullableTime(current.StartedAt),
		nullableTime(current.CompletedAt),
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("persist transition: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}
	return current, nil
}

// MarkError moves a job to the terminal error status with a human-readable
// message, freezing progress at its last value. Calling it on an already
// terminal job is a no-op, so processing failures can be reported
// idempotently across queue redeliveries.
func (s *Store) MarkError(ctx context.Context, id, message string) (*Job, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		message = "processing failed"
	}

	var (
		job     *Job
		changed bool
	)
	err := retryOnBusy(ctx, func() error {
		var txErr error
		job, changed, txErr = s.markErrorTx(ctx, id, message)
		return txErr
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.publish(job, message)
	}
	return job, nil
}

func (s *Store) markErrorTx(ctx context.Context, id, message string) (*Job, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin error tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	current, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, ErrNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("load job for error: %w", err)
	}

	if current.IsTerminal() {
		return current, false, nil
	}

	now := time.Now().UTC()
	current.Status = StatusError
	current.ErrorMessage = message
	current.Message = message
	current.UpdatedAt = now
	if current.StartedAt == nil {
		started := now
		current.StartedAt = &started
	}
	completed := now
	current.CompletedAt = &completed

	_, err = tx.ExecContext(
		ctx,
		`UPDATE jobs
         SET status = ?, error_message = ?, message = ?, updated_at = ?,
             started_at = ?, completed_at = ?
         WHERE id = ?`,
		StatusError,
		message,
		message,
		now.Format(time.RFC3339Nano),
		nullableTime(current.StartedAt),
		nullableTime(current.CompletedAt),
		id,
	)
	if err != nil {
		return nil, false, fmt.Errorf("persist error: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit error: %w", err)
	}
	return current, true, nil
}
