package taskqueue

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"drumscribe/internal/config"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

const (
	stateQueued = "queued"
	stateLeased = "leased"
)

// ErrLeaseLost indicates the caller no longer holds the lease on an item,
// typically because it expired and the item was redelivered.
var ErrLeaseLost = errors.New("queue lease lost")

// Item is the unit of work handed to exactly one worker attempt at a time.
type Item struct {
	JobID          string
	Attempt        int
	LeaseOwner     string
	EnqueuedAt     time.Time
	LeaseExpiresAt time.Time
}

// Queue manages work item persistence backed by SQLite.
type Queue struct {
	db           *sql.DB
	path         string
	leaseTTL     time.Duration
	pollInterval time.Duration
	notify       chan struct{}
}

// Open initializes or connects to the queue database.
func Open(cfg *config.Config) (*Queue, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.DataDir, "queue.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	q := &Queue{
		db:           db,
		path:         dbPath,
		leaseTTL:     time.Duration(cfg.Queue.LeaseTTL) * time.Second,
		pollInterval: time.Duration(cfg.Queue.PollInterval) * time.Second,
		notify:       make(chan struct{}, 1),
	}
	if err := q.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return q, nil
}

// Close closes the underlying database connection.
func (q *Queue) Close() error {
	if q == nil || q.db == nil {
		return nil
	}
	return q.db.Close()
}

// Path returns the location of the queue database file.
func (q *Queue) Path() string {
	return q.path
}

func (q *Queue) initSchema(ctx context.Context) error {
	var tableExists int
	err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		tx, err := q.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin schema tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		return tx.Commit()
	}

	var version int
	if err := q.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("queue schema version mismatch: have %d, expected %d", version, schemaVersion)
	}
	return nil
}

// Enqueue adds a work item for a job. It is idempotent per job id: enqueuing
// a job that is already queued or in flight is a no-op. The boolean reports
// whether a new item was inserted.
func (q *Queue) Enqueue(ctx context.Context, jobID string) (bool, error) {
	if jobID == "" {
		return false, errors.New("job id must not be empty")
	}
	res, err := q.db.ExecContext(
		ctx,
		`INSERT OR IGNORE INTO queue_items (job_id, state, attempts, enqueued_at)
         VALUES (?, ?, 0, ?)`,
		jobID,
		stateQueued,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, fmt.Errorf("enqueue job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		q.wake()
		return true, nil
	}
	return false, nil
}

// Dequeue blocks until a work item is available or the context is canceled.
// The returned item is leased to owner for the configured lease TTL; the
// worker must renew the lease while processing and Ack or Release when done.
func (q *Queue) Dequeue(ctx context.Context, owner string) (*Item, error) {
	if owner == "" {
		return nil, errors.New("owner must not be empty")
	}

	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		if _, err := q.ReclaimExpired(ctx); err != nil {
			return nil, err
		}

		item, err := q.tryClaim(ctx, owner)
		if err != nil {
			return nil, err
		}
		if item != nil {
			return item, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		case <-ticker.C:
		}
	}
}

func (q *Queue) tryClaim(ctx context.Context, owner string) (*Item, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		jobID       string
		attempts    int
		enqueuedRaw string
	)
	row := tx.QueryRowContext(
		ctx,
		`SELECT job_id, attempts, enqueued_at FROM queue_items
         WHERE state = ? ORDER BY enqueued_at LIMIT 1`,
		stateQueued,
	)
	if err := row.Scan(&jobID, &attempts, &enqueuedRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select next item: %w", err)
	}

	expires := time.Now().UTC().Add(q.leaseTTL)
	res, err := tx.ExecContext(
		ctx,
		`UPDATE queue_items
         SET state = ?, attempts = attempts + 1, lease_owner = ?, lease_expires_at = ?
         WHERE job_id = ? AND state = ?`,
		stateLeased,
		owner,
		expires.Format(time.RFC3339Nano),
		jobID,
		stateQueued,
	)
	if err != nil {
		return nil, fmt.Errorf("claim item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		// Another worker claimed it between the select and the update.
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	enqueued, _ := time.Parse(time.RFC3339Nano, enqueuedRaw)
	return &Item{
		JobID:          jobID,
		Attempt:        attempts + 1,
		LeaseOwner:     owner,
		EnqueuedAt:     enqueued,
		LeaseExpiresAt: expires,
	}, nil
}

// RenewLease extends the caller's lease on an in-flight item.
func (q *Queue) RenewLease(ctx context.Context, jobID, owner string) error {
	expires := time.Now().UTC().Add(q.leaseTTL)
	res, err := q.db.ExecContext(
		ctx,
		`UPDATE queue_items SET lease_expires_at = ?
         WHERE job_id = ? AND lease_owner = ? AND state = ?`,
		expires.Format(time.RFC3339Nano),
		jobID,
		owner,
		stateLeased,
	)
	if err != nil {
		return fmt.Errorf("renew lease: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrLeaseLost
	}
	return nil
}

// Ack removes a completed item from the queue.
func (q *Queue) Ack(ctx context.Context, jobID, owner string) error {
	res, err := q.db.ExecContext(
		ctx,
		`DELETE FROM queue_items WHERE job_id = ? AND lease_owner = ?`,
		jobID,
		owner,
	)
	if err != nil {
		return fmt.Errorf("ack item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrLeaseLost
	}
	return nil
}

// Release returns an in-flight item to the queue, making it immediately
// available for redelivery. Used on graceful shutdown.
func (q *Queue) Release(ctx context.Context, jobID, owner string) error {
	res, err := q.db.ExecContext(
		ctx,
		`UPDATE queue_items
         SET state = ?, lease_owner = NULL, lease_expires_at = NULL
         WHERE job_id = ? AND lease_owner = ? AND state = ?`,
		stateQueued,
		jobID,
		owner,
		stateLeased,
	)
	if err != nil {
		return fmt.Errorf("release item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrLeaseLost
	}
	q.wake()
	return nil
}

// ReclaimExpired returns items whose lease expired back to the queued state.
// Redelivery after a lease timeout is a recovery mechanism, not a failure.
func (q *Queue) ReclaimExpired(ctx context.Context) (int64, error) {
	res, err := q.db.ExecContext(
		ctx,
		`UPDATE queue_items
         SET state = ?, lease_owner = NULL, lease_expires_at = NULL
         WHERE state = ? AND lease_expires_at IS NOT NULL AND lease_expires_at < ?`,
		stateQueued,
		stateLeased,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim expired leases: %w", err)
	}
	reclaimed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if reclaimed > 0 {
		q.wake()
	}
	return reclaimed, nil
}

// Depth returns the number of queued and leased items.
func (q *Queue) Depth(ctx context.Context) (queued, leased int, err error) {
	rows, err := q.db.QueryContext(ctx, `SELECT state, COUNT(1) FROM queue_items GROUP BY state`)
	if err != nil {
		return 0, 0, fmt.Errorf("queue depth: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return 0, 0, err
		}
		switch state {
		case stateQueued:
			queued = count
		case stateLeased:
			leased = count
		}
	}
	return queued, leased, rows.Err()
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
