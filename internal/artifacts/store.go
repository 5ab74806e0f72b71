package artifacts

import (
	"bytes"
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"drumscribe/internal/config"
	"drumscribe/internal/logging"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

// Record is one durable artifact entry keyed by (job id, format).
type Record struct {
	JobID       string
	Format      Format
	Key         string
	Backend     string
	ContentType string
	SizeBytes   int64
	CreatedAt   time.Time
}

// Store coordinates blob backends, the artifact index, and signed retrieval.
type Store struct {
	db       *sql.DB
	path     string
	primary  Backend
	fallback Backend
	signer   *Signer
	urlTTL   time.Duration
	logger   *slog.Logger
}

// Open initializes the artifact index and wires the blob backends. primary
// may be nil, in which case the fallback serves all traffic.
func Open(cfg *config.Config, primary, fallback Backend, logger *slog.Logger) (*Store, error) {
	if fallback == nil {
		return nil, errors.New("artifact store requires a fallback backend")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.DataDir, "artifacts.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout = 5000"} {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{
		db:       db,
		path:     dbPath,
		primary:  primary,
		fallback: fallback,
		signer:   NewSigner(cfg.Storage.SigningSecret),
		urlTTL:   time.Duration(cfg.Storage.URLTTLSeconds) * time.Second,
		logger:   logging.NewComponentLogger(logger, "artifacts"),
	}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the index database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		tx, err := s.db.BeginTx(ctx, nil)
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
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("artifact schema version mismatch: have %d, expected %d", version, schemaVersion)
	}
	return nil
}

// ExportKey returns the storage key for one export of a job.
func ExportKey(jobID string, format Format) string {
	return path.Join("exports", jobID, "transcription."+format.Extension())
}

// InputKey returns the storage key for a job's uploaded audio.
func InputKey(jobID, filename string) string {
	return path.Join("audio", jobID, path.Base(filename))
}

// put writes a blob through the primary backend, falling back to local disk
// when the primary is unavailable. It returns the backend that took the
// write.
func (s *Store) put(ctx context.Context, key, contentType string, data []byte) (Backend, error) {
	if s.primary != nil {
		if err := s.primary.Put(ctx, key, contentType, bytes.NewReader(data)); err == nil {
			return s.primary, nil
		} else {
			s.logger.Warn("primary backend write failed, using fallback",
				logging.String("key", key),
				logging.Error(err),
			)
		}
	}
	if err := s.fallback.Put(ctx, key, contentType, bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return s.fallback, nil
}

// PutInput stores a job's uploaded audio and returns its storage key. Inputs
// are not export records; the key is tracked on the job row.
func (s *Store) PutInput(ctx context.Context, jobID, filename, contentType string, data []byte) (string, error) {
	key := InputKey(jobID, filename)
	if _, err := s.put(ctx, key, contentType, data); err != nil {
		return "", fmt.Errorf("store input audio: %w", err)
	}
	return key, nil
}

// OpenKey streams a blob by storage key, consulting both backends.
func (s *Store) OpenKey(ctx context.Context, key string) (io.ReadCloser, Metadata, error) {
	if s.primary != nil {
		rc, meta, err := s.primary.Open(ctx, key)
		if err == nil {
			return rc, meta, nil
		}
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("primary backend read failed, trying fallback",
				logging.String("key", key),
				logging.Error(err),
			)
		}
	}
	return s.fallback.Open(ctx, key)
}

// Write records one export for a job. Writes are once per (job id, format):
// a resumed worker re-writing the same export is a safe no-op that returns
// the existing record.
func (s *Store) Write(ctx context.Context, jobID string, format Format, data []byte) (*Record, error) {
	if _, ok := ParseFormat(string(format)); !ok {
		return nil, fmt.Errorf("unknown artifact format %q", format)
	}

	key := ExportKey(jobID, format)
	backend, err := s.put(ctx, key, format.ContentType(), data)
	if err != nil {
		return nil, fmt.Errorf("store export %s/%s: %w", jobID, format, err)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(
		ctx,
		`INSERT OR IGNORE INTO artifact_records
            (job_id, format, storage_key, backend, content_type, size_bytes, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		jobID,
		format,
		key,
		backend.Name(),
		format.ContentType(),
		int64(len(data)),
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("record export: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return s.Resolve(ctx, jobID, format)
	}

	return &Record{
		JobID:       jobID,
		Format:      format,
		Key:         key,
		Backend:     backend.Name(),
		ContentType: format.ContentType(),
		SizeBytes:   int64(len(data)),
		CreatedAt:   now,
	}, nil
}

// Resolve returns the record for one export of a job.
func (s *Store) Resolve(ctx context.Context, jobID string, format Format) (*Record, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+recordColumns+` FROM artifact_records WHERE job_id = ? AND format = ?`,
		jobID,
		format,
	)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve artifact: %w", err)
	}
	return record, nil
}

// List returns all export records for a job.
func (s *Store) List(ctx context.Context, jobID string) ([]*Record, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+recordColumns+` FROM artifact_records WHERE job_id = ? ORDER BY format`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// OpenRecord streams an export's content, preferring the backend that took
// the original write.
func (s *Store) OpenRecord(ctx context.Context, record *Record) (io.ReadCloser, Metadata, error) {
	first, second := s.fallback, Backend(nil)
	if s.primary != nil {
		if record.Backend == s.primary.Name() {
			first, second = s.primary, s.fallback
		} else {
			second = s.primary
		}
	}

	rc, meta, err := first.Open(ctx, record.Key)
	if err == nil || second == nil {
		return rc, meta, err
	}
	return second.Open(ctx, record.Key)
}

// SignedPath mints a fresh time-limited download path for one export. Paths
// are regenerated per request and expire after the configured URL TTL.
func (s *Store) SignedPath(jobID string, format Format) string {
	token := s.signer.Sign(jobID, format, time.Now().Add(s.urlTTL))
	return "/download/" + token
}

// VerifyToken validates a download token and returns the export it grants.
func (s *Store) VerifyToken(token string) (string, Format, error) {
	return s.signer.Verify(token)
}

// DeleteAll removes every export record and blob for a job, plus its input
// audio when sourceKey is non-empty.
func (s *Store) DeleteAll(ctx context.Context, jobID, sourceKey string) error {
	records, err := s.List(ctx, jobID)
	if err != nil {
		return err
	}
	for _, record := range records {
		s.deleteBlob(ctx, record.Key)
	}
	if sourceKey != "" {
		s.deleteBlob(ctx, sourceKey)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM artifact_records WHERE job_id = ?`, jobID); err != nil {
		return fmt.Errorf("delete artifact records: %w", err)
	}
	return nil
}

// Sweep removes export records (and their blobs) created before the cutoff.
// Expiry runs independently of the job ledger.
func (s *Store) Sweep(ctx context.Context, cutoff time.Time) (int64, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+recordColumns+` FROM artifact_records WHERE created_at < ?`,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("select expired artifacts: %w", err)
	}
	var expired []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			rows.Close()
			return 0, err
		}
		expired = append(expired, record)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var removed int64
	for _, record := range expired {
		s.deleteBlob(ctx, record.Key)
		if _, err := s.db.ExecContext(
			ctx,
			`DELETE FROM artifact_records WHERE job_id = ? AND format = ?`,
			record.JobID,
			record.Format,
		); err != nil {
			return removed, fmt.Errorf("delete expired record: %w", err)
		}
		removed++
	}
	return removed, nil
}

func (s *Store) deleteBlob(ctx context.Context, key string) {
	if s.primary != nil {
		if err := s.primary.Delete(ctx, key); err != nil {
			s.logger.Warn("primary blob delete failed",
				logging.String("key", key),
				logging.Error(err),
			)
		}
	}
	if err := s.fallback.Delete(ctx, key); err != nil {
		s.logger.Warn("fallback blob delete failed",
			logging.String("key", key),
			logging.Error(err),
		)
	}
}

const recordColumns = "job_id, format, storage_key, backend, content_type, size_bytes, created_at"

func scanRecord(scanner interface{ Scan(dest ...any) error }) (*Record, error) {
	var (
		record     Record
		formatStr  string
		createdRaw string
	)
	if err := scanner.Scan(
		&record.JobID,
		&formatStr,
		&record.Key,
		&record.Backend,
		&record.ContentType,
		&record.SizeBytes,
		&createdRaw,
	); err != nil {
		return nil, err
	}
	record.Format = Format(formatStr)
	if created, err := time.Parse(time.RFC3339Nano, createdRaw); err == nil {
		record.CreatedAt = created
	}
	return &record, nil
}
