package persistence

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/SamuelOjuri/TechnicalDesignAssistant/internal/progress"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// waitPollInterval is the cadence of ReadStreamWait retries against the
// database.
const waitPollInterval = 100 * time.Millisecond

// SQLiteStore is the durable progress.Store implementation. It keeps the
// same snapshot/log semantics as the memory store across restarts, bounded
// by the retention TTL.
type SQLiteStore struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// SQLiteOption configures a SQLiteStore.
type SQLiteOption func(*SQLiteStore)

// WithTTL overrides the retention window.
func WithTTL(ttl time.Duration) SQLiteOption {
	return func(s *SQLiteStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) SQLiteOption {
	return func(s *SQLiteStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewSQLiteStore(path string, opts ...SQLiteOption) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{
		db:  db,
		ttl: progress.DefaultTTL,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

func (s *SQLiteStore) UpdateProgress(ctx context.Context, jobID string, update progress.Update) error {
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	job, err := s.loadJobTx(ctx, tx, jobID, now)
	if err != nil && !errors.Is(err, progress.ErrJobNotFound) {
		return err
	}
	if job == nil {
		// Fresh job; an expired predecessor under the same id is replaced.
		if _, err := tx.ExecContext(ctx, `DELETE FROM stream_entries WHERE job_id = ?`, jobID); err != nil {
			return fmt.Errorf("clear stale stream: %w", err)
		}
		job = &progress.Job{ID: jobID, CreatedAt: now}
	}

	job.Stage = update.Stage
	job.CurrentItem = update.CurrentItem
	job.Message = update.Message
	job.Error = update.Error
	job.UpdatedAt = now
	if update.Stage != progress.StageError && update.Progress > job.Progress {
		job.Progress = update.Progress
	}
	if update.Result != nil {
		result := *update.Result
		job.Result = &result
	}

	var resultJSON sql.NullString
	if job.Result != nil {
		data, err := json.Marshal(job.Result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		resultJSON = sql.NullString{String: string(data), Valid: true}
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO jobs
		(id, stage, progress, current_item, message, result_json, error, created_at, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			stage = excluded.stage,
			progress = excluded.progress,
			current_item = excluded.current_item,
			message = excluded.message,
			result_json = excluded.result_json,
			error = excluded.error,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at`,
		job.ID, string(job.Stage), job.Progress, job.CurrentItem, job.Message,
		resultJSON, job.Error, job.CreatedAt.UnixNano(), job.UpdatedAt.UnixNano(),
		now.Add(s.ttl).UnixNano(),
	); err != nil {
		return fmt.Errorf("upsert job: %w", err)
	}

	if err := s.appendEntryTx(ctx, tx, jobID, false, progress.ProgressEntryFields(job, now), progress.MaxProgressEntries); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) StreamPartialResult(ctx context.Context, jobID, resultType, content string) error {
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := s.loadJobTx(ctx, tx, jobID, now); err != nil {
		return err
	}

	if err := s.appendEntryTx(ctx, tx, jobID, true, progress.PartialEntryFields(resultType, content, now), progress.MaxPartialEntries); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetProgress(ctx context.Context, jobID string) (*progress.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	job, err := s.loadJobTx(ctx, tx, jobID, s.now())
	if err != nil {
		return nil, err
	}
	return job, tx.Commit()
}

func (s *SQLiteStore) ReadStream(ctx context.Context, jobID string, after uint64) ([]progress.StreamEntry, error) {
	var exists int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE id = ? AND expires_at > ?`,
		jobID, s.now().UnixNano(),
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check job: %w", err)
	}
	if exists == 0 {
		return nil, progress.ErrJobNotFound
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, fields_json FROM stream_entries WHERE job_id = ? AND seq > ? ORDER BY seq ASC`,
		jobID, int64(after),
	)
	if err != nil {
		return nil, fmt.Errorf("query stream: %w", err)
	}
	defer rows.Close()

	ret := make([]progress.StreamEntry, 0)
	for rows.Next() {
		var seq int64
		var fieldsJSON string
		if err := rows.Scan(&seq, &fieldsJSON); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		fields := make(map[string]string)
		if err := json.Unmarshal([]byte(fieldsJSON), &fields); err != nil {
			return nil, fmt.Errorf("decode entry fields: %w", err)
		}
		ret = append(ret, progress.StreamEntry{ID: uint64(seq), Fields: fields})
	}
	return ret, rows.Err()
}

func (s *SQLiteStore) ReadStreamWait(ctx context.Context, jobID string, after uint64, wait time.Duration) ([]progress.StreamEntry, error) {
	deadline := s.now().Add(wait)

	for {
		entries, err := s.ReadStream(ctx, jobID, after)
		if err != nil || len(entries) > 0 {
			return entries, err
		}
		if !deadline.After(s.now()) {
			return []progress.StreamEntry{}, nil
		}

		select {
		case <-time.After(waitPollInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *SQLiteStore) Sweep(ctx context.Context) (int, error) {
	now := s.now().UnixNano()

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM stream_entries WHERE job_id IN (SELECT id FROM jobs WHERE expires_at <= ?)`,
		now,
	); err != nil {
		return 0, fmt.Errorf("sweep stream: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, fmt.Errorf("sweep jobs: %w", err)
	}
	removed, _ := res.RowsAffected()
	return int(removed), nil
}

// loadJobTx returns the live snapshot for jobID or ErrJobNotFound when the
// row is missing or expired.
func (s *SQLiteStore) loadJobTx(ctx context.Context, tx *sql.Tx, jobID string, now time.Time) (*progress.Job, error) {
	row := tx.QueryRowContext(ctx, `SELECT id, stage, progress, current_item, message, result_json, error, created_at, updated_at, expires_at
		FROM jobs WHERE id = ?`, jobID)

	var job progress.Job
	var stage string
	var resultJSON sql.NullString
	var createdAt, updatedAt, expiresAt int64
	err := row.Scan(&job.ID, &stage, &job.Progress, &job.CurrentItem, &job.Message, &resultJSON, &job.Error, &createdAt, &updatedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, progress.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}
	if expiresAt <= now.UnixNano() {
		return nil, progress.ErrJobNotFound
	}

	job.Stage = progress.Stage(stage)
	job.CreatedAt = time.Unix(0, createdAt)
	job.UpdatedAt = time.Unix(0, updatedAt)
	if resultJSON.Valid {
		var result progress.Result
		if err := json.Unmarshal([]byte(resultJSON.String), &result); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		job.Result = &result
	}
	return &job, nil
}

// appendEntryTx appends one stream entry and evicts the oldest entries of
// the same kind beyond the cap. The caps for progress and partial entries
// are enforced independently on the shared log.
func (s *SQLiteStore) appendEntryTx(ctx context.Context, tx *sql.Tx, jobID string, isPartial bool, fields map[string]string, limit int) error {
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal entry fields: %w", err)
	}

	partialFlag := 0
	if isPartial {
		partialFlag = 1
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO stream_entries (job_id, seq, is_partial, fields_json)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM stream_entries WHERE job_id = ?), ?, ?)`,
		jobID, jobID, partialFlag, string(fieldsJSON),
	); err != nil {
		return fmt.Errorf("append entry: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM stream_entries
		WHERE job_id = ? AND is_partial = ? AND seq NOT IN (
			SELECT seq FROM stream_entries WHERE job_id = ? AND is_partial = ? ORDER BY seq DESC LIMIT ?
		)`,
		jobID, partialFlag, jobID, partialFlag, limit,
	); err != nil {
		return fmt.Errorf("evict entries: %w", err)
	}
	return nil
}
