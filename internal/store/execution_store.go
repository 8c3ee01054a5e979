// Package store persists execution history to SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeguard/internal/logging"
	"codeguard/internal/sandbox"

	"github.com/zeebo/blake3"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when no execution matches the requested run id.
	ErrNotFound = errors.New("execution not found")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("execution store closed")
)

// ExecutionStore records sandbox outcomes for later inspection.
// The sandbox never depends on it; callers record after the fact.
type ExecutionStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// ExecutionRecord is one stored execution.
type ExecutionRecord struct {
	ID         int64
	RunID      string
	Digest     string // hex blake3 of the source
	Source     string
	Success    bool
	Failure    sandbox.FailureKind
	ExitCode   int
	Stdout     string
	Stderr     string
	DurationMs int64
	CreatedAt  time.Time

	// Set only for fixes: the digest of the code that failed and its error.
	FixedFrom    string
	ErrorMessage string
}

// ExecutionStats summarizes the history.
type ExecutionStats struct {
	TotalExecutions  int
	SuccessCount     int
	FailureCount     int
	AvgDurationMs    float64
	FailureBreakdown map[sandbox.FailureKind]int
}

// Digest returns the hex blake3 fingerprint of source.
func Digest(source string) string {
	sum := blake3.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// Open opens (or creates) the execution store at dbPath.
func Open(dbPath string) (*ExecutionStore, error) {
	logging.StoreDebug("Initializing ExecutionStore at path: %s", dbPath)

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		logging.StoreError("Failed to create ExecutionStore directory %s: %v", dir, err)
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		logging.StoreError("Failed to open ExecutionStore database at %s: %v", dbPath, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &ExecutionStore{db: db, dbPath: dbPath}
	if err := store.initialize(); err != nil {
		logging.StoreError("Failed to initialize ExecutionStore schema: %v", err)
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Store("ExecutionStore initialized at %s", dbPath)
	return store, nil
}

// initialize creates the database schema.
func (s *ExecutionStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS executions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT UNIQUE NOT NULL,
		digest TEXT NOT NULL,
		source TEXT NOT NULL,
		success INTEGER NOT NULL,
		failure TEXT NOT NULL DEFAULT '',
		exit_code INTEGER NOT NULL,
		stdout TEXT NOT NULL,
		stderr TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		fixed_from TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_executions_digest ON executions(digest);
	CREATE INDEX IF NOT EXISTS idx_executions_created ON executions(created_at);
	CREATE INDEX IF NOT EXISTS idx_executions_failure ON executions(failure);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	if err := s.addMissingColumns(); err != nil {
		return err
	}
	_, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_executions_fixed_from ON executions(fixed_from)`)
	return err
}

// addMissingColumns upgrades databases created before fixes were tracked.
func (s *ExecutionStore) addMissingColumns() error {
	rows, err := s.db.Query(`PRAGMA table_info(executions)`)
	if err != nil {
		return fmt.Errorf("failed to inspect executions table: %w", err)
	}
	existing := make(map[string]bool)
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, colType    string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			rows.Close()
			return fmt.Errorf("failed to inspect executions table: %w", err)
		}
		existing[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, col := range []string{"fixed_from", "error_message"} {
		if existing[col] {
			continue
		}
		logging.Store("Migrating executions table: adding column %s", col)
		if _, err := s.db.Exec(`ALTER TABLE executions ADD COLUMN ` + col + ` TEXT NOT NULL DEFAULT ''`); err != nil {
			return fmt.Errorf("failed to add column %s: %w", col, err)
		}
	}
	return nil
}

// Record persists one outcome together with the source that produced it.
func (s *ExecutionStore) Record(ctx context.Context, source string, o sandbox.Outcome) error {
	return s.insert(ctx, source, "", "", o)
}

// RecordFix persists the run of fixed code, linked to the original code and
// the error it was meant to address.
func (s *ExecutionStore) RecordFix(ctx context.Context, original, errorMessage, fixed string, o sandbox.Outcome) error {
	return s.insert(ctx, fixed, Digest(original), errorMessage, o)
}

func (s *ExecutionStore) insert(ctx context.Context, source, fixedFrom, errorMessage string, o sandbox.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ErrClosed
	}

	successInt := 0
	if o.Success {
		successInt = 1
	}
	createdAt := o.StartedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO executions
		(run_id, digest, source, success, failure, exit_code, stdout, stderr, duration_ms, created_at,
		 fixed_from, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.RunID, Digest(source), source, successInt, string(o.Failure), o.ExitCode,
		o.Stdout, o.Stderr, o.Duration.Milliseconds(), createdAt.UnixMilli(),
		fixedFrom, errorMessage,
	)
	if err != nil {
		logging.StoreError("Failed to record execution %s: %v", o.RunID, err)
		return fmt.Errorf("failed to record execution: %w", err)
	}

	logging.StoreDebug("Recorded execution: %s (failure=%q, %d ms)", o.RunID, o.Failure, o.Duration.Milliseconds())
	return nil
}

const selectColumns = `
	SELECT id, run_id, digest, source, success, failure, exit_code,
	       stdout, stderr, duration_ms, created_at, fixed_from, error_message
	FROM executions`

// Get retrieves an execution by run id.
func (s *ExecutionStore) Get(ctx context.Context, runID string) (*ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrClosed
	}

	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE run_id = ?`, runID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load execution %s: %w", runID, err)
	}
	return rec, nil
}

// Recent retrieves the N most recent executions, newest first.
func (s *ExecutionStore) Recent(ctx context.Context, limit int) ([]ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent executions: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// ByDigest retrieves every execution of the same source, newest first.
func (s *ExecutionStore) ByDigest(ctx context.Context, digest string) ([]ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, selectColumns+` WHERE digest = ? ORDER BY created_at DESC, id DESC`, digest)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions by digest: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// FixesFor retrieves every recorded fix of original, newest first.
func (s *ExecutionStore) FixesFor(ctx context.Context, original string) ([]ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, selectColumns+` WHERE fixed_from = ? ORDER BY created_at DESC, id DESC`, Digest(original))
	if err != nil {
		return nil, fmt.Errorf("failed to query fixes: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Stats returns aggregate statistics.
func (s *ExecutionStore) Stats(ctx context.Context) (*ExecutionStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrClosed
	}

	stats := &ExecutionStats{
		FailureBreakdown: make(map[sandbox.FailureKind]int),
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN success = 1 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(AVG(duration_ms), 0)
		FROM executions`)
	if err := row.Scan(&stats.TotalExecutions, &stats.SuccessCount,
		&stats.FailureCount, &stats.AvgDurationMs); err != nil {
		return nil, fmt.Errorf("failed to compute stats: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT failure, COUNT(*) FROM executions WHERE success = 0 GROUP BY failure`)
	if err != nil {
		return nil, fmt.Errorf("failed to compute failure breakdown: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, err
		}
		stats.FailureBreakdown[sandbox.FailureKind(kind)] = count
	}

	return stats, rows.Err()
}

// Prune deletes executions recorded before cutoff and returns how many went.
func (s *ExecutionStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return 0, ErrClosed
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM executions WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune executions: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logging.Store("Pruned %d executions older than %s", n, cutoff.Format(time.RFC3339))
	}
	return n, nil
}

// Close closes the database connection.
func (s *ExecutionStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		logging.Store("Closing ExecutionStore at %s", s.dbPath)
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*ExecutionRecord, error) {
	var rec ExecutionRecord
	var successInt int
	var failure string
	var createdAt int64

	err := row.Scan(
		&rec.ID, &rec.RunID, &rec.Digest, &rec.Source, &successInt, &failure,
		&rec.ExitCode, &rec.Stdout, &rec.Stderr, &rec.DurationMs, &createdAt,
		&rec.FixedFrom, &rec.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}

	rec.Success = successInt == 1
	rec.Failure = sandbox.FailureKind(failure)
	rec.CreatedAt = time.UnixMilli(createdAt)
	return &rec, nil
}

func scanRecords(rows *sql.Rows) ([]ExecutionRecord, error) {
	var records []ExecutionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}
