package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/ragstream/internal/domain"
	"github.com/ashureev/ragstream/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	appendMaxRetries    = 3
	appendRetryBaseWait = 50 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db       *sql.DB
	appendMu sync.Mutex // Serializes inserts to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Pragmas in the DSN apply to every pooled connection.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS activity_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		user_id INTEGER NOT NULL,
		user_name TEXT NOT NULL,
		query TEXT NOT NULL,
		prompt_tokens INTEGER NOT NULL,
		completion_tokens INTEGER NOT NULL,
		total_tokens INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_activity_logs_user ON activity_logs(user_id, id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// AppendLog inserts one activity record, retrying with exponential backoff
// while the database is locked by another writer.
func (s *SQLiteStore) AppendLog(ctx context.Context, rec *domain.LogRecord) (int64, error) {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	query := `
	INSERT INTO activity_logs (timestamp, user_id, user_name, query, prompt_tokens, completion_tokens, total_tokens)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	var lastErr error
	for i := 0; i < appendMaxRetries; i++ {
		result, err := s.db.ExecContext(ctx, query,
			ts.UTC().Format(time.RFC3339Nano), rec.UserID, rec.UserName, rec.Query,
			rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens,
		)
		if err == nil {
			id, err := result.LastInsertId()
			if err != nil {
				return 0, fmt.Errorf("get inserted id: %w", err)
			}
			rec.ID = id
			return id, nil
		}
		lastErr = err

		if !shared.IsSQLiteConflictError(err) || i == appendMaxRetries-1 {
			break
		}
		delay := appendRetryBaseWait * time.Duration(1<<i)
		slog.Debug("Database locked during log append, retrying",
			"user_id", rec.UserID,
			"attempt", i+1,
			"delay", delay)
		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("append log: %w", ctx.Err())
		case <-time.After(delay):
		}
	}
	return 0, fmt.Errorf("append log: %w", lastErr)
}

// RecentLogs returns the newest records of a user, newest first.
func (s *SQLiteStore) RecentLogs(ctx context.Context, userID int64, limit int) ([]domain.LogRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, timestamp, user_id, user_name, query,
		       prompt_tokens, completion_tokens, total_tokens
		FROM activity_logs WHERE user_id = ?
		ORDER BY id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query activity logs: %w", err)
	}
	defer rows.Close()

	var records []domain.LogRecord
	for rows.Next() {
		var rec domain.LogRecord
		var ts string
		if err := rows.Scan(
			&rec.ID, &ts, &rec.UserID, &rec.UserName, &rec.Query,
			&rec.PromptTokens, &rec.CompletionTokens, &rec.TotalTokens,
		); err != nil {
			return nil, fmt.Errorf("scan activity log row: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			slog.Warn("Unparseable activity log timestamp", "id", rec.ID, "timestamp", ts)
		}
		rec.Timestamp = parsed
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity logs: %w", err)
	}
	return records, nil
}

// UsageSummary aggregates all records of a user.
func (s *SQLiteStore) UsageSummary(ctx context.Context, userID int64) (*domain.UsageSummary, error) {
	query := `
		SELECT COUNT(*),
		       COALESCE(SUM(prompt_tokens), 0),
		       COALESCE(SUM(completion_tokens), 0),
		       COALESCE(SUM(total_tokens), 0)
		FROM activity_logs WHERE user_id = ?`

	summary := &domain.UsageSummary{UserID: userID}
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&summary.Sessions, &summary.PromptTokens, &summary.CompletionTokens, &summary.TotalTokens,
	)
	if err != nil {
		return nil, fmt.Errorf("summarize activity logs: %w", err)
	}
	return summary, nil
}
