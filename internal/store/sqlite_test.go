package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/ragstream/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "activity.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_AppendAndRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	rec := &domain.LogRecord{
		Timestamp:        ts,
		UserID:           42,
		UserName:         "alice",
		Query:            "What is the Higgs boson?",
		PromptTokens:     10,
		CompletionTokens: 20,
		TotalTokens:      30,
	}
	id, err := s.AppendLog(ctx, rec)
	if err != nil {
		t.Fatalf("AppendLog: %v", err)
	}
	if id <= 0 || rec.ID != id {
		t.Errorf("Expected positive id stored on record, got id=%d rec.ID=%d", id, rec.ID)
	}

	logs, err := s.RecentLogs(ctx, 42, 10)
	if err != nil {
		t.Fatalf("RecentLogs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("Expected 1 log, got %d", len(logs))
	}
	got := logs[0]
	if got.Query != rec.Query || got.UserName != "alice" || got.TotalTokens != 30 {
		t.Errorf("Unexpected record: %+v", got)
	}
	if !got.Timestamp.Equal(ts) || got.Timestamp.Location() != time.UTC {
		t.Errorf("Expected UTC timestamp equal to %v, got %v", ts, got.Timestamp)
	}
}

func TestSQLiteStore_UsageSummary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if _, err := s.AppendLog(ctx, &domain.LogRecord{
			UserID: 7, UserName: "bob", Query: "q",
			PromptTokens: i, CompletionTokens: 2 * i, TotalTokens: 3 * i,
		}); err != nil {
			t.Fatalf("AppendLog: %v", err)
		}
	}
	if _, err := s.AppendLog(ctx, &domain.LogRecord{UserID: 8, UserName: "eve", Query: "q", TotalTokens: 100}); err != nil {
		t.Fatalf("AppendLog: %v", err)
	}

	sum, err := s.UsageSummary(ctx, 7)
	if err != nil {
		t.Fatalf("UsageSummary: %v", err)
	}
	if sum.Sessions != 3 || sum.PromptTokens != 6 || sum.CompletionTokens != 12 || sum.TotalTokens != 18 {
		t.Errorf("Unexpected summary: %+v", sum)
	}

	empty, err := s.UsageSummary(ctx, 999)
	if err != nil {
		t.Fatalf("UsageSummary: %v", err)
	}
	if empty.Sessions != 0 || empty.TotalTokens != 0 {
		t.Errorf("Expected empty summary, got %+v", empty)
	}
}

func TestSQLiteStore_ConcurrentAppend(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AppendLog(ctx, &domain.LogRecord{UserID: 1, UserName: "c", Query: "q", TotalTokens: 1})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("AppendLog failed under concurrency: %v", err)
		}
	}

	sum, err := s.UsageSummary(ctx, 1)
	if err != nil {
		t.Fatalf("UsageSummary: %v", err)
	}
	if sum.Sessions != 20 {
		t.Errorf("Expected 20 rows, got %d", sum.Sessions)
	}
}

func TestSQLiteStore_ReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.db")
	s, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	if _, err := s.AppendLog(context.Background(), &domain.LogRecord{UserID: 5, UserName: "x", Query: "q"}); err != nil {
		t.Fatalf("AppendLog: %v", err)
	}
	_ = s.Close()

	s2, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	sum, err := s2.UsageSummary(context.Background(), 5)
	if err != nil {
		t.Fatalf("UsageSummary: %v", err)
	}
	if sum.Sessions != 1 {
		t.Errorf("Expected 1 row after reopen, got %d", sum.Sessions)
	}
}

func TestSQLiteStore_ConnectionPragmas(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Hold several connections at once so more than one pooled connection is checked.
	for i := 0; i < 3; i++ {
		conn, err := s.db.Conn(ctx)
		if err != nil {
			t.Fatalf("Conn: %v", err)
		}
		defer conn.Close()

		var mode string
		if err := conn.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
			t.Fatalf("journal_mode: %v", err)
		}
		if mode != "wal" {
			t.Errorf("conn %d: expected journal_mode wal, got %q", i, mode)
		}

		var timeout int
		if err := conn.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&timeout); err != nil {
			t.Fatalf("busy_timeout: %v", err)
		}
		if timeout != 5000 {
			t.Errorf("conn %d: expected busy_timeout 5000, got %d", i, timeout)
		}
	}
}
