package usage

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/ragstream/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memLog struct {
	mu      sync.Mutex
	records []domain.LogRecord
	err     error
	ctxErr  error
}

func (m *memLog) AppendLog(ctx context.Context, rec *domain.LogRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctxErr = ctx.Err()
	if m.err != nil {
		return 0, m.err
	}
	m.records = append(m.records, *rec)
	return int64(len(m.records)), nil
}

func TestEstimate(t *testing.T) {
	u := Estimate("Higgs?", "sys", "answer", "why")

	assert.Equal(t, 9, u.PromptTokens)
	assert.Equal(t, 9, u.CompletionTokens)
	assert.Equal(t, 18, u.TotalTokens)

	cjk := Estimate("希格斯玻色子", "", "", "")
	assert.Equal(t, 6, cjk.PromptTokens, "counts characters, not bytes")
}

func TestFromProvider(t *testing.T) {
	got := FromProvider(domain.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15})
	assert.Equal(t, domain.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}, got)

	got = FromProvider(domain.Usage{PromptTokens: 10, CompletionTokens: 5})
	assert.Equal(t, 15, got.TotalTokens)
}

func TestResolve_PrefersProvider(t *testing.T) {
	s := domain.NewSession("s", domain.Identity{ID: 1})
	s.SetQuery("query", "m", true, nil)
	s.SystemPrompt = "system"
	s.AppendAnswer("a very long answer")

	u, source := Resolve(s)
	assert.Equal(t, SourceEstimate, source)
	assert.Equal(t, 11, u.PromptTokens)

	s.Usage = &domain.Usage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3}
	u, source = Resolve(s)
	assert.Equal(t, SourceProvider, source)
	assert.Equal(t, 3, u.TotalTokens)
}

func TestRecorder_WritesOneRow(t *testing.T) {
	log := &memLog{}
	r := NewRecorder(log, nil, time.Second, nil)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	s := domain.NewSession("s", domain.Identity{ID: 42, Username: "alice"})
	s.SetQuery("What is the Higgs boson?", "", true, nil)
	s.SystemPrompt = "P"

	r.Record(s)

	require.Len(t, log.records, 1)
	rec := log.records[0]
	assert.Equal(t, fixed, rec.Timestamp)
	assert.Equal(t, int64(42), rec.UserID)
	assert.Equal(t, "alice", rec.UserName)
	assert.Equal(t, 0, rec.CompletionTokens)
	assert.Equal(t, len("What is the Higgs boson?")+1, rec.PromptTokens)
	assert.Equal(t, rec.PromptTokens+rec.CompletionTokens, rec.TotalTokens)
}

func TestRecorder_SkipsWithoutQuery(t *testing.T) {
	log := &memLog{}
	NewRecorder(log, nil, time.Second, nil).Record(domain.NewSession("s", domain.Identity{ID: 1}))
	assert.Empty(t, log.records)
}

func TestRecorder_SwallowsPersistenceFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	log := &memLog{err: errors.New("disk full")}

	s := domain.NewSession("s", domain.Identity{ID: 1})
	s.SetQuery("q", "m", false, nil)

	assert.NotPanics(t, func() { NewRecorder(log, nil, time.Second, logger).Record(s) })
	assert.Contains(t, buf.String(), "disk full")
	assert.NoError(t, log.ctxErr, "write uses a live context")
}
