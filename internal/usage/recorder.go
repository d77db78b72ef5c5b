package usage

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/ragstream/internal/domain"
	"github.com/ashureev/ragstream/internal/metrics"
)

// LogAppender persists activity records.
type LogAppender interface {
	AppendLog(ctx context.Context, rec *domain.LogRecord) (int64, error)
}

// Recorder writes the activity record of a finished session.
type Recorder struct {
	log     LogAppender
	metrics *metrics.Metrics
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// NewRecorder creates a recorder writing to log with a per-write timeout.
func NewRecorder(log LogAppender, m *metrics.Metrics, timeout time.Duration, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Recorder{
		log:     log,
		metrics: m,
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
	}
}

// Record persists one row for s. It never fails: persistence errors are
// logged and counted. Sessions that never received a query are skipped.
func (r *Recorder) Record(s *domain.Session) {
	if !s.QueryReceived() {
		r.logger.Debug("No query received, skipping activity log", "session_id", s.ID, "state", s.State.String())
		return
	}

	u, source := Resolve(s)
	rec := &domain.LogRecord{
		Timestamp:        r.now().UTC(),
		UserID:           s.Identity.ID,
		UserName:         s.Identity.Username,
		Query:            s.Query,
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}

	// The session context may already be cancelled by a disconnect.
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if _, err := r.log.AppendLog(ctx, rec); err != nil {
		r.metrics.LogWriteFailed()
		r.logger.Error("Failed to write activity log",
			"session_id", s.ID,
			"user_id", s.Identity.ID,
			"state", s.State.String(),
			"error", err)
		return
	}

	r.metrics.AddTokens(source, u.PromptTokens, u.CompletionTokens)
	r.logger.Info("Activity logged",
		"session_id", s.ID,
		"user_id", s.Identity.ID,
		"state", s.State.String(),
		"source", source,
		"prompt_tokens", u.PromptTokens,
		"completion_tokens", u.CompletionTokens,
		"total_tokens", u.TotalTokens)
}
