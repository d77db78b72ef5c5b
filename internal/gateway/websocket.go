package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/ragstream/internal/completion"
	"github.com/ashureev/ragstream/internal/domain"
	"github.com/ashureev/ragstream/internal/identity"
	"github.com/ashureev/ragstream/internal/metrics"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// ContextRetriever fetches documents for a query. It never fails.
type ContextRetriever interface {
	Retrieve(ctx context.Context, query string) []domain.Document
}

// Streamer relays a completion for a session to a sink.
type Streamer interface {
	Stream(ctx context.Context, sess *domain.Session, messages []completion.Message, sink completion.Sink) error
}

// SessionRecorder persists the outcome of a finished session.
type SessionRecorder interface {
	Record(sess *domain.Session)
}

// Deps are the collaborators shared by all sessions. They are fixed at
// construction and never mutated afterwards.
type Deps struct {
	Verifier  identity.Verifier
	Retriever ContextRetriever
	Relay     Streamer
	Recorder  SessionRecorder
	Sessions  *SessionManager
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Options tune every session.
type Options struct {
	Preamble       string
	ReadLimit      int64
	WriteTimeout   time.Duration
	// OriginPatterns lists hosts allowed to upgrade cross-origin. nil allows
	// any origin; an empty slice allows same-origin requests only.
	OriginPatterns []string
}

// Handler serves the streaming query endpoint.
type Handler struct {
	deps Deps
	opts Options
}

// NewHandler creates a new WebSocket handler.
func NewHandler(deps Deps, opts Options) *Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Sessions == nil {
		deps.Sessions = NewSessionManager()
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 1 << 20
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.OriginPatterns == nil {
		opts.OriginPatterns = []string{"*"}
	}
	return &Handler{deps: deps, opts: opts}
}

// ServeHTTP authenticates the caller and, on success, upgrades the request
// and runs one session on the calling goroutine.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ident, err := h.deps.Verifier.Verify(identity.TokenFromQuery(r))
	if err != nil {
		h.deps.Logger.Info("Streaming session rejected", "error", err, "ip", identity.IPFromRequest(r))
		http.Error(w, `{"error":"unauthenticated"}`, http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.opts.OriginPatterns,
	})
	if err != nil {
		h.deps.Logger.Error("Failed to accept WebSocket", "error", err, "user_id", ident.ID)
		return
	}
	ws.SetReadLimit(h.opts.ReadLimit)

	sess := domain.NewSession(uuid.NewString(), ident)
	logger := h.deps.Logger.With("session_id", sess.ID, "user_id", ident.ID)
	logger.Info("Streaming session opened", "user_name", ident.Username, "ip", identity.IPFromRequest(r))

	h.deps.Sessions.Register(sess.ID, ident, ws)
	defer h.deps.Sessions.Unregister(sess.ID, ws)
	h.deps.Metrics.SessionOpened()

	run := &sessionRun{
		deps:     h.deps,
		preamble: h.opts.Preamble,
		sess:     sess,
		ws:       ws,
		writer:   newEventWriter(ws, h.opts.WriteTimeout, h.deps.Metrics),
		logger:   logger,
	}
	run.serve(r.Context())
}
