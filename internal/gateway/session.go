package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/ragstream/internal/completion"
	"github.com/ashureev/ragstream/internal/domain"
	"github.com/ashureev/ragstream/internal/metrics"
	"github.com/ashureev/ragstream/internal/protocol"
	"github.com/ashureev/ragstream/internal/retrieval"
	"github.com/coder/websocket"
)

// sessionRun drives one connection through its state machine. Session state
// is only touched by the goroutine running serve.
type sessionRun struct {
	deps     Deps
	preamble string
	sess     *domain.Session
	ws       *websocket.Conn
	writer   *eventWriter
	logger   *slog.Logger

	outcome      string
	finalizeOnce sync.Once
}

func (s *sessionRun) serve(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	defer s.ws.CloseNow()
	defer s.finalize()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Streaming session panicked", "panic", r, "state", s.sess.State.String())
			s.sess.Transition(domain.StateErrored)
			s.outcome = metrics.OutcomeErrored
		}
	}()

	s.sess.Transition(domain.StateAwaitingQuery)
	q, err := s.receiveQuery(ctx)
	if err != nil {
		if errors.Is(err, protocol.ErrMalformedQuery) {
			s.logger.Warn("Malformed query", "error", err)
			s.outcome = metrics.OutcomeMalformed
			s.sess.Transition(domain.StateErrored)
			if sendErr := s.writer.Send(ctx, protocol.Error(err.Error())); sendErr == nil {
				s.close(websocket.StatusInvalidFramePayloadData, "malformed query")
			}
			return
		}
		s.disconnected("awaiting_query", err)
		return
	}
	s.sess.SetQuery(q.Query, q.Model, q.KnowledgeBase(), q.History)

	// Reads must continue so close frames and disconnects are observed.
	go s.watchClient(ctx, cancel)

	if s.sess.UseKnowledgeBase {
		s.sess.Transition(domain.StateRetrieving)
		docs := s.deps.Retriever.Retrieve(ctx, s.sess.Query)
		if ctx.Err() != nil {
			s.disconnected("retrieving", ctx.Err())
			return
		}
		s.sess.Documents = docs
		s.sess.SystemPrompt = retrieval.BuildSystemPrompt(s.preamble, docs)
		if err := s.writer.Send(ctx, protocol.Docs(docs)); err != nil {
			s.disconnected("retrieving", err)
			return
		}
	} else {
		s.sess.SystemPrompt = retrieval.BuildSystemPrompt(s.preamble, nil)
	}

	if s.sess.PreviewOnly() {
		if err := s.writer.Send(ctx, protocol.Complete()); err != nil {
			s.disconnected("preview", err)
			return
		}
		s.complete()
		return
	}

	s.sess.Transition(domain.StateStreaming)
	msgs := completion.BuildMessages(s.sess.SystemPrompt, s.sess.History, s.sess.Query)
	err = s.deps.Relay.Stream(ctx, s.sess, msgs, s.writer)

	var perr *completion.ProviderError
	switch {
	case err == nil:
		s.complete()
	case errors.As(err, &perr):
		s.outcome = metrics.OutcomeErrored
		s.sess.Transition(domain.StateErrored)
		s.close(websocket.StatusInternalError, "completion failed")
	default:
		s.disconnected("streaming", err)
	}
}

// receiveQuery reads exactly one client message and decodes it as a query.
func (s *sessionRun) receiveQuery(ctx context.Context) (*protocol.Query, error) {
	_, data, err := s.ws.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", protocol.ErrDisconnected, err)
	}
	return protocol.ParseQuery(data)
}

// watchClient reads and ignores client messages until the connection fails,
// then cancels the session.
func (s *sessionRun) watchClient(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	for {
		_, _, err := s.ws.Read(ctx)
		if err != nil {
			s.writer.abandon()
			if ctx.Err() == nil {
				s.logger.Debug("Client connection ended", "close_status", websocket.CloseStatus(err), "error", err)
			}
			return
		}
		s.logger.Debug("Ignoring extra client message")
	}
}

func (s *sessionRun) complete() {
	s.outcome = metrics.OutcomeComplete
	s.sess.Transition(domain.StateComplete)
	s.close(websocket.StatusNormalClosure, "")
}

func (s *sessionRun) disconnected(phase string, err error) {
	s.outcome = metrics.OutcomeDisconnected
	s.sess.Transition(domain.StateDisconnected)
	s.writer.abandon()
	s.logger.Info("Client disconnected", "phase", phase, "error", err)
}

func (s *sessionRun) close(code websocket.StatusCode, reason string) {
	if err := s.ws.Close(code, reason); err != nil {
		s.logger.Debug("Failed to close websocket", "error", err)
	}
}

// finalize records the session exactly once. It never panics.
func (s *sessionRun) finalize() {
	s.finalizeOnce.Do(func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Session finalize panicked", "panic", r)
			}
		}()

		if !s.sess.State.Terminal() {
			s.sess.Transition(domain.StateDisconnected)
		}
		if s.outcome == "" {
			s.outcome = metrics.OutcomeDisconnected
		}

		s.deps.Recorder.Record(s.sess)
		s.deps.Metrics.SessionClosed(s.outcome)
		s.logger.Info("Streaming session ended",
			"state", s.sess.State.String(),
			"outcome", s.outcome,
			"documents", len(s.sess.Documents),
			"answer_len", len(s.sess.Answer()),
			"duration", time.Since(s.sess.StartedAt))
	})
}
