package completion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashureev/ragstream/internal/domain"
	"github.com/ashureev/ragstream/internal/protocol"
)

// Sink receives the events of one session in order.
type Sink interface {
	Send(ctx context.Context, ev protocol.Event) error
}

// ProviderError wraps a failure reported by the completion provider.
type ProviderError struct {
	Err error
}

func (e *ProviderError) Error() string {
	return "provider failure: " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Relay forwards a provider stream to a session sink.
type Relay struct {
	provider Provider
	logger   *slog.Logger
}

// NewRelay creates a relay for provider.
func NewRelay(provider Provider, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{provider: provider, logger: logger}
}

// Stream runs one completion for sess and forwards it to sink.
//
// Reasoning and answer text are forwarded in arrival order and appended to the
// session accumulators; explicit usage totals are stored on the session. On
// exhaustion a complete event is sent. A provider failure sends an error event
// and returns *ProviderError. A lost client returns protocol.ErrDisconnected.
func (r *Relay) Stream(ctx context.Context, sess *domain.Session, messages []Message, sink Sink) error {
	for chunk, err := range r.provider.CreateStream(ctx, sess.Model, messages) {
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %w", protocol.ErrDisconnected, ctx.Err())
			}
			r.logger.Error("Completion stream failed",
				"session_id", sess.ID,
				"model", sess.Model,
				"answer_len", len(sess.Answer()),
				"error", err)
			if sendErr := sink.Send(ctx, protocol.Error(err.Error())); sendErr != nil {
				r.logger.Debug("Failed to send error event", "session_id", sess.ID, "error", sendErr)
			}
			return &ProviderError{Err: err}
		}
		if chunk == nil {
			continue
		}

		if chunk.Usage != nil {
			usage := *chunk.Usage
			sess.Usage = &usage
		}
		if chunk.Reasoning != "" {
			sess.AppendReasoning(chunk.Reasoning)
			if err := sink.Send(ctx, protocol.ReasoningChunk(chunk.Reasoning)); err != nil {
				return disconnected(err)
			}
		}
		if chunk.Content != "" {
			sess.AppendAnswer(chunk.Content)
			if err := sink.Send(ctx, protocol.Chunk(chunk.Content)); err != nil {
				return disconnected(err)
			}
		}
	}

	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", protocol.ErrDisconnected, ctx.Err())
	}
	if err := sink.Send(ctx, protocol.Complete()); err != nil {
		return disconnected(err)
	}
	return nil
}

func disconnected(err error) error {
	return fmt.Errorf("%w: %w", protocol.ErrDisconnected, err)
}
