package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ashureev/ragstream/internal/metrics"
	"github.com/ashureev/ragstream/internal/protocol"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// errStreamEnded rejects events after a terminal one.
var errStreamEnded = errors.New("stream already ended")

// eventWriter is the only path to the client. Once a write fails or the
// client is gone, every later Send is dropped with protocol.ErrDisconnected.
// At most one terminal event is written.
type eventWriter struct {
	mu      sync.Mutex
	ws      *websocket.Conn
	timeout time.Duration
	metrics *metrics.Metrics
	gone    bool
	ended   bool
}

func newEventWriter(ws *websocket.Conn, timeout time.Duration, m *metrics.Metrics) *eventWriter {
	return &eventWriter{ws: ws, timeout: timeout, metrics: m}
}

// Send writes one event as a JSON text message.
func (w *eventWriter) Send(ctx context.Context, ev protocol.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.gone {
		return protocol.ErrDisconnected
	}
	if w.ended {
		return fmt.Errorf("send %s: %w", ev.Type, errStreamEnded)
	}
	if err := ctx.Err(); err != nil {
		w.gone = true
		return fmt.Errorf("%w: %w", protocol.ErrDisconnected, err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	if err := wsjson.Write(writeCtx, w.ws, ev); err != nil {
		w.gone = true
		return fmt.Errorf("%w: %w", protocol.ErrDisconnected, err)
	}
	w.metrics.EventSent(ev.Type)
	w.ended = ev.Terminal()
	return nil
}

// abandon drops all further writes.
func (w *eventWriter) abandon() {
	w.mu.Lock()
	w.gone = true
	w.mu.Unlock()
}
