// Package gateway serves retrieval-augmented streaming query sessions over WebSocket.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/ragstream/internal/domain"
	"github.com/coder/websocket"
)

type activeSession struct {
	identity  domain.Identity
	conn      *websocket.Conn
	startedAt time.Time
}

// SessionManager tracks open streaming connections.
type SessionManager struct {
	mu     sync.RWMutex
	active map[string]activeSession
	// drained is closed when the last registered session unregisters.
	drained chan struct{}
}

// NewSessionManager creates a new session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		active: make(map[string]activeSession),
	}
}

// ActiveCount returns the number of open sessions.
func (m *SessionManager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// ActiveForUser returns the number of open sessions of a user.
func (m *SessionManager) ActiveForUser(userID int64) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, s := range m.active {
		if s.identity.ID == userID {
			n++
		}
	}
	return n
}

// Register adds a connection for a session.
func (m *SessionManager) Register(sessionID string, ident domain.Identity, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.active) == 0 {
		m.drained = make(chan struct{})
	}
	m.active[sessionID] = activeSession{identity: ident, conn: conn, startedAt: time.Now()}
	slog.Debug("Streaming session registered", "session_id", sessionID, "user_id", ident.ID)
}

// Unregister removes a session if conn is still the one registered for it.
// Callers unregister only after the session has finalized.
func (m *SessionManager) Unregister(sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.active[sessionID]; ok && current.conn == conn {
		delete(m.active, sessionID)
		slog.Debug("Streaming session unregistered", "session_id", sessionID,
			"duration", time.Since(current.startedAt))
		if len(m.active) == 0 {
			close(m.drained)
		}
	}
}

// Wait blocks until every registered session has unregistered or ctx is done.
func (m *SessionManager) Wait(ctx context.Context) error {
	m.mu.RLock()
	if len(m.active) == 0 {
		m.mu.RUnlock()
		return nil
	}
	drained := m.drained
	m.mu.RUnlock()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for %d sessions: %w", m.ActiveCount(), ctx.Err())
	}
}

// CloseAll closes every open connection with status and returns how many were
// closed. Sessions finalize on their own goroutines once their reads fail;
// use Wait to block until they have.
func (m *SessionManager) CloseAll(status websocket.StatusCode, reason string) int {
	m.mu.RLock()
	conns := make(map[string]*websocket.Conn, len(m.active))
	for sid, s := range m.active {
		conns[sid] = s.conn
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for sid, conn := range conns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := conn.Close(status, reason); err != nil {
				slog.Debug("Failed to close streaming session", "session_id", sid, "error", err)
			}
		}()
	}
	wg.Wait()
	return len(conns)
}
