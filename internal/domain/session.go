package domain

import (
	"strings"
	"time"
)

// SessionState is a position in the per-connection state machine.
type SessionState int

const (
	StateInit SessionState = iota
	StateAuthenticated
	StateAwaitingQuery
	StateRetrieving
	StateStreaming
	StateComplete
	StateErrored
	StateDisconnected
)

var stateNames = [...]string{
	StateInit:          "init",
	StateAuthenticated: "authenticated",
	StateAwaitingQuery: "awaiting_query",
	StateRetrieving:    "retrieving",
	StateStreaming:     "streaming",
	StateComplete:      "complete",
	StateErrored:       "errored",
	StateDisconnected:  "disconnected",
}

func (s SessionState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether no further transitions are allowed.
func (s SessionState) Terminal() bool {
	return s == StateComplete || s == StateErrored || s == StateDisconnected
}

// Turn roles accepted in client history.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one prior message of the conversation.
type Turn struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content"`
}

// Session holds the state of a single streaming connection. It is owned by
// the controller goroutine; nothing in it is safe for concurrent mutation.
type Session struct {
	ID        string
	Identity  Identity
	State     SessionState
	StartedAt time.Time

	Query            string
	UseKnowledgeBase bool
	Model            string
	History          []Turn

	SystemPrompt string
	Documents    []Document

	reasoning strings.Builder
	answer    strings.Builder

	// Usage is nil until the provider reports explicit totals.
	Usage *Usage

	queryReceived bool
}

// NewSession creates a session for an authenticated caller.
func NewSession(id string, ident Identity) *Session {
	return &Session{
		ID:               id,
		Identity:         ident,
		State:            StateAuthenticated,
		StartedAt:        time.Now(),
		UseKnowledgeBase: true,
	}
}

// SetQuery stores the single query of the session. Later calls are ignored.
func (s *Session) SetQuery(query, model string, useKnowledgeBase bool, history []Turn) bool {
	if s.queryReceived {
		return false
	}
	s.Query = query
	s.Model = model
	s.UseKnowledgeBase = useKnowledgeBase
	s.History = history
	s.queryReceived = true
	return true
}

// QueryReceived reports whether a well-formed query reached the session.
func (s *Session) QueryReceived() bool {
	return s.queryReceived
}

// AppendReasoning adds a forwarded reasoning chunk.
func (s *Session) AppendReasoning(chunk string) {
	s.reasoning.WriteString(chunk)
}

// AppendAnswer adds a forwarded answer chunk.
func (s *Session) AppendAnswer(chunk string) {
	s.answer.WriteString(chunk)
}

// Reasoning returns everything forwarded on the reasoning channel so far.
func (s *Session) Reasoning() string {
	return s.reasoning.String()
}

// Answer returns everything forwarded on the answer channel so far.
func (s *Session) Answer() string {
	return s.answer.String()
}

// PreviewOnly reports whether the caller asked for retrieval without inference.
func (s *Session) PreviewOnly() bool {
	return s.Model == ""
}

// Transition moves the session to next unless it is already terminal.
func (s *Session) Transition(next SessionState) {
	if s.State.Terminal() {
		return
	}
	s.State = next
}
