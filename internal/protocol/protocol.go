// Package protocol defines the JSON messages exchanged on a streaming session.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ashureev/ragstream/internal/domain"
	"github.com/go-playground/validator/v10"
)

// Server event types.
const (
	TypeDocs           = "docs"
	TypeReasoningChunk = "reasoning_chunk"
	TypeChunk          = "chunk"
	TypeComplete       = "complete"
	TypeError          = "error"
)

var (
	// ErrMalformedQuery is returned when the client's query message cannot be used.
	ErrMalformedQuery = errors.New("malformed query")

	// ErrDisconnected is returned once the client is gone; further writes are dropped.
	ErrDisconnected = errors.New("client disconnected")
)

var validate = validator.New()

// Query is the single message a client sends after connecting.
type Query struct {
	Query            string        `json:"query" validate:"required"`
	UseKnowledgeBase *bool         `json:"use_knowledge_base"`
	Model            string        `json:"model"`
	History          []domain.Turn `json:"history" validate:"dive"`
}

// KnowledgeBase returns use_knowledge_base with its default applied.
func (q *Query) KnowledgeBase() bool {
	return q.UseKnowledgeBase == nil || *q.UseKnowledgeBase
}

// ParseQuery decodes and validates a query message.
func ParseQuery(data []byte) (*Query, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var q Query
	if err := dec.Decode(&q); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedQuery, err)
	}
	if err := validate.Struct(&q); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedQuery, err)
	}
	return &q, nil
}

// Event is one server-to-client message.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// DocPayload is a document as shown to the client.
type DocPayload struct {
	Title   string  `json:"title"`
	Path    string  `json:"path"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
	ID      string  `json:"id"`
}

// Docs builds the retrieved-documents event.
func Docs(docs []domain.Document) Event {
	payload := make([]DocPayload, 0, len(docs))
	for _, d := range docs {
		payload = append(payload, DocPayload{
			Title:   d.Title,
			Path:    d.Path,
			Content: d.Content,
			Score:   d.Score,
			ID:      d.SourceID,
		})
	}
	return Event{Type: TypeDocs, Data: payload}
}

// ReasoningChunk builds a reasoning-channel event.
func ReasoningChunk(text string) Event {
	return Event{Type: TypeReasoningChunk, Data: text}
}

// Chunk builds an answer-channel event.
func Chunk(text string) Event {
	return Event{Type: TypeChunk, Data: text}
}

// Complete builds the terminal success event.
func Complete() Event {
	return Event{Type: TypeComplete}
}

// Error builds the terminal failure event.
func Error(message string) Event {
	return Event{Type: TypeError, Data: message}
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Type == TypeComplete || e.Type == TypeError
}

// RawEvent is an event decoded on the client side.
type RawEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Text decodes a string payload.
func (e RawEvent) Text() (string, error) {
	var s string
	if err := json.Unmarshal(e.Data, &s); err != nil {
		return "", fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return s, nil
}

// Docs decodes a docs payload.
func (e RawEvent) Docs() ([]DocPayload, error) {
	var docs []DocPayload
	if err := json.Unmarshal(e.Data, &docs); err != nil {
		return nil, fmt.Errorf("decode docs payload: %w", err)
	}
	return docs, nil
}
