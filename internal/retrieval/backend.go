// Package retrieval fetches context passages for a query from a knowledge store.
package retrieval

import (
	"context"
	"errors"

	"github.com/ashureev/ragstream/internal/domain"
)

// ErrNoBackend is reported when retrieval is requested but no store is configured.
var ErrNoBackend = errors.New("no retrieval backend configured")

// Hit is one passage returned by a backend, in backend order.
type Hit struct {
	Content  string
	Score    float64
	Title    string
	Path     string
	SourceID string
}

// Backend runs a retrieval pipeline for a query text.
type Backend interface {
	Run(ctx context.Context, text string) ([]Hit, error)
}

// Pinger is implemented by backends that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Document converts a hit, filling missing metadata with placeholders.
func (h Hit) Document() domain.Document {
	doc := domain.Document{
		Title:    h.Title,
		Path:     h.Path,
		Content:  h.Content,
		Score:    h.Score,
		SourceID: h.SourceID,
	}
	if doc.Title == "" {
		doc.Title = domain.MissingMeta
	}
	if doc.Path == "" {
		doc.Path = domain.MissingMeta
	}
	if doc.SourceID == "" {
		doc.SourceID = domain.MissingSourceID
	}
	return doc
}
