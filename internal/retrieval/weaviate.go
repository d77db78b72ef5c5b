package retrieval

import (
	"context"
	"fmt"
	"net/url"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// WeaviateBackend retrieves passages with a nearText query on one class.
type WeaviateBackend struct {
	client    *weaviate.Client
	className string
	topK      int
}

// NewWeaviateBackend creates a backend for the Weaviate instance at rawURL.
func NewWeaviateBackend(rawURL, className string, topK int) (*WeaviateBackend, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid weaviate url %q", rawURL)
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "http"
	}

	client, err := weaviate.NewClient(weaviate.Config{Host: u.Host, Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	if topK <= 0 {
		topK = 5
	}
	return &WeaviateBackend{client: client, className: className, topK: topK}, nil
}

// Ping reports whether the Weaviate instance is ready.
func (b *WeaviateBackend) Ping(ctx context.Context) error {
	ready, err := b.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate ready check: %w", err)
	}
	if !ready {
		return fmt.Errorf("weaviate not ready")
	}
	return nil
}

// Run performs a semantic search for text.
func (b *WeaviateBackend) Run(ctx context.Context, text string) ([]Hit, error) {
	nearText := b.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{text})

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "title"},
		{Name: "filePath"},
		{Name: "sourceId"},
		{Name: "_additional { certainty }"},
	}

	result, err := b.client.GraphQL().Get().
		WithClassName(b.className).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(b.topK).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("search error: %s", result.Errors[0].Message)
	}

	return parseWeaviateHits(result, b.className), nil
}

func parseWeaviateHits(result *models.GraphQLResponse, className string) []Hit {
	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return []Hit{}
	}
	objects, ok := data[className].([]interface{})
	if !ok {
		return []Hit{}
	}

	hits := make([]Hit, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		hit := Hit{
			Content:  stringField(m, "content"),
			Title:    stringField(m, "title"),
			Path:     stringField(m, "filePath"),
			SourceID: stringField(m, "sourceId"),
		}
		if additional, ok := m["_additional"].(map[string]interface{}); ok {
			if certainty, ok := additional["certainty"].(float64); ok {
				hit.Score = certainty
			}
		}
		hits = append(hits, hit)
	}
	return hits
}

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}
