package completion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"

	"github.com/ashureev/ragstream/internal/domain"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider streams from any OpenAI-compatible chat completions endpoint.
type OpenAIProvider struct {
	client *openai.Client
	logger *slog.Logger
}

// NewOpenAIProvider creates a provider for baseURL authenticated with apiKey.
func NewOpenAIProvider(apiKey, baseURL string, logger *slog.Logger) *OpenAIProvider {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(cfg),
		logger: logger,
	}
}

// CreateStream requests a streamed completion with usage reporting enabled.
func (p *OpenAIProvider) CreateStream(ctx context.Context, model string, messages []Message) iter.Seq2[*Chunk, error] {
	return func(yield func(*Chunk, error) bool) {
		req := openai.ChatCompletionRequest{
			Model:         model,
			Messages:      toOpenAIMessages(messages),
			Stream:        true,
			StreamOptions: &openai.StreamOptions{IncludeUsage: true},
		}

		stream, err := p.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			yield(nil, fmt.Errorf("completion request failed: %w", err))
			return
		}
		defer func() {
			if closeErr := stream.Close(); closeErr != nil {
				p.logger.Debug("failed to close completion stream", "error", closeErr)
			}
		}()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, fmt.Errorf("completion stream error: %w", err))
				return
			}

			chunk := &Chunk{}
			if len(resp.Choices) > 0 {
				delta := resp.Choices[0].Delta
				chunk.Reasoning = delta.ReasoningContent
				chunk.Content = delta.Content
			}
			if resp.Usage != nil {
				chunk.Usage = &domain.Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				}
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}
