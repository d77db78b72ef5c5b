// Package completion streams language-model output to a client session.
package completion

import (
	"context"
	"iter"

	"github.com/ashureev/ragstream/internal/domain"
)

// Message is one entry of the prompt sent to the provider.
type Message struct {
	Role    string
	Content string
}

// Chunk is one raw increment from the provider. A chunk may carry reasoning,
// answer text, usage totals, or any combination of them.
type Chunk struct {
	Reasoning string
	Content   string
	Usage     *domain.Usage
}

// Provider opens a completion stream. The returned sequence is lazy, finite
// and can be ranged over once.
type Provider interface {
	CreateStream(ctx context.Context, model string, messages []Message) iter.Seq2[*Chunk, error]
}

// BuildMessages assembles the provider prompt: the system prompt, the prior
// history, then the user's query. The system turn goes first; many chat
// templates ignore or reject a system message in any other position.
func BuildMessages(systemPrompt string, history []domain.Turn, query string) []Message {
	msgs := make([]Message, 0, len(history)+2)
	msgs = append(msgs, Message{Role: domain.RoleSystem, Content: systemPrompt})
	for _, t := range history {
		msgs = append(msgs, Message{Role: t.Role, Content: t.Content})
	}
	return append(msgs, Message{Role: domain.RoleUser, Content: query})
}
