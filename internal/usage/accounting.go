// Package usage accounts for tokens and writes one activity record per session.
package usage

import (
	"unicode/utf8"

	"github.com/ashureev/ragstream/internal/domain"
)

// Accounting sources.
const (
	SourceProvider = "provider"
	SourceEstimate = "estimate"
)

// FromProvider returns the totals reported by the provider. A missing or
// inconsistent total is recomputed from its parts.
func FromProvider(u domain.Usage) domain.Usage {
	if u.TotalTokens != u.PromptTokens+u.CompletionTokens {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return u
}

// Estimate approximates usage by counting characters: the prompt is the
// query plus the system prompt, the completion is the answer plus the
// reasoning.
func Estimate(query, systemPrompt, answer, reasoning string) domain.Usage {
	prompt := utf8.RuneCountInString(query) + utf8.RuneCountInString(systemPrompt)
	completion := utf8.RuneCountInString(answer) + utf8.RuneCountInString(reasoning)
	return domain.Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

// Resolve picks explicit provider totals when present, otherwise the estimate.
func Resolve(s *domain.Session) (domain.Usage, string) {
	if s.Usage != nil {
		return FromProvider(*s.Usage), SourceProvider
	}
	return Estimate(s.Query, s.SystemPrompt, s.Answer(), s.Reasoning()), SourceEstimate
}
