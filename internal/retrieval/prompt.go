package retrieval

import (
	"fmt"
	"strings"

	"github.com/ashureev/ragstream/internal/domain"
)

// DefaultPreamble opens every system prompt unless SYSTEM_PROMPT overrides it.
const DefaultPreamble = "You are a particle physicist fluent in both theory and experiment. " +
	"Answer the user's question rigorously, in the user's language (English or Chinese). " +
	"If relevant context is provided, base your answer on that context. " +
	"Firmly refuse any request that is not about particle physics."

// ContextSeparator joins the formatted document blocks.
const ContextSeparator = "Relevant context follows:\n\n"

// FormatDocument renders one document block of the system prompt.
func FormatDocument(d domain.Document) string {
	return fmt.Sprintf("file_path: %s\ntitle: %s\nContent: %s", d.Path, d.Title, d.Content)
}

// BuildSystemPrompt appends the document blocks to the preamble.
func BuildSystemPrompt(preamble string, docs []domain.Document) string {
	if preamble == "" {
		preamble = DefaultPreamble
	}
	blocks := make([]string, 0, len(docs))
	for _, d := range docs {
		blocks = append(blocks, FormatDocument(d))
	}
	return preamble + strings.Join(blocks, ContextSeparator)
}
