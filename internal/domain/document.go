package domain

import "time"

// Placeholders used when a retrieved document lacks metadata.
const (
	MissingMeta     = "None"
	MissingSourceID = "none"
)

// Document is a retrieved context passage attached to a session.
type Document struct {
	Title    string  `json:"title"`
	Path     string  `json:"path"`
	Content  string  `json:"content"`
	Score    float64 `json:"score"`
	SourceID string  `json:"id"`
}

// Usage is the token accounting of one session.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// LogRecord is one row of the append-only activity log.
type LogRecord struct {
	ID               int64
	Timestamp        time.Time
	UserID           int64
	UserName         string
	Query            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// UsageSummary aggregates the log rows of one user.
type UsageSummary struct {
	UserID           int64 `json:"user_id"`
	Sessions         int64 `json:"sessions"`
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}
