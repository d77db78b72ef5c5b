package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ashureev/ragstream/internal/config"
	"github.com/ashureev/ragstream/internal/domain"
	"github.com/ashureev/ragstream/internal/identity"
)

type modelsResponse struct {
	Models []config.ModelInfo `json:"models"`
}

// ListModels returns the model catalogue.
func (h *Handler) ListModels(w http.ResponseWriter, _ *http.Request) {
	models := h.models
	if models == nil {
		models = []config.ModelInfo{}
	}
	JSON(w, http.StatusOK, modelsResponse{Models: models})
}

type usageResponse struct {
	*domain.UsageSummary
	ActiveSessions int              `json:"active_sessions"`
	Recent         []recentLogEntry `json:"recent"`
}

type recentLogEntry struct {
	Timestamp   string `json:"timestamp"`
	Query       string `json:"query"`
	TotalTokens int    `json:"total_tokens"`
}

// Usage returns the caller's token totals and most recent queries.
func (h *Handler) Usage(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity.FromContext(r.Context())
	if !ok {
		Error(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 100 {
			Error(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	summary, err := h.repo.UsageSummary(r.Context(), ident.ID)
	if err != nil {
		slog.Error("Failed to summarize usage", "user_id", ident.ID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load usage")
		return
	}
	logs, err := h.repo.RecentLogs(r.Context(), ident.ID, limit)
	if err != nil {
		slog.Error("Failed to load recent activity", "user_id", ident.ID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load usage")
		return
	}

	recent := make([]recentLogEntry, 0, len(logs))
	for _, l := range logs {
		recent = append(recent, recentLogEntry{
			Timestamp:   l.Timestamp.Format(time.RFC3339),
			Query:       l.Query,
			TotalTokens: l.TotalTokens,
		})
	}

	active := 0
	if h.sm != nil {
		active = h.sm.ActiveForUser(ident.ID)
	}
	JSON(w, http.StatusOK, usageResponse{
		UsageSummary:   summary,
		ActiveSessions: active,
		Recent:         recent,
	})
}
