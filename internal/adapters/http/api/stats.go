package api

import (
	"context"
	"net/http"

	"github.com/okian/scoreingest/pkg/logger"
)

// StatsProvider defines the interface for getting service statistics.
type StatsProvider interface {
	Stats(ctx context.Context) (map[string]any, error)
}

// StatsHandler handles stats requests.
type StatsHandler struct {
	statsProvider StatsProvider
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(statsProvider StatsProvider) *StatsHandler {
	return &StatsHandler{statsProvider: statsProvider}
}

// HandleStats handles GET /stats requests.
func (h *StatsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.statsProvider.Stats(r.Context())
	if err != nil {
		logger.Get().Error(r.Context(), "stats failed", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", nil)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
