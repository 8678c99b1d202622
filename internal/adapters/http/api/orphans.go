package api

import (
	"fmt"
	"net/http"

	"github.com/okian/scoreingest/internal/domain/model"
	"github.com/okian/scoreingest/pkg/logger"
)

// OrphansHandler triggers orphan passes.
type OrphansHandler struct {
	deps Dependencies
	log  logger.Logger
}

// NewOrphansHandler creates a new orphans handler.
func NewOrphansHandler(deps Dependencies, log logger.Logger) *OrphansHandler {
	return &OrphansHandler{deps: deps, log: log}
}

// HandleReprocess handles POST /orphans/reprocess[?game=...]. Without a game
// every game's orphans are retried.
func (h *OrphansHandler) HandleReprocess(w http.ResponseWriter, r *http.Request) {
	game := model.Game(r.URL.Query().Get("game"))
	if game != "" && !knownGame(game) {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: unknown game %q", ErrBadRequest, game))
		return
	}
	sum, err := h.deps.ReprocessOrphans(r.Context(), game)
	if err != nil {
		h.log.Error(r.Context(), "orphan pass failed", logger.String("game", string(game)), logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", nil)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func knownGame(g model.Game) bool {
	for _, gpt := range model.SupportedGPTs() {
		if gpt.Game() == g {
			return true
		}
	}
	return false
}
