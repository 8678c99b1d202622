package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/okian/scoreingest/internal/adapters/catalog"
	"github.com/okian/scoreingest/internal/adapters/repository"
	"github.com/okian/scoreingest/pkg/logger"
)

const maxCatalogBody = 64 << 20

// CatalogHandler loads catalog seeds.
type CatalogHandler struct {
	deps Dependencies
	log  logger.Logger
}

// NewCatalogHandler creates a new catalog handler.
func NewCatalogHandler(deps Dependencies, log logger.Logger) *CatalogHandler {
	return &CatalogHandler{deps: deps, log: log}
}

// HandleLoad handles POST /catalog with a YAML seed body. Orphans of the
// loaded games are retried afterwards.
func (h *CatalogHandler) HandleLoad(w http.ResponseWriter, r *http.Request) {
	sum, err := h.deps.LoadCatalog(r.Context(), http.MaxBytesReader(w, r.Body, maxCatalogBody))
	var tooBig *http.MaxBytesError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, sum)
	case errors.As(err, &tooBig):
		writeError(w, http.StatusRequestEntityTooLarge, "too_large", ErrPayloadTooBig)
	case errors.Is(err, catalog.ErrInvalidSeed), errors.Is(err, catalog.ErrEmptySeed), errors.Is(err, repository.ErrInvalidChart):
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %v", ErrBadRequest, err))
	default:
		h.log.Error(r.Context(), "catalog load failed", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", nil)
	}
}
