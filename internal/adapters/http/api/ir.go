package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/okian/scoreingest/internal/domain/dispatch"
	"github.com/okian/scoreingest/internal/domain/model"
	"github.com/okian/scoreingest/pkg/logger"
)

const maxIRBody = 1 << 20

// IRHandler accepts score submissions from game clients.
type IRHandler struct {
	deps Dependencies
	log  logger.Logger
}

// NewIRHandler creates a new IR handler.
func NewIRHandler(deps Dependencies, log logger.Logger) *IRHandler {
	return &IRHandler{deps: deps, log: log}
}

// HandleSubmitScore handles POST /ir/beatoraja/submit-score. The caller is
// identified by its bearer API token; every submission is its own import.
func (h *IRHandler) HandleSubmitScore(w http.ResponseWriter, r *http.Request) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", ErrUnauthorized)
		return
	}
	user, err := h.deps.FindUserByToken(r.Context(), strings.TrimSpace(token))
	if errors.Is(err, model.ErrNotFound) {
		writeError(w, http.StatusUnauthorized, "unauthorized", ErrUnauthorized)
		return
	}
	if err != nil {
		h.log.Error(r.Context(), "token lookup failed", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", nil)
		return
	}

	var body map[string]any
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxIRBody)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %v", ErrBadRequest, err))
		return
	}
	id, err := gonanoid.New()
	if err != nil {
		h.log.Error(r.Context(), "import id generation failed", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", nil)
		return
	}

	doc, err := h.deps.MakeScoreImport(r.Context(), dispatch.JobData{
		ImportID:        "ir-" + id,
		ImportType:      model.ImportIRBeatoraja,
		UserID:          user.ID,
		ParserArguments: map[string]any{"body": body},
	})
	writeImport(r.Context(), w, doc, err, h.log.With(logger.String("importID", "ir-"+id), logger.Int("userID", user.ID)))
}
