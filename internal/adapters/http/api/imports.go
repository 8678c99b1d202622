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

// maxImportBody bounds an import request, file arguments included.
const maxImportBody = 32 << 20

// ImportsHandler handles import requests.
type ImportsHandler struct {
	deps Dependencies
	log  logger.Logger
}

// NewImportsHandler creates a new imports handler.
func NewImportsHandler(deps Dependencies, log logger.Logger) *ImportsHandler {
	return &ImportsHandler{deps: deps, log: log}
}

// importRequest is the body of POST /imports.
type importRequest struct {
	ImportID        string           `json:"importID"`
	ImportType      model.ImportType `json:"importType"`
	UserID          int              `json:"userID"`
	UserIntent      *bool            `json:"userIntent"`
	ParserArguments map[string]any   `json:"parserArguments"`
}

func (r importRequest) validate() error {
	switch {
	case strings.TrimSpace(string(r.ImportType)) == "":
		return errors.New("missing importType")
	case r.UserID <= 0:
		return errors.New("userID must be positive")
	case len(r.ImportID) > 128:
		return errors.New("importID is too long")
	}
	return nil
}

// HandleCreate handles POST /imports. The import runs to completion before
// the response is written; repeating an importID returns the first result.
func (h *ImportsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxImportBody))
	if err := dec.Decode(&req); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "too_large", ErrPayloadTooBig)
			return
		}
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %v", ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %v", ErrBadRequest, err))
		return
	}
	if req.ImportID == "" {
		id, err := gonanoid.New()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err)
			return
		}
		req.ImportID = id
	}
	intent := true
	if req.UserIntent != nil {
		intent = *req.UserIntent
	}

	doc, err := h.deps.MakeScoreImport(r.Context(), dispatch.JobData{
		ImportID:        req.ImportID,
		ImportType:      req.ImportType,
		UserID:          req.UserID,
		UserIntent:      intent,
		ParserArguments: req.ParserArguments,
	})
	writeImport(r.Context(), w, doc, err, h.log.With(logger.String("importID", req.ImportID)))
}

// HandleGet handles GET /imports/{id}.
func (h *ImportsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}
	doc, err := h.deps.GetImport(r.Context(), id)
	if errors.Is(err, model.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", fmt.Errorf("import %s not found", id))
		return
	}
	if err != nil {
		h.log.Error(r.Context(), "import lookup failed", logger.String("importID", id), logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", nil)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}
