package dispatch

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/okian/scoreingest/internal/domain/failure"
	"github.com/okian/scoreingest/internal/domain/model"
	"github.com/okian/scoreingest/pkg/logger"
)

const internalDescription = "internal service error"

// Response is the HTTP body of an import.
type Response struct {
	Success       bool                  `json:"success"`
	Description   string                `json:"description,omitempty"`
	CorrelationID string                `json:"correlationID,omitempty"`
	Body          *model.ImportDocument `json:"body,omitempty"`
}

// ToHTTP maps an import outcome to a status code and body. Fatal errors keep
// their status and message; anything else is masked as an internal error
// whose detail is only logged, under a correlation id.
func ToHTTP(ctx context.Context, doc *model.ImportDocument, err error, log logger.Logger) (int, Response) {
	if err == nil {
		return http.StatusOK, Response{Success: true, Body: doc}
	}
	if fe, ok := failure.AsFatal(err); ok {
		return fe.StatusCode, Response{Description: fe.Message}
	}
	id := uuid.NewString()
	log.Error(ctx, "import failed unexpectedly", logger.String("correlationID", id), logger.Error(err))
	return http.StatusInternalServerError, Response{Description: internalDescription, CorrelationID: id}
}
