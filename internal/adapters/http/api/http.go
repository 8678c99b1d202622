// Package api exposes score imports over HTTP.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/cors"

	"github.com/okian/scoreingest/internal/adapters/catalog"
	"github.com/okian/scoreingest/internal/adapters/http/swagger"
	"github.com/okian/scoreingest/internal/domain/dispatch"
	"github.com/okian/scoreingest/internal/domain/model"
	"github.com/okian/scoreingest/internal/domain/orphan"
	"github.com/okian/scoreingest/pkg/logger"
)

// Dependencies required by HTTP handlers. The service implements all of
// them; tests substitute fakes.
type Dependencies interface {
	dispatch.Dispatcher

	GetImport(ctx context.Context, importID string) (model.ImportDocument, error)
	FindUserByToken(ctx context.Context, token string) (model.User, error)
	ReprocessOrphans(ctx context.Context, game model.Game) (orphan.Summary, error)
	LoadCatalog(ctx context.Context, r io.Reader) (catalog.Summary, error)
	Stats(ctx context.Context) (map[string]any, error)
}

// Server wires HTTP routes for the import API.
type Server struct {
	imports *ImportsHandler
	ir      *IRHandler
	orphans *OrphansHandler
	catalog *CatalogHandler
	stats   *StatsHandler
	health  *HealthHandler
	origins []string
}

// Option configures a Server.
type Option func(*Server)

// WithAllowedOrigins sets the CORS origins. The default allows any origin.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		if len(origins) > 0 {
			s.origins = origins
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, log logger.Logger, opts ...Option) *Server {
	if log == nil {
		log = logger.Nop()
	}
	log = log.Named("api")
	s := &Server{
		imports: NewImportsHandler(deps, log),
		ir:      NewIRHandler(deps, log),
		orphans: NewOrphansHandler(deps, log),
		catalog: NewCatalogHandler(deps, log),
		stats:   NewStatsHandler(deps),
		health:  NewHealthHandler(),
		origins: []string{"*"},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.health.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.stats.HandleStats, "stats"))
	mux.HandleFunc("POST /imports", MetricsMiddleware(s.imports.HandleCreate, "imports"))
	mux.HandleFunc("GET /imports/{id}", MetricsMiddleware(s.imports.HandleGet, "import"))
	mux.HandleFunc("POST /ir/beatoraja/submit-score", MetricsMiddleware(s.ir.HandleSubmitScore, "ir_beatoraja"))
	mux.HandleFunc("POST /orphans/reprocess", MetricsMiddleware(s.orphans.HandleReprocess, "orphans"))
	mux.HandleFunc("POST /catalog", MetricsMiddleware(s.catalog.HandleLoad, "catalog"))
	swagger.Register(mux)
}

// Handler returns every route behind the CORS policy.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	c := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})
	return c.Handler(mux)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeImport writes an import outcome in the shared response shape.
func writeImport(ctx context.Context, w http.ResponseWriter, doc *model.ImportDocument, err error, log logger.Logger) {
	status, body := dispatch.ToHTTP(ctx, doc, err, log)
	writeJSON(w, status, body)
}
