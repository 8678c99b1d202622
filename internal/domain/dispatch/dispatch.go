package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/okian/scoreingest/internal/domain/failure"
	"github.com/okian/scoreingest/internal/domain/importer"
	"github.com/okian/scoreingest/internal/domain/model"
	"github.com/okian/scoreingest/pkg/logger"
)

// Dispatcher runs a score import and returns its document or an error.
// Re-invoking with the importID of an in-flight or completed import returns
// that import's result instead of starting another.
type Dispatcher interface {
	MakeScoreImport(ctx context.Context, job JobData) (*model.ImportDocument, error)
}

// Engine is the import engine both modes share.
type Engine interface {
	Run(ctx context.Context, req importer.Request, user model.User, log logger.Logger) (*model.ImportDocument, error)
}

// Users resolves the acting user.
type Users interface {
	GetUser(ctx context.Context, id int) (model.User, error)
}

// Imports looks up completed imports.
type Imports interface {
	GetImport(ctx context.Context, importID string) (model.ImportDocument, error)
}

// RunnerStore is what a Runner reads before running a job.
type RunnerStore interface {
	Users
	Imports
}

// Runner executes one job: it resolves the user, rehydrates binary
// arguments, builds the per-job logger and runs the engine.
type Runner struct {
	engine Engine
	store  RunnerStore
	log    logger.Logger
}

// NewRunner creates a runner.
func NewRunner(engine Engine, store RunnerStore, log logger.Logger) *Runner {
	return &Runner{engine: engine, store: store, log: log}
}

// Run executes job. A job whose import already finished returns the stored
// document without running again, so redelivered jobs are harmless.
func (r *Runner) Run(ctx context.Context, job JobData) (*model.ImportDocument, error) {
	if doc, ok := completed(ctx, r.store, job.ImportID); ok {
		return doc, nil
	}
	user, err := r.store.GetUser(ctx, job.UserID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, failure.Fatal(http.StatusNotFound, "user %d does not exist", job.UserID)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve user %d: %w", job.UserID, err)
	}
	log := r.log.Named("import").With(
		logger.String("importID", job.ImportID),
		logger.String("importType", string(job.ImportType)),
		logger.Int("userID", job.UserID),
	)
	return r.engine.Run(ctx, job.request(), user, log)
}

// Inline runs imports in the calling process.
type Inline struct {
	runner  *Runner
	imports Imports
	group   singleflight.Group
}

// NewInline creates an inline dispatcher.
func NewInline(runner *Runner, imports Imports) *Inline {
	return &Inline{runner: runner, imports: imports}
}

// MakeScoreImport runs job synchronously. Concurrent calls with one
// importID share a single run.
func (d *Inline) MakeScoreImport(ctx context.Context, job JobData) (*model.ImportDocument, error) {
	if doc, ok := completed(ctx, d.imports, job.ImportID); ok {
		return doc, nil
	}
	v, err, _ := d.group.Do(job.ImportID, func() (any, error) {
		return d.runner.Run(ctx, job)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.ImportDocument), nil
}

// JobResult is what a worker reports for a finished job.
type JobResult struct {
	Success     bool            `json:"success"`
	StatusCode  int             `json:"statusCode,omitempty"`
	Description string          `json:"description,omitempty"`
	Body        json.RawMessage `json:"importDocument,omitempty"`
}

// Broker is the queue as the distributed dispatcher sees it. Publish is
// idempotent per id; Await blocks until that job has a final result.
type Broker interface {
	Publish(ctx context.Context, kind, id string, payload json.RawMessage) error
	Await(ctx context.Context, id string) (JobResult, error)
}

// Distributed delegates imports to workers through a Broker.
type Distributed struct {
	broker  Broker
	imports Imports
	timeout time.Duration
}

// NewDistributed creates a distributed dispatcher. timeout bounds the wait
// for a worker; zero waits for as long as ctx allows.
func NewDistributed(broker Broker, imports Imports, timeout time.Duration) *Distributed {
	return &Distributed{broker: broker, imports: imports, timeout: timeout}
}

// MakeScoreImport enqueues job keyed by its importID and waits for it.
func (d *Distributed) MakeScoreImport(ctx context.Context, job JobData) (*model.ImportDocument, error) {
	if doc, ok := completed(ctx, d.imports, job.ImportID); ok {
		return doc, nil
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encode job %s: %w", job.ImportID, err)
	}
	if err := d.broker.Publish(ctx, JobKind, job.ImportID, payload); err != nil {
		return nil, fmt.Errorf("enqueue job %s: %w", job.ImportID, err)
	}
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	res, err := d.broker.Await(ctx, job.ImportID)
	if err != nil {
		return nil, fmt.Errorf("await job %s: %w", job.ImportID, err)
	}
	return FromResult(res)
}

// FromResult turns a worker's result back into the inline return contract.
func FromResult(res JobResult) (*model.ImportDocument, error) {
	if !res.Success {
		if res.StatusCode == 0 || res.StatusCode == http.StatusInternalServerError {
			return nil, fmt.Errorf("%w: %s", ErrJobFailed, res.Description)
		}
		return nil, &failure.FatalError{StatusCode: res.StatusCode, Message: res.Description}
	}
	var doc model.ImportDocument
	if err := json.Unmarshal(res.Body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadJobResult, err)
	}
	return &doc, nil
}

// ToResult is the worker-side inverse of FromResult.
func ToResult(doc *model.ImportDocument, err error) JobResult {
	if err != nil {
		if fe, ok := failure.AsFatal(err); ok {
			return JobResult{StatusCode: fe.StatusCode, Description: fe.Message}
		}
		return JobResult{StatusCode: http.StatusInternalServerError, Description: internalDescription}
	}
	body, merr := json.Marshal(doc)
	if merr != nil {
		return JobResult{StatusCode: http.StatusInternalServerError, Description: internalDescription}
	}
	return JobResult{Success: true, Body: body}
}

// Handler decodes a queued job, runs it, and encodes the result. Its error
// is non-nil only for unexpected failures, which the queue may retry.
func Handler(runner *Runner) func(ctx context.Context, payload json.RawMessage) (JobResult, error) {
	return func(ctx context.Context, payload json.RawMessage) (JobResult, error) {
		var job JobData
		if err := json.Unmarshal(payload, &job); err != nil {
			return JobResult{StatusCode: http.StatusBadRequest, Description: "malformed job payload"}, nil
		}
		doc, err := runner.Run(ctx, job)
		if err != nil {
			if _, ok := failure.AsFatal(err); !ok {
				return ToResult(nil, err), err
			}
		}
		return ToResult(doc, err), nil
	}
}

func completed(ctx context.Context, imports Imports, importID string) (*model.ImportDocument, bool) {
	if imports == nil || importID == "" {
		return nil, false
	}
	doc, err := imports.GetImport(ctx, importID)
	if err != nil {
		return nil, false
	}
	return &doc, true
}
