package dispatch_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/okian/scoreingest/internal/domain/dispatch"
	"github.com/okian/scoreingest/internal/domain/failure"
	"github.com/okian/scoreingest/internal/domain/importer"
	"github.com/okian/scoreingest/internal/domain/model"
	"github.com/okian/scoreingest/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

type users map[int]model.User

func (u users) GetUser(_ context.Context, id int) (model.User, error) {
	if v, ok := u[id]; ok {
		return v, nil
	}
	return model.User{}, model.ErrNotFound
}

type imports struct {
	mu   sync.Mutex
	docs map[string]model.ImportDocument
}

func (i *imports) GetImport(_ context.Context, id string) (model.ImportDocument, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if d, ok := i.docs[id]; ok {
		return d, nil
	}
	return model.ImportDocument{}, model.ErrNotFound
}

type runnerStore struct {
	users
	*imports
}

// engine fakes the import engine; err decides the outcome.
type engine struct {
	calls   atomic.Int32
	err     error
	imports *imports
	lastArg map[string]any
}

func (e *engine) Run(_ context.Context, req importer.Request, user model.User, _ logger.Logger) (*model.ImportDocument, error) {
	e.calls.Add(1)
	e.lastArg = req.Args
	if e.err != nil {
		return nil, e.err
	}
	doc := model.ImportDocument{
		ImportID:   req.ImportID,
		ImportType: req.ImportType,
		UserID:     user.ID,
		ScoreIDs:   []string{"R1", "R2"},
		Errors:     []model.ImportError{},
	}
	e.imports.mu.Lock()
	e.imports.docs[req.ImportID] = doc
	e.imports.mu.Unlock()
	return &doc, nil
}

// broker runs published jobs straight through the queue handler.
type broker struct {
	handle  func(context.Context, json.RawMessage) (dispatch.JobResult, error)
	mu      sync.Mutex
	results map[string]dispatch.JobResult
}

func (b *broker) Publish(ctx context.Context, kind, id string, payload json.RawMessage) error {
	if kind != dispatch.JobKind {
		return errors.New("unexpected kind")
	}
	res, _ := b.handle(ctx, payload)
	b.mu.Lock()
	b.results[id] = res
	b.mu.Unlock()
	return nil
}

func (b *broker) Await(_ context.Context, id string) (dispatch.JobResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	res, ok := b.results[id]
	if !ok {
		return dispatch.JobResult{}, errors.New("no result")
	}
	// Round trip through JSON like a real transport would.
	raw, err := json.Marshal(res)
	if err != nil {
		return dispatch.JobResult{}, err
	}
	var out dispatch.JobResult
	return out, json.Unmarshal(raw, &out)
}

func setup(engineErr error) (*engine, dispatch.Dispatcher, dispatch.Dispatcher) {
	imps := &imports{docs: map[string]model.ImportDocument{}}
	eng := &engine{err: engineErr, imports: imps}
	runner := dispatch.NewRunner(eng, runnerStore{users{1: {ID: 1, Username: "ada"}}, imps}, logger.Nop())
	inline := dispatch.NewInline(runner, imps)
	b := &broker{handle: dispatch.Handler(runner), results: map[string]dispatch.JobResult{}}
	distributed := dispatch.NewDistributed(b, imps, 0)
	return eng, inline, distributed
}

func TestModeTransparency(t *testing.T) {
	ctx := context.Background()
	log := logger.Nop()

	Convey("Given the same job in both modes", t, func() {
		job := dispatch.JobData{ImportID: "imp-1", ImportType: model.ImportBatchManual, UserID: 1}

		Convey("When the import succeeds", func() {
			_, inline, _ := setup(nil)
			_, _, distributed := setup(nil)
			a, aerr := inline.MakeScoreImport(ctx, job)
			b, berr := distributed.MakeScoreImport(ctx, job)

			Convey("Then both return the same document", func() {
				So(aerr, ShouldBeNil)
				So(berr, ShouldBeNil)
				So(b.ScoreIDs, ShouldResemble, a.ScoreIDs)
				So(b.ImportID, ShouldEqual, a.ImportID)
			})
		})

		Convey("When the import fails with a user-facing error", func() {
			fatal := failure.Fatal(http.StatusBadRequest, "no file")
			_, inline, distributed := setup(fatal)
			_, aerr := inline.MakeScoreImport(ctx, job)
			_, berr := distributed.MakeScoreImport(ctx, job)
			as, ab := dispatch.ToHTTP(ctx, nil, aerr, log)
			bs, bb := dispatch.ToHTTP(ctx, nil, berr, log)

			Convey("Then both translate to the same HTTP response", func() {
				So(as, ShouldEqual, http.StatusBadRequest)
				So(bs, ShouldEqual, as)
				So(bb.Description, ShouldEqual, "no file")
				So(ab.Description, ShouldEqual, bb.Description)
			})
		})

		Convey("When the import fails unexpectedly", func() {
			_, inline, distributed := setup(errors.New("disk on fire"))
			_, aerr := inline.MakeScoreImport(ctx, job)
			_, berr := distributed.MakeScoreImport(ctx, job)
			as, ab := dispatch.ToHTTP(ctx, nil, aerr, log)
			bs, bb := dispatch.ToHTTP(ctx, nil, berr, log)

			Convey("Then both are masked as internal errors", func() {
				So(as, ShouldEqual, http.StatusInternalServerError)
				So(bs, ShouldEqual, http.StatusInternalServerError)
				So(ab.Description, ShouldEqual, "internal service error")
				So(bb.Description, ShouldEqual, "internal service error")
				So(ab.CorrelationID, ShouldNotBeEmpty)
				So(ab.Description, ShouldNotContainSubstring, "disk")
			})
		})

		Convey("When the user does not exist", func() {
			_, inline, _ := setup(nil)
			_, err := inline.MakeScoreImport(ctx, dispatch.JobData{ImportID: "imp-2", UserID: 99})

			Convey("Then it is a 404", func() {
				fe, ok := failure.AsFatal(err)
				So(ok, ShouldBeTrue)
				So(fe.StatusCode, ShouldEqual, http.StatusNotFound)
			})
		})
	})
}

func TestIdempotentImportID(t *testing.T) {
	ctx := context.Background()

	Convey("Given a completed import", t, func() {
		eng, inline, distributed := setup(nil)
		job := dispatch.JobData{ImportID: "imp-9", ImportType: model.ImportBatchManual, UserID: 1}
		_, err := inline.MakeScoreImport(ctx, job)
		So(err, ShouldBeNil)

		Convey("When it is re-invoked in either mode", func() {
			a, aerr := inline.MakeScoreImport(ctx, job)
			b, berr := distributed.MakeScoreImport(ctx, job)

			Convey("Then the stored result is returned without a second run", func() {
				So(aerr, ShouldBeNil)
				So(berr, ShouldBeNil)
				So(a.ImportID, ShouldEqual, "imp-9")
				So(b.ImportID, ShouldEqual, "imp-9")
				So(eng.calls.Load(), ShouldEqual, 1)
			})
		})
	})
}

func TestRedeliveredJob(t *testing.T) {
	ctx := context.Background()

	Convey("Given a job delivered twice to the worker handler", t, func() {
		imps := &imports{docs: map[string]model.ImportDocument{}}
		eng := &engine{imports: imps}
		handle := dispatch.Handler(dispatch.NewRunner(eng, runnerStore{users{1: {ID: 1}}, imps}, logger.Nop()))
		payload, err := json.Marshal(dispatch.JobData{ImportID: "imp-r", ImportType: model.ImportBatchManual, UserID: 1})
		So(err, ShouldBeNil)

		first, err := handle(ctx, payload)
		So(err, ShouldBeNil)
		second, err := handle(ctx, payload)
		So(err, ShouldBeNil)

		Convey("Then the engine runs once and both deliveries report the stored document", func() {
			So(eng.calls.Load(), ShouldEqual, 1)
			So(second.Success, ShouldBeTrue)
			So(string(second.Body), ShouldEqual, string(first.Body))
			doc, err := dispatch.FromResult(second)
			So(err, ShouldBeNil)
			So(doc.ScoreIDs, ShouldResemble, []string{"R1", "R2"})
		})
	})
}

func TestBuffers(t *testing.T) {
	Convey("Given binary parser arguments", t, func() {
		payload := []byte{0x00, 0x7f, 0xff}

		Convey("When a job carrying a Buffer crosses JSON", func() {
			job := dispatch.JobData{
				ImportID:        "imp-b",
				ParserArguments: map[string]any{"file": dispatch.Buffer(payload), "nested": map[string]any{"blob": dispatch.Buffer(payload)}},
			}
			raw, err := json.Marshal(job)
			So(err, ShouldBeNil)
			So(string(raw), ShouldContainSubstring, `{"type":"Buffer","data":[0,127,255]}`)

			var back dispatch.JobData
			So(json.Unmarshal(raw, &back), ShouldBeNil)
			args := dispatch.Rehydrate(back.ParserArguments)

			Convey("Then rehydration restores the bytes at any depth", func() {
				So(args["file"], ShouldResemble, payload)
				So(args["nested"].(map[string]any)["blob"], ShouldResemble, payload)
			})
		})

		Convey("When arguments contain no envelopes", func() {
			args := dispatch.Rehydrate(map[string]any{"a": "b", "n": 1.0, "list": []any{"x"}})

			Convey("Then they are unchanged", func() {
				So(args, ShouldResemble, map[string]any{"a": "b", "n": 1.0, "list": []any{"x"}})
			})
		})

		Convey("When an envelope is malformed", func() {
			var b dispatch.Buffer
			err := json.Unmarshal([]byte(`{"type":"Buffer","data":[300]}`), &b)

			Convey("Then decoding fails", func() {
				So(errors.Is(err, dispatch.ErrBadEnvelope), ShouldBeTrue)
			})
		})

		Convey("When the engine runs a rehydrated job", func() {
			eng, _, distributed := setup(nil)
			_, err := distributed.MakeScoreImport(context.Background(), dispatch.JobData{
				ImportID: "imp-c", ImportType: model.ImportBatchManual, UserID: 1,
				ParserArguments: map[string]any{"file": dispatch.Buffer(payload)},
			})

			Convey("Then the parser sees raw bytes", func() {
				So(err, ShouldBeNil)
				So(eng.lastArg["file"], ShouldResemble, payload)
			})
		})
	})
}

func TestResults(t *testing.T) {
	Convey("Given worker results", t, func() {
		Convey("A fatal 502 stays user-facing", func() {
			_, err := dispatch.FromResult(dispatch.JobResult{StatusCode: http.StatusBadGateway, Description: "upstream down"})
			fe, ok := failure.AsFatal(err)
			So(ok, ShouldBeTrue)
			So(fe.StatusCode, ShouldEqual, http.StatusBadGateway)
			So(fe.Message, ShouldEqual, "upstream down")
		})

		Convey("A 500 is an unexpected failure", func() {
			_, err := dispatch.FromResult(dispatch.JobResult{StatusCode: http.StatusInternalServerError})
			So(errors.Is(err, dispatch.ErrJobFailed), ShouldBeTrue)
			_, ok := failure.AsFatal(err)
			So(ok, ShouldBeFalse)
		})

		Convey("A success decodes the document", func() {
			res := dispatch.ToResult(&model.ImportDocument{ImportID: "x"}, nil)
			doc, err := dispatch.FromResult(res)
			So(err, ShouldBeNil)
			So(doc.ImportID, ShouldEqual, "x")
		})

		Convey("A garbled body is reported", func() {
			_, err := dispatch.FromResult(dispatch.JobResult{Success: true, Body: json.RawMessage(`[`)})
			So(errors.Is(err, dispatch.ErrBadJobResult), ShouldBeTrue)
		})
	})
}
