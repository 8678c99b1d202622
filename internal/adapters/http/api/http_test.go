package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/okian/scoreingest/internal/adapters/catalog"
	"github.com/okian/scoreingest/internal/adapters/http/api"
	"github.com/okian/scoreingest/internal/domain/dispatch"
	"github.com/okian/scoreingest/internal/domain/failure"
	"github.com/okian/scoreingest/internal/domain/model"
	"github.com/okian/scoreingest/internal/domain/orphan"
	"github.com/okian/scoreingest/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.InitWithWriter(io.Discard); err != nil {
		panic(err)
	}
}

type fakeDeps struct {
	mu      sync.Mutex
	jobs    []dispatch.JobData
	imports map[string]model.ImportDocument
	users   map[string]model.User
	err     error
	games   []model.Game
	seeds   []string
	panics  bool
}

func newFakeDeps() *fakeDeps {
	return &fakeDeps{
		imports: map[string]model.ImportDocument{},
		users:   map[string]model.User{"tok-1": {ID: 1, Username: "ada"}},
	}
}

func (f *fakeDeps) MakeScoreImport(_ context.Context, job dispatch.JobData) (*model.ImportDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panics {
		panic("boom")
	}
	f.jobs = append(f.jobs, job)
	if f.err != nil {
		return nil, f.err
	}
	doc := model.ImportDocument{ImportID: job.ImportID, ImportType: job.ImportType, UserID: job.UserID, ScoreIDs: []string{"s1"}}
	f.imports[job.ImportID] = doc
	return &doc, nil
}

func (f *fakeDeps) GetImport(_ context.Context, id string) (model.ImportDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.imports[id]
	if !ok {
		return model.ImportDocument{}, model.ErrNotFound
	}
	return doc, nil
}

func (f *fakeDeps) FindUserByToken(_ context.Context, token string) (model.User, error) {
	u, ok := f.users[token]
	if !ok {
		return model.User{}, model.ErrNotFound
	}
	return u, nil
}

func (f *fakeDeps) ReprocessOrphans(_ context.Context, game model.Game) (orphan.Summary, error) {
	f.games = append(f.games, game)
	return orphan.Summary{Processed: 2, Resolved: 1, Remaining: 1}, nil
}

func (f *fakeDeps) LoadCatalog(_ context.Context, r io.Reader) (catalog.Summary, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return catalog.Summary{}, err
	}
	f.seeds = append(f.seeds, string(b))
	seed, err := catalog.Parse(strings.NewReader(string(b)))
	if err != nil {
		return catalog.Summary{}, err
	}
	return catalog.Summary{Songs: len(seed.Songs), Charts: len(seed.Charts)}, nil
}

func (f *fakeDeps) Stats(context.Context) (map[string]any, error) {
	return map[string]any{"scores": 3}, nil
}

func do(h http.Handler, method, path, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(rec *httptest.ResponseRecorder, v any) {
	So(json.Unmarshal(rec.Body.Bytes(), v), ShouldBeNil)
}

func TestImports(t *testing.T) {
	Convey("Given the API over fake dependencies", t, func() {
		deps := newFakeDeps()
		h := api.NewServer(deps, logger.Nop()).Handler()

		Convey("When an import is posted with an id", func() {
			rec := do(h, http.MethodPost, "/imports", `{"importID": "imp-1", "importType": "file/batch-manual", "userID": 1, "parserArguments": {"file": "{}"}}`)

			Convey("Then the job is dispatched and the document returned", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				var resp dispatch.Response
				decode(rec, &resp)
				So(resp.Success, ShouldBeTrue)
				So(resp.Body.ImportID, ShouldEqual, "imp-1")
				So(deps.jobs, ShouldHaveLength, 1)
				So(deps.jobs[0].UserIntent, ShouldBeTrue)
				So(deps.jobs[0].ParserArguments["file"], ShouldEqual, "{}")
			})

			Convey("Then it can be fetched by id", func() {
				rec := do(h, http.MethodGet, "/imports/imp-1", "")
				So(rec.Code, ShouldEqual, http.StatusOK)
				var doc model.ImportDocument
				decode(rec, &doc)
				So(doc.ScoreIDs, ShouldResemble, []string{"s1"})
			})
		})

		Convey("When an import is posted without an id", func() {
			rec := do(h, http.MethodPost, "/imports", `{"importType": "file/batch-manual", "userID": 1, "userIntent": false}`)
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(deps.jobs[0].ImportID, ShouldHaveLength, 21)
			So(deps.jobs[0].UserIntent, ShouldBeFalse)
		})

		Convey("When the import fails fatally", func() {
			deps.err = failure.Fatal(http.StatusUnauthorized, "no key")
			rec := do(h, http.MethodPost, "/imports", `{"importType": "api/score-host-iidx", "userID": 1}`)

			Convey("Then its status and message are passed through", func() {
				So(rec.Code, ShouldEqual, http.StatusUnauthorized)
				var resp dispatch.Response
				decode(rec, &resp)
				So(resp.Success, ShouldBeFalse)
				So(resp.Description, ShouldEqual, "no key")
			})
		})

		Convey("When the import fails unexpectedly", func() {
			deps.err = errors.New("disk on fire")
			rec := do(h, http.MethodPost, "/imports", `{"importType": "file/batch-manual", "userID": 1}`)

			Convey("Then the detail is masked behind a correlation id", func() {
				So(rec.Code, ShouldEqual, http.StatusInternalServerError)
				So(rec.Body.String(), ShouldNotContainSubstring, "disk on fire")
				var resp dispatch.Response
				decode(rec, &resp)
				So(resp.CorrelationID, ShouldNotBeEmpty)
			})
		})

		Convey("When the request is malformed", func() {
			So(do(h, http.MethodPost, "/imports", `{`).Code, ShouldEqual, http.StatusBadRequest)
			So(do(h, http.MethodPost, "/imports", `{"userID": 1}`).Code, ShouldEqual, http.StatusBadRequest)
			So(do(h, http.MethodPost, "/imports", `{"importType": "file/batch-manual"}`).Code, ShouldEqual, http.StatusBadRequest)
			So(deps.jobs, ShouldBeEmpty)
		})

		Convey("When an unknown import is fetched", func() {
			So(do(h, http.MethodGet, "/imports/nope", "").Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("When a handler panics", func() {
			deps.panics = true
			rec := do(h, http.MethodPost, "/imports", `{"importType": "file/batch-manual", "userID": 1}`)
			So(rec.Code, ShouldEqual, http.StatusInternalServerError)
		})
	})
}

func TestIRSubmit(t *testing.T) {
	Convey("Given the API over fake dependencies", t, func() {
		deps := newFakeDeps()
		h := api.NewServer(deps, logger.Nop()).Handler()
		body := `{"chart": {"sha256": "abc"}, "score": {"clear": "Hard"}}`

		Convey("When a client submits with a known token", func() {
			rec := do(h, http.MethodPost, "/ir/beatoraja/submit-score", body, "Authorization", "Bearer tok-1")

			Convey("Then an IR import runs for the token's user", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(deps.jobs, ShouldHaveLength, 1)
				job := deps.jobs[0]
				So(job.ImportType, ShouldEqual, model.ImportIRBeatoraja)
				So(job.UserID, ShouldEqual, 1)
				So(job.UserIntent, ShouldBeFalse)
				So(job.ImportID, ShouldStartWith, "ir-")
				So(job.ParserArguments["body"], ShouldNotBeNil)
			})
		})

		Convey("When the token is missing or unknown", func() {
			So(do(h, http.MethodPost, "/ir/beatoraja/submit-score", body).Code, ShouldEqual, http.StatusUnauthorized)
			So(do(h, http.MethodPost, "/ir/beatoraja/submit-score", body, "Authorization", "Bearer nope").Code, ShouldEqual, http.StatusUnauthorized)
			So(deps.jobs, ShouldBeEmpty)
		})
	})
}

func TestOperations(t *testing.T) {
	Convey("Given the API over fake dependencies", t, func() {
		deps := newFakeDeps()
		h := api.NewServer(deps, logger.Nop()).Handler()

		Convey("When an orphan pass is requested for a game", func() {
			rec := do(h, http.MethodPost, "/orphans/reprocess?game=iidx", "")
			So(rec.Code, ShouldEqual, http.StatusOK)
			var sum orphan.Summary
			decode(rec, &sum)
			So(sum.Resolved, ShouldEqual, 1)
			So(deps.games, ShouldResemble, []model.Game{model.GameIIDX})
		})

		Convey("When an orphan pass names an unknown game", func() {
			So(do(h, http.MethodPost, "/orphans/reprocess?game=popn", "").Code, ShouldEqual, http.StatusBadRequest)
			So(deps.games, ShouldBeEmpty)
		})

		Convey("When a catalog seed is posted", func() {
			rec := do(h, http.MethodPost, "/catalog", "songs: [{id: 1, game: bms, title: x}]\n", "Content-Type", "application/yaml")
			So(rec.Code, ShouldEqual, http.StatusOK)
			var sum catalog.Summary
			decode(rec, &sum)
			So(sum.Songs, ShouldEqual, 1)
		})

		Convey("When a malformed catalog seed is posted", func() {
			So(do(h, http.MethodPost, "/catalog", "songz: []\n").Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When stats are requested", func() {
			rec := do(h, http.MethodGet, "/stats", "")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Body.String(), ShouldContainSubstring, `"scores":3`)
		})

		Convey("When metrics are scraped", func() {
			rec := do(h, http.MethodGet, "/healthz", "")
			So(rec.Code, ShouldEqual, http.StatusOK)
		})

		Convey("When a browser sends a preflight request", func() {
			rec := do(h, http.MethodOptions, "/imports", "",
				"Origin", "http://dashboard.local",
				"Access-Control-Request-Method", http.MethodPost,
			)
			So(rec.Header().Get("Access-Control-Allow-Origin"), ShouldEqual, "*")
		})

		Convey("When the API document is fetched", func() {
			So(do(h, http.MethodGet, "/openapi.yaml", "").Code, ShouldEqual, http.StatusOK)
		})

		Convey("When the route is unknown", func() {
			So(do(h, http.MethodGet, "/events", "").Code, ShouldEqual, http.StatusNotFound)
		})
	})
}
