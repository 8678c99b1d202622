package scorehost_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/scoreingest/internal/adapters/catalog"
	"github.com/okian/scoreingest/internal/adapters/parsers/scorehost"
	"github.com/okian/scoreingest/internal/adapters/repository"
	"github.com/okian/scoreingest/internal/domain/failure"
	"github.com/okian/scoreingest/internal/domain/importer"
	"github.com/okian/scoreingest/internal/domain/model"
	"github.com/okian/scoreingest/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

// fakeHost serves two pages of scores and a profile for key "sh-key".
type fakeHost struct {
	pages    [][]scorehost.Record
	spDan    string
	status   int
	requests atomic.Int64
}

func (f *fakeHost) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)
	if f.status != 0 {
		w.WriteHeader(f.status)
		return
	}
	if r.Header.Get("Authorization") != "Bearer sh-key" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/api/v1/scores":
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		var out []scorehost.Record
		if page < len(f.pages) {
			out = f.pages[page]
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"scores": out})
	case "/api/v1/profile":
		_ = json.NewEncoder(w).Encode(map[string]string{"spDan": f.spDan})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func intp(n int) *int { return &n }

func drain(ctx context.Context, it importer.RecordIterator) ([]json.RawMessage, error) {
	var out []json.RawMessage
	for {
		r, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
}

func TestParser(t *testing.T) {
	ctx := context.Background()
	log := logger.Nop()
	user := model.User{ID: 1, Credentials: map[string]string{scorehost.CredentialKey: "sh-key"}}

	Convey("Given a score host with two pages of scores", t, func() {
		host := &fakeHost{
			pages: [][]scorehost.Record{
				{{MusicID: 1000, Difficulty: "SPA", Version: "28", ExScore: 500, ClearType: 5}, {MusicID: 1000, Difficulty: "SPA", Version: "28", ExScore: 510, ClearType: 5}},
				{{MusicID: 1000, Difficulty: "SPA", Version: "28", ExScore: 520, ClearType: 6}},
			},
			spDan: "10DAN",
		}
		srv := httptest.NewServer(host)
		defer srv.Close()
		p := scorehost.NewParser(scorehost.NewClient(srv.URL, 1000, time.Second))

		Convey("When the user imports SP scores", func() {
			res, err := p.Parse(ctx, importer.ParseInput{User: user, Args: map[string]any{"playtype": "SP"}}, log)
			So(err, ShouldBeNil)

			Convey("Then the first page is fetched before any record is pulled", func() {
				So(host.requests.Load(), ShouldEqual, 1)
				So(res.Context.Game, ShouldEqual, model.GameIIDX)
				So(res.Context.Playtype, ShouldEqual, model.PlaytypeSP)
			})

			Convey("Then every page is pulled lazily until an empty one", func() {
				records, err := drain(ctx, res.Records)
				So(err, ShouldBeNil)
				So(records, ShouldHaveLength, 3)
				So(host.requests.Load(), ShouldEqual, 3)
			})

			Convey("Then the class provider reports the host's dan", func() {
				classes, err := res.ClassProvider(ctx, model.NewGPT(model.GameIIDX, model.PlaytypeSP), 1, nil, log)
				So(err, ShouldBeNil)
				So(classes, ShouldResemble, map[string]string{"dan": "10DAN"})
			})
		})

		Convey("When the host reports a dan it does not recognise", func() {
			host.spDan = "GODDAN"
			res, err := p.Parse(ctx, importer.ParseInput{User: user}, log)
			So(err, ShouldBeNil)
			classes, err := res.ClassProvider(ctx, model.NewGPT(model.GameIIDX, model.PlaytypeSP), 1, nil, log)
			So(err, ShouldBeNil)
			So(classes, ShouldBeNil)
		})

		Convey("When the user has no API key", func() {
			_, err := p.Parse(ctx, importer.ParseInput{User: model.User{ID: 2}}, log)
			fe, ok := failure.AsFatal(err)
			So(ok, ShouldBeTrue)
			So(fe.StatusCode, ShouldEqual, http.StatusUnauthorized)
			So(host.requests.Load(), ShouldEqual, 0)
		})

		Convey("When the key is rejected", func() {
			bad := model.User{ID: 2, Credentials: map[string]string{scorehost.CredentialKey: "wrong"}}
			_, err := p.Parse(ctx, importer.ParseInput{User: bad}, log)
			fe, ok := failure.AsFatal(err)
			So(ok, ShouldBeTrue)
			So(fe.StatusCode, ShouldEqual, http.StatusUnauthorized)
		})

		Convey("When the playtype is not supported", func() {
			_, err := p.Parse(ctx, importer.ParseInput{User: user, Args: map[string]any{"playtype": "7K"}}, log)
			fe, ok := failure.AsFatal(err)
			So(ok, ShouldBeTrue)
			So(fe.StatusCode, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the host is failing", func() {
			host.status = http.StatusServiceUnavailable
			_, err := p.Parse(ctx, importer.ParseInput{User: user}, log)

			Convey("Then the import fails as an unreachable source", func() {
				fe, ok := failure.AsFatal(err)
				So(ok, ShouldBeTrue)
				So(fe.StatusCode, ShouldEqual, http.StatusBadGateway)
				So(errors.Is(err, scorehost.ErrUnexpectedStatus), ShouldBeTrue)
			})
		})
	})

	Convey("Given a score host nobody listens on", t, func() {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()
		p := scorehost.NewParser(scorehost.NewClient(url, 1000, 200*time.Millisecond))

		Convey("Then the import fails as an unreachable source", func() {
			_, err := p.Parse(ctx, importer.ParseInput{User: user}, log)
			fe, ok := failure.AsFatal(err)
			So(ok, ShouldBeTrue)
			So(fe.StatusCode, ShouldEqual, http.StatusBadGateway)
		})
	})
}

func TestConverter(t *testing.T) {
	ctx := context.Background()
	log := logger.Nop()

	Convey("Given the seeded catalog", t, func() {
		st := repository.NewMemoryStore(ctx)
		defer st.Close()
		_, err := catalog.LoadFile(ctx, st, "../../catalog/testdata/seed.yaml")
		So(err, ShouldBeNil)

		c := scorehost.NewConverter(st)
		ictx := model.ImportContext{Service: "Score Host", Game: model.GameIIDX, Playtype: model.PlaytypeSP}
		convert := func(r scorehost.Record) (*importer.ConvertResult, error) {
			raw, err := json.Marshal(r)
			So(err, ShouldBeNil)
			return c.Convert(ctx, raw, ictx, model.ImportScoreHostIIDX, log)
		}

		Convey("When a record names a known chart and version", func() {
			ts := int64(1700000000000)
			res, err := convert(scorehost.Record{
				MusicID: 1000, Difficulty: "SPA", Version: "28", ExScore: 1400, ClearType: 6,
				BP: intp(3), PGreat: intp(650), Great: intp(100), Timestamp: &ts,
			})

			Convey("Then it converts with derived grade and the IIDX extension", func() {
				So(err, ShouldBeNil)
				So(res.Chart.ChartID, ShouldEqual, "iidx-511-spa")
				So(res.DryScore.ScoreData.Lamp, ShouldEqual, "EX HARD CLEAR")
				So(res.DryScore.ScoreData.Grade, ShouldEqual, "AAA")
				So(*res.DryScore.ScoreData.IIDX.BP, ShouldEqual, 3)
				So(res.DryScore.ScoreData.Judgements, ShouldHaveLength, 2)
				So(*res.DryScore.TimeAchieved, ShouldEqual, ts)
			})
		})

		Convey("When the version has no such chart", func() {
			_, err := convert(scorehost.Record{MusicID: 1000, Difficulty: "SPA", Version: "20", ExScore: 1, ClearType: 1})
			So(failure.KindOf(err), ShouldEqual, failure.KindSongOrChartNotFound)
			So(failure.IdentifiersOf(err)["version"], ShouldEqual, "20")
		})

		Convey("When a DP record arrives in an SP import", func() {
			_, err := convert(scorehost.Record{MusicID: 1000, Difficulty: "DPA", Version: "28", ExScore: 1, ClearType: 1})
			So(failure.KindOf(err), ShouldEqual, failure.KindSkipScore)
		})

		Convey("When codes are unknown", func() {
			_, err := convert(scorehost.Record{MusicID: 1000, Difficulty: "SPX", Version: "28", ClearType: 1})
			So(failure.KindOf(err), ShouldEqual, failure.KindInvalidScore)
			_, err = convert(scorehost.Record{MusicID: 1000, Difficulty: "SPA", Version: "28", ClearType: 9})
			So(failure.KindOf(err), ShouldEqual, failure.KindInvalidScore)
			_, err = convert(scorehost.Record{MusicID: 1000, Difficulty: "SPA", ClearType: 1})
			So(failure.KindOf(err), ShouldEqual, failure.KindInvalidScore)
		})
	})
}
