package service_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	service "github.com/okian/scoreingest/internal/app"
	"github.com/okian/scoreingest/internal/adapters/repository"
	"github.com/okian/scoreingest/internal/config"
	"github.com/okian/scoreingest/internal/domain/dispatch"
	"github.com/okian/scoreingest/internal/domain/failure"
	"github.com/okian/scoreingest/internal/domain/model"
	"github.com/okian/scoreingest/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.InitWithWriter(io.Discard); err != nil {
		panic(err)
	}
}

const seedPath = "../adapters/catalog/testdata/seed.yaml"

func testConfig(mode string) *config.Config {
	cfg := config.New()
	cfg.Mode = mode
	cfg.WorkerCount = 2
	cfg.CatalogPath = seedPath
	cfg.OrphanIntervalMS = 0
	cfg.AwaitTimeoutMS = 5000
	return cfg
}

func batchJob(id string, userID int, title string) dispatch.JobData {
	return dispatch.JobData{
		ImportID:   id,
		ImportType: model.ImportBatchManual,
		UserID:     userID,
		UserIntent: true,
		ParserArguments: map[string]any{"file": `{"meta": {"game": "iidx", "playtype": "SP", "service": "manual"},
			"scores": [{"score": 500, "lamp": "HARD CLEAR", "matchType": "songTitle", "identifier": "` + title + `", "difficulty": "ANOTHER"}]}`},
	}
}

func documents(ctx context.Context, svc *service.Service) repository.Counts {
	stats, err := svc.Stats(ctx)
	So(err, ShouldBeNil)
	counts, ok := stats["documents"].(repository.Counts)
	So(ok, ShouldBeTrue)
	return counts
}

func TestService_Lifecycle(t *testing.T) {
	ctx := context.Background()

	Convey("Given a new service", t, func() {
		svc := service.New(testConfig(config.ModeInline), service.WithLogger(logger.Nop()))

		Convey("When it is used before Start", func() {
			_, err := svc.MakeScoreImport(ctx, batchJob("imp-1", 1, "5.1.1."))
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			_, err = svc.GetImport(ctx, "imp-1")
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)

			stats, err := svc.Stats(ctx)
			So(err, ShouldBeNil)
			So(stats["started"], ShouldBeFalse)
		})

		Convey("When it is started twice and stopped twice", func() {
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)

			stats, err := svc.Stats(ctx)
			So(err, ShouldBeNil)
			So(stats["started"], ShouldBeTrue)
			So(stats["workers"], ShouldEqual, 2)
			So(documents(ctx, svc).Charts, ShouldEqual, 2)

			So(svc.Stop(ctx), ShouldBeNil)
			So(svc.Stop(ctx), ShouldBeNil)
			_, err = svc.FindUserByToken(ctx, "ada-token")
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
		})

		Convey("When it runs on an injected store", func() {
			st := repository.NewMemoryStore(ctx)
			svc := service.New(testConfig(config.ModeInline), service.WithLogger(logger.Nop()), service.WithStore(st))
			So(svc.Start(ctx), ShouldBeNil)

			user, err := st.FindUserByToken(ctx, "ada-token")
			So(err, ShouldBeNil)
			So(user.Username, ShouldEqual, "ada")
			So(svc.Stop(ctx), ShouldBeNil)
		})

		Convey("When it runs on a SQLite store", func() {
			cfg := testConfig(config.ModeDistributed)
			cfg.Store = config.StoreSQLite
			cfg.DBPath = t.TempDir() + "/scores.db"
			svc := service.New(cfg, service.WithLogger(logger.Nop()))
			So(svc.Start(ctx), ShouldBeNil)

			doc, err := svc.MakeScoreImport(ctx, batchJob("imp-sqlite", 1, "5.1.1."))
			So(err, ShouldBeNil)
			So(doc.ScoreIDs, ShouldHaveLength, 1)
			So(documents(ctx, svc).Scores, ShouldEqual, 1)
			So(svc.Stop(ctx), ShouldBeNil)
		})

		Convey("When the startup catalog does not exist", func() {
			cfg := testConfig(config.ModeInline)
			cfg.CatalogPath = "testdata/missing.yaml"
			So(service.New(cfg, service.WithLogger(logger.Nop())).Start(ctx), ShouldNotBeNil)
		})
	})
}

func TestService_Imports(t *testing.T) {
	for _, mode := range []string{config.ModeInline, config.ModeDistributed} {
		Convey("Given a started service in "+mode+" mode", t, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			svc := service.New(testConfig(mode), service.WithLogger(logger.Nop()))
			So(svc.Start(ctx), ShouldBeNil)
			defer func() { _ = svc.Stop(context.Background()) }()

			Convey("When a batch is imported", func() {
				doc, err := svc.MakeScoreImport(ctx, batchJob("imp-1", 1, "5.1.1."))

				Convey("Then its score is persisted and the import is stored", func() {
					So(err, ShouldBeNil)
					So(doc.ScoreIDs, ShouldHaveLength, 1)
					So(doc.Errors, ShouldBeEmpty)

					stored, err := svc.GetImport(ctx, "imp-1")
					So(err, ShouldBeNil)
					So(stored.ScoreIDs, ShouldResemble, doc.ScoreIDs)
					So(documents(ctx, svc).PBs, ShouldEqual, 1)
				})

				Convey("Then resubmitting the importID returns the same import", func() {
					again, err := svc.MakeScoreImport(ctx, batchJob("imp-1", 1, "5.1.1."))
					So(err, ShouldBeNil)
					So(again.ScoreIDs, ShouldResemble, doc.ScoreIDs)
					So(documents(ctx, svc).Scores, ShouldEqual, 1)
				})

				Convey("Then the same scores under a new importID add nothing", func() {
					again, err := svc.MakeScoreImport(ctx, batchJob("imp-2", 1, "5.1.1."))
					So(err, ShouldBeNil)
					So(again.ScoreIDs, ShouldBeEmpty)
				})
			})

			Convey("When the user does not exist", func() {
				_, err := svc.MakeScoreImport(ctx, batchJob("imp-3", 99, "5.1.1."))

				Convey("Then the import fails with 404", func() {
					fe, ok := failure.AsFatal(err)
					So(ok, ShouldBeTrue)
					So(fe.StatusCode, ShouldEqual, http.StatusNotFound)
				})
			})

			Convey("When the import type is unknown", func() {
				job := batchJob("imp-4", 1, "5.1.1.")
				job.ImportType = "file/unknown"
				_, err := svc.MakeScoreImport(ctx, job)

				Convey("Then the import fails with 400", func() {
					fe, ok := failure.AsFatal(err)
					So(ok, ShouldBeTrue)
					So(fe.StatusCode, ShouldEqual, http.StatusBadRequest)
				})
			})

			Convey("When a token is looked up", func() {
				user, err := svc.FindUserByToken(ctx, "ada-token")
				So(err, ShouldBeNil)
				So(user.ID, ShouldEqual, 1)
			})
		})
	}
}

const laterSeed = `
songs:
  - id: 2
    game: iidx
    title: Later Song
    artist: someone
charts:
  - chartID: iidx-later-spa
    songID: 2
    game: iidx
    playtype: SP
    difficulty: ANOTHER
    level: "12"
    levelNum: 12
    isPrimary: true
    versions: ["28"]
    data:
      notecount: 1000
      inGameID: 1001
`

func TestService_Orphans(t *testing.T) {
	ctx := context.Background()

	Convey("Given a started service and a score for a song not yet in the catalog", t, func() {
		svc := service.New(testConfig(config.ModeInline), service.WithLogger(logger.Nop()))
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		doc, err := svc.MakeScoreImport(ctx, batchJob("imp-orphan", 1, "Later Song"))
		So(err, ShouldBeNil)
		So(doc.ScoreIDs, ShouldBeEmpty)
		So(documents(ctx, svc).Orphans, ShouldEqual, 1)

		Convey("When a manual pass runs before the song exists", func() {
			sum, err := svc.ReprocessOrphans(ctx, model.GameIIDX)

			Convey("Then the orphan stays", func() {
				So(err, ShouldBeNil)
				So(sum.Resolved, ShouldEqual, 0)
				So(sum.Remaining, ShouldEqual, 1)
			})
		})

		Convey("When a catalog with the song is loaded", func() {
			sum, err := svc.LoadCatalog(ctx, strings.NewReader(laterSeed))

			Convey("Then the orphan is resolved into a score", func() {
				So(err, ShouldBeNil)
				So(sum.Songs, ShouldEqual, 1)
				So(sum.Games, ShouldResemble, []model.Game{model.GameIIDX})

				counts := documents(ctx, svc)
				So(counts.Orphans, ShouldEqual, 0)
				So(counts.Scores, ShouldEqual, 1)
			})
		})

		Convey("When a malformed catalog is loaded", func() {
			_, err := svc.LoadCatalog(ctx, strings.NewReader("songz: []\n"))
			So(err, ShouldNotBeNil)
		})
	})
}
