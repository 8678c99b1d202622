package catalog_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/okian/scoreingest/internal/adapters/catalog"
	"github.com/okian/scoreingest/internal/adapters/repository"
	"github.com/okian/scoreingest/internal/domain/importer"
	"github.com/okian/scoreingest/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestLoad(t *testing.T) {
	ctx := context.Background()

	Convey("Given an empty store", t, func() {
		st := repository.NewMemoryStore(ctx)
		defer st.Close()

		Convey("When the seed file is loaded", func() {
			sum, err := catalog.LoadFile(ctx, st, "testdata/seed.yaml")

			Convey("Then songs, charts and users are queryable", func() {
				So(err, ShouldBeNil)
				So(sum, ShouldResemble, catalog.Summary{Songs: 2, Charts: 2, Users: 1, Games: []model.Game{model.GameCHUNITHM, model.GameIIDX}})

				c, err := st.FindChart(ctx, importer.ChartQuery{Game: model.GameIIDX, InGameID: func() *int { v := 1000; return &v }()})
				So(err, ShouldBeNil)
				So(c.ChartID, ShouldEqual, "iidx-511-spa")
				So(c.Data.Notecount, ShouldEqual, 786)

				u, err := st.FindUserByToken(ctx, "ada-token")
				So(err, ShouldBeNil)
				So(u.Credentials["scorehost"], ShouldEqual, "sh-key")
			})
		})

		Convey("When a chart has a difficulty its game does not know", func() {
			_, err := catalog.LoadReader(ctx, st, strings.NewReader(`
songs: [{id: 1, game: bms, title: x}]
charts: [{chartID: a, songID: 1, game: bms, playtype: 7K, difficulty: ANOTHER, data: {notecount: 10}}]
`))

			Convey("Then nothing is written", func() {
				So(errors.Is(err, catalog.ErrInvalidSeed), ShouldBeTrue)
				c, _ := st.Counts(ctx)
				So(c.Songs, ShouldEqual, 0)
			})
		})

		Convey("When the seed has unknown fields", func() {
			_, err := catalog.LoadReader(ctx, st, strings.NewReader("songz: []\n"))
			So(errors.Is(err, catalog.ErrInvalidSeed), ShouldBeTrue)
		})

		Convey("When the seed is empty", func() {
			_, err := catalog.LoadReader(ctx, st, strings.NewReader(""))
			So(errors.Is(err, catalog.ErrEmptySeed), ShouldBeTrue)
		})

		Convey("When a chart points at a missing song", func() {
			_, err := catalog.LoadReader(ctx, st, strings.NewReader(`
charts: [{chartID: a, songID: 9, game: bms, playtype: 7K, difficulty: CHART, data: {notecount: 10}}]
`))
			So(errors.Is(err, repository.ErrInvalidChart), ShouldBeTrue)
		})
	})
}
