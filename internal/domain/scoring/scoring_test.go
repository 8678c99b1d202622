package scoring

import (
	"errors"
	"testing"

	"github.com/okian/scoreingest/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestRulesLookup(t *testing.T) {
	Convey("Given the rule registry", t, func() {
		Convey("Then every supported GPT has rules", func() {
			for _, gpt := range model.SupportedGPTs() {
				r, ok := For(gpt)
				So(ok, ShouldBeTrue)
				So(r.GPT, ShouldEqual, gpt)
				So(len(r.Algorithms), ShouldBeGreaterThan, 0)
			}
		})

		Convey("Then unknown GPTs are rejected", func() {
			_, ok := For("popn:9B")
			So(ok, ShouldBeFalse)
			So(func() { MustFor("popn:9B") }, ShouldPanic)
		})
	})
}

func TestEXScoreRules(t *testing.T) {
	Convey("Given IIDX SP rules and a 1000 note chart", t, func() {
		r := MustFor(model.NewGPT(model.GameIIDX, model.PlaytypeSP))
		chart := model.Chart{Data: model.ChartData{Notecount: 1000}, LevelNum: 12}

		Convey("When deriving grades", func() {
			So(exGrade(2000, 2000), ShouldEqual, "MAX")
			So(exGrade(1900, 2000), ShouldEqual, "MAX-")
			So(exGrade(1800, 2000), ShouldEqual, "AAA")
			So(exGrade(500, 2000), ShouldEqual, "E")
			So(exGrade(0, 2000), ShouldEqual, "F")
		})

		Convey("When deriving from a valid score", func() {
			percent, grade, err := r.Derive(1500, chart)

			Convey("Then percent and grade follow the maximum", func() {
				So(err, ShouldBeNil)
				So(percent, ShouldAlmostEqual, 75.0)
				So(grade, ShouldEqual, "A")
			})
		})

		Convey("When the score exceeds the maximum", func() {
			_, _, err := r.Derive(2001, chart)
			So(errors.Is(err, ErrScoreOutOfRange), ShouldBeTrue)
		})

		Convey("When checking a score without a chart", func() {
			So(r.CheckScore(5000000), ShouldBeNil)
			So(errors.Is(r.CheckScore(-1), ErrScoreOutOfRange), ShouldBeTrue)
		})

		Convey("When comparing lamps", func() {
			So(r.BetterLamp("HARD CLEAR", "CLEAR"), ShouldBeTrue)
			So(r.LampIndex("PERFECT"), ShouldEqual, -1)
		})

		Convey("When rating lamps", func() {
			v, ok := r.Value(AlgLampRating, chart, model.ScoreData{Lamp: "HARD CLEAR"})
			So(ok, ShouldBeTrue)
			So(v, ShouldEqual, 12)
			v, _ = r.Value(AlgLampRating, chart, model.ScoreData{Lamp: "FAILED"})
			So(v, ShouldEqual, 0)
			_, ok = r.Value("nope", chart, model.ScoreData{})
			So(ok, ShouldBeFalse)
		})

		Convey("Then the canonical vocabulary is exposed", func() {
			So(r.HasDifficulty("ANOTHER"), ShouldBeTrue)
			So(r.HasDifficulty("ULTIMA"), ShouldBeFalse)
			So(r.HasJudgement("pgreat"), ShouldBeTrue)
			So(r.ClassIndex(ClassSetDan, "KAIDEN"), ShouldBeGreaterThan, r.ClassIndex(ClassSetDan, "10DAN"))
		})
	})
}

func TestChunithmRules(t *testing.T) {
	Convey("Given CHUNITHM rules", t, func() {
		r := MustFor(model.NewGPT(model.GameCHUNITHM, model.PlaytypeSingle))

		Convey("Then replays are distinct and the default algorithm is rating", func() {
			So(r.DistinctReplays, ShouldBeTrue)
			So(r.DefaultAlgorithm, ShouldEqual, AlgRating)
		})

		Convey("When checking a score without a chart", func() {
			So(r.CheckScore(1010000), ShouldBeNil)
			So(errors.Is(r.CheckScore(1010001), ErrScoreOutOfRange), ShouldBeTrue)
		})

		Convey("When deriving from a score", func() {
			percent, grade, err := r.Derive(1007600, model.Chart{})
			So(err, ShouldBeNil)
			So(percent, ShouldAlmostEqual, 100.76)
			So(grade, ShouldEqual, "SSS")
		})

		Convey("When computing play rating", func() {
			So(ChunithmRating(1009000, 14.5), ShouldAlmostEqual, 16.65)
			So(ChunithmRating(1007500, 14.0), ShouldAlmostEqual, 16.0)
			So(ChunithmRating(1000000, 13.0), ShouldAlmostEqual, 14.0)
			So(ChunithmRating(975000, 13.0), ShouldAlmostEqual, 13.0)
			So(ChunithmRating(950000, 14.0), ShouldAlmostEqual, 12.5)
			So(ChunithmRating(400000, 13.0), ShouldEqual, 0)
		})

		Convey("When mapping ratings to colours", func() {
			So(ColourForRating(3), ShouldEqual, "BLUE")
			So(ColourForRating(16.5), ShouldEqual, "PLATINUM")
			So(ColourForRating(17.2), ShouldEqual, "RAINBOW")
		})
	})
}
