package model

import (
	"encoding/json"
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestGPT(t *testing.T) {
	Convey("Given a game and playtype", t, func() {
		gpt := NewGPT(GameIIDX, PlaytypeSP)

		Convey("Then they join and split back", func() {
			So(gpt, ShouldEqual, GPT("iidx:SP"))
			g, p := gpt.Split()
			So(g, ShouldEqual, GameIIDX)
			So(p, ShouldEqual, PlaytypeSP)
			So(gpt.Game(), ShouldEqual, GameIIDX)
		})

		Convey("And every supported GPT belongs to a known game", func() {
			for _, s := range SupportedGPTs() {
				So([]Game{GameIIDX, GameBMS, GameCHUNITHM}, ShouldContain, s.Game())
			}
		})
	})
}

func TestScoreDataVariants(t *testing.T) {
	Convey("Given score data with an IIDX extension", t, func() {
		bp := 3
		sd := ScoreData{Score: 500, Lamp: "HARD CLEAR", IIDX: &IIDXScoreData{BP: &bp}}

		Convey("Then it validates for IIDX only", func() {
			So(sd.Validate(GameIIDX), ShouldBeNil)
			err := sd.Validate(GameBMS)
			So(errors.Is(err, ErrVariantMismatch), ShouldBeTrue)
		})

		Convey("Then the JSON shape omits unset variants", func() {
			raw, err := json.Marshal(sd)
			So(err, ShouldBeNil)
			So(string(raw), ShouldContainSubstring, `"iidx":{"bp":3}`)
			So(string(raw), ShouldNotContainSubstring, `"bms"`)
		})
	})

	Convey("Given score meta for CHUNITHM", t, func() {
		sm := ScoreMeta{CHUNITHM: &CHUNITHMScoreMeta{}}
		So(sm.Validate(GameCHUNITHM), ShouldBeNil)
		So(sm.Validate(GameIIDX), ShouldNotBeNil)
	})
}

func TestChartVersions(t *testing.T) {
	Convey("Given a chart present in two versions", t, func() {
		c := Chart{Game: GameIIDX, Playtype: PlaytypeDP, Versions: []string{"27", "28"}}
		So(c.HasVersion("28"), ShouldBeTrue)
		So(c.HasVersion("29"), ShouldBeFalse)
		So(c.GPT(), ShouldEqual, GPT("iidx:DP"))
	})
}
