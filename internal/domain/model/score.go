package model

import "fmt"

// ScoreData holds the fields shared by every game plus exactly one
// game-specific extension keyed by the score's game.
type ScoreData struct {
	Score      int             `json:"score"`
	Percent    float64         `json:"percent"`
	Grade      string          `json:"grade"`
	Lamp       string          `json:"lamp"`
	Judgements map[string]*int `json:"judgements"`

	IIDX     *IIDXScoreData     `json:"iidx,omitempty"`
	BMS      *BMSScoreData      `json:"bms,omitempty"`
	CHUNITHM *CHUNITHMScoreData `json:"chunithm,omitempty"`
}

// IIDXScoreData carries the optional IIDX fields.
type IIDXScoreData struct {
	BP         *int     `json:"bp,omitempty"`
	Gauge      *float64 `json:"gauge,omitempty"`
	ComboBreak *int     `json:"comboBreak,omitempty"`
	Fast       *int     `json:"fast,omitempty"`
	Slow       *int     `json:"slow,omitempty"`
}

// BMSScoreData carries the optional BMS fields.
type BMSScoreData struct {
	BP       *int     `json:"bp,omitempty"`
	Gauge    *float64 `json:"gauge,omitempty"`
	MaxCombo *int     `json:"maxCombo,omitempty"`
	EPG      *int     `json:"epg,omitempty"`
	LPG      *int     `json:"lpg,omitempty"`
	EGR      *int     `json:"egr,omitempty"`
	LGR      *int     `json:"lgr,omitempty"`
}

// CHUNITHMScoreData carries the optional CHUNITHM fields.
type CHUNITHMScoreData struct {
	MaxCombo *int `json:"maxCombo,omitempty"`
}

// Validate checks that no extension for a different game is set.
func (sd ScoreData) Validate(game Game) error {
	set := make([]Game, 0, 1)
	if sd.IIDX != nil {
		set = append(set, GameIIDX)
	}
	if sd.BMS != nil {
		set = append(set, GameBMS)
	}
	if sd.CHUNITHM != nil {
		set = append(set, GameCHUNITHM)
	}
	for _, g := range set {
		if g != game {
			return fmt.Errorf("%w: %s data on a %s score", ErrVariantMismatch, g, game)
		}
	}
	return nil
}

// ScoreMeta holds game-specific modifiers.
type ScoreMeta struct {
	IIDX     *IIDXScoreMeta     `json:"iidx,omitempty"`
	BMS      *BMSScoreMeta      `json:"bms,omitempty"`
	CHUNITHM *CHUNITHMScoreMeta `json:"chunithm,omitempty"`
}

// IIDXScoreMeta describes IIDX play options.
type IIDXScoreMeta struct {
	Random *string `json:"random,omitempty"`
	Assist *string `json:"assist,omitempty"`
	Range  *string `json:"range,omitempty"`
	Gauge  *string `json:"gauge,omitempty"`
}

// BMSScoreMeta describes BMS play options.
type BMSScoreMeta struct {
	Random      *string `json:"random,omitempty"`
	InputDevice *string `json:"inputDevice,omitempty"`
	Client      *string `json:"client,omitempty"`
	Gauge       *string `json:"gauge,omitempty"`
}

// CHUNITHMScoreMeta is empty; the arcade does not report modifiers.
type CHUNITHMScoreMeta struct{}

// Validate checks that no meta for a different game is set.
func (sm ScoreMeta) Validate(game Game) error {
	if (sm.IIDX != nil && game != GameIIDX) ||
		(sm.BMS != nil && game != GameBMS) ||
		(sm.CHUNITHM != nil && game != GameCHUNITHM) {
		return fmt.Errorf("%w: meta does not belong to %s", ErrVariantMismatch, game)
	}
	return nil
}

// DryScore is a canonical score that has not been persisted.
// It never carries a store-assigned identifier.
type DryScore struct {
	Game         Game       `json:"game"`
	ImportType   ImportType `json:"importType"`
	TimeAchieved *int64     `json:"timeAchieved"`
	Service      string     `json:"service"`
	Comment      *string    `json:"comment"`
	ScoreData    ScoreData  `json:"scoreData"`
	ScoreMeta    ScoreMeta  `json:"scoreMeta"`
}

// ScoreDocument is a persisted score.
type ScoreDocument struct {
	DryScore
	ScoreID   string   `json:"scoreID"`
	ChartID   string   `json:"chartID"`
	SongID    int      `json:"songID"`
	UserID    int      `json:"userID"`
	Playtype  Playtype `json:"playtype"`
	ImportID  string   `json:"importID,omitempty"`
	TimeAdded int64    `json:"timeAdded"`
}

// GPT returns the score's game+playtype.
func (s ScoreDocument) GPT() GPT { return NewGPT(s.Game, s.Playtype) }
