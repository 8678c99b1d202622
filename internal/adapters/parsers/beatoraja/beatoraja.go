// Package beatoraja accepts score submissions from beatoraja clients using
// the community IR wire format: one chart description and one score per
// request.
package beatoraja

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/okian/scoreingest/internal/domain/failure"
	"github.com/okian/scoreingest/internal/domain/importer"
	"github.com/okian/scoreingest/internal/domain/model"
	"github.com/okian/scoreingest/internal/domain/scoring"
	"github.com/okian/scoreingest/pkg/logger"
)

const op = "beatoraja"

// Submission is the IR request body.
type Submission struct {
	Client string    `json:"client"`
	Chart  ChartInfo `json:"chart"`
	Score  ScoreInfo `json:"score"`
}

// ChartInfo identifies the played chart.
type ChartInfo struct {
	MD5    string `json:"md5"`
	SHA256 string `json:"sha256"`
	Title  string `json:"title"`
	Artist string `json:"artist"`
	Mode   string `json:"mode"`
	Notes  int    `json:"notes"`
}

// ScoreInfo is the play itself.
type ScoreInfo struct {
	SHA256     string `json:"sha256"`
	Clear      string `json:"clear"`
	EPG        int    `json:"epg"`
	LPG        int    `json:"lpg"`
	EGR        int    `json:"egr"`
	LGR        int    `json:"lgr"`
	EGD        int    `json:"egd"`
	LGD        int    `json:"lgd"`
	EBD        int    `json:"ebd"`
	LBD        int    `json:"lbd"`
	EPR        int    `json:"epr"`
	LPR        int    `json:"lpr"`
	EMS        int    `json:"ems"`
	LMS        int    `json:"lms"`
	MaxCombo   int    `json:"maxcombo"`
	MinBP      int    `json:"minbp"`
	Date       int64  `json:"date"` // unix seconds
	Random     *int   `json:"random"`
	Gauge      *int   `json:"gauge"`
	DeviceType string `json:"deviceType"`
}

// ExScore is the play's EX score.
func (s ScoreInfo) ExScore() int { return 2*(s.EPG+s.LPG) + s.EGR + s.LGR }

type args struct {
	Body map[string]any `json:"body"`
}

// Parser turns one submission into one record.
type Parser struct{}

// NewParser creates a parser.
func NewParser() *Parser { return &Parser{} }

// Parse checks the submission's top level. A body without chart hashes
// cannot be attributed and is rejected.
func (p *Parser) Parse(ctx context.Context, in importer.ParseInput, log logger.Logger) (*importer.ParseResult, error) {
	var a args
	if err := importer.DecodeArgs(in.Args, &a); err != nil {
		return nil, failure.FatalWrap(http.StatusBadRequest, "invalid IR arguments", err)
	}
	if a.Body == nil {
		return nil, failure.Fatal(http.StatusBadRequest, "no IR submission was provided")
	}
	raw, err := json.Marshal(a.Body)
	if err != nil {
		return nil, failure.FatalWrap(http.StatusBadRequest, "IR submission is not JSON", err)
	}
	var sub Submission
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, failure.FatalWrap(http.StatusBadRequest, "IR submission is malformed", err)
	}
	if sub.Chart.SHA256 == "" && sub.Chart.MD5 == "" {
		return nil, failure.Fatal(http.StatusBadRequest, "IR submission has no chart hash")
	}
	if sub.Score.SHA256 != "" && sub.Chart.SHA256 != "" && sub.Score.SHA256 != sub.Chart.SHA256 {
		return nil, failure.Fatal(http.StatusBadRequest, "score and chart hashes disagree")
	}
	log.Debug(ctx, "IR submission received", logger.String("client", sub.Client), logger.String("sha256", sub.Chart.SHA256))

	service := "beatoraja IR"
	if sub.Client != "" {
		service = sub.Client + " IR"
	}
	return &importer.ParseResult{
		Records: importer.NewSliceIterator([]json.RawMessage{raw}),
		Context: model.ImportContext{
			Service:  service,
			Game:     model.GameBMS,
			Playtype: model.Playtype7K,
			Extra:    map[string]string{"client": sub.Client},
		},
	}, nil
}

// lamps maps beatoraja clear types.
var lamps = map[string]string{
	"NoPlay":          "NO PLAY",
	"Failed":          "FAILED",
	"AssistEasy":      "ASSIST CLEAR",
	"LightAssistEasy": "ASSIST CLEAR",
	"Easy":            "EASY CLEAR",
	"Normal":          "CLEAR",
	"Hard":            "HARD CLEAR",
	"ExHard":          "EX HARD CLEAR",
	"FullCombo":       "FULL COMBO",
	"Perfect":         "FULL COMBO",
	"Max":             "FULL COMBO",
}

var randoms = map[int]string{
	0: "NONRAN",
	1: "MIRROR",
	2: "RANDOM",
	3: "R-RANDOM",
	4: "S-RANDOM",
}

var gauges = map[int]string{
	0: "ASSISTED EASY",
	1: "EASY",
	2: "NORMAL",
	3: "HARD",
	4: "EX-HARD",
	5: "HAZARD",
}

var devices = map[string]string{
	"KEYBOARD":      "KEYBOARD",
	"BM_CONTROLLER": "BM_CONTROLLER",
	"MIDI":          "MIDI",
}

// Converter resolves submissions by chart hash.
type Converter struct {
	catalog importer.Catalog
}

// NewConverter creates a converter.
func NewConverter(catalog importer.Catalog) *Converter {
	return &Converter{catalog: catalog}
}

// Convert maps a submission. Only 7-key play is accepted; other modes are
// skipped.
func (c *Converter) Convert(ctx context.Context, raw json.RawMessage, ictx model.ImportContext, importType model.ImportType, _ logger.Logger) (*importer.ConvertResult, error) {
	var sub Submission
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, failure.Invalid(op, "malformed submission: %v", err)
	}
	if sub.Chart.Mode != "" && sub.Chart.Mode != "BEAT_7K" {
		return nil, failure.Skip(op, "mode %s is not supported", sub.Chart.Mode)
	}
	lamp, ok := lamps[sub.Score.Clear]
	if !ok {
		return nil, failure.Invalid(op, "unknown clear type %q", sub.Score.Clear)
	}
	meta, err := scoreMeta(sub, ictx)
	if err != nil {
		return nil, err
	}
	rules := scoring.MustFor(model.NewGPT(model.GameBMS, model.Playtype7K))
	ex := sub.Score.ExScore()
	if err := rules.CheckScore(ex); err != nil {
		return nil, failure.WrapKind(op, failure.ErrInvalidScore, err)
	}

	q := importer.ChartQuery{Game: model.GameBMS, Playtype: model.Playtype7K}
	if sub.Chart.SHA256 != "" {
		q.HashSHA256 = sub.Chart.SHA256
	} else {
		q.HashMD5 = sub.Chart.MD5
	}
	song, chart, err := importer.Resolve(ctx, c.catalog, op, q, map[string]string{
		"sha256": sub.Chart.SHA256,
		"md5":    sub.Chart.MD5,
		"title":  sub.Chart.Title,
	})
	if err != nil {
		return nil, err
	}

	percent, grade, err := rules.Derive(ex, chart)
	if err != nil {
		return nil, failure.WrapKind(op, failure.ErrInvalidScore, err)
	}

	s := sub.Score
	var achieved *int64
	if s.Date > 0 {
		ms := s.Date * 1000
		achieved = &ms
	}
	bp := s.EBD + s.LBD + s.EPR + s.LPR + s.EMS + s.LMS
	if s.MinBP > 0 && s.MinBP < bp {
		bp = s.MinBP
	}
	return &importer.ConvertResult{
		Song:  song,
		Chart: chart,
		DryScore: model.DryScore{
			Game:         model.GameBMS,
			ImportType:   importType,
			TimeAchieved: achieved,
			Service:      ictx.Service,
			ScoreData: model.ScoreData{
				Score:   ex,
				Percent: percent,
				Grade:   grade,
				Lamp:    lamp,
				Judgements: map[string]*int{
					"pgreat": intp(s.EPG + s.LPG),
					"great":  intp(s.EGR + s.LGR),
					"good":   intp(s.EGD + s.LGD),
					"bad":    intp(s.EBD + s.LBD),
					"poor":   intp(s.EPR + s.LPR + s.EMS + s.LMS),
				},
				BMS: &model.BMSScoreData{
					BP:       intp(bp),
					MaxCombo: intp(s.MaxCombo),
					EPG:      intp(s.EPG),
					LPG:      intp(s.LPG),
					EGR:      intp(s.EGR),
					LGR:      intp(s.LGR),
				},
			},
			ScoreMeta: meta,
		},
	}, nil
}

func scoreMeta(sub Submission, ictx model.ImportContext) (model.ScoreMeta, error) {
	meta := &model.BMSScoreMeta{}
	if sub.Score.Random != nil {
		r, ok := randoms[*sub.Score.Random]
		if !ok {
			return model.ScoreMeta{}, failure.Invalid(op, "unknown random option %d", *sub.Score.Random)
		}
		meta.Random = &r
	}
	if sub.Score.Gauge != nil {
		g, ok := gauges[*sub.Score.Gauge]
		if !ok {
			return model.ScoreMeta{}, failure.Invalid(op, "unknown gauge %d", *sub.Score.Gauge)
		}
		meta.Gauge = &g
	}
	if sub.Score.DeviceType != "" {
		d, ok := devices[sub.Score.DeviceType]
		if !ok {
			return model.ScoreMeta{}, failure.Invalid(op, "unknown device type %q", sub.Score.DeviceType)
		}
		meta.InputDevice = &d
	}
	if client := ictx.Extra["client"]; client != "" {
		meta.Client = &client
	}
	return model.ScoreMeta{BMS: meta}, nil
}

func intp(n int) *int { return &n }
