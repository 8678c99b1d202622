// Package batchmanual imports the batch-manual JSON format: a meta block
// naming the game and playtype, and a list of scores that identify their
// chart by title, song id, in-game id or chart hash.
package batchmanual

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/okian/scoreingest/internal/domain/failure"
	"github.com/okian/scoreingest/internal/domain/importer"
	"github.com/okian/scoreingest/internal/domain/model"
	"github.com/okian/scoreingest/internal/domain/scoring"
	"github.com/okian/scoreingest/pkg/logger"
)

const op = "batchmanual"

// Match types a score may identify its chart by.
const (
	MatchSongTitle = "songTitle"
	MatchSongID    = "songID"
	MatchInGameID  = "inGameID"
	MatchSHA256    = "sha256"
	MatchMD5       = "md5"
)

// Meta describes every score of a batch.
type Meta struct {
	Game     model.Game        `json:"game"`
	Playtype model.Playtype    `json:"playtype"`
	Service  string            `json:"service"`
	Version  string            `json:"version,omitempty"`
	Classes  map[string]string `json:"classes,omitempty"`
}

// Batch is a whole batch-manual document.
type Batch struct {
	Meta   Meta              `json:"meta"`
	Scores []json.RawMessage `json:"scores"`
}

// Score is one batch-manual score.
type Score struct {
	Score        *int            `json:"score"`
	Lamp         string          `json:"lamp"`
	MatchType    string          `json:"matchType"`
	Identifier   string          `json:"identifier"`
	Difficulty   string          `json:"difficulty,omitempty"`
	TimeAchieved *int64          `json:"timeAchieved,omitempty"`
	Comment      *string         `json:"comment,omitempty"`
	Judgements   map[string]*int `json:"judgements,omitempty"`
	HitMeta      *HitMeta        `json:"hitMeta,omitempty"`
}

// HitMeta carries the optional per-game extension fields.
type HitMeta struct {
	BP       *int     `json:"bp,omitempty"`
	Gauge    *float64 `json:"gauge,omitempty"`
	MaxCombo *int     `json:"maxCombo,omitempty"`
}

type args struct {
	File []byte `json:"file"`
}

// Parser reads a batch from the "file" argument.
type Parser struct{}

// NewParser creates a parser.
func NewParser() *Parser { return &Parser{} }

// Parse decodes the batch. A malformed document or an unsupported game is
// fatal.
func (p *Parser) Parse(ctx context.Context, in importer.ParseInput, log logger.Logger) (*importer.ParseResult, error) {
	var a args
	if err := importer.DecodeArgs(in.Args, &a); err != nil {
		return nil, failure.FatalWrap(http.StatusBadRequest, "invalid batch-manual arguments", err)
	}
	if len(bytes.TrimSpace(a.File)) == 0 {
		return nil, failure.Fatal(http.StatusBadRequest, "no batch-manual file was provided")
	}
	batch, err := Decode(a.File)
	if err != nil {
		return nil, err
	}
	log.Debug(ctx, "batch decoded",
		logger.String("gpt", string(model.NewGPT(batch.Meta.Game, batch.Meta.Playtype))),
		logger.Int("scores", len(batch.Scores)),
	)

	res := &importer.ParseResult{
		Records: importer.NewSliceIterator(batch.Scores),
		Context: model.ImportContext{
			Service:  batch.Meta.Service + " (batch-manual)",
			Game:     batch.Meta.Game,
			Playtype: batch.Meta.Playtype,
			Version:  batch.Meta.Version,
		},
	}
	if len(batch.Meta.Classes) > 0 {
		classes := batch.Meta.Classes
		res.ClassProvider = func(context.Context, model.GPT, int, map[string]float64, logger.Logger) (map[string]string, error) {
			return classes, nil
		}
	}
	return res, nil
}

// Decode parses and checks a batch document's top level.
func Decode(raw []byte) (Batch, error) {
	var batch Batch
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&batch); err != nil {
		return Batch{}, failure.FatalWrap(http.StatusBadRequest, "batch-manual file is not valid JSON", err)
	}
	gpt := model.NewGPT(batch.Meta.Game, batch.Meta.Playtype)
	rules, ok := scoring.For(gpt)
	if !ok {
		return Batch{}, failure.Fatal(http.StatusBadRequest, "unsupported game/playtype %q", gpt)
	}
	if strings.TrimSpace(batch.Meta.Service) == "" {
		return Batch{}, failure.Fatal(http.StatusBadRequest, "meta.service is required")
	}
	if batch.Scores == nil {
		return Batch{}, failure.Fatal(http.StatusBadRequest, "scores must be a list")
	}
	for set, v := range batch.Meta.Classes {
		if rules.ClassIndex(set, v) < 0 {
			return Batch{}, failure.Fatal(http.StatusBadRequest, "invalid %s class %q for %s", set, v, gpt)
		}
	}
	return batch, nil
}

// Converter resolves batch-manual scores against the catalog.
type Converter struct {
	catalog importer.Catalog
}

// NewConverter creates a converter.
func NewConverter(catalog importer.Catalog) *Converter {
	return &Converter{catalog: catalog}
}

// Convert validates the record fully before resolving its chart.
func (c *Converter) Convert(ctx context.Context, raw json.RawMessage, ictx model.ImportContext, importType model.ImportType, _ logger.Logger) (*importer.ConvertResult, error) {
	gpt := model.NewGPT(ictx.Game, ictx.Playtype)
	rules, ok := scoring.For(gpt)
	if !ok {
		return nil, failure.Internal(op, "import context has unsupported gpt %s", gpt)
	}

	var s Score
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return nil, failure.Invalid(op, "malformed score: %v", err)
	}
	if err := validate(s, rules); err != nil {
		return nil, err
	}

	q, ids, err := query(s, ictx)
	if err != nil {
		return nil, err
	}
	song, chart, err := c.resolve(ctx, q, s, ictx.Game, ids)
	if err != nil {
		return nil, err
	}
	if chart.GPT() != gpt {
		return nil, failure.Invalid(op, "chart %s is %s, not %s", chart.ChartID, chart.GPT(), gpt)
	}

	percent, grade, err := rules.Derive(*s.Score, chart)
	if err != nil {
		return nil, failure.WrapKind(op, failure.ErrInvalidScore, err)
	}
	sd := model.ScoreData{
		Score:      *s.Score,
		Percent:    percent,
		Grade:      grade,
		Lamp:       s.Lamp,
		Judgements: importer.Judgements(s.Judgements),
	}
	attachHitMeta(&sd, ictx.Game, s.HitMeta)

	return &importer.ConvertResult{
		Song:  song,
		Chart: chart,
		DryScore: model.DryScore{
			Game:         ictx.Game,
			ImportType:   importType,
			TimeAchieved: s.TimeAchieved,
			Service:      ictx.Service,
			Comment:      s.Comment,
			ScoreData:    sd,
		},
	}, nil
}

func validate(s Score, rules *scoring.Rules) error {
	if s.Score == nil {
		return failure.Invalid(op, "score is required")
	}
	if err := rules.CheckScore(*s.Score); err != nil {
		return failure.WrapKind(op, failure.ErrInvalidScore, err)
	}
	if rules.LampIndex(s.Lamp) < 0 {
		return failure.Invalid(op, "invalid lamp %q", s.Lamp)
	}
	for j := range s.Judgements {
		if !rules.HasJudgement(j) {
			return failure.Invalid(op, "invalid judgement %q", j)
		}
	}
	if s.Identifier == "" {
		return failure.Invalid(op, "identifier is required")
	}
	switch s.MatchType {
	case MatchSongTitle, MatchSongID, MatchInGameID:
		if !rules.HasDifficulty(s.Difficulty) {
			return failure.Invalid(op, "invalid difficulty %q", s.Difficulty)
		}
	case MatchSHA256, MatchMD5:
	default:
		return failure.Invalid(op, "invalid matchType %q", s.MatchType)
	}
	if s.TimeAchieved != nil && *s.TimeAchieved < 0 {
		return failure.Invalid(op, "timeAchieved is negative")
	}
	return nil
}

func query(s Score, ictx model.ImportContext) (importer.ChartQuery, map[string]string, error) {
	q := importer.ChartQuery{Game: ictx.Game, Playtype: ictx.Playtype, Difficulty: s.Difficulty, Version: ictx.Version}
	ids := map[string]string{"matchType": s.MatchType, "identifier": s.Identifier}
	if s.Difficulty != "" {
		ids["difficulty"] = s.Difficulty
	}
	switch s.MatchType {
	case MatchSongID, MatchInGameID:
		n, err := strconv.Atoi(s.Identifier)
		if err != nil {
			return q, nil, failure.Invalid(op, "identifier %q is not a number", s.Identifier)
		}
		if s.MatchType == MatchSongID {
			q.SongID = &n
		} else {
			q.InGameID = &n
		}
	case MatchSHA256:
		q.HashSHA256, q.Difficulty = s.Identifier, ""
	case MatchMD5:
		q.HashMD5, q.Difficulty = s.Identifier, ""
	}
	return q, ids, nil
}

func (c *Converter) resolve(ctx context.Context, q importer.ChartQuery, s Score, game model.Game, ids map[string]string) (model.Song, model.Chart, error) {
	if s.MatchType != MatchSongTitle {
		return importer.Resolve(ctx, c.catalog, op, q, ids)
	}
	song, err := c.catalog.FindSongByTitle(ctx, game, s.Identifier)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.Song{}, model.Chart{}, failure.NotFound(op, fmt.Sprintf("no song titled %q", s.Identifier), ids)
		}
		return model.Song{}, model.Chart{}, failure.WrapKind(op, failure.ErrInternal, err)
	}
	q.SongID = &song.ID
	return importer.Resolve(ctx, c.catalog, op, q, ids)
}

func attachHitMeta(sd *model.ScoreData, game model.Game, hm *HitMeta) {
	if hm == nil {
		return
	}
	switch game {
	case model.GameIIDX:
		sd.IIDX = &model.IIDXScoreData{BP: hm.BP, Gauge: hm.Gauge}
	case model.GameBMS:
		sd.BMS = &model.BMSScoreData{BP: hm.BP, Gauge: hm.Gauge, MaxCombo: hm.MaxCombo}
	case model.GameCHUNITHM:
		sd.CHUNITHM = &model.CHUNITHMScoreData{MaxCombo: hm.MaxCombo}
	}
}
