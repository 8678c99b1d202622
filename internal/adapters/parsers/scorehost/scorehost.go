package scorehost

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/okian/scoreingest/internal/domain/failure"
	"github.com/okian/scoreingest/internal/domain/importer"
	"github.com/okian/scoreingest/internal/domain/model"
	"github.com/okian/scoreingest/internal/domain/scoring"
	"github.com/okian/scoreingest/pkg/logger"
)

const (
	op = "scorehost"

	// CredentialKey is the user credential holding the score host API key.
	CredentialKey = "scorehost"
)

// Record is one score as the score host reports it.
type Record struct {
	MusicID    int    `json:"musicID"`
	Difficulty string `json:"difficulty"`
	Version    string `json:"version"`
	ExScore    int    `json:"exScore"`
	ClearType  int    `json:"clearType"`
	BP         *int   `json:"bp"`
	PGreat     *int   `json:"pgreat"`
	Great      *int   `json:"great"`
	Good       *int   `json:"good"`
	Bad        *int   `json:"bad"`
	Poor       *int   `json:"poor"`
	Timestamp  *int64 `json:"timestamp"`
}

type args struct {
	Playtype model.Playtype `json:"playtype"`
}

// Parser pulls the user's scores page by page.
type Parser struct {
	client *Client
}

// NewParser creates a parser over client.
func NewParser(client *Client) *Parser {
	return &Parser{client: client}
}

// Parse fetches the first page eagerly so a bad key or an unreachable host
// fails the import before any record is converted.
func (p *Parser) Parse(ctx context.Context, in importer.ParseInput, log logger.Logger) (*importer.ParseResult, error) {
	apiKey := in.User.Credentials[CredentialKey]
	if apiKey == "" {
		return nil, failure.Fatal(http.StatusUnauthorized, "no score host API key is configured for this user")
	}
	a := args{Playtype: model.PlaytypeSP}
	if err := importer.DecodeArgs(in.Args, &a); err != nil {
		return nil, failure.FatalWrap(http.StatusBadRequest, "invalid score host arguments", err)
	}
	if a.Playtype != model.PlaytypeSP && a.Playtype != model.PlaytypeDP {
		return nil, failure.Fatal(http.StatusBadRequest, "unsupported playtype %q", a.Playtype)
	}

	first, err := p.client.Scores(ctx, apiKey, string(a.Playtype), 0)
	if err != nil {
		return nil, err
	}
	log.Debug(ctx, "first score host page fetched", logger.Int("scores", len(first)))

	records := importer.PagedIterator(func(ctx context.Context, page int) ([]json.RawMessage, error) {
		if page == 0 {
			return first, nil
		}
		return p.client.Scores(ctx, apiKey, string(a.Playtype), page)
	})
	return &importer.ParseResult{
		Records: records,
		Context: model.ImportContext{
			Service:  "Score Host",
			Game:     model.GameIIDX,
			Playtype: a.Playtype,
		},
		ClassProvider: p.classProvider(apiKey),
	}, nil
}

// classProvider reports the dan the score host holds for the playtype.
func (p *Parser) classProvider(apiKey string) importer.ClassProvider {
	return func(ctx context.Context, gpt model.GPT, _ int, _ map[string]float64, log logger.Logger) (map[string]string, error) {
		profile, err := p.client.Profile(ctx, apiKey)
		if err != nil {
			return nil, err
		}
		dan := profile.SPDan
		if _, pt := gpt.Split(); pt == model.PlaytypeDP {
			dan = profile.DPDan
		}
		if dan == "" {
			return nil, nil
		}
		if scoring.MustFor(gpt).ClassIndex(scoring.ClassSetDan, dan) < 0 {
			log.Warn(ctx, "score host reported an unknown dan", logger.String("dan", dan))
			return nil, nil
		}
		return map[string]string{scoring.ClassSetDan: dan}, nil
	}
}

// difficulties maps the score host's difficulty codes.
var difficulties = map[string]struct {
	playtype   model.Playtype
	difficulty string
}{
	"SPB": {model.PlaytypeSP, "BEGINNER"},
	"SPN": {model.PlaytypeSP, "NORMAL"},
	"SPH": {model.PlaytypeSP, "HYPER"},
	"SPA": {model.PlaytypeSP, "ANOTHER"},
	"SPL": {model.PlaytypeSP, "LEGGENDARIA"},
	"DPN": {model.PlaytypeDP, "NORMAL"},
	"DPH": {model.PlaytypeDP, "HYPER"},
	"DPA": {model.PlaytypeDP, "ANOTHER"},
	"DPL": {model.PlaytypeDP, "LEGGENDARIA"},
}

// lamps maps the score host's clear types, worst first.
var lamps = map[int]string{
	0: "NO PLAY",
	1: "FAILED",
	2: "ASSIST CLEAR",
	3: "EASY CLEAR",
	4: "CLEAR",
	5: "HARD CLEAR",
	6: "EX HARD CLEAR",
	7: "FULL COMBO",
}

// Converter resolves score host records by in-game id and version.
type Converter struct {
	catalog importer.Catalog
}

// NewConverter creates a converter.
func NewConverter(catalog importer.Catalog) *Converter {
	return &Converter{catalog: catalog}
}

// Convert maps a score host record. Unknown codes are invalid, never
// defaulted.
func (c *Converter) Convert(ctx context.Context, raw json.RawMessage, ictx model.ImportContext, importType model.ImportType, _ logger.Logger) (*importer.ConvertResult, error) {
	var r Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, failure.Invalid(op, "malformed record: %v", err)
	}
	diff, ok := difficulties[r.Difficulty]
	if !ok {
		return nil, failure.Invalid(op, "unknown difficulty code %q", r.Difficulty)
	}
	if ictx.Playtype != "" && diff.playtype != ictx.Playtype {
		return nil, failure.Skip(op, "%s score in a %s import", diff.playtype, ictx.Playtype)
	}
	lamp, ok := lamps[r.ClearType]
	if !ok {
		return nil, failure.Invalid(op, "unknown clear type %d", r.ClearType)
	}
	if r.Version == "" {
		return nil, failure.Invalid(op, "record has no version")
	}

	gpt := model.NewGPT(model.GameIIDX, diff.playtype)
	rules := scoring.MustFor(gpt)
	if err := rules.CheckScore(r.ExScore); err != nil {
		return nil, failure.WrapKind(op, failure.ErrInvalidScore, err)
	}
	id := r.MusicID
	song, chart, err := importer.Resolve(ctx, c.catalog, op, importer.ChartQuery{
		Game:       model.GameIIDX,
		Playtype:   diff.playtype,
		Difficulty: diff.difficulty,
		InGameID:   &id,
		Version:    r.Version,
	}, map[string]string{
		"musicID":    strconv.Itoa(r.MusicID),
		"difficulty": r.Difficulty,
		"version":    r.Version,
	})
	if err != nil {
		return nil, err
	}

	percent, grade, err := rules.Derive(r.ExScore, chart)
	if err != nil {
		return nil, failure.WrapKind(op, failure.ErrInvalidScore, err)
	}
	return &importer.ConvertResult{
		Song:  song,
		Chart: chart,
		DryScore: model.DryScore{
			Game:         model.GameIIDX,
			ImportType:   importType,
			TimeAchieved: r.Timestamp,
			Service:      ictx.Service,
			ScoreData: model.ScoreData{
				Score:   r.ExScore,
				Percent: percent,
				Grade:   grade,
				Lamp:    lamp,
				Judgements: importer.Judgements(map[string]*int{
					"pgreat": r.PGreat, "great": r.Great, "good": r.Good, "bad": r.Bad, "poor": r.Poor,
				}),
				IIDX: &model.IIDXScoreData{BP: r.BP},
			},
		},
	}, nil
}
