// Package arcadefeed imports CHUNITHM plays from an arcade network's
// server-streaming play feed. The stream is consumed through a
// stream.Bridge so a feed that stops talking fails the import instead of
// hanging it.
package arcadefeed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/okian/scoreingest/internal/domain/failure"
	"github.com/okian/scoreingest/internal/domain/importer"
	"github.com/okian/scoreingest/internal/domain/model"
	"github.com/okian/scoreingest/internal/domain/scoring"
	"github.com/okian/scoreingest/internal/domain/stream"
	"github.com/okian/scoreingest/pkg/logger"
	"github.com/okian/scoreingest/pkg/metrics"
)

const (
	op         = "arcadefeed"
	sourceName = "arcade feed"

	// StreamPlaysProcedure is the feed's server-streaming RPC.
	StreamPlaysProcedure = "/arcade.v1.PlayFeed/StreamPlays"

	// CredentialKey is the user credential holding the card access code.
	CredentialKey = "arcade"
)

type args struct {
	Since int64 `json:"since"`
}

// Parser opens one play stream per import.
type Parser struct {
	client     *connect.Client[structpb.Struct, structpb.Struct]
	bridgeOpts []stream.Option
}

// NewParser creates a parser for the feed at baseURL.
func NewParser(httpClient connect.HTTPClient, baseURL string, bridgeOpts ...stream.Option) *Parser {
	return &Parser{
		client:     connect.NewClient[structpb.Struct, structpb.Struct](httpClient, strings.TrimRight(baseURL, "/")+StreamPlaysProcedure),
		bridgeOpts: bridgeOpts,
	}
}

// Parse opens the stream and hands its plays to the engine as they arrive.
func (p *Parser) Parse(ctx context.Context, in importer.ParseInput, log logger.Logger) (*importer.ParseResult, error) {
	accessCode := in.User.Credentials[CredentialKey]
	if accessCode == "" {
		return nil, failure.Fatal(http.StatusUnauthorized, "no arcade access code is configured for this user")
	}
	var a args
	if err := importer.DecodeArgs(in.Args, &a); err != nil {
		return nil, failure.FatalWrap(http.StatusBadRequest, "invalid arcade feed arguments", err)
	}
	req, err := structpb.NewStruct(map[string]any{"accessCode": accessCode, "since": float64(a.Since)})
	if err != nil {
		return nil, failure.FatalWrap(http.StatusBadRequest, "invalid arcade feed request", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	plays, err := p.client.CallServerStream(streamCtx, connect.NewRequest(req))
	if err != nil {
		cancel()
		code := connect.CodeOf(err)
		metrics.RecordSourceRequest("arcadefeed", code.String(), 0)
		if rejected(code) {
			return nil, failure.Fatal(http.StatusUnauthorized, "the arcade feed rejected your access code")
		}
		return nil, failure.Unreachable(sourceName, err)
	}

	opts := make([]stream.Option, 0, len(p.bridgeOpts)+1)
	opts = append(opts, p.bridgeOpts...)
	bridge := stream.New[json.RawMessage](append(opts, stream.WithCancel(cancel))...)
	go pump(streamCtx, plays, bridge, cancel, log)

	return &importer.ParseResult{
		Records: bridge,
		Context: model.ImportContext{
			Service:  "Arcade Feed",
			Game:     model.GameCHUNITHM,
			Playtype: model.PlaytypeSingle,
		},
	}, nil
}

// pump feeds stream events into bridge until the stream ends, fails, or
// the consumer goes away.
func pump(ctx context.Context, plays *connect.ServerStreamForClient[structpb.Struct], bridge *stream.Bridge[json.RawMessage], cancel context.CancelFunc, log logger.Logger) {
	defer cancel()
	defer plays.Close()

	n := 0
	for plays.Receive() {
		raw, err := json.Marshal(plays.Msg().AsMap())
		if err != nil {
			bridge.Fail(failure.FatalWrap(http.StatusBadGateway, "the arcade feed sent an unreadable play", err))
			return
		}
		if err := bridge.Push(ctx, raw); err != nil {
			log.Debug(ctx, "arcade feed consumer stopped", logger.Int("plays", n), logger.Error(err))
			return
		}
		n++
	}

	err := plays.Err()
	if err == nil {
		metrics.RecordSourceRequest("arcadefeed", "ok", 0)
		bridge.End()
		return
	}
	code := connect.CodeOf(err)
	metrics.RecordSourceRequest("arcadefeed", code.String(), 0)
	switch {
	case rejected(code):
		bridge.Fail(failure.Fatal(http.StatusUnauthorized, "the arcade feed rejected your access code"))
	case errors.Is(err, context.Canceled):
		bridge.Fail(err)
	default:
		var ce *connect.Error
		if errors.As(err, &ce) {
			bridge.Status(int(code), ce.Message())
			return
		}
		bridge.Fail(failure.Unreachable(sourceName, err))
	}
}

func rejected(code connect.Code) bool {
	return code == connect.CodeUnauthenticated || code == connect.CodePermissionDenied
}

// Play is one arcade play as the feed reports it.
type Play struct {
	MusicID       int    `json:"musicId"`
	Level         int    `json:"level"`
	Score         int    `json:"score"`
	IsClear       bool   `json:"isClear"`
	IsFullCombo   bool   `json:"isFullCombo"`
	IsAllJustice  bool   `json:"isAllJustice"`
	JudgeCritical *int   `json:"judgeCritical"`
	JudgeJustice  *int   `json:"judgeJustice"`
	JudgeAttack   *int   `json:"judgeAttack"`
	JudgeGuilty   *int   `json:"judgeGuilty"`
	MaxCombo      *int   `json:"maxCombo"`
	UserPlayDate  *int64 `json:"userPlayDate"`
}

const worldsEndLevel = 5

// levels maps the feed's level codes.
var levels = map[int]string{
	0: "BASIC",
	1: "ADVANCED",
	2: "EXPERT",
	3: "MASTER",
	4: "ULTIMA",
}

// Converter resolves plays by in-game music id and level.
type Converter struct {
	catalog importer.Catalog
}

// NewConverter creates a converter.
func NewConverter(catalog importer.Catalog) *Converter {
	return &Converter{catalog: catalog}
}

// Convert maps one play.
func (c *Converter) Convert(ctx context.Context, raw json.RawMessage, ictx model.ImportContext, importType model.ImportType, _ logger.Logger) (*importer.ConvertResult, error) {
	var p Play
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, failure.Invalid(op, "malformed play: %v", err)
	}
	if p.Level == worldsEndLevel {
		return nil, failure.Skip(op, "WORLD'S END charts are not supported")
	}
	difficulty, ok := levels[p.Level]
	if !ok {
		return nil, failure.Invalid(op, "unknown level code %d", p.Level)
	}
	lamp := lampOf(p)

	gpt := model.NewGPT(model.GameCHUNITHM, model.PlaytypeSingle)
	rules := scoring.MustFor(gpt)
	if err := rules.CheckScore(p.Score); err != nil {
		return nil, failure.WrapKind(op, failure.ErrInvalidScore, err)
	}
	id := p.MusicID
	song, chart, err := importer.Resolve(ctx, c.catalog, op, importer.ChartQuery{
		Game:       model.GameCHUNITHM,
		Playtype:   model.PlaytypeSingle,
		Difficulty: difficulty,
		InGameID:   &id,
	}, map[string]string{
		"musicId": strconv.Itoa(p.MusicID),
		"level":   strconv.Itoa(p.Level),
	})
	if err != nil {
		return nil, err
	}

	percent, grade, err := rules.Derive(p.Score, chart)
	if err != nil {
		return nil, failure.WrapKind(op, failure.ErrInvalidScore, err)
	}
	return &importer.ConvertResult{
		Song:  song,
		Chart: chart,
		DryScore: model.DryScore{
			Game:         model.GameCHUNITHM,
			ImportType:   importType,
			TimeAchieved: p.UserPlayDate,
			Service:      ictx.Service,
			ScoreData: model.ScoreData{
				Score:   p.Score,
				Percent: percent,
				Grade:   grade,
				Lamp:    lamp,
				Judgements: importer.Judgements(map[string]*int{
					"jcrit": p.JudgeCritical, "justice": p.JudgeJustice, "attack": p.JudgeAttack, "miss": p.JudgeGuilty,
				}),
				CHUNITHM: &model.CHUNITHMScoreData{MaxCombo: p.MaxCombo},
			},
		},
	}, nil
}

const maxScore = 1010000

func lampOf(p Play) string {
	switch {
	case p.IsAllJustice && p.Score == maxScore:
		return "ALL JUSTICE CRITICAL"
	case p.IsAllJustice:
		return "ALL JUSTICE"
	case p.IsFullCombo:
		return "FULL COMBO"
	case p.IsClear:
		return "CLEAR"
	default:
		return "FAILED"
	}
}
