// Package pb computes personal bests and the profile stats derived from them.
package pb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/scoreingest/internal/domain/model"
	"github.com/okian/scoreingest/internal/domain/scoring"
	"github.com/okian/scoreingest/pkg/logger"
	"github.com/okian/scoreingest/pkg/metrics"
)

// Default aggregator configuration constants.
const (
	defaultConcurrency = 4
	defaultTopN        = 20
)

// Composition names used in PBScoreDocument.ComposedFrom.
const (
	BestScore = "Best Score"
	BestLamp  = "Best Lamp"
)

// Store is what the aggregator reads and writes.
type Store interface {
	GetChart(ctx context.Context, chartID string) (model.Chart, error)
	ScoresFor(ctx context.Context, userID int, chartID string) ([]model.ScoreDocument, error)
	PutPB(ctx context.Context, doc model.PBScoreDocument) error
	// RefreshRanks rewrites the RankingData of every PB on the chart under
	// algorithm, leaving the rest of each document untouched.
	RefreshRanks(ctx context.Context, chartID, algorithm string) error
	PBsForUser(ctx context.Context, userID int, gpt model.GPT, algorithm string) ([]model.PBScoreDocument, error)
	GetGameStats(ctx context.Context, userID int, gpt model.GPT) (model.GameStats, error)
	PutGameStats(ctx context.Context, stats model.GameStats) error
}

// Aggregator owns every PBScoreDocument and GameStats write.
type Aggregator struct {
	store       Store
	concurrency int
	topN        int
}

// New creates an aggregator.
func New(store Store, opts ...Option) *Aggregator {
	a := &Aggregator{store: store, concurrency: defaultConcurrency, topN: defaultTopN}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ProcessPBs recomputes the user's PBs on chartIDs under every algorithm of
// game+playtype. Charts are processed concurrently; callers must not run
// two calls for the same user and chart at once.
func (a *Aggregator) ProcessPBs(ctx context.Context, game model.Game, playtype model.Playtype, userID int, chartIDs []string, log logger.Logger) error {
	start := time.Now()
	defer func() { metrics.RecordPBLatency(float64(time.Since(start).Milliseconds())) }()

	gpt := model.NewGPT(game, playtype)
	rules, ok := scoring.For(gpt)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedGPT, gpt)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for _, chartID := range chartIDs {
		g.Go(func() error {
			if err := a.processChart(gctx, rules, userID, chartID); err != nil {
				return fmt.Errorf("chart %s: %w", chartID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	log.Debug(ctx, "PBs processed", logger.String("gpt", string(gpt)), logger.Int("charts", len(chartIDs)))
	return nil
}

func (a *Aggregator) processChart(ctx context.Context, rules *scoring.Rules, userID int, chartID string) error {
	chart, err := a.store.GetChart(ctx, chartID)
	if err != nil {
		return err
	}
	scores, err := a.store.ScoresFor(ctx, userID, chartID)
	if err != nil {
		return err
	}
	if len(scores) == 0 {
		return nil
	}

	for _, alg := range rules.Algorithms {
		doc, ok := Compose(rules, alg, chart, scores)
		if !ok {
			continue
		}
		if err := a.store.PutPB(ctx, doc); err != nil {
			return err
		}
		// a new value can move every other PB on the chart
		if err := a.store.RefreshRanks(ctx, chartID, alg.Name); err != nil {
			return err
		}
		metrics.RecordPBWrite()
	}
	return nil
}

// Compose builds the PB of scores under alg: the best score by value
// (earlier achievement, then lower ScoreID, breaks ties), with the lamp
// raised to the best lamp among all scores.
func Compose(rules *scoring.Rules, alg scoring.Algorithm, chart model.Chart, scores []model.ScoreDocument) (model.PBScoreDocument, bool) {
	type candidate struct {
		score model.ScoreDocument
		value float64
	}
	cands := make([]candidate, 0, len(scores))
	for _, s := range scores {
		if v, ok := alg.Value(chart, s.ScoreData); ok {
			cands = append(cands, candidate{score: s, value: v})
		}
	}
	if len(cands) == 0 {
		return model.PBScoreDocument{}, false
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].value != cands[j].value {
			return cands[i].value > cands[j].value
		}
		ti, tj := cands[i].score.TimeAchieved, cands[j].score.TimeAchieved
		switch {
		case ti != nil && tj != nil && *ti != *tj:
			return *ti < *tj
		case ti != nil && tj == nil:
			return true
		case ti == nil && tj != nil:
			return false
		}
		return cands[i].score.ScoreID < cands[j].score.ScoreID
	})
	best := cands[0]

	doc := model.PBScoreDocument{
		UserID:       best.score.UserID,
		ChartID:      chart.ChartID,
		SongID:       chart.SongID,
		Game:         chart.Game,
		Playtype:     chart.Playtype,
		Algorithm:    alg.Name,
		Value:        best.value,
		ScoreData:    best.score.ScoreData,
		ComposedFrom: []model.PBReference{{Name: BestScore, ScoreID: best.score.ScoreID}},
		TimeAchieved: best.score.TimeAchieved,
	}

	lampScore := best.score
	for _, s := range scores {
		if rules.BetterLamp(s.ScoreData.Lamp, lampScore.ScoreData.Lamp) {
			lampScore = s
		}
	}
	if lampScore.ScoreID != best.score.ScoreID {
		doc.ScoreData.Lamp = lampScore.ScoreData.Lamp
		doc.ComposedFrom = append(doc.ComposedFrom, model.PBReference{Name: BestLamp, ScoreID: lampScore.ScoreID})
	}
	return doc, true
}

// ProfileRatings returns, per algorithm, the mean of the user's best topN
// PB values on gpt.
func (a *Aggregator) ProfileRatings(ctx context.Context, gpt model.GPT, userID int) (map[string]float64, error) {
	rules, ok := scoring.For(gpt)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedGPT, gpt)
	}
	out := make(map[string]float64, len(rules.Algorithms))
	for _, alg := range rules.Algorithms {
		pbs, err := a.store.PBsForUser(ctx, userID, gpt, alg.Name)
		if err != nil {
			return nil, err
		}
		values := make([]float64, 0, len(pbs))
		for _, p := range pbs {
			values = append(values, p.Value)
		}
		sort.Sort(sort.Reverse(sort.Float64Slice(values)))
		if len(values) > a.topN {
			values = values[:a.topN]
		}
		var sum float64
		for _, v := range values {
			sum += v
		}
		if len(values) > 0 {
			out[alg.Name] = sum / float64(len(values))
		} else {
			out[alg.Name] = 0
		}
	}
	return out, nil
}

// UpdateGameStats stores ratings and merges classes into the user's stats.
// A class only changes when the new value ranks above the old one; each
// change is returned as a delta.
func (a *Aggregator) UpdateGameStats(ctx context.Context, gpt model.GPT, userID int, ratings map[string]float64, classes map[string]string) ([]model.ClassDelta, error) {
	rules, ok := scoring.For(gpt)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedGPT, gpt)
	}
	game, playtype := gpt.Split()
	stats, err := a.store.GetGameStats(ctx, userID, gpt)
	if errors.Is(err, model.ErrNotFound) {
		stats = model.GameStats{UserID: userID, Game: game, Playtype: playtype}
	} else if err != nil {
		return nil, err
	}
	if stats.Classes == nil {
		stats.Classes = map[string]string{}
	}
	stats.Ratings = ratings

	sets := make([]string, 0, len(classes))
	for set := range classes {
		sets = append(sets, set)
	}
	sort.Strings(sets)

	var deltas []model.ClassDelta
	for _, set := range sets {
		next := classes[set]
		ni := rules.ClassIndex(set, next)
		if ni < 0 {
			continue
		}
		prev, had := stats.Classes[set]
		if had && rules.ClassIndex(set, prev) >= ni {
			continue
		}
		stats.Classes[set] = next
		deltas = append(deltas, model.ClassDelta{GPT: gpt, Set: set, Old: prev, New: next})
	}
	if err := a.store.PutGameStats(ctx, stats); err != nil {
		return nil, err
	}
	return deltas, nil
}
