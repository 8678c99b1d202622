package importer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/okian/scoreingest/internal/domain/dedupe"
	"github.com/okian/scoreingest/internal/domain/failure"
	"github.com/okian/scoreingest/internal/domain/model"
	"github.com/okian/scoreingest/internal/domain/scoreid"
	"github.com/okian/scoreingest/internal/domain/scoring"
	"github.com/okian/scoreingest/pkg/metrics"
)

// Persister is the single write path for converted scores and orphans.
// The import engine and the orphan reprocessor both go through it.
type Persister struct {
	store Store
	cache dedupe.Deduper
	now   func() time.Time
}

// NewPersister creates a persister. cache may be nil.
func NewPersister(store Store, cache dedupe.Deduper, now func() time.Time) *Persister {
	if now == nil {
		now = time.Now
	}
	return &Persister{store: store, cache: cache, now: now}
}

// Persisted is the outcome of writing one converted score.
type Persisted struct {
	ScoreID  string
	Inserted bool
	Chart    model.Chart
}

// Persist derives the ScoreID of res and writes it unless a score with that
// id already exists. Errors are per-record failures.
func (p *Persister) Persist(ctx context.Context, res *ConvertResult, userID int, importID string) (Persisted, error) {
	const op = "importer.persist"
	chart := res.Chart
	ds := res.DryScore

	rules, ok := scoring.For(chart.GPT())
	if !ok {
		return Persisted{}, failure.Internal(op, "chart %s has unsupported gpt %s", chart.ChartID, chart.GPT())
	}
	if ds.Game != chart.Game {
		return Persisted{}, failure.Internal(op, "score for %s resolved to %s chart %s", ds.Game, chart.Game, chart.ChartID)
	}
	if res.Song.ID != chart.SongID {
		return Persisted{}, failure.Internal(op, "chart %s belongs to song %d, not %d", chart.ChartID, chart.SongID, res.Song.ID)
	}
	if err := ds.ScoreData.Validate(ds.Game); err != nil {
		return Persisted{}, failure.WrapKind(op, failure.ErrInvalidScore, err)
	}
	if err := ds.ScoreMeta.Validate(ds.Game); err != nil {
		return Persisted{}, failure.WrapKind(op, failure.ErrInvalidScore, err)
	}

	id, err := scoreid.Score(chart.GPT(), userID, chart.ChartID, ds.ScoreData, ds.TimeAchieved, rules.DistinctReplays)
	if err != nil {
		return Persisted{}, failure.WrapKind(op, failure.ErrInternal, err)
	}
	out := Persisted{ScoreID: id, Chart: chart}

	if p.cache != nil && p.cache.Contains(ctx, id) {
		metrics.RecordScoreDuplicate()
		return out, nil
	}

	doc := model.ScoreDocument{
		DryScore:  ds,
		ScoreID:   id,
		ChartID:   chart.ChartID,
		SongID:    chart.SongID,
		UserID:    userID,
		Playtype:  chart.Playtype,
		ImportID:  importID,
		TimeAdded: p.now().UnixMilli(),
	}
	inserted, err := p.store.InsertScore(ctx, doc)
	if err != nil {
		return Persisted{}, failure.WrapKind(op, failure.ErrInternal, err)
	}
	if p.cache != nil {
		p.cache.SeenAndRecord(ctx, id)
	}
	if !inserted {
		metrics.RecordScoreDuplicate()
		return out, nil
	}
	metrics.RecordScorePersisted()
	out.Inserted = true
	return out, nil
}

// Orphan stores raw as an orphan of importType for later retry.
func (p *Persister) Orphan(ctx context.Context, importType model.ImportType, ictx model.ImportContext, raw json.RawMessage, cause error) (string, error) {
	id, err := scoreid.Orphan(importType, ictx.UserID, raw)
	if err != nil {
		return "", err
	}
	doc := model.OrphanScoreDocument{
		OrphanID:     id,
		ImportType:   importType,
		UserID:       ictx.UserID,
		Game:         ictx.Game,
		Data:         raw,
		Context:      ictx,
		Identifiers:  failure.IdentifiersOf(cause),
		Reason:       failure.Message(cause),
		TimeInserted: p.now().UnixMilli(),
	}
	if err := p.store.PutOrphan(ctx, doc); err != nil {
		return "", err
	}
	metrics.RecordOrphanCreated()
	return id, nil
}
