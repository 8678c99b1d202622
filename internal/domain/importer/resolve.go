package importer

import (
	"context"
	"errors"

	"github.com/okian/scoreingest/internal/domain/failure"
	"github.com/okian/scoreingest/internal/domain/model"
)

// Resolve finds the chart matching q and its song. A missing chart is a
// SongOrChartNotFound failure carrying identifiers; a chart whose song is
// missing is a catalog desync and fails as Internal.
func Resolve(ctx context.Context, cat Catalog, op string, q ChartQuery, identifiers map[string]string) (model.Song, model.Chart, error) {
	chart, err := cat.FindChart(ctx, q)
	if errors.Is(err, model.ErrNotFound) {
		return model.Song{}, model.Chart{}, failure.NotFound(op, "no chart matches the record", identifiers)
	}
	if err != nil {
		return model.Song{}, model.Chart{}, failure.WrapKind(op, failure.ErrInternal, err)
	}
	song, err := cat.GetSong(ctx, chart.Game, chart.SongID)
	if errors.Is(err, model.ErrNotFound) {
		return model.Song{}, model.Chart{}, failure.Internal(op, "chart %s references song %d which does not exist", chart.ChartID, chart.SongID)
	}
	if err != nil {
		return model.Song{}, model.Chart{}, failure.WrapKind(op, failure.ErrInternal, err)
	}
	return song, chart, nil
}

// Judgements builds a judgement map, leaving out keys whose count is unknown.
func Judgements(counts map[string]*int) map[string]*int {
	out := make(map[string]*int, len(counts))
	for k, v := range counts {
		if v != nil {
			n := *v
			out[k] = &n
		}
	}
	return out
}
