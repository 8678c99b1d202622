// Package importer drives one score import: a Parser yields raw records, a
// Converter turns each into a canonical score, and the engine deduplicates,
// persists, orphans and finally recomputes personal bests.
package importer

import (
	"context"
	"encoding/json"

	"github.com/okian/scoreingest/internal/domain/model"
	"github.com/okian/scoreingest/pkg/logger"
)

// RecordIterator yields raw records in source order. Next returns io.EOF
// once the source is exhausted. Lazily paged and streamed sources implement
// it the same way as in-memory lists.
type RecordIterator interface {
	Next(ctx context.Context) (json.RawMessage, error)
}

// ClassProvider returns the classes (e.g. dans) a source says the user holds.
// ratings are the user's current profile ratings for gpt.
type ClassProvider func(ctx context.Context, gpt model.GPT, userID int, ratings map[string]float64, log logger.Logger) (map[string]string, error)

// ParseInput is what a Parser receives.
type ParseInput struct {
	User model.User
	Args map[string]any
}

// ParseResult is what a Parser returns.
type ParseResult struct {
	Records       RecordIterator
	Context       model.ImportContext
	ClassProvider ClassProvider
}

// Parser reads a source. It fails with a *failure.FatalError when the
// source is unreachable, credentials are missing, or the top-level payload
// is malformed; it never recovers individual records.
type Parser interface {
	Parse(ctx context.Context, in ParseInput, log logger.Logger) (*ParseResult, error)
}

// ConvertResult is the resolved song, chart and canonical score of a record.
type ConvertResult struct {
	Song     model.Song
	Chart    model.Chart
	DryScore model.DryScore
}

// Converter turns one raw record into a ConvertResult or a per-record
// failure from package failure. Converters only read the catalog.
type Converter interface {
	Convert(ctx context.Context, raw json.RawMessage, ictx model.ImportContext, importType model.ImportType, log logger.Logger) (*ConvertResult, error)
}

// ConverterFunc adapts a function to Converter.
type ConverterFunc func(ctx context.Context, raw json.RawMessage, ictx model.ImportContext, importType model.ImportType, log logger.Logger) (*ConvertResult, error)

// Convert calls f.
func (f ConverterFunc) Convert(ctx context.Context, raw json.RawMessage, ictx model.ImportContext, importType model.ImportType, log logger.Logger) (*ConvertResult, error) {
	return f(ctx, raw, ictx, importType, log)
}

// ChartQuery selects a chart by whichever keys a source provides. Empty
// fields are ignored.
type ChartQuery struct {
	Game       model.Game
	Playtype   model.Playtype
	ChartID    string
	SongID     *int
	Difficulty string
	Version    string
	InGameID   *int
	HashSHA256 string
	HashMD5    string
}

// Catalog is the read-only song/chart catalog converters resolve against.
// Lookups that match nothing return model.ErrNotFound.
type Catalog interface {
	GetSong(ctx context.Context, game model.Game, songID int) (model.Song, error)
	FindSongByTitle(ctx context.Context, game model.Game, title string) (model.Song, error)
	FindChart(ctx context.Context, q ChartQuery) (model.Chart, error)
}

// Store is the write side the engine needs.
type Store interface {
	// InsertScore writes doc keyed by its ScoreID. inserted is false when a
	// score with that id already exists; the existing row is kept.
	InsertScore(ctx context.Context, doc model.ScoreDocument) (inserted bool, err error)
	PutOrphan(ctx context.Context, doc model.OrphanScoreDocument) error
	// PutImport stores doc unless a document with its ImportID exists, and
	// returns whichever document is stored. inserted is false when doc lost.
	PutImport(ctx context.Context, doc model.ImportDocument) (stored model.ImportDocument, inserted bool, err error)
}

// PBProcessor recomputes derived per-user state after scores change.
type PBProcessor interface {
	ProcessPBs(ctx context.Context, game model.Game, playtype model.Playtype, userID int, chartIDs []string, log logger.Logger) error
	ProfileRatings(ctx context.Context, gpt model.GPT, userID int) (map[string]float64, error)
	UpdateGameStats(ctx context.Context, gpt model.GPT, userID int, ratings map[string]float64, classes map[string]string) ([]model.ClassDelta, error)
}
