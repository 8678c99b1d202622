// Package repository holds the document store behind the import pipeline:
// catalog, scores, orphans, imports, PBs, game stats and users.
package repository

import (
	"context"

	"github.com/okian/scoreingest/internal/domain/importer"
	"github.com/okian/scoreingest/internal/domain/model"
)

// Catalog stores songs and charts.
type Catalog interface {
	importer.Catalog
	GetChart(ctx context.Context, chartID string) (model.Chart, error)
	PutSongs(ctx context.Context, songs []model.Song) error
	PutCharts(ctx context.Context, charts []model.Chart) error
}

// Scores stores ScoreDocuments keyed by ScoreID.
type Scores interface {
	// InsertScore writes doc unless a score with its ScoreID exists.
	InsertScore(ctx context.Context, doc model.ScoreDocument) (bool, error)
	GetScore(ctx context.Context, scoreID string) (model.ScoreDocument, error)
	ScoresFor(ctx context.Context, userID int, chartID string) ([]model.ScoreDocument, error)
}

// Orphans stores orphaned records and the blacklist.
type Orphans interface {
	PutOrphan(ctx context.Context, doc model.OrphanScoreDocument) error
	ListOrphans(ctx context.Context, game model.Game) ([]model.OrphanScoreDocument, error)
	DeleteOrphan(ctx context.Context, orphanID string) error
	PutBlacklist(ctx context.Context, entry model.BlacklistEntry) error
	Blacklisted(ctx context.Context, values []string) (bool, error)
}

// Imports stores finished ImportDocuments. A stored document is never
// replaced.
type Imports interface {
	// PutImport inserts doc if its ImportID is new and returns the stored
	// document either way.
	PutImport(ctx context.Context, doc model.ImportDocument) (stored model.ImportDocument, inserted bool, err error)
	GetImport(ctx context.Context, importID string) (model.ImportDocument, error)
}

// PBs stores personal bests and ranks them per chart and algorithm.
type PBs interface {
	PutPB(ctx context.Context, doc model.PBScoreDocument) error
	GetPB(ctx context.Context, userID int, chartID, algorithm string) (model.PBScoreDocument, error)
	// RankPB ranks the user's PB against all PBs on the chart. Equal values
	// share a rank.
	RankPB(ctx context.Context, chartID, algorithm string, userID int) (model.RankingData, error)
	PBsForUser(ctx context.Context, userID int, gpt model.GPT, algorithm string) ([]model.PBScoreDocument, error)
	// RefreshRanks rewrites RankingData on every PB of the chart under
	// algorithm so stored ranks match the current population.
	RefreshRanks(ctx context.Context, chartID, algorithm string) error
	// TopPBs returns the best n PBs on a chart, best first.
	TopPBs(ctx context.Context, chartID, algorithm string, n int) ([]model.PBScoreDocument, error)
}

// GameStats stores per-user ratings and classes.
type GameStats interface {
	GetGameStats(ctx context.Context, userID int, gpt model.GPT) (model.GameStats, error)
	PutGameStats(ctx context.Context, stats model.GameStats) error
}

// Users stores accounts.
type Users interface {
	GetUser(ctx context.Context, id int) (model.User, error)
	FindUserByToken(ctx context.Context, token string) (model.User, error)
	PutUser(ctx context.Context, user model.User) error
}

// Counts is a document count per collection.
type Counts struct {
	Songs     int `json:"songs"`
	Charts    int `json:"charts"`
	Scores    int `json:"scores"`
	Orphans   int `json:"orphans"`
	Blacklist int `json:"blacklist"`
	Imports   int `json:"imports"`
	PBs       int `json:"pbs"`
	Users     int `json:"users"`
}

// Store is the full document store. Lookups that match nothing return
// ErrNotFound.
type Store interface {
	Catalog
	Scores
	Orphans
	Imports
	PBs
	GameStats
	Users
	Counts(ctx context.Context) (Counts, error)
	Close() error
}
