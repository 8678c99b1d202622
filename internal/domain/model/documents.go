package model

import "encoding/json"

// Song is a catalog song.
type Song struct {
	ID        int      `json:"id" yaml:"id"`
	Game      Game     `json:"game" yaml:"game"`
	Title     string   `json:"title" yaml:"title"`
	Artist    string   `json:"artist" yaml:"artist"`
	AltTitles []string `json:"altTitles,omitempty" yaml:"altTitles"`
}

// ChartData holds the identifying keys sources use to reference a chart.
type ChartData struct {
	Notecount  int    `json:"notecount" yaml:"notecount"`
	InGameID   *int   `json:"inGameID,omitempty" yaml:"inGameID"`
	HashSHA256 string `json:"hashSHA256,omitempty" yaml:"hashSHA256"`
	HashMD5    string `json:"hashMD5,omitempty" yaml:"hashMD5"`
}

// Chart is one playable difficulty of a song.
type Chart struct {
	ChartID    string    `json:"chartID" yaml:"chartID"`
	SongID     int       `json:"songID" yaml:"songID"`
	Game       Game      `json:"game" yaml:"game"`
	Playtype   Playtype  `json:"playtype" yaml:"playtype"`
	Difficulty string    `json:"difficulty" yaml:"difficulty"`
	Level      string    `json:"level" yaml:"level"`
	LevelNum   float64   `json:"levelNum" yaml:"levelNum"`
	IsPrimary  bool      `json:"isPrimary" yaml:"isPrimary"`
	Versions   []string  `json:"versions,omitempty" yaml:"versions"`
	Data       ChartData `json:"data" yaml:"data"`
}

// GPT returns the chart's game+playtype.
func (c Chart) GPT() GPT { return NewGPT(c.Game, c.Playtype) }

// HasVersion reports whether the chart appears in version v.
func (c Chart) HasVersion(v string) bool {
	for _, have := range c.Versions {
		if have == v {
			return true
		}
	}
	return false
}

// ImportContext is the read-only state shared by every record of one import.
type ImportContext struct {
	Service  string            `json:"service"`
	UserID   int               `json:"userID"`
	Game     Game              `json:"game"`
	Playtype Playtype          `json:"playtype,omitempty"`
	Version  string            `json:"version,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// OrphanScoreDocument is a record whose song or chart was not found.
// It keeps the raw record so the converter can be rerun later.
type OrphanScoreDocument struct {
	OrphanID     string            `json:"orphanID"`
	ImportType   ImportType        `json:"importType"`
	UserID       int               `json:"userID"`
	Game         Game              `json:"game"`
	Data         json.RawMessage   `json:"data"`
	Context      ImportContext     `json:"context"`
	Identifiers  map[string]string `json:"identifiers"`
	Reason       string            `json:"reason"`
	TimeInserted int64             `json:"timeInserted"`
}

// BlacklistEntry marks an orphan id, or an identifier keyed by
// IdentifierKey, that must never be retried.
type BlacklistEntry struct {
	Value     string `json:"value"`
	Reason    string `json:"reason"`
	TimeAdded int64  `json:"timeAdded"`
}

// IdentifierKey is the blacklist value of one orphan identifier. Keying by
// name keeps a value like "ANOTHER" from matching every orphan that has it.
func IdentifierKey(name, value string) string {
	return name + "=" + value
}

// ImportError is one per-record failure in an import.
type ImportError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ClassDelta records a class change caused by an import.
type ClassDelta struct {
	GPT GPT    `json:"gpt"`
	Set string `json:"set"`
	Old string `json:"old,omitempty"`
	New string `json:"new"`
}

// ImportDocument summarises one import run. Immutable once returned.
type ImportDocument struct {
	ImportID     string        `json:"importID"`
	ImportType   ImportType    `json:"importType"`
	UserID       int           `json:"userID"`
	UserIntent   bool          `json:"userIntent"`
	Service      string        `json:"service"`
	GPTs         []GPT         `json:"gpts"`
	ScoreIDs     []string      `json:"scoreIDs"`
	Errors       []ImportError `json:"errors"`
	Skipped      int           `json:"skipped"`
	ClassDeltas  []ClassDelta  `json:"classDeltas"`
	TimeStarted  int64         `json:"timeStarted"`
	TimeFinished int64         `json:"timeFinished"`
}

// PBReference names a score a PB was composed from.
type PBReference struct {
	Name    string `json:"name"`
	ScoreID string `json:"scoreID"`
}

// RankingData is a rank snapshot against a chart's PB population.
type RankingData struct {
	Rank  int `json:"rank"`
	OutOf int `json:"outOf"`
}

// PBScoreDocument is a user's best score on a chart under one algorithm.
type PBScoreDocument struct {
	UserID       int           `json:"userID"`
	ChartID      string        `json:"chartID"`
	SongID       int           `json:"songID"`
	Game         Game          `json:"game"`
	Playtype     Playtype      `json:"playtype"`
	Algorithm    string        `json:"algorithm"`
	Value        float64       `json:"value"`
	ScoreData    ScoreData     `json:"scoreData"`
	ComposedFrom []PBReference `json:"composedFrom"`
	RankingData  RankingData   `json:"rankingData"`
	TimeAchieved *int64        `json:"timeAchieved"`
}

// User is an account that owns scores.
type User struct {
	ID          int               `json:"id" yaml:"id"`
	Username    string            `json:"username" yaml:"username"`
	APIToken    string            `json:"-" yaml:"apiToken"`
	Credentials map[string]string `json:"-" yaml:"credentials"`
}

// GameStats holds a user's profile ratings and classes for one GPT.
type GameStats struct {
	UserID   int                `json:"userID"`
	Game     Game               `json:"game"`
	Playtype Playtype           `json:"playtype"`
	Ratings  map[string]float64 `json:"ratings"`
	Classes  map[string]string  `json:"classes"`
}
