// Package model contains domain models passed between layers.
package model

import "strings"

// Game identifies a rhythm game.
type Game string

// Supported games.
const (
	GameIIDX     Game = "iidx"
	GameBMS      Game = "bms"
	GameCHUNITHM Game = "chunithm"
)

// Playtype is a game's play mode, e.g. SP or DP.
type Playtype string

// Supported playtypes.
const (
	PlaytypeSP     Playtype = "SP"
	PlaytypeDP     Playtype = "DP"
	Playtype7K     Playtype = "7K"
	PlaytypeSingle Playtype = "Single"
)

// GPT is the "game:playtype" namespace used for rules and configuration.
type GPT string

// NewGPT joins a game and playtype.
func NewGPT(g Game, p Playtype) GPT {
	return GPT(string(g) + ":" + string(p))
}

// Split returns the game and playtype halves.
func (g GPT) Split() (Game, Playtype) {
	game, pt, _ := strings.Cut(string(g), ":")
	return Game(game), Playtype(pt)
}

// Game returns the game half.
func (g GPT) Game() Game {
	game, _ := g.Split()
	return game
}

// SupportedGPTs lists every game+playtype the converters can produce.
func SupportedGPTs() []GPT {
	return []GPT{
		NewGPT(GameIIDX, PlaytypeSP),
		NewGPT(GameIIDX, PlaytypeDP),
		NewGPT(GameBMS, Playtype7K),
		NewGPT(GameCHUNITHM, PlaytypeSingle),
	}
}

// ImportType tags the source (and game) an import comes from.
type ImportType string

// Registered import types.
const (
	ImportBatchManual    ImportType = "file/batch-manual"
	ImportScoreHostIIDX  ImportType = "api/score-host-iidx"
	ImportArcadeCHUNITHM ImportType = "api/arcade-chunithm"
	ImportIRBeatoraja    ImportType = "ir/beatoraja"
)

// ImportTypes lists all import types in a stable order.
func ImportTypes() []ImportType {
	return []ImportType{ImportBatchManual, ImportScoreHostIIDX, ImportArcadeCHUNITHM, ImportIRBeatoraja}
}
