// Package catalog loads song, chart and user seeds from YAML into the store.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"go.yaml.in/yaml/v3"

	"github.com/okian/scoreingest/internal/domain/model"
	"github.com/okian/scoreingest/internal/domain/scoring"
)

// Seed is one YAML catalog document.
type Seed struct {
	Songs  []model.Song  `yaml:"songs"`
	Charts []model.Chart `yaml:"charts"`
	Users  []model.User  `yaml:"users"`
}

// Writer is the store side of a load.
type Writer interface {
	PutSongs(ctx context.Context, songs []model.Song) error
	PutCharts(ctx context.Context, charts []model.Chart) error
	PutUser(ctx context.Context, user model.User) error
}

// Summary reports what a load wrote.
type Summary struct {
	Songs  int          `json:"songs"`
	Charts int          `json:"charts"`
	Users  int          `json:"users"`
	Games  []model.Game `json:"games"`
}

// Parse decodes a seed. Unknown fields are rejected.
func Parse(r io.Reader) (Seed, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var seed Seed
	if err := dec.Decode(&seed); err != nil {
		if errors.Is(err, io.EOF) {
			return Seed{}, ErrEmptySeed
		}
		return Seed{}, fmt.Errorf("%w: %v", ErrInvalidSeed, err)
	}
	return seed, nil
}

// Validate checks a seed against the supported games' rules.
func (s Seed) Validate() error {
	songs := make(map[model.Game]map[int]bool)
	for _, song := range s.Songs {
		if _, ok := scoring.For(anyGPT(song.Game)); !ok {
			return fmt.Errorf("%w: song %d has unsupported game %q", ErrInvalidSeed, song.ID, song.Game)
		}
		if song.ID <= 0 || song.Title == "" {
			return fmt.Errorf("%w: song %d needs a positive id and a title", ErrInvalidSeed, song.ID)
		}
		if songs[song.Game] == nil {
			songs[song.Game] = make(map[int]bool)
		}
		if songs[song.Game][song.ID] {
			return fmt.Errorf("%w: duplicate song %s/%d", ErrInvalidSeed, song.Game, song.ID)
		}
		songs[song.Game][song.ID] = true
	}

	charts := make(map[string]bool, len(s.Charts))
	for _, c := range s.Charts {
		if c.ChartID == "" {
			return fmt.Errorf("%w: chart of song %d has no id", ErrInvalidSeed, c.SongID)
		}
		if charts[c.ChartID] {
			return fmt.Errorf("%w: duplicate chart %s", ErrInvalidSeed, c.ChartID)
		}
		charts[c.ChartID] = true
		rules, ok := scoring.For(c.GPT())
		if !ok {
			return fmt.Errorf("%w: chart %s has unsupported %s", ErrInvalidSeed, c.ChartID, c.GPT())
		}
		if !rules.HasDifficulty(c.Difficulty) {
			return fmt.Errorf("%w: chart %s has difficulty %q not valid for %s", ErrInvalidSeed, c.ChartID, c.Difficulty, c.GPT())
		}
		if c.Game != model.GameCHUNITHM && c.Data.Notecount <= 0 {
			return fmt.Errorf("%w: chart %s needs a notecount", ErrInvalidSeed, c.ChartID)
		}
	}

	users := make(map[int]bool, len(s.Users))
	for _, u := range s.Users {
		if u.ID <= 0 || u.Username == "" {
			return fmt.Errorf("%w: user %d needs a positive id and a username", ErrInvalidSeed, u.ID)
		}
		if users[u.ID] {
			return fmt.Errorf("%w: duplicate user %d", ErrInvalidSeed, u.ID)
		}
		users[u.ID] = true
	}
	return nil
}

// Games returns the distinct games the seed touches, sorted.
func (s Seed) Games() []model.Game {
	seen := make(map[model.Game]bool)
	for _, song := range s.Songs {
		seen[song.Game] = true
	}
	for _, c := range s.Charts {
		seen[c.Game] = true
	}
	out := make([]model.Game, 0, len(seen))
	for g := range seen {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Load validates seed and writes it: songs, then charts, then users.
func Load(ctx context.Context, w Writer, seed Seed) (Summary, error) {
	if err := seed.Validate(); err != nil {
		return Summary{}, err
	}
	if len(seed.Songs) > 0 {
		if err := w.PutSongs(ctx, seed.Songs); err != nil {
			return Summary{}, fmt.Errorf("load songs: %w", err)
		}
	}
	if len(seed.Charts) > 0 {
		if err := w.PutCharts(ctx, seed.Charts); err != nil {
			return Summary{}, fmt.Errorf("load charts: %w", err)
		}
	}
	for _, u := range seed.Users {
		if err := w.PutUser(ctx, u); err != nil {
			return Summary{}, fmt.Errorf("load user %d: %w", u.ID, err)
		}
	}
	return Summary{Songs: len(seed.Songs), Charts: len(seed.Charts), Users: len(seed.Users), Games: seed.Games()}, nil
}

// LoadReader parses and loads a seed.
func LoadReader(ctx context.Context, w Writer, r io.Reader) (Summary, error) {
	seed, err := Parse(r)
	if err != nil {
		return Summary{}, err
	}
	return Load(ctx, w, seed)
}

// LoadFile parses and loads the seed at path.
func LoadFile(ctx context.Context, w Writer, path string) (Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return Summary{}, fmt.Errorf("open catalog %s: %w", path, err)
	}
	defer f.Close()
	return LoadReader(ctx, w, f)
}

// anyGPT returns some supported GPT of game, for game-level checks.
func anyGPT(g model.Game) model.GPT {
	for _, gpt := range model.SupportedGPTs() {
		if gpt.Game() == g {
			return gpt
		}
	}
	return model.NewGPT(g, "")
}
