package smoke

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/okian/scoreingest/internal/adapters/parsers/batchmanual"
	"github.com/okian/scoreingest/internal/domain/model"
)

var lamps = []string{"FAILED", "ASSIST CLEAR", "EASY CLEAR", "CLEAR", "HARD CLEAR", "EX HARD CLEAR", "FULL COMBO"}

// ImportRequest is the body of POST /imports.
type ImportRequest struct {
	ImportID        string           `json:"importID"`
	ImportType      model.ImportType `json:"importType"`
	UserID          int              `json:"userID"`
	ParserArguments map[string]any   `json:"parserArguments"`
}

// generateImports builds cfg.Imports batch-manual imports of IIDX SP
// scores on one chart. Achievement times are unique per record.
func generateImports(cfg *Config, rng *rand.Rand) ([]ImportRequest, error) {
	base := time.Now().Add(-24 * time.Hour).UnixMilli()
	out := make([]ImportRequest, 0, cfg.Imports)
	for i := 0; i < cfg.Imports; i++ {
		scores := make([]json.RawMessage, 0, cfg.ScoresPerImport)
		for j := 0; j < cfg.ScoresPerImport; j++ {
			score := rng.IntN(cfg.MaxScore + 1)
			at := base + int64(i*cfg.ScoresPerImport+j)
			raw, err := json.Marshal(batchmanual.Score{
				Score:        &score,
				Lamp:         lamps[rng.IntN(len(lamps))],
				MatchType:    batchmanual.MatchSongTitle,
				Identifier:   cfg.Title,
				Difficulty:   cfg.Difficulty,
				TimeAchieved: &at,
			})
			if err != nil {
				return nil, err
			}
			scores = append(scores, raw)
		}
		file, err := json.Marshal(batchmanual.Batch{
			Meta:   batchmanual.Meta{Game: model.GameIIDX, Playtype: model.PlaytypeSP, Service: "smoke"},
			Scores: scores,
		})
		if err != nil {
			return nil, err
		}
		id, err := gonanoid.New()
		if err != nil {
			return nil, fmt.Errorf("mint import id: %w", err)
		}
		out = append(out, ImportRequest{
			ImportID:        "smoke-" + id,
			ImportType:      model.ImportBatchManual,
			UserID:          cfg.UserID,
			ParserArguments: map[string]any{"file": string(file)},
		})
	}
	return out, nil
}

func newRand(seed uint64) *rand.Rand { return rand.New(rand.NewPCG(seed, seed)) }
