// Package scoreid derives the deterministic identifiers used to deduplicate
// scores and orphans.
package scoreid

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/okian/scoreingest/internal/domain/model"
)

// Prefixes distinguish score and orphan digests.
const (
	scorePrefix  = "R"
	orphanPrefix = "O"
)

// scoreKey is the hashed shape. Field order is fixed by the struct and map
// keys inside ScoreData are sorted by encoding/json.
type scoreKey struct {
	GPT          model.GPT       `json:"gpt"`
	UserID       int             `json:"userID"`
	ChartID      string          `json:"chartID"`
	ScoreData    model.ScoreData `json:"scoreData"`
	TimeAchieved *int64          `json:"timeAchieved,omitempty"`
}

// Score returns the ScoreID of a converted score. timeAchieved only takes
// part when distinctReplays is set, so identical plays on games that do not
// distinguish replays collapse to one score.
func Score(gpt model.GPT, userID int, chartID string, sd model.ScoreData, timeAchieved *int64, distinctReplays bool) (string, error) {
	key := scoreKey{GPT: gpt, UserID: userID, ChartID: chartID, ScoreData: sd}
	if distinctReplays {
		key.TimeAchieved = timeAchieved
	}
	raw, err := json.Marshal(key)
	if err != nil {
		return "", fmt.Errorf("scoreid: encode score: %w", err)
	}
	return digest(scorePrefix, raw), nil
}

// Orphan returns a stable identifier for an orphaned raw record so the same
// unresolved record is stored once.
func Orphan(importType model.ImportType, userID int, raw json.RawMessage) (string, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "", fmt.Errorf("scoreid: compact orphan: %w", err)
	}
	return digest(orphanPrefix, []byte(fmt.Sprintf("%s\x00%d\x00%s", importType, userID, buf.Bytes()))), nil
}

func digest(prefix string, b []byte) string {
	sum := sha256.Sum256(b)
	return prefix + hex.EncodeToString(sum[:])
}
