package repository

import (
	"sort"
	"strings"

	"github.com/okian/scoreingest/internal/domain/importer"
	"github.com/okian/scoreingest/internal/domain/model"
)

// matchChart reports whether c satisfies every non-empty field of q.
func matchChart(c model.Chart, q importer.ChartQuery) bool {
	switch {
	case q.Game != "" && c.Game != q.Game:
		return false
	case q.Playtype != "" && c.Playtype != q.Playtype:
		return false
	case q.ChartID != "" && c.ChartID != q.ChartID:
		return false
	case q.SongID != nil && c.SongID != *q.SongID:
		return false
	case q.Difficulty != "" && c.Difficulty != q.Difficulty:
		return false
	case q.Version != "" && !c.HasVersion(q.Version):
		return false
	case q.InGameID != nil && (c.Data.InGameID == nil || *c.Data.InGameID != *q.InGameID):
		return false
	case q.HashSHA256 != "" && !strings.EqualFold(c.Data.HashSHA256, q.HashSHA256):
		return false
	case q.HashMD5 != "" && !strings.EqualFold(c.Data.HashMD5, q.HashMD5):
		return false
	}
	return true
}

// pickChart returns the best candidate: primary charts first, then the
// lowest chart id.
func pickChart(cands []model.Chart) (model.Chart, bool) {
	if len(cands) == 0 {
		return model.Chart{}, false
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].IsPrimary != cands[j].IsPrimary {
			return cands[i].IsPrimary
		}
		return cands[i].ChartID < cands[j].ChartID
	})
	return cands[0], true
}

// titleMatches reports whether title names s, case-insensitively, by its
// main or any alternative title.
func titleMatches(s model.Song, title string) bool {
	if strings.EqualFold(s.Title, title) {
		return true
	}
	for _, alt := range s.AltTitles {
		if strings.EqualFold(alt, title) {
			return true
		}
	}
	return false
}

// sortScores orders scores by achievement time (unknown last), then id.
func sortScores(scores []model.ScoreDocument) {
	sort.Slice(scores, func(i, j int) bool {
		ti, tj := scores[i].TimeAchieved, scores[j].TimeAchieved
		switch {
		case ti != nil && tj != nil && *ti != *tj:
			return *ti < *tj
		case ti != nil && tj == nil:
			return true
		case ti == nil && tj != nil:
			return false
		}
		return scores[i].ScoreID < scores[j].ScoreID
	})
}
