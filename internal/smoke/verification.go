package smoke

import (
	"errors"
	"fmt"
	"slices"
)

// verify checks the three passes: every request succeeded, the first pass
// created scores, resubmission under new ids created none, and replaying
// an id returned that import's original ScoreIDs.
func verify(first, again, replay []result, stats *Stats) error {
	var errs []error
	for _, pass := range [][]result{first, again, replay} {
		for _, r := range pass {
			stats.Requests++
			if !r.ok() {
				stats.Failed++
			}
		}
	}
	if stats.Failed > 0 {
		errs = append(errs, fmt.Errorf("%w: %d of %d requests", ErrImportsFailed, stats.Failed, stats.Requests))
	}

	byID := make(map[string][]string, len(first))
	for _, r := range first {
		if !r.ok() {
			continue
		}
		byID[r.importID] = r.resp.Body.ScoreIDs
		stats.ScoreIDs += len(r.resp.Body.ScoreIDs)
		stats.RecordErrors += len(r.resp.Body.Errors)
	}
	if stats.ScoreIDs == 0 {
		errs = append(errs, ErrNothingCreated)
	}

	for _, r := range again {
		if r.ok() {
			stats.ResubmitScoreIDs += len(r.resp.Body.ScoreIDs)
		}
	}
	if stats.ResubmitScoreIDs > 0 {
		errs = append(errs, fmt.Errorf("%w: resubmission created %d scores", ErrNotIdempotent, stats.ResubmitScoreIDs))
	}

	for _, r := range replay {
		want, ok := byID[r.importID]
		if !ok || !r.ok() {
			continue
		}
		if !slices.Equal(want, r.resp.Body.ScoreIDs) {
			stats.ReplayMismatches++
		}
	}
	if stats.ReplayMismatches > 0 {
		errs = append(errs, fmt.Errorf("%w: %d replays returned different scores", ErrNotIdempotent, stats.ReplayMismatches))
	}
	return errors.Join(errs...)
}
