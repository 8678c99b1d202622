// Package orphan owns the orphan score lifecycle: retrying records whose
// song or chart was unknown, and discarding those judged permanently invalid.
package orphan

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/okian/scoreingest/internal/domain/failure"
	"github.com/okian/scoreingest/internal/domain/importer"
	"github.com/okian/scoreingest/internal/domain/model"
	"github.com/okian/scoreingest/pkg/logger"
	"github.com/okian/scoreingest/pkg/metrics"
)

// Store is the orphan and blacklist collections.
type Store interface {
	ListOrphans(ctx context.Context, game model.Game) ([]model.OrphanScoreDocument, error)
	DeleteOrphan(ctx context.Context, orphanID string) error
	PutBlacklist(ctx context.Context, entry model.BlacklistEntry) error
	// Blacklisted reports whether any of values is blacklisted.
	Blacklisted(ctx context.Context, values []string) (bool, error)
}

// PBProcessor is the part of the PB aggregator a pass needs.
type PBProcessor interface {
	ProcessPBs(ctx context.Context, game model.Game, playtype model.Playtype, userID int, chartIDs []string, log logger.Logger) error
}

// Summary reports what one pass did.
type Summary struct {
	Processed int `json:"processed"`
	Resolved  int `json:"resolved"`
	Discarded int `json:"discarded"`
	Remaining int `json:"remaining"`
}

// Reprocessor retries orphans. Concurrent passes over the same game share
// one run.
type Reprocessor struct {
	registry  *importer.Registry
	store     Store
	persister *importer.Persister
	pbs       PBProcessor
	group     singleflight.Group
	now       func() time.Time
}

// NewReprocessor creates a reprocessor.
func NewReprocessor(registry *importer.Registry, store Store, persister *importer.Persister, pbs PBProcessor) *Reprocessor {
	return &Reprocessor{registry: registry, store: store, persister: persister, pbs: pbs, now: time.Now}
}

// Reprocess runs one pass over the orphans of game, or all games when game
// is empty. It runs outside any import.
func (r *Reprocessor) Reprocess(ctx context.Context, game model.Game, log logger.Logger) (Summary, error) {
	v, err, shared := r.group.Do("orphans:"+string(game), func() (any, error) {
		return r.reprocess(ctx, game, log)
	})
	if shared {
		log.Debug(ctx, "joined running orphan pass", logger.String("game", string(game)))
	}
	if err != nil {
		return Summary{}, err
	}
	return v.(Summary), nil
}

type userCharts map[int]map[model.GPT]map[string]struct{}

func (u userCharts) add(userID int, gpt model.GPT, chartID string) {
	if u[userID] == nil {
		u[userID] = map[model.GPT]map[string]struct{}{}
	}
	if u[userID][gpt] == nil {
		u[userID][gpt] = map[string]struct{}{}
	}
	u[userID][gpt][chartID] = struct{}{}
}

func (r *Reprocessor) reprocess(ctx context.Context, game model.Game, log logger.Logger) (Summary, error) {
	orphans, err := r.store.ListOrphans(ctx, game)
	if err != nil {
		return Summary{}, fmt.Errorf("list orphans: %w", err)
	}
	sort.SliceStable(orphans, func(i, j int) bool { return orphans[i].TimeInserted < orphans[j].TimeInserted })

	var sum Summary
	touched := userCharts{}
	for _, o := range orphans {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Processed++
		olog := log.With(logger.String("orphanID", o.OrphanID), logger.Int("userID", o.UserID))
		switch r.retry(ctx, o, touched, olog) {
		case outcomeResolved:
			sum.Resolved++
		case outcomeDiscarded:
			sum.Discarded++
		default:
			sum.Remaining++
		}
	}

	for userID, byGPT := range touched {
		for gpt, charts := range byGPT {
			ids := make([]string, 0, len(charts))
			for id := range charts {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			g, p := gpt.Split()
			if err := r.pbs.ProcessPBs(ctx, g, p, userID, ids, log); err != nil {
				log.Error(ctx, "processing PBs after orphan pass failed", logger.Int("userID", userID), logger.Error(err))
			}
		}
	}

	log.Info(ctx, "orphan pass finished",
		logger.Int("processed", sum.Processed),
		logger.Int("resolved", sum.Resolved),
		logger.Int("discarded", sum.Discarded),
		logger.Int("remaining", sum.Remaining),
	)
	return sum, nil
}

type outcome int

const (
	outcomeRemaining outcome = iota
	outcomeResolved
	outcomeDiscarded
)

func (r *Reprocessor) retry(ctx context.Context, o model.OrphanScoreDocument, touched userCharts, log logger.Logger) outcome {
	keys := make([]string, 0, len(o.Identifiers)+1)
	for name, v := range o.Identifiers {
		keys = append(keys, model.IdentifierKey(name, v))
	}
	sort.Strings(keys)
	keys = append(keys, o.OrphanID)
	black, err := r.store.Blacklisted(ctx, keys)
	if err != nil {
		log.Error(ctx, "blacklist lookup failed", logger.Error(err))
		return outcomeRemaining
	}
	if black {
		return r.discard(ctx, o, "", log)
	}

	pair, ok := r.registry.Lookup(o.ImportType)
	if !ok {
		log.Error(ctx, "orphan has unknown import type", logger.String("importType", string(o.ImportType)))
		return outcomeRemaining
	}

	p, err := r.convertAndPersist(ctx, pair.Converter, o, log)
	if err != nil {
		switch failure.KindOf(err) {
		case failure.KindSongOrChartNotFound:
			return outcomeRemaining
		case failure.KindInvalidScore, failure.KindSkipScore:
			return r.discard(ctx, o, failure.Message(err), log)
		default:
			log.Error(ctx, "internal failure retrying orphan", logger.Error(err))
			return outcomeRemaining
		}
	}

	if err := r.store.DeleteOrphan(ctx, o.OrphanID); err != nil {
		log.Error(ctx, "deleting resolved orphan failed", logger.Error(err))
	}
	if p.Inserted {
		touched.add(o.UserID, p.Chart.GPT(), p.Chart.ChartID)
	}
	metrics.RecordOrphanResolved()
	log.Info(ctx, "orphan resolved", logger.String("scoreID", p.ScoreID))
	return outcomeResolved
}

func (r *Reprocessor) convertAndPersist(ctx context.Context, conv importer.Converter, o model.OrphanScoreDocument, log logger.Logger) (p importer.Persisted, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = failure.Internal("orphan.convert", "converter panicked: %v", rec)
		}
	}()
	res, err := conv.Convert(ctx, o.Data, o.Context, o.ImportType, log)
	if err != nil {
		return importer.Persisted{}, err
	}
	return r.persister.Persist(ctx, res, o.UserID, "")
}

// discard deletes o. A non-empty reason also blacklists its id so an
// identical orphan created later is dropped without a retry.
func (r *Reprocessor) discard(ctx context.Context, o model.OrphanScoreDocument, reason string, log logger.Logger) outcome {
	if reason != "" {
		entry := model.BlacklistEntry{Value: o.OrphanID, Reason: reason, TimeAdded: r.now().UnixMilli()}
		if err := r.store.PutBlacklist(ctx, entry); err != nil {
			log.Error(ctx, "blacklisting orphan failed", logger.Error(err))
		}
	}
	if err := r.store.DeleteOrphan(ctx, o.OrphanID); err != nil {
		log.Error(ctx, "deleting discarded orphan failed", logger.Error(err))
		return outcomeRemaining
	}
	metrics.RecordOrphanDiscarded()
	log.Info(ctx, "orphan discarded", logger.String("reason", reason))
	return outcomeDiscarded
}
