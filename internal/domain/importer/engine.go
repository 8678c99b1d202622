package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/okian/scoreingest/internal/domain/failure"
	"github.com/okian/scoreingest/internal/domain/model"
	"github.com/okian/scoreingest/pkg/logger"
	"github.com/okian/scoreingest/pkg/metrics"
)

// Request is one import as the dispatcher hands it to the engine.
type Request struct {
	ImportID   string
	ImportType model.ImportType
	UserID     int
	UserIntent bool
	Args       map[string]any
}

// Engine runs imports. One Run call processes its records sequentially in
// parser order; concurrency is across Run calls.
type Engine struct {
	registry  *Registry
	store     Store
	pbs       PBProcessor
	persister *Persister
	now       func() time.Time
}

// NewEngine creates an engine.
func NewEngine(registry *Registry, store Store, persister *Persister, pbs PBProcessor, opts ...Option) *Engine {
	e := &Engine{
		registry:  registry,
		store:     store,
		pbs:       pbs,
		persister: persister,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// touched collects the charts whose PBs need recomputing, per GPT. The value
// is true when the chart received a new score in this import; charts that
// only saw existing scores are kept so an earlier aborted import's PBs get
// repaired.
type touched map[model.GPT]map[string]bool

func (t touched) add(gpt model.GPT, chartID string, fresh bool) {
	if t[gpt] == nil {
		t[gpt] = make(map[string]bool)
	}
	t[gpt][chartID] = t[gpt][chartID] || fresh
}

func (t touched) fresh(gpt model.GPT) bool {
	for _, f := range t[gpt] {
		if f {
			return true
		}
	}
	return false
}

// Run executes req for user. A fatal error returns no document and nothing
// about the import is stored; every other failure is recorded per record.
// The first finished document for an importID wins: a duplicate run returns
// the stored one.
func (e *Engine) Run(ctx context.Context, req Request, user model.User, log logger.Logger) (*model.ImportDocument, error) {
	started := e.now()
	doc, err := e.run(ctx, req, user, log, started)
	elapsed := float64(e.now().Sub(started).Milliseconds())
	if err != nil {
		metrics.RecordImport(string(req.ImportType), "fatal", elapsed)
		return nil, err
	}
	metrics.RecordImport(string(req.ImportType), "done", elapsed)
	return doc, nil
}

func (e *Engine) run(ctx context.Context, req Request, user model.User, log logger.Logger, started time.Time) (*model.ImportDocument, error) {
	pair, ok := e.registry.Lookup(req.ImportType)
	if !ok {
		return nil, failure.Fatal(http.StatusBadRequest, "unknown import type %q", req.ImportType)
	}

	// STARTED
	doc := &model.ImportDocument{
		ImportID:    req.ImportID,
		ImportType:  req.ImportType,
		UserID:      req.UserID,
		UserIntent:  req.UserIntent,
		ScoreIDs:    []string{},
		Errors:      []model.ImportError{},
		ClassDeltas: []model.ClassDelta{},
		GPTs:        []model.GPT{},
		TimeStarted: started.UnixMilli(),
	}
	log.Info(ctx, "import started")

	parsed, err := pair.Parser.Parse(ctx, ParseInput{User: user, Args: req.Args}, log)
	if err != nil {
		log.Warn(ctx, "parser failed", logger.Error(err))
		return nil, err
	}
	if parsed == nil || parsed.Records == nil {
		return nil, fmt.Errorf("parser for %s returned no records", req.ImportType)
	}
	ictx := parsed.Context
	ictx.UserID = req.UserID
	doc.Service = ictx.Service

	seen := touched{}
	for n := 0; ; n++ {
		raw, err := parsed.Records.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Warn(ctx, "record source failed", logger.Int("record", n), logger.Error(err))
			// scores stored before the failure stay, so their PBs must too
			e.processPBs(context.WithoutCancel(ctx), doc.UserID, seen, log)
			if _, isFatal := failure.AsFatal(err); isFatal || ctx.Err() != nil {
				return nil, err
			}
			return nil, failure.FatalWrap(http.StatusBadGateway, "score source failed mid-import", err)
		}
		e.importRecord(ctx, pair.Converter, raw, ictx, doc, seen, log.With(logger.Int("record", n)))
	}

	// FINALIZING
	e.finalize(ctx, doc, seen, ictx, parsed.ClassProvider, log)
	doc.TimeFinished = e.now().UnixMilli()

	stored, inserted, err := e.store.PutImport(ctx, *doc)
	if err != nil {
		return nil, fmt.Errorf("store import %s: %w", doc.ImportID, err)
	}
	if !inserted {
		log.Info(ctx, "import already finished by another run, keeping its document")
		return &stored, nil
	}
	log.Info(ctx, "import finished",
		logger.Int("scores", len(doc.ScoreIDs)),
		logger.Int("errors", len(doc.Errors)),
		logger.Int("skipped", doc.Skipped),
	)
	return doc, nil
}

// importRecord converts and persists one record. Failures are recorded on
// doc and never escape.
func (e *Engine) importRecord(ctx context.Context, conv Converter, raw json.RawMessage, ictx model.ImportContext, doc *model.ImportDocument, seen touched, log logger.Logger) {
	p, err := e.convertAndPersist(ctx, conv, raw, ictx, doc, log)
	if err == nil {
		seen.add(p.Chart.GPT(), p.Chart.ChartID, p.Inserted)
		if p.Inserted {
			doc.ScoreIDs = append(doc.ScoreIDs, p.ScoreID)
		} else {
			log.Debug(ctx, "score already imported", logger.String("scoreID", p.ScoreID))
		}
		return
	}

	kind := failure.KindOf(err)
	metrics.RecordRecordFailure(string(kind))
	switch kind {
	case failure.KindSkipScore:
		doc.Skipped++
		log.Debug(ctx, "score skipped", logger.Error(err))
		return
	case failure.KindSongOrChartNotFound:
		log.Info(ctx, "song or chart not found, orphaning", logger.Error(err))
		if _, oerr := e.persister.Orphan(ctx, doc.ImportType, ictx, raw, err); oerr != nil {
			log.Error(ctx, "failed to store orphan", logger.Error(oerr))
		}
	case failure.KindInvalidScore:
		log.Info(ctx, "invalid score", logger.Error(err))
	default:
		log.Error(ctx, "internal failure converting score", logger.Error(err))
		metrics.RecordErrorByComponent("importer", "internal")
	}
	doc.Errors = append(doc.Errors, model.ImportError{Type: string(kind), Message: failure.Message(err)})
}

func (e *Engine) convertAndPersist(ctx context.Context, conv Converter, raw json.RawMessage, ictx model.ImportContext, doc *model.ImportDocument, log logger.Logger) (p Persisted, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = failure.Internal("importer.convert", "converter panicked: %v", r)
		}
	}()
	res, err := conv.Convert(ctx, raw, ictx, doc.ImportType, log)
	if err != nil {
		return Persisted{}, err
	}
	return e.persister.Persist(ctx, res, doc.UserID, doc.ImportID)
}

// finalize recomputes PBs for touched charts and refreshes profile stats.
// A failure here is logged: the scores are already stored and a later import
// of the same records recomputes them.
func (e *Engine) finalize(ctx context.Context, doc *model.ImportDocument, seen touched, ictx model.ImportContext, provider ClassProvider, log logger.Logger) {
	gpts := make([]model.GPT, 0, len(seen)+1)
	for gpt := range seen {
		if seen.fresh(gpt) {
			gpts = append(gpts, gpt)
		}
	}
	if provider != nil && ictx.Game != "" && ictx.Playtype != "" {
		if ctxGPT := model.NewGPT(ictx.Game, ictx.Playtype); !seen.fresh(ctxGPT) {
			gpts = append(gpts, ctxGPT)
		}
	}
	sort.Slice(gpts, func(i, j int) bool { return gpts[i] < gpts[j] })
	doc.GPTs = gpts

	if e.pbs == nil {
		return
	}
	failed := e.processPBs(ctx, doc.UserID, seen, log)
	for _, gpt := range statsGPTs(gpts, seen) {
		if failed[gpt] {
			continue
		}
		deltas, err := e.updateStats(ctx, gpt, doc.UserID, provider, log)
		if err != nil {
			log.Error(ctx, "updating game stats failed", logger.String("gpt", string(gpt)), logger.Error(err))
			metrics.RecordErrorByComponent("pb", "stats")
			continue
		}
		doc.ClassDeltas = append(doc.ClassDeltas, deltas...)
	}
}

// processPBs recomputes PBs for every chart in seen and reports the GPTs
// whose recompute failed.
func (e *Engine) processPBs(ctx context.Context, userID int, seen touched, log logger.Logger) map[model.GPT]bool {
	failed := map[model.GPT]bool{}
	if e.pbs == nil {
		return failed
	}
	gpts := make([]model.GPT, 0, len(seen))
	for gpt := range seen {
		gpts = append(gpts, gpt)
	}
	sort.Slice(gpts, func(i, j int) bool { return gpts[i] < gpts[j] })
	for _, gpt := range gpts {
		charts := seen[gpt]
		if len(charts) == 0 {
			continue
		}
		ids := make([]string, 0, len(charts))
		for id := range charts {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		game, playtype := gpt.Split()
		if err := e.pbs.ProcessPBs(ctx, game, playtype, userID, ids, log); err != nil {
			log.Error(ctx, "processing PBs failed", logger.String("gpt", string(gpt)), logger.Error(err))
			metrics.RecordErrorByComponent("pb", "process")
			failed[gpt] = true
		}
	}
	return failed
}

// statsGPTs is gpts plus any GPT whose PBs were recomputed without a new
// score, sorted.
func statsGPTs(gpts []model.GPT, seen touched) []model.GPT {
	out := append([]model.GPT(nil), gpts...)
	for gpt := range seen {
		if !seen.fresh(gpt) {
			out = append(out, gpt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (e *Engine) updateStats(ctx context.Context, gpt model.GPT, userID int, provider ClassProvider, log logger.Logger) ([]model.ClassDelta, error) {
	ratings, err := e.pbs.ProfileRatings(ctx, gpt, userID)
	if err != nil {
		return nil, err
	}
	var classes map[string]string
	if provider != nil {
		classes, err = provider(ctx, gpt, userID, ratings, log)
		if err != nil {
			// the source's class lookup is best effort
			log.Warn(ctx, "class provider failed", logger.Error(err))
			classes = nil
		}
	}
	return e.pbs.UpdateGameStats(ctx, gpt, userID, ratings, classes)
}
