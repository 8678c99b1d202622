// Package service composes the import pipeline: the store, the parser
// registry, the engine, dispatch in either mode, the job queue with its
// worker pool, and orphan scheduling. It implements the dependencies the
// HTTP API needs.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/okian/scoreingest/internal/adapters/catalog"
	"github.com/okian/scoreingest/internal/adapters/mq/queue"
	"github.com/okian/scoreingest/internal/adapters/mq/worker"
	"github.com/okian/scoreingest/internal/adapters/parsers"
	"github.com/okian/scoreingest/internal/adapters/repository"
	"github.com/okian/scoreingest/internal/config"
	"github.com/okian/scoreingest/internal/domain/dedupe"
	"github.com/okian/scoreingest/internal/domain/dispatch"
	"github.com/okian/scoreingest/internal/domain/importer"
	"github.com/okian/scoreingest/internal/domain/model"
	"github.com/okian/scoreingest/internal/domain/orphan"
	"github.com/okian/scoreingest/internal/domain/pb"
	"github.com/okian/scoreingest/pkg/logger"
	"github.com/okian/scoreingest/pkg/metrics"
)

// OrphanJobKind is the queue kind of orphan passes.
const OrphanJobKind = "orphan-reprocess"

// orphanJob is the payload of an orphan pass. An empty game means all.
type orphanJob struct {
	Game model.Game `json:"game"`
}

// Service implements the API dependencies for score imports.
type Service struct {
	mu sync.RWMutex

	cfg      *config.Config
	newStore func(ctx context.Context) (repository.Store, error)

	// Core components, set by Start.
	store      repository.Store
	deduper    dedupe.Deduper
	queue      *queue.InMemoryQueue
	pool       *worker.Pool
	dispatcher dispatch.Dispatcher
	orphans    *orphan.Reprocessor

	started bool
	cancel  context.CancelFunc

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(log logger.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.logger = log
		}
	}
}

// WithStore makes Start use st instead of opening the configured store.
// The service closes it on Stop.
func WithStore(st repository.Store) Option {
	return func(s *Service) {
		if st != nil {
			s.newStore = func(context.Context) (repository.Store, error) { return st, nil }
		}
	}
}

// New constructs a Service. A nil cfg uses the defaults.
func New(cfg *config.Config, opts ...Option) *Service {
	if cfg == nil {
		cfg = config.New()
	}
	s := &Service{cfg: cfg}
	s.newStore = s.openStore
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) openStore(ctx context.Context) (repository.Store, error) {
	storeLog := s.logger.Named("store")
	if s.cfg.Store == config.StoreSQLite {
		return repository.NewSQLiteStore(ctx, s.cfg.DBPath, repository.WithLogger(storeLog))
	}
	return repository.NewMemoryStore(ctx, repository.WithLogger(storeLog)), nil
}

// Start opens the store, loads the startup catalog and starts the workers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	s.logger.Info(ctx, "starting import service...", logger.String("mode", s.cfg.Mode), logger.String("store", s.cfg.Store))

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	st, err := s.newStore(runCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("open store: %w", err)
	}
	if s.cfg.CatalogPath != "" {
		sum, err := catalog.LoadFile(ctx, st, s.cfg.CatalogPath)
		if err != nil {
			cancel()
			_ = st.Close()
			return err
		}
		s.logger.Info(ctx, "catalog loaded", logger.String("path", s.cfg.CatalogPath),
			logger.Int("songs", sum.Songs), logger.Int("charts", sum.Charts), logger.Int("users", sum.Users))
	}

	registry, err := parsers.Registry(st, parsers.Sources{
		ScoreHostURL:     s.cfg.ScoreHostURL,
		ScoreHostRPS:     s.cfg.ScoreHostRPS,
		ScoreHostTimeout: s.cfg.ScoreHostTimeout(),
		ArcadeFeedURL:    s.cfg.ArcadeFeedURL,
		StallTimeout:     s.cfg.StreamStallTimeout(),
		BufferSize:       s.cfg.StreamBufferSize,
	})
	if err != nil {
		cancel()
		_ = st.Close()
		return err
	}

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.cfg.ScoreIDCacheSize))
	persister := importer.NewPersister(st, s.deduper, time.Now)
	pbs := pb.New(st, pb.WithConcurrency(s.cfg.PBConcurrency))
	engine := importer.NewEngine(registry, st, persister, pbs)
	runner := dispatch.NewRunner(engine, st, s.logger)
	s.orphans = orphan.NewReprocessor(registry, st, persister, pbs)

	s.queue = queue.NewInMemoryQueue(
		queue.WithCapacity(s.cfg.QueueSize),
		queue.WithMaxAttempts(s.cfg.JobMaxAttempts),
		queue.WithResultRetention(s.cfg.JobResultRetention),
		queue.WithLogger(s.logger.Named("queue")),
	)
	s.pool = worker.NewPool(s.cfg.WorkerCount, s.queue, map[string]worker.Handler{
		dispatch.JobKind: importHandler(runner),
		OrphanJobKind:    s.orphanHandler,
	})
	s.pool.Start(runCtx)

	switch s.cfg.Mode {
	case config.ModeDistributed:
		s.dispatcher = dispatch.NewDistributed(queueBroker{q: s.queue}, st, s.cfg.AwaitTimeout())
	default:
		s.dispatcher = dispatch.NewInline(runner, st)
	}

	payload, _ := json.Marshal(orphanJob{})
	s.queue.Schedule(runCtx, OrphanJobKind, s.cfg.OrphanInterval(), payload)

	s.store = st
	s.cancel = cancel
	s.started = true
	s.logger.Info(ctx, "import service started",
		logger.Int("workers", s.pool.Size()),
		logger.Int("queueSize", s.cfg.QueueSize),
		logger.Duration("orphanInterval", s.cfg.OrphanInterval()),
	)
	return nil
}

// Stop waits for in-flight jobs up to ctx's deadline, then closes the
// queue and the store. Calls made while stopping see ErrNotStarted.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	pool, q, st, cancel := s.pool, s.queue, s.store, s.cancel
	s.mu.Unlock()

	s.logger.Info(ctx, "stopping import service...")
	errs := []error{pool.Shutdown(ctx)}
	cancel()
	errs = append(errs, q.Close(), st.Close())
	s.logger.Info(ctx, "import service stopped")
	return errors.Join(errs...)
}

// running returns the started service's store or ErrNotStarted.
func (s *Service) running() (repository.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return s.store, nil
}

// MakeScoreImport runs job through the configured dispatch mode.
func (s *Service) MakeScoreImport(ctx context.Context, job dispatch.JobData) (*model.ImportDocument, error) {
	s.mu.RLock()
	d, started := s.dispatcher, s.started
	s.mu.RUnlock()
	if !started {
		return nil, ErrNotStarted
	}
	return d.MakeScoreImport(ctx, job)
}

// GetImport returns a finished import.
func (s *Service) GetImport(ctx context.Context, importID string) (model.ImportDocument, error) {
	st, err := s.running()
	if err != nil {
		return model.ImportDocument{}, err
	}
	return st.GetImport(ctx, importID)
}

// FindUserByToken resolves an API token to its user.
func (s *Service) FindUserByToken(ctx context.Context, token string) (model.User, error) {
	st, err := s.running()
	if err != nil {
		return model.User{}, err
	}
	return st.FindUserByToken(ctx, token)
}

// ReprocessOrphans runs one orphan pass over game, or every game when game
// is empty.
func (s *Service) ReprocessOrphans(ctx context.Context, game model.Game) (orphan.Summary, error) {
	s.mu.RLock()
	r, started := s.orphans, s.started
	s.mu.RUnlock()
	if !started {
		return orphan.Summary{}, ErrNotStarted
	}
	return r.Reprocess(ctx, game, s.logger.Named("orphans"))
}

func (s *Service) orphanHandler(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	var job orphanJob
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &job); err != nil {
			return nil, fmt.Errorf("decode orphan job: %w", err)
		}
	}
	sum, err := s.ReprocessOrphans(ctx, job.Game)
	if err != nil {
		return nil, err
	}
	return json.Marshal(sum)
}

// LoadCatalog loads a YAML seed and then retries the orphans of every game
// it touched. A failed pass is logged; the load still succeeded.
func (s *Service) LoadCatalog(ctx context.Context, r io.Reader) (catalog.Summary, error) {
	st, err := s.running()
	if err != nil {
		return catalog.Summary{}, err
	}
	sum, err := catalog.LoadReader(ctx, st, r)
	if err != nil {
		return catalog.Summary{}, err
	}
	s.logger.Info(ctx, "catalog loaded", logger.Int("songs", sum.Songs), logger.Int("charts", sum.Charts), logger.Int("users", sum.Users))
	for _, game := range sum.Games {
		res, err := s.ReprocessOrphans(ctx, game)
		if err != nil {
			s.logger.Error(ctx, "orphan pass after catalog load failed", logger.String("game", string(game)), logger.Error(err))
			continue
		}
		s.logger.Info(ctx, "orphan pass after catalog load",
			logger.String("game", string(game)),
			logger.Int("resolved", res.Resolved),
			logger.Int("remaining", res.Remaining),
		)
	}
	return sum, nil
}

// Stats returns service statistics for monitoring.
func (s *Service) Stats(ctx context.Context) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started": s.started,
		"mode":    s.cfg.Mode,
		"store":   s.cfg.Store,
	}
	if !s.started {
		return stats, nil
	}

	counts, err := s.store.Counts(ctx)
	if err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}
	queueLen := s.queue.Len(ctx)
	metrics.UpdateQueueSize(queueLen)

	stats["documents"] = counts
	stats["queueLength"] = queueLen
	stats["workers"] = s.pool.Size()
	stats["processedJobs"] = s.pool.Processed()
	stats["scoreIDCache"] = s.deduper.Size()
	return stats, nil
}
