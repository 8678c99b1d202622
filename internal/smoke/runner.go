package smoke

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/okian/scoreingest/pkg/logger"
)

// Run executes a complete smoke run: health check, first submission,
// resubmission under new ids, replay under the original ids, verification.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}
	log := logger.Get().Named("smoke")

	log.Info(ctx, "starting import smoke run",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("imports", cfg.Imports),
		logger.Int("scoresPerImport", cfg.ScoresPerImport),
		logger.Int("workers", cfg.Workers),
	)

	c := newClient(cfg.BaseURL, cfg.Timeout)
	if err := checkHealth(ctx, c); err != nil {
		return stats, err
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	imports, err := generateImports(cfg, newRand(seed))
	if err != nil {
		return stats, fmt.Errorf("generate imports: %w", err)
	}
	stats.Imports = len(imports)

	same := func(id string) string { return id }
	first := submitAll(ctx, c, imports, cfg.Workers, same, cfg.Verbose)
	again := submitAll(ctx, c, imports, cfg.Workers, func(id string) string { return id + "-again" }, cfg.Verbose)
	replay := submitAll(ctx, c, imports, cfg.Workers, same, cfg.Verbose)

	err = verify(first, again, replay, stats)

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, log, stats)
	if err != nil {
		return stats, err
	}
	log.Info(ctx, "smoke run passed")
	return stats, nil
}

// checkHealth verifies the service is serving.
func checkHealth(ctx context.Context, c *client) error {
	resp, err := c.get(ctx, "/healthz")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnhealthy, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUnhealthy, resp.StatusCode)
	}
	return nil
}

func displayFinalStats(ctx context.Context, log logger.Logger, stats *Stats) {
	var importsPerSecond float64
	if stats.Duration > 0 {
		importsPerSecond = float64(stats.Requests) / stats.Duration.Seconds()
	}
	log.Info(ctx, "final statistics",
		logger.Int("imports", stats.Imports),
		logger.Int("requests", stats.Requests),
		logger.Int("failed", stats.Failed),
		logger.Int("scoreIDs", stats.ScoreIDs),
		logger.Int("recordErrors", stats.RecordErrors),
		logger.Int("resubmitScoreIDs", stats.ResubmitScoreIDs),
		logger.Int("replayMismatches", stats.ReplayMismatches),
		logger.Duration("duration", stats.Duration),
		logger.Float64("requestsPerSecond", importsPerSecond),
	)
}
