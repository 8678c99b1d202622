package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/okian/scoreingest/internal/smoke"
	"github.com/okian/scoreingest/pkg/logger"
)

// Default configuration constants.
const (
	defaultImports         = 100
	defaultScoresPerImport = 50
	defaultMaxScore        = 1572 // 2x the notecount of the seeded chart
	defaultWorkers         = 2    // multiplier for runtime.NumCPU()
	defaultTimeout         = 2 * time.Minute
	defaultRunTimeout      = 30 * time.Minute
)

func main() {
	var (
		baseURL    = flag.String("url", "http://localhost:9080", "Base URL of the service")
		imports    = flag.Int("imports", defaultImports, "Number of imports to generate")
		perImport  = flag.Int("scores", defaultScoresPerImport, "Scores per import")
		userID     = flag.Int("user", 1, "User the imports belong to")
		title      = flag.String("title", "5.1.1.", "IIDX song title every score matches")
		difficulty = flag.String("difficulty", "ANOTHER", "Chart difficulty every score matches")
		maxScore   = flag.Int("max-score", defaultMaxScore, "Upper bound of generated EX scores")
		workers    = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent requests")
		timeout    = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		seed       = flag.Uint64("seed", 0, "Generator seed (0 picks one)")
		verbose    = flag.Bool("verbose", false, "Log every import")
	)
	flag.Parse()

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultRunTimeout)
	defer cancel()

	_, err := smoke.Run(ctx, &smoke.Config{
		BaseURL:         *baseURL,
		Imports:         *imports,
		ScoresPerImport: *perImport,
		UserID:          *userID,
		Title:           *title,
		Difficulty:      *difficulty,
		MaxScore:        *maxScore,
		Workers:         *workers,
		Timeout:         *timeout,
		Seed:            *seed,
		Verbose:         *verbose,
	})
	if err != nil {
		logger.Get().Error(ctx, "smoke run failed", logger.Error(err))
		cancel()
		os.Exit(1)
	}
}
