// Package smoke drives a running service over HTTP: it posts generated
// batch-manual imports, submits them again, and checks that the second run
// adds no scores.
package smoke

import "time"

// Config holds configuration for a smoke run.
type Config struct {
	BaseURL         string        // Base URL of the service
	Imports         int           // Number of imports to generate
	ScoresPerImport int           // Scores in each import
	UserID          int           // User the imports belong to
	Title           string        // Song title every score matches
	Difficulty      string        // Chart difficulty every score matches
	MaxScore        int           // Upper bound of generated EX scores
	Workers         int           // Concurrent requests
	Timeout         time.Duration // HTTP request timeout
	Seed            uint64        // Generator seed; zero picks one from the clock
	Verbose         bool          // Log every import
}

// Stats holds run statistics.
type Stats struct {
	Imports          int
	Requests         int
	Failed           int
	ScoreIDs         int
	RecordErrors     int
	ResubmitScoreIDs int
	ReplayMismatches int
	StartTime        time.Time
	EndTime          time.Time
	Duration         time.Duration
}
