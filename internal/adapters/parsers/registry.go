// Package parsers assembles the parser/converter pair of every import type.
package parsers

import (
	"net/http"
	"time"

	"connectrpc.com/connect"

	"github.com/okian/scoreingest/internal/adapters/parsers/arcadefeed"
	"github.com/okian/scoreingest/internal/adapters/parsers/batchmanual"
	"github.com/okian/scoreingest/internal/adapters/parsers/beatoraja"
	"github.com/okian/scoreingest/internal/adapters/parsers/scorehost"
	"github.com/okian/scoreingest/internal/domain/importer"
	"github.com/okian/scoreingest/internal/domain/model"
	"github.com/okian/scoreingest/internal/domain/stream"
)

// Sources configures the parsers that talk to remote services.
type Sources struct {
	ScoreHostURL     string
	ScoreHostRPS     float64
	ScoreHostTimeout time.Duration

	ArcadeFeedURL string
	// ArcadeClient defaults to http.DefaultClient.
	ArcadeClient connect.HTTPClient
	StallTimeout time.Duration
	BufferSize   int
}

// Registry builds the registry for every import type against catalog.
func Registry(catalog importer.Catalog, src Sources) (*importer.Registry, error) {
	arcadeClient := src.ArcadeClient
	if arcadeClient == nil {
		arcadeClient = http.DefaultClient
	}
	return importer.NewRegistry(map[model.ImportType]importer.Pair{
		model.ImportBatchManual: {
			Parser:    batchmanual.NewParser(),
			Converter: batchmanual.NewConverter(catalog),
		},
		model.ImportScoreHostIIDX: {
			Parser:    scorehost.NewParser(scorehost.NewClient(src.ScoreHostURL, src.ScoreHostRPS, src.ScoreHostTimeout)),
			Converter: scorehost.NewConverter(catalog),
		},
		model.ImportArcadeCHUNITHM: {
			Parser: arcadefeed.NewParser(arcadeClient, src.ArcadeFeedURL,
				stream.WithStallTimeout(src.StallTimeout),
				stream.WithBufferSize(src.BufferSize),
			),
			Converter: arcadefeed.NewConverter(catalog),
		},
		model.ImportIRBeatoraja: {
			Parser:    beatoraja.NewParser(),
			Converter: beatoraja.NewConverter(catalog),
		},
	})
}
