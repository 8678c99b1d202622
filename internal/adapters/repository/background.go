package repository

import (
	"context"
	"sync"
	"time"

	"github.com/okian/scoreingest/pkg/metrics"
)

// background runs a store's periodic metrics publisher.
type background struct {
	wg        sync.WaitGroup
	stopChan  chan struct{}
	closeOnce sync.Once
}

func newBackground() *background {
	return &background{stopChan: make(chan struct{})}
}

// startMetricsUpdater publishes counts every interval until ctx is done or
// stop is called.
func (b *background) startMetricsUpdater(ctx context.Context, interval time.Duration, counts func(context.Context) (Counts, error)) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-b.stopChan:
				return
			case <-ticker.C:
				if c, err := counts(ctx); err == nil {
					publishCounts(c)
				}
			}
		}
	}()
}

func (b *background) stop() {
	b.closeOnce.Do(func() { close(b.stopChan) })
	b.wg.Wait()
}

func publishCounts(c Counts) {
	metrics.UpdateStoreDocuments("songs", c.Songs)
	metrics.UpdateStoreDocuments("charts", c.Charts)
	metrics.UpdateStoreDocuments("scores", c.Scores)
	metrics.UpdateStoreDocuments("orphans", c.Orphans)
	metrics.UpdateStoreDocuments("blacklist", c.Blacklist)
	metrics.UpdateStoreDocuments("imports", c.Imports)
	metrics.UpdateStoreDocuments("pbs", c.PBs)
	metrics.UpdateStoreDocuments("users", c.Users)
}

func observe(op string, start time.Time) {
	metrics.RecordStoreLatency(op, float64(time.Since(start).Milliseconds()))
}
