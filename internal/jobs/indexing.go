package jobs

import (
	"context"
	"log/slog"
	"time"

	"farcaster-indexer/internal/indexer"
)

// IndexingJob runs incremental indexing on a fixed interval, replacing
// external cron wiring in serve mode. Failed runs are logged and retried on
// the next tick; upsert idempotence makes re-runs safe.
type IndexingJob struct {
	orchestrator *indexer.Orchestrator
	interval     time.Duration
	maxCasts     int
	done         chan struct{}
}

func NewIndexingJob(orchestrator *indexer.Orchestrator, interval time.Duration, maxCasts int) *IndexingJob {
	return &IndexingJob{
		orchestrator: orchestrator,
		interval:     interval,
		maxCasts:     maxCasts,
		done:         make(chan struct{}),
	}
}

// Start begins the periodic indexing loop. Blocks until the context is
// cancelled or Stop is called.
func (j *IndexingJob) Start(ctx context.Context) {
	slog.Info("Starting indexing job",
		slog.Duration("interval", j.interval),
		slog.Int("max_casts", j.maxCasts))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Indexing job stopped due to context cancellation")
			return
		case <-j.done:
			slog.Info("Indexing job stopped")
			return
		case <-ticker.C:
			if _, err := j.orchestrator.Run(ctx, indexer.RunOptions{
				Incremental:        true,
				MaxCasts:           j.maxCasts,
				GenerateEmbeddings: true,
			}); err != nil {
				slog.Error("Indexing run failed", "error", err)
			}
		}
	}
}

// Stop stops the periodic loop.
func (j *IndexingJob) Stop() {
	close(j.done)
}
