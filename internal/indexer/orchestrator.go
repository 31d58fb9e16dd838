package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"farcaster-indexer/internal/merkle"
	"farcaster-indexer/internal/metrics"
	"farcaster-indexer/internal/storage"
)

const (
	profileChunkSize = 500
	castChunkSize    = 1000

	// Runs beyond this are logged for optimization, not failed.
	slowRunThreshold = 60 * time.Second
)

// Source produces raw records from the upstream API.
type Source interface {
	GetAllCasts(ctx context.Context, opts merkle.FetchOptions, known merkle.CastChecker) ([]merkle.Cast, error)
	GetAllProfiles(ctx context.Context, opts merkle.FetchOptions, known merkle.ProfileChecker) ([]merkle.Profile, error)
}

// Store is the slice of storage the orchestrator writes through.
type Store interface {
	merkle.CastChecker
	merkle.ProfileChecker
	UpsertCasts(ctx context.Context, casts []storage.FlattenedCast, chunkSize int) (int, error)
	UpsertProfiles(ctx context.Context, profiles []storage.FlattenedProfile, chunkSize int) (int, error)
}

// Embedder generates embeddings for freshly indexed casts.
type Embedder interface {
	EmbedCasts(ctx context.Context, casts []storage.FlattenedCast, persist bool) ([]storage.CastEmbedding, error)
}

// Orchestrator sequences profile indexing, cast indexing, and the optional
// embedding follow-on stage. Any stage failure fails the run; re-invocation
// is the retry mechanism, upsert idempotence makes that safe.
type Orchestrator struct {
	source   Source
	store    Store
	embedder Embedder
}

func NewOrchestrator(source Source, store Store, embedder Embedder) *Orchestrator {
	return &Orchestrator{
		source:   source,
		store:    store,
		embedder: embedder,
	}
}

// RunOptions selects the run mode.
type RunOptions struct {
	// Incremental stops fetching once a known record is reached.
	Incremental bool
	// MaxCasts caps the cast fetch; zero means no cap.
	MaxCasts int
	// GenerateEmbeddings runs the embedding stage over newly indexed casts.
	GenerateEmbeddings bool
}

// Stats summarizes one indexing run.
type Stats struct {
	RunID               string
	ProfilesFetched     int
	ProfilesIndexed     int
	CastsFetched        int
	CastsIndexed        int
	EmbeddingsGenerated int
	Duration            time.Duration
}

func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (*Stats, error) {
	start := time.Now()
	stats := &Stats{RunID: uuid.New().String()}
	mode := "full"
	if opts.Incremental {
		mode = "incremental"
	}

	log := slog.With(slog.String("run_id", stats.RunID), slog.String("mode", mode))
	log.Info("Starting indexing run", slog.Int("max_casts", opts.MaxCasts))

	if err := o.indexProfiles(ctx, opts, stats, log); err != nil {
		metrics.IndexRuns.WithLabelValues(mode, "error").Inc()
		return stats, err
	}

	if err := o.indexCasts(ctx, opts, stats, log); err != nil {
		metrics.IndexRuns.WithLabelValues(mode, "error").Inc()
		return stats, err
	}

	stats.Duration = time.Since(start)
	metrics.IndexRuns.WithLabelValues(mode, "success").Inc()
	metrics.IndexRunDuration.Observe(stats.Duration.Seconds())

	if stats.Duration > slowRunThreshold {
		log.Warn("Indexing run exceeded duration threshold",
			slog.Duration("duration", stats.Duration),
			slog.Int("casts", stats.CastsIndexed),
			slog.Int("profiles", stats.ProfilesIndexed))
	}

	log.Info("Indexing run complete",
		slog.Int("profiles_indexed", stats.ProfilesIndexed),
		slog.Int("casts_indexed", stats.CastsIndexed),
		slog.Int("embeddings_generated", stats.EmbeddingsGenerated),
		slog.Duration("duration", stats.Duration))

	return stats, nil
}

func (o *Orchestrator) indexProfiles(ctx context.Context, opts RunOptions, stats *Stats, log *slog.Logger) error {
	profiles, err := o.source.GetAllProfiles(ctx, merkle.FetchOptions{StopAtKnown: opts.Incremental}, o.store)
	if err != nil {
		return fmt.Errorf("failed to fetch profiles: %w", err)
	}
	stats.ProfilesFetched = len(profiles)

	flattened := FillProfileGaps(NormalizeProfiles(profiles))

	written, err := o.store.UpsertProfiles(ctx, flattened, profileChunkSize)
	stats.ProfilesIndexed = written
	if err != nil {
		return fmt.Errorf("failed to index profiles: %w", err)
	}

	metrics.ProfilesIndexed.Add(float64(written))
	log.Info("Indexed profiles",
		slog.Int("fetched", stats.ProfilesFetched),
		slog.Int("indexed", written))
	return nil
}

func (o *Orchestrator) indexCasts(ctx context.Context, opts RunOptions, stats *Stats, log *slog.Logger) error {
	casts, err := o.source.GetAllCasts(ctx, merkle.FetchOptions{
		Limit:       opts.MaxCasts,
		StopAtKnown: opts.Incremental,
	}, o.store)
	if err != nil {
		return fmt.Errorf("failed to fetch casts: %w", err)
	}
	stats.CastsFetched = len(casts)

	flattened := NormalizeCasts(casts)

	written, err := o.store.UpsertCasts(ctx, flattened, castChunkSize)
	stats.CastsIndexed = written
	if err != nil {
		return fmt.Errorf("failed to index casts: %w", err)
	}

	metrics.CastsIndexed.Add(float64(written))
	log.Info("Indexed casts",
		slog.Int("fetched", stats.CastsFetched),
		slog.Int("indexed", written))

	if opts.GenerateEmbeddings && o.embedder != nil && len(flattened) > 0 {
		embeddings, err := o.embedder.EmbedCasts(ctx, flattened, true)
		if err != nil {
			return fmt.Errorf("failed to generate embeddings: %w", err)
		}
		stats.EmbeddingsGenerated = len(embeddings)
		log.Info("Generated embeddings", slog.Int("count", len(embeddings)))
	}

	return nil
}
