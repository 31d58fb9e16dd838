package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"farcaster-indexer/internal/metrics"
	"farcaster-indexer/internal/storage"
)

// Shape selects the output form of a recommendation query.
type Shape string

const (
	ShapeCasts Shape = "casts"
	ShapeUsers Shape = "users"
)

var (
	// ErrNoEmbeddings is returned when neither storage nor on-the-fly
	// generation yields a single embedding for the input casts.
	ErrNoEmbeddings = errors.New("no embeddings found for the input casts")

	// ErrInvalidShape is returned for an unrecognized recommendation shape.
	ErrInvalidShape = errors.New(`invalid recommendation shape: must be either "users" or "casts"`)

	// ErrInvalidQuery is returned for out-of-range query parameters, so the
	// HTTP boundary can answer with a client error instead of a 500.
	ErrInvalidQuery = errors.New("invalid query parameters")
)

// MinRecommendationTextLen is the floor below which a cast's text carries
// too little signal to seed or serve a recommendation. Shared by the engine,
// the HTTP handler, and the CLI.
const MinRecommendationTextLen = 15

// Concurrent similarity searches per query.
const maxConcurrentSearches = 8

// Query is one recommendation request. The same struct backs the CLI, the
// HTTP handler, and tests.
type Query struct {
	Casts     []storage.FlattenedCast
	Threshold float64
	Count     int
	Shape     Shape
}

func (q Query) Validate() error {
	if q.Shape != ShapeCasts && q.Shape != ShapeUsers {
		return fmt.Errorf("%w (got %q)", ErrInvalidShape, q.Shape)
	}
	if len(q.Casts) == 0 {
		return fmt.Errorf("%w: at least one input cast is required", ErrInvalidQuery)
	}
	if q.Threshold <= 0 || q.Threshold > 1 {
		return fmt.Errorf("%w: threshold must be in (0,1], got %g", ErrInvalidQuery, q.Threshold)
	}
	if q.Count <= 0 {
		return fmt.Errorf("%w: count must be positive, got %d", ErrInvalidQuery, q.Count)
	}
	return nil
}

// UserRecommendation is the author projection used by the users shape.
type UserRecommendation struct {
	Fid         int64   `json:"fid"`
	Username    *string `json:"username,omitempty"`
	DisplayName *string `json:"display_name,omitempty"`
	CastHash    string  `json:"cast_hash"`
}

// Result carries recommendations in the requested shape; exactly one of
// Casts/Users is populated.
type Result struct {
	Shape Shape                   `json:"shape"`
	Casts []storage.FlattenedCast `json:"casts,omitempty"`
	Users []UserRecommendation    `json:"users,omitempty"`
}

// SimilarityStore is the slice of storage the engine reads.
type SimilarityStore interface {
	GetEmbeddingsByHashes(ctx context.Context, hashes []string) ([]storage.CastEmbedding, error)
	MatchCastsBySimilarity(ctx context.Context, embedding []float32, threshold float64, count int) ([]storage.SimilarityMatch, error)
	GetCastsByHashes(ctx context.Context, hashes []string) ([]storage.FlattenedCast, error)
}

// CastEmbedder generates embeddings for casts and ad hoc text.
type CastEmbedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedCasts(ctx context.Context, casts []storage.FlattenedCast, persist bool) ([]storage.CastEmbedding, error)
}

// RecommendationService answers similarity-based recommendation queries
// over the cast embedding index.
type RecommendationService struct {
	store    SimilarityStore
	embedder CastEmbedder
}

func NewRecommendationService(store SimilarityStore, embedder CastEmbedder) *RecommendationService {
	return &RecommendationService{
		store:    store,
		embedder: embedder,
	}
}

// Recommend looks up (or generates) an embedding per input cast, fans out a
// similarity search per embedding, hydrates the candidates in one batched
// read, and merges the per-item lists into a deduplicated result.
//
// Missing embeddings are regenerated for the missing casts only, without
// persisting; each vector is tagged with its origin.
func (r *RecommendationService) Recommend(ctx context.Context, q Query) (*Result, error) {
	if err := q.Validate(); err != nil {
		metrics.RecommendationsServed.WithLabelValues(string(q.Shape), "invalid").Inc()
		return nil, err
	}

	start := time.Now()

	embeddings, err := r.resolveEmbeddings(ctx, q.Casts)
	if err != nil {
		metrics.RecommendationsServed.WithLabelValues(string(q.Shape), "error").Inc()
		return nil, err
	}

	// Per-item similarity fan-out; results keep input-item order so
	// first-seen dedup depends on input order, not completion order.
	perItem := make([][]storage.SimilarityMatch, len(embeddings))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentSearches)
	for i := range embeddings {
		i := i
		g.Go(func() error {
			matches, err := r.store.MatchCastsBySimilarity(gctx, embeddings[i].Embedding, q.Threshold, q.Count)
			if err != nil {
				return fmt.Errorf("failed to search similar casts: %w", err)
			}
			perItem[i] = matches
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		metrics.RecommendationsServed.WithLabelValues(string(q.Shape), "error").Inc()
		return nil, err
	}

	castByHash, err := r.hydrate(ctx, perItem)
	if err != nil {
		metrics.RecommendationsServed.WithLabelValues(string(q.Shape), "error").Inc()
		return nil, err
	}

	result := shapeAndDedup(q.Shape, perItem, castByHash)

	metrics.RecommendationsServed.WithLabelValues(string(q.Shape), "success").Inc()
	metrics.RecommendationDuration.Observe(time.Since(start).Seconds())

	return result, nil
}

// resolveEmbeddings returns one embedding per input cast, in input order,
// reading from storage and gap-filling only the missing casts on the fly.
func (r *RecommendationService) resolveEmbeddings(ctx context.Context, casts []storage.FlattenedCast) ([]storage.CastEmbedding, error) {
	hashes := make([]string, len(casts))
	for i, c := range casts {
		hashes[i] = c.Hash
	}

	cached, err := r.store.GetEmbeddingsByHashes(ctx, hashes)
	if err != nil {
		return nil, fmt.Errorf("failed to look up embeddings: %w", err)
	}

	byHash := make(map[string]storage.CastEmbedding, len(cached))
	for _, e := range cached {
		byHash[e.CastHash] = e
	}

	if len(byHash) < len(casts) {
		var missing []storage.FlattenedCast
		for _, c := range casts {
			if _, ok := byHash[c.Hash]; !ok {
				missing = append(missing, c)
			}
		}

		slog.Info("Generating missing embeddings on the fly",
			slog.Int("cached", len(byHash)),
			slog.Int("missing", len(missing)))

		generated, err := r.embedder.EmbedCasts(ctx, missing, false)
		if err != nil {
			return nil, err
		}
		for _, e := range generated {
			byHash[e.CastHash] = e
		}
	}

	embeddings := make([]storage.CastEmbedding, 0, len(casts))
	for _, c := range casts {
		if e, ok := byHash[c.Hash]; ok {
			embeddings = append(embeddings, e)
		}
	}

	if len(embeddings) == 0 {
		return nil, ErrNoEmbeddings
	}
	return embeddings, nil
}

// hydrate resolves every candidate hash to a full cast row in one batched
// lookup.
func (r *RecommendationService) hydrate(ctx context.Context, perItem [][]storage.SimilarityMatch) (map[string]storage.FlattenedCast, error) {
	seen := make(map[string]bool)
	var hashes []string
	for _, matches := range perItem {
		for _, m := range matches {
			if !seen[m.CastHash] {
				seen[m.CastHash] = true
				hashes = append(hashes, m.CastHash)
			}
		}
	}

	casts, err := r.store.GetCastsByHashes(ctx, hashes)
	if err != nil {
		return nil, fmt.Errorf("failed to hydrate recommended casts: %w", err)
	}

	byHash := make(map[string]storage.FlattenedCast, len(casts))
	for _, c := range casts {
		byHash[c.Hash] = c
	}
	return byHash, nil
}

func shapeAndDedup(shape Shape, perItem [][]storage.SimilarityMatch, castByHash map[string]storage.FlattenedCast) *Result {
	result := &Result{Shape: shape}
	seenCasts := make(map[string]bool)
	seenUsers := make(map[int64]bool)

	for _, matches := range perItem {
		for _, m := range matches {
			cast, ok := castByHash[m.CastHash]
			if !ok {
				continue
			}
			if len(cast.Text) <= MinRecommendationTextLen {
				continue
			}

			switch shape {
			case ShapeCasts:
				if seenCasts[cast.Hash] {
					continue
				}
				seenCasts[cast.Hash] = true
				result.Casts = append(result.Casts, cast)
			case ShapeUsers:
				if seenUsers[cast.AuthorFid] {
					continue
				}
				seenUsers[cast.AuthorFid] = true
				result.Users = append(result.Users, UserRecommendation{
					Fid:         cast.AuthorFid,
					Username:    cast.AuthorUsername,
					DisplayName: cast.AuthorDisplayName,
					CastHash:    cast.Hash,
				})
			}
		}
	}

	return result
}

// Search embeds ad hoc text and returns the stored casts most similar to
// it, most similar first.
func (r *RecommendationService) Search(ctx context.Context, text string, threshold float64, count int) ([]storage.FlattenedCast, error) {
	if threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("%w: threshold must be in (0,1], got %g", ErrInvalidQuery, threshold)
	}
	if count <= 0 {
		return nil, fmt.Errorf("%w: count must be positive, got %d", ErrInvalidQuery, count)
	}

	embedding, err := r.embedder.EmbedText(ctx, text)
	if err != nil {
		return nil, err
	}

	matches, err := r.store.MatchCastsBySimilarity(ctx, embedding, threshold, count)
	if err != nil {
		return nil, fmt.Errorf("failed to search similar casts: %w", err)
	}
	if len(matches) == 0 {
		return nil, nil
	}

	hashes := make([]string, len(matches))
	for i, m := range matches {
		hashes[i] = m.CastHash
	}

	casts, err := r.store.GetCastsByHashes(ctx, hashes)
	if err != nil {
		return nil, fmt.Errorf("failed to hydrate search results: %w", err)
	}

	byHash := make(map[string]storage.FlattenedCast, len(casts))
	for _, c := range casts {
		byHash[c.Hash] = c
	}

	// Preserve similarity rank order from the match step.
	ordered := make([]storage.FlattenedCast, 0, len(matches))
	for _, m := range matches {
		if c, ok := byHash[m.CastHash]; ok {
			ordered = append(ordered, c)
		}
	}
	return ordered, nil
}
