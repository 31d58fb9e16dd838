package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/sashabaranov/go-openai"

	"farcaster-indexer/internal/metrics"
	"farcaster-indexer/internal/storage"
)

// ErrEmbeddingRuntime wraps failures of the underlying embedding model. A
// single item failure fails the whole batch: a partial embedding set would
// break the 1:1 invariant with casts.
var ErrEmbeddingRuntime = errors.New("embedding runtime failure")

const (
	embeddingModel = openai.AdaEmbeddingV2

	// The model rejects inputs past ~8K tokens; budget ~4 chars per token.
	maxEmbedChars = 32000

	// Concurrent embedding calls per batch.
	maxConcurrentEmbeds = 8

	// Chunk size for persisting embeddings, tuned to payload limits.
	embeddingChunkSize = 1000

	// Batches slower than this are logged for optimization, not failed.
	slowBatchThreshold = 60 * time.Second
)

type embeddingClient interface {
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// EmbeddingStore persists generated embeddings keyed on cast hash.
type EmbeddingStore interface {
	UpsertEmbeddings(ctx context.Context, embeddings []storage.CastEmbedding, chunkSize int) (int, error)
}

// EmbeddingService turns cast text into unit-norm vectors via the OpenAI
// embeddings API. Texts past the model's input limit are split into
// segments whose vectors are mean-pooled before normalization.
type EmbeddingService struct {
	client embeddingClient
	store  EmbeddingStore
}

func NewEmbeddingService(apiKey string, store EmbeddingStore) *EmbeddingService {
	return &EmbeddingService{
		client: openai.NewClient(apiKey),
		store:  store,
	}
}

// EmbedText generates one unit-norm vector for a single text.
func (s *EmbeddingService) EmbedText(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: input text cannot be empty", ErrEmbeddingRuntime)
	}

	segments := splitSegments(text, maxEmbedChars)

	resp, err := s.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: segments,
		Model: embeddingModel,
	})
	if err != nil {
		metrics.OpenAIAPICalls.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingRuntime, err)
	}
	metrics.OpenAIAPICalls.WithLabelValues("success").Inc()

	if len(resp.Data) != len(segments) {
		return nil, fmt.Errorf("%w: embedding count mismatch: expected %d, got %d",
			ErrEmbeddingRuntime, len(segments), len(resp.Data))
	}

	vectors := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		vectors[i] = data.Embedding
	}

	return NormalizeL2(MeanPool(vectors)), nil
}

// EmbedCasts embeds every cast's text concurrently and, if persist is set,
// writes the results through the chunked upserter keyed on cast hash. Casts
// with no text (image-only) are skipped; the whole batch fails if any
// embedded item fails.
func (s *EmbeddingService) EmbedCasts(ctx context.Context, casts []storage.FlattenedCast, persist bool) ([]storage.CastEmbedding, error) {
	embeddable := make([]storage.FlattenedCast, 0, len(casts))
	for _, c := range casts {
		if strings.TrimSpace(c.Text) != "" {
			embeddable = append(embeddable, c)
		}
	}
	if skipped := len(casts) - len(embeddable); skipped > 0 {
		slog.Debug("skipping casts with no text", slog.Int("skipped", skipped))
	}
	casts = embeddable
	if len(casts) == 0 {
		return nil, nil
	}

	start := time.Now()

	pool, err := ants.NewPool(maxConcurrentEmbeds)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding pool: %w", err)
	}
	defer pool.Release()

	embeddings := make([]storage.CastEmbedding, len(casts))
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)

	for i := range casts {
		i := i
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()

			vec, err := s.EmbedText(ctx, casts[i].Text)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("failed to embed cast %s: %w", casts[i].Hash, err)
				}
				mu.Unlock()
				return
			}

			embeddings[i] = storage.CastEmbedding{
				CastHash:  casts[i].Hash,
				Embedding: vec,
				Origin:    storage.OriginGenerated,
			}
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to submit embedding task: %w", submitErr)
			}
			mu.Unlock()
		}
	}
	wg.Wait()

	if firstErr != nil {
		metrics.EmbeddingGenerations.WithLabelValues("error").Add(float64(len(casts)))
		return nil, firstErr
	}
	metrics.EmbeddingGenerations.WithLabelValues("success").Add(float64(len(casts)))

	if persist {
		if _, err := s.store.UpsertEmbeddings(ctx, embeddings, embeddingChunkSize); err != nil {
			return nil, fmt.Errorf("failed to persist embeddings: %w", err)
		}
	}

	duration := time.Since(start)
	metrics.EmbeddingBatchDuration.Observe(duration.Seconds())
	if duration > slowBatchThreshold {
		slog.Warn("Embedding batch exceeded duration threshold",
			slog.Int("count", len(casts)),
			slog.Bool("persisted", persist),
			slog.Duration("duration", duration))
	}

	return embeddings, nil
}

// splitSegments breaks text into pieces of at most max characters, cutting
// at a word boundary when one is close enough to the limit.
func splitSegments(text string, max int) []string {
	if len(text) <= max {
		return []string{text}
	}

	var segments []string
	for len(text) > max {
		cut := max
		if lastSpace := strings.LastIndex(text[:max], " "); lastSpace > 0 && lastSpace > max-100 {
			cut = lastSpace
		}
		segments = append(segments, text[:cut])
		text = strings.TrimLeft(text[cut:], " ")
	}
	if text != "" {
		segments = append(segments, text)
	}
	return segments
}
