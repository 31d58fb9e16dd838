package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farcaster_indexer_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "farcaster_indexer_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Merkle API metrics
	MerklePagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farcaster_indexer_merkle_pages_fetched_total",
			Help: "Total number of pages fetched from the Merkle API",
		},
		[]string{"record_type"},
	)

	MerkleAPICalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farcaster_indexer_merkle_api_calls_total",
			Help: "Total number of Merkle API calls",
		},
		[]string{"endpoint", "status"},
	)

	// Indexing metrics
	CastsIndexed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "farcaster_indexer_casts_indexed_total",
			Help: "Total number of casts upserted into storage",
		},
	)

	ProfilesIndexed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "farcaster_indexer_profiles_indexed_total",
			Help: "Total number of profiles upserted into storage",
		},
	)

	IndexRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farcaster_indexer_index_runs_total",
			Help: "Total number of indexing runs",
		},
		[]string{"mode", "status"},
	)

	IndexRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "farcaster_indexer_index_run_duration_seconds",
			Help:    "Duration of indexing runs in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	// Storage metrics
	UpsertChunks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farcaster_indexer_upsert_chunks_total",
			Help: "Total number of upsert chunks written",
		},
		[]string{"table", "status"},
	)

	UpsertDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "farcaster_indexer_upsert_duration_seconds",
			Help:    "Duration of chunked upsert calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"table"},
	)

	// Embedding metrics
	EmbeddingGenerations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farcaster_indexer_embedding_generations_total",
			Help: "Total number of embedding generations",
		},
		[]string{"status"},
	)

	EmbeddingBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "farcaster_indexer_embedding_batch_duration_seconds",
			Help:    "Duration of embedding batch generation in seconds",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
		},
	)

	CastsWithoutEmbeddings = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "farcaster_indexer_casts_without_embeddings",
			Help: "Number of casts without embeddings",
		},
	)

	// Recommendation metrics
	RecommendationsServed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farcaster_indexer_recommendations_served_total",
			Help: "Total number of recommendation queries served",
		},
		[]string{"shape", "status"},
	)

	RecommendationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "farcaster_indexer_recommendation_duration_seconds",
			Help:    "Duration of recommendation queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// OpenAI metrics
	OpenAIAPICalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farcaster_indexer_openai_api_calls_total",
			Help: "Total number of OpenAI API calls",
		},
		[]string{"status"},
	)
)
