package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"farcaster-indexer/internal/config"
	"farcaster-indexer/internal/handlers"
	"farcaster-indexer/internal/indexer"
	"farcaster-indexer/internal/jobs"
	"farcaster-indexer/internal/logging"
	"farcaster-indexer/internal/merkle"
	"farcaster-indexer/internal/metrics"
	"farcaster-indexer/internal/middleware"
	"farcaster-indexer/internal/services"
	"farcaster-indexer/internal/storage"
)

type serviceBundle struct {
	Config           *config.Config
	Store            *storage.PostgresStore
	MerkleClient     *merkle.Client
	EmbeddingService *services.EmbeddingService
	Recommender      *services.RecommendationService
	Orchestrator     *indexer.Orchestrator
}

func initializeServices() (*serviceBundle, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := storage.NewPostgresStore(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	merkleClient := merkle.NewClient(cfg.MerkleAPIURL, cfg.MerkleAuthToken)
	embeddingService := services.NewEmbeddingService(cfg.OpenAIAPIKey, store)
	recommender := services.NewRecommendationService(store, embeddingService)
	orchestrator := indexer.NewOrchestrator(merkleClient, store, embeddingService)

	return &serviceBundle{
		Config:           cfg,
		Store:            store,
		MerkleClient:     merkleClient,
		EmbeddingService: embeddingService,
		Recommender:      recommender,
		Orchestrator:     orchestrator,
	}, nil
}

func main() {
	logging.SetupLogger()

	app := &cli.App{
		Name:  "farcaster-indexer",
		Usage: "Index Farcaster casts and profiles and serve embedding-based recommendations",
		Commands: []*cli.Command{
			{
				Name:   "index",
				Usage:  "Run one indexing pass over profiles and casts",
				Action: indexCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Max number of recent casts to index (0 = no cap)",
						Value: 0,
					},
					&cli.BoolFlag{
						Name:  "incremental",
						Usage: "Stop fetching once already-indexed records are reached",
					},
					&cli.BoolFlag{
						Name:  "embeddings",
						Usage: "Generate embeddings for newly indexed casts",
						Value: true,
					},
				},
			},
			{
				Name:   "embeddings",
				Usage:  "Backfill embeddings for casts that do not have one yet",
				Action: embeddingsCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Max number of casts to embed in this pass",
						Value: 10000,
					},
				},
			},
			{
				Name:   "recommend",
				Usage:  "Recommend casts or users based on a user's casts or likes",
				Action: recommendCommand,
				Flags: []cli.Flag{
					&cli.Float64Flag{
						Name:     "threshold",
						Usage:    "Minimum cosine similarity in (0,1]",
						Required: true,
					},
					&cli.IntFlag{
						Name:     "count",
						Usage:    "Max results per input cast",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "recommendation-type",
						Usage:    `Output shape: "users" or "casts"`,
						Required: true,
					},
					&cli.Int64Flag{
						Name:  "fid",
						Usage: "User id whose casts seed the recommendation",
					},
					&cli.BoolFlag{
						Name:  "likes",
						Usage: "Seed with the authenticated user's liked casts instead",
					},
				},
			},
			{
				Name:   "search",
				Usage:  "Semantic search over indexed casts",
				Action: searchCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "text",
						Usage:    "Query text",
						Required: true,
					},
					&cli.Float64Flag{
						Name:  "threshold",
						Usage: "Minimum cosine similarity in (0,1]",
						Value: 0.75,
					},
					&cli.IntFlag{
						Name:  "count",
						Usage: "Max results",
						Value: 10,
					},
				},
			},
			{
				Name:   "serve",
				Usage:  "Run the HTTP API with a background incremental indexing job",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "index-interval",
						Usage: "Interval between incremental indexing runs",
						Value: time.Minute,
					},
					&cli.IntFlag{
						Name:  "index-limit",
						Usage: "Max casts per incremental run (0 = no cap)",
						Value: 10000,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func indexCommand(c *cli.Context) error {
	bundle, err := initializeServices()
	if err != nil {
		return err
	}
	defer bundle.Store.Close()

	stats, err := bundle.Orchestrator.Run(c.Context, indexer.RunOptions{
		Incremental:        c.Bool("incremental"),
		MaxCasts:           c.Int("limit"),
		GenerateEmbeddings: c.Bool("embeddings"),
	})
	if err != nil {
		return err
	}

	slog.Info("Index run finished",
		slog.String("run_id", stats.RunID),
		slog.Int("profiles", stats.ProfilesIndexed),
		slog.Int("casts", stats.CastsIndexed),
		slog.Int("embeddings", stats.EmbeddingsGenerated))
	return nil
}

func embeddingsCommand(c *cli.Context) error {
	bundle, err := initializeServices()
	if err != nil {
		return err
	}
	defer bundle.Store.Close()

	generated, err := runEmbeddingBackfill(c.Context, bundle.Store, bundle.EmbeddingService, c.Int("limit"))
	if err != nil {
		return err
	}
	if generated == 0 {
		slog.Info("No casts without embeddings")
		return nil
	}

	slog.Info("Embedding backfill finished", slog.Int("generated", generated))
	return nil
}

type backfillStore interface {
	GetCastsWithoutEmbeddings(ctx context.Context, limit int) ([]storage.FlattenedCast, error)
}

type castEmbedder interface {
	EmbedCasts(ctx context.Context, casts []storage.FlattenedCast, persist bool) ([]storage.CastEmbedding, error)
}

// runEmbeddingBackfill embeds one batch of casts that lack an embedding row
// and keeps the backlog gauge current.
func runEmbeddingBackfill(ctx context.Context, store backfillStore, embedder castEmbedder, limit int) (int, error) {
	casts, err := store.GetCastsWithoutEmbeddings(ctx, limit)
	if err != nil {
		return 0, err
	}
	metrics.CastsWithoutEmbeddings.Set(float64(len(casts)))
	if len(casts) == 0 {
		return 0, nil
	}

	embeddings, err := embedder.EmbedCasts(ctx, casts, true)
	if err != nil {
		return 0, err
	}

	metrics.CastsWithoutEmbeddings.Sub(float64(len(embeddings)))
	return len(embeddings), nil
}

func recommendCommand(c *cli.Context) error {
	bundle, err := initializeServices()
	if err != nil {
		return err
	}
	defer bundle.Store.Close()

	ctx := c.Context
	var seeds []storage.FlattenedCast

	if c.Bool("likes") {
		seeds, err = likedCasts(ctx, bundle)
		if err != nil {
			return err
		}
	} else {
		fid := c.Int64("fid")
		if fid <= 0 {
			return fmt.Errorf("either --fid or --likes is required")
		}
		seeds, err = authorSeeds(ctx, bundle.Store, bundle.MerkleClient, fid)
		if err != nil {
			return err
		}
	}

	result, err := bundle.Recommender.Recommend(ctx, services.Query{
		Casts:     filterMinLength(seeds),
		Threshold: c.Float64("threshold"),
		Count:     c.Int("count"),
		Shape:     services.Shape(c.String("recommendation-type")),
	})
	if err != nil {
		return err
	}

	return printJSON(result)
}

type authorCastReader interface {
	GetCastsByAuthor(ctx context.Context, fid int64, limit int) ([]storage.FlattenedCast, error)
}

type userCastFetcher interface {
	GetUserCasts(ctx context.Context, fid int64) ([]merkle.Cast, error)
}

// authorSeeds loads a user's recent casts from storage, falling back to the
// upstream API when the fid has not been indexed yet.
func authorSeeds(ctx context.Context, store authorCastReader, client userCastFetcher, fid int64) ([]storage.FlattenedCast, error) {
	seeds, err := store.GetCastsByAuthor(ctx, fid, 50)
	if err != nil {
		return nil, err
	}
	if len(seeds) > 0 {
		return seeds, nil
	}

	raw, err := client.GetUserCasts(ctx, fid)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch casts for fid %d: %w", fid, err)
	}
	return indexer.NormalizeCasts(raw), nil
}

// likedCasts resolves the authenticated user's liked cast hashes to stored
// cast rows.
func likedCasts(ctx context.Context, bundle *serviceBundle) ([]storage.FlattenedCast, error) {
	user, err := bundle.MerkleClient.GetCurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch current user: %w", err)
	}

	likes, err := bundle.MerkleClient.GetUserCastLikes(ctx, user.Fid)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch liked casts: %w", err)
	}
	if len(likes) == 0 {
		return nil, fmt.Errorf("no liked casts found for fid %d", user.Fid)
	}

	hashes := make([]string, len(likes))
	for i, like := range likes {
		hashes[i] = like.CastHash
	}

	casts, err := bundle.Store.GetCastsByHashes(ctx, hashes)
	if err != nil {
		return nil, err
	}
	if len(casts) == 0 {
		return nil, fmt.Errorf("none of the liked casts are indexed yet")
	}
	return casts, nil
}

func searchCommand(c *cli.Context) error {
	bundle, err := initializeServices()
	if err != nil {
		return err
	}
	defer bundle.Store.Close()

	casts, err := bundle.Recommender.Search(c.Context, c.String("text"), c.Float64("threshold"), c.Int("count"))
	if err != nil {
		return err
	}
	if len(casts) == 0 {
		fmt.Println("No casts found")
		return nil
	}

	return printJSON(casts)
}

func serveCommand(c *cli.Context) error {
	bundle, err := initializeServices()
	if err != nil {
		return err
	}
	defer bundle.Store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	indexingJob := jobs.NewIndexingJob(bundle.Orchestrator, c.Duration("index-interval"), c.Int("index-limit"))
	go indexingJob.Start(ctx)

	recommendHandler := handlers.NewRecommendHandler(bundle.Recommender, bundle.Store)

	router := mux.NewRouter()
	router.Use(middleware.LoggingMiddleware)
	router.Use(middleware.MetricsMiddleware)

	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.Use(middleware.APIRateLimitMiddleware())
	apiRouter.HandleFunc("/recommend", recommendHandler.HandleRecommend).Methods("POST")
	apiRouter.HandleFunc("/search", recommendHandler.HandleSearch).Methods("POST")

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Ready"))
	}).Methods("GET")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	server := &http.Server{
		Addr:         ":" + bundle.Config.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("Server starting", slog.String("port", bundle.Config.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Server shutting down...")

	cancel()
	indexingJob.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("Server exited gracefully")
	return nil
}

func filterMinLength(casts []storage.FlattenedCast) []storage.FlattenedCast {
	filtered := casts[:0]
	for _, cast := range casts {
		if len(cast.Text) > services.MinRecommendationTextLen {
			filtered = append(filtered, cast)
		}
	}
	return filtered
}

func printJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
