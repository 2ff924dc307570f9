package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"voxkb/features/job"
	"voxkb/features/knowledge"
	"voxkb/features/stats"
	"voxkb/internal/adapter/gemini"
	"voxkb/internal/config"
	"voxkb/internal/extract"
	"voxkb/internal/ingest"
	"voxkb/internal/middleware"
	"voxkb/internal/retrieval"
	"voxkb/internal/settings"
	"voxkb/internal/vector"
)

// TaskPublisher is satisfied by *nsq.Producer.
type TaskPublisher interface {
	Publish(topic string, body []byte) error
}

type App struct {
	Handler          http.Handler
	KnowledgeService *knowledge.Service
	IngestConsumer   *ingest.Consumer

	port int
}

func New(cfg *config.Config, db *sql.DB, index vector.Index, taskPub TaskPublisher) (*App, error) {
	// Feature: Settings
	settingsRepo := settings.NewPostgresRepo(db)
	settingsService := settings.NewService(settingsRepo)

	// Seed Gemini API key from config so a fresh deployment works without a
	// manual settings call.
	if cfg.GeminiAPIKey != "" {
		ctx := context.Background()
		set, err := settingsService.Get(ctx)
		if err == nil {
			if set.GeminiAPIKey == "" {
				set.GeminiAPIKey = cfg.GeminiAPIKey
				if err := settingsService.Update(ctx, set); err != nil {
					slog.Warn("failed to seed gemini api key", "error", err)
				} else {
					slog.Info("seeded gemini api key from environment")
				}
			}
		} else {
			slog.Warn("failed to fetch settings for seeding", "error", err)
		}
	}

	settingsHandler := settings.NewHandler(settingsService)

	// Blob store for uploaded files
	blobs, err := extract.NewLocalBlobStore(cfg.UploadDir)
	if err != nil {
		return nil, fmt.Errorf("blob store: %w", err)
	}

	// Feature: Knowledge
	knowledgeRepo := knowledge.NewPostgresRepo(db)
	knowledgeService := knowledge.NewService(knowledgeRepo, taskPub, index, blobs)
	knowledgeHandler := knowledge.NewHandler(knowledgeService, int(cfg.MaxUploadSizeMB))

	// Feature: Job
	jobRepo := job.NewPostgresRepo(db)
	jobService := job.NewService(jobRepo, taskPub)
	jobHandler := job.NewHandler(jobService)

	// Feature: Stats
	statsHandler := stats.NewHandler(knowledgeRepo, jobRepo)

	// Adapters
	embedder := gemini.NewEmbedder(settingsService, cfg.GeminiAPIKey, cfg.EmbedBatchSize)
	extractor := extract.NewExtractor(blobs, time.Duration(cfg.FetchTimeoutSeconds)*time.Second)

	// Retrieval
	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}
	retrievalService := retrieval.NewService(embedder, index, settingsService, queryLogger, cfg.SearchTopK, cfg.ScoreThreshold)
	retrievalHandler := retrieval.NewHandler(retrievalService)

	// Ingestion worker
	runner := ingest.NewRunner(knowledgeRepo, extractor, embedder, index, jobService, cfg.ChunkWindowSize, cfg.ChunkOverlap)
	consumer := ingest.NewConsumer(runner, time.Duration(cfg.EmbedTimeoutSeconds)*time.Second*5)

	// Routes
	mux := http.NewServeMux()

	mux.Handle("POST /knowledge", middleware.CorrelationID(middleware.CORS(knowledgeHandler.Create)))
	mux.Handle("GET /knowledge", middleware.CorrelationID(middleware.CORS(knowledgeHandler.List)))
	mux.Handle("GET /knowledge/{id}", middleware.CorrelationID(middleware.CORS(knowledgeHandler.Get)))
	mux.Handle("GET /knowledge/{id}/chunks", middleware.CorrelationID(middleware.CORS(knowledgeHandler.GetChunks)))
	mux.Handle("DELETE /knowledge/{id}", middleware.CorrelationID(middleware.CORS(knowledgeHandler.Delete)))
	mux.Handle("POST /knowledge/{id}/resync", middleware.CorrelationID(middleware.CORS(knowledgeHandler.Resync)))

	mux.Handle("POST /retrieve", middleware.CorrelationID(middleware.CORS(retrievalHandler.Retrieve)))

	mux.Handle("GET /settings", middleware.CorrelationID(middleware.CORS(settingsHandler.GetSettings)))
	mux.Handle("PUT /settings", middleware.CorrelationID(middleware.CORS(settingsHandler.UpdateSettings)))

	mux.Handle("GET /jobs/failed", middleware.CorrelationID(middleware.CORS(jobHandler.List)))
	mux.Handle("POST /jobs/{id}/retry", middleware.CorrelationID(middleware.CORS(jobHandler.Retry)))

	mux.Handle("GET /stats", middleware.CorrelationID(middleware.CORS(statsHandler.GetStats)))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"status":"ok"}`)); err != nil {
			slog.Error("failed to write health response", "error", err)
		}
	})

	return &App{
		Handler:          mux,
		KnowledgeService: knowledgeService,
		IngestConsumer:   consumer,
		port:             cfg.ServerPort,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.port),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		if err := srv.Shutdown(context.Background()); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.port)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
