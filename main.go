package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/negroni"

	"github.com/pendo/climate-assistant/auth"
	"github.com/pendo/climate-assistant/config"
	"github.com/pendo/climate-assistant/db"
	"github.com/pendo/climate-assistant/logging"
	"github.com/pendo/climate-assistant/pipeline_manager"
	"github.com/pendo/climate-assistant/rate_limiter"
	"github.com/pendo/climate-assistant/server"
	"github.com/pendo/climate-assistant/services/embedding_service"
	"github.com/pendo/climate-assistant/services/llm_service"
	"github.com/pendo/climate-assistant/services/rag_service"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogDir, slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer pool.Close()

	indexManager := rag_service.NewIndexManager(pool, logger)
	if err := indexManager.EnsureIndexes(ctx); err != nil {
		logger.Warn("Vector index maintenance failed", slog.String("error", err.Error()))
	}

	embedder := embedding_service.New(cfg.OpenAIAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDimension, logger)
	llm := llm_service.NewOpenAIService(cfg.OpenAIAPIURL, cfg.OpenAIAPIKey, cfg.ChatModel, logger)

	store := rag_service.NewStore(pool, cfg.EmbeddingDimension, logger)
	searcher := rag_service.NewSearcher(pool, logger)
	processor := rag_service.NewProcessor(store, embedder, cfg.ChunkSize, cfg.ChunkOverlap, logger)

	queue := pipeline_manager.New(processor, cfg.WorkerCount, cfg.QueueCapacity, logger)
	queue.Start(ctx)

	authService := auth.New(cfg.AuthBaseURL, cfg.AuthServiceKey, pool, logger)

	r := server.SetupRoutes(server.Deps{
		DB:        pool,
		Auth:      authService,
		Queue:     queue,
		Embedder:  embedder,
		Retriever: searcher,
		Resumes:   store,
		LLM:       llm,
		Logger:    logger,
	})

	n := negroni.New()
	n.Use(negroni.NewRecovery())
	n.Use(negroni.NewLogger())
	n.Use(rate_limiter.New(cfg.RateLimitPerMinute, cfg.RateLimitBurst, logger))
	n.UseHandler(r)

	if cfg.Environment == "production" {
		server.ServeProduction(n, cfg.Domains, cfg.CertCacheDir)
		return
	}

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      n,
		IdleTimeout:  time.Minute,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 3 * time.Minute,
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Shutdown failed", slog.String("error", err.Error()))
		}
	}()

	logger.Info("Server listening",
		slog.String("port", cfg.HTTPPort),
		slog.String("environment", cfg.Environment))
	server.ServeDevelopment(srv)
	<-shutdownDone
	logger.Info("Server stopped")
}
