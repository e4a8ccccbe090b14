package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/driftware/recall/internal/api"
	"github.com/driftware/recall/internal/config"
	"github.com/driftware/recall/internal/embedding"
	"github.com/driftware/recall/internal/llm"
	"github.com/driftware/recall/internal/memory"
	"github.com/driftware/recall/internal/search"
	"github.com/driftware/recall/internal/session"
	"github.com/driftware/recall/internal/store"
)

func main() {
	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Logger
	logLevel := slog.LevelInfo
	if cfg.LogLevel == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	// SQLite
	ctx := context.Background()
	engine, err := store.Open(ctx, cfg.DBPath, logger)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	// External services
	ollamaClient := embedding.NewOllamaClient(cfg.OllamaBaseURL, cfg.EmbeddingModel)
	completer := llm.NewOllamaClient(cfg.OllamaBaseURL, cfg.SummaryModel)

	// Embedding with cache and retries
	gateway := embedding.NewGateway(ollamaClient, engine.Cache, cfg.RetryMaxAttempts, cfg.CacheMaxEntries, logger)

	// Hybrid document search
	searcher := search.NewEngine(
		engine.Documents, engine.Documents, gateway,
		cfg.VectorWeight, cfg.KeywordWeight, logger,
	)

	// Memory
	memStore := memory.NewStore(engine.Memories, cfg.DedupThreshold, cfg.MaxMemoriesPerUser, logger)
	manager := memory.NewManager(memStore, gateway, completer, cfg.RecallMinScore, logger)

	// Session indexing and archiving
	indexer := session.NewIndexer(
		engine.Sessions, gateway,
		cfg.ChunkMaxChars, cfg.ChunkOverlapChars, cfg.ReindexMinNewMessages, logger,
	)
	archiver := session.NewArchiver(
		engine.Sessions, gateway, completer,
		cfg.MaxIndexedSessions, cfg.ArchiveAfterDays, cfg.ArchiveMaxInputChars, logger,
	)

	if err := ollamaClient.HealthCheck(ctx); err != nil {
		logger.Warn("ollama not available at startup, will retry on first use", "error", err)
	}

	// Router
	router := api.NewRouter(engine, gateway, searcher, memStore, manager, indexer, archiver, ollamaClient, cfg.APIKey, logger)

	// Server
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("recall server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("server stopped")
}
