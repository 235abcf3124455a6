// cmd/agent-server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Nik853/semantic-layer-agent/internal/agent"
	"github.com/Nik853/semantic-layer-agent/internal/common/config"
	"github.com/Nik853/semantic-layer-agent/internal/common/database"
	"github.com/Nik853/semantic-layer-agent/internal/common/logger"
	"github.com/Nik853/semantic-layer-agent/internal/common/observability"
	"github.com/Nik853/semantic-layer-agent/internal/embedding"
	"github.com/Nik853/semantic-layer-agent/internal/executor"
	"github.com/Nik853/semantic-layer-agent/internal/generator"
	"github.com/Nik853/semantic-layer-agent/internal/lookup"
	"github.com/Nik853/semantic-layer-agent/internal/prompt"
	"github.com/Nik853/semantic-layer-agent/internal/retriever"
	"github.com/Nik853/semantic-layer-agent/internal/schema"
	"github.com/Nik853/semantic-layer-agent/internal/server"
	"github.com/Nik853/semantic-layer-agent/internal/validator"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting agent server...",
		zap.String("name", cfg.App.Name),
		zap.String("version", cfg.App.Version),
	)

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Embedder, optionally behind a Redis cache ---
	var embedder embedding.Embedder = embedding.NewHTTPEmbedder(embedding.Config{
		BaseURL:    cfg.Embedding.BaseURL,
		APIKey:     cfg.Embedding.APIKey,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		MaxRetries: cfg.Embedding.MaxRetries,
		Timeout:    cfg.Embedding.TimeoutDuration(),
	}, log)
	if cfg.Redis.Address != "" {
		rdb, err := database.NewRedis(cfg.Redis)
		if err != nil {
			zapLog.Fatal("redis client failed", zap.Error(err))
		}
		defer rdb.Close()

		if err := rdb.Ping(ctx); err != nil {
			zapLog.Warn("redis unreachable, embedding cache disabled", zap.Error(err))
		} else {
			embedder = embedding.NewCachedEmbedder(embedder, rdb, cfg.Embedding.CacheTTLDuration(), log)
			zapLog.Info("Embedding cache enabled", zap.String("address", cfg.Redis.Address))
		}
	}

	// --- Schema snapshot, rebuilt when missing or stale ---
	var snap *schema.Snapshot
	err = retryWithBackoff(func() error {
		var loadErr error
		snap, loadErr = loadOrBuildSnapshot(ctx, cfg, embedder, zapLog)
		return loadErr
	}, 5, 2*time.Second, zapLog, "Schema snapshot load")
	if err != nil {
		zapLog.Fatal("schema snapshot failed after retries", zap.Error(err))
	}
	zapLog.Info("Schema snapshot ready",
		zap.Int("fields", len(snap.Fields)),
		zap.Int("examples", len(snap.Examples)),
		zap.String("embeddingModel", snap.EmbeddingModel),
	)

	index, err := snap.Index()
	if err != nil {
		zapLog.Fatal("schema index build failed", zap.Error(err))
	}

	glossary, err := prompt.LoadGlossary(cfg.Semantics.GlossaryPath)
	if err != nil {
		zapLog.Fatal("glossary load failed", zap.Error(err))
	}
	zapLog.Info("Glossary loaded", zap.Int("terms", len(glossary.Terms())))

	val, err := validator.New(index, cfg.Agent.DefaultLimit, cfg.Agent.MaxLimit, log)
	if err != nil {
		zapLog.Fatal("validator init failed", zap.Error(err))
	}

	agentCore := agent.New(
		retriever.New(embedder, snap),
		glossary,
		index,
		generator.NewHTTPGenerator(generator.Config{
			BaseURL:     cfg.LLM.BaseURL,
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxRetries:  cfg.LLM.MaxRetries,
			Timeout:     cfg.LLM.TimeoutDuration(),
		}, log),
		val,
		executor.New(cfg.Cube.BaseURL, cfg.Cube.APIKey, cfg.Cube.TimeoutDuration(), log),
		lookup.New(cfg.Lookup.BaseURL, cfg.Lookup.TimeoutDuration(), log),
		agent.Options{
			RetrievalK:            cfg.Agent.RetrievalK,
			PromptExamples:        cfg.Agent.PromptExamples,
			MaxRegenerations:      cfg.Agent.MaxRegenerations,
			MaxConcurrentRequests: cfg.Agent.MaxConcurrentRequests,
			ListLimit:             cfg.Agent.ListLimit,
		},
		log,
	)

	srv := server.New(agentCore, obs, cfg.Server.RequestTimeoutDuration(), log)
	httpServer := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: srv.Handler(),
	}

	go func() {
		zapLog.Info("HTTP server listening", zap.String("address", cfg.Server.Address))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Fatal("http server failed", zap.Error(err))
		}
	}()

	// pprof on a side port in non-production environments.
	if cfg.App.Environment != "production" {
		go func() {
			zapLog.Info("pprof listening on :6060")
			http.ListenAndServe(":6060", nil)
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	zapLog.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("http server shutdown failed", zap.Error(err))
	}
	zapLog.Info("Shutdown complete")
}

// loadOrBuildSnapshot prefers the on-disk snapshot; a missing, corrupt
// or stale one triggers a rebuild from the live catalogue.
func loadOrBuildSnapshot(ctx context.Context, cfg *config.Config, embedder embedding.Embedder, zapLog *zap.Logger) (*schema.Snapshot, error) {
	snap, loadErr := schema.LoadSnapshot(cfg.Snapshot.Path)
	if loadErr != nil {
		zapLog.Warn("snapshot unusable, rebuilding", zap.Error(loadErr))
		return buildSnapshot(ctx, cfg, embedder)
	}

	if cfg.Snapshot.StalenessProbe {
		catalogue := schema.NewCatalogueClient(cfg.Cube.BaseURL, cfg.Cube.APIKey, cfg.Cube.TimeoutDuration())
		fields, err := catalogue.FetchCatalogue(ctx)
		if err != nil {
			zapLog.Warn("staleness probe failed, serving existing snapshot", zap.Error(err))
			return snap, nil
		}
		if snap.Stale(schema.CatalogueDigest(fields), embedder.Name()) {
			zapLog.Info("snapshot stale, rebuilding")
			return buildSnapshot(ctx, cfg, embedder)
		}
	}
	return snap, nil
}

func buildSnapshot(ctx context.Context, cfg *config.Config, embedder embedding.Embedder) (*schema.Snapshot, error) {
	catalogue := schema.NewCatalogueClient(cfg.Cube.BaseURL, cfg.Cube.APIKey, cfg.Cube.TimeoutDuration())
	fields, err := catalogue.FetchCatalogue(ctx)
	if err != nil {
		return nil, err
	}

	examples, err := prompt.LoadExamples(cfg.Semantics.ExamplesPath)
	if err != nil {
		return nil, err
	}

	snap, err := schema.BuildSnapshot(ctx, fields, examples, embedder)
	if err != nil {
		return nil, err
	}
	if err := schema.SaveSnapshot(cfg.Snapshot.Path, snap); err != nil {
		return nil, err
	}
	return snap, nil
}
