// cmd/tools/snapshot-builder/main.go
//
// Builds the schema snapshot offline: fetches the catalogue from the
// semantic layer, embeds every field and example, and writes the sealed
// snapshot file the server loads at boot.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/Nik853/semantic-layer-agent/internal/common/config"
	"github.com/Nik853/semantic-layer-agent/internal/common/logger"
	"github.com/Nik853/semantic-layer-agent/internal/embedding"
	"github.com/Nik853/semantic-layer-agent/internal/prompt"
	"github.com/Nik853/semantic-layer-agent/internal/schema"
)

func main() {
	var (
		outPath = flag.String("out", "", "output path (defaults to the configured snapshot path)")
		check   = flag.Bool("check", false, "verify the existing snapshot instead of building")
		timeout = flag.Duration("timeout", 10*time.Minute, "overall build timeout")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, "console")
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	path := cfg.Snapshot.Path
	if *outPath != "" {
		path = *outPath
	}

	if *check {
		snap, err := schema.LoadSnapshot(path)
		if err != nil {
			zapLog.Fatal("snapshot verification failed", zap.Error(err))
		}
		zapLog.Info("Snapshot OK",
			zap.String("path", path),
			zap.Int("fields", len(snap.Fields)),
			zap.Int("examples", len(snap.Examples)),
			zap.String("embeddingModel", snap.EmbeddingModel),
			zap.Time("builtAt", snap.BuiltAt),
		)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	embedder := embedding.NewHTTPEmbedder(embedding.Config{
		BaseURL:    cfg.Embedding.BaseURL,
		APIKey:     cfg.Embedding.APIKey,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		MaxRetries: cfg.Embedding.MaxRetries,
		Timeout:    cfg.Embedding.TimeoutDuration(),
	}, log)

	catalogue := schema.NewCatalogueClient(cfg.Cube.BaseURL, cfg.Cube.APIKey, cfg.Cube.TimeoutDuration())
	fields, err := catalogue.FetchCatalogue(ctx)
	if err != nil {
		zapLog.Fatal("catalogue fetch failed", zap.Error(err))
	}
	zapLog.Info("Catalogue fetched", zap.Int("fields", len(fields)))

	examples, err := prompt.LoadExamples(cfg.Semantics.ExamplesPath)
	if err != nil {
		zapLog.Fatal("examples load failed", zap.Error(err))
	}
	zapLog.Info("Examples loaded", zap.Int("examples", len(examples)))

	started := time.Now()
	snap, err := schema.BuildSnapshot(ctx, fields, examples, embedder)
	if err != nil {
		zapLog.Fatal("snapshot build failed", zap.Error(err))
	}

	if err := schema.SaveSnapshot(path, snap); err != nil {
		zapLog.Fatal("snapshot save failed", zap.Error(err))
	}

	zapLog.Info("Snapshot written",
		zap.String("path", path),
		zap.Int("fields", len(snap.Fields)),
		zap.Int("examples", len(snap.Examples)),
		zap.Duration("took", time.Since(started)),
	)
}
