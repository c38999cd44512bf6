package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kbstack/kb-ingest/config"
	"github.com/kbstack/kb-ingest/internal/embed"
	"github.com/kbstack/kb-ingest/internal/extract"
	"github.com/kbstack/kb-ingest/internal/ingest"
	"github.com/kbstack/kb-ingest/internal/state"
	"github.com/kbstack/kb-ingest/internal/store"
	"github.com/kbstack/kb-ingest/pkg/logger"
	"github.com/kbstack/kb-ingest/pkg/worker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	outputs := []string{"stdout"}
	if cfg.Log.File != "" {
		outputs = append(outputs, cfg.Log.File)
	}
	log, err := logger.NewLogger(
		logger.WithLevel(cfg.Log.Level),
		logger.WithEncoding(cfg.Log.Encoding),
		logger.WithOutputPaths(outputs),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
	runState := state.New(rdb)

	db, err := store.OpenPostgres(cfg.Postgres.DSN)
	if err != nil {
		log.Fatal("Failed to connect to postgres", logger.Error(err))
	}
	defer db.Close()
	catalog := store.NewCatalog(db, log)

	fulltext := store.NewFulltext(cfg.Meilisearch.URL, cfg.Meilisearch.APIKey, cfg.Meilisearch.Index)

	vectors, err := store.NewVector(cfg.Qdrant.Host, cfg.Qdrant.Port, log)
	if err != nil {
		log.Fatal("Failed to connect to qdrant", logger.Error(err))
	}
	defer vectors.Close()

	extractor := extract.New(extract.Config{
		PdftotextBin: cfg.Extract.PdftotextBin,
		SofficeBin:   cfg.Extract.SofficeBin,
	}, log)

	embedCfg := embed.Config{
		InferenceURL: cfg.Embed.InferenceURL,
		OllamaURL:    cfg.Embed.OllamaURL,
		Timeout:      cfg.Embed.Timeout,
	}
	newEmbedder := func(model string) (embed.Embedder, error) {
		return embed.New(model, embedCfg, log)
	}

	orchestrator := ingest.NewOrchestrator(
		ingest.Config{
			Root:         cfg.Ingest.Root,
			ChunkSize:    cfg.Ingest.ChunkSize,
			ChunkOverlap: cfg.Ingest.ChunkOverlap,
			FlushEvery:   cfg.Ingest.FlushEvery,
			Prune:        cfg.Ingest.Prune,
			PausePoll:    2 * time.Second,
		},
		extractor, catalog, fulltext, vectors, runState, newEmbedder, log,
	)

	w := worker.NewIngestWorker(worker.Config{
		RedisAddr: cfg.Redis.Addr,
		RedisDB:   cfg.Redis.DB,
	}, orchestrator, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := w.Start(ctx); err != nil {
		log.Fatal("Failed to start worker", logger.Error(err))
	}
	log.Info("Worker started", logger.String("root", cfg.Ingest.Root))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down worker...")
	w.Stop()
	log.Info("Worker stopped")
}
