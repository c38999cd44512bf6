package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/kbstack/kb-ingest/api/handlers"
	"github.com/kbstack/kb-ingest/api/routes"
	"github.com/kbstack/kb-ingest/config"
	"github.com/kbstack/kb-ingest/internal/state"
	"github.com/kbstack/kb-ingest/internal/store"
	"github.com/kbstack/kb-ingest/pkg/logger"
	"github.com/kbstack/kb-ingest/pkg/queue"
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

	queueClient := queue.NewClient(queue.Config{RedisAddr: cfg.Redis.Addr, RedisDB: cfg.Redis.DB})
	defer queueClient.Close()

	h := handlers.NewHandlers(queueClient, runState, catalog, log)
	r := gin.New()
	r.Use(gin.Recovery())
	routes.SetupRoutes(r, h)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: r,
	}

	go func() {
		log.Info("Server starting", logger.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", logger.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", logger.Error(err))
	}
}
