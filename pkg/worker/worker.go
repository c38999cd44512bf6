// Package worker runs the asynq server that executes ingestion runs.
package worker

import (
	"context"
	"time"

	"github.com/hibiken/asynq"

	"github.com/kbstack/kb-ingest/internal/ingest"
	"github.com/kbstack/kb-ingest/pkg/logger"
	"github.com/kbstack/kb-ingest/pkg/queue"
)

// Runner executes one ingestion pass.
type Runner interface {
	Run(ctx context.Context, params ingest.Params) error
}

type Config struct {
	RedisAddr string
	RedisDB   int
}

// IngestWorker consumes the ingestion queue. Concurrency is pinned to
// one: runs share the progress keys and must never overlap.
type IngestWorker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	runner Runner
	log    logger.Logger
}

func NewIngestWorker(cfg Config, runner Runner, log logger.Logger) *IngestWorker {
	server := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB},
		asynq.Config{
			Concurrency: 1,
			Queues: map[string]int{
				queue.QueueIngestion: 1,
			},
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				return time.Duration(n) * time.Minute
			},
		},
	)

	w := &IngestWorker{
		server: server,
		mux:    asynq.NewServeMux(),
		runner: runner,
		log:    log,
	}
	w.mux.HandleFunc(queue.TaskTypeIngestionRun, w.handleRun)
	return w
}

func (w *IngestWorker) handleRun(ctx context.Context, t *asynq.Task) error {
	params, err := queue.DecodeRunParams(t.Payload())
	if err != nil {
		w.log.Error("dropping malformed run task",
			logger.String("payload", string(t.Payload())),
			logger.Error(err),
		)
		// Retrying cannot fix a malformed payload.
		return nil
	}

	w.log.Info("ingestion run starting",
		logger.String("mode", params.Mode),
		logger.String("model", params.Model),
	)

	if err := w.runner.Run(ctx, params); err != nil {
		w.log.Error("ingestion run failed", logger.Error(err))
		return err
	}
	w.log.Info("ingestion run completed")
	return nil
}

// Start serves in the background until ctx is cancelled.
func (w *IngestWorker) Start(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		w.Stop()
	}()
	return nil
}

// Stop drains in-flight work and shuts the server down.
func (w *IngestWorker) Stop() {
	w.server.Stop()
	w.server.Shutdown()
}
