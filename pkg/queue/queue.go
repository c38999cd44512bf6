// Package queue enqueues ingestion runs onto the asynq-backed job
// queue consumed by the worker process.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/kbstack/kb-ingest/internal/ingest"
)

// TaskTypeIngestionRun is the single task type the worker handles.
const TaskTypeIngestionRun = "ingestion:run"

// QueueIngestion is the dedicated queue name; the worker drains it
// with concurrency one, so runs never overlap.
const QueueIngestion = "ingestion"

// runTimeout bounds one ingestion pass end to end. Large corpora take
// hours, not days.
const runTimeout = 12 * time.Hour

type Config struct {
	RedisAddr string
	RedisDB   int
}

// Client enqueues runs and answers "is a run already queued or active".
type Client struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

func NewClient(cfg Config) *Client {
	opt := asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB}
	return &Client{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
	}
}

// EnqueueRun queues one ingestion run and returns its task id. A run
// already pending or active is an error: overlapping runs would fight
// over the shared progress keys.
func (c *Client) EnqueueRun(ctx context.Context, params ingest.Params) (string, error) {
	active, err := c.RunActive()
	if err != nil {
		return "", err
	}
	if active {
		return "", fmt.Errorf("an ingestion run is already queued or active")
	}

	payload, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("marshal run params: %w", err)
	}

	task := asynq.NewTask(TaskTypeIngestionRun, payload,
		asynq.Queue(QueueIngestion),
		asynq.MaxRetry(0),
		asynq.Timeout(runTimeout),
	)
	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		return "", fmt.Errorf("enqueue ingestion run: %w", err)
	}
	return info.ID, nil
}

// RunActive reports whether the ingestion queue holds a pending or
// active task.
func (c *Client) RunActive() (bool, error) {
	for _, list := range []func(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error){
		c.inspector.ListActiveTasks,
		c.inspector.ListPendingTasks,
	} {
		tasks, err := list(QueueIngestion, asynq.PageSize(1))
		if err != nil {
			if errors.Is(err, asynq.ErrQueueNotFound) {
				continue
			}
			return false, fmt.Errorf("inspect ingestion queue: %w", err)
		}
		if len(tasks) > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// DecodeRunParams parses a run payload, filling in the default mode
// and model.
func DecodeRunParams(payload []byte) (ingest.Params, error) {
	var p ingest.Params
	if err := json.Unmarshal(payload, &p); err != nil {
		return p, fmt.Errorf("unmarshal run params: %w", err)
	}
	if p.Mode == "" {
		p.Mode = ingest.ModeFull
	}
	if p.Model == "" {
		p.Model = "sentence-transformer"
	}
	return p, nil
}
