// Package state publishes ingestion run state to Redis for the
// monitoring surfaces. The orchestrator is the only writer; the API
// handlers and the CLI monitor only read.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kbstack/kb-ingest/internal/models"
)

const (
	keyProgress   = "kb:progress"
	keyCurrentDoc = "kb:current_doc"
	keyFailed     = "kb:failed_docs"
	keyLog        = "kb:processing_log"
	keyStats      = "kb:stats"
	keyPause      = "kb:ingestion_pause"
	keyStop       = "kb:ingestion_stop"

	// Failure list and processing log are bounded; monitors only ever
	// want the recent tail.
	listCap = 100
)

// Store is the Redis-backed run-state store.
type Store struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Reset clears per-run state at the start of an ingestion pass. The
// pause flag survives on purpose: an operator who paused before
// enqueueing expects the new run to start paused.
func (s *Store) Reset(ctx context.Context) error {
	if err := s.rdb.Del(ctx, keyFailed, keyCurrentDoc, keyStop).Err(); err != nil {
		return fmt.Errorf("reset run state: %w", err)
	}
	return s.setJSON(ctx, keyStats, models.Stats{})
}

func (s *Store) SetProgress(ctx context.Context, p models.Progress) error {
	return s.setJSON(ctx, keyProgress, p)
}

func (s *Store) Progress(ctx context.Context) (models.Progress, error) {
	var p models.Progress
	if err := s.getJSON(ctx, keyProgress, &p); err != nil && !errors.Is(err, redis.Nil) {
		return p, err
	}
	return p, nil
}

// SetCurrentDoc publishes the document in flight; nil clears it.
func (s *Store) SetCurrentDoc(ctx context.Context, doc *models.CurrentDoc) error {
	if doc == nil {
		return s.rdb.Del(ctx, keyCurrentDoc).Err()
	}
	doc.TS = nowTS()
	return s.setJSON(ctx, keyCurrentDoc, doc)
}

func (s *Store) CurrentDoc(ctx context.Context) (*models.CurrentDoc, error) {
	var doc models.CurrentDoc
	if err := s.getJSON(ctx, keyCurrentDoc, &doc); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return &doc, nil
}

// PushFailed records one failed document, most recent first, trimming
// the list to its cap.
func (s *Store) PushFailed(ctx context.Context, failed models.FailedDoc) error {
	failed.TS = nowTS()
	data, err := json.Marshal(failed)
	if err != nil {
		return fmt.Errorf("marshal failure: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.LPush(ctx, keyFailed, data)
	pipe.LTrim(ctx, keyFailed, 0, listCap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push failure: %w", err)
	}
	return nil
}

func (s *Store) Failures(ctx context.Context, n int64) ([]models.FailedDoc, error) {
	return readList[models.FailedDoc](ctx, s, keyFailed, n)
}

func (s *Store) FailedCount(ctx context.Context) (int64, error) {
	return s.rdb.LLen(ctx, keyFailed).Result()
}

// AddLog appends one processing-log entry, most recent first, bounded.
func (s *Store) AddLog(ctx context.Context, entry models.LogEntry) error {
	entry.Timestamp = nowTS()
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal log entry: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.LPush(ctx, keyLog, data)
	pipe.LTrim(ctx, keyLog, 0, listCap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push log entry: %w", err)
	}
	return nil
}

func (s *Store) Log(ctx context.Context, n int64) ([]models.LogEntry, error) {
	return readList[models.LogEntry](ctx, s, keyLog, n)
}

// UpdateStats applies mutate to the current aggregate counters.
func (s *Store) UpdateStats(ctx context.Context, mutate func(*models.Stats)) error {
	var stats models.Stats
	if err := s.getJSON(ctx, keyStats, &stats); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	mutate(&stats)
	return s.setJSON(ctx, keyStats, stats)
}

func (s *Store) Stats(ctx context.Context) (models.Stats, error) {
	var stats models.Stats
	if err := s.getJSON(ctx, keyStats, &stats); err != nil && !errors.Is(err, redis.Nil) {
		return stats, err
	}
	return stats, nil
}

// Pause-flag surface. Set/cleared by the admin handlers, polled by the
// orchestrator between files.
func (s *Store) Pause(ctx context.Context) error {
	return s.rdb.Set(ctx, keyPause, "1", 0).Err()
}

func (s *Store) Resume(ctx context.Context) error {
	return s.rdb.Del(ctx, keyPause).Err()
}

func (s *Store) Paused(ctx context.Context) bool {
	n, err := s.rdb.Exists(ctx, keyPause).Result()
	return err == nil && n > 0
}

// Stop is advisory: the orchestrator finishes the file in flight and
// exits its loop at the next check.
func (s *Store) Stop(ctx context.Context) error {
	return s.rdb.Set(ctx, keyStop, "1", 0).Err()
}

func (s *Store) Stopped(ctx context.Context) bool {
	n, err := s.rdb.Exists(ctx, keyStop).Result()
	return err == nil && n > 0
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) setJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := s.rdb.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *Store) getJSON(ctx context.Context, key string, v any) error {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}

func readList[T any](ctx context.Context, s *Store, key string, n int64) ([]T, error) {
	if n <= 0 || n > listCap {
		n = listCap
	}
	raw, err := s.rdb.LRange(ctx, key, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("range %s: %w", key, err)
	}
	out := make([]T, 0, len(raw))
	for _, item := range raw {
		var v T
		if err := json.Unmarshal([]byte(item), &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func nowTS() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
