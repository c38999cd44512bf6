// Package ingest drives one ingestion run over the corpus tree:
// extract, catalog, chunk, embed, index. Files fail individually; the
// run keeps going.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/kbstack/kb-ingest/internal/chunker"
	"github.com/kbstack/kb-ingest/internal/embed"
	"github.com/kbstack/kb-ingest/internal/metadata"
	"github.com/kbstack/kb-ingest/internal/models"
	"github.com/kbstack/kb-ingest/internal/store"
	"github.com/kbstack/kb-ingest/pkg/logger"
)

// Run modes. Full reprocesses everything; incremental skips files
// whose mtime has not moved past the catalog's record.
const (
	ModeFull        = "full"
	ModeIncremental = "incremental"
)

// Pipeline step labels published through the current-doc blob.
const (
	stepExtracting  = "extracting"
	stepCatalog     = "postgres"
	stepChunking    = "chunking"
	stepEmbedding   = "embedding"
	stepVectors     = "qdrant"
	stepFulltext    = "meilisearch"
)

const defaultFlushEvery = 50

// Extractor yields a document's plain text, empty when nothing could
// be extracted.
type Extractor interface {
	Extract(ctx context.Context, path string) string
}

// Catalog is the relational store surface the run needs.
type Catalog interface {
	EnsureSchema(ctx context.Context) error
	Upsert(ctx context.Context, doc *models.Document) error
	ModTimes(ctx context.Context) (map[string]time.Time, error)
	IDs(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, ids []string) error
}

// Fulltext is the keyword-index surface the run needs.
type Fulltext interface {
	EnsureIndex(ctx context.Context) error
	AddDocuments(ctx context.Context, docs []store.IndexDoc) error
	DeleteDocuments(ctx context.Context, ids []string) error
}

// VectorStore is the vector-collection surface the run needs.
type VectorStore interface {
	EnsureCollection(ctx context.Context, name string, dimension int) error
	UpsertChunks(ctx context.Context, collection string, doc *models.Document, chunks []models.Chunk) error
	DeleteDocument(ctx context.Context, collection, docID string) error
}

// RunState publishes progress and control flags; Paused and Stopped
// are polled between files.
type RunState interface {
	Reset(ctx context.Context) error
	SetProgress(ctx context.Context, p models.Progress) error
	SetCurrentDoc(ctx context.Context, doc *models.CurrentDoc) error
	PushFailed(ctx context.Context, failed models.FailedDoc) error
	AddLog(ctx context.Context, entry models.LogEntry) error
	UpdateStats(ctx context.Context, mutate func(*models.Stats)) error
	Paused(ctx context.Context) bool
	Stopped(ctx context.Context) bool
}

// EmbedderFactory builds the embedder for the run's model. Indirected
// so tests can substitute a deterministic embedder.
type EmbedderFactory func(model string) (embed.Embedder, error)

// Config tunes one orchestrator instance.
type Config struct {
	Root         string
	ChunkSize    int
	ChunkOverlap int
	// FlushEvery bounds the full-text batch; defaults to 50.
	FlushEvery int
	// Prune removes catalog entries whose file disappeared. Off by
	// default: the index is append-only unless asked otherwise.
	Prune bool
	// PausePoll is the sleep between pause-flag checks.
	PausePoll time.Duration
}

// Params select what one run does.
type Params struct {
	Mode  string `json:"mode"`
	Model string `json:"model"`
	// Root overrides the configured corpus root when set.
	Root string `json:"root,omitempty"`
}

// Orchestrator owns one run at a time over the configured stores.
type Orchestrator struct {
	cfg       Config
	extractor Extractor
	catalog   Catalog
	fulltext  Fulltext
	vectors   VectorStore
	state     RunState
	newEmbed  EmbedderFactory
	chunker   *chunker.Chunker
	log       logger.Logger
}

func NewOrchestrator(
	cfg Config,
	extractor Extractor,
	catalog Catalog,
	fulltext Fulltext,
	vectors VectorStore,
	runState RunState,
	newEmbed EmbedderFactory,
	log logger.Logger,
) *Orchestrator {
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = defaultFlushEvery
	}
	if cfg.PausePoll <= 0 {
		cfg.PausePoll = 2 * time.Second
	}
	return &Orchestrator{
		cfg:       cfg,
		extractor: extractor,
		catalog:   catalog,
		fulltext:  fulltext,
		vectors:   vectors,
		state:     runState,
		newEmbed:  newEmbed,
		chunker:   chunker.New(cfg.ChunkSize, cfg.ChunkOverlap),
		log:       log,
	}
}

// Run executes one ingestion pass. It returns an error only when the
// run could not start or was torn down by context cancellation;
// individual file failures are recorded and do not surface here.
func (o *Orchestrator) Run(ctx context.Context, params Params) error {
	mc, err := embed.Lookup(params.Model)
	if err != nil {
		return err
	}
	root := o.cfg.Root
	if params.Root != "" {
		root = params.Root
	}

	if err := o.state.Reset(ctx); err != nil {
		return fmt.Errorf("reset run state: %w", err)
	}

	files, err := collectFiles(root)
	if err != nil {
		return o.failRun(ctx, params.Model, "walk", fmt.Errorf("walk %s: %w", root, err))
	}

	o.setStage(ctx, true, 0, len(files), "init-"+params.Model)

	if err := o.catalog.EnsureSchema(ctx); err != nil {
		return o.failRun(ctx, params.Model, "postgres-init", err)
	}
	if err := o.fulltext.EnsureIndex(ctx); err != nil {
		return o.failRun(ctx, params.Model, "meilisearch-init", err)
	}
	collection := mc.CollectionPrefix
	if err := o.vectors.EnsureCollection(ctx, collection, mc.Dimension); err != nil {
		return o.failRun(ctx, params.Model, "qdrant-init", err)
	}
	embedder, err := o.newEmbed(params.Model)
	if err != nil {
		return o.failRun(ctx, params.Model, "embedder-init", err)
	}
	defer embedder.Close()

	var known map[string]time.Time
	if params.Mode == ModeIncremental {
		known, err = o.catalog.ModTimes(ctx)
		if err != nil {
			return o.failRun(ctx, params.Model, "postgres-init", err)
		}
	}

	o.log.Info("ingestion started",
		logger.String("mode", params.Mode),
		logger.String("model", params.Model),
		logger.String("root", root),
		logger.Int("files", len(files)),
	)

	stage := "processing-" + params.Model
	o.setStage(ctx, true, 0, len(files), stage)

	seen := make(map[string]struct{}, len(files))
	pending := make([]store.IndexDoc, 0, o.cfg.FlushEvery)
	done := 0
	stopped := false

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if o.state.Stopped(ctx) {
			o.log.Info("stop requested, ending run early", logger.Int("done", done))
			stopped = true
			break
		}
		if err := o.waitWhilePaused(ctx, done, len(files), stage); err != nil {
			return err
		}

		seen[file.ID] = struct{}{}

		if known != nil {
			if prev, ok := known[file.ID]; ok && !file.ModTime.After(prev) {
				done++
				continue
			}
		}

		res := o.processFile(ctx, embedder, collection, root, file, &pending)
		o.record(ctx, file, res)

		done++
		o.setStage(ctx, true, done, len(files), stage)

		if len(pending) >= o.cfg.FlushEvery {
			o.flushFulltext(ctx, &pending)
		}
	}

	o.flushFulltext(ctx, &pending)

	// Pruning against a partial snapshot would delete documents the
	// run never reached.
	if params.Mode == ModeFull && o.cfg.Prune && !stopped {
		o.prune(ctx, collection, seen)
	}

	finalStage := "done"
	if stopped {
		finalStage = "stopped"
	}
	o.state.SetCurrentDoc(ctx, nil)
	o.setStage(ctx, false, done, len(files), finalStage)
	o.log.Info("ingestion finished",
		logger.String("stage", finalStage),
		logger.Int("done", done),
		logger.Int("total", len(files)),
	)
	return nil
}

// fileResult is the outcome of one file for bookkeeping.
type fileResult struct {
	skipped bool
	chunks  int
	stage   string
	err     error
}

// processFile runs one file end to end. A panic anywhere in the chain
// is converted to a failure of that file alone.
func (o *Orchestrator) processFile(
	ctx context.Context,
	embedder embed.Embedder,
	collection, root string,
	file fileEntry,
	pending *[]store.IndexDoc,
) (res fileResult) {
	defer func() {
		if r := recover(); r != nil {
			res.err = fmt.Errorf("panic: %v", r)
		}
	}()

	res.stage = stepExtracting
	o.setCurrent(ctx, file, stepExtracting, "")

	text := o.extractor.Extract(ctx, file.Path)
	if text == "" {
		res.skipped = true
		return res
	}

	doc := &models.Document{
		ID:      file.ID,
		Path:    file.Path,
		Title:   file.Name,
		Content: text,
		ModTime: file.ModTime,
		Facets:  metadata.Parse(file.Path, root),
	}

	res.stage = stepCatalog
	o.setCurrent(ctx, file, stepCatalog, "")
	if err := o.catalog.Upsert(ctx, doc); err != nil {
		res.err = err
		return res
	}

	res.stage = stepChunking
	o.setCurrent(ctx, file, stepChunking, "")
	parts := o.chunker.Split(text)
	res.chunks = len(parts)

	chunks := make([]models.Chunk, len(parts))
	texts := make([]string, len(parts))
	for i, part := range parts {
		chunks[i] = models.Chunk{DocID: doc.ID, Index: i, Text: part}
		texts[i] = part
	}

	res.stage = stepEmbedding
	o.setCurrent(ctx, file, stepEmbedding, fmt.Sprintf("%d chunks", len(parts)))
	vectors, err := embedder.Embed(ctx, texts)
	if err != nil {
		res.err = err
		return res
	}
	if len(vectors) != len(chunks) {
		res.err = fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
		return res
	}
	for i := range chunks {
		chunks[i].Vector = vectors[i]
	}

	res.stage = stepVectors
	o.setCurrent(ctx, file, stepVectors, "")
	if err := o.vectors.UpsertChunks(ctx, collection, doc, chunks); err != nil {
		res.err = err
		return res
	}

	res.stage = stepFulltext
	o.setCurrent(ctx, file, stepFulltext, "")
	*pending = append(*pending, store.NewIndexDoc(doc))
	return res
}

// record books one file's outcome into the failure list, the
// processing log and the aggregate counters.
func (o *Orchestrator) record(ctx context.Context, file fileEntry, res fileResult) {
	switch {
	case res.err != nil:
		o.log.Warn("document failed",
			logger.String("file", file.ID),
			logger.String("stage", res.stage),
			logger.Error(res.err),
		)
		o.state.PushFailed(ctx, models.FailedDoc{
			Path:     file.Path,
			Filename: file.Name,
			Stage:    res.stage,
			Error:    res.err.Error(),
		})
		o.state.AddLog(ctx, models.LogEntry{
			Filename: file.Name,
			Status:   "failed",
			Error:    res.err.Error(),
		})
		o.state.UpdateStats(ctx, func(s *models.Stats) { s.Failed++ })

	case res.skipped:
		o.state.AddLog(ctx, models.LogEntry{Filename: file.Name, Status: "skipped"})

	default:
		o.state.AddLog(ctx, models.LogEntry{
			Filename: file.Name,
			Status:   "success",
			Chunks:   res.chunks,
			Indexed:  true,
			Vectored: true,
		})
		o.state.UpdateStats(ctx, func(s *models.Stats) {
			s.Success++
			s.Chunked += res.chunks
			s.Indexed++
			s.Vectorized++
		})
	}
}

// waitWhilePaused blocks between files while the pause flag is set.
// Stop and context cancellation both break the wait.
func (o *Orchestrator) waitWhilePaused(ctx context.Context, done, total int, stage string) error {
	if !o.state.Paused(ctx) {
		return nil
	}
	o.setStage(ctx, true, done, total, "paused")
	o.log.Info("ingestion paused", logger.Int("done", done))

	for o.state.Paused(ctx) && !o.state.Stopped(ctx) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(o.cfg.PausePoll):
		}
	}

	o.setStage(ctx, true, done, total, stage)
	o.log.Info("ingestion resumed", logger.Int("done", done))
	return nil
}

// flushFulltext sends the pending full-text batch; a failed flush is
// logged and dropped rather than aborting the run, since the catalog
// and vectors already hold the documents.
func (o *Orchestrator) flushFulltext(ctx context.Context, pending *[]store.IndexDoc) {
	if len(*pending) == 0 {
		return
	}
	if err := o.fulltext.AddDocuments(ctx, *pending); err != nil {
		o.log.Error("full-text batch flush failed",
			logger.Int("docs", len(*pending)),
			logger.Error(err),
		)
	}
	*pending = (*pending)[:0]
}

// prune removes documents whose source file no longer exists under the
// root. Only reached on an uninterrupted full run with pruning on.
func (o *Orchestrator) prune(ctx context.Context, collection string, seen map[string]struct{}) {
	ids, err := o.catalog.IDs(ctx)
	if err != nil {
		o.log.Error("prune skipped, catalog listing failed", logger.Error(err))
		return
	}

	var stale []string
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return
	}
	o.log.Info("pruning removed documents", logger.Int("count", len(stale)))

	if err := o.catalog.Delete(ctx, stale); err != nil {
		o.log.Error("prune: catalog delete failed", logger.Error(err))
	}
	if err := o.fulltext.DeleteDocuments(ctx, stale); err != nil {
		o.log.Error("prune: full-text delete failed", logger.Error(err))
	}
	for _, id := range stale {
		if err := o.vectors.DeleteDocument(ctx, collection, id); err != nil {
			o.log.Error("prune: vector delete failed",
				logger.String("doc", id), logger.Error(err))
		}
	}
}

func (o *Orchestrator) setStage(ctx context.Context, running bool, done, total int, stage string) {
	if err := o.state.SetProgress(ctx, models.Progress{
		Running: running,
		Done:    done,
		Total:   total,
		Stage:   stage,
	}); err != nil {
		o.log.Warn("progress update failed", logger.Error(err))
	}
}

func (o *Orchestrator) setCurrent(ctx context.Context, file fileEntry, step, details string) {
	o.state.SetCurrentDoc(ctx, &models.CurrentDoc{
		Filename: file.Name,
		Path:     file.Path,
		Step:     step,
		Details:  details,
	})
}

// failRun records a run that could not get past initialization.
func (o *Orchestrator) failRun(ctx context.Context, model, stage string, err error) error {
	o.log.Error("ingestion aborted",
		logger.String("stage", stage),
		logger.Error(err),
	)
	o.state.PushFailed(ctx, models.FailedDoc{Stage: stage, Error: err.Error()})
	o.setStage(ctx, false, 0, 0, "failed")
	return err
}
