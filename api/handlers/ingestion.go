package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kbstack/kb-ingest/internal/ingest"
	"github.com/kbstack/kb-ingest/internal/state"
	"github.com/kbstack/kb-ingest/pkg/logger"
)

// Enqueuer submits ingestion runs to the job queue.
type Enqueuer interface {
	EnqueueRun(ctx context.Context, params ingest.Params) (string, error)
}

// FacetSource lists distinct values of one catalog facet column.
type FacetSource interface {
	Distinct(ctx context.Context, field string) ([]string, error)
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error,omitempty"`
	Message string `json:"message"`
}

// IngestionHandler exposes run control and monitoring endpoints. All
// run state comes from Redis; the handler never talks to the worker
// directly.
type IngestionHandler struct {
	queue  Enqueuer
	state  *state.Store
	facets FacetSource
	logger logger.Logger
}

func NewIngestionHandler(queue Enqueuer, st *state.Store, facets FacetSource, log logger.Logger) *IngestionHandler {
	return &IngestionHandler{
		queue:  queue,
		state:  st,
		facets: facets,
		logger: log,
	}
}

type runRequest struct {
	Mode  string `json:"mode"`
	Model string `json:"model"`
	Root  string `json:"root"`
}

// StartRun enqueues an ingestion run.
func (h *IngestionHandler) StartRun(c *gin.Context) {
	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		h.handleError(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Mode == "" {
		req.Mode = ingest.ModeFull
	}
	if req.Model == "" {
		req.Model = "sentence-transformer"
	}
	if req.Mode != ingest.ModeFull && req.Mode != ingest.ModeIncremental {
		h.handleError(c, http.StatusBadRequest, "Unknown mode: "+req.Mode, nil)
		return
	}

	taskID, err := h.queue.EnqueueRun(c.Request.Context(), ingest.Params{
		Mode:  req.Mode,
		Model: req.Model,
		Root:  req.Root,
	})
	if err != nil {
		h.handleError(c, http.StatusConflict, "Failed to enqueue run", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"taskId": taskID,
		"mode":   req.Mode,
		"model":  req.Model,
	})
}

// Pause sets the pause flag; the worker honors it between files.
func (h *IngestionHandler) Pause(c *gin.Context) {
	if err := h.state.Pause(c.Request.Context()); err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to pause", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Ingestion paused"})
}

func (h *IngestionHandler) Resume(c *gin.Context) {
	if err := h.state.Resume(c.Request.Context()); err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to resume", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Ingestion resumed"})
}

// Stop requests an early end; the file in flight still completes.
func (h *IngestionHandler) Stop(c *gin.Context) {
	if err := h.state.Stop(c.Request.Context()); err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to stop", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Stop requested"})
}

// Progress returns the coarse run progress.
func (h *IngestionHandler) Progress(c *gin.Context) {
	p, err := h.state.Progress(c.Request.Context())
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to read progress", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// Current returns the document in flight, or null between documents.
func (h *IngestionHandler) Current(c *gin.Context) {
	doc, err := h.state.CurrentDoc(c.Request.Context())
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to read current document", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"current": doc})
}

// Failures returns the recent failure list.
func (h *IngestionHandler) Failures(c *gin.Context) {
	n := queryInt(c, "limit", 50)
	failures, err := h.state.Failures(c.Request.Context(), int64(n))
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to read failures", err)
		return
	}
	count, _ := h.state.FailedCount(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"count": count, "failures": failures})
}

// Log returns the recent processing log, most recent first.
func (h *IngestionHandler) Log(c *gin.Context) {
	n := queryInt(c, "limit", 50)
	entries, err := h.state.Log(c.Request.Context(), int64(n))
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to read log", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"log": entries})
}

// Stats returns the aggregate counters of the current or last run.
func (h *IngestionHandler) Stats(c *gin.Context) {
	stats, err := h.state.Stats(c.Request.Context())
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to read stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Facet lists the distinct values of one facet column.
func (h *IngestionHandler) Facet(c *gin.Context) {
	field := c.Param("field")
	values, err := h.facets.Distinct(c.Request.Context(), field)
	if err != nil {
		h.handleError(c, http.StatusBadRequest, "Failed to list facet", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"field": field, "values": values})
}

// Health pings the state store.
func (h *IngestionHandler) Health(c *gin.Context) {
	if err := h.state.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *IngestionHandler) handleError(c *gin.Context, status int, message string, err error) {
	h.logger.Error(message,
		logger.String("path", c.Request.URL.Path),
		logger.Error(err),
	)

	response := ErrorResponse{Message: message}
	if err != nil {
		response.Error = err.Error()
	}
	c.JSON(status, response)
}

func queryInt(c *gin.Context, key string, fallback int) int {
	v := c.Query(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
