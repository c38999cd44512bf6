package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbstack/kb-ingest/internal/ingest"
	"github.com/kbstack/kb-ingest/internal/models"
	"github.com/kbstack/kb-ingest/internal/state"
	"github.com/kbstack/kb-ingest/pkg/logger"
)

type fakeQueue struct {
	last ingest.Params
	err  error
}

func (f *fakeQueue) EnqueueRun(_ context.Context, params ingest.Params) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.last = params
	return "task-1", nil
}

type fakeFacets struct{}

func (fakeFacets) Distinct(_ context.Context, field string) ([]string, error) {
	if field == "year" {
		return []string{"2021", "2022"}, nil
	}
	return nil, errors.New("not a facet column: " + field)
}

func newTestRouter(t *testing.T) (*gin.Engine, *fakeQueue, *state.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	st := state.New(rdb)

	q := &fakeQueue{}
	h := NewIngestionHandler(q, st, fakeFacets{}, logger.Nop())

	r := gin.New()
	r.POST("/run", h.StartRun)
	r.POST("/pause", h.Pause)
	r.POST("/resume", h.Resume)
	r.POST("/stop", h.Stop)
	r.GET("/progress", h.Progress)
	r.GET("/failures", h.Failures)
	r.GET("/stats", h.Stats)
	r.GET("/facets/:field", h.Facet)
	return r, q, st
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestStartRunDefaults(t *testing.T) {
	r, q, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/run", "{}")

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, ingest.ModeFull, q.last.Mode)
	assert.Equal(t, "sentence-transformer", q.last.Model)
}

func TestStartRunExplicitParams(t *testing.T) {
	r, q, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/run", `{"mode":"incremental","model":"llama3"}`)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, ingest.ModeIncremental, q.last.Mode)
	assert.Equal(t, "llama3", q.last.Model)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "task-1", resp["taskId"])
}

func TestStartRunRejectsUnknownMode(t *testing.T) {
	r, _, _ := newTestRouter(t)
	w := doJSON(t, r, http.MethodPost, "/run", `{"mode":"turbo"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStartRunConflict(t *testing.T) {
	r, q, _ := newTestRouter(t)
	q.err = errors.New("an ingestion run is already queued or active")

	w := doJSON(t, r, http.MethodPost, "/run", "{}")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestPauseResumeStopFlags(t *testing.T) {
	r, _, st := newTestRouter(t)
	ctx := context.Background()

	assert.Equal(t, http.StatusOK, doJSON(t, r, http.MethodPost, "/pause", "").Code)
	assert.True(t, st.Paused(ctx))

	assert.Equal(t, http.StatusOK, doJSON(t, r, http.MethodPost, "/resume", "").Code)
	assert.False(t, st.Paused(ctx))

	assert.Equal(t, http.StatusOK, doJSON(t, r, http.MethodPost, "/stop", "").Code)
	assert.True(t, st.Stopped(ctx))
}

func TestProgressReflectsState(t *testing.T) {
	r, _, st := newTestRouter(t)
	require.NoError(t, st.SetProgress(context.Background(), models.Progress{
		Running: true, Done: 4, Total: 9, Stage: "processing-llama3",
	}))

	w := doJSON(t, r, http.MethodGet, "/progress", "")
	require.Equal(t, http.StatusOK, w.Code)

	var p models.Progress
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.True(t, p.Running)
	assert.Equal(t, 4, p.Done)
	assert.Equal(t, "processing-llama3", p.Stage)
}

func TestFailuresEndpoint(t *testing.T) {
	r, _, st := newTestRouter(t)
	require.NoError(t, st.PushFailed(context.Background(), models.FailedDoc{
		Filename: "bad.pdf", Stage: "extracting", Error: "boom",
	}))

	w := doJSON(t, r, http.MethodGet, "/failures", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Count    int                `json:"count"`
		Failures []models.FailedDoc `json:"failures"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	require.Len(t, resp.Failures, 1)
	assert.Equal(t, "bad.pdf", resp.Failures[0].Filename)
}

func TestFacetEndpoint(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/facets/year", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "2021")

	w = doJSON(t, r, http.MethodGet, "/facets/bogus", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
