package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbstack/kb-ingest/pkg/logger"
)

func TestLookup(t *testing.T) {
	mc, err := Lookup("sentence-transformer")
	require.NoError(t, err)
	assert.Equal(t, 384, mc.Dimension)
	assert.Equal(t, "kb_st", mc.CollectionPrefix)

	mc, err = Lookup("llama3")
	require.NoError(t, err)
	assert.Equal(t, 4096, mc.Dimension)

	_, err = Lookup("gpt-9000")
	assert.Error(t, err)
}

func vectorsOf(n, dim int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		out[i] = make([]float32, dim)
		out[i][0] = float32(i) + 1
	}
	return out
}

func TestLocalEmbedBatch(t *testing.T) {
	var gotReq embedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/device":
			json.NewEncoder(w).Encode(map[string]string{"device": "cpu"})
		case "/embed":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
			json.NewEncoder(w).Encode(embedResponse{Embeddings: vectorsOf(len(gotReq.Inputs), 384)})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	e, err := New("sentence-transformer", Config{InferenceURL: srv.URL}, logger.Nop())
	require.NoError(t, err)
	defer e.Close()

	vectors, err := e.Embed(context.Background(), []string{"one", "two", "three"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Len(t, vectors[0], 384)

	// CPU policy applies on a cpu device.
	assert.Equal(t, "cpu", gotReq.Device)
	assert.Equal(t, cpuBatchSize, gotReq.BatchSize)
}

func TestLocalEmbedOOMRetriesOnCPU(t *testing.T) {
	var embedCalls, cacheClears int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/device":
			json.NewEncoder(w).Encode(map[string]string{"device": "cuda"})
		case "/cache/clear":
			atomic.AddInt32(&cacheClears, 1)
		case "/embed":
			var req embedRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			if atomic.AddInt32(&embedCalls, 1) == 1 {
				assert.Equal(t, "cuda", req.Device)
				assert.Equal(t, gpuBatchSize, req.BatchSize)
				http.Error(w, "CUDA out of memory", http.StatusInternalServerError)
				return
			}
			assert.Equal(t, "cpu", req.Device)
			assert.Equal(t, cpuBatchSize, req.BatchSize)
			json.NewEncoder(w).Encode(embedResponse{Embeddings: vectorsOf(len(req.Inputs), 384)})
		}
	}))
	defer srv.Close()

	e, err := New("sentence-transformer", Config{InferenceURL: srv.URL}, logger.Nop())
	require.NoError(t, err)

	vectors, err := e.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vectors, 2)
	assert.EqualValues(t, 2, atomic.LoadInt32(&embedCalls))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&cacheClears), int32(1))
}

func TestLocalEmbedCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/device":
			json.NewEncoder(w).Encode(map[string]string{"device": "cpu"})
		case "/embed":
			json.NewEncoder(w).Encode(embedResponse{Embeddings: vectorsOf(1, 384)})
		}
	}))
	defer srv.Close()

	e, err := New("sentence-transformer", Config{InferenceURL: srv.URL}, logger.Nop())
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), []string{"a", "b"})
	assert.ErrorContains(t, err, "mismatch")
}

func TestLocalEmbedEmptyInput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"device": "cpu"})
	}))
	defer srv.Close()

	e, err := New("sentence-transformer", Config{InferenceURL: srv.URL}, logger.Nop())
	require.NoError(t, err)

	vectors, err := e.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
}

func TestOllamaEmbedPerText(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embeddings", r.URL.Path)
		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3", req.Model)
		atomic.AddInt32(&calls, 1)
		json.NewEncoder(w).Encode(ollamaResponse{Embedding: make([]float32, 4096)})
	}))
	defer srv.Close()

	e, err := New("llama3", Config{OllamaURL: srv.URL}, logger.Nop())
	require.NoError(t, err)

	vectors, err := e.Embed(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Len(t, vectors, 3)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestOllamaEmbedFailureYieldsZeroVector(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 2 {
			http.Error(w, "model crashed", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(ollamaResponse{Embedding: []float32{1, 2, 3}})
	}))
	defer srv.Close()

	e, err := New("mistral", Config{OllamaURL: srv.URL}, logger.Nop())
	require.NoError(t, err)

	vectors, err := e.Embed(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)

	// The failed text gets a zero vector of the model dimension; the
	// document still goes through.
	assert.Len(t, vectors[1], e.Dimension())
	assert.Zero(t, vectors[1][0])
	assert.EqualValues(t, 1, vectors[0][0])
}
