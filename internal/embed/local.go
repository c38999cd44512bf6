package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kbstack/kb-ingest/pkg/logger"
)

const (
	deviceCUDA = "cuda"
	deviceCPU  = "cpu"

	gpuBatchSize = 48
	cpuBatchSize = 16

	// Requests larger than this leave enough allocated on the
	// accelerator to be worth releasing eagerly.
	cacheClearThreshold = 32
)

// localEmbedder talks to a model-serving sidecar over HTTP. The sidecar
// owns the accelerator; this client owns device/batch policy: big
// batches on the GPU, a single CPU retry at reduced batch size when the
// accelerator runs out of memory, and explicit cache releases so a
// long ingestion pass doesn't accrete device memory.
type localEmbedder struct {
	client  *http.Client
	baseURL string
	mc      ModelConfig
	device  string
	log     logger.Logger
}

func newLocal(mc ModelConfig, cfg Config, log logger.Logger) *localEmbedder {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	e := &localEmbedder{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimSuffix(cfg.InferenceURL, "/"),
		mc:      mc,
		log:     log,
	}
	e.device = e.probeDevice()
	log.Info("embedding backend ready",
		logger.String("model", mc.Name),
		logger.String("device", e.device),
		logger.Int("batchSize", e.batchSize()),
	)
	return e
}

type embedRequest struct {
	Model     string   `json:"model"`
	Inputs    []string `json:"inputs"`
	Device    string   `json:"device"`
	BatchSize int      `json:"batch_size"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (e *localEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors, err := e.request(ctx, texts, e.device, e.batchSize())
	if err != nil && e.device == deviceCUDA && isOutOfMemory(err) {
		e.log.Warn("accelerator out of memory, retrying on cpu",
			logger.Int("texts", len(texts)),
			logger.Error(err),
		)
		e.clearCache(ctx)
		vectors, err = e.request(ctx, texts, deviceCPU, cpuBatchSize)
	}
	if err != nil {
		return nil, err
	}

	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d for %d texts", len(vectors), len(texts))
	}

	if e.device == deviceCUDA && len(texts) > cacheClearThreshold {
		e.clearCache(ctx)
	}
	return vectors, nil
}

func (e *localEmbedder) request(ctx context.Context, texts []string, device string, batchSize int) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{
		Model:     e.mc.Name,
		Inputs:    texts,
		Device:    device,
		BatchSize: batchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("inference error (status %d): %s", resp.StatusCode, string(msg))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	return out.Embeddings, nil
}

// probeDevice asks the sidecar what it is running on. Anything other
// than an explicit cuda answer means CPU policy.
func (e *localEmbedder) probeDevice() string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/device", http.NoBody)
	if err != nil {
		return deviceCPU
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return deviceCPU
	}
	defer resp.Body.Close()

	var out struct {
		Device string `json:"device"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return deviceCPU
	}
	if out.Device == deviceCUDA {
		return deviceCUDA
	}
	return deviceCPU
}

func (e *localEmbedder) clearCache(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/cache/clear", http.NoBody)
	if err != nil {
		return
	}
	resp, err := e.client.Do(req)
	if err != nil {
		e.log.Warn("cache clear failed", logger.Error(err))
		return
	}
	resp.Body.Close()
}

func (e *localEmbedder) batchSize() int {
	if e.device == deviceCUDA {
		return gpuBatchSize
	}
	return cpuBatchSize
}

func (e *localEmbedder) Dimension() int {
	return e.mc.Dimension
}

func (e *localEmbedder) Model() string {
	return e.mc.Name
}

// Close releases accelerator memory held by the sidecar for this model.
func (e *localEmbedder) Close() error {
	if e.device == deviceCUDA {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		e.clearCache(ctx)
	}
	return nil
}

func isOutOfMemory(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "out of memory")
}
