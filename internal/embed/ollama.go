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

const defaultOllamaTimeout = 30 * time.Second

// ollamaEmbedder issues one embedding call per text; Ollama has no
// batch endpoint. A failing text yields a zero vector of the model
// dimension instead of failing the whole batch, so one bad chunk
// doesn't lose the document.
type ollamaEmbedder struct {
	client  *http.Client
	baseURL string
	mc      ModelConfig
	log     logger.Logger
}

func newOllama(mc ModelConfig, cfg Config, log logger.Logger) *ollamaEmbedder {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultOllamaTimeout
	}
	baseURL := cfg.OllamaURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &ollamaEmbedder{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimSuffix(baseURL, "/"),
		mc:      mc,
		log:     log,
	}
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (e *ollamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.embedOne(ctx, text)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.log.Error("ollama embedding failed",
				logger.Int("index", i),
				logger.Error(err),
			)
			vec = make([]float32, e.mc.Dimension)
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func (e *ollamaEmbedder) embedOne(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaRequest{Model: e.mc.Name, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama error (status %d): %s", resp.StatusCode, string(msg))
	}

	var out ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out.Embedding, nil
}

func (e *ollamaEmbedder) Dimension() int {
	return e.mc.Dimension
}

func (e *ollamaEmbedder) Model() string {
	return e.mc.Name
}

func (e *ollamaEmbedder) Close() error {
	return nil
}
