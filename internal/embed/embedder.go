// Package embed turns batches of text chunks into fixed-dimension
// vectors. Two interchangeable backends exist: a local inference
// sidecar that batches on an accelerator when one is present, and an
// Ollama server called one text at a time.
package embed

import (
	"context"
	"fmt"
	"time"

	"github.com/kbstack/kb-ingest/pkg/logger"
)

// Embedder is the contract the orchestrator consumes. Vectors come
// back in input order, one per text, all of Dimension() length.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Model() string
	Close() error
}

type backend string

const (
	backendLocal  backend = "local"
	backendOllama backend = "ollama"
)

// ModelConfig binds a selectable model name to its backend, vector
// dimension and vector-store collection prefix. The dimension must
// match the store collection; a mismatch is a fatal configuration
// error caught at collection-creation time.
type ModelConfig struct {
	Name             string
	Dimension        int
	CollectionPrefix string
	Backend          backend
}

var models = map[string]ModelConfig{
	"sentence-transformer": {Name: "all-MiniLM-L6-v2", Dimension: 384, CollectionPrefix: "kb_st", Backend: backendLocal},
	"llama3":               {Name: "llama3", Dimension: 4096, CollectionPrefix: "kb_llama3", Backend: backendOllama},
	"mistral":              {Name: "mistral", Dimension: 4096, CollectionPrefix: "kb_mistral", Backend: backendOllama},
}

// Lookup resolves a model selector from job params.
func Lookup(model string) (ModelConfig, error) {
	cfg, ok := models[model]
	if !ok {
		return ModelConfig{}, fmt.Errorf("unsupported model: %s", model)
	}
	return cfg, nil
}

// Config holds backend endpoints.
type Config struct {
	InferenceURL string        `yaml:"inferenceUrl"`
	OllamaURL    string        `yaml:"ollamaUrl"`
	Timeout      time.Duration `yaml:"timeout"`
}

// New constructs the embedder for the selected model.
func New(model string, cfg Config, log logger.Logger) (Embedder, error) {
	mc, err := Lookup(model)
	if err != nil {
		return nil, err
	}
	switch mc.Backend {
	case backendLocal:
		return newLocal(mc, cfg, log), nil
	case backendOllama:
		return newOllama(mc, cfg, log), nil
	}
	return nil, fmt.Errorf("unsupported backend: %s", mc.Backend)
}
