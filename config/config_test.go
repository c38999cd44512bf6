package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 1500, cfg.Ingest.ChunkSize)
	assert.Equal(t, 200, cfg.Ingest.ChunkOverlap)
	assert.Equal(t, 50, cfg.Ingest.FlushEvery)
	assert.False(t, cfg.Ingest.Prune)
	assert.Equal(t, 6334, cfg.Qdrant.Port)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
ingest:
  root: /data/kb
  chunkSize: 800
  prune: true
meilisearch:
  index: kb_test
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "/data/kb", cfg.Ingest.Root)
	assert.Equal(t, 800, cfg.Ingest.ChunkSize)
	assert.True(t, cfg.Ingest.Prune)
	assert.Equal(t, "kb_test", cfg.Meilisearch.Index)
	// Unset fields still default.
	assert.Equal(t, 200, cfg.Ingest.ChunkOverlap)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis.internal:6380")
	t.Setenv("KB_ROOT", "/mnt/corpus")
	t.Setenv("QDRANT_PORT", "7000")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, "/mnt/corpus", cfg.Ingest.Root)
	assert.Equal(t, 7000, cfg.Qdrant.Port)
}

func TestLoadMissingFileIsFine(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}
