package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 512, cfg.Chunker.TargetTokens)
	assert.Equal(t, 1024, cfg.Chunker.MaxTokens)
	assert.Equal(t, 50, cfg.Chunker.OverlapTokens)
	assert.Equal(t, 768, cfg.Embedding.Dimension)
	assert.Equal(t, 100, cfg.Embedding.BatchSize)
	assert.Equal(t, int64(100<<20), cfg.Parser.MaxFileSize)
	assert.Equal(t, []string{"kor", "eng"}, cfg.Parser.OCRLanguages)
	assert.Equal(t, 50, cfg.Parser.MaxRowsPerSegment)
	assert.Equal(t, "fs", cfg.Storage.Backend)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.AllowedOrigins)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 9999
chunker:
  targetTokens: 256
  maxTokens: 512
search:
  alpha: 0.5
ingestion:
  staleAfter: 5m
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv("CO_SEARCH_BETA", "0.9")
	t.Setenv("CO_KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("CO_OCR_LANGUAGES", "kor+eng+jpn")
	t.Setenv("CO_SERVER_PORT", "not-a-number")
	t.Setenv("CO_SERVER_ALLOWED_ORIGINS", "https://chat.example.com,http://localhost:5173")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port, "bad env value keeps the YAML value")
	assert.Equal(t, 256, cfg.Chunker.TargetTokens)
	assert.Equal(t, 512, cfg.Chunker.MaxTokens)
	assert.Equal(t, 0.5, cfg.Search.Alpha)
	assert.Equal(t, 0.9, cfg.Search.Beta)
	assert.Equal(t, 5*time.Minute, cfg.Ingestion.StaleAfter)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, []string{"kor", "eng", "jpn"}, cfg.Parser.OCRLanguages)
	assert.Equal(t, []string{"https://chat.example.com", "http://localhost:5173"}, cfg.Server.AllowedOrigins)
}

func TestLoadRejectsInvalidChunkerBounds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chunker:\n  targetTokens: 600\n  maxTokens: 500\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
