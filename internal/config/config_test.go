package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 21953, cfg.Server.IngestionPort)
	assert.Equal(t, 21954, cfg.Server.IndexingPort)
	assert.Equal(t, 21955, cfg.Server.ComposerPort)
	assert.NotEmpty(t, cfg.Storage.DBPath)
	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, "http://localhost:11434", cfg.LLM.OllamaURL)
	assert.Equal(t, "llama3.2:3b", cfg.LLM.OllamaModel)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.OpenAIModel)
	assert.False(t, cfg.LLM.UseLLMExtraction)
	assert.Equal(t, "heuristic", cfg.Extraction.Strategy)
	assert.Equal(t, 16, cfg.Composer.CacheThreads)
	assert.Equal(t, 600, cfg.Composer.CapsuleTTLSec)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DB_PATH", "/tmp/override.db")
	t.Setenv("INGESTION_PORT", "31953")
	t.Setenv("USE_LLM_EXTRACTION", "true")
	t.Setenv("LLM_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("EXTRACTION_STRATEGY", "hybrid")
	t.Setenv("EXTRACTION_WORKERS", "4")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/override.db", cfg.Storage.DBPath)
	assert.Equal(t, 31953, cfg.Server.IngestionPort)
	assert.True(t, cfg.LLM.UseLLMExtraction)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "sk-test", cfg.LLM.OpenAIAPIKey)
	assert.Equal(t, "hybrid", cfg.Extraction.Strategy)
	assert.Equal(t, 4, cfg.Extraction.Workers)
}

func TestInvalidEnvFallsBack(t *testing.T) {
	t.Setenv("INDEXING_PORT", "not-a-number")
	t.Setenv("USE_LLM_EXTRACTION", "maybe")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 21954, cfg.Server.IndexingPort)
	assert.False(t, cfg.LLM.UseLLMExtraction)
}

func TestValidationRejectsBadValues(t *testing.T) {
	t.Setenv("EXTRACTION_STRATEGY", "psychic")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidationRejectsBadProvider(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "anthropic")
	_, err := Load()
	assert.Error(t, err)
}
