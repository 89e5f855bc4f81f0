// Package config provides configuration management for the memory layer
// daemons. Settings are resolved in three layers: built-in defaults, an
// optional YAML file under the user configuration directory, and finally
// environment variables, which always win.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the memory layer daemons.
// A single Config is shared by the three services; each one reads the
// sections it needs.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	LLM        LLMConfig        `yaml:"llm"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Composer   ComposerConfig   `yaml:"composer"`
}

// ServerConfig contains the HTTP listener settings for all three services.
type ServerConfig struct {
	Host          string `yaml:"host"`           // Bind host (default: 127.0.0.1)
	IngestionPort int    `yaml:"ingestion_port"` // Ingestion service port (default: 21953)
	IndexingPort  int    `yaml:"indexing_port"`  // Indexing service port (default: 21954)
	ComposerPort  int    `yaml:"composer_port"`  // Composer service port (default: 21955)
}

// StorageConfig contains database settings.
type StorageConfig struct {
	DBPath string `yaml:"db_path"` // SQLite file path (default: <config-dir>/MemoryLayer/memory.db)
}

// LLMConfig contains LLM provider configuration for optional extraction
// augmentation.
type LLMConfig struct {
	UseLLMExtraction bool   `yaml:"use_llm_extraction"` // Enable LLM-backed extraction (default: false)
	Provider         string `yaml:"provider"`           // Provider: ollama, openai (default: ollama)
	OllamaURL        string `yaml:"ollama_url"`         // Ollama API URL (default: http://localhost:11434)
	OllamaModel      string `yaml:"ollama_model"`       // Ollama model name (default: llama3.2:3b)
	OpenAIAPIKey     string `yaml:"openai_api_key"`     // OpenAI API key
	OpenAIBaseURL    string `yaml:"openai_base_url"`    // OpenAI-compatible endpoint (default: https://api.openai.com)
	OpenAIModel      string `yaml:"openai_model"`       // OpenAI model name (default: gpt-4o-mini)
	TimeoutSec       int    `yaml:"timeout_sec"`        // Per-call deadline in seconds (default: 30)
}

// ExtractionConfig contains the extraction pipeline tunables.
type ExtractionConfig struct {
	Workers   int    `yaml:"workers"`    // Extraction worker count (default: 2)
	QueueSize int    `yaml:"queue_size"` // Bounded work queue capacity (default: 256)
	Strategy  string `yaml:"strategy"`   // heuristic, llm_fallback, hybrid (default: heuristic)
}

// ComposerConfig contains the context composer tunables.
type ComposerConfig struct {
	CacheThreads  int `yaml:"cache_threads"`   // Capsule cache thread capacity (default: 16)
	CapsuleTTLSec int `yaml:"capsule_ttl_sec"` // Capsule lifetime in seconds (default: 600)
}

// Timeout returns the LLM call deadline as a duration.
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// Load resolves the configuration: defaults, then the YAML file when present,
// then environment variables.
func Load() (*Config, error) {
	cfg := defaultConfig()

	path, err := filePath()
	if err == nil {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// filePath returns the YAML config path under the user configuration
// directory.
func filePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "MemoryLayer", "config.yaml"), nil
}

func defaultConfig() *Config {
	dbPath := ""
	if dir, err := os.UserConfigDir(); err == nil {
		dbPath = filepath.Join(dir, "MemoryLayer", "memory.db")
	}
	return &Config{
		Server: ServerConfig{
			Host:          "127.0.0.1",
			IngestionPort: 21953,
			IndexingPort:  21954,
			ComposerPort:  21955,
		},
		Storage: StorageConfig{DBPath: dbPath},
		LLM: LLMConfig{
			Provider:      "ollama",
			OllamaURL:     "http://localhost:11434",
			OllamaModel:   "llama3.2:3b",
			OpenAIBaseURL: "https://api.openai.com",
			OpenAIModel:   "gpt-4o-mini",
			TimeoutSec:    30,
		},
		Extraction: ExtractionConfig{
			Workers:   2,
			QueueSize: 256,
			Strategy:  "heuristic",
		},
		Composer: ComposerConfig{
			CacheThreads:  16,
			CapsuleTTLSec: 600,
		},
	}
}

// applyFile overlays settings from the YAML file at path. A missing file is
// not an error; a malformed one is.
func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays settings from environment variables.
func applyEnv(cfg *Config) {
	cfg.Server.Host = getEnv("BIND_HOST", cfg.Server.Host)
	cfg.Server.IngestionPort = getEnvInt("INGESTION_PORT", cfg.Server.IngestionPort)
	cfg.Server.IndexingPort = getEnvInt("INDEXING_PORT", cfg.Server.IndexingPort)
	cfg.Server.ComposerPort = getEnvInt("COMPOSER_PORT", cfg.Server.ComposerPort)

	cfg.Storage.DBPath = getEnv("DB_PATH", cfg.Storage.DBPath)

	cfg.LLM.UseLLMExtraction = getEnvBool("USE_LLM_EXTRACTION", cfg.LLM.UseLLMExtraction)
	cfg.LLM.Provider = getEnv("LLM_PROVIDER", cfg.LLM.Provider)
	cfg.LLM.OllamaURL = getEnv("OLLAMA_URL", cfg.LLM.OllamaURL)
	cfg.LLM.OllamaModel = getEnv("OLLAMA_MODEL", cfg.LLM.OllamaModel)
	cfg.LLM.OpenAIAPIKey = getEnv("OPENAI_API_KEY", cfg.LLM.OpenAIAPIKey)
	cfg.LLM.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", cfg.LLM.OpenAIBaseURL)
	cfg.LLM.OpenAIModel = getEnv("OPENAI_MODEL", cfg.LLM.OpenAIModel)

	cfg.Extraction.Workers = getEnvInt("EXTRACTION_WORKERS", cfg.Extraction.Workers)
	cfg.Extraction.QueueSize = getEnvInt("EXTRACTION_QUEUE_SIZE", cfg.Extraction.QueueSize)
	cfg.Extraction.Strategy = getEnv("EXTRACTION_STRATEGY", cfg.Extraction.Strategy)
}

func (c *Config) validate() error {
	if c.Storage.DBPath == "" {
		return errors.New("config: database path is required")
	}
	if c.Extraction.Workers < 1 {
		return fmt.Errorf("config: extraction workers must be positive, got %d", c.Extraction.Workers)
	}
	if c.Extraction.QueueSize < 1 {
		return fmt.Errorf("config: extraction queue size must be positive, got %d", c.Extraction.QueueSize)
	}
	switch c.Extraction.Strategy {
	case "heuristic", "llm_fallback", "hybrid":
	default:
		return fmt.Errorf("config: unknown extraction strategy %q", c.Extraction.Strategy)
	}
	switch c.LLM.Provider {
	case "ollama", "openai":
	default:
		return fmt.Errorf("config: unknown llm provider %q", c.LLM.Provider)
	}
	return nil
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. An unparsable value falls back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default
// value. Accepts the forms strconv.ParseBool understands.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
