package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Vector index backends.
const (
	BackendFlat   = "flat"
	BackendQdrant = "qdrant"
)

// Config holds all configuration for the application.
type Config struct {
	DataDir   string
	DBPath    string
	DocsRoots []string
	APIPort   string

	LogLevel  slog.Level
	LogFormat string

	OllamaBaseURL string
	EmbedModel    string
	GenModel      string
	EmbedTimeout  time.Duration
	GenTimeout    time.Duration
	EmbedRPS      float64

	EmbedBatchSize     int
	ChunkTargetTokens  int
	ChunkOverlapTokens int
	ChunkMinTokens     int
	TokenizerEncoding  string
	ReconcileWorkers   int

	VectorBackend    string
	QdrantURL        string
	QdrantCollection string
	QdrantVectorSize int

	EmbedCacheSize  int
	SearchCacheSize int
	QACacheSize     int

	WatchEnabled  bool
	WatchDebounce time.Duration
}

// IndexPath returns the path of the serialized vector index.
func (c *Config) IndexPath() string { return filepath.Join(c.DataDir, "index.pkmv") }

// DocMapPath returns the path of the document map.
func (c *Config) DocMapPath() string { return filepath.Join(c.DataDir, "doc_index.json") }

// IDCounterPath returns the path of the vector id counter.
func (c *Config) IDCounterPath() string { return filepath.Join(c.DataDir, "id_counter.json") }

// Load reads configuration from environment variables and returns a Config struct.
// A .env file in the working directory or one of its parents is loaded first;
// variables already set in the environment take precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	wd, err := os.Getwd()
	if err == nil {
		dir := wd
		for i := 0; i < 5; i++ {
			envPath := filepath.Join(dir, ".env")
			if _, err := os.Stat(envPath); err == nil {
				_ = godotenv.Load(envPath)
				break
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	dataDir := getEnv("DATA_DIR", "./data")
	cfg := &Config{
		DataDir:           dataDir,
		DBPath:            getEnv("DB_PATH", filepath.Join(dataDir, "pkm.db")),
		DocsRoots:         splitList(getEnv("DOCS_ROOTS", "./docs")),
		APIPort:           getEnv("API_PORT", "8000"),
		LogFormat:         strings.ToLower(getEnv("LOG_FORMAT", "text")),
		OllamaBaseURL:     strings.TrimRight(getEnv("OLLAMA_BASE_URL", "http://localhost:11434"), "/"),
		EmbedModel:        getEnv("EMBED_MODEL", "nomic-embed-text"),
		GenModel:          getEnv("GEN_MODEL", "llama3.1:8b"),
		TokenizerEncoding: getEnv("TOKENIZER_ENCODING", "cl100k_base"),
		VectorBackend:     strings.ToLower(getEnv("VECTOR_BACKEND", BackendFlat)),
		QdrantURL:         getEnv("QDRANT_URL", "http://localhost:6333"),
		QdrantCollection:  getEnv("QDRANT_COLLECTION", "pkm_chunks"),
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL is invalid: %w", err)
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("LOG_FORMAT must be json or text, got %q", cfg.LogFormat)
	}

	ints := []struct {
		key  string
		def  int
		min  int
		dest *int
	}{
		{"EMBED_BATCH_SIZE", 64, 1, &cfg.EmbedBatchSize},
		{"CHUNK_TARGET_TOKENS", 350, 1, &cfg.ChunkTargetTokens},
		{"CHUNK_OVERLAP_TOKENS", 50, 0, &cfg.ChunkOverlapTokens},
		{"CHUNK_MIN_TOKENS", 40, 0, &cfg.ChunkMinTokens},
		{"RECONCILE_WORKERS", 4, 1, &cfg.ReconcileWorkers},
		{"QDRANT_VECTOR_SIZE", 768, 1, &cfg.QdrantVectorSize},
		{"EMBED_CACHE_SIZE", 256, 1, &cfg.EmbedCacheSize},
		{"SEARCH_CACHE_SIZE", 128, 1, &cfg.SearchCacheSize},
		{"QA_CACHE_SIZE", 128, 1, &cfg.QACacheSize},
	}
	for _, v := range ints {
		n, err := getEnvInt(v.key, v.def)
		if err != nil {
			return nil, err
		}
		if n < v.min {
			return nil, fmt.Errorf("%s must be at least %d", v.key, v.min)
		}
		*v.dest = n
	}
	if cfg.ChunkOverlapTokens >= cfg.ChunkTargetTokens {
		return nil, fmt.Errorf("CHUNK_OVERLAP_TOKENS (%d) must be smaller than CHUNK_TARGET_TOKENS (%d)",
			cfg.ChunkOverlapTokens, cfg.ChunkTargetTokens)
	}

	if cfg.EmbedTimeout, err = getEnvDuration("EMBED_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.GenTimeout, err = getEnvDuration("GEN_TIMEOUT", 180*time.Second); err != nil {
		return nil, err
	}
	if cfg.WatchDebounce, err = getEnvDuration("WATCH_DEBOUNCE", 2*time.Second); err != nil {
		return nil, err
	}

	rps, err := strconv.ParseFloat(getEnv("EMBED_RPS", "10"), 64)
	if err != nil {
		return nil, fmt.Errorf("EMBED_RPS must be a valid number: %w", err)
	}
	cfg.EmbedRPS = rps

	if cfg.WatchEnabled, err = strconv.ParseBool(getEnv("WATCH_ENABLED", "false")); err != nil {
		return nil, fmt.Errorf("WATCH_ENABLED must be a boolean: %w", err)
	}

	if cfg.VectorBackend != BackendFlat && cfg.VectorBackend != BackendQdrant {
		return nil, fmt.Errorf("VECTOR_BACKEND must be %q or %q, got %q", BackendFlat, BackendQdrant, cfg.VectorBackend)
	}
	if len(cfg.DocsRoots) == 0 {
		return nil, fmt.Errorf("DOCS_ROOTS is required")
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if dbDir := filepath.Dir(cfg.DBPath); dbDir != cfg.DataDir {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	return cfg, nil
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid duration: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", key)
	}
	return d, nil
}

// splitList splits a comma separated list, dropping blanks.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
