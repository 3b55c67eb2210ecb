package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var envVars = []string{
	"DATA_DIR", "DB_PATH", "DOCS_ROOTS", "API_PORT", "LOG_LEVEL", "LOG_FORMAT",
	"OLLAMA_BASE_URL", "EMBED_MODEL", "GEN_MODEL", "EMBED_TIMEOUT", "GEN_TIMEOUT",
	"EMBED_BATCH_SIZE", "EMBED_RPS", "CHUNK_TARGET_TOKENS", "CHUNK_OVERLAP_TOKENS",
	"CHUNK_MIN_TOKENS", "TOKENIZER_ENCODING", "VECTOR_BACKEND", "QDRANT_URL",
	"QDRANT_COLLECTION", "QDRANT_VECTOR_SIZE", "EMBED_CACHE_SIZE", "SEARCH_CACHE_SIZE",
	"QA_CACHE_SIZE", "WATCH_ENABLED", "WATCH_DEBOUNCE", "RECONCILE_WORKERS",
}

// isolateEnv clears every variable Load reads and moves into a directory without a .env file.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, key := range envVars {
		t.Setenv(key, "")
	}
	originalWd, _ := os.Getwd()
	_ = os.Chdir(t.TempDir())
	t.Cleanup(func() {
		_ = os.Chdir(originalWd)
	})
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		setupEnv    func(*testing.T)
		wantErr     bool
		checkConfig func(*testing.T, *Config)
	}{
		{
			name:     "defaults",
			setupEnv: func(t *testing.T) {},
			checkConfig: func(t *testing.T, cfg *Config) {
				if cfg.EmbedBatchSize != 64 {
					t.Errorf("EmbedBatchSize = %d, want 64", cfg.EmbedBatchSize)
				}
				if cfg.ChunkTargetTokens != 350 || cfg.ChunkOverlapTokens != 50 || cfg.ChunkMinTokens != 40 {
					t.Errorf("chunk params = %d/%d/%d, want 350/50/40",
						cfg.ChunkTargetTokens, cfg.ChunkOverlapTokens, cfg.ChunkMinTokens)
				}
				if cfg.EmbedCacheSize != 256 || cfg.SearchCacheSize != 128 || cfg.QACacheSize != 128 {
					t.Errorf("cache sizes = %d/%d/%d, want 256/128/128",
						cfg.EmbedCacheSize, cfg.SearchCacheSize, cfg.QACacheSize)
				}
				if cfg.EmbedModel != "nomic-embed-text" || cfg.GenModel != "llama3.1:8b" {
					t.Errorf("models = %s/%s", cfg.EmbedModel, cfg.GenModel)
				}
				if cfg.OllamaBaseURL != "http://localhost:11434" {
					t.Errorf("OllamaBaseURL = %s", cfg.OllamaBaseURL)
				}
				if cfg.EmbedTimeout != 60*time.Second {
					t.Errorf("EmbedTimeout = %v, want 60s", cfg.EmbedTimeout)
				}
				if cfg.VectorBackend != BackendFlat {
					t.Errorf("VectorBackend = %s, want flat", cfg.VectorBackend)
				}
				if cfg.LogLevel != slog.LevelInfo || cfg.LogFormat != "text" {
					t.Errorf("logging = %v/%s", cfg.LogLevel, cfg.LogFormat)
				}
				if cfg.DBPath != filepath.Join("data", "pkm.db") {
					t.Errorf("DBPath = %s", cfg.DBPath)
				}
			},
		},
		{
			name: "custom values",
			setupEnv: func(t *testing.T) {
				t.Setenv("DOCS_ROOTS", " /notes , /code ,,")
				t.Setenv("LOG_LEVEL", "debug")
				t.Setenv("LOG_FORMAT", "JSON")
				t.Setenv("OLLAMA_BASE_URL", "http://ollama:11434/")
				t.Setenv("VECTOR_BACKEND", "qdrant")
				t.Setenv("WATCH_ENABLED", "true")
				t.Setenv("WATCH_DEBOUNCE", "500ms")
			},
			checkConfig: func(t *testing.T, cfg *Config) {
				if len(cfg.DocsRoots) != 2 || cfg.DocsRoots[0] != "/notes" || cfg.DocsRoots[1] != "/code" {
					t.Errorf("DocsRoots = %v", cfg.DocsRoots)
				}
				if cfg.LogLevel != slog.LevelDebug || cfg.LogFormat != "json" {
					t.Errorf("logging = %v/%s", cfg.LogLevel, cfg.LogFormat)
				}
				if cfg.OllamaBaseURL != "http://ollama:11434" {
					t.Errorf("OllamaBaseURL = %s", cfg.OllamaBaseURL)
				}
				if cfg.VectorBackend != BackendQdrant || !cfg.WatchEnabled || cfg.WatchDebounce != 500*time.Millisecond {
					t.Errorf("backend/watch = %s/%v/%v", cfg.VectorBackend, cfg.WatchEnabled, cfg.WatchDebounce)
				}
			},
		},
		{
			name:     "invalid batch size",
			setupEnv: func(t *testing.T) { t.Setenv("EMBED_BATCH_SIZE", "many") },
			wantErr:  true,
		},
		{
			name:     "zero batch size",
			setupEnv: func(t *testing.T) { t.Setenv("EMBED_BATCH_SIZE", "0") },
			wantErr:  true,
		},
		{
			name: "overlap not smaller than target",
			setupEnv: func(t *testing.T) {
				t.Setenv("CHUNK_TARGET_TOKENS", "50")
				t.Setenv("CHUNK_OVERLAP_TOKENS", "50")
			},
			wantErr: true,
		},
		{
			name:     "unknown backend",
			setupEnv: func(t *testing.T) { t.Setenv("VECTOR_BACKEND", "faiss") },
			wantErr:  true,
		},
		{
			name:     "invalid log format",
			setupEnv: func(t *testing.T) { t.Setenv("LOG_FORMAT", "xml") },
			wantErr:  true,
		},
		{
			name:     "invalid timeout",
			setupEnv: func(t *testing.T) { t.Setenv("EMBED_TIMEOUT", "-1s") },
			wantErr:  true,
		},
		{
			name:     "blank roots",
			setupEnv: func(t *testing.T) { t.Setenv("DOCS_ROOTS", " , ") },
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateEnv(t)
			tt.setupEnv(t)

			cfg, err := Load()
			if tt.wantErr {
				if err == nil {
					t.Errorf("Load() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() unexpected error: %v", err)
			}
			if tt.checkConfig != nil {
				tt.checkConfig(t, cfg)
			}
		})
	}
}

func TestLoad_CreatesDataDirectory(t *testing.T) {
	isolateEnv(t)
	dataDir := filepath.Join(t.TempDir(), "nested", "data")
	t.Setenv("DATA_DIR", dataDir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, err := os.Stat(dataDir); os.IsNotExist(err) {
		t.Errorf("Load() should create data directory: %v", err)
	}
	if got, want := cfg.IndexPath(), filepath.Join(dataDir, "index.pkmv"); got != want {
		t.Errorf("IndexPath() = %s, want %s", got, want)
	}
	if got, want := cfg.DBPath, filepath.Join(dataDir, "pkm.db"); got != want {
		t.Errorf("DBPath = %s, want %s", got, want)
	}
}

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		value        string
		defaultValue string
		want         string
	}{
		{name: "env var set", value: "set-value", defaultValue: "default", want: "set-value"},
		{name: "empty env var uses default", value: "", defaultValue: "default", want: "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_ENV_VAR", tt.value)
			if got := getEnv("TEST_ENV_VAR", tt.defaultValue); got != tt.want {
				t.Errorf("getEnv() = %q, want %q", got, tt.want)
			}
		})
	}
}
