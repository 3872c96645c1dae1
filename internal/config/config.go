package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Ollama    OllamaConfig
	Storage   StorageConfig
	Ingest    IngestConfig
	Retrieval RetrievalConfig
	Answer    AnswerConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string // empty disables bearer auth
}

type OllamaConfig struct {
	BaseURL    string
	GenModel   string
	EmbedModel string
}

type StorageConfig struct {
	DataDir string
}

type IngestConfig struct {
	ChunkSize      int
	ChunkOverlap   int
	MaxUploadBytes int64
	EmbedBatchSize int
	Workers        int
	// KeepFailedText stores extracted text next to the raw blob when a
	// later stage fails, for diagnostics.
	KeepFailedText bool
	// ProgressRetentionSec controls how long terminal progress records
	// stay subscribable after completion.
	ProgressRetentionSec int
}

type RetrievalConfig struct {
	TopK          int
	MinSimilarity float64
}

type AnswerConfig struct {
	MaxContextWords int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			GenModel:   "llama3.1",
			EmbedModel: "nomic-embed-text",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Ingest: IngestConfig{
			ChunkSize:            800,
			ChunkOverlap:         175,
			MaxUploadBytes:       25 << 20,
			EmbedBatchSize:       16,
			Workers:              4,
			KeepFailedText:       false,
			ProgressRetentionSec: 600,
		},
		Retrieval: RetrievalConfig{
			TopK:          5,
			MinSimilarity: 0.3,
		},
		Answer: AnswerConfig{
			MaxContextWords: 3000,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".docchat"
	}
	return filepath.Join(home, ".docchat")
}

// Load reads configuration from defaults, an optional .env file in the
// working directory, and DOCCHAT_* environment variables (highest
// precedence). A missing .env file is not an error.
func Load() (Config, error) {
	_ = godotenv.Load()
	return loadFromEnv(os.Getenv)
}

func loadFromEnv(getenv func(string) string) (Config, error) {
	cfg := defaults()

	setString(getenv, "DOCCHAT_API_TOKEN", &cfg.Server.APIToken)
	setString(getenv, "DOCCHAT_OLLAMA_BASE_URL", &cfg.Ollama.BaseURL)
	setString(getenv, "DOCCHAT_GEN_MODEL", &cfg.Ollama.GenModel)
	setString(getenv, "DOCCHAT_EMBED_MODEL", &cfg.Ollama.EmbedModel)
	setString(getenv, "DOCCHAT_DATA_DIR", &cfg.Storage.DataDir)
	setString(getenv, "DOCCHAT_LOG_LEVEL", &cfg.Log.Level)

	if err := setInt(getenv, "DOCCHAT_PORT", &cfg.Server.Port); err != nil {
		return Config{}, err
	}
	if err := setInt(getenv, "DOCCHAT_CHUNK_SIZE", &cfg.Ingest.ChunkSize); err != nil {
		return Config{}, err
	}
	if err := setInt(getenv, "DOCCHAT_CHUNK_OVERLAP", &cfg.Ingest.ChunkOverlap); err != nil {
		return Config{}, err
	}
	if err := setInt64(getenv, "DOCCHAT_MAX_UPLOAD_BYTES", &cfg.Ingest.MaxUploadBytes); err != nil {
		return Config{}, err
	}
	if err := setInt(getenv, "DOCCHAT_EMBED_BATCH_SIZE", &cfg.Ingest.EmbedBatchSize); err != nil {
		return Config{}, err
	}
	if err := setInt(getenv, "DOCCHAT_INGEST_WORKERS", &cfg.Ingest.Workers); err != nil {
		return Config{}, err
	}
	if err := setBool(getenv, "DOCCHAT_INGEST_KEEP_FAILED_TEXT", &cfg.Ingest.KeepFailedText); err != nil {
		return Config{}, err
	}
	if err := setInt(getenv, "DOCCHAT_PROGRESS_RETENTION_SEC", &cfg.Ingest.ProgressRetentionSec); err != nil {
		return Config{}, err
	}
	if err := setInt(getenv, "DOCCHAT_RETRIEVAL_TOP_K", &cfg.Retrieval.TopK); err != nil {
		return Config{}, err
	}
	if err := setFloat(getenv, "DOCCHAT_MIN_SIMILARITY", &cfg.Retrieval.MinSimilarity); err != nil {
		return Config{}, err
	}
	if err := setInt(getenv, "DOCCHAT_MAX_CONTEXT_WORDS", &cfg.Answer.MaxContextWords); err != nil {
		return Config{}, err
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.Ingest.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", cfg.Ingest.ChunkSize)
	}
	if cfg.Ingest.ChunkOverlap < 0 || cfg.Ingest.ChunkOverlap >= cfg.Ingest.ChunkSize {
		return fmt.Errorf("chunk overlap %d must be in [0, chunk size %d)", cfg.Ingest.ChunkOverlap, cfg.Ingest.ChunkSize)
	}
	if cfg.Retrieval.MinSimilarity < -1 || cfg.Retrieval.MinSimilarity > 1 {
		return fmt.Errorf("min similarity %g must be in [-1, 1]", cfg.Retrieval.MinSimilarity)
	}
	return nil
}

func setString(getenv func(string) string, key string, dst *string) {
	if v := getenv(key); v != "" {
		*dst = v
	}
}

func setInt(getenv func(string) string, key string, dst *int) error {
	v := getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("parsing %s=%q: %w", key, v, err)
	}
	*dst = n
	return nil
}

func setInt64(getenv func(string) string, key string, dst *int64) error {
	v := getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("parsing %s=%q: %w", key, v, err)
	}
	*dst = n
	return nil
}

func setFloat(getenv func(string) string, key string, dst *float64) error {
	v := getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("parsing %s=%q: %w", key, v, err)
	}
	*dst = f
	return nil
}

func setBool(getenv func(string) string, key string, dst *bool) error {
	v := getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("parsing %s=%q: %w", key, v, err)
	}
	*dst = b
	return nil
}
