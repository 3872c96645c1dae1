package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(key string) string { return m[key] }
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := loadFromEnv(envMap(nil))
	require.NoError(t, err)

	assert.Equal(t, 4100, cfg.Server.Port)
	assert.Equal(t, "http://localhost:11434", cfg.Ollama.BaseURL)
	assert.Equal(t, 800, cfg.Ingest.ChunkSize)
	assert.Equal(t, 175, cfg.Ingest.ChunkOverlap)
	assert.Equal(t, 0.3, cfg.Retrieval.MinSimilarity)
	assert.Empty(t, cfg.Server.APIToken)
	assert.False(t, cfg.Ingest.KeepFailedText)
}

func TestLoadEnvOverrides(t *testing.T) {
	cfg, err := loadFromEnv(envMap(map[string]string{
		"DOCCHAT_PORT":                    "9999",
		"DOCCHAT_GEN_MODEL":               "mistral-nemo",
		"DOCCHAT_CHUNK_SIZE":              "1200",
		"DOCCHAT_CHUNK_OVERLAP":           "300",
		"DOCCHAT_MIN_SIMILARITY":          "0.55",
		"DOCCHAT_INGEST_KEEP_FAILED_TEXT": "true",
		"DOCCHAT_API_TOKEN":               "sekrit",
	}))
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "mistral-nemo", cfg.Ollama.GenModel)
	assert.Equal(t, 1200, cfg.Ingest.ChunkSize)
	assert.Equal(t, 300, cfg.Ingest.ChunkOverlap)
	assert.Equal(t, 0.55, cfg.Retrieval.MinSimilarity)
	assert.True(t, cfg.Ingest.KeepFailedText)
	assert.Equal(t, "sekrit", cfg.Server.APIToken)
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"non-numeric port", map[string]string{"DOCCHAT_PORT": "abc"}},
		{"non-numeric similarity", map[string]string{"DOCCHAT_MIN_SIMILARITY": "high"}},
		{"bad bool", map[string]string{"DOCCHAT_INGEST_KEEP_FAILED_TEXT": "yep"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadFromEnv(envMap(tt.env))
			assert.Error(t, err)
		})
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"overlap >= size", map[string]string{"DOCCHAT_CHUNK_SIZE": "100", "DOCCHAT_CHUNK_OVERLAP": "100"}},
		{"zero chunk size", map[string]string{"DOCCHAT_CHUNK_SIZE": "0"}},
		{"similarity out of range", map[string]string{"DOCCHAT_MIN_SIMILARITY": "1.5"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadFromEnv(envMap(tt.env))
			assert.Error(t, err)
		})
	}
}
