package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("Should load defaults when no sources are provided", func(t *testing.T) {
		cfg, err := Load(t.Context(), LoadOptions{Environ: []string{}})
		require.NoError(t, err)
		assert.Equal(t, 1000, cfg.Knowledge.ChunkSize)
		assert.Equal(t, 200, cfg.Knowledge.ChunkOverlap)
		assert.Equal(t, 50, cfg.Knowledge.MinChunkLength)
		assert.InDelta(t, 0.5, cfg.Knowledge.SimilarityThreshold, 1e-9)
		assert.Equal(t, 5, cfg.Knowledge.TopK)
		assert.InDelta(t, 0.3, cfg.Generation.Temperature, 1e-9)
	})

	t.Run("Should apply environment overrides through explicit mappings", func(t *testing.T) {
		cfg, err := Load(t.Context(), LoadOptions{Environ: []string{
			"KNOWLEDGE_CHUNK_SIZE=600",
			"KNOWLEDGE_CHUNK_OVERLAP=100",
			"EMBEDDER_API_KEY=sk-test",
			"SERVER_TIMEOUT=15s",
			"ASSISTANT_TOPICS=admissions,tuition",
			"UNRELATED_VARIABLE=ignored",
		}})
		require.NoError(t, err)
		assert.Equal(t, 600, cfg.Knowledge.ChunkSize)
		assert.Equal(t, 100, cfg.Knowledge.ChunkOverlap)
		assert.Equal(t, "sk-test", cfg.Embedder.APIKey.Value())
		assert.Equal(t, 15*time.Second, cfg.Server.Timeout)
		assert.Equal(t, []string{"admissions", "tuition"}, cfg.Generation.Topics)
	})

	t.Run("Should layer YAML below environment", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "kbchat.yaml")
		content := "knowledge:\n  top_k: 8\n  similarity_threshold: 0.7\nvector_db:\n  provider: filesystem\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		loader := NewLoader()
		cfg, err := loader.Load(t.Context(), LoadOptions{
			File:    path,
			Environ: []string{"KNOWLEDGE_TOP_K=3"},
		})
		require.NoError(t, err)
		assert.Equal(t, 3, cfg.Knowledge.TopK)
		assert.InDelta(t, 0.7, cfg.Knowledge.SimilarityThreshold, 1e-9)
		assert.Equal(t, "filesystem", cfg.VectorDB.Provider)
		assert.Equal(t, SourceEnv, loader.GetSource("knowledge.top_k"))
		assert.Equal(t, SourceYAML, loader.GetSource("vector_db.provider"))
		assert.Equal(t, SourceDefault, loader.GetSource("knowledge.chunk_size"))
	})

	t.Run("Should reject overlap not smaller than chunk size", func(t *testing.T) {
		_, err := Load(t.Context(), LoadOptions{
			Environ:   []string{},
			Overrides: map[string]any{"knowledge.chunk_overlap": 1000},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "chunk_overlap")
	})

	t.Run("Should reject unknown providers", func(t *testing.T) {
		_, err := Load(t.Context(), LoadOptions{Environ: []string{"VECTOR_DB_PROVIDER=faiss"}})
		require.Error(t, err)
	})

	t.Run("Should reject unsafe record table names", func(t *testing.T) {
		_, err := Load(t.Context(), LoadOptions{Environ: []string{"RECORDS_TABLE=users;drop"}})
		require.Error(t, err)
	})
}

func TestDiagnose(t *testing.T) {
	t.Run("Should report each missing credential separately", func(t *testing.T) {
		cfg := Default()
		cfg.VectorDB.Provider = "pgvector"
		cfg.Database.Driver = "postgres"
		missing := Diagnose(cfg)
		keys := make([]string, 0, len(missing))
		for _, m := range missing {
			keys = append(keys, m.Key)
		}
		assert.ElementsMatch(t, []string{
			"embedder.api_key",
			"generation.api_key",
			"vector_db.dsn",
			"database.conn_string",
		}, keys)
		for _, m := range missing {
			assert.NotEmpty(t, m.EnvVar, "env var for %s", m.Key)
		}
	})

	t.Run("Should report nothing when everything is configured", func(t *testing.T) {
		cfg := Default()
		cfg.Embedder.APIKey = "sk-embed"
		cfg.Generation.APIKey = "sk-gen"
		assert.Empty(t, Diagnose(cfg))
	})

	t.Run("Should require a server URL for ollama", func(t *testing.T) {
		cfg := Default()
		cfg.Embedder.Provider = "ollama"
		cfg.Generation.Provider = "ollama"
		missing := Diagnose(cfg)
		require.Len(t, missing, 2)
		assert.Equal(t, "embedder.base_url", missing[0].Key)
		assert.Equal(t, "generation.base_url", missing[1].Key)
	})
}

func TestGenerateEnvMappings(t *testing.T) {
	t.Run("Should map nested fields to dotted paths", func(t *testing.T) {
		m := GenerateEnvToConfigMap()
		assert.Equal(t, "knowledge.chunk_size", m["KNOWLEDGE_CHUNK_SIZE"])
		assert.Equal(t, "database.conn_string", m["DATABASE_URL"])
		assert.Equal(t, "VECTOR_DB_DSN", GetEnvVarForConfigPath("vector_db.dsn"))
	})
}
