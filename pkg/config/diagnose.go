package config

import (
	"context"

	"github.com/compozy/kbchat/pkg/logger"
)

// MissingValue describes one required credential or endpoint that is not configured.
type MissingValue struct {
	Key     string
	EnvVar  string
	Service string
	Reason  string
}

// Diagnose lists every missing external-service setting, one entry per value.
// It never fails: services built without these values report a configuration
// error on first use instead.
func Diagnose(cfg *Config) []MissingValue {
	if cfg == nil {
		return nil
	}
	var missing []MissingValue
	add := func(key, service, reason string) {
		missing = append(missing, MissingValue{
			Key:     key,
			EnvVar:  GetEnvVarForConfigPath(key),
			Service: service,
			Reason:  reason,
		})
	}
	switch cfg.Embedder.Provider {
	case "openai", "googleai":
		if cfg.Embedder.APIKey == "" {
			add("embedder.api_key", "embedding", cfg.Embedder.Provider+" embeddings require an API key")
		}
	case "ollama":
		if cfg.Embedder.BaseURL == "" {
			add("embedder.base_url", "embedding", "ollama embeddings require a server URL")
		}
	}
	if cfg.Generation.Mode == "grounded" || cfg.Generation.Provider != "ollama" {
		if cfg.Generation.APIKey == "" {
			add("generation.api_key", "generation", "the "+cfg.Generation.Provider+" generation backend requires an API key")
		}
	} else if cfg.Generation.BaseURL == "" {
		add("generation.base_url", "generation", "ollama generation requires a server URL")
	}
	switch cfg.VectorDB.Provider {
	case "pgvector", "qdrant", "redis":
		if cfg.VectorDB.DSN == "" {
			add("vector_db.dsn", "vector_db", cfg.VectorDB.Provider+" requires a connection string")
		}
	}
	if cfg.Database.Driver == "postgres" && cfg.Database.ConnString == "" {
		add("database.conn_string", "database", "the postgres source repository requires a connection string")
	}
	if cfg.Blob.Provider == "http" && cfg.Blob.BaseURL == "" {
		add("blob.base_url", "blob", "the http blob store requires a base URL")
	}
	return missing
}

// LogDiagnostics logs each missing value separately and returns the list.
func LogDiagnostics(ctx context.Context, cfg *Config) []MissingValue {
	log := logger.FromContext(ctx)
	missing := Diagnose(cfg)
	for _, m := range missing {
		log.Warn(
			"Missing configuration value",
			"key", m.Key,
			"env", m.EnvVar,
			"service", m.Service,
			"reason", m.Reason,
		)
	}
	return missing
}
