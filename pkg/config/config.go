package config

import (
	"time"
)

// Config represents the complete configuration for the kbchat service.
type Config struct {
	Server     ServerConfig     `koanf:"server"     validate:"required"`
	Runtime    RuntimeConfig    `koanf:"runtime"    validate:"required"`
	Database   DatabaseConfig   `koanf:"database"`
	Knowledge  KnowledgeConfig  `koanf:"knowledge"  validate:"required"`
	Embedder   EmbedderConfig   `koanf:"embedder"   validate:"required"`
	VectorDB   VectorDBConfig   `koanf:"vector_db"  validate:"required"`
	Generation GenerationConfig `koanf:"generation" validate:"required"`
	Blob       BlobConfig       `koanf:"blob"       validate:"required"`
	Records    RecordsConfig    `koanf:"records"`
	RateLimit  RateLimitConfig  `koanf:"ratelimit"`
	Monitoring MonitoringConfig `koanf:"monitoring"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host    string        `koanf:"host"    validate:"required"        env:"SERVER_HOST"`
	Port    int           `koanf:"port"    validate:"min=1,max=65535" env:"SERVER_PORT"`
	Timeout time.Duration `koanf:"timeout"                            env:"SERVER_TIMEOUT"`
	BaseURL string        `koanf:"base_url"                           env:"KBCHAT_BASE_URL"`

	// MaxBodyBytes caps JSON request bodies; zero disables the cap.
	MaxBodyBytes int64 `koanf:"max_body_bytes" env:"SERVER_MAX_BODY_BYTES"`
}

// RuntimeConfig contains process-level behavior.
type RuntimeConfig struct {
	Environment string `koanf:"environment" validate:"oneof=development staging production" env:"RUNTIME_ENVIRONMENT"`
	LogLevel    string `koanf:"log_level"   validate:"oneof=debug info warn error"          env:"RUNTIME_LOG_LEVEL"`
	LogJSON     bool   `koanf:"log_json"                                                    env:"RUNTIME_LOG_JSON"`
}

// DatabaseConfig selects the repository that persists source records and their status.
type DatabaseConfig struct {
	Driver      string          `koanf:"driver"       validate:"oneof=postgres sqlite memory" env:"DB_DRIVER"`
	ConnString  SensitiveString `koanf:"conn_string"                                          env:"DATABASE_URL"    sensitive:"true"`
	Path        string          `koanf:"path"                                                 env:"DB_SQLITE_PATH"`
	MaxConns    int32           `koanf:"max_conns"                                            env:"DB_MAX_CONNS"`
	AutoMigrate bool            `koanf:"auto_migrate"                                         env:"DB_AUTO_MIGRATE"`
}

// KnowledgeConfig carries the ingestion and retrieval knobs.
type KnowledgeConfig struct {
	ChunkStrategy        string        `koanf:"chunk_strategy"         validate:"oneof=sliding_window sentence" env:"KNOWLEDGE_CHUNK_STRATEGY"`
	ChunkSize            int           `koanf:"chunk_size"             validate:"min=1"                         env:"KNOWLEDGE_CHUNK_SIZE"`
	ChunkOverlap         int           `koanf:"chunk_overlap"          validate:"min=0"                         env:"KNOWLEDGE_CHUNK_OVERLAP"`
	MinChunkLength       int           `koanf:"min_chunk_length"       validate:"min=0"                         env:"KNOWLEDGE_MIN_CHUNK_LENGTH"`
	MinContentLength     int           `koanf:"min_content_length"     validate:"min=0"                         env:"KNOWLEDGE_MIN_CONTENT_LENGTH"`
	SimilarityThreshold  float64       `koanf:"similarity_threshold"   validate:"min=-1,max=1"                  env:"KNOWLEDGE_SIMILARITY_THRESHOLD"`
	TopK                 int           `koanf:"top_k"                  validate:"min=1"                         env:"KNOWLEDGE_TOP_K"`
	EmbedConcurrency     int           `koanf:"embed_concurrency"      validate:"min=1"                         env:"KNOWLEDGE_EMBED_CONCURRENCY"`
	EmbedRatePerSecond   float64       `koanf:"embed_rate_per_second"  validate:"min=0"                         env:"KNOWLEDGE_EMBED_RATE_PER_SECOND"`
	MaxConcurrentSources int64         `koanf:"max_concurrent_sources" validate:"min=1"                         env:"KNOWLEDGE_MAX_CONCURRENT_SOURCES"`
	TokenEstimator       string        `koanf:"token_estimator"        validate:"oneof=runes tiktoken"          env:"KNOWLEDGE_TOKEN_ESTIMATOR"`
	PollInterval         time.Duration `koanf:"poll_interval"                                                   env:"KNOWLEDGE_POLL_INTERVAL"`
	PollMaxAttempts      uint64        `koanf:"poll_max_attempts"                                               env:"KNOWLEDGE_POLL_MAX_ATTEMPTS"`
	IngestOnStart        []string      `koanf:"ingest_on_start"                                                 env:"KNOWLEDGE_INGEST_ON_START"`
}

// EmbedderConfig identifies the embedding model used at ingestion and query time.
type EmbedderConfig struct {
	Provider   string          `koanf:"provider"    validate:"oneof=openai googleai ollama" env:"EMBEDDER_PROVIDER"`
	Model      string          `koanf:"model"       validate:"required"                     env:"EMBEDDER_MODEL"`
	Dimension  int             `koanf:"dimension"   validate:"min=0"                        env:"EMBEDDER_DIMENSION"`
	APIKey     SensitiveString `koanf:"api_key"                                             env:"EMBEDDER_API_KEY" sensitive:"true"`
	BaseURL    string          `koanf:"base_url"                                            env:"EMBEDDER_BASE_URL"`
	BatchSize  int             `koanf:"batch_size"  validate:"min=1"                        env:"EMBEDDER_BATCH_SIZE"`
	CacheSize  int             `koanf:"cache_size"  validate:"min=0"                        env:"EMBEDDER_CACHE_SIZE"`
	MaxRetries uint64          `koanf:"max_retries"                                         env:"EMBEDDER_MAX_RETRIES"`
}

// VectorDBConfig selects the vector database backend.
type VectorDBConfig struct {
	Provider    string          `koanf:"provider"     validate:"oneof=pgvector qdrant redis filesystem memory" env:"VECTOR_DB_PROVIDER"`
	DSN         SensitiveString `koanf:"dsn"                                                                   env:"VECTOR_DB_DSN"        sensitive:"true"`
	Path        string          `koanf:"path"                                                                  env:"VECTOR_DB_PATH"`
	Table       string          `koanf:"table"        validate:"sql_identifier"                                env:"VECTOR_DB_TABLE"`
	Collection  string          `koanf:"collection"                                                            env:"VECTOR_DB_COLLECTION"`
	Index       string          `koanf:"index"                                                                 env:"VECTOR_DB_INDEX"`
	APIKey      SensitiveString `koanf:"api_key"                                                               env:"VECTOR_DB_API_KEY"    sensitive:"true"`
	EnsureIndex bool            `koanf:"ensure_index"                                                          env:"VECTOR_DB_ENSURE_INDEX"`
	Timeout     time.Duration   `koanf:"timeout"                                                               env:"VECTOR_DB_TIMEOUT"`
}

// GenerationConfig selects the generation backend and assistant persona.
type GenerationConfig struct {
	Mode          string          `koanf:"mode"           validate:"oneof=retrieval grounded"     env:"GENERATION_MODE"`
	Provider      string          `koanf:"provider"       validate:"oneof=openai googleai ollama" env:"GENERATION_PROVIDER"`
	Model         string          `koanf:"model"          validate:"required"                     env:"GENERATION_MODEL"`
	APIKey        SensitiveString `koanf:"api_key"                                                env:"GENERATION_API_KEY" sensitive:"true"`
	BaseURL       string          `koanf:"base_url"                                               env:"GENERATION_BASE_URL"`
	Temperature   float64         `koanf:"temperature"    validate:"min=0,max=2"                  env:"GENERATION_TEMPERATURE"`
	MaxTokens     int             `koanf:"max_tokens"     validate:"min=0"                        env:"GENERATION_MAX_TOKENS"`
	Datastore     string          `koanf:"datastore"                                              env:"GENERATION_DATASTORE"`
	Timeout       time.Duration   `koanf:"timeout"                                                env:"GENERATION_TIMEOUT"`
	AssistantName string          `koanf:"assistant_name"                                         env:"ASSISTANT_NAME"`
	Institution   string          `koanf:"institution"                                            env:"ASSISTANT_INSTITUTION"`
	Language      string          `koanf:"language"                                               env:"ASSISTANT_LANGUAGE"`
	Topics        []string        `koanf:"topics"                                                 env:"ASSISTANT_TOPICS"`
}

// BlobConfig locates the store that serves raw document bytes.
type BlobConfig struct {
	Provider string          `koanf:"provider" validate:"oneof=filesystem http" env:"BLOB_PROVIDER"`
	Root     string          `koanf:"root"                                     env:"BLOB_ROOT"`
	BaseURL  string          `koanf:"base_url"                                 env:"BLOB_BASE_URL"`
	Token    SensitiveString `koanf:"token"                                    env:"BLOB_TOKEN"   sensitive:"true"`
	Timeout  time.Duration   `koanf:"timeout"                                  env:"BLOB_TIMEOUT"`
	MaxBytes int64           `koanf:"max_bytes"                                env:"BLOB_MAX_BYTES"`
}

// RecordsConfig describes the table synced as synthetic sources.
type RecordsConfig struct {
	Table     string   `koanf:"table"      validate:"sql_identifier"      env:"RECORDS_TABLE"`
	KeyColumn string   `koanf:"key_column" validate:"sql_identifier"      env:"RECORDS_KEY_COLUMN"`
	Columns   []string `koanf:"columns"    validate:"dive,sql_identifier" env:"RECORDS_COLUMNS"`
	Category  string   `koanf:"category"                                  env:"RECORDS_CATEGORY"`
	Limit     uint64   `koanf:"limit"                                     env:"RECORDS_LIMIT"`
}

// RateLimitConfig contains API rate limiting configuration.
type RateLimitConfig struct {
	Enabled   bool          `koanf:"enabled"    env:"RATELIMIT_ENABLED"`
	Limit     int64         `koanf:"limit"      env:"RATELIMIT_LIMIT"`
	Period    time.Duration `koanf:"period"     env:"RATELIMIT_PERIOD"`
	RedisAddr string        `koanf:"redis_addr" env:"RATELIMIT_REDIS_ADDR"`
	Prefix    string        `koanf:"prefix"     env:"RATELIMIT_PREFIX"`
}

// MonitoringConfig toggles the Prometheus endpoint.
type MonitoringConfig struct {
	Enabled bool   `koanf:"enabled" env:"MONITORING_ENABLED"`
	Path    string `koanf:"path"    env:"MONITORING_PATH"`
}

// Default returns a Config with default values for development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         5001,
			Timeout:      60 * time.Second,
			MaxBodyBytes: 1 << 20,
		},
		Runtime: RuntimeConfig{
			Environment: "development",
			LogLevel:    "info",
		},
		Database: DatabaseConfig{
			Driver:      "memory",
			Path:        "kbchat.db",
			MaxConns:    10,
			AutoMigrate: true,
		},
		Knowledge: KnowledgeConfig{
			ChunkStrategy:        "sliding_window",
			ChunkSize:            1000,
			ChunkOverlap:         200,
			MinChunkLength:       50,
			MinContentLength:     50,
			SimilarityThreshold:  0.5,
			TopK:                 5,
			EmbedConcurrency:     1,
			MaxConcurrentSources: 4,
			TokenEstimator:       "runes",
			PollInterval:         2 * time.Second,
			PollMaxAttempts:      60,
		},
		Embedder: EmbedderConfig{
			Provider:  "openai",
			Model:     "text-embedding-3-small",
			Dimension: 1536,
			BatchSize: 32,
			CacheSize: 512,
		},
		VectorDB: VectorDBConfig{
			Provider:    "memory",
			Path:        "vectors.json",
			Table:       "knowledge_chunks",
			Collection:  "knowledge_chunks",
			Index:       "kbchat",
			EnsureIndex: true,
			Timeout:     10 * time.Second,
		},
		Generation: GenerationConfig{
			Mode:          "retrieval",
			Provider:      "openai",
			Model:         "gpt-4o-mini",
			Temperature:   0.3,
			Timeout:       60 * time.Second,
			AssistantName: "Assistant",
			Institution:   "the institution",
			Language:      "English",
		},
		Blob: BlobConfig{
			Provider: "filesystem",
			Root:     "./data",
			Timeout:  30 * time.Second,
			MaxBytes: 50 << 20,
		},
		Records: RecordsConfig{
			KeyColumn: "id",
			Category:  "records",
			Limit:     1000,
		},
		RateLimit: RateLimitConfig{
			Limit:  100,
			Period: time.Minute,
			Prefix: "kbchat:ratelimit",
		},
		Monitoring: MonitoringConfig{
			Path: "/metrics",
		},
	}
}
