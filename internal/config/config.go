package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"voxkb"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"voxkb"`

	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	// VectorBackend selects the vector index implementation: "weaviate" for
	// the external ANN index, "memory" for the dependency-free cosine scan.
	VectorBackend string `envconfig:"VECTOR_BACKEND" default:"weaviate"`

	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	GeminiAPIKey string `envconfig:"GEMINI_API_KEY"`

	// Embedding dimensionality is pinned per provider model; the vector
	// collection is created with this size and mixing sizes is invalid.
	EmbeddingDim   int `envconfig:"EMBEDDING_DIM" default:"768"`
	EmbedBatchSize int `envconfig:"EMBED_BATCH_SIZE" default:"100"`

	// Chunking is an ingestion-wide constant, not per-document.
	ChunkWindowSize int `envconfig:"CHUNK_WINDOW_SIZE" default:"700"`
	ChunkOverlap    int `envconfig:"CHUNK_OVERLAP" default:"100"`

	// Retrieval defaults, overridable at runtime via /settings.
	SearchTopK     int     `envconfig:"SEARCH_TOP_K" default:"5"`
	ScoreThreshold float64 `envconfig:"SCORE_THRESHOLD" default:"0.75"`

	FetchTimeoutSeconds int `envconfig:"FETCH_TIMEOUT_SECONDS" default:"20"`
	EmbedTimeoutSeconds int `envconfig:"EMBED_TIMEOUT_SECONDS" default:"60"`

	// Server
	ServerPort      int    `envconfig:"SERVER_PORT" default:"8081"`
	QueryLogPath    string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`
	MaxUploadSizeMB int64  `envconfig:"MAX_UPLOAD_SIZE_MB" default:"50"`
	UploadDir       string `envconfig:"VOXKB_UPLOAD_DIR" default:"./uploads"`
	MigrationPath   string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Try loading .env from current dir and repo root.
	// Ignore errors, as env vars might be set in the shell.
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	rootEnv := filepath.Join(cwd, "../.env")
	_ = godotenv.Load(rootEnv)

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if c.VectorBackend != "weaviate" && c.VectorBackend != "memory" {
		return fmt.Errorf("%w: VECTOR_BACKEND must be weaviate or memory", ErrMissingRequired)
	}
	if c.EmbeddingDim <= 0 {
		return fmt.Errorf("%w: EMBEDDING_DIM", ErrMissingRequired)
	}
	if c.ChunkWindowSize <= 0 || c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkWindowSize {
		return fmt.Errorf("%w: CHUNK_OVERLAP must be non-negative and smaller than CHUNK_WINDOW_SIZE", ErrMissingRequired)
	}
	return nil
}
