// Package config provides configuration loading for waypoint.
//
// Configuration is assembled from a YAML file and environment variables by
// LoadWithFile. This file declares the shape of the configuration and its
// validation rules.
package config

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Config holds the complete waypoint configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Database      DatabaseConfig      `koanf:"database"`
	VectorStore   VectorStoreConfig   `koanf:"vectorstore"`
	Embeddings    EmbeddingsConfig    `koanf:"embeddings"`
	LLM           LLMConfig           `koanf:"llm"`
	Worker        WorkerConfig        `koanf:"worker"`
	Events        EventsConfig        `koanf:"events"`
	Observability ObservabilityConfig `koanf:"observability"`
	Secrets       SecretsConfig       `koanf:"secrets"`
}

// ServerConfig holds the operational HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"http_host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig selects the relational store holding executions, results
// and embedding index metadata.
type DatabaseConfig struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string `koanf:"driver"`
	// DSN is a file path for sqlite or a connection URL for postgres.
	DSN          Secret `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
}

// VectorStoreConfig selects and configures the shard backend.
type VectorStoreConfig struct {
	// Provider is one of chromem, qdrant, milvus, pgvector.
	Provider string `koanf:"provider"`
	// Dimensions lists the supported shard sizes.
	Dimensions []int `koanf:"dimensions"`
	// DuplicatePolicy is "reject" (default) or "replace".
	DuplicatePolicy string `koanf:"duplicate_policy"`

	Chromem  ChromemConfig  `koanf:"chromem"`
	Qdrant   QdrantConfig   `koanf:"qdrant"`
	Milvus   MilvusConfig   `koanf:"milvus"`
	Pgvector PgvectorConfig `koanf:"pgvector"`
}

// ChromemConfig configures the embedded chromem-go backend.
type ChromemConfig struct {
	// Path enables persistence when non-empty.
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// QdrantConfig configures the Qdrant gRPC backend.
type QdrantConfig struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	UseTLS bool   `koanf:"use_tls"`
	APIKey Secret `koanf:"api_key"`
}

// MilvusConfig configures the Milvus backend.
type MilvusConfig struct {
	Address  string `koanf:"address"`
	Username string `koanf:"username"`
	Password Secret `koanf:"password"`
	DBName   string `koanf:"db_name"`
}

// PgvectorConfig configures the pgvector backend.
type PgvectorConfig struct {
	DSN Secret `koanf:"dsn"`
}

// EmbeddingsConfig configures the embedding backend.
type EmbeddingsConfig struct {
	// Provider is one of fastembed, tei, openai.
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
	APIKey   Secret `koanf:"api_key"`
	CacheDir string `koanf:"cache_dir"`
	// Dimensions requests a specific output size from providers that
	// support it (openai text-embedding-3-*). Zero keeps the model default.
	Dimensions int `koanf:"dimensions"`
	// RateLimit caps backend requests per second. Zero disables limiting.
	RateLimit float64 `koanf:"rate_limit"`
	Burst     int     `koanf:"burst"`
}

// LLMConfig configures the text generation backend offered to processes.
type LLMConfig struct {
	Enabled bool   `koanf:"enabled"`
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
	APIKey  Secret `koanf:"api_key"`
}

// WorkerConfig configures the background execution worker.
type WorkerConfig struct {
	// Disabled stops serve from running the worker loop, for deployments
	// that only accept synchronous executions.
	Disabled  bool     `koanf:"disabled"`
	Interval  Duration `koanf:"interval"`
	BatchSize int      `koanf:"batch_size"`
}

// EventsConfig configures NATS lifecycle notifications.
type EventsConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// ObservabilityConfig holds logging and OpenTelemetry configuration.
type ObservabilityConfig struct {
	ServiceName     string  `koanf:"service_name"`
	LogLevel        string  `koanf:"log_level"`
	LogFormat       string  `koanf:"log_format"`
	EnableTelemetry bool    `koanf:"enable_telemetry"`
	OTLPEndpoint    string  `koanf:"otlp_endpoint"`
	OTLPProtocol    string  `koanf:"otlp_protocol"`
	OTLPInsecure    bool    `koanf:"otlp_insecure"`
	SamplingRate    float64 `koanf:"sampling_rate"`
}

// SecretsConfig configures scrubbing of secrets from persisted error text.
type SecretsConfig struct {
	Disabled bool `koanf:"disabled"`
	// AllowlistPath points at a TOML file of regexes that are never redacted.
	AllowlistPath string `koanf:"allowlist_path"`
}

var (
	vectorProviders    = []string{"chromem", "qdrant", "milvus", "pgvector"}
	embeddingProviders = []string{"fastembed", "tei", "openai"}
	databaseDrivers    = []string{"sqlite", "postgres"}
	duplicatePolicies  = []string{"reject", "replace"}
	logFormats         = []string{"json", "console"}
)

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if !slices.Contains(databaseDrivers, c.Database.Driver) {
		return fmt.Errorf("database.driver must be one of %v, got %q", databaseDrivers, c.Database.Driver)
	}
	if !c.Database.DSN.IsSet() {
		return errors.New("database.dsn is required")
	}

	if !slices.Contains(vectorProviders, c.VectorStore.Provider) {
		return fmt.Errorf("vectorstore.provider must be one of %v, got %q", vectorProviders, c.VectorStore.Provider)
	}
	if len(c.VectorStore.Dimensions) == 0 {
		return errors.New("vectorstore.dimensions must list at least one shard size")
	}
	for _, d := range c.VectorStore.Dimensions {
		if d <= 0 {
			return fmt.Errorf("vectorstore.dimensions: invalid size %d", d)
		}
	}
	if !slices.Contains(duplicatePolicies, c.VectorStore.DuplicatePolicy) {
		return fmt.Errorf("vectorstore.duplicate_policy must be one of %v, got %q", duplicatePolicies, c.VectorStore.DuplicatePolicy)
	}
	if c.VectorStore.Provider == "pgvector" && !c.VectorStore.Pgvector.DSN.IsSet() && c.Database.Driver != "postgres" {
		return errors.New("vectorstore.pgvector.dsn is required unless database.driver is postgres")
	}

	if !slices.Contains(embeddingProviders, c.Embeddings.Provider) {
		return fmt.Errorf("embeddings.provider must be one of %v, got %q", embeddingProviders, c.Embeddings.Provider)
	}
	if c.Embeddings.Model == "" {
		return errors.New("embeddings.model is required")
	}
	if c.Embeddings.RateLimit < 0 {
		return fmt.Errorf("embeddings.rate_limit must be >= 0, got %f", c.Embeddings.RateLimit)
	}

	if c.LLM.Enabled && (c.LLM.BaseURL == "" || c.LLM.Model == "") {
		return errors.New("llm.base_url and llm.model are required when llm is enabled")
	}

	if c.Worker.Interval.Duration() <= 0 {
		return errors.New("worker.interval must be positive")
	}
	if c.Worker.BatchSize <= 0 {
		return fmt.Errorf("worker.batch_size must be positive, got %d", c.Worker.BatchSize)
	}

	if c.Events.Enabled && c.Events.URL == "" {
		return errors.New("events.url is required when events are enabled")
	}

	if c.Observability.ServiceName == "" {
		return errors.New("observability.service_name is required")
	}
	if !slices.Contains(logFormats, c.Observability.LogFormat) {
		return fmt.Errorf("observability.log_format must be one of %v, got %q", logFormats, c.Observability.LogFormat)
	}
	if c.Observability.SamplingRate < 0 || c.Observability.SamplingRate > 1 {
		return fmt.Errorf("observability.sampling_rate must be between 0 and 1, got %f", c.Observability.SamplingRate)
	}

	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9191
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if !cfg.Database.DSN.IsSet() && cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = "~/.config/waypoint/waypoint.db"
	}

	// chromem is the default: embedded, no external services.
	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = "chromem"
	}
	if len(cfg.VectorStore.Dimensions) == 0 {
		cfg.VectorStore.Dimensions = []int{384, 768, 1536}
	}
	if cfg.VectorStore.DuplicatePolicy == "" {
		cfg.VectorStore.DuplicatePolicy = "reject"
	}
	if cfg.VectorStore.Chromem.Path == "" {
		cfg.VectorStore.Chromem.Path = "~/.config/waypoint/vectors"
	}
	if cfg.VectorStore.Qdrant.Host == "" {
		cfg.VectorStore.Qdrant.Host = "localhost"
	}
	if cfg.VectorStore.Qdrant.Port == 0 {
		cfg.VectorStore.Qdrant.Port = 6334
	}
	if cfg.VectorStore.Milvus.Address == "" {
		cfg.VectorStore.Milvus.Address = "localhost:19530"
	}

	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "fastembed"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}
	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:8080/v1"
	}
	if cfg.Embeddings.CacheDir == "" {
		cfg.Embeddings.CacheDir = "~/.cache/waypoint/models"
	}
	if cfg.Embeddings.Burst == 0 {
		cfg.Embeddings.Burst = 1
	}

	if cfg.Worker.Interval == 0 {
		cfg.Worker.Interval = Duration(5 * time.Second)
	}
	if cfg.Worker.BatchSize == 0 {
		cfg.Worker.BatchSize = 10
	}

	if cfg.Events.URL == "" {
		cfg.Events.URL = "nats://localhost:4222"
	}
	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "waypoint.executions"
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "waypoint"
	}
	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
	if cfg.Observability.LogFormat == "" {
		cfg.Observability.LogFormat = "json"
	}
	if cfg.Observability.OTLPEndpoint == "" {
		cfg.Observability.OTLPEndpoint = "localhost:4317"
	}
	if cfg.Observability.OTLPProtocol == "" {
		cfg.Observability.OTLPProtocol = "grpc"
	}
	if cfg.Observability.SamplingRate == 0 {
		cfg.Observability.SamplingRate = 1.0
	}
}
