// Package config defines the typed configuration for the bookmark
// pipeline service. Every section follows the same discipline:
// SetDefaults fills zero values, Validate rejects unusable values.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultCategories is the fixed default taxonomy seeded per user on
// first categorization.
var DefaultCategories = []string{
	"Development", "AI/ML", "Technology", "Business", "Education",
	"News", "Entertainment", "Reference", "Tools", "Personal", "Other",
}

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" json:"server"`
	Database DatabaseConfig `yaml:"database" json:"database"`
	Pipeline PipelineConfig `yaml:"pipeline" json:"pipeline"`
	AI       AIConfig       `yaml:"ai" json:"ai"`
	Embedder EmbedderConfig `yaml:"embedder" json:"embedder"`
	Vector   VectorConfig   `yaml:"vector" json:"vector"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host    string `yaml:"host" json:"host"`
	Port    int    `yaml:"port" json:"port"`
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.BaseURL == "" {
		c.BaseURL = fmt.Sprintf("http://%s:%d", c.Host, c.Port)
	}
}

func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	return nil
}

// DatabaseConfig configures the SQL backend for tasks, artifacts,
// messages, and bookmarks.
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver" json:"driver"`
	// DSN is the connection string ("/path/db.sqlite" or a postgres URL).
	DSN      string `yaml:"dsn" json:"dsn"`
	MaxConns int    `yaml:"max_conns,omitempty" json:"max_conns,omitempty"`
	MaxIdle  int    `yaml:"max_idle,omitempty" json:"max_idle,omitempty"`
}

func (c *DatabaseConfig) SetDefaults() {
	if c.Driver == "" {
		c.Driver = "sqlite"
	}
	if c.DSN == "" && c.Driver == "sqlite" {
		c.DSN = "bookmarks.db"
	}
	if c.MaxConns == 0 {
		c.MaxConns = 10
	}
	if c.MaxIdle == 0 {
		c.MaxIdle = 2
	}
}

func (c *DatabaseConfig) Validate() error {
	switch c.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %s (supported: sqlite, postgres)", c.Driver)
	}
	if c.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}
	return nil
}

// PipelineConfig holds the per-stage tuning knobs.
type PipelineConfig struct {
	ImportChunkSize         int `yaml:"import_chunk_size,omitempty" json:"import_chunk_size,omitempty"`
	ValidationConcurrency   int `yaml:"validation_concurrency,omitempty" json:"validation_concurrency,omitempty"`
	EnrichmentConcurrency   int `yaml:"enrichment_concurrency,omitempty" json:"enrichment_concurrency,omitempty"`
	EnrichmentRatePerMinute int `yaml:"enrichment_rate_per_minute,omitempty" json:"enrichment_rate_per_minute,omitempty"`
	EmbeddingBatchSize      int `yaml:"embedding_batch_size,omitempty" json:"embedding_batch_size,omitempty"`
	EmbeddingParallel       int `yaml:"embedding_parallel_batches,omitempty" json:"embedding_parallel_batches,omitempty"`
	NavigationTimeoutMs     int `yaml:"navigation_timeout_ms,omitempty" json:"navigation_timeout_ms,omitempty"`
}

func (c *PipelineConfig) SetDefaults() {
	if c.ImportChunkSize == 0 {
		c.ImportChunkSize = 100
	}
	if c.ValidationConcurrency == 0 {
		c.ValidationConcurrency = 3
	}
	if c.EnrichmentConcurrency == 0 {
		c.EnrichmentConcurrency = 5
	}
	if c.EnrichmentRatePerMinute == 0 {
		c.EnrichmentRatePerMinute = 10
	}
	if c.EmbeddingBatchSize == 0 {
		c.EmbeddingBatchSize = 20
	}
	if c.EmbeddingParallel == 0 {
		c.EmbeddingParallel = 5
	}
	if c.NavigationTimeoutMs == 0 {
		c.NavigationTimeoutMs = 30000
	}
}

func (c *PipelineConfig) Validate() error {
	if c.ImportChunkSize < 1 {
		return fmt.Errorf("import_chunk_size must be positive")
	}
	if c.ValidationConcurrency < 1 || c.EnrichmentConcurrency < 1 || c.EmbeddingParallel < 1 {
		return fmt.Errorf("concurrency settings must be positive")
	}
	if c.EmbeddingBatchSize < 1 {
		return fmt.Errorf("embedding_batch_size must be positive")
	}
	return nil
}

// NavigationTimeout returns the per-URL navigation timeout.
func (c *PipelineConfig) NavigationTimeout() time.Duration {
	return time.Duration(c.NavigationTimeoutMs) * time.Millisecond
}

// AIConfig configures the external AI capability used for enrichment.
type AIConfig struct {
	// Type is "openai" (OpenAI-compatible chat completions) or "stub".
	Type    string `yaml:"type" json:"type"`
	Host    string `yaml:"host,omitempty" json:"host,omitempty"`
	Model   string `yaml:"model,omitempty" json:"model,omitempty"`
	APIKey  string `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	Timeout int    `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

func (c *AIConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "stub"
	}
	if c.Host == "" {
		c.Host = "https://api.openai.com/v1"
	}
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.Timeout == 0 {
		c.Timeout = 60
	}
}

func (c *AIConfig) Validate() error {
	switch c.Type {
	case "openai", "stub":
	default:
		return fmt.Errorf("unsupported ai provider type: %s", c.Type)
	}
	if c.Type == "openai" && c.APIKey == "" {
		return fmt.Errorf("api_key is required for openai provider")
	}
	return nil
}

// EmbedderConfig configures the embedding capability.
type EmbedderConfig struct {
	// Type is "openai" or "stub".
	Type      string `yaml:"type" json:"type"`
	Host      string `yaml:"host,omitempty" json:"host,omitempty"`
	Model     string `yaml:"model,omitempty" json:"model,omitempty"`
	APIKey    string `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	Dimension int    `yaml:"dimension,omitempty" json:"dimension,omitempty"`
	Timeout   int    `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

func (c *EmbedderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "stub"
	}
	if c.Host == "" {
		c.Host = "https://api.openai.com/v1"
	}
	if c.Model == "" {
		c.Model = "text-embedding-3-small"
	}
	if c.Dimension == 0 {
		c.Dimension = 1536
	}
	if c.Timeout == 0 {
		c.Timeout = 30
	}
}

func (c *EmbedderConfig) Validate() error {
	switch c.Type {
	case "openai", "stub":
	default:
		return fmt.Errorf("unsupported embedder type: %s", c.Type)
	}
	if c.Type == "openai" && c.APIKey == "" {
		return fmt.Errorf("api_key is required for openai embedder")
	}
	if c.Dimension < 1 {
		return fmt.Errorf("dimension must be positive")
	}
	return nil
}

// VectorConfig configures the embedded vector index.
type VectorConfig struct {
	// PersistPath enables file persistence when set; empty keeps the
	// index in memory only.
	PersistPath string `yaml:"persist_path,omitempty" json:"persist_path,omitempty"`
	Compress    bool   `yaml:"compress,omitempty" json:"compress,omitempty"`
}

func (c *VectorConfig) SetDefaults() {}

func (c *VectorConfig) Validate() error { return nil }

// LoggingConfig configures slog bootstrap.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty" json:"level,omitempty"`
	Format string `yaml:"format,omitempty" json:"format,omitempty"`
}

func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "simple"
	}
}

func (c *LoggingConfig) Validate() error { return nil }

// SetDefaults fills defaults on all sections.
func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	c.Database.SetDefaults()
	c.Pipeline.SetDefaults()
	c.AI.SetDefaults()
	c.Embedder.SetDefaults()
	c.Vector.SetDefaults()
	c.Logging.SetDefaults()
}

// Validate validates all sections.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if err := c.AI.Validate(); err != nil {
		return fmt.Errorf("ai: %w", err)
	}
	if err := c.Embedder.Validate(); err != nil {
		return fmt.Errorf("embedder: %w", err)
	}
	if err := c.Vector.Validate(); err != nil {
		return fmt.Errorf("vector: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}

// Default returns a config with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} references with environment values.
// Unset variables expand to the empty string.
func expandEnv(content []byte) []byte {
	return envRefPattern.ReplaceAllFunc(content, func(match []byte) []byte {
		name := envRefPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// Load reads a YAML config file, expands ${ENV} references, applies
// defaults, and validates. A .env file next to the process, if present,
// is loaded into the environment first.
func Load(path string) (*Config, error) {
	// Best effort; a missing .env is not an error.
	_ = godotenv.Load()

	if path == "" {
		cfg := &Config{}
		cfg.SetDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(expandEnv(content), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}
