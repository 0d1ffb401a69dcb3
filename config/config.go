// Package config loads the service configuration from YAML and the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hubenschmidt/go-visearch/embed"
	"github.com/hubenschmidt/go-visearch/logging"
	"github.com/hubenschmidt/go-visearch/vector"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Media     MediaConfig     `yaml:"media"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Search    SearchConfig    `yaml:"search"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Logging   logging.Config  `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	CORSOrigin      string        `yaml:"cors_origin"`
}

// DatabaseConfig holds the catalog DSN. Empty means SQLite at data/catalog.db.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type MediaConfig struct {
	Dir string `yaml:"dir"`
}

// EmbeddingConfig holds embedding service configuration.
type EmbeddingConfig struct {
	Provider  string        `yaml:"provider"` // "clip" or "mock"
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key"`
	Timeout   time.Duration `yaml:"timeout"`
	Dimension int           `yaml:"dimension"`
}

// IndexConfig holds vector index configuration.
type IndexConfig struct {
	Backend       string        `yaml:"backend"` // rest, graphql, pgvector, bolt, memory
	URL           string        `yaml:"url"`
	APIKey        string        `yaml:"api_key"`
	Timeout       time.Duration `yaml:"timeout"`
	HealthTimeout time.Duration `yaml:"health_timeout"`
	PathPrefix    string        `yaml:"path_prefix"`
	Class         string        `yaml:"class"`
	Vectorizer    string        `yaml:"vectorizer"`
	DSN           string        `yaml:"dsn"`
	Path          string        `yaml:"path"`
}

// SearchConfig holds orchestrator configuration.
type SearchConfig struct {
	Limit           int           `yaml:"limit"`
	FallbackSize    int           `yaml:"fallback_size"`
	Timeout         time.Duration `yaml:"timeout"`
	FallbackTimeout time.Duration `yaml:"fallback_timeout"`
	ImageQuery      bool          `yaml:"image_query"`
}

// ReconcileConfig holds batch job configuration. An empty Schedule disables
// periodic runs.
type ReconcileConfig struct {
	Interval time.Duration `yaml:"interval"`
	Schedule string        `yaml:"schedule"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	idx := vector.DefaultConfig()
	emb := embed.DefaultClientConfig()
	return &Config{
		Server: ServerConfig{
			Addr:            ":8000",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    90 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxUploadBytes:  embed.DefaultMaxImageBytes,
			CORSOrigin:      "*",
		},
		Media: MediaConfig{
			Dir: "media",
		},
		Embedding: EmbeddingConfig{
			Provider:  "clip",
			BaseURL:   emb.BaseURL,
			Timeout:   emb.Timeout,
			Dimension: emb.Dimension,
		},
		Index: IndexConfig{
			Backend:       idx.Backend,
			URL:           idx.BaseURL,
			Timeout:       idx.Timeout,
			HealthTimeout: idx.HealthTimeout,
			PathPrefix:    idx.PathPrefix,
			Class:         idx.Class,
			Vectorizer:    idx.Vectorizer,
			Path:          idx.Path,
		},
		Search: SearchConfig{
			Limit:           8,
			FallbackSize:    8,
			Timeout:         60 * time.Second,
			FallbackTimeout: 5 * time.Second,
		},
		Reconcile: ReconcileConfig{
			Interval: 100 * time.Millisecond,
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Marshal encodes the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := c.Marshal()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ApplyEnv overrides settings from environment variables.
func (c *Config) ApplyEnv() {
	set := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*dst = v
		}
	}

	set("VISEARCH_ADDR", &c.Server.Addr)
	set("DATABASE_DSN", &c.Database.DSN)
	set("MEDIA_DIR", &c.Media.Dir)
	set("CLIP_BASE_URL", &c.Embedding.BaseURL)
	set("CLIP_API_KEY", &c.Embedding.APIKey)
	if v := os.Getenv("WEAVIATE_URL"); v != "" {
		c.Index.Backend = "graphql"
		c.Index.URL = v
	}
	set("INDEX_BACKEND", &c.Index.Backend)
	set("INDEX_URL", &c.Index.URL)
	set("INDEX_API_KEY", &c.Index.APIKey)
	set("LOG_LEVEL", &c.Logging.Level)
}

var backends = map[string]bool{
	"rest": true, "graphql": true, "weaviate": true, "pgvector": true, "bolt": true, "memory": true,
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Server.Addr == "":
		return fmt.Errorf("server.addr is required")
	case c.Server.MaxUploadBytes <= 0:
		return fmt.Errorf("server.max_upload_bytes must be positive")
	case c.Embedding.Provider != "clip" && c.Embedding.Provider != "mock":
		return fmt.Errorf("embedding.provider must be clip or mock, got %q", c.Embedding.Provider)
	case c.Embedding.Dimension <= 0:
		return fmt.Errorf("embedding.dimension must be positive")
	case !backends[strings.ToLower(c.Index.Backend)]:
		return fmt.Errorf("unknown index.backend %q", c.Index.Backend)
	case strings.EqualFold(c.Index.Backend, "pgvector") && c.Index.DSN == "":
		return fmt.Errorf("index.dsn is required for the pgvector backend")
	case c.Search.Limit <= 0:
		return fmt.Errorf("search.limit must be positive")
	case c.Search.FallbackSize <= 0:
		return fmt.Errorf("search.fallback_size must be positive")
	case c.Search.Timeout <= 0:
		return fmt.Errorf("search.timeout must be positive")
	}
	return nil
}

// VectorConfig converts the index section for vector.NewIndex.
func (c *Config) VectorConfig() vector.Config {
	return vector.Config{
		Backend:       strings.ToLower(c.Index.Backend),
		BaseURL:       c.Index.URL,
		APIKey:        c.Index.APIKey,
		Timeout:       c.Index.Timeout,
		HealthTimeout: c.Index.HealthTimeout,
		PathPrefix:    c.Index.PathPrefix,
		Class:         c.Index.Class,
		Vectorizer:    c.Index.Vectorizer,
		DSN:           c.Index.DSN,
		Path:          c.Index.Path,
		Dimension:     c.Embedding.Dimension,
	}
}

// Embedder builds the configured embedding client.
func (c *Config) Embedder() embed.Embedder {
	if c.Embedding.Provider == "mock" {
		return embed.NewMockEmbedder(c.Embedding.Dimension)
	}
	return embed.NewCLIPClient(embed.ClientConfig{
		BaseURL:   c.Embedding.BaseURL,
		APIKey:    c.Embedding.APIKey,
		Timeout:   c.Embedding.Timeout,
		Dimension: c.Embedding.Dimension,
	})
}
