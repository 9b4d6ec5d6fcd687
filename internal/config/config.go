// Package config loads and validates the ragsearch configuration.
// Configuration is read from YAML with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete ragsearch configuration.
type Config struct {
	// Enabled gates both the indexing and search subsystems.
	Enabled bool `yaml:"enabled"`

	Search   SearchConfig   `yaml:"search"`
	Indexing IndexingConfig `yaml:"indexing"`
	Embedder EmbedderConfig `yaml:"embedder"`
	Solr     SolrConfig     `yaml:"solr"`
	Store    StoreConfig    `yaml:"store"`
	History  HistoryConfig  `yaml:"history"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// SearchConfig configures the weighted semantic search.
type SearchConfig struct {
	// PropertyBoost is the multiplier applied to the property channel's raw score.
	PropertyBoost float32 `yaml:"property_boost"`
	// ContentBoost is the multiplier applied to the content channel's raw score.
	ContentBoost float32 `yaml:"content_boost"`
	// PropertySearchEnabled disables the property channel when false,
	// degrading search to content-only.
	PropertySearchEnabled bool `yaml:"property_search_enabled"`
	// TopK is the default result count.
	TopK int `yaml:"top_k"`
	// SimilarityThreshold is the minimum raw similarity a document must
	// reach in at least one channel. Evaluated before boosting.
	SimilarityThreshold float32 `yaml:"similarity_threshold"`
}

// IndexingConfig configures the reindex pipeline.
type IndexingConfig struct {
	// BatchSize is the number of documents flushed together during a
	// reindex walk. Small on purpose: the bottleneck is synchronous
	// embedding generation, not I/O.
	BatchSize int `yaml:"batch_size"`
	// MimeTypes is the allow-list of indexable MIME types.
	MimeTypes []string `yaml:"mime_types"`
	// ChunkSize is the token window per content chunk.
	ChunkSize int `yaml:"chunk_size"`
	// ChunkOverlap is the token overlap between consecutive chunks.
	ChunkOverlap int `yaml:"chunk_overlap"`
	// QueueSize bounds the reindex job queue. Enqueue fails when full.
	QueueSize int `yaml:"queue_size"`
	// Workers is the number of reindex workers. One worker serializes
	// jobs to protect the embedding service.
	Workers int `yaml:"workers"`
}

// EmbedderConfig configures the embedding service client.
type EmbedderConfig struct {
	// Endpoint is the embedding service base URL.
	Endpoint string `yaml:"endpoint"`
	// Model is the embedding model identifier.
	Model string `yaml:"model"`
	// Dimensions is the embedding dimension (0 = trust the service).
	Dimensions int `yaml:"dimensions"`
	// Timeout is the per-request timeout.
	Timeout time.Duration `yaml:"timeout"`
	// RateLimit caps embedding requests per second (0 = unlimited).
	RateLimit float64 `yaml:"rate_limit"`
	// CacheSize is the query embedding LRU size.
	CacheSize int `yaml:"cache_size"`
}

// SolrConfig configures the Solr vector store client.
type SolrConfig struct {
	// URL is the Solr base URL, e.g. http://solr:8983/solr.
	URL string `yaml:"url"`
	// Core is the Solr core holding the vector index.
	Core string `yaml:"core"`
	// Timeout is the per-request timeout.
	Timeout time.Duration `yaml:"timeout"`
}

// StoreConfig selects and configures the vector store backend.
type StoreConfig struct {
	// Backend is "solr" or "embedded".
	Backend string `yaml:"backend"`
	// DataDir is the embedded backend's persistence directory.
	DataDir string `yaml:"data_dir"`
}

// HistoryConfig configures the reindex run history database.
type HistoryConfig struct {
	// Path is the SQLite database file. Empty disables history.
	Path string `yaml:"path"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level    string `yaml:"level"`
	FilePath string `yaml:"file_path"`
}

// Default returns a Config with production defaults. Boosts follow the
// common 0.3/0.7 property/content split; the similarity threshold is the
// raw-score gate, independent of the boosts.
func Default() *Config {
	return &Config{
		Enabled: true,
		Search: SearchConfig{
			PropertyBoost:         0.3,
			ContentBoost:          0.7,
			PropertySearchEnabled: true,
			TopK:                  10,
			SimilarityThreshold:   0.5,
		},
		Indexing: IndexingConfig{
			BatchSize: 10,
			MimeTypes: []string{
				"text/plain",
				"text/html",
				"text/markdown",
				"text/csv",
				"application/pdf",
			},
			ChunkSize:    512,
			ChunkOverlap: 64,
			QueueSize:    4,
			Workers:      1,
		},
		Embedder: EmbedderConfig{
			Endpoint:   "http://localhost:11434",
			Model:      "nomic-embed-text",
			Dimensions: 0,
			Timeout:    60 * time.Second,
			RateLimit:  0,
			CacheSize:  1000,
		},
		Solr: SolrConfig{
			URL:     "http://localhost:8983/solr",
			Core:    "ragsearch",
			Timeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Backend: "solr",
			DataDir: "",
		},
		History: HistoryConfig{
			Path: "",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the config file at path, applies environment overrides, and
// validates the result. A missing file is not an error: defaults plus
// environment overrides are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides selected fields from the environment. Environment
// variables take priority over file values.
func (c *Config) applyEnv() {
	if v := os.Getenv("RAGSEARCH_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Enabled = b
		}
	}
	if v := os.Getenv("RAGSEARCH_PROPERTY_BOOST"); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			c.Search.PropertyBoost = float32(f)
		}
	}
	if v := os.Getenv("RAGSEARCH_CONTENT_BOOST"); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			c.Search.ContentBoost = float32(f)
		}
	}
	if v := os.Getenv("RAGSEARCH_SOLR_URL"); v != "" {
		c.Solr.URL = v
	}
	if v := os.Getenv("RAGSEARCH_EMBEDDER_ENDPOINT"); v != "" {
		c.Embedder.Endpoint = v
	}
	if v := os.Getenv("RAGSEARCH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks invariants that would otherwise surface as confusing
// runtime behavior.
func (c *Config) Validate() error {
	if c.Search.PropertyBoost < 0 || c.Search.ContentBoost < 0 {
		return fmt.Errorf("config: boosts must be non-negative (property=%.2f content=%.2f)",
			c.Search.PropertyBoost, c.Search.ContentBoost)
	}
	if c.Search.TopK <= 0 {
		return fmt.Errorf("config: search.top_k must be positive, got %d", c.Search.TopK)
	}
	if c.Search.SimilarityThreshold < 0 || c.Search.SimilarityThreshold > 1 {
		return fmt.Errorf("config: search.similarity_threshold must be in [0,1], got %.2f",
			c.Search.SimilarityThreshold)
	}
	if c.Indexing.BatchSize <= 0 {
		return fmt.Errorf("config: indexing.batch_size must be positive, got %d", c.Indexing.BatchSize)
	}
	if c.Indexing.QueueSize <= 0 {
		return fmt.Errorf("config: indexing.queue_size must be positive, got %d", c.Indexing.QueueSize)
	}
	if c.Indexing.Workers <= 0 {
		return fmt.Errorf("config: indexing.workers must be positive, got %d", c.Indexing.Workers)
	}
	if c.Indexing.ChunkOverlap >= c.Indexing.ChunkSize {
		return fmt.Errorf("config: chunk_overlap (%d) must be smaller than chunk_size (%d)",
			c.Indexing.ChunkOverlap, c.Indexing.ChunkSize)
	}
	switch c.Store.Backend {
	case "solr", "embedded":
	default:
		return fmt.Errorf("config: store.backend must be \"solr\" or \"embedded\", got %q", c.Store.Backend)
	}
	if c.Store.Backend == "embedded" && c.Store.DataDir == "" {
		return fmt.Errorf("config: store.data_dir is required for the embedded backend")
	}
	return nil
}

// AllowsMimeType reports whether the MIME type is on the indexing allow-list.
func (c *Config) AllowsMimeType(mimeType string) bool {
	for _, m := range c.Indexing.MimeTypes {
		if m == mimeType {
			return true
		}
	}
	return false
}
