// Package config loads and validates the vecsync configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete vecsync configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store"`
	Watch      WatchConfig      `yaml:"watch"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Rerank     RerankConfig     `yaml:"rerank"`
	Search     SearchConfig     `yaml:"search"`
	Retry      RetryConfig      `yaml:"retry"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// StoreConfig configures the local index store.
type StoreConfig struct {
	// DataDir is the directory holding the index database.
	DataDir string `yaml:"data_dir"`
	// CollectionPrefix prefixes every derived collection name.
	CollectionPrefix string `yaml:"collection_prefix"`
}

// WatchConfig configures event handling and the bulk scan.
// The settle window and backoff values are deployment tunables; the defaults
// follow the reference deployment.
type WatchConfig struct {
	// SettleWindow is how long a path must stay quiet before its pending
	// notifications settle into a single logical event.
	SettleWindow time.Duration `yaml:"settle_window"`
	// Workers is the size of the synchronization worker pool shared
	// across all watched folders.
	Workers int `yaml:"workers"`
	// QueueDepth bounds in-flight file synchronizations; the bulk scan
	// blocks when this many tasks are pending.
	QueueDepth int `yaml:"queue_depth"`
	// MaxFileSizeMB is the largest file that will be indexed.
	MaxFileSizeMB int `yaml:"max_file_size_mb"`
	// PersistInterval debounces writes of the watcher registry.
	PersistInterval time.Duration `yaml:"persist_interval"`
	// SweepInterval is how often folders in the error state are retried.
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// FallbackEncoding is the charset tried when a text file is not valid
	// UTF-8 (e.g. "windows-1252", "latin-1").
	FallbackEncoding string `yaml:"fallback_encoding"`
}

// ChunkingConfig configures the word-window chunker.
type ChunkingConfig struct {
	// SizeWords is the maximum number of words per fragment.
	SizeWords int `yaml:"size_words"`
	// OverlapRatio is the fraction of SizeWords shared between
	// consecutive fragments (0.0-0.9).
	OverlapRatio float64 `yaml:"overlap_ratio"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider selects the embedder backend: "ollama" or "static".
	Provider string `yaml:"provider"`
	// Host is the Ollama-compatible API endpoint.
	Host string `yaml:"host"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// Dimensions is the embedding vector size.
	Dimensions int `yaml:"dimensions"`
	// BatchSize is the number of passages embedded per request.
	BatchSize int `yaml:"batch_size"`
	// CacheSize is the number of embeddings kept in the LRU cache.
	CacheSize int `yaml:"cache_size"`
	// Timeout bounds a single embedding request.
	Timeout time.Duration `yaml:"timeout"`
}

// RerankConfig configures the query-time reranking provider.
type RerankConfig struct {
	// Endpoint is the rerank service URL. Empty disables reranking.
	Endpoint string `yaml:"endpoint"`
	// ScoreThreshold drops reranked results below this cross-encoder score.
	ScoreThreshold float64 `yaml:"score_threshold"`
	// TopK limits how many results survive reranking.
	TopK int `yaml:"top_k"`
}

// SearchConfig configures vector search defaults.
type SearchConfig struct {
	// ScoreThreshold drops vector matches below this cosine similarity.
	ScoreThreshold float64 `yaml:"score_threshold"`
	// Limit is the default number of candidates fetched per query.
	Limit int `yaml:"limit"`
}

// RetryConfig configures backoff for transient backend failures.
type RetryConfig struct {
	MaxRetries   int           `yaml:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level    string `yaml:"level"`
	FilePath string `yaml:"file_path"`
}

// Default returns the reference configuration.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			DataDir:          defaultDataDir(),
			CollectionPrefix: "rag",
		},
		Watch: WatchConfig{
			SettleWindow:    500 * time.Millisecond,
			Workers:         4,
			QueueDepth:      64,
			MaxFileSizeMB:   100,
			PersistInterval: 2 * time.Second,
			SweepInterval:   30 * time.Second,
		},
		Chunking: ChunkingConfig{
			SizeWords:    150,
			OverlapRatio: 0.15,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "ollama",
			Host:       "http://localhost:11434",
			Model:      "nomic-embed-text",
			Dimensions: 768,
			BatchSize:  32,
			CacheSize:  1000,
			Timeout:    60 * time.Second,
		},
		Rerank: RerankConfig{
			ScoreThreshold: 0.35,
			TopK:           10,
		},
		Search: SearchConfig{
			ScoreThreshold: 0.150,
			Limit:          10,
		},
		Retry: RetryConfig{
			MaxRetries:   3,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     16 * time.Second,
			Multiplier:   2.0,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from path, overlaying it on the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Chunking.SizeWords <= 0 {
		return fmt.Errorf("chunking.size_words must be positive, got %d", c.Chunking.SizeWords)
	}
	if c.Chunking.OverlapRatio < 0 || c.Chunking.OverlapRatio >= 1 {
		return fmt.Errorf("chunking.overlap_ratio must be in [0, 1), got %g", c.Chunking.OverlapRatio)
	}
	if c.Watch.Workers <= 0 {
		return fmt.Errorf("watch.workers must be positive, got %d", c.Watch.Workers)
	}
	if c.Watch.QueueDepth <= 0 {
		return fmt.Errorf("watch.queue_depth must be positive, got %d", c.Watch.QueueDepth)
	}
	if c.Watch.SettleWindow <= 0 {
		return fmt.Errorf("watch.settle_window must be positive, got %s", c.Watch.SettleWindow)
	}
	if c.Embeddings.Dimensions <= 0 {
		return fmt.Errorf("embeddings.dimensions must be positive, got %d", c.Embeddings.Dimensions)
	}
	switch c.Embeddings.Provider {
	case "ollama", "static":
	default:
		return fmt.Errorf("embeddings.provider must be \"ollama\" or \"static\", got %q", c.Embeddings.Provider)
	}
	return nil
}

// defaultDataDir places the index under the user's home directory.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".vecsync"
	}
	return home + string(os.PathSeparator) + ".vecsync"
}
