package embed

import (
	"fmt"
	"strings"
	"time"
)

// Provider names accepted by NewFromProvider.
const (
	ProviderOllama = "ollama"
	ProviderStatic = "static"
)

// ProviderConfig selects and configures an embedding provider.
type ProviderConfig struct {
	Provider   string
	Host       string
	Model      string
	Dimensions int
	BatchSize  int
	CacheSize  int
	Timeout    time.Duration
}

// NewFromProvider builds an embedder for the named provider, wrapped in
// an LRU cache.
func NewFromProvider(cfg ProviderConfig) (Embedder, error) {
	var inner Embedder

	switch strings.ToLower(cfg.Provider) {
	case ProviderOllama, "":
		inner = NewOllamaEmbedder(OllamaConfig{
			Host:       cfg.Host,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
			Timeout:    cfg.Timeout,
		})
	case ProviderStatic:
		inner = NewStaticEmbedder()
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}

	return NewCachedEmbedder(inner, cfg.CacheSize), nil
}
