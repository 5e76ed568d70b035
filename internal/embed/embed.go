// Package embed turns fragment text and search queries into vectors.
//
// Providers frame inputs asymmetrically: indexed text is embedded as a
// passage and search text as a query, which matters for retrieval models
// trained with task prefixes.
package embed

import (
	"context"
	"math"
	"time"
)

const (
	// DefaultDimensions is the embedding width of the default model.
	DefaultDimensions = 768

	// DefaultBatchSize is the number of passages per provider request.
	DefaultBatchSize = 32

	// MaxBatchSize caps a single provider request.
	MaxBatchSize = 256

	// DefaultTimeout bounds one provider round trip.
	DefaultTimeout = 60 * time.Second

	// passagePrefix and queryPrefix are the task prefixes the default
	// model family (nomic-embed-text) was trained with. Indexing and
	// querying must use matching prefixes or similarity scores degrade.
	passagePrefix = "search_document: "
	queryPrefix   = "search_query: "
)

// Embedder generates vector embeddings for fragments and queries.
type Embedder interface {
	// EmbedPassages embeds fragment texts for indexing. The result has
	// one vector per input, in order.
	EmbedPassages(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery embeds a search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding width.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available reports whether the provider is reachable and ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// normalizeVector scales a vector to unit length. Zero vectors pass
// through unchanged.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
