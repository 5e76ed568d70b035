package embed

import (
	"context"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"

	apperrors "github.com/pkazakov/vecsync/internal/errors"
)

// StaticDimensions is the embedding width of the static embedder.
const StaticDimensions = 256

// token and n-gram contribution weights
const (
	staticTokenWeight = 0.7
	staticNgramWeight = 0.3
	staticNgramSize   = 3
)

var staticTokenRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// StaticEmbedder generates deterministic hash-based embeddings with no
// network or model dependency. Semantic quality is poor, but identical
// text always maps to the identical vector, which is what indexing
// invariants and tests need. Passage and query framing is ignored; the
// same text embeds to the same vector either way, so lexical overlap
// still ranks sensibly.
type StaticEmbedder struct {
	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*StaticEmbedder)(nil)

// NewStaticEmbedder creates a static embedder.
func NewStaticEmbedder() *StaticEmbedder {
	return &StaticEmbedder{}
}

// EmbedPassages embeds each text independently.
func (e *StaticEmbedder) EmbedPassages(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	results := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results[i] = e.vectorize(text)
	}
	return results, nil
}

// EmbedQuery embeds a query text.
func (e *StaticEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	return e.vectorize(text), nil
}

// vectorize builds a unit vector from token and character n-gram hashes.
func (e *StaticEmbedder) vectorize(text string) []float32 {
	vector := make([]float32, StaticDimensions)

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return vector
	}

	tokens := staticTokenRegex.FindAllString(strings.ToLower(trimmed), -1)
	for _, token := range tokens {
		vector[hashToIndex(token)] += staticTokenWeight

		// character n-grams give partial-word overlap a signal
		runes := []rune(token)
		for i := 0; i+staticNgramSize <= len(runes); i++ {
			gram := string(runes[i : i+staticNgramSize])
			vector[hashToIndex(gram)] += staticNgramWeight
		}
	}

	return normalizeVector(vector)
}

func hashToIndex(s string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() % StaticDimensions)
}

// Dimensions returns the static embedding width.
func (e *StaticEmbedder) Dimensions() int {
	return StaticDimensions
}

// ModelName returns the static model identifier.
func (e *StaticEmbedder) ModelName() string {
	return "static-hash-v1"
}

// Available always reports true; the static embedder has no dependency.
func (e *StaticEmbedder) Available(ctx context.Context) bool {
	return e.checkOpen() == nil
}

// Close marks the embedder closed.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *StaticEmbedder) checkOpen() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return apperrors.EmbeddingError("embedder is closed", nil)
	}
	return nil
}
