// Package rerank rescores search candidates against the query text with a
// cross-encoder. Vector similarity recalls candidates; reranking orders
// them by actual relevance before thresholding.
package rerank

import (
	"context"
	"regexp"
	"sort"
	"strings"
)

// DefaultTopK is the number of candidates kept after reranking.
const DefaultTopK = 10

// Result is one rescored candidate.
type Result struct {
	// Index is the candidate's position in the input slice.
	Index int
	// Score is the relevance score, higher is better.
	Score float64
}

// Reranker rescores candidate texts against a query and returns them
// sorted by descending score, truncated to topK.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []string, topK int) ([]Result, error)

	// Available reports whether the reranker is ready.
	Available(ctx context.Context) bool

	Close() error
}

var wordRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// LexicalReranker scores candidates by query term overlap. It is the
// fallback when no cross-encoder endpoint is configured: scores are crude
// but deterministic, and the [0,1] range keeps thresholds meaningful.
type LexicalReranker struct{}

var _ Reranker = (*LexicalReranker)(nil)

// NewLexicalReranker creates a lexical overlap reranker.
func NewLexicalReranker() *LexicalReranker {
	return &LexicalReranker{}
}

// Rerank scores each candidate by the fraction of query terms it contains.
func (r *LexicalReranker) Rerank(ctx context.Context, query string, candidates []string, topK int) ([]Result, error) {
	if len(candidates) == 0 {
		return []Result{}, nil
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	terms := wordRegex.FindAllString(strings.ToLower(query), -1)
	termSet := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		termSet[t] = struct{}{}
	}

	results := make([]Result, len(candidates))
	for i, text := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results[i] = Result{Index: i, Score: overlapScore(termSet, text)}
	}

	sort.SliceStable(results, func(a, b int) bool {
		return results[a].Score > results[b].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// overlapScore is the fraction of distinct query terms present in text.
func overlapScore(termSet map[string]struct{}, text string) float64 {
	if len(termSet) == 0 {
		return 0
	}
	seen := make(map[string]struct{})
	for _, w := range wordRegex.FindAllString(strings.ToLower(text), -1) {
		if _, ok := termSet[w]; ok {
			seen[w] = struct{}{}
		}
	}
	return float64(len(seen)) / float64(len(termSet))
}

// Available always reports true.
func (r *LexicalReranker) Available(ctx context.Context) bool {
	return true
}

// Close is a no-op.
func (r *LexicalReranker) Close() error {
	return nil
}
