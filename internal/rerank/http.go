package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	apperrors "github.com/pkazakov/vecsync/internal/errors"
)

// DefaultTimeout bounds one rerank round trip.
const DefaultTimeout = 30 * time.Second

// HTTPConfig configures the cross-encoder HTTP client.
type HTTPConfig struct {
	// Endpoint is the base URL of a text-embeddings-inference style
	// rerank server, e.g. http://localhost:8080.
	Endpoint string

	// Timeout bounds one round trip (default 30s).
	Timeout time.Duration
}

// rerankRequest is the TEI /rerank request body.
type rerankRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
}

// rerankEntry is one element of the TEI /rerank response.
type rerankEntry struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// HTTPReranker rescores candidates through a cross-encoder serving the
// text-embeddings-inference rerank API.
type HTTPReranker struct {
	endpoint string
	client   *http.Client
}

var _ Reranker = (*HTTPReranker)(nil)

// NewHTTPReranker creates a reranker client for the given endpoint.
func NewHTTPReranker(cfg HTTPConfig) *HTTPReranker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &HTTPReranker{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		client:   &http.Client{Timeout: cfg.Timeout},
	}
}

// Rerank sends the query and candidates to the cross-encoder and returns
// the rescored results sorted by descending score.
func (r *HTTPReranker) Rerank(ctx context.Context, query string, candidates []string, topK int) ([]Result, error) {
	if len(candidates) == 0 {
		return []Result{}, nil
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	body, err := json.Marshal(rerankRequest{Query: query, Texts: candidates})
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeRerankProvider, "marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeRerankProvider, "create request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeRerankProvider, "rerank request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, apperrors.New(apperrors.ErrCodeRerankProvider,
			fmt.Sprintf("rerank request returned status %d: %s", resp.StatusCode, string(respBody)), nil)
	}

	var entries []rerankEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeRerankProvider, "decode response", err)
	}

	results := make([]Result, 0, len(entries))
	for _, e := range entries {
		if e.Index < 0 || e.Index >= len(candidates) {
			return nil, apperrors.Newf(apperrors.ErrCodeRerankProvider,
				"rerank response index %d out of range for %d candidates", e.Index, len(candidates))
		}
		results = append(results, Result{Index: e.Index, Score: e.Score})
	}

	sort.SliceStable(results, func(a, b int) bool {
		return results[a].Score > results[b].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Available probes the server's health endpoint.
func (r *HTTPReranker) Available(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, r.endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Close releases idle connections.
func (r *HTTPReranker) Close() error {
	r.client.CloseIdleConnections()
	return nil
}
