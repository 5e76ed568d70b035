package rerank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLexicalReranker_OrdersByTermOverlap(t *testing.T) {
	// Given: candidates with varying query term overlap
	r := NewLexicalReranker()
	candidates := []string{
		"nothing relevant here at all",
		"the watcher debounces file events",
		"file events",
	}

	// When: reranked against a query
	results, err := r.Rerank(context.Background(), "watcher file events", candidates, 10)
	require.NoError(t, err)
	require.Len(t, results, 3)

	// Then: full overlap ranks first, zero overlap last
	assert.Equal(t, 1, results[0].Index)
	assert.Equal(t, 1.0, results[0].Score)
	assert.Equal(t, 0, results[2].Index)
	assert.Equal(t, 0.0, results[2].Score)
}

func TestLexicalReranker_TopKTruncates(t *testing.T) {
	r := NewLexicalReranker()
	candidates := []string{"alpha", "alpha beta", "alpha beta gamma", "delta"}

	results, err := r.Rerank(context.Background(), "alpha beta gamma", candidates, 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, 2, results[0].Index)
}

func TestLexicalReranker_EmptyCandidates(t *testing.T) {
	r := NewLexicalReranker()
	results, err := r.Rerank(context.Background(), "query", nil, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestHTTPReranker_ParsesAndSortsResponse(t *testing.T) {
	// Given: a server returning unsorted scores
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rerank", r.URL.Path)

		var req rerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "best match", req.Query)
		require.Len(t, req.Texts, 3)

		_ = json.NewEncoder(w).Encode([]rerankEntry{
			{Index: 0, Score: 0.2},
			{Index: 1, Score: 0.9},
			{Index: 2, Score: 0.5},
		})
	}))
	defer srv.Close()

	r := NewHTTPReranker(HTTPConfig{Endpoint: srv.URL})
	defer func() { _ = r.Close() }()

	// When: candidates are reranked
	results, err := r.Rerank(context.Background(), "best match", []string{"a", "b", "c"}, 2)
	require.NoError(t, err)

	// Then: results are sorted descending and truncated to topK
	require.Len(t, results, 2)
	assert.Equal(t, 1, results[0].Index)
	assert.Equal(t, 0.9, results[0].Score)
	assert.Equal(t, 2, results[1].Index)
}

func TestHTTPReranker_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	r := NewHTTPReranker(HTTPConfig{Endpoint: srv.URL})
	defer func() { _ = r.Close() }()

	_, err := r.Rerank(context.Background(), "q", []string{"a"}, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ERR_303")
}

func TestHTTPReranker_OutOfRangeIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]rerankEntry{{Index: 7, Score: 0.5}})
	}))
	defer srv.Close()

	r := NewHTTPReranker(HTTPConfig{Endpoint: srv.URL})
	defer func() { _ = r.Close() }()

	_, err := r.Rerank(context.Background(), "q", []string{"only one"}, 10)
	assert.Error(t, err)
}
