package orchestrator

import (
	"context"
	"sort"

	apperrors "github.com/pkazakov/vecsync/internal/errors"
	"github.com/pkazakov/vecsync/internal/fragment"
	"github.com/pkazakov/vecsync/internal/store"
)

// QueryResult is one fragment returned by Query, carrying both the
// vector similarity score and, when a reranker ran, its relevance
// score.
type QueryResult struct {
	Fragment    fragment.Fragment
	Score       float64
	RerankScore float64
	Reranked    bool
}

// Query searches a watched folder's collection. The query text is
// embedded, the nearest fragments above the similarity threshold are
// fetched, and when a reranker is configured the candidates are
// re-scored and filtered again before return.
func (o *Orchestrator) Query(ctx context.Context, path string, query string, limit int) ([]QueryResult, error) {
	root, err := canonicalize(path)
	if err != nil {
		return nil, apperrors.NotWatched(path)
	}

	collection, err := o.collectionFor(ctx, root)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = o.cfg.SearchLimit
	}

	vector, err := o.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	hits, err := o.store.Search(ctx, collection, vector, limit, o.cfg.SearchScoreThreshold)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}

	if o.reranker == nil {
		return plainResults(hits), nil
	}

	texts := make([]string, len(hits))
	for i, h := range hits {
		texts[i] = h.Fragment.Text
	}

	ranked, err := o.reranker.Rerank(ctx, query, texts, limit)
	if err != nil {
		// degraded mode: vector order is still a valid answer
		o.log.Warn("reranker unavailable, returning vector order")
		return plainResults(hits), nil
	}

	out := make([]QueryResult, 0, len(ranked))
	for _, r := range ranked {
		if r.Score < o.cfg.RerankScoreThreshold {
			continue
		}
		hit := hits[r.Index]
		out = append(out, QueryResult{
			Fragment:    hit.Fragment,
			Score:       hit.Score,
			RerankScore: r.Score,
			Reranked:    true,
		})
	}
	return out, nil
}

func plainResults(hits []store.SearchResult) []QueryResult {
	out := make([]QueryResult, len(hits))
	for i, h := range hits {
		out[i] = QueryResult{Fragment: h.Fragment, Score: h.Score}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
