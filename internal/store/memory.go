package store

import (
	"context"
	"sort"
	"sync"

	apperrors "github.com/pkazakov/vecsync/internal/errors"
	"github.com/pkazakov/vecsync/internal/fragment"
)

// MemoryStore is an in-memory IndexStore with brute-force search. It
// backs tests and trades speed for exactness: every search scans every
// vector, so results are never approximate.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
	metadata    map[string][]byte
	closed      bool
}

type memCollection struct {
	dims      int
	fragments map[string]fragment.Fragment
	vectors   map[string][]float32
}

var _ IndexStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]*memCollection),
		metadata:    make(map[string][]byte),
	}
}

func (s *MemoryStore) EnsureCollection(ctx context.Context, name string, dims int) error {
	if dims <= 0 {
		return apperrors.Newf(apperrors.ErrCodeInvalidInput, "invalid dimensions %d", dims)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStoreClosed()
	}

	if c, ok := s.collections[name]; ok {
		if c.dims != dims {
			return apperrors.IndexStoreError("collection exists with different dimensions", nil)
		}
		return nil
	}
	s.collections[name] = &memCollection{
		dims:      dims,
		fragments: make(map[string]fragment.Fragment),
		vectors:   make(map[string][]float32),
	}
	return nil
}

func (s *MemoryStore) DeleteCollection(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStoreClosed()
	}
	delete(s.collections, name)
	return nil
}

func (s *MemoryStore) Collections(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errStoreClosed()
	}

	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	return names, nil
}

func (s *MemoryStore) UpsertFragments(ctx context.Context, collection string, frags []fragment.Fragment, vectors [][]float32) error {
	if len(frags) != len(vectors) {
		return apperrors.Newf(apperrors.ErrCodeInvalidInput,
			"fragments and vectors length mismatch: %d vs %d", len(frags), len(vectors))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStoreClosed()
	}

	c, ok := s.collections[collection]
	if !ok {
		return errUnknownCollection(collection)
	}
	for i, vec := range vectors {
		if len(vec) != c.dims {
			return apperrors.Newf(apperrors.ErrCodeInvalidInput,
				"vector %d has %d dimensions, expected %d", i, len(vec), c.dims)
		}
	}

	for i, f := range frags {
		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeInPlace(vec)
		c.fragments[f.ID] = f
		c.vectors[f.ID] = vec
	}
	return nil
}

func (s *MemoryStore) DeleteFragments(ctx context.Context, collection string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStoreClosed()
	}

	c, ok := s.collections[collection]
	if !ok {
		return errUnknownCollection(collection)
	}
	for _, id := range ids {
		delete(c.fragments, id)
		delete(c.vectors, id)
	}
	return nil
}

func (s *MemoryStore) FragmentsByPath(ctx context.Context, collection, path string) ([]fragment.Fragment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errStoreClosed()
	}

	c, ok := s.collections[collection]
	if !ok {
		return nil, errUnknownCollection(collection)
	}

	var frags []fragment.Fragment
	for _, f := range c.fragments {
		if f.Path == path {
			frags = append(frags, f)
		}
	}
	sort.Slice(frags, func(a, b int) bool {
		return frags[a].Ordinal < frags[b].Ordinal
	})
	return frags, nil
}

func (s *MemoryStore) RenamePath(ctx context.Context, collection, oldPath, newPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStoreClosed()
	}

	c, ok := s.collections[collection]
	if !ok {
		return errUnknownCollection(collection)
	}
	for id, f := range c.fragments {
		if f.Path == oldPath {
			f.Path = newPath
			c.fragments[id] = f
		}
	}
	return nil
}

func (s *MemoryStore) Search(ctx context.Context, collection string, vector []float32, limit int, minScore float64) ([]SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errStoreClosed()
	}

	c, ok := s.collections[collection]
	if !ok {
		return nil, errUnknownCollection(collection)
	}
	if len(vector) != c.dims {
		return nil, apperrors.Newf(apperrors.ErrCodeInvalidInput,
			"query vector has %d dimensions, expected %d", len(vector), c.dims)
	}

	q := make([]float32, len(vector))
	copy(q, vector)
	normalizeInPlace(q)

	results := make([]SearchResult, 0, len(c.vectors))
	for id, vec := range c.vectors {
		score := dot(q, vec)
		if score < minScore {
			continue
		}
		results = append(results, SearchResult{Fragment: c.fragments[id], Score: score})
	}

	sort.SliceStable(results, func(a, b int) bool {
		return results[a].Score > results[b].Score
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *MemoryStore) CountFragments(ctx context.Context, collection string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, errStoreClosed()
	}

	c, ok := s.collections[collection]
	if !ok {
		return 0, errUnknownCollection(collection)
	}
	return len(c.fragments), nil
}

func (s *MemoryStore) GetMetadata(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, errStoreClosed()
	}

	blob, ok := s.metadata[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(blob))
	copy(out, blob)
	return out, true, nil
}

func (s *MemoryStore) PutMetadata(ctx context.Context, key string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStoreClosed()
	}

	stored := make([]byte, len(blob))
	copy(stored, blob)
	s.metadata[key] = stored
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// dot is cosine similarity for unit vectors.
func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
