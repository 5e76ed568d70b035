// Package store persists fragments and their vectors, and answers
// similarity searches over them.
//
// A collection holds every fragment of one watched folder. Fragment rows
// are durable in SQLite; the HNSW graphs that serve similarity search are
// in-memory and rebuilt from the rows on open, so a crash can never leave
// the search index ahead of or behind the durable state.
package store

import (
	"context"

	"github.com/pkazakov/vecsync/internal/fragment"
)

// SearchResult is one fragment returned by a similarity search.
type SearchResult struct {
	Fragment fragment.Fragment
	// Score is cosine similarity in [-1, 1], higher is closer.
	Score float64
}

// IndexStore is the persistence and retrieval boundary.
type IndexStore interface {
	// EnsureCollection creates the collection if absent. An existing
	// collection with different dimensions is an error.
	EnsureCollection(ctx context.Context, name string, dims int) error

	// DeleteCollection removes the collection and all its fragments.
	// Deleting an absent collection is a no-op.
	DeleteCollection(ctx context.Context, name string) error

	// Collections lists collection names.
	Collections(ctx context.Context) ([]string, error)

	// UpsertFragments stores fragments with their vectors. Existing IDs
	// are replaced. len(frags) must equal len(vectors).
	UpsertFragments(ctx context.Context, collection string, frags []fragment.Fragment, vectors [][]float32) error

	// DeleteFragments removes fragments by ID. Absent IDs are ignored.
	DeleteFragments(ctx context.Context, collection string, ids []string) error

	// FragmentsByPath returns all fragments indexed for a source path,
	// ordered by ordinal.
	FragmentsByPath(ctx context.Context, collection, path string) ([]fragment.Fragment, error)

	// RenamePath rebinds every fragment of oldPath to newPath without
	// touching IDs or vectors, so a rename never re-embeds.
	RenamePath(ctx context.Context, collection, oldPath, newPath string) error

	// Search returns up to limit fragments with similarity >= minScore,
	// ordered by descending score.
	Search(ctx context.Context, collection string, vector []float32, limit int, minScore float64) ([]SearchResult, error)

	// CountFragments returns the number of fragments in a collection.
	CountFragments(ctx context.Context, collection string) (int, error)

	// GetMetadata returns the blob stored under key, or ok=false.
	GetMetadata(ctx context.Context, key string) (blob []byte, ok bool, err error)

	// PutMetadata stores a blob under key, replacing any previous value.
	PutMetadata(ctx context.Context, key string, blob []byte) error

	// Close releases resources. The store is unusable afterwards.
	Close() error
}
