package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkazakov/vecsync/internal/fragment"
)

const testDims = 8

// testVector builds a unit basis-like vector for deterministic scores.
func testVector(axis int) []float32 {
	v := make([]float32, testDims)
	v[axis%testDims] = 1.0
	return v
}

func testFragment(path, fp string, ordinal int) fragment.Fragment {
	text := fmt.Sprintf("fragment %d of %s at %s", ordinal, path, fp)
	return fragment.Fragment{
		ID:          fragment.ID(path, fp, ordinal),
		Path:        path,
		Fingerprint: fp,
		Ordinal:     ordinal,
		Total:       3,
		Text:        text,
		Preview:     text,
		WordStart:   ordinal * 100,
		WordEnd:     ordinal*100 + 100,
	}
}

// storeImpls runs a subtest against every IndexStore implementation.
func storeImpls(t *testing.T, fn func(t *testing.T, s IndexStore)) {
	t.Helper()

	t.Run("memory", func(t *testing.T) {
		s := NewMemoryStore()
		defer func() { _ = s.Close() }()
		fn(t, s)
	})

	t.Run("local", func(t *testing.T) {
		s, err := OpenLocal(context.Background(), t.TempDir(), nil)
		require.NoError(t, err)
		defer func() { _ = s.Close() }()
		fn(t, s)
	})
}

func TestStore_EnsureCollection_Idempotent(t *testing.T) {
	storeImpls(t, func(t *testing.T, s IndexStore) {
		ctx := context.Background()

		require.NoError(t, s.EnsureCollection(ctx, "rag_docs", testDims))
		require.NoError(t, s.EnsureCollection(ctx, "rag_docs", testDims))

		names, err := s.Collections(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"rag_docs"}, names)
	})
}

func TestStore_EnsureCollection_DimensionConflict(t *testing.T) {
	storeImpls(t, func(t *testing.T, s IndexStore) {
		ctx := context.Background()

		require.NoError(t, s.EnsureCollection(ctx, "rag_docs", testDims))
		err := s.EnsureCollection(ctx, "rag_docs", testDims*2)
		assert.Error(t, err)
	})
}

func TestStore_UpsertAndFragmentsByPath_OrderedByOrdinal(t *testing.T) {
	storeImpls(t, func(t *testing.T, s IndexStore) {
		ctx := context.Background()
		require.NoError(t, s.EnsureCollection(ctx, "rag_docs", testDims))

		// inserted out of order
		frags := []fragment.Fragment{
			testFragment("/docs/a.txt", "fp1", 2),
			testFragment("/docs/a.txt", "fp1", 0),
			testFragment("/docs/a.txt", "fp1", 1),
			testFragment("/docs/b.txt", "fp9", 0),
		}
		vectors := [][]float32{testVector(2), testVector(0), testVector(1), testVector(3)}
		require.NoError(t, s.UpsertFragments(ctx, "rag_docs", frags, vectors))

		got, err := s.FragmentsByPath(ctx, "rag_docs", "/docs/a.txt")
		require.NoError(t, err)
		require.Len(t, got, 3)
		for i, f := range got {
			assert.Equal(t, i, f.Ordinal)
			assert.Equal(t, "/docs/a.txt", f.Path)
		}
	})
}

func TestStore_Upsert_ReplacesExistingID(t *testing.T) {
	storeImpls(t, func(t *testing.T, s IndexStore) {
		ctx := context.Background()
		require.NoError(t, s.EnsureCollection(ctx, "rag_docs", testDims))

		f := testFragment("/docs/a.txt", "fp1", 0)
		require.NoError(t, s.UpsertFragments(ctx, "rag_docs",
			[]fragment.Fragment{f}, [][]float32{testVector(0)}))

		f.Text = "updated text"
		require.NoError(t, s.UpsertFragments(ctx, "rag_docs",
			[]fragment.Fragment{f}, [][]float32{testVector(1)}))

		count, err := s.CountFragments(ctx, "rag_docs")
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		got, err := s.FragmentsByPath(ctx, "rag_docs", "/docs/a.txt")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "updated text", got[0].Text)
	})
}

func TestStore_DeleteFragments_RemovesAndIgnoresAbsent(t *testing.T) {
	storeImpls(t, func(t *testing.T, s IndexStore) {
		ctx := context.Background()
		require.NoError(t, s.EnsureCollection(ctx, "rag_docs", testDims))

		f0 := testFragment("/docs/a.txt", "fp1", 0)
		f1 := testFragment("/docs/a.txt", "fp1", 1)
		require.NoError(t, s.UpsertFragments(ctx, "rag_docs",
			[]fragment.Fragment{f0, f1}, [][]float32{testVector(0), testVector(1)}))

		require.NoError(t, s.DeleteFragments(ctx, "rag_docs",
			[]string{f0.ID, "no-such-id"}))

		count, err := s.CountFragments(ctx, "rag_docs")
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		// deleted fragment must not surface in search
		results, err := s.Search(ctx, "rag_docs", testVector(0), 10, -1)
		require.NoError(t, err)
		for _, r := range results {
			assert.NotEqual(t, f0.ID, r.Fragment.ID)
		}
	})
}

func TestStore_RenamePath_KeepsIDsAndVectors(t *testing.T) {
	storeImpls(t, func(t *testing.T, s IndexStore) {
		ctx := context.Background()
		require.NoError(t, s.EnsureCollection(ctx, "rag_docs", testDims))

		f := testFragment("/docs/old.txt", "fp1", 0)
		require.NoError(t, s.UpsertFragments(ctx, "rag_docs",
			[]fragment.Fragment{f}, [][]float32{testVector(0)}))

		require.NoError(t, s.RenamePath(ctx, "rag_docs", "/docs/old.txt", "/docs/new.txt"))

		old, err := s.FragmentsByPath(ctx, "rag_docs", "/docs/old.txt")
		require.NoError(t, err)
		assert.Empty(t, old)

		moved, err := s.FragmentsByPath(ctx, "rag_docs", "/docs/new.txt")
		require.NoError(t, err)
		require.Len(t, moved, 1)
		assert.Equal(t, f.ID, moved[0].ID, "rename must not change fragment IDs")
		assert.Equal(t, "/docs/new.txt", moved[0].Path)

		// the vector is untouched, similarity search still finds it
		results, err := s.Search(ctx, "rag_docs", testVector(0), 1, 0.9)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, f.ID, results[0].Fragment.ID)
	})
}

func TestStore_Search_OrdersByScoreAndAppliesThreshold(t *testing.T) {
	storeImpls(t, func(t *testing.T, s IndexStore) {
		ctx := context.Background()
		require.NoError(t, s.EnsureCollection(ctx, "rag_docs", testDims))

		frags := []fragment.Fragment{
			testFragment("/docs/a.txt", "fp1", 0),
			testFragment("/docs/a.txt", "fp1", 1),
			testFragment("/docs/a.txt", "fp1", 2),
		}
		// axis 0 matches the query exactly, axis 1 is orthogonal,
		// the mixed vector lands in between
		mixed := []float32{1, 1, 0, 0, 0, 0, 0, 0}
		vectors := [][]float32{testVector(0), testVector(1), mixed}
		require.NoError(t, s.UpsertFragments(ctx, "rag_docs", frags, vectors))

		results, err := s.Search(ctx, "rag_docs", testVector(0), 10, 0.5)
		require.NoError(t, err)

		// orthogonal vector scores 0 and falls below the threshold
		require.Len(t, results, 2)
		assert.Equal(t, frags[0].ID, results[0].Fragment.ID)
		assert.InDelta(t, 1.0, results[0].Score, 1e-4)
		assert.Equal(t, frags[2].ID, results[1].Fragment.ID)
		assert.InDelta(t, 0.7071, results[1].Score, 1e-3)
	})
}

func TestStore_Search_RespectsLimit(t *testing.T) {
	storeImpls(t, func(t *testing.T, s IndexStore) {
		ctx := context.Background()
		require.NoError(t, s.EnsureCollection(ctx, "rag_docs", testDims))

		var frags []fragment.Fragment
		var vectors [][]float32
		for i := 0; i < 6; i++ {
			frags = append(frags, testFragment("/docs/a.txt", "fp1", i))
			v := testVector(0)
			v[1] = float32(i) * 0.1
			vectors = append(vectors, v)
		}
		require.NoError(t, s.UpsertFragments(ctx, "rag_docs", frags, vectors))

		results, err := s.Search(ctx, "rag_docs", testVector(0), 3, -1)
		require.NoError(t, err)
		assert.Len(t, results, 3)
	})
}

func TestStore_Search_UnknownCollection(t *testing.T) {
	storeImpls(t, func(t *testing.T, s IndexStore) {
		_, err := s.Search(context.Background(), "absent", testVector(0), 10, 0)
		assert.Error(t, err)
	})
}

func TestStore_Metadata_Roundtrip(t *testing.T) {
	storeImpls(t, func(t *testing.T, s IndexStore) {
		ctx := context.Background()

		_, ok, err := s.GetMetadata(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.PutMetadata(ctx, "state", []byte(`{"v":1}`)))
		require.NoError(t, s.PutMetadata(ctx, "state", []byte(`{"v":2}`)))

		blob, ok, err := s.GetMetadata(ctx, "state")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, `{"v":2}`, string(blob))
	})
}

func TestStore_DeleteCollection_RemovesEverything(t *testing.T) {
	storeImpls(t, func(t *testing.T, s IndexStore) {
		ctx := context.Background()
		require.NoError(t, s.EnsureCollection(ctx, "rag_docs", testDims))
		require.NoError(t, s.UpsertFragments(ctx, "rag_docs",
			[]fragment.Fragment{testFragment("/docs/a.txt", "fp1", 0)},
			[][]float32{testVector(0)}))

		require.NoError(t, s.DeleteCollection(ctx, "rag_docs"))
		require.NoError(t, s.DeleteCollection(ctx, "rag_docs")) // no-op

		names, err := s.Collections(ctx)
		require.NoError(t, err)
		assert.Empty(t, names)

		_, err = s.CountFragments(ctx, "rag_docs")
		assert.Error(t, err)
	})
}

func TestLocalStore_Reopen_RebuildsSearchIndex(t *testing.T) {
	// Given: a store with indexed fragments
	dir := t.TempDir()
	ctx := context.Background()

	s, err := OpenLocal(ctx, dir, nil)
	require.NoError(t, err)

	require.NoError(t, s.EnsureCollection(ctx, "rag_docs", testDims))
	frags := []fragment.Fragment{
		testFragment("/docs/a.txt", "fp1", 0),
		testFragment("/docs/a.txt", "fp1", 1),
	}
	require.NoError(t, s.UpsertFragments(ctx, "rag_docs", frags,
		[][]float32{testVector(0), testVector(1)}))
	require.NoError(t, s.PutMetadata(ctx, "state", []byte("persisted")))
	require.NoError(t, s.Close())

	// When: the store is reopened
	s2, err := OpenLocal(ctx, dir, nil)
	require.NoError(t, err)
	defer func() { _ = s2.Close() }()

	// Then: fragments, metadata, and similarity search all survive
	count, err := s2.CountFragments(ctx, "rag_docs")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	blob, ok, err := s2.GetMetadata(ctx, "state")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "persisted", string(blob))

	results, err := s2.Search(ctx, "rag_docs", testVector(0), 1, 0.5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, frags[0].ID, results[0].Fragment.ID)
}

func TestLocalStore_SecondProcess_LockedOut(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := OpenLocal(ctx, dir, nil)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	_, err = OpenLocal(ctx, dir, nil)
	assert.Error(t, err)
}
