package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkazakov/vecsync/internal/embed"
	apperrors "github.com/pkazakov/vecsync/internal/errors"
	"github.com/pkazakov/vecsync/internal/extract"
	"github.com/pkazakov/vecsync/internal/rerank"
	"github.com/pkazakov/vecsync/internal/store"
	"github.com/pkazakov/vecsync/internal/syncer"
)

type fixture struct {
	store *store.MemoryStore
	pool  *syncer.Pool
	orch  *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := store.NewMemoryStore()
	f := &fixture{store: st}
	f.orch = newOrchestrator(t, st, &f.pool)
	return f
}

// newOrchestrator builds an orchestrator over an existing store, so
// restart tests can hand the same store to a second instance.
func newOrchestrator(t *testing.T, st store.IndexStore, poolOut **syncer.Pool) *Orchestrator {
	t.Helper()

	pool := syncer.NewPool(2, 8)
	if poolOut != nil {
		*poolOut = pool
	}
	o := New(Config{
		ChunkSizeWords:  150,
		OverlapRatio:    0.15,
		SettleWindow:    60 * time.Millisecond,
		PersistInterval: 10 * time.Millisecond,
		SweepInterval:   time.Hour,
	}, st, embed.NewStaticEmbedder(), rerank.NewLexicalReranker(), extract.NewGateway(), pool,
		slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))

	t.Cleanup(func() {
		require.NoError(t, o.Close(context.Background()))
		_ = pool.Close(context.Background())
	})
	return o
}

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("word%03d", i)
	}
	return strings.Join(parts, " ")
}

func waitWatching(t *testing.T, o *Orchestrator, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		statuses := o.WatchedFolders()
		if len(statuses) != want {
			return false
		}
		for _, s := range statuses {
			if s.State != syncer.StateWatching {
				return false
			}
		}
		return true
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWatchFolder_IndexesExistingFiles(t *testing.T) {
	// Given: a folder with two text files
	f := newFixture(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("alpha beta gamma delta epsilon zeta eta theta iota kappa"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.md"), []byte("one two three four five six seven eight nine ten"), 0o644))

	// When: the folder is watched
	folder, err := f.orch.WatchFolder(context.Background(), dir, []string{"text"})
	require.NoError(t, err)

	// Then: the collection is named from the path and both files are indexed
	assert.True(t, strings.HasPrefix(folder.Collection, "rag_"))
	waitWatching(t, f.orch, 1)

	statuses := f.orch.WatchedFolders()
	require.Len(t, statuses, 1)
	assert.Equal(t, 2, statuses[0].FilesProcessed)
	assert.Equal(t, float64(100), statuses[0].ProgressPercent)

	count, err := f.store.CountFragments(context.Background(), folder.Collection)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestWatchFolder_MissingPath_Fails(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.WatchFolder(context.Background(), filepath.Join(t.TempDir(), "nope"), nil)

	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrCodePathNotFound, appErr.Code)
}

func TestWatchFolder_DuplicateAndNested_Conflict(t *testing.T) {
	// Given: a watched folder with a subdirectory
	f := newFixture(t)
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))

	_, err := f.orch.WatchFolder(context.Background(), dir, nil)
	require.NoError(t, err)

	// When/Then: the same folder, a child, and a parent all conflict
	for _, path := range []string{dir, sub, filepath.Dir(dir)} {
		_, err := f.orch.WatchFolder(context.Background(), path, nil)
		var appErr *apperrors.Error
		require.ErrorAs(t, err, &appErr, "path %s", path)
		assert.Equal(t, apperrors.ErrCodeAlreadyWatched, appErr.Code)
	}
}

func TestWatchFolder_InvalidContentType_Fails(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.WatchFolder(context.Background(), t.TempDir(), []string{"spreadsheet"})

	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrCodeInvalidInput, appErr.Code)
}

func TestUnwatchFolder_DeletesIndexedData(t *testing.T) {
	// Given: a watched and fully scanned folder
	f := newFixture(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte(words(50)), 0o644))

	folder, err := f.orch.WatchFolder(context.Background(), dir, nil)
	require.NoError(t, err)
	waitWatching(t, f.orch, 1)

	// When: the folder is unwatched
	require.NoError(t, f.orch.UnwatchFolder(context.Background(), dir))

	// Then: the registry and the collection are both gone
	assert.Empty(t, f.orch.WatchedFolders())
	collections, err := f.store.Collections(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, collections, folder.Collection)
}

func TestUnwatchFolder_Unknown_Fails(t *testing.T) {
	f := newFixture(t)

	err := f.orch.UnwatchFolder(context.Background(), t.TempDir())

	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrCodeNotWatched, appErr.Code)
}

func TestUnwatchFolder_PersistedOnly_DeletesOwnCollection(t *testing.T) {
	// Given: two folders known only through the persisted registry
	st := store.NewMemoryStore()
	first := newOrchestrator(t, st, nil)
	dirA := t.TempDir()
	dirB := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dirA, "a.txt"), []byte(words(30)), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dirB, "b.txt"), []byte(words(30)), 0o644))

	folderA, err := first.WatchFolder(context.Background(), dirA, nil)
	require.NoError(t, err)
	folderB, err := first.WatchFolder(context.Background(), dirB, nil)
	require.NoError(t, err)
	waitWatching(t, first, 2)
	require.NoError(t, first.Close(context.Background()))

	// When: a fresh instance unwatches the first folder without Restore
	second := newOrchestrator(t, st, nil)
	require.NoError(t, second.UnwatchFolder(context.Background(), dirA))

	// Then: exactly the unwatched folder's collection is gone
	collections, err := st.Collections(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, collections, folderA.Collection)
	assert.Contains(t, collections, folderB.Collection)

	// And: the registry keeps only the surviving folder
	persisted, err := second.PersistedFolders(context.Background())
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, dirB, persisted[0].Root)
}

func TestRestore_RebuildsRegistryWithoutReembedding(t *testing.T) {
	// Given: a folder indexed by a first orchestrator instance
	st := store.NewMemoryStore()
	first := newOrchestrator(t, st, nil)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte(words(200)), 0o644))

	folder, err := first.WatchFolder(context.Background(), dir, []string{"text"})
	require.NoError(t, err)
	waitWatching(t, first, 1)
	require.NoError(t, first.Close(context.Background()))

	countBefore, err := st.CountFragments(context.Background(), folder.Collection)
	require.NoError(t, err)
	require.Positive(t, countBefore)

	// When: a second instance restores from the same store
	second := newOrchestrator(t, st, nil)
	require.NoError(t, second.Restore(context.Background()))
	waitWatching(t, second, 1)

	// Then: the folder is watched again and the index is unchanged
	statuses := second.WatchedFolders()
	require.Len(t, statuses, 1)
	assert.Equal(t, dir, statuses[0].Root)
	assert.Equal(t, folder.Collection, statuses[0].Collection)

	countAfter, err := st.CountFragments(context.Background(), folder.Collection)
	require.NoError(t, err)
	assert.Equal(t, countBefore, countAfter)
}

func TestRestore_InterruptedScan_ConvergesToFullIndex(t *testing.T) {
	// Given: a persisted registry whose index only covers part of the
	// folder, as after a crash during the initial scan
	st := store.NewMemoryStore()
	first := newOrchestrator(t, st, nil)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "done.txt"), []byte(words(50)), 0o644))

	folder, err := first.WatchFolder(context.Background(), dir, []string{"text"})
	require.NoError(t, err)
	waitWatching(t, first, 1)
	require.NoError(t, first.Close(context.Background()))

	// the second file appeared while the process was down
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pending.txt"), []byte(words(50)), 0o644))

	// When: a new instance restores
	second := newOrchestrator(t, st, nil)
	require.NoError(t, second.Restore(context.Background()))
	waitWatching(t, second, 1)

	// Then: the re-scan picks up the missing file
	count, err := st.CountFragments(context.Background(), folder.Collection)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestRestore_MissingRoot_KeepsRegistryEntryForCleanup(t *testing.T) {
	// Given: a persisted folder whose root was deleted while down
	st := store.NewMemoryStore()
	first := newOrchestrator(t, st, nil)
	dir := filepath.Join(t.TempDir(), "gone")
	require.NoError(t, os.Mkdir(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte(words(30)), 0o644))

	folder, err := first.WatchFolder(context.Background(), dir, nil)
	require.NoError(t, err)
	waitWatching(t, first, 1)
	require.NoError(t, first.Close(context.Background()))
	require.NoError(t, os.RemoveAll(dir))

	// When: a new instance restores
	second := newOrchestrator(t, st, nil)
	require.NoError(t, second.Restore(context.Background()))

	// Then: the vanished folder is not watched, but its registry entry
	// and collection survive so its data still has a deletion path
	assert.Empty(t, second.WatchedFolders())

	persisted, err := second.PersistedFolders(context.Background())
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, string(syncer.StateError), persisted[0].Status)

	collections, err := st.Collections(context.Background())
	require.NoError(t, err)
	assert.Contains(t, collections, folder.Collection)

	// And: an explicit unwatch deletes the data and the entry
	require.NoError(t, second.UnwatchFolder(context.Background(), dir))

	collections, err = st.Collections(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, collections, folder.Collection)

	persisted, err = second.PersistedFolders(context.Background())
	require.NoError(t, err)
	assert.Empty(t, persisted)
}

func TestPauseResume_FolderStopsAndCatchesUp(t *testing.T) {
	// Given: a watched folder that finished its bulk scan
	f := newFixture(t)
	dir := t.TempDir()
	folder, err := f.orch.WatchFolder(context.Background(), dir, nil)
	require.NoError(t, err)
	waitWatching(t, f.orch, 1)

	// When: the folder is paused and a file appears
	require.NoError(t, f.orch.PauseFolder(dir))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "late.txt"), []byte(words(50)), 0o644))

	// Then: nothing is indexed while paused
	time.Sleep(400 * time.Millisecond)
	count, err := f.store.CountFragments(context.Background(), folder.Collection)
	require.NoError(t, err)
	assert.Zero(t, count)

	// And: resuming indexes the pending change
	require.NoError(t, f.orch.ResumeFolder(dir))
	require.Eventually(t, func() bool {
		count, err := f.store.CountFragments(context.Background(), folder.Collection)
		return err == nil && count == 1
	}, 5*time.Second, 25*time.Millisecond)
}

func TestPauseFolder_Unknown_Fails(t *testing.T) {
	f := newFixture(t)

	err := f.orch.PauseFolder(t.TempDir())

	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrCodeNotWatched, appErr.Code)
}

func TestQuery_ReturnsRerankedFragments(t *testing.T) {
	// Given: an indexed folder with two topically distinct files
	f := newFixture(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cooking.txt"),
		[]byte("simmer the tomato sauce slowly and season the pasta with fresh basil and olive oil"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sailing.txt"),
		[]byte("trim the mainsail against the wind and watch the tide before leaving the harbor"), 0o644))

	_, err := f.orch.WatchFolder(context.Background(), dir, nil)
	require.NoError(t, err)
	waitWatching(t, f.orch, 1)

	// When: the folder is queried about one topic
	results, err := f.orch.Query(context.Background(), dir, "tomato sauce pasta basil", 5)
	require.NoError(t, err)

	// Then: the matching fragment leads and carries both scores
	require.NotEmpty(t, results)
	assert.Contains(t, results[0].Fragment.Text, "tomato")
	assert.True(t, results[0].Reranked)
	assert.GreaterOrEqual(t, results[0].RerankScore, DefaultRerankScoreThreshold)
}

func TestQuery_UnwatchedFolder_Fails(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.Query(context.Background(), t.TempDir(), "anything", 5)

	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrCodeNotWatched, appErr.Code)
}

func TestCollectionName_SanitizesPath(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"/home/user/My Documents", "rag_home_user_My_Documents"},
		{"/a/b", "rag_a_b"},
		{"/tmp/notes (draft)!", "rag_tmp_notes_draft"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, collectionName("rag", tc.path), tc.path)
	}
}

func TestCollectionName_TruncatesToLimit(t *testing.T) {
	long := "/" + strings.Repeat("deeply/nested/", 10) + "leaf"

	name := collectionName("rag", long)

	assert.LessOrEqual(t, len(name), 64)
	assert.True(t, strings.HasPrefix(name, "rag_"))
	assert.NotEqual(t, "_", name[len(name)-1:])
}
