// Package orchestrator owns the set of watched folders: registering and
// removing them, persisting the registry in the index store, restoring
// it after a restart, and answering status and search queries.
package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pkazakov/vecsync/internal/embed"
	apperrors "github.com/pkazakov/vecsync/internal/errors"
	"github.com/pkazakov/vecsync/internal/extract"
	"github.com/pkazakov/vecsync/internal/rerank"
	"github.com/pkazakov/vecsync/internal/store"
	"github.com/pkazakov/vecsync/internal/syncer"
)

// StateMetadataKey is the fixed identifier of the persisted registry
// record inside the index store. The in-memory registry is always
// rebuilt from this record on startup, never the reverse.
const StateMetadataKey = "f0f0f0f0-0000-0000-0000-000000000001"

// Defaults for the orchestrator's own tunables.
const (
	DefaultCollectionPrefix     = "rag"
	DefaultPersistInterval      = 2 * time.Second
	DefaultSweepInterval        = 30 * time.Second
	DefaultSearchScoreThreshold = 0.150
	DefaultRerankScoreThreshold = 0.35
	DefaultSearchLimit          = 10
)

// Config configures the orchestrator.
type Config struct {
	CollectionPrefix string
	ChunkSizeWords   int
	OverlapRatio     float64
	SettleWindow     time.Duration
	Retry            apperrors.RetryConfig
	PersistInterval  time.Duration
	SweepInterval    time.Duration

	SearchScoreThreshold float64
	RerankScoreThreshold float64
	SearchLimit          int
}

// WatchedFolder is the persisted description of one watched root.
type WatchedFolder struct {
	ID           string    `json:"id"`
	Root         string    `json:"root"`
	Collection   string    `json:"collection"`
	ContentTypes []string  `json:"content_types"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// persistedState is the JSON blob stored under StateMetadataKey.
type persistedState struct {
	Folders []WatchedFolder `json:"folders"`
}

type entry struct {
	folder WatchedFolder
	sync   *syncer.FolderSyncer
}

// Orchestrator manages all folder synchronizers.
type Orchestrator struct {
	cfg      Config
	store    store.IndexStore
	embedder embed.Embedder
	reranker rerank.Reranker
	gateway  *extract.Gateway
	pool     *syncer.Pool
	log      *slog.Logger

	mu      sync.RWMutex
	folders map[string]*entry
	// orphans are persisted folders whose root was unavailable at
	// restore time. They stay in the registry so an unwatch can still
	// delete their data, and the sweep re-adopts them if the root
	// comes back.
	orphans map[string]WatchedFolder
	closed  bool

	persistMu    sync.Mutex
	persistTimer *time.Timer

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates an orchestrator and starts its background sweep. Call
// Restore before accepting commands, and Close on shutdown.
func New(cfg Config, st store.IndexStore, embedder embed.Embedder, reranker rerank.Reranker, gateway *extract.Gateway, pool *syncer.Pool, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	if cfg.CollectionPrefix == "" {
		cfg.CollectionPrefix = DefaultCollectionPrefix
	}
	if cfg.PersistInterval <= 0 {
		cfg.PersistInterval = DefaultPersistInterval
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.SearchScoreThreshold == 0 {
		cfg.SearchScoreThreshold = DefaultSearchScoreThreshold
	}
	if cfg.RerankScoreThreshold == 0 {
		cfg.RerankScoreThreshold = DefaultRerankScoreThreshold
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = DefaultSearchLimit
	}

	o := &Orchestrator{
		cfg:      cfg,
		store:    st,
		embedder: embedder,
		reranker: reranker,
		gateway:  gateway,
		pool:     pool,
		log:      log,
		folders:  make(map[string]*entry),
		orphans:  make(map[string]WatchedFolder),
		stopCh:   make(chan struct{}),
	}
	go o.sweep()
	return o
}

// canonicalize resolves a user-supplied path to its canonical absolute
// form, following symlinks when the path exists.
func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return filepath.Clean(abs), nil
}

// WatchFolder registers a folder and starts synchronizing it.
func (o *Orchestrator) WatchFolder(ctx context.Context, path string, contentTypes []string) (WatchedFolder, error) {
	root, err := canonicalize(path)
	if err != nil {
		return WatchedFolder{}, apperrors.PathNotFound(path)
	}

	if !rootExists(root) {
		return WatchedFolder{}, apperrors.PathNotFound(path)
	}

	categories, err := extract.ParseCategories(contentTypes)
	if err != nil {
		return WatchedFolder{}, err
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return WatchedFolder{}, apperrors.New(apperrors.ErrCodeInternal, "orchestrator is closed", nil)
	}
	if conflict := o.conflictLocked(root); conflict != "" {
		o.mu.Unlock()
		return WatchedFolder{}, apperrors.AlreadyWatched(conflict)
	}

	folder := WatchedFolder{
		ID:           uuid.NewString(),
		Root:         root,
		Collection:   collectionName(o.cfg.CollectionPrefix, root),
		ContentTypes: categoryNames(categories),
		Status:       string(syncer.StateInitializing),
		CreatedAt:    time.Now().UTC(),
	}

	fs := syncer.New(syncer.Config{
		FolderID:       folder.ID,
		Root:           root,
		Collection:     folder.Collection,
		Categories:     categories,
		ChunkSizeWords: o.cfg.ChunkSizeWords,
		OverlapRatio:   o.cfg.OverlapRatio,
		SettleWindow:   o.cfg.SettleWindow,
		Retry:          o.cfg.Retry,
	}, o.store, o.embedder, o.gateway, o.pool, o.log)

	o.folders[root] = &entry{folder: folder, sync: fs}
	o.mu.Unlock()

	if err := fs.Start(ctx); err != nil {
		o.mu.Lock()
		delete(o.folders, root)
		o.mu.Unlock()
		return WatchedFolder{}, err
	}

	// persist once more when the scan settles, so a restart can tell a
	// completed scan from an interrupted one
	go func() {
		if fs.WaitScanned(ctx) == nil {
			o.schedulePersist()
		}
	}()

	o.persistNow(ctx)
	o.log.Info("folder watched",
		slog.String("root", root),
		slog.String("collection", folder.Collection))
	return folder, nil
}

// conflictLocked reports the existing root that conflicts with newRoot:
// the same path, an ancestor, or a descendant.
func (o *Orchestrator) conflictLocked(newRoot string) string {
	for watched := range o.folders {
		if watched == newRoot ||
			strings.HasPrefix(newRoot, watched+string(os.PathSeparator)) ||
			strings.HasPrefix(watched, newRoot+string(os.PathSeparator)) {
			return watched
		}
	}
	return ""
}

// UnwatchFolder stops watching a folder and deletes its indexed data.
// New events stop immediately; in-flight synchronizations finish before
// the deletion sweep, so a late upsert cannot resurrect a fragment.
func (o *Orchestrator) UnwatchFolder(ctx context.Context, path string) error {
	root, err := canonicalize(path)
	if err != nil {
		return apperrors.NotWatched(path)
	}

	o.mu.Lock()
	e, ok := o.folders[root]
	if !ok {
		if orphan, isOrphan := o.orphans[root]; isOrphan {
			delete(o.orphans, root)
			o.mu.Unlock()
			if err := o.store.DeleteCollection(ctx, orphan.Collection); err != nil {
				return err
			}
			o.persistNow(ctx)
			o.log.Info("folder unwatched", slog.String("root", root))
			return nil
		}
		o.mu.Unlock()
		// not restored in this process; the persisted registry is the
		// only place the folder can still exist
		return o.forgetPersisted(ctx, root)
	}
	delete(o.folders, root)
	o.mu.Unlock()

	e.sync.Stop()
	e.sync.Drain()
	if err := e.sync.DeleteAll(ctx); err != nil {
		return err
	}

	o.persistNow(ctx)
	o.log.Info("folder unwatched", slog.String("root", root))
	return nil
}

// PauseFolder suspends a folder's event consumption. In-flight tasks
// finish; new settled events wait until Resume.
func (o *Orchestrator) PauseFolder(path string) error {
	e, err := o.entryFor(path)
	if err != nil {
		return err
	}
	e.sync.Pause()
	o.schedulePersist()
	return nil
}

// ResumeFolder re-enables a paused folder.
func (o *Orchestrator) ResumeFolder(path string) error {
	e, err := o.entryFor(path)
	if err != nil {
		return err
	}
	e.sync.Resume()
	o.schedulePersist()
	return nil
}

func (o *Orchestrator) entryFor(path string) (*entry, error) {
	root, err := canonicalize(path)
	if err != nil {
		return nil, apperrors.NotWatched(path)
	}

	o.mu.RLock()
	e, ok := o.folders[root]
	o.mu.RUnlock()
	if !ok {
		return nil, apperrors.NotWatched(path)
	}
	return e, nil
}

// WaitFolderScanned blocks until the named folder's initial bulk scan
// completes.
func (o *Orchestrator) WaitFolderScanned(ctx context.Context, path string) error {
	e, err := o.entryFor(path)
	if err != nil {
		return err
	}
	return e.sync.WaitScanned(ctx)
}

// WatchedFolders returns a status snapshot per folder. It never blocks
// on ongoing indexing.
func (o *Orchestrator) WatchedFolders() []syncer.Status {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]syncer.Status, 0, len(o.folders))
	for _, e := range o.folders {
		out = append(out, e.sync.Status())
	}
	return out
}

// Restore rebuilds the registry from the persisted state record and
// restarts a synchronizer per surviving folder. Every restored folder
// re-enters the bulk scan; files whose stored fragments already match
// their current content are adopted without index writes, so a restore
// after a clean shutdown costs only fingerprint reads.
func (o *Orchestrator) Restore(ctx context.Context) error {
	blob, ok, err := o.store.GetMetadata(ctx, StateMetadataKey)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	var state persistedState
	if err := json.Unmarshal(blob, &state); err != nil {
		return apperrors.New(apperrors.ErrCodeInternal, "decode persisted state", err)
	}

	for _, folder := range state.Folders {
		if !rootExists(folder.Root) {
			o.log.Warn("watched root unavailable, keeping registry entry",
				slog.String("root", folder.Root))
			folder.Status = string(syncer.StateError)
			o.mu.Lock()
			o.orphans[folder.Root] = folder
			o.mu.Unlock()
			continue
		}

		if err := o.startFolder(ctx, folder); err != nil {
			o.log.Error("failed to restore folder",
				slog.String("root", folder.Root),
				slog.String("error", err.Error()))
			continue
		}

		o.log.Info("folder restored", slog.String("root", folder.Root))
	}

	o.persistNow(ctx)
	return nil
}

// startFolder builds and starts a synchronizer for a persisted folder
// and registers it in the live map.
func (o *Orchestrator) startFolder(ctx context.Context, folder WatchedFolder) error {
	categories, err := extract.ParseCategories(folder.ContentTypes)
	if err != nil {
		o.log.Warn("invalid persisted content types, defaulting to text",
			slog.String("root", folder.Root))
		categories = []extract.Category{extract.CategoryText}
	}

	fs := syncer.New(syncer.Config{
		FolderID:       folder.ID,
		Root:           folder.Root,
		Collection:     folder.Collection,
		Categories:     categories,
		ChunkSizeWords: o.cfg.ChunkSizeWords,
		OverlapRatio:   o.cfg.OverlapRatio,
		SettleWindow:   o.cfg.SettleWindow,
		Retry:          o.cfg.Retry,
	}, o.store, o.embedder, o.gateway, o.pool, o.log)

	o.mu.Lock()
	o.folders[folder.Root] = &entry{folder: folder, sync: fs}
	o.mu.Unlock()

	if err := fs.Start(ctx); err != nil {
		o.mu.Lock()
		delete(o.folders, folder.Root)
		o.mu.Unlock()
		return err
	}
	return nil
}

// persistNow writes the registry to the store immediately.
func (o *Orchestrator) persistNow(ctx context.Context) {
	o.mu.RLock()
	state := persistedState{Folders: make([]WatchedFolder, 0, len(o.folders)+len(o.orphans))}
	for _, e := range o.folders {
		folder := e.folder
		folder.Status = string(e.sync.State())
		state.Folders = append(state.Folders, folder)
	}
	for _, folder := range o.orphans {
		state.Folders = append(state.Folders, folder)
	}
	o.mu.RUnlock()

	blob, err := json.Marshal(state)
	if err != nil {
		o.log.Error("encode persisted state", slog.String("error", err.Error()))
		return
	}
	if err := o.store.PutMetadata(ctx, StateMetadataKey, blob); err != nil {
		o.log.Error("persist state", slog.String("error", err.Error()))
	}
}

// schedulePersist arms a debounced persist: at most one write per
// interval no matter how many mutations request it.
func (o *Orchestrator) schedulePersist() {
	o.persistMu.Lock()
	defer o.persistMu.Unlock()

	if o.persistTimer != nil {
		return
	}
	o.persistTimer = time.AfterFunc(o.cfg.PersistInterval, func() {
		o.persistMu.Lock()
		o.persistTimer = nil
		o.persistMu.Unlock()

		select {
		case <-o.stopCh:
		default:
			o.persistNow(context.Background())
		}
	})
}

// sweep periodically persists progress and retries folders stuck in the
// error state.
func (o *Orchestrator) sweep() {
	ticker := time.NewTicker(o.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.stopCh:
			return
		case <-ticker.C:
			o.mu.Lock()
			var recovering []*syncer.FolderSyncer
			for _, e := range o.folders {
				if e.sync.State() == syncer.StateError {
					recovering = append(recovering, e.sync)
				}
			}
			var returned []WatchedFolder
			for root, folder := range o.orphans {
				if rootExists(root) {
					returned = append(returned, folder)
					delete(o.orphans, root)
				}
			}
			o.mu.Unlock()

			for _, fs := range recovering {
				go fs.Recover(context.Background())
			}
			for _, folder := range returned {
				if err := o.startFolder(context.Background(), folder); err != nil {
					o.log.Error("failed to re-adopt folder",
						slog.String("root", folder.Root),
						slog.String("error", err.Error()))
				}
			}
			o.schedulePersist()
		}
	}
}

// Close stops the sweep and every synchronizer, then persists a final
// registry snapshot. Indexed data stays in the store.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.stopOnce.Do(func() { close(o.stopCh) })

	o.mu.Lock()
	o.closed = true
	entries := make([]*entry, 0, len(o.folders))
	for _, e := range o.folders {
		entries = append(entries, e)
	}
	o.mu.Unlock()

	for _, e := range entries {
		e.sync.Stop()
	}
	for _, e := range entries {
		e.sync.Drain()
	}

	o.persistNow(ctx)
	return nil
}

func categoryNames(categories []extract.Category) []string {
	names := make([]string, len(categories))
	for i, c := range categories {
		names[i] = string(c)
	}
	return names
}
