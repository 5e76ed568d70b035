// Package syncer keeps one watched folder's files and its index
// collection in agreement, both during the initial bulk scan and while
// consuming settled watcher events.
package syncer

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkazakov/vecsync/internal/chunk"
	"github.com/pkazakov/vecsync/internal/embed"
	apperrors "github.com/pkazakov/vecsync/internal/errors"
	"github.com/pkazakov/vecsync/internal/extract"
	"github.com/pkazakov/vecsync/internal/fragment"
	"github.com/pkazakov/vecsync/internal/store"
	"github.com/pkazakov/vecsync/internal/watcher"
)

// State is a folder synchronizer lifecycle state.
type State string

const (
	StateInitializing State = "initializing"
	StateScanning     State = "scanning_existing"
	StateWatching     State = "watching"
	StatePaused       State = "paused"
	StateError        State = "error"
	StateRemoved      State = "removed"
)

// FileRecord tracks the last synchronized version of one file. Records
// live only in memory; after a restart they are re-adopted from the
// store's fragment rows during the re-scan.
type FileRecord struct {
	Path        string
	Fingerprint string
	FragmentIDs []string
}

// Config configures one folder synchronizer.
type Config struct {
	FolderID   string
	Root       string
	Collection string
	Categories []extract.Category

	ChunkSizeWords int
	OverlapRatio   float64
	SettleWindow   time.Duration
	Retry          apperrors.RetryConfig
}

// Status is a point-in-time progress snapshot.
type Status struct {
	FolderID        string
	Root            string
	Collection      string
	State           State
	FilesDiscovered int
	FilesProcessed  int
	ErrorCount      int
	ProgressPercent float64
}

// FolderSyncer synchronizes one watched root with its collection.
type FolderSyncer struct {
	cfg      Config
	store    store.IndexStore
	embedder embed.Embedder
	gateway  *extract.Gateway
	pool     *Pool
	log      *slog.Logger

	mu          sync.RWMutex
	state       State
	records     map[string]*FileRecord
	generations map[string]uint64
	discovered  int
	processed   int
	errorCount  int
	resumed     *sync.Cond

	fw       *watcher.Watcher
	inflight sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
	scanDone chan struct{}
}

// New creates a folder synchronizer. Call Start to begin.
func New(cfg Config, st store.IndexStore, embedder embed.Embedder, gateway *extract.Gateway, pool *Pool, log *slog.Logger) *FolderSyncer {
	if log == nil {
		log = slog.Default()
	}
	if cfg.ChunkSizeWords <= 0 {
		cfg.ChunkSizeWords = chunk.DefaultSizeWords
	}
	if cfg.OverlapRatio <= 0 {
		cfg.OverlapRatio = chunk.DefaultOverlapRatio
	}
	if len(cfg.Categories) == 0 {
		cfg.Categories = []extract.Category{extract.CategoryText}
	}

	s := &FolderSyncer{
		cfg:         cfg,
		store:       st,
		embedder:    embedder,
		gateway:     gateway,
		pool:        pool,
		log:         log.With(slog.String("folder", cfg.Root)),
		state:       StateInitializing,
		records:     make(map[string]*FileRecord),
		generations: make(map[string]uint64),
		stopCh:      make(chan struct{}),
		scanDone:    make(chan struct{}),
	}
	s.resumed = sync.NewCond(s.mu.RLocker())
	return s
}

// Start sets up the collection and watcher, then runs the bulk scan and
// the event loop in the background. It returns once setup is complete.
func (s *FolderSyncer) Start(ctx context.Context) error {
	if err := s.store.EnsureCollection(ctx, s.cfg.Collection, s.embedder.Dimensions()); err != nil {
		s.setState(StateError)
		return err
	}

	fw, err := watcher.New(s.cfg.Root, watcher.Options{
		SettleWindow: s.cfg.SettleWindow,
		MatchRename:  s.matchRename,
	})
	if err != nil {
		s.setState(StateError)
		return err
	}
	if err := fw.Start(ctx); err != nil {
		s.setState(StateError)
		return err
	}
	s.fw = fw

	go s.run(ctx)
	return nil
}

// run performs the bulk scan, then consumes settled events until stopped.
// The watcher is already live during the scan, so changes racing the walk
// are picked up as events and resolved by the fingerprint no-op check.
func (s *FolderSyncer) run(ctx context.Context) {
	s.setState(StateScanning)
	if err := s.scan(ctx); err != nil {
		s.log.Error("bulk scan failed", slog.String("error", err.Error()))
		s.setState(StateError)
	} else {
		s.setState(StateWatching)
	}
	close(s.scanDone)

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case ev, ok := <-s.fw.Events():
			if !ok {
				return
			}
			s.waitWhilePaused()
			s.dispatch(ctx, ev)
		case err, ok := <-s.fw.Errors():
			if ok && err != nil {
				s.log.Warn("watcher error", slog.String("error", err.Error()))
			}
		}
	}
}

// scan walks the root and submits a synchronization task per matching
// file. Submission backpressures on the shared pool.
func (s *FolderSyncer) scan(ctx context.Context) error {
	err := filepath.WalkDir(s.cfg.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == s.cfg.Root {
				return err
			}
			return nil
		}
		select {
		case <-s.stopCh:
			return filepath.SkipAll
		default:
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := extract.Classify(path, s.cfg.Categories); !ok {
			return nil
		}

		s.mu.Lock()
		s.discovered++
		s.mu.Unlock()

		return s.submitSync(ctx, path)
	})
	if err != nil {
		return err
	}

	// progress reaches 100 only after the queue drains
	s.inflight.Wait()
	return nil
}

// dispatch routes one settled event. The generation bump makes any
// in-flight synchronization for the path stale before the new task runs.
func (s *FolderSyncer) dispatch(ctx context.Context, ev watcher.Event) {
	s.bumpGeneration(ev.Path)
	if ev.OldPath != "" {
		s.bumpGeneration(ev.OldPath)
	}

	switch ev.Kind {
	case watcher.Changed:
		if _, ok := extract.Classify(ev.Path, s.cfg.Categories); !ok {
			return
		}
		s.mu.Lock()
		s.discovered++
		s.mu.Unlock()
		_ = s.submitSync(ctx, ev.Path)
	case watcher.Removed:
		path, oldPath := ev.Path, ev.OldPath
		_ = s.submit(ctx, func() {
			s.removeFile(ctx, path)
			if oldPath != "" {
				s.removeFile(ctx, oldPath)
			}
		})
	case watcher.Moved:
		oldPath, newPath := ev.OldPath, ev.Path
		_ = s.submit(ctx, func() {
			s.moveFile(ctx, oldPath, newPath)
		})
	}
}

func (s *FolderSyncer) submitSync(ctx context.Context, path string) error {
	return s.submit(ctx, func() {
		s.syncFile(ctx, path)
	})
}

func (s *FolderSyncer) submit(ctx context.Context, fn func()) error {
	s.inflight.Add(1)
	err := s.pool.Submit(ctx, func() {
		defer s.inflight.Done()
		fn()
	})
	if err != nil {
		s.inflight.Done()
	}
	return err
}

// syncFile is the per-file synchronization algorithm. The new version's
// fragments are inserted before the old version's are deleted, so an
// interruption leaves both briefly coexisting rather than neither.
func (s *FolderSyncer) syncFile(ctx context.Context, path string) {
	gen := s.generation(path)

	fp, err := fragment.FingerprintFile(path)
	if err != nil {
		// deleted between settle and sync, or unreadable
		s.recordSkip(path, err)
		return
	}

	var oldIDs []string
	s.mu.RLock()
	rec := s.records[path]
	s.mu.RUnlock()

	if rec != nil {
		if rec.Fingerprint == fp {
			s.markProcessed()
			return
		}
		oldIDs = rec.FragmentIDs
	} else {
		// After a restart no record exists, but the store may already
		// hold this exact version. Adopting it makes re-scans no-ops.
		stored, err := s.store.FragmentsByPath(ctx, s.cfg.Collection, path)
		if err != nil {
			s.enterError("load stored fragments", err)
			return
		}
		if len(stored) > 0 && allFingerprint(stored, fp) {
			s.commitRecord(path, gen, fp, fragmentIDs(stored))
			s.markProcessed()
			return
		}
		oldIDs = fragmentIDs(stored)
	}

	category, ok := extract.Classify(path, s.cfg.Categories)
	if !ok {
		return
	}

	text, err := s.gateway.Extract(path, category)
	if err != nil {
		// previous index state stays untouched
		s.recordSkip(path, err)
		return
	}

	windows := chunk.Split(chunk.Normalize(text), s.cfg.ChunkSizeWords, s.cfg.OverlapRatio)
	frags := fragment.Build(path, fp, windows)
	newIDs := fragment.IDs(frags)

	if len(frags) > 0 {
		texts := make([]string, len(frags))
		for i, f := range frags {
			texts[i] = f.Text
		}

		vectors, err := apperrors.RetryWithResult(ctx, s.cfg.Retry, func() ([][]float32, error) {
			return s.embedder.EmbedPassages(ctx, texts)
		})
		if err != nil {
			s.enterError("embed fragments", err)
			return
		}

		if err := apperrors.Retry(ctx, s.cfg.Retry, func() error {
			return s.store.UpsertFragments(ctx, s.cfg.Collection, frags, vectors)
		}); err != nil {
			s.enterError("upsert fragments", err)
			return
		}
	}

	if stale := subtract(oldIDs, newIDs); len(stale) > 0 {
		if err := apperrors.Retry(ctx, s.cfg.Retry, func() error {
			return s.store.DeleteFragments(ctx, s.cfg.Collection, stale)
		}); err != nil {
			s.enterError("delete stale fragments", err)
			return
		}
	}

	s.commitRecord(path, gen, fp, newIDs)
	s.markProcessed()

	s.log.Debug("file synchronized",
		slog.String("path", path),
		slog.Int("fragments", len(frags)))
}

// removeFile deletes every indexed fragment for path and discards its
// record. Paths never indexed fall back to a store lookup so a removal
// settling after a restart still cleans up.
func (s *FolderSyncer) removeFile(ctx context.Context, path string) {
	s.mu.Lock()
	rec := s.records[path]
	delete(s.records, path)
	s.mu.Unlock()

	var ids []string
	if rec != nil {
		ids = rec.FragmentIDs
	} else {
		stored, err := s.store.FragmentsByPath(ctx, s.cfg.Collection, path)
		if err != nil {
			s.enterError("load stored fragments", err)
			return
		}
		ids = fragmentIDs(stored)
	}
	if len(ids) == 0 {
		return
	}

	if err := apperrors.Retry(ctx, s.cfg.Retry, func() error {
		return s.store.DeleteFragments(ctx, s.cfg.Collection, ids)
	}); err != nil {
		s.enterError("delete removed file fragments", err)
		return
	}

	s.log.Debug("file removed from index", slog.String("path", path))
}

// moveFile rebinds a renamed file's fragments without re-embedding, then
// resynchronizes if the content changed during the move.
func (s *FolderSyncer) moveFile(ctx context.Context, oldPath, newPath string) {
	// A rename out of the accepted categories is an index removal, not a
	// rebind; otherwise the old path's fragments would outlive the file.
	if _, ok := extract.Classify(newPath, s.cfg.Categories); !ok {
		s.removeFile(ctx, oldPath)
		return
	}

	s.mu.Lock()
	rec := s.records[oldPath]
	delete(s.records, oldPath)
	if rec != nil {
		rec.Path = newPath
		s.records[newPath] = rec
	}
	s.mu.Unlock()

	if rec == nil {
		// unknown source, treat the destination as a fresh file
		s.syncFile(ctx, newPath)
		return
	}

	if err := apperrors.Retry(ctx, s.cfg.Retry, func() error {
		return s.store.RenamePath(ctx, s.cfg.Collection, oldPath, newPath)
	}); err != nil {
		s.enterError("rename fragments", err)
		return
	}

	fp, err := fragment.FingerprintFile(newPath)
	if err != nil || fp != rec.Fingerprint {
		s.syncFile(ctx, newPath)
		return
	}

	s.log.Debug("file moved",
		slog.String("from", oldPath),
		slog.String("to", newPath))
}

// matchRename pairs a pending moved-from with a moved-to when the new
// file's content matches the old path's last synchronized fingerprint.
func (s *FolderSyncer) matchRename(oldPath, newPath string) bool {
	s.mu.RLock()
	rec := s.records[oldPath]
	s.mu.RUnlock()
	if rec == nil {
		return false
	}

	fp, err := fragment.FingerprintFile(newPath)
	if err != nil {
		return false
	}
	return fp == rec.Fingerprint
}

// DeleteAll removes every fragment of this folder by dropping its
// collection. Used by unwatch after the event intake has stopped and
// in-flight tasks have drained.
func (s *FolderSyncer) DeleteAll(ctx context.Context) error {
	s.mu.Lock()
	s.records = make(map[string]*FileRecord)
	s.state = StateRemoved
	s.mu.Unlock()

	return apperrors.Retry(ctx, s.cfg.Retry, func() error {
		return s.store.DeleteCollection(ctx, s.cfg.Collection)
	})
}

// Pause suspends event consumption. In-flight tasks finish.
func (s *FolderSyncer) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateWatching {
		s.state = StatePaused
	}
}

// Resume re-enables event consumption after Pause.
func (s *FolderSyncer) Resume() {
	s.mu.Lock()
	if s.state == StatePaused {
		s.state = StateWatching
	}
	s.mu.Unlock()
	s.resumed.Broadcast()
}

// Recover re-runs the bulk scan after an Error state. The re-scan is
// safe because per-file synchronization is idempotent.
func (s *FolderSyncer) Recover(ctx context.Context) {
	s.mu.Lock()
	if s.state != StateError {
		s.mu.Unlock()
		return
	}
	s.state = StateScanning
	s.mu.Unlock()

	if err := s.scan(ctx); err != nil {
		s.log.Error("recovery scan failed", slog.String("error", err.Error()))
		s.setState(StateError)
		return
	}
	s.setState(StateWatching)
}

// WaitScanned blocks until the initial bulk scan completes.
func (s *FolderSyncer) WaitScanned(ctx context.Context) error {
	select {
	case <-s.scanDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drain waits for in-flight synchronization tasks of this folder.
func (s *FolderSyncer) Drain() {
	s.inflight.Wait()
}

// Stop halts event intake. In-flight tasks are not interrupted; call
// Drain to wait for them.
func (s *FolderSyncer) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.fw != nil {
			s.fw.Stop()
		}
		s.resumed.Broadcast()
	})
}

// Status returns a non-blocking progress snapshot.
func (s *FolderSyncer) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	progress := 100.0
	if s.discovered > 0 {
		progress = float64(s.processed) / float64(s.discovered) * 100.0
		if progress > 100 {
			progress = 100
		}
	} else if s.state == StateScanning || s.state == StateInitializing {
		progress = 0
	}

	return Status{
		FolderID:        s.cfg.FolderID,
		Root:            s.cfg.Root,
		Collection:      s.cfg.Collection,
		State:           s.state,
		FilesDiscovered: s.discovered,
		FilesProcessed:  s.processed,
		ErrorCount:      s.errorCount,
		ProgressPercent: progress,
	}
}

// State returns the current lifecycle state.
func (s *FolderSyncer) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Records returns a copy of the file records, for persistence decisions.
func (s *FolderSyncer) Records() map[string]FileRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]FileRecord, len(s.records))
	for path, rec := range s.records {
		out[path] = *rec
	}
	return out
}

func (s *FolderSyncer) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateRemoved {
		return
	}
	s.state = st
}

func (s *FolderSyncer) waitWhilePaused() {
	s.mu.RLock()
	for s.state == StatePaused {
		select {
		case <-s.stopCh:
			s.mu.RUnlock()
			return
		default:
		}
		s.resumed.Wait()
	}
	s.mu.RUnlock()
}

func (s *FolderSyncer) generation(path string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generations[path]
}

func (s *FolderSyncer) bumpGeneration(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generations[path]++
}

// commitRecord installs the record only if no newer settled event for
// the path arrived while this synchronization ran. A superseded task's
// index writes stand (fingerprint-scoped, harmless); the fresher task
// owns the record.
func (s *FolderSyncer) commitRecord(path string, gen uint64, fp string, ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generations[path] != gen {
		return
	}
	s.records[path] = &FileRecord{Path: path, Fingerprint: fp, FragmentIDs: ids}
}

func (s *FolderSyncer) markProcessed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed++
}

func (s *FolderSyncer) recordSkip(path string, err error) {
	s.mu.Lock()
	s.errorCount++
	s.processed++
	s.mu.Unlock()

	s.log.Warn("file skipped",
		slog.String("path", path),
		slog.String("error", err.Error()))
}

func (s *FolderSyncer) enterError(op string, err error) {
	s.mu.Lock()
	if s.state != StateRemoved {
		s.state = StateError
	}
	s.mu.Unlock()

	s.log.Error("backend failure, folder needs recovery",
		slog.String("op", op),
		slog.String("error", err.Error()))
}

func allFingerprint(frags []fragment.Fragment, fp string) bool {
	for _, f := range frags {
		if f.Fingerprint != fp {
			return false
		}
	}
	return true
}

func fragmentIDs(frags []fragment.Fragment) []string {
	ids := make([]string, len(frags))
	for i, f := range frags {
		ids[i] = f.ID
	}
	return ids
}

// subtract returns the elements of a not present in b.
func subtract(a, b []string) []string {
	if len(a) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(b))
	for _, id := range b {
		set[id] = struct{}{}
	}
	var out []string
	for _, id := range a {
		if _, ok := set[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
