package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultSettleWindow is the idle window before a path's notifications settle.
const DefaultSettleWindow = 500 * time.Millisecond

// Watcher watches one directory tree with fsnotify and delivers settled
// events through the debouncer. fsnotify reports a rename as Rename on the
// old path and Create on the new path; the adapter maps these to moved-from
// and moved-to and leaves pairing to the debouncer's RenameMatcher.
type Watcher struct {
	root      string
	debouncer *Debouncer
	fsw       *fsnotify.Watcher
	errors    chan error

	mu      sync.Mutex
	stopped bool
	done    chan struct{}
}

// Options configures a Watcher.
type Options struct {
	// SettleWindow is the debounce idle window.
	SettleWindow time.Duration
	// MatchRename pairs moved-from with moved-to events. May be nil.
	MatchRename RenameMatcher
}

// New creates a watcher for the directory tree rooted at root.
func New(root string, opts Options) (*Watcher, error) {
	if opts.SettleWindow <= 0 {
		opts.SettleWindow = DefaultSettleWindow
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	return &Watcher{
		root:      root,
		debouncer: NewDebouncer(opts.SettleWindow, opts.MatchRename),
		fsw:       fsw,
		errors:    make(chan error, 10),
		done:      make(chan struct{}),
	}, nil
}

// Start registers the directory tree and begins translating notifications.
// It returns after setup; the event loop runs until Stop or ctx cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addRecursive(w.root); err != nil {
		_ = w.fsw.Close()
		return fmt.Errorf("watch %s: %w", w.root, err)
	}
	go w.run(ctx)
	return nil
}

// run is the notification loop. Translation is cheap; all indexing work
// happens on the consumer side so event delivery is never delayed.
func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.emitError(err)
		}
	}
}

// handle translates one fsnotify event into raw debouncer input.
func (w *Watcher) handle(ev fsnotify.Event) {
	now := time.Now()

	switch {
	case ev.Op&fsnotify.Create != 0:
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			w.handleNewDirectory(ev.Name, now)
			return
		}
		// A create right after a rename is the destination half of a move.
		w.debouncer.Add(RawEvent{Kind: RawMovedTo, Path: ev.Name, Time: now})
	case ev.Op&fsnotify.Write != 0:
		w.debouncer.Add(RawEvent{Kind: RawModified, Path: ev.Name, Time: now})
	case ev.Op&fsnotify.Remove != 0:
		w.debouncer.Add(RawEvent{Kind: RawDeleted, Path: ev.Name, Time: now})
	case ev.Op&fsnotify.Rename != 0:
		w.debouncer.Add(RawEvent{Kind: RawMovedFrom, Path: ev.Name, Time: now})
	}
	// Chmod is ignored
}

// handleNewDirectory watches a directory that appeared after Start and
// reports the files it already contains.
func (w *Watcher) handleNewDirectory(dir string, now time.Time) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := w.fsw.Add(path); err != nil {
				slog.Debug("failed to watch new directory",
					slog.String("path", path),
					slog.String("error", err.Error()))
			}
			return nil
		}
		w.debouncer.Add(RawEvent{Kind: RawCreated, Path: path, Time: now})
		return nil
	})
}

// addRecursive adds all directories under root to the fsnotify watcher.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil // skip unreadable subtrees
		}
		if !d.IsDir() {
			return nil
		}
		return w.fsw.Add(path)
	})
}

// Events returns the channel of settled logical events.
func (w *Watcher) Events() <-chan Event {
	return w.debouncer.Output()
}

// Errors returns the channel of non-fatal watcher errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

func (w *Watcher) emitError(err error) {
	select {
	case w.errors <- err:
	default:
	}
}

// Stop stops the watcher and releases resources. Safe to call multiple times.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}
	w.stopped = true
	close(w.done)
	_ = w.fsw.Close()
	w.debouncer.Stop()
	close(w.errors)
}
