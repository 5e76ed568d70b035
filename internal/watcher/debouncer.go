package watcher

import (
	"sync"
	"time"
)

// pendingState is the coalesced outcome a pending path will settle into.
type pendingState int

const (
	// stateChanged settles into Changed.
	stateChanged pendingState = iota
	// stateRemoved settles into Removed.
	stateRemoved
	// stateMovedFrom is an unpaired moved-from; settles into Removed.
	stateMovedFrom
	// stateMoved is a recognized rename destination; settles into Moved.
	stateMoved
)

// RenameMatcher reports whether a pending moved-from at oldPath and a fresh
// moved-to at newPath are the same file (same content). Injected by the
// consumer, which knows the last-synchronized fingerprints.
type RenameMatcher func(oldPath, newPath string) bool

// pendingPath tracks one path between its first raw notification and
// settlement.
type pendingPath struct {
	state   pendingState
	born    bool   // first raw kind was a create; create+delete cancels out
	oldPath string // for stateMoved
	timer   *time.Timer
}

// Debouncer collapses bursts of raw notifications for the same path into a
// single logical change. Each path re-arms its own idle window; the path
// settles when the window elapses with no further notifications.
//
// Coalescing rules:
//   - created + deleted   = nothing (file never really existed)
//   - deleted + created   = changed (file was replaced)
//   - modified * N        = changed
//   - moved-from + moved-to (matched) = moved(old, new)
//   - moved-from alone    = removed
type Debouncer struct {
	window      time.Duration
	matchRename RenameMatcher

	mu      sync.Mutex
	pending map[string]*pendingPath
	out     chan Event
	stopCh  chan struct{}
	stopped bool
	// settling counts in-flight settle sends; Stop closes out only
	// after they finish, so a settle never sends on a closed channel.
	settling sync.WaitGroup
}

// NewDebouncer creates a debouncer with the given idle window. matchRename
// may be nil, in which case moves are never paired and settle as
// removed(old) + changed(new).
func NewDebouncer(window time.Duration, matchRename RenameMatcher) *Debouncer {
	return &Debouncer{
		window:      window,
		matchRename: matchRename,
		pending:     make(map[string]*pendingPath),
		out:         make(chan Event, 256),
		stopCh:      make(chan struct{}),
	}
}

// Add feeds a raw notification into the debouncer.
func (d *Debouncer) Add(raw RawEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if raw.Kind == RawMovedTo && d.pairRenameLocked(raw.Path) {
		return
	}

	p, ok := d.pending[raw.Path]
	if !ok {
		p = &pendingPath{born: raw.Kind == RawCreated || raw.Kind == RawMovedTo}
		d.pending[raw.Path] = p
	}

	switch raw.Kind {
	case RawCreated, RawModified, RawMovedTo:
		if p.state == stateMoved {
			// A rename destination that keeps changing still settles as a
			// single move; the consumer resyncs on fingerprint mismatch.
		} else {
			p.state = stateChanged
		}
	case RawDeleted:
		if p.born {
			// created then deleted within the window: drop entirely
			d.dropLocked(raw.Path)
			return
		}
		p.state = stateRemoved
	case RawMovedFrom:
		if p.born {
			d.dropLocked(raw.Path)
			return
		}
		p.state = stateMovedFrom
	}

	d.rearmLocked(raw.Path, p)
}

// pairRenameLocked tries to pair a fresh moved-to with a pending moved-from.
// On success the old entry is dropped and the destination becomes a pending
// move. Returns false when no pending moved-from matches.
func (d *Debouncer) pairRenameLocked(newPath string) bool {
	if d.matchRename == nil {
		return false
	}
	for oldPath, p := range d.pending {
		if p.state != stateMovedFrom {
			continue
		}
		if !d.matchRename(oldPath, newPath) {
			continue
		}
		d.dropLocked(oldPath)
		moved := &pendingPath{state: stateMoved, oldPath: oldPath}
		d.pending[newPath] = moved
		d.rearmLocked(newPath, moved)
		return true
	}
	return false
}

// rearmLocked restarts the path's idle window.
func (d *Debouncer) rearmLocked(path string, p *pendingPath) {
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(d.window, func() {
		d.settle(path)
	})
}

// dropLocked removes a pending path and stops its timer.
func (d *Debouncer) dropLocked(path string) {
	if p, ok := d.pending[path]; ok {
		if p.timer != nil {
			p.timer.Stop()
		}
		delete(d.pending, path)
	}
}

// settle emits the logical event for a path whose window elapsed quietly.
func (d *Debouncer) settle(path string) {
	d.mu.Lock()
	p, ok := d.pending[path]
	if !ok || d.stopped {
		d.mu.Unlock()
		return
	}
	delete(d.pending, path)
	d.settling.Add(1)
	d.mu.Unlock()
	defer d.settling.Done()

	var ev Event
	switch p.state {
	case stateChanged:
		ev = Event{Kind: Changed, Path: path}
	case stateRemoved, stateMovedFrom:
		// OldPath survives a rename destination that was deleted before
		// settling, so the consumer can discard the old record too.
		ev = Event{Kind: Removed, Path: path, OldPath: p.oldPath}
	case stateMoved:
		ev = Event{Kind: Moved, Path: path, OldPath: p.oldPath}
	}

	select {
	case d.out <- ev:
	case <-d.stopCh:
	}
}

// Output returns the channel of settled events.
func (d *Debouncer) Output() <-chan Event {
	return d.out
}

// Stop stops the debouncer and closes the output channel.
// Safe to call multiple times.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	for path := range d.pending {
		d.dropLocked(path)
	}
	close(d.stopCh)
	d.mu.Unlock()

	// in-flight settles either deliver into the buffer or bail out on
	// stopCh; only then is out safe to close
	d.settling.Wait()
	close(d.out)
}
