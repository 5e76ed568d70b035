// Package watcher turns raw, bursty filesystem notifications into settled
// logical events. Raw notifications for a path are coalesced within an idle
// window; a moved-from paired with a matching moved-to is re-emitted as a
// single rename.
package watcher

import "time"

// RawKind is a raw notification kind from the filesystem source.
// Delivery is assumed at-least-once, possibly duplicated, possibly
// reordered within a short window.
type RawKind int

const (
	RawCreated RawKind = iota
	RawModified
	RawMovedFrom
	RawMovedTo
	RawDeleted
)

// String returns a human-readable representation of the raw kind.
func (k RawKind) String() string {
	switch k {
	case RawCreated:
		return "CREATED"
	case RawModified:
		return "MODIFIED"
	case RawMovedFrom:
		return "MOVED_FROM"
	case RawMovedTo:
		return "MOVED_TO"
	case RawDeleted:
		return "DELETED"
	default:
		return "UNKNOWN"
	}
}

// RawEvent is a single raw filesystem notification.
type RawEvent struct {
	Kind RawKind
	Path string
	Time time.Time
}

// Kind is a settled, logical event kind.
type Kind int

const (
	// Changed means the path's content must be (re)synchronized.
	Changed Kind = iota
	// Removed means the path's fragments must be deleted.
	Removed
	// Moved means the path was renamed; OldPath holds the previous name.
	Moved
)

// String returns a human-readable representation of the settled kind.
func (k Kind) String() string {
	switch k {
	case Changed:
		return "CHANGED"
	case Removed:
		return "REMOVED"
	case Moved:
		return "MOVED"
	default:
		return "UNKNOWN"
	}
}

// Event is a settled logical filesystem change.
type Event struct {
	Kind    Kind
	Path    string
	OldPath string // set for Moved
}
