// Package fragment derives stable, deterministic identifiers for indexed text
// fragments and fingerprints the files they came from.
//
// A fragment identifier is a function of (path, fingerprint, ordinal). Any
// change to the file's fingerprint yields a disjoint set of identifiers, so a
// re-synchronization can insert the new fragment set and then delete exactly
// the previous fingerprint's identifiers without diffing.
package fragment

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"github.com/pkazakov/vecsync/internal/chunk"
)

const (
	// PreviewChars is how much fragment text is kept as a payload preview.
	PreviewChars = 100

	// MinTextChars is the minimum trimmed text length worth indexing.
	// Shorter windows are dropped, matching the reference behavior.
	MinTextChars = 10
)

// Fragment is the unit of embedding and index storage. Immutable once
// written; superseded fragments are deleted, never mutated in place.
type Fragment struct {
	// ID is hex(sha256(path, fingerprint, ordinal)).
	ID string
	// Path is the source file path (canonical, absolute).
	Path string
	// Fingerprint is the content fingerprint the fragment is bound to.
	Fingerprint string
	// Ordinal is the fragment's position within the file.
	Ordinal int
	// Total is the number of fragments produced for this fingerprint.
	Total int
	// Text is the fragment content.
	Text string
	// Preview is at most PreviewChars bytes of Text, cut on a rune boundary.
	Preview string
	// Word and character offsets within the normalized document text.
	WordStart int
	WordEnd   int
	CharStart int
	CharEnd   int
}

// ID derives the deterministic fragment identifier. Two calls with identical
// inputs yield identical identifiers; any change to fingerprint yields
// identifiers disjoint from the previous fingerprint's.
func ID(path, fingerprint string, ordinal int) string {
	h := sha256.New()
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write([]byte(fingerprint))
	h.Write([]byte{0})
	fmt.Fprintf(h, "%d", ordinal)
	return hex.EncodeToString(h.Sum(nil))
}

// FingerprintFile computes the SHA-256 of the file's bytes, streamed.
func FingerprintFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FingerprintBytes computes the fingerprint of in-memory content.
func FingerprintBytes(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Build converts chunk windows into fragments bound to the given path and
// fingerprint. Windows whose trimmed text is shorter than MinTextChars are
// dropped; ordinals follow the window ordinals so identity stays stable.
func Build(path, fingerprint string, windows []chunk.Window) []Fragment {
	frags := make([]Fragment, 0, len(windows))
	for _, w := range windows {
		if len(w.Text) < MinTextChars {
			continue
		}
		preview := truncatePreview(w.Text)
		frags = append(frags, Fragment{
			ID:          ID(path, fingerprint, w.Ordinal),
			Path:        path,
			Fingerprint: fingerprint,
			Ordinal:     w.Ordinal,
			Text:        w.Text,
			Preview:     preview,
			WordStart:   w.WordStart,
			WordEnd:     w.WordEnd,
			CharStart:   w.CharStart,
			CharEnd:     w.CharEnd,
		})
	}
	for i := range frags {
		frags[i].Total = len(frags)
	}
	return frags
}

// truncatePreview caps text at PreviewChars bytes without splitting a
// multi-byte rune at the cut point.
func truncatePreview(text string) string {
	if len(text) <= PreviewChars {
		return text
	}
	cut := PreviewChars
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

// IDs returns the identifiers of the given fragments, in order.
func IDs(frags []Fragment) []string {
	ids := make([]string, len(frags))
	for i, f := range frags {
		ids[i] = f.ID
	}
	return ids
}
