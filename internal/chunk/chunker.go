// Package chunk splits extracted document text into overlapping fixed-size
// word windows. Splitting is deterministic: the same input always yields the
// same window sequence, which fragment identity depends on.
package chunk

import (
	"strings"
	"unicode"
)

// Chunk size defaults from the reference deployment.
const (
	DefaultSizeWords    = 150
	DefaultOverlapRatio = 0.15
)

// Window is a bounded, overlapping slice of a document's text.
type Window struct {
	// Text is the window content, words joined by single spaces.
	Text string
	// Ordinal is the zero-based position of the window in the sequence.
	Ordinal int
	// WordStart is the index of the first word of the window.
	WordStart int
	// WordEnd is the index one past the last word of the window.
	WordEnd int
	// CharStart is the byte offset of the window in the normalized text.
	CharStart int
	// CharEnd is the byte offset one past the window in the normalized text.
	CharEnd int
}

// Normalize collapses runs of whitespace into single spaces and trims the
// result. Chunking operates on normalized text so offsets are stable across
// platforms and line-ending styles.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Split divides text into overlapping word windows. Each window holds at most
// sizeWords words; consecutive windows overlap by round(sizeWords*overlapRatio)
// words; the final window may be shorter. Empty input yields no windows.
func Split(text string, sizeWords int, overlapRatio float64) []Window {
	if sizeWords <= 0 {
		sizeWords = DefaultSizeWords
	}
	if overlapRatio < 0 || overlapRatio >= 1 {
		overlapRatio = DefaultOverlapRatio
	}

	words := strings.FieldsFunc(text, unicode.IsSpace)
	if len(words) == 0 {
		return nil
	}

	// Byte offset of each word within the normalized text.
	offsets := make([]int, len(words))
	pos := 0
	for i, w := range words {
		offsets[i] = pos
		pos += len(w) + 1 // single joining space
	}

	step := int(float64(sizeWords) * (1 - overlapRatio))
	if step < 1 {
		step = 1
	}

	var windows []Window
	for i, ordinal := 0, 0; i < len(words); i, ordinal = i+step, ordinal+1 {
		end := i + sizeWords
		if end > len(words) {
			end = len(words)
		}
		text := strings.Join(words[i:end], " ")
		windows = append(windows, Window{
			Text:      text,
			Ordinal:   ordinal,
			WordStart: i,
			WordEnd:   end,
			CharStart: offsets[i],
			CharEnd:   offsets[i] + len(text),
		})
	}
	return windows
}
