// Package extract provides text extraction from watched files.
//
// The gateway abstracts "get text from file": plain-text categories are
// decoded as UTF-8 with a configurable fallback charset; binary categories
// (PDF) are run through an ordered list of backends, falling through on
// failure. Only when every backend fails does extraction error out.
package extract

import (
	"bytes"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkazakov/vecsync/internal/errors"
)

// Category is a content category accepted by a watched folder.
type Category string

const (
	CategoryText Category = "text"
	CategoryPDF  Category = "pdf"
)

// ParseCategories converts category names into Categories, rejecting
// unknown names. An empty list defaults to text only.
func ParseCategories(names []string) ([]Category, error) {
	if len(names) == 0 {
		return []Category{CategoryText}, nil
	}
	out := make([]Category, 0, len(names))
	for _, n := range names {
		switch Category(strings.ToLower(n)) {
		case CategoryText:
			out = append(out, CategoryText)
		case CategoryPDF:
			out = append(out, CategoryPDF)
		default:
			return nil, errors.Newf(errors.ErrCodeInvalidInput, "unknown content category: %q", n)
		}
	}
	return out, nil
}

// textExtensions are extensions treated as text regardless of MIME tables.
var textExtensions = map[string]struct{}{
	// Programming languages
	".c": {}, ".cpp": {}, ".cs": {}, ".csproj": {}, ".go": {}, ".h": {}, ".hpp": {},
	".java": {}, ".js": {}, ".php": {}, ".py": {}, ".rb": {}, ".rs": {}, ".sln": {}, ".ts": {},

	// Scripts and configs
	".bat": {}, ".cfg": {}, ".ini": {}, ".sh": {}, ".toml": {}, ".yaml": {}, ".yml": {},

	// Markup and web
	".txt": {}, ".css": {}, ".html": {}, ".ipynb": {}, ".json": {}, ".log": {}, ".md": {}, ".xml": {},
}

// IsTextPath reports whether the path looks like a text file, by extension
// or MIME type.
func IsTextPath(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := textExtensions[ext]; ok {
		return true
	}
	return strings.HasPrefix(mime.TypeByExtension(ext), "text/")
}

// IsPDFPath reports whether the path looks like a PDF.
func IsPDFPath(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

// Classify returns the category the path belongs to among the accepted set,
// or false when the file should not be indexed.
func Classify(path string, accepted []Category) (Category, bool) {
	for _, c := range accepted {
		switch c {
		case CategoryText:
			if IsTextPath(path) {
				return CategoryText, true
			}
		case CategoryPDF:
			if IsPDFPath(path) {
				return CategoryPDF, true
			}
		}
	}
	return "", false
}

// pdfBackend is one entry in the ordered PDF fallback chain.
type pdfBackend struct {
	name string
	fn   func(path string, content []byte) (string, error)
}

// Gateway extracts text from files. Stateless per call; safe for concurrent use.
type Gateway struct {
	fallback    *fallbackDecoder
	pdfBackends []pdfBackend
	maxFileSize int64
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithFallbackEncoding sets the charset tried when text content is not valid
// UTF-8 (e.g. "windows-1252"). Unknown names fail at construction.
func WithFallbackEncoding(name string) Option {
	return func(g *Gateway) {
		g.fallback = newFallbackDecoder(name)
	}
}

// WithMaxFileSize bounds the file size the gateway will read.
func WithMaxFileSize(n int64) Option {
	return func(g *Gateway) {
		g.maxFileSize = n
	}
}

// DefaultMaxFileSize is the largest file read by default (100MB).
const DefaultMaxFileSize int64 = 100 * 1024 * 1024

// NewGateway creates a Gateway with the ordered PDF backend chain.
func NewGateway(opts ...Option) *Gateway {
	g := &Gateway{
		maxFileSize: DefaultMaxFileSize,
		pdfBackends: []pdfBackend{
			{name: "ledongthuc", fn: extractPDF},
			{name: "cat", fn: extractPDFCat},
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Extract reads the file and returns its text content for the given category.
// Extraction failures come back as ErrCodeExtraction errors; the caller marks
// the file skipped and leaves prior index state untouched.
func (g *Gateway) Extract(path string, category Category) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", errors.ExtractionError(path, err)
	}
	if info.Size() > g.maxFileSize {
		return "", errors.Newf(errors.ErrCodeFileTooLarge, "file too large: %s (%d bytes)", path, info.Size()).
			WithDetail("path", path)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return "", errors.ExtractionError(path, err)
	}

	switch category {
	case CategoryText:
		text, err := g.decodeText(content)
		if err != nil {
			return "", errors.ExtractionError(path, err)
		}
		return text, nil
	case CategoryPDF:
		return g.extractPDF(path, content)
	default:
		return "", errors.ExtractionError(path, fmt.Errorf("unsupported category %q", category))
	}
}

// pdfMagic is the header every PDF starts with. Files without it never
// reach the backends; the cat backend passes unrecognized bytes through
// as plain text and would otherwise index raw file contents.
var pdfMagic = []byte("%PDF-")

// extractPDF tries each backend in order; a backend failure is logged and the
// next one is attempted.
func (g *Gateway) extractPDF(path string, content []byte) (string, error) {
	if !bytes.HasPrefix(content, pdfMagic) {
		return "", errors.ExtractionError(path, fmt.Errorf("missing %%PDF- header"))
	}

	var lastErr error
	for _, b := range g.pdfBackends {
		text, err := b.fn(path, content)
		if err != nil {
			slog.Debug("pdf backend failed",
				slog.String("backend", b.name),
				slog.String("path", path),
				slog.String("error", err.Error()))
			lastErr = err
			continue
		}
		if strings.TrimSpace(text) != "" {
			return text, nil
		}
		lastErr = fmt.Errorf("backend %s produced no text", b.name)
	}
	return "", errors.ExtractionError(path, fmt.Errorf("all pdf backends failed: %w", lastErr))
}
