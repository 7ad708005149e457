// Package extract provides text extraction from PDF and plain text documents.
package extract

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// Kind identifies a supported document format.
type Kind string

const (
	// KindPDF is a PDF document.
	KindPDF Kind = "pdf"
	// KindText is a plain text document.
	KindText Kind = "txt"
)

// KindFromName returns the document kind for a file name, judged only by the
// suffix after the last dot (case-insensitive). ok is false for anything that
// is not a .pdf or .txt file.
func KindFromName(name string) (kind Kind, ok bool) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	switch Kind(ext) {
	case KindPDF:
		return KindPDF, true
	case KindText:
		return KindText, true
	}
	return "", false
}

// Extractor extracts plain text from document bytes.
type Extractor struct {
	parser Parser
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithParser replaces the PDF parser. Used by tests and alternative backends.
func WithParser(p Parser) Option {
	return func(e *Extractor) { e.parser = p }
}

// NewExtractor returns an Extractor backed by the ledongthuc PDF parser.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{parser: LedongthucParser{}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExtractBytes extracts text from content according to kind.
func (e *Extractor) ExtractBytes(ctx context.Context, content []byte, kind Kind) (string, error) {
	switch kind {
	case KindPDF:
		return e.PDF(ctx, content)
	case KindText:
		return e.Plain(content)
	default:
		return "", fmt.Errorf("unsupported document kind %q", kind)
	}
}
