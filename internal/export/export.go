// Package export packages extracted text as a downloadable file.
package export

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	// FileName is the fixed name of the exported file.
	FileName = "storybook_text.txt"
	// ContentType is the MIME type of the exported file.
	ContentType = "text/plain"
)

// ErrNoText is returned when there is no text to export.
var ErrNoText = errors.New("export: no text to export")

// Download is a file offered to the user.
type Download struct {
	Name        string
	ContentType string
	Body        string
}

// Text packages text verbatim as a Download.
func Text(text string) (*Download, error) {
	if text == "" {
		return nil, ErrNoText
	}
	return &Download{Name: FileName, ContentType: ContentType, Body: text}, nil
}

// Reader returns the file content.
func (d *Download) Reader() io.Reader {
	return strings.NewReader(d.Body)
}

// Size returns the content length in bytes.
func (d *Download) Size() int {
	return len(d.Body)
}

// WriteTo writes the content to w.
func (d *Download) WriteTo(w io.Writer) (int64, error) {
	n, err := io.WriteString(w, d.Body)
	return int64(n), err
}

// SaveDir writes the download into dir under its name and returns the path.
// The file is written to a temporary name first and renamed into place.
func (d *Download) SaveDir(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+d.Name+".*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := d.WriteTo(tmp); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write %s: %w", d.Name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", d.Name, err)
	}
	path := filepath.Join(dir, d.Name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("save %s: %w", d.Name, err)
	}
	return path, nil
}
