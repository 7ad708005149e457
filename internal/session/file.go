package session

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
)

// File is a user-chosen file handle. Only Name is consulted before the file is
// accepted; Open is called once by the extractor.
type File interface {
	Name() string
	Open() (io.ReadCloser, error)
}

type localFile struct {
	path string
}

// LocalFile returns a File for a path on disk. Its name is the base name.
func LocalFile(path string) File {
	return localFile{path: path}
}

func (f localFile) Name() string                 { return filepath.Base(f.path) }
func (f localFile) Open() (io.ReadCloser, error) { return os.Open(f.path) }

type memFile struct {
	name    string
	content []byte
}

// MemFile returns a File backed by content.
func MemFile(name string, content []byte) File {
	return memFile{name: name, content: content}
}

func (f memFile) Name() string { return f.name }
func (f memFile) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.content)), nil
}
