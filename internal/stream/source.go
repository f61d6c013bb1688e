package stream

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Source is a location a model stream is read from and written to
type Source interface {
	Location() string
	ReadOnly() bool
	OpenReader() (io.ReadCloser, error)
	OpenWriter() (io.WriteCloser, error)
}

// FileSource stores a model in a file. Paths ending in ".zst" are
// compressed with zstd.
type FileSource struct {
	Path     string
	Readonly bool
}

// NewFileSource returns a writable file source
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

func (s *FileSource) Location() string { return s.Path }

func (s *FileSource) ReadOnly() bool { return s.Readonly }

// StoreRoot returns the absolute directory of the file. Models in one
// directory share a store.
func (s *FileSource) StoreRoot() string {
	dir := filepath.Dir(s.Path)
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return dir
}

func (s *FileSource) compressed() bool {
	return strings.HasSuffix(s.Path, ".zst")
}

// OpenReader opens the file for reading
func (s *FileSource) OpenReader() (io.ReadCloser, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", s.Path, err)
	}
	if !s.compressed() {
		return f, nil
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("opening zstd stream %s: %w", s.Path, err)
	}
	return &zstdReadCloser{dec: dec, f: f}, nil
}

// OpenWriter truncates the file and opens it for writing
func (s *FileSource) OpenWriter() (io.WriteCloser, error) {
	if s.Readonly {
		return nil, fmt.Errorf("`%s' is read-only", s.Path)
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0755); err != nil {
		return nil, fmt.Errorf("creating directory for %s: %w", s.Path, err)
	}
	f, err := os.Create(s.Path)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", s.Path, err)
	}
	if !s.compressed() {
		return f, nil
	}
	enc, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("creating zstd stream %s: %w", s.Path, err)
	}
	return &zstdWriteCloser{enc: enc, f: f}, nil
}

type zstdReadCloser struct {
	dec *zstd.Decoder
	f   *os.File
}

func (z *zstdReadCloser) Read(p []byte) (int, error) { return z.dec.Read(p) }

func (z *zstdReadCloser) Close() error {
	z.dec.Close()
	return z.f.Close()
}

type zstdWriteCloser struct {
	enc *zstd.Encoder
	f   *os.File
}

func (z *zstdWriteCloser) Write(p []byte) (int, error) { return z.enc.Write(p) }

func (z *zstdWriteCloser) Close() error {
	if err := z.enc.Close(); err != nil {
		z.f.Close()
		return fmt.Errorf("flushing zstd stream: %w", err)
	}
	return z.f.Close()
}

// MemorySource keeps a model stream in memory
type MemorySource struct {
	Name     string
	Readonly bool

	mu   sync.Mutex
	data []byte
}

// NewMemorySource returns a source holding a copy of data
func NewMemorySource(name string, data []byte) *MemorySource {
	return &MemorySource{Name: name, data: append([]byte(nil), data...)}
}

func (s *MemorySource) Location() string { return s.Name }

func (s *MemorySource) ReadOnly() bool { return s.Readonly }

// Bytes returns the current content
func (s *MemorySource) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.data...)
}

func (s *MemorySource) OpenReader() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.Bytes())), nil
}

// OpenWriter returns a writer whose content replaces the source on Close
func (s *MemorySource) OpenWriter() (io.WriteCloser, error) {
	if s.Readonly {
		return nil, fmt.Errorf("`%s' is read-only", s.Name)
	}
	return &memoryWriter{src: s}, nil
}

type memoryWriter struct {
	src *MemorySource
	buf bytes.Buffer
}

func (w *memoryWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *memoryWriter) Close() error {
	w.src.mu.Lock()
	defer w.src.mu.Unlock()
	w.src.data = w.buf.Bytes()
	return nil
}
