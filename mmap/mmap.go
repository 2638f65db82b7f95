// Package mmap exposes files as read-only, memory-mapped byte slices.
//
// A View is only valid while the file it maps is not truncated or rewritten
// in place. Files published by the download engine are never modified after
// they are renamed into the cache, and unlinking a mapped file does not
// invalidate the mapping, so views over cached files stay valid until Close.
package mmap

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
)

var (
	// ErrEmpty is returned when mapping a zero-length file.
	ErrEmpty = errors.New("mmap: file is empty")

	// ErrMapping is returned when the operating system refuses the mapping.
	ErrMapping = errors.New("mmap: mapping failed")

	// ErrUnsupported is returned on platforms without memory mapping support.
	ErrUnsupported = errors.New("mmap: not supported on this platform")

	// ErrClosed is returned when reading from a closed View.
	ErrClosed = errors.New("mmap: view is closed")
)

// View is an immutable byte view backed by a memory mapping.
//
// The slice returned by Bytes must not be retained after Close; doing so
// will fault. View is safe for concurrent readers; Close must not race
// with reads.
type View struct {
	data []byte
	name string

	closeOnce sync.Once
	closeErr  error
}

// Map memory-maps the whole of f read-only. The file descriptor may be
// closed after Map returns; the mapping keeps its own reference.
func Map(f *os.File) (*View, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("mmap: stat %s: %w", f.Name(), err)
	}
	size := info.Size()
	if size == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmpty, f.Name())
	}
	if size < 0 || size > math.MaxInt {
		return nil, fmt.Errorf("%w: %s: size %d out of range", ErrMapping, f.Name(), size)
	}
	data, err := mapFile(f, int(size))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMapping, f.Name(), err)
	}
	return &View{data: data, name: f.Name()}, nil
}

// Open opens path and maps it, closing the descriptor afterwards.
func Open(path string) (*View, error) {
	f, err := os.Open(path) //nolint:gosec // path is caller-supplied by design
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Map(f)
}

// Name returns the name of the mapped file.
func (v *View) Name() string {
	return v.name
}

// Len returns the number of mapped bytes, or 0 after Close.
func (v *View) Len() int {
	return len(v.data)
}

// Bytes returns the mapped bytes. The slice must be treated as read-only;
// writing to it faults.
func (v *View) Bytes() []byte {
	return v.data
}

// At returns the n bytes starting at off without copying.
func (v *View) At(off, n int) ([]byte, error) {
	if v.data == nil {
		return nil, ErrClosed
	}
	if off < 0 || n < 0 || off > len(v.data)-n {
		return nil, fmt.Errorf("mmap: range [%d, %d) out of bounds for length %d", off, off+n, len(v.data))
	}
	return v.data[off : off+n : off+n], nil
}

// ReadAt implements io.ReaderAt by copying out of the mapping.
func (v *View) ReadAt(p []byte, off int64) (int, error) {
	if v.data == nil {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, fmt.Errorf("mmap: read at %d: negative offset", off)
	}
	if off >= int64(len(v.data)) {
		return 0, io.EOF
	}
	n := copy(p, v.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Close releases the mapping. It is safe to call more than once.
func (v *View) Close() error {
	v.closeOnce.Do(func() {
		if v.data != nil {
			v.closeErr = unmap(v.data)
			v.data = nil
		}
	})
	return v.closeErr
}

var _ io.ReaderAt = (*View)(nil)
