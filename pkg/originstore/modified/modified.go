// Package modified implements the writable overlay described in section
// 4.3: a single sparse file, always truncated to exactly the image's
// current size, holding chunks that have diverged from the pristine cache.
package modified

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rdimagefs/rdimagefs/pkg/ioerrors"
)

// Store is the modified overlay for one image.
type Store struct {
	file *os.File
}

// Open opens (creating if necessary) the modified overlay file within dir,
// truncating it to initialSize if it was just created.
func Open(dir string, initialSize uint64) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create modified dir: %w", err)
	}
	path := filepath.Join(dir, "modified.dat")
	_, statErr := os.Stat(path)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open modified file: %w", err)
	}
	if os.IsNotExist(statErr) {
		if err := f.Truncate(int64(initialSize)); err != nil {
			f.Close()
			return nil, fmt.Errorf("truncate modified file: %w", err)
		}
	}
	return &Store{file: f}, nil
}

// Close releases the underlying file.
func (s *Store) Close() error {
	return s.file.Close()
}

// Read reads length bytes at (chunk, off), rejecting any access past
// imageSize. The caller must have already established the chunk's modified
// bit is set.
func (s *Store) Read(imageSize uint64, chunk uint64, off uint64, length uint32, chunkSize uint64) ([]byte, error) {
	start := chunk*chunkSize + off
	if start >= imageSize {
		return nil, ioerrors.ErrEOF
	}
	if start+uint64(length) > imageSize {
		length = uint32(imageSize - start)
	}
	buf := make([]byte, length)
	n, err := s.file.ReadAt(buf, int64(start))
	if err != nil && n == 0 {
		return nil, fmt.Errorf("modified read chunk %d: %w", chunk, err)
	}
	return buf[:n], nil
}

// Write writes data (length bytes) at (chunk, off), rejecting any access
// past imageSize. Writing atomically establishes the chunk as modified from
// the caller's point of view — the caller (the chunk engine) is responsible
// for setting the modified bitmap bit once this returns successfully.
func (s *Store) Write(imageSize uint64, chunk uint64, off uint64, data []byte, chunkSize uint64) error {
	start := chunk*chunkSize + off
	if start+uint64(len(data)) > imageSize {
		return fmt.Errorf("modified write chunk %d: %w", chunk, ioerrors.ErrEOF)
	}
	if _, err := s.file.WriteAt(data, int64(start)); err != nil {
		return fmt.Errorf("modified write chunk %d: %w", chunk, err)
	}
	return nil
}

// SetSize performs the underlying truncation/expansion to newSize. current
// is accepted (and unused beyond documentation/symmetry with the original
// _vmnetfs_ll_modified_set_size signature) since os.File.Truncate is
// already idempotent and absolute.
func (s *Store) SetSize(current, newSize uint64) error {
	if err := s.file.Truncate(int64(newSize)); err != nil {
		return fmt.Errorf("modified set size to %d: %w", newSize, err)
	}
	return nil
}
