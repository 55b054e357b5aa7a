// Package pristine implements the persistent, append-style local cache of
// remote bytes described in section 4.2: a single sparse file per image,
// addressed by chunk index, plus a badger-backed presence index so an
// in-memory bitmap can be reseeded after a process restart without
// re-fetching everything from the origin.
//
// Collisions across independent processes sharing the same pristine cache
// location are not prevented — the presence index is process-local, so
// duplicate fetches across processes may occur but never produce
// corruption, matching the base spec's acknowledged open question.
package pristine

import (
	"fmt"
	"os"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/rdimagefs/rdimagefs/internal/logger"
	"github.com/rdimagefs/rdimagefs/pkg/ioerrors"
)

// Store is the pristine cache for one image.
type Store struct {
	file      *os.File
	chunkSize uint64
	idx       *badger.DB
}

// Open opens (creating if necessary) the pristine store rooted at dir,
// which is a per-image cache directory the core treats as opaque.
func Open(dir string, chunkSize uint64) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create pristine dir: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, "pristine.dat"), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open pristine file: %w", err)
	}

	opts := badger.DefaultOptions(filepath.Join(dir, "presence")).
		WithLogger(nil).
		WithLoggingLevel(badger.ERROR)
	idx, err := badger.Open(opts)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open presence index: %w", err)
	}

	return &Store{file: f, chunkSize: chunkSize, idx: idx}, nil
}

// Close releases the underlying file and presence index.
func (s *Store) Close() error {
	idxErr := s.idx.Close()
	fileErr := s.file.Close()
	if idxErr != nil {
		return idxErr
	}
	return fileErr
}

func presenceKey(chunk uint64) []byte {
	return []byte(fmt.Sprintf("p:%020d", chunk))
}

// Present reports whether chunk was recorded present by a previous Write,
// including across process restarts. Used at image open to reseed the
// in-memory present bitmap.
func (s *Store) Present(chunk uint64) (bool, error) {
	var found bool
	err := s.idx.View(func(txn *badger.Txn) error {
		_, err := txn.Get(presenceKey(chunk))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("read presence index: %w", err)
	}
	return found, nil
}

// Read reads len bytes at off within chunk. The caller must have already
// established that the chunk's present bit is set.
func (s *Store) Read(chunk uint64, off uint64, length uint32) ([]byte, error) {
	buf := make([]byte, length)
	n, err := s.file.ReadAt(buf, int64(chunk*s.chunkSize+off))
	if err != nil && n == 0 {
		return nil, fmt.Errorf("pristine read chunk %d: %w", chunk, err)
	}
	return buf[:n], nil
}

// Write stores the full fetched chunk payload (length count bytes starting
// at the chunk's base offset) and records the chunk present, surviving
// restart via the badger index. Write is only legal with the present bit
// transitioning from 0 to 1, or — in stream mode — for a chunk the streamer
// has locked; that invariant is enforced by the caller (the chunk engine),
// not here.
func (s *Store) Write(chunk uint64, data []byte) error {
	if _, err := s.file.WriteAt(data, int64(chunk*s.chunkSize)); err != nil {
		return fmt.Errorf("pristine write chunk %d: %w", chunk, err)
	}
	err := s.idx.Update(func(txn *badger.Txn) error {
		return txn.Set(presenceKey(chunk), []byte{1})
	})
	if err != nil {
		logger.Error("pristine: failed to persist presence index entry", logger.Err(err), "chunk", chunk)
		return fmt.Errorf("%w: persist presence index: %v", ioerrors.ErrInvalidCache, err)
	}
	return nil
}
