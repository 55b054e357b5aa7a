// Package chunklock implements the chunk-lock table and the image size
// state that shares its mutex, mirroring vmnetfs's chunk_state in
// _examples/original_source/vmnetfs/io.c. The two are combined here because
// the base spec requires them to share one mutex: "the chunk-state mutex
// protects the lock table, the image size, the image-closed flag, and the
// change-cookie counter... never held across a transport call or file I/O."
//
// Go has no native condition-variable cancellation, so each interruptible
// wait here is built from a sync.Cond plus a watcher goroutine that bridges
// ctx.Done() into a Broadcast — the idiomatic replacement for FUSE's native
// per-request interruption signal.
package chunklock

import (
	"context"
	"sync"

	"github.com/rdimagefs/rdimagefs/pkg/ioerrors"
	"github.com/rdimagefs/rdimagefs/pkg/pollable"
)

type entry struct {
	busy    bool
	waiters int
	cond    *sync.Cond
}

// ResizeFunc performs the actual storage-level resize (modified-store
// SetSize plus bitmap Resize) for a new image size. It is invoked with the
// state mutex held, matching the C code's "chunk_state lock must be held"
// contract on _set_image_size / expand_image.
type ResizeFunc func(newSize uint64) error

// CopyToModifiedFunc performs copy-on-write of chunk into the modified
// store. It is invoked with the chunk already locked by the caller, never
// with the state mutex held — it must be free to call into the read
// pipeline, the transport, and file I/O.
type CopyToModifiedFunc func(ctx context.Context, chunk uint64) error

// State is the chunk-lock table plus the authoritative image size, closed
// flag, and size change-cookie for one image.
type State struct {
	mu      sync.Mutex
	entries map[uint64]*entry

	size        uint64
	initialSize uint64
	chunkSize   uint64
	closed      bool
	sizePoll    *pollable.Pollable
}

// New creates a State for an image of the given initial and chunk size.
// initialSize is the origin's size at open time — the boundary beyond which
// the pristine store never holds bytes, used by SetSize to decide whether a
// truncation point needs a partial-chunk pre-copy.
func New(initialSize, chunkSize uint64) *State {
	return &State{
		entries:     make(map[uint64]*entry),
		size:        initialSize,
		initialSize: initialSize,
		chunkSize:   chunkSize,
		sizePoll:    pollable.New(),
	}
}

// TryLock acquires exclusive ownership of chunk. If want > 0, the state's
// size is first grown (via resize) to at least want, mirroring
// chunk_trylock_ensure_size's expand-then-lock sequencing under one
// critical section. Pass want=0 for a plain lock (chunk_trylock).
//
// Returns ok=false if the image is closed (ErrImageClosed), if growing the
// size fails, or if ctx was cancelled while waiting (ErrInterrupted); the
// lock is not held in any of those cases. If the context is cancelled in the same instant the
// lock becomes available, acquisition wins — the caller must still Unlock.
func (s *State) TryLock(ctx context.Context, chunk uint64, want uint64, resize ResizeFunc) (ok bool, size uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, 0, ioerrors.ErrImageClosed
	}

	if want > s.size {
		if err := s.adjustSizeLocked(want, resize); err != nil {
			return false, 0, err
		}
	}

	e, exists := s.entries[chunk]
	if !exists {
		s.entries[chunk] = &entry{busy: true, cond: sync.NewCond(&s.mu)}
		return true, s.size, nil
	}

	e.waiters++
	defer func() { e.waiters-- }()

	stop := s.watchContext(ctx, e.cond)
	defer stop()

	for e.busy && ctx.Err() == nil {
		e.cond.Wait()
	}

	if e.busy {
		return false, 0, ioerrors.ErrInterrupted
	}
	e.busy = true
	return true, s.size, nil
}

func (s *State) watchContext(ctx context.Context, cond *sync.Cond) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			cond.Broadcast()
			s.mu.Unlock()
		case <-done:
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// Unlock releases chunk. If waiters remain, it clears busy and wakes one;
// the woken waiter re-checks and claims the lock. If no waiters remain, the
// entry is removed entirely, matching _chunk_unlock.
func (s *State) Unlock(chunk uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unlockLocked(chunk)
}

func (s *State) unlockLocked(chunk uint64) {
	e, ok := s.entries[chunk]
	if !ok {
		return
	}
	if e.waiters > 0 {
		e.busy = false
		e.cond.Signal()
	} else {
		delete(s.entries, chunk)
	}
}

// Locked reports whether chunk currently has a table entry.
func (s *State) Locked(chunk uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[chunk]
	return ok
}

// GetSize returns the current image size and the size change-cookie.
func (s *State) GetSize() (size uint64, cookie uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size, s.sizePoll.Cookie()
}

// adjustSizeLocked grows the image to newSize. State mutex must be held.
func (s *State) adjustSizeLocked(newSize uint64, resize ResizeFunc) error {
	if err := resize(newSize); err != nil {
		return err
	}
	s.size = newSize
	s.sizePoll.Change()
	return nil
}

// SetSize implements the public set_size protocol from section 4.6: expand
// directly when growing; no-op when unchanged; for truncation, perform
// partial-chunk pre-copy and busy-chunk backoff, each via a tail-recursive
// restart, guaranteeing forward progress.
func (s *State) SetSize(ctx context.Context, newSize uint64, isModified func(chunk uint64) bool, copyToModified CopyToModifiedFunc, resize ResizeFunc) error {
	for {
		s.mu.Lock()
		current := s.size

		if newSize > current {
			err := s.adjustSizeLocked(newSize, resize)
			s.mu.Unlock()
			return err
		}
		if newSize == current {
			s.mu.Unlock()
			return nil
		}

		// Truncation. newSize < current.
		lastChunkOfNew := uint64(0)
		if newSize > 0 {
			lastChunkOfNew = (newSize - 1) / s.chunkSize
		}

		needsPreCopy := newSize%s.chunkSize != 0 && newSize < s.initialSize && !isModified(lastChunkOfNew)
		if needsPreCopy {
			s.mu.Unlock()
			if err := copyToModified(ctx, lastChunkOfNew); err != nil {
				return err
			}
			// Image size may have changed while the chunk lock was
			// held elsewhere; restart.
			continue
		}

		// Busy-chunk backoff: walk down from the current last chunk,
		// looking for any chunk with a lock-table entry.
		chunk := uint64(0)
		if current > 0 {
			chunk = (current - 1) / s.chunkSize
		}
		restarted := false
		for {
			if _, busy := s.entries[chunk]; busy {
				newBoundary := (chunk + 1) * s.chunkSize
				if newBoundary < s.size {
					if err := s.adjustSizeLocked(newBoundary, resize); err != nil {
						s.mu.Unlock()
						return err
					}
				}
				s.mu.Unlock()
				// Wait for the chunk to become free, then restart.
				ok, _, err := s.TryLock(ctx, chunk, 0, resize)
				if err != nil {
					return err
				}
				if ok {
					s.Unlock(chunk)
				}
				restarted = true
				break
			}
			if !(chunk > 0 && chunk-1 >= newSize/s.chunkSize) {
				break
			}
			chunk--
		}
		if restarted {
			continue
		}

		if err := s.adjustSizeLocked(newSize, resize); err != nil {
			s.mu.Unlock()
			return err
		}
		s.mu.Unlock()
		return nil
	}
}

// AddSizePollHandle arms h against the image size pollable. If the image is
// already closed, it fires unconditionally, matching
// _vmnetfs_io_image_size_add_poll_handle.
func (s *State) AddSizePollHandle(h *pollable.Handle, seenCookie uint64) (changed bool) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		s.sizePoll.Add(h, true)
		return true
	}
	return s.sizePoll.AddConditional(h, seenCookie)
}

// Close transitions the closed flag once and bumps the size pollable so
// every current and future subscriber is notified, matching
// _vmnetfs_io_close.
func (s *State) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.sizePoll.Close()
}

// Closed reports whether Close has been called.
func (s *State) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
