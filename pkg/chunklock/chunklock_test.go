package chunklock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rdimagefs/rdimagefs/pkg/pollable"
)

func noopResize(newSize uint64) error { return nil }

func TestTryLockUnlockBasic(t *testing.T) {
	s := New(16384, 4096)
	ok, size, err := s.TryLock(context.Background(), 0, 0, noopResize)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(16384), size)
	assert.True(t, s.Locked(0))
	s.Unlock(0)
	assert.False(t, s.Locked(0))
}

func TestTryLockSerializesSameChunk(t *testing.T) {
	s := New(16384, 4096)
	ok, _, err := s.TryLock(context.Background(), 2, 0, noopResize)
	require.NoError(t, err)
	require.True(t, ok)

	acquired := make(chan struct{})
	go func() {
		ok, _, err := s.TryLock(context.Background(), 2, 0, noopResize)
		require.NoError(t, err)
		require.True(t, ok)
		close(acquired)
		s.Unlock(2)
	}()

	select {
	case <-acquired:
		t.Fatal("second TryLock acquired before first Unlock")
	case <-time.After(20 * time.Millisecond):
	}

	s.Unlock(2)

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the lock")
	}
}

func TestTryLockDifferentChunksConcurrent(t *testing.T) {
	s := New(16384, 4096)
	var wg sync.WaitGroup
	for i := uint64(0); i < 4; i++ {
		wg.Add(1)
		go func(chunk uint64) {
			defer wg.Done()
			ok, _, err := s.TryLock(context.Background(), chunk, 0, noopResize)
			require.NoError(t, err)
			require.True(t, ok)
			time.Sleep(5 * time.Millisecond)
			s.Unlock(chunk)
		}(i)
	}
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("concurrent locks on distinct chunks deadlocked or serialized")
	}
}

func TestTryLockInterruptedByContextCancel(t *testing.T) {
	s := New(16384, 4096)
	ok, _, err := s.TryLock(context.Background(), 1, 0, noopResize)
	require.NoError(t, err)
	require.True(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	failed := make(chan error, 1)
	go func() {
		_, _, err := s.TryLock(ctx, 1, 0, noopResize)
		failed <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-failed:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("interrupted TryLock never returned")
	}

	s.Unlock(1)
}

func TestTryLockGrowsSizeWhenWantExceedsCurrent(t *testing.T) {
	s := New(100, 4096)
	var gotSize uint64
	resize := func(newSize uint64) error {
		gotSize = newSize
		return nil
	}
	ok, size, err := s.TryLock(context.Background(), 0, 5000, resize)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(5000), size)
	assert.Equal(t, uint64(5000), gotSize)
}

func TestGetSizeCookieAdvancesOnExpand(t *testing.T) {
	s := New(100, 4096)
	_, c0 := s.GetSize()
	err := s.SetSize(context.Background(), 5000, func(uint64) bool { return false }, nil, noopResize)
	require.NoError(t, err)
	size, c1 := s.GetSize()
	assert.Equal(t, uint64(5000), size)
	assert.Greater(t, c1, c0)
}

func TestSetSizeNoopWhenUnchanged(t *testing.T) {
	s := New(4096, 4096)
	_, c0 := s.GetSize()
	err := s.SetSize(context.Background(), 4096, func(uint64) bool { return false }, nil, noopResize)
	require.NoError(t, err)
	_, c1 := s.GetSize()
	assert.Equal(t, c0, c1)
}

func TestSetSizeTruncateAligned(t *testing.T) {
	s := New(8192, 4096)
	err := s.SetSize(context.Background(), 4096, func(uint64) bool { return false }, nil, noopResize)
	require.NoError(t, err)
	size, _ := s.GetSize()
	assert.Equal(t, uint64(4096), size)
}

func TestSetSizePartialChunkPreCopy(t *testing.T) {
	// initial 24576 (6 chunks of 4096), truncate to 18000: falls inside
	// chunk 4 which is below initial_size and not yet modified -> pre-copy.
	s := New(24576, 4096)
	var copied []uint64
	copyFn := func(ctx context.Context, chunk uint64) error {
		copied = append(copied, chunk)
		return nil
	}
	modifiedAfterCopy := false
	isModified := func(chunk uint64) bool { return modifiedAfterCopy }
	wrappedCopy := func(ctx context.Context, chunk uint64) error {
		err := copyFn(ctx, chunk)
		modifiedAfterCopy = true
		return err
	}
	err := s.SetSize(context.Background(), 18000, isModified, wrappedCopy, noopResize)
	require.NoError(t, err)
	require.Len(t, copied, 1)
	assert.Equal(t, uint64(4), copied[0])
	size, _ := s.GetSize()
	assert.Equal(t, uint64(18000), size)
}

func TestSetSizeBusyChunkBackoff(t *testing.T) {
	s := New(16384, 4096) // 4 chunks, last index 3
	ok, _, err := s.TryLock(context.Background(), 3, 0, noopResize)
	require.NoError(t, err)
	require.True(t, ok)

	done := make(chan error, 1)
	go func() {
		done <- s.SetSize(context.Background(), 4096, func(uint64) bool { return false }, nil, noopResize)
	}()

	time.Sleep(20 * time.Millisecond)
	// SetSize should have backed off to just above chunk 3 (i.e. stayed at
	// 16384, since chunk 3 is the last chunk) and now be waiting on it.
	s.Unlock(3)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("SetSize never completed after busy chunk released")
	}
	size, _ := s.GetSize()
	assert.Equal(t, uint64(4096), size)
}

func TestCloseFiresSizePollUnconditionally(t *testing.T) {
	s := New(4096, 4096)
	assert.False(t, s.Closed())
	s.Close()
	assert.True(t, s.Closed())

	_, cookie := s.GetSize()
	h := pollable.NewHandle()
	assert.True(t, s.AddSizePollHandle(h, cookie))
	select {
	case <-h.Fired():
	default:
		t.Fatal("size poll handle did not fire after Close")
	}

	ok, _, err := s.TryLock(context.Background(), 0, 0, noopResize)
	assert.False(t, ok)
	assert.Error(t, err)
}
