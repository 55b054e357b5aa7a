package image

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rdimagefs/rdimagefs/pkg/ioerrors"
	"github.com/rdimagefs/rdimagefs/pkg/transport"
)

// fakeTransport serves a fixed origin byte slice in memory, for testing
// chunk demand-fetch and streaming without a real network origin.
type fakeTransport struct {
	mu   sync.Mutex
	data []byte

	fetchCalls  int
	streamCalls int
	failFetch   bool
}

func (f *fakeTransport) Fetch(ctx context.Context, req transport.FetchRequest) ([]byte, error) {
	f.mu.Lock()
	f.fetchCalls++
	f.mu.Unlock()
	if f.failFetch {
		return nil, ioerrors.ErrNetworkTransport
	}
	end := req.Offset + req.Length
	if end > uint64(len(f.data)) {
		end = uint64(len(f.data))
	}
	out := make([]byte, req.Length)
	copy(out, f.data[req.Offset:end])
	return out, nil
}

func (f *fakeTransport) FetchStream(ctx context.Context, req transport.StreamRequest, dataCB transport.DataFunc) error {
	f.mu.Lock()
	f.streamCalls++
	f.mu.Unlock()

	const piece = 3
	end := req.Offset + req.Length
	if end > uint64(len(f.data)) {
		end = uint64(len(f.data))
	}
	for off := req.Offset; off < end; off += piece {
		if err := ctx.Err(); err != nil {
			return err
		}
		stop := off + piece
		if stop > end {
			stop = end
		}
		if err := dataCB(f.data[off:stop]); err != nil {
			return err
		}
	}
	return nil
}

func newTestImage(t *testing.T, data []byte, chunkSize uint64, mode FetchMode) (*Image, *fakeTransport) {
	t.Helper()
	ft := &fakeTransport{data: data}
	cfg := Config{
		ID:          "test-image",
		URL:         "http://origin.example/disk.img",
		ChunkSize:   chunkSize,
		InitialSize: uint64(len(data)),
		FetchMode:   mode,
		CacheDir:    t.TempDir(),
	}
	img, err := Open(context.Background(), cfg, ft)
	require.NoError(t, err)
	t.Cleanup(func() {
		img.Close()
		img.Destroy()
	})
	return img, ft
}

func TestReadChunkColdFetchesThenCaches(t *testing.T) {
	data := make([]byte, 16)
	for i := range data {
		data[i] = byte(i)
	}
	img, ft := newTestImage(t, data, 8, FetchModeDemand)

	got, err := img.ReadChunk(context.Background(), 0, 2, 4)
	require.NoError(t, err)
	assert.Equal(t, data[2:6], got)
	assert.Equal(t, 1, ft.fetchCalls)

	got, err = img.ReadChunk(context.Background(), 0, 0, 8)
	require.NoError(t, err)
	assert.Equal(t, data[0:8], got)
	assert.Equal(t, 1, ft.fetchCalls, "second read of same chunk must not refetch")

	stats := img.Stats()
	assert.Equal(t, uint64(1), stats.ChunkFetches.Load())
	assert.Equal(t, uint64(1), stats.ChunkFetchSkip.Load())
}

func TestReadChunkPastEOF(t *testing.T) {
	data := make([]byte, 8)
	img, _ := newTestImage(t, data, 8, FetchModeDemand)

	_, err := img.ReadChunk(context.Background(), 0, 8, 4)
	require.Error(t, err)
	assert.ErrorIs(t, err, ioerrors.ErrEOF)
}

func TestWriteChunkCopyOnWriteThenReadsModified(t *testing.T) {
	data := []byte("abcdefgh")
	img, ft := newTestImage(t, data, 8, FetchModeDemand)

	n, err := img.WriteChunk(context.Background(), 0, 2, []byte("XY"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, ft.fetchCalls, "write must copy-on-write via a demand fetch")

	got, err := img.ReadChunk(context.Background(), 0, 0, 8)
	require.NoError(t, err)
	assert.Equal(t, []byte("abXYefgh"), got)
}

func TestWriteChunkExpandsImage(t *testing.T) {
	data := []byte("abcdefgh")
	img, _ := newTestImage(t, data, 8, FetchModeDemand)

	n, err := img.WriteChunk(context.Background(), 1, 0, []byte("next"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	size, _ := img.GetSize()
	assert.Equal(t, uint64(12), size)

	got, err := img.ReadChunk(context.Background(), 1, 0, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte("next"), got)
}

func TestSetSizeTruncateThenExpandReadsZero(t *testing.T) {
	data := []byte("abcdefghijklmnop") // 16 bytes, 2 chunks of 8
	img, _ := newTestImage(t, data, 8, FetchModeDemand)

	require.NoError(t, img.SetSize(context.Background(), 4))
	size, _ := img.GetSize()
	assert.Equal(t, uint64(4), size)

	require.NoError(t, img.SetSize(context.Background(), 16))
	size, _ = img.GetSize()
	assert.Equal(t, uint64(16), size)

	got, err := img.ReadChunk(context.Background(), 0, 4, 4)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 4), got, "bytes beyond the old truncation point must read as zero")
}

func TestStreamerFillsImageAndReleasesLocks(t *testing.T) {
	data := make([]byte, 32)
	for i := range data {
		data[i] = byte(i + 1)
	}
	img, ft := newTestImage(t, data, 8, FetchModeStream)

	require.NotNil(t, img.streamer)
	img.streamer.join()

	assert.Equal(t, 1, ft.streamCalls)
	for chunk := uint64(0); chunk < 4; chunk++ {
		assert.True(t, img.bitmaps.Present.Test(chunk))
		assert.False(t, img.lock.Locked(chunk))
	}

	got, err := img.ReadChunk(context.Background(), 2, 0, 8)
	require.NoError(t, err)
	assert.Equal(t, data[16:24], got)
	assert.Equal(t, 0, ft.fetchCalls, "chunks filled by the streamer must not trigger a demand fetch")
}

func TestStreamerSkippedWhenAlreadyComplete(t *testing.T) {
	data := make([]byte, 8)
	img, _ := newTestImage(t, data, 8, FetchModeDemand)
	_, err := img.ReadChunk(context.Background(), 0, 0, 8)
	require.NoError(t, err)

	require.NoError(t, img.startStreamer())
	assert.Nil(t, img.streamer, "streamer must not start when the last chunk is already present")
}

// TestStreamCursorReleasesLastFullChunkExactlyOnce guards against the case
// where the image's last chunk lands exactly on a chunk-size boundary:
// receive releases it inline, and run's cleanup loop must not unlock it a
// second time (a double unlock can hand the chunk to two concurrent
// acquirers once a fresh TryLock has re-created its table entry).
func TestStreamCursorReleasesLastFullChunkExactlyOnce(t *testing.T) {
	data := make([]byte, 16) // 2 chunks of 8; last chunk is full-size.
	img, _ := newTestImage(t, data, 8, FetchModeDemand)

	for c := uint64(0); c < 2; c++ {
		ok, _, err := img.lock.TryLock(context.Background(), c, 0, img.resizeStorage)
		require.NoError(t, err)
		require.True(t, ok)
	}

	cur := &streamCursor{
		chunk:     0,
		chunkSize: 8,
		lastChunk: 1,
		lastSize:  lastChunkSize(16, 8),
		buf:       make([]byte, 8),
		img:       img,
		released:  0,
	}
	require.NoError(t, cur.receive(data))
	assert.Equal(t, uint64(2), cur.released, "released must cover the full-size last chunk")

	// Mirror run's cleanup loop: it must find nothing left to release.
	for chunk := cur.released; chunk < 2; chunk++ {
		img.lock.Unlock(chunk)
	}

	// The last chunk must be cleanly acquirable, proving its table entry
	// wasn't corrupted by a second, spurious unlock.
	ok, _, err := img.lock.TryLock(context.Background(), 1, 0, img.resizeStorage)
	require.NoError(t, err)
	assert.True(t, ok)
}
