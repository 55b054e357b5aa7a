package image

import (
	"context"
	"errors"

	"github.com/rdimagefs/rdimagefs/internal/logger"
	"github.com/rdimagefs/rdimagefs/pkg/ioerrors"
	"github.com/rdimagefs/rdimagefs/pkg/transport"
)

// streamer sequentially prefetches a contiguous tail of missing chunks in
// the background, releasing each chunk's lock as soon as it is filled —
// the Go translation of vmnetfs's stream_state/do_stream/stream_thread.
type streamer struct {
	img        *Image
	startChunk uint64
	chunks     uint64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// startStreamer locks the contiguous run of chunks from the first missing
// one through the end of the image, then launches the background fetch —
// mirroring stream_start, which "must run before FUSE starts serving
// requests" (translated here into: call before handing the Image to the
// filesystem bridge).
func (img *Image) startStreamer() error {
	chunkSize := img.cfg.ChunkSize
	chunks := chunkCount(img.cfg.InitialSize, chunkSize)
	if chunks == 0 {
		return nil
	}

	// If we already have the last chunk, no streaming is needed.
	if img.bitmaps.Present.Test(chunks - 1) {
		return nil
	}

	startChunk, found := img.bitmaps.Present.FirstUnset(chunks)
	if !found {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	var locked uint64
	for chunk := startChunk; chunk < chunks; chunk++ {
		ok, _, err := img.lock.TryLock(ctx, chunk, 0, img.resizeStorage)
		if err != nil || !ok {
			for c := chunk; c > startChunk; c-- {
				img.lock.Unlock(c - 1)
			}
			cancel()
			if err != nil {
				return err
			}
			return ioerrors.ErrInterrupted
		}
		locked++
	}

	s := &streamer{
		img:        img,
		startChunk: startChunk,
		chunks:     chunks,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	img.streamer = s
	go s.run()
	return nil
}

// stop requests the streamer to abandon the fetch as soon as possible, by
// cancelling the context the underlying transport call is watching —
// mirroring stream_stop's atomic stop flag.
func (s *streamer) stop() {
	if s == nil {
		return
	}
	s.cancel()
}

// join waits for the streamer goroutine to exit, mirroring
// _vmnetfs_io_destroy's g_thread_join.
func (s *streamer) join() {
	if s == nil {
		return
	}
	<-s.done
}

// run performs the actual prefetch: a single streaming fetch covering the
// chunk range, demultiplexed into per-chunk writes to the pristine store,
// unlocking each chunk the instant its bytes are fully received —
// mirroring do_stream/stream_callback.
func (s *streamer) run() {
	defer close(s.done)

	img := s.img
	chunkSize := img.cfg.ChunkSize
	offset := s.startChunk * chunkSize

	cur := &streamCursor{
		chunk:     s.startChunk,
		chunkSize: chunkSize,
		lastChunk: s.chunks - 1,
		lastSize:  lastChunkSize(img.cfg.InitialSize, chunkSize),
		buf:       make([]byte, chunkSize),
		img:       img,
		released:  s.startChunk,
	}

	err := img.transport.FetchStream(s.ctx, transport.StreamRequest{
		URL:        img.cfg.URL,
		Auth:       img.cfg.Auth,
		Validators: img.cfg.Validators,
		Offset:     img.cfg.FetchOffset + offset,
		Length:     img.cfg.InitialSize - offset,
	}, cur.receive)

	// Release any chunks the cursor never released itself, regardless of
	// outcome. cur.released (not cur.chunk) tracks the boundary: the last
	// chunk may already be unlocked by receive when it lands exactly on a
	// chunk-size boundary, even though the cursor never advances past it.
	for chunk := cur.released; chunk < s.chunks; chunk++ {
		img.lock.Unlock(chunk)
	}

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ioerrors.ErrInterrupted) {
		logger.Warn("image: streaming failed", logger.ImageID(img.cfg.ID), logger.Err(err))
	}
}

func lastChunkSize(initialSize, chunkSize uint64) uint64 {
	if rem := initialSize % chunkSize; rem != 0 {
		return rem
	}
	return chunkSize
}

// streamCursor demultiplexes the flat byte stream FetchStream delivers into
// per-chunk writes, advancing img.streamer's notion of "chunk" as it goes —
// the Go translation of struct vmnetfs_cursor plus stream_callback's loop.
type streamCursor struct {
	chunk     uint64
	off       uint64
	chunkSize uint64
	lastChunk uint64
	lastSize  uint64
	buf       []byte
	img       *Image

	// released is the chunk index one past the highest chunk whose lock
	// receive has already unlocked, so run's cleanup loop never unlocks a
	// chunk a second time.
	released uint64
}

func (c *streamCursor) sizeOfCurrentChunk() uint64 {
	if c.chunk == c.lastChunk {
		return c.lastSize
	}
	return c.chunkSize
}

func (c *streamCursor) receive(data []byte) error {
	for len(data) > 0 {
		want := c.sizeOfCurrentChunk() - c.off
		n := uint64(len(data))
		if n > want {
			n = want
		}
		copy(c.buf[c.off:c.off+n], data[:n])
		c.off += n
		data = data[n:]

		if c.off == c.sizeOfCurrentChunk() {
			if err := c.img.pristine.Write(c.chunk, c.buf[:c.off]); err != nil {
				return err
			}
			c.img.bitmaps.Present.Set(c.chunk)
			if c.off == c.chunkSize {
				// Advancing to the next full chunk: release this one now.
				c.img.lock.Unlock(c.chunk)
				c.released = c.chunk + 1
			}
			if c.chunk < c.lastChunk {
				c.chunk++
				c.off = 0
			}
			// The final chunk's lock (when it is a short partial chunk)
			// is released by the caller once the stream completes, not
			// here, so c.chunk is left pointing at it and c.released
			// left short of it.
		}
	}
	return nil
}
