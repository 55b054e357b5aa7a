// Package image implements the core chunk I/O engine described in section
// 4: one Image per remote origin, presenting a two-tier pristine/modified
// cache behind a per-chunk lock table and an authoritative, pollable size.
//
// This is the direct Go translation of vmnetfs's image-level functions in
// _examples/original_source/vmnetfs/io.c (read_chunk_unlocked,
// _vmnetfs_io_read_chunk, copy_to_modified, lock_and_copy_to_modified,
// _vmnetfs_io_write_chunk) — the chunk-lock/size-controller split is handled
// by pkg/chunklock, which Image drives via the ResizeFunc/CopyToModifiedFunc
// callbacks.
package image

import (
	"context"
	"fmt"
	"time"

	"github.com/rdimagefs/rdimagefs/internal/logger"
	"github.com/rdimagefs/rdimagefs/internal/telemetry"
	"github.com/rdimagefs/rdimagefs/pkg/bitmap"
	"github.com/rdimagefs/rdimagefs/pkg/chunklock"
	"github.com/rdimagefs/rdimagefs/pkg/ioerrors"
	"github.com/rdimagefs/rdimagefs/pkg/metrics"
	"github.com/rdimagefs/rdimagefs/pkg/originstore/modified"
	"github.com/rdimagefs/rdimagefs/pkg/originstore/pristine"
	"github.com/rdimagefs/rdimagefs/pkg/pollable"
	"github.com/rdimagefs/rdimagefs/pkg/transport"
)

// FetchMode selects whether an Image prefetches sequentially at open time
// (FetchModeStream) or only fetches chunks on demand (FetchModeDemand).
type FetchMode int

const (
	FetchModeDemand FetchMode = iota
	FetchModeStream
)

// Config describes one origin to open as an Image.
type Config struct {
	ID          string
	URL         string
	Auth        transport.Auth
	Validators  transport.Validators
	FetchOffset uint64
	ChunkSize   uint64
	InitialSize uint64
	FetchMode   FetchMode
	CacheDir    string

	// Metrics is the collector instrumented operations report to. May be
	// nil, in which case instrumentation is a no-op.
	Metrics metrics.ImageMetrics
}

// Stats holds the pollable counters exposed as the fsbridge stats/
// pseudo-files.
type Stats struct {
	BytesRead      Counter
	BytesWritten   Counter
	ChunkFetches   Counter
	ChunkFetchSkip Counter
	ChunkDirties   Counter
	IOErrors       Counter
}

func (s *Stats) init() {
	s.BytesRead.init()
	s.BytesWritten.init()
	s.ChunkFetches.init()
	s.ChunkFetchSkip.init()
	s.ChunkDirties.init()
	s.IOErrors.init()
}

// Image is one remote origin exposed as a locally mutable chunked file.
type Image struct {
	cfg Config

	transport transport.Transport
	bitmaps   *bitmap.Set3
	lock      *chunklock.State
	pristine  *pristine.Store
	modified  *modified.Store

	stats Stats

	streamer *streamer
}

func chunkCount(size, chunkSize uint64) uint64 {
	return (size + chunkSize - 1) / chunkSize
}

// Open creates or reattaches to an Image's on-disk state and, for
// FetchModeStream, starts the background streamer before returning —
// mirroring _vmnetfs_io_init followed by _vmnetfs_io_open, which the base
// spec requires to complete before the filesystem starts serving requests.
func Open(ctx context.Context, cfg Config, tr transport.Transport) (*Image, error) {
	ctx, span := telemetry.StartImageSpan(ctx, telemetry.SpanImageOpen, cfg.ID, telemetry.ImageURL(cfg.URL), telemetry.ImageSize(cfg.InitialSize))
	defer span.End()

	if cfg.ChunkSize == 0 {
		return nil, fmt.Errorf("image %s: chunk size must be > 0", cfg.ID)
	}

	ps, err := pristine.Open(cfg.CacheDir+"/pristine", cfg.ChunkSize)
	if err != nil {
		return nil, fmt.Errorf("open image %s: %w", cfg.ID, err)
	}
	ms, err := modified.Open(cfg.CacheDir+"/modified", cfg.InitialSize)
	if err != nil {
		ps.Close()
		return nil, fmt.Errorf("open image %s: %w", cfg.ID, err)
	}

	chunks := chunkCount(cfg.InitialSize, cfg.ChunkSize)
	bm := bitmap.NewSet3(chunks, false)

	// Reseed the present bitmap from the pristine store's persistent index
	// so a process restart doesn't redundantly refetch everything.
	for c := uint64(0); c < chunks; c++ {
		present, err := ps.Present(c)
		if err != nil {
			ps.Close()
			ms.Close()
			return nil, fmt.Errorf("open image %s: reseed presence: %w", cfg.ID, err)
		}
		if present {
			bm.Present.Set(c)
		}
	}

	img := &Image{
		cfg:       cfg,
		transport: tr,
		bitmaps:   bm,
		lock:      chunklock.New(cfg.InitialSize, cfg.ChunkSize),
		pristine:  ps,
		modified:  ms,
	}
	img.stats.init()

	metrics.RecordImageSize(cfg.Metrics, cfg.ID, int64(cfg.InitialSize))

	if cfg.FetchMode == FetchModeStream {
		if err := img.startStreamer(); err != nil {
			logger.Warn("image: couldn't start streamer", logger.ImageID(cfg.ID), logger.Err(err))
		}
	}

	return img, nil
}

// ID returns the image's configured identifier.
func (img *Image) ID() string {
	return img.cfg.ID
}

// ChunkSize returns the image's fixed chunk size in bytes.
func (img *Image) ChunkSize() uint64 {
	return img.cfg.ChunkSize
}

// Close stops the streamer (if running) and marks the size controller
// closed, so blocked size-poll waiters wake immediately — mirroring
// _vmnetfs_io_close. It does not release storage; call Destroy for that.
func (img *Image) Close() {
	if img.streamer != nil {
		img.streamer.stop()
	}
	img.bitmaps.Close()
	img.lock.Close()
}

// Destroy joins the streamer and releases all storage, mirroring
// _vmnetfs_io_destroy. Call after Close once no further requests are
// in flight.
func (img *Image) Destroy() error {
	if img.streamer != nil {
		img.streamer.stop()
		img.streamer.join()
	}
	modErr := img.modified.Close()
	prisErr := img.pristine.Close()
	if modErr != nil {
		return modErr
	}
	return prisErr
}

// resizeStorage is the chunklock.ResizeFunc: it performs the modified-store
// truncation and bitmap resize that must happen atomically with the size
// change, under the chunklock mutex — mirroring _set_image_size. It must
// never call back into the chunklock.State (e.g. GetSize) since it runs
// with the state mutex already held; modified.Store.SetSize's "current"
// parameter is unused by the underlying os.File.Truncate, so it is not
// needed here either.
func (img *Image) resizeStorage(newSize uint64) error {
	if err := img.modified.SetSize(0, newSize); err != nil {
		return err
	}
	img.bitmaps.Resize(chunkCount(newSize, img.cfg.ChunkSize))
	return nil
}

func (img *Image) fetchData(ctx context.Context, start, count uint64) ([]byte, error) {
	ctx, span := telemetry.StartTransportSpan(ctx, "origin", telemetry.ImageID(img.cfg.ID), telemetry.IOOffset(start), telemetry.IOLength(int(count)))
	defer span.End()

	data, err := img.transport.Fetch(ctx, transport.FetchRequest{
		URL:        img.cfg.URL,
		Auth:       img.cfg.Auth,
		Validators: img.cfg.Validators,
		Offset:     img.cfg.FetchOffset + start,
		Length:     count,
	})
	if err != nil {
		telemetry.RecordError(ctx, err)
	}
	return data, err
}

// readChunkUnlocked performs the actual read once the caller holds the
// chunk's lock, mirroring read_chunk_unlocked: clip to imageSize, record
// access, and serve from the modified overlay or the pristine cache
// (fetching from the origin on a cold miss).
func (img *Image) readChunkUnlocked(ctx context.Context, imageSize, chunk uint64, offset uint64, length uint32) ([]byte, error) {
	chunkSize := img.cfg.ChunkSize
	if chunk*chunkSize+offset >= imageSize {
		return nil, ioerrors.ErrEOF
	}
	if remaining := imageSize - chunk*chunkSize - offset; uint64(length) > remaining {
		length = uint32(remaining)
	}

	img.bitmaps.Accessed.Set(chunk)

	if img.bitmaps.Modified.Test(chunk) {
		return img.modified.Read(imageSize, chunk, offset, length, chunkSize)
	}

	if !img.bitmaps.Present.Test(chunk) {
		start := chunk * chunkSize
		count := chunkSize
		if remaining := img.cfg.InitialSize - start; remaining < count {
			count = remaining
		}

		img.stats.ChunkFetches.Add(1)
		metrics.RecordChunkFetch(img.cfg.Metrics, img.cfg.ID, img.cfg.FetchMode == FetchModeStream)
		buf, err := img.fetchData(ctx, start, count)
		if err != nil {
			img.stats.IOErrors.Add(1)
			metrics.RecordIOError(img.cfg.Metrics, img.cfg.ID, "fetch")
			return nil, fmt.Errorf("fetch chunk %d: %w", chunk, err)
		}
		if err := img.pristine.Write(chunk, buf); err != nil {
			img.stats.IOErrors.Add(1)
			metrics.RecordIOError(img.cfg.Metrics, img.cfg.ID, "pristine_write")
			return nil, err
		}
		img.bitmaps.Present.Set(chunk)
	} else {
		img.stats.ChunkFetchSkip.Add(1)
		metrics.RecordChunkFetchSkip(img.cfg.Metrics, img.cfg.ID)
	}

	return img.pristine.Read(chunk, offset, length)
}

// ReadChunk reads up to length bytes at (chunk, offset), returning the
// bytes actually available (clipped to the image size) — mirroring
// _vmnetfs_io_read_chunk.
func (img *Image) ReadChunk(ctx context.Context, chunk uint64, offset uint64, length uint32) ([]byte, error) {
	ctx, span := telemetry.StartChunkSpan(ctx, telemetry.SpanImageReadChunk, img.cfg.ID, chunk, telemetry.ChunkOffset(offset), telemetry.IOLength(int(length)))
	defer span.End()

	start := time.Now()
	ok, imageSize, err := img.lock.TryLock(ctx, chunk, 0, img.resizeStorage)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	if !ok {
		return nil, ioerrors.ErrInterrupted
	}
	defer img.lock.Unlock(chunk)

	data, err := img.readChunkUnlocked(ctx, imageSize, chunk, offset, length)
	if err != nil {
		metrics.RecordIOError(img.cfg.Metrics, img.cfg.ID, "read")
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	img.stats.BytesRead.Add(uint64(len(data)))
	metrics.ObserveRead(img.cfg.Metrics, img.cfg.ID, int64(len(data)), time.Since(start))
	return data, nil
}

// copyToModified copies chunk's current content into the modified overlay,
// establishing it as diverged from the pristine cache — mirroring
// copy_to_modified. The caller must already hold chunk's lock.
func (img *Image) copyToModified(ctx context.Context, imageSize, chunk uint64) error {
	chunkSize := img.cfg.ChunkSize
	count := chunkSize
	if remaining := img.cfg.InitialSize - chunk*chunkSize; remaining < count {
		count = remaining
	}

	img.stats.ChunkDirties.Add(1)
	metrics.RecordChunkDirty(img.cfg.Metrics, img.cfg.ID)
	data, err := img.readChunkUnlocked(ctx, imageSize, chunk, 0, uint32(count))
	if err != nil {
		return err
	}
	if uint64(len(data)) != count {
		return fmt.Errorf("copy to modified chunk %d: %w", chunk, ioerrors.ErrPrematureEOF)
	}
	if err := img.modified.Write(imageSize, chunk, 0, data, chunkSize); err != nil {
		return err
	}
	img.bitmaps.Modified.Set(chunk)
	return nil
}

// copyToModifiedLocked is the chunklock.CopyToModifiedFunc used by SetSize's
// partial-chunk pre-copy path: it locks the chunk itself (SetSize has
// already released the state mutex before calling this), re-checks that the
// chunk is still unmodified and still within the image bounds, and copies it
// if so — mirroring lock_and_copy_to_modified.
func (img *Image) copyToModifiedLocked(ctx context.Context, chunk uint64) error {
	ok, imageSize, err := img.lock.TryLock(ctx, chunk, 0, img.resizeStorage)
	if err != nil {
		return err
	}
	if !ok {
		return ioerrors.ErrInterrupted
	}
	defer img.lock.Unlock(chunk)

	if chunk*img.cfg.ChunkSize < imageSize && !img.bitmaps.Modified.Test(chunk) {
		return img.copyToModified(ctx, imageSize, chunk)
	}
	return nil
}

// WriteChunk writes length bytes of data at (chunk, offset), expanding the
// image if the write extends past the current size, and copying the chunk
// into the modified overlay on its first write — mirroring
// _vmnetfs_io_write_chunk.
func (img *Image) WriteChunk(ctx context.Context, chunk uint64, offset uint64, data []byte) (int, error) {
	ctx, span := telemetry.StartChunkSpan(ctx, telemetry.SpanImageWriteChunk, img.cfg.ID, chunk, telemetry.ChunkOffset(offset), telemetry.IOLength(len(data)))
	defer span.End()

	start := time.Now()
	chunkSize := img.cfg.ChunkSize
	needed := chunk*chunkSize + offset + uint64(len(data))

	ok, imageSize, err := img.lock.TryLock(ctx, chunk, needed, img.resizeStorage)
	if err != nil {
		img.stats.IOErrors.Add(1)
		metrics.RecordIOError(img.cfg.Metrics, img.cfg.ID, "write")
		telemetry.RecordError(ctx, err)
		return 0, err
	}
	if !ok {
		return 0, ioerrors.ErrInterrupted
	}
	defer img.lock.Unlock(chunk)

	img.bitmaps.Accessed.Set(chunk)

	if !img.bitmaps.Modified.Test(chunk) {
		if err := img.copyToModified(ctx, imageSize, chunk); err != nil {
			img.stats.IOErrors.Add(1)
			metrics.RecordIOError(img.cfg.Metrics, img.cfg.ID, "copy_to_modified")
			telemetry.RecordError(ctx, err)
			return 0, err
		}
	}

	if err := img.modified.Write(imageSize, chunk, offset, data, chunkSize); err != nil {
		img.stats.IOErrors.Add(1)
		metrics.RecordIOError(img.cfg.Metrics, img.cfg.ID, "modified_write")
		telemetry.RecordError(ctx, err)
		return 0, err
	}
	img.stats.BytesWritten.Add(uint64(len(data)))
	metrics.ObserveWrite(img.cfg.Metrics, img.cfg.ID, int64(len(data)), time.Since(start))
	return len(data), nil
}

// GetSize returns the current image size and its size change-cookie,
// mirroring _vmnetfs_io_get_image_size.
func (img *Image) GetSize() (size uint64, cookie uint64) {
	return img.lock.GetSize()
}

// SetSize implements the truncate/expand protocol from section 4.6,
// delegating the locking and restart logic to chunklock.State.SetSize and
// supplying the storage-level callbacks.
func (img *Image) SetSize(ctx context.Context, newSize uint64) error {
	isModified := func(chunk uint64) bool { return img.bitmaps.Modified.Test(chunk) }
	copyFn := func(ctx context.Context, chunk uint64) error {
		return img.copyToModifiedLocked(ctx, chunk)
	}
	if err := img.lock.SetSize(ctx, newSize, isModified, copyFn, img.resizeStorage); err != nil {
		return err
	}
	metrics.RecordImageSize(img.cfg.Metrics, img.cfg.ID, int64(newSize))
	return nil
}

// Stats returns a detached snapshot of the image's I/O counters: the raw
// values only, not live pollables.
func (img *Image) Stats() Stats {
	var s Stats
	s.BytesRead.store(img.stats.BytesRead.Load())
	s.BytesWritten.store(img.stats.BytesWritten.Load())
	s.ChunkFetches.store(img.stats.ChunkFetches.Load())
	s.ChunkFetchSkip.store(img.stats.ChunkFetchSkip.Load())
	s.ChunkDirties.store(img.stats.ChunkDirties.Load())
	s.IOErrors.store(img.stats.IOErrors.Load())
	return s
}

// Counter returns the live counter backing one of the stats/ pseudo-files
// ("bytes_read", "bytes_written", "chunk_fetches", "chunk_fetch_skips",
// "chunk_dirties", "io_errors"), or nil for an unrecognized name. Used by
// fsbridge to wire each counter's own change-cookie into FUSE poll.
func (img *Image) Counter(field string) *Counter {
	switch field {
	case "bytes_read":
		return &img.stats.BytesRead
	case "bytes_written":
		return &img.stats.BytesWritten
	case "chunk_fetches":
		return &img.stats.ChunkFetches
	case "chunk_fetch_skips":
		return &img.stats.ChunkFetchSkip
	case "chunk_dirties":
		return &img.stats.ChunkDirties
	case "io_errors":
		return &img.stats.IOErrors
	default:
		return nil
	}
}

// AddSizePollHandle arms h against the image's size pollable, mirroring
// _vmnetfs_io_image_size_add_poll_handle.
func (img *Image) AddSizePollHandle(h *pollable.Handle, seenCookie uint64) (changed bool) {
	return img.lock.AddSizePollHandle(h, seenCookie)
}
