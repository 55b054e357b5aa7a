package fsbridge

import (
	"context"
	"fmt"
	"os"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"

	"github.com/rdimagefs/rdimagefs/pkg/image"
	"github.com/rdimagefs/rdimagefs/pkg/pollable"
)

// pollIn is POSIX poll(2)'s POLLIN bit, the revents value a stats/
// pseudo-file reports once its change-cookie has advanced past the value
// seen at open time.
const pollIn uint32 = 0x0001

// statsDir holds one subdirectory per image, each populated with the
// read-only counter pseudo-files fuse-stats.c exposes.
type statsDir struct {
	bridge *Bridge
}

var _ fs.Node = (*statsDir)(nil)
var _ fs.NodeStringLookuper = (*statsDir)(nil)
var _ fs.HandleReadDirAller = (*statsDir)(nil)

func (d *statsDir) Attr(ctx context.Context, a *fuse.Attr) error {
	a.Mode = os.ModeDir | 0o555
	return nil
}

func (d *statsDir) Lookup(ctx context.Context, name string) (fs.Node, error) {
	if img, ok := d.bridge.images[name]; ok {
		return &imageStatsDir{img: img}, nil
	}
	return nil, fuse.ENOENT
}

func (d *statsDir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	entries := make([]fuse.Dirent, 0, len(d.bridge.images))
	for name := range d.bridge.images {
		entries = append(entries, fuse.Dirent{Name: name, Type: fuse.DT_Dir})
	}
	return entries, nil
}

// statField names the counter pseudo-files under one image's stats/<id>/
// directory, in the order fuse-stats.c's _vmnetfs_fuse_stats_populate adds
// them.
var statFields = []string{
	"bytes_read",
	"bytes_written",
	"chunk_fetch_skips",
	"chunk_fetches",
	"chunk_dirties",
	"io_errors",
	"chunk_size",
	"chunks",
}

type imageStatsDir struct {
	img *image.Image
}

var _ fs.Node = (*imageStatsDir)(nil)
var _ fs.NodeStringLookuper = (*imageStatsDir)(nil)
var _ fs.HandleReadDirAller = (*imageStatsDir)(nil)

func (d *imageStatsDir) Attr(ctx context.Context, a *fuse.Attr) error {
	a.Mode = os.ModeDir | 0o555
	return nil
}

func (d *imageStatsDir) Lookup(ctx context.Context, name string) (fs.Node, error) {
	for _, f := range statFields {
		if f == name {
			return &statFile{img: d.img, field: name}, nil
		}
	}
	return nil, fuse.ENOENT
}

func (d *imageStatsDir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	entries := make([]fuse.Dirent, 0, len(statFields))
	for _, f := range statFields {
		entries = append(entries, fuse.Dirent{Name: f, Type: fuse.DT_File})
	}
	return entries, nil
}

// statFile is a read-only pseudo-file reporting one counter as a decimal
// string followed by a newline, formatted fresh on every read so pollers
// always see the current value — mirroring format_u64 in fuse-stats.c.
type statFile struct {
	img   *image.Image
	field string
}

var _ fs.Node = (*statFile)(nil)
var _ fs.NodeOpener = (*statFile)(nil)

// statPollSource abstracts over an image.Counter and the image's size
// pollable, so one statHandle implementation serves every pollable
// stats/ field.
type statPollSource interface {
	Cookie() uint64
	AddPollHandle(h *pollable.Handle, seenCookie uint64) (changed bool)
}

// imageSizeSource adapts Image's size pollable to statPollSource, backing
// the "chunks" field — mirroring fuse-stats.c's chunks_ops, whose .poll is
// image_size_poll rather than a counter's own poll.
type imageSizeSource struct {
	img *image.Image
}

func (s imageSizeSource) Cookie() uint64 {
	_, cookie := s.img.GetSize()
	return cookie
}

func (s imageSizeSource) AddPollHandle(h *pollable.Handle, seenCookie uint64) (changed bool) {
	return s.img.AddSizePollHandle(h, seenCookie)
}

// pollSource returns the change-cookie source backing f's field, or nil for
// chunk_size, which is fixed for the life of the image and so has no .poll
// entry in fuse-stats.c's u32_fixed_ops.
func (f *statFile) pollSource() statPollSource {
	switch f.field {
	case "chunk_size":
		return nil
	case "chunks":
		return imageSizeSource{f.img}
	default:
		return f.img.Counter(f.field)
	}
}

// Open snapshots the field's current change-cookie (when pollable) into a
// per-open handle, mirroring u64_stat_open/chunks_open's fh->change_cookie.
func (f *statFile) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fs.Handle, error) {
	src := f.pollSource()
	if src == nil {
		return &plainStatHandle{file: f}, nil
	}
	return &statHandle{file: f, seenCookie: src.Cookie()}, nil
}

func (f *statFile) value() uint64 {
	stats := f.img.Stats()
	switch f.field {
	case "bytes_read":
		return stats.BytesRead.Load()
	case "bytes_written":
		return stats.BytesWritten.Load()
	case "chunk_fetch_skips":
		return stats.ChunkFetchSkip.Load()
	case "chunk_fetches":
		return stats.ChunkFetches.Load()
	case "chunk_dirties":
		return stats.ChunkDirties.Load()
	case "io_errors":
		return stats.IOErrors.Load()
	case "chunk_size":
		return f.img.ChunkSize()
	case "chunks":
		size, _ := f.img.GetSize()
		chunkSize := f.img.ChunkSize()
		return (size + chunkSize - 1) / chunkSize
	default:
		return 0
	}
}

func (f *statFile) Attr(ctx context.Context, a *fuse.Attr) error {
	a.Mode = 0o444
	a.Size = uint64(len(f.render()))
	return nil
}

func (f *statFile) render() []byte {
	return []byte(fmt.Sprintf("%d\n", f.value()))
}

// readRendered serves a read against a fully-rendered byte buffer, clipping
// to [req.Offset, req.Offset+req.Size).
func readRendered(data []byte, req *fuse.ReadRequest, resp *fuse.ReadResponse) {
	if req.Offset >= int64(len(data)) {
		resp.Data = nil
		return
	}
	end := req.Offset + int64(req.Size)
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	resp.Data = data[req.Offset:end]
}

// plainStatHandle serves fields with no poll support (chunk_size).
type plainStatHandle struct {
	file *statFile
}

var _ fs.Handle = (*plainStatHandle)(nil)
var _ fs.HandleReader = (*plainStatHandle)(nil)

func (h *plainStatHandle) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	readRendered(h.file.render(), req, resp)
	return nil
}

// statHandle is the per-open handle for a pollable stats/ pseudo-file,
// capturing the change-cookie seen at open time so Poll can tell whether
// the value has moved since — mirroring vmnetfs_fuse_fh.change_cookie.
type statHandle struct {
	file       *statFile
	seenCookie uint64
}

var _ fs.Handle = (*statHandle)(nil)
var _ fs.HandleReader = (*statHandle)(nil)
var _ fs.HandlePoller = (*statHandle)(nil)

func (h *statHandle) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	readRendered(h.file.render(), req, resp)
	return nil
}

// Poll reports whether the field has changed since this handle was
// opened, arming a fresh handle against the pollable otherwise — mirroring
// stat_poll and image_size_poll.
func (h *statHandle) Poll(ctx context.Context, req *fuse.PollRequest, resp *fuse.PollResponse) error {
	src := h.file.pollSource()
	if src == nil {
		return nil
	}
	if src.AddPollHandle(pollable.NewHandle(), h.seenCookie) {
		resp.REvents = pollIn
	}
	return nil
}
