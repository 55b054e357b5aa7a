package fsbridge

import (
	"context"
	"errors"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"

	"github.com/rdimagefs/rdimagefs/pkg/image"
	"github.com/rdimagefs/rdimagefs/pkg/ioerrors"
)

// imageNode is a file node backed by one chunk engine Image. Reads and
// writes are split across chunk boundaries and dispatched to
// Image.ReadChunk/WriteChunk, which already serialize access per chunk.
type imageNode struct {
	img *image.Image
}

var _ fs.Node = (*imageNode)(nil)
var _ fs.HandleReader = (*imageNode)(nil)
var _ fs.HandleWriter = (*imageNode)(nil)
var _ fs.NodeSetattrer = (*imageNode)(nil)

func (n *imageNode) Attr(ctx context.Context, a *fuse.Attr) error {
	size, _ := n.img.GetSize()
	a.Mode = 0o644
	a.Size = size
	return nil
}

func (n *imageNode) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	data, err := readSpan(ctx, n.img, uint64(req.Offset), req.Size)
	if err != nil {
		return toErrno(err)
	}
	resp.Data = data
	return nil
}

func (n *imageNode) Write(ctx context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	written, err := writeSpan(ctx, n.img, uint64(req.Offset), req.Data)
	if err != nil {
		return toErrno(err)
	}
	resp.Size = written
	return nil
}

func (n *imageNode) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	if req.Valid.Size() {
		if err := n.img.SetSize(ctx, req.Size); err != nil {
			return toErrno(err)
		}
	}
	return n.Attr(ctx, &resp.Attr)
}

// readSpan reads [offset, offset+size) from img, splitting the request at
// chunk boundaries and stopping early (without error) at the image's
// current end of file.
func readSpan(ctx context.Context, img *image.Image, offset uint64, size int) ([]byte, error) {
	chunkSize := img.ChunkSize()
	out := make([]byte, 0, size)

	for len(out) < size {
		pos := offset + uint64(len(out))
		chunk := pos / chunkSize
		chunkOff := pos % chunkSize
		want := uint32(size - len(out))
		if remaining := chunkSize - chunkOff; uint64(want) > remaining {
			want = uint32(remaining)
		}

		data, err := img.ReadChunk(ctx, chunk, chunkOff, want)
		if err != nil {
			if errors.Is(err, ioerrors.ErrEOF) {
				break
			}
			return nil, err
		}
		out = append(out, data...)
		if len(data) < int(want) {
			// Short read: either end of file mid-chunk, or a short final
			// fetch. Either way there's nothing more to return.
			break
		}
	}
	return out, nil
}

// writeSpan writes data at offset, splitting at chunk boundaries. Returns
// the number of bytes actually accepted, which on an error is the count
// from before the failing chunk.
func writeSpan(ctx context.Context, img *image.Image, offset uint64, data []byte) (int, error) {
	chunkSize := img.ChunkSize()
	written := 0

	for written < len(data) {
		pos := offset + uint64(written)
		chunk := pos / chunkSize
		chunkOff := pos % chunkSize
		end := uint64(len(data) - written)
		if remaining := chunkSize - chunkOff; end > remaining {
			end = remaining
		}

		n, err := img.WriteChunk(ctx, chunk, chunkOff, data[written:written+int(end)])
		written += n
		if err != nil {
			return written, err
		}
		if n == 0 {
			break
		}
	}
	return written, nil
}
