// Package fsbridge adapts the chunk I/O engine in pkg/image to a FUSE
// mount via bazil.org/fuse, the user-space kernel bridge section 1
// describes: each configured image appears as a regular file under the
// mount point, sized at the image's current (pollable) size, alongside a
// stats/ directory of read-only pseudo-files mirroring the original
// fuse-stats.c counters.
package fsbridge

import (
	"context"
	"fmt"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"

	"github.com/rdimagefs/rdimagefs/internal/logger"
	"github.com/rdimagefs/rdimagefs/pkg/image"
)

// Bridge is the bazil.org/fuse filesystem exposing a fixed set of images.
type Bridge struct {
	images map[string]*image.Image
}

// New returns a Bridge serving the given images, keyed by the name each
// appears as under the mount point.
func New(images map[string]*image.Image) *Bridge {
	return &Bridge{images: images}
}

// Root implements fs.FS.
func (b *Bridge) Root() (fs.Node, error) {
	return &rootDir{bridge: b}, nil
}

// Mount mounts the bridge at mountPoint and blocks until the context is
// cancelled or the mount fails, unmounting on return.
func Mount(ctx context.Context, mountPoint string, bridge *Bridge, allowOther bool) error {
	opts := []fuse.MountOption{
		fuse.FSName("rdimagefs"),
		fuse.Subtype("rdimagefs"),
		fuse.LocalVolume(),
		fuse.VolumeName("rdimagefs"),
	}
	if allowOther {
		opts = append(opts, fuse.AllowOther())
	}

	conn, err := fuse.Mount(mountPoint, opts...)
	if err != nil {
		return fmt.Errorf("mount %s: %w", mountPoint, err)
	}
	defer conn.Close()

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- fs.Serve(conn, bridge)
	}()

	select {
	case <-ctx.Done():
		if err := fuse.Unmount(mountPoint); err != nil {
			logger.Warn("fsbridge: unmount failed", logger.Err(err))
		}
		<-serveDone
		return ctx.Err()
	case err := <-serveDone:
		return err
	}
}
