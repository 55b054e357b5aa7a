package fsbridge

import (
	"context"
	"os"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
)

// rootDir is the mount point's top-level directory: one entry per
// configured image, plus one stats/ directory holding a subdirectory per
// image.
type rootDir struct {
	bridge *Bridge
}

var _ fs.Node = (*rootDir)(nil)
var _ fs.NodeStringLookuper = (*rootDir)(nil)
var _ fs.HandleReadDirAller = (*rootDir)(nil)

func (d *rootDir) Attr(ctx context.Context, a *fuse.Attr) error {
	a.Mode = os.ModeDir | 0o555
	return nil
}

func (d *rootDir) Lookup(ctx context.Context, name string) (fs.Node, error) {
	if name == "stats" {
		return &statsDir{bridge: d.bridge}, nil
	}
	if img, ok := d.bridge.images[name]; ok {
		return &imageNode{img: img}, nil
	}
	return nil, fuse.ENOENT
}

func (d *rootDir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	entries := make([]fuse.Dirent, 0, len(d.bridge.images)+1)
	entries = append(entries, fuse.Dirent{Name: "stats", Type: fuse.DT_Dir})
	for name := range d.bridge.images {
		entries = append(entries, fuse.Dirent{Name: name, Type: fuse.DT_File})
	}
	return entries, nil
}
