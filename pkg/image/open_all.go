package image

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/rdimagefs/rdimagefs/pkg/transport"
)

// NamedConfig pairs a Config with the key callers use to look it up after a
// batch open, since errgroup doesn't preserve call order against failures.
type NamedConfig struct {
	Key string
	Config
}

// OpenAll opens every image concurrently, stopping at the first error (an
// errgroup.Group cancels the shared context for the remaining opens). On
// success it returns one Image per input, keyed by NamedConfig.Key, for the
// server to hand to the filesystem bridge at startup.
func OpenAll(ctx context.Context, cfgs []NamedConfig, tr transport.Transport) (map[string]*Image, error) {
	g, gctx := errgroup.WithContext(ctx)
	images := make(map[string]*Image, len(cfgs))
	results := make([]*Image, len(cfgs))

	for i, nc := range cfgs {
		i, nc := i, nc
		g.Go(func() error {
			img, err := Open(gctx, nc.Config, tr)
			if err != nil {
				return err
			}
			results[i] = img
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for _, img := range results {
			if img != nil {
				img.Close()
				img.Destroy()
			}
		}
		return nil, err
	}

	for i, nc := range cfgs {
		images[nc.Key] = results[i]
	}
	return images, nil
}
