package image

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAllOpensConcurrently(t *testing.T) {
	ft := &fakeTransport{data: make([]byte, 16)}
	cfgs := []NamedConfig{
		{Key: "a", Config: Config{ID: "a", ChunkSize: 8, InitialSize: 16, CacheDir: t.TempDir()}},
		{Key: "b", Config: Config{ID: "b", ChunkSize: 8, InitialSize: 16, CacheDir: t.TempDir()}},
	}

	images, err := OpenAll(context.Background(), cfgs, ft)
	require.NoError(t, err)
	require.Len(t, images, 2)
	assert.NotNil(t, images["a"])
	assert.NotNil(t, images["b"])

	for _, img := range images {
		img.Close()
		img.Destroy()
	}
}

func TestOpenAllFailsWhenChunkSizeZero(t *testing.T) {
	ft := &fakeTransport{data: make([]byte, 16)}
	cfgs := []NamedConfig{
		{Key: "bad", Config: Config{ID: "bad", ChunkSize: 0, InitialSize: 16, CacheDir: t.TempDir()}},
	}

	_, err := OpenAll(context.Background(), cfgs, ft)
	require.Error(t, err)
}
