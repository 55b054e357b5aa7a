package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for chunk I/O engine operations.
const (
	// ========================================================================
	// Image attributes
	// ========================================================================
	AttrImageID   = "image.id"
	AttrImageURL  = "image.url"
	AttrImageSize = "image.size"

	// ========================================================================
	// Chunk attributes
	// ========================================================================
	AttrChunkIndex  = "chunk.index"
	AttrChunkOffset = "chunk.offset"
	AttrChunkSize   = "chunk.size"
	AttrChunkCount  = "chunk.count"
	AttrChunkDirty  = "chunk.dirty"

	// ========================================================================
	// I/O attributes (protocol-agnostic byte ranges)
	// ========================================================================
	AttrIOOffset = "io.offset"
	AttrIOLength = "io.length"

	// ========================================================================
	// Cache attributes
	// ========================================================================
	AttrCacheTier = "cache.tier" // "pristine" or "modified"
	AttrCacheHit  = "cache.hit"

	// ========================================================================
	// Transport attributes
	// ========================================================================
	AttrTransportKind   = "transport.kind" // "http" or "s3"
	AttrTransportBucket = "transport.bucket"
	AttrTransportKey    = "transport.key"
	AttrFetchMode       = "fetch.mode" // "demand" or "stream"

	// ========================================================================
	// FUSE bridge attributes
	// ========================================================================
	AttrFSPath = "fs.path"
)

// Span names for chunk I/O engine operations.
const (
	SpanImageOpen     = "image.open"
	SpanImageReadChunk  = "image.read_chunk"
	SpanImageWriteChunk = "image.write_chunk"
	SpanImageSetSize    = "image.set_size"

	SpanTransportFetch       = "transport.fetch"
	SpanTransportFetchStream = "transport.fetch_stream"

	SpanCacheWritePristine = "cache.write_pristine"
	SpanCacheWriteModified = "cache.write_modified"

	SpanPrefetchStream = "prefetch.stream"

	SpanFSBridgeRead  = "fsbridge.read"
	SpanFSBridgeWrite = "fsbridge.write"
)

// ImageID returns an attribute identifying an image.
func ImageID(id string) attribute.KeyValue {
	return attribute.String(AttrImageID, id)
}

// ImageURL returns an attribute for an image's origin URL.
func ImageURL(url string) attribute.KeyValue {
	return attribute.String(AttrImageURL, url)
}

// ImageSize returns an attribute for an image's current size in bytes.
func ImageSize(size uint64) attribute.KeyValue {
	return attribute.Int64(AttrImageSize, int64(size))
}

// ChunkIndex returns an attribute for a chunk's index within an image.
func ChunkIndex(index uint64) attribute.KeyValue {
	return attribute.Int64(AttrChunkIndex, int64(index))
}

// ChunkOffset returns an attribute for a byte offset within a chunk.
func ChunkOffset(offset uint64) attribute.KeyValue {
	return attribute.Int64(AttrChunkOffset, int64(offset))
}

// ChunkSize returns an attribute for the configured chunk size.
func ChunkSize(size uint64) attribute.KeyValue {
	return attribute.Int64(AttrChunkSize, int64(size))
}

// IOOffset returns an attribute for an absolute I/O offset.
func IOOffset(offset uint64) attribute.KeyValue {
	return attribute.Int64(AttrIOOffset, int64(offset))
}

// IOLength returns an attribute for an I/O request length.
func IOLength(length int) attribute.KeyValue {
	return attribute.Int(AttrIOLength, length)
}

// CacheTier returns an attribute naming which cache tier served a read.
func CacheTier(tier string) attribute.KeyValue {
	return attribute.String(AttrCacheTier, tier)
}

// CacheHit returns an attribute for whether a chunk was already cached.
func CacheHit(hit bool) attribute.KeyValue {
	return attribute.Bool(AttrCacheHit, hit)
}

// TransportKind returns an attribute naming the transport backend.
func TransportKind(kind string) attribute.KeyValue {
	return attribute.String(AttrTransportKind, kind)
}

// TransportBucket returns an attribute for an S3 bucket name.
func TransportBucket(bucket string) attribute.KeyValue {
	return attribute.String(AttrTransportBucket, bucket)
}

// TransportKey returns an attribute for an S3 object key.
func TransportKey(key string) attribute.KeyValue {
	return attribute.String(AttrTransportKey, key)
}

// FetchMode returns an attribute naming the configured fetch mode.
func FetchMode(mode string) attribute.KeyValue {
	return attribute.String(AttrFetchMode, mode)
}

// FSPath returns an attribute for a FUSE node's path.
func FSPath(path string) attribute.KeyValue {
	return attribute.String(AttrFSPath, path)
}

// StartImageSpan starts a span for an image-level operation, tagging it
// with the image's ID.
func StartImageSpan(ctx context.Context, name, imageID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := append([]attribute.KeyValue{ImageID(imageID)}, attrs...)
	return StartSpan(ctx, name, trace.WithAttributes(allAttrs...))
}

// StartChunkSpan starts a span for a single-chunk operation, tagging it
// with the image ID and chunk index.
func StartChunkSpan(ctx context.Context, name, imageID string, chunk uint64, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := append([]attribute.KeyValue{ImageID(imageID), ChunkIndex(chunk)}, attrs...)
	return StartSpan(ctx, name, trace.WithAttributes(allAttrs...))
}

// StartTransportSpan starts a span for an origin fetch.
func StartTransportSpan(ctx context.Context, kind string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := append([]attribute.KeyValue{TransportKind(kind)}, attrs...)
	return StartSpan(ctx, SpanTransportFetch, trace.WithAttributes(allAttrs...))
}
