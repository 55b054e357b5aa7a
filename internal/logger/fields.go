package logger

import (
	"log/slog"
)

// Standard field keys for structured logging across the chunk I/O engine,
// its stores, and the transport layer. Use these keys consistently so log
// aggregation and querying stay uniform across the module.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// ========================================================================
	// Image & Operation
	// ========================================================================
	KeyImageID   = "image_id"  // Image identifier
	KeyOperation = "operation" // read_chunk, write_chunk, set_size, stream, ...
	KeyChunkIdx  = "chunk_idx" // Chunk index involved

	// ========================================================================
	// I/O Operations
	// ========================================================================
	KeyOffset       = "offset"        // Byte offset within a chunk
	KeyCount        = "count"         // Byte count requested
	KeyBytesRead    = "bytes_read"    // Actual bytes read
	KeyBytesWritten = "bytes_written" // Actual bytes written
	KeyEOF          = "eof"           // End of file indicator
	KeySize         = "size"          // Image size in bytes

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeySource     = "source"      // pristine, modified, transport

	// ========================================================================
	// Transport & Retry
	// ========================================================================
	KeyURL        = "url"         // Origin URL
	KeyAttempt    = "attempt"     // Retry attempt number
	KeyMaxRetries = "max_retries" // Maximum retry attempts
	KeyETag       = "etag"        // Validator: ETag
	KeyLastMod    = "last_modified"

	// ========================================================================
	// Bitmaps / Counters
	// ========================================================================
	KeyCacheHit = "cache_hit" // Whether a chunk was already present
	KeyCookie   = "cookie"    // Change-cookie value for a pollable
)

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// ImageID returns a slog.Attr for the image identifier
func ImageID(id string) slog.Attr {
	return slog.String(KeyImageID, id)
}

// Operation returns a slog.Attr for the sub-operation type
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// ChunkIdx returns a slog.Attr for a chunk index
func ChunkIdx(idx uint32) slog.Attr {
	return slog.Uint64(KeyChunkIdx, uint64(idx))
}

// Offset returns a slog.Attr for a byte offset
func Offset(off uint64) slog.Attr {
	return slog.Uint64(KeyOffset, off)
}

// Count returns a slog.Attr for byte count requested
func Count(c uint32) slog.Attr {
	return slog.Uint64(KeyCount, uint64(c))
}

// BytesRead returns a slog.Attr for actual bytes read
func BytesRead(n int) slog.Attr {
	return slog.Int(KeyBytesRead, n)
}

// BytesWritten returns a slog.Attr for actual bytes written
func BytesWritten(n int) slog.Attr {
	return slog.Int(KeyBytesWritten, n)
}

// EOF returns a slog.Attr for end-of-file indicator
func EOF(eof bool) slog.Attr {
	return slog.Bool(KeyEOF, eof)
}

// Size returns a slog.Attr for image size
func Size(s uint64) slog.Attr {
	return slog.Uint64(KeySize, s)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Source returns a slog.Attr for the data source (pristine, modified, transport)
func Source(src string) slog.Attr {
	return slog.String(KeySource, src)
}

// URL returns a slog.Attr for an origin URL
func URL(u string) slog.Attr {
	return slog.String(KeyURL, u)
}

// Attempt returns a slog.Attr for retry attempt number
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// MaxRetries returns a slog.Attr for maximum retry attempts
func MaxRetries(n int) slog.Attr {
	return slog.Int(KeyMaxRetries, n)
}

// ETag returns a slog.Attr for the ETag validator
func ETag(tag string) slog.Attr {
	return slog.String(KeyETag, tag)
}

// LastModified returns a slog.Attr for the last-modified validator
func LastModified(v string) slog.Attr {
	return slog.String(KeyLastMod, v)
}

// CacheHit returns a slog.Attr for cache hit indicator
func CacheHit(hit bool) slog.Attr {
	return slog.Bool(KeyCacheHit, hit)
}

// Cookie returns a slog.Attr for a pollable's change-cookie
func Cookie(c uint64) slog.Attr {
	return slog.Uint64(KeyCookie, c)
}
