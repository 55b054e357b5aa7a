// Package metrics defines the observability surface the chunk engine
// depends on. The ImageMetrics interface carries no Prometheus types, so
// pkg/image never has to import a metrics backend directly; this package
// only holds the process Prometheus registry. A concrete backend
// (pkg/metrics/prometheus) registers itself into this package at init time.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registryMu sync.Mutex
	registry   *prometheus.Registry
	enabled    bool
)

// InitRegistry enables metrics collection and creates the Prometheus
// registry every backend constructor in this process will register into.
// Call once at startup, before opening any image.
func InitRegistry() *prometheus.Registry {
	registryMu.Lock()
	defer registryMu.Unlock()
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	enabled = true
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	registryMu.Lock()
	defer registryMu.Unlock()
	return enabled
}

// GetRegistry returns the process registry, creating it if necessary.
func GetRegistry() *prometheus.Registry {
	registryMu.Lock()
	defer registryMu.Unlock()
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	return registry
}

// ImageMetrics provides observability for the chunk engine: demand fetches,
// stream fetches, copy-on-write, size changes, and transport errors. It
// mirrors the counters fuse-stats.c exposes as pseudo-files (bytes_read,
// bytes_written, chunk_fetches, chunk_fetch_skips, chunk_dirties,
// io_errors), implemented here as Prometheus series instead. Pass nil to
// disable collection with zero overhead.
type ImageMetrics interface {
	// ObserveRead records a completed chunk read: bytes served and latency.
	ObserveRead(imageID string, bytes int64, duration time.Duration)

	// ObserveWrite records a completed chunk write: bytes accepted and latency.
	ObserveWrite(imageID string, bytes int64, duration time.Duration)

	// RecordChunkFetch records a demand or streaming fetch from the origin.
	RecordChunkFetch(imageID string, streamed bool)

	// RecordChunkFetchSkip records a read served from an already-present
	// pristine chunk, avoiding a fetch.
	RecordChunkFetchSkip(imageID string)

	// RecordChunkDirty records a chunk's first copy into the modified overlay.
	RecordChunkDirty(imageID string)

	// RecordIOError records a fetch, transport, or storage error.
	RecordIOError(imageID string, kind string)

	// RecordImageSize records the image's current size in bytes.
	RecordImageSize(imageID string, bytes int64)
}

// newPrometheusImageMetrics is populated by pkg/metrics/prometheus/image.go
// at init time. This indirection breaks the import cycle the same way
// RegisterCacheMetricsConstructor did in the teacher's metrics package.
var newPrometheusImageMetrics func() ImageMetrics

// RegisterImageMetricsConstructor is called by the Prometheus backend's
// init() to make itself available through NewImageMetrics.
func RegisterImageMetricsConstructor(constructor func() ImageMetrics) {
	newPrometheusImageMetrics = constructor
}

// NewImageMetrics returns the registered backend's ImageMetrics, or nil if
// metrics are disabled or no backend has registered itself.
func NewImageMetrics() ImageMetrics {
	if !IsEnabled() || newPrometheusImageMetrics == nil {
		return nil
	}
	return newPrometheusImageMetrics()
}

// The following package funcs let callers pass a possibly-nil ImageMetrics
// without a nil check at every call site, matching the teacher's
// ObserveWrite/ObserveRead free-function pattern.

func ObserveRead(m ImageMetrics, imageID string, bytes int64, duration time.Duration) {
	if m != nil {
		m.ObserveRead(imageID, bytes, duration)
	}
}

func ObserveWrite(m ImageMetrics, imageID string, bytes int64, duration time.Duration) {
	if m != nil {
		m.ObserveWrite(imageID, bytes, duration)
	}
}

func RecordChunkFetch(m ImageMetrics, imageID string, streamed bool) {
	if m != nil {
		m.RecordChunkFetch(imageID, streamed)
	}
}

func RecordChunkFetchSkip(m ImageMetrics, imageID string) {
	if m != nil {
		m.RecordChunkFetchSkip(imageID)
	}
}

func RecordChunkDirty(m ImageMetrics, imageID string) {
	if m != nil {
		m.RecordChunkDirty(imageID)
	}
}

func RecordIOError(m ImageMetrics, imageID string, kind string) {
	if m != nil {
		m.RecordIOError(imageID, kind)
	}
}

func RecordImageSize(m ImageMetrics, imageID string, bytes int64) {
	if m != nil {
		m.RecordImageSize(imageID, bytes)
	}
}
