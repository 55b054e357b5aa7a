// Package prometheus implements pkg/metrics's collector interfaces on top
// of github.com/prometheus/client_golang, registered into the process
// registry returned by metrics.GetRegistry.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rdimagefs/rdimagefs/pkg/metrics"
)

func init() {
	metrics.RegisterImageMetricsConstructor(func() metrics.ImageMetrics {
		return newImageMetrics()
	})
}

// imageMetrics is the Prometheus implementation of metrics.ImageMetrics.
type imageMetrics struct {
	readOperations  *prometheus.CounterVec
	readDuration    *prometheus.HistogramVec
	readBytes       *prometheus.HistogramVec
	writeOperations *prometheus.CounterVec
	writeDuration   *prometheus.HistogramVec
	writeBytes      *prometheus.HistogramVec
	chunkFetches    *prometheus.CounterVec
	chunkFetchSkips *prometheus.CounterVec
	chunkDirties    *prometheus.CounterVec
	ioErrors        *prometheus.CounterVec
	imageSize       *prometheus.GaugeVec
}

func newImageMetrics() metrics.ImageMetrics {
	reg := metrics.GetRegistry()

	return &imageMetrics{
		readOperations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "rdimagefs_chunk_read_operations_total",
				Help: "Total number of chunk read operations by image",
			},
			[]string{"image_id"},
		),
		readDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rdimagefs_chunk_read_duration_milliseconds",
				Help:    "Duration of chunk read operations in milliseconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 50, 100, 500, 1000},
			},
			[]string{"image_id"},
		),
		readBytes: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rdimagefs_chunk_read_bytes",
				Help:    "Distribution of bytes read per chunk read operation",
				Buckets: []float64{4096, 32768, 131072, 524288, 1048576, 4194304},
			},
			[]string{"image_id"},
		),
		writeOperations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "rdimagefs_chunk_write_operations_total",
				Help: "Total number of chunk write operations by image",
			},
			[]string{"image_id"},
		),
		writeDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rdimagefs_chunk_write_duration_milliseconds",
				Help:    "Duration of chunk write operations in milliseconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 50, 100, 500, 1000},
			},
			[]string{"image_id"},
		),
		writeBytes: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rdimagefs_chunk_write_bytes",
				Help:    "Distribution of bytes written per chunk write operation",
				Buckets: []float64{4096, 32768, 131072, 524288, 1048576, 4194304},
			},
			[]string{"image_id"},
		),
		chunkFetches: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "rdimagefs_chunk_fetches_total",
				Help: "Total number of chunk fetches from the origin, by image and mode",
			},
			[]string{"image_id", "mode"}, // mode: "demand", "stream"
		),
		chunkFetchSkips: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "rdimagefs_chunk_fetch_skips_total",
				Help: "Total number of chunk reads served without a fetch because the chunk was already present",
			},
			[]string{"image_id"},
		),
		chunkDirties: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "rdimagefs_chunk_dirties_total",
				Help: "Total number of chunks copied into the modified overlay",
			},
			[]string{"image_id"},
		),
		ioErrors: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "rdimagefs_io_errors_total",
				Help: "Total number of I/O errors by image and kind",
			},
			[]string{"image_id", "kind"},
		),
		imageSize: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rdimagefs_image_size_bytes",
				Help: "Current image size in bytes",
			},
			[]string{"image_id"},
		),
	}
}

func (m *imageMetrics) ObserveRead(imageID string, bytes int64, duration time.Duration) {
	m.readOperations.WithLabelValues(imageID).Inc()
	m.readDuration.WithLabelValues(imageID).Observe(float64(duration.Milliseconds()))
	if bytes > 0 {
		m.readBytes.WithLabelValues(imageID).Observe(float64(bytes))
	}
}

func (m *imageMetrics) ObserveWrite(imageID string, bytes int64, duration time.Duration) {
	m.writeOperations.WithLabelValues(imageID).Inc()
	m.writeDuration.WithLabelValues(imageID).Observe(float64(duration.Milliseconds()))
	if bytes > 0 {
		m.writeBytes.WithLabelValues(imageID).Observe(float64(bytes))
	}
}

func (m *imageMetrics) RecordChunkFetch(imageID string, streamed bool) {
	mode := "demand"
	if streamed {
		mode = "stream"
	}
	m.chunkFetches.WithLabelValues(imageID, mode).Inc()
}

func (m *imageMetrics) RecordChunkFetchSkip(imageID string) {
	m.chunkFetchSkips.WithLabelValues(imageID).Inc()
}

func (m *imageMetrics) RecordChunkDirty(imageID string) {
	m.chunkDirties.WithLabelValues(imageID).Inc()
}

func (m *imageMetrics) RecordIOError(imageID string, kind string) {
	m.ioErrors.WithLabelValues(imageID, kind).Inc()
}

func (m *imageMetrics) RecordImageSize(imageID string, bytes int64) {
	m.imageSize.WithLabelValues(imageID).Set(float64(bytes))
}
