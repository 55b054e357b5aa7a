package config

import (
	"strings"
	"time"

	"github.com/rdimagefs/rdimagefs/internal/bytesize"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Called after loading configuration from file and environment variables to
// fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyImagesDefaults(cfg.Images)
	applyCacheDefaults(&cfg.Cache)
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyMetricsDefaults(&cfg.Metrics)
	applyProfilingDefaults(&cfg.Profiling)
}

// applyServerDefaults sets mount server defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	// AllowOther defaults to false, zero value is already correct
}

// applyImagesDefaults sets per-image defaults. Chunk size and fetch mode
// are the only fields with sensible process-wide defaults; URL and ID must
// always be supplied explicitly.
func applyImagesDefaults(images []ImageConfig) {
	for i := range images {
		if images[i].ChunkSize == 0 {
			images[i].ChunkSize = 128 * bytesize.KiB
		}
		if images[i].FetchMode == "" {
			images[i].FetchMode = "demand"
		}
	}
}

// applyCacheDefaults sets cache placement defaults.
func applyCacheDefaults(cfg *CacheConfig) {
	if cfg.BaseDir == "" {
		cfg.BaseDir = "/var/lib/rdimagefs/cache"
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	// Enabled defaults to false, opt-in

	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}

	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
}

// applyMetricsDefaults sets Prometheus metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// applyProfilingDefaults sets Pyroscope profiling defaults.
func applyProfilingDefaults(cfg *ProfilingConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}
	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

// GetDefaultConfig returns a Config populated entirely with defaults, used
// when no configuration file is found. Images is left empty: the daemon
// has nothing to mount until the operator supplies at least one image.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
