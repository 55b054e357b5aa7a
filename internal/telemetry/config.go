package telemetry

// Config holds OpenTelemetry tracing configuration.
type Config struct {
	// Enabled indicates whether tracing is enabled.
	Enabled bool

	// ServiceName is reported to the trace backend.
	ServiceName string

	// ServiceVersion is the running build's version.
	ServiceVersion string

	// Endpoint is the OTLP gRPC endpoint (e.g. "localhost:4317").
	Endpoint string

	// Insecure disables TLS on the OTLP connection.
	Insecure bool

	// SampleRate is the trace sampling rate, 0.0 to 1.0.
	SampleRate float64
}

// DefaultConfig returns a default, disabled configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    "rdimagefs",
		ServiceVersion: "dev",
		Endpoint:       "localhost:4317",
		Insecure:       true,
		SampleRate:     1.0,
	}
}

// ProfilingConfig contains configuration for Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled controls whether profiling is active.
	Enabled bool

	// ServiceName is the application name shown in Pyroscope.
	ServiceName string

	// ServiceVersion is the running build's version.
	ServiceVersion string

	// Endpoint is the Pyroscope server URL (e.g. "http://localhost:4040").
	Endpoint string

	// ProfileTypes selects which profile types to collect.
	// Valid values: cpu, alloc_objects, alloc_space, inuse_objects,
	// inuse_space, goroutines, mutex_count, mutex_duration, block_count,
	// block_duration.
	ProfileTypes []string
}

// DefaultProfilingConfig returns a default, disabled configuration.
func DefaultProfilingConfig() ProfilingConfig {
	return ProfilingConfig{
		Enabled:        false,
		ServiceName:    "rdimagefs",
		ServiceVersion: "dev",
		Endpoint:       "http://localhost:4040",
		ProfileTypes:   []string{"cpu", "alloc_objects", "alloc_space", "inuse_objects", "inuse_space", "goroutines"},
	}
}
