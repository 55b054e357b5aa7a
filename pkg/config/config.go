// Package config loads the daemon's static configuration: mount settings,
// the set of images to expose, cache placement, logging, and the optional
// telemetry/metrics/profiling sidecars. It follows the teacher's
// viper + mapstructure + validator layering: YAML file, then environment
// variable overrides (RDIMAGEFS_ prefix), then defaults for anything
// still unset.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/rdimagefs/rdimagefs/internal/bytesize"
)

// Config is the daemon's top-level configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Images     []ImageConfig    `mapstructure:"images" validate:"dive" yaml:"images"`
	Cache      CacheConfig      `mapstructure:"cache" yaml:"cache"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry" yaml:"telemetry"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Profiling  ProfilingConfig  `mapstructure:"profiling" yaml:"profiling"`
}

// ServerConfig controls the FUSE mount itself.
type ServerConfig struct {
	// MountPoint is the local directory images are exposed under.
	MountPoint string `mapstructure:"mount_point" validate:"required" yaml:"mount_point"`

	// AllowOther permits other local users to access the mount (maps to
	// FUSE's allow_other option).
	AllowOther bool `mapstructure:"allow_other" yaml:"allow_other"`

	// ShutdownTimeout bounds how long the debug HTTP server's graceful
	// shutdown waits for in-flight requests.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`
}

// ImageConfig describes one remote origin to expose as a chunked file.
type ImageConfig struct {
	// ID is the stable name the image is exposed under beneath MountPoint.
	ID string `mapstructure:"id" validate:"required" yaml:"id"`

	// URL is the origin: http(s):// for ranged HTTP GETs, s3:// for an
	// S3-compatible bucket.
	URL string `mapstructure:"url" validate:"required" yaml:"url"`

	// ChunkSize is the unit of caching and locking. Supports human-readable
	// sizes ("128Ki", "4Mi").
	ChunkSize bytesize.ByteSize `mapstructure:"chunk_size" validate:"required" yaml:"chunk_size"`

	// FetchMode is "demand" or "stream".
	FetchMode string `mapstructure:"fetch_mode" validate:"omitempty,oneof=demand stream" yaml:"fetch_mode"`

	// CredentialsRef names an external credential source (env var or
	// secret file) rather than embedding a secret in the config file.
	CredentialsRef string `mapstructure:"credentials_ref" yaml:"credentials_ref,omitempty"`
}

// CacheConfig controls where per-image pristine/modified state lives.
type CacheConfig struct {
	// BaseDir is the parent directory each image's cache subdirectory is
	// created under.
	BaseDir string `mapstructure:"base_dir" validate:"required" yaml:"base_dir"`
}

// LoggingConfig controls internal/logger's output.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry OTLP trace export.
type TelemetryConfig struct {
	Enabled    bool    `mapstructure:"enabled" yaml:"enabled"`
	Endpoint   string  `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure   bool    `mapstructure:"insecure" yaml:"insecure"`
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`
}

// MetricsConfig controls the Prometheus metrics HTTP endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled      bool     `mapstructure:"enabled" yaml:"enabled"`
	Endpoint     string   `mapstructure:"endpoint" yaml:"endpoint"`
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// Load reads configuration from configPath (or the default location when
// empty), applying environment overrides and defaults, then validates the
// result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !found {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with user-friendly errors when no config
// file can be found, rather than Load's silent fall-through to defaults.
// Commands that need a real config (serve, config validate, images
// list/add) call this
// instead of Load so a missing config points the operator at `imgfsd init`.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"initialize one first:\n"+
				"  imgfsd init\n\n"+
				"or point at an existing file:\n"+
				"  imgfsd <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"create it first:\n"+
			"  imgfsd init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path in YAML form, restricted to owner
// read/write since image credentials references may be sensitive.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate runs struct-tag validation over cfg.
func Validate(cfg *Config) error {
	return validator.New().Struct(cfg)
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("RDIMAGEFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read config file: %w", err)
	}
	return true, nil
}

func getConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "rdimagefs")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "rdimagefs")
}

// GetDefaultConfigPath returns the default config file location.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		mapstructure.StringToTimeDurationHookFunc(),
	)
}

// byteSizeDecodeHook converts strings and integers to bytesize.ByteSize,
// so config files can use human-readable sizes like "4Mi" or "128KB".
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(int64(v)), nil
		default:
			return data, nil
		}
	}
}
