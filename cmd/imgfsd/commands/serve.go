package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/rdimagefs/rdimagefs/internal/logger"
	"github.com/rdimagefs/rdimagefs/internal/telemetry"
	"github.com/rdimagefs/rdimagefs/pkg/config"
	"github.com/rdimagefs/rdimagefs/pkg/fsbridge"
	"github.com/rdimagefs/rdimagefs/pkg/image"
	"github.com/rdimagefs/rdimagefs/pkg/metrics"
	"github.com/rdimagefs/rdimagefs/pkg/transport"

	// Registers the Prometheus backend's ImageMetrics constructor.
	_ "github.com/rdimagefs/rdimagefs/pkg/metrics/prometheus"
)

var (
	foreground bool
	pidFile    string
	logFile    string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Mount configured images and serve them",
	Long: `Mount every image listed in the configuration as a locally mutable
file under the configured mount point, and serve chunk reads and writes
until stopped.

By default imgfsd runs in the background (daemon mode). Use --foreground
to run in the foreground for debugging or when managed by a process
supervisor.

Examples:
  # Serve in background (default)
  imgfsd serve

  # Serve in foreground
  imgfsd serve --foreground

  # Serve with a custom config file
  imgfsd serve --config /etc/rdimagefs/config.yaml`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (default: background/daemon mode)")
	serveCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/rdimagefs/imgfsd.pid)")
	serveCmd.Flags().StringVar(&logFile, "log-file", "", "Path to log file for daemon mode (default: $XDG_STATE_HOME/rdimagefs/imgfsd.log)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if !foreground {
		return startDaemon()
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "rdimagefs",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Profiling.Enabled,
		ServiceName:    "rdimagefs",
		ServiceVersion: Version,
		Endpoint:       cfg.Profiling.Endpoint,
		ProfileTypes:   cfg.Profiling.ProfileTypes,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", "error", err)
		}
	}()

	logger.Info("imgfsd starting", "mount_point", cfg.Server.MountPoint, "images", len(cfg.Images))
	if telemetry.IsEnabled() {
		logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("profiling enabled", "endpoint", cfg.Profiling.Endpoint)
	}

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		logger.Info("metrics enabled", "port", cfg.Metrics.Port)
	}

	dispatch, err := newSchemeTransport(ctx)
	if err != nil {
		return fmt.Errorf("configure transports: %w", err)
	}

	namedConfigs := make([]image.NamedConfig, 0, len(cfg.Images))
	for _, imgCfg := range cfg.Images {
		probe, err := probeOrigin(ctx, dispatch, imgCfg.URL)
		if err != nil {
			return fmt.Errorf("probe image %s: %w", imgCfg.ID, err)
		}

		fetchMode := image.FetchModeDemand
		if imgCfg.FetchMode == "stream" {
			fetchMode = image.FetchModeStream
		}

		namedConfigs = append(namedConfigs, image.NamedConfig{
			Key: imgCfg.ID,
			Config: image.Config{
				ID:          imgCfg.ID,
				URL:         imgCfg.URL,
				Validators:  probe.validators,
				ChunkSize:   imgCfg.ChunkSize.Uint64(),
				InitialSize: probe.size,
				FetchMode:   fetchMode,
				CacheDir:    cfg.Cache.BaseDir + "/" + imgCfg.ID,
				Metrics:     metrics.NewImageMetrics(),
			},
		})
	}

	images, err := image.OpenAll(ctx, namedConfigs, dispatch)
	if err != nil {
		return fmt.Errorf("open images: %w", err)
	}
	defer func() {
		for _, img := range images {
			img.Close()
		}
	}()

	bridge := fsbridge.New(images)

	var debugServer *http.Server
	if cfg.Metrics.Enabled {
		r := chi.NewRouter()
		r.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
		r.Mount("/", fsbridge.DebugRouter(bridge))

		debugServer = &http.Server{
			Addr:    ":" + strconv.Itoa(cfg.Metrics.Port),
			Handler: r,
		}
		go func() {
			if err := debugServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("debug http server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			_ = debugServer.Shutdown(shutdownCtx)
		}()
	}

	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- fsbridge.Mount(ctx, cfg.Server.MountPoint, bridge, cfg.Server.AllowOther)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("imgfsd is running, press Ctrl+C to stop")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received, unmounting")
		cancel()

		if err := <-serverDone; err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("unmount error", "error", err)
			return err
		}
		logger.Info("imgfsd stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("fuse serve error", "error", err)
			return err
		}
		logger.Info("imgfsd stopped")
	}

	return nil
}

// schemeTransport dispatches Fetch/FetchStream to an HTTPTransport or
// S3Transport depending on the request URL's scheme, so a single shared
// transport.Transport can serve a config mixing http(s):// and s3:// images
// per image.OpenAll's single-transport batch open.
type schemeTransport struct {
	http  *transport.HTTPTransport
	s3    *transport.S3Transport
	rawS3 *s3.Client
}

// newSchemeTransport builds the HTTP transport unconditionally and, when
// RDIMAGEFS_S3_REGION is set, an S3 transport sourced from the
// RDIMAGEFS_S3_* environment variables (endpoint, region, access key,
// secret key, path-style). There is no per-image S3 configuration; every
// s3:// origin in a given config shares one client, matching
// image.OpenAll's single shared Transport.
func newSchemeTransport(ctx context.Context) (*schemeTransport, error) {
	d := &schemeTransport{http: transport.NewHTTPTransport(nil)}

	region := os.Getenv("RDIMAGEFS_S3_REGION")
	if region == "" {
		return d, nil
	}

	client, err := transport.NewS3ClientFromConfig(ctx,
		os.Getenv("RDIMAGEFS_S3_ENDPOINT"),
		region,
		os.Getenv("RDIMAGEFS_S3_ACCESS_KEY_ID"),
		os.Getenv("RDIMAGEFS_S3_SECRET_ACCESS_KEY"),
		os.Getenv("RDIMAGEFS_S3_FORCE_PATH_STYLE") == "true",
	)
	if err != nil {
		return nil, fmt.Errorf("build s3 client: %w", err)
	}
	d.rawS3 = client
	d.s3 = transport.NewS3Transport(client)
	return d, nil
}

func (d *schemeTransport) pick(rawURL string) (transport.Transport, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse origin url: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
		return d.http, nil
	case "s3":
		if d.s3 == nil {
			return nil, fmt.Errorf("s3 origin configured but no s3 client available (set RDIMAGEFS_S3_* environment variables)")
		}
		return d.s3, nil
	default:
		return nil, fmt.Errorf("unsupported origin scheme: %s", u.Scheme)
	}
}

func (d *schemeTransport) Fetch(ctx context.Context, req transport.FetchRequest) ([]byte, error) {
	tr, err := d.pick(req.URL)
	if err != nil {
		return nil, err
	}
	return tr.Fetch(ctx, req)
}

func (d *schemeTransport) FetchStream(ctx context.Context, req transport.StreamRequest, dataCB transport.DataFunc) error {
	tr, err := d.pick(req.URL)
	if err != nil {
		return err
	}
	return tr.FetchStream(ctx, req, dataCB)
}
