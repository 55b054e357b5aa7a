package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rdimagefs/rdimagefs/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the imgfsd configuration file.

Checks for syntax errors, missing required fields, and invalid values.

Examples:
  # Validate default config
  imgfsd config validate

  # Validate specific config file
  imgfsd config validate --config /etc/rdimagefs/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	var warnings []string
	if len(cfg.Images) == 0 {
		warnings = append(warnings, "no images configured - the mount will be empty")
	}
	for _, img := range cfg.Images {
		if img.URL == "" {
			continue
		}
		if img.FetchMode == "stream" && img.ChunkSize.Uint64() < 64*1024 {
			warnings = append(warnings, fmt.Sprintf("image %s: stream fetch mode with a small chunk size (%s) will issue many small requests", img.ID, img.ChunkSize))
		}
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Port == 0 {
		warnings = append(warnings, "metrics enabled but no port configured - a default will be used")
	}

	fmt.Printf("Configuration file: %s\n", displayPath)
	fmt.Println("Validation: OK")

	if len(warnings) > 0 {
		fmt.Println("\nWarnings:")
		for _, w := range warnings {
			fmt.Printf("  - %s\n", w)
		}
	}

	fmt.Printf("\nConfiguration summary:\n")
	fmt.Printf("  Mount point:   %s\n", cfg.Server.MountPoint)
	fmt.Printf("  Images:        %d\n", len(cfg.Images))
	fmt.Printf("  Cache dir:     %s\n", cfg.Cache.BaseDir)
	fmt.Printf("  Log level:     %s\n", cfg.Logging.Level)
	fmt.Printf("  Telemetry:     %v\n", cfg.Telemetry.Enabled)
	fmt.Printf("  Metrics:       %v\n", cfg.Metrics.Enabled)
	fmt.Printf("  Profiling:     %v\n", cfg.Profiling.Enabled)

	return nil
}
