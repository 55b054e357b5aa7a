package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rdimagefs/rdimagefs/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample configuration file",
	Long: `Write a sample imgfsd configuration file.

By default, the configuration file is created at
$XDG_CONFIG_HOME/rdimagefs/config.yaml. Use --config to specify a custom
path.

Examples:
  # Initialize with default location
  imgfsd init

  # Initialize with custom path
  imgfsd init --config /etc/rdimagefs/config.yaml

  # Force overwrite existing config
  imgfsd init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := GetConfigFile()
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	if !initForce {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", configPath)
		}
	}

	cfg := config.GetDefaultConfig()
	cfg.Server.MountPoint = "/mnt/rdimagefs"
	cfg.Cache.BaseDir = "/var/lib/rdimagefs/cache"
	cfg.Images = []config.ImageConfig{
		{
			ID:        "example",
			URL:       "https://example.test/disk0.img",
			ChunkSize: 128 * 1024,
			FetchMode: "demand",
		},
	}

	if err := config.SaveConfig(cfg, configPath); err != nil {
		return fmt.Errorf("initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to list your images")
	fmt.Println("  2. Validate it with: imgfsd config validate")
	fmt.Println("  3. Mount it with:    imgfsd serve --foreground")

	return nil
}
