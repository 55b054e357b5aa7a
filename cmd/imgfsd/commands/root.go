// Package commands implements the imgfsd CLI.
package commands

import (
	"os"

	"github.com/spf13/cobra"

	imgfsdconfig "github.com/rdimagefs/rdimagefs/cmd/imgfsd/commands/config"
	"github.com/rdimagefs/rdimagefs/cmd/imgfsd/commands/images"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "imgfsd",
	Short: "rdimagefs - remote disk images as locally mutable files",
	Long: `imgfsd mounts remote disk images (HTTP range-fetchable or S3 objects) as
regular, locally mutable files under a FUSE mount point. Reads are served
from a chunked pristine cache populated on demand or by a background
streamer; writes divert into a modified overlay without touching the origin.

Use "imgfsd [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main() and only needs to run once.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/rdimagefs/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(imgfsdconfig.Cmd)
	rootCmd.AddCommand(images.Cmd)
	rootCmd.AddCommand(completionCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}

// PrintErr prints an error message to stderr.
func PrintErr(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
}

// Exit prints an error and exits with code 1.
func Exit(format string, args ...any) {
	PrintErr(format, args...)
	os.Exit(1)
}
