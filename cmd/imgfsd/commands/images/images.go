// Package images implements the imgfsd "images" subcommands.
package images

import (
	"github.com/spf13/cobra"
)

// Cmd is the images subcommand.
var Cmd = &cobra.Command{
	Use:   "images",
	Short: "Inspect configured images",
	Long: `List and inspect the images an imgfsd configuration exposes.

Subcommands:
  list     List configured images
  inspect  Show live stats for one image from a running imgfsd
  add      Add an image to the configuration`,
}

func init() {
	Cmd.AddCommand(listCmd)
	Cmd.AddCommand(inspectCmd)
	Cmd.AddCommand(addCmd)
}
