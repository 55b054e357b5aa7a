package images

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/rdimagefs/rdimagefs/pkg/config"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured images",
	Long: `List the images an imgfsd configuration exposes, along with their
origin URL, chunk size, and fetch mode.`,
	RunE: runList,
}

func runList(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	if len(cfg.Images) == 0 {
		fmt.Println("No images configured.")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "URL", "Chunk Size", "Fetch Mode"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)

	for _, img := range cfg.Images {
		fetchMode := img.FetchMode
		if fetchMode == "" {
			fetchMode = "demand"
		}
		table.Append([]string{img.ID, img.URL, img.ChunkSize.String(), fetchMode})
	}

	table.Render()
	return nil
}
