package images

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var inspectAddr string

var inspectCmd = &cobra.Command{
	Use:   "inspect <id>",
	Short: "Show live stats for one image",
	Long: `Fetch an image's live counters from a running imgfsd's debug HTTP
endpoint (served alongside /metrics when metrics are enabled).

Example:
  imgfsd images inspect disk0 --addr http://localhost:9090`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().StringVar(&inspectAddr, "addr", "http://localhost:9090", "imgfsd debug HTTP address")
}

// imageStats mirrors pkg/fsbridge's debug JSON response shape.
type imageStats struct {
	ID           string `json:"id"`
	Size         uint64 `json:"size"`
	ChunkSize    uint64 `json:"chunk_size"`
	Chunks       uint64 `json:"chunks"`
	BytesRead    uint64 `json:"bytes_read"`
	BytesWritten uint64 `json:"bytes_written"`
	ChunkFetches uint64 `json:"chunk_fetches"`
	ChunkSkips   uint64 `json:"chunk_fetch_skips"`
	ChunkDirties uint64 `json:"chunk_dirties"`
	IOErrors     uint64 `json:"io_errors"`
}

func runInspect(cmd *cobra.Command, args []string) error {
	id := args[0]

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(fmt.Sprintf("%s/images/%s/stats", inspectAddr, id))
	if err != nil {
		return fmt.Errorf("reach imgfsd at %s: %w", inspectAddr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("no such image: %s", id)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status from imgfsd: %s", resp.Status)
	}

	var stats imageStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return fmt.Errorf("decode stats: %w", err)
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)

	rows := [][2]string{
		{"id", stats.ID},
		{"size", fmt.Sprintf("%d", stats.Size)},
		{"chunk_size", fmt.Sprintf("%d", stats.ChunkSize)},
		{"chunks", fmt.Sprintf("%d", stats.Chunks)},
		{"bytes_read", fmt.Sprintf("%d", stats.BytesRead)},
		{"bytes_written", fmt.Sprintf("%d", stats.BytesWritten)},
		{"chunk_fetches", fmt.Sprintf("%d", stats.ChunkFetches)},
		{"chunk_fetch_skips", fmt.Sprintf("%d", stats.ChunkSkips)},
		{"chunk_dirties", fmt.Sprintf("%d", stats.ChunkDirties)},
		{"io_errors", fmt.Sprintf("%d", stats.IOErrors)},
	}
	for _, r := range rows {
		table.Append([]string{r[0], r[1]})
	}
	table.Render()

	return nil
}
