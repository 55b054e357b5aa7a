package images

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/rdimagefs/rdimagefs/internal/bytesize"
	"github.com/rdimagefs/rdimagefs/pkg/config"
)

var (
	addID         string
	addURL        string
	addChunkSize  string
	addFetchMode  string
	addCredential string
)

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Add an image to the configuration",
	Long: `Add a new image to the imgfsd configuration.

Any flag left unset is prompted for interactively. --id defaults to a
generated UUID when left both unset and empty at the prompt.

Examples:
  # Fully interactive
  imgfsd images add

  # Non-interactive
  imgfsd images add --id disk0 --url https://example.test/disk0.img --chunk-size 4Mi`,
	RunE: runAdd,
}

func init() {
	addCmd.Flags().StringVar(&addID, "id", "", "Image ID (default: generated UUID)")
	addCmd.Flags().StringVar(&addURL, "url", "", "Origin URL (http://, https://, or s3://)")
	addCmd.Flags().StringVar(&addChunkSize, "chunk-size", "", "Chunk size (e.g. 128Ki, 4Mi)")
	addCmd.Flags().StringVar(&addFetchMode, "fetch-mode", "", "Fetch mode: demand or stream")
	addCmd.Flags().StringVar(&addCredential, "credentials-ref", "", "Credentials reference (env var or secret file name)")
}

func runAdd(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	interactive := isInteractive()

	id := addID
	if id == "" && interactive {
		id, err = promptString("Image ID", uuid.NewString())
		if err != nil {
			return err
		}
	}
	if id == "" {
		id = uuid.NewString()
	}

	rawURL := addURL
	if rawURL == "" && interactive {
		rawURL, err = promptRequired("Origin URL")
		if err != nil {
			return err
		}
	}
	if rawURL == "" {
		return fmt.Errorf("--url is required (or run interactively)")
	}

	chunkSizeStr := addChunkSize
	if chunkSizeStr == "" && interactive {
		chunkSizeStr, err = promptString("Chunk size", "4Mi")
		if err != nil {
			return err
		}
	}
	if chunkSizeStr == "" {
		chunkSizeStr = "4Mi"
	}
	chunkSize, err := bytesize.ParseByteSize(chunkSizeStr)
	if err != nil {
		return fmt.Errorf("invalid chunk size %q: %w", chunkSizeStr, err)
	}

	fetchMode := addFetchMode
	if fetchMode == "" && interactive {
		fetchMode, err = promptSelect("Fetch mode", []string{"demand", "stream"})
		if err != nil {
			return err
		}
	}
	if fetchMode == "" {
		fetchMode = "demand"
	}

	credentialsRef := addCredential
	if credentialsRef == "" && interactive {
		credentialsRef, err = promptString("Credentials reference (blank for none)", "")
		if err != nil {
			return err
		}
	}

	for _, existing := range cfg.Images {
		if existing.ID == id {
			return fmt.Errorf("image %q already exists in configuration", id)
		}
	}

	cfg.Images = append(cfg.Images, config.ImageConfig{
		ID:             id,
		URL:            rawURL,
		ChunkSize:      chunkSize,
		FetchMode:      fetchMode,
		CredentialsRef: credentialsRef,
	})

	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}
	if err := config.SaveConfig(cfg, displayPath); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("Added image %q to %s\n", id, displayPath)
	return nil
}

// isInteractive reports whether stdin looks like a terminal a human can
// respond to, so non-interactive invocations (scripts, CI) fall back to
// flag defaults instead of blocking on a prompt that will never resolve.
func isInteractive() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

func promptString(label, def string) (string, error) {
	p := promptui.Prompt{Label: label, Default: def, AllowEdit: true}
	return p.Run()
}

func promptRequired(label string) (string, error) {
	p := promptui.Prompt{
		Label: label,
		Validate: func(input string) error {
			if input == "" {
				return fmt.Errorf("%s cannot be empty", label)
			}
			return nil
		},
	}
	return p.Run()
}

func promptSelect(label string, items []string) (string, error) {
	s := promptui.Select{Label: label, Items: items}
	_, value, err := s.Run()
	return value, err
}
