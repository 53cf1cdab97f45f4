// Command mnist-download fetches the MNIST dataset into a local
// directory, ready for the training and evaluation stages.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/born-ml/mnist-pipeline/internal/artifact"
	"github.com/born-ml/mnist-pipeline/internal/mnist"
)

// config is persisted verbatim as download_conf.json next to the data.
type config struct {
	PathToOutput string `json:"path_to_output"`
}

const confFile = "download_conf.json"

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil)).With("stage", "download")

	var cfg config

	cmd := &cobra.Command{
		Use:          "mnist-download",
		Short:        "Download and extract the MNIST dataset",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := filepath.Abs(cfg.PathToOutput)
			if err != nil {
				return fmt.Errorf("resolve output path: %w", err)
			}
			if err := artifact.EnsureDir(log, dir); err != nil {
				return err
			}
			if err := mnist.Download(cmd.Context(), log, dir); err != nil {
				return err
			}
			if err := artifact.WriteJSON(filepath.Join(dir, confFile), cfg); err != nil {
				return fmt.Errorf("failed to save the config: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&cfg.PathToOutput, "path_to_output", "./output/data",
		"directory to download the dataset into")

	if err := cmd.Execute(); err != nil {
		log.Error("download failed", "error", err)
		os.Exit(1)
	}
}
