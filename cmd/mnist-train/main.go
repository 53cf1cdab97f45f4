// Command mnist-train trains the CNN classifier on the MNIST training
// split and writes the model plus its training configuration to the
// output directory.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/tensor"
	"github.com/spf13/cobra"

	"github.com/born-ml/mnist-pipeline/internal/artifact"
	"github.com/born-ml/mnist-pipeline/internal/device"
	"github.com/born-ml/mnist-pipeline/internal/mnist"
	"github.com/born-ml/mnist-pipeline/internal/model"
	"github.com/born-ml/mnist-pipeline/internal/train"
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil)).With("stage", "train")

	var cfg train.Config

	cmd := &cobra.Command{
		Use:          "mnist-train",
		Short:        "Train the MNIST CNN classifier",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(log, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.PathToData, "path_to_data", "./output/data",
		"directory containing the extracted MNIST files")
	cmd.Flags().StringVar(&cfg.PathToOutput, "path_to_output", "./output/train",
		"directory to write the model and config into")
	cmd.Flags().IntVar(&cfg.BatchSize, "batch_size", 128, "training batch size")
	cmd.Flags().Float64Var(&cfg.LR, "lr", 0.5, "SGD learning rate")
	cmd.Flags().IntVar(&cfg.Epochs, "epochs", 1, "number of training epochs")
	cmd.Flags().BoolVar(&cfg.UseCUDA, "use_cuda", false, "run on the GPU backend if available")

	if err := cmd.Execute(); err != nil {
		log.Error("training failed", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger, cfg train.Config) error {
	outputDir, err := filepath.Abs(cfg.PathToOutput)
	if err != nil {
		return fmt.Errorf("resolve output path: %w", err)
	}
	if err := artifact.EnsureDir(log, outputDir); err != nil {
		return err
	}

	data, err := mnist.Load(cfg.PathToData, true)
	if err != nil {
		return fmt.Errorf("load training data: %w", err)
	}

	base, release := device.Select(log, cfg.UseCUDA)
	defer release()
	backend := autodiff.New[tensor.Backend](base)

	m := model.New(backend)
	log.Info("created model", "architecture", m.String())

	if err := train.Run(log, m, data, cfg, backend); err != nil {
		return err
	}

	if _, _, err := train.SaveArtifacts(log, m, cfg, outputDir); err != nil {
		return err
	}
	return nil
}
