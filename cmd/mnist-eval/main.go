// Command mnist-eval scores a trained model on the MNIST test split and
// writes per-class accuracies plus the evaluation configuration to the
// output directory.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/born-ml/born/backend/cpu"
	"github.com/spf13/cobra"

	"github.com/born-ml/mnist-pipeline/internal/artifact"
	"github.com/born-ml/mnist-pipeline/internal/device"
	"github.com/born-ml/mnist-pipeline/internal/eval"
	"github.com/born-ml/mnist-pipeline/internal/mnist"
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil)).With("stage", "eval")

	var cfg eval.Config

	cmd := &cobra.Command{
		Use:          "mnist-eval",
		Short:        "Evaluate a trained MNIST model on the test split",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(log, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.PathToData, "path_to_data", "./output/data",
		"directory containing the extracted MNIST files")
	cmd.Flags().StringVar(&cfg.PathToModel, "path_to_model", "./output/train/model.pkl",
		"path to the trained model file")
	cmd.Flags().StringVar(&cfg.PathToOutput, "path_to_output", "./output/eval",
		"directory to write the results and config into")
	cmd.Flags().IntVar(&cfg.BatchSize, "batch_size", 128, "evaluation batch size")
	cmd.Flags().BoolVar(&cfg.UseCUDA, "use_cuda", false, "run on the GPU backend if available")

	if err := cmd.Execute(); err != nil {
		log.Error("evaluation failed", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger, cfg eval.Config) error {
	outputDir, err := filepath.Abs(cfg.PathToOutput)
	if err != nil {
		return fmt.Errorf("resolve output path: %w", err)
	}
	if err := artifact.EnsureDir(log, outputDir); err != nil {
		return err
	}

	data, err := mnist.Load(cfg.PathToData, false)
	if err != nil {
		return fmt.Errorf("load test data: %w", err)
	}

	backend, release := device.Select(log, cfg.UseCUDA)
	defer func() { release() }()

	m, err := eval.LoadModel(cfg.PathToModel, backend)
	if err != nil {
		// Models trained on one device sometimes fail to load on
		// another; retry once on CPU before giving up.
		if _, isCPU := backend.(*cpu.Backend); isCPU {
			return err
		}
		log.Warn("model load failed on GPU backend, retrying on CPU", "error", err)
		release()
		backend, release = cpu.New(), func() {}

		if m, err = eval.LoadModel(cfg.PathToModel, backend); err != nil {
			return err
		}
	}

	results, err := eval.Run(log, m, data, cfg.BatchSize, backend)
	if err != nil {
		return err
	}

	if _, _, err := eval.SaveArtifacts(log, results, cfg, outputDir); err != nil {
		return err
	}
	return nil
}
