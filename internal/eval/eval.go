// Package eval runs the evaluation stage: score a trained model on the
// MNIST test split and persist per-class accuracies.
package eval

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
	"github.com/schollz/progressbar/v3"

	"github.com/born-ml/mnist-pipeline/internal/artifact"
	"github.com/born-ml/mnist-pipeline/internal/mnist"
	"github.com/born-ml/mnist-pipeline/internal/model"
)

// Artifact names written by the evaluation stage.
const (
	ResultsFile = "eval_results.json"
	ConfFile    = "eval_conf.json"
)

// classEpsilon pads per-class denominators so a digit absent from the
// test split scores near-zero instead of dividing by zero.
const classEpsilon = 0.0001

// Config is the evaluation-stage configuration, persisted verbatim as
// eval_conf.json.
type Config struct {
	PathToData   string `json:"path_to_data"`
	PathToModel  string `json:"path_to_model"`
	PathToOutput string `json:"path_to_output"`
	BatchSize    int    `json:"batch_size"`
	UseCUDA      bool   `json:"use_cuda"`
}

// Results maps metric names to percentages: "average_accuracy" plus one
// "class_<d>_accuracy" entry per digit.
type Results map[string]float64

// LoadModel builds a fresh CNN and loads trained parameters into it from
// the serialized model file at path.
func LoadModel[B tensor.Backend](path string, backend B) (*model.CNN[B], error) {
	m := model.New(backend)
	if _, err := nn.Load[B](path, backend, m); err != nil {
		return nil, fmt.Errorf("load model %s: %w", path, err)
	}
	return m, nil
}

// Run scores m on data and returns aggregate and per-class accuracies.
// Batches keep dataset order; no gradients are recorded.
func Run[B tensor.Backend](
	log *slog.Logger,
	m *model.CNN[B],
	data *mnist.Dataset,
	batchSize int,
	backend B,
) (Results, error) {
	if data.NumSamples() == 0 {
		return nil, errors.New("empty dataset: nothing to evaluate")
	}

	m.SetTrainMode(false)

	batches, err := mnist.CreateBatches(data, batchSize, false, backend)
	if err != nil {
		return nil, fmt.Errorf("create batches: %w", err)
	}

	log.Info("starting evaluation",
		"samples", data.NumSamples(),
		"batch_size", batchSize,
		"batches", len(batches))

	bar := progressbar.Default(int64(len(batches)), "evaluating")

	totalCorrect := 0
	totalSamples := 0
	classCorrect := make([]int, mnist.NumClasses)
	classTotal := make([]int, mnist.NumClasses)

	for _, batch := range batches {
		logProbs := m.LogProbs(batch.Images)

		probs := logProbs.Raw().AsFloat32()
		labels := batch.Labels.Raw().AsInt32()
		for i := 0; i < batch.Size; i++ {
			pred := argmax(probs[i*mnist.NumClasses : (i+1)*mnist.NumClasses])
			label := int(labels[i])

			classTotal[label]++
			totalSamples++
			if pred == label {
				classCorrect[label]++
				totalCorrect++
			}
		}
		bar.Add(1)
	}

	results := make(Results, mnist.NumClasses+1)
	results["average_accuracy"] = 100.0 * float64(totalCorrect) / float64(totalSamples)
	for c := 0; c < mnist.NumClasses; c++ {
		results[fmt.Sprintf("class_%d_accuracy", c)] =
			100.0 * float64(classCorrect[c]) / (float64(classTotal[c]) + classEpsilon)
	}

	log.Info("evaluation complete", "average_accuracy", results["average_accuracy"])
	return results, nil
}

// argmax returns the index of the largest value in row.
func argmax(row []float32) int {
	best := 0
	for i, v := range row[1:] {
		if v > row[best] {
			best = i + 1
		}
	}
	return best
}

// SaveArtifacts persists the evaluation results and the configuration
// used to produce them, verifying both files exist afterwards.
func SaveArtifacts(log *slog.Logger, results Results, cfg Config, outputDir string) (resultsPath, confPath string, err error) {
	resultsPath = filepath.Join(outputDir, ResultsFile)
	confPath = filepath.Join(outputDir, ConfFile)

	if err := artifact.WriteJSON(resultsPath, results); err != nil {
		return "", "", fmt.Errorf("failed to save the results: %w", err)
	}
	log.Info("saved evaluation results", "path", resultsPath)

	if err := artifact.WriteJSON(confPath, cfg); err != nil {
		return "", "", fmt.Errorf("failed to save the config: %w", err)
	}
	log.Info("saved evaluation config", "path", confPath)

	return resultsPath, confPath, nil
}
