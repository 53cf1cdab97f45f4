// Package train runs the training stage: fit the CNN on the MNIST
// training split and persist the learned parameters plus the training
// configuration.
package train

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/optim"
	"github.com/schollz/progressbar/v3"

	"github.com/born-ml/mnist-pipeline/internal/artifact"
	"github.com/born-ml/mnist-pipeline/internal/mnist"
	"github.com/born-ml/mnist-pipeline/internal/model"
)

// Artifact names written by the training stage.
const (
	ModelFile = "model.pkl"
	ConfFile  = "training_conf.json"
)

// Config is the training-stage configuration. It is persisted verbatim
// as training_conf.json next to the model.
type Config struct {
	PathToData   string  `json:"path_to_data"`
	PathToOutput string  `json:"path_to_output"`
	BatchSize    int     `json:"batch_size"`
	LR           float64 `json:"lr"`
	Epochs       int     `json:"epochs"`
	UseCUDA      bool    `json:"use_cuda"`
}

// Run fits m on data for cfg.Epochs epochs with SGD and cross-entropy
// loss. Batches are reshuffled every epoch. With Epochs set to zero the
// model keeps its initial weights and Run returns immediately; the
// caller still persists it. The model is left in eval mode.
func Run[B autodiff.BackwardCapable](
	log *slog.Logger,
	m *model.CNN[B],
	data *mnist.Dataset,
	cfg Config,
	backend B,
) error {
	optimizer := optim.NewSGD(m.Parameters(), optim.SGDConfig{LR: float32(cfg.LR)}, backend)
	criterion := nn.NewCrossEntropyLoss(backend)

	m.SetTrainMode(true)
	defer m.SetTrainMode(false)

	log.Info("starting training",
		"samples", data.NumSamples(),
		"batch_size", cfg.BatchSize,
		"lr", cfg.LR,
		"epochs", cfg.Epochs)

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		batches, err := mnist.CreateBatches(data, cfg.BatchSize, true, backend)
		if err != nil {
			return fmt.Errorf("create batches: %w", err)
		}

		bar := progressbar.Default(int64(len(batches)),
			fmt.Sprintf("epoch %d/%d", epoch+1, cfg.Epochs))

		totalLoss := float32(0.0)
		totalCorrect := 0
		totalSamples := 0

		for _, batch := range batches {
			optimizer.ZeroGrad()

			logits := m.Forward(batch.Images)
			loss := criterion.Forward(logits, batch.Labels)

			grads := autodiff.Backward(loss, backend)
			optimizer.Step(grads)

			totalLoss += loss.Raw().AsFloat32()[0]
			acc := nn.Accuracy(logits, batch.Labels)
			totalCorrect += int(acc * float32(batch.Size))
			totalSamples += batch.Size

			backend.GetTape().Clear()
			bar.Add(1)
		}

		log.Info("epoch complete",
			"epoch", epoch+1,
			"avg_loss", totalLoss/float32(len(batches)),
			"accuracy", 100.0*float32(totalCorrect)/float32(totalSamples))
	}

	return nil
}

// SaveArtifacts persists the trained model and the configuration used to
// produce it, verifying both files exist afterwards.
func SaveArtifacts[B autodiff.BackwardCapable](
	log *slog.Logger,
	m *model.CNN[B],
	cfg Config,
	outputDir string,
) (modelPath, confPath string, err error) {
	modelPath = filepath.Join(outputDir, ModelFile)
	confPath = filepath.Join(outputDir, ConfFile)

	meta := map[string]string{
		"dataset": "mnist",
		"epochs":  fmt.Sprintf("%d", cfg.Epochs),
		"lr":      fmt.Sprintf("%g", cfg.LR),
	}
	if err := nn.Save[B](m, modelPath, "MNISTCNN", meta); err != nil {
		return "", "", fmt.Errorf("save model: %w", err)
	}
	if !artifact.Exists(modelPath) {
		return "", "", fmt.Errorf("failed to save the model: %s: %w", modelPath, artifact.ErrMissing)
	}
	log.Info("saved model", "path", modelPath)

	if err := artifact.WriteJSON(confPath, cfg); err != nil {
		return "", "", fmt.Errorf("failed to save the config: %w", err)
	}
	log.Info("saved training config", "path", confPath)

	return modelPath, confPath, nil
}
