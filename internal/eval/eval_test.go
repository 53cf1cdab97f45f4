package eval

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/born-ml/born/backend/cpu"
	"github.com/born-ml/born/nn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/mnist-pipeline/internal/artifact"
	"github.com/born-ml/mnist-pipeline/internal/mnist"
	"github.com/born-ml/mnist-pipeline/internal/model"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunProducesAllMetrics(t *testing.T) {
	backend := cpu.New()
	m := model.New(backend)
	data := mnist.Synthetic(30)

	results, err := Run(discard(), m, data, 8, backend)
	require.NoError(t, err)
	require.Len(t, results, mnist.NumClasses+1)

	require.Contains(t, results, "average_accuracy")
	for c := 0; c < mnist.NumClasses; c++ {
		key := fmt.Sprintf("class_%d_accuracy", c)
		require.Contains(t, results, key)
		assert.GreaterOrEqual(t, results[key], 0.0, key)
		assert.LessOrEqual(t, results[key], 100.0, key)
	}
	assert.GreaterOrEqual(t, results["average_accuracy"], 0.0)
	assert.LessOrEqual(t, results["average_accuracy"], 100.0)
}

func TestRunSingleClassDataset(t *testing.T) {
	backend := cpu.New()
	m := model.New(backend)

	// Every sample is a zero: classes 1-9 have no examples.
	data := mnist.Synthetic(10)
	for i := range data.Labels {
		data.Images[i] = data.Images[0]
		data.Labels[i] = 0
	}

	results, err := Run(discard(), m, data, 4, backend)
	require.NoError(t, err)

	// Absent classes score ~0 thanks to the epsilon denominator.
	for c := 1; c < mnist.NumClasses; c++ {
		assert.InDelta(t, 0.0, results[fmt.Sprintf("class_%d_accuracy", c)], 1e-9)
	}

	// With a single class present, the aggregate tracks class 0
	// (up to the epsilon in the per-class denominator).
	assert.InDelta(t, results["average_accuracy"], results["class_0_accuracy"], 0.01)
}

func TestLoadModelRoundTrip(t *testing.T) {
	backend := cpu.New()
	src := model.New(backend)

	path := filepath.Join(t.TempDir(), "model.pkl")
	require.NoError(t, nn.Save[*cpu.Backend](src, path, "MNISTCNN", nil))

	m, err := LoadModel(path, backend)
	require.NoError(t, err)

	data := mnist.Synthetic(6)
	srcResults, err := Run(discard(), src, data, 6, backend)
	require.NoError(t, err)
	loadedResults, err := Run(discard(), m, data, 6, backend)
	require.NoError(t, err)

	assert.Equal(t, srcResults, loadedResults)
}

func TestRunEmptyDataset(t *testing.T) {
	backend := cpu.New()
	m := model.New(backend)

	_, err := Run(discard(), m, mnist.Synthetic(0), 8, backend)
	require.Error(t, err)
	require.Contains(t, err.Error(), "empty dataset")
}

func TestLoadModelMissingFile(t *testing.T) {
	backend := cpu.New()
	_, err := LoadModel(filepath.Join(t.TempDir(), "nope.pkl"), backend)
	require.Error(t, err)
}

func TestSaveArtifacts(t *testing.T) {
	outputDir := t.TempDir()
	cfg := Config{
		PathToData:   "./output/data",
		PathToModel:  "./output/train/model.pkl",
		PathToOutput: outputDir,
		BatchSize:    128,
		UseCUDA:      false,
	}
	results := Results{"average_accuracy": 97.5}

	resultsPath, confPath, err := SaveArtifacts(discard(), results, cfg, outputDir)
	require.NoError(t, err)
	assert.True(t, artifact.Exists(resultsPath))
	assert.True(t, artifact.Exists(confPath))

	var savedResults Results
	require.NoError(t, artifact.ReadJSON(resultsPath, &savedResults))
	assert.Equal(t, results, savedResults)

	var savedConf Config
	require.NoError(t, artifact.ReadJSON(confPath, &savedConf))
	assert.Equal(t, cfg, savedConf)
}

func TestArgmax(t *testing.T) {
	cases := []struct {
		row  []float32
		want int
	}{
		{[]float32{1, 2, 3}, 2},
		{[]float32{3, 2, 1}, 0},
		{[]float32{-5, -1, -3}, 1},
		{[]float32{0}, 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, argmax(tc.row), "row %v", tc.row)
	}
}
