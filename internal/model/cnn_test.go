package model

import (
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/born-ml/born/backend/cpu"
	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// randomInput builds a [batch, 784] tensor of values in [-1, 1].
func randomInput(t *testing.T, backend *cpu.Backend, batch int) *tensor.Tensor[float32, *cpu.Backend] {
	t.Helper()

	raw, err := tensor.NewRaw(tensor.Shape{batch, imageSize * imageSize}, tensor.Float32, backend.Device())
	require.NoError(t, err)

	data := raw.AsFloat32()
	rng := rand.New(rand.NewSource(42))
	for i := range data {
		data[i] = rng.Float32()*2 - 1
	}
	return tensor.New[float32, *cpu.Backend](raw, backend)
}

func TestForwardShape(t *testing.T) {
	backend := cpu.New()
	m := New(backend)

	logits := m.Forward(randomInput(t, backend, 2))
	require.Equal(t, tensor.Shape{2, numClasses}, logits.Shape())
}

func TestForwardAccepts4DInput(t *testing.T) {
	backend := cpu.New()
	m := New(backend)

	flat := randomInput(t, backend, 3)
	shaped := flat.Reshape(3, 1, imageSize, imageSize)

	logits := m.Forward(shaped)
	require.Equal(t, tensor.Shape{3, numClasses}, logits.Shape())
}

func TestForwardRejectsBadShape(t *testing.T) {
	backend := cpu.New()
	m := New(backend)

	raw, err := tensor.NewRaw(tensor.Shape{2, 100}, tensor.Float32, backend.Device())
	require.NoError(t, err)
	bad := tensor.New[float32, *cpu.Backend](raw, backend)

	require.Panics(t, func() { m.Forward(bad) })
}

func TestLogProbsNormalized(t *testing.T) {
	backend := cpu.New()
	m := New(backend)

	logProbs := m.LogProbs(randomInput(t, backend, 4))
	require.Equal(t, tensor.Shape{4, numClasses}, logProbs.Shape())

	data := logProbs.Raw().AsFloat32()
	for b := 0; b < 4; b++ {
		sum := 0.0
		for c := 0; c < numClasses; c++ {
			lp := float64(data[b*numClasses+c])
			assert.LessOrEqual(t, lp, 0.0, "log prob must be <= 0")
			sum += math.Exp(lp)
		}
		assert.InDelta(t, 1.0, sum, 1e-4, "row %d probabilities must sum to 1", b)
	}
}

func TestLogProbsPreserveArgmax(t *testing.T) {
	backend := cpu.New()
	m := New(backend)

	input := randomInput(t, backend, 2)
	logits := m.Forward(input).Raw().AsFloat32()
	logProbs := m.LogProbs(input).Raw().AsFloat32()

	for b := 0; b < 2; b++ {
		row := logits[b*numClasses : (b+1)*numClasses]
		lpRow := logProbs[b*numClasses : (b+1)*numClasses]
		assert.Equal(t, maxIndex(row), maxIndex(lpRow), "row %d", b)
	}
}

func maxIndex(row []float32) int {
	best := 0
	for i, v := range row {
		if v > row[best] {
			best = i
		}
	}
	return best
}

func TestParameters(t *testing.T) {
	backend := cpu.New()
	m := New(backend)

	params := m.Parameters()
	require.Len(t, params, 6)

	total := 0
	for _, p := range params {
		count := 1
		for _, dim := range p.Tensor().Shape() {
			count *= dim
		}
		total += count
	}
	// conv1: 32*1*5*5+32, conv2: 64*32*5*5+64, fc1: 1024*10+10
	want := 32*25 + 32 + 64*32*25 + 64 + flatFeatures*numClasses + numClasses
	require.Equal(t, want, total)
}

func TestStateDictRoundTrip(t *testing.T) {
	backend := cpu.New()
	src := New(backend)
	dst := New(backend)

	require.NoError(t, dst.LoadStateDict(src.StateDict()))

	for key, raw := range src.StateDict() {
		got := dst.StateDict()[key]
		require.NotNil(t, got, key)
		assert.Equal(t, raw.AsFloat32(), got.AsFloat32(), key)
	}
}

func TestStateDictKeys(t *testing.T) {
	backend := cpu.New()
	m := New(backend)

	sd := m.StateDict()
	for _, key := range []string{
		"conv1.weight", "conv1.bias",
		"conv2.weight", "conv2.bias",
		"fc1.weight", "fc1.bias",
	} {
		assert.Contains(t, sd, key)
	}
	assert.Len(t, sd, 6)
}

func TestLoadStateDictMissingKey(t *testing.T) {
	backend := cpu.New()
	m := New(backend)

	sd := m.StateDict()
	delete(sd, "fc1.bias")
	require.Error(t, m.LoadStateDict(sd))
}

func TestLoadStateDictShapeMismatch(t *testing.T) {
	backend := cpu.New()
	m := New(backend)

	raw, err := tensor.NewRaw(tensor.Shape{1, 1}, tensor.Float32, backend.Device())
	require.NoError(t, err)

	sd := m.StateDict()
	sd["fc1.weight"] = raw
	require.Error(t, m.LoadStateDict(sd))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	backend := cpu.New()
	src := New(backend)

	path := filepath.Join(t.TempDir(), "model.pkl")
	require.NoError(t, nn.Save[*cpu.Backend](src, path, "MNISTCNN", nil))

	dst := New(backend)
	_, err := nn.Load[*cpu.Backend](path, backend, dst)
	require.NoError(t, err)

	input := randomInput(t, backend, 2)
	assert.Equal(t,
		src.Forward(input).Raw().AsFloat32(),
		dst.Forward(input).Raw().AsFloat32())
}
