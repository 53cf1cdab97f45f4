// Package model defines the fixed convolutional classifier shared by the
// training and evaluation stages.
//
// The architecture is a constant: both stages import this package so a
// parameter blob saved by one loads cleanly into the other. Only parameter
// values are ever serialized, never the architecture itself.
package model

import (
	"fmt"
	"math"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
)

const (
	imageSize  = 28
	numClasses = 10

	conv1Out   = 32
	conv2Out   = 64
	kernelSize = 5
	poolSize   = 2

	// Spatial size after two conv(5)+pool(2) blocks: 28 -> 24 -> 12 -> 8 -> 4.
	flatFeatures = conv2Out * 4 * 4
)

// CNN is the MNIST classifier:
//
//	Input  [batch, 1, 28, 28]
//	Conv2D 1 -> 32, 5x5 kernel  -> [batch, 32, 24, 24]
//	MaxPool 2x2, ReLU           -> [batch, 32, 12, 12]
//	Conv2D 32 -> 64, 5x5 kernel -> [batch, 64, 8, 8]
//	MaxPool 2x2, ReLU           -> [batch, 64, 4, 4]
//	Flatten                     -> [batch, 1024]
//	Linear 1024 -> 10           -> [batch, 10] logits
type CNN[B tensor.Backend] struct {
	conv1 *nn.Conv2D[B]
	pool1 *nn.MaxPool2D[B]
	relu1 *nn.ReLU[B]
	conv2 *nn.Conv2D[B]
	pool2 *nn.MaxPool2D[B]
	relu2 *nn.ReLU[B]
	fc1   *nn.Linear[B]

	backend B
}

// New constructs the network with freshly initialized weights.
func New[B tensor.Backend](backend B) *CNN[B] {
	return &CNN[B]{
		conv1:   nn.NewConv2D(1, conv1Out, kernelSize, kernelSize, 1, 0, true, backend),
		pool1:   nn.NewMaxPool2D(poolSize, poolSize, backend),
		relu1:   nn.NewReLU[B](),
		conv2:   nn.NewConv2D(conv1Out, conv2Out, kernelSize, kernelSize, 1, 0, true, backend),
		pool2:   nn.NewMaxPool2D(poolSize, poolSize, backend),
		relu2:   nn.NewReLU[B](),
		fc1:     nn.NewLinear[B](flatFeatures, numClasses, backend),
		backend: backend,
	}
}

// Forward computes class logits for a batch of images.
//
// Accepts [batch, 784] (flattened) or [batch, 1, 28, 28] input. Returns
// raw logits; CrossEntropyLoss applies its own log-softmax, and LogProbs
// exposes the log-normalized output for inference.
func (m *CNN[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := input.Shape()
	switch {
	case len(shape) == 2 && shape[1] == imageSize*imageSize:
		input = input.Reshape(shape[0], 1, imageSize, imageSize)
	case len(shape) == 4:
		// Already [batch, 1, 28, 28].
	default:
		panic(fmt.Sprintf("cnn: input must be [batch, 784] or [batch, 1, 28, 28], got %v", shape))
	}

	x := m.relu1.Forward(m.pool1.Forward(m.conv1.Forward(input)))
	x = m.relu2.Forward(m.pool2.Forward(m.conv2.Forward(x)))

	batch := x.Shape()[0]
	x = x.Reshape(batch, flatFeatures)

	return m.fc1.Forward(x)
}

// LogProbs computes log-normalized class probabilities for a batch.
//
// This is the inference output: log-softmax over the logits, computed
// per row with the log-sum-exp trick. It is never recorded on the
// gradient tape.
func (m *CNN[B]) LogProbs(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	logits := m.Forward(input)
	shape := logits.Shape()
	batch, classes := shape[0], shape[1]

	raw, err := tensor.NewRaw(shape, tensor.Float32, m.backend.Device())
	if err != nil {
		panic(fmt.Sprintf("cnn: create log-probs tensor: %v", err))
	}

	logitsData := logits.Raw().AsFloat32()
	out := raw.AsFloat32()
	for b := 0; b < batch; b++ {
		row := logitsData[b*classes : (b+1)*classes]
		copy(out[b*classes:(b+1)*classes], logSoftmax(row))
	}

	return tensor.New[float32, B](raw, m.backend)
}

// logSoftmax computes log(softmax(z)) for one row, shifted by max(z) so
// the exponentials cannot overflow.
func logSoftmax(z []float32) []float32 {
	maxZ := z[0]
	for _, v := range z[1:] {
		if v > maxZ {
			maxZ = v
		}
	}

	sumExp := float32(0.0)
	for _, v := range z {
		sumExp += float32(math.Exp(float64(v - maxZ)))
	}
	logSumExp := maxZ + float32(math.Log(float64(sumExp)))

	result := make([]float32, len(z))
	for i, v := range z {
		result[i] = v - logSumExp
	}
	return result
}

// Parameters returns all trainable parameters, in a fixed order.
func (m *CNN[B]) Parameters() []*nn.Parameter[B] {
	params := make([]*nn.Parameter[B], 0, 6)
	params = append(params, m.conv1.Parameters()...)
	params = append(params, m.conv2.Parameters()...)
	params = append(params, m.fc1.Parameters()...)
	return params
}

// SetTrainMode switches between train mode (gradient tape recording) and
// eval mode (no recording). The transition is a no-op on backends without
// a tape, where the model is always effectively in eval mode.
func (m *CNN[B]) SetTrainMode(train bool) {
	type taped interface {
		GetTape() *autodiff.GradientTape
	}
	tb, ok := any(m.backend).(taped)
	if !ok {
		return
	}
	if train {
		tb.GetTape().StartRecording()
	} else {
		tb.GetTape().StopRecording()
	}
}

// layers enumerates the parameterized layers with the prefixes used for
// state-dict keys. Shared by StateDict and LoadStateDict so the two can
// never disagree.
func (m *CNN[B]) layers() []struct {
	prefix string
	params []*nn.Parameter[B]
} {
	return []struct {
		prefix string
		params []*nn.Parameter[B]
	}{
		{"conv1", m.conv1.Parameters()},
		{"conv2", m.conv2.Parameters()},
		{"fc1", m.fc1.Parameters()},
	}
}

var paramNames = [2]string{"weight", "bias"}

// StateDict exports parameter values keyed "conv1.weight", "conv1.bias",
// "conv2.weight", "conv2.bias", "fc1.weight", "fc1.bias".
func (m *CNN[B]) StateDict() map[string]*tensor.RawTensor {
	stateDict := make(map[string]*tensor.RawTensor, 6)
	for _, layer := range m.layers() {
		for i, p := range layer.params {
			stateDict[layer.prefix+"."+paramNames[i]] = p.Tensor().Raw()
		}
	}
	return stateDict
}

// LoadStateDict copies parameter values from a state dictionary into the
// model, validating every key, shape, and dtype.
func (m *CNN[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	for _, layer := range m.layers() {
		for i, p := range layer.params {
			key := layer.prefix + "." + paramNames[i]
			raw, ok := stateDict[key]
			if !ok {
				return fmt.Errorf("missing %s in state dict", key)
			}
			if !raw.Shape().Equal(p.Tensor().Shape()) {
				return fmt.Errorf("%s shape mismatch: expected %v, got %v",
					key, p.Tensor().Shape(), raw.Shape())
			}
			if raw.DType() != tensor.Float32 {
				return fmt.Errorf("%s dtype mismatch: expected float32, got %v", key, raw.DType())
			}
			copy(p.Tensor().Raw().AsFloat32(), raw.AsFloat32())
		}
	}
	return nil
}

// String returns a description of the architecture.
func (m *CNN[B]) String() string {
	return fmt.Sprintf(`CNN(
  %s
  %s
  ReLU()
  %s
  %s
  ReLU()
  Linear(in=%d, out=%d)
)`,
		m.conv1.String(), m.pool1.String(),
		m.conv2.String(), m.pool2.String(),
		flatFeatures, numClasses)
}
