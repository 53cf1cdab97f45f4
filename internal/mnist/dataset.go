// Package mnist acquires and loads the MNIST handwritten-digit dataset.
//
// The dataset lives on disk as the four official IDX files inside a data
// directory. Download fetches them from the public mirror when absent;
// Load turns a split into normalized float vectors; CreateBatches packs a
// split into Born tensors for training or evaluation.
package mnist

import (
	"fmt"
	"math/rand"
	"path/filepath"

	"github.com/born-ml/born/tensor"
)

const (
	// NumClasses is the number of digit classes.
	NumClasses = 10

	// ImageSize is the height and width of one image in pixels.
	ImageSize = 28

	numPixels = ImageSize * ImageSize
)

// Extracted IDX file names, as published on the MNIST mirrors.
const (
	trainImagesFile = "train-images-idx3-ubyte"
	trainLabelsFile = "train-labels-idx1-ubyte"
	testImagesFile  = "t10k-images-idx3-ubyte"
	testLabelsFile  = "t10k-labels-idx1-ubyte"
)

// Dataset holds one split of MNIST: normalized pixel vectors and class ids.
//
// Pixels are mapped from [0, 255] to [-1, 1] via (x/255 - 0.5) / 0.5,
// the transform both training and evaluation expect.
type Dataset struct {
	Images [][]float32 // [num_samples][784]
	Labels []int32     // [num_samples], values 0-9
}

// Load reads one split (train or test) from the IDX files in dir.
func Load(dir string, train bool) (*Dataset, error) {
	var imageFile, labelFile string
	if train {
		imageFile = filepath.Join(dir, trainImagesFile)
		labelFile = filepath.Join(dir, trainLabelsFile)
	} else {
		imageFile = filepath.Join(dir, testImagesFile)
		labelFile = filepath.Join(dir, testLabelsFile)
	}

	imagesRaw, err := readIDXImages(imageFile)
	if err != nil {
		return nil, fmt.Errorf("load images: %w", err)
	}
	labelsRaw, err := readIDXLabels(labelFile)
	if err != nil {
		return nil, fmt.Errorf("load labels: %w", err)
	}
	if len(imagesRaw) != len(labelsRaw) {
		return nil, fmt.Errorf("image count (%d) != label count (%d)", len(imagesRaw), len(labelsRaw))
	}

	images := make([][]float32, len(imagesRaw))
	labels := make([]int32, len(labelsRaw))
	for i := range imagesRaw {
		if len(imagesRaw[i]) != numPixels {
			return nil, fmt.Errorf("image %d: got %d pixels, want %d", i, len(imagesRaw[i]), numPixels)
		}
		images[i] = make([]float32, numPixels)
		for j, px := range imagesRaw[i] {
			images[i][j] = (float32(px)/255.0 - 0.5) / 0.5
		}
		if labelsRaw[i] >= NumClasses {
			return nil, fmt.Errorf("label %d out of range: %d", i, labelsRaw[i])
		}
		labels[i] = int32(labelsRaw[i])
	}

	return &Dataset{Images: images, Labels: labels}, nil
}

// NumSamples returns the number of examples in the split.
func (d *Dataset) NumSamples() int {
	return len(d.Images)
}

// Synthetic builds a small in-memory dataset of simple per-digit patterns.
// It is not real MNIST data; it exists so the pipeline can be exercised
// without the downloaded files.
func Synthetic(n int) *Dataset {
	images := make([][]float32, n)
	labels := make([]int32, n)

	for i := 0; i < n; i++ {
		digit := i % NumClasses
		labels[i] = int32(digit)

		images[i] = make([]float32, numPixels)
		for j := range images[i] {
			images[i][j] = -1.0
		}
		// Fill a band of rows whose position depends on the digit.
		startRow := digit * 2
		for row := startRow; row < startRow+8 && row < ImageSize; row++ {
			for col := 5; col < 23; col++ {
				images[i][row*ImageSize+col] = 0.8
			}
		}
	}

	return &Dataset{Images: images, Labels: labels}
}

// Batch is one mini-batch as backend tensors.
type Batch[B tensor.Backend] struct {
	Images *tensor.Tensor[float32, B] // [size, 784]
	Labels *tensor.Tensor[int32, B]   // [size]
	Size   int
}

// CreateBatches splits the dataset into mini-batches of batchSize.
//
// The last batch may be smaller when the dataset does not divide evenly.
// With shuffle set, a fresh random permutation is drawn, so calling this
// once per epoch yields reshuffled training batches; without it, dataset
// order is preserved for evaluation.
func CreateBatches[B tensor.Backend](
	d *Dataset,
	batchSize int,
	shuffle bool,
	backend B,
) ([]*Batch[B], error) {
	numSamples := d.NumSamples()
	if numSamples != len(d.Labels) {
		return nil, fmt.Errorf("images and labels length mismatch: %d != %d", numSamples, len(d.Labels))
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("invalid batch size %d", batchSize)
	}

	indices := make([]int, numSamples)
	for i := range indices {
		indices[i] = i
	}
	if shuffle {
		rand.Shuffle(numSamples, func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
	}

	numBatches := (numSamples + batchSize - 1) / batchSize
	batches := make([]*Batch[B], 0, numBatches)

	for start := 0; start < numSamples; start += batchSize {
		end := start + batchSize
		if end > numSamples {
			end = numSamples
		}
		size := end - start

		imagesRaw, err := tensor.NewRaw(tensor.Shape{size, numPixels}, tensor.Float32, backend.Device())
		if err != nil {
			return nil, fmt.Errorf("create images tensor: %w", err)
		}
		labelsRaw, err := tensor.NewRaw(tensor.Shape{size}, tensor.Int32, backend.Device())
		if err != nil {
			return nil, fmt.Errorf("create labels tensor: %w", err)
		}

		imagesData := imagesRaw.AsFloat32()
		labelsData := labelsRaw.AsInt32()
		for i := start; i < end; i++ {
			idx := indices[i]
			copy(imagesData[(i-start)*numPixels:(i-start+1)*numPixels], d.Images[idx])
			labelsData[i-start] = d.Labels[idx]
		}

		batches = append(batches, &Batch[B]{
			Images: tensor.New[float32, B](imagesRaw, backend),
			Labels: tensor.New[int32, B](labelsRaw, backend),
			Size:   size,
		})
	}

	return batches, nil
}
