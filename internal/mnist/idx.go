package mnist

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// IDX magic numbers for the official MNIST files.
const (
	imageMagic = 2051
	labelMagic = 2049
)

// readIDXImages reads an MNIST image file in IDX format.
//
// Layout (all integers big-endian):
//
//	magic number: 0x00000803 (2051)
//	number of images, rows, cols: 4 bytes each
//	pixel data: unsigned bytes (0-255), row-major
func readIDXImages(filename string) ([][]byte, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var magic uint32
	if err := binary.Read(file, binary.BigEndian, &magic); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if magic != imageMagic {
		return nil, fmt.Errorf("%s: invalid magic number: got %d, want %d", filename, magic, imageMagic)
	}

	var numImages, numRows, numCols uint32
	if err := binary.Read(file, binary.BigEndian, &numImages); err != nil {
		return nil, err
	}
	if err := binary.Read(file, binary.BigEndian, &numRows); err != nil {
		return nil, err
	}
	if err := binary.Read(file, binary.BigEndian, &numCols); err != nil {
		return nil, err
	}

	imageSize := int(numRows * numCols)
	images := make([][]byte, numImages)
	for i := range images {
		images[i] = make([]byte, imageSize)
		if _, err := io.ReadFull(file, images[i]); err != nil {
			return nil, fmt.Errorf("read image %d: %w", i, err)
		}
	}

	return images, nil
}

// readIDXLabels reads an MNIST label file in IDX format.
//
// Layout:
//
//	magic number: 0x00000801 (2049)
//	number of labels: 4 bytes
//	label data: unsigned bytes (0-9)
func readIDXLabels(filename string) ([]byte, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var magic uint32
	if err := binary.Read(file, binary.BigEndian, &magic); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if magic != labelMagic {
		return nil, fmt.Errorf("%s: invalid magic number: got %d, want %d", filename, magic, labelMagic)
	}

	var numLabels uint32
	if err := binary.Read(file, binary.BigEndian, &numLabels); err != nil {
		return nil, err
	}

	labels := make([]byte, numLabels)
	if _, err := io.ReadFull(file, labels); err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}

	return labels, nil
}
