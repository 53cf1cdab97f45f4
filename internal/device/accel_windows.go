//go:build windows

package device

import (
	"errors"

	"github.com/born-ml/born/backend/webgpu"
	"github.com/born-ml/born/tensor"
)

func newAccelBackend() (tensor.Backend, func(), error) {
	if !webgpu.IsAvailable() {
		return nil, nil, errors.New("webgpu not available")
	}
	backend, err := webgpu.New()
	if err != nil {
		return nil, nil, err
	}
	return backend, func() { backend.Release() }, nil
}
