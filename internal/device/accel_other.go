//go:build !windows

package device

import (
	"errors"

	"github.com/born-ml/born/tensor"
)

// The WebGPU backend only builds on windows in this Born release.
func newAccelBackend() (tensor.Backend, func(), error) {
	return nil, nil, errors.New("gpu backend not built for this platform")
}
