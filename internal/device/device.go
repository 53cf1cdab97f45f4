// Package device selects the compute backend for a pipeline stage.
//
// The default is the CPU backend. When an accelerator is requested the
// WebGPU backend is probed; if it is unavailable on this platform or
// machine the stage logs a warning and falls back to CPU, mirroring the
// usual "requested GPU, none found" behavior of training scripts.
package device

import (
	"log/slog"

	"github.com/born-ml/born/backend/cpu"
	"github.com/born-ml/born/tensor"
)

// Select returns the backend to run on and a release function the caller
// must invoke when done (a no-op for CPU).
func Select(log *slog.Logger, useAccel bool) (tensor.Backend, func()) {
	if useAccel {
		backend, release, err := newAccelBackend()
		if err == nil {
			log.Info("using GPU backend")
			return backend, release
		}
		log.Warn("use_cuda==True but no cuda devices found; will run on CPU", "reason", err)
	}
	return cpu.New(), func() {}
}
