//go:build !windows

package webgpu

import "github.com/born-ml/cumat/internal/device"

// IsAvailable reports whether a WebGPU adapter can be used. Always false on this platform.
func IsAvailable() bool { return false }

// Open reports that WebGPU is not built for this platform.
func Open(opts ...Option) (device.Backend, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	o.log.Debug().Msg("webgpu backend not built for this platform")
	return nil, device.NewError(device.ErrTypeUnavailable, "webgpu.Open", "webgpu: not supported on this platform", nil)
}
