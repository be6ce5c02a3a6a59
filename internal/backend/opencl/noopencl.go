//go:build !opencl

package opencl

import "github.com/born-ml/cumat/internal/device"

// Available reports whether an OpenCL device can be used. Always false without the opencl build tag.
func Available() bool { return false }

// Open reports that the binary was built without OpenCL support.
func Open(opts ...Option) (device.Backend, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	o.log.Debug().Msg("opencl backend not compiled in (build with -tags opencl)")
	return nil, device.NewError(device.ErrTypeUnavailable, "opencl.Open", "opencl: built without the opencl tag", nil)
}
