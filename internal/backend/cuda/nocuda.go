//go:build !cuda

package cuda

import "github.com/born-ml/cumat/internal/device"

// Available reports whether CUDA/cuBLAS is available. Always false without the cuda build tag.
func Available() bool { return false }

// Open reports that the binary was built without CUDA support.
func Open(opts ...Option) (device.Backend, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	o.log.Debug().Msg("cuda backend not compiled in (build with -tags cuda)")
	return nil, device.NewError(device.ErrTypeUnavailable, "cuda.Open", "cuda: built without the cuda tag", nil)
}
