// Package backend selects and constructs device backends by kind.
package backend

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/born-ml/cumat/internal/backend/cpu"
	"github.com/born-ml/cumat/internal/backend/cuda"
	"github.com/born-ml/cumat/internal/backend/opencl"
	"github.com/born-ml/cumat/internal/backend/webgpu"
	"github.com/born-ml/cumat/internal/device"
	"github.com/born-ml/cumat/internal/parallel"
)

// Option configures backend construction.
type Option func(*config)

type config struct {
	log      zerolog.Logger
	parallel parallel.Config
}

// WithLogger passes a logger to the constructed backend.
func WithLogger(l zerolog.Logger) Option {
	return func(c *config) { c.log = l }
}

// WithParallel sets the worker configuration of the CPU backend.
func WithParallel(p parallel.Config) Option {
	return func(c *config) { c.parallel = p }
}

// Open constructs a backend of the given kind. Accelerated kinds that are not
// compiled in or have no device return an error matching device.ErrUnavailable.
func Open(kind device.Kind, opts ...Option) (device.Backend, error) {
	c := config{log: zerolog.Nop(), parallel: parallel.DefaultConfig()}
	for _, opt := range opts {
		opt(&c)
	}
	log := c.log.With().Str("backend", kind.String()).Logger()

	switch kind {
	case device.CPU:
		return cpu.New(cpu.WithParallel(c.parallel), cpu.WithLogger(log)), nil
	case device.CUDA:
		return cuda.Open(cuda.WithLogger(log))
	case device.WebGPU:
		return webgpu.Open(webgpu.WithLogger(log))
	case device.OpenCL:
		return opencl.Open(opencl.WithLogger(log))
	default:
		return nil, device.NewError(device.ErrTypeInvalidArgument, "backend.Open",
			fmt.Sprintf("unknown backend kind %d", int(kind)), nil)
	}
}

// OpenBest opens the first usable backend in device.Kinds order. The CPU
// backend always succeeds, so the error is only non-nil for CPU failures.
func OpenBest(opts ...Option) (device.Backend, error) {
	for _, kind := range Available() {
		b, err := Open(kind, opts...)
		if err == nil {
			return b, nil
		}
	}
	return Open(device.CPU, opts...)
}

// IsAvailable reports whether a backend of this kind can be opened.
func IsAvailable(kind device.Kind) bool {
	switch kind {
	case device.CPU:
		return true
	case device.CUDA:
		return cuda.Available()
	case device.WebGPU:
		return webgpu.IsAvailable()
	case device.OpenCL:
		return opencl.Available()
	default:
		return false
	}
}

// Available lists the usable backend kinds, fastest first.
func Available() []device.Kind {
	var kinds []device.Kind
	for _, k := range device.Kinds() {
		if IsAvailable(k) {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// ParseKind converts a backend name such as "cpu" or "cuda" into a Kind.
func ParseKind(s string) (device.Kind, error) {
	return device.ParseKind(s)
}
