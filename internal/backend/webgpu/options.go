// Package webgpu implements the device backend on WebGPU compute shaders.
// Uses go-webgpu (github.com/go-webgpu/webgpu) for zero-CGO WebGPU bindings.
//
// The backend is only built on windows, where the wgpu_native library ships
// with the bindings. Other platforms get a stub whose Open reports
// device.ErrUnavailable.
package webgpu

import "github.com/rs/zerolog"

// Option configures a Backend.
type Option func(*options)

type options struct {
	log        zerolog.Logger
	maxPooled  int
	usePooling bool
}

func defaultOptions() options {
	return options{
		log:        zerolog.Nop(),
		maxPooled:  maxPoolSize,
		usePooling: true,
	}
}

// WithLogger sets the logger for adapter selection and buffer lifecycle.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithBufferPool enables or disables buffer reuse. max bounds the number of
// idle buffers kept per size category.
func WithBufferPool(enabled bool, maxIdle int) Option {
	return func(o *options) {
		o.usePooling = enabled
		if maxIdle > 0 {
			o.maxPooled = maxIdle
		}
	}
}

const (
	// Size thresholds for buffer categories.
	smallThreshold  = 4 * 1024    // 4KB
	mediumThreshold = 1024 * 1024 // 1MB
	maxPoolSize     = 100         // Max buffers per category
)
