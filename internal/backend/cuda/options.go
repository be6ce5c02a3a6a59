// Package cuda implements the device backend on the CUDA runtime and cuBLAS.
//
// Build with -tags cuda and a CUDA toolkit on the linker path. Without the
// tag, Open reports device.ErrUnavailable.
package cuda

import "github.com/rs/zerolog"

// Option configures a Backend.
type Option func(*options)

type options struct {
	log      zerolog.Logger
	deviceID int
}

func defaultOptions() options {
	return options{log: zerolog.Nop()}
}

// WithLogger sets the logger for device selection and teardown.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithDevice selects the CUDA device ordinal (default 0).
func WithDevice(id int) Option {
	return func(o *options) { o.deviceID = id }
}
