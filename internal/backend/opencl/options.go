// Package opencl implements the device backend on OpenCL through blackcl.
//
// Build with -tags opencl and an OpenCL ICD loader installed. Without the
// tag, Open reports device.ErrUnavailable.
package opencl

import "github.com/rs/zerolog"

// Option configures a Backend.
type Option func(*options)

type options struct {
	log zerolog.Logger
}

func defaultOptions() options {
	return options{log: zerolog.Nop()}
}

// WithLogger sets the logger for device selection and teardown.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}
