// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package backend provides the public API for selecting device backends.
//
// A backend owns device memory and executes the column-major BLAS calls that
// the linalg package issues. Backends are constructed explicitly; there is no
// process-wide handle.
//
// Example:
//
//	b, err := backend.Open(backend.CPU)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer b.Release()
package backend

import (
	"github.com/born-ml/cumat/internal/backend"
	"github.com/born-ml/cumat/internal/device"
)

// Backend is the device contract implemented by every backend.
type Backend = device.Backend

// Stream is an ordered queue of device operations.
type Stream = device.Stream

// Ptr is an opaque device buffer handle.
type Ptr = device.Ptr

// Kind identifies a backend implementation.
type Kind = device.Kind

// Backend kinds.
const (
	CPU    Kind = device.CPU
	CUDA   Kind = device.CUDA
	WebGPU Kind = device.WebGPU
	OpenCL Kind = device.OpenCL
)

// Transpose selects op(X) for BLAS calls.
type Transpose = device.Transpose

// Transpose flags.
const (
	NoTrans Transpose = device.NoTrans
	Trans   Transpose = device.Trans
)

// Option configures backend construction.
type Option = backend.Option

// Error is the typed error returned by backends and matrices.
type Error = device.Error

// ErrorType categorizes an Error.
type ErrorType = device.ErrorType

// Error categories, matched with errors.Is.
var (
	ErrAllocation      = device.ErrAllocation
	ErrTransfer        = device.ErrTransfer
	ErrShape           = device.ErrShape
	ErrBackend         = device.ErrBackend
	ErrInvalidArgument = device.ErrInvalidArgument
	ErrUnavailable     = device.ErrUnavailable
	ErrNotAllocated    = device.ErrNotAllocated
	ErrDoubleFree      = device.ErrDoubleFree
)

// WithLogger passes a logger to the constructed backend.
var WithLogger = backend.WithLogger

// WithParallel sets the worker configuration of the CPU backend.
var WithParallel = backend.WithParallel

// Open constructs a backend of the given kind.
func Open(kind Kind, opts ...Option) (Backend, error) {
	return backend.Open(kind, opts...)
}

// OpenBest opens the fastest usable backend, falling back to CPU.
func OpenBest(opts ...Option) (Backend, error) {
	return backend.OpenBest(opts...)
}

// IsAvailable reports whether a backend of the given kind can be opened.
func IsAvailable(kind Kind) bool {
	return backend.IsAvailable(kind)
}

// Available lists the kinds that can be opened on this machine.
func Available() []Kind {
	return backend.Available()
}

// ParseKind converts a name such as "cpu" or "cuda" to a Kind.
func ParseKind(s string) (Kind, error) {
	return backend.ParseKind(s)
}
