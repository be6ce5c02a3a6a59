// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu provides the pure Go CPU backend.
//
// Device memory is ordinary Go memory, GEMM runs on gonum's blas32
// implementation, and streams are goroutine workers. The CPU backend is
// always available and serves as the reference for accelerated backends.
//
// Example:
//
//	b := cpu.New()
//	defer b.Release()
//	session, err := linalg.NewSession(matrix.NewTracker(b))
package cpu

import (
	"github.com/born-ml/cumat/backend"
	internalcpu "github.com/born-ml/cumat/internal/backend/cpu"
)

// Backend represents the CPU backend implementation.
type Backend = internalcpu.CPUBackend

// Option configures a CPU backend.
type Option = internalcpu.Option

// Compile-time check that Backend implements backend.Backend.
var _ backend.Backend = (*Backend)(nil)

// WithParallel sets the worker configuration of the GEAM kernel.
var WithParallel = internalcpu.WithParallel

// WithLogger sets the backend logger.
var WithLogger = internalcpu.WithLogger

// New creates a new CPU backend.
func New(opts ...Option) *Backend {
	return internalcpu.New(opts...)
}
