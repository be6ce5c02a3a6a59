//go:build windows

// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package webgpu provides the WebGPU backend for GPU-accelerated matrix operations.
//
// Example:
//
//	gpu, err := webgpu.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer gpu.Release()
//
//	session, err := linalg.NewSession(matrix.NewTracker(gpu))
package webgpu

import (
	"github.com/born-ml/cumat/backend"
	internalwebgpu "github.com/born-ml/cumat/internal/backend/webgpu"
)

// Backend represents the WebGPU backend implementation.
type Backend = internalwebgpu.Backend

// Option configures a WebGPU backend.
type Option = internalwebgpu.Option

// Compile-time check that Backend implements backend.Backend.
var _ backend.Backend = (*Backend)(nil)

// WithLogger sets the backend logger.
var WithLogger = internalwebgpu.WithLogger

// WithBufferPool enables or disables buffer reuse.
var WithBufferPool = internalwebgpu.WithBufferPool

// New creates a new WebGPU backend.
//
// This function initializes the WebGPU device and returns a backend
// ready for matrix operations. Call Release() when done to free GPU resources.
func New(opts ...Option) (*Backend, error) {
	return internalwebgpu.New(opts...)
}

// IsAvailable checks if WebGPU is available on the current system.
func IsAvailable() bool {
	return internalwebgpu.IsAvailable()
}
