// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package matrix provides the public API for device-resident float32 matrices.
//
// A Matrix has a host buffer and a device buffer, both row-major, both
// allocated lazily and never synchronized implicitly. Buffers come from an
// Allocator; Tracker is the standard one and accounts for every byte.
//
// Example:
//
//	tracker := matrix.NewTracker(cpu.New())
//	m, err := matrix.FromHost(tracker, []float32{1, 2, 3, 4}, 2, 2)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer m.Release()
//	_ = m.CopyToDevice()
package matrix

import (
	"github.com/born-ml/cumat/internal/device"
	"github.com/born-ml/cumat/internal/matrix"
	"github.com/born-ml/cumat/internal/memory"
)

// Matrix is a rows×cols float32 matrix with optional host and device buffers.
type Matrix = matrix.Matrix

// Allocator provides the buffers of a matrix.
type Allocator = matrix.Allocator

// Option configures a new Matrix.
type Option = matrix.Option

// Tracker is an Allocator that accounts for and limits allocations.
type Tracker = memory.Tracker

// TrackerOption configures a Tracker.
type TrackerOption = memory.Option

// TrackerConfig holds allocation limits. Zero means unlimited.
type TrackerConfig = memory.Config

// Stats reports Tracker accounting.
type Stats = memory.Stats

// Errors.
var (
	ErrInvalidShape     = matrix.ErrInvalidShape
	ErrOutOfRange       = matrix.ErrOutOfRange
	ErrHostNotAllocated = matrix.ErrHostNotAllocated
	ErrReleased         = matrix.ErrReleased
	ErrOutOfMemory      = memory.ErrOutOfMemory
)

// WithSeed fixes the random source used by FillRandomUniform.
var WithSeed = matrix.WithSeed

// WithTrackerConfig sets Tracker limits.
var WithTrackerConfig = memory.WithConfig

// WithTrackerLogger sets the Tracker logger.
var WithTrackerLogger = memory.WithLogger

// New creates a rows×cols matrix with no buffers allocated.
func New(alloc Allocator, rows, cols int, opts ...Option) (*Matrix, error) {
	return matrix.New(alloc, rows, cols, opts...)
}

// FromHost creates a matrix whose host buffer is a copy of data.
func FromHost(alloc Allocator, data []float32, rows, cols int, opts ...Option) (*Matrix, error) {
	return matrix.FromHost(alloc, data, rows, cols, opts...)
}

// NewTracker creates a Tracker allocating device memory from b.
func NewTracker(b device.Backend, opts ...TrackerOption) *Tracker {
	return memory.NewTracker(b, opts...)
}

// DefaultTrackerConfig returns limits derived from system memory.
func DefaultTrackerConfig() TrackerConfig {
	return memory.DefaultConfig()
}
