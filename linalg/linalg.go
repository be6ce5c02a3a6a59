// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package linalg provides the public API for accelerated linear algebra on
// matrices: Transpose, Multiply, MultiplyTransposeLeft and
// MultiplyTransposeRight.
//
// Operations read and write device buffers only. Copy operands to the device
// before calling them and copy results back with CopyToHost.
//
// Example:
//
//	s, err := linalg.Open(backend.CPU)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
//	x, _ := s.FromHost([]float32{1, 2, 3, 4, 1, 2, 3, 4}, 2, 4)
//	_ = x.CopyToDevice()
//	_ = s.Transpose(x)
//	_ = x.CopyToHost()
package linalg

import (
	"github.com/born-ml/cumat/backend"
	"github.com/born-ml/cumat/internal/linalg"
	"github.com/born-ml/cumat/internal/memory"
	"github.com/born-ml/cumat/matrix"
)

// Session binds matrices to one backend and dispatches BLAS calls.
type Session = linalg.Session

// Option configures a Session.
type Option = linalg.Option

// Errors.
var (
	ErrShapeMismatch   = linalg.ErrShapeMismatch
	ErrBackendMismatch = linalg.ErrBackendMismatch
	ErrClosed          = linalg.ErrClosed
)

// WithLogger sets the session logger.
var WithLogger = linalg.WithLogger

// WithOwnedBackend makes Close release the backend.
var WithOwnedBackend = linalg.WithOwnedBackend

// NewSession creates a session on the allocator's backend.
func NewSession(alloc matrix.Allocator, opts ...Option) (*Session, error) {
	return linalg.NewSession(alloc, opts...)
}

// Open opens a backend of the given kind and returns a session that owns it,
// allocating through a Tracker with default limits.
func Open(kind backend.Kind, opts ...Option) (*Session, error) {
	b, err := backend.Open(kind)
	if err != nil {
		return nil, err
	}
	tracker := memory.NewTracker(b)
	s, err := linalg.NewSession(tracker, append([]Option{linalg.WithOwnedBackend()}, opts...)...)
	if err != nil {
		_ = b.Release()
		return nil, err
	}
	return s, nil
}
