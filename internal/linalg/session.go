// Package linalg runs matrix products and transposes of row-major matrices on
// column-major BLAS backends.
//
// A row-major r×c buffer is, byte for byte, the column-major c×r matrix with
// leading dimension c. Every operation is expressed on that view, so no data
// is physically reordered before a BLAS call.
package linalg

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/born-ml/cumat/internal/device"
	"github.com/born-ml/cumat/internal/matrix"
)

var (
	// ErrShapeMismatch reports operands whose dimensions do not fit the operation.
	ErrShapeMismatch = errors.New("linalg: shape mismatch")

	// ErrBackendMismatch reports a matrix allocated on a different backend than the session's.
	ErrBackendMismatch = errors.New("linalg: matrix belongs to another backend")

	// ErrClosed reports use of a session after Close.
	ErrClosed = errors.New("linalg: session closed")
)

// Session binds an allocator and its backend. Operations run on the backend's
// default stream and return once the result is complete.
// A Session is not safe for concurrent use.
type Session struct {
	alloc   matrix.Allocator
	backend device.Backend
	log     zerolog.Logger
	owned   bool
	closed  bool
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger for dispatched operations (debug level).
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithOwnedBackend makes Close release the backend.
func WithOwnedBackend() Option {
	return func(s *Session) { s.owned = true }
}

// NewSession creates a session on the allocator's backend.
func NewSession(alloc matrix.Allocator, opts ...Option) (*Session, error) {
	if alloc == nil || alloc.Backend() == nil {
		return nil, device.NewError(device.ErrTypeInvalidArgument, "linalg.NewSession", "allocator has no backend", nil)
	}
	s := &Session{
		alloc:   alloc,
		backend: alloc.Backend(),
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log.Debug().Str("backend", s.backend.Name()).Msg("session opened")
	return s, nil
}

// Backend returns the session's backend.
func (s *Session) Backend() device.Backend {
	return s.backend
}

// Allocator returns the allocator matrices of this session draw from.
func (s *Session) Allocator() matrix.Allocator {
	return s.alloc
}

// New creates a rows×cols matrix on the session's allocator.
func (s *Session) New(rows, cols int, opts ...matrix.Option) (*matrix.Matrix, error) {
	return matrix.New(s.alloc, rows, cols, opts...)
}

// FromHost creates a matrix on the session's allocator from host data.
func (s *Session) FromHost(data []float32, rows, cols int, opts ...matrix.Option) (*matrix.Matrix, error) {
	return matrix.FromHost(s.alloc, data, rows, cols, opts...)
}

// NewStream creates a backend stream for CopyToDeviceAsync.
func (s *Session) NewStream() (device.Stream, error) {
	if err := s.checkOpen("linalg.NewStream"); err != nil {
		return nil, err
	}
	st, err := s.backend.NewStream()
	if err != nil {
		return nil, device.Wrap(device.ErrTypeBackend, "linalg.NewStream", err)
	}
	return st, nil
}

// Synchronize waits for the default stream and reports asynchronous errors.
func (s *Session) Synchronize() error {
	if err := s.checkOpen("linalg.Synchronize"); err != nil {
		return err
	}
	if err := s.backend.Synchronize(); err != nil {
		return device.Wrap(device.ErrTypeBackend, "linalg.Synchronize", err)
	}
	return nil
}

// Close ends the session, releasing the backend when it is owned.
// Calling Close more than once is a no-op.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.log.Debug().Bool("owned", s.owned).Msg("session closed")
	if s.owned {
		return s.backend.Release()
	}
	return nil
}

func (s *Session) checkOpen(op string) error {
	if s.closed {
		return device.NewError(device.ErrTypeUnavailable, op, "session closed", ErrClosed)
	}
	return nil
}

// bind validates that every matrix belongs to the session's backend.
func (s *Session) bind(op string, ms ...*matrix.Matrix) error {
	if err := s.checkOpen(op); err != nil {
		return err
	}
	for _, m := range ms {
		if m == nil {
			return device.NewError(device.ErrTypeInvalidArgument, op, "nil matrix", nil)
		}
		if m.Backend() != s.backend {
			return device.NewError(device.ErrTypeInvalidArgument, op,
				fmt.Sprintf("matrix on %s, session on %s", m.Backend().Name(), s.backend.Name()), ErrBackendMismatch)
		}
	}
	return nil
}

func shapeError(op, format string, args ...any) error {
	return device.NewError(device.ErrTypeShape, op, fmt.Sprintf(format, args...), ErrShapeMismatch)
}
