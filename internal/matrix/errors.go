package matrix

import "errors"

// Sentinel errors. Each is returned wrapped in a *device.Error that also
// matches the corresponding device category.
var (
	// ErrInvalidShape reports non-positive dimensions or a reshape that changes the element count.
	ErrInvalidShape = errors.New("matrix: invalid shape")

	// ErrOutOfRange reports an element index outside the matrix.
	ErrOutOfRange = errors.New("matrix: index out of range")

	// ErrHostNotAllocated reports host access before the host buffer exists.
	ErrHostNotAllocated = errors.New("matrix: host buffer not allocated")

	// ErrReleased reports use of a matrix after Release.
	ErrReleased = errors.New("matrix: released")
)
