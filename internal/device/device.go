// Package device defines the contract between device-resident matrices and the
// accelerated BLAS backends that own device memory.
//
// All BLAS entry points follow the column-major convention of the reference
// BLAS: element (i, j) of a matrix with leading dimension ld lives at offset
// j*ld + i.
package device

import (
	"fmt"
	"strings"
	"unsafe"
)

// Kind identifies a backend implementation.
type Kind int

// Supported backend kinds.
const (
	CPU Kind = iota
	CUDA
	WebGPU
	OpenCL
)

// String returns a human-readable backend name.
func (k Kind) String() string {
	switch k {
	case CPU:
		return "CPU"
	case CUDA:
		return "CUDA"
	case WebGPU:
		return "WebGPU"
	case OpenCL:
		return "OpenCL"
	default:
		return "Unknown"
	}
}

// Kinds lists every backend kind in preference order (fastest first).
func Kinds() []Kind {
	return []Kind{CUDA, WebGPU, OpenCL, CPU}
}

// ParseKind converts a case-insensitive backend name into a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cpu", "":
		return CPU, nil
	case "cuda":
		return CUDA, nil
	case "webgpu", "wgpu":
		return WebGPU, nil
	case "opencl", "cl":
		return OpenCL, nil
	default:
		return CPU, NewError(ErrTypeInvalidArgument, "device.ParseKind",
			fmt.Sprintf("unknown backend %q", s), nil)
	}
}

// ElementSize is the byte size of one device element (float32).
const ElementSize = 4

// Ptr is an opaque handle to a device allocation of float32 elements.
// The raw pointer is backend specific: Go memory for the CPU backend,
// a CUDA device address, a *wgpu.Buffer or a *blackcl.Vector.
type Ptr struct {
	raw unsafe.Pointer
	n   int
}

// NewPtr wraps a backend pointer holding n float32 elements.
func NewPtr(raw unsafe.Pointer, n int) Ptr {
	return Ptr{raw: raw, n: n}
}

// Raw returns the backend specific pointer.
func (p Ptr) Raw() unsafe.Pointer {
	return p.raw
}

// Len returns the number of float32 elements.
func (p Ptr) Len() int {
	return p.n
}

// Bytes returns the allocation size in bytes.
func (p Ptr) Bytes() int {
	return p.n * ElementSize
}

// IsNil reports whether p refers to no allocation.
func (p Ptr) IsNil() bool {
	return p.raw == nil
}

// Transpose selects op(X) for BLAS calls.
type Transpose byte

// Transpose flags, spelled as in the reference BLAS.
const (
	NoTrans Transpose = 'N'
	Trans   Transpose = 'T'
)

// String returns "N" or "T".
func (t Transpose) String() string {
	switch t {
	case NoTrans:
		return "N"
	case Trans:
		return "T"
	default:
		return fmt.Sprintf("Transpose(%d)", byte(t))
	}
}

// Valid reports whether t is NoTrans or Trans.
func (t Transpose) Valid() bool {
	return t == NoTrans || t == Trans
}
