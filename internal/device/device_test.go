package device

import (
	"errors"
	"fmt"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakePtr(n int) Ptr {
	buf := make([]float32, n)
	return NewPtr(unsafe.Pointer(&buf[0]), n)
}

func TestParseKind(t *testing.T) {
	cases := []struct {
		in   string
		want Kind
	}{
		{"cpu", CPU},
		{"", CPU},
		{"CUDA", CUDA},
		{" webgpu ", WebGPU},
		{"wgpu", WebGPU},
		{"OpenCL", OpenCL},
	}
	for _, tc := range cases {
		got, err := ParseKind(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	_, err := ParseKind("tpu")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "CPU", CPU.String())
	assert.Equal(t, "CUDA", CUDA.String())
	assert.Equal(t, "WebGPU", WebGPU.String())
	assert.Equal(t, "OpenCL", OpenCL.String())
	assert.Equal(t, "Unknown", Kind(42).String())
	assert.Equal(t, CPU, Kinds()[len(Kinds())-1], "CPU is the last resort")
}

func TestPtr(t *testing.T) {
	var zero Ptr
	assert.True(t, zero.IsNil())

	p := fakePtr(6)
	assert.False(t, p.IsNil())
	assert.Equal(t, 6, p.Len())
	assert.Equal(t, 24, p.Bytes())
}

func TestErrorCategories(t *testing.T) {
	cause := errors.New("cudaErrorMemoryAllocation")
	err := NewError(ErrTypeAllocation, "matrix.EnsureDevice", "device allocation failed", cause)

	assert.ErrorIs(t, err, ErrAllocation)
	assert.NotErrorIs(t, err, ErrTransfer)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ErrTypeAllocation, TypeOf(err))
	assert.Contains(t, err.Error(), "Allocation")
	assert.Contains(t, err.Error(), "matrix.EnsureDevice")
	assert.Contains(t, err.Error(), "cudaErrorMemoryAllocation")

	wrapped := fmt.Errorf("pipeline stage 2: %w", err)
	assert.ErrorIs(t, wrapped, ErrAllocation)
	assert.Equal(t, ErrTypeAllocation, TypeOf(wrapped))
}

func TestWrapKeepsCategory(t *testing.T) {
	assert.NoError(t, Wrap(ErrTypeBackend, "op", nil))

	inner := NewError(ErrTypeTransfer, "Upload", "", errors.New("bus error"))
	err := Wrap(ErrTypeBackend, "matrix.CopyToDevice", inner)
	assert.ErrorIs(t, err, ErrTransfer)
	assert.NotErrorIs(t, err, ErrBackend)

	plain := Wrap(ErrTypeBackend, "linalg.Multiply", errors.New("status 13"))
	assert.ErrorIs(t, plain, ErrBackend)
	assert.Equal(t, 0, int(TypeOf(errors.New("plain"))))
}

func TestTransposeFlags(t *testing.T) {
	assert.Equal(t, "N", NoTrans.String())
	assert.Equal(t, "T", Trans.String())
	assert.True(t, NoTrans.Valid())
	assert.False(t, Transpose('C').Valid())
}

func TestCheckGemm(t *testing.T) {
	// op(A) 2×3, op(B) 3×4, C 2×4.
	a, b, c := fakePtr(6), fakePtr(12), fakePtr(8)

	require.NoError(t, CheckGemm(NoTrans, NoTrans, 2, 4, 3, a, 2, b, 3, c, 2))
	require.NoError(t, CheckGemm(Trans, Trans, 2, 4, 3, a, 3, b, 4, c, 2))

	tests := []struct {
		name string
		err  error
	}{
		{"bad flag", CheckGemm('X', NoTrans, 2, 4, 3, a, 2, b, 3, c, 2)},
		{"zero dim", CheckGemm(NoTrans, NoTrans, 0, 4, 3, a, 2, b, 3, c, 2)},
		{"short lda", CheckGemm(NoTrans, NoTrans, 2, 4, 3, a, 1, b, 3, c, 2)},
		{"short lda under trans", CheckGemm(Trans, NoTrans, 2, 4, 3, a, 2, b, 3, c, 2)},
		{"short C", CheckGemm(NoTrans, NoTrans, 2, 4, 3, a, 2, b, 3, fakePtr(7), 2)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, tc.err, ErrInvalidArgument)
		})
	}

	err := CheckGemm(NoTrans, NoTrans, 2, 4, 3, Ptr{}, 2, b, 3, c, 2)
	assert.ErrorIs(t, err, ErrNotAllocated)
}

func TestCheckGeam(t *testing.T) {
	a, c := fakePtr(8), fakePtr(8)

	// Transpose a 4×2 column-major A into a 2×4 C without B.
	require.NoError(t, CheckGeam(Trans, NoTrans, 2, 4, a, 4, 0, Ptr{}, 2, c, 2))

	err := CheckGeam(Trans, NoTrans, 2, 4, a, 4, 1, Ptr{}, 2, c, 2)
	assert.ErrorIs(t, err, ErrInvalidArgument, "nil B needs beta == 0")

	err = CheckGeam(Trans, NoTrans, 2, 4, a, 4, 0, Ptr{}, 2, a, 2)
	assert.ErrorIs(t, err, ErrInvalidArgument, "transposed write cannot alias A")

	require.NoError(t, CheckGeam(NoTrans, NoTrans, 2, 4, a, 2, 1, c, 2, a, 2), "in-place add is fine")
}

func TestCheckTransfer(t *testing.T) {
	p := fakePtr(4)
	require.NoError(t, CheckTransfer("Upload", p, make([]float32, 4)))
	assert.ErrorIs(t, CheckTransfer("Upload", p, make([]float32, 3)), ErrInvalidArgument)
	assert.ErrorIs(t, CheckTransfer("Upload", Ptr{}, nil), ErrNotAllocated)
}
