package linalg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/cumat/internal/backend/cpu"
	"github.com/born-ml/cumat/internal/device"
	"github.com/born-ml/cumat/internal/matrix"
	"github.com/born-ml/cumat/internal/memory"
)

func newTestSession(t *testing.T) (*Session, *memory.Tracker) {
	t.Helper()
	tr := memory.NewTracker(cpu.New(), memory.WithConfig(memory.Config{}))
	s, err := NewSession(tr, WithOwnedBackend())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, tr
}

// example is the 2×4 matrix [[1 2 3 4] [1 2 3 4]].
func example(t *testing.T, s *Session) *matrix.Matrix {
	t.Helper()
	m, err := s.FromHost([]float32{1, 2, 3, 4, 1, 2, 3, 4}, 2, 4)
	require.NoError(t, err)
	require.NoError(t, m.CopyToDevice())
	return m
}

func hostOf(t *testing.T, m *matrix.Matrix) []float32 {
	t.Helper()
	require.NoError(t, m.CopyToHost())
	h, err := m.Host()
	require.NoError(t, err)
	return append([]float32(nil), h...)
}

func random(t *testing.T, s *Session, rows, cols int, seed uint64) *matrix.Matrix {
	t.Helper()
	m, err := s.New(rows, cols, matrix.WithSeed(seed))
	require.NoError(t, err)
	require.NoError(t, m.FillRandomUniform(-1, 1))
	require.NoError(t, m.CopyToDevice())
	return m
}

// naive computes op(x)·op(y) on row-major host data.
func naive(x []float32, xr, xc int, tx bool, y []float32, yr, yc int, ty bool) []float32 {
	at := func(d []float32, cols, i, j int, t bool) float32 {
		if t {
			return d[j*cols+i]
		}
		return d[i*cols+j]
	}
	m, k := xr, xc
	if tx {
		m, k = xc, xr
	}
	n := yc
	if ty {
		n = yr
	}
	out := make([]float32, m*n)
	for i := range m {
		for j := range n {
			var sum float32
			for p := range k {
				sum += at(x, xc, i, p, tx) * at(y, yc, p, j, ty)
			}
			out[i*n+j] = sum
		}
	}
	return out
}

func TestTranspose_Example(t *testing.T) {
	s, tr := newTestSession(t)
	x := example(t, s)

	require.NoError(t, s.Transpose(x))
	assert.Equal(t, 4, x.Rows())
	assert.Equal(t, 2, x.Cols())

	// Host untouched until copied back.
	h, _ := x.Host()
	assert.Equal(t, []float32{1, 2, 3, 4, 1, 2, 3, 4}, h)

	assert.Equal(t, []float32{1, 1, 2, 2, 3, 3, 4, 4}, hostOf(t, x))
	v, err := x.Get(2, 1)
	require.NoError(t, err)
	assert.Equal(t, float32(3), v)

	// Scratch was returned.
	assert.Equal(t, int64(1), tr.Stats().LiveDevice())
}

func TestTranspose_Involution(t *testing.T) {
	s, _ := newTestSession(t)
	x := example(t, s)

	require.NoError(t, s.Transpose(x))
	require.NoError(t, s.Transpose(x))
	assert.Equal(t, 2, x.Rows())
	assert.Equal(t, 4, x.Cols())
	assert.Equal(t, []float32{1, 2, 3, 4, 1, 2, 3, 4}, hostOf(t, x))
}

func TestTranspose_NonSquareRandom(t *testing.T) {
	s, _ := newTestSession(t)
	x := random(t, s, 5, 3, 7)
	orig := hostOf(t, x)

	require.NoError(t, s.Transpose(x))
	got := hostOf(t, x)
	for i := range 5 {
		for j := range 3 {
			assert.Equal(t, orig[i*3+j], got[j*5+i])
		}
	}
}

func TestMultiply_Example(t *testing.T) {
	s, _ := newTestSession(t)
	x := example(t, s)
	y := example(t, s)
	require.NoError(t, s.Transpose(y))

	z, err := s.New(2, 2)
	require.NoError(t, err)
	require.NoError(t, s.Multiply(x, y, z))
	assert.Equal(t, []float32{30, 30, 30, 30}, hostOf(t, z))
}

func TestMultiply_Oracle(t *testing.T) {
	s, _ := newTestSession(t)
	x := random(t, s, 3, 5, 1)
	y := random(t, s, 5, 4, 2)
	z, err := s.New(3, 4)
	require.NoError(t, err)

	require.NoError(t, s.Multiply(x, y, z))
	want := naive(hostOf(t, x), 3, 5, false, hostOf(t, y), 5, 4, false)
	assert.InDeltaSlice(t, want, hostOf(t, z), 1e-5)
}

func TestMultiplyTransposeLeft_Oracle(t *testing.T) {
	s, _ := newTestSession(t)
	x := random(t, s, 4, 3, 3)
	y := random(t, s, 4, 2, 4)
	z, err := s.New(3, 2)
	require.NoError(t, err)

	require.NoError(t, s.MultiplyTransposeLeft(x, y, z))
	want := naive(hostOf(t, x), 4, 3, true, hostOf(t, y), 4, 2, false)
	assert.InDeltaSlice(t, want, hostOf(t, z), 1e-5)

	// Same result as an explicit transpose followed by Multiply.
	xt, err := x.Clone()
	require.NoError(t, err)
	require.NoError(t, s.Transpose(xt))
	zz, err := s.New(3, 2)
	require.NoError(t, err)
	require.NoError(t, s.Multiply(xt, y, zz))
	assert.InDeltaSlice(t, hostOf(t, zz), hostOf(t, z), 1e-5)
}

func TestMultiplyTransposeRight_Oracle(t *testing.T) {
	s, _ := newTestSession(t)
	x := random(t, s, 2, 6, 5)
	y := random(t, s, 3, 6, 6)
	z, err := s.New(2, 3)
	require.NoError(t, err)

	require.NoError(t, s.MultiplyTransposeRight(x, y, z))
	want := naive(hostOf(t, x), 2, 6, false, hostOf(t, y), 3, 6, true)
	assert.InDeltaSlice(t, want, hostOf(t, z), 1e-5)

	yt, err := y.Clone()
	require.NoError(t, err)
	require.NoError(t, s.Transpose(yt))
	zz, err := s.New(2, 3)
	require.NoError(t, err)
	require.NoError(t, s.Multiply(x, yt, zz))
	assert.InDeltaSlice(t, hostOf(t, zz), hostOf(t, z), 1e-5)
}

func TestMultiply_OverwritesDestination(t *testing.T) {
	s, _ := newTestSession(t)
	x := example(t, s)
	y := example(t, s)
	require.NoError(t, s.Transpose(y))

	z, err := s.FromHost([]float32{9, 9, 9, 9}, 2, 2)
	require.NoError(t, err)
	require.NoError(t, z.CopyToDevice())
	require.NoError(t, s.Multiply(x, y, z))
	assert.Equal(t, []float32{30, 30, 30, 30}, hostOf(t, z))
}

func TestMultiply_UnpopulatedOperandsAreZero(t *testing.T) {
	s, _ := newTestSession(t)
	x, err := s.New(2, 3)
	require.NoError(t, err)
	y, err := s.New(3, 2)
	require.NoError(t, err)
	z, err := s.New(2, 2)
	require.NoError(t, err)

	require.NoError(t, s.Multiply(x, y, z))
	assert.False(t, x.HostAllocated())
	assert.Equal(t, []float32{0, 0, 0, 0}, hostOf(t, z))
}

func TestShapeMismatch(t *testing.T) {
	s, _ := newTestSession(t)
	x := example(t, s)
	y := example(t, s)
	z, err := s.New(2, 2)
	require.NoError(t, err)

	err = s.Multiply(x, y, z)
	assert.ErrorIs(t, err, ErrShapeMismatch)
	assert.ErrorIs(t, err, device.ErrShape)
	// Nothing was computed or allocated for the destination.
	assert.False(t, z.DeviceAllocated())

	assert.ErrorIs(t, s.MultiplyTransposeLeft(x, y, z), ErrShapeMismatch)
	w, err := s.New(4, 4)
	require.NoError(t, err)
	assert.NoError(t, s.MultiplyTransposeLeft(x, y, w))
	assert.ErrorIs(t, s.MultiplyTransposeRight(x, y, w), ErrShapeMismatch)
	assert.NoError(t, s.MultiplyTransposeRight(x, y, z))
}

func TestAliasedDestination(t *testing.T) {
	s, _ := newTestSession(t)
	x, err := s.New(2, 2)
	require.NoError(t, err)
	y, err := s.New(2, 2)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Multiply(x, y, x), device.ErrInvalidArgument)
}

func TestBackendMismatch(t *testing.T) {
	s, _ := newTestSession(t)
	other, _ := newTestSession(t)

	x := example(t, s)
	y := example(t, other)
	z, err := s.New(2, 2)
	require.NoError(t, err)

	assert.ErrorIs(t, s.MultiplyTransposeRight(x, y, z), ErrBackendMismatch)
	assert.ErrorIs(t, s.Transpose(y), ErrBackendMismatch)
}

func TestSession_Close(t *testing.T) {
	s, _ := newTestSession(t)
	x := example(t, s)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Transpose(x), ErrClosed)
	_, err := s.NewStream()
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Synchronize(), ErrClosed)
}

func TestSession_AsyncCopy(t *testing.T) {
	s, _ := newTestSession(t)
	x, err := s.FromHost([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	require.NoError(t, err)

	st, err := s.NewStream()
	require.NoError(t, err)
	defer st.Release()

	require.NoError(t, x.CopyToDeviceAsync(st))
	require.NoError(t, st.Synchronize())
	require.NoError(t, s.Transpose(x))
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, hostOf(t, x))
}

func TestNewSession_NilAllocator(t *testing.T) {
	_, err := NewSession(nil)
	assert.ErrorIs(t, err, device.ErrInvalidArgument)
}
