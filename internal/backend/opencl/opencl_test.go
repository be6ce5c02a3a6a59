//go:build opencl

package opencl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/cumat/internal/device"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	if !Available() {
		t.Skip("no OpenCL device")
	}
	b, err := New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Release() })
	return b
}

func upload(t *testing.T, b *Backend, data []float32) device.Ptr {
	t.Helper()
	p, err := b.Malloc(len(data))
	require.NoError(t, err)
	require.NoError(t, b.Upload(p, data))
	return p
}

func download(t *testing.T, b *Backend, p device.Ptr) []float32 {
	t.Helper()
	out := make([]float32, p.Len())
	require.NoError(t, b.Download(out, p))
	return out
}

func TestBackend_MallocZeroed(t *testing.T) {
	b := newTestBackend(t)
	p, err := b.Malloc(10)
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 10), download(t, b, p))
}

func TestBackend_Sgemm(t *testing.T) {
	b := newTestBackend(t)
	a := upload(t, b, []float32{1, 4, 2, 5, 3, 6})
	bm := upload(t, b, []float32{7, 9, 11, 8, 10, 12})
	c, err := b.Malloc(4)
	require.NoError(t, err)

	require.NoError(t, b.Sgemm(device.NoTrans, device.NoTrans, 2, 2, 3, 1, a, 2, bm, 3, 0, c, 2))
	require.NoError(t, b.Synchronize())
	assert.InDeltaSlice(t, []float32{58, 139, 64, 154}, download(t, b, c), 1e-4)
}

func TestBackend_SgeamTranspose(t *testing.T) {
	b := newTestBackend(t)
	a := upload(t, b, []float32{1, 4, 2, 5, 3, 6})
	c, err := b.Malloc(6)
	require.NoError(t, err)

	require.NoError(t, b.Sgeam(device.Trans, device.NoTrans, 3, 2, 1, a, 2, 0, device.Ptr{}, 3, c, 3))
	require.NoError(t, b.Synchronize())
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, download(t, b, c))
}

func TestBackend_StreamCopy(t *testing.T) {
	b := newTestBackend(t)
	s, err := b.NewStream()
	require.NoError(t, err)

	p, err := b.Malloc(2)
	require.NoError(t, err)
	require.NoError(t, b.UploadAsync(p, []float32{5, 6}, s))
	require.NoError(t, s.Synchronize())
	assert.Equal(t, []float32{5, 6}, download(t, b, p))

	require.NoError(t, s.Release())
	assert.ErrorIs(t, b.UploadAsync(p, []float32{1, 1}, s), device.ErrUnavailable)
}

func TestBackend_FreeDefersRelease(t *testing.T) {
	b := newTestBackend(t)
	p := upload(t, b, []float32{1, 2, 3, 4})
	require.NoError(t, b.Memset(p))

	require.NoError(t, b.Free(p))
	b.mu.Lock()
	assert.Len(t, b.freed, 1)
	b.mu.Unlock()

	require.NoError(t, b.Synchronize())
	b.mu.Lock()
	assert.Empty(t, b.freed)
	b.mu.Unlock()

	assert.ErrorIs(t, b.Free(p), device.ErrDoubleFree)
}
