//go:build windows

package webgpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/cumat/internal/device"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	if !IsAvailable() {
		t.Skip("WebGPU not available")
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

func TestBackend_RoundTrip(t *testing.T) {
	b := newTestBackend(t)
	assert.Equal(t, device.WebGPU, b.Kind())

	p, err := b.Malloc(8)
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 8), download(t, b, p))

	data := []float32{1, 2, 3, 4, 5, 6, 7, 8}
	require.NoError(t, b.Upload(p, data))
	assert.Equal(t, data, download(t, b, p))

	require.NoError(t, b.Memset(p))
	assert.Equal(t, make([]float32, 8), download(t, b, p))
	require.NoError(t, b.Free(p))
}

func TestBackend_PooledBufferIsZeroed(t *testing.T) {
	b := newTestBackend(t)

	p := upload(t, b, []float32{9, 9, 9, 9})
	require.NoError(t, b.Free(p))

	q, err := b.Malloc(4)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 0, 0}, download(t, b, q))

	stats := b.MemoryStats()
	assert.Equal(t, uint64(1), stats.PoolHits)
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

	sq := upload(t, b, []float32{1, 3, 2, 4})
	require.NoError(t, b.Sgemm(device.Trans, device.NoTrans, 2, 2, 2, 1, sq, 2, sq, 2, 0, c, 2))
	assert.InDeltaSlice(t, []float32{10, 14, 14, 20}, download(t, b, c), 1e-4)
}

func TestBackend_SgeamTranspose(t *testing.T) {
	b := newTestBackend(t)

	a := upload(t, b, []float32{1, 4, 2, 5, 3, 6})
	c, err := b.Malloc(6)
	require.NoError(t, err)

	require.NoError(t, b.Sgeam(device.Trans, device.NoTrans, 3, 2, 1, a, 2, 0, device.Ptr{}, 3, c, 3))
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, download(t, b, c))
}

func TestBackend_SgeamAliasedOutput(t *testing.T) {
	b := newTestBackend(t)

	a := upload(t, b, []float32{1, 2, 3, 4})
	bm := upload(t, b, []float32{10, 20, 30, 40})
	require.NoError(t, b.Sgeam(device.NoTrans, device.NoTrans, 2, 2, 2, a, 2, 1, bm, 2, a, 2))
	assert.Equal(t, []float32{12, 24, 36, 48}, download(t, b, a))
}

func TestBackend_DoubleFree(t *testing.T) {
	b := newTestBackend(t)
	p, err := b.Malloc(2)
	require.NoError(t, err)
	require.NoError(t, b.Free(p))
	assert.ErrorIs(t, b.Free(p), device.ErrDoubleFree)
}

func TestBackend_Identity(t *testing.T) {
	b := newTestBackend(t)
	assert.Equal(t, device.WebGPU, b.Kind())
	assert.Contains(t, b.Name(), "WebGPU")
	if b.adapterInfo != nil {
		assert.Contains(t, b.Name(), b.adapterInfo.Vendor)
	}
}
