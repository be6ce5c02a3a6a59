package memory

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/cumat/internal/backend/cpu"
	"github.com/born-ml/cumat/internal/device"
)

func newTestTracker(t *testing.T, cfg Config) *Tracker {
	t.Helper()
	b := cpu.New()
	t.Cleanup(func() { _ = b.Release() })
	return NewTracker(b, WithConfig(cfg))
}

func TestTracker_HostAccounting(t *testing.T) {
	tr := newTestTracker(t, Config{})

	a, err := tr.HostAlloc(10)
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 10), a)
	b, err := tr.HostAlloc(5)
	require.NoError(t, err)

	s := tr.Stats()
	assert.Equal(t, uint64(60), s.HostBytes)
	assert.Equal(t, int64(2), s.LiveHost())

	tr.HostFree(a)
	tr.HostFree(a) // ignored
	tr.HostFree(b)

	s = tr.Stats()
	assert.Equal(t, uint64(0), s.HostBytes)
	assert.Equal(t, uint64(60), s.HostPeak)
	assert.Equal(t, int64(0), s.LiveHost())
}

func TestTracker_DeviceAccounting(t *testing.T) {
	tr := newTestTracker(t, Config{})

	p, err := tr.DeviceAlloc(8)
	require.NoError(t, err)
	assert.Equal(t, 8, p.Len())
	assert.Equal(t, uint64(32), tr.Stats().DeviceBytes)

	require.NoError(t, tr.DeviceFree(p))
	s := tr.Stats()
	assert.Equal(t, uint64(0), s.DeviceBytes)
	assert.Equal(t, uint64(32), s.DevicePeak)
	assert.Equal(t, int64(0), s.LiveDevice())

	err = tr.DeviceFree(p)
	require.Error(t, err)
	assert.True(t, errors.Is(err, device.ErrDoubleFree))
	assert.NoError(t, tr.DeviceFree(device.Ptr{}))
}

func TestTracker_Limits(t *testing.T) {
	tr := newTestTracker(t, Config{HostLimit: 40, DeviceLimit: 16})

	_, err := tr.HostAlloc(10)
	require.NoError(t, err)
	_, err = tr.HostAlloc(1)
	assert.ErrorIs(t, err, ErrOutOfMemory)
	assert.ErrorIs(t, err, device.ErrAllocation)

	p, err := tr.DeviceAlloc(4)
	require.NoError(t, err)
	_, err = tr.DeviceAlloc(1)
	assert.ErrorIs(t, err, ErrOutOfMemory)

	// Freeing makes room again.
	require.NoError(t, tr.DeviceFree(p))
	_, err = tr.DeviceAlloc(4)
	assert.NoError(t, err)
}

func TestTracker_InvalidSize(t *testing.T) {
	tr := newTestTracker(t, Config{})
	_, err := tr.HostAlloc(0)
	assert.ErrorIs(t, err, device.ErrInvalidArgument)
	_, err = tr.DeviceAlloc(-1)
	assert.ErrorIs(t, err, device.ErrInvalidArgument)
}

func TestTracker_BackendFailure(t *testing.T) {
	b := cpu.New()
	tr := NewTracker(b, WithConfig(Config{}))
	require.NoError(t, b.Release())

	_, err := tr.DeviceAlloc(4)
	require.Error(t, err)
	assert.ErrorIs(t, err, device.ErrUnavailable)
	assert.Equal(t, uint64(0), tr.Stats().DeviceBytes)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, uint64(0), cfg.DeviceLimit)
	assert.Equal(t, systemMemory(), cfg.HostLimit)
}
