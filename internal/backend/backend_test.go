package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/cumat/internal/device"
)

func TestOpen_CPU(t *testing.T) {
	b, err := Open(device.CPU)
	require.NoError(t, err)
	defer b.Release()

	assert.Equal(t, device.CPU, b.Kind())
}

func TestOpen_UnknownKind(t *testing.T) {
	_, err := Open(device.Kind(42))
	assert.ErrorIs(t, err, device.ErrInvalidArgument)
}

func TestOpen_UnavailableKinds(t *testing.T) {
	for _, kind := range []device.Kind{device.CUDA, device.WebGPU, device.OpenCL} {
		if IsAvailable(kind) {
			continue
		}
		_, err := Open(kind)
		assert.ErrorIs(t, err, device.ErrUnavailable, kind.String())
	}
}

func TestAvailable_IncludesCPU(t *testing.T) {
	kinds := Available()
	require.NotEmpty(t, kinds)
	assert.Equal(t, device.CPU, kinds[len(kinds)-1])
	assert.True(t, IsAvailable(device.CPU))
}

func TestOpenBest(t *testing.T) {
	b, err := OpenBest()
	require.NoError(t, err)
	defer b.Release()
	assert.Contains(t, Available(), b.Kind())
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("CUDA")
	require.NoError(t, err)
	assert.Equal(t, device.CUDA, k)

	_, err = ParseKind("metal")
	assert.Error(t, err)
}
