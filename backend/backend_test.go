package backend_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/cumat/backend"
	"github.com/born-ml/cumat/backend/cpu"
)

func TestOpenCPU(t *testing.T) {
	b, err := backend.Open(backend.CPU)
	require.NoError(t, err)
	defer b.Release()
	assert.Equal(t, backend.CPU, b.Kind())
	assert.Contains(t, backend.Available(), backend.CPU)
	assert.True(t, backend.IsAvailable(backend.CPU))
}

func TestParseKind(t *testing.T) {
	k, err := backend.ParseKind("webgpu")
	require.NoError(t, err)
	assert.Equal(t, backend.WebGPU, k)

	_, err = backend.ParseKind("tpu")
	assert.True(t, errors.Is(err, backend.ErrInvalidArgument))
}

func TestCPUFacade(t *testing.T) {
	b := cpu.New()
	defer b.Release()

	p, err := b.Malloc(4)
	require.NoError(t, err)
	require.NoError(t, b.Free(p))
	assert.ErrorIs(t, b.Free(p), backend.ErrDoubleFree)
}
