package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv(envBackend, "")
	var out bytes.Buffer
	root := newRootCmd(&out, zerolog.Nop())
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestTransposeCommand(t *testing.T) {
	out, err := run(t, "transpose")
	require.NoError(t, err)
	assert.Equal(t, "x (2x4):\n1 2 3 4\n1 2 3 4\ntranspose(x) (4x2):\n1 1\n2 2\n3 3\n4 4\n", out)
}

func TestMultiplyCommand(t *testing.T) {
	for _, variant := range []string{"nn", "tn", "nt"} {
		t.Run(variant, func(t *testing.T) {
			out, err := run(t, "multiply", "--m", "3", "--k", "5", "--n", "2", "--variant", variant)
			require.NoError(t, err)
			lines := strings.Split(strings.TrimSpace(out), "\n")
			require.Len(t, lines, 4)
			assert.Equal(t, "z (3x2):", lines[0])
			for _, l := range lines[1:] {
				assert.Len(t, strings.Fields(l), 2)
			}
		})
	}

	_, err := run(t, "multiply", "--variant", "tt")
	assert.Error(t, err)
}

func TestMultiplyLargeSummarizes(t *testing.T) {
	out, err := run(t, "multiply", "--m", "32", "--k", "8", "--n", "32")
	require.NoError(t, err)
	assert.Contains(t, out, "Matrix(32x32, host=true, device=true)")
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.cumx")
	for _, c := range []string{"none", "zstd", "lz4"} {
		out, err := run(t, "save", path, "--rows", "2", "--cols", "3", "--compression", c)
		require.NoError(t, err)
		assert.Contains(t, out, "saved 2x3 matrix")

		out, err = run(t, "load", path)
		require.NoError(t, err)
		assert.Contains(t, out, "(2x3):")

		out, err = run(t, "load", path, "--transpose")
		require.NoError(t, err)
		assert.Contains(t, out, "(3x2):")
	}

	_, err := run(t, "save", path, "--compression", "brotli")
	assert.Error(t, err)
	_, err = run(t, "load", filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestBackendsCommand(t *testing.T) {
	out, err := run(t, "backends")
	require.NoError(t, err)
	assert.Contains(t, out, "CPU      available")
	assert.Contains(t, out, "CUDA")
}

func TestGlobalFlags(t *testing.T) {
	_, err := run(t, "--backend", "tpu", "transpose")
	assert.Error(t, err)

	_, err = run(t, "--log-level", "loud", "transpose")
	assert.Error(t, err)

	// 2x4 float32 matrix needs 32 bytes per side.
	_, err = run(t, "--device-limit", "16", "transpose")
	assert.Error(t, err)

	_, err = run(t, "--backend", "best", "version")
	require.NoError(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "cumat "+version+"\n", out)
}
