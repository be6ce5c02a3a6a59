package linalg

import (
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Matrices dropped without Release are reclaimed by finalizers on the
// runtime's goroutine while the session keeps dispatching.
func TestDispatch_WithFinalizerReclaim(t *testing.T) {
	s, tr := newTestSession(t)

	x := example(t, s)
	y, err := s.FromHost([]float32{1, 1, 2, 2, 3, 3, 4, 4}, 4, 2)
	require.NoError(t, err)
	require.NoError(t, y.CopyToDevice())
	z, err := s.New(2, 2)
	require.NoError(t, err)
	w := example(t, s)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				runtime.GC()
			}
		}
	}()

	for i := range 500 {
		dropped, err := s.New(2, 2)
		require.NoError(t, err)
		require.NoError(t, dropped.EnsureDevice())

		require.NoError(t, s.Multiply(x, y, z))
		require.NoError(t, s.Transpose(w))
		require.NoError(t, s.Transpose(w))
		if i%100 == 0 {
			assert.Equal(t, []float32{30, 30, 30, 30}, hostOf(t, z))
		}
	}
	close(done)
	wg.Wait()

	assert.Equal(t, []float32{30, 30, 30, 30}, hostOf(t, z))
	assert.Equal(t, []float32{1, 2, 3, 4, 1, 2, 3, 4}, hostOf(t, w))
	assert.Equal(t, 2, w.Rows())

	// Only x, y, z and w keep device buffers once the dropped ones are collected.
	assert.Eventually(t, func() bool {
		runtime.GC()
		return tr.Stats().LiveDevice() == 4
	}, 5*time.Second, 10*time.Millisecond)
	runtime.KeepAlive(x)
	runtime.KeepAlive(y)
}
