// Package cpu implements a device backend that keeps "device" memory in host RAM.
//
// It mirrors the execution model of a GPU runtime: kernels (Sgemm, Sgeam,
// Memset) are queued on a default stream and only complete, or report errors,
// at Synchronize. BLAS calls go through gonum's blas32.
package cpu

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/born-ml/cumat/internal/device"
	"github.com/born-ml/cumat/internal/parallel"
)

// CPUBackend implements device.Backend on host memory.
type CPUBackend struct {
	mu       sync.Mutex
	live     map[unsafe.Pointer][]float32
	released bool

	def     *Stream
	streams map[*Stream]struct{}

	impl blas.Float32
	par  parallel.Config
	log  zerolog.Logger

	memoryStats struct {
		totalAllocatedBytes uint64
		peakMemoryBytes     uint64
		activeBuffers       int64
	}
}

// Option configures a CPUBackend.
type Option func(*CPUBackend)

// WithParallel sets the worker configuration used by the Sgeam kernel.
func WithParallel(cfg parallel.Config) Option {
	return func(b *CPUBackend) { b.par = cfg }
}

// WithLogger sets the logger for backend lifecycle events.
func WithLogger(l zerolog.Logger) Option {
	return func(b *CPUBackend) { b.log = l }
}

// New creates a new CPU backend.
func New(opts ...Option) *CPUBackend {
	b := &CPUBackend{
		live:    make(map[unsafe.Pointer][]float32),
		streams: make(map[*Stream]struct{}),
		impl:    blas32.Implementation(),
		par:     parallel.DefaultConfig(),
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.def = newStream(b)
	b.log.Debug().Int("workers", b.par.NumWorkers).Msg("cpu backend ready")
	return b
}

// Compile-time check that CPUBackend implements device.Backend.
var _ device.Backend = (*CPUBackend)(nil)

// Name returns the backend name.
func (b *CPUBackend) Name() string {
	return "CPU (gonum blas32)"
}

// Kind returns device.CPU.
func (b *CPUBackend) Kind() device.Kind {
	return device.CPU
}

// MemoryStats represents device memory usage of the CPU backend.
type MemoryStats struct {
	TotalAllocatedBytes uint64 // Bytes currently allocated
	PeakMemoryBytes     uint64 // High-water mark of TotalAllocatedBytes
	ActiveBuffers       int64  // Number of live allocations
}

// MemoryStats returns current memory usage statistics.
func (b *CPUBackend) MemoryStats() MemoryStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return MemoryStats{
		TotalAllocatedBytes: b.memoryStats.totalAllocatedBytes,
		PeakMemoryBytes:     b.memoryStats.peakMemoryBytes,
		ActiveBuffers:       b.memoryStats.activeBuffers,
	}
}

// Malloc allocates n zero-filled float32 elements.
func (b *CPUBackend) Malloc(n int) (device.Ptr, error) {
	if n <= 0 {
		return device.Ptr{}, device.NewError(device.ErrTypeInvalidArgument, "cpu.Malloc",
			fmt.Sprintf("element count must be positive, got %d", n), nil)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return device.Ptr{}, errReleased("cpu.Malloc")
	}

	buf := make([]float32, n)
	raw := unsafe.Pointer(&buf[0])
	b.live[raw] = buf

	size := uint64(n) * device.ElementSize //nolint:gosec // G115: n > 0 checked above
	b.memoryStats.totalAllocatedBytes += size
	b.memoryStats.activeBuffers++
	if b.memoryStats.totalAllocatedBytes > b.memoryStats.peakMemoryBytes {
		b.memoryStats.peakMemoryBytes = b.memoryStats.totalAllocatedBytes
	}

	return device.NewPtr(raw, n), nil
}

// Free releases memory returned by Malloc. Freeing twice is an error.
// Free does not wait for queued work; queued kernels hold their own
// reference to the slice.
func (b *CPUBackend) Free(p device.Ptr) error {
	if p.IsNil() {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return nil
	}

	buf, ok := b.live[p.Raw()]
	if !ok {
		return device.NewError(device.ErrTypeInvalidArgument, "cpu.Free", "pointer not owned by backend", device.ErrDoubleFree)
	}
	delete(b.live, p.Raw())

	size := uint64(len(buf)) * device.ElementSize //nolint:gosec // G115: length is non-negative
	if b.memoryStats.totalAllocatedBytes >= size {
		b.memoryStats.totalAllocatedBytes -= size
	}
	b.memoryStats.activeBuffers--
	return nil
}

// Memset zero-fills a device buffer on the default stream.
func (b *CPUBackend) Memset(p device.Ptr) error {
	buf, err := b.slice("cpu.Memset", p)
	if err != nil {
		return err
	}
	return b.def.submit(func() error {
		clear(buf)
		return nil
	})
}

// Upload copies host memory into a device buffer. It waits for the default stream first.
func (b *CPUBackend) Upload(dst device.Ptr, src []float32) error {
	if err := device.CheckTransfer("cpu.Upload", dst, src); err != nil {
		return err
	}
	buf, err := b.slice("cpu.Upload", dst)
	if err != nil {
		return err
	}
	b.def.wait()
	copy(buf, src)
	return nil
}

// UploadAsync queues a host-to-device copy on s. A nil stream means the default stream.
// src must stay untouched until the stream is synchronized.
func (b *CPUBackend) UploadAsync(dst device.Ptr, src []float32, s device.Stream) error {
	if err := device.CheckTransfer("cpu.UploadAsync", dst, src); err != nil {
		return err
	}
	buf, err := b.slice("cpu.UploadAsync", dst)
	if err != nil {
		return err
	}
	stream, err := b.stream("cpu.UploadAsync", s)
	if err != nil {
		return err
	}
	return stream.submit(func() error {
		copy(buf, src)
		return nil
	})
}

// Download copies a device buffer into host memory after draining the default stream.
func (b *CPUBackend) Download(dst []float32, src device.Ptr) error {
	if err := device.CheckTransfer("cpu.Download", src, dst); err != nil {
		return err
	}
	buf, err := b.slice("cpu.Download", src)
	if err != nil {
		return err
	}
	b.def.wait()
	copy(dst, buf)
	return nil
}

// Copy copies one device buffer into another of the same length.
func (b *CPUBackend) Copy(dst, src device.Ptr) error {
	if dst.Len() != src.Len() {
		return device.NewError(device.ErrTypeInvalidArgument, "cpu.Copy",
			fmt.Sprintf("size mismatch: dst %d, src %d", dst.Len(), src.Len()), nil)
	}
	d, err := b.slice("cpu.Copy", dst)
	if err != nil {
		return err
	}
	s, err := b.slice("cpu.Copy", src)
	if err != nil {
		return err
	}
	return b.def.submit(func() error {
		copy(d, s)
		return nil
	})
}

// NewStream creates an execution stream backed by a worker goroutine.
func (b *CPUBackend) NewStream() (device.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return nil, errReleased("cpu.NewStream")
	}
	s := newStream(b)
	b.streams[s] = struct{}{}
	return s, nil
}

// Synchronize waits for the default stream and returns any error raised by queued kernels.
func (b *CPUBackend) Synchronize() error {
	return b.def.Synchronize()
}

// Release stops every stream and drops all device memory.
func (b *CPUBackend) Release() error {
	b.mu.Lock()
	if b.released {
		b.mu.Unlock()
		return nil
	}
	b.released = true
	streams := make([]*Stream, 0, len(b.streams))
	for s := range b.streams {
		streams = append(streams, s)
	}
	b.mu.Unlock()

	var first error
	for _, s := range streams {
		if err := s.Release(); err != nil && first == nil {
			first = err
		}
	}
	if err := b.def.Release(); err != nil && first == nil {
		first = err
	}

	b.mu.Lock()
	leaked := len(b.live)
	b.live = make(map[unsafe.Pointer][]float32)
	b.memoryStats.totalAllocatedBytes = 0
	b.memoryStats.activeBuffers = 0
	b.mu.Unlock()

	b.log.Debug().Int("leaked_buffers", leaked).Msg("cpu backend released")
	return first
}

// slice resolves a device pointer to the Go memory behind it.
func (b *CPUBackend) slice(op string, p device.Ptr) ([]float32, error) {
	if p.IsNil() {
		return nil, device.NewError(device.ErrTypeNotAllocated, op, "nil device pointer", nil)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return nil, errReleased(op)
	}
	buf, ok := b.live[p.Raw()]
	if !ok {
		return nil, device.NewError(device.ErrTypeInvalidArgument, op, "pointer not owned by backend (freed?)", nil)
	}
	if p.Len() > len(buf) {
		return nil, device.NewError(device.ErrTypeInvalidArgument, op,
			fmt.Sprintf("pointer claims %d elements, allocation holds %d", p.Len(), len(buf)), nil)
	}
	return buf[:p.Len()], nil
}

// stream resolves s to a stream owned by this backend.
func (b *CPUBackend) stream(op string, s device.Stream) (*Stream, error) {
	if s == nil {
		return b.def, nil
	}
	cs, ok := s.(*Stream)
	if !ok || cs.owner != b {
		return nil, device.NewError(device.ErrTypeInvalidArgument, op, "stream belongs to another backend", nil)
	}
	return cs, nil
}

func (b *CPUBackend) forget(s *Stream) {
	b.mu.Lock()
	delete(b.streams, s)
	b.mu.Unlock()
}

func errReleased(op string) error {
	return device.NewError(device.ErrTypeUnavailable, op, "backend released", nil)
}
