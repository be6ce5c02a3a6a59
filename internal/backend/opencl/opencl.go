//go:build opencl

package opencl

import (
	_ "embed"
	"fmt"
	"sync"
	"unsafe"

	"gitlab.com/microo8/blackcl"

	"github.com/born-ml/cumat/internal/device"
)

//go:embed kernels.cl
var kernelSrc string

// Backend implements device.Backend on the default OpenCL device.
type Backend struct {
	device  *blackcl.Device
	kernels map[string]*blackcl.Kernel
	opts    options

	mu       sync.Mutex
	live     map[unsafe.Pointer]*blackcl.Vector
	pending  []<-chan error // default-stream work not yet waited on
	freed    []*blackcl.Vector // released once pending work completes
	released bool
}

var _ device.Backend = (*Backend)(nil)

// Available reports whether a default OpenCL device exists.
func Available() bool {
	d, err := blackcl.GetDefaultDevice()
	if err != nil {
		return false
	}
	d.Release()
	return true
}

// New opens the default OpenCL device and builds the kernels.
func New(opts ...Option) (*Backend, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	d, err := blackcl.GetDefaultDevice()
	if err != nil {
		return nil, device.NewError(device.ErrTypeUnavailable, "opencl.New", "opencl: failed to get default device", err)
	}
	d.AddProgram(kernelSrc)

	b := &Backend{
		device:  d,
		kernels: make(map[string]*blackcl.Kernel),
		opts:    o,
		live:    make(map[unsafe.Pointer]*blackcl.Vector),
	}
	for _, name := range []string{"sgemm", "sgeam", "fill_zero", "copy"} {
		b.kernels[name] = d.Kernel(name)
	}

	o.log.Debug().Str("device", d.Name()).Msg("opencl backend ready")
	return b, nil
}

// Open creates an OpenCL backend as a device.Backend.
func Open(opts ...Option) (device.Backend, error) {
	b, err := New(opts...)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Name returns the backend name.
func (b *Backend) Name() string {
	return "OpenCL (" + b.device.Name() + ")"
}

// Kind returns device.OpenCL.
func (b *Backend) Kind() device.Kind {
	return device.OpenCL
}

// Malloc allocates a zero-filled vector of n float32 elements.
func (b *Backend) Malloc(n int) (device.Ptr, error) {
	if n <= 0 {
		return device.Ptr{}, device.NewError(device.ErrTypeInvalidArgument, "opencl.Malloc",
			fmt.Sprintf("element count must be positive, got %d", n), nil)
	}
	if err := b.checkOpen("opencl.Malloc"); err != nil {
		return device.Ptr{}, err
	}

	vec, err := b.device.NewVector(n)
	if err != nil {
		return device.Ptr{}, device.NewError(device.ErrTypeAllocation, "opencl.Malloc", "opencl: failed to create buffer", err)
	}
	if err := <-b.kernels["fill_zero"].Global(n).Local(1).Run(vec, uint32(n)); err != nil {
		vec.Release()
		return device.Ptr{}, device.NewError(device.ErrTypeAllocation, "opencl.Malloc", "opencl: failed to clear buffer", err)
	}

	raw := unsafe.Pointer(vec)
	b.mu.Lock()
	b.live[raw] = vec
	b.mu.Unlock()
	return device.NewPtr(raw, n), nil
}

// Free releases a vector once the default queue's pending work has finished.
// It does not block. Freeing twice is an error.
func (b *Backend) Free(p device.Ptr) error {
	if p.IsNil() {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return nil
	}
	vec, ok := b.live[p.Raw()]
	if !ok {
		return device.NewError(device.ErrTypeInvalidArgument, "opencl.Free", "pointer not owned by backend", device.ErrDoubleFree)
	}
	delete(b.live, p.Raw())
	b.freed = append(b.freed, vec)
	return nil
}

// Memset zero-fills a vector on the default queue.
func (b *Backend) Memset(p device.Ptr) error {
	vec, err := b.vector("opencl.Memset", p)
	if err != nil {
		return err
	}
	b.enqueue(b.kernels["fill_zero"].Global(p.Len()).Local(1).Run(vec, uint32(p.Len()))) //nolint:gosec // G115: length is positive
	return nil
}

// Upload copies host memory into a vector and waits for completion.
func (b *Backend) Upload(dst device.Ptr, src []float32) error {
	if err := device.CheckTransfer("opencl.Upload", dst, src); err != nil {
		return err
	}
	vec, err := b.vector("opencl.Upload", dst)
	if err != nil {
		return err
	}
	if err := b.drain(); err != nil {
		return err
	}
	if err := <-vec.Copy(src); err != nil {
		return device.NewError(device.ErrTypeTransfer, "opencl.Upload", "opencl: failed to copy to device", err)
	}
	return nil
}

// UploadAsync starts a copy whose completion is observed by synchronizing s.
func (b *Backend) UploadAsync(dst device.Ptr, src []float32, s device.Stream) error {
	if err := device.CheckTransfer("opencl.UploadAsync", dst, src); err != nil {
		return err
	}
	vec, err := b.vector("opencl.UploadAsync", dst)
	if err != nil {
		return err
	}
	if s == nil {
		b.enqueue(vec.Copy(src))
		return nil
	}
	cs, ok := s.(*Stream)
	if !ok || cs.owner != b {
		return device.NewError(device.ErrTypeInvalidArgument, "opencl.UploadAsync", "stream belongs to another backend", nil)
	}
	return cs.add(func() <-chan error { return vec.Copy(src) })
}

// Download reads a vector into host memory after draining the default queue.
func (b *Backend) Download(dst []float32, src device.Ptr) error {
	if err := device.CheckTransfer("opencl.Download", src, dst); err != nil {
		return err
	}
	vec, err := b.vector("opencl.Download", src)
	if err != nil {
		return err
	}
	if err := b.drain(); err != nil {
		return err
	}
	data, err := vec.Data()
	if err != nil {
		return device.NewError(device.ErrTypeTransfer, "opencl.Download", "opencl: failed to read device buffer", err)
	}
	copy(dst, data)
	return nil
}

// Copy copies one vector into another of the same length.
func (b *Backend) Copy(dst, src device.Ptr) error {
	if dst.Len() != src.Len() {
		return device.NewError(device.ErrTypeInvalidArgument, "opencl.Copy",
			fmt.Sprintf("size mismatch: dst %d, src %d", dst.Len(), src.Len()), nil)
	}
	d, err := b.vector("opencl.Copy", dst)
	if err != nil {
		return err
	}
	s, err := b.vector("opencl.Copy", src)
	if err != nil {
		return err
	}
	b.enqueue(b.kernels["copy"].Global(src.Len()).Local(1).Run(s, d, uint32(src.Len()))) //nolint:gosec // G115: length is positive
	return nil
}

// NewStream returns a stream that tracks its own pending copies.
func (b *Backend) NewStream() (device.Stream, error) {
	if err := b.checkOpen("opencl.NewStream"); err != nil {
		return nil, err
	}
	return &Stream{owner: b}, nil
}

// Synchronize waits for all default-queue work and returns the first error.
func (b *Backend) Synchronize() error {
	if err := b.checkOpen("opencl.Synchronize"); err != nil {
		return err
	}
	return b.drain()
}

// Sgemm computes C = alpha*op(A)*op(B) + beta*C (column-major).
func (b *Backend) Sgemm(tA, tB device.Transpose, m, n, k int, alpha float32, a device.Ptr, lda int,
	bm device.Ptr, ldb int, beta float32, c device.Ptr, ldc int) error {
	if err := device.CheckGemm(tA, tB, m, n, k, a, lda, bm, ldb, c, ldc); err != nil {
		return err
	}
	av, err := b.vector("opencl.Sgemm", a)
	if err != nil {
		return err
	}
	bv, err := b.vector("opencl.Sgemm", bm)
	if err != nil {
		return err
	}
	cv, err := b.vector("opencl.Sgemm", c)
	if err != nil {
		return err
	}
	//nolint:gosec // G115: dimensions are validated positive
	b.enqueue(b.kernels["sgemm"].Global(m, n).Local(1, 1).Run(av, bv, cv,
		uint32(m), uint32(n), uint32(k), uint32(lda), uint32(ldb), uint32(ldc),
		flag(tA), flag(tB), alpha, beta))
	return nil
}

// Sgeam computes C = alpha*op(A) + beta*op(B) (column-major). B may be nil when beta is zero.
func (b *Backend) Sgeam(tA, tB device.Transpose, m, n int, alpha float32, a device.Ptr, lda int,
	beta float32, bm device.Ptr, ldb int, c device.Ptr, ldc int) error {
	if err := device.CheckGeam(tA, tB, m, n, a, lda, beta, bm, ldb, c, ldc); err != nil {
		return err
	}
	av, err := b.vector("opencl.Sgeam", a)
	if err != nil {
		return err
	}
	bv := av
	if !bm.IsNil() && beta != 0 {
		if bv, err = b.vector("opencl.Sgeam", bm); err != nil {
			return err
		}
	} else {
		ldb = lda
	}
	cv, err := b.vector("opencl.Sgeam", c)
	if err != nil {
		return err
	}
	//nolint:gosec // G115: dimensions are validated positive
	b.enqueue(b.kernels["sgeam"].Global(m, n).Local(1, 1).Run(av, bv, cv,
		uint32(m), uint32(n), uint32(lda), uint32(ldb), uint32(ldc),
		flag(tA), flag(tB), alpha, beta))
	return nil
}

// Release frees every vector and the device. Calling it twice is a no-op.
func (b *Backend) Release() error {
	first := b.drain()

	b.mu.Lock()
	if b.released {
		b.mu.Unlock()
		return nil
	}
	b.released = true
	live, freed := b.live, b.freed
	b.live, b.freed = nil, nil
	b.mu.Unlock()

	for _, vec := range live {
		vec.Release()
	}
	for _, vec := range freed {
		vec.Release()
	}
	if err := b.device.Release(); err != nil && first == nil {
		first = device.NewError(device.ErrTypeBackend, "opencl.Release", "opencl: failed to release device", err)
	}
	b.opts.log.Debug().Int("leaked_buffers", len(live)).Msg("opencl backend released")
	return first
}

func (b *Backend) enqueue(done <-chan error) {
	b.mu.Lock()
	b.pending = append(b.pending, done)
	b.mu.Unlock()
}

// drain waits for every pending default-queue operation and returns the first error.
// Vectors freed before the call are released once that work has finished.
func (b *Backend) drain() error {
	b.mu.Lock()
	pending, freed := b.pending, b.freed
	b.pending, b.freed = nil, nil
	b.mu.Unlock()

	err := wait("opencl.Synchronize", pending)
	for _, vec := range freed {
		vec.Release()
	}
	return err
}

func (b *Backend) checkOpen(op string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return device.NewError(device.ErrTypeUnavailable, op, "opencl: backend released", nil)
	}
	return nil
}

func (b *Backend) vector(op string, p device.Ptr) (*blackcl.Vector, error) {
	if p.IsNil() {
		return nil, device.NewError(device.ErrTypeNotAllocated, op, "nil device pointer", nil)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return nil, device.NewError(device.ErrTypeUnavailable, op, "opencl: backend released", nil)
	}
	vec, ok := b.live[p.Raw()]
	if !ok {
		return nil, device.NewError(device.ErrTypeInvalidArgument, op, "pointer not owned by backend (freed?)", nil)
	}
	return vec, nil
}

// Stream collects completion channels of asynchronous copies.
type Stream struct {
	owner    *Backend
	mu       sync.Mutex
	pending  []<-chan error
	released bool
}

var _ device.Stream = (*Stream)(nil)

func (s *Stream) add(start func() <-chan error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return device.NewError(device.ErrTypeUnavailable, "opencl.Stream", "stream released", nil)
	}
	s.pending = append(s.pending, start())
	return nil
}

// Synchronize waits for the stream's copies and returns the first error.
func (s *Stream) Synchronize() error {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()
	return wait("opencl.Stream.Synchronize", pending)
}

// Release drains the stream. Calling it twice is a no-op.
func (s *Stream) Release() error {
	err := s.Synchronize()
	s.mu.Lock()
	s.released = true
	s.mu.Unlock()
	return err
}

func wait(op string, pending []<-chan error) error {
	var first error
	for _, done := range pending {
		if err := <-done; err != nil && first == nil {
			first = device.NewError(device.ErrTypeBackend, op, "opencl: queued operation failed", err)
		}
	}
	return first
}

func flag(t device.Transpose) uint32 {
	if t == device.Trans {
		return 1
	}
	return 0
}
