//go:build cuda

package cuda

/*
#cgo LDFLAGS: -lcublas -lcudart
#include <stdio.h>
#include <cuda_runtime.h>
#include <cublas_v2.h>

static const char* cudaErrStr(cudaError_t e) { return cudaGetErrorString(e); }

typedef struct { void* ptr; cudaError_t err; } alloc_result;

static alloc_result cuda_alloc(size_t bytes) {
    alloc_result r = {0};
    r.err = cudaMalloc(&r.ptr, bytes);
    if (r.err != cudaSuccess) return r;
    r.err = cudaMemset(r.ptr, 0, bytes);
    if (r.err != cudaSuccess) { cudaFree(r.ptr); r.ptr = NULL; }
    return r;
}

typedef struct { cudaStream_t s; cudaError_t err; } stream_result;

static stream_result cuda_stream_create(void) {
    stream_result r = {0};
    r.err = cudaStreamCreate(&r.s);
    return r;
}

typedef struct { cublasHandle_t h; cublasStatus_t st; } handle_result;

static handle_result blas_create(void) {
    handle_result r = {0};
    r.st = cublasCreate(&r.h);
    return r;
}

static int device_count(void) {
    int n = 0;
    if (cudaGetDeviceCount(&n) != cudaSuccess) return 0;
    return n;
}

static const char* device_name(int id, char* buf, size_t len) {
    struct cudaDeviceProp prop;
    cudaError_t e = cudaGetDeviceProperties(&prop, id);
    if (e != cudaSuccess) return cudaGetErrorString(e);
    snprintf(buf, len, "%s", prop.name);
    return NULL;
}
*/
import "C"

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/born-ml/cumat/internal/device"
)

// Backend implements device.Backend on one CUDA device with a cuBLAS handle.
type Backend struct {
	handle C.cublasHandle_t
	id     int
	name   string
	opts   options

	mu       sync.Mutex
	live     map[unsafe.Pointer]int
	pins     []*runtime.Pinner // host memory pinned for default-stream copies
	released bool
}

var _ device.Backend = (*Backend)(nil)

// Available reports whether at least one CUDA device is visible.
func Available() bool {
	return C.device_count() > 0
}

// New selects the configured device and creates a cuBLAS handle.
func New(opts ...Option) (*Backend, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if n := int(C.device_count()); o.deviceID < 0 || o.deviceID >= n {
		return nil, device.NewError(device.ErrTypeUnavailable, "cuda.New",
			fmt.Sprintf("cuda: device %d not present (%d visible)", o.deviceID, n), nil)
	}
	if err := check("cuda.New", C.cudaSetDevice(C.int(o.deviceID))); err != nil {
		return nil, err
	}

	h := C.blas_create()
	if h.st != C.CUBLAS_STATUS_SUCCESS {
		return nil, device.NewError(device.ErrTypeUnavailable, "cuda.New",
			fmt.Sprintf("cuda: cublasCreate failed with status %d", int(h.st)), nil)
	}

	var buf [256]C.char
	name := "CUDA"
	if msg := C.device_name(C.int(o.deviceID), &buf[0], C.size_t(len(buf))); msg == nil {
		name = "CUDA (" + C.GoString(&buf[0]) + ")"
	}

	o.log.Debug().Int("device", o.deviceID).Str("name", name).Msg("cuda backend ready")
	return &Backend{
		handle: h.h,
		id:     o.deviceID,
		name:   name,
		opts:   o,
		live:   make(map[unsafe.Pointer]int),
	}, nil
}

// Open creates a CUDA backend as a device.Backend.
func Open(opts ...Option) (device.Backend, error) {
	b, err := New(opts...)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Name returns the backend name including the device model.
func (b *Backend) Name() string {
	return b.name
}

// Kind returns device.CUDA.
func (b *Backend) Kind() device.Kind {
	return device.CUDA
}

// Malloc allocates n zero-filled float32 elements of device memory.
func (b *Backend) Malloc(n int) (device.Ptr, error) {
	if n <= 0 {
		return device.Ptr{}, device.NewError(device.ErrTypeInvalidArgument, "cuda.Malloc",
			fmt.Sprintf("element count must be positive, got %d", n), nil)
	}
	if err := b.checkOpen("cuda.Malloc"); err != nil {
		return device.Ptr{}, err
	}

	r := C.cuda_alloc(C.size_t(n * device.ElementSize))
	if r.err != C.cudaSuccess {
		return device.Ptr{}, device.NewError(device.ErrTypeAllocation, "cuda.Malloc", errString(r.err), nil)
	}

	b.mu.Lock()
	b.live[r.ptr] = n
	b.mu.Unlock()
	return device.NewPtr(r.ptr, n), nil
}

// Free releases device memory. Freeing twice is an error.
func (b *Backend) Free(p device.Ptr) error {
	if p.IsNil() {
		return nil
	}
	b.mu.Lock()
	if b.released {
		b.mu.Unlock()
		return nil
	}
	_, ok := b.live[p.Raw()]
	delete(b.live, p.Raw())
	b.mu.Unlock()

	if !ok {
		return device.NewError(device.ErrTypeInvalidArgument, "cuda.Free", "pointer not owned by backend", device.ErrDoubleFree)
	}
	// Finalizers call Free on arbitrary threads; select the device first.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if err := check("cuda.Free", C.cudaSetDevice(C.int(b.id))); err != nil {
		return err
	}
	return check("cuda.Free", C.cudaFree(p.Raw()))
}

// Memset zero-fills a device buffer.
func (b *Backend) Memset(p device.Ptr) error {
	if err := b.owned("cuda.Memset", p); err != nil {
		return err
	}
	return check("cuda.Memset", C.cudaMemset(p.Raw(), 0, C.size_t(p.Bytes())))
}

// Upload copies host memory into a device buffer and waits for completion.
func (b *Backend) Upload(dst device.Ptr, src []float32) error {
	if err := device.CheckTransfer("cuda.Upload", dst, src); err != nil {
		return err
	}
	if err := b.owned("cuda.Upload", dst); err != nil {
		return err
	}
	e := C.cudaMemcpy(dst.Raw(), unsafe.Pointer(&src[0]), C.size_t(dst.Bytes()), C.cudaMemcpyHostToDevice)
	return transferError("cuda.Upload", e)
}

// UploadAsync enqueues a host-to-device copy on s (nil: the legacy default
// stream). src stays pinned until that stream is synchronized.
func (b *Backend) UploadAsync(dst device.Ptr, src []float32, s device.Stream) error {
	if err := device.CheckTransfer("cuda.UploadAsync", dst, src); err != nil {
		return err
	}
	if err := b.owned("cuda.UploadAsync", dst); err != nil {
		return err
	}

	var raw C.cudaStream_t
	var cs *Stream
	if s != nil {
		var ok bool
		if cs, ok = s.(*Stream); !ok || cs.owner != b {
			return device.NewError(device.ErrTypeInvalidArgument, "cuda.UploadAsync", "stream belongs to another backend", nil)
		}
		if cs.released {
			return device.NewError(device.ErrTypeUnavailable, "cuda.UploadAsync", "stream released", nil)
		}
		raw = cs.s
	}

	pinner := new(runtime.Pinner)
	pinner.Pin(&src[0])
	e := C.cudaMemcpyAsync(dst.Raw(), unsafe.Pointer(&src[0]), C.size_t(dst.Bytes()), C.cudaMemcpyHostToDevice, raw)
	if e != C.cudaSuccess {
		pinner.Unpin()
		return transferError("cuda.UploadAsync", e)
	}

	if cs != nil {
		cs.pins = append(cs.pins, pinner)
	} else {
		b.mu.Lock()
		b.pins = append(b.pins, pinner)
		b.mu.Unlock()
	}
	return nil
}

// Download copies a device buffer into host memory and waits for completion.
func (b *Backend) Download(dst []float32, src device.Ptr) error {
	if err := device.CheckTransfer("cuda.Download", src, dst); err != nil {
		return err
	}
	if err := b.owned("cuda.Download", src); err != nil {
		return err
	}
	e := C.cudaMemcpy(unsafe.Pointer(&dst[0]), src.Raw(), C.size_t(src.Bytes()), C.cudaMemcpyDeviceToHost)
	return transferError("cuda.Download", e)
}

// Copy copies one device buffer into another of the same length.
func (b *Backend) Copy(dst, src device.Ptr) error {
	if dst.Len() != src.Len() {
		return device.NewError(device.ErrTypeInvalidArgument, "cuda.Copy",
			fmt.Sprintf("size mismatch: dst %d, src %d", dst.Len(), src.Len()), nil)
	}
	if err := b.owned("cuda.Copy", dst); err != nil {
		return err
	}
	if err := b.owned("cuda.Copy", src); err != nil {
		return err
	}
	e := C.cudaMemcpy(dst.Raw(), src.Raw(), C.size_t(src.Bytes()), C.cudaMemcpyDeviceToDevice)
	return transferError("cuda.Copy", e)
}

// NewStream creates a CUDA stream.
func (b *Backend) NewStream() (device.Stream, error) {
	if err := b.checkOpen("cuda.NewStream"); err != nil {
		return nil, err
	}
	r := C.cuda_stream_create()
	if err := check("cuda.NewStream", r.err); err != nil {
		return nil, err
	}
	return &Stream{owner: b, s: r.s}, nil
}

// Synchronize waits for the default stream and reports any pending kernel error.
func (b *Backend) Synchronize() error {
	if err := b.checkOpen("cuda.Synchronize"); err != nil {
		return err
	}
	err := check("cuda.Synchronize", C.cudaStreamSynchronize(nil))

	b.mu.Lock()
	for _, p := range b.pins {
		p.Unpin()
	}
	b.pins = nil
	b.mu.Unlock()

	if err != nil {
		return err
	}
	return check("cuda.Synchronize", C.cudaGetLastError())
}

// Sgemm computes C = alpha*op(A)*op(B) + beta*C with cublasSgemm.
func (b *Backend) Sgemm(tA, tB device.Transpose, m, n, k int, alpha float32, a device.Ptr, lda int,
	bm device.Ptr, ldb int, beta float32, c device.Ptr, ldc int) error {
	if err := device.CheckGemm(tA, tB, m, n, k, a, lda, bm, ldb, c, ldc); err != nil {
		return err
	}
	if err := b.checkOpen("cuda.Sgemm"); err != nil {
		return err
	}
	calpha, cbeta := C.float(alpha), C.float(beta)
	st := C.cublasSgemm(b.handle, op(tA), op(tB), C.int(m), C.int(n), C.int(k),
		&calpha, (*C.float)(a.Raw()), C.int(lda),
		(*C.float)(bm.Raw()), C.int(ldb),
		&cbeta, (*C.float)(c.Raw()), C.int(ldc))
	return blasError("cuda.Sgemm", st)
}

// Sgeam computes C = alpha*op(A) + beta*op(B) with cublasSgeam. B may be nil when beta is zero.
func (b *Backend) Sgeam(tA, tB device.Transpose, m, n int, alpha float32, a device.Ptr, lda int,
	beta float32, bm device.Ptr, ldb int, c device.Ptr, ldc int) error {
	if err := device.CheckGeam(tA, tB, m, n, a, lda, beta, bm, ldb, c, ldc); err != nil {
		return err
	}
	if err := b.checkOpen("cuda.Sgeam"); err != nil {
		return err
	}
	calpha, cbeta := C.float(alpha), C.float(beta)
	st := C.cublasSgeam(b.handle, op(tA), op(tB), C.int(m), C.int(n),
		&calpha, (*C.float)(a.Raw()), C.int(lda),
		&cbeta, (*C.float)(bm.Raw()), C.int(ldb),
		(*C.float)(c.Raw()), C.int(ldc))
	return blasError("cuda.Sgeam", st)
}

// Release frees all live allocations and destroys the cuBLAS handle.
func (b *Backend) Release() error {
	b.mu.Lock()
	if b.released {
		b.mu.Unlock()
		return nil
	}
	b.released = true
	live := b.live
	b.live = nil
	pins := b.pins
	b.pins = nil
	b.mu.Unlock()

	C.cudaDeviceSynchronize()
	for _, p := range pins {
		p.Unpin()
	}
	for raw := range live {
		C.cudaFree(raw)
	}
	C.cublasDestroy(b.handle)
	b.opts.log.Debug().Int("device", b.id).Int("leaked_buffers", len(live)).Msg("cuda backend released")
	return nil
}

func (b *Backend) checkOpen(op string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return device.NewError(device.ErrTypeUnavailable, op, "cuda: backend released", nil)
	}
	return nil
}

func (b *Backend) owned(op string, p device.Ptr) error {
	if p.IsNil() {
		return device.NewError(device.ErrTypeNotAllocated, op, "nil device pointer", nil)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return device.NewError(device.ErrTypeUnavailable, op, "cuda: backend released", nil)
	}
	if _, ok := b.live[p.Raw()]; !ok {
		return device.NewError(device.ErrTypeInvalidArgument, op, "pointer not owned by backend (freed?)", nil)
	}
	return nil
}

// Stream wraps a cudaStream_t and the host memory pinned for its pending copies.
type Stream struct {
	owner    *Backend
	s        C.cudaStream_t
	pins     []*runtime.Pinner
	released bool
}

var _ device.Stream = (*Stream)(nil)

// Synchronize waits for the stream and unpins the host memory of completed copies.
func (s *Stream) Synchronize() error {
	if s.released {
		return nil
	}
	err := check("cuda.Stream.Synchronize", C.cudaStreamSynchronize(s.s))
	for _, p := range s.pins {
		p.Unpin()
	}
	s.pins = nil
	return err
}

// Release synchronizes and destroys the stream. Calling it twice is a no-op.
func (s *Stream) Release() error {
	if s.released {
		return nil
	}
	err := s.Synchronize()
	s.released = true
	if e := check("cuda.Stream.Release", C.cudaStreamDestroy(s.s)); err == nil {
		err = e
	}
	return err
}

func op(t device.Transpose) C.cublasOperation_t {
	if t == device.Trans {
		return C.CUBLAS_OP_T
	}
	return C.CUBLAS_OP_N
}

func errString(e C.cudaError_t) string {
	return "cuda: " + C.GoString(C.cudaErrStr(e))
}

func check(op string, e C.cudaError_t) error {
	if e == C.cudaSuccess {
		return nil
	}
	return device.NewError(device.ErrTypeBackend, op, errString(e), nil)
}

func transferError(op string, e C.cudaError_t) error {
	if e == C.cudaSuccess {
		return nil
	}
	return device.NewError(device.ErrTypeTransfer, op, errString(e), nil)
}

func blasError(op string, st C.cublasStatus_t) error {
	if st == C.CUBLAS_STATUS_SUCCESS {
		return nil
	}
	return device.NewError(device.ErrTypeBackend, op, fmt.Sprintf("cuda: cublas status %d", int(st)), nil)
}
