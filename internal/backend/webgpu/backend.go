//go:build windows

package webgpu

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/born-ml/cumat/internal/device"
)

// deviceUsage is the usage set of every buffer handed out by Malloc.
const deviceUsage = wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst

// allocation is the buffer behind a device.Ptr.
type allocation struct {
	buffer *wgpu.Buffer
	size   uint64
}

// Backend implements device.Backend on a WebGPU adapter.
type Backend struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	// Shader and pipeline cache
	shaders   map[string]*wgpu.ShaderModule
	pipelines map[string]*wgpu.ComputePipeline
	mu        sync.RWMutex

	adapterInfo *wgpu.AdapterInfoGo
	bufferPool  *BufferPool
	fence       *wgpu.Buffer
	opts        options

	allocMu  sync.Mutex
	live     map[unsafe.Pointer]*allocation
	released bool

	memoryStats struct {
		totalAllocatedBytes uint64
		peakMemoryBytes     uint64
		activeBuffers       int64
	}
}

var _ device.Backend = (*Backend)(nil)

// New creates a new WebGPU backend.
// Returns an error if WebGPU is not available or initialization fails.
func New(opts ...Option) (backend *Backend, err error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	// Recover from panic if wgpu_native library is not found.
	defer func() {
		if r := recover(); r != nil {
			backend = nil
			err = device.NewError(device.ErrTypeUnavailable, "webgpu.New",
				fmt.Sprintf("webgpu: native library not available: %v", r), nil)
		}
	}()

	instance, instanceErr := wgpu.CreateInstance(nil)
	if instanceErr != nil {
		return nil, device.NewError(device.ErrTypeUnavailable, "webgpu.New", "webgpu: failed to create instance", instanceErr)
	}
	adapter, adapterErr := instance.RequestAdapter(nil)
	if adapterErr != nil {
		instance.Release()
		return nil, device.NewError(device.ErrTypeUnavailable, "webgpu.New", "webgpu: failed to request adapter", adapterErr)
	}

	// Adapter info is descriptive only; a nil result leaves Name generic.
	adapterInfo, infoErr := adapter.GetInfo()
	if infoErr != nil {
		o.log.Debug().Err(infoErr).Msg("webgpu adapter info unavailable")
	}

	dev, deviceErr := adapter.RequestDevice(nil)
	if deviceErr != nil {
		adapter.Release()
		instance.Release()
		return nil, device.NewError(device.ErrTypeUnavailable, "webgpu.New", "webgpu: failed to request device", deviceErr)
	}

	queue := dev.GetQueue()
	if queue == nil {
		dev.Release()
		adapter.Release()
		instance.Release()
		return nil, device.NewError(device.ErrTypeUnavailable, "webgpu.New", "webgpu: failed to get queue", nil)
	}

	b := &Backend{
		instance:    instance,
		adapter:     adapter,
		device:      dev,
		queue:       queue,
		shaders:     make(map[string]*wgpu.ShaderModule),
		pipelines:   make(map[string]*wgpu.ComputePipeline),
		adapterInfo: adapterInfo,
		bufferPool:  NewBufferPool(dev, o.maxPooled),
		opts:        o,
		live:        make(map[unsafe.Pointer]*allocation),
	}
	b.fence = dev.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
		Size:  device.ElementSize,
	})

	o.log.Debug().Str("adapter", b.Name()).Msg("webgpu backend ready")
	return b, nil
}

// Open creates a WebGPU backend as a device.Backend.
func Open(opts ...Option) (device.Backend, error) {
	b, err := New(opts...)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// IsAvailable checks if WebGPU is available on this system.
func IsAvailable() (available bool) {
	// Recover from panic if wgpu_native library is not found.
	defer func() {
		if r := recover(); r != nil {
			available = false
		}
	}()

	instance, err := wgpu.CreateInstance(nil)
	if err != nil {
		return false
	}
	defer instance.Release()

	adapter, err := instance.RequestAdapter(nil)
	if err != nil {
		return false
	}
	adapter.Release()

	return true
}

// Name returns the backend name.
func (b *Backend) Name() string {
	if b.adapterInfo != nil {
		return fmt.Sprintf("WebGPU (%s %s)", b.adapterInfo.Device, b.adapterInfo.Vendor)
	}
	return "WebGPU"
}

// Kind returns device.WebGPU.
func (b *Backend) Kind() device.Kind {
	return device.WebGPU
}

// MemoryStats represents GPU memory usage statistics.
type MemoryStats struct {
	TotalAllocatedBytes uint64 // Bytes held by live allocations
	PeakMemoryBytes     uint64 // High-water mark
	ActiveBuffers       int64  // Live allocations

	// Buffer pool statistics
	PoolAllocated uint64
	PoolReleased  uint64
	PoolHits      uint64
	PoolMisses    uint64
	PooledBuffers int
}

// MemoryStats returns current GPU memory usage statistics.
func (b *Backend) MemoryStats() MemoryStats {
	b.allocMu.Lock()
	stats := MemoryStats{
		TotalAllocatedBytes: b.memoryStats.totalAllocatedBytes,
		PeakMemoryBytes:     b.memoryStats.peakMemoryBytes,
		ActiveBuffers:       b.memoryStats.activeBuffers,
	}
	b.allocMu.Unlock()

	stats.PoolAllocated, stats.PoolReleased, stats.PoolHits, stats.PoolMisses, stats.PooledBuffers = b.bufferPool.Stats()
	return stats
}

// Malloc allocates a zero-filled storage buffer of n float32 elements.
func (b *Backend) Malloc(n int) (device.Ptr, error) {
	if n <= 0 {
		return device.Ptr{}, device.NewError(device.ErrTypeInvalidArgument, "webgpu.Malloc",
			fmt.Sprintf("element count must be positive, got %d", n), nil)
	}
	if err := b.checkOpen("webgpu.Malloc"); err != nil {
		return device.Ptr{}, err
	}

	size := uint64(n) * device.ElementSize //nolint:gosec // G115: n > 0 checked above
	var buffer *wgpu.Buffer
	reused := false
	if b.opts.usePooling {
		buffer, reused = b.bufferPool.Acquire(size, deviceUsage)
	} else {
		buffer = b.device.CreateBuffer(&wgpu.BufferDescriptor{Usage: deviceUsage, Size: size})
	}
	if buffer == nil {
		return device.Ptr{}, device.NewError(device.ErrTypeAllocation, "webgpu.Malloc",
			fmt.Sprintf("webgpu: failed to create %d byte buffer", size), nil)
	}
	// New buffers are zero-initialized; pooled ones carry stale data.
	if reused {
		b.clearBuffer(buffer, size)
	}

	raw := unsafe.Pointer(buffer)
	b.allocMu.Lock()
	b.live[raw] = &allocation{buffer: buffer, size: size}
	b.memoryStats.totalAllocatedBytes += size
	b.memoryStats.activeBuffers++
	if b.memoryStats.totalAllocatedBytes > b.memoryStats.peakMemoryBytes {
		b.memoryStats.peakMemoryBytes = b.memoryStats.totalAllocatedBytes
	}
	b.allocMu.Unlock()

	return device.NewPtr(raw, n), nil
}

// Free returns the buffer to the pool. Freeing twice is an error.
func (b *Backend) Free(p device.Ptr) error {
	if p.IsNil() {
		return nil
	}
	b.allocMu.Lock()
	alloc, ok := b.live[p.Raw()]
	if ok {
		delete(b.live, p.Raw())
		b.memoryStats.totalAllocatedBytes -= alloc.size
		b.memoryStats.activeBuffers--
	}
	released := b.released
	b.allocMu.Unlock()

	// Release already destroyed every buffer.
	if released {
		return nil
	}
	if !ok {
		return device.NewError(device.ErrTypeInvalidArgument, "webgpu.Free", "pointer not owned by backend", device.ErrDoubleFree)
	}
	if b.opts.usePooling {
		b.bufferPool.Release(alloc.buffer, alloc.size, deviceUsage)
	} else {
		alloc.buffer.Release()
	}
	return nil
}

// Memset zero-fills a device buffer.
func (b *Backend) Memset(p device.Ptr) error {
	alloc, err := b.lookup("webgpu.Memset", p)
	if err != nil {
		return err
	}
	b.clearBuffer(alloc.buffer, alloc.size)
	return nil
}

// Upload copies host memory into a device buffer through a mapped staging buffer.
func (b *Backend) Upload(dst device.Ptr, src []float32) error {
	if err := device.CheckTransfer("webgpu.Upload", dst, src); err != nil {
		return err
	}
	alloc, err := b.lookup("webgpu.Upload", dst)
	if err != nil {
		return err
	}
	size := uint64(len(src)) * device.ElementSize //nolint:gosec // G115: length is non-negative
	staging := b.createBuffer(floatBytes(src), wgpu.BufferUsageCopySrc)
	defer staging.Release()

	encoder := b.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(staging, 0, alloc.buffer, 0, size)
	b.queue.Submit(encoder.Finish(nil))
	return nil
}

// UploadAsync enqueues an upload. WebGPU has a single ordered queue and the
// host data is staged before return, so this never blocks on the GPU.
func (b *Backend) UploadAsync(dst device.Ptr, src []float32, s device.Stream) error {
	if s != nil {
		ws, ok := s.(*Stream)
		if !ok || ws.owner != b {
			return device.NewError(device.ErrTypeInvalidArgument, "webgpu.UploadAsync", "stream belongs to another backend", nil)
		}
		if ws.isReleased() {
			return device.NewError(device.ErrTypeUnavailable, "webgpu.UploadAsync", "stream released", nil)
		}
	}
	return b.Upload(dst, src)
}

// Download reads a device buffer back through a staging buffer.
func (b *Backend) Download(dst []float32, src device.Ptr) error {
	if err := device.CheckTransfer("webgpu.Download", src, dst); err != nil {
		return err
	}
	alloc, err := b.lookup("webgpu.Download", src)
	if err != nil {
		return err
	}
	size := uint64(len(dst)) * device.ElementSize //nolint:gosec // G115: length is non-negative
	data, err := b.readBuffer(alloc.buffer, size)
	if err != nil {
		return device.NewError(device.ErrTypeTransfer, "webgpu.Download", "webgpu: readback failed", err)
	}
	copy(floatBytes(dst), data)
	return nil
}

// Copy copies one device buffer into another of the same length.
func (b *Backend) Copy(dst, src device.Ptr) error {
	if dst.Len() != src.Len() {
		return device.NewError(device.ErrTypeInvalidArgument, "webgpu.Copy",
			fmt.Sprintf("size mismatch: dst %d, src %d", dst.Len(), src.Len()), nil)
	}
	d, err := b.lookup("webgpu.Copy", dst)
	if err != nil {
		return err
	}
	s, err := b.lookup("webgpu.Copy", src)
	if err != nil {
		return err
	}
	b.copyBuffer(s.buffer, d.buffer, uint64(src.Bytes())) //nolint:gosec // G115: byte count is non-negative
	return nil
}

// NewStream returns a handle onto the device queue.
func (b *Backend) NewStream() (device.Stream, error) {
	if err := b.checkOpen("webgpu.NewStream"); err != nil {
		return nil, err
	}
	return &Stream{owner: b}, nil
}

// Synchronize blocks until all submitted work has completed.
func (b *Backend) Synchronize() error {
	if err := b.checkOpen("webgpu.Synchronize"); err != nil {
		return err
	}
	// Mapping a buffer waits for every prior submission.
	if _, err := b.readBuffer(b.fence, device.ElementSize); err != nil {
		return device.NewError(device.ErrTypeBackend, "webgpu.Synchronize", "webgpu: queue fence failed", err)
	}
	return nil
}

// Release releases all WebGPU resources. Calling it twice is a no-op.
func (b *Backend) Release() error {
	b.allocMu.Lock()
	if b.released {
		b.allocMu.Unlock()
		return nil
	}
	b.released = true
	for raw, alloc := range b.live {
		alloc.buffer.Release()
		delete(b.live, raw)
	}
	b.allocMu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.bufferPool.Clear()
	if b.fence != nil {
		b.fence.Release()
		b.fence = nil
	}
	for _, p := range b.pipelines {
		p.Release()
	}
	b.pipelines = nil
	for _, s := range b.shaders {
		s.Release()
	}
	b.shaders = nil

	if b.queue != nil {
		b.queue.Release()
		b.queue = nil
	}
	if b.device != nil {
		b.device.Release()
		b.device = nil
	}
	if b.adapter != nil {
		b.adapter.Release()
		b.adapter = nil
	}
	if b.instance != nil {
		b.instance.Release()
		b.instance = nil
	}
	b.opts.log.Debug().Msg("webgpu backend released")
	return nil
}

func (b *Backend) checkOpen(op string) error {
	b.allocMu.Lock()
	defer b.allocMu.Unlock()
	if b.released {
		return device.NewError(device.ErrTypeUnavailable, op, "webgpu: backend released", nil)
	}
	return nil
}

func (b *Backend) lookup(op string, p device.Ptr) (*allocation, error) {
	if p.IsNil() {
		return nil, device.NewError(device.ErrTypeNotAllocated, op, "nil device pointer", nil)
	}
	b.allocMu.Lock()
	defer b.allocMu.Unlock()
	if b.released {
		return nil, device.NewError(device.ErrTypeUnavailable, op, "webgpu: backend released", nil)
	}
	alloc, ok := b.live[p.Raw()]
	if !ok {
		return nil, device.NewError(device.ErrTypeInvalidArgument, op, "pointer not owned by backend (freed?)", nil)
	}
	return alloc, nil
}

// Stream is a handle onto the single WebGPU queue.
type Stream struct {
	owner    *Backend
	mu       sync.Mutex
	released bool
}

var _ device.Stream = (*Stream)(nil)

// Synchronize waits for all work submitted to the queue.
func (s *Stream) Synchronize() error {
	if s.isReleased() {
		return nil
	}
	return s.owner.Synchronize()
}

// Release marks the stream unusable.
func (s *Stream) Release() error {
	s.mu.Lock()
	s.released = true
	s.mu.Unlock()
	return nil
}

func (s *Stream) isReleased() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// floatBytes views a float32 slice as bytes without copying.
func floatBytes(f []float32) []byte {
	if len(f) == 0 {
		return nil
	}
	//nolint:gosec // unsafe.Slice for zero-copy conversion
	return unsafe.Slice((*byte)(unsafe.Pointer(&f[0])), len(f)*device.ElementSize)
}
