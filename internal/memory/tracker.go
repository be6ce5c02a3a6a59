// Package memory accounts for host and device allocations made on behalf of matrices.
//
// A Tracker is the allocator a matrix.Matrix draws its buffers from. It
// forwards device requests to its backend, keeps byte counts for both sides
// and enforces optional limits.
package memory

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/born-ml/cumat/internal/device"
)

// ErrOutOfMemory is wrapped when an allocation would exceed a configured limit.
var ErrOutOfMemory = errors.New("memory: out of memory")

// Config controls allocation limits. Zero means unlimited.
type Config struct {
	HostLimit   uint64 // Max bytes of live host buffers.
	DeviceLimit uint64 // Max bytes of live device buffers.
}

// DefaultConfig limits host buffers to physical memory where it can be
// determined and leaves device memory to the backend.
func DefaultConfig() Config {
	return Config{HostLimit: systemMemory()}
}

// Stats reports allocation accounting.
type Stats struct {
	HostBytes    uint64
	HostPeak     uint64
	HostAllocs   int64
	HostFrees    int64
	DeviceBytes  uint64
	DevicePeak   uint64
	DeviceAllocs int64
	DeviceFrees  int64
}

// LiveHost returns the number of host buffers not yet freed.
func (s Stats) LiveHost() int64 { return s.HostAllocs - s.HostFrees }

// LiveDevice returns the number of device buffers not yet freed.
func (s Stats) LiveDevice() int64 { return s.DeviceAllocs - s.DeviceFrees }

// Tracker allocates host slices and backend device buffers with accounting.
// Its methods may be called from finalizers, so state is mutex-guarded.
type Tracker struct {
	backend device.Backend
	cfg     Config
	log     zerolog.Logger

	mu       sync.Mutex
	hostLive map[*float32]uint64
	devLive  map[device.Ptr]uint64
	stats    Stats
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger used for allocation events (debug level).
func WithLogger(l zerolog.Logger) Option {
	return func(t *Tracker) { t.log = l }
}

// WithConfig sets allocation limits.
func WithConfig(cfg Config) Option {
	return func(t *Tracker) { t.cfg = cfg }
}

// NewTracker creates a tracker that allocates device memory from b.
func NewTracker(b device.Backend, opts ...Option) *Tracker {
	t := &Tracker{
		backend:  b,
		cfg:      DefaultConfig(),
		log:      zerolog.Nop(),
		hostLive: make(map[*float32]uint64),
		devLive:  make(map[device.Ptr]uint64),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Backend returns the backend device buffers are allocated from.
func (t *Tracker) Backend() device.Backend {
	return t.backend
}

// Config returns the active limits.
func (t *Tracker) Config() Config {
	return t.cfg
}

// HostAlloc returns a zero-filled host buffer of n elements.
func (t *Tracker) HostAlloc(n int) ([]float32, error) {
	const op = "memory.HostAlloc"
	if n <= 0 {
		return nil, device.NewError(device.ErrTypeInvalidArgument, op, fmt.Sprintf("element count must be positive, got %d", n), nil)
	}
	size := bytesFor(n)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cfg.HostLimit > 0 && t.stats.HostBytes+size > t.cfg.HostLimit {
		return nil, device.NewError(device.ErrTypeAllocation, op,
			fmt.Sprintf("%d bytes requested, %d of %d in use", size, t.stats.HostBytes, t.cfg.HostLimit), ErrOutOfMemory)
	}

	buf := make([]float32, n)
	t.hostLive[&buf[0]] = size
	t.stats.HostBytes += size
	t.stats.HostAllocs++
	t.stats.HostPeak = max(t.stats.HostPeak, t.stats.HostBytes)
	t.log.Debug().Int("elements", n).Uint64("host_bytes", t.stats.HostBytes).Msg("host alloc")
	return buf, nil
}

// HostFree returns a buffer obtained from HostAlloc. Unknown or repeated
// frees are ignored.
func (t *Tracker) HostFree(buf []float32) {
	if len(buf) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	size, ok := t.hostLive[&buf[0]]
	if !ok {
		t.log.Debug().Int("elements", len(buf)).Msg("host free of untracked buffer ignored")
		return
	}
	delete(t.hostLive, &buf[0])
	t.stats.HostBytes -= size
	t.stats.HostFrees++
}

// DeviceAlloc allocates a zero-filled device buffer of n elements.
func (t *Tracker) DeviceAlloc(n int) (device.Ptr, error) {
	const op = "memory.DeviceAlloc"
	if n <= 0 {
		return device.Ptr{}, device.NewError(device.ErrTypeInvalidArgument, op, fmt.Sprintf("element count must be positive, got %d", n), nil)
	}
	size := bytesFor(n)

	t.mu.Lock()
	if t.cfg.DeviceLimit > 0 && t.stats.DeviceBytes+size > t.cfg.DeviceLimit {
		inUse := t.stats.DeviceBytes
		t.mu.Unlock()
		return device.Ptr{}, device.NewError(device.ErrTypeAllocation, op,
			fmt.Sprintf("%d bytes requested, %d of %d in use", size, inUse, t.cfg.DeviceLimit), ErrOutOfMemory)
	}
	// Reserve before calling the backend so concurrent finalizers see the charge.
	t.stats.DeviceBytes += size
	t.mu.Unlock()

	p, err := t.backend.Malloc(n)

	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.stats.DeviceBytes -= size
		return device.Ptr{}, device.Wrap(device.ErrTypeAllocation, op, err)
	}
	t.devLive[p] = size
	t.stats.DeviceAllocs++
	t.stats.DevicePeak = max(t.stats.DevicePeak, t.stats.DeviceBytes)
	t.log.Debug().Int("elements", n).Uint64("device_bytes", t.stats.DeviceBytes).Msg("device alloc")
	return p, nil
}

// DeviceFree releases a device buffer through the backend.
func (t *Tracker) DeviceFree(p device.Ptr) error {
	if p.IsNil() {
		return nil
	}
	t.mu.Lock()
	size, ok := t.devLive[p]
	if ok {
		delete(t.devLive, p)
		t.stats.DeviceBytes -= size
		t.stats.DeviceFrees++
	}
	t.mu.Unlock()

	// Untracked pointers still go to the backend, which reports double frees.
	if err := t.backend.Free(p); err != nil {
		return device.Wrap(device.ErrTypeInvalidArgument, "memory.DeviceFree", err)
	}
	return nil
}

// Stats returns a snapshot of the accounting.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

func bytesFor(n int) uint64 {
	return uint64(n) * device.ElementSize //nolint:gosec // G115: n > 0 checked by callers
}
