// Package matrix provides a dense float32 matrix that lives in host memory,
// device memory, or both.
//
// Both buffers are row-major and hold Rows()*Cols() elements. They are
// allocated lazily, zero-filled on first allocation, and never synchronized
// implicitly: data moves only through CopyToDevice, CopyToDeviceAsync and
// CopyToHost. A Matrix is not safe for concurrent use.
package matrix

import (
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/born-ml/cumat/internal/device"
)

// Allocator provides the buffers of a matrix. memory.Tracker implements it.
type Allocator interface {
	HostAlloc(n int) ([]float32, error)
	HostFree(buf []float32)
	DeviceAlloc(n int) (device.Ptr, error)
	DeviceFree(p device.Ptr) error
	Backend() device.Backend
}

// Matrix is a rows×cols float32 matrix with optional host and device buffers.
type Matrix struct {
	rows, cols int
	host       []float32
	dev        device.Ptr
	alloc      Allocator
	rng        *rand.Rand
	released   bool
}

// Option configures a new Matrix.
type Option func(*options)

type options struct {
	seed    uint64
	hasSeed bool
}

// WithSeed fixes the random source used by FillRandomUniform.
// Without it the source is seeded from the wall clock.
func WithSeed(seed uint64) Option {
	return func(o *options) {
		o.seed = seed
		o.hasSeed = true
	}
}

// New creates a rows×cols matrix with no buffers allocated.
func New(alloc Allocator, rows, cols int, opts ...Option) (*Matrix, error) {
	if rows <= 0 || cols <= 0 {
		return nil, device.NewError(device.ErrTypeShape, "matrix.New",
			fmt.Sprintf("dimensions must be positive, got %dx%d", rows, cols), ErrInvalidShape)
	}
	if alloc == nil {
		return nil, device.NewError(device.ErrTypeInvalidArgument, "matrix.New", "nil allocator", nil)
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.hasSeed {
		o.seed = uint64(time.Now().UnixNano()) //nolint:gosec // G115: any bit pattern is a valid seed
	}

	m := &Matrix{
		rows:  rows,
		cols:  cols,
		alloc: alloc,
		rng:   rand.New(rand.NewPCG(o.seed, o.seed^0x9e3779b97f4a7c15)), //nolint:gosec // G404: not used for security
	}

	// Return buffers of unreachable matrices.
	runtime.SetFinalizer(m, func(m *Matrix) {
		_ = m.Release()
	})
	return m, nil
}

// FromHost creates a rows×cols matrix whose host buffer is a copy of the
// first rows*cols elements of data. The device buffer is not allocated.
func FromHost(alloc Allocator, data []float32, rows, cols int, opts ...Option) (*Matrix, error) {
	m, err := New(alloc, rows, cols, opts...)
	if err != nil {
		return nil, err
	}
	if len(data) < m.ElementCount() {
		_ = m.Release()
		return nil, device.NewError(device.ErrTypeInvalidArgument, "matrix.FromHost",
			fmt.Sprintf("need %d elements, got %d", rows*cols, len(data)), nil)
	}
	if err := m.EnsureHost(); err != nil {
		_ = m.Release()
		return nil, err
	}
	copy(m.host, data[:m.ElementCount()])
	return m, nil
}

// Rows returns the number of rows.
func (m *Matrix) Rows() int { return m.rows }

// Cols returns the number of columns.
func (m *Matrix) Cols() int { return m.cols }

// ElementCount returns Rows()*Cols().
func (m *Matrix) ElementCount() int { return m.rows * m.cols }

// HostAllocated reports whether the host buffer exists.
func (m *Matrix) HostAllocated() bool { return m.host != nil }

// DeviceAllocated reports whether the device buffer exists.
func (m *Matrix) DeviceAllocated() bool { return !m.dev.IsNil() }

// Allocator returns the allocator the matrix draws buffers from.
func (m *Matrix) Allocator() Allocator { return m.alloc }

// Backend returns the backend that owns the device buffer.
func (m *Matrix) Backend() device.Backend { return m.alloc.Backend() }

// EnsureHost allocates a zero-filled host buffer if none exists.
func (m *Matrix) EnsureHost() error {
	if m.released {
		return errReleased("matrix.EnsureHost")
	}
	if m.host != nil {
		return nil
	}
	buf, err := m.alloc.HostAlloc(m.ElementCount())
	if err != nil {
		return device.Wrap(device.ErrTypeAllocation, "matrix.EnsureHost", err)
	}
	m.host = buf
	return nil
}

// EnsureDevice allocates a zero-filled device buffer if none exists.
func (m *Matrix) EnsureDevice() error {
	if m.released {
		return errReleased("matrix.EnsureDevice")
	}
	if !m.dev.IsNil() {
		return nil
	}
	p, err := m.alloc.DeviceAlloc(m.ElementCount())
	if err != nil {
		return device.Wrap(device.ErrTypeAllocation, "matrix.EnsureDevice", err)
	}
	m.dev = p
	return nil
}

// CopyToDevice copies the whole host buffer to the device buffer, allocating
// either as needed. On transfer failure the device buffer is released.
func (m *Matrix) CopyToDevice() error {
	if err := m.EnsureHost(); err != nil {
		return err
	}
	if err := m.EnsureDevice(); err != nil {
		return err
	}
	if err := m.Backend().Upload(m.dev, m.host); err != nil {
		_ = m.FreeDevice()
		return device.NewError(device.ErrTypeTransfer, "matrix.CopyToDevice", "host to device copy failed", err)
	}
	return nil
}

// CopyToDeviceAsync enqueues a host-to-device copy on s and returns without
// waiting. The host buffer must exist and must not change until s is
// synchronized. A nil stream means the backend's default stream.
func (m *Matrix) CopyToDeviceAsync(s device.Stream) error {
	if m.released {
		return errReleased("matrix.CopyToDeviceAsync")
	}
	if m.host == nil {
		return device.NewError(device.ErrTypeNotAllocated, "matrix.CopyToDeviceAsync", "source buffer missing", ErrHostNotAllocated)
	}
	if err := m.EnsureDevice(); err != nil {
		return err
	}
	if err := m.Backend().UploadAsync(m.dev, m.host, s); err != nil {
		_ = m.FreeDevice()
		return device.NewError(device.ErrTypeTransfer, "matrix.CopyToDeviceAsync", "host to device copy failed", err)
	}
	return nil
}

// CopyToHost copies the whole device buffer to the host buffer, allocating
// either as needed. On transfer failure the device buffer is released.
func (m *Matrix) CopyToHost() error {
	if err := m.EnsureHost(); err != nil {
		return err
	}
	if err := m.EnsureDevice(); err != nil {
		return err
	}
	if err := m.Backend().Download(m.host, m.dev); err != nil {
		_ = m.FreeDevice()
		return device.NewError(device.ErrTypeTransfer, "matrix.CopyToHost", "device to host copy failed", err)
	}
	return nil
}

// ClearDevice zero-fills the device buffer, allocating it if needed.
func (m *Matrix) ClearDevice() error {
	if err := m.EnsureDevice(); err != nil {
		return err
	}
	b := m.Backend()
	if err := b.Memset(m.dev); err != nil {
		return device.Wrap(device.ErrTypeBackend, "matrix.ClearDevice", err)
	}
	if err := b.Synchronize(); err != nil {
		return device.Wrap(device.ErrTypeBackend, "matrix.ClearDevice", err)
	}
	return nil
}

// ClearHost zero-fills the host buffer, allocating it if needed.
func (m *Matrix) ClearHost() error {
	if err := m.EnsureHost(); err != nil {
		return err
	}
	clear(m.host)
	return nil
}

// FillRandomUniform sets every host element to a uniform value in [lo, hi),
// allocating the host buffer if needed. The device buffer is untouched.
func (m *Matrix) FillRandomUniform(lo, hi float32) error {
	if !(lo < hi) || math.IsInf(float64(hi-lo), 0) {
		return device.NewError(device.ErrTypeInvalidArgument, "matrix.FillRandomUniform",
			fmt.Sprintf("need finite lo < hi, got [%g, %g)", lo, hi), nil)
	}
	if err := m.EnsureHost(); err != nil {
		return err
	}
	span := hi - lo
	top := math.Nextafter32(hi, lo)
	for i := range m.host {
		// Rounding can land exactly on hi.
		m.host[i] = min(lo+span*m.rng.Float32(), top)
	}
	return nil
}

// Get returns element (i, j) of the host buffer.
func (m *Matrix) Get(i, j int) (float32, error) {
	idx, err := m.index("matrix.Get", i, j)
	if err != nil {
		return 0, err
	}
	return m.host[idx], nil
}

// Set writes element (i, j) of the host buffer.
func (m *Matrix) Set(i, j int, v float32) error {
	idx, err := m.index("matrix.Set", i, j)
	if err != nil {
		return err
	}
	m.host[idx] = v
	return nil
}

func (m *Matrix) index(op string, i, j int) (int, error) {
	if m.released {
		return 0, errReleased(op)
	}
	if m.host == nil {
		return 0, device.NewError(device.ErrTypeNotAllocated, op, "call EnsureHost first", ErrHostNotAllocated)
	}
	if i < 0 || i >= m.rows || j < 0 || j >= m.cols {
		return 0, device.NewError(device.ErrTypeInvalidArgument, op,
			fmt.Sprintf("(%d, %d) outside %dx%d", i, j, m.rows, m.cols), ErrOutOfRange)
	}
	return i*m.cols + j, nil
}

// Host returns the host buffer. The slice aliases the matrix storage.
func (m *Matrix) Host() ([]float32, error) {
	if m.released {
		return nil, errReleased("matrix.Host")
	}
	if m.host == nil {
		return nil, device.NewError(device.ErrTypeNotAllocated, "matrix.Host", "call EnsureHost first", ErrHostNotAllocated)
	}
	return m.host, nil
}

// Device returns the device buffer, allocating it if needed.
func (m *Matrix) Device() (device.Ptr, error) {
	if err := m.EnsureDevice(); err != nil {
		return device.Ptr{}, err
	}
	return m.dev, nil
}

// Reshape changes the dimensions without touching data. rows*cols must stay the same.
func (m *Matrix) Reshape(rows, cols int) error {
	if rows <= 0 || cols <= 0 || rows*cols != m.ElementCount() {
		return device.NewError(device.ErrTypeShape, "matrix.Reshape",
			fmt.Sprintf("cannot reshape %dx%d to %dx%d", m.rows, m.cols, rows, cols), ErrInvalidShape)
	}
	m.rows, m.cols = rows, cols
	return nil
}

// Clone returns a new matrix with copies of whichever buffers are allocated.
func (m *Matrix) Clone() (*Matrix, error) {
	if m.released {
		return nil, errReleased("matrix.Clone")
	}
	c, err := New(m.alloc, m.rows, m.cols, WithSeed(m.rng.Uint64()))
	if err != nil {
		return nil, err
	}
	if m.host != nil {
		if err := c.EnsureHost(); err != nil {
			_ = c.Release()
			return nil, err
		}
		copy(c.host, m.host)
	}
	if !m.dev.IsNil() {
		if err := c.EnsureDevice(); err != nil {
			_ = c.Release()
			return nil, err
		}
		b := m.Backend()
		if err := b.Copy(c.dev, m.dev); err != nil {
			_ = c.Release()
			return nil, device.Wrap(device.ErrTypeTransfer, "matrix.Clone", err)
		}
		if err := b.Synchronize(); err != nil {
			_ = c.Release()
			return nil, device.Wrap(device.ErrTypeBackend, "matrix.Clone", err)
		}
	}
	return c, nil
}

// Print writes the host buffer to w, one row per line.
func (m *Matrix) Print(w io.Writer) error {
	if m.released {
		return errReleased("matrix.Print")
	}
	if m.host == nil {
		return device.NewError(device.ErrTypeNotAllocated, "matrix.Print", "call EnsureHost first", ErrHostNotAllocated)
	}
	var sb strings.Builder
	for i := range m.rows {
		for j, v := range m.host[i*m.cols : (i+1)*m.cols] {
			if j > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
		}
		sb.WriteByte('\n')
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

// String returns the dimensions and allocation state.
func (m *Matrix) String() string {
	return fmt.Sprintf("Matrix(%dx%d, host=%t, device=%t)", m.rows, m.cols, m.HostAllocated(), m.DeviceAllocated())
}

// FreeHost releases the host buffer. It is a no-op when none exists.
func (m *Matrix) FreeHost() {
	if m.host == nil {
		return
	}
	m.alloc.HostFree(m.host)
	m.host = nil
}

// FreeDevice releases the device buffer. It is a no-op when none exists.
func (m *Matrix) FreeDevice() error {
	if m.dev.IsNil() {
		return nil
	}
	p := m.dev
	m.dev = device.Ptr{}
	return m.alloc.DeviceFree(p)
}

// Release frees both buffers. The matrix cannot be used afterwards.
// Calling Release more than once is a no-op.
func (m *Matrix) Release() error {
	if m.released {
		return nil
	}
	m.released = true
	runtime.SetFinalizer(m, nil)
	m.FreeHost()
	return m.FreeDevice()
}

func errReleased(op string) error {
	return device.NewError(device.ErrTypeNotAllocated, op, "use after Release", ErrReleased)
}
