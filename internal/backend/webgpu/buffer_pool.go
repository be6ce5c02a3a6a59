//go:build windows

package webgpu

import (
	"sync"

	"github.com/go-webgpu/webgpu/wgpu"
)

// sizeClass groups buffers for pooling.
type sizeClass int

const (
	smallClass  sizeClass = iota // < 4KB
	mediumClass                  // 4KB-1MB
	largeClass                   // > 1MB
)

// pooledBuffer wraps a GPU buffer with metadata.
type pooledBuffer struct {
	buffer *wgpu.Buffer
	size   uint64
	usage  wgpu.BufferUsage
}

// BufferPool keeps released device buffers for reuse by later allocations.
// Reused buffers are not zeroed; callers clear them.
type BufferPool struct {
	device  *wgpu.Device
	maxIdle int

	classes [3][]*pooledBuffer
	mu      sync.Mutex

	// Statistics
	totalAllocated uint64
	totalReleased  uint64
	poolHits       uint64
	poolMisses     uint64
}

// NewBufferPool creates a pool that keeps at most maxIdle buffers per size class.
func NewBufferPool(device *wgpu.Device, maxIdle int) *BufferPool {
	return &BufferPool{device: device, maxIdle: maxIdle}
}

// Acquire returns a buffer of exactly size bytes with at least the given usage.
// reused reports whether the buffer came from the pool (and may hold stale data).
func (p *BufferPool) Acquire(size uint64, usage wgpu.BufferUsage) (buffer *wgpu.Buffer, reused bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	class := classify(size)
	for i, pb := range p.classes[class] {
		// Bind group ranges cover the whole buffer, so sizes must match exactly.
		if pb.size == size && pb.usage&usage == usage {
			p.classes[class] = append(p.classes[class][:i], p.classes[class][i+1:]...)
			p.poolHits++
			return pb.buffer, true
		}
	}

	p.poolMisses++
	p.totalAllocated++
	return p.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: usage,
		Size:  size,
	}), false
}

// Release returns a buffer to the pool, or destroys it when its class is full.
func (p *BufferPool) Release(buffer *wgpu.Buffer, size uint64, usage wgpu.BufferUsage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.totalReleased++
	class := classify(size)
	if len(p.classes[class]) >= p.maxIdle {
		buffer.Release()
		return
	}
	p.classes[class] = append(p.classes[class], &pooledBuffer{buffer: buffer, size: size, usage: usage})
}

// Clear releases all pooled buffers.
func (p *BufferPool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for c := range p.classes {
		for _, pb := range p.classes[c] {
			pb.buffer.Release()
		}
		p.classes[c] = nil
	}
}

// Stats returns statistics about buffer pool usage.
func (p *BufferPool) Stats() (allocated, released, hits, misses uint64, pooledCount int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, c := range p.classes {
		pooledCount += len(c)
	}
	return p.totalAllocated, p.totalReleased, p.poolHits, p.poolMisses, pooledCount
}

func classify(size uint64) sizeClass {
	switch {
	case size < smallThreshold:
		return smallClass
	case size < mediumThreshold:
		return mediumClass
	default:
		return largeClass
	}
}
