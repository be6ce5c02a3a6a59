//go:build windows

package webgpu

import (
	"encoding/binary"
	"fmt"
	"math"
	"unsafe"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/born-ml/cumat/internal/device"
)

// compileShader compiles WGSL shader code into a ShaderModule.
// Results are cached in the Backend's shaders map.
func (b *Backend) compileShader(name, code string) *wgpu.ShaderModule {
	b.mu.RLock()
	if shader, exists := b.shaders[name]; exists {
		b.mu.RUnlock()
		return shader
	}
	b.mu.RUnlock()

	shader := b.device.CreateShaderModuleWGSL(code)

	b.mu.Lock()
	b.shaders[name] = shader
	b.mu.Unlock()

	return shader
}

// getOrCreatePipeline returns a cached ComputePipeline or creates a new one.
func (b *Backend) getOrCreatePipeline(name, code string) *wgpu.ComputePipeline {
	b.mu.RLock()
	if pipeline, exists := b.pipelines[name]; exists {
		b.mu.RUnlock()
		return pipeline
	}
	b.mu.RUnlock()

	// Auto layout (nil) derives bindings from the shader.
	pipeline := b.device.CreateComputePipelineSimple(nil, b.compileShader(name, code), "main")

	b.mu.Lock()
	b.pipelines[name] = pipeline
	b.mu.Unlock()

	return pipeline
}

// createBuffer creates a GPU buffer holding data.
func (b *Backend) createBuffer(data []byte, usage wgpu.BufferUsage) *wgpu.Buffer {
	size := uint64(len(data))

	buffer := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            usage,
		Size:             size,
		MappedAtCreation: wgpu.True,
	})

	mappedPtr := buffer.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	copy(unsafe.Slice((*byte)(mappedPtr), size), data)
	buffer.Unmap()

	return buffer
}

// createUniformBuffer creates a uniform buffer padded to 16 bytes.
func (b *Backend) createUniformBuffer(data []byte) *wgpu.Buffer {
	size := uint64(len(data))
	alignedSize := (size + 15) &^ 15

	buffer := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
		Size:             alignedSize,
		MappedAtCreation: wgpu.True,
	})

	mappedPtr := buffer.GetMappedRange(0, alignedSize)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	copy(unsafe.Slice((*byte)(mappedPtr), alignedSize), data)
	buffer.Unmap()

	return buffer
}

// readBuffer reads data back from a GPU buffer to CPU memory.
// Uses a staging buffer since storage buffers can't be mapped directly.
func (b *Backend) readBuffer(src *wgpu.Buffer, size uint64) ([]byte, error) {
	staging := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  size,
	})
	defer staging.Release()

	encoder := b.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(src, 0, staging, 0, size)
	b.queue.Submit(encoder.Finish(nil))

	if err := staging.MapAsync(b.device, wgpu.MapModeRead, 0, size); err != nil {
		return nil, fmt.Errorf("failed to map staging buffer: %w", err)
	}

	mappedPtr := staging.GetMappedRange(0, size)
	result := make([]byte, size)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	copy(result, unsafe.Slice((*byte)(mappedPtr), size))
	staging.Unmap()

	return result, nil
}

// clearBuffer overwrites a buffer with zeros copied from a fresh buffer.
func (b *Backend) clearBuffer(dst *wgpu.Buffer, size uint64) {
	zero := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageCopySrc,
		Size:  size,
	})
	defer zero.Release()
	b.copyBuffer(zero, dst, size)
}

func (b *Backend) copyBuffer(src, dst *wgpu.Buffer, size uint64) {
	encoder := b.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(src, 0, dst, 0, size)
	b.queue.Submit(encoder.Finish(nil))
}

// Sgemm computes C = alpha*op(A)*op(B) + beta*C (column-major).
func (b *Backend) Sgemm(tA, tB device.Transpose, m, n, k int, alpha float32, a device.Ptr, lda int,
	bm device.Ptr, ldb int, beta float32, c device.Ptr, ldc int) error {
	if err := device.CheckGemm(tA, tB, m, n, k, a, lda, bm, ldb, c, ldc); err != nil {
		return err
	}
	aa, err := b.lookup("webgpu.Sgemm", a)
	if err != nil {
		return err
	}
	ba, err := b.lookup("webgpu.Sgemm", bm)
	if err != nil {
		return err
	}
	ca, err := b.lookup("webgpu.Sgemm", c)
	if err != nil {
		return err
	}

	params := make([]byte, 48)
	putU32(params, 0, m, n, k, lda, ldb, ldc, transFlag(tA), transFlag(tB))
	binary.LittleEndian.PutUint32(params[32:], math.Float32bits(alpha))
	binary.LittleEndian.PutUint32(params[36:], math.Float32bits(beta))

	b.dispatch2D("sgemm", sgemmShader, aa, ba, ca, beta != 0, params, m, n)
	return nil
}

// Sgeam computes C = alpha*op(A) + beta*op(B) (column-major). B may be nil when beta is zero.
func (b *Backend) Sgeam(tA, tB device.Transpose, m, n int, alpha float32, a device.Ptr, lda int,
	beta float32, bm device.Ptr, ldb int, c device.Ptr, ldc int) error {
	if err := device.CheckGeam(tA, tB, m, n, a, lda, beta, bm, ldb, c, ldc); err != nil {
		return err
	}
	aa, err := b.lookup("webgpu.Sgeam", a)
	if err != nil {
		return err
	}
	ba := aa
	if !bm.IsNil() && beta != 0 {
		if ba, err = b.lookup("webgpu.Sgeam", bm); err != nil {
			return err
		}
	} else {
		ldb = lda
	}
	ca, err := b.lookup("webgpu.Sgeam", c)
	if err != nil {
		return err
	}

	params := make([]byte, 48)
	putU32(params, 0, m, n, lda, ldb, ldc, transFlag(tA), transFlag(tB))
	binary.LittleEndian.PutUint32(params[32:], math.Float32bits(alpha))
	binary.LittleEndian.PutUint32(params[36:], math.Float32bits(beta))

	b.dispatch2D("sgeam", sgeamShader, aa, ba, ca, false, params, m, n)
	return nil
}

// dispatch2D runs a (a, b, c, params) kernel over an m×n grid. A buffer
// cannot be bound both read-only and writable in one pass, so an output that
// aliases an input is computed into a scratch buffer and copied back.
// readsC reports whether the kernel reads C's prior contents.
func (b *Backend) dispatch2D(name, code string, a, bb, c *allocation, readsC bool, params []byte, m, n int) {
	pipeline := b.getOrCreatePipeline(name, code)

	out := c.buffer
	aliased := c.buffer == a.buffer || c.buffer == bb.buffer
	if aliased {
		out = b.device.CreateBuffer(&wgpu.BufferDescriptor{Usage: deviceUsage, Size: c.size})
		defer out.Release()
		if readsC {
			b.copyBuffer(c.buffer, out, c.size)
		}
	}

	uniform := b.createUniformBuffer(params)
	defer uniform.Release()

	layout := pipeline.GetBindGroupLayout(0)
	defer layout.Release()
	bindGroup := b.device.CreateBindGroupSimple(layout, []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, a.buffer, 0, a.size),
		wgpu.BufferBindingEntry(1, bb.buffer, 0, bb.size),
		wgpu.BufferBindingEntry(2, out, 0, c.size),
		wgpu.BufferBindingEntry(3, uniform, 0, uint64(len(params))),
	})
	defer bindGroup.Release()

	encoder := b.device.CreateCommandEncoder(nil)
	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	//nolint:gosec // G115: workgroup counts are positive and small
	pass.DispatchWorkgroups(uint32((m+tileSize-1)/tileSize), uint32((n+tileSize-1)/tileSize), 1)
	pass.End()
	if aliased {
		encoder.CopyBufferToBuffer(out, 0, c.buffer, 0, c.size)
	}
	b.queue.Submit(encoder.Finish(nil))
}

func putU32(buf []byte, off int, vals ...int) {
	for i, v := range vals {
		//nolint:gosec // G115: dimensions are validated positive
		binary.LittleEndian.PutUint32(buf[off+4*i:], uint32(v))
	}
}

func transFlag(t device.Transpose) int {
	if t == device.Trans {
		return 1
	}
	return 0
}
