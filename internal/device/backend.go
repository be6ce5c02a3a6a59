package device

// Backend is an accelerated BLAS session together with the device memory it
// manages. A Backend is not safe for concurrent use by multiple goroutines;
// streams returned by NewStream may run work concurrently with the caller.
//
// Implementations:
//   - CPU: host memory posing as device memory, gonum BLAS
//   - CUDA: cuBLAS and the CUDA runtime (build tag "cuda")
//   - WebGPU: WGSL compute kernels (windows)
//   - OpenCL: OpenCL C kernels through blackcl (build tag "opencl")
type Backend interface {
	// Metadata
	Name() string
	Kind() Kind

	// Memory management. Malloc returns zero-filled memory for n float32 elements.
	Malloc(n int) (Ptr, error)
	Free(p Ptr) error
	Memset(p Ptr) error

	// Transfers. Sizes are taken from the destination and must match the source.
	Upload(dst Ptr, src []float32) error
	UploadAsync(dst Ptr, src []float32, s Stream) error
	Download(dst []float32, src Ptr) error
	Copy(dst, src Ptr) error

	// Execution streams. Synchronize waits for the default stream and reports
	// any asynchronous error raised since the previous call.
	NewStream() (Stream, error)
	Synchronize() error

	// Sgemm computes C = alpha*op(A)*op(B) + beta*C for column-major operands,
	// where op(A) is m×k, op(B) is k×n and C is m×n.
	Sgemm(tA, tB Transpose, m, n, k int, alpha float32, a Ptr, lda int, b Ptr, ldb int, beta float32, c Ptr, ldc int) error

	// Sgeam computes C = alpha*op(A) + beta*op(B) for column-major operands,
	// where C is m×n. B may be a nil Ptr when beta is zero.
	Sgeam(tA, tB Transpose, m, n int, alpha float32, a Ptr, lda int, beta float32, b Ptr, ldb int, c Ptr, ldc int) error

	// Release frees every resource held by the backend.
	Release() error
}

// Stream is an ordered queue of device operations.
type Stream interface {
	// Synchronize blocks until all queued work has finished and returns the
	// first error raised by that work.
	Synchronize() error
	// Release waits for queued work and destroys the stream.
	Release() error
}
