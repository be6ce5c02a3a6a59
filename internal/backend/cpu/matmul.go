package cpu

import (
	"gonum.org/v1/gonum/blas"

	"github.com/born-ml/cumat/internal/device"
	"github.com/born-ml/cumat/internal/parallel"
)

// Sgemm queues C = alpha*op(A)*op(B) + beta*C (column-major) on the default stream.
//
// gonum's blas32 is row-major. A column-major m×n matrix with leading
// dimension ld is the row-major n×m matrix with the same stride, so the call
// is issued as Cᵀ = op(B)ᵀ·op(A)ᵀ with the operands swapped.
func (b *CPUBackend) Sgemm(tA, tB device.Transpose, m, n, k int, alpha float32, a device.Ptr, lda int,
	bm device.Ptr, ldb int, beta float32, c device.Ptr, ldc int) error {
	if err := device.CheckGemm(tA, tB, m, n, k, a, lda, bm, ldb, c, ldc); err != nil {
		return err
	}
	as, err := b.slice("cpu.Sgemm", a)
	if err != nil {
		return err
	}
	bs, err := b.slice("cpu.Sgemm", bm)
	if err != nil {
		return err
	}
	cs, err := b.slice("cpu.Sgemm", c)
	if err != nil {
		return err
	}
	impl := b.impl
	return b.def.submit(func() error {
		impl.Sgemm(gonumTranspose(tB), gonumTranspose(tA), n, m, k, alpha, bs, ldb, as, lda, beta, cs, ldc)
		return nil
	})
}

// Sgeam queues C = alpha*op(A) + beta*op(B) (column-major) on the default stream.
// B may be nil when beta is zero.
func (b *CPUBackend) Sgeam(tA, tB device.Transpose, m, n int, alpha float32, a device.Ptr, lda int,
	beta float32, bm device.Ptr, ldb int, c device.Ptr, ldc int) error {
	if err := device.CheckGeam(tA, tB, m, n, a, lda, beta, bm, ldb, c, ldc); err != nil {
		return err
	}
	as, err := b.slice("cpu.Sgeam", a)
	if err != nil {
		return err
	}
	var bs []float32
	if !bm.IsNil() && beta != 0 {
		if bs, err = b.slice("cpu.Sgeam", bm); err != nil {
			return err
		}
	}
	cs, err := b.slice("cpu.Sgeam", c)
	if err != nil {
		return err
	}
	cfg := b.par
	return b.def.submit(func() error {
		geam(tA, tB, m, n, alpha, as, lda, beta, bs, ldb, cs, ldc, cfg)
		return nil
	})
}

// geam computes one output column per index, split across workers.
// C must not alias a transposed operand.
func geam(tA, tB device.Transpose, m, n int, alpha float32, a []float32, lda int,
	beta float32, bs []float32, ldb int, c []float32, ldc int, cfg parallel.Config) {
	parallel.ForRange(n, func(start, end int) {
		for j := start; j < end; j++ {
			col := c[j*ldc : j*ldc+m]
			for i := range col {
				v := alpha * at(tA, a, lda, i, j)
				if bs != nil {
					v += beta * at(tB, bs, ldb, i, j)
				}
				col[i] = v
			}
		}
	}, cfg)
}

// at returns op(X)(i, j) for a column-major buffer.
func at(t device.Transpose, x []float32, ld, i, j int) float32 {
	if t == device.Trans {
		return x[i*ld+j]
	}
	return x[j*ld+i]
}

func gonumTranspose(t device.Transpose) blas.Transpose {
	if t == device.Trans {
		return blas.Trans
	}
	return blas.NoTrans
}
