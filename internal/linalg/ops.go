package linalg

import (
	"github.com/born-ml/cumat/internal/device"
	"github.com/born-ml/cumat/internal/matrix"
)

// Transpose replaces x's device contents with its transpose and swaps its
// dimensions. The host buffer is not touched.
func (s *Session) Transpose(x *matrix.Matrix) error {
	const op = "linalg.Transpose"
	if err := s.bind(op, x); err != nil {
		return err
	}
	rows, cols := x.Rows(), x.Cols()

	dst, err := x.Device()
	if err != nil {
		return err
	}
	scratch, err := s.alloc.DeviceAlloc(x.ElementCount())
	if err != nil {
		return device.Wrap(device.ErrTypeAllocation, op, err)
	}
	defer func() {
		if ferr := s.alloc.DeviceFree(scratch); ferr != nil {
			s.log.Warn().Err(ferr).Msg("transpose scratch free failed")
		}
	}()

	if err := s.backend.Copy(scratch, dst); err != nil {
		return device.Wrap(device.ErrTypeBackend, op, err)
	}
	// scratch is the column-major cols×rows view of x; write its transpose
	// as column-major rows×cols, which is row-major cols×rows.
	err = s.backend.Sgeam(device.Trans, device.NoTrans, rows, cols,
		1, scratch, cols,
		0, device.Ptr{}, rows,
		dst, rows)
	if err := s.finish(op, err); err != nil {
		return err
	}

	s.log.Debug().Int("rows", rows).Int("cols", cols).Msg("transpose")
	return x.Reshape(cols, rows)
}

// Multiply computes z = x·y on the device, overwriting z's device buffer.
// Requires x.Cols == y.Rows, z.Rows == x.Rows and z.Cols == y.Cols.
func (s *Session) Multiply(x, y, z *matrix.Matrix) error {
	const op = "linalg.Multiply"
	if err := s.bind(op, x, y, z); err != nil {
		return err
	}
	if x.Cols() != y.Rows() || z.Rows() != x.Rows() || z.Cols() != y.Cols() {
		return shapeError(op, "(%dx%d)·(%dx%d) into %dx%d", x.Rows(), x.Cols(), y.Rows(), y.Cols(), z.Rows(), z.Cols())
	}
	// zᵗ = yᵗ·xᵗ in the column-major view.
	return s.gemm(op, device.NoTrans, device.NoTrans, y.Cols(), x.Rows(), y.Rows(), x, y, z)
}

// MultiplyTransposeLeft computes z = xᵗ·y on the device.
// Requires x.Rows == y.Rows, z.Rows == x.Cols and z.Cols == y.Cols.
func (s *Session) MultiplyTransposeLeft(x, y, z *matrix.Matrix) error {
	const op = "linalg.MultiplyTransposeLeft"
	if err := s.bind(op, x, y, z); err != nil {
		return err
	}
	if x.Rows() != y.Rows() || z.Rows() != x.Cols() || z.Cols() != y.Cols() {
		return shapeError(op, "(%dx%d)ᵗ·(%dx%d) into %dx%d", x.Rows(), x.Cols(), y.Rows(), y.Cols(), z.Rows(), z.Cols())
	}
	return s.gemm(op, device.NoTrans, device.Trans, y.Cols(), x.Cols(), y.Rows(), x, y, z)
}

// MultiplyTransposeRight computes z = x·yᵗ on the device.
// Requires x.Cols == y.Cols, z.Rows == x.Rows and z.Cols == y.Rows.
func (s *Session) MultiplyTransposeRight(x, y, z *matrix.Matrix) error {
	const op = "linalg.MultiplyTransposeRight"
	if err := s.bind(op, x, y, z); err != nil {
		return err
	}
	if x.Cols() != y.Cols() || z.Rows() != x.Rows() || z.Cols() != y.Rows() {
		return shapeError(op, "(%dx%d)·(%dx%d)ᵗ into %dx%d", x.Rows(), x.Cols(), y.Rows(), y.Cols(), z.Rows(), z.Cols())
	}
	return s.gemm(op, device.Trans, device.NoTrans, y.Rows(), x.Rows(), y.Cols(), x, y, z)
}

// gemm issues Sgemm with y as the BLAS A operand and x as B, leading
// dimensions taken from the row-major column counts.
func (s *Session) gemm(op string, tA, tB device.Transpose, m, n, k int, x, y, z *matrix.Matrix) error {
	if z == x || z == y {
		return device.NewError(device.ErrTypeInvalidArgument, op, "destination aliases an operand", nil)
	}
	xp, err := x.Device()
	if err != nil {
		return err
	}
	yp, err := y.Device()
	if err != nil {
		return err
	}
	zp, err := z.Device()
	if err != nil {
		return err
	}

	err = s.backend.Sgemm(tA, tB, m, n, k,
		1, yp, y.Cols(),
		xp, x.Cols(),
		0, zp, z.Cols())
	if err := s.finish(op, err); err != nil {
		return err
	}
	s.log.Debug().Str("op", op).Int("m", m).Int("n", n).Int("k", k).Msg("gemm")
	return nil
}

// finish synchronizes after a backend call so asynchronous failures surface here.
func (s *Session) finish(op string, callErr error) error {
	if callErr != nil {
		return device.Wrap(device.ErrTypeBackend, op, callErr)
	}
	if err := s.backend.Synchronize(); err != nil {
		return device.Wrap(device.ErrTypeBackend, op, err)
	}
	return nil
}
