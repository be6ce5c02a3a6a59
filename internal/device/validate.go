package device

import (
	"fmt"
	"strings"
)

// CheckGemm validates Sgemm arguments against the column-major BLAS rules.
// Backends call it before touching device memory.
func CheckGemm(tA, tB Transpose, m, n, k int, a Ptr, lda int, b Ptr, ldb int, c Ptr, ldc int) error {
	const op = "Sgemm"
	if !tA.Valid() || !tB.Valid() {
		return NewError(ErrTypeInvalidArgument, op, fmt.Sprintf("bad transpose flags %v/%v", tA, tB), nil)
	}
	if m <= 0 || n <= 0 || k <= 0 {
		return NewError(ErrTypeInvalidArgument, op, fmt.Sprintf("non-positive dimensions m=%d n=%d k=%d", m, n, k), nil)
	}
	aRows, aCols := m, k
	if tA == Trans {
		aRows, aCols = k, m
	}
	if err := checkOperand(op, "A", a, aRows, aCols, lda); err != nil {
		return err
	}
	bRows, bCols := k, n
	if tB == Trans {
		bRows, bCols = n, k
	}
	if err := checkOperand(op, "B", b, bRows, bCols, ldb); err != nil {
		return err
	}
	return checkOperand(op, "C", c, m, n, ldc)
}

// CheckGeam validates Sgeam arguments. B is only checked when it is not nil.
func CheckGeam(tA, tB Transpose, m, n int, a Ptr, lda int, beta float32, b Ptr, ldb int, c Ptr, ldc int) error {
	const op = "Sgeam"
	if !tA.Valid() || !tB.Valid() {
		return NewError(ErrTypeInvalidArgument, op, fmt.Sprintf("bad transpose flags %v/%v", tA, tB), nil)
	}
	if m <= 0 || n <= 0 {
		return NewError(ErrTypeInvalidArgument, op, fmt.Sprintf("non-positive dimensions m=%d n=%d", m, n), nil)
	}
	aRows, aCols := m, n
	if tA == Trans {
		aRows, aCols = n, m
	}
	if err := checkOperand(op, "A", a, aRows, aCols, lda); err != nil {
		return err
	}
	if b.IsNil() {
		if beta != 0 {
			return NewError(ErrTypeInvalidArgument, op, "B is nil but beta is non-zero", nil)
		}
	} else {
		bRows, bCols := m, n
		if tB == Trans {
			bRows, bCols = n, m
		}
		if err := checkOperand(op, "B", b, bRows, bCols, ldb); err != nil {
			return err
		}
	}
	if err := checkOperand(op, "C", c, m, n, ldc); err != nil {
		return err
	}
	// A transposed write cannot be done in place.
	if tA == Trans && a.Raw() == c.Raw() {
		return NewError(ErrTypeInvalidArgument, op, "C aliases A under transpose", nil)
	}
	if !b.IsNil() && tB == Trans && b.Raw() == c.Raw() {
		return NewError(ErrTypeInvalidArgument, op, "C aliases B under transpose", nil)
	}
	return nil
}

// CheckTransfer validates that a host slice and a device buffer have the same extent.
func CheckTransfer(op string, p Ptr, host []float32) error {
	if p.IsNil() {
		return NewError(ErrTypeNotAllocated, op, "nil device pointer", nil)
	}
	if len(host) != p.Len() {
		return NewError(ErrTypeInvalidArgument, op,
			fmt.Sprintf("size mismatch: host %d elements, device %d elements", len(host), p.Len()), nil)
	}
	return nil
}

func checkOperand(op, name string, p Ptr, rows, cols, ld int) error {
	if p.IsNil() {
		return NewError(ErrTypeNotAllocated, op, name+" is a nil device pointer", nil)
	}
	if ld < max(1, rows) {
		return NewError(ErrTypeInvalidArgument, op,
			fmt.Sprintf("ld%s=%d must be >= %d", strings.ToLower(name), ld, max(1, rows)), nil)
	}
	if need := ld*(cols-1) + rows; p.Len() < need {
		return NewError(ErrTypeInvalidArgument, op,
			fmt.Sprintf("%s holds %d elements, needs %d", name, p.Len(), need), nil)
	}
	return nil
}
