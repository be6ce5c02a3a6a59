package snapshot

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/born-ml/cumat/internal/matrix"
)

// Options configure Write.
type Options struct {
	Compression Compression
}

// Write encodes m's host buffer to w. The host buffer must be allocated;
// call CopyToHost first to persist device contents.
func Write(w io.Writer, m *matrix.Matrix, opts Options) error {
	host, err := m.Host()
	if err != nil {
		return err
	}
	if m.Rows() > math.MaxUint32 || m.Cols() > math.MaxUint32 {
		return fmt.Errorf("snapshot: %dx%d exceeds format limits", m.Rows(), m.Cols())
	}

	raw := make([]byte, 4*len(host))
	for i, v := range host {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(v))
	}
	payload, err := compress(opts.Compression, raw)
	if err != nil {
		return fmt.Errorf("snapshot: failed to compress payload: %w", err)
	}

	h := header{
		Version:    FormatVersion,
		Flags:      uint32(opts.Compression) & compressionMask,
		Rows:       uint32(m.Rows()), //nolint:gosec // G115: checked above
		Cols:       uint32(m.Cols()), //nolint:gosec // G115: checked above
		RawSize:    uint64(len(raw)),
		StoredSize: uint64(len(payload)),
		Checksum:   checksum(raw),
	}
	copy(h.Magic[:], MagicBytes)

	if err := binary.Write(w, binary.LittleEndian, h); err != nil {
		return fmt.Errorf("snapshot: failed to write header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("snapshot: failed to write payload: %w", err)
	}
	return nil
}

// Read decodes a snapshot into a new matrix whose host buffer holds the data.
func Read(r io.Reader, alloc matrix.Allocator, opts ...matrix.Option) (*matrix.Matrix, error) {
	var h header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("%w: failed to read header: %w", ErrCorrupt, err)
	}
	if string(h.Magic[:]) != MagicBytes {
		return nil, fmt.Errorf("%w: got %q", ErrInvalidMagic, h.Magic[:])
	}
	if h.Version != FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	c := h.compression()
	if c > LZ4 {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCompression, c)
	}
	if h.Rows == 0 || h.Cols == 0 || h.RawSize != 4*uint64(h.Rows)*uint64(h.Cols) || h.RawSize > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %dx%d with %d payload bytes", ErrCorrupt, h.Rows, h.Cols, h.RawSize)
	}
	if c == None && h.StoredSize != h.RawSize {
		return nil, fmt.Errorf("%w: stored %d bytes, expected %d", ErrCorrupt, h.StoredSize, h.RawSize)
	}
	// No codec in use expands incompressible data by more than a small margin.
	if h.StoredSize > h.RawSize+h.RawSize/16+1024 {
		return nil, fmt.Errorf("%w: stored size %d too large", ErrCorrupt, h.StoredSize)
	}

	// Memory grows with the bytes actually present, not with the header's claim.
	var payload bytes.Buffer
	n, err := io.Copy(&payload, io.LimitReader(r, int64(h.StoredSize))) //nolint:gosec // G115: bounded by MaxPayloadSize
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read payload: %w", ErrCorrupt, err)
	}
	if uint64(n) != h.StoredSize { //nolint:gosec // G115: n is non-negative
		return nil, fmt.Errorf("%w: truncated payload: %d of %d bytes", ErrCorrupt, n, h.StoredSize)
	}
	stored := payload.Bytes()
	raw, err := decompress(c, stored, h.RawSize)
	if err != nil {
		return nil, err
	}
	if checksum(raw) != h.Checksum {
		return nil, ErrChecksumMismatch
	}

	rows, cols := int(h.Rows), int(h.Cols)
	data := make([]float32, rows*cols)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return matrix.FromHost(alloc, data, rows, cols, opts...)
}

// WriteFile writes a snapshot of m to path.
func WriteFile(path string, m *matrix.Matrix, opts Options) error {
	var buf bytes.Buffer
	if err := Write(&buf, m, opts); err != nil {
		return err
	}
	//nolint:gosec // G306: snapshots are not secret
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("snapshot: failed to write %s: %w", path, err)
	}
	return nil
}

// ReadFile reads a snapshot from path.
func ReadFile(path string, alloc matrix.Allocator, opts ...matrix.Option) (*matrix.Matrix, error) {
	//nolint:gosec // G304: path is supplied by the caller
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: failed to open %s: %w", path, err)
	}
	defer f.Close()
	return Read(f, alloc, opts...)
}
