// Package snapshot persists a single matrix in a compact binary format.
//
// Layout (little-endian):
//
//	0x00  magic      "CUMX"
//	0x04  version    uint32
//	0x08  flags      uint32 (bits 0-3: compression)
//	0x0C  rows       uint32
//	0x10  cols       uint32
//	0x14  rawSize    uint64 payload bytes before compression
//	0x1C  storedSize uint64 payload bytes that follow the header
//	0x24  checksum   uint64 xxh3 of the uncompressed payload
//	0x2C  payload    row-major float32 values, possibly compressed
package snapshot

import (
	"errors"
	"fmt"
	"strings"
)

// Format constants.
const (
	MagicBytes    = "CUMX"
	FormatVersion = 1
	HeaderSize    = 0x2C

	// MaxPayloadSize bounds the uncompressed payload accepted by Read.
	MaxPayloadSize = 1 << 34

	compressionMask uint32 = 0x0F
)

// Compression selects the payload codec.
type Compression uint8

// Supported codecs.
const (
	None Compression = iota
	Zstd
	LZ4
)

// String returns the codec name.
func (c Compression) String() string {
	switch c {
	case None:
		return "none"
	case Zstd:
		return "zstd"
	case LZ4:
		return "lz4"
	default:
		return fmt.Sprintf("Compression(%d)", uint8(c))
	}
}

// ParseCompression converts a codec name ("none", "zstd", "lz4") to a Compression.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "raw":
		return None, nil
	case "zstd", "zst":
		return Zstd, nil
	case "lz4":
		return LZ4, nil
	default:
		return None, fmt.Errorf("%w: %q", ErrUnknownCompression, s)
	}
}

// Errors returned by Read.
var (
	ErrInvalidMagic       = errors.New("snapshot: invalid magic bytes")
	ErrUnsupportedVersion = errors.New("snapshot: unsupported format version")
	ErrChecksumMismatch   = errors.New("snapshot: checksum mismatch: file may be corrupted")
	ErrUnknownCompression = errors.New("snapshot: unknown compression")
	ErrCorrupt            = errors.New("snapshot: corrupt header or payload")
)

// header is the fixed-size preamble of a snapshot.
type header struct {
	Magic      [4]byte
	Version    uint32
	Flags      uint32
	Rows       uint32
	Cols       uint32
	RawSize    uint64
	StoredSize uint64
	Checksum   uint64
}

func (h header) compression() Compression {
	return Compression(h.Flags & compressionMask) //nolint:gosec // G115: masked to 4 bits
}
