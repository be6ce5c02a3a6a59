package snapshot

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	lz4 "github.com/pierrec/lz4/v4"
	"github.com/zeebo/xxh3"
)

// minDecoderMemory is the smallest decoded-size cap handed to zstd.
const minDecoderMemory uint64 = 64 << 20

func checksum(b []byte) uint64 {
	return xxh3.Hash(b)
}

func compress(c Compression, b []byte) ([]byte, error) {
	switch c {
	case None:
		return b, nil
	case Zstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(b, make([]byte, 0, len(b))), nil
	case LZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(b); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCompression, c)
	}
}

// decompress decodes b and rejects output that is not exactly rawSize bytes.
func decompress(c Compression, b []byte, rawSize uint64) ([]byte, error) {
	var out []byte
	switch c {
	case None:
		out = b
	case Zstd:
		// The frame window may exceed a small payload, so the cap has a floor.
		dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(max(rawSize, minDecoderMemory)))
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		if out, err = dec.DecodeAll(b, nil); err != nil {
			return nil, fmt.Errorf("%w: zstd: %w", ErrCorrupt, err)
		}
	case LZ4:
		r := lz4.NewReader(bytes.NewReader(b))
		var buf bytes.Buffer
		//nolint:gosec // G110: output bounded by LimitReader
		if _, err := io.Copy(&buf, io.LimitReader(r, int64(rawSize)+1)); err != nil {
			return nil, fmt.Errorf("%w: lz4: %w", ErrCorrupt, err)
		}
		out = buf.Bytes()
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCompression, c)
	}
	if uint64(len(out)) != rawSize {
		return nil, fmt.Errorf("%w: payload is %d bytes, header says %d", ErrCorrupt, len(out), rawSize)
	}
	return out, nil
}
