package fs

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects how spilled blocks are encoded on disk.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionLZ4  Compression = "lz4"
	CompressionZstd Compression = "zstd"
)

// ParseCompression validates name. An empty name means CompressionNone.
func ParseCompression(name string) (Compression, error) {
	switch Compression(name) {
	case "", CompressionNone:
		return CompressionNone, nil
	case CompressionLZ4:
		return CompressionLZ4, nil
	case CompressionZstd:
		return CompressionZstd, nil
	default:
		return "", fmt.Errorf("unknown spill compression %q", name)
	}
}

// codecTag is stored with every record so blocks that did not compress
// well can be kept raw regardless of the configured compression.
type codecTag uint8

const (
	tagRaw codecTag = iota
	tagLZ4
	tagZstd
)

// minCompressSize is the smallest block worth compressing.
const minCompressSize = 128

var errIncompressible = errors.New("incompressible")

// zstd encoders and decoders are safe for concurrent use with EncodeAll
// and DecodeAll.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		panic("fs: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("fs: zstd decoder initialization failed: " + err.Error())
	}
}

// encode compresses data with c, falling back to raw storage when the
// block is small or does not shrink.
func encode(c Compression, data []byte) ([]byte, codecTag) {
	if len(data) < minCompressSize {
		return data, tagRaw
	}

	switch c {
	case CompressionLZ4:
		if out, err := compressLZ4(data); err == nil {
			return out, tagLZ4
		}
	case CompressionZstd:
		if out, err := compressZstd(data); err == nil {
			return out, tagZstd
		}
	}
	return data, tagRaw
}

func decode(tag codecTag, payload []byte, rawLen int) ([]byte, error) {
	switch tag {
	case tagRaw:
		if len(payload) != rawLen {
			return nil, fmt.Errorf("raw block: size %d does not match expected %d", len(payload), rawLen)
		}
		return payload, nil
	case tagLZ4:
		out := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if n != rawLen {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", n, rawLen)
		}
		return out, nil
	case tagZstd:
		out, err := zstdDecoder.DecodeAll(payload, make([]byte, 0, rawLen))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(out) != rawLen {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(out), rawLen)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown block codec %d", tag)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock returns 0 for incompressible input.
	if n == 0 || n >= len(data) {
		return nil, errIncompressible
	}
	return dst[:n], nil
}

func compressZstd(data []byte) ([]byte, error) {
	out := zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)))
	if len(out) >= len(data) {
		return nil, errIncompressible
	}
	return out, nil
}
