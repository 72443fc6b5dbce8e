package core

import (
	"bytes"
	"io"
)

// CompressionType identifies the algorithm a persisted blob was compressed with.
// It is written next to the blob so a reader can pick the matching codec.
type CompressionType byte

const (
	CompressionNone   CompressionType = 0
	CompressionSnappy CompressionType = 1
	CompressionLZ4    CompressionType = 2
	CompressionZSTD   CompressionType = 3
)

// Compressor compresses and decompresses persisted blobs.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	CompressTo(dst *bytes.Buffer, src []byte) error
	// Decompress returns a reader over the decompressed bytes. Callers must Close it.
	Decompress(data []byte) (io.ReadCloser, error)
	Type() CompressionType
}

func (ct CompressionType) String() string {
	switch ct {
	case CompressionNone:
		return "none"
	case CompressionSnappy:
		return "snappy"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return "unknown"
	}
}
