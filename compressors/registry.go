package compressors

import (
	"fmt"
	"io"
	"strings"

	"github.com/INLOpen/worldsync/core"
)

// ForType returns the compressor that reads and writes blobs tagged with ct.
func ForType(ct core.CompressionType) (core.Compressor, error) {
	switch ct {
	case core.CompressionNone:
		return NewNoCompressionCompressor(), nil
	case core.CompressionSnappy:
		return NewSnappyCompressor(), nil
	case core.CompressionLZ4:
		return NewLz4Compressor(), nil
	case core.CompressionZSTD:
		return NewZstdCompressor(), nil
	}
	return nil, fmt.Errorf("unsupported compression type %d", ct)
}

// ForName maps a configuration value ("none", "snappy", "lz4", "zstd") to a compressor.
func ForName(name string) (core.Compressor, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return NewNoCompressionCompressor(), nil
	case "snappy":
		return NewSnappyCompressor(), nil
	case "lz4":
		return NewLz4Compressor(), nil
	case "zstd":
		return NewZstdCompressor(), nil
	}
	return nil, fmt.Errorf("unknown compression %q", name)
}

// DecompressAll decompresses data with c and reads the whole result.
func DecompressAll(c core.Compressor, data []byte) ([]byte, error) {
	rc, err := c.Decompress(data)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
