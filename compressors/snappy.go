package compressors

import (
	"bytes"
	"fmt"
	"io"

	"github.com/INLOpen/worldsync/core"
	"github.com/golang/snappy"
)

// SnappyCompressor uses the snappy block format.
type SnappyCompressor struct{}

var _ core.Compressor = (*SnappyCompressor)(nil)

func NewSnappyCompressor() *SnappyCompressor { return &SnappyCompressor{} }

func (c *SnappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (c *SnappyCompressor) CompressTo(dst *bytes.Buffer, src []byte) error {
	dst.Reset()
	_, err := dst.Write(snappy.Encode(nil, src))
	return err
}

func (c *SnappyCompressor) Decompress(data []byte) (io.ReadCloser, error) {
	decoded, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("snappy decompress error: %w", err)
	}
	return io.NopCloser(bytes.NewReader(decoded)), nil
}

func (c *SnappyCompressor) Type() core.CompressionType { return core.CompressionSnappy }
