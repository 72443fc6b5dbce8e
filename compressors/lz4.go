package compressors

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/INLOpen/worldsync/core"
	lz4 "github.com/pierrec/lz4/v4"
)

// maxLZ4Decoded bounds the size a corrupt length prefix can make us allocate.
const maxLZ4Decoded = 1 << 30

// LZ4Compressor uses the LZ4 block format. The block format does not carry
// the decoded size, so each blob starts with it as a uvarint.
type LZ4Compressor struct{}

var _ core.Compressor = (*LZ4Compressor)(nil)

func NewLz4Compressor() *LZ4Compressor { return &LZ4Compressor{} }

func (c *LZ4Compressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.CompressTo(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *LZ4Compressor) CompressTo(dst *bytes.Buffer, src []byte) error {
	dst.Reset()
	var hdr [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(hdr[:], uint64(len(src)))
	dst.Write(hdr[:n])
	if len(src) == 0 {
		return nil
	}

	block := make([]byte, lz4.CompressBlockBound(len(src)))
	written, err := lz4.CompressBlock(src, block, nil)
	if err != nil {
		return fmt.Errorf("lz4 compress error: %w", err)
	}
	if written == 0 {
		// Incompressible input; CompressBlock reports 0 and we store it raw.
		dst.WriteByte(0)
		dst.Write(src)
		return nil
	}
	dst.WriteByte(1)
	dst.Write(block[:written])
	return nil
}

func (c *LZ4Compressor) Decompress(data []byte) (io.ReadCloser, error) {
	size, n := binary.Uvarint(data)
	if n <= 0 {
		return nil, fmt.Errorf("lz4 decompress error: bad length prefix")
	}
	if size > maxLZ4Decoded {
		return nil, fmt.Errorf("lz4 decompress error: decoded size %d too large", size)
	}
	data = data[n:]
	if size == 0 {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("lz4 decompress error: missing block")
	}

	mode, body := data[0], data[1:]
	if mode == 0 {
		if uint64(len(body)) != size {
			return nil, fmt.Errorf("lz4 decompress error: raw block is %d bytes, want %d", len(body), size)
		}
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	dst := make([]byte, size)
	got, err := lz4.UncompressBlock(body, dst)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress error: %w", err)
	}
	if uint64(got) != size {
		return nil, fmt.Errorf("lz4 decompress error: decoded %d bytes, want %d", got, size)
	}
	return io.NopCloser(bytes.NewReader(dst)), nil
}

func (c *LZ4Compressor) Type() core.CompressionType { return core.CompressionLZ4 }
