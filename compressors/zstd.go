package compressors

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/INLOpen/worldsync/core"
	"github.com/klauspost/compress/zstd"
)

// ZstdCompressor pools zstd encoders and decoders; both are costly to create.
type ZstdCompressor struct {
	encoders sync.Pool
	decoders sync.Pool
}

type zstdReadCloser struct {
	*zstd.Decoder
	pool *sync.Pool
}

// Close returns the decoder to its pool. Decoder.Close would make it unusable.
func (z *zstdReadCloser) Close() error {
	z.pool.Put(z.Decoder)
	return nil
}

var _ core.Compressor = (*ZstdCompressor)(nil)

func NewZstdCompressor() *ZstdCompressor {
	return &ZstdCompressor{}
}

func (c *ZstdCompressor) encoder() (*zstd.Encoder, error) {
	if enc, ok := c.encoders.Get().(*zstd.Encoder); ok {
		return enc, nil
	}
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
}

func (c *ZstdCompressor) decoder() (*zstd.Decoder, error) {
	if dec, ok := c.decoders.Get().(*zstd.Decoder); ok {
		return dec, nil
	}
	return zstd.NewReader(nil, zstd.WithDecoderMaxMemory(256<<20))
}

func (c *ZstdCompressor) Compress(data []byte) ([]byte, error) {
	enc, err := c.encoder()
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	defer c.encoders.Put(enc)
	return enc.EncodeAll(data, nil), nil
}

func (c *ZstdCompressor) CompressTo(dst *bytes.Buffer, src []byte) error {
	enc, err := c.encoder()
	if err != nil {
		return fmt.Errorf("zstd encoder: %w", err)
	}
	defer c.encoders.Put(enc)

	dst.Reset()
	enc.Reset(dst)
	if _, err := enc.Write(src); err != nil {
		_ = enc.Close()
		return fmt.Errorf("zstd compress write error: %w", err)
	}
	return enc.Close()
}

func (c *ZstdCompressor) Decompress(data []byte) (io.ReadCloser, error) {
	dec, err := c.decoder()
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	if err := dec.Reset(bytes.NewReader(data)); err != nil {
		c.decoders.Put(dec)
		return nil, fmt.Errorf("zstd decoder reset error: %w", err)
	}
	return &zstdReadCloser{Decoder: dec, pool: &c.decoders}, nil
}

func (c *ZstdCompressor) Type() core.CompressionType { return core.CompressionZSTD }
