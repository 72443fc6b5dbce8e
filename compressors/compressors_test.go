package compressors

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/INLOpen/worldsync/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressors_RoundTrip(t *testing.T) {
	random := make([]byte, 4096)
	_, err := rand.Read(random)
	require.NoError(t, err)

	inputs := map[string][]byte{
		"empty":      {},
		"short":      []byte("hello world"),
		"repetitive": bytes.Repeat([]byte("component-value "), 2048),
		"random":     random,
	}

	for _, ct := range []core.CompressionType{core.CompressionNone, core.CompressionSnappy, core.CompressionLZ4, core.CompressionZSTD} {
		c, err := ForType(ct)
		require.NoError(t, err)
		assert.Equal(t, ct, c.Type())

		for name, in := range inputs {
			t.Run(ct.String()+"/"+name, func(t *testing.T) {
				compressed, err := c.Compress(in)
				require.NoError(t, err)
				out, err := DecompressAll(c, compressed)
				require.NoError(t, err)
				assert.Equal(t, len(in), len(out))
				assert.True(t, bytes.Equal(in, out))

				var buf bytes.Buffer
				buf.WriteString("stale")
				require.NoError(t, c.CompressTo(&buf, in))
				out, err = DecompressAll(c, buf.Bytes())
				require.NoError(t, err)
				assert.True(t, bytes.Equal(in, out))
			})
		}
	}
}

func TestForName(t *testing.T) {
	for name, want := range map[string]core.CompressionType{
		"":       core.CompressionNone,
		"none":   core.CompressionNone,
		"Snappy": core.CompressionSnappy,
		"lz4":    core.CompressionLZ4,
		" zstd ": core.CompressionZSTD,
	} {
		c, err := ForName(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, c.Type())
	}
	_, err := ForName("brotli")
	require.Error(t, err)
	_, err = ForType(core.CompressionType(42))
	require.Error(t, err)
}

func TestLZ4_RejectsTruncated(t *testing.T) {
	c := NewLz4Compressor()
	compressed, err := c.Compress(bytes.Repeat([]byte("abc"), 100))
	require.NoError(t, err)
	_, err = DecompressAll(c, compressed[:len(compressed)/2])
	require.Error(t, err)
}
