package core

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferPool(t *testing.T) {
	t.Run("Get returns a reset buffer", func(t *testing.T) {
		buf := BufferPool.Get()
		require.NotNil(t, buf)
		buf.WriteString("hello world")
		BufferPool.Put(buf)

		buf2 := BufferPool.Get()
		assert.Equal(t, 0, buf2.Len(), "reused buffer should be reset")
		BufferPool.Put(buf2)
	})

	t.Run("Oversized buffers are dropped", func(t *testing.T) {
		big := bytes.NewBuffer(make([]byte, 0, maxPooledBuffer+1))
		BufferPool.Put(big)
		BufferPool.Put(nil)
		for i := 0; i < 8; i++ {
			buf := BufferPool.Get()
			assert.LessOrEqual(t, buf.Cap(), maxPooledBuffer)
		}
	})

	t.Run("Concurrent access", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 64; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					buf := BufferPool.Get()
					buf.WriteString("x")
					BufferPool.Put(buf)
				}
			}()
		}
		wg.Wait()
	})
}

func TestGenericPool(t *testing.T) {
	calls := 0
	p := NewGenericPool(func() []int {
		calls++
		return make([]int, 0, 4)
	})
	s := p.Get()
	assert.Equal(t, 4, cap(s))
	assert.GreaterOrEqual(t, calls, 1)
	p.Put(s)
}

func TestCompressionTypeString(t *testing.T) {
	assert.Equal(t, "none", CompressionNone.String())
	assert.Equal(t, "snappy", CompressionSnappy.String())
	assert.Equal(t, "lz4", CompressionLZ4.String())
	assert.Equal(t, "zstd", CompressionZSTD.String())
	assert.Equal(t, "unknown", CompressionType(9).String())
}
