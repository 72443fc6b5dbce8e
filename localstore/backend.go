package localstore

import (
	"context"
	"sync"

	"github.com/INLOpen/worldsync/core"
)

// Blob is a compressed, encoded cache record as handed to a backend.
type Blob struct {
	Compression core.CompressionType
	Data        []byte
}

// Backend is durable key/value storage for cache records.
type Backend interface {
	// Get returns core.ErrNotFound when key has no record.
	Get(ctx context.Context, key string) (Blob, error)
	Put(ctx context.Context, key string, blob Blob) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// MemoryBackend keeps records in process memory. It backs the "none"
// store setting and tests.
type MemoryBackend struct {
	mu    sync.Mutex
	blobs map[string]Blob
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{blobs: make(map[string]Blob)}
}

func (m *MemoryBackend) Get(_ context.Context, key string) (Blob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[key]
	if !ok {
		return Blob{}, core.ErrNotFound
	}
	return Blob{Compression: b.Compression, Data: append([]byte(nil), b.Data...)}, nil
}

func (m *MemoryBackend) Put(_ context.Context, key string, blob Blob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = Blob{Compression: blob.Compression, Data: append([]byte(nil), blob.Data...)}
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, key)
	return nil
}

func (m *MemoryBackend) Close() error { return nil }
