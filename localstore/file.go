package localstore

import (
	"context"
	"fmt"
	"time"

	"github.com/INLOpen/worldsync/checkpoint"
	"github.com/INLOpen/worldsync/core"
	"github.com/INLOpen/worldsync/sys"
)

// FileBackend stores one checkpoint file per key in a directory it locks
// for its lifetime.
type FileBackend struct {
	dir  string
	lock *sys.DirLock
}

// OpenFile locks dir and returns a backend rooted there.
func OpenFile(dir string, lockTimeout time.Duration) (*FileBackend, error) {
	lock, err := sys.LockDir(dir, lockTimeout)
	if err != nil {
		return nil, err
	}
	return &FileBackend{dir: dir, lock: lock}, nil
}

func fileName(key string) string { return key + core.CacheImageFileSuffix }

func (f *FileBackend) Get(ctx context.Context, key string) (Blob, error) {
	if err := ctx.Err(); err != nil {
		return Blob{}, err
	}
	hdr, payload, found, err := checkpoint.Read(f.dir, fileName(key), core.CacheImageMagic)
	if err != nil {
		return Blob{}, fmt.Errorf("read cache image: %w", err)
	}
	if !found {
		return Blob{}, core.ErrNotFound
	}
	return Blob{Compression: hdr.CompressorType, Data: payload}, nil
}

func (f *FileBackend) Put(ctx context.Context, key string, blob Blob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	hdr := core.NewFileHeader(core.CacheImageMagic, blob.Compression)
	return checkpoint.Write(f.dir, fileName(key), hdr, blob.Data)
}

func (f *FileBackend) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return checkpoint.Remove(f.dir, fileName(key))
}

func (f *FileBackend) Close() error {
	return f.lock.Release()
}
