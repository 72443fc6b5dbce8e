package localstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/INLOpen/worldsync/cache"
	"github.com/INLOpen/worldsync/compressors"
	"github.com/INLOpen/worldsync/core"
	"github.com/INLOpen/worldsync/hooks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

var testIdentity = Identity{ChainID: 31337, World: "0xWorld", SchemaVersion: "3"}

func sampleCache(t *testing.T) *cache.StateCache[position] {
	t.Helper()
	c := cache.New[position]()
	c.Apply(core.Set("Position", "0x01", position{1, 2}, 10))
	c.Apply(core.Set("Position", "0x02", position{3, 4}, 11))
	c.Apply(core.Set("Velocity", "0x01", position{0, 1}, 12))
	c.Apply(core.Removed[position]("Position", "0x02", 13))
	require.True(t, c.MergeRemoteComponent(0, "Velocity"))
	require.True(t, c.MergeRemoteEntity(0, "0x01"))
	c.SetRemoteEpoch(12, "epoch-a")
	return c
}

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	file, err := OpenFile(t.TempDir(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlite.Close()
		file.Close()
	})
	return map[string]Backend{
		"memory": NewMemoryBackend(),
		"sqlite": sqlite,
		"file":   file,
	}
}

func TestAdapter_PersistenceRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, backend := range backends(t) {
		for _, ct := range []core.CompressionType{core.CompressionNone, core.CompressionSnappy, core.CompressionLZ4, core.CompressionZSTD} {
			t.Run(name+"/"+ct.String(), func(t *testing.T) {
				comp, err := compressors.ForType(ct)
				require.NoError(t, err)
				a := NewAdapter(backend, Options[position]{Identity: testIdentity, Compressor: comp})

				src := sampleCache(t)
				require.NoError(t, a.Save(ctx, src))

				got := a.Load(ctx)
				assert.Equal(t, src.Image(), got.Image())
				assert.Equal(t, src.Report(), got.Report())

				// interning lookups are rebuilt
				v, ok := got.Get("Velocity", "0x01")
				require.True(t, ok)
				assert.Equal(t, position{0, 1}, v)
				assert.Equal(t, []string{"0x01"}, got.EntitiesWith("Position"))
			})
		}
	}
}

func TestAdapter_SchemaMismatchLoadsEmpty(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	old := NewAdapter(backend, Options[position]{Identity: testIdentity})
	require.NoError(t, old.Save(ctx, sampleCache(t)))

	bumped := testIdentity
	bumped.SchemaVersion = "4"
	next := NewAdapter(backend, Options[position]{Identity: bumped})
	got := next.Load(ctx)
	assert.Equal(t, 0, got.Len())
	assert.Equal(t, uint64(0), got.Watermark())
}

func TestAdapter_IdentityMismatchInsideRecordLoadsEmpty(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	a := NewAdapter(backend, Options[position]{Identity: testIdentity})
	require.NoError(t, a.Save(ctx, sampleCache(t)))

	// Copy the record under another identity's key.
	other := Identity{ChainID: 1, World: "0xOther", SchemaVersion: "3"}
	blob, err := backend.Get(ctx, testIdentity.Key())
	require.NoError(t, err)
	require.NoError(t, backend.Put(ctx, other.Key(), blob))

	got := NewAdapter(backend, Options[position]{Identity: other}).Load(ctx)
	assert.Equal(t, 0, got.Len())
}

func TestAdapter_CorruptRecordLoadsEmpty(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	require.NoError(t, backend.Put(ctx, testIdentity.Key(), Blob{Compression: core.CompressionNone, Data: []byte{0xff, 0xff, 0xff}}))
	got := NewAdapter(backend, Options[position]{Identity: testIdentity}).Load(ctx)
	assert.Equal(t, 0, got.Len())

	require.NoError(t, backend.Put(ctx, testIdentity.Key(), Blob{Compression: core.CompressionType(99), Data: nil}))
	got = NewAdapter(backend, Options[position]{Identity: testIdentity}).Load(ctx)
	assert.Equal(t, 0, got.Len())
}

func TestAdapter_Reset(t *testing.T) {
	ctx := context.Background()
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			a := NewAdapter(backend, Options[position]{Identity: testIdentity})
			require.NoError(t, a.Save(ctx, sampleCache(t)))
			require.NoError(t, a.Reset(ctx))
			assert.Equal(t, 0, a.Load(ctx).Len())
			require.NoError(t, a.Reset(ctx), "resetting twice is fine")
		})
	}
}

func TestAdapter_EmptyCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	a := NewAdapter(NewMemoryBackend(), Options[[]byte]{Identity: testIdentity, Codec: BytesCodec{}})
	src := cache.New[[]byte]()
	src.AdvanceWatermark(5)
	require.NoError(t, a.Save(ctx, src))
	got := a.Load(ctx)
	assert.Equal(t, uint64(5), got.Watermark())
	assert.Equal(t, 0, got.Len())
}

func TestIdentityKey(t *testing.T) {
	a := Identity{ChainID: 1, World: "0xAbC", SchemaVersion: "1"}
	b := Identity{ChainID: 1, World: "0xabc", SchemaVersion: "1"}
	c := Identity{ChainID: 1, World: "0xabc", SchemaVersion: "2"}
	assert.Equal(t, a.Key(), b.Key(), "world address is case-insensitive")
	assert.NotEqual(t, a.Key(), c.Key())
	assert.Len(t, a.Key(), 64)
}

func TestSQLite_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")
	db, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, db.Put(ctx, "k", Blob{Compression: core.CompressionZSTD, Data: []byte("v")}))
	require.NoError(t, db.Close())

	db, err = OpenSQLite(path)
	require.NoError(t, err)
	defer db.Close()
	blob, err := db.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, core.CompressionZSTD, blob.Compression)
	assert.Equal(t, []byte("v"), blob.Data)

	_, err = db.Get(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestFileBackend_DirectoryIsLocked(t *testing.T) {
	dir := t.TempDir()
	first, err := OpenFile(dir, 0)
	require.NoError(t, err)
	defer first.Close()
	_, err = OpenFile(dir, 20*time.Millisecond)
	require.Error(t, err)
}

type vetoListener struct{ err error }

func (v vetoListener) OnEvent(context.Context, hooks.HookEvent) error { return v.err }
func (v vetoListener) Priority() int                                  { return 0 }
func (v vetoListener) IsAsync() bool                                  { return false }

func TestAdapter_PreSaveHookCanVeto(t *testing.T) {
	ctx := context.Background()
	hm := hooks.NewHookManager(nil)
	hm.Register(hooks.EventPreStoreSave, vetoListener{err: errors.New("read-only session")})

	backend := NewMemoryBackend()
	a := NewAdapter(backend, Options[position]{Identity: testIdentity, Hooks: hm})
	err := a.Save(ctx, sampleCache(t))
	require.Error(t, err)

	_, err = backend.Get(ctx, testIdentity.Key())
	assert.ErrorIs(t, err, core.ErrNotFound)
}
