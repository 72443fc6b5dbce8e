package localstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/INLOpen/worldsync/cache"
	"github.com/INLOpen/worldsync/compressors"
	"github.com/INLOpen/worldsync/core"
	"github.com/INLOpen/worldsync/hooks"
)

// Options configures an Adapter.
type Options[V any] struct {
	Identity   Identity
	Codec      ValueCodec[V]
	Compressor core.Compressor
	Hooks      hooks.HookManager
	Logger     *slog.Logger
}

// Adapter saves and restores a StateCache under a fixed identity.
// Load never fails: any problem yields an empty cache and a full resync.
type Adapter[V any] struct {
	backend    Backend
	identity   Identity
	key        string
	codec      ValueCodec[V]
	compressor core.Compressor
	hooks      hooks.HookManager
	logger     *slog.Logger
}

func NewAdapter[V any](backend Backend, opts Options[V]) *Adapter[V] {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	codec := opts.Codec
	if codec == nil {
		codec = JSONCodec[V]{}
	}
	comp := opts.Compressor
	if comp == nil {
		comp = compressors.NewNoCompressionCompressor()
	}
	hm := opts.Hooks
	if hm == nil {
		hm = hooks.NewHookManager(logger)
	}
	return &Adapter[V]{
		backend:    backend,
		identity:   opts.Identity,
		key:        opts.Identity.Key(),
		codec:      codec,
		compressor: comp,
		hooks:      hm,
		logger:     logger.With("component", "LocalStore", "identity", opts.Identity.String()),
	}
}

func (a *Adapter[V]) Identity() Identity { return a.identity }

// Save persists c. Errors are returned for logging; callers carry on.
func (a *Adapter[V]) Save(ctx context.Context, c *cache.StateCache[V]) error {
	img := c.Image()
	pre := hooks.StorePayload{Key: a.key, Values: len(img.Values), Watermark: img.Watermark}
	if err := a.hooks.Trigger(ctx, hooks.NewPreStoreSaveEvent(pre)); err != nil {
		return fmt.Errorf("save vetoed: %w", err)
	}
	rec := record{identity: a.identity, key: a.key}
	rec.image = cache.Image[[]byte]{
		Components: img.Components,
		Entities:   img.Entities,
		Watermark:  img.Watermark,
		Remote:     img.Remote,
		Values:     make([]cache.ImageValue[[]byte], 0, len(img.Values)),
	}
	for _, iv := range img.Values {
		data, err := a.codec.Marshal(iv.Value)
		if err != nil {
			return fmt.Errorf("encode value (%d,%d): %w", iv.Component, iv.Entity, err)
		}
		rec.image.Values = append(rec.image.Values, cache.ImageValue[[]byte]{Component: iv.Component, Entity: iv.Entity, Value: data})
	}

	buf := core.BufferPool.Get()
	defer core.BufferPool.Put(buf)
	raw := rec.marshal(nil)
	if err := a.compressor.CompressTo(buf, raw); err != nil {
		return fmt.Errorf("compress cache image: %w", err)
	}
	blob := Blob{Compression: a.compressor.Type(), Data: append([]byte(nil), buf.Bytes()...)}

	err := a.backend.Put(ctx, a.key, blob)
	a.hooks.Trigger(ctx, hooks.NewStoreSavedEvent(hooks.StorePayload{
		Key:       a.key,
		Values:    len(img.Values),
		Watermark: img.Watermark,
		Bytes:     len(blob.Data),
		Err:       err,
	}))
	if err != nil {
		return fmt.Errorf("store cache image: %w", err)
	}
	a.logger.Info("Saved state cache", "values", len(img.Values), "watermark", img.Watermark,
		"bytes", len(blob.Data), "raw_bytes", len(raw), "compression", a.compressor.Type().String())
	return nil
}

// Load restores the stored cache, or returns an empty one.
func (a *Adapter[V]) Load(ctx context.Context) *cache.StateCache[V] {
	c, err := a.load(ctx)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			a.logger.Info("No stored state cache, starting empty")
		} else {
			a.logger.Warn("Discarding stored state cache", "error", err)
		}
		return cache.New[V]()
	}
	r := c.Report()
	a.logger.Info("Loaded state cache", "values", r.Values, "watermark", r.Watermark, "remote_block", r.RemoteBlock)
	return c
}

func (a *Adapter[V]) load(ctx context.Context) (*cache.StateCache[V], error) {
	blob, err := a.backend.Get(ctx, a.key)
	if err != nil {
		return nil, err
	}
	comp, err := compressors.ForType(blob.Compression)
	if err != nil {
		return nil, err
	}
	raw, err := compressors.DecompressAll(comp, blob.Data)
	if err != nil {
		return nil, fmt.Errorf("decompress cache image: %w", err)
	}

	var rec record
	if err := rec.unmarshal(raw); err != nil {
		return nil, fmt.Errorf("decode cache image: %w", err)
	}
	if rec.key != a.key || rec.identity != a.identity {
		return nil, fmt.Errorf("%w: stored %s", core.ErrIdentityMismatch, rec.identity)
	}

	img := cache.Image[V]{
		Components: rec.image.Components,
		Entities:   rec.image.Entities,
		Watermark:  rec.image.Watermark,
		Remote:     rec.image.Remote,
		Values:     make([]cache.ImageValue[V], 0, len(rec.image.Values)),
	}
	for _, iv := range rec.image.Values {
		v, err := a.codec.Unmarshal(iv.Value)
		if err != nil {
			return nil, fmt.Errorf("decode value (%d,%d): %w", iv.Component, iv.Entity, err)
		}
		img.Values = append(img.Values, cache.ImageValue[V]{Component: iv.Component, Entity: iv.Entity, Value: v})
	}
	return cache.FromImage(img)
}

// Reset deletes the stored cache for this identity.
func (a *Adapter[V]) Reset(ctx context.Context) error {
	if err := a.backend.Delete(ctx, a.key); err != nil {
		return fmt.Errorf("reset local store: %w", err)
	}
	a.logger.Info("Local store reset")
	return nil
}
