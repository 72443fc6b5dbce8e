package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	apiv1 "github.com/INLOpen/worldsync/api/v1"
	"github.com/INLOpen/worldsync/cache"
	"github.com/INLOpen/worldsync/core"
	"github.com/INLOpen/worldsync/hooks"
)

// DefaultChunkCount is used when Options.ChunkCount is zero.
const DefaultChunkCount = 10

// Options configures a Loader.
type Options[V any] struct {
	World          string
	ChunkCount     uint32
	FetchExtras    bool
	Decoder        core.Decoder[V]
	Hooks          hooks.HookManager
	Logger         *slog.Logger
	TracerProvider trace.TracerProvider
}

// Result summarizes one Load call.
type Result struct {
	Block          uint64
	Nonce          string
	FirstLoad      bool
	Components     int
	Entities       int
	Removals       int
	Values         int
	SkippedEntries int
	SkippedValues  int
}

// Loader brings a StateCache up to date with the snapshot service. It does
// not retry; callers decide what a failure means.
type Loader[V any] struct {
	api         apiv1.SnapshotServiceClient
	world       string
	chunkCount  uint32
	fetchExtras bool
	decode      core.Decoder[V]
	hooks       hooks.HookManager
	logger      *slog.Logger
	tracer      trace.Tracer
}

func NewLoader[V any](api apiv1.SnapshotServiceClient, opts Options[V]) *Loader[V] {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	hm := opts.Hooks
	if hm == nil {
		hm = hooks.NewHookManager(logger)
	}
	chunks := opts.ChunkCount
	if chunks == 0 {
		chunks = DefaultChunkCount
	}
	return &Loader[V]{
		api:         api,
		world:       opts.World,
		chunkCount:  chunks,
		fetchExtras: opts.FetchExtras,
		decode:      opts.Decoder,
		hooks:       hm,
		logger:      logger.With("component", "SnapshotLoader"),
		tracer:      tp.Tracer("github.com/INLOpen/worldsync/snapshot"),
	}
}

// Load reconciles c with the remote dataset and returns the cache to keep
// using. On an epoch change the returned cache is a new, empty one filled
// from scratch; otherwise it is c itself. progress receives the fraction of
// value chunks received, from 0 to 1.
func (l *Loader[V]) Load(ctx context.Context, c *cache.StateCache[V], progress func(float64)) (*cache.StateCache[V], Result, error) {
	ctx, span := l.tracer.Start(ctx, "SnapshotLoader.Load")
	defer span.End()

	res, err := l.load(ctx, &c, progress)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "snapshot_load_failed")
		return c, res, err
	}
	span.SetAttributes(
		attribute.Int64("snapshot.block", int64(res.Block)),
		attribute.Bool("snapshot.first_load", res.FirstLoad),
		attribute.Int("snapshot.values", res.Values),
	)
	return c, res, nil
}

func (l *Loader[V]) load(ctx context.Context, cp **cache.StateCache[V], progress func(float64)) (Result, error) {
	info, err := l.api.GetStateInfo(ctx, &apiv1.StateInfoRequest{World: l.world})
	if err != nil {
		return Result{}, fmt.Errorf("get state info: %w", err)
	}
	res := Result{Block: info.Block, Nonce: info.Nonce}

	c := *cp
	stored := c.RemoteNonce()
	if stored != info.Nonce {
		if stored != "" {
			l.logger.Warn("Remote epoch changed, discarding cached state", "old_nonce", stored, "new_nonce", info.Nonce)
		}
		l.hooks.Trigger(ctx, hooks.NewEpochRotatedEvent(hooks.EpochRotatedPayload{OldNonce: stored, NewNonce: info.Nonce}))
		c = cache.New[V]()
		*cp = c
	}
	res.FirstLoad = stored != info.Nonce || c.RemoteBlock() == 0
	fromBlock := c.RemoteBlock()
	l.logger.Info("Reconciling with snapshot service", "remote_block", info.Block, "from_block", fromBlock, "first_load", res.FirstLoad)

	if err := l.mergeTables(ctx, c, &res); err != nil {
		return res, err
	}
	if !res.FirstLoad {
		if err := l.mergeRemovals(ctx, c, fromBlock, &res); err != nil {
			return res, err
		}
	}
	if err := l.mergeValues(ctx, c, fromBlock, progress, &res); err != nil {
		return res, err
	}

	c.SetRemoteEpoch(info.Block, info.Nonce)
	c.AdvanceWatermark(info.Block)
	if res.SkippedEntries > 0 || res.SkippedValues > 0 {
		l.logger.Warn("Snapshot merge skipped entries", "table_entries", res.SkippedEntries, "values", res.SkippedValues)
	}
	l.logger.Info("Snapshot merged", "block", info.Block, "components", res.Components, "entities", res.Entities,
		"removals", res.Removals, "values", res.Values)
	return res, nil
}

func (l *Loader[V]) mergeTables(ctx context.Context, c *cache.StateCache[V], res *Result) error {
	_, span := l.tracer.Start(ctx, "SnapshotLoader.Tables")
	defer span.End()

	comps, err := l.api.GetComponents(ctx, &apiv1.TableRequest{World: l.world, FromIndex: c.RemoteComponentIndex()})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("get components: %w", err)
	}
	for _, e := range comps.Entries {
		if !c.MergeRemoteComponent(e.Index, e.ID) {
			l.logger.Warn("Component index mismatch, skipping entry", "index", e.Index, "expected", c.RemoteComponentIndex(), "id", e.ID)
			res.SkippedEntries++
			continue
		}
		res.Components++
	}

	ents, err := l.api.GetEntities(ctx, &apiv1.TableRequest{World: l.world, FromIndex: c.RemoteEntityIndex()})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("get entities: %w", err)
	}
	for _, e := range ents.Entries {
		if !c.MergeRemoteEntity(e.Index, e.ID) {
			l.logger.Warn("Entity index mismatch, skipping entry", "index", e.Index, "expected", c.RemoteEntityIndex(), "id", e.ID)
			res.SkippedEntries++
			continue
		}
		res.Entities++
	}
	return nil
}

func (l *Loader[V]) mergeRemovals(ctx context.Context, c *cache.StateCache[V], fromBlock uint64, res *Result) error {
	ctx, span := l.tracer.Start(ctx, "SnapshotLoader.Removals")
	defer span.End()

	stream, err := l.api.StreamRemovals(ctx, &apiv1.RemovalsRequest{World: l.world, FromBlock: fromBlock})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("stream removals: %w", err)
	}
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("receive removals: %w", err)
		}
		for _, k := range chunk.Keys {
			if c.RemoveRemote(k.Component, k.Entity) {
				res.Removals++
			}
		}
	}
}

func (l *Loader[V]) mergeValues(ctx context.Context, c *cache.StateCache[V], fromBlock uint64, progress func(float64), res *Result) error {
	ctx, span := l.tracer.Start(ctx, "SnapshotLoader.Values")
	defer span.End()

	stream, err := l.api.StreamValues(ctx, &apiv1.ValuesRequest{
		World:         l.world,
		FromBlock:     fromBlock,
		ChunkCount:    l.chunkCount,
		IncludeExtras: l.fetchExtras,
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("stream values: %w", err)
	}
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("receive values: %w", err)
		}
		for _, v := range chunk.Values {
			comp, ok := c.RemoteComponentID(v.Component)
			if !ok {
				res.SkippedValues++
				continue
			}
			val, err := l.decode(comp, v.Data)
			if err != nil {
				l.logger.Debug("Dropping undecodable value", "component", comp, "error", err)
				res.SkippedValues++
				continue
			}
			if !c.SetRemote(v.Component, v.Entity, val) {
				res.SkippedValues++
				continue
			}
			res.Values++
		}
		if progress != nil && chunk.TotalChunks > 0 {
			progress(float64(chunk.Chunk+1) / float64(chunk.TotalChunks))
		}
	}
}
