package replication

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/INLOpen/worldsync/cache"
	"github.com/INLOpen/worldsync/core"
	"github.com/INLOpen/worldsync/hooks"
	"github.com/INLOpen/worldsync/snapshot"
)

// Store persists the state cache between sessions.
type Store[V any] interface {
	Load(ctx context.Context) *cache.StateCache[V]
	Save(ctx context.Context, c *cache.StateCache[V]) error
}

// SnapshotLoader reconciles a cache against a remote snapshot service.
type SnapshotLoader[V any] interface {
	Load(ctx context.Context, c *cache.StateCache[V], progress func(float64)) (*cache.StateCache[V], snapshot.Result, error)
}

// HistoricalFetcher reads past events for an inclusive block range.
type HistoricalFetcher interface {
	FetchRange(ctx context.Context, from, to uint64, progress func(float64)) ([]core.RawEvent, error)
}

// LiveSource writes new blocks to out until ctx is done.
type LiveSource interface {
	Run(ctx context.Context, fromBlock uint64, out chan<- core.BlockUpdate) error
}

const (
	DefaultReplayChunkSize = 1000
	DefaultLargeGapBlocks  = 100
)

// Progress checkpoints of each phase, in percent.
const (
	percentSetup      = 5
	percentBackfill   = 10
	percentGapfill    = 50
	percentInitialize = 80
	percentLive       = 100
)

// Options wires a Synchronizer to its collaborators. Connect, Fetcher, Live,
// Decoder and Outbox are required; Store and Snapshot are optional.
type Options[V any] struct {
	Connect  func(ctx context.Context) error
	Store    Store[V]
	Snapshot SnapshotLoader[V]
	Fetcher  HistoricalFetcher
	Live     LiveSource
	Decoder  core.Decoder[V]
	Outbox   *Outbox[V]

	// StatusValue renders the sync status as a mirrored value. When nil the
	// status is not emitted to the consumer.
	StatusValue     func(core.SyncStatus) V
	ReplayChunkSize int
	LargeGapBlocks  uint64
	// LargeGaps receives out-of-band restart requests. Sends never block.
	LargeGaps chan<- LargeGap

	Hooks          hooks.HookManager
	Logger         *slog.Logger
	TracerProvider trace.TracerProvider
}

// Synchronizer runs one session: CONNECTING, SETUP, BACKFILL, GAPFILL,
// INITIALIZE, then LIVE until its context ends. Phases never overlap; the
// live source is the only concurrent actor.
type Synchronizer[V any] struct {
	opts   Options[V]
	gate   *Gate
	hooks  hooks.HookManager
	logger *slog.Logger
	tracer trace.Tracer

	mu     sync.RWMutex
	status core.SyncStatus
	cache  *cache.StateCache[V]

	// lastBlock is the highest block applied or forwarded.
	lastBlock uint64
}

func New[V any](opts Options[V]) *Synchronizer[V] {
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
	if opts.ReplayChunkSize <= 0 {
		opts.ReplayChunkSize = DefaultReplayChunkSize
	}
	if opts.LargeGapBlocks == 0 {
		opts.LargeGapBlocks = DefaultLargeGapBlocks
	}
	if opts.Store == nil {
		opts.Store = nopStore[V]{}
	}
	return &Synchronizer[V]{
		opts:   opts,
		gate:   NewGate(),
		hooks:  hm,
		logger: logger.With("component", "Synchronizer"),
		tracer: tp.Tracer("github.com/INLOpen/worldsync/replication"),
		status: core.SyncStatus{Phase: core.PhaseConnecting},
	}
}

type nopStore[V any] struct{}

func (nopStore[V]) Load(context.Context) *cache.StateCache[V]        { return cache.New[V]() }
func (nopStore[V]) Save(context.Context, *cache.StateCache[V]) error { return nil }

// Status returns the latest status.
func (s *Synchronizer[V]) Status() core.SyncStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Cache returns the session's state cache once BACKFILL has loaded it.
func (s *Synchronizer[V]) Cache() *cache.StateCache[V] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache
}

func (s *Synchronizer[V]) setStatus(ctx context.Context, phase core.Phase, pct float64, msg string) {
	s.mu.Lock()
	prev := s.status
	if prev.Phase.Terminal() {
		s.mu.Unlock()
		return
	}
	st := core.SyncStatus{Phase: phase, Message: msg, Percentage: pct}
	s.status = st
	s.mu.Unlock()

	if s.opts.StatusValue != nil {
		s.opts.Outbox.Push(core.Set(core.StatusComponent, core.SingletonEntity, s.opts.StatusValue(st), 0))
	}
	if prev.Phase != phase {
		s.logger.Info("Sync phase changed", "from", prev.Phase.String(), "to", phase.String(), "message", msg)
		s.hooks.Trigger(ctx, hooks.NewPhaseChangeEvent(hooks.PhaseChangePayload{From: prev.Phase, To: phase, Status: st}))
	}
}

func (s *Synchronizer[V]) fail(ctx context.Context, reason string, err error) error {
	s.setStatus(ctx, core.PhaseFailed, s.Status().Percentage, reason)
	s.logger.Error("Sync failed", "reason", reason, "error", err)
	s.hooks.Trigger(ctx, hooks.NewSyncFailedEvent(hooks.SyncFailedPayload{Reason: reason, Err: err}))
	return &FailedError{Reason: reason, Err: err}
}

// OnResume is wired to the live source; it raises a LargeGap when live
// updates resume too far past the last block seen.
func (s *Synchronizer[V]) OnResume(last, first uint64) {
	missing := first - last - 1
	if missing <= s.opts.LargeGapBlocks {
		s.logger.Warn("Live updates resumed with missing blocks, fetching them", "last", last, "first", first, "missing", missing)
		return
	}
	gap := LargeGap{From: last, To: first}
	s.logger.Warn("Large gap in live updates, session restart requested", "from", last, "to", first)
	s.hooks.Trigger(context.Background(), hooks.NewLargeGapEvent(hooks.LargeGapPayload{From: last, To: first}))
	if s.opts.LargeGaps != nil {
		select {
		case s.opts.LargeGaps <- gap:
		default:
		}
	}
}

func (s *Synchronizer[V]) decode(raw []core.RawEvent, into []core.UpdateEvent[V]) []core.UpdateEvent[V] {
	for _, r := range raw {
		ev, err := core.Decode(s.opts.Decoder, r)
		if err != nil {
			s.logger.Warn("Dropping undecodable event", "component", r.Component, "entity", r.Entity, "block", r.BlockNumber, "error", err)
			continue
		}
		into = append(into, ev)
	}
	return into
}

// Run drives the session. It returns a *FailedError on terminal failure,
// ctx.Err() when stopped, and any other error for failures worth a restart.
func (s *Synchronizer[V]) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	err := s.run(gctx, g)
	if err == nil {
		<-gctx.Done()
		err = gctx.Err()
	}
	cancel()
	if werr := g.Wait(); werr != nil && !errors.Is(werr, context.Canceled) {
		s.logger.Error("Session task failed", "error", werr)
		if errors.Is(err, context.Canceled) {
			err = werr
		}
	}
	return err
}

func (s *Synchronizer[V]) run(ctx context.Context, g *errgroup.Group) error {
	// CONNECTING
	s.setStatus(ctx, core.PhaseConnecting, 0, "Connecting to the chain")
	if err := s.traced(ctx, "Connect", s.opts.Connect); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return s.fail(ctx, "Could not connect to the chain", err)
	}

	// SETUP
	s.setStatus(ctx, core.PhaseSetup, percentSetup, "Starting live updates")
	blocks := make(chan core.BlockUpdate, 256)
	g.Go(func() error { return s.opts.Live.Run(ctx, 0, blocks) })
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case u := <-blocks:
				s.gate.Offer(u)
			}
		}
	})

	// BACKFILL
	s.setStatus(ctx, core.PhaseBackfill, percentBackfill, "Loading cached state")
	c, err := s.backfill(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cache = c
	s.mu.Unlock()

	// GAPFILL
	if err := s.gapfill(ctx, c); err != nil {
		return err
	}

	// INITIALIZE
	if err := s.initialize(ctx, c); err != nil {
		return err
	}

	// LIVE
	s.setStatus(ctx, core.PhaseLive, percentLive, "Live")
	s.gate.StartForwarding(func(u core.BlockUpdate) { s.forward(ctx, u) })
	return nil
}

func (s *Synchronizer[V]) traced(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, "Synchronizer."+name)
	defer span.End()
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, name+"_failed")
		return err
	}
	return nil
}

func (s *Synchronizer[V]) backfill(ctx context.Context) (*cache.StateCache[V], error) {
	var c *cache.StateCache[V]
	err := s.traced(ctx, "Backfill", func(ctx context.Context) error {
		c = s.opts.Store.Load(ctx)
		r := c.Report()
		s.logger.Info("Local cache loaded", "values", r.Values, "watermark", r.Watermark)
		if s.opts.Snapshot == nil {
			return nil
		}
		s.setStatus(ctx, core.PhaseBackfill, percentBackfill, "Fetching snapshot")
		loaded, res, err := s.opts.Snapshot.Load(ctx, c, func(p float64) {
			s.setStatus(ctx, core.PhaseBackfill, percentBackfill+p*(percentGapfill-percentBackfill),
				fmt.Sprintf("Fetching snapshot (%.0f%%)", p*100))
		})
		if err != nil {
			return err
		}
		c = loaded
		s.logger.Info("Snapshot reconciled", "block", res.Block, "values", res.Values, "first_load", res.FirstLoad)
		return nil
	})
	if err == nil {
		return c, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if snapshot.IsRateLimited(err) {
		return nil, s.fail(ctx, "The snapshot service is rate limiting this client. Please try again in a few minutes", err)
	}
	return nil, s.fail(ctx, fmt.Sprintf("Failed to load the snapshot (code %s)", snapshot.Code(err)), err)
}

func (s *Synchronizer[V]) gapfill(ctx context.Context, c *cache.StateCache[V]) error {
	s.setStatus(ctx, core.PhaseGapfill, percentGapfill, "Waiting for the live stream")
	start, err := s.gate.StreamStart(ctx)
	if err != nil {
		return err
	}
	from := c.Watermark()

	return s.traced(ctx, "Gapfill", func(ctx context.Context) error {
		trace.SpanFromContext(ctx).SetAttributes(attribute.Int64("gap.from", int64(from)), attribute.Int64("gap.to", int64(start)))
		s.setStatus(ctx, core.PhaseGapfill, percentGapfill, fmt.Sprintf("Fetching blocks %d to %d", from, start))
		raw, err := s.opts.Fetcher.FetchRange(ctx, from, start, func(p float64) {
			s.setStatus(ctx, core.PhaseGapfill, percentGapfill+p*(percentInitialize-percentGapfill-5),
				fmt.Sprintf("Fetching blocks %d to %d (%.0f%%)", from, start, p*100))
		})
		if err != nil {
			return fmt.Errorf("gap fill [%d, %d]: %w", from, start, err)
		}
		events := s.decode(raw, nil)
		c.ApplyAll(events)
		c.AdvanceWatermark(start)

		backlog := s.gate.TakeBacklog()
		var merged []core.UpdateEvent[V]
		last, holes := start, 0
		for _, u := range backlog {
			if u.Number > last+1 {
				missing, err := s.fillHole(ctx, last+1, u.Number-1)
				if err != nil {
					return err
				}
				merged = append(merged, missing...)
				holes++
			}
			merged = s.decode(u.Events, merged)
			last = max(last, u.Number)
		}
		c.ApplyAll(merged)
		c.AdvanceWatermark(last)
		s.lastBlock = last
		s.logger.Info("Gap filled", "from", from, "to", start, "gap_events", len(events),
			"backlog_blocks", len(backlog), "backlog_events", len(merged), "backlog_holes", holes, "watermark", c.Watermark())
		return nil
	})
}

// fillHole fetches the blocks a live source skipped, inclusive.
func (s *Synchronizer[V]) fillHole(ctx context.Context, from, to uint64) ([]core.UpdateEvent[V], error) {
	s.logger.Info("Fetching blocks missing from live updates", "from", from, "to", to)
	raw, err := s.opts.Fetcher.FetchRange(ctx, from, to, nil)
	if err != nil {
		return nil, fmt.Errorf("live hole [%d, %d]: %w", from, to, err)
	}
	return s.decode(raw, nil), nil
}

func (s *Synchronizer[V]) initialize(ctx context.Context, c *cache.StateCache[V]) error {
	return s.traced(ctx, "Initialize", func(ctx context.Context) error {
		total := c.Len()
		s.setStatus(ctx, core.PhaseInitialize, percentInitialize, fmt.Sprintf("Initializing %d values", total))
		chunk := make([]core.UpdateEvent[V], 0, s.opts.ReplayChunkSize)
		done := 0
		for ev := range c.Entries() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			chunk = append(chunk, ev)
			done++
			if len(chunk) == s.opts.ReplayChunkSize {
				s.opts.Outbox.Push(chunk...)
				chunk = chunk[:0]
				s.setStatus(ctx, core.PhaseInitialize,
					percentInitialize+float64(done)/float64(total)*(percentLive-percentInitialize-1),
					fmt.Sprintf("Initializing %d/%d values", done, total))
			}
		}
		s.opts.Outbox.Push(chunk...)

		if err := s.opts.Store.Save(ctx, c); err != nil {
			s.logger.Warn("Failed to persist state cache", "error", err)
		}
		return nil
	})
}

// forward pushes a live block to the consumer. Holes up to LargeGapBlocks
// are fetched first; larger ones are left to the restart OnResume requests.
// The gate serializes calls, so lastBlock needs no lock.
func (s *Synchronizer[V]) forward(ctx context.Context, u core.BlockUpdate) {
	if u.Number > s.lastBlock+1 && u.Number-s.lastBlock-1 <= s.opts.LargeGapBlocks {
		events, err := s.fillHole(ctx, s.lastBlock+1, u.Number-1)
		if err != nil {
			s.logger.Error("Could not fetch blocks missing from live updates", "from", s.lastBlock+1, "to", u.Number-1, "error", err)
		}
		s.opts.Outbox.Push(events...)
	}
	s.opts.Outbox.Push(s.decode(u.Events, nil)...)
	s.lastBlock = max(s.lastBlock, u.Number)
}
