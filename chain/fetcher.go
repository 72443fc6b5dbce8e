package chain

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/INLOpen/worldsync/core"
)

// DefaultChunkBlocks bounds the block span of a single eth_getLogs call.
const DefaultChunkBlocks = 10_000

// LogSource is the part of Client the fetcher needs.
type LogSource interface {
	GetLogs(ctx context.Context, f LogFilter) ([]Log, error)
}

// FetcherOptions configures a RangeFetcher.
type FetcherOptions struct {
	World          string
	ChunkBlocks    uint64
	Logger         *slog.Logger
	TracerProvider trace.TracerProvider
}

// RangeFetcher reads historical component events for block ranges.
type RangeFetcher struct {
	src         LogSource
	world       string
	chunkBlocks uint64
	logger      *slog.Logger
	tracer      trace.Tracer
}

func NewRangeFetcher(src LogSource, opts FetcherOptions) *RangeFetcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	chunk := opts.ChunkBlocks
	if chunk == 0 {
		chunk = DefaultChunkBlocks
	}
	return &RangeFetcher{
		src:         src,
		world:       opts.World,
		chunkBlocks: chunk,
		logger:      logger.With("component", "RangeFetcher"),
		tracer:      tp.Tracer("github.com/INLOpen/worldsync/chain"),
	}
}

// FetchRange returns every component event in the inclusive range [from, to]
// ordered by block, then log index. Chunks are fetched one after another and
// progress receives the completed fraction after each. Any chunk error aborts
// the whole call. A range with from > to is empty.
func (f *RangeFetcher) FetchRange(ctx context.Context, from, to uint64, progress func(float64)) ([]core.RawEvent, error) {
	if from > to {
		return nil, nil
	}
	ctx, span := f.tracer.Start(ctx, "RangeFetcher.FetchRange",
		trace.WithAttributes(attribute.Int64("range.from", int64(from)), attribute.Int64("range.to", int64(to))))
	defer span.End()

	total := to - from + 1
	var events []core.RawEvent
	for lo := from; lo <= to; {
		hi := min(lo+f.chunkBlocks-1, to)
		logs, err := f.src.GetLogs(ctx, LogFilter{
			Address:   f.world,
			FromBlock: lo,
			ToBlock:   hi,
			Topics:    []string{ValueSetTopic, ValueRemovedTopic},
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "get_logs_failed")
			return nil, fmt.Errorf("fetch logs [%d, %d]: %w", lo, hi, err)
		}
		for _, l := range logs {
			if l.Removed {
				continue
			}
			ev, ok, err := DecodeLog(l)
			if err != nil {
				f.logger.Warn("Skipping malformed log", "block", l.BlockNumber, "log_index", l.LogIndex, "error", err)
				continue
			}
			if ok {
				events = append(events, ev)
			}
		}
		if progress != nil {
			progress(float64(hi-from+1) / float64(total))
		}
		if hi == to {
			break
		}
		lo = hi + 1
	}

	slices.SortStableFunc(events, func(a, b core.RawEvent) int {
		if c := cmp.Compare(a.BlockNumber, b.BlockNumber); c != 0 {
			return c
		}
		return cmp.Compare(a.LogIndex, b.LogIndex)
	})
	span.SetAttributes(attribute.Int("range.events", len(events)))
	f.logger.Debug("Fetched range", "from", from, "to", to, "events", len(events))
	return events, nil
}

// FetchBlocks groups the events of [from, to] per block, one BlockUpdate for
// every block in the range including those without events.
func (f *RangeFetcher) FetchBlocks(ctx context.Context, from, to uint64) ([]core.BlockUpdate, error) {
	events, err := f.FetchRange(ctx, from, to, nil)
	if err != nil || from > to {
		return nil, err
	}
	blocks := make([]core.BlockUpdate, 0, to-from+1)
	i := 0
	for b := from; b <= to; b++ {
		u := core.BlockUpdate{Number: b}
		for i < len(events) && events[i].BlockNumber == b {
			u.Events = append(u.Events, events[i])
			i++
		}
		blocks = append(blocks, u)
		if b == to {
			break
		}
	}
	return blocks, nil
}
