package replication

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/INLOpen/worldsync/core"
	"github.com/INLOpen/worldsync/hooks"
)

const (
	DefaultBatchWindow  = 33 * time.Millisecond
	DefaultStallWarning = 33 * time.Second
)

// OutboxOptions configures an Outbox. Zero values take the defaults;
// MaxBatchSize zero means unlimited.
type OutboxOptions struct {
	Window       time.Duration
	StallWarning time.Duration
	MaxBatchSize int
	Hooks        hooks.HookManager
	Logger       *slog.Logger
}

// Outbox batches outgoing events in time windows and keeps at most one
// released batch unacknowledged. Events pushed while a batch is in flight
// are merged into the pending batch.
type Outbox[V any] struct {
	window       time.Duration
	stallWarning time.Duration
	maxBatch     int
	hooks        hooks.HookManager
	logger       *slog.Logger

	mu         sync.Mutex
	pending    []core.UpdateEvent[V]
	windowOpen bool
	ready      bool
	inFlight   bool
	releasedAt time.Time
	warned     bool
	released   int

	notify chan struct{}
}

func NewOutbox[V any](opts OutboxOptions) *Outbox[V] {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	hm := opts.Hooks
	if hm == nil {
		hm = hooks.NewHookManager(logger)
	}
	o := &Outbox[V]{
		window:       opts.Window,
		stallWarning: opts.StallWarning,
		maxBatch:     opts.MaxBatchSize,
		hooks:        hm,
		logger:       logger.With("component", "Outbox"),
		notify:       make(chan struct{}, 1),
	}
	if o.window <= 0 {
		o.window = DefaultBatchWindow
	}
	if o.stallWarning <= 0 {
		o.stallWarning = DefaultStallWarning
	}
	return o
}

func (o *Outbox[V]) signal() {
	select {
	case o.notify <- struct{}{}:
	default:
	}
}

// Push queues events. It never blocks.
func (o *Outbox[V]) Push(events ...core.UpdateEvent[V]) {
	if len(events) == 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending = append(o.pending, events...)
	if o.windowOpen || o.ready {
		return
	}
	o.windowOpen = true
	time.AfterFunc(o.window, func() {
		o.mu.Lock()
		o.windowOpen = false
		o.ready = true
		o.mu.Unlock()
		o.signal()
	})
}

// Ack marks the in-flight batch as applied.
func (o *Outbox[V]) Ack(ctx context.Context) {
	o.mu.Lock()
	if !o.inFlight {
		o.mu.Unlock()
		return
	}
	o.inFlight = false
	latency := time.Since(o.releasedAt)
	o.mu.Unlock()

	o.hooks.Trigger(ctx, hooks.NewAckReceivedEvent(hooks.AckPayload{LatencyMillis: float64(latency) / float64(time.Millisecond)}))
	o.signal()
}

// Pending is the number of events waiting for release.
func (o *Outbox[V]) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// InFlight reports whether a released batch awaits its ack.
func (o *Outbox[V]) InFlight() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inFlight
}

// Released counts the batches handed to the consumer.
func (o *Outbox[V]) Released() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.released
}

func (o *Outbox[V]) take() []core.UpdateEvent[V] {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.ready || o.inFlight || len(o.pending) == 0 {
		return nil
	}
	n := len(o.pending)
	if o.maxBatch > 0 && n > o.maxBatch {
		n = o.maxBatch
	}
	batch := make([]core.UpdateEvent[V], n)
	copy(batch, o.pending)
	o.pending = append(o.pending[:0], o.pending[n:]...)
	if len(o.pending) == 0 {
		o.ready = false
	}
	o.inFlight = true
	o.releasedAt = time.Now()
	o.warned = false
	o.released++
	return batch
}

func (o *Outbox[V]) checkStall() {
	o.mu.Lock()
	stalled := o.inFlight && !o.warned && time.Since(o.releasedAt) >= o.stallWarning
	if stalled {
		o.warned = true
	}
	pending := len(o.pending)
	o.mu.Unlock()
	if stalled {
		o.logger.Warn("Consumer has not acknowledged the last batch", "waited", o.stallWarning, "pending_events", pending)
	}
}

// Run releases batches to out until ctx is done.
func (o *Outbox[V]) Run(ctx context.Context, out chan<- []core.UpdateEvent[V]) error {
	ticker := time.NewTicker(max(o.stallWarning/4, time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.checkStall()
			continue
		case <-o.notify:
		}
		batch := o.take()
		if batch == nil {
			continue
		}
		select {
		case out <- batch:
		case <-ctx.Done():
			return ctx.Err()
		}
		o.hooks.Trigger(ctx, hooks.NewBatchReleasedEvent(hooks.BatchPayload{Events: len(batch), Pending: o.Pending()}))
	}
}
