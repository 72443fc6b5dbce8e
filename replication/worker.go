package replication

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/INLOpen/worldsync/core"
	"github.com/INLOpen/worldsync/hooks"
)

// Session is one assembled synchronizer plus whatever must be released
// when it ends.
type Session[V any] struct {
	Sync    *Synchronizer[V]
	Cleanup func()
}

// SessionFactory builds a session for cfg that writes into outbox.
type SessionFactory[V any] func(ctx context.Context, cfg ConfigMessage, outbox *Outbox[V]) (*Session[V], error)

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	Outbox OutboxOptions
	// RestartMax caps the delay between session restarts.
	RestartMax time.Duration
	// OnFailure is called once when the session fails terminally, while the
	// worker keeps draining the outbox.
	OnFailure func(*FailedError)
	Hooks     hooks.HookManager
	Logger    *slog.Logger
}

// Worker serves one consumer: it reads the control channel, builds a
// session from the first Config, forwards Acks to the outbox and restarts
// the session after non-terminal failures.
type Worker[V any] struct {
	factory    SessionFactory[V]
	outboxOpts OutboxOptions
	restartMax time.Duration
	onFailure  func(*FailedError)
	hooks      hooks.HookManager
	logger     *slog.Logger
}

func NewWorker[V any](factory SessionFactory[V], opts WorkerOptions) *Worker[V] {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	hm := opts.Hooks
	if hm == nil {
		hm = hooks.NewHookManager(logger)
	}
	ob := opts.Outbox
	if ob.Hooks == nil {
		ob.Hooks = hm
	}
	if ob.Logger == nil {
		ob.Logger = logger
	}
	restartMax := opts.RestartMax
	if restartMax <= 0 {
		restartMax = time.Minute
	}
	return &Worker[V]{
		factory:    factory,
		outboxOpts: ob,
		restartMax: restartMax,
		onFailure:  opts.OnFailure,
		hooks:      hm,
		logger:     logger.With("component", "SyncWorker"),
	}
}

// Run serves until ctx is done or control is closed. Closing control tears
// the session down. A terminal failure stops restarts; the worker then keeps
// delivering what is already queued and returns the failure on teardown.
func (w *Worker[V]) Run(ctx context.Context, control <-chan ControlMessage, out chan<- []core.UpdateEvent[V]) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	outbox := NewOutbox[V](w.outboxOpts)
	configs := make(chan ConfigMessage, 1)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return outbox.Run(gctx, out) })
	g.Go(func() error {
		defer cancel()
		configured := false
		for {
			select {
			case <-gctx.Done():
				return nil
			case msg, ok := <-control:
				if !ok {
					w.logger.Info("Control channel closed, tearing down")
					return nil
				}
				switch m := msg.(type) {
				case ConfigMessage:
					if configured {
						w.logger.Warn("Ignoring repeated config message")
						continue
					}
					if err := m.Validate(); err != nil {
						w.logger.Error("Invalid config message", "error", err)
						continue
					}
					configured = true
					configs <- m
				case AckMessage:
					outbox.Ack(gctx)
				}
			}
		}
	})

	var result error
	g.Go(func() error {
		var cfg ConfigMessage
		select {
		case <-gctx.Done():
			return nil
		case cfg = <-configs:
		}
		result = w.serve(gctx, cfg, outbox)
		if errors.Is(result, core.ErrSyncFailed) {
			var failed *FailedError
			if w.onFailure != nil && errors.As(result, &failed) {
				w.onFailure(failed)
			}
			<-gctx.Done()
		}
		return nil
	})

	g.Wait()
	if errors.Is(result, context.Canceled) {
		return nil
	}
	return result
}

func (w *Worker[V]) serve(ctx context.Context, cfg ConfigMessage, outbox *Outbox[V]) error {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = w.restartMax
	for attempt := 1; ; attempt++ {
		err := w.runSession(ctx, cfg, outbox)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, core.ErrSyncFailed) {
			w.logger.Error("Session failed permanently", "error", err)
			return err
		}
		wait := b.NextBackOff()
		w.logger.Warn("Session ended, restarting", "error", err, "attempt", attempt, "backoff", wait)
		w.hooks.Trigger(ctx, hooks.NewReconnectEvent(hooks.ReconnectPayload{Attempt: attempt, Fresh: true, Err: err}))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (w *Worker[V]) runSession(ctx context.Context, cfg ConfigMessage, outbox *Outbox[V]) error {
	sess, err := w.factory(ctx, cfg, outbox)
	if err != nil {
		return err
	}
	if sess.Cleanup != nil {
		defer sess.Cleanup()
	}
	return sess.Sync.Run(ctx)
}
