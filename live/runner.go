// Package live keeps a subscription to new world updates open for as long as
// the session runs, redialing through any transient failure.
package live

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/INLOpen/worldsync/core"
	"github.com/INLOpen/worldsync/hooks"
)

const (
	DefaultIdleTimeout  = 60 * time.Second
	DefaultRetryDelay   = 3 * time.Second
	DefaultInnerRetries = 3
)

// Subscriber opens subscriptions on one connection. The update channel
// closes when the subscription ends; the error channel then holds the cause,
// or nothing when the server simply completed the stream.
type Subscriber interface {
	Subscribe(ctx context.Context, fromBlock uint64) (<-chan core.BlockUpdate, <-chan error, error)
	Close() error
}

// DialFunc creates a fresh Subscriber, e.g. a new connection.
type DialFunc func(ctx context.Context) (Subscriber, error)

// State is the runner's position in its subscription lifecycle.
type State int32

const (
	StateIdle State = iota
	StateSubscribed
	StateErroring
	StateResubscribing
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubscribed:
		return "subscribed"
	case StateErroring:
		return "erroring"
	case StateResubscribing:
		return "resubscribing"
	case StateTornDown:
		return "torn_down"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Options configures a Runner. Zero durations and counts take the defaults.
type Options struct {
	IdleTimeout  time.Duration
	RetryDelay   time.Duration
	InnerRetries int
	// OnResume is called when the first block after a resubscription is
	// not the successor of the last delivered block.
	OnResume func(last, first uint64)
	Hooks    hooks.HookManager
	Logger   *slog.Logger
}

// Runner delivers blocks from a Subscriber with strictly increasing numbers.
// A failed subscription is retried after RetryDelay up to InnerRetries
// times, then the Subscriber is replaced by a freshly dialed one. The outer
// loop never gives up; only context cancellation stops Run.
type Runner struct {
	dial         DialFunc
	idleTimeout  time.Duration
	retryDelay   time.Duration
	innerRetries int
	onResume     func(last, first uint64)
	hooks        hooks.HookManager
	logger       *slog.Logger

	state   atomic.Int32
	from    uint64
	last    uint64
	hasLast bool
}

func NewRunner(dial DialFunc, opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	hm := opts.Hooks
	if hm == nil {
		hm = hooks.NewHookManager(logger)
	}
	r := &Runner{
		dial:         dial,
		idleTimeout:  opts.IdleTimeout,
		retryDelay:   opts.RetryDelay,
		innerRetries: opts.InnerRetries,
		onResume:     opts.OnResume,
		hooks:        hm,
		logger:       logger.With("component", "LiveRunner"),
	}
	if r.idleTimeout <= 0 {
		r.idleTimeout = DefaultIdleTimeout
	}
	if r.retryDelay <= 0 {
		r.retryDelay = DefaultRetryDelay
	}
	if r.innerRetries <= 0 {
		r.innerRetries = DefaultInnerRetries
	}
	return r
}

func (r *Runner) State() State { return State(r.state.Load()) }

func (r *Runner) setState(s State) { r.state.Store(int32(s)) }

// Run subscribes from fromBlock (zero meaning the current head) and writes
// every new block to out until ctx is done.
func (r *Runner) Run(ctx context.Context, fromBlock uint64, out chan<- core.BlockUpdate) error {
	r.from = fromBlock
	defer r.setState(StateTornDown)

	for attempt := 1; ; attempt++ {
		sub, err := r.dial(ctx)
		if err == nil {
			err = r.runSubscriber(ctx, sub, out)
			sub.Close()
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.setState(StateResubscribing)
		r.logger.Warn("Live subscription failed, creating a fresh one", "error", err, "attempt", attempt, "delay", r.retryDelay)
		r.hooks.Trigger(ctx, hooks.NewReconnectEvent(hooks.ReconnectPayload{Attempt: attempt, Fresh: true, Err: err}))
		if !sleep(ctx, r.retryDelay) {
			return ctx.Err()
		}
	}
}

func (r *Runner) runSubscriber(ctx context.Context, sub Subscriber, out chan<- core.BlockUpdate) error {
	retries := 0
	for {
		delivered, err := r.consume(ctx, sub, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.setState(StateErroring)
		if delivered {
			retries = 0
		}
		if retries >= r.innerRetries {
			return err
		}
		retries++
		r.setState(StateResubscribing)
		level := slog.LevelWarn
		if IsTransient(err) {
			level = slog.LevelInfo
		}
		r.logger.Log(ctx, level, "Resubscribing to live updates", "error", err, "retry", retries, "delay", r.retryDelay, "resume_from", r.resumeFrom())
		r.hooks.Trigger(ctx, hooks.NewReconnectEvent(hooks.ReconnectPayload{Attempt: retries, Err: err}))
		if !sleep(ctx, r.retryDelay) {
			return ctx.Err()
		}
	}
}

func (r *Runner) resumeFrom() uint64 {
	if r.hasLast {
		return r.last + 1
	}
	return r.from
}

func (r *Runner) consume(ctx context.Context, sub Subscriber, out chan<- core.BlockUpdate) (delivered bool, err error) {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates, errc, err := sub.Subscribe(subCtx, r.resumeFrom())
	if err != nil {
		return false, err
	}
	r.setState(StateSubscribed)

	idle := time.NewTimer(r.idleTimeout)
	defer idle.Stop()
	first := true
	for {
		select {
		case <-ctx.Done():
			return delivered, ctx.Err()
		case <-idle.C:
			r.logger.Warn("No live update received in time", "timeout", r.idleTimeout)
			return delivered, fmt.Errorf("%w after %s", core.ErrIdleTimeout, r.idleTimeout)
		case u, ok := <-updates:
			if !ok {
				if err := <-errc; err != nil {
					return delivered, err
				}
				return delivered, core.ErrStreamCompleted
			}
			idle.Reset(r.idleTimeout)
			if r.hasLast && u.Number <= r.last {
				r.logger.Debug("Dropping replayed block", "block", u.Number, "last", r.last)
				continue
			}
			if first && r.hasLast && u.Number > r.last+1 && r.onResume != nil {
				r.onResume(r.last, u.Number)
			}
			first = false
			select {
			case out <- u:
			case <-ctx.Done():
				return delivered, ctx.Err()
			}
			r.last, r.hasLast = u.Number, true
			delivered = true
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// IsTransient reports whether err is one of the failures the runner
// recovers from on its own.
func IsTransient(err error) bool {
	return errors.Is(err, core.ErrIdleTimeout) || errors.Is(err, core.ErrStreamCompleted)
}
