package replication

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/worldsync/core"
)

type sessionRecorder struct {
	mu       sync.Mutex
	configs  []ConfigMessage
	cleanups int
}

func (r *sessionRecorder) Configs() []ConfigMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ConfigMessage(nil), r.configs...)
}

func (r *sessionRecorder) Cleanups() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cleanups
}

func (r *sessionRecorder) factory(build func(n int, outbox *Outbox[string]) Options[string]) SessionFactory[string] {
	return func(_ context.Context, cfg ConfigMessage, outbox *Outbox[string]) (*Session[string], error) {
		r.mu.Lock()
		r.configs = append(r.configs, cfg)
		n := len(r.configs)
		r.mu.Unlock()
		opts := build(n, outbox)
		opts.Outbox = outbox
		return &Session[string]{
			Sync: New(opts),
			Cleanup: func() {
				r.mu.Lock()
				r.cleanups++
				r.mu.Unlock()
			},
		}, nil
	}
}

func liveOptions(blocks ...core.BlockUpdate) Options[string] {
	l := &fakeLive{blocks: make(chan core.BlockUpdate, len(blocks)+1)}
	for _, b := range blocks {
		l.blocks <- b
	}
	return Options[string]{
		Connect: func(context.Context) error { return nil },
		Fetcher: &fakeFetcher{events: []core.RawEvent{raw("Position", "0x01", "p", 4, 0)}},
		Live:    l,
		Decoder: decodeString,
	}
}

var testConfig = ConfigMessage{RemoteProvider: "http://node", ChainID: 31337, WorldAddress: "0xWorld"}

func TestWorker_ConfigAckAndTeardown(t *testing.T) {
	rec := &sessionRecorder{}
	w := NewWorker(rec.factory(func(int, *Outbox[string]) Options[string] {
		return liveOptions(core.BlockUpdate{Number: 5})
	}), WorkerOptions{Outbox: OutboxOptions{Window: time.Millisecond}})

	control := make(chan ControlMessage, 4)
	out := make(chan []core.UpdateEvent[string], 4)
	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background(), control, out) }()

	control <- AckMessage{}
	control <- testConfig
	control <- ConfigMessage{RemoteProvider: "http://other", WorldAddress: "0xother"}

	batch := <-out
	require.Len(t, batch, 1)
	assert.Equal(t, "p", batch[0].Value)

	require.Len(t, rec.Configs(), 1)
	assert.Equal(t, testConfig, rec.Configs()[0])

	close(control)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after the control channel closed")
	}
	assert.Equal(t, 1, rec.Cleanups())
}

func TestWorker_InvalidConfigIsIgnored(t *testing.T) {
	rec := &sessionRecorder{}
	w := NewWorker(rec.factory(func(int, *Outbox[string]) Options[string] { return liveOptions() }), WorkerOptions{})
	control := make(chan ControlMessage, 2)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, control, make(chan []core.UpdateEvent[string])) }()

	control <- ConfigMessage{WorldAddress: "0xWorld"}
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, rec.Configs())
	cancel()
	assert.NoError(t, <-done)
}

func TestWorker_RestartsAfterNonTerminalError(t *testing.T) {
	rec := &sessionRecorder{}
	w := NewWorker(rec.factory(func(n int, _ *Outbox[string]) Options[string] {
		opts := liveOptions(core.BlockUpdate{Number: 5})
		if n == 1 {
			opts.Fetcher = &fakeFetcher{err: errors.New("temporary")}
		}
		return opts
	}), WorkerOptions{Outbox: OutboxOptions{Window: time.Millisecond}, RestartMax: 10 * time.Millisecond})

	control := make(chan ControlMessage, 1)
	out := make(chan []core.UpdateEvent[string], 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx, control, out)
	control <- testConfig

	select {
	case batch := <-out:
		assert.Equal(t, "p", batch[0].Value)
	case <-time.After(5 * time.Second):
		t.Fatal("restarted session produced nothing")
	}
	assert.Len(t, rec.Configs(), 2)
	assert.Equal(t, 1, rec.Cleanups())
}

func TestWorker_StopsRestartingOnFailure(t *testing.T) {
	rec := &sessionRecorder{}
	reported := make(chan *FailedError, 1)
	w := NewWorker(rec.factory(func(int, *Outbox[string]) Options[string] {
		opts := liveOptions()
		opts.Connect = func(context.Context) error { return errors.New("unreachable") }
		return opts
	}), WorkerOptions{
		RestartMax: time.Millisecond,
		OnFailure:  func(f *FailedError) { reported <- f },
	})

	control := make(chan ControlMessage, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, control, make(chan []core.UpdateEvent[string], 4)) }()
	control <- testConfig

	select {
	case f := <-reported:
		assert.Equal(t, "Could not connect to the chain", f.Reason)
	case <-time.After(5 * time.Second):
		t.Fatal("terminal failure not reported before teardown")
	}
	select {
	case err := <-done:
		t.Fatalf("worker returned before teardown: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
	assert.Len(t, rec.Configs(), 1)
	cancel()
	err := <-done
	var failed *FailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, "Could not connect to the chain", failed.Reason)
}
