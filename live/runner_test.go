package live

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

// scriptedSubscriber serves one script per Subscribe call. A script sends
// its blocks, then ends with err (nil = completion) unless hang is set.
type script struct {
	blocks []uint64
	err    error
	hang   bool
}

type scriptedSubscriber struct {
	mu      sync.Mutex
	scripts []script
	froms   []uint64
	closed  int
}

func (s *scriptedSubscriber) Subscribe(ctx context.Context, from uint64) (<-chan core.BlockUpdate, <-chan error, error) {
	s.mu.Lock()
	s.froms = append(s.froms, from)
	sc := script{hang: true}
	if len(s.scripts) > 0 {
		sc, s.scripts = s.scripts[0], s.scripts[1:]
	}
	s.mu.Unlock()

	updates := make(chan core.BlockUpdate)
	errc := make(chan error, 1)
	go func() {
		defer close(updates)
		defer close(errc)
		for _, b := range sc.blocks {
			select {
			case updates <- core.BlockUpdate{Number: b}:
			case <-ctx.Done():
				return
			}
		}
		if sc.hang {
			<-ctx.Done()
			return
		}
		if sc.err != nil {
			errc <- sc.err
		}
	}()
	return updates, errc, nil
}

func (s *scriptedSubscriber) Close() error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	return nil
}

func (s *scriptedSubscriber) Froms() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.froms...)
}

func collect(t *testing.T, out <-chan core.BlockUpdate, n int) []uint64 {
	t.Helper()
	var got []uint64
	for len(got) < n {
		select {
		case u := <-out:
			got = append(got, u.Number)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out after %v", got)
		}
	}
	return got
}

func TestRunner_ResubscribesAfterCompletionAndDedupes(t *testing.T) {
	sub := &scriptedSubscriber{scripts: []script{
		{blocks: []uint64{10, 11}},
		{blocks: []uint64{11, 12, 13}, err: errors.New("reset by peer")},
	}}
	var gaps [][2]uint64
	r := NewRunner(func(context.Context) (Subscriber, error) { return sub, nil }, Options{
		RetryDelay:  5 * time.Millisecond,
		IdleTimeout: time.Second,
		OnResume:    func(last, first uint64) { gaps = append(gaps, [2]uint64{last, first}) },
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan core.BlockUpdate)
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, 10, out) }()

	assert.Equal(t, []uint64{10, 11, 12, 13}, collect(t, out, 4))
	require.Eventually(t, func() bool { return len(sub.Froms()) >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []uint64{10, 12, 14}, sub.Froms()[:3])
	assert.Empty(t, gaps)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, StateTornDown, r.State())
}

func TestRunner_IdleTimeoutResubscribesWithinRetryDelay(t *testing.T) {
	sub := &scriptedSubscriber{scripts: []script{
		{blocks: []uint64{100}, hang: true},
		{blocks: []uint64{101}, hang: true},
	}}
	r := NewRunner(func(context.Context) (Subscriber, error) { return sub, nil }, Options{
		IdleTimeout: 50 * time.Millisecond,
		RetryDelay:  20 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan core.BlockUpdate)
	go r.Run(ctx, 0, out)

	start := time.Now()
	assert.Equal(t, []uint64{100, 101}, collect(t, out, 2))
	elapsed := time.Since(start)
	assert.Less(t, elapsed, time.Second)
	assert.Equal(t, []uint64{0, 101}, sub.Froms()[:2])
}

func TestRunner_RedialsAfterInnerRetries(t *testing.T) {
	failing := &scriptedSubscriber{scripts: []script{
		{err: errors.New("e1")}, {err: errors.New("e2")}, {err: errors.New("e3")}, {err: errors.New("e4")},
	}}
	healthy := &scriptedSubscriber{scripts: []script{{blocks: []uint64{7}, hang: true}}}

	var mu sync.Mutex
	dials := 0
	dial := func(context.Context) (Subscriber, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		if dials == 1 {
			return failing, nil
		}
		return healthy, nil
	}
	r := NewRunner(dial, Options{RetryDelay: time.Millisecond, InnerRetries: 3, IdleTimeout: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan core.BlockUpdate)
	go r.Run(ctx, 0, out)

	assert.Equal(t, []uint64{7}, collect(t, out, 1))
	assert.Len(t, failing.Froms(), 4, "one attempt plus three retries")
	failing.mu.Lock()
	assert.Equal(t, 1, failing.closed)
	failing.mu.Unlock()
	mu.Lock()
	assert.Equal(t, 2, dials)
	mu.Unlock()
}

func TestRunner_DialErrorsNeverStopTheLoop(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	sub := &scriptedSubscriber{scripts: []script{{blocks: []uint64{1}, hang: true}}}
	dial := func(context.Context) (Subscriber, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 5 {
			return nil, errors.New("connection refused")
		}
		return sub, nil
	}
	r := NewRunner(dial, Options{RetryDelay: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan core.BlockUpdate)
	go r.Run(ctx, 0, out)
	assert.Equal(t, []uint64{1}, collect(t, out, 1))
}

func TestRunner_ReportsSkippedBlocksOnResume(t *testing.T) {
	sub := &scriptedSubscriber{scripts: []script{
		{blocks: []uint64{5}},
		{blocks: []uint64{9}, hang: true},
	}}
	gaps := make(chan [2]uint64, 1)
	r := NewRunner(func(context.Context) (Subscriber, error) { return sub, nil }, Options{
		RetryDelay: time.Millisecond,
		OnResume:   func(last, first uint64) { gaps <- [2]uint64{last, first} },
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan core.BlockUpdate)
	go r.Run(ctx, 5, out)
	assert.Equal(t, []uint64{5, 9}, collect(t, out, 2))
	assert.Equal(t, [2]uint64{5, 9}, <-gaps)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "subscribed", StateSubscribed.String())
	assert.Equal(t, "torn_down", StateTornDown.String())
	assert.True(t, IsTransient(core.ErrStreamCompleted))
	assert.False(t, IsTransient(errors.New("x")))
}
