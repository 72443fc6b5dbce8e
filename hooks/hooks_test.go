package hooks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/INLOpen/worldsync/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockListener struct {
	name      string
	priority  int
	isAsync   bool
	returnErr error
	workDelay time.Duration

	mu         sync.Mutex
	callOrder  *[]string
	callSignal chan string
	onEvent    func(HookEvent)
}

func (m *mockListener) OnEvent(ctx context.Context, event HookEvent) error {
	if m.workDelay > 0 {
		time.Sleep(m.workDelay)
	}
	if m.onEvent != nil {
		m.onEvent(event)
	}
	if m.callOrder != nil {
		m.mu.Lock()
		*m.callOrder = append(*m.callOrder, m.name)
		m.mu.Unlock()
	}
	if m.callSignal != nil {
		m.callSignal <- m.name
	}
	return m.returnErr
}

func (m *mockListener) Priority() int { return m.priority }
func (m *mockListener) IsAsync() bool { return m.isAsync }

func TestNewHookManager(t *testing.T) {
	manager, ok := NewHookManager(nil).(*DefaultHookManager)
	require.True(t, ok)
	assert.NotNil(t, manager.listeners)
	assert.NotNil(t, manager.logger)
}

func TestDefaultHookManager_RegisterKeepsPriorityOrder(t *testing.T) {
	manager := NewHookManager(nil).(*DefaultHookManager)
	manager.Register(EventPhaseChange, &mockListener{name: "p10", priority: 10})
	manager.Register(EventPhaseChange, &mockListener{name: "p1", priority: 1})
	manager.Register(EventPhaseChange, &mockListener{name: "p5a", priority: 5})
	manager.Register(EventPhaseChange, &mockListener{name: "p5b", priority: 5})

	var names []string
	for _, l := range manager.listeners[EventPhaseChange] {
		names = append(names, l.listener.(*mockListener).name)
	}
	assert.Equal(t, []string{"p1", "p5a", "p5b", "p10"}, names)
}

func TestDefaultHookManager_PreHookAbortsOnError(t *testing.T) {
	manager := NewHookManager(nil)
	var order []string
	boom := errors.New("veto")

	manager.Register(EventPreStoreSave, &mockListener{name: "first", priority: 1, callOrder: &order})
	manager.Register(EventPreStoreSave, &mockListener{name: "veto", priority: 5, callOrder: &order, returnErr: boom})
	manager.Register(EventPreStoreSave, &mockListener{name: "never", priority: 10, callOrder: &order})

	err := manager.Trigger(context.Background(), NewPreStoreSaveEvent(StorePayload{Key: "k"}))
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"first", "veto"}, order)
}

func TestDefaultHookManager_PreHookIgnoresAsyncFlag(t *testing.T) {
	manager := NewHookManager(nil)
	var order []string
	manager.Register(EventPreStoreSave, &mockListener{name: "async-requested", isAsync: true, callOrder: &order})

	require.NoError(t, manager.Trigger(context.Background(), NewPreStoreSaveEvent(StorePayload{})))
	assert.Equal(t, []string{"async-requested"}, order, "pre-hooks always run inline")
}

func TestDefaultHookManager_SyncAndAsyncListeners(t *testing.T) {
	manager := NewHookManager(nil)
	signal := make(chan string, 1)
	var order []string
	boom := errors.New("listener failed")

	manager.Register(EventPhaseChange, &mockListener{name: "async", priority: 10, isAsync: true, callSignal: signal})
	manager.Register(EventPhaseChange, &mockListener{name: "sync-err", priority: 1, callOrder: &order, returnErr: boom})
	manager.Register(EventPhaseChange, &mockListener{name: "sync", priority: 2, callOrder: &order})

	ev := NewPhaseChangeEvent(PhaseChangePayload{From: core.PhaseGapfill, To: core.PhaseInitialize})
	require.NoError(t, manager.Trigger(context.Background(), ev), "listener errors on non-pre events are only logged")
	assert.Equal(t, []string{"sync-err", "sync"}, order)

	select {
	case name := <-signal:
		assert.Equal(t, "async", name)
	case <-time.After(time.Second):
		t.Fatal("async listener was not called")
	}
	manager.Stop()
}

func TestDefaultHookManager_PayloadReachesListener(t *testing.T) {
	manager := NewHookManager(nil)
	var got LargeGapPayload
	manager.Register(EventLargeGap, &mockListener{onEvent: func(ev HookEvent) {
		got = ev.Payload().(LargeGapPayload)
	}})
	require.NoError(t, manager.Trigger(context.Background(), NewLargeGapEvent(LargeGapPayload{From: 10, To: 500})))
	assert.Equal(t, LargeGapPayload{From: 10, To: 500}, got)
}

func TestDefaultHookManager_NoListeners(t *testing.T) {
	require.NoError(t, NewHookManager(nil).Trigger(context.Background(), NewReconnectEvent(ReconnectPayload{})))
}

func TestDefaultHookManager_StopWaitsForAsync(t *testing.T) {
	manager := NewHookManager(nil)
	var done atomic.Bool
	delay := 50 * time.Millisecond
	manager.Register(EventBatchReleased, &mockListener{
		isAsync:   true,
		workDelay: delay,
		onEvent:   func(HookEvent) { done.Store(true) },
	})

	start := time.Now()
	require.NoError(t, manager.Trigger(context.Background(), NewBatchReleasedEvent(BatchPayload{Events: 3})))
	manager.Stop()
	assert.GreaterOrEqual(t, time.Since(start), delay)
	assert.True(t, done.Load())
}
