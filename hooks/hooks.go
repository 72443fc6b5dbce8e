package hooks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/INLOpen/worldsync/core"
)

// EventType defines the type of a hook event.
type EventType string

const (
	// Synchronizer lifecycle
	EventPhaseChange EventType = "PhaseChange"
	EventLargeGap    EventType = "LargeGap"
	EventSyncFailed  EventType = "SyncFailed"

	// Live source
	EventReconnect EventType = "Reconnect"

	// Outbound channel
	EventBatchReleased EventType = "BatchReleased"
	EventAckReceived   EventType = "AckReceived"

	// Local store
	EventPreStoreSave  EventType = "PreStoreSave"
	EventPostStoreSave EventType = "PostStoreSave"

	// Remote snapshot
	EventEpochRotated EventType = "EpochRotated"
)

// HookManager registers listeners and dispatches events to them.
type HookManager interface {
	Register(eventType EventType, listener HookListener)
	// Trigger runs the listeners for event in priority order. Pre-hooks run
	// synchronously and the first failure aborts the operation; other
	// events run each listener sync or async as it prefers.
	Trigger(ctx context.Context, event HookEvent) error
	// Stop waits for in-flight asynchronous listeners.
	Stop()
}

// HookListener reacts to events.
type HookListener interface {
	OnEvent(ctx context.Context, event HookEvent) error
	// Priority orders listeners; lower runs first.
	Priority() int
	IsAsync() bool
}

type HookEvent interface {
	Type() EventType
	Payload() interface{}
}

type BaseEvent struct {
	eventType EventType
	payload   interface{}
}

func (e *BaseEvent) Type() EventType      { return e.eventType }
func (e *BaseEvent) Payload() interface{} { return e.payload }

// PhaseChangePayload is sent whenever the synchronizer status changes phase.
type PhaseChangePayload struct {
	From   core.Phase
	To     core.Phase
	Status core.SyncStatus
}

func NewPhaseChangeEvent(payload PhaseChangePayload) HookEvent {
	return &BaseEvent{eventType: EventPhaseChange, payload: payload}
}

// LargeGapPayload describes blocks the live source skipped over.
type LargeGapPayload struct {
	From uint64
	To   uint64
}

func NewLargeGapEvent(payload LargeGapPayload) HookEvent {
	return &BaseEvent{eventType: EventLargeGap, payload: payload}
}

// SyncFailedPayload carries the terminal failure.
type SyncFailedPayload struct {
	Reason string
	Err    error
}

func NewSyncFailedEvent(payload SyncFailedPayload) HookEvent {
	return &BaseEvent{eventType: EventSyncFailed, payload: payload}
}

// ReconnectPayload is sent before a live subscription is re-established.
// Fresh is true when the underlying connection is redialed as well.
type ReconnectPayload struct {
	Attempt int
	Fresh   bool
	Err     error
}

func NewReconnectEvent(payload ReconnectPayload) HookEvent {
	return &BaseEvent{eventType: EventReconnect, payload: payload}
}

// BatchPayload describes a batch released to the consumer.
type BatchPayload struct {
	Events  int
	Pending int
}

func NewBatchReleasedEvent(payload BatchPayload) HookEvent {
	return &BaseEvent{eventType: EventBatchReleased, payload: payload}
}

// AckPayload reports how long the consumer took to acknowledge a batch.
type AckPayload struct {
	LatencyMillis float64
}

func NewAckReceivedEvent(payload AckPayload) HookEvent {
	return &BaseEvent{eventType: EventAckReceived, payload: payload}
}

// StorePayload describes a local store save. For the pre-hook Bytes and Err are zero.
type StorePayload struct {
	Key       string
	Values    int
	Watermark uint64
	Bytes     int
	Err       error
}

func NewPreStoreSaveEvent(payload StorePayload) HookEvent {
	return &BaseEvent{eventType: EventPreStoreSave, payload: payload}
}

func NewStoreSavedEvent(payload StorePayload) HookEvent {
	return &BaseEvent{eventType: EventPostStoreSave, payload: payload}
}

// EpochRotatedPayload is sent when the snapshot service changed its dataset.
type EpochRotatedPayload struct {
	OldNonce string
	NewNonce string
}

func NewEpochRotatedEvent(payload EpochRotatedPayload) HookEvent {
	return &BaseEvent{eventType: EventEpochRotated, payload: payload}
}

type listenerWithPriority struct {
	listener HookListener
	priority int
}

// DefaultHookManager is the in-process HookManager.
type DefaultHookManager struct {
	// Listener slices are kept sorted by priority.
	listeners map[EventType][]*listenerWithPriority
	mu        sync.RWMutex
	wg        sync.WaitGroup
	logger    *slog.Logger
}

func NewHookManager(logger *slog.Logger) HookManager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &DefaultHookManager{
		listeners: make(map[EventType][]*listenerWithPriority),
		logger:    logger.With("component", "HookManager"),
	}
}

func (m *DefaultHookManager) Register(eventType EventType, listener HookListener) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := &listenerWithPriority{listener: listener, priority: listener.Priority()}
	l := m.listeners[eventType]
	// Equal priorities keep registration order.
	idx := sort.Search(len(l), func(i int) bool { return l[i].priority > item.priority })
	l = append(l, nil)
	copy(l[idx+1:], l[idx:])
	l[idx] = item
	m.listeners[eventType] = l
}

func (m *DefaultHookManager) Trigger(ctx context.Context, event HookEvent) error {
	m.mu.RLock()
	listeners := m.listeners[event.Type()]
	m.mu.RUnlock()
	if len(listeners) == 0 {
		return nil
	}

	isPreHook := strings.HasPrefix(string(event.Type()), "Pre")
	for _, item := range listeners {
		if isPreHook || !item.listener.IsAsync() {
			if err := item.listener.OnEvent(ctx, event); err != nil {
				if isPreHook {
					return fmt.Errorf("pre-hook for event %s (priority %d) failed: %w", event.Type(), item.priority, err)
				}
				m.logger.Error("Error from synchronous hook listener", "event", event.Type(), "priority", item.priority, "error", err)
			}
			continue
		}

		m.wg.Add(1)
		go func(current *listenerWithPriority) {
			defer m.wg.Done()
			if err := current.listener.OnEvent(ctx, event); err != nil {
				m.logger.Error("Error from asynchronous hook listener", "event", event.Type(), "priority", current.priority, "error", err)
			}
		}(item)
	}
	return nil
}

func (m *DefaultHookManager) Stop() {
	m.wg.Wait()
}
