package listeners

import (
	"context"
	"expvar"
	"sync"

	"github.com/INLOpen/worldsync/hooks"
	tdigest "github.com/caio/go-tdigest/v4"
)

// MetricsListener counts lifecycle events into an expvar map and tracks
// consumer ack latency quantiles.
type MetricsListener struct {
	vars *expvar.Map

	mu sync.Mutex
	td *tdigest.TDigest
}

func NewMetricsListener() (*MetricsListener, error) {
	td, err := tdigest.New()
	if err != nil {
		return nil, err
	}
	l := &MetricsListener{vars: new(expvar.Map).Init(), td: td}
	l.vars.Set("ack_latency_ms_p50", expvar.Func(func() any { return l.Quantile(0.5) }))
	l.vars.Set("ack_latency_ms_p99", expvar.Func(func() any { return l.Quantile(0.99) }))
	return l, nil
}

// Register subscribes the listener to every counted event.
func (l *MetricsListener) Register(hm hooks.HookManager) {
	for _, et := range []hooks.EventType{
		hooks.EventPhaseChange, hooks.EventLargeGap, hooks.EventSyncFailed, hooks.EventReconnect,
		hooks.EventBatchReleased, hooks.EventAckReceived, hooks.EventPostStoreSave, hooks.EventEpochRotated,
	} {
		hm.Register(et, l)
	}
}

// Publish exposes the counters under name on /debug/vars. Publishing the
// same name twice keeps the first map.
func (l *MetricsListener) Publish(name string) {
	if expvar.Get(name) == nil {
		expvar.Publish(name, l.vars)
	}
}

// Vars returns the underlying map.
func (l *MetricsListener) Vars() *expvar.Map { return l.vars }

func (l *MetricsListener) OnEvent(ctx context.Context, event hooks.HookEvent) error {
	switch p := event.Payload().(type) {
	case hooks.PhaseChangePayload:
		l.vars.Add("phase_changes", 1)
		l.vars.Set("phase", phaseVar(p.To.String()))
	case hooks.LargeGapPayload:
		l.vars.Add("large_gaps", 1)
	case hooks.SyncFailedPayload:
		l.vars.Add("sync_failures", 1)
	case hooks.ReconnectPayload:
		l.vars.Add("reconnects", 1)
		if p.Fresh {
			l.vars.Add("redials", 1)
		}
	case hooks.BatchPayload:
		l.vars.Add("batches_released", 1)
		l.vars.Add("events_released", int64(p.Events))
	case hooks.AckPayload:
		l.vars.Add("acks", 1)
		l.mu.Lock()
		err := l.td.AddWeighted(p.LatencyMillis, 1)
		l.mu.Unlock()
		if err != nil {
			return err
		}
	case hooks.StorePayload:
		if p.Err != nil {
			l.vars.Add("store_save_errors", 1)
		} else {
			l.vars.Add("store_saves", 1)
			l.vars.Add("store_bytes_written", int64(p.Bytes))
		}
	case hooks.EpochRotatedPayload:
		l.vars.Add("epoch_rotations", 1)
	}
	return nil
}

// Quantile returns the q-quantile of observed ack latency in milliseconds,
// or 0 before the first ack.
func (l *MetricsListener) Quantile(q float64) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.td.Count() == 0 {
		return 0
	}
	return l.td.Quantile(q)
}

func (l *MetricsListener) Priority() int { return 10 }

func (l *MetricsListener) IsAsync() bool { return false }

type phaseVar string

func (p phaseVar) String() string { return `"` + string(p) + `"` }
