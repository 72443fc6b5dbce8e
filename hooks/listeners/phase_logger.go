package listeners

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/INLOpen/worldsync/hooks"
)

// PhaseLoggerListener writes one log line per lifecycle event worth a human's attention.
type PhaseLoggerListener struct {
	logger *slog.Logger
}

func NewPhaseLoggerListener(logger *slog.Logger) *PhaseLoggerListener {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &PhaseLoggerListener{logger: logger.With("component", "PhaseLoggerListener")}
}

// Register subscribes the listener to the events it reports.
func (l *PhaseLoggerListener) Register(hm hooks.HookManager) {
	for _, et := range []hooks.EventType{hooks.EventPhaseChange, hooks.EventLargeGap, hooks.EventSyncFailed, hooks.EventEpochRotated} {
		hm.Register(et, l)
	}
}

func (l *PhaseLoggerListener) OnEvent(ctx context.Context, event hooks.HookEvent) error {
	switch p := event.Payload().(type) {
	case hooks.PhaseChangePayload:
		l.logger.Info("Sync phase changed", "from", p.From.String(), "to", p.To.String(),
			"message", p.Status.Message, "percentage", p.Status.Percentage)
	case hooks.LargeGapPayload:
		l.logger.Warn("Live stream skipped blocks; session restart requested", "from", p.From, "to", p.To, "blocks", p.To-p.From+1)
	case hooks.SyncFailedPayload:
		l.logger.Error("Sync failed", "reason", p.Reason, "error", p.Err)
	case hooks.EpochRotatedPayload:
		l.logger.Warn("Snapshot epoch rotated; discarding remote state", "old_nonce", p.OldNonce, "new_nonce", p.NewNonce)
	default:
		l.logger.Error("Unexpected payload", "event", event.Type(), "payload_type", fmt.Sprintf("%T", event.Payload()))
	}
	return nil
}

func (l *PhaseLoggerListener) Priority() int { return 100 }

func (l *PhaseLoggerListener) IsAsync() bool { return false }
