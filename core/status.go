package core

import "fmt"

// Phase is a step of the synchronizer lifecycle.
type Phase int

const (
	PhaseConnecting Phase = iota
	PhaseSetup
	PhaseBackfill
	PhaseGapfill
	PhaseInitialize
	PhaseLive
	PhaseFailed
)

var phaseNames = [...]string{
	PhaseConnecting: "CONNECTING",
	PhaseSetup:      "SETUP",
	PhaseBackfill:   "BACKFILL",
	PhaseGapfill:    "GAPFILL",
	PhaseInitialize: "INITIALIZE",
	PhaseLive:       "LIVE",
	PhaseFailed:     "FAILED",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("Phase(%d)", int(p))
	}
	return phaseNames[p]
}

// MarshalText lets phases appear by name in JSON payloads.
func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Phase) UnmarshalText(text []byte) error {
	for i, name := range phaseNames {
		if name == string(text) {
			*p = Phase(i)
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", text)
}

// Terminal reports whether no transition may leave p.
func (p Phase) Terminal() bool { return p == PhaseFailed }

// SyncStatus is the progress report shown to the consumer.
type SyncStatus struct {
	Phase      Phase   `json:"phase"`
	Message    string  `json:"message"`
	Percentage float64 `json:"percentage"`
}

const (
	// StatusComponent is the component kind under which the status is mirrored.
	StatusComponent = "SyncProgress"
	// SingletonEntity is the entity that carries world-wide singleton components.
	SingletonEntity = "0x060d"
)
