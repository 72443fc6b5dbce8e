// Package replication drives a session's state machine from cold start to
// live forwarding, and gates its output on consumer acknowledgements.
package replication

import (
	"fmt"

	"github.com/INLOpen/worldsync/core"
)

// ControlMessage is what a consumer sends to a session: exactly one
// ConfigMessage followed by any number of AckMessages.
type ControlMessage interface {
	isControlMessage()
}

// ConfigMessage configures a session. Optional fields may be left empty.
type ConfigMessage struct {
	RemoteProvider     string `json:"remoteProvider"`
	WSProvider         string `json:"wsProvider,omitempty"`
	ChainID            uint64 `json:"chainId"`
	WorldAddress       string `json:"worldAddress"`
	SnapshotServiceURL string `json:"snapshotServiceUrl,omitempty"`
	StreamServiceURL   string `json:"streamServiceUrl,omitempty"`
	FetchExtras        bool   `json:"fetchExtras,omitempty"`
	SnapshotChunkCount uint32 `json:"snapshotChunkCount,omitempty"`
}

// AckMessage tells the session the last released batch has been applied.
type AckMessage struct{}

func (ConfigMessage) isControlMessage() {}
func (AckMessage) isControlMessage()    {}

// Validate checks the fields every session needs.
func (c ConfigMessage) Validate() error {
	if c.RemoteProvider == "" {
		return fmt.Errorf("config: remoteProvider is required")
	}
	if c.WorldAddress == "" {
		return fmt.Errorf("config: worldAddress is required")
	}
	return nil
}

// LargeGap asks the host to restart the session: live updates resumed at To
// after the last block From, and the blocks between were never seen.
type LargeGap struct {
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
}

// FailedError ends a session for good. It matches core.ErrSyncFailed.
type FailedError struct {
	Reason string
	Err    error
}

func (e *FailedError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *FailedError) Unwrap() []error { return []error{core.ErrSyncFailed, e.Err} }
