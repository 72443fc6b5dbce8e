package core

import "errors"

var (
	// ErrRateLimited marks a remote refusing requests because of rate limiting.
	ErrRateLimited = errors.New("remote rate limited")
	// ErrSyncFailed is wrapped by every terminal synchronizer failure.
	ErrSyncFailed = errors.New("sync failed")
	// ErrIdleTimeout is raised when a live subscription stays silent too long.
	ErrIdleTimeout = errors.New("live subscription idle timeout")
	// ErrStreamCompleted is raised when a live subscription ends. A live
	// stream never ends normally, so completion is an error.
	ErrStreamCompleted = errors.New("live subscription completed")
	ErrNotFound        = errors.New("not found")
	// ErrIdentityMismatch is returned when a stored record belongs to another store identity.
	ErrIdentityMismatch = errors.New("stored record identity mismatch")
	ErrChainIDMismatch  = errors.New("chain id mismatch")
)
