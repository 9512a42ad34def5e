// Package engine implements calendar synchronization: per-connection
// reconciliation, conflict detection and resolution, per-property
// orchestration and fleet-wide coordination.
package engine

import "errors"

var (
	// ErrInvalidSelection is returned when a manual resolution names an
	// empty or out-of-group keep-set. User-correctable.
	ErrInvalidSelection = errors.New("invalid event selection")
	// ErrSyncInProgress is returned when the per-property sync lease is
	// already held. Retryable after refreshing state.
	ErrSyncInProgress = errors.New("sync already in progress for property")
	// ErrConflictClosed is returned when resolving a conflict that is
	// already resolved or ignored.
	ErrConflictClosed = errors.New("conflict is not open")
)
