package types

import "errors"

// Admission rejections. These are expected, non-exceptional outcomes
// returned synchronously from Submit; callers should branch on them with
// errors.Is rather than treat them as faults.
var (
	// ErrQueueFull indicates the admission queue was at capacity.
	ErrQueueFull = errors.New("admission queue full")

	// ErrSystemOverloaded indicates the load gate rejected the request even
	// though queue space remained. A backpressure decision, not a capacity
	// decision.
	ErrSystemOverloaded = errors.New("system overloaded")
)

// Lifecycle failures, recorded in the ledger for admitted requests.
var (
	// ErrTimeout indicates a request aged out while queued, or that a caller
	// gave up waiting on its completion.
	ErrTimeout = errors.New("request timed out")

	// ErrCancelled indicates shutdown interrupted the request.
	ErrCancelled = errors.New("request cancelled")

	// ErrNoSlotAvailable indicates no eligible formation slot could be
	// reserved for the request's group.
	ErrNoSlotAvailable = errors.New("no formation slot available")
)

var (
	// ErrNotFound indicates the ledger has no record of the request id,
	// typically because the entry was evicted after reaching a terminal
	// state.
	ErrNotFound = errors.New("request not found")

	// ErrSchedulerStopped indicates an operation was attempted on a
	// scheduler that is shut down or shutting down.
	ErrSchedulerStopped = errors.New("scheduler stopped")
)
