package types

import "strconv"

// LifecycleState is the high-level state of a request's lifecycle inside the
// scheduler. It is returned by GetStatus and recorded in the request ledger.
//
// The enum is deliberately low-cardinality so it can double as a metrics
// label. The associated error (where one exists) carries the fine-grained
// cause.
type LifecycleState int

const (
	// StatePending indicates the request was admitted and has not yet
	// reached a terminal state. It is the only non-terminal state.
	StatePending LifecycleState = iota

	// StateSuccess indicates the work executor completed the spawn.
	StateSuccess

	// StateError indicates the work executor failed. The ledger records the
	// executor's error alongside the state.
	StateError

	// StateCancelled indicates shutdown interrupted the request before or
	// during execution.
	StateCancelled

	// StateTimeout indicates the request aged out, either while queued or
	// while a caller was waiting on it.
	StateTimeout

	// StateQueueFull indicates the request was rejected at admission because
	// the queue was at capacity. Reached without ever becoming Pending.
	StateQueueFull

	// StateSystemOverloaded indicates the request was rejected at admission
	// by the proactive load gate. Reached without ever becoming Pending.
	StateSystemOverloaded

	// StateNotFound is returned to callers polling for a request the ledger
	// has already evicted. Never stored.
	StateNotFound
)

// Terminal reports whether the state is final. Once a request reaches a
// terminal state it never transitions again.
func (s LifecycleState) Terminal() bool {
	return s != StatePending
}

// String returns the state name for logs and metrics labels.
func (s LifecycleState) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateSuccess:
		return "Success"
	case StateError:
		return "Error"
	case StateCancelled:
		return "Cancelled"
	case StateTimeout:
		return "Timeout"
	case StateQueueFull:
		return "QueueFull"
	case StateSystemOverloaded:
		return "SystemOverloaded"
	case StateNotFound:
		return "NotFound"
	default:
		return "UnknownState(" + strconv.Itoa(int(s)) + ")"
	}
}
