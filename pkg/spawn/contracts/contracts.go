// Package contracts defines the interfaces spawngate consumes from its
// external collaborators: the load signal source, the simulated-world slot
// state, and the actual actor-creation call. The scheduling core depends
// only on these contracts; concrete implementations live with the embedding
// application (internal/loadsource provides host-metrics and synthetic
// signals for the demo binary and tests).
package contracts

import (
	"context"

	"github.com/tacticsim/spawngate/pkg/spawn/types"
)

// LoadSignal supplies the scheduler's view of system load. Implementations
// sample outside the scheduling core; the core only consumes the ratio and
// the throttle hint.
type LoadSignal interface {
	// GetLoadRatio returns the current normalized load. 0 is idle, 1 is
	// saturated; transient overshoot up to ~1.5 is possible.
	GetLoadRatio() float64

	// IsThrottled reports whether the source considers the system under
	// enough pressure that the scheduler should pause dispatching. Distinct
	// from the ratio used at admission time.
	IsThrottled() bool
}

// Slot describes one exclusive placement slot within a group's formation.
type Slot struct {
	// Index identifies the slot within its group. Stable across calls.
	Index int

	// Position is an opaque placement payload (world coordinates, facing,
	// rank). The scheduler never inspects it; executors that need it look
	// the slot up by index through the provider.
	Position any
}

// SlotProvider exposes the live formation state of the simulated world.
// Implementations must tolerate concurrent calls.
type SlotProvider interface {
	// ListCandidateSlots returns the slots belonging to the group's domain,
	// ordered by ascending index. The order must be stable so reservation
	// scans stay deterministic.
	ListCandidateSlots(groupID string) []Slot

	// IsUsable reports whether the slot passes the world's basic usability
	// predicate (terrain valid, within bounds).
	IsUsable(groupID string, slot Slot) bool

	// IsOccupied reports whether the slot is externally occupied by an
	// actor the scheduler did not place.
	IsOccupied(groupID string, slot Slot) bool
}

// WorkExecutor performs the actual actor creation. The call is expensive and
// may fail; the scheduler caps how many run concurrently. slotIndex is
// types.NoSlotHint when the request did not require a reservation.
type WorkExecutor interface {
	Execute(ctx context.Context, req *types.SpawnRequest, slotIndex int) error
}
