// Package types defines the request, lifecycle state, and error vocabulary
// shared by the spawngate scheduling components.
package types

import (
	"time"

	"github.com/google/uuid"
)

// NoSlotHint marks a request that has no preferred formation slot.
const NoSlotHint = -1

// SpawnRequest is a single unit of spawn work submitted to the scheduler.
// The caller owns the request until Submit accepts it; after that the fields
// must be treated as read-only until the request reaches a terminal state.
type SpawnRequest struct {
	// ID uniquely identifies this request. Populated by NewSpawnRequest;
	// callers constructing requests by hand must supply their own unique ID.
	ID string

	// GroupID scopes slot reservations. All units spawned for this request
	// are placed within this group's formation.
	GroupID string

	// TargetID identifies the entity the spawned units attach to
	// (a party, a commander, a rally point). Opaque to the scheduler.
	TargetID string

	// Count is the number of units to create. Must be >= 1.
	Count int

	// SlotHint optionally pins the request to a fixed formation slot.
	// NoSlotHint means the reservation registry picks the first eligible
	// slot. A non-negative hint bypasses reservation entirely; the caller
	// asserts it already holds the slot.
	SlotHint int

	// CreatedAt is the submission timestamp, set by NewSpawnRequest.
	CreatedAt time.Time
}

// NewSpawnRequest builds a request with a generated ID and creation time.
func NewSpawnRequest(groupID, targetID string, count int) *SpawnRequest {
	return &SpawnRequest{
		ID:        uuid.NewString(),
		GroupID:   groupID,
		TargetID:  targetID,
		Count:     count,
		SlotHint:  NoSlotHint,
		CreatedAt: time.Now(),
	}
}
