// Package reservation implements exclusive formation-slot bookkeeping,
// scoped per group. Reservation state is process-lifetime only; the live
// world is consulted through the SlotProvider contract, and Validate
// reconciles the two periodically.
package reservation

import (
	"sort"
	"sync"

	"github.com/go-logr/logr"

	"github.com/tacticsim/spawngate/internal/logging"
	"github.com/tacticsim/spawngate/pkg/spawn/contracts"
	"github.com/tacticsim/spawngate/pkg/spawn/types"
)

// groupState holds one group's reservation set behind its own lock, so
// contention is scoped to a single group rather than the whole registry.
type groupState struct {
	mu    sync.Mutex
	slots map[int]struct{}
}

// Registry tracks which formation slots are reserved within each group.
// A slot index belongs to at most one reservation at any instant; two
// concurrent Reserve calls for the same group never return the same slot.
type Registry struct {
	provider contracts.SlotProvider
	logger   logr.Logger

	// groups maps groupID -> *groupState. Entries are created lazily on the
	// first reservation attempt for a group and never removed; the number of
	// groups is small and bounded by the session.
	groups sync.Map
}

// NewRegistry creates a Registry backed by the given slot provider.
func NewRegistry(provider contracts.SlotProvider, logger logr.Logger) *Registry {
	return &Registry{
		provider: provider,
		logger:   logger.WithName("reservation-registry"),
	}
}

func (r *Registry) group(groupID string) *groupState {
	if g, ok := r.groups.Load(groupID); ok {
		return g.(*groupState)
	}
	g, _ := r.groups.LoadOrStore(groupID, &groupState{slots: make(map[int]struct{})})
	return g.(*groupState)
}

// Reserve finds and reserves the first eligible slot for the group,
// scanning candidates in ascending index order. A slot is eligible when it
// is not already reserved by the group, not externally occupied, and passes
// the provider's usability predicate. Returns types.ErrNoSlotAvailable when
// no candidate qualifies.
func (r *Registry) Reserve(groupID string) (int, error) {
	g := r.group(groupID)
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, slot := range r.provider.ListCandidateSlots(groupID) {
		if _, taken := g.slots[slot.Index]; taken {
			continue
		}
		if r.provider.IsOccupied(groupID, slot) {
			continue
		}
		if !r.provider.IsUsable(groupID, slot) {
			continue
		}
		g.slots[slot.Index] = struct{}{}
		r.logger.V(logging.DEBUG).Info("slot reserved", "group", groupID, "slot", slot.Index)
		return slot.Index, nil
	}
	return types.NoSlotHint, types.ErrNoSlotAvailable
}

// Release returns a slot to the group's pool. Releasing a slot that is not
// reserved is a no-op.
func (r *Registry) Release(groupID string, slotIndex int) {
	g := r.group(groupID)
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.slots[slotIndex]; ok {
		delete(g.slots, slotIndex)
		r.logger.V(logging.DEBUG).Info("slot released", "group", groupID, "slot", slotIndex)
	}
}

// Validate reconciles the group's reservations against the live world:
// reserved slots that no longer appear among the provider's candidates, or
// that fail the usability predicate, are removed silently and become
// eligible for re-reservation. Returns the number of stale entries removed.
func (r *Registry) Validate(groupID string) int {
	g := r.group(groupID)
	g.mu.Lock()
	defer g.mu.Unlock()

	live := make(map[int]contracts.Slot)
	for _, slot := range r.provider.ListCandidateSlots(groupID) {
		live[slot.Index] = slot
	}

	removed := 0
	for idx := range g.slots {
		slot, present := live[idx]
		if present && r.provider.IsUsable(groupID, slot) {
			continue
		}
		delete(g.slots, idx)
		removed++
	}
	if removed > 0 {
		r.logger.V(logging.VERBOSE).Info("pruned stale reservations",
			"group", groupID, "removed", removed)
	}
	return removed
}

// ValidateAll runs Validate for every group seen so far and returns the
// total number of stale entries removed.
func (r *Registry) ValidateAll() int {
	total := 0
	r.groups.Range(func(key, _ any) bool {
		total += r.Validate(key.(string))
		return true
	})
	return total
}

// Reserved returns the group's reserved slot indices in ascending order.
func (r *Registry) Reserved(groupID string) []int {
	g := r.group(groupID)
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]int, 0, len(g.slots))
	for idx := range g.slots {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}
