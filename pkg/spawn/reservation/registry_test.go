package reservation

import (
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tacticsim/spawngate/internal/logging"
	"github.com/tacticsim/spawngate/pkg/spawn/contracts"
	"github.com/tacticsim/spawngate/pkg/spawn/types"
)

// fakeProvider is an in-memory SlotProvider with mutable occupancy and
// usability, safe for concurrent reads.
type fakeProvider struct {
	mu       sync.RWMutex
	slots    map[string][]contracts.Slot
	occupied map[string]map[int]bool
	unusable map[string]map[int]bool
}

func newFakeProvider(groupSizes map[string]int) *fakeProvider {
	p := &fakeProvider{
		slots:    make(map[string][]contracts.Slot),
		occupied: make(map[string]map[int]bool),
		unusable: make(map[string]map[int]bool),
	}
	for group, n := range groupSizes {
		slots := make([]contracts.Slot, n)
		for i := 0; i < n; i++ {
			slots[i] = contracts.Slot{Index: i}
		}
		p.slots[group] = slots
		p.occupied[group] = make(map[int]bool)
		p.unusable[group] = make(map[int]bool)
	}
	return p
}

func (p *fakeProvider) ListCandidateSlots(groupID string) []contracts.Slot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.slots[groupID]
}

func (p *fakeProvider) IsUsable(groupID string, slot contracts.Slot) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.unusable[groupID][slot.Index]
}

func (p *fakeProvider) IsOccupied(groupID string, slot contracts.Slot) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.occupied[groupID][slot.Index]
}

func (p *fakeProvider) setOccupied(groupID string, idx int, v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.occupied[groupID][idx] = v
}

func (p *fakeProvider) setUnusable(groupID string, idx int, v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unusable[groupID][idx] = v
}

func (p *fakeProvider) removeSlot(groupID string, idx int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.slots[groupID][:0]
	for _, s := range p.slots[groupID] {
		if s.Index != idx {
			kept = append(kept, s)
		}
	}
	p.slots[groupID] = kept
}

var _ = Describe("Registry", func() {
	var (
		provider *fakeProvider
		registry *Registry
	)

	BeforeEach(func() {
		provider = newFakeProvider(map[string]int{"attacker": 4, "defender": 4})
		registry = NewRegistry(provider, logging.NewTestLogger())
	})

	Describe("Reserve", func() {
		It("returns slots in ascending index order", func() {
			Expect(registry.Reserve("attacker")).To(Equal(0))
			Expect(registry.Reserve("attacker")).To(Equal(1))
			Expect(registry.Reserve("attacker")).To(Equal(2))
		})

		It("skips externally occupied slots", func() {
			provider.setOccupied("attacker", 0, true)
			Expect(registry.Reserve("attacker")).To(Equal(1))
		})

		It("skips unusable slots", func() {
			provider.setUnusable("attacker", 0, true)
			provider.setUnusable("attacker", 1, true)
			Expect(registry.Reserve("attacker")).To(Equal(2))
		})

		It("fails when every slot is ineligible", func() {
			for i := 0; i < 4; i++ {
				provider.setUnusable("attacker", i, true)
			}
			_, err := registry.Reserve("attacker")
			Expect(err).To(MatchError(types.ErrNoSlotAvailable))
		})

		It("fails for unknown groups", func() {
			_, err := registry.Reserve("nobody")
			Expect(err).To(MatchError(types.ErrNoSlotAvailable))
		})

		It("keeps groups independent", func() {
			Expect(registry.Reserve("attacker")).To(Equal(0))
			Expect(registry.Reserve("defender")).To(Equal(0))
		})

		It("exhausts the group after all slots are reserved", func() {
			for i := 0; i < 4; i++ {
				Expect(registry.Reserve("attacker")).To(Equal(i))
			}
			_, err := registry.Reserve("attacker")
			Expect(err).To(MatchError(types.ErrNoSlotAvailable))
		})
	})

	Describe("Release", func() {
		It("makes the slot eligible again", func() {
			Expect(registry.Reserve("attacker")).To(Equal(0))
			registry.Release("attacker", 0)
			Expect(registry.Reserve("attacker")).To(Equal(0))
		})

		It("ignores slots that were never reserved", func() {
			registry.Release("attacker", 3)
			Expect(registry.Reserved("attacker")).To(BeEmpty())
		})
	})

	Describe("Validate", func() {
		It("prunes reservations whose slot became unusable", func() {
			Expect(registry.Reserve("attacker")).To(Equal(0))
			Expect(registry.Reserve("attacker")).To(Equal(1))

			provider.setUnusable("attacker", 0, true)
			Expect(registry.Validate("attacker")).To(Equal(1))
			Expect(registry.Reserved("attacker")).To(Equal([]int{1}))
		})

		It("prunes reservations whose slot disappeared", func() {
			Expect(registry.Reserve("attacker")).To(Equal(0))
			provider.removeSlot("attacker", 0)

			Expect(registry.Validate("attacker")).To(Equal(1))
			Expect(registry.Reserved("attacker")).To(BeEmpty())
		})

		It("keeps healthy reservations", func() {
			Expect(registry.Reserve("attacker")).To(Equal(0))
			Expect(registry.Validate("attacker")).To(BeZero())
			Expect(registry.Reserved("attacker")).To(Equal([]int{0}))
		})

		It("lets a pruned slot be reserved again", func() {
			Expect(registry.Reserve("attacker")).To(Equal(0))
			provider.setUnusable("attacker", 0, true)
			registry.Validate("attacker")
			provider.setUnusable("attacker", 0, false)

			Expect(registry.Reserve("attacker")).To(Equal(0))
		})
	})

	Describe("ValidateAll", func() {
		It("covers every group seen so far", func() {
			Expect(registry.Reserve("attacker")).To(Equal(0))
			Expect(registry.Reserve("defender")).To(Equal(0))
			provider.setUnusable("attacker", 0, true)
			provider.setUnusable("defender", 0, true)

			Expect(registry.ValidateAll()).To(Equal(2))
		})
	})

	Describe("concurrent reservations", func() {
		It("never hands the same slot to two callers", func() {
			const slots = 64
			const callers = 128
			provider = newFakeProvider(map[string]int{"attacker": slots})
			registry = NewRegistry(provider, logging.NewTestLogger())

			var wg sync.WaitGroup
			results := make(chan int, callers)
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					idx, err := registry.Reserve("attacker")
					if err == nil {
						results <- idx
					}
				}()
			}
			wg.Wait()
			close(results)

			seen := make(map[int]bool)
			count := 0
			for idx := range results {
				Expect(seen[idx]).To(BeFalse(), "slot %d reserved twice", idx)
				seen[idx] = true
				count++
			}
			Expect(count).To(Equal(slots))
		})
	})
})
