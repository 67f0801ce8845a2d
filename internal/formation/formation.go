// Package formation supplies the demo binary's SlotProvider: a formation
// layout loaded from a YAML file, with slot positions computed from each
// group's origin and spacing. Occupancy and usability are mutable at
// runtime so simulations can exercise reservation validation.
package formation

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/tacticsim/spawngate/pkg/spawn/contracts"
)

// Layout is the YAML document root.
type Layout struct {
	Groups []GroupSpec `yaml:"groups"`
}

// GroupSpec describes one group's formation in the layout file.
type GroupSpec struct {
	// ID names the group; reservation requests reference it.
	ID string `yaml:"id"`

	// SlotCount is how many placement slots the group owns.
	SlotCount int `yaml:"slotCount"`

	// OriginX/OriginY anchor the formation in world coordinates.
	OriginX float64 `yaml:"originX"`
	OriginY float64 `yaml:"originY"`

	// Spacing is the distance between adjacent slots along the rank.
	Spacing float64 `yaml:"spacing"`

	// RankWidth is how many slots form one rank before the next rank
	// starts behind it. Zero means a single rank.
	RankWidth int `yaml:"rankWidth"`
}

// Position is the placement payload carried in contracts.Slot.
type Position struct {
	X float64
	Y float64
}

// ParseLayout decodes and checks a layout document.
func ParseLayout(data []byte) (*Layout, error) {
	var layout Layout
	if err := yaml.Unmarshal(data, &layout); err != nil {
		return nil, fmt.Errorf("parsing formation layout: %w", err)
	}
	seen := make(map[string]struct{}, len(layout.Groups))
	for i, g := range layout.Groups {
		if g.ID == "" {
			return nil, fmt.Errorf("group %d: id cannot be empty", i)
		}
		if _, dup := seen[g.ID]; dup {
			return nil, fmt.Errorf("duplicate group id %q", g.ID)
		}
		seen[g.ID] = struct{}{}
		if g.SlotCount <= 0 {
			return nil, fmt.Errorf("group %q: slotCount must be positive, got %d", g.ID, g.SlotCount)
		}
		if g.Spacing < 0 {
			return nil, fmt.Errorf("group %q: spacing cannot be negative", g.ID)
		}
	}
	return &layout, nil
}

// LoadLayout reads and parses a layout file.
func LoadLayout(path string) (*Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading formation layout %q: %w", path, err)
	}
	return ParseLayout(data)
}

// groupSlots is the precomputed slot list plus mutable world state.
type groupSlots struct {
	slots []contracts.Slot

	mu       sync.RWMutex
	occupied map[int]struct{}
	disabled map[int]struct{}
}

// Provider implements contracts.SlotProvider over a parsed Layout.
type Provider struct {
	groups map[string]*groupSlots
}

var _ contracts.SlotProvider = &Provider{}

// NewProvider precomputes slot positions for every group in the layout.
func NewProvider(layout *Layout) *Provider {
	p := &Provider{groups: make(map[string]*groupSlots, len(layout.Groups))}
	for _, g := range layout.Groups {
		slots := make([]contracts.Slot, g.SlotCount)
		width := g.RankWidth
		if width <= 0 {
			width = g.SlotCount
		}
		for i := 0; i < g.SlotCount; i++ {
			slots[i] = contracts.Slot{
				Index: i,
				Position: Position{
					X: g.OriginX + float64(i%width)*g.Spacing,
					Y: g.OriginY + float64(i/width)*g.Spacing,
				},
			}
		}
		p.groups[g.ID] = &groupSlots{
			slots:    slots,
			occupied: make(map[int]struct{}),
			disabled: make(map[int]struct{}),
		}
	}
	return p
}

// ListCandidateSlots returns the group's slots in ascending index order.
// Unknown groups get an empty list.
func (p *Provider) ListCandidateSlots(groupID string) []contracts.Slot {
	g, ok := p.groups[groupID]
	if !ok {
		return nil
	}
	return g.slots
}

// IsUsable reports whether the slot has not been disabled.
func (p *Provider) IsUsable(groupID string, slot contracts.Slot) bool {
	g, ok := p.groups[groupID]
	if !ok {
		return false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, disabled := g.disabled[slot.Index]
	return !disabled
}

// IsOccupied reports whether an external actor holds the slot.
func (p *Provider) IsOccupied(groupID string, slot contracts.Slot) bool {
	g, ok := p.groups[groupID]
	if !ok {
		return false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, occupied := g.occupied[slot.Index]
	return occupied
}

// SetOccupied marks or clears external occupancy for a slot.
func (p *Provider) SetOccupied(groupID string, slotIndex int, occupied bool) {
	g, ok := p.groups[groupID]
	if !ok {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if occupied {
		g.occupied[slotIndex] = struct{}{}
	} else {
		delete(g.occupied, slotIndex)
	}
}

// SetUsable marks or clears a slot's usability.
func (p *Provider) SetUsable(groupID string, slotIndex int, usable bool) {
	g, ok := p.groups[groupID]
	if !ok {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if usable {
		delete(g.disabled, slotIndex)
	} else {
		g.disabled[slotIndex] = struct{}{}
	}
}
