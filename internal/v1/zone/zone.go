// Package zone implements the per-room Zone Tracker: named rectangular
// regions, membership lookup by world position, and enter/exit transition
// events as entities move between them.
package zone

import "sync"

// Bounds is an axis-aligned rectangle in world space, inclusive of its
// min/max edges.
type Bounds struct {
	MinX, MinY float64
	MaxX, MaxY float64
}

// Contains reports whether (x, y) lies within b.
func (b Bounds) Contains(x, y float64) bool {
	return x >= b.MinX && x <= b.MaxX && y >= b.MinY && y <= b.MaxY
}

// NamedBounds pairs a zone id with its rectangle, for bulk registration
// from a map pack manifest.
type NamedBounds struct {
	ID     string
	Bounds Bounds
}

// TransitionKind is either an exit or an entry.
type TransitionKind string

const (
	TransitionExit  TransitionKind = "zone.exit"
	TransitionEnter TransitionKind = "zone.enter"
)

// Transition is one zone membership change for an entity. For an exit,
// OtherZoneID is the zone being entered next (if any); for an entry, it is
// the zone just left.
type Transition struct {
	Kind        TransitionKind
	EntityID    string
	ZoneID      string
	OtherZoneID string
}

type zoneEntry struct {
	id     string
	bounds Bounds
}

// Tracker assigns entities to zones by position and reports transitions. A
// position outside every zone maps to the empty zone id ("").
type Tracker struct {
	mu      sync.Mutex
	zones   []zoneEntry // insertion order; first matching zone wins overlaps
	current map[string]string
	counts  map[string]int
}

// New builds an empty tracker.
func New() *Tracker {
	return &Tracker{
		current: make(map[string]string),
		counts:  make(map[string]int),
	}
}

// AddZone registers a rectangular zone. Zones are matched in the order they
// were added, so earlier AddZone calls take priority over overlapping later
// ones.
func (t *Tracker) AddZone(id string, bounds Bounds) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.zones = append(t.zones, zoneEntry{id: id, bounds: bounds})
	if _, ok := t.counts[id]; !ok {
		t.counts[id] = 0
	}
}

// ZoneAt returns the id of the first zone containing (x, y), or "" if the
// point falls outside every registered zone.
func (t *Tracker) ZoneAt(x, y float64) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.zoneAtLocked(x, y)
}

func (t *Tracker) zoneAtLocked(x, y float64) string {
	for _, z := range t.zones {
		if z.bounds.Contains(x, y) {
			return z.id
		}
	}
	return ""
}

// Update recomputes the zone for entityID at (x, y) and returns the
// transitions produced, in order: an exit from the old zone (if any),
// followed by an entry into the new zone (if any). A no-op move within the
// same zone returns nil.
func (t *Tracker) Update(entityID string, x, y float64) []Transition {
	t.mu.Lock()
	defer t.mu.Unlock()

	newZone := t.zoneAtLocked(x, y)
	oldZone := t.current[entityID]

	if newZone == oldZone {
		return nil
	}

	var transitions []Transition
	if oldZone != "" {
		t.counts[oldZone]--
		if t.counts[oldZone] < 0 {
			t.counts[oldZone] = 0
		}
		transitions = append(transitions, Transition{Kind: TransitionExit, EntityID: entityID, ZoneID: oldZone, OtherZoneID: newZone})
	}
	if newZone != "" {
		t.counts[newZone]++
		transitions = append(transitions, Transition{Kind: TransitionEnter, EntityID: entityID, ZoneID: newZone, OtherZoneID: oldZone})
	}

	if newZone == "" {
		delete(t.current, entityID)
	} else {
		t.current[entityID] = newZone
	}

	return transitions
}

// Remove clears an entity's zone membership, emitting an exit transition if
// it was in a zone. Used when an entity leaves the room.
func (t *Tracker) Remove(entityID string) []Transition {
	t.mu.Lock()
	defer t.mu.Unlock()

	oldZone, ok := t.current[entityID]
	if !ok || oldZone == "" {
		delete(t.current, entityID)
		return nil
	}
	t.counts[oldZone]--
	if t.counts[oldZone] < 0 {
		t.counts[oldZone] = 0
	}
	delete(t.current, entityID)
	return []Transition{{Kind: TransitionExit, EntityID: entityID, ZoneID: oldZone}}
}

// Current returns the zone an entity was last placed in by Update, or ""
// if it is outside every zone (or unknown).
func (t *Tracker) Current(entityID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current[entityID]
}

// Population returns the current non-negative occupant count for a zone.
func (t *Tracker) Population(zoneID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[zoneID]
}
