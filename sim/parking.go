package sim

import (
	"fmt"
	"sort"

	"github.com/traffic-sim/traffic-sim/sim/network"
)

// ParkingSpot is one place to park along a lane.
type ParkingSpot struct {
	ID   SpotID         `json:"id"`
	Lane network.LaneID `json:"lane"`
	Slot int            `json:"slot"`
}

// ParkingManager hands out parking spots. Implementations:
//   - finiteParking: fixed per-lane spot counts from the map
//   - unlimitedParking: always succeeds, spots are created on demand
type ParkingManager interface {
	// TryAcquire reserves a free spot on lane for car.
	TryAcquire(lane network.LaneID, car CarID) (SpotID, bool)
	// Release frees spot. Releasing a free spot panics.
	Release(spot SpotID)
	// Occupant returns the car parked in spot.
	Occupant(spot SpotID) (CarID, bool)
	// Spot returns the spot's location.
	Spot(spot SpotID) (ParkingSpot, bool)
	// State captures occupancy for a snapshot.
	State() ParkingState
}

// ParkingState is the serializable occupancy of a ParkingManager.
type ParkingState struct {
	Policy   string            `json:"policy"`
	Occupied []ParkingOccupant `json:"occupied"`
	NextSpot SpotID            `json:"next_spot,omitempty"`

	// LaneSlots counts on-demand spots ever created per lane.
	LaneSlots map[network.LaneID]int `json:"lane_slots,omitempty"`
}

// ParkingOccupant pairs a spot with its car.
type ParkingOccupant struct {
	Spot ParkingSpot `json:"spot"`
	Car  CarID       `json:"car"`
}

// ValidParkingPolicies is the set of recognized parking policy names.
var ValidParkingPolicies = map[string]bool{"": true, "finite": true, "unlimited": true}

// NewParkingManager creates a parking manager by policy name.
// Panics on unknown names; validate with ValidParkingPolicies first.
func NewParkingManager(name string, m *network.Map) ParkingManager {
	if !ValidParkingPolicies[name] {
		panic(fmt.Sprintf("unknown parking policy %q", name))
	}
	switch name {
	case "", "finite":
		return newFiniteParking(m)
	case "unlimited":
		return newUnlimitedParking()
	default:
		panic(fmt.Sprintf("unhandled parking policy %q", name))
	}
}

// RestoreParkingManager rebuilds a manager from a snapshot.
func RestoreParkingManager(st ParkingState, m *network.Map) ParkingManager {
	pm := NewParkingManager(st.Policy, m)
	switch p := pm.(type) {
	case *finiteParking:
		for _, o := range st.Occupied {
			p.occupy(o.Spot.ID, o.Car)
		}
	case *unlimitedParking:
		p.next = st.NextSpot
		for lane, n := range st.LaneSlots {
			p.perLane[lane] = n
		}
		for _, o := range st.Occupied {
			p.spots[o.Spot.ID] = o.Spot
			p.occupant[o.Spot.ID] = o.Car
		}
	}
	return pm
}

type finiteParking struct {
	spots    []ParkingSpot // index = SpotID-1
	byLane   map[network.LaneID][]SpotID
	occupant map[SpotID]CarID
}

func newFiniteParking(m *network.Map) *finiteParking {
	p := &finiteParking{
		byLane:   make(map[network.LaneID][]SpotID),
		occupant: make(map[SpotID]CarID),
	}
	for _, id := range m.LaneIDs() {
		l := m.Lane(id)
		for slot := 0; slot < l.ParkingSpots; slot++ {
			spot := ParkingSpot{ID: SpotID(len(p.spots) + 1), Lane: id, Slot: slot}
			p.spots = append(p.spots, spot)
			p.byLane[id] = append(p.byLane[id], spot.ID)
		}
	}
	return p
}

func (p *finiteParking) TryAcquire(lane network.LaneID, car CarID) (SpotID, bool) {
	for _, id := range p.byLane[lane] {
		if _, taken := p.occupant[id]; !taken {
			p.occupy(id, car)
			return id, true
		}
	}
	return 0, false
}

func (p *finiteParking) occupy(id SpotID, car CarID) {
	if id < 1 || int(id) > len(p.spots) {
		invariantf("parking spot %d does not exist", id)
	}
	if other, taken := p.occupant[id]; taken {
		invariantf("parking spot %d already holds car%d, cannot take car%d", id, other, car)
	}
	p.occupant[id] = car
}

func (p *finiteParking) Release(id SpotID) {
	if _, taken := p.occupant[id]; !taken {
		invariantf("releasing free parking spot %d", id)
	}
	delete(p.occupant, id)
}

func (p *finiteParking) Occupant(id SpotID) (CarID, bool) {
	car, ok := p.occupant[id]
	return car, ok
}

func (p *finiteParking) Spot(id SpotID) (ParkingSpot, bool) {
	if id < 1 || int(id) > len(p.spots) {
		return ParkingSpot{}, false
	}
	return p.spots[id-1], true
}

func (p *finiteParking) State() ParkingState {
	st := ParkingState{Policy: "finite"}
	for _, id := range sortedIDs(p.occupant) {
		st.Occupied = append(st.Occupied, ParkingOccupant{Spot: p.spots[id-1], Car: p.occupant[id]})
	}
	return st
}

type unlimitedParking struct {
	next     SpotID
	spots    map[SpotID]ParkingSpot
	occupant map[SpotID]CarID
	perLane  map[network.LaneID]int
}

func newUnlimitedParking() *unlimitedParking {
	return &unlimitedParking{
		spots:    make(map[SpotID]ParkingSpot),
		occupant: make(map[SpotID]CarID),
		perLane:  make(map[network.LaneID]int),
	}
}

func (p *unlimitedParking) TryAcquire(lane network.LaneID, car CarID) (SpotID, bool) {
	p.next++
	spot := ParkingSpot{ID: p.next, Lane: lane, Slot: p.perLane[lane]}
	p.perLane[lane]++
	p.spots[spot.ID] = spot
	p.occupant[spot.ID] = car
	return spot.ID, true
}

func (p *unlimitedParking) Release(id SpotID) {
	if _, taken := p.occupant[id]; !taken {
		invariantf("releasing free parking spot %d", id)
	}
	delete(p.occupant, id)
	delete(p.spots, id)
}

func (p *unlimitedParking) Occupant(id SpotID) (CarID, bool) {
	car, ok := p.occupant[id]
	return car, ok
}

func (p *unlimitedParking) Spot(id SpotID) (ParkingSpot, bool) {
	s, ok := p.spots[id]
	return s, ok
}

func (p *unlimitedParking) State() ParkingState {
	st := ParkingState{Policy: "unlimited", NextSpot: p.next, LaneSlots: make(map[network.LaneID]int, len(p.perLane))}
	for lane, n := range p.perLane {
		st.LaneSlots[lane] = n
	}
	for _, id := range sortedIDs(p.occupant) {
		st.Occupied = append(st.Occupied, ParkingOccupant{Spot: p.spots[id], Car: p.occupant[id]})
	}
	return st
}

// spotPosition places a spot along its lane: finite spots are spread evenly,
// on-demand spots sit mid-lane.
func spotPosition(m *network.Map, spot ParkingSpot) network.Position {
	l := m.Lane(spot.Lane)
	if l.ParkingSpots == 0 || spot.Slot >= l.ParkingSpots {
		return network.Position{Lane: spot.Lane, Dist: l.Length / 2}
	}
	return network.Position{Lane: spot.Lane, Dist: l.Length * network.Distance(spot.Slot+1) / network.Distance(l.ParkingSpots+1)}
}

// checkParking verifies that no car holds more than one spot.
func checkParking(pm ParkingManager) error {
	seen := make(map[CarID]SpotID)
	for _, o := range pm.State().Occupied {
		if prev, dup := seen[o.Car]; dup {
			return fmt.Errorf("car%d parked in spots %d and %d", o.Car, prev, o.Spot.ID)
		}
		seen[o.Car] = o.Spot.ID
	}
	return nil
}

func sortedIDs[K ~int, V any](in map[K]V) []K {
	out := make([]K, 0, len(in))
	for k := range in {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
