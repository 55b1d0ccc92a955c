// Package network holds the read-only road network the simulation kernel runs on:
// lanes, intersections, turns, bus stops and routes, plus a lane-graph pathfinder.
//
// A Map is built (programmatically or via Load), then frozen with Finalize.
// After Finalize nothing in this package mutates the Map, so a single Map can be
// shared by any number of simulator instances.
package network

import (
	"fmt"
	"math"
	"sort"
)

// LaneID, IntersectionID, BusStopID and BusRouteID are distinct types so that
// ids from different tables cannot be mixed accidentally.
type (
	LaneID         int
	IntersectionID int
	BusStopID      int
	BusRouteID     int
)

// Distance is a length in centimeters. All kernel arithmetic on positions is
// integer so that traces are identical across platforms.
type Distance int64

// Speed is a velocity in centimeters per second.
type Speed int64

// Meters converts a length in meters to a Distance, rounding to the nearest centimeter.
func Meters(m float64) Distance {
	return Distance(math.Round(m * 100))
}

// MetersPerSecond converts m/s to a Speed.
func MetersPerSecond(v float64) Speed {
	return Speed(math.Round(v * 100))
}

// Meters returns d in meters.
func (d Distance) Meters() float64 { return float64(d) / 100 }

// MetersPerSecond returns s in m/s.
func (s Speed) MetersPerSecond() float64 { return float64(s) / 100 }

// LaneType classifies which agents may use a lane.
type LaneType string

const (
	LaneDriving  LaneType = "driving"
	LaneBiking   LaneType = "biking"
	LaneBus      LaneType = "bus"
	LaneSidewalk LaneType = "sidewalk"
)

// IsSidewalk reports whether the lane carries pedestrians.
func (t LaneType) IsSidewalk() bool { return t == LaneSidewalk }

// Side is the compass side of an intersection a lane attaches to.
type Side int

const (
	North Side = iota
	East
	South
	West
)

var sideNames = [...]string{"N", "E", "S", "W"}

func (s Side) String() string {
	if s < North || s > West {
		return fmt.Sprintf("Side(%d)", int(s))
	}
	return sideNames[s]
}

// ParseSide parses "N", "E", "S" or "W".
func ParseSide(s string) (Side, error) {
	for i, n := range sideNames {
		if n == s {
			return Side(i), nil
		}
	}
	return 0, fmt.Errorf("unknown side %q", s)
}

// ControlType selects the intersection policy.
type ControlType string

const (
	ControlUncontrolled  ControlType = "uncontrolled"
	ControlStopSign      ControlType = "stop_sign"
	ControlTrafficSignal ControlType = "traffic_signal"
)

// Lane is a directed lane from Src to Dst.
type Lane struct {
	ID           LaneID
	Type         LaneType
	Road         string
	Length       Distance
	SpeedLimit   Speed
	Src          IntersectionID
	Dst          IntersectionID
	SrcSide      Side // side of Src the lane leaves from
	DstSide      Side // side of Dst the lane arrives on
	ParkingSpots int
	Priority     int // higher wins at uncontrolled intersections
}

// Position is a point along a lane.
type Position struct {
	Lane LaneID   `json:"lane"`
	Dist Distance `json:"dist"`
}

func (p Position) String() string {
	return fmt.Sprintf("%d@%dcm", p.Lane, p.Dist)
}

// TurnKind is the movement class of a turn relative to the approach.
type TurnKind string

const (
	TurnStraight TurnKind = "straight"
	TurnLeft     TurnKind = "left"
	TurnRight    TurnKind = "right"
	TurnUTurn    TurnKind = "u_turn"
)

// TurnID identifies a movement from one lane to another through Parent.
type TurnID struct {
	Parent IntersectionID `json:"parent"`
	Src    LaneID         `json:"src"`
	Dst    LaneID         `json:"dst"`
}

func (t TurnID) String() string {
	return fmt.Sprintf("i%d:%d->%d", t.Parent, t.Src, t.Dst)
}

// Less orders turns by (parent, src, dst).
func (t TurnID) Less(o TurnID) bool {
	if t.Parent != o.Parent {
		return t.Parent < o.Parent
	}
	if t.Src != o.Src {
		return t.Src < o.Src
	}
	return t.Dst < o.Dst
}

// Turn is a permitted vehicle movement through an intersection.
type Turn struct {
	ID     TurnID
	Kind   TurnKind
	Length Distance
}

// Movement is an allow-list entry of a signal stage.
type Movement struct {
	From  Side
	Turns []TurnKind
}

// Stage is one phase of a fixed-time signal plan.
type Stage struct {
	Duration int64 // ticks
	Allow    []Movement
}

// Allows reports whether a movement of kind entering from side is permitted.
func (s Stage) Allows(from Side, kind TurnKind) bool {
	for _, m := range s.Allow {
		if m.From != from {
			continue
		}
		for _, k := range m.Turns {
			if k == kind {
				return true
			}
		}
	}
	return false
}

// SignalPlan is a fixed-time cycle of stages.
type SignalPlan struct {
	Offset int64 // extra ticks added to the first stage
	Stages []Stage
}

// CycleLength returns the sum of all stage durations.
func (p *SignalPlan) CycleLength() int64 {
	var total int64
	for _, s := range p.Stages {
		total += s.Duration
	}
	return total
}

// Intersection joins lanes and owns the turns between them.
type Intersection struct {
	ID       IntersectionID
	Control  ControlType
	Signal   *SignalPlan
	Incoming []LaneID
	Outgoing []LaneID
	Turns    []TurnID
}

// BusStop is a stop at the end of a vehicle lane with a sidewalk waiting point.
type BusStop struct {
	ID       BusStopID
	Name     string
	Lane     LaneID
	Sidewalk Position
}

// BusRoute is an ordered list of stops served by buses.
type BusRoute struct {
	ID    BusRouteID
	Name  string
	Stops []BusStopID
}

// DefaultTurnLength is used when the map does not give an explicit turn length.
const DefaultTurnLength Distance = 1000

// Map is the whole network. Build with AddLane/AddIntersection/... and call
// Finalize before handing it to a simulator.
type Map struct {
	Name          string
	lanes         map[LaneID]*Lane
	intersections map[IntersectionID]*Intersection
	turns         map[TurnID]*Turn
	stops         map[BusStopID]*BusStop
	routes        map[BusRouteID]*BusRoute
	routesByName  map[string]BusRouteID
	conflicts     map[TurnID][]TurnID
	turnLength    Distance
	finalized     bool
}

// NewMap returns an empty map.
func NewMap(name string) *Map {
	return &Map{
		Name:          name,
		lanes:         make(map[LaneID]*Lane),
		intersections: make(map[IntersectionID]*Intersection),
		turns:         make(map[TurnID]*Turn),
		stops:         make(map[BusStopID]*BusStop),
		routes:        make(map[BusRouteID]*BusRoute),
		routesByName:  make(map[string]BusRouteID),
		conflicts:     make(map[TurnID][]TurnID),
		turnLength:    DefaultTurnLength,
	}
}

// SetTurnLength overrides the length used for generated turns.
func (m *Map) SetTurnLength(d Distance) {
	m.mustBeMutable()
	m.turnLength = d
}

func (m *Map) mustBeMutable() {
	if m.finalized {
		panic("network: map mutated after Finalize")
	}
}

// AddIntersection registers an intersection. Incoming/Outgoing/Turns are
// derived in Finalize and any values set by the caller are overwritten.
func (m *Map) AddIntersection(i Intersection) error {
	m.mustBeMutable()
	if _, exists := m.intersections[i.ID]; exists {
		return fmt.Errorf("intersection %d already exists", i.ID)
	}
	if i.Control == "" {
		i.Control = ControlUncontrolled
	}
	cp := i
	m.intersections[i.ID] = &cp
	return nil
}

// AddLane registers a lane.
func (m *Map) AddLane(l Lane) error {
	m.mustBeMutable()
	if _, exists := m.lanes[l.ID]; exists {
		return fmt.Errorf("lane %d already exists", l.ID)
	}
	cp := l
	m.lanes[l.ID] = &cp
	return nil
}

// AddBusStop registers a bus stop.
func (m *Map) AddBusStop(s BusStop) error {
	m.mustBeMutable()
	if _, exists := m.stops[s.ID]; exists {
		return fmt.Errorf("bus stop %d already exists", s.ID)
	}
	cp := s
	m.stops[s.ID] = &cp
	return nil
}

// AddBusRoute registers a bus route.
func (m *Map) AddBusRoute(r BusRoute) error {
	m.mustBeMutable()
	if _, exists := m.routes[r.ID]; exists {
		return fmt.Errorf("bus route %d already exists", r.ID)
	}
	if _, exists := m.routesByName[r.Name]; exists && r.Name != "" {
		return fmt.Errorf("bus route %q already exists", r.Name)
	}
	cp := r
	cp.Stops = append([]BusStopID(nil), r.Stops...)
	m.routes[r.ID] = &cp
	if r.Name != "" {
		m.routesByName[r.Name] = r.ID
	}
	return nil
}

// Finalize validates the map, derives intersection connectivity, generates
// turns and precomputes turn conflicts. The map is read-only afterwards.
func (m *Map) Finalize() error {
	if m.finalized {
		return nil
	}
	if err := m.Validate(); err != nil {
		return err
	}
	for _, id := range m.IntersectionIDs() {
		i := m.intersections[id]
		i.Incoming, i.Outgoing, i.Turns = nil, nil, nil
	}
	for _, id := range m.LaneIDs() {
		l := m.lanes[id]
		m.intersections[l.Dst].Incoming = append(m.intersections[l.Dst].Incoming, l.ID)
		m.intersections[l.Src].Outgoing = append(m.intersections[l.Src].Outgoing, l.ID)
	}
	for _, id := range m.IntersectionIDs() {
		i := m.intersections[id]
		for _, src := range i.Incoming {
			in := m.lanes[src]
			if in.Type.IsSidewalk() {
				continue
			}
			for _, dst := range i.Outgoing {
				out := m.lanes[dst]
				if out.Type.IsSidewalk() {
					continue
				}
				t := &Turn{
					ID:     TurnID{Parent: i.ID, Src: src, Dst: dst},
					Kind:   turnKind(in.DstSide, out.SrcSide),
					Length: m.turnLength,
				}
				m.turns[t.ID] = t
				i.Turns = append(i.Turns, t.ID)
			}
		}
		sort.Slice(i.Turns, func(a, b int) bool { return i.Turns[a].Less(i.Turns[b]) })
		for _, a := range i.Turns {
			for _, b := range i.Turns {
				if m.turnsConflict(m.turns[a], m.turns[b]) {
					m.conflicts[a] = append(m.conflicts[a], b)
				}
			}
		}
	}
	m.finalized = true
	return nil
}

// Validate checks referential integrity.
func (m *Map) Validate() error {
	for _, id := range m.LaneIDs() {
		l := m.lanes[id]
		if l.Length <= 0 {
			return fmt.Errorf("lane %d: length must be positive", l.ID)
		}
		if l.SpeedLimit <= 0 {
			return fmt.Errorf("lane %d: speed limit must be positive", l.ID)
		}
		if l.ParkingSpots < 0 {
			return fmt.Errorf("lane %d: parking spots must be non-negative", l.ID)
		}
		if _, ok := m.intersections[l.Src]; !ok {
			return fmt.Errorf("lane %d: unknown src intersection %d", l.ID, l.Src)
		}
		if _, ok := m.intersections[l.Dst]; !ok {
			return fmt.Errorf("lane %d: unknown dst intersection %d", l.ID, l.Dst)
		}
		switch l.Type {
		case LaneDriving, LaneBiking, LaneBus, LaneSidewalk:
		default:
			return fmt.Errorf("lane %d: unknown lane type %q", l.ID, l.Type)
		}
	}
	for _, id := range m.IntersectionIDs() {
		i := m.intersections[id]
		switch i.Control {
		case ControlUncontrolled, ControlStopSign:
		case ControlTrafficSignal:
			if i.Signal == nil || len(i.Signal.Stages) == 0 {
				return fmt.Errorf("intersection %d: traffic signal needs at least one stage", i.ID)
			}
			if i.Signal.Offset < 0 {
				return fmt.Errorf("intersection %d: signal offset must be non-negative", i.ID)
			}
			for n, s := range i.Signal.Stages {
				if s.Duration <= 0 {
					return fmt.Errorf("intersection %d: stage %d duration must be positive", i.ID, n)
				}
			}
		default:
			return fmt.Errorf("intersection %d: unknown control %q", i.ID, i.Control)
		}
	}
	for _, id := range m.BusStopIDs() {
		s := m.stops[id]
		l, ok := m.lanes[s.Lane]
		if !ok || l.Type.IsSidewalk() {
			return fmt.Errorf("bus stop %d: lane %d is not a vehicle lane", s.ID, s.Lane)
		}
		sw, ok := m.lanes[s.Sidewalk.Lane]
		if !ok || !sw.Type.IsSidewalk() {
			return fmt.Errorf("bus stop %d: %v is not on a sidewalk", s.ID, s.Sidewalk)
		}
	}
	for _, id := range m.BusRouteIDs() {
		r := m.routes[id]
		if len(r.Stops) < 2 {
			return fmt.Errorf("bus route %d: needs at least two stops", r.ID)
		}
		for _, s := range r.Stops {
			if _, ok := m.stops[s]; !ok {
				return fmt.Errorf("bus route %d: unknown stop %d", r.ID, s)
			}
		}
	}
	return nil
}

// Lane returns the lane with id or nil.
func (m *Map) Lane(id LaneID) *Lane { return m.lanes[id] }

// Intersection returns the intersection with id or nil.
func (m *Map) Intersection(id IntersectionID) *Intersection { return m.intersections[id] }

// Turn returns the turn with id or nil.
func (m *Map) Turn(id TurnID) *Turn { return m.turns[id] }

// BusStop returns the stop with id or nil.
func (m *Map) BusStop(id BusStopID) *BusStop { return m.stops[id] }

// BusRoute returns the route with id or nil.
func (m *Map) BusRoute(id BusRouteID) *BusRoute { return m.routes[id] }

// BusRouteByName resolves a route name.
func (m *Map) BusRouteByName(name string) (BusRouteID, bool) {
	id, ok := m.routesByName[name]
	return id, ok
}

// Conflicts returns every turn conflicting with t, t itself included.
func (m *Map) Conflicts(t TurnID) []TurnID { return m.conflicts[t] }

// TurnsConflict reports whether two turns may not be in flight together.
func (m *Map) TurnsConflict(a, b TurnID) bool {
	for _, c := range m.conflicts[a] {
		if c == b {
			return true
		}
	}
	return false
}

// TurnBetween returns the turn from src to dst, if one exists.
func (m *Map) TurnBetween(src, dst LaneID) (TurnID, bool) {
	l := m.lanes[src]
	if l == nil {
		return TurnID{}, false
	}
	id := TurnID{Parent: l.Dst, Src: src, Dst: dst}
	_, ok := m.turns[id]
	return id, ok
}

// SidewalkAlong returns the lowest-id sidewalk joining the same two
// intersections as lane, in either direction, and the sidewalk position next
// to the end of lane.
func (m *Map) SidewalkAlong(lane LaneID) (Position, bool) {
	l := m.lanes[lane]
	if l == nil {
		return Position{}, false
	}
	for _, id := range m.LaneIDs() {
		sw := m.lanes[id]
		if !sw.Type.IsSidewalk() {
			continue
		}
		if sw.Src == l.Src && sw.Dst == l.Dst {
			return Position{Lane: id, Dist: sw.Length}, true
		}
		if sw.Src == l.Dst && sw.Dst == l.Src {
			return Position{Lane: id}, true
		}
	}
	return Position{}, false
}

// LaneIDs returns all lane ids in ascending order.
func (m *Map) LaneIDs() []LaneID { return sortedKeys(m.lanes) }

// IntersectionIDs returns all intersection ids in ascending order.
func (m *Map) IntersectionIDs() []IntersectionID { return sortedKeys(m.intersections) }

// BusStopIDs returns all bus stop ids in ascending order.
func (m *Map) BusStopIDs() []BusStopID { return sortedKeys(m.stops) }

// BusRouteIDs returns all bus route ids in ascending order.
func (m *Map) BusRouteIDs() []BusRouteID { return sortedKeys(m.routes) }

func sortedKeys[K ~int, V any](in map[K]V) []K {
	out := make([]K, 0, len(in))
	for k := range in {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
