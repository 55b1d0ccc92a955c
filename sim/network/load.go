package network

import (
	"bytes"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// TicksPerSecond is the resolution of logical time. One tick is 100ms.
const TicksPerSecond = 10

// Ticks converts seconds to ticks, rounding to the nearest tick.
func Ticks(seconds float64) int64 {
	return int64(math.Round(seconds * TicksPerSecond))
}

// MapFile is the on-disk YAML layout of a Map.
type MapFile struct {
	Name          string             `yaml:"name"`
	TurnLengthM   float64            `yaml:"turn_length_m,omitempty"`
	Intersections []IntersectionSpec `yaml:"intersections"`
	Lanes         []LaneSpec         `yaml:"lanes"`
	BusStops      []BusStopSpec      `yaml:"bus_stops,omitempty"`
	BusRoutes     []BusRouteSpec     `yaml:"bus_routes,omitempty"`
}

// IntersectionSpec is the YAML form of an Intersection.
type IntersectionSpec struct {
	ID      int         `yaml:"id"`
	Control string      `yaml:"control,omitempty"`
	Signal  *SignalSpec `yaml:"signal,omitempty"`
}

// SignalSpec is the YAML form of a SignalPlan.
type SignalSpec struct {
	OffsetS float64     `yaml:"offset_s,omitempty"`
	Stages  []StageSpec `yaml:"stages"`
}

// StageSpec is the YAML form of a Stage.
type StageSpec struct {
	DurationS float64        `yaml:"duration_s"`
	Allow     []MovementSpec `yaml:"allow"`
}

// MovementSpec is the YAML form of a Movement.
type MovementSpec struct {
	From  string   `yaml:"from"`
	Turns []string `yaml:"turns"`
}

// LaneSpec is the YAML form of a Lane.
type LaneSpec struct {
	ID            int     `yaml:"id"`
	Type          string  `yaml:"type"`
	Road          string  `yaml:"road,omitempty"`
	LengthM       float64 `yaml:"length_m"`
	SpeedLimitMPS float64 `yaml:"speed_limit_mps"`
	Src           int     `yaml:"src"`
	Dst           int     `yaml:"dst"`
	SrcSide       string  `yaml:"src_side"`
	DstSide       string  `yaml:"dst_side"`
	ParkingSpots  int     `yaml:"parking_spots,omitempty"`
	Priority      int     `yaml:"priority,omitempty"`
}

// BusStopSpec is the YAML form of a BusStop.
type BusStopSpec struct {
	ID       int          `yaml:"id"`
	Name     string       `yaml:"name,omitempty"`
	Lane     int          `yaml:"lane"`
	Sidewalk PositionSpec `yaml:"sidewalk"`
}

// PositionSpec is the YAML form of a Position.
type PositionSpec struct {
	Lane  int     `yaml:"lane"`
	DistM float64 `yaml:"dist_m"`
}

// Position converts the spec to a Position.
func (p PositionSpec) Position() Position {
	return Position{Lane: LaneID(p.Lane), Dist: Meters(p.DistM)}
}

// BusRouteSpec is the YAML form of a BusRoute.
type BusRouteSpec struct {
	ID    int    `yaml:"id"`
	Name  string `yaml:"name"`
	Stops []int  `yaml:"stops"`
}

// Load reads a YAML map file and returns a finalized Map.
func Load(path string) (*Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading map: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML map data with strict field checking and returns a
// finalized Map.
func Parse(data []byte) (*Map, error) {
	var f MapFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&f); err != nil {
		return nil, fmt.Errorf("parsing map: %w", err)
	}
	return f.Build()
}

// Build converts the file layout into a finalized Map.
func (f *MapFile) Build() (*Map, error) {
	m := NewMap(f.Name)
	if f.TurnLengthM > 0 {
		m.SetTurnLength(Meters(f.TurnLengthM))
	}
	for _, is := range f.Intersections {
		i := Intersection{ID: IntersectionID(is.ID), Control: ControlType(is.Control)}
		if is.Signal != nil {
			plan, err := is.Signal.plan()
			if err != nil {
				return nil, fmt.Errorf("intersection %d: %w", is.ID, err)
			}
			i.Signal = plan
		}
		if err := m.AddIntersection(i); err != nil {
			return nil, err
		}
	}
	for _, ls := range f.Lanes {
		src, err := ParseSide(ls.SrcSide)
		if err != nil {
			return nil, fmt.Errorf("lane %d: src_side: %w", ls.ID, err)
		}
		dst, err := ParseSide(ls.DstSide)
		if err != nil {
			return nil, fmt.Errorf("lane %d: dst_side: %w", ls.ID, err)
		}
		if err := m.AddLane(Lane{
			ID:           LaneID(ls.ID),
			Type:         LaneType(ls.Type),
			Road:         ls.Road,
			Length:       Meters(ls.LengthM),
			SpeedLimit:   MetersPerSecond(ls.SpeedLimitMPS),
			Src:          IntersectionID(ls.Src),
			Dst:          IntersectionID(ls.Dst),
			SrcSide:      src,
			DstSide:      dst,
			ParkingSpots: ls.ParkingSpots,
			Priority:     ls.Priority,
		}); err != nil {
			return nil, err
		}
	}
	for _, ss := range f.BusStops {
		if err := m.AddBusStop(BusStop{
			ID:       BusStopID(ss.ID),
			Name:     ss.Name,
			Lane:     LaneID(ss.Lane),
			Sidewalk: ss.Sidewalk.Position(),
		}); err != nil {
			return nil, err
		}
	}
	for _, rs := range f.BusRoutes {
		stops := make([]BusStopID, len(rs.Stops))
		for i, s := range rs.Stops {
			stops[i] = BusStopID(s)
		}
		if err := m.AddBusRoute(BusRoute{ID: BusRouteID(rs.ID), Name: rs.Name, Stops: stops}); err != nil {
			return nil, err
		}
	}
	if err := m.Finalize(); err != nil {
		return nil, err
	}
	return m, nil
}

var validTurnKinds = map[TurnKind]bool{TurnStraight: true, TurnLeft: true, TurnRight: true, TurnUTurn: true}

func (s *SignalSpec) plan() (*SignalPlan, error) {
	plan := &SignalPlan{Offset: Ticks(s.OffsetS)}
	for n, st := range s.Stages {
		stage := Stage{Duration: Ticks(st.DurationS)}
		for _, mv := range st.Allow {
			side, err := ParseSide(mv.From)
			if err != nil {
				return nil, fmt.Errorf("stage %d: %w", n, err)
			}
			m := Movement{From: side}
			for _, k := range mv.Turns {
				if !validTurnKinds[TurnKind(k)] {
					return nil, fmt.Errorf("stage %d: unknown turn kind %q", n, k)
				}
				m.Turns = append(m.Turns, TurnKind(k))
			}
			stage.Allow = append(stage.Allow, m)
		}
		plan.Stages = append(plan.Stages, stage)
	}
	return plan, nil
}
