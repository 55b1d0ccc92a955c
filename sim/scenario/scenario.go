// Package scenario loads, generates and applies the people, buses and
// capacity zones that populate a simulation.
package scenario

import (
	"bytes"
	"fmt"
	"math"
	"os"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/traffic-sim/traffic-sim/sim"
	"github.com/traffic-sim/traffic-sim/sim/network"
)

// File is the on-disk YAML layout of a scenario. Times are in seconds and
// distances in meters.
type File struct {
	Name string `yaml:"name,omitempty"`
	Seed int64  `yaml:"seed,omitempty"` // generator seed, informational
	// SeedParkedFraction fills this fraction of every lane's parking with
	// unowned parked cars before anyone departs.
	SeedParkedFraction float64      `yaml:"seed_parked_fraction,omitempty"`
	Zones              []ZoneSpec   `yaml:"zones,omitempty"`
	People             []PersonSpec `yaml:"people"`
	Buses              []BusSpec    `yaml:"buses,omitempty"`
}

// ZoneSpec is the YAML form of a capacity zone.
type ZoneSpec struct {
	ID       int    `yaml:"id"`
	Name     string `yaml:"name,omitempty"`
	Lanes    []int  `yaml:"lanes"`
	Capacity int    `yaml:"capacity"`
}

// PersonSpec is the YAML form of a person.
type PersonSpec struct {
	ID          string               `yaml:"id,omitempty"` // label for error messages
	Home        network.PositionSpec `yaml:"home"`
	CarParkedAt int                  `yaml:"car_parked_at,omitempty"`
	Trips       []TripSpec           `yaml:"trips"`
}

// TripSpec is the YAML form of a trip.
type TripSpec struct {
	DepartS float64               `yaml:"depart_s"`
	Start   *network.PositionSpec `yaml:"start,omitempty"`
	Legs    []LegSpec             `yaml:"legs"`
}

// LegSpec is the YAML form of a leg. Which fields apply depends on Kind.
type LegSpec struct {
	Kind    string                `yaml:"kind"`
	To      *network.PositionSpec `yaml:"to,omitempty"`      // walk
	Vehicle string                `yaml:"vehicle,omitempty"` // drive: car or bike
	From    *network.PositionSpec `yaml:"from,omitempty"`    // drive without a parked vehicle
	Dest    int                   `yaml:"dest,omitempty"`    // drive
	Route   string                `yaml:"route,omitempty"`   // ride_bus: route name
	Board   int                   `yaml:"board,omitempty"`
	Alight  int                   `yaml:"alight,omitempty"`
}

// BusSpec is the YAML form of one bus run.
type BusSpec struct {
	Route   string  `yaml:"route"`
	DepartS float64 `yaml:"depart_s"`
}

// Load reads a YAML scenario file. Unknown keys are errors.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML scenario data with strict field checking.
func Parse(data []byte) (*File, error) {
	var f File
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&f); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	if f.SeedParkedFraction < 0 || f.SeedParkedFraction > 1 {
		return nil, fmt.Errorf("seed_parked_fraction must be in [0,1], got %v", f.SeedParkedFraction)
	}
	return &f, nil
}

// Save writes f to path as YAML.
func (f *File) Save(path string) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("encoding scenario: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing scenario: %w", err)
	}
	return nil
}

// Apply seeds s with the scenario: zones first, then every person's parked
// car, then the unowned parked cars, then trips and buses.
func (f *File) Apply(s *sim.Simulator) error {
	m := s.Network()
	for _, z := range f.Zones {
		lanes := lo.Map(z.Lanes, func(l int, _ int) network.LaneID { return network.LaneID(l) })
		if err := s.AddZone(sim.Zone{ID: z.ID, Name: z.Name, Lanes: lanes, Capacity: z.Capacity}); err != nil {
			return err
		}
	}

	specs := make([]sim.PersonSpec, len(f.People))
	for i, p := range f.People {
		spec, err := p.build(m)
		if err != nil {
			return fmt.Errorf("person %s: %w", p.label(i), err)
		}
		specs[i] = spec
	}
	// Owned parked cars go first so seeding never takes their spots.
	order := append(
		lo.Filter(lo.Range(len(specs)), func(i int, _ int) bool { return specs[i].ParkedCar != 0 }),
		lo.Filter(lo.Range(len(specs)), func(i int, _ int) bool { return specs[i].ParkedCar == 0 })...,
	)
	seeded := false
	for _, i := range order {
		if specs[i].ParkedCar == 0 && !seeded {
			seedParked(s, f.SeedParkedFraction)
			seeded = true
		}
		if _, err := s.AddPerson(specs[i]); err != nil {
			return fmt.Errorf("person %s: %w", f.People[i].label(i), err)
		}
	}
	if !seeded {
		seedParked(s, f.SeedParkedFraction)
	}

	for i, b := range f.Buses {
		route, ok := m.BusRouteByName(b.Route)
		if !ok {
			return fmt.Errorf("bus %d: unknown route %q", i, b.Route)
		}
		if _, err := s.AddBus(route, network.Ticks(b.DepartS)); err != nil {
			return fmt.Errorf("bus %d: %w", i, err)
		}
	}
	logrus.Infof("Scenario %q: %d people, %d buses, %d zones", f.Name, len(f.People), len(f.Buses), len(f.Zones))
	return nil
}

// seedParked parks unowned cars until fraction of each lane's spots are taken.
func seedParked(s *sim.Simulator, fraction float64) {
	if fraction <= 0 {
		return
	}
	m := s.Network()
	total := 0
	for _, id := range m.LaneIDs() {
		n := int(math.Floor(fraction * float64(m.Lane(id).ParkingSpots)))
		for k := 0; k < n; k++ {
			if _, err := s.SeedParkedCar(id); err != nil {
				break
			}
			total++
		}
	}
	logrus.Infof("Seeded %d parked cars", total)
}

func (p PersonSpec) label(i int) string {
	if p.ID != "" {
		return p.ID
	}
	return fmt.Sprintf("#%d", i)
}

func (p PersonSpec) build(m *network.Map) (sim.PersonSpec, error) {
	spec := sim.PersonSpec{Home: p.Home.Position(), ParkedCar: network.LaneID(p.CarParkedAt)}
	for n, t := range p.Trips {
		ts := sim.TripSpec{Depart: network.Ticks(t.DepartS)}
		if t.Start != nil {
			start := t.Start.Position()
			ts.Start = &start
		}
		for k, l := range t.Legs {
			leg, err := l.build(m)
			if err != nil {
				return sim.PersonSpec{}, fmt.Errorf("trip %d leg %d: %w", n, k, err)
			}
			ts.Legs = append(ts.Legs, leg)
		}
		spec.Trips = append(spec.Trips, ts)
	}
	return spec, nil
}

func (l LegSpec) build(m *network.Map) (sim.Leg, error) {
	leg := sim.Leg{
		Kind:    sim.LegKind(l.Kind),
		Vehicle: sim.VehicleKind(l.Vehicle),
		Dest:    network.LaneID(l.Dest),
		Board:   network.BusStopID(l.Board),
		Alight:  network.BusStopID(l.Alight),
	}
	if l.To != nil {
		leg.To = l.To.Position()
	}
	if l.From != nil {
		leg.From = l.From.Position()
	}
	switch leg.Kind {
	case sim.LegWalk:
		if l.To == nil {
			return sim.Leg{}, fmt.Errorf("walk leg needs to")
		}
	case sim.LegRideBus:
		route, ok := m.BusRouteByName(l.Route)
		if !ok {
			return sim.Leg{}, fmt.Errorf("unknown route %q", l.Route)
		}
		leg.Route = route
	}
	return leg, nil
}
