package scenario

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/traffic-sim/traffic-sim/sim"
	"github.com/traffic-sim/traffic-sim/sim/network"
)

// maxPlaceAttempts bounds how many destinations are drawn for one person
// before the person is dropped.
const maxPlaceAttempts = 20

// GenConfig controls Generate. Shares are relative weights and need not sum
// to one.
type GenConfig struct {
	Seed          int64
	People        int
	DepartWindowS float64 // departures are uniform in [0, DepartWindowS)

	DriveShare float64
	BikeShare  float64
	BusShare   float64
	WalkShare  float64

	// ParkedCarFraction of drivers start with their car parked on a lane
	// with parking instead of appearing on the road.
	ParkedCarFraction float64
	// SeedParkedFraction is copied to the scenario; see File.
	SeedParkedFraction float64

	BusesPerRoute int
	BusHeadwayS   float64
}

// DefaultGenConfig returns a mixed-mode config for a small town.
func DefaultGenConfig() GenConfig {
	return GenConfig{
		Seed:              42,
		People:            50,
		DepartWindowS:     300,
		DriveShare:        0.5,
		BikeShare:         0.1,
		BusShare:          0.2,
		WalkShare:         0.2,
		ParkedCarFraction: 0.5,
		BusesPerRoute:     2,
		BusHeadwayS:       120,
	}
}

// Validate reports the first out-of-range field.
func (c GenConfig) Validate() error {
	if c.People < 0 {
		return fmt.Errorf("people must be >= 0, got %d", c.People)
	}
	if c.DepartWindowS < 0 || math.IsNaN(c.DepartWindowS) {
		return fmt.Errorf("depart window must be >= 0, got %v", c.DepartWindowS)
	}
	shares := []float64{c.DriveShare, c.BikeShare, c.BusShare, c.WalkShare}
	if lo.SomeBy(shares, func(v float64) bool { return v < 0 || math.IsNaN(v) }) {
		return fmt.Errorf("mode shares must be >= 0, got %v", shares)
	}
	if c.People > 0 && lo.Sum(shares) == 0 {
		return fmt.Errorf("at least one mode share must be positive")
	}
	if c.ParkedCarFraction < 0 || c.ParkedCarFraction > 1 {
		return fmt.Errorf("parked car fraction must be in [0,1], got %v", c.ParkedCarFraction)
	}
	if c.SeedParkedFraction < 0 || c.SeedParkedFraction > 1 {
		return fmt.Errorf("seed parked fraction must be in [0,1], got %v", c.SeedParkedFraction)
	}
	if c.BusesPerRoute < 0 || c.BusHeadwayS < 0 {
		return fmt.Errorf("buses per route and headway must be >= 0")
	}
	return nil
}

type mode string

const (
	modeDrive mode = "drive"
	modeBike  mode = "bike"
	modeBus   mode = "bus"
	modeWalk  mode = "walk"
)

// generator holds the per-map lookups Generate draws from.
type generator struct {
	cfg       GenConfig
	net       *network.Map
	pf        *network.Pathfinder
	rng       *PartitionedRNG
	sidewalks []network.LaneID
	carLanes  []network.LaneID
	bikeLanes []network.LaneID
	parkLanes []network.LaneID
	parked    map[network.LaneID]int // owned cars placed per lane
	routes    []network.BusRouteID
}

// Generate builds a random scenario on m. The same config and map always
// produce the same scenario. People whose chosen mode cannot reach any
// destination fall back to walking.
func Generate(m *network.Map, cfg GenConfig) (*File, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("generating scenario: %w", err)
	}
	g := &generator{cfg: cfg, net: m, pf: network.NewPathfinder(m), rng: NewPartitionedRNG(cfg.Seed),
		parked: make(map[network.LaneID]int)}
	for _, id := range m.LaneIDs() {
		l := m.Lane(id)
		if l.Type.IsSidewalk() {
			g.sidewalks = append(g.sidewalks, id)
			continue
		}
		if network.ConstraintCar.CanUse(l.Type) {
			g.carLanes = append(g.carLanes, id)
			if l.ParkingSpots > 0 {
				g.parkLanes = append(g.parkLanes, id)
			}
		}
		if network.ConstraintBike.CanUse(l.Type) {
			g.bikeLanes = append(g.bikeLanes, id)
		}
	}
	g.routes = lo.Filter(m.BusRouteIDs(), func(id network.BusRouteID, _ int) bool {
		return len(m.BusRoute(id).Stops) >= 2
	})
	if len(g.sidewalks) == 0 && cfg.People > 0 {
		return nil, fmt.Errorf("generating scenario: map %s has no sidewalks", m.Name)
	}

	f := &File{
		Name:               fmt.Sprintf("generated-%s-%d", m.Name, cfg.Seed),
		Seed:               cfg.Seed,
		SeedParkedFraction: cfg.SeedParkedFraction,
	}
	counts := map[mode]int{}
	for i := 0; i < cfg.People; i++ {
		p, md, ok := g.person(i)
		if !ok {
			logrus.Warnf("Generate: person %d has no reachable destination, skipping", i)
			continue
		}
		counts[md]++
		f.People = append(f.People, p)
	}
	if cfg.BusesPerRoute > 0 {
		for _, id := range g.routes {
			for k := 0; k < cfg.BusesPerRoute; k++ {
				f.Buses = append(f.Buses, BusSpec{Route: m.BusRoute(id).Name, DepartS: float64(k) * cfg.BusHeadwayS})
			}
		}
	}
	logrus.Infof("Generated %d people (drive %d, bike %d, bus %d, walk %d) and %d buses",
		len(f.People), counts[modeDrive], counts[modeBike], counts[modeBus], counts[modeWalk], len(f.Buses))
	return f, nil
}

func (g *generator) person(i int) (PersonSpec, mode, bool) {
	homes := g.rng.ForSubsystem(SubsystemHomes)
	home := g.randomSidewalkPos(homes)
	depart := 0.0
	if g.cfg.DepartWindowS > 0 {
		// Departures are whole ticks so Save/Load round-trips them exactly.
		depart = math.Floor(g.rng.ForSubsystem(SubsystemDeparts).Float64()*g.cfg.DepartWindowS*network.TicksPerSecond) / network.TicksPerSecond
	}
	md := g.pickMode()
	p := PersonSpec{ID: fmt.Sprintf("p%d", i+1), Home: home}

	for attempt := 0; attempt < maxPlaceAttempts; attempt++ {
		var legs []LegSpec
		var ok bool
		switch md {
		case modeDrive:
			legs, ok = g.driveLegs(&p, sim.VehicleCar)
		case modeBike:
			legs, ok = g.driveLegs(&p, sim.VehicleBike)
		case modeBus:
			legs, ok = g.busLegs(home)
		default:
			legs, ok = g.walkLegs(home)
		}
		if ok {
			p.Trips = []TripSpec{{DepartS: depart, Legs: legs}}
			return p, md, true
		}
		if attempt == maxPlaceAttempts/2 && md != modeWalk {
			logrus.Debugf("Generate: person %d falls back from %s to walk", i, md)
			md = modeWalk
			if p.CarParkedAt != 0 {
				g.parked[network.LaneID(p.CarParkedAt)]--
				p.CarParkedAt = 0
			}
		}
	}
	return PersonSpec{}, "", false
}

// pickMode draws a mode by the configured weights.
func (g *generator) pickMode() mode {
	rng := g.rng.ForSubsystem(SubsystemModes)
	weights := []struct {
		m mode
		w float64
	}{
		{modeDrive, g.cfg.DriveShare},
		{modeBike, g.cfg.BikeShare},
		{modeBus, g.cfg.BusShare},
		{modeWalk, g.cfg.WalkShare},
	}
	total := 0.0
	for _, w := range weights {
		total += w.w
	}
	x := rng.Float64() * total
	for _, w := range weights {
		if x < w.w {
			return w.m
		}
		x -= w.w
	}
	return modeWalk
}

func (g *generator) randomSidewalkPos(rng *rand.Rand) network.PositionSpec {
	id := g.sidewalks[rng.Intn(len(g.sidewalks))]
	length := g.net.Lane(id).Length.Meters()
	return network.PositionSpec{Lane: int(id), DistM: math.Floor(rng.Float64() * length)}
}

func (g *generator) reachable(from, to network.Position, c network.PathConstraints) bool {
	_, err := g.pf.FindPath(network.PathRequest{Start: from, End: to, Constraints: c})
	return err == nil
}

// driveLegs drives to a random lane, parks when the lane can take the
// vehicle and walks on from the sidewalk beside it.
func (g *generator) driveLegs(p *PersonSpec, kind sim.VehicleKind) ([]LegSpec, bool) {
	places := g.rng.ForSubsystem(SubsystemPlaces)
	lanes, c := g.carLanes, network.ConstraintCar
	if kind == sim.VehicleBike {
		lanes, c = g.bikeLanes, network.ConstraintBike
	}
	if len(lanes) == 0 {
		return nil, false
	}

	var from network.Position
	parked := 0
	free := lo.Filter(g.parkLanes, func(id network.LaneID, _ int) bool {
		return g.parked[id] < g.net.Lane(id).ParkingSpots
	})
	if kind == sim.VehicleCar && p.CarParkedAt != 0 {
		// A retry keeps the spot already claimed.
		parked = p.CarParkedAt
		from = network.Position{Lane: network.LaneID(parked)}
	} else if kind == sim.VehicleCar && len(free) > 0 &&
		g.rng.ForSubsystem(SubsystemParking).Float64() < g.cfg.ParkedCarFraction {
		parked = int(free[places.Intn(len(free))])
		from = network.Position{Lane: network.LaneID(parked)}
		g.parked[network.LaneID(parked)]++
	} else {
		from = network.Position{Lane: lanes[places.Intn(len(lanes))]}
	}
	dest := lanes[places.Intn(len(lanes))]
	p.CarParkedAt = parked
	if !g.reachable(from, network.Position{Lane: dest, Dist: g.net.Lane(dest).Length}, c) {
		return nil, false
	}

	leg := LegSpec{Kind: string(sim.LegDrive), Vehicle: string(kind), Dest: int(dest)}
	if parked == 0 {
		leg.From = &network.PositionSpec{Lane: int(from.Lane), DistM: from.Dist.Meters()}
	}
	legs := []LegSpec{leg}
	if kind == sim.VehicleBike || g.net.Lane(dest).ParkingSpots > 0 {
		legs = append(legs, LegSpec{Kind: string(sim.LegPark)})
	}
	if sw, ok := g.net.SidewalkAlong(dest); ok {
		to := g.randomSidewalkPos(places)
		if g.reachable(sw, to.Position(), network.ConstraintPedestrian) {
			legs = append(legs, LegSpec{Kind: string(sim.LegWalk), To: &to})
		}
	}
	return legs, true
}

// busLegs walks to a stop, rides forward along the route and walks to the
// destination.
func (g *generator) busLegs(home network.PositionSpec) ([]LegSpec, bool) {
	if len(g.routes) == 0 || g.cfg.BusesPerRoute == 0 {
		return nil, false
	}
	places := g.rng.ForSubsystem(SubsystemPlaces)
	route := g.net.BusRoute(g.routes[places.Intn(len(g.routes))])
	bi := places.Intn(len(route.Stops) - 1)
	ai := bi + 1 + places.Intn(len(route.Stops)-bi-1)
	board, alight := g.net.BusStop(route.Stops[bi]), g.net.BusStop(route.Stops[ai])
	to := g.randomSidewalkPos(places)
	if !g.reachable(home.Position(), board.Sidewalk, network.ConstraintPedestrian) ||
		!g.reachable(alight.Sidewalk, to.Position(), network.ConstraintPedestrian) {
		return nil, false
	}
	boardAt := specOf(board.Sidewalk)
	return []LegSpec{
		{Kind: string(sim.LegWalk), To: &boardAt},
		{Kind: string(sim.LegRideBus), Route: route.Name, Board: int(board.ID), Alight: int(alight.ID)},
		{Kind: string(sim.LegWalk), To: &to},
	}, true
}

func (g *generator) walkLegs(home network.PositionSpec) ([]LegSpec, bool) {
	to := g.randomSidewalkPos(g.rng.ForSubsystem(SubsystemPlaces))
	if !g.reachable(home.Position(), to.Position(), network.ConstraintPedestrian) {
		return nil, false
	}
	return []LegSpec{{Kind: string(sim.LegWalk), To: &to}}, true
}

func specOf(p network.Position) network.PositionSpec {
	return network.PositionSpec{Lane: int(p.Lane), DistM: p.Dist.Meters()}
}
