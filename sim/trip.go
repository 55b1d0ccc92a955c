package sim

import (
	"fmt"
	"sort"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/traffic-sim/traffic-sim/sim/network"
	"github.com/traffic-sim/traffic-sim/sim/trace"
)

// LegKind is the mode of one leg of a trip.
type LegKind string

const (
	LegWalk    LegKind = "walk"
	LegDrive   LegKind = "drive"
	LegPark    LegKind = "park"
	LegRideBus LegKind = "ride_bus"
)

// Leg is one single-mode segment of a trip.
//
// A drive leg ends at the end of Dest. It starts from the person's parked
// vehicle of that kind if there is one, otherwise a new vehicle appears at
// From. A park leg parks the vehicle of the preceding drive leg on its Dest.
type Leg struct {
	Kind    LegKind            `json:"kind"`
	To      network.Position   `json:"to"`
	Vehicle VehicleKind        `json:"vehicle,omitempty"`
	From    network.Position   `json:"from"`
	Dest    network.LaneID     `json:"dest,omitempty"`
	Route   network.BusRouteID `json:"route,omitempty"`
	Board   network.BusStopID  `json:"board,omitempty"`
	Alight  network.BusStopID  `json:"alight,omitempty"`
}

// TripState is the lifecycle state of a trip.
type TripState string

const (
	TripScheduled TripState = "scheduled"
	TripWaiting   TripState = "waiting" // due while its person was busy
	TripActive    TripState = "active"
	TripFinished  TripState = "finished"
	TripAborted   TripState = "aborted"
)

// Trip is an ordered list of legs for one person.
type Trip struct {
	ID          TripID            `json:"id"`
	Person      PersonID          `json:"person"`
	Depart      int64             `json:"depart"`
	Start       *network.Position `json:"start,omitempty"`
	Legs        []Leg             `json:"legs"`
	Cursor      int               `json:"cursor"`
	State       TripState         `json:"state"`
	StartedAt   int64             `json:"started_at,omitempty"`
	EndedAt     int64             `json:"ended_at,omitempty"`
	Vehicle     AgentID           `json:"vehicle"` // vehicle driven by the current leg
	Zones       []int             `json:"zones,omitempty"`
	ParkRetries int               `json:"park_retries,omitempty"`
	ZoneRetries int               `json:"zone_retries,omitempty"`
	Pending     []Handle          `json:"pending,omitempty"`
	FailReason  string            `json:"fail_reason,omitempty"`
}

// Person is a traveller: one pedestrian plus at most one parked car and one
// parked bike.
type Person struct {
	ID      PersonID     `json:"id"`
	Ped     PedestrianID `json:"ped"`
	Car     CarID        `json:"car,omitempty"`
	Bike    CarID        `json:"bike,omitempty"`
	Trips   []TripID     `json:"trips"`
	Active  TripID       `json:"active,omitempty"`
	Waiting []TripID     `json:"waiting,omitempty"`
}

func (p *Person) vehicleFor(kind VehicleKind) CarID {
	if kind == VehicleBike {
		return p.Bike
	}
	return p.Car
}

func (p *Person) setVehicle(kind VehicleKind, id CarID) {
	if kind == VehicleBike {
		p.Bike = id
		return
	}
	p.Car = id
}

func (p *Person) dropVehicle(id CarID) {
	if p.Car == id {
		p.Car = 0
	}
	if p.Bike == id {
		p.Bike = 0
	}
}

// PersonSpec seeds a person.
type PersonSpec struct {
	Home network.Position
	// ParkedCar, when non-zero, is a lane on which the person's car starts
	// parked.
	ParkedCar network.LaneID
	Trips     []TripSpec
}

// TripSpec seeds one trip of a person.
type TripSpec struct {
	Depart int64
	Start  *network.Position
	Legs   []Leg
}

// AddPerson validates spec, creates the person and schedules its trips.
func (s *Simulator) AddPerson(spec PersonSpec) (PersonID, error) {
	if err := s.validateSidewalk(spec.Home); err != nil {
		return 0, fmt.Errorf("adding person: home: %w", err)
	}
	if spec.ParkedCar != 0 {
		if err := s.validateCarLane(spec.ParkedCar); err != nil {
			return 0, fmt.Errorf("adding person: parked car: %w", err)
		}
	}
	for i, ts := range spec.Trips {
		if err := s.validateTrip(ts); err != nil {
			return 0, fmt.Errorf("adding person: trip %d: %w", i, err)
		}
	}

	s.ids.Person++
	person := &Person{ID: s.ids.Person, Ped: s.ids.nextPed()}
	if spec.ParkedCar != 0 {
		car := s.newCar(person.ID, VehicleCar)
		spot, ok := s.parking.TryAcquire(spec.ParkedCar, car.ID)
		if !ok {
			delete(s.cars, car.ID)
			return 0, fmt.Errorf("adding person: no free spot on lane %d for the parked car", spec.ParkedCar)
		}
		car.Vehicle.State = CarParked
		car.Vehicle.Lane = spec.ParkedCar
		car.Vehicle.Spot = spot
		person.Car = car.ID
	}
	s.people[person.ID] = person
	s.peds[person.Ped] = &Pedestrian{ID: person.Ped, Person: person.ID, State: PedIdle, Pos: spec.Home}

	for _, ts := range spec.Trips {
		trip := &Trip{
			ID:     s.ids.nextTrip(),
			Person: person.ID,
			Depart: ts.Depart,
			Start:  ts.Start,
			Legs:   append([]Leg(nil), ts.Legs...),
			State:  TripScheduled,
		}
		s.trips[trip.ID] = trip
		person.Trips = append(person.Trips, trip.ID)
		s.schedule(Command{Time: ts.Depart, Kind: CmdStartTrip, Agent: PedAgent(person.Ped), Trip: trip.ID})
	}
	return person.ID, nil
}

func (s *Simulator) validateSidewalk(p network.Position) error {
	l := s.net.Lane(p.Lane)
	if l == nil {
		return fmt.Errorf("unknown lane %d", p.Lane)
	}
	if !l.Type.IsSidewalk() {
		return fmt.Errorf("lane %d is %s, not a sidewalk", p.Lane, l.Type)
	}
	if p.Dist < 0 || p.Dist > l.Length {
		return fmt.Errorf("position %v is off the lane", p)
	}
	return nil
}

func (s *Simulator) validateTrip(ts TripSpec) error {
	if ts.Depart < s.sched.Now() {
		return fmt.Errorf("depart %d is before now %d", ts.Depart, s.sched.Now())
	}
	if len(ts.Legs) == 0 {
		return fmt.Errorf("no legs")
	}
	if ts.Start != nil {
		if err := s.validateSidewalk(*ts.Start); err != nil {
			return fmt.Errorf("start: %w", err)
		}
	}
	for i, leg := range ts.Legs {
		if err := s.validateLeg(leg); err != nil {
			return fmt.Errorf("leg %d (%s): %w", i, leg.Kind, err)
		}
		if leg.Kind == LegPark && (i == 0 || ts.Legs[i-1].Kind != LegDrive) {
			return fmt.Errorf("leg %d: park must follow a drive leg", i)
		}
	}
	return nil
}

func (s *Simulator) validateLeg(leg Leg) error {
	switch leg.Kind {
	case LegWalk:
		return s.validateSidewalk(leg.To)
	case LegDrive:
		if leg.Vehicle != VehicleCar && leg.Vehicle != VehicleBike {
			return fmt.Errorf("vehicle must be car or bike, got %q", leg.Vehicle)
		}
		l := s.net.Lane(leg.Dest)
		if l == nil || l.Type.IsSidewalk() {
			return fmt.Errorf("destination %d is not a vehicle lane", leg.Dest)
		}
		return nil
	case LegPark:
		return nil
	case LegRideBus:
		r := s.net.BusRoute(leg.Route)
		if r == nil {
			return fmt.Errorf("unknown route %d", leg.Route)
		}
		board := lo.IndexOf(r.Stops, leg.Board)
		alight := lo.IndexOf(r.Stops, leg.Alight)
		if board < 0 || alight < 0 {
			return fmt.Errorf("stops %d and %d must both be on route %s", leg.Board, leg.Alight, r.Name)
		}
		if board >= alight {
			return fmt.Errorf("stop %d does not come before stop %d on route %s", leg.Board, leg.Alight, r.Name)
		}
		return nil
	default:
		return fmt.Errorf("unknown leg kind")
	}
}

func (s *Simulator) handleStartTrip(cmd Command) {
	trip := s.trips[cmd.Trip]
	person := s.people[trip.Person]
	if person.Active != 0 {
		trip.State = TripWaiting
		person.Waiting = append(person.Waiting, trip.ID)
		logrus.Debugf("[tick %07d] trip%d waits for trip%d of person%d", s.sched.Now(), trip.ID, person.Active, person.ID)
		return
	}
	now := s.sched.Now()
	person.Active = trip.ID
	trip.State = TripActive
	trip.StartedAt = now
	ped := s.peds[person.Ped]
	if trip.Start != nil {
		ped.Pos = *trip.Start
	}
	s.metrics.TripsStarted++
	s.emit(trace.Record{Kind: trace.TripStarted, Agent: PedAgent(ped.ID).String(), Trip: int(trip.ID), Lane: int(ped.Pos.Lane)})
	s.schedule(Command{Time: now, Kind: CmdStartLeg, Agent: PedAgent(ped.ID), Trip: trip.ID})
}

func (s *Simulator) handleStartLeg(cmd Command) {
	trip := s.trips[cmd.Trip]
	leg := trip.Legs[trip.Cursor]
	s.emit(trace.Record{Kind: trace.LegStarted, Agent: cmd.Agent.String(), Trip: int(trip.ID), Detail: string(leg.Kind)})
	switch leg.Kind {
	case LegWalk:
		s.startWalk(trip, leg.To)
	case LegDrive:
		s.startDrive(trip, leg)
	case LegPark:
		s.attemptPark(trip)
	case LegRideBus:
		s.startRide(trip, leg)
	default:
		invariantf("trip%d has unknown leg kind %q", trip.ID, leg.Kind)
	}
}

// finishLeg closes the current leg and starts the next one, or finishes the
// trip after the last leg.
func (s *Simulator) finishLeg(trip *Trip) {
	now := s.sched.Now()
	person := s.people[trip.Person]
	ped := PedAgent(person.Ped)
	s.emit(trace.Record{Kind: trace.LegFinished, Agent: ped.String(), Trip: int(trip.ID), Detail: string(trip.Legs[trip.Cursor].Kind)})
	trip.Cursor++
	if trip.Cursor < len(trip.Legs) {
		s.schedule(Command{Time: now, Kind: CmdStartLeg, Agent: ped, Trip: trip.ID})
		return
	}
	trip.State = TripFinished
	trip.EndedAt = now
	s.metrics.TripsFinished++
	s.metrics.TripDurations[trip.ID] = now - trip.StartedAt
	s.emit(trace.Record{Kind: trace.TripFinished, Agent: ped.String(), Trip: int(trip.ID)})
	s.endTrip(person)
}

// abortTrip releases everything the trip holds and records exactly one
// failure for it. stalled marks a trip that gave up after exhausting retries.
func (s *Simulator) abortTrip(trip *Trip, reason string, stalled bool) {
	if trip.State != TripActive {
		invariantf("aborting trip%d while %s", trip.ID, trip.State)
	}
	now := s.sched.Now()
	person := s.people[trip.Person]
	ped := s.peds[person.Ped]
	agent := PedAgent(ped.ID)
	if stalled {
		s.metrics.TripsStalled++
		s.emit(trace.Record{Kind: trace.TripStalled, Agent: agent.String(), Trip: int(trip.ID), Detail: reason})
	}

	for _, h := range trip.Pending {
		s.sched.Cancel(h)
	}
	trip.Pending = nil

	s.exitZones(trip)
	if !trip.Vehicle.IsZero() {
		car := s.cars[CarID(trip.Vehicle.N)]
		s.releaseVehicle(trip.Vehicle, &car.Vehicle)
		car.Vehicle.State = CarDone
		car.Trip = 0
		person.dropVehicle(car.ID)
		trip.Vehicle = AgentID{}
	}

	switch ped.State {
	case PedRidingBus:
		if ped.Bus != 0 {
			bus := s.buses[ped.Bus]
			bus.Riders = lo.Without(bus.Riders, person.ID)
			s.seatPool.Release(int(bus.ID))
		}
	case PedWaitingForBus:
		s.waiting[ped.Stop] = lo.Without(s.waiting[ped.Stop], person.ID)
		if len(s.waiting[ped.Stop]) == 0 {
			delete(s.waiting, ped.Stop)
		}
	case PedWalking:
		ped.Pos = ped.positionAt(s.net, now, s.p.walkSpeed)
	}
	ped.State = PedIdle
	ped.Path = nil
	ped.StartedAt = 0
	ped.Bus = 0
	ped.Stop = 0

	trip.State = TripAborted
	trip.EndedAt = now
	trip.FailReason = reason
	s.metrics.TripsFailed++
	logrus.Warnf("[tick %07d] trip%d of person%d failed: %s", now, trip.ID, person.ID, reason)
	s.emit(trace.Record{Kind: trace.TripFailed, Agent: agent.String(), Trip: int(trip.ID), Detail: reason})
	s.endTrip(person)
}

// releaseVehicle takes a vehicle off the network wherever it is: on a lane,
// crossing into one, or waiting at an intersection.
func (s *Simulator) releaseVehicle(agent AgentID, v *Vehicle) {
	switch v.State {
	case CarQueued:
		if v.Path != nil && !v.atLastStep() {
			s.arbs[v.Path.Steps[v.Step+1].Turn.Parent].Forget(agent)
		}
		s.removeFromLane(agent, v)
	case CarCrossing:
		s.arbs[v.Turn.Parent].Forget(agent)
		s.removeFromLane(agent, v)
		v.Turn = network.TurnID{}
	}
}

// endTrip frees the person and starts the next trip that came due meanwhile.
func (s *Simulator) endTrip(person *Person) {
	person.Active = 0
	if len(person.Waiting) > 0 {
		next := person.Waiting[0]
		person.Waiting = person.Waiting[1:]
		s.schedule(Command{Time: s.sched.Now(), Kind: CmdStartTrip, Agent: PedAgent(person.Ped), Trip: next})
		return
	}
	for _, id := range person.Trips {
		if st := s.trips[id].State; st != TripFinished && st != TripAborted {
			return
		}
	}
	s.peds[person.Ped].State = PedDone
}

// enterZones acquires every capacity zone the trip's drive path touches, or
// none of them.
func (s *Simulator) enterZones(trip *Trip) bool {
	car := s.cars[CarID(trip.Vehicle.N)]
	lanes := car.Vehicle.Path.Lanes()
	var ids []int
	for _, z := range s.zones {
		if z.touches(lanes) {
			ids = append(ids, z.ID)
		}
	}
	sort.Ints(ids)
	for i, id := range ids {
		if !s.zonePool.TryAcquire(id) {
			for _, held := range ids[:i] {
				s.zonePool.Release(held)
			}
			s.metrics.ZoneDenials++
			return false
		}
	}
	trip.Zones = ids
	for _, id := range ids {
		s.emit(trace.Record{Kind: trace.ZoneEntered, Agent: trip.Vehicle.String(), Trip: int(trip.ID), Detail: s.zoneName(id)})
	}
	return true
}

func (s *Simulator) deferZones(trip *Trip, now int64) {
	trip.ZoneRetries++
	if trip.ZoneRetries > s.p.zoneRetryLimit {
		s.abortTrip(trip, fmt.Sprintf("capacity zones full after %d retries", trip.ZoneRetries-1), false)
		return
	}
	s.schedule(Command{Time: now + s.p.zoneBackoff, Kind: CmdZoneRetry, Agent: trip.Vehicle, Trip: trip.ID})
}

func (s *Simulator) handleZoneRetry(cmd Command) {
	trip := s.trips[cmd.Trip]
	if !s.enterZones(trip) {
		s.deferZones(trip, s.sched.Now())
		return
	}
	s.enterFirstLane(trip.Vehicle)
}

func (s *Simulator) exitZones(trip *Trip) {
	for _, id := range trip.Zones {
		s.zonePool.Release(id)
		s.emit(trace.Record{Kind: trace.ZoneExited, Agent: trip.Vehicle.String(), Trip: int(trip.ID), Detail: s.zoneName(id)})
	}
	trip.Zones = nil
}

func (s *Simulator) zoneName(id int) string {
	for _, z := range s.zones {
		if z.ID == id && z.Name != "" {
			return z.Name
		}
	}
	return fmt.Sprintf("zone%d", id)
}

// AddZone registers a capacity zone. Zones only gate drive legs that start
// after they are added.
func (s *Simulator) AddZone(z Zone) error {
	if z.Capacity < 1 {
		return fmt.Errorf("adding zone %d: capacity must be >= 1, got %d", z.ID, z.Capacity)
	}
	if lo.ContainsBy(s.zones, func(o Zone) bool { return o.ID == z.ID }) {
		return fmt.Errorf("adding zone %d: duplicate id", z.ID)
	}
	for _, l := range z.Lanes {
		if s.net.Lane(l) == nil {
			return fmt.Errorf("adding zone %d: unknown lane %d", z.ID, l)
		}
	}
	s.zones = append(s.zones, z)
	sort.Slice(s.zones, func(i, j int) bool { return s.zones[i].ID < s.zones[j].ID })
	s.zonePool.SetCeiling(z.ID, z.Capacity)
	return nil
}
