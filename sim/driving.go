package sim

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/traffic-sim/traffic-sim/sim/network"
	"github.com/traffic-sim/traffic-sim/sim/trace"
)

// VehicleKind selects dimensions, speed cap, lane constraints and parking.
type VehicleKind string

const (
	VehicleCar  VehicleKind = "car"
	VehicleBike VehicleKind = "bike"
	VehicleBus  VehicleKind = "bus"
)

func (k VehicleKind) constraints() network.PathConstraints {
	switch k {
	case VehicleBike:
		return network.ConstraintBike
	case VehicleBus:
		return network.ConstraintBus
	default:
		return network.ConstraintCar
	}
}

// CarState is the driving state of a vehicle.
//
//	unparked -> queued <-> crossing -> unparked -> parked | done
type CarState string

const (
	CarUnparked CarState = "unparked" // off-lane: about to enter, or looking for parking
	CarQueued   CarState = "queued"
	CarCrossing CarState = "crossing"
	CarParked   CarState = "parked"
	CarDone     CarState = "done"
)

// Vehicle is the driving state shared by cars, bikes and bus vehicles.
type Vehicle struct {
	Kind     VehicleKind      `json:"kind"`
	State    CarState         `json:"state"`
	Length   network.Distance `json:"length"`
	MaxSpeed network.Speed    `json:"max_speed,omitempty"` // 0 = lane speed limit
	Lane     network.LaneID   `json:"lane,omitempty"`      // lane occupied or being entered
	Turn     network.TurnID   `json:"turn"`                // set while crossing
	Path     *network.Path    `json:"path,omitempty"`
	Step     int              `json:"step"`    // index into Path.Steps of the current lane
	Retries  int              `json:"retries"` // deferrals since the last grant
	Spot     SpotID           `json:"spot,omitempty"`
}

// Car is a private vehicle (car or bike) owned by a person, or an unowned
// parked car seeded by a scenario.
type Car struct {
	ID      CarID    `json:"id"`
	Owner   PersonID `json:"owner,omitempty"`
	Trip    TripID   `json:"trip,omitempty"`
	Vehicle Vehicle  `json:"vehicle"`
}

func (v *Vehicle) atLastStep() bool { return v.Step == len(v.Path.Steps)-1 }

func (s *Simulator) vehicle(agent AgentID) *Vehicle {
	switch agent.Kind {
	case AgentCar:
		if c := s.cars[CarID(agent.N)]; c != nil {
			return &c.Vehicle
		}
	case AgentBus:
		if b := s.buses[BusID(agent.N)]; b != nil {
			return &b.Vehicle
		}
	}
	invariantf("no vehicle %v", agent)
	return nil
}

// tripOf returns the trip an agent's commands belong to. Buses belong to none.
func (s *Simulator) tripOf(agent AgentID) TripID {
	if agent.Kind == AgentCar {
		return s.cars[CarID(agent.N)].Trip
	}
	return 0
}

func (s *Simulator) speedOn(v *Vehicle, lane network.LaneID) network.Speed {
	limit := s.net.Lane(lane).SpeedLimit
	if v.MaxSpeed > 0 && v.MaxSpeed < limit {
		return v.MaxSpeed
	}
	return limit
}

func (s *Simulator) parkingFor(kind VehicleKind) ParkingManager {
	if kind == VehicleBike {
		return s.bikeParking
	}
	return s.parking
}

// enterFirstLane puts a vehicle with a fresh path on its first lane, or
// retries after the lane-full backoff.
func (s *Simulator) enterFirstLane(agent AgentID) {
	now := s.sched.Now()
	v := s.vehicle(agent)
	lane := v.Path.Steps[0].Lane
	speed := s.speedOn(v, lane)
	entry := QueueEntry{Agent: agent, Length: v.Length, Speed: speed, Start: v.Path.Start.Dist, EnteredAt: now}
	q := s.queues[lane]
	var err error
	if v.Kind != VehicleBus && !q.HasRoomAt(entry.Start, now) {
		// A vehicle starting mid-lane waits for upstream traffic to pass its start.
		err = fmt.Errorf("lane %d: %w", lane, ErrLaneFull)
	} else {
		err = q.EnqueueAtBack(entry, now)
	}
	if err != nil {
		if !errors.Is(err, ErrLaneFull) {
			panic(err)
		}
		s.metrics.LaneFullRetries++
		if s.deferVehicle(agent, v, "cannot enter "+err.Error()) {
			s.schedule(Command{Time: now + s.p.laneFullBackoff, Kind: CmdStartDriving, Agent: agent, Trip: s.tripOf(agent)})
		}
		return
	}
	v.State = CarQueued
	v.Lane = lane
	v.Retries = 0
	s.emit(trace.Record{Kind: trace.EnteredLane, Agent: agent.String(), Trip: int(s.tripOf(agent)), Lane: int(lane)})
	remaining := s.net.Lane(lane).Length - v.Path.Start.Dist
	s.schedule(Command{Time: now + travelTicks(remaining, speed), Kind: CmdReachLaneEnd, Agent: agent, Trip: s.tripOf(agent)})
}

// deferVehicle counts a retry. It stalls the vehicle's owner and returns
// false once the retry budget is spent.
func (s *Simulator) deferVehicle(agent AgentID, v *Vehicle, reason string) bool {
	v.Retries++
	if v.Retries <= s.p.maxTurnRetries {
		return true
	}
	msg := fmt.Sprintf("%v stalled after %d retries: %s", agent, v.Retries-1, reason)
	switch agent.Kind {
	case AgentCar:
		s.abortTrip(s.trips[s.cars[CarID(agent.N)].Trip], msg, true)
	case AgentBus:
		s.abortBus(s.buses[BusID(agent.N)], msg)
	}
	return false
}

func (s *Simulator) handleReachLaneEnd(cmd Command) {
	now := s.sched.Now()
	v := s.vehicle(cmd.Agent)
	if v.State != CarQueued {
		invariantf("%v reached lane end while %s", cmd.Agent, v.State)
	}
	q := s.queues[v.Lane]
	pos, ok := q.PositionOf(cmd.Agent, now)
	if !ok {
		invariantf("%v not on lane %d", cmd.Agent, v.Lane)
	}
	if pos < q.Length {
		// Woken again when the vehicle ahead leaves the lane.
		q.SetBlocked(cmd.Agent, true)
		return
	}
	q.SetBlocked(cmd.Agent, false)
	if v.atLastStep() {
		s.arriveAtDestination(cmd.Agent)
		return
	}
	s.requestTurn(cmd.Agent)
}

func (s *Simulator) handleRequestTurn(cmd Command) {
	s.requestTurn(cmd.Agent)
}

func (s *Simulator) requestTurn(agent AgentID) {
	now := s.sched.Now()
	v := s.vehicle(agent)
	turn := v.Path.Steps[v.Step+1].Turn
	next := v.Path.Steps[v.Step+2].Lane
	nq := s.queues[next]
	arb := s.arbs[turn.Parent]

	d := arb.Request(now, agent, turn, nq.HasRoom(now))
	if !d.Granted {
		delay := s.p.turnRetryDelay
		if !nq.HasRoom(now) {
			delay = s.p.laneFullBackoff
			s.metrics.LaneFullRetries++
		} else {
			s.metrics.TurnDeferrals++
		}
		logrus.Debugf("[tick %07d] %v waits at %v: %s", now, agent, turn, d.Reason)
		if s.deferVehicle(agent, v, d.Reason) {
			s.schedule(Command{Time: now + delay, Kind: CmdRequestTurn, Agent: agent, Trip: s.tripOf(agent)})
		}
		return
	}

	q := s.queues[v.Lane]
	if _, ok := q.TryAdvanceFront(now); !ok {
		invariantf("%v granted %v but is not at the front of lane %d", agent, turn, v.Lane)
	}
	s.emit(trace.Record{Kind: trace.LeftLane, Agent: agent.String(), Trip: int(s.tripOf(agent)), Lane: int(v.Lane)})
	s.wakeFront(q, v.Length)

	crossing := travelTicks(s.net.Turn(turn).Length, s.speedOn(v, v.Lane))
	entry := QueueEntry{Agent: agent, Length: v.Length, Speed: s.speedOn(v, next), EnteredAt: now + crossing}
	if err := nq.EnqueueAtBack(entry, now); err != nil {
		invariantf("%v granted %v into full lane %d: %v", agent, turn, next, err)
	}
	v.State = CarCrossing
	v.Turn = turn
	v.Lane = next
	v.Step += 2
	v.Retries = 0
	s.metrics.TurnsGranted++
	s.emit(trace.Record{Kind: trace.TurnGranted, Agent: agent.String(), Trip: int(s.tripOf(agent)),
		Intersection: int(turn.Parent), Turn: turn.String(), Detail: d.Reason})
	s.schedule(Command{Time: now + crossing, Kind: CmdFinishTurn, Agent: agent, Trip: s.tripOf(agent)})
}

func (s *Simulator) handleFinishTurn(cmd Command) {
	now := s.sched.Now()
	v := s.vehicle(cmd.Agent)
	if v.State != CarCrossing {
		invariantf("%v finished a turn while %s", cmd.Agent, v.State)
	}
	s.arbs[v.Turn.Parent].Release(cmd.Agent)
	turn := v.Turn
	v.State = CarQueued
	v.Turn = network.TurnID{}
	trip := int(s.tripOf(cmd.Agent))
	s.emit(trace.Record{Kind: trace.TurnCompleted, Agent: cmd.Agent.String(), Trip: trip, Intersection: int(turn.Parent), Turn: turn.String()})
	s.emit(trace.Record{Kind: trace.EnteredLane, Agent: cmd.Agent.String(), Trip: trip, Lane: int(v.Lane)})
	length := s.net.Lane(v.Lane).Length
	s.schedule(Command{Time: now + travelTicks(length, s.speedOn(v, v.Lane)), Kind: CmdReachLaneEnd, Agent: cmd.Agent, Trip: s.tripOf(cmd.Agent)})
}

// wakeFront schedules the new front vehicle of q to re-check the lane end
// once it has closed the gap left by a departed vehicle of length gone.
func (s *Simulator) wakeFront(q *Queue, gone network.Distance) {
	front, ok := q.PeekFront()
	if !ok || !front.Blocked {
		return
	}
	q.SetBlocked(front.Agent, false)
	delay := travelTicks(gone+q.FollowDist, front.Speed)
	s.schedule(Command{Time: s.sched.Now() + delay, Kind: CmdReachLaneEnd, Agent: front.Agent, Trip: s.tripOf(front.Agent)})
}

// removeFromLane takes a vehicle off its lane wherever it is and wakes the
// vehicle that was behind it.
func (s *Simulator) removeFromLane(agent AgentID, v *Vehicle) {
	q := s.queues[v.Lane]
	entries := q.Entries()
	idx := q.index(agent)
	if idx < 0 {
		return
	}
	q.Remove(agent)
	s.emit(trace.Record{Kind: trace.LeftLane, Agent: agent.String(), Trip: int(s.tripOf(agent)), Lane: int(v.Lane)})
	if idx+1 >= len(entries) {
		return
	}
	behind := entries[idx+1]
	if behind.Blocked {
		q.SetBlocked(behind.Agent, false)
		delay := travelTicks(v.Length+q.FollowDist, behind.Speed)
		s.schedule(Command{Time: s.sched.Now() + delay, Kind: CmdReachLaneEnd, Agent: behind.Agent, Trip: s.tripOf(behind.Agent)})
	}
}

// arriveAtDestination handles a vehicle at the end of the last lane of its path.
func (s *Simulator) arriveAtDestination(agent AgentID) {
	if agent.Kind == AgentBus {
		s.busArrive(s.buses[BusID(agent.N)])
		return
	}
	car := s.cars[CarID(agent.N)]
	trip := s.trips[car.Trip]
	s.leaveLaneAtEnd(agent, &car.Vehicle)
	car.Vehicle.State = CarUnparked
	s.exitZones(trip)

	person := s.people[trip.Person]
	ped := s.peds[person.Ped]
	if pos, ok := s.net.SidewalkAlong(car.Vehicle.Lane); ok {
		ped.Pos = pos
	}
	if trip.Cursor+1 < len(trip.Legs) && trip.Legs[trip.Cursor+1].Kind == LegPark {
		s.finishLeg(trip)
		return
	}
	// No parking leg: the vehicle leaves the simulation here.
	car.Vehicle.State = CarDone
	car.Trip = 0
	trip.Vehicle = AgentID{}
	person.dropVehicle(car.ID)
	ped.State = PedIdle
	s.finishLeg(trip)
}

// leaveLaneAtEnd pops a vehicle that is at the front and end of its lane.
func (s *Simulator) leaveLaneAtEnd(agent AgentID, v *Vehicle) {
	q := s.queues[v.Lane]
	if _, ok := q.TryAdvanceFront(s.sched.Now()); !ok {
		invariantf("%v is not at the end of lane %d", agent, v.Lane)
	}
	s.emit(trace.Record{Kind: trace.LeftLane, Agent: agent.String(), Trip: int(s.tripOf(agent)), Lane: int(v.Lane)})
	s.wakeFront(q, v.Length)
}

func (s *Simulator) handleStartDriving(cmd Command) {
	s.enterFirstLane(cmd.Agent)
}

// startDrive begins a drive leg: picks the vehicle, routes it, gates it on
// capacity zones and puts it on its first lane.
func (s *Simulator) startDrive(trip *Trip, leg Leg) {
	now := s.sched.Now()
	person := s.people[trip.Person]

	var car *Car
	start := leg.From
	owned := person.vehicleFor(leg.Vehicle)
	if owned != 0 {
		car = s.cars[owned]
		if car.Vehicle.State != CarParked {
			invariantf("car%d of person%d is %s, not parked", car.ID, person.ID, car.Vehicle.State)
		}
		spot, ok := s.parkingFor(leg.Vehicle).Spot(car.Vehicle.Spot)
		if !ok {
			invariantf("car%d parked in unknown spot %d", car.ID, car.Vehicle.Spot)
		}
		start = spotPosition(s.net, spot)
	}

	path, err := s.pf.FindPath(network.PathRequest{
		Start:       start,
		End:         network.Position{Lane: leg.Dest, Dist: s.laneLength(leg.Dest)},
		Constraints: leg.Vehicle.constraints(),
	})
	if err != nil {
		s.abortTrip(trip, fmt.Sprintf("drive leg: %v", err), false)
		return
	}

	if car == nil {
		car = s.newCar(person.ID, leg.Vehicle)
		person.setVehicle(leg.Vehicle, car.ID)
	} else {
		s.parkingFor(leg.Vehicle).Release(car.Vehicle.Spot)
		s.emit(trace.Record{Kind: trace.ParkingReleased, Agent: CarAgent(car.ID).String(), Trip: int(trip.ID),
			Lane: int(car.Vehicle.Lane), Spot: int(car.Vehicle.Spot)})
		car.Vehicle.Spot = 0
		car.Vehicle.State = CarUnparked
	}
	car.Trip = trip.ID
	car.Vehicle.Path = path
	car.Vehicle.Step = 0
	car.Vehicle.Retries = 0
	trip.Vehicle = CarAgent(car.ID)
	trip.ZoneRetries = 0
	s.peds[person.Ped].State = PedInVehicle

	if !s.enterZones(trip) {
		s.deferZones(trip, now)
		return
	}
	s.enterFirstLane(trip.Vehicle)
}

func (s *Simulator) newCar(owner PersonID, kind VehicleKind) *Car {
	car := &Car{ID: s.ids.nextCar(), Owner: owner, Vehicle: Vehicle{Kind: kind, State: CarUnparked}}
	switch kind {
	case VehicleBike:
		car.Vehicle.Length = s.p.bikeLength
		car.Vehicle.MaxSpeed = s.p.bikeMaxSpeed
	default:
		car.Vehicle.Length = s.p.carLength
	}
	s.cars[car.ID] = car
	return car
}

func (s *Simulator) laneLength(id network.LaneID) network.Distance {
	if l := s.net.Lane(id); l != nil {
		return l.Length
	}
	return 0
}

// attemptPark tries to park the trip's vehicle on its destination lane.
func (s *Simulator) attemptPark(trip *Trip) {
	now := s.sched.Now()
	car := s.cars[CarID(trip.Vehicle.N)]
	lane := car.Vehicle.Lane
	spot, ok := s.parkingFor(car.Vehicle.Kind).TryAcquire(lane, car.ID)
	if !ok {
		trip.ParkRetries++
		s.metrics.ParkingRetries++
		if trip.ParkRetries > s.p.parkingRetryLimit {
			s.abortTrip(trip, fmt.Sprintf("no free parking on lane %d after %d retries", lane, trip.ParkRetries-1), false)
			return
		}
		s.schedule(Command{Time: now + s.p.parkingBackoff, Kind: CmdPark, Agent: trip.Vehicle, Trip: trip.ID})
		return
	}
	car.Vehicle.State = CarParked
	car.Vehicle.Spot = spot
	car.Trip = 0
	trip.Vehicle = AgentID{}
	trip.ParkRetries = 0
	s.peds[s.people[trip.Person].Ped].State = PedIdle
	s.emit(trace.Record{Kind: trace.ParkingAcquired, Agent: CarAgent(car.ID).String(), Trip: int(trip.ID), Lane: int(lane), Spot: int(spot)})
	s.finishLeg(trip)
}

func (s *Simulator) handlePark(cmd Command) {
	s.attemptPark(s.trips[cmd.Trip])
}

// SeedParkedCar parks an unowned car on lane. It fails when the lane has no
// free spot.
func (s *Simulator) SeedParkedCar(lane network.LaneID) (CarID, error) {
	if err := s.validateCarLane(lane); err != nil {
		return 0, fmt.Errorf("seeding parked car: %w", err)
	}
	car := s.newCar(0, VehicleCar)
	spot, ok := s.parking.TryAcquire(lane, car.ID)
	if !ok {
		delete(s.cars, car.ID)
		return 0, fmt.Errorf("seeding parked car: no free spot on lane %d", lane)
	}
	car.Vehicle.State = CarParked
	car.Vehicle.Lane = lane
	car.Vehicle.Spot = spot
	return car.ID, nil
}

// validateCarLane checks that a car may stand on lane.
func (s *Simulator) validateCarLane(lane network.LaneID) error {
	l := s.net.Lane(lane)
	if l == nil {
		return fmt.Errorf("unknown lane %d", lane)
	}
	if !network.ConstraintCar.CanUse(l.Type) {
		return fmt.Errorf("lane %d is %s, not a driving lane", lane, l.Type)
	}
	return nil
}
