package sim

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/traffic-sim/traffic-sim/sim/network"
	"github.com/traffic-sim/traffic-sim/sim/trace"
)

// BusState is the service state of a bus.
type BusState string

const (
	BusPending BusState = "pending" // not yet spawned
	BusDriving BusState = "driving"
	BusIdling  BusState = "idling" // dwelling at a stop
	BusDone    BusState = "done"
)

// Bus is a vehicle serving one route from its first stop to its last.
type Bus struct {
	ID      BusID              `json:"id"`
	Route   network.BusRouteID `json:"route"`
	Depart  int64              `json:"depart"`
	State   BusState           `json:"state"`
	StopIdx int                `json:"stop_idx"` // stop being approached or served
	Riders  []PersonID         `json:"riders,omitempty"`
	Vehicle Vehicle            `json:"vehicle"`
}

// StopQueue is the waiting list at one stop, in arrival order.
type StopQueue struct {
	Stop   network.BusStopID `json:"stop"`
	People []PersonID        `json:"people"`
}

// AddBus schedules a bus on route to spawn at its first stop at depart.
// Every pair of consecutive stops must be connected for buses.
func (s *Simulator) AddBus(route network.BusRouteID, depart int64) (BusID, error) {
	r := s.net.BusRoute(route)
	if r == nil {
		return 0, fmt.Errorf("adding bus: unknown route %d", route)
	}
	if depart < s.sched.Now() {
		return 0, fmt.Errorf("adding bus on %s: depart %d is before now %d", r.Name, depart, s.sched.Now())
	}
	for k := 0; k+1 < len(r.Stops); k++ {
		if _, err := s.stopToStop(r.Stops[k], r.Stops[k+1]); err != nil {
			return 0, fmt.Errorf("adding bus on %s: %w", r.Name, err)
		}
	}
	bus := &Bus{
		ID:     s.ids.nextBus(),
		Route:  route,
		Depart: depart,
		State:  BusPending,
		Vehicle: Vehicle{
			Kind:   VehicleBus,
			State:  CarUnparked,
			Length: s.p.busLength,
		},
	}
	s.buses[bus.ID] = bus
	s.seatPool.SetCeiling(int(bus.ID), s.p.busCapacity)
	s.schedule(Command{Time: depart, Kind: CmdSpawnBus, Agent: BusAgent(bus.ID)})
	return bus.ID, nil
}

func (s *Simulator) stopToStop(from, to network.BusStopID) (*network.Path, error) {
	a, b := s.net.BusStop(from), s.net.BusStop(to)
	return s.pf.FindPath(network.PathRequest{
		Start:       network.Position{Lane: a.Lane, Dist: s.laneLength(a.Lane)},
		End:         network.Position{Lane: b.Lane, Dist: s.laneLength(b.Lane)},
		Constraints: network.ConstraintBus,
	})
}

func (s *Simulator) busStop(bus *Bus) *network.BusStop {
	return s.net.BusStop(s.net.BusRoute(bus.Route).Stops[bus.StopIdx])
}

func (s *Simulator) handleSpawnBus(cmd Command) {
	bus := s.buses[BusID(cmd.Agent.N)]
	if bus.State == BusPending {
		bus.State = BusDriving
		lane := s.busStop(bus).Lane
		end := network.Position{Lane: lane, Dist: s.laneLength(lane)}
		bus.Vehicle.Path = &network.Path{Steps: []network.PathStep{{Kind: network.StepLane, Lane: lane}}, Start: end, End: end}
		bus.Vehicle.Step = 0
	}
	s.enterFirstLane(cmd.Agent)
}

// busArrive serves the stop a bus has just reached.
func (s *Simulator) busArrive(bus *Bus) {
	now := s.sched.Now()
	stop := s.busStop(bus)
	route := s.net.BusRoute(bus.Route)
	agent := BusAgent(bus.ID)
	bus.State = BusIdling
	s.emit(trace.Record{Kind: trace.BusArrived, Agent: agent.String(), Lane: int(stop.Lane), Detail: stop.Name})

	last := bus.StopIdx == len(route.Stops)-1
	kept := bus.Riders[:0]
	for _, pid := range bus.Riders {
		trip := s.trips[s.people[pid].Active]
		if last || trip.Legs[trip.Cursor].Alight == stop.ID {
			s.alight(bus, pid, stop)
			continue
		}
		kept = append(kept, pid)
	}
	bus.Riders = kept

	if last {
		s.leaveLaneAtEnd(agent, &bus.Vehicle)
		bus.Vehicle.State = CarDone
		bus.State = BusDone
		logrus.Debugf("[tick %07d] %v finished route %s", now, agent, route.Name)
		return
	}
	s.boardWaiting(bus, stop)
	s.schedule(Command{Time: now + s.p.dwellTime, Kind: CmdBusDepart, Agent: agent})
}

func (s *Simulator) alight(bus *Bus, pid PersonID, stop *network.BusStop) {
	person := s.people[pid]
	ped := s.peds[person.Ped]
	trip := s.trips[person.Active]
	s.seatPool.Release(int(bus.ID))
	ped.State = PedIdle
	ped.Bus = 0
	ped.Stop = 0
	ped.Pos = stop.Sidewalk
	s.metrics.Alightings++
	s.emit(trace.Record{Kind: trace.Alighted, Agent: PedAgent(ped.ID).String(), Trip: int(trip.ID), Detail: fmt.Sprintf("%v at %s", BusAgent(bus.ID), stop.Name)})
	s.finishLeg(trip)
}

// boardWaiting boards riders for this route in arrival order until the bus
// is full.
func (s *Simulator) boardWaiting(bus *Bus, stop *network.BusStop) {
	waiting := s.waiting[stop.ID]
	kept := waiting[:0]
	full := false
	for _, pid := range waiting {
		trip := s.trips[s.people[pid].Active]
		if full || trip.Legs[trip.Cursor].Route != bus.Route {
			kept = append(kept, pid)
			continue
		}
		if !s.seatPool.TryAcquire(int(bus.ID)) {
			full = true
			kept = append(kept, pid)
			continue
		}
		ped := s.peds[s.people[pid].Ped]
		ped.State = PedRidingBus
		ped.Bus = bus.ID
		bus.Riders = append(bus.Riders, pid)
		s.metrics.Boardings++
		s.emit(trace.Record{Kind: trace.Boarded, Agent: PedAgent(ped.ID).String(), Trip: int(trip.ID), Detail: fmt.Sprintf("%v at %s", BusAgent(bus.ID), stop.Name)})
	}
	if len(kept) == 0 {
		delete(s.waiting, stop.ID)
		return
	}
	s.waiting[stop.ID] = kept
}

func (s *Simulator) handleBusDepart(cmd Command) {
	bus := s.buses[BusID(cmd.Agent.N)]
	route := s.net.BusRoute(bus.Route)
	from := route.Stops[bus.StopIdx]
	path, err := s.stopToStop(from, route.Stops[bus.StopIdx+1])
	if err != nil {
		invariantf("%v lost its route %s: %v", cmd.Agent, route.Name, err)
	}
	bus.State = BusDriving
	bus.StopIdx++
	bus.Vehicle.Path = path
	bus.Vehicle.Step = 0
	bus.Vehicle.Retries = 0
	s.emit(trace.Record{Kind: trace.BusDeparted, Agent: cmd.Agent.String(), Lane: int(bus.Vehicle.Lane), Detail: s.net.BusStop(from).Name})
	if bus.Vehicle.atLastStep() {
		s.busArrive(bus)
		return
	}
	s.requestTurn(cmd.Agent)
}

// startRide sends the rider to the boarding stop's waiting point.
func (s *Simulator) startRide(trip *Trip, leg Leg) {
	s.startWalk(trip, s.net.BusStop(leg.Board).Sidewalk)
}

// waitForBus joins the waiting list and boards at once if a bus of the
// route is dwelling at the stop.
func (s *Simulator) waitForBus(trip *Trip, leg Leg) {
	ped := s.peds[s.people[trip.Person].Ped]
	ped.State = PedWaitingForBus
	ped.Stop = leg.Board
	s.waiting[leg.Board] = append(s.waiting[leg.Board], trip.Person)
	stop := s.net.BusStop(leg.Board)
	for _, id := range sortedIDs(s.buses) {
		bus := s.buses[id]
		if bus.State == BusIdling && bus.Route == leg.Route && s.busStop(bus).ID == leg.Board {
			s.boardWaiting(bus, stop)
			if ped.State == PedRidingBus {
				return
			}
		}
	}
}

// abortBus takes a stalled bus out of service. Its riders' trips fail.
func (s *Simulator) abortBus(bus *Bus, reason string) {
	agent := BusAgent(bus.ID)
	logrus.Warnf("[tick %07d] %s", s.sched.Now(), reason)
	for _, h := range s.busHandles(agent) {
		s.sched.Cancel(h)
	}
	s.releaseVehicle(agent, &bus.Vehicle)
	bus.Vehicle.State = CarDone
	riders := bus.Riders
	bus.Riders = nil
	for _, pid := range riders {
		s.seatPool.Release(int(bus.ID))
		s.peds[s.people[pid].Ped].Bus = 0
		s.abortTrip(s.trips[s.people[pid].Active], fmt.Sprintf("%v out of service", agent), false)
	}
	bus.State = BusDone
}

func (s *Simulator) busHandles(agent AgentID) []Handle {
	var out []Handle
	for _, pc := range s.sched.Pending() {
		if pc.Command.Agent == agent {
			out = append(out, pc.Handle)
		}
	}
	return out
}
