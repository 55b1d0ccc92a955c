package sim

import (
	"fmt"

	"github.com/traffic-sim/traffic-sim/sim/network"
)

// CheckInvariants verifies the cross-table consistency of the simulation:
// lane order, single occupancy of lanes and spots, non-conflicting in-flight
// turns, pool ceilings and agent bookkeeping. It returns the first
// violation found.
func (s *Simulator) CheckInvariants() error {
	now := s.sched.Now()
	onLane := make(map[AgentID]network.LaneID)
	for _, id := range sortedIDs(s.queues) {
		q := s.queues[id]
		if err := q.Check(now); err != nil {
			return err
		}
		for _, e := range q.entries {
			if prev, dup := onLane[e.Agent]; dup {
				return fmt.Errorf("%v is on lanes %d and %d", e.Agent, prev, id)
			}
			onLane[e.Agent] = id
		}
	}

	for _, id := range sortedIDs(s.arbs) {
		if err := s.arbs[id].Check(); err != nil {
			return err
		}
	}
	if err := checkParking(s.parking); err != nil {
		return err
	}
	if err := checkParking(s.bikeParking); err != nil {
		return err
	}
	if err := s.zonePool.Check(); err != nil {
		return err
	}
	if err := s.seatPool.Check(); err != nil {
		return err
	}

	for _, id := range sortedIDs(s.cars) {
		c := s.cars[id]
		if err := s.checkVehicle(CarAgent(id), &c.Vehicle, onLane); err != nil {
			return err
		}
		if c.Vehicle.State == CarParked {
			occupant, ok := s.parkingFor(c.Vehicle.Kind).Occupant(c.Vehicle.Spot)
			if !ok || occupant != id {
				return fmt.Errorf("car%d is parked in spot %d held by car%d", id, c.Vehicle.Spot, occupant)
			}
		}
	}
	for _, id := range sortedIDs(s.buses) {
		b := s.buses[id]
		if err := s.checkVehicle(BusAgent(id), &b.Vehicle, onLane); err != nil {
			return err
		}
		if used := s.seatPool.Used(int(id)); used != len(b.Riders) {
			return fmt.Errorf("bus%d has %d riders but %d seats taken", id, len(b.Riders), used)
		}
	}

	for _, id := range sortedIDs(s.people) {
		p := s.people[id]
		if p.Active != 0 && s.trips[p.Active].State != TripActive {
			return fmt.Errorf("person%d active trip%d is %s", id, p.Active, s.trips[p.Active].State)
		}
	}
	for _, id := range sortedIDs(s.trips) {
		t := s.trips[id]
		if (t.State == TripFinished || t.State == TripAborted) && len(t.Pending) > 0 {
			return fmt.Errorf("trip%d is %s with %d commands pending", id, t.State, len(t.Pending))
		}
	}
	return nil
}

func (s *Simulator) checkVehicle(agent AgentID, v *Vehicle, onLane map[AgentID]network.LaneID) error {
	lane, queued := onLane[agent]
	switch v.State {
	case CarQueued, CarCrossing:
		if !queued || lane != v.Lane {
			return fmt.Errorf("%v is %s on lane %d but the lane does not hold it", agent, v.State, v.Lane)
		}
	default:
		if queued {
			return fmt.Errorf("%v is %s but occupies lane %d", agent, v.State, lane)
		}
	}
	return nil
}
