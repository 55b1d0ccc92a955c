package sim

import (
	"fmt"
	"sort"

	"github.com/traffic-sim/traffic-sim/sim/network"
	"github.com/traffic-sim/traffic-sim/sim/trace"
)

// PedState is what a person's pedestrian is doing.
type PedState string

const (
	PedIdle          PedState = "idle"
	PedWalking       PedState = "walking"
	PedWaitingForBus PedState = "waiting_for_bus"
	PedRidingBus     PedState = "riding_bus"
	PedInVehicle     PedState = "in_vehicle"
	PedDone          PedState = "done"
)

// Pedestrian is the on-foot form of a person. Pos is the last fixed position;
// while walking the current position is interpolated along Path.
type Pedestrian struct {
	ID        PedestrianID      `json:"id"`
	Person    PersonID          `json:"person"`
	State     PedState          `json:"state"`
	Pos       network.Position  `json:"pos"`
	Path      *network.Path     `json:"path,omitempty"`
	StartedAt int64             `json:"started_at,omitempty"`
	Stop      network.BusStopID `json:"stop,omitempty"` // while waiting or riding
	Bus       BusID             `json:"bus,omitempty"`  // while riding
}

// positionAt interpolates a walking pedestrian along its path.
func (p *Pedestrian) positionAt(m *network.Map, t int64, speed network.Speed) network.Position {
	if p.State != PedWalking || p.Path == nil {
		return p.Pos
	}
	travelled := network.Distance(int64(speed) * (t - p.StartedAt) / network.TicksPerSecond)
	travelled = min(max(travelled, 0), p.Path.Length)
	last := len(p.Path.Steps) - 1
	for i, st := range p.Path.Steps {
		length := m.Lane(st.Lane).Length
		from, to := network.Distance(0), length
		if st.Kind == network.StepContraflowLane {
			from, to = length, 0
		}
		if i == 0 {
			from = p.Path.Start.Dist
		}
		if i == last {
			to = p.Path.End.Dist
		}
		seg := to - from
		dir := network.Distance(1)
		if seg < 0 {
			seg, dir = -seg, -1
		}
		if travelled <= seg {
			return network.Position{Lane: st.Lane, Dist: from + dir*travelled}
		}
		travelled -= seg
	}
	return p.Path.End
}

// startWalk sends the trip's pedestrian to dest.
func (s *Simulator) startWalk(trip *Trip, dest network.Position) {
	now := s.sched.Now()
	ped := s.peds[s.people[trip.Person].Ped]
	path, err := s.pf.FindPath(network.PathRequest{Start: ped.Pos, End: dest, Constraints: network.ConstraintPedestrian})
	if err != nil {
		s.abortTrip(trip, fmt.Sprintf("walk: %v", err), false)
		return
	}
	ped.State = PedWalking
	ped.Path = path
	ped.StartedAt = now
	s.emit(trace.Record{Kind: trace.PedDeparted, Agent: PedAgent(ped.ID).String(), Trip: int(trip.ID), Lane: int(ped.Pos.Lane)})
	s.schedule(Command{Time: now + travelTicks(path.Length, s.p.walkSpeed), Kind: CmdFinishWalking, Agent: PedAgent(ped.ID), Trip: trip.ID})
}

func (s *Simulator) handleFinishWalking(cmd Command) {
	ped := s.peds[PedestrianID(cmd.Agent.N)]
	trip := s.trips[cmd.Trip]
	if ped.State != PedWalking {
		invariantf("%v finished walking while %s", cmd.Agent, ped.State)
	}
	ped.Pos = ped.Path.End
	ped.Path = nil
	ped.StartedAt = 0
	ped.State = PedIdle
	s.emit(trace.Record{Kind: trace.PedArrived, Agent: cmd.Agent.String(), Trip: int(trip.ID), Lane: int(ped.Pos.Lane)})

	leg := trip.Legs[trip.Cursor]
	if leg.Kind == LegRideBus {
		s.waitForBus(trip, leg)
		return
	}
	s.finishLeg(trip)
}

// Crowd is a group of pedestrians on one sidewalk close enough to each other
// to be drawn as one.
type Crowd struct {
	Lane    network.LaneID   `json:"lane"`
	Members []PedestrianID   `json:"members"`
	From    network.Distance `json:"from"`
	To      network.Distance `json:"to"`
}

// Crowds groups the pedestrians on sidewalks at time at. Members of a crowd
// are no further than the crowd radius from their neighbour.
func (s *Simulator) Crowds(at int64) []Crowd {
	type placed struct {
		id   PedestrianID
		dist network.Distance
	}
	byLane := make(map[network.LaneID][]placed)
	for _, id := range sortedIDs(s.peds) {
		p := s.peds[id]
		if p.State != PedWalking && p.State != PedWaitingForBus {
			continue
		}
		pos := p.positionAt(s.net, at, s.p.walkSpeed)
		byLane[pos.Lane] = append(byLane[pos.Lane], placed{id: id, dist: pos.Dist})
	}

	var out []Crowd
	for _, lane := range sortedIDs(byLane) {
		group := byLane[lane]
		sort.SliceStable(group, func(i, j int) bool { return group[i].dist < group[j].dist })
		cur := Crowd{Lane: lane, Members: []PedestrianID{group[0].id}, From: group[0].dist, To: group[0].dist}
		flush := func() {
			if len(cur.Members) >= 2 {
				out = append(out, cur)
			}
		}
		for _, g := range group[1:] {
			if g.dist-cur.To <= s.p.crowdRadius {
				cur.Members = append(cur.Members, g.id)
				cur.To = g.dist
				continue
			}
			flush()
			cur = Crowd{Lane: lane, Members: []PedestrianID{g.id}, From: g.dist, To: g.dist}
		}
		flush()
	}
	return out
}
