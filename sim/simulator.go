// sim/simulator.go
package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/traffic-sim/traffic-sim/sim/network"
	"github.com/traffic-sim/traffic-sim/sim/trace"
)

// Simulator is the core object that holds simulation time, the agent tables
// and the shared resources agents contend for. Everything happens in the
// goroutine that calls Run; the simulator is not safe for concurrent use.
type Simulator struct {
	cfg Config
	p   params
	net *network.Map
	pf  Pathfinder

	sched       *Scheduler
	queues      map[network.LaneID]*Queue
	arbs        map[network.IntersectionID]*Arbitrator
	parking     ParkingManager
	bikeParking ParkingManager
	zonePool    *CapacityPool
	seatPool    *CapacityPool
	zones       []Zone

	ids     idCounters
	cars    map[CarID]*Car
	peds    map[PedestrianID]*Pedestrian
	buses   map[BusID]*Bus
	people  map[PersonID]*Person
	trips   map[TripID]*Trip
	waiting map[network.BusStopID][]PersonID

	log     *trace.Log
	metrics *Metrics
	steps   int64
}

// NewSimulator builds a simulator over a finalized network. Signal cycles
// start at tick zero.
func NewSimulator(net *network.Map, pf Pathfinder, cfg Config) (*Simulator, error) {
	s, err := newSimulator(net, pf, cfg)
	if err != nil {
		return nil, err
	}
	for _, id := range net.IntersectionIDs() {
		if net.Intersection(id).Control == network.ControlTrafficSignal {
			s.sched.Schedule(Command{Time: s.arbs[id].firstStageChange(), Kind: CmdSignalStage, Intersection: id, Background: true})
		}
	}
	return s, nil
}

func newSimulator(net *network.Map, pf Pathfinder, cfg Config) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if net == nil || pf == nil {
		return nil, errors.New("simulator needs a network and a pathfinder")
	}
	s := &Simulator{
		cfg:         cfg,
		p:           cfg.params(),
		net:         net,
		pf:          pf,
		sched:       NewScheduler(),
		queues:      make(map[network.LaneID]*Queue),
		arbs:        make(map[network.IntersectionID]*Arbitrator),
		parking:     NewParkingManager(cfg.Parking.Policy, net),
		bikeParking: NewParkingManager("unlimited", net),
		zonePool:    NewCapacityPool("zones"),
		seatPool:    NewCapacityPool("seats"),
		cars:        make(map[CarID]*Car),
		peds:        make(map[PedestrianID]*Pedestrian),
		buses:       make(map[BusID]*Bus),
		people:      make(map[PersonID]*Person),
		trips:       make(map[TripID]*Trip),
		waiting:     make(map[network.BusStopID][]PersonID),
		log:         trace.NewLog(trace.Level(cfg.Run.TraceLevel)),
		metrics:     NewMetrics(),
	}
	for _, id := range net.LaneIDs() {
		l := net.Lane(id)
		if l.Type.IsSidewalk() {
			continue
		}
		s.queues[id] = NewQueue(id, l.Length, s.p.followDist)
	}
	for _, id := range net.IntersectionIDs() {
		s.arbs[id] = NewArbitrator(net, id, s.p.stopSignDelay)
	}
	return s, nil
}

// schedule queues cmd and records its handle against the owning trip so an
// abort can cancel it.
func (s *Simulator) schedule(cmd Command) Handle {
	h := s.sched.Schedule(cmd)
	if cmd.Trip != 0 {
		trip := s.trips[cmd.Trip]
		trip.Pending = append(trip.Pending, h)
	}
	if n := s.sched.Len(); n > s.metrics.PeakPending {
		s.metrics.PeakPending = n
	}
	return h
}

func (s *Simulator) untrack(trip TripID, h Handle) {
	t := s.trips[trip]
	for i, p := range t.Pending {
		if p == h {
			t.Pending = append(t.Pending[:i:i], t.Pending[i+1:]...)
			return
		}
	}
}

func (s *Simulator) emit(r trace.Record) {
	r.Time = s.sched.Now()
	s.log.Append(r)
}

func (s *Simulator) dispatch(h Handle, cmd Command) {
	if cmd.Trip != 0 {
		s.untrack(cmd.Trip, h)
	}
	switch cmd.Kind {
	case CmdStartTrip:
		s.handleStartTrip(cmd)
	case CmdStartLeg:
		s.handleStartLeg(cmd)
	case CmdStartDriving:
		s.handleStartDriving(cmd)
	case CmdReachLaneEnd:
		s.handleReachLaneEnd(cmd)
	case CmdRequestTurn:
		s.handleRequestTurn(cmd)
	case CmdFinishTurn:
		s.handleFinishTurn(cmd)
	case CmdPark:
		s.handlePark(cmd)
	case CmdZoneRetry:
		s.handleZoneRetry(cmd)
	case CmdFinishWalking:
		s.handleFinishWalking(cmd)
	case CmdSpawnBus:
		s.handleSpawnBus(cmd)
	case CmdBusDepart:
		s.handleBusDepart(cmd)
	case CmdSignalStage:
		s.handleSignalStage(cmd)
	default:
		invariantf("unknown command kind %q", cmd.Kind)
	}
}

func (s *Simulator) handleSignalStage(cmd Command) {
	now := s.sched.Now()
	arb := s.arbs[cmd.Intersection]
	d := arb.AdvanceStage(now)
	s.emit(trace.Record{Kind: trace.SignalStage, Intersection: int(cmd.Intersection), Detail: fmt.Sprintf("stage %d", arb.Stage())})
	s.sched.Schedule(Command{Time: now + d, Kind: CmdSignalStage, Intersection: cmd.Intersection, Background: true})
}

// Run executes commands until none with a foreground owner remain, the
// horizon or step limit is reached, or ctx is cancelled.
func (s *Simulator) Run(ctx context.Context) error {
	return s.RunUntil(ctx, math.MaxInt64)
}

// RunUntil is Run that also stops before the first command due after until.
// A later Run continues exactly where it left off.
func (s *Simulator) RunUntil(ctx context.Context, until int64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			ie, ok := r.(*InvariantError)
			if !ok {
				panic(r)
			}
			logrus.Errorf("[tick %07d] %v", s.sched.Now(), ie)
			err = ie
		}
	}()

	from, began := s.sched.Now(), time.Now()
	minute := from / ticksPerMinute
	for s.sched.Foreground() > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		next, _ := s.sched.Peek()
		if next.Time > until || (s.p.horizon > 0 && next.Time > s.p.horizon) {
			break
		}
		if s.p.maxSteps > 0 && s.steps >= s.p.maxSteps {
			logrus.Warnf("[tick %07d] step limit %d reached", s.sched.Now(), s.p.maxSteps)
			break
		}
		h, cmd, _ := s.sched.Step()
		s.steps++
		s.metrics.CommandsDispatched++
		logrus.Debugf("[tick %07d] Executing %v", cmd.Time, cmd)
		s.dispatch(h, cmd)
		if s.cfg.Run.CheckInvariants {
			if cerr := s.CheckInvariants(); cerr != nil {
				invariantf("after %v: %v", cmd, cerr)
			}
		}
		if m := s.sched.Now() / ticksPerMinute; m > minute {
			minute = m
			s.logProgress(minute, from, began)
		}
	}
	s.metrics.SimEndedTime = s.sched.Now()
	logrus.Infof("[tick %07d] Simulation stopped after %d commands", s.sched.Now(), s.steps)
	return nil
}

const ticksPerMinute = 60 * network.TicksPerSecond

// logProgress reports trip counts and simulated speed once per simulated
// minute.
func (s *Simulator) logProgress(minute, from int64, began time.Time) {
	m := s.metrics
	active := m.TripsStarted - m.TripsFinished - m.TripsFailed
	speed := 0.0
	if wall := time.Since(began).Seconds(); wall > 0 {
		speed = float64(s.sched.Now()-from) / network.TicksPerSecond / wall
	}
	logrus.Infof("[tick %07d] sim minute %d: %d trips active, %d finished, %d failed, %d commands pending, %.1fx realtime",
		s.sched.Now(), minute, active, m.TripsFinished, m.TripsFailed, s.sched.Len(), speed)
}

// Now returns the simulation time in ticks.
func (s *Simulator) Now() int64 { return s.sched.Now() }

// Steps returns the number of commands dispatched so far.
func (s *Simulator) Steps() int64 { return s.steps }

// Done reports whether no foreground work remains.
func (s *Simulator) Done() bool { return s.sched.Foreground() == 0 }

// Config returns the configuration the simulator was built with.
func (s *Simulator) Config() Config { return s.cfg }

// Network returns the map being simulated.
func (s *Simulator) Network() *network.Map { return s.net }

// Events returns the recorded event stream. Callers must not modify it.
func (s *Simulator) Events() []trace.Record { return s.log.Records() }

// Metrics returns the run counters.
func (s *Simulator) Metrics() *Metrics { return s.metrics }

// Pending returns the scheduled commands in dispatch order.
func (s *Simulator) Pending() []PendingCommand { return s.sched.Pending() }

// Queue returns the queue of a vehicle lane.
func (s *Simulator) Queue(lane network.LaneID) *Queue { return s.queues[lane] }

// Arbitrator returns the arbitrator of an intersection.
func (s *Simulator) Arbitrator(id network.IntersectionID) *Arbitrator { return s.arbs[id] }

// Parking returns the car parking manager.
func (s *Simulator) Parking() ParkingManager { return s.parking }

// Car returns a copy of a car's state.
func (s *Simulator) Car(id CarID) (Car, bool) {
	c, ok := s.cars[id]
	if !ok {
		return Car{}, false
	}
	return *c, true
}

// Bus returns a copy of a bus's state.
func (s *Simulator) Bus(id BusID) (Bus, bool) {
	b, ok := s.buses[id]
	if !ok {
		return Bus{}, false
	}
	return *b, true
}

// Person returns a copy of a person's state.
func (s *Simulator) Person(id PersonID) (Person, bool) {
	p, ok := s.people[id]
	if !ok {
		return Person{}, false
	}
	return *p, true
}

// Pedestrian returns a copy of a pedestrian's state.
func (s *Simulator) Pedestrian(id PedestrianID) (Pedestrian, bool) {
	p, ok := s.peds[id]
	if !ok {
		return Pedestrian{}, false
	}
	return *p, true
}

// Trip returns a copy of a trip's state.
func (s *Simulator) Trip(id TripID) (Trip, bool) {
	t, ok := s.trips[id]
	if !ok {
		return Trip{}, false
	}
	return *t, true
}

// TripIDs returns every trip id in ascending order.
func (s *Simulator) TripIDs() []TripID { return sortedIDs(s.trips) }

// SeatsUsed returns the number of occupied seats on a bus.
func (s *Simulator) SeatsUsed(id BusID) int { return s.seatPool.Used(int(id)) }

// ZoneUsed returns the number of drive legs inside a zone.
func (s *Simulator) ZoneUsed(id int) int { return s.zonePool.Used(id) }
