package sim

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/traffic-sim/traffic-sim/sim/network"
	"github.com/traffic-sim/traffic-sim/sim/trace"
)

// SnapshotVersion is bumped when the snapshot layout changes.
const SnapshotVersion = 1

// QueueState is the occupancy of one lane.
type QueueState struct {
	Lane    network.LaneID `json:"lane"`
	Entries []QueueEntry   `json:"entries"`
}

// Snapshot is the complete state of a simulation. Restoring it and running
// on produces the same event stream as never having stopped.
type Snapshot struct {
	Version int    `json:"version"`
	RunID   string `json:"run_id,omitempty"`
	Map     string `json:"map"`
	Config  Config `json:"config"`
	Steps   int64  `json:"steps"`

	Scheduler   SchedulerState    `json:"scheduler"`
	Queues      []QueueState      `json:"queues"`
	Arbitrators []ArbitratorState `json:"arbitrators"`
	Parking     ParkingState      `json:"parking"`
	BikeParking ParkingState      `json:"bike_parking"`
	Zones       []Zone            `json:"zones"`
	ZonePool    PoolState         `json:"zone_pool"`
	SeatPool    PoolState         `json:"seat_pool"`

	IDs         idCounters    `json:"ids"`
	Cars        []*Car        `json:"cars"`
	Pedestrians []*Pedestrian `json:"pedestrians"`
	Buses       []*Bus        `json:"buses"`
	People      []*Person     `json:"people"`
	Trips       []*Trip       `json:"trips"`
	Waiting     []StopQueue   `json:"waiting"`

	Metrics *Metrics       `json:"metrics"`
	Events  []trace.Record `json:"events"`
}

// Snapshot captures the simulation state. The result shares nothing with the
// running simulator.
func (s *Simulator) Snapshot() (*Snapshot, error) {
	snap := &Snapshot{
		Version:     SnapshotVersion,
		Map:         s.net.Name,
		Config:      s.cfg,
		Steps:       s.steps,
		Scheduler:   s.sched.State(),
		Parking:     s.parking.State(),
		BikeParking: s.bikeParking.State(),
		Zones:       s.zones,
		ZonePool:    s.zonePool.State(),
		SeatPool:    s.seatPool.State(),
		IDs:         s.ids,
		Metrics:     s.metrics,
		Events:      s.log.Records(),
	}
	for _, id := range sortedIDs(s.queues) {
		if q := s.queues[id]; q.Len() > 0 {
			snap.Queues = append(snap.Queues, QueueState{Lane: id, Entries: q.Entries()})
		}
	}
	for _, id := range sortedIDs(s.arbs) {
		snap.Arbitrators = append(snap.Arbitrators, s.arbs[id].State())
	}
	for _, id := range sortedIDs(s.cars) {
		snap.Cars = append(snap.Cars, s.cars[id])
	}
	for _, id := range sortedIDs(s.peds) {
		snap.Pedestrians = append(snap.Pedestrians, s.peds[id])
	}
	for _, id := range sortedIDs(s.buses) {
		snap.Buses = append(snap.Buses, s.buses[id])
	}
	for _, id := range sortedIDs(s.people) {
		snap.People = append(snap.People, s.people[id])
	}
	for _, id := range sortedIDs(s.trips) {
		snap.Trips = append(snap.Trips, s.trips[id])
	}
	for _, id := range sortedIDs(s.waiting) {
		snap.Waiting = append(snap.Waiting, StopQueue{Stop: id, People: s.waiting[id]})
	}

	// Round-trip through JSON so the snapshot holds no pointers into live state.
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	out := &Snapshot{}
	if err := json.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return out, nil
}

// Restore rebuilds a simulator from snap over the same network it was taken on.
func Restore(net *network.Map, pf Pathfinder, snap *Snapshot) (*Simulator, error) {
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("snapshot version %d, want %d", snap.Version, SnapshotVersion)
	}
	if snap.Map != net.Name {
		return nil, fmt.Errorf("snapshot taken on map %q, not %q", snap.Map, net.Name)
	}
	s, err := newSimulator(net, pf, snap.Config)
	if err != nil {
		return nil, err
	}
	s.steps = snap.Steps
	s.sched = RestoreScheduler(snap.Scheduler)
	for _, qs := range snap.Queues {
		q, ok := s.queues[qs.Lane]
		if !ok {
			return nil, fmt.Errorf("snapshot has a queue on unknown lane %d", qs.Lane)
		}
		q.entries = append([]QueueEntry(nil), qs.Entries...)
	}
	for _, st := range snap.Arbitrators {
		a, ok := s.arbs[st.ID]
		if !ok {
			return nil, fmt.Errorf("snapshot has unknown intersection %d", st.ID)
		}
		a.restore(st)
	}
	s.parking = RestoreParkingManager(snap.Parking, net)
	s.bikeParking = RestoreParkingManager(snap.BikeParking, net)
	s.zones = snap.Zones
	s.zonePool = RestoreCapacityPool(snap.ZonePool)
	s.seatPool = RestoreCapacityPool(snap.SeatPool)

	s.ids = snap.IDs
	for _, c := range snap.Cars {
		s.cars[c.ID] = c
	}
	for _, p := range snap.Pedestrians {
		s.peds[p.ID] = p
	}
	for _, b := range snap.Buses {
		s.buses[b.ID] = b
	}
	for _, p := range snap.People {
		s.people[p.ID] = p
	}
	for _, t := range snap.Trips {
		s.trips[t.ID] = t
	}
	for _, w := range snap.Waiting {
		s.waiting[w.Stop] = w.People
	}
	if snap.Metrics != nil {
		s.metrics = snap.Metrics
		if s.metrics.TripDurations == nil {
			s.metrics.TripDurations = make(map[TripID]int64)
		}
	}
	s.log = trace.RestoreLog(trace.Level(snap.Config.Run.TraceLevel), snap.Events)

	if err := s.CheckInvariants(); err != nil {
		return nil, fmt.Errorf("restored state is inconsistent: %w", err)
	}
	return s, nil
}

// SaveSnapshot writes snap to path as indented JSON.
func SaveSnapshot(path string, snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads a snapshot written by SaveSnapshot.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	snap := &Snapshot{}
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("decoding snapshot %s: %w", path, err)
	}
	return snap, nil
}
