package sim

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traffic-sim/traffic-sim/sim/internal/testutil"
	"github.com/traffic-sim/traffic-sim/sim/network"
	"github.com/traffic-sim/traffic-sim/sim/trace"
)

var westStop = network.Position{Lane: testutil.CorridorSidewalk, Dist: network.Meters(100)}

// rider waits at the west stop, rides to the east stop and walks back 50 m.
func rider(depart int64) PersonSpec {
	return PersonSpec{Home: westStop, Trips: []TripSpec{{Depart: depart, Legs: []Leg{
		{Kind: LegRideBus, Route: testutil.CorridorRoute, Board: testutil.CorridorStopWest, Alight: testutil.CorridorStopEast},
		{Kind: LegWalk, To: network.Position{Lane: testutil.CorridorEastWalk, Dist: network.Meters(50)}},
	}}}}
}

func TestBus_CarriesRiderBetweenStops(t *testing.T) {
	// GIVEN a rider at the west stop and a bus leaving it at tick 0
	s := newTestSim(t, testutil.Corridor(t, testutil.CorridorOptions{}))
	addPeople(t, s, rider(0))
	bus, err := s.AddBus(testutil.CorridorRoute, 0)
	require.NoError(t, err)

	// WHEN the run completes
	run(t, s)

	// THEN the rider boards at the first stop
	boarded := eventsOf(s, trace.Boarded)
	require.Len(t, boarded, 1)
	assert.Equal(t, int64(0), boarded[0].Time)
	assert.Equal(t, "bus1 at west", boarded[0].Detail)

	// AND alights at the east stop after the dwell, the turn and 100 m
	alighted := eventsOf(s, trace.Alighted)
	require.Len(t, alighted, 1)
	assert.Equal(t, int64(210), alighted[0].Time)

	// AND finishes the walk 50 m at 1.4 m/s later
	finished := eventsOf(s, trace.TripFinished)
	require.Len(t, finished, 1)
	assert.Equal(t, int64(568), finished[0].Time)

	// AND the bus ends its route empty and off the road
	b, _ := s.Bus(bus)
	assert.Equal(t, BusDone, b.State)
	assert.Empty(t, b.Riders)
	assert.Equal(t, 0, s.SeatsUsed(bus))
	assert.Equal(t, 0, s.Queue(testutil.CorridorOut).Len())
	arrivals := eventsOf(s, trace.BusArrived)
	require.Len(t, arrivals, 2)
	assert.Equal(t, []string{"west", "east"}, []string{arrivals[0].Detail, arrivals[1].Detail})
	assert.Equal(t, 1, s.Metrics().Boardings)
	assert.Equal(t, 1, s.Metrics().Alightings)
}

func TestBus_RiderWaitsForNextBus(t *testing.T) {
	// GIVEN a rider who reaches the stop after the first bus left
	s := newTestSim(t, testutil.Corridor(t, testutil.CorridorOptions{}))
	addPeople(t, s, rider(150))
	_, err := s.AddBus(testutil.CorridorRoute, 0)
	require.NoError(t, err)
	second, err := s.AddBus(testutil.CorridorRoute, 400)
	require.NoError(t, err)

	// WHEN run past the first departure
	require.NoError(t, s.RunUntil(context.Background(), 300))

	// THEN the rider is queued at the stop
	ped, _ := s.Pedestrian(1)
	assert.Equal(t, PedWaitingForBus, ped.State)
	assert.Equal(t, testutil.CorridorStopWest, ped.Stop)
	assert.Equal(t, []PersonID{1}, s.waiting[testutil.CorridorStopWest])

	// WHEN the run completes
	run(t, s)

	// THEN the second bus picks the rider up
	boarded := eventsOf(s, trace.Boarded)
	require.Len(t, boarded, 1)
	assert.Equal(t, "bus2 at west", boarded[0].Detail)
	b, _ := s.Bus(second)
	assert.Equal(t, BusDone, b.State)
	assert.Empty(t, s.waiting)
}

func TestBus_CapacityIsHard(t *testing.T) {
	// GIVEN a one-seat bus and two riders waiting
	s := newTestSim(t, testutil.Corridor(t, testutil.CorridorOptions{}), func(c *Config) {
		c.Transit.BusCapacity = 1
	})
	addPeople(t, s, rider(0), rider(0))
	_, err := s.AddBus(testutil.CorridorRoute, 10)
	require.NoError(t, err)

	// WHEN the run completes
	run(t, s)

	// THEN only the first rider travels and the other is still waiting
	boarded := eventsOf(s, trace.Boarded)
	require.Len(t, boarded, 1)
	assert.Equal(t, "ped1", boarded[0].Agent)
	assert.Equal(t, TripFinished, tripState(t, s, 1))
	assert.Equal(t, TripActive, tripState(t, s, 2))
	ped, _ := s.Pedestrian(2)
	assert.Equal(t, PedWaitingForBus, ped.State)
	assert.True(t, s.Done())
}

func TestBus_StalledBusFailsItsRiders(t *testing.T) {
	// GIVEN a bus that will wait at a red signal with a tiny retry budget
	s := newTestSim(t, testutil.Corridor(t, testutil.CorridorOptions{Control: network.ControlTrafficSignal}), func(c *Config) {
		c.Retry.MaxTurnRetries = 2
	})
	addPeople(t, s, rider(0))
	bus, err := s.AddBus(testutil.CorridorRoute, 150)
	require.NoError(t, err)

	// WHEN the run completes
	run(t, s)

	// THEN the bus leaves service and its rider's trip fails once
	b, _ := s.Bus(bus)
	assert.Equal(t, BusDone, b.State)
	assert.Equal(t, CarDone, b.Vehicle.State)
	failed := eventsOf(s, trace.TripFailed)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].Detail, "bus1 out of service")
	assert.Equal(t, 0, s.SeatsUsed(bus))
	assert.Equal(t, 0, s.Queue(testutil.CorridorIn).Len())
	assert.Empty(t, s.Arbitrator(testutil.CorridorCenter).Pending())
}

func TestAddBus_Rejects(t *testing.T) {
	s := newTestSim(t, testutil.Corridor(t, testutil.CorridorOptions{}))

	_, err := s.AddBus(99, 0)
	assert.ErrorContains(t, err, "unknown route")

	_, err = s.AddBus(testutil.CorridorRoute, 0)
	require.NoError(t, err)
	require.NoError(t, s.RunUntil(context.Background(), 100))
	_, err = s.AddBus(testutil.CorridorRoute, 10)
	assert.ErrorContains(t, err, "before now")
}

func TestAddBus_UnreachableStops(t *testing.T) {
	// GIVEN a route whose stops are in driving order reversed
	m := network.NewMap("reversed")
	require.NoError(t, m.AddIntersection(network.Intersection{ID: 1}))
	require.NoError(t, m.AddIntersection(network.Intersection{ID: 2}))
	require.NoError(t, m.AddIntersection(network.Intersection{ID: 3}))
	lane := func(id network.LaneID, src, dst network.IntersectionID, typ network.LaneType) network.Lane {
		return network.Lane{ID: id, Type: typ, Length: network.Meters(50), SpeedLimit: network.MetersPerSecond(10),
			Src: src, Dst: dst, SrcSide: network.East, DstSide: network.West}
	}
	require.NoError(t, m.AddLane(lane(1, 1, 2, network.LaneDriving)))
	require.NoError(t, m.AddLane(lane(2, 2, 3, network.LaneDriving)))
	require.NoError(t, m.AddLane(lane(3, 1, 2, network.LaneSidewalk)))
	require.NoError(t, m.AddBusStop(network.BusStop{ID: 1, Name: "a", Lane: 1, Sidewalk: network.Position{Lane: 3}}))
	require.NoError(t, m.AddBusStop(network.BusStop{ID: 2, Name: "b", Lane: 2, Sidewalk: network.Position{Lane: 3}}))
	require.NoError(t, m.AddBusRoute(network.BusRoute{ID: 1, Name: "back", Stops: []network.BusStopID{2, 1}}))
	require.NoError(t, m.Finalize())
	s := newTestSim(t, m)

	// WHEN a bus is added
	_, err := s.AddBus(1, 0)

	// THEN it is refused
	assert.ErrorIs(t, err, network.ErrNoPath)
}
