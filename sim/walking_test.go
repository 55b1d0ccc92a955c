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

func walkTo(depart int64, from, to network.Position) PersonSpec {
	return PersonSpec{Home: from, Trips: []TripSpec{{Depart: depart, Legs: []Leg{{Kind: LegWalk, To: to}}}}}
}

func TestWalk_TakesDistanceOverSpeed(t *testing.T) {
	s := newTestSim(t, testutil.Corridor(t, testutil.CorridorOptions{}))
	dest := network.Position{Lane: testutil.CorridorEastWalk, Dist: network.Meters(40)}
	addPeople(t, s, walkTo(0, home, dest))

	run(t, s)

	arrived := eventsOf(s, trace.PedArrived)
	require.Len(t, arrived, 1)
	assert.Equal(t, int64(1000), arrived[0].Time) // 140 m at 1.4 m/s
	ped, _ := s.Pedestrian(1)
	assert.Equal(t, dest, ped.Pos)
	assert.Nil(t, ped.Path)
}

func TestPedestrian_PositionAt(t *testing.T) {
	m := testutil.Corridor(t, testutil.CorridorOptions{})
	pf := network.NewPathfinder(m)
	path, err := pf.FindPath(network.PathRequest{
		Start:       network.Position{Lane: testutil.CorridorEastWalk, Dist: network.Meters(100)},
		End:         network.Position{Lane: testutil.CorridorSidewalk, Dist: network.Meters(50)},
		Constraints: network.ConstraintPedestrian,
	})
	require.NoError(t, err)
	p := &Pedestrian{State: PedWalking, Pos: path.Start, Path: path, StartedAt: 100}
	speed := network.MetersPerSecond(1)

	tests := []struct {
		name string
		t    int64
		want network.Position
	}{
		{"at departure", 100, network.Position{Lane: testutil.CorridorEastWalk, Dist: network.Meters(100)}},
		{"before departure", 0, network.Position{Lane: testutil.CorridorEastWalk, Dist: network.Meters(100)}},
		{"against the first sidewalk", 400, network.Position{Lane: testutil.CorridorEastWalk, Dist: network.Meters(70)}},
		{"against the second sidewalk", 100 + 1200, network.Position{Lane: testutil.CorridorSidewalk, Dist: network.Meters(80)}},
		{"past the end", 100000, network.Position{Lane: testutil.CorridorSidewalk, Dist: network.Meters(50)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.positionAt(m, tt.t, speed))
		})
	}

	p.State = PedIdle
	assert.Equal(t, path.Start, p.positionAt(m, 400, speed))
}

func TestCrowds_GroupsNearbyWalkers(t *testing.T) {
	// GIVEN two walkers leaving together and one starting 50 m ahead
	s := newTestSim(t, testutil.Corridor(t, testutil.CorridorOptions{}))
	far := network.Position{Lane: testutil.CorridorSidewalk, Dist: network.Meters(100)}
	addPeople(t, s,
		walkTo(0, home, far),
		walkTo(0, home, far),
		walkTo(0, network.Position{Lane: testutil.CorridorSidewalk, Dist: network.Meters(50)}, far),
	)
	require.NoError(t, s.RunUntil(context.Background(), 0))

	// WHEN grouped 10 s later
	crowds := s.Crowds(100)

	// THEN the pair is one crowd 14 m along and the third walker is alone
	require.Len(t, crowds, 1)
	assert.Equal(t, Crowd{
		Lane:    testutil.CorridorSidewalk,
		Members: []PedestrianID{1, 2},
		From:    network.Meters(14),
		To:      network.Meters(14),
	}, crowds[0])
}

func TestCrowds_ChainsWithinRadius(t *testing.T) {
	s := newTestSim(t, testutil.Corridor(t, testutil.CorridorOptions{}))
	far := network.Position{Lane: testutil.CorridorSidewalk, Dist: network.Meters(100)}
	for _, m := range []float64{0, 1.5, 3, 10} {
		addPeople(t, s, walkTo(0, network.Position{Lane: testutil.CorridorSidewalk, Dist: network.Meters(m)}, far))
	}
	require.NoError(t, s.RunUntil(context.Background(), 0))

	crowds := s.Crowds(0)

	require.Len(t, crowds, 1)
	assert.Equal(t, []PedestrianID{1, 2, 3}, crowds[0].Members)
	assert.Equal(t, network.Meters(0), crowds[0].From)
	assert.Equal(t, network.Meters(3), crowds[0].To)
}

func TestCrowds_IgnoresIdleAndRiding(t *testing.T) {
	s := newTestSim(t, testutil.Corridor(t, testutil.CorridorOptions{}))
	addPeople(t, s, PersonSpec{Home: home}, PersonSpec{Home: home})
	assert.Empty(t, s.Crowds(0))
}

func TestCrowds_IncludesPeopleWaitingAtAStop(t *testing.T) {
	// GIVEN two riders waiting at the west stop with no bus coming
	s := newTestSim(t, testutil.Corridor(t, testutil.CorridorOptions{}))
	addPeople(t, s, rider(0), rider(0))
	run(t, s)

	// THEN they form a crowd at the stop
	crowds := s.Crowds(s.Now())
	require.Len(t, crowds, 1)
	assert.Equal(t, westStop.Dist, crowds[0].From)
	assert.Len(t, crowds[0].Members, 2)
}
