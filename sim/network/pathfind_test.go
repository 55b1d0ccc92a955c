package network_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traffic-sim/traffic-sim/sim/internal/testutil"
	"github.com/traffic-sim/traffic-sim/sim/network"
)

func TestFindPath_VehicleAlternatesLanesAndTurns(t *testing.T) {
	// GIVEN a four-way intersection
	m := testutil.FourWay(t, network.ControlUncontrolled, 0)
	pf := network.NewPathfinder(m)

	// WHEN routing a car from the north arm to the south arm
	path, err := pf.FindPath(network.PathRequest{
		Start:       network.Position{Lane: testutil.FourWayIn(network.North)},
		End:         network.Position{Lane: testutil.FourWayOut(network.South), Dist: network.Meters(80)},
		Constraints: network.ConstraintCar,
	})

	// THEN the path is Lane, Turn, Lane
	require.NoError(t, err)
	require.Len(t, path.Steps, 3)
	assert.Equal(t, network.StepLane, path.Steps[0].Kind)
	assert.Equal(t, testutil.FourWayIn(network.North), path.Steps[0].Lane)
	assert.Equal(t, network.StepTurn, path.Steps[1].Kind)
	assert.Equal(t, testutil.FourWayCenter, path.Steps[1].Turn.Parent)
	assert.Equal(t, testutil.FourWayOut(network.South), path.Steps[2].Lane)
	assert.Equal(t, network.Meters(80)+network.Meters(80)+network.DefaultTurnLength, path.Length)
	assert.Equal(t, []network.LaneID{testutil.FourWayIn(network.North), testutil.FourWayOut(network.South)}, path.Lanes())
}

func TestFindPath_SameLaneAhead(t *testing.T) {
	m := testutil.Corridor(t, testutil.CorridorOptions{})
	pf := network.NewPathfinder(m)
	path, err := pf.FindPath(network.PathRequest{
		Start:       network.Position{Lane: testutil.CorridorIn, Dist: network.Meters(10)},
		End:         network.Position{Lane: testutil.CorridorIn, Dist: network.Meters(60)},
		Constraints: network.ConstraintCar,
	})
	require.NoError(t, err)
	require.Len(t, path.Steps, 1)
	assert.Equal(t, network.Meters(50), path.Length)
}

func TestFindPath_NoPath(t *testing.T) {
	m := testutil.Corridor(t, testutil.CorridorOptions{})
	pf := network.NewPathfinder(m)

	tests := []struct {
		name string
		req  network.PathRequest
	}{
		{"against one-way flow", network.PathRequest{
			Start:       network.Position{Lane: testutil.CorridorOut},
			End:         network.Position{Lane: testutil.CorridorIn},
			Constraints: network.ConstraintCar,
		}},
		{"car on sidewalk", network.PathRequest{
			Start:       network.Position{Lane: testutil.CorridorSidewalk},
			End:         network.Position{Lane: testutil.CorridorOut},
			Constraints: network.ConstraintCar,
		}},
		{"unknown lane", network.PathRequest{
			Start:       network.Position{Lane: 999},
			End:         network.Position{Lane: testutil.CorridorOut},
			Constraints: network.ConstraintCar,
		}},
		{"off the end of the lane", network.PathRequest{
			Start:       network.Position{Lane: testutil.CorridorIn, Dist: network.Meters(500)},
			End:         network.Position{Lane: testutil.CorridorOut},
			Constraints: network.ConstraintCar,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := pf.FindPath(tt.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, network.ErrNoPath))
		})
	}
}

func TestFindPath_PedestriansWalkBothWays(t *testing.T) {
	m := testutil.Corridor(t, testutil.CorridorOptions{})
	pf := network.NewPathfinder(m)

	// GIVEN a pedestrian at the east end of the east sidewalk
	// WHEN walking to the middle of the west sidewalk (against lane direction)
	path, err := pf.FindPath(network.PathRequest{
		Start:       network.Position{Lane: testutil.CorridorEastWalk, Dist: network.Meters(100)},
		End:         network.Position{Lane: testutil.CorridorSidewalk, Dist: network.Meters(50)},
		Constraints: network.ConstraintPedestrian,
	})

	// THEN both steps are contraflow and the length is 100m + 50m
	require.NoError(t, err)
	require.Len(t, path.Steps, 2)
	assert.Equal(t, network.StepContraflowLane, path.Steps[0].Kind)
	assert.Equal(t, testutil.CorridorEastWalk, path.Steps[0].Lane)
	assert.Equal(t, network.StepContraflowLane, path.Steps[1].Kind)
	assert.Equal(t, testutil.CorridorSidewalk, path.Steps[1].Lane)
	assert.Equal(t, network.Meters(150), path.Length)
}

func TestFindPath_PedestrianSameSidewalkBackwards(t *testing.T) {
	m := testutil.Corridor(t, testutil.CorridorOptions{})
	pf := network.NewPathfinder(m)
	path, err := pf.FindPath(network.PathRequest{
		Start:       network.Position{Lane: testutil.CorridorSidewalk, Dist: network.Meters(70)},
		End:         network.Position{Lane: testutil.CorridorSidewalk, Dist: network.Meters(20)},
		Constraints: network.ConstraintPedestrian,
	})
	require.NoError(t, err)
	require.Len(t, path.Steps, 1)
	assert.Equal(t, network.StepContraflowLane, path.Steps[0].Kind)
	assert.Equal(t, network.Meters(50), path.Length)
}

func TestFindPath_Deterministic(t *testing.T) {
	m := testutil.FourWay(t, network.ControlUncontrolled, 0)
	pf := network.NewPathfinder(m)
	req := network.PathRequest{
		Start:       network.Position{Lane: testutil.FourWaySidewalk(network.North)},
		End:         network.Position{Lane: testutil.FourWaySidewalk(network.South)},
		Constraints: network.ConstraintPedestrian,
	}
	first, err := pf.FindPath(req)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := pf.FindPath(req)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}
