package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traffic-sim/traffic-sim/sim/internal/testutil"
	"github.com/traffic-sim/traffic-sim/sim/network"
)

func TestFiniteParking_SpotsAreExclusive(t *testing.T) {
	// GIVEN a lane with two spots
	m := testutil.Corridor(t, testutil.CorridorOptions{ParkingSpots: 2})
	pm := NewParkingManager("finite", m)

	// WHEN three cars try to park
	s1, ok1 := pm.TryAcquire(testutil.CorridorOut, 1)
	s2, ok2 := pm.TryAcquire(testutil.CorridorOut, 2)
	_, ok3 := pm.TryAcquire(testutil.CorridorOut, 3)

	// THEN only two succeed, in distinct spots
	require.True(t, ok1)
	require.True(t, ok2)
	assert.False(t, ok3)
	assert.NotEqual(t, s1, s2)
	occupant, ok := pm.Occupant(s2)
	require.True(t, ok)
	assert.Equal(t, CarID(2), occupant)

	// WHEN a spot is released
	pm.Release(s1)

	// THEN the waiting car can take it
	s3, ok := pm.TryAcquire(testutil.CorridorOut, 3)
	require.True(t, ok)
	assert.Equal(t, s1, s3)
	assert.NoError(t, checkParking(pm))
}

func TestFiniteParking_LaneWithoutSpots(t *testing.T) {
	m := testutil.Corridor(t, testutil.CorridorOptions{ParkingSpots: 2})
	pm := NewParkingManager("finite", m)
	_, ok := pm.TryAcquire(testutil.CorridorIn, 1)
	assert.False(t, ok)
}

func TestFiniteParking_ReleaseFreeSpot_Panics(t *testing.T) {
	m := testutil.Corridor(t, testutil.CorridorOptions{ParkingSpots: 1})
	pm := NewParkingManager("finite", m)
	spot, ok := pm.TryAcquire(testutil.CorridorOut, 1)
	require.True(t, ok)
	pm.Release(spot)
	assert.Panics(t, func() { pm.Release(spot) })
}

func TestUnlimitedParking_AlwaysSucceeds(t *testing.T) {
	m := testutil.Corridor(t, testutil.CorridorOptions{})
	pm := NewParkingManager("unlimited", m)
	seen := make(map[SpotID]bool)
	for car := CarID(1); car <= 50; car++ {
		spot, ok := pm.TryAcquire(testutil.CorridorIn, car)
		require.True(t, ok)
		assert.False(t, seen[spot], "spot %d handed out twice", spot)
		seen[spot] = true
	}
	assert.NoError(t, checkParking(pm))
}

func TestParkingManager_RestoreKeepsOccupancy(t *testing.T) {
	for _, policy := range []string{"finite", "unlimited"} {
		t.Run(policy, func(t *testing.T) {
			// GIVEN a manager with one occupied spot
			m := testutil.Corridor(t, testutil.CorridorOptions{ParkingSpots: 1})
			pm := NewParkingManager(policy, m)
			spot, ok := pm.TryAcquire(testutil.CorridorOut, 7)
			require.True(t, ok)

			// WHEN restored from its state
			r := RestoreParkingManager(pm.State(), m)

			// THEN the occupant survives and the next spot handed out matches
			occupant, ok := r.Occupant(spot)
			require.True(t, ok)
			assert.Equal(t, CarID(7), occupant)
			a, okA := pm.TryAcquire(testutil.CorridorOut, 8)
			b, okB := r.TryAcquire(testutil.CorridorOut, 8)
			assert.Equal(t, okA, okB)
			assert.Equal(t, a, b)
		})
	}
}

func TestSpotPosition_SpreadsAlongLane(t *testing.T) {
	m := testutil.Corridor(t, testutil.CorridorOptions{ParkingSpots: 1})
	pm := NewParkingManager("finite", m)
	id, ok := pm.TryAcquire(testutil.CorridorOut, 1)
	require.True(t, ok)
	spot, ok := pm.Spot(id)
	require.True(t, ok)
	assert.Equal(t, network.Position{Lane: testutil.CorridorOut, Dist: network.Meters(50)}, spotPosition(m, spot))
}

func TestNewParkingManager_UnknownPolicy_Panics(t *testing.T) {
	m := testutil.Corridor(t, testutil.CorridorOptions{})
	assert.Panics(t, func() { NewParkingManager("valet", m) })
}
