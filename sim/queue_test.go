package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traffic-sim/traffic-sim/sim/network"
)

// 100 m lane, 1 m following distance, 4.5 m cars at 10 m/s.
func testQueue() *Queue {
	return NewQueue(1, network.Meters(100), network.Meters(1))
}

func car(n int, enteredAt int64) QueueEntry {
	return QueueEntry{Agent: CarAgent(CarID(n)), Length: network.Meters(4.5), Speed: network.MetersPerSecond(10), EnteredAt: enteredAt}
}

func TestQueue_EnqueueAtBack_LaneFullUntilGapOpens(t *testing.T) {
	// GIVEN a car that just entered
	q := testQueue()
	require.NoError(t, q.EnqueueAtBack(car(1, 0), 0))

	// WHEN a second car tries to enter at once
	err := q.EnqueueAtBack(car(2, 0), 0)

	// THEN the lane is full
	assert.ErrorIs(t, err, ErrLaneFull)
	assert.False(t, q.HasRoom(0))

	// WHEN the first car has moved 10 m (past its length plus gap)
	// THEN the second car fits
	assert.True(t, q.HasRoom(10))
	require.NoError(t, q.EnqueueAtBack(car(2, 10), 10))
	assert.Equal(t, 2, q.Len())
}

func TestQueue_HasRoomAt_MidLaneWaitsForUpstreamVehicle(t *testing.T) {
	// GIVEN a car that just entered at the lane start
	q := testQueue()
	require.NoError(t, q.EnqueueAtBack(car(1, 0), 0))
	spot := network.Meters(50)

	// THEN there is no room 50 m down the lane until its rear has passed
	// that point by the following distance
	assert.False(t, q.HasRoomAt(spot, 0))
	assert.False(t, q.HasRoomAt(spot, 55))
	assert.True(t, q.HasRoomAt(spot, 56))

	// WHEN a parked car joins there once the gap opens
	leaving := car(2, 56)
	leaving.Start = spot
	require.NoError(t, q.EnqueueAtBack(leaving, 56))

	// THEN it sits at its spot, not clamped back behind the first car
	pos, ok := q.PositionOf(CarAgent(2), 56)
	require.True(t, ok)
	assert.Equal(t, spot, pos)
	assert.NoError(t, q.Check(56))
}

func TestQueue_EnqueueTwice_Panics(t *testing.T) {
	q := testQueue()
	require.NoError(t, q.EnqueueAtBack(car(1, 0), 0))
	assert.Panics(t, func() { _ = q.EnqueueAtBack(car(1, 50), 50) })
}

func TestQueue_Positions_FollowerCappedBehindLeader(t *testing.T) {
	// GIVEN a leader and a follower entering 1 s apart
	q := testQueue()
	require.NoError(t, q.EnqueueAtBack(car(1, 0), 0))
	require.NoError(t, q.EnqueueAtBack(car(2, 10), 10))

	// WHEN the leader sits at the end of the lane
	got := q.Positions(200)

	// THEN the leader is clamped to the lane end and the follower stops a car
	// length plus the following distance behind it
	require.Len(t, got, 2)
	assert.Equal(t, network.Meters(100), got[0].Dist)
	assert.Equal(t, network.Meters(100)-network.Meters(4.5)-network.Meters(1), got[1].Dist)
	assert.NoError(t, q.Check(200))
}

func TestQueue_TryAdvanceFront_OnlyAtLaneEnd(t *testing.T) {
	q := testQueue()
	require.NoError(t, q.EnqueueAtBack(car(1, 0), 0))

	_, ok := q.TryAdvanceFront(99)
	assert.False(t, ok, "one tick short of the end")

	front, ok := q.TryAdvanceFront(100)
	require.True(t, ok)
	assert.Equal(t, CarAgent(1), front.Agent)
	assert.Equal(t, 0, q.Len())

	_, ok = q.TryAdvanceFront(100)
	assert.False(t, ok, "empty lane")
}

func TestQueue_ReservedEntry_WaitsAtLaneStart(t *testing.T) {
	// GIVEN a vehicle still crossing into the lane until tick 10
	q := testQueue()
	require.NoError(t, q.EnqueueAtBack(car(1, 10), 0))

	// THEN it holds position zero and blocks entry until it has moved on
	pos, ok := q.PositionOf(CarAgent(1), 5)
	require.True(t, ok)
	assert.Equal(t, network.Distance(0), pos)
	assert.False(t, q.HasRoom(5))
	assert.True(t, q.HasRoom(20))
}

func TestQueue_Remove_FromMiddle(t *testing.T) {
	q := testQueue()
	require.NoError(t, q.EnqueueAtBack(car(1, 0), 0))
	require.NoError(t, q.EnqueueAtBack(car(2, 10), 10))
	require.NoError(t, q.EnqueueAtBack(car(3, 20), 20))

	removed, ok := q.Remove(CarAgent(2))
	require.True(t, ok)
	assert.Equal(t, CarAgent(2), removed.Agent)
	assert.Equal(t, "[car1 car3]", q.String())
	assert.True(t, q.IsFront(CarAgent(1)))

	_, ok = q.Remove(CarAgent(2))
	assert.False(t, ok)
}

func TestTravelTicks_RoundsUp(t *testing.T) {
	tests := []struct {
		d    network.Distance
		s    network.Speed
		want int64
	}{
		{network.Meters(100), network.MetersPerSecond(10), 100},
		{network.Meters(1), network.MetersPerSecond(3), 4}, // 3.33 ticks
		{0, network.MetersPerSecond(10), 0},
		{network.Meters(50), network.MetersPerSecond(1.4), 358},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, travelTicks(tt.d, tt.s), "travelTicks(%d, %d)", tt.d, tt.s)
	}
}
