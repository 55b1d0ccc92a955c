package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traffic-sim/traffic-sim/sim/internal/testutil"
	"github.com/traffic-sim/traffic-sim/sim/network"
)

func straight(from network.Side) network.TurnID {
	to := (from + 2) % 4
	return network.TurnID{Parent: testutil.FourWayCenter, Src: testutil.FourWayIn(from), Dst: testutil.FourWayOut(to)}
}

func TestArbitrator_ConflictingTurnWaitsForRelease(t *testing.T) {
	// GIVEN an uncontrolled four-way with a north-south car in flight
	m := testutil.FourWay(t, network.ControlUncontrolled, 0)
	a := NewArbitrator(m, testutil.FourWayCenter, 10)
	require.True(t, a.Request(0, CarAgent(1), straight(network.North), true).Granted)

	// WHEN a crossing east-west car asks
	d := a.Request(1, CarAgent(2), straight(network.East), true)

	// THEN it is deferred because of the conflict
	assert.False(t, d.Granted)
	assert.Contains(t, d.Reason, "conflicts with car1")

	// WHEN the first car releases its turn
	a.Release(CarAgent(1))

	// THEN the waiting car is granted
	assert.True(t, a.Request(2, CarAgent(2), straight(network.East), true).Granted)
	assert.Empty(t, a.Pending())
	assert.NoError(t, a.Check())
}

func TestArbitrator_NonConflictingTurnsShareIntersection(t *testing.T) {
	m := testutil.FourWay(t, network.ControlUncontrolled, 0)
	a := NewArbitrator(m, testutil.FourWayCenter, 10)

	require.True(t, a.Request(0, CarAgent(1), straight(network.North), true).Granted)
	require.True(t, a.Request(0, CarAgent(2), straight(network.South), true).Granted)

	assert.Len(t, a.InFlight(), 2)
	assert.NoError(t, a.Check())
}

func TestArbitrator_DestinationFull_RegistersButRefuses(t *testing.T) {
	// GIVEN an uncontrolled intersection
	m := testutil.FourWay(t, network.ControlUncontrolled, 0)
	a := NewArbitrator(m, testutil.FourWayCenter, 10)

	// WHEN the first arrival's destination lane is full
	d := a.Request(0, CarAgent(1), straight(network.East), false)

	// THEN it is refused but keeps its place in arrival order
	assert.False(t, d.Granted)
	require.Len(t, a.Pending(), 1)

	// AND a later conflicting arrival yields to it
	d = a.Request(5, CarAgent(2), straight(network.North), true)
	assert.False(t, d.Granted)
	assert.Equal(t, "yield to car1", d.Reason)
}

func TestArbitrator_StopSign_FullStopThenArrivalOrder(t *testing.T) {
	// GIVEN a stop sign with a 10-tick stop
	m := testutil.FourWay(t, network.ControlStopSign, 0)
	a := NewArbitrator(m, testutil.FourWayCenter, 10)

	// WHEN two conflicting cars arrive at tick 0, north first
	assert.Equal(t, "stopping", a.Request(0, CarAgent(1), straight(network.North), true).Reason)
	assert.Equal(t, "stopping", a.Request(0, CarAgent(2), straight(network.East), true).Reason)

	// THEN after the stop the later arrival still yields
	d := a.Request(10, CarAgent(2), straight(network.East), true)
	assert.False(t, d.Granted)
	assert.Equal(t, "yield to earlier arrival car1", d.Reason)

	// AND the first arrival goes
	assert.True(t, a.Request(10, CarAgent(1), straight(network.North), true).Granted)
}

func TestArbitrator_Signal_FollowsStages(t *testing.T) {
	// GIVEN a signal serving north-south first for 30 s
	m := testutil.FourWay(t, network.ControlTrafficSignal, 0)
	a := NewArbitrator(m, testutil.FourWayCenter, 10)
	assert.Equal(t, int64(300), a.firstStageChange())

	// WHEN an east-west car asks during stage 0
	d := a.Request(10, CarAgent(1), straight(network.East), true)

	// THEN it sees red
	assert.False(t, d.Granted)
	assert.Contains(t, d.Reason, "red")

	// WHEN the stage advances
	next := a.AdvanceStage(300)

	// THEN the east-west movement is green for the next 30 s
	assert.Equal(t, int64(300), next)
	assert.Equal(t, 1, a.Stage())
	assert.True(t, a.Request(300, CarAgent(1), straight(network.East), true).Granted)
}

func TestArbitrator_ReleaseWithoutTurn_Panics(t *testing.T) {
	m := testutil.FourWay(t, network.ControlUncontrolled, 0)
	a := NewArbitrator(m, testutil.FourWayCenter, 10)
	assert.Panics(t, func() { a.Release(CarAgent(9)) })
}

func TestArbitrator_Forget_DropsEverything(t *testing.T) {
	m := testutil.FourWay(t, network.ControlUncontrolled, 0)
	a := NewArbitrator(m, testutil.FourWayCenter, 10)
	require.True(t, a.Request(0, CarAgent(1), straight(network.North), true).Granted)
	a.Request(0, CarAgent(2), straight(network.East), true)

	a.Forget(CarAgent(1))
	a.Forget(CarAgent(2))

	assert.Empty(t, a.InFlight())
	assert.Empty(t, a.Pending())
}

func TestArbitrator_StateRestore(t *testing.T) {
	m := testutil.FourWay(t, network.ControlTrafficSignal, 0)
	a := NewArbitrator(m, testutil.FourWayCenter, 10)
	require.True(t, a.Request(0, CarAgent(1), straight(network.North), true).Granted)
	a.Request(0, CarAgent(2), straight(network.East), true)
	a.AdvanceStage(300)

	r := NewArbitrator(m, testutil.FourWayCenter, 10)
	r.restore(a.State())

	assert.Equal(t, a.State(), r.State())
}
