// Package testutil provides shared test fixtures for the traffic simulator:
// small hand-built networks and helpers to locate repository files.
package testutil

import (
	"testing"

	"github.com/traffic-sim/traffic-sim/sim/network"
)

// Corridor lane and intersection ids.
const (
	CorridorWest   network.IntersectionID = 1
	CorridorCenter network.IntersectionID = 2
	CorridorEast   network.IntersectionID = 3

	CorridorIn       network.LaneID = 1 // west -> center
	CorridorOut      network.LaneID = 2 // center -> east
	CorridorSidewalk network.LaneID = 101
	CorridorEastWalk network.LaneID = 102

	CorridorStopWest network.BusStopID = 1
	CorridorStopEast network.BusStopID = 2
	CorridorRoute    network.BusRouteID = 1
)

// CorridorOptions tunes Corridor.
type CorridorOptions struct {
	Control      network.ControlType
	LengthM      float64
	SpeedMPS     float64
	ParkingSpots int // on CorridorOut
}

// Corridor builds a straight two-lane road west -> center -> east with a
// sidewalk alongside each lane and a bus route with one stop per lane.
func Corridor(t testing.TB, opts CorridorOptions) *network.Map {
	t.Helper()
	if opts.LengthM == 0 {
		opts.LengthM = 100
	}
	if opts.SpeedMPS == 0 {
		opts.SpeedMPS = 10
	}
	if opts.Control == "" {
		opts.Control = network.ControlUncontrolled
	}
	m := network.NewMap("corridor")
	must(t, m.AddIntersection(network.Intersection{ID: CorridorWest}))
	center := network.Intersection{ID: CorridorCenter, Control: opts.Control}
	if opts.Control == network.ControlTrafficSignal {
		center.Signal = &network.SignalPlan{Stages: []network.Stage{
			{Duration: network.Ticks(20), Allow: []network.Movement{{From: network.West, Turns: []network.TurnKind{network.TurnStraight}}}},
			{Duration: network.Ticks(20)},
		}}
	}
	must(t, m.AddIntersection(center))
	must(t, m.AddIntersection(network.Intersection{ID: CorridorEast}))

	length := network.Meters(opts.LengthM)
	speed := network.MetersPerSecond(opts.SpeedMPS)
	must(t, m.AddLane(network.Lane{ID: CorridorIn, Type: network.LaneDriving, Road: "main", Length: length, SpeedLimit: speed,
		Src: CorridorWest, Dst: CorridorCenter, SrcSide: network.East, DstSide: network.West}))
	must(t, m.AddLane(network.Lane{ID: CorridorOut, Type: network.LaneDriving, Road: "main", Length: length, SpeedLimit: speed,
		Src: CorridorCenter, Dst: CorridorEast, SrcSide: network.East, DstSide: network.West, ParkingSpots: opts.ParkingSpots}))
	walk := network.MetersPerSecond(1.4)
	must(t, m.AddLane(network.Lane{ID: CorridorSidewalk, Type: network.LaneSidewalk, Length: length, SpeedLimit: walk,
		Src: CorridorWest, Dst: CorridorCenter, SrcSide: network.East, DstSide: network.West}))
	must(t, m.AddLane(network.Lane{ID: CorridorEastWalk, Type: network.LaneSidewalk, Length: length, SpeedLimit: walk,
		Src: CorridorCenter, Dst: CorridorEast, SrcSide: network.East, DstSide: network.West}))

	must(t, m.AddBusStop(network.BusStop{ID: CorridorStopWest, Name: "west", Lane: CorridorIn,
		Sidewalk: network.Position{Lane: CorridorSidewalk, Dist: length}}))
	must(t, m.AddBusStop(network.BusStop{ID: CorridorStopEast, Name: "east", Lane: CorridorOut,
		Sidewalk: network.Position{Lane: CorridorEastWalk, Dist: length}}))
	must(t, m.AddBusRoute(network.BusRoute{ID: CorridorRoute, Name: "R1", Stops: []network.BusStopID{CorridorStopWest, CorridorStopEast}}))

	must(t, m.Finalize())
	return m
}

// FourWay ids. Arms are indexed by network.Side: 0=N, 1=E, 2=S, 3=W.
const FourWayCenter network.IntersectionID = 10

// FourWayBorder returns the border intersection of an arm.
func FourWayBorder(side network.Side) network.IntersectionID {
	return network.IntersectionID(20 + int(side))
}

// FourWayIn returns the lane arriving at the center from an arm.
func FourWayIn(side network.Side) network.LaneID { return network.LaneID(10 + int(side)) }

// FourWayOut returns the lane leaving the center toward an arm.
func FourWayOut(side network.Side) network.LaneID { return network.LaneID(20 + int(side)) }

// FourWaySidewalk returns the sidewalk along an arm, walking toward the center.
func FourWaySidewalk(side network.Side) network.LaneID { return network.LaneID(30 + int(side)) }

func opposite(s network.Side) network.Side { return (s + 2) % 4 }

// FourWay builds a single four-arm intersection controlled by control. Each
// arm has one lane in, one lane out (with parkingSpots spots) and a sidewalk.
// Signals alternate north-south and east-west every 30 seconds.
func FourWay(t testing.TB, control network.ControlType, parkingSpots int) *network.Map {
	t.Helper()
	m := network.NewMap("four-way")
	center := network.Intersection{ID: FourWayCenter, Control: control}
	if control == network.ControlTrafficSignal {
		all := []network.TurnKind{network.TurnStraight, network.TurnLeft, network.TurnRight}
		center.Signal = &network.SignalPlan{Stages: []network.Stage{
			{Duration: network.Ticks(30), Allow: []network.Movement{{From: network.North, Turns: all}, {From: network.South, Turns: all}}},
			{Duration: network.Ticks(30), Allow: []network.Movement{{From: network.East, Turns: all}, {From: network.West, Turns: all}}},
		}}
	}
	must(t, m.AddIntersection(center))
	length := network.Meters(80)
	speed := network.MetersPerSecond(10)
	for side := network.North; side <= network.West; side++ {
		border := FourWayBorder(side)
		must(t, m.AddIntersection(network.Intersection{ID: border}))
		must(t, m.AddLane(network.Lane{ID: FourWayIn(side), Type: network.LaneDriving, Length: length, SpeedLimit: speed,
			Src: border, Dst: FourWayCenter, SrcSide: opposite(side), DstSide: side}))
		must(t, m.AddLane(network.Lane{ID: FourWayOut(side), Type: network.LaneDriving, Length: length, SpeedLimit: speed,
			Src: FourWayCenter, Dst: border, SrcSide: side, DstSide: opposite(side), ParkingSpots: parkingSpots}))
		must(t, m.AddLane(network.Lane{ID: FourWaySidewalk(side), Type: network.LaneSidewalk, Length: length,
			SpeedLimit: network.MetersPerSecond(1.4), Src: border, Dst: FourWayCenter, SrcSide: opposite(side), DstSide: side}))
	}
	must(t, m.Finalize())
	return m
}

func must(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("building test network: %v", err)
	}
}
