// Package trace provides the event stream of a simulation run.
// This package has no dependencies on sim/; it holds plain data types.
package trace

// Kind names a state transition.
type Kind string

const (
	TripStarted  Kind = "trip_started"
	TripFinished Kind = "trip_finished"
	TripFailed   Kind = "trip_failed"
	TripStalled  Kind = "trip_stalled"
	LegStarted   Kind = "leg_started"
	LegFinished  Kind = "leg_finished"

	EnteredLane   Kind = "entered_lane"
	LeftLane      Kind = "left_lane"
	TurnGranted   Kind = "turn_granted"
	TurnCompleted Kind = "turn_completed"

	ParkingAcquired Kind = "parking_acquired"
	ParkingReleased Kind = "parking_released"

	PedDeparted Kind = "ped_departed"
	PedArrived  Kind = "ped_arrived"

	BusArrived  Kind = "bus_arrived"
	BusDeparted Kind = "bus_departed"
	Boarded     Kind = "boarded"
	Alighted    Kind = "alighted"

	SignalStage Kind = "signal_stage"
	ZoneEntered Kind = "zone_entered"
	ZoneExited  Kind = "zone_exited"
)

// tripKinds are kept at LevelTrips.
var tripKinds = map[Kind]bool{
	TripStarted:  true,
	TripFinished: true,
	TripFailed:   true,
	TripStalled:  true,
	LegStarted:   true,
	LegFinished:  true,
}

// Record is one entry of the event stream. Zero-valued fields are omitted
// from the JSON form.
type Record struct {
	Seq          int64  `json:"seq"`
	Time         int64  `json:"time"`
	Kind         Kind   `json:"kind"`
	Agent        string `json:"agent,omitempty"`
	Trip         int    `json:"trip,omitempty"`
	Lane         int    `json:"lane,omitempty"`
	Intersection int    `json:"intersection,omitempty"`
	Turn         string `json:"turn,omitempty"`
	Spot         int    `json:"spot,omitempty"`
	Detail       string `json:"detail,omitempty"`
}
