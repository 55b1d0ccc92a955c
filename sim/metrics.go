// Tracks simulation-wide counters: trip outcomes, retries and resource
// contention.

package sim

import (
	"fmt"
	"io"

	"github.com/traffic-sim/traffic-sim/sim/network"
)

// Metrics aggregates statistics about the simulation for final reporting.
type Metrics struct {
	TripsStarted  int `json:"trips_started"`
	TripsFinished int `json:"trips_finished"`
	TripsFailed   int `json:"trips_failed"`
	TripsStalled  int `json:"trips_stalled"` // subset of TripsFailed

	TurnsGranted    int `json:"turns_granted"`
	TurnDeferrals   int `json:"turn_deferrals"`    // refused by control or conflicts
	LaneFullRetries int `json:"lane_full_retries"` // refused for lack of room
	ParkingRetries  int `json:"parking_retries"`
	ZoneDenials     int `json:"zone_denials"`
	Boardings       int `json:"boardings"`
	Alightings      int `json:"alightings"`

	CommandsDispatched int64 `json:"commands_dispatched"`
	PeakPending        int   `json:"peak_pending"` // most commands queued at once
	SimEndedTime       int64 `json:"sim_ended_time"`

	TripDurations map[TripID]int64 `json:"trip_durations"` // trip ID -> ticks, finished trips only
}

// NewMetrics returns empty metrics.
func NewMetrics() *Metrics {
	return &Metrics{TripDurations: make(map[TripID]int64)}
}

func (m *Metrics) meanTripTicks() float64 {
	if len(m.TripDurations) == 0 {
		return 0
	}
	var total int64
	for _, d := range m.TripDurations {
		total += d
	}
	return float64(total) / float64(len(m.TripDurations))
}

// Print writes the aggregated metrics at the end of a run.
func (m *Metrics) Print(w io.Writer) {
	fmt.Fprintln(w, "=== Simulation Metrics ===")
	fmt.Fprintf(w, "Trips Started        : %d\n", m.TripsStarted)
	fmt.Fprintf(w, "Trips Finished       : %d\n", m.TripsFinished)
	fmt.Fprintf(w, "Trips Failed         : %d (stalled %d)\n", m.TripsFailed, m.TripsStalled)
	if m.TripsFinished > 0 {
		mean := m.meanTripTicks()
		fmt.Fprintf(w, "Average Trip Time    : %.2f ticks (%.1f s)\n", mean, mean/float64(network.TicksPerSecond))
	}
	fmt.Fprintf(w, "Turns Granted        : %d\n", m.TurnsGranted)
	fmt.Fprintf(w, "Turn Deferrals       : %d\n", m.TurnDeferrals)
	fmt.Fprintf(w, "Lane Full Retries    : %d\n", m.LaneFullRetries)
	fmt.Fprintf(w, "Parking Retries      : %d\n", m.ParkingRetries)
	fmt.Fprintf(w, "Zone Denials         : %d\n", m.ZoneDenials)
	fmt.Fprintf(w, "Boardings            : %d\n", m.Boardings)
	fmt.Fprintf(w, "Alightings           : %d\n", m.Alightings)
	fmt.Fprintf(w, "Commands Dispatched  : %d\n", m.CommandsDispatched)
	fmt.Fprintf(w, "Peak Pending         : %d\n", m.PeakPending)
	fmt.Fprintf(w, "Simulation Ended     : tick %d\n", m.SimEndedTime)
}
