package sim

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/traffic-sim/traffic-sim/sim/internal/testutil"
	"github.com/traffic-sim/traffic-sim/sim/network"
	"github.com/traffic-sim/traffic-sim/sim/trace"
)

// newTestSim builds a simulator with invariant checks after every command.
func newTestSim(t *testing.T, m *network.Map, mutate ...func(*Config)) *Simulator {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Run.CheckInvariants = true
	for _, f := range mutate {
		f(&cfg)
	}
	s, err := NewSimulator(m, network.NewPathfinder(m), cfg)
	require.NoError(t, err)
	return s
}

func run(t *testing.T, s *Simulator) {
	t.Helper()
	require.NoError(t, s.Run(context.Background()))
}

func eventsOf(s *Simulator, kind trace.Kind) []trace.Record {
	var out []trace.Record
	for _, r := range s.Events() {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

func jsonl(t *testing.T, s *Simulator) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, trace.WriteJSONL(&buf, s.Events()))
	return buf.Bytes()
}

// home is a sidewalk position at the west end of the corridor.
var home = network.Position{Lane: testutil.CorridorSidewalk, Dist: 0}

// driver is a person who drives a new car from the start of the corridor to
// the end of its second lane, optionally parking there.
func driver(depart int64, park bool) PersonSpec {
	legs := []Leg{{
		Kind:    LegDrive,
		Vehicle: VehicleCar,
		From:    network.Position{Lane: testutil.CorridorIn, Dist: 0},
		Dest:    testutil.CorridorOut,
	}}
	if park {
		legs = append(legs, Leg{Kind: LegPark})
	}
	return PersonSpec{Home: home, Trips: []TripSpec{{Depart: depart, Legs: legs}}}
}

func addPeople(t *testing.T, s *Simulator, specs ...PersonSpec) []PersonID {
	t.Helper()
	ids := make([]PersonID, len(specs))
	for i, spec := range specs {
		id, err := s.AddPerson(spec)
		require.NoError(t, err)
		ids[i] = id
	}
	return ids
}

func tripState(t *testing.T, s *Simulator, id TripID) TripState {
	t.Helper()
	trip, ok := s.Trip(id)
	require.True(t, ok)
	return trip.State
}
