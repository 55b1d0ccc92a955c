package scenario

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traffic-sim/traffic-sim/sim"
	"github.com/traffic-sim/traffic-sim/sim/internal/testutil"
	"github.com/traffic-sim/traffic-sim/sim/network"
	"github.com/traffic-sim/traffic-sim/sim/trace"
)

const commuteYAML = `
name: commute
seed_parked_fraction: 0.5
zones:
  - {id: 1, name: east, lanes: [2], capacity: 3}
people:
  - id: driver
    home: {lane: 101, dist_m: 0}
    trips:
      - depart_s: 0
        legs:
          - {kind: drive, vehicle: car, from: {lane: 1, dist_m: 0}, dest: 2}
          - {kind: park}
  - id: rider
    home: {lane: 101, dist_m: 80}
    trips:
      - depart_s: 0
        legs:
          - {kind: walk, to: {lane: 101, dist_m: 100}}
          - {kind: ride_bus, route: R1, board: 1, alight: 2}
buses:
  - {route: R1, depart_s: 20}
`

func newSim(t *testing.T, m *network.Map) *sim.Simulator {
	t.Helper()
	cfg := sim.DefaultConfig()
	cfg.Run.CheckInvariants = true
	s, err := sim.NewSimulator(m, network.NewPathfinder(m), cfg)
	require.NoError(t, err)
	return s
}

func count(s *sim.Simulator, kind trace.Kind) int {
	n := 0
	for _, r := range s.Events() {
		if r.Kind == kind {
			n++
		}
	}
	return n
}

func TestParseApplyRun(t *testing.T) {
	// GIVEN a scenario with a driver, a bus rider and half the parking seeded
	f, err := Parse([]byte(commuteYAML))
	require.NoError(t, err)
	m := testutil.Corridor(t, testutil.CorridorOptions{ParkingSpots: 4})
	s := newSim(t, m)

	// WHEN it is applied and run to completion
	require.NoError(t, f.Apply(s))
	require.NoError(t, s.Run(context.Background()))

	// THEN both trips finish and the driver found one of the free spots
	assert.Equal(t, 2, s.Metrics().TripsFinished)
	assert.Equal(t, 0, s.Metrics().TripsFailed)
	assert.Equal(t, 1, count(s, trace.ParkingAcquired))
	assert.Equal(t, 1, count(s, trace.Boarded))
	assert.Equal(t, 1, count(s, trace.ZoneEntered))
}

func TestApply_OwnedCarsParkBeforeSeeding(t *testing.T) {
	// GIVEN one spot, fully seeded, and a person whose car is parked there
	f, err := Parse([]byte(`
seed_parked_fraction: 1
people:
  - home: {lane: 101, dist_m: 0}
    car_parked_at: 2
    trips:
      - depart_s: 0
        legs:
          - {kind: drive, vehicle: car, dest: 2}
`))
	require.NoError(t, err)
	s := newSim(t, testutil.Corridor(t, testutil.CorridorOptions{ParkingSpots: 1}))

	// WHEN it is applied
	require.NoError(t, f.Apply(s))

	// THEN the owned car holds the spot and the seeder found none left
	car, ok := s.Car(1)
	require.True(t, ok)
	assert.Equal(t, sim.PersonID(1), car.Owner)
	_, ok = s.Car(2)
	assert.False(t, ok)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown field", "peple: []\n"},
		{"unknown leg field", "people:\n  - home: {lane: 101, dist_m: 0}\n    trips:\n      - depart_s: 0\n        legs:\n          - {kind: walk, too: 3}\n"},
		{"fraction above one", "seed_parked_fraction: 1.5\npeople: []\n"},
		{"not yaml", "people: [\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			assert.Error(t, err)
		})
	}
}

func TestApply_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown bus route",
			yaml:    "people: []\nbuses:\n  - {route: R9, depart_s: 0}\n",
			wantErr: `unknown route "R9"`,
		},
		{
			name: "unknown ride route",
			yaml: `
people:
  - id: lost
    home: {lane: 101, dist_m: 0}
    trips:
      - depart_s: 0
        legs:
          - {kind: ride_bus, route: R9, board: 1, alight: 2}
`,
			wantErr: `person lost: trip 0 leg 0: unknown route "R9"`,
		},
		{
			name: "walk without destination",
			yaml: `
people:
  - home: {lane: 101, dist_m: 0}
    trips:
      - depart_s: 0
        legs:
          - {kind: walk}
`,
			wantErr: "walk leg needs to",
		},
		{
			name: "home on a road",
			yaml: `
people:
  - id: p1
    home: {lane: 1, dist_m: 0}
    trips: []
`,
			wantErr: "person p1",
		},
		{
			name:    "zone on unknown lane",
			yaml:    "zones:\n  - {id: 1, lanes: [99], capacity: 1}\npeople: []\n",
			wantErr: "99",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f, err := Parse([]byte(tc.yaml))
			require.NoError(t, err)
			s := newSim(t, testutil.Corridor(t, testutil.CorridorOptions{}))

			err = f.Apply(s)

			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_ExampleScenario(t *testing.T) {
	f, err := Load(testutil.RepoPath(t, "examples", "scenarios", "grid_commute.yaml"))
	require.NoError(t, err)
	assert.NotEmpty(t, f.People)
	assert.NotEmpty(t, f.Buses)
}
