package network_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traffic-sim/traffic-sim/sim/internal/testutil"
	"github.com/traffic-sim/traffic-sim/sim/network"
)

const smallMapYAML = `
name: small
turn_length_m: 8
intersections:
  - id: 1
  - id: 2
    control: traffic_signal
    signal:
      offset_s: 5
      stages:
        - duration_s: 20
          allow:
            - {from: W, turns: [straight]}
        - duration_s: 10
          allow: []
  - id: 3
lanes:
  - {id: 1, type: driving, road: main, length_m: 50, speed_limit_mps: 10, src: 1, dst: 2, src_side: E, dst_side: W, priority: 2}
  - {id: 2, type: driving, road: main, length_m: 50, speed_limit_mps: 10, src: 2, dst: 3, src_side: E, dst_side: W, parking_spots: 3}
  - {id: 3, type: sidewalk, length_m: 50, speed_limit_mps: 1.4, src: 1, dst: 2, src_side: E, dst_side: W}
  - {id: 4, type: sidewalk, length_m: 50, speed_limit_mps: 1.4, src: 2, dst: 3, src_side: E, dst_side: W}
bus_stops:
  - {id: 1, name: a, lane: 1, sidewalk: {lane: 3, dist_m: 50}}
  - {id: 2, name: b, lane: 2, sidewalk: {lane: 4, dist_m: 50}}
bus_routes:
  - {id: 7, name: R7, stops: [1, 2]}
`

func TestParse_ValidMap(t *testing.T) {
	m, err := network.Parse([]byte(smallMapYAML))
	require.NoError(t, err)

	assert.Equal(t, "small", m.Name)
	assert.Equal(t, []network.LaneID{1, 2, 3, 4}, m.LaneIDs())
	assert.Equal(t, network.Meters(50), m.Lane(1).Length)
	assert.Equal(t, 2, m.Lane(1).Priority)
	assert.Equal(t, 3, m.Lane(2).ParkingSpots)

	sig := m.Intersection(2).Signal
	require.NotNil(t, sig)
	assert.Equal(t, int64(50), sig.Offset)
	assert.Equal(t, int64(300), sig.CycleLength())

	tid, ok := m.TurnBetween(1, 2)
	require.True(t, ok)
	assert.Equal(t, network.Meters(8), m.Turn(tid).Length)

	id, ok := m.BusRouteByName("R7")
	require.True(t, ok)
	assert.Equal(t, network.BusRouteID(7), id)
}

func TestParse_UnknownFieldRejected(t *testing.T) {
	_, err := network.Parse([]byte("name: x\nlanez: []\n"))
	require.Error(t, err)
}

func TestParse_NegativeSignalOffset(t *testing.T) {
	data := strings.Replace(smallMapYAML, "offset_s: 5", "offset_s: -100", 1)
	_, err := network.Parse([]byte(data))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "offset")
}

func TestParse_BadSide(t *testing.T) {
	data := `
intersections: [{id: 1}, {id: 2}]
lanes:
  - {id: 1, type: driving, length_m: 50, speed_limit_mps: 10, src: 1, dst: 2, src_side: X, dst_side: W}
`
	_, err := network.Parse([]byte(data))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "src_side")
}

func TestLoad_ExampleMap(t *testing.T) {
	m, err := network.Load(testutil.RepoPath(t, "examples", "grid.yaml"))
	require.NoError(t, err)
	assert.NotEmpty(t, m.LaneIDs())
	assert.NotEmpty(t, m.BusRouteIDs())
}
