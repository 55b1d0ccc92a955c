package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traffic-sim/traffic-sim/sim/network"
)

func TestCapacityPool_CeilingIsHard(t *testing.T) {
	// GIVEN a key with room for two
	p := NewCapacityPool("seats")
	p.SetCeiling(1, 2)

	// WHEN three acquisitions are attempted
	got := []bool{p.TryAcquire(1), p.TryAcquire(1), p.TryAcquire(1)}

	// THEN the third is refused
	assert.Equal(t, []bool{true, true, false}, got)
	assert.Equal(t, 2, p.Used(1))
	assert.NoError(t, p.Check())

	// WHEN one unit is returned
	p.Release(1)

	// THEN there is room again
	assert.True(t, p.TryAcquire(1))
}

func TestCapacityPool_UnknownKeyRefused(t *testing.T) {
	p := NewCapacityPool("zones")
	assert.False(t, p.TryAcquire(42))
	assert.Equal(t, 0, p.Ceiling(42))
}

func TestCapacityPool_ReleaseEmpty_Panics(t *testing.T) {
	p := NewCapacityPool("zones")
	p.SetCeiling(1, 1)
	assert.Panics(t, func() { p.Release(1) })
}

func TestCapacityPool_Restore(t *testing.T) {
	p := NewCapacityPool("zones")
	p.SetCeiling(1, 1)
	p.SetCeiling(2, 3)
	require.True(t, p.TryAcquire(2))

	r := RestoreCapacityPool(p.State())

	assert.Equal(t, "zones", r.Name)
	assert.Equal(t, 1, r.Used(2))
	assert.Equal(t, 3, r.Ceiling(2))
	assert.True(t, r.TryAcquire(1))
	assert.False(t, r.TryAcquire(1))
}

func TestZone_Touches(t *testing.T) {
	z := Zone{ID: 1, Lanes: []network.LaneID{4, 5}, Capacity: 1}
	assert.True(t, z.touches([]network.LaneID{1, 5}))
	assert.False(t, z.touches([]network.LaneID{1, 2}))
	assert.False(t, z.touches(nil))
}
