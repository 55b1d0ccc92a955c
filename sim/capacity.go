package sim

import (
	"fmt"

	"github.com/samber/lo"

	"github.com/traffic-sim/traffic-sim/sim/network"
)

// CapacityPool is a set of keyed counters, each with a ceiling. It gates
// capacity zones (key = zone id) and bus seats (key = bus id).
type CapacityPool struct {
	Name     string
	ceilings map[int]int
	used     map[int]int
}

// NewCapacityPool returns an empty pool.
func NewCapacityPool(name string) *CapacityPool {
	return &CapacityPool{Name: name, ceilings: make(map[int]int), used: make(map[int]int)}
}

// SetCeiling declares key with a capacity.
func (p *CapacityPool) SetCeiling(key, ceiling int) {
	p.ceilings[key] = ceiling
}

// TryAcquire takes one unit of key. Unknown keys are never granted.
func (p *CapacityPool) TryAcquire(key int) bool {
	ceiling, ok := p.ceilings[key]
	if !ok || p.used[key] >= ceiling {
		return false
	}
	p.used[key]++
	return true
}

// Release returns one unit of key. Releasing an empty key panics.
func (p *CapacityPool) Release(key int) {
	if p.used[key] <= 0 {
		invariantf("%s pool: releasing %d with nothing held", p.Name, key)
	}
	p.used[key]--
	if p.used[key] == 0 {
		delete(p.used, key)
	}
}

// Used returns the units of key currently held.
func (p *CapacityPool) Used(key int) int { return p.used[key] }

// Ceiling returns the capacity of key.
func (p *CapacityPool) Ceiling(key int) int { return p.ceilings[key] }

// Check verifies that no key is above its ceiling.
func (p *CapacityPool) Check() error {
	for _, k := range sortedIDs(p.used) {
		if p.used[k] > p.ceilings[k] {
			return fmt.Errorf("%s pool: key %d holds %d above ceiling %d", p.Name, k, p.used[k], p.ceilings[k])
		}
	}
	return nil
}

// PoolState is the serializable form of a CapacityPool.
type PoolState struct {
	Name     string      `json:"name"`
	Ceilings map[int]int `json:"ceilings"`
	Used     map[int]int `json:"used"`
}

// State captures the pool for a snapshot.
func (p *CapacityPool) State() PoolState {
	st := PoolState{Name: p.Name, Ceilings: make(map[int]int, len(p.ceilings)), Used: make(map[int]int, len(p.used))}
	for k, v := range p.ceilings {
		st.Ceilings[k] = v
	}
	for k, v := range p.used {
		st.Used[k] = v
	}
	return st
}

// RestoreCapacityPool rebuilds a pool from a snapshot.
func RestoreCapacityPool(st PoolState) *CapacityPool {
	p := NewCapacityPool(st.Name)
	for k, v := range st.Ceilings {
		p.ceilings[k] = v
	}
	for k, v := range st.Used {
		p.used[k] = v
	}
	return p
}

// Zone is a cordon of lanes with a ceiling on the number of drive legs
// inside it at once.
type Zone struct {
	ID       int              `json:"id"`
	Name     string           `json:"name,omitempty"`
	Lanes    []network.LaneID `json:"lanes"`
	Capacity int              `json:"capacity"`
}

func (z Zone) touches(lanes []network.LaneID) bool {
	return lo.Some(z.Lanes, lanes)
}
