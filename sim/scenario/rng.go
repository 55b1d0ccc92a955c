package scenario

import (
	"hash/fnv"
	"math/rand"
)

// Subsystems draw from separate streams so that, for example, adding a bus
// does not move anyone's home.
const (
	SubsystemHomes   = "homes"
	SubsystemModes   = "modes"
	SubsystemDeparts = "departs"
	SubsystemPlaces  = "places"
	SubsystemParking = "parking"
)

// PartitionedRNG provides deterministic, isolated RNG instances per subsystem.
// Each subsystem is seeded with seed XOR fnv1a64(name).
//
// Not safe for concurrent use.
type PartitionedRNG struct {
	seed       int64
	subsystems map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from a master seed.
func NewPartitionedRNG(seed int64) *PartitionedRNG {
	return &PartitionedRNG{seed: seed, subsystems: make(map[string]*rand.Rand)}
}

// ForSubsystem returns the RNG of the named subsystem. The same name always
// returns the same instance.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}
	rng := rand.New(rand.NewSource(p.seed ^ fnv1a64(name)))
	p.subsystems[name] = rng
	return rng
}

// Seed returns the master seed.
func (p *PartitionedRNG) Seed() int64 { return p.seed }

func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
