// Package sim provides the discrete-event traffic simulation kernel.
//
// # Reading Guide
//
// Start with these files to understand the kernel:
//   - scheduler.go: the command queue, ordered by (time, creation handle)
//   - simulator.go: the run loop, dispatch and the agent tables
//   - trip.go: people, trips and legs (walk, drive, park, ride_bus)
//   - driving.go: lane entry, the lane-end/turn cycle and parking
//
// # Architecture
//
// Agents never hold pointers to each other. Every command names its owner by
// id and the handler resolves it through the simulator's tables when it
// fires, so a snapshot is plain data (snapshot.go).
//
// Shared resources are owned by small managers that the invariant checker
// (invariants.go) audits after every command when run.check_invariants is on:
//   - Queue: vehicles on one lane, front first
//   - Arbitrator: turn requests and in-flight turns at one intersection
//   - ParkingManager: finite or unlimited spots
//   - CapacityPool: zone and bus seat ceilings
//
// Sub-packages:
//   - sim/network/: the static map, turn conflicts and pathfinding
//   - sim/trace/: the event stream and its summary
//   - sim/trace/sqlite/: persisted runs
//   - sim/scenario/: YAML scenarios and the seeded generator
//
// # Units
//
// Time is in ticks of 0.1 s, distances in centimeters and speeds in cm/s.
// Configuration files use seconds, meters and m/s and are converted once.
package sim
