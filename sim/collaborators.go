package sim

import "github.com/traffic-sim/traffic-sim/sim/network"

// Pathfinder routes agents over the network. *network.Pathfinder is the
// production implementation; tests substitute their own.
type Pathfinder interface {
	FindPath(req network.PathRequest) (*network.Path, error)
}

var _ Pathfinder = (*network.Pathfinder)(nil)
