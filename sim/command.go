package sim

import (
	"fmt"

	"github.com/traffic-sim/traffic-sim/sim/network"
)

// CommandKind names the handler a command is dispatched to.
type CommandKind string

const (
	// trip orchestration
	CmdStartTrip CommandKind = "start_trip"
	CmdStartLeg  CommandKind = "start_leg"

	// driving (cars, bikes and bus vehicles)
	CmdStartDriving CommandKind = "start_driving"
	CmdReachLaneEnd CommandKind = "reach_lane_end"
	CmdRequestTurn  CommandKind = "request_turn"
	CmdFinishTurn   CommandKind = "finish_turn"
	CmdPark         CommandKind = "park"
	CmdZoneRetry    CommandKind = "zone_retry"

	// walking
	CmdFinishWalking CommandKind = "finish_walking"

	// transit
	CmdSpawnBus  CommandKind = "spawn_bus"
	CmdBusDepart CommandKind = "bus_depart"

	// intersections
	CmdSignalStage CommandKind = "signal_stage"
)

// Command is a unit of scheduled work. It names its owner by id only; the
// handler resolves the owner through the simulator's tables when it fires.
type Command struct {
	Time         int64                  `json:"time"`
	Kind         CommandKind            `json:"kind"`
	Agent        AgentID                `json:"agent"`
	Trip         TripID                 `json:"trip,omitempty"`
	Intersection network.IntersectionID `json:"intersection,omitempty"`
	// Background commands never keep a run alive on their own.
	Background bool `json:"background,omitempty"`
}

func (c Command) String() string {
	owner := c.Agent.String()
	if c.Intersection != 0 {
		owner = fmt.Sprintf("i%d", c.Intersection)
	}
	if c.Trip != 0 {
		owner = fmt.Sprintf("%s trip%d", owner, c.Trip)
	}
	return fmt.Sprintf("%s(%s)", c.Kind, owner)
}

// Handle identifies a scheduled command. Handles are the creation sequence
// numbers used to break ties between commands due at the same time.
type Handle int64
