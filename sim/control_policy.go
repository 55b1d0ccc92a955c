package sim

import (
	"fmt"

	"github.com/traffic-sim/traffic-sim/sim/network"
)

// controlPolicy decides whether a pending request may go now. The arbitrator
// has already ruled out conflicts with in-flight turns.
type controlPolicy interface {
	mayGo(a *Arbitrator, req TurnRequest, now int64) (bool, string)
}

// newControlPolicy creates a policy by control type.
// Panics on unknown types; the map validates control types on load.
func newControlPolicy(control network.ControlType, stopSignDelay int64) controlPolicy {
	switch control {
	case network.ControlUncontrolled:
		return uncontrolled{}
	case network.ControlStopSign:
		return stopSign{delay: stopSignDelay}
	case network.ControlTrafficSignal:
		return trafficSignal{}
	default:
		panic(fmt.Sprintf("unhandled control type %q", control))
	}
}

// uncontrolled yields to conflicting traffic on a higher-priority lane, then to
// whoever arrived first, then to the lower agent id.
type uncontrolled struct{}

func (uncontrolled) mayGo(a *Arbitrator, req TurnRequest, _ int64) (bool, string) {
	mine := a.net.Lane(req.Turn.Src).Priority
	for _, p := range a.pending {
		if p.Agent == req.Agent || !a.net.TurnsConflict(p.Turn, req.Turn) {
			continue
		}
		theirs := a.net.Lane(p.Turn.Src).Priority
		switch {
		case theirs > mine:
			return false, fmt.Sprintf("yield to priority lane %d", p.Turn.Src)
		case theirs < mine:
			continue
		case p.ArrivedAt < req.ArrivedAt, p.ArrivedAt == req.ArrivedAt && p.Agent.Less(req.Agent):
			return false, fmt.Sprintf("yield to %v", p.Agent)
		}
	}
	return true, "clear"
}

// stopSign requires a full stop, then serves conflicting traffic in arrival order.
type stopSign struct {
	delay int64
}

func (s stopSign) mayGo(a *Arbitrator, req TurnRequest, now int64) (bool, string) {
	if now-req.ArrivedAt < s.delay {
		return false, "stopping"
	}
	for _, p := range a.pending {
		if p.Agent == req.Agent || !a.net.TurnsConflict(p.Turn, req.Turn) {
			continue
		}
		if p.Seq < req.Seq {
			return false, fmt.Sprintf("yield to earlier arrival %v", p.Agent)
		}
	}
	return true, "clear"
}

// trafficSignal grants movements allowed by the active stage.
type trafficSignal struct{}

func (trafficSignal) mayGo(a *Arbitrator, req TurnRequest, _ int64) (bool, string) {
	stage := a.plan.Stages[a.stage]
	from := a.net.Lane(req.Turn.Src).DstSide
	kind := a.net.Turn(req.Turn).Kind
	if !stage.Allows(from, kind) {
		return false, fmt.Sprintf("red for %s %s in stage %d", from, kind, a.stage)
	}
	return true, "green"
}
