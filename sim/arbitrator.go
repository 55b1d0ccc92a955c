package sim

import (
	"fmt"

	"github.com/traffic-sim/traffic-sim/sim/network"
)

// TurnRequest is a pending request to cross an intersection. ArrivedAt and
// Seq are fixed by the first request and kept across retries.
type TurnRequest struct {
	Agent     AgentID        `json:"agent"`
	Turn      network.TurnID `json:"turn"`
	ArrivedAt int64          `json:"arrived_at"`
	Seq       int64          `json:"seq"`
}

// InFlightTurn is a granted turn not yet completed.
type InFlightTurn struct {
	Agent AgentID        `json:"agent"`
	Turn  network.TurnID `json:"turn"`
}

// TurnDecision is the outcome of Arbitrator.Request.
type TurnDecision struct {
	Granted bool
	Reason  string
}

// Arbitrator owns the pending and in-flight turns of one intersection and
// applies its control policy. It never holds two conflicting turns in flight.
type Arbitrator struct {
	ID      network.IntersectionID
	Control network.ControlType

	net      *network.Map
	policy   controlPolicy
	plan     *network.SignalPlan
	pending  []TurnRequest // in arrival order
	inFlight []InFlightTurn
	nextSeq  int64

	stage          int
	stageStartedAt int64
}

// NewArbitrator creates the arbitrator for intersection id.
func NewArbitrator(net *network.Map, id network.IntersectionID, stopSignDelay int64) *Arbitrator {
	i := net.Intersection(id)
	if i == nil {
		panic(fmt.Sprintf("NewArbitrator: unknown intersection %d", id))
	}
	return &Arbitrator{
		ID:      id,
		Control: i.Control,
		net:     net,
		policy:  newControlPolicy(i.Control, stopSignDelay),
		plan:    i.Signal,
	}
}

// Request asks for agent to take turn at now. canEnter is false when the
// destination lane has no room; the request is still registered so its
// arrival order counts, but it is not granted.
func (a *Arbitrator) Request(now int64, agent AgentID, turn network.TurnID, canEnter bool) TurnDecision {
	if turn.Parent != a.ID {
		invariantf("turn %v requested at intersection %d", turn, a.ID)
	}
	req := a.register(now, agent, turn)
	if !canEnter {
		return TurnDecision{Reason: fmt.Sprintf("lane %d full", turn.Dst)}
	}
	for _, f := range a.inFlight {
		if a.net.TurnsConflict(f.Turn, turn) {
			return TurnDecision{Reason: fmt.Sprintf("conflicts with %v on %v", f.Agent, f.Turn)}
		}
	}
	ok, reason := a.policy.mayGo(a, req, now)
	if !ok {
		return TurnDecision{Reason: reason}
	}
	a.dropPending(agent)
	a.inFlight = append(a.inFlight, InFlightTurn{Agent: agent, Turn: turn})
	return TurnDecision{Granted: true, Reason: reason}
}

func (a *Arbitrator) register(now int64, agent AgentID, turn network.TurnID) TurnRequest {
	for i, p := range a.pending {
		if p.Agent == agent {
			if p.Turn != turn {
				a.pending[i].Turn = turn
			}
			return a.pending[i]
		}
	}
	a.nextSeq++
	req := TurnRequest{Agent: agent, Turn: turn, ArrivedAt: now, Seq: a.nextSeq}
	a.pending = append(a.pending, req)
	return req
}

// Release completes agent's in-flight turn.
func (a *Arbitrator) Release(agent AgentID) {
	for i, f := range a.inFlight {
		if f.Agent == agent {
			a.inFlight = append(a.inFlight[:i:i], a.inFlight[i+1:]...)
			return
		}
	}
	invariantf("%v released a turn it does not hold at intersection %d", agent, a.ID)
}

// Forget drops every request and in-flight turn of agent.
func (a *Arbitrator) Forget(agent AgentID) {
	a.dropPending(agent)
	for i, f := range a.inFlight {
		if f.Agent == agent {
			a.inFlight = append(a.inFlight[:i:i], a.inFlight[i+1:]...)
			return
		}
	}
}

func (a *Arbitrator) dropPending(agent AgentID) {
	for i, p := range a.pending {
		if p.Agent == agent {
			a.pending = append(a.pending[:i:i], a.pending[i+1:]...)
			return
		}
	}
}

// Pending returns the waiting requests in arrival order.
func (a *Arbitrator) Pending() []TurnRequest { return append([]TurnRequest(nil), a.pending...) }

// InFlight returns the granted, uncompleted turns.
func (a *Arbitrator) InFlight() []InFlightTurn { return append([]InFlightTurn(nil), a.inFlight...) }

// Stage returns the active signal stage.
func (a *Arbitrator) Stage() int { return a.stage }

// firstStageChange is when stage 0 first ends.
func (a *Arbitrator) firstStageChange() int64 {
	return a.plan.Offset + a.plan.Stages[0].Duration
}

// AdvanceStage moves a signal to its next stage at now and returns how long
// the new stage lasts.
func (a *Arbitrator) AdvanceStage(now int64) int64 {
	if a.plan == nil {
		invariantf("stage change at intersection %d without a signal", a.ID)
	}
	a.stage = (a.stage + 1) % len(a.plan.Stages)
	a.stageStartedAt = now
	return a.plan.Stages[a.stage].Duration
}

// Check verifies that no two in-flight turns conflict.
func (a *Arbitrator) Check() error {
	for i := range a.inFlight {
		for j := i + 1; j < len(a.inFlight); j++ {
			if a.net.TurnsConflict(a.inFlight[i].Turn, a.inFlight[j].Turn) {
				return fmt.Errorf("intersection %d: %v on %v conflicts with %v on %v", a.ID,
					a.inFlight[i].Agent, a.inFlight[i].Turn, a.inFlight[j].Agent, a.inFlight[j].Turn)
			}
		}
	}
	return nil
}

// ArbitratorState is the serializable form of an Arbitrator.
type ArbitratorState struct {
	ID             network.IntersectionID `json:"id"`
	Pending        []TurnRequest          `json:"pending"`
	InFlight       []InFlightTurn         `json:"in_flight"`
	NextSeq        int64                  `json:"next_seq"`
	Stage          int                    `json:"stage"`
	StageStartedAt int64                  `json:"stage_started_at"`
}

// State captures the arbitrator for a snapshot.
func (a *Arbitrator) State() ArbitratorState {
	return ArbitratorState{
		ID:             a.ID,
		Pending:        a.Pending(),
		InFlight:       a.InFlight(),
		NextSeq:        a.nextSeq,
		Stage:          a.stage,
		StageStartedAt: a.stageStartedAt,
	}
}

func (a *Arbitrator) restore(st ArbitratorState) {
	a.pending = append([]TurnRequest(nil), st.Pending...)
	a.inFlight = append([]InFlightTurn(nil), st.InFlight...)
	a.nextSeq = st.NextSeq
	a.stage = st.Stage
	a.stageStartedAt = st.StageStartedAt
}
