// Implements the per-lane vehicle queue. Vehicles enter at the back and leave
// from the front once they reach the end of the lane.

package sim

import (
	"fmt"
	"strings"

	"github.com/traffic-sim/traffic-sim/sim/network"
)

// QueueEntry is one vehicle on a lane.
type QueueEntry struct {
	Agent     AgentID          `json:"agent"`
	Length    network.Distance `json:"length"`
	Speed     network.Speed    `json:"speed"`
	Start     network.Distance `json:"start"`      // position when entering
	EnteredAt int64            `json:"entered_at"` // may lie in the future for a vehicle still crossing into the lane
	Blocked   bool             `json:"blocked,omitempty"`
}

// freeFlow is where the vehicle would be at t with nobody ahead of it.
func (e QueueEntry) freeFlow(t int64) network.Distance {
	if t <= e.EnteredAt {
		return e.Start
	}
	return e.Start + network.Distance(int64(e.Speed)*(t-e.EnteredAt)/network.TicksPerSecond)
}

// QueuePosition is an entry of Queue.Positions.
type QueuePosition struct {
	Agent AgentID          `json:"agent"`
	Dist  network.Distance `json:"dist"`
}

// Queue is the ordered occupancy of one lane, front first.
// A vehicle's position at time t is its free-flow position, capped at the
// rear of the vehicle ahead minus the following distance, clamped to the lane.
type Queue struct {
	Lane       network.LaneID
	Length     network.Distance
	FollowDist network.Distance
	entries    []QueueEntry
}

// NewQueue returns an empty queue for a lane.
func NewQueue(lane network.LaneID, length, followDist network.Distance) *Queue {
	return &Queue{Lane: lane, Length: length, FollowDist: followDist}
}

// Len returns the number of vehicles on the lane.
func (q *Queue) Len() int { return len(q.entries) }

// Entries returns a copy of the entries, front first.
func (q *Queue) Entries() []QueueEntry {
	return append([]QueueEntry(nil), q.entries...)
}

func (q *Queue) positionsAt(t int64) []network.Distance {
	out := make([]network.Distance, len(q.entries))
	bound := q.Length
	for i, e := range q.entries {
		pos := min(e.freeFlow(t), bound)
		pos = max(pos, 0)
		out[i] = pos
		bound = pos - e.Length - q.FollowDist
	}
	return out
}

// Positions returns every vehicle and its position at t, front first.
func (q *Queue) Positions(t int64) []QueuePosition {
	dists := q.positionsAt(t)
	out := make([]QueuePosition, len(q.entries))
	for i, e := range q.entries {
		out[i] = QueuePosition{Agent: e.Agent, Dist: dists[i]}
	}
	return out
}

// PositionOf returns the position of agent at t.
func (q *Queue) PositionOf(agent AgentID, t int64) (network.Distance, bool) {
	i := q.index(agent)
	if i < 0 {
		return 0, false
	}
	return q.positionsAt(t)[i], true
}

// HasRoom reports whether a vehicle could enter at the lane start at t.
// An empty lane always has room.
func (q *Queue) HasRoom(t int64) bool { return q.HasRoomAt(0, t) }

// HasRoomAt reports whether a vehicle could join the back of the queue at
// dist along the lane at t: the last vehicle's rear, less the following
// distance, must be at or past dist.
func (q *Queue) HasRoomAt(dist network.Distance, t int64) bool {
	if len(q.entries) == 0 {
		return true
	}
	back := q.entries[len(q.entries)-1]
	pos := q.positionsAt(t)[len(q.entries)-1]
	return pos-back.Length-q.FollowDist >= dist
}

// EnqueueAtBack appends e behind the last vehicle. It returns ErrLaneFull when
// the last vehicle has not yet cleared the following distance at t.
func (q *Queue) EnqueueAtBack(e QueueEntry, t int64) error {
	if q.index(e.Agent) >= 0 {
		invariantf("%v enqueued twice on lane %d", e.Agent, q.Lane)
	}
	if !q.HasRoom(t) {
		return fmt.Errorf("lane %d: %w", q.Lane, ErrLaneFull)
	}
	q.entries = append(q.entries, e)
	return nil
}

// PeekFront returns the front vehicle.
func (q *Queue) PeekFront() (QueueEntry, bool) {
	if len(q.entries) == 0 {
		return QueueEntry{}, false
	}
	return q.entries[0], true
}

// TryAdvanceFront removes the front vehicle if it has reached the end of the
// lane at t.
func (q *Queue) TryAdvanceFront(t int64) (QueueEntry, bool) {
	if len(q.entries) == 0 {
		return QueueEntry{}, false
	}
	if q.positionsAt(t)[0] < q.Length {
		return QueueEntry{}, false
	}
	front := q.entries[0]
	q.entries = q.entries[1:]
	return front, true
}

// Remove takes agent off the lane wherever it is.
func (q *Queue) Remove(agent AgentID) (QueueEntry, bool) {
	i := q.index(agent)
	if i < 0 {
		return QueueEntry{}, false
	}
	e := q.entries[i]
	q.entries = append(q.entries[:i:i], q.entries[i+1:]...)
	return e, true
}

// IsFront reports whether agent is first on the lane.
func (q *Queue) IsFront(agent AgentID) bool {
	return len(q.entries) > 0 && q.entries[0].Agent == agent
}

// SetBlocked marks whether agent is waiting on the vehicle ahead.
func (q *Queue) SetBlocked(agent AgentID, blocked bool) {
	if i := q.index(agent); i >= 0 {
		q.entries[i].Blocked = blocked
	}
}

// Check verifies strict position order and that no agent appears twice.
func (q *Queue) Check(t int64) error {
	seen := make(map[AgentID]bool, len(q.entries))
	dists := q.positionsAt(t)
	for i, e := range q.entries {
		if seen[e.Agent] {
			return fmt.Errorf("lane %d: %v appears twice", q.Lane, e.Agent)
		}
		seen[e.Agent] = true
		if dists[i] < 0 || dists[i] > q.Length {
			return fmt.Errorf("lane %d: %v at %d outside lane", q.Lane, e.Agent, dists[i])
		}
		if i > 0 && dists[i] >= dists[i-1] {
			return fmt.Errorf("lane %d: %v at %d not behind %v at %d", q.Lane, e.Agent, dists[i], q.entries[i-1].Agent, dists[i-1])
		}
	}
	return nil
}

func (q *Queue) index(agent AgentID) int {
	for i, e := range q.entries {
		if e.Agent == agent {
			return i
		}
	}
	return -1
}

func (q *Queue) String() string {
	var sb strings.Builder
	sb.WriteString("[")
	for i, e := range q.entries {
		sb.WriteString(e.Agent.String())
		if i < len(q.entries)-1 {
			sb.WriteString(" ")
		}
	}
	sb.WriteString("]")
	return sb.String()
}

// travelTicks is the time to cover d at speed s, rounded up to whole ticks.
func travelTicks(d network.Distance, s network.Speed) int64 {
	if d <= 0 {
		return 0
	}
	num := int64(d) * network.TicksPerSecond
	return (num + int64(s) - 1) / int64(s)
}
