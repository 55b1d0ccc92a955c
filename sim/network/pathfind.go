package network

import (
	"container/heap"
	"errors"
	"fmt"
)

// ErrNoPath is returned when no route satisfies a PathRequest.
var ErrNoPath = errors.New("no path found")

// PathConstraints selects which lanes a route may use.
type PathConstraints string

const (
	ConstraintCar        PathConstraints = "car"
	ConstraintBike       PathConstraints = "bike"
	ConstraintBus        PathConstraints = "bus"
	ConstraintPedestrian PathConstraints = "pedestrian"
)

// CanUse reports whether agents under c may travel on lanes of type t.
func (c PathConstraints) CanUse(t LaneType) bool {
	switch c {
	case ConstraintCar:
		return t == LaneDriving
	case ConstraintBike:
		return t == LaneDriving || t == LaneBiking
	case ConstraintBus:
		return t == LaneDriving || t == LaneBus
	case ConstraintPedestrian:
		return t == LaneSidewalk
	default:
		return false
	}
}

// PathRequest asks for a route between two positions.
type PathRequest struct {
	Start       Position
	End         Position
	Constraints PathConstraints
}

func (r PathRequest) String() string {
	return fmt.Sprintf("%s from %v to %v", r.Constraints, r.Start, r.End)
}

// StepKind tags a PathStep.
type StepKind uint8

const (
	StepLane StepKind = iota
	StepContraflowLane
	StepTurn
)

// PathStep is one element of a route.
type PathStep struct {
	Kind StepKind `json:"kind"`
	Lane LaneID   `json:"lane,omitempty"`
	Turn TurnID   `json:"turn,omitempty"`
}

// Path is an ordered list of steps. Vehicle paths alternate Lane, Turn, Lane;
// pedestrian paths contain only Lane and ContraflowLane steps.
type Path struct {
	Steps  []PathStep `json:"steps"`
	Start  Position   `json:"start"`
	End    Position   `json:"end"`
	Length Distance   `json:"length"`
}

// Lanes returns the lanes of the path in order.
func (p *Path) Lanes() []LaneID {
	var out []LaneID
	for _, s := range p.Steps {
		if s.Kind != StepTurn {
			out = append(out, s.Lane)
		}
	}
	return out
}

// Pathfinder computes routes over a finalized Map.
type Pathfinder struct {
	m *Map
}

// NewPathfinder returns a Pathfinder for m. m must be finalized.
func NewPathfinder(m *Map) *Pathfinder {
	if !m.finalized {
		panic("network: NewPathfinder on a map that is not finalized")
	}
	return &Pathfinder{m: m}
}

// FindPath routes req. Vehicle routes are cheapest by free-flow travel time,
// pedestrian routes by walking distance. Equal-cost alternatives resolve to
// the lowest node id so results are deterministic.
func (pf *Pathfinder) FindPath(req PathRequest) (*Path, error) {
	start := pf.m.Lane(req.Start.Lane)
	end := pf.m.Lane(req.End.Lane)
	if start == nil || end == nil {
		return nil, fmt.Errorf("%v: %w", req, ErrNoPath)
	}
	if !req.Constraints.CanUse(start.Type) || !req.Constraints.CanUse(end.Type) {
		return nil, fmt.Errorf("%v: endpoints not usable: %w", req, ErrNoPath)
	}
	if req.Start.Dist < 0 || req.Start.Dist > start.Length || req.End.Dist < 0 || req.End.Dist > end.Length {
		return nil, fmt.Errorf("%v: position off lane: %w", req, ErrNoPath)
	}
	if req.Constraints == ConstraintPedestrian {
		return pf.walkingPath(req)
	}
	return pf.vehiclePath(req)
}

// travelCost is the free-flow traversal time of a distance in milliseconds.
func travelCost(d Distance, s Speed) int64 {
	return int64(d) * 1000 / int64(s)
}

func (pf *Pathfinder) vehiclePath(req PathRequest) (*Path, error) {
	m := pf.m
	startLane := m.Lane(req.Start.Lane)
	if req.Start.Lane == req.End.Lane && req.End.Dist >= req.Start.Dist {
		return &Path{
			Steps:  []PathStep{{Kind: StepLane, Lane: req.Start.Lane}},
			Start:  req.Start,
			End:    req.End,
			Length: req.End.Dist - req.Start.Dist,
		}, nil
	}

	// Nodes are lanes entered through a turn. The start lane is not a node
	// until it is re-entered, which only matters when the goal lies behind the
	// start position on the same lane.
	dist := map[LaneID]int64{}
	prev := map[LaneID]TurnID{}
	pq := &nodeQueue{}
	expand := func(from *Lane, base int64) {
		for _, tid := range m.Intersection(from.Dst).Turns {
			if tid.Src != from.ID {
				continue
			}
			next := m.Lane(tid.Dst)
			if !req.Constraints.CanUse(next.Type) {
				continue
			}
			cost := base + travelCost(m.Turn(tid).Length, from.SpeedLimit) + travelCost(next.Length, next.SpeedLimit)
			old, seen := dist[next.ID]
			if !seen || cost < old || (cost == old && tid.Less(prev[next.ID])) {
				dist[next.ID] = cost
				prev[next.ID] = tid
				heap.Push(pq, nodeItem{node: int(next.ID), cost: cost})
			}
		}
	}
	expand(startLane, travelCost(startLane.Length-req.Start.Dist, startLane.SpeedLimit))

	done := map[LaneID]bool{}
	found := false
	for pq.Len() > 0 {
		it := heap.Pop(pq).(nodeItem)
		cur := LaneID(it.node)
		if done[cur] || it.cost != dist[cur] {
			continue
		}
		done[cur] = true
		if cur == req.End.Lane {
			found = true
			break
		}
		expand(m.Lane(cur), it.cost)
	}
	if !found {
		return nil, fmt.Errorf("%v: %w", req, ErrNoPath)
	}

	rev := []PathStep{{Kind: StepLane, Lane: req.End.Lane}}
	length := req.End.Dist + startLane.Length - req.Start.Dist
	cur := req.End.Lane
	for {
		tid := prev[cur]
		rev = append(rev, PathStep{Kind: StepTurn, Turn: tid})
		length += m.Turn(tid).Length
		cur = tid.Src
		rev = append(rev, PathStep{Kind: StepLane, Lane: cur})
		if cur == req.Start.Lane {
			break
		}
		length += m.Lane(cur).Length
	}
	steps := make([]PathStep, len(rev))
	for i := range rev {
		steps[i] = rev[len(rev)-1-i]
	}
	return &Path{Steps: steps, Start: req.Start, End: req.End, Length: length}, nil
}

type walkEdge struct {
	lane       LaneID
	contraflow bool
}

func (pf *Pathfinder) walkingPath(req PathRequest) (*Path, error) {
	m := pf.m
	start := m.Lane(req.Start.Lane)
	end := m.Lane(req.End.Lane)
	if req.Start.Lane == req.End.Lane {
		kind := StepLane
		length := req.End.Dist - req.Start.Dist
		if length < 0 {
			kind = StepContraflowLane
			length = -length
		}
		return &Path{
			Steps:  []PathStep{{Kind: kind, Lane: req.Start.Lane}},
			Start:  req.Start,
			End:    req.End,
			Length: length,
		}, nil
	}

	// Nodes are intersections; the first hop leaves the start lane in either
	// direction.
	dist := map[IntersectionID]int64{}
	prev := map[IntersectionID]walkEdge{}
	pq := &nodeQueue{}
	relax := func(node IntersectionID, cost int64, via walkEdge) {
		if old, ok := dist[node]; ok && old <= cost {
			return
		}
		dist[node] = cost
		prev[node] = via
		heap.Push(pq, nodeItem{node: int(node), cost: cost})
	}
	relax(start.Dst, int64(start.Length-req.Start.Dist), walkEdge{lane: start.ID})
	relax(start.Src, int64(req.Start.Dist), walkEdge{lane: start.ID, contraflow: true})

	sidewalks := map[IntersectionID][]walkEdge{}
	for _, id := range m.LaneIDs() {
		l := m.Lane(id)
		if !l.Type.IsSidewalk() {
			continue
		}
		sidewalks[l.Src] = append(sidewalks[l.Src], walkEdge{lane: l.ID})
		sidewalks[l.Dst] = append(sidewalks[l.Dst], walkEdge{lane: l.ID, contraflow: true})
	}

	done := map[IntersectionID]bool{}
	for pq.Len() > 0 {
		it := heap.Pop(pq).(nodeItem)
		cur := IntersectionID(it.node)
		if done[cur] || it.cost != dist[cur] {
			continue
		}
		done[cur] = true
		for _, e := range sidewalks[cur] {
			l := m.Lane(e.lane)
			next := l.Dst
			if e.contraflow {
				next = l.Src
			}
			relax(next, it.cost+int64(l.Length), e)
		}
	}

	best := int64(-1)
	var bestNode IntersectionID
	var finalStep PathStep
	try := func(node IntersectionID, extra Distance, kind StepKind) {
		d, ok := dist[node]
		if !ok {
			return
		}
		total := d + int64(extra)
		if best < 0 || total < best || (total == best && node < bestNode) {
			best, bestNode = total, node
			finalStep = PathStep{Kind: kind, Lane: end.ID}
		}
	}
	try(end.Src, req.End.Dist, StepLane)
	try(end.Dst, end.Length-req.End.Dist, StepContraflowLane)
	if best < 0 {
		return nil, fmt.Errorf("%v: %w", req, ErrNoPath)
	}

	var rev []PathStep
	rev = append(rev, finalStep)
	cur := bestNode
	for {
		e := prev[cur]
		kind := StepLane
		if e.contraflow {
			kind = StepContraflowLane
		}
		rev = append(rev, PathStep{Kind: kind, Lane: e.lane})
		if e.lane == start.ID {
			break
		}
		l := m.Lane(e.lane)
		if e.contraflow {
			cur = l.Dst
		} else {
			cur = l.Src
		}
	}
	steps := make([]PathStep, len(rev))
	for i := range rev {
		steps[i] = rev[len(rev)-1-i]
	}
	return &Path{Steps: steps, Start: req.Start, End: req.End, Length: Distance(best)}, nil
}

type nodeItem struct {
	node int
	cost int64
}

// nodeQueue is a min-heap ordered by (cost, node).
type nodeQueue []nodeItem

func (q nodeQueue) Len() int { return len(q) }
func (q nodeQueue) Less(i, j int) bool {
	if q[i].cost != q[j].cost {
		return q[i].cost < q[j].cost
	}
	return q[i].node < q[j].node
}
func (q nodeQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *nodeQueue) Push(x any) { *q = append(*q, x.(nodeItem)) }

func (q *nodeQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
