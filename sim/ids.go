package sim

import "fmt"

// Identifiers are plain integers allocated from per-kind counters that only
// grow, so an id is never reused within a run.
type (
	CarID        int
	PedestrianID int
	BusID        int
	PersonID     int
	TripID       int
	SpotID       int
)

// AgentKind tags the variant held by an AgentID.
type AgentKind uint8

const (
	AgentNone AgentKind = iota
	AgentCar
	AgentPedestrian
	AgentBus
)

var agentKindPrefix = [...]string{"none", "car", "ped", "bus"}

// AgentID is the tagged union over CarID, PedestrianID and BusID.
type AgentID struct {
	Kind AgentKind `json:"kind"`
	N    int       `json:"n"`
}

// CarAgent wraps a CarID.
func CarAgent(id CarID) AgentID { return AgentID{Kind: AgentCar, N: int(id)} }

// PedAgent wraps a PedestrianID.
func PedAgent(id PedestrianID) AgentID { return AgentID{Kind: AgentPedestrian, N: int(id)} }

// BusAgent wraps a BusID.
func BusAgent(id BusID) AgentID { return AgentID{Kind: AgentBus, N: int(id)} }

// IsZero reports whether a is the empty id.
func (a AgentID) IsZero() bool { return a.Kind == AgentNone }

// Less orders agents by kind, then number.
func (a AgentID) Less(b AgentID) bool {
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	return a.N < b.N
}

func (a AgentID) String() string {
	if a.Kind == AgentNone {
		return ""
	}
	if int(a.Kind) >= len(agentKindPrefix) {
		return fmt.Sprintf("agent(%d)%d", a.Kind, a.N)
	}
	return fmt.Sprintf("%s%d", agentKindPrefix[a.Kind], a.N)
}

// idCounters hands out fresh ids. Snapshotted with the rest of the state.
type idCounters struct {
	Car    CarID        `json:"car"`
	Ped    PedestrianID `json:"ped"`
	Bus    BusID        `json:"bus"`
	Person PersonID     `json:"person"`
	Trip   TripID       `json:"trip"`
}

func (c *idCounters) nextCar() CarID {
	c.Car++
	return c.Car
}

func (c *idCounters) nextPed() PedestrianID {
	c.Ped++
	return c.Ped
}

func (c *idCounters) nextBus() BusID {
	c.Bus++
	return c.Bus
}

func (c *idCounters) nextTrip() TripID {
	c.Trip++
	return c.Trip
}
