package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(s *Scheduler) []Command {
	var out []Command
	for {
		_, cmd, ok := s.Step()
		if !ok {
			return out
		}
		out = append(out, cmd)
	}
}

func TestScheduler_Step_OrdersByTimeThenCreation(t *testing.T) {
	// GIVEN commands scheduled out of time order, two of them at the same tick
	s := NewScheduler()
	s.Schedule(Command{Time: 30, Kind: CmdFinishTurn, Agent: CarAgent(1)})
	s.Schedule(Command{Time: 10, Kind: CmdRequestTurn, Agent: CarAgent(2)})
	s.Schedule(Command{Time: 10, Kind: CmdStartTrip, Agent: PedAgent(1)})

	// WHEN they are drained
	got := drain(s)

	// THEN time wins, then creation order regardless of kind
	require.Len(t, got, 3)
	assert.Equal(t, CmdRequestTurn, got[0].Kind)
	assert.Equal(t, CmdStartTrip, got[1].Kind)
	assert.Equal(t, CmdFinishTurn, got[2].Kind)
	assert.Equal(t, int64(30), s.Now())
}

func TestScheduler_Cancel(t *testing.T) {
	// GIVEN two pending commands
	s := NewScheduler()
	h1 := s.Schedule(Command{Time: 5, Kind: CmdPark, Agent: CarAgent(1)})
	s.Schedule(Command{Time: 6, Kind: CmdPark, Agent: CarAgent(2)})

	// WHEN the first is cancelled twice
	first := s.Cancel(h1)
	second := s.Cancel(h1)

	// THEN only the first cancel succeeds and the other command still fires
	assert.True(t, first)
	assert.False(t, second)
	got := drain(s)
	require.Len(t, got, 1)
	assert.Equal(t, CarAgent(2), got[0].Agent)
	assert.False(t, s.Cancel(999), "unknown handle")
}

func TestScheduler_ScheduleInPast_Panics(t *testing.T) {
	s := NewScheduler()
	s.Schedule(Command{Time: 10, Kind: CmdPark})
	s.Step()
	assert.PanicsWithError(t, "invariant violated: scheduling park() at tick 9 before clock 10", func() {
		s.Schedule(Command{Time: 9, Kind: CmdPark})
	})
}

func TestScheduler_Foreground_IgnoresBackground(t *testing.T) {
	// GIVEN one background and one foreground command
	s := NewScheduler()
	s.Schedule(Command{Time: 100, Kind: CmdSignalStage, Intersection: 1, Background: true})
	h := s.Schedule(Command{Time: 50, Kind: CmdStartTrip, Agent: PedAgent(1)})

	// THEN only the foreground command counts
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, 1, s.Foreground())

	// WHEN the foreground command is cancelled
	s.Cancel(h)

	// THEN nothing keeps a run alive
	assert.Equal(t, 0, s.Foreground())
	assert.Equal(t, 1, s.Len())
}

func TestScheduler_StateRestore_PreservesHandlesAndOrder(t *testing.T) {
	// GIVEN a scheduler with a cancelled command and an advanced clock
	s := NewScheduler()
	s.Schedule(Command{Time: 1, Kind: CmdStartTrip, Agent: PedAgent(1)})
	h := s.Schedule(Command{Time: 20, Kind: CmdPark, Agent: CarAgent(1)})
	s.Schedule(Command{Time: 20, Kind: CmdStartLeg, Agent: PedAgent(2)})
	s.Schedule(Command{Time: 15, Kind: CmdSignalStage, Background: true})
	s.Cancel(h)
	s.Step()

	// WHEN restored from its state
	r := RestoreScheduler(s.State())

	// THEN both produce the same future, including new handles
	assert.Equal(t, s.Now(), r.Now())
	assert.Equal(t, s.Foreground(), r.Foreground())
	assert.Equal(t, s.Schedule(Command{Time: 20, Kind: CmdPark}), r.Schedule(Command{Time: 20, Kind: CmdPark}))
	assert.Equal(t, drain(s), drain(r))
}
