package sim

import (
	"container/heap"
	"sort"
)

// Scheduler is the time-ordered command queue of one simulation.
// Ordering: time, then handle. Handles grow with every Schedule call, so
// commands due at the same tick fire in the order they were created,
// whatever their kind.
type Scheduler struct {
	now        int64
	nextHandle Handle
	heap       commandHeap
	byHandle   map[Handle]*scheduledCommand
	foreground int
}

type scheduledCommand struct {
	handle Handle
	cmd    Command
	index  int
}

// NewScheduler returns an empty scheduler at time 0.
func NewScheduler() *Scheduler {
	return &Scheduler{
		nextHandle: 1,
		byHandle:   make(map[Handle]*scheduledCommand),
	}
}

// Now returns the time of the last dispatched command.
func (s *Scheduler) Now() int64 { return s.now }

// Len returns the number of pending commands.
func (s *Scheduler) Len() int { return s.heap.Len() }

// Foreground returns the number of pending commands not marked Background.
func (s *Scheduler) Foreground() int { return s.foreground }

// Schedule queues cmd to fire at cmd.Time and returns its handle.
// Scheduling before the current clock is a kernel bug and panics.
func (s *Scheduler) Schedule(cmd Command) Handle {
	if cmd.Time < s.now {
		invariantf("scheduling %v at tick %d before clock %d", cmd, cmd.Time, s.now)
	}
	h := s.nextHandle
	s.nextHandle++
	s.push(h, cmd)
	return h
}

func (s *Scheduler) push(h Handle, cmd Command) {
	sc := &scheduledCommand{handle: h, cmd: cmd}
	heap.Push(&s.heap, sc)
	s.byHandle[h] = sc
	if !cmd.Background {
		s.foreground++
	}
}

// Cancel removes a pending command. It reports false when the command
// already fired or was cancelled before.
func (s *Scheduler) Cancel(h Handle) bool {
	sc, ok := s.byHandle[h]
	if !ok {
		return false
	}
	heap.Remove(&s.heap, sc.index)
	s.forget(sc)
	return true
}

func (s *Scheduler) forget(sc *scheduledCommand) {
	delete(s.byHandle, sc.handle)
	if !sc.cmd.Background {
		s.foreground--
	}
}

// Peek returns the next command without removing it.
func (s *Scheduler) Peek() (Command, bool) {
	if s.heap.Len() == 0 {
		return Command{}, false
	}
	return s.heap[0].cmd, true
}

// Step pops the earliest command and advances the clock to its time.
func (s *Scheduler) Step() (Handle, Command, bool) {
	if s.heap.Len() == 0 {
		return 0, Command{}, false
	}
	sc := heap.Pop(&s.heap).(*scheduledCommand)
	s.forget(sc)
	if sc.cmd.Time < s.now {
		invariantf("clock went backwards: %d < %d", sc.cmd.Time, s.now)
	}
	s.now = sc.cmd.Time
	return sc.handle, sc.cmd, true
}

// PendingCommand is a scheduled command together with its handle.
type PendingCommand struct {
	Handle  Handle  `json:"handle"`
	Command Command `json:"command"`
}

// Pending returns every pending command in firing order.
func (s *Scheduler) Pending() []PendingCommand {
	out := make([]PendingCommand, 0, s.heap.Len())
	for _, sc := range s.heap {
		out = append(out, PendingCommand{Handle: sc.handle, Command: sc.cmd})
	}
	sort.Slice(out, func(i, j int) bool { return commandBefore(out[i].Command, out[i].Handle, out[j].Command, out[j].Handle) })
	return out
}

// SchedulerState is the serializable form of a Scheduler.
type SchedulerState struct {
	Now        int64            `json:"now"`
	NextHandle Handle           `json:"next_handle"`
	Pending    []PendingCommand `json:"pending"`
}

// State captures the scheduler for a snapshot.
func (s *Scheduler) State() SchedulerState {
	return SchedulerState{Now: s.now, NextHandle: s.nextHandle, Pending: s.Pending()}
}

// RestoreScheduler rebuilds a scheduler with the exact handles of st.
func RestoreScheduler(st SchedulerState) *Scheduler {
	s := NewScheduler()
	s.now = st.Now
	s.nextHandle = st.NextHandle
	for _, p := range st.Pending {
		if p.Handle >= s.nextHandle {
			invariantf("pending handle %d not below next handle %d", p.Handle, s.nextHandle)
		}
		s.push(p.Handle, p.Command)
	}
	return s
}

func commandBefore(a Command, ah Handle, b Command, bh Handle) bool {
	if a.Time != b.Time {
		return a.Time < b.Time
	}
	return ah < bh
}

// commandHeap implements heap.Interface and keeps each element's index
// current so Cancel can remove from the middle.
type commandHeap []*scheduledCommand

func (h commandHeap) Len() int { return len(h) }

func (h commandHeap) Less(i, j int) bool {
	return commandBefore(h[i].cmd, h[i].handle, h[j].cmd, h[j].handle)
}

func (h commandHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *commandHeap) Push(x any) {
	sc := x.(*scheduledCommand)
	sc.index = len(*h)
	*h = append(*h, sc)
}

func (h *commandHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[0 : n-1]
	return item
}
