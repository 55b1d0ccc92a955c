package network

// Conflicts are decided without geometry. Every side of an intersection owns
// two slots on a ring of eight: incoming traffic at 2*side, outgoing traffic at
// 2*side+1. A turn is a chord between its entry slot and its exit slot; two
// turns cross when their chords interleave on the ring.

const ringSlots = 8

func turnKind(entry, exit Side) TurnKind {
	switch (int(exit) - int(entry) + 4) % 4 {
	case 0:
		return TurnUTurn
	case 1:
		return TurnLeft
	case 2:
		return TurnStraight
	default:
		return TurnRight
	}
}

func (m *Map) chord(t *Turn) (int, int) {
	in := m.lanes[t.ID.Src]
	out := m.lanes[t.ID.Dst]
	return 2 * int(in.DstSide), 2*int(out.SrcSide) + 1
}

func (m *Map) turnsConflict(a, b *Turn) bool {
	if a.ID.Parent != b.ID.Parent {
		return false
	}
	// Merging into the same lane, which includes two vehicles on the same turn.
	if a.ID.Dst == b.ID.Dst {
		return true
	}
	if a.ID.Src == b.ID.Src {
		return false
	}
	a1, a2 := m.chord(a)
	b1, b2 := m.chord(b)
	if a1 == b1 || a1 == b2 || a2 == b1 || a2 == b2 {
		return false
	}
	return onArc(b1, a1, a2) != onArc(b2, a1, a2)
}

// onArc reports whether x lies strictly inside the clockwise arc from lo to hi.
func onArc(x, lo, hi int) bool {
	span := (hi - lo + ringSlots) % ringSlots
	off := (x - lo + ringSlots) % ringSlots
	return off > 0 && off < span
}
