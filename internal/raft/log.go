package raft

// Log is the durable, ordered sequence of Entry records exposed to role
// logic and the driver (spec §4.1). Implementations must make append
// durable (fsynced) before returning, and must never silently drop an
// acknowledged append.
type Log interface {
	// Append appends entries at the current end and returns the index of
	// the last appended entry. Fails with ErrLogIO on durability failure.
	Append(entries []Entry) (LogIndex, error)

	// Truncate discards all entries at fromIndex and above. Precondition:
	// fromIndex > PrevIndex().
	Truncate(fromIndex LogIndex) error

	// Prune advances PrevIndex to upToIndex (inclusive), releasing
	// storage for everything below it.
	Prune(upToIndex LogIndex) error

	// ReadEntry reads the entry at index, which must be in
	// (PrevIndex(), AppendIndex()]. Returns ErrOutOfRange otherwise.
	ReadEntry(index LogIndex) (Entry, error)

	// ReadEntryTerm is like ReadEntry but returns only the term, and
	// additionally accepts index == PrevIndex() (returning PrevTerm()).
	ReadEntryTerm(index LogIndex) (Term, error)

	AppendIndex() LogIndex
	PrevIndex() LogIndex
	PrevTerm() Term
}

// PruningPolicy decides, given the current log and driver-known state, how
// far it is safe to prune. Spec §4.1: "governed by a strategy parameter
// (by count-of-entries kept, by size, by age)".
type PruningPolicy interface {
	// SafeUpTo returns the highest index it is safe to prune to, given the
	// committed index and a safety-margin floor (min matchIndex over alive
	// peers) supplied by the caller. Implementations must never return an
	// index above safetyFloor; NoIndex means nothing may be pruned.
	SafeUpTo(commitIndex, safetyFloor LogIndex) LogIndex
}

// KeepLastN is a PruningPolicy that always retains at least N entries up
// to and including commitIndex, in addition to respecting safetyFloor.
type KeepLastN struct{ N LogIndex }

func (p KeepLastN) SafeUpTo(commitIndex, safetyFloor LogIndex) LogIndex {
	candidate := commitIndex - p.N
	if candidate > safetyFloor {
		candidate = safetyFloor
	}
	if candidate < NoIndex {
		candidate = NoIndex
	}
	return candidate
}
