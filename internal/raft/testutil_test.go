package raft

// memLog is a minimal in-memory Log used only by unit tests in this
// package; it implements the same (prevIndex, entries] contract as
// SegmentedLog without touching disk.
type memLog struct {
	entries   []Entry // entries[i] is logical index prevIndex+1+i
	prevIndex LogIndex
	prevTerm  Term
}

func newMemLog() *memLog {
	return &memLog{prevIndex: NoIndex}
}

func (l *memLog) Append(entries []Entry) (LogIndex, error) {
	l.entries = append(l.entries, entries...)
	return l.AppendIndex(), nil
}

func (l *memLog) Truncate(fromIndex LogIndex) error {
	if fromIndex <= l.prevIndex {
		l.entries = nil
		return nil
	}
	keep := fromIndex - l.prevIndex - 1
	if int(keep) < len(l.entries) {
		l.entries = l.entries[:keep]
	}
	return nil
}

func (l *memLog) Prune(upToIndex LogIndex) error {
	if upToIndex <= l.prevIndex {
		return nil
	}
	drop := upToIndex - l.prevIndex
	if int(drop) > len(l.entries) {
		drop = LogIndex(len(l.entries))
	}
	l.prevTerm = l.entryTermAt(l.prevIndex + drop)
	l.entries = l.entries[drop:]
	l.prevIndex += drop
	return nil
}

func (l *memLog) entryTermAt(idx LogIndex) Term {
	if idx == l.prevIndex {
		return l.prevTerm
	}
	i := idx - l.prevIndex - 1
	if i < 0 || int(i) >= len(l.entries) {
		return 0
	}
	return l.entries[i].Term
}

func (l *memLog) ReadEntry(index LogIndex) (Entry, error) {
	if index <= l.prevIndex || index > l.AppendIndex() {
		return Entry{}, ErrOutOfRange
	}
	return l.entries[index-l.prevIndex-1], nil
}

func (l *memLog) ReadEntryTerm(index LogIndex) (Term, error) {
	if index == l.prevIndex {
		return l.prevTerm, nil
	}
	e, err := l.ReadEntry(index)
	if err != nil {
		return 0, err
	}
	return e.Term, nil
}

func (l *memLog) AppendIndex() LogIndex { return l.prevIndex + LogIndex(len(l.entries)) }
func (l *memLog) PrevIndex() LogIndex   { return l.prevIndex }
func (l *memLog) PrevTerm() Term        { return l.prevTerm }

var _ Log = (*memLog)(nil)

func memberSet(ids ...MemberId) MemberSet { return MemberSet{Members: ids} }

func newID(b byte) MemberId {
	var id MemberId
	id[0] = b
	return id
}
