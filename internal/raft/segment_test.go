package raft

import "testing"

func entry(term Term, payload string) Entry {
	return Entry{Term: term, Command: Command{Kind: CommandApplication, Payload: []byte(payload)}}
}

func TestSegmentedLogAppendAndReadBack(t *testing.T) {
	dir := t.TempDir()
	l, err := OpenSegmentedLog(dir, 64<<20)
	if err != nil {
		t.Fatalf("OpenSegmentedLog: %v", err)
	}
	defer l.Close()

	if idx, err := l.Append([]Entry{entry(1, "a"), entry(1, "b")}); err != nil || idx != 1 {
		t.Fatalf("Append: idx=%d err=%v", idx, err)
	}
	if l.AppendIndex() != 1 {
		t.Fatalf("expected AppendIndex 1, got %d", l.AppendIndex())
	}
	e, err := l.ReadEntry(0)
	if err != nil || string(e.Command.Payload) != "a" {
		t.Fatalf("ReadEntry(0): %+v, %v", e, err)
	}
	term, err := l.ReadEntryTerm(1)
	if err != nil || term != 1 {
		t.Fatalf("ReadEntryTerm(1): %d, %v", term, err)
	}
	if _, err := l.ReadEntry(5); err != ErrOutOfRange {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
}

func TestSegmentedLogSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	l, err := OpenSegmentedLog(dir, 64<<20)
	if err != nil {
		t.Fatalf("OpenSegmentedLog: %v", err)
	}
	if _, err := l.Append([]Entry{entry(1, "a"), entry(2, "b"), entry(2, "c")}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenSegmentedLog(dir, 64<<20)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if reopened.AppendIndex() != 2 {
		t.Fatalf("expected AppendIndex 2 after reopen, got %d", reopened.AppendIndex())
	}
	e, err := reopened.ReadEntry(2)
	if err != nil || string(e.Command.Payload) != "c" {
		t.Fatalf("ReadEntry(2) after reopen: %+v, %v", e, err)
	}
}

func TestSegmentedLogTruncate(t *testing.T) {
	dir := t.TempDir()
	l, err := OpenSegmentedLog(dir, 64<<20)
	if err != nil {
		t.Fatalf("OpenSegmentedLog: %v", err)
	}
	defer l.Close()

	if _, err := l.Append([]Entry{entry(1, "a"), entry(1, "b"), entry(2, "c")}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Truncate(1); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if l.AppendIndex() != 0 {
		t.Fatalf("expected AppendIndex 0 after truncate, got %d", l.AppendIndex())
	}
	if _, err := l.ReadEntry(1); err != ErrOutOfRange {
		t.Fatalf("expected index 1 to be gone, got err=%v", err)
	}

	// Append should be able to continue cleanly after a truncate.
	if _, err := l.Append([]Entry{entry(3, "d")}); err != nil {
		t.Fatalf("Append after truncate: %v", err)
	}
	e, err := l.ReadEntry(1)
	if err != nil || string(e.Command.Payload) != "d" {
		t.Fatalf("ReadEntry(1) after re-append: %+v, %v", e, err)
	}
}

func TestSegmentedLogPruneAdvancesPrevIndex(t *testing.T) {
	dir := t.TempDir()
	l, err := OpenSegmentedLog(dir, 64<<20)
	if err != nil {
		t.Fatalf("OpenSegmentedLog: %v", err)
	}
	defer l.Close()

	if _, err := l.Append([]Entry{entry(1, "a"), entry(1, "b"), entry(2, "c")}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Prune(1); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if l.PrevIndex() != 1 {
		t.Fatalf("expected PrevIndex 1, got %d", l.PrevIndex())
	}
	if l.PrevTerm() != 1 {
		t.Fatalf("expected PrevTerm 1, got %d", l.PrevTerm())
	}
	if _, err := l.ReadEntry(0); err != ErrOutOfRange {
		t.Fatalf("expected index 0 pruned away, got err=%v", err)
	}
	e, err := l.ReadEntry(2)
	if err != nil || string(e.Command.Payload) != "c" {
		t.Fatalf("ReadEntry(2) after prune: %+v, %v", e, err)
	}
}

func TestSegmentedLogRollsOverOnSizeThreshold(t *testing.T) {
	dir := t.TempDir()
	// A tiny threshold forces a roll after the very first entry.
	l, err := OpenSegmentedLog(dir, 1)
	if err != nil {
		t.Fatalf("OpenSegmentedLog: %v", err)
	}
	defer l.Close()

	for i := 0; i < 5; i++ {
		if _, err := l.Append([]Entry{entry(1, "x")}); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	if len(l.segments) < 2 {
		t.Fatalf("expected at least 2 segments after rollover, got %d", len(l.segments))
	}
	if l.AppendIndex() != 4 {
		t.Fatalf("expected AppendIndex 4, got %d", l.AppendIndex())
	}
	for i := LogIndex(0); i <= 4; i++ {
		if _, err := l.ReadEntry(i); err != nil {
			t.Fatalf("ReadEntry(%d) across segment boundary: %v", i, err)
		}
	}
}
