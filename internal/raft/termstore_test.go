package raft

import "testing"

func TestTermStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ts, err := NewTermStore(dir)
	if err != nil {
		t.Fatalf("NewTermStore: %v", err)
	}

	if term, err := ts.ReadTerm(); err != nil || term != 0 {
		t.Fatalf("expected term 0 on fresh store, got %d, %v", term, err)
	}
	if _, _, ok, err := ts.ReadVote(); err != nil || ok {
		t.Fatalf("expected no vote on fresh store, got ok=%v err=%v", ok, err)
	}

	if err := ts.WriteTerm(7); err != nil {
		t.Fatalf("WriteTerm: %v", err)
	}
	if term, err := ts.ReadTerm(); err != nil || term != 7 {
		t.Fatalf("ReadTerm after write: %d, %v", term, err)
	}

	candidate := newID(9)
	if err := ts.WriteVote(7, candidate); err != nil {
		t.Fatalf("WriteVote: %v", err)
	}
	term, votedFor, ok, err := ts.ReadVote()
	if err != nil || !ok || term != 7 || votedFor != candidate {
		t.Fatalf("ReadVote after write: term=%d votedFor=%v ok=%v err=%v", term, votedFor, ok, err)
	}
}

func TestTermStoreClearedVoteReadsAsNoVote(t *testing.T) {
	dir := t.TempDir()
	ts, err := NewTermStore(dir)
	if err != nil {
		t.Fatalf("NewTermStore: %v", err)
	}

	if err := ts.WriteVote(3, NilMember); err != nil {
		t.Fatalf("WriteVote(NilMember): %v", err)
	}
	_, votedFor, ok, err := ts.ReadVote()
	if err != nil {
		t.Fatalf("ReadVote: %v", err)
	}
	if ok {
		t.Fatalf("expected a cleared vote to read back as ok=false, got votedFor=%v", votedFor)
	}
}

func TestTermStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ts, err := NewTermStore(dir)
	if err != nil {
		t.Fatalf("NewTermStore: %v", err)
	}
	candidate := newID(4)
	if err := ts.WriteVote(2, candidate); err != nil {
		t.Fatalf("WriteVote: %v", err)
	}
	if err := ts.WriteTerm(2); err != nil {
		t.Fatalf("WriteTerm: %v", err)
	}

	reopened, err := NewTermStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	term, err := reopened.ReadTerm()
	if err != nil || term != 2 {
		t.Fatalf("ReadTerm after reopen: %d, %v", term, err)
	}
	_, votedFor, ok, err := reopened.ReadVote()
	if err != nil || !ok || votedFor != candidate {
		t.Fatalf("ReadVote after reopen: votedFor=%v ok=%v err=%v", votedFor, ok, err)
	}
}
