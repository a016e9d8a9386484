package raft

import "testing"

func baseLeaderState(self MemberId, members MemberSet, log Log, followers FollowerStates) State {
	return State{
		Self:        self,
		Role:        Leader,
		CurrentTerm: 3,
		VotedFor:    self,
		Log:         log,
		Members:     members,
		CommitIndex: NoIndex,
		LastApplied: NoIndex,
		Leader:      self,
		Config:      DefaultMachineConfig(self, members.Members, ""),
		Followers:   followers,
	}
}

func TestLeaderNewEntryReplicatesToAllPeers(t *testing.T) {
	self, p1, p2 := newID(1), newID(2), newID(3)
	log := newMemLog()
	followers := NewFollowerStates([]MemberId{p1, p2}, log.AppendIndex())
	s := baseLeaderState(self, memberSet(self, p1, p2), log, followers)

	o := Handle(s, NewEntryRequest{envelope: envelope{Term: 3, From: self}, Payload: []byte("cmd")})

	if len(o.LogOps) != 1 || o.LogOps[0].Kind != LogOpAppend || len(o.LogOps[0].Entries) != 1 {
		t.Fatalf("expected a single-entry append, got %+v", o.LogOps)
	}
	if len(o.Outbound) != 2 {
		t.Fatalf("expected one AppendEntries per peer, got %d", len(o.Outbound))
	}
	for _, ob := range o.Outbound {
		req, ok := ob.Message.(AppendEntriesRequest)
		if !ok {
			t.Fatalf("expected AppendEntriesRequest, got %T", ob.Message)
		}
		if len(req.Entries) != 1 {
			t.Fatalf("expected the new entry in the replication batch, got %d entries", len(req.Entries))
		}
	}
}

func TestLeaderCommitAdvancesOnQuorumMatch(t *testing.T) {
	self, p1, p2 := newID(1), newID(2), newID(3)
	log := newMemLog()
	log.Append([]Entry{{Term: 3, Command: Command{Kind: CommandApplication, Payload: []byte("a")}}})
	followers := FollowerStates{
		p1: {MatchIndex: NoIndex, NextIndex: 0},
		p2: {MatchIndex: NoIndex, NextIndex: 0},
	}
	s := baseLeaderState(self, memberSet(self, p1, p2), log, followers)

	o := Handle(s, AppendEntriesResponse{
		envelope:    envelope{Term: 3, From: p1},
		Success:     true,
		MatchIndex:  0,
		AppendIndex: 0,
	})

	if o.CommitIndexAdvance == nil || *o.CommitIndexAdvance != 0 {
		t.Fatalf("expected commitIndex to advance to 0 (leader+p1 quorum of 3), got %v", o.CommitIndexAdvance)
	}
	if len(o.FollowerStateUpdates) != 1 || o.FollowerStateUpdates[0].MatchIndex != 0 {
		t.Fatalf("expected p1's matchIndex updated to 0, got %+v", o.FollowerStateUpdates)
	}
}

func TestLeaderWithholdsCommitWithoutQuorum(t *testing.T) {
	self, p1, p2, p3, p4 := newID(1), newID(2), newID(3), newID(4), newID(5)
	log := newMemLog()
	log.Append([]Entry{{Term: 3}, {Term: 3}}) // indices 0,1, index 0 already committed
	followers := FollowerStates{
		p1: {MatchIndex: 0, NextIndex: 1},
		p2: {MatchIndex: 0, NextIndex: 1},
		p3: {MatchIndex: 0, NextIndex: 1},
		p4: {MatchIndex: 0, NextIndex: 1},
	}
	s := baseLeaderState(self, memberSet(self, p1, p2, p3, p4), log, followers)
	s.CommitIndex = 0

	o := Handle(s, AppendEntriesResponse{
		envelope:    envelope{Term: 3, From: p1},
		Success:     true,
		MatchIndex:  1,
		AppendIndex: 1,
	})

	if o.CommitIndexAdvance != nil {
		t.Fatalf("expected no commit advance: only leader+p1 (2/5) have matched index 1, got %v", *o.CommitIndexAdvance)
	}
}

func TestLeaderDoesNotCommitEntryFromPriorTerm(t *testing.T) {
	self, p1 := newID(1), newID(2)
	log := newMemLog()
	log.Append([]Entry{{Term: 2}}) // committed under an earlier term
	followers := FollowerStates{p1: {MatchIndex: 0, NextIndex: 1}}
	s := baseLeaderState(self, memberSet(self, p1), log, followers)
	s.CurrentTerm = 3 // leader has since advanced terms without writing its own entry yet

	o := Handle(s, AppendEntriesResponse{
		envelope:    envelope{Term: 3, From: p1},
		Success:     true,
		MatchIndex:  0,
		AppendIndex: 0,
	})

	if o.CommitIndexAdvance != nil {
		t.Fatal("expected no commit advance: entry at index 0 was written in an earlier term")
	}
}

func TestLeaderAppendResponseFailureDecrementsNextIndex(t *testing.T) {
	self, p1 := newID(1), newID(2)
	log := newMemLog()
	log.Append([]Entry{{Term: 3}, {Term: 3}, {Term: 3}})
	followers := FollowerStates{p1: {MatchIndex: 0, NextIndex: 3}}
	s := baseLeaderState(self, memberSet(self, p1), log, followers)

	o := Handle(s, AppendEntriesResponse{
		envelope: envelope{Term: 3, From: p1},
		Success:  false,
	})

	if o.CommitIndexAdvance != nil {
		t.Fatal("expected no commit advance on a rejection")
	}
	if len(o.FollowerStateUpdates) != 1 || o.FollowerStateUpdates[0].NextIndex != 2 {
		t.Fatalf("expected nextIndex decremented to 2, got %+v", o.FollowerStateUpdates)
	}
}
