package raft

import "testing"

func baseCandidateState(self MemberId, members MemberSet, log Log) State {
	return State{
		Self:         self,
		Role:         Candidate,
		CurrentTerm:  2,
		VotedFor:     self,
		Log:          log,
		Members:      members,
		CommitIndex:  NoIndex,
		LastApplied:  NoIndex,
		Leader:       NilMember,
		Config:       DefaultMachineConfig(self, members.Members, ""),
		VotesGranted: map[MemberId]bool{},
	}
}

func TestFollowerElectionTimeoutStartsElection(t *testing.T) {
	self, peer := newID(1), newID(2)
	s := baseFollowerState(self, memberSet(self, peer), newMemLog())
	s.CurrentTerm = 1

	o := Handle(s, ElectionTimeout{envelope: envelope{Term: 1, From: self}})

	if o.NextRole != Candidate {
		t.Fatalf("expected to become Candidate, got %v", o.NextRole)
	}
	if o.NewTerm == nil || *o.NewTerm != 2 {
		t.Fatalf("expected term to bump to 2, got %v", o.NewTerm)
	}
	if o.NewVote == nil || *o.NewVote != self {
		t.Fatal("expected self-vote")
	}
	if len(o.Outbound) != 1 || o.Outbound[0].Recipient != BroadcastTo {
		t.Fatal("expected a single broadcast VoteRequest")
	}
	if _, ok := o.Outbound[0].Message.(VoteRequest); !ok {
		t.Fatalf("expected VoteRequest, got %T", o.Outbound[0].Message)
	}
}

func TestCandidateBecomesLeaderOnMajority(t *testing.T) {
	self, p1, p2 := newID(1), newID(2), newID(3)
	s := baseCandidateState(self, memberSet(self, p1, p2), newMemLog())

	o := Handle(s, VoteResponse{envelope: envelope{Term: 2, From: p1}, Granted: true})

	if o.NextRole != Leader {
		t.Fatalf("expected to become Leader with 2/3 votes, got %v", o.NextRole)
	}
	if o.VoteGrantedBy == nil || *o.VoteGrantedBy != p1 {
		t.Fatal("expected VoteGrantedBy to record the granting peer")
	}
	if !o.ElectionWonInThisTerm {
		t.Fatal("expected ElectionWonInThisTerm")
	}
	// Leader "on entry": a no-op append plus a heartbeat per peer.
	if len(o.LogOps) != 1 || o.LogOps[0].Kind != LogOpAppend || len(o.LogOps[0].Entries) != 1 {
		t.Fatalf("expected a single no-op append, got %+v", o.LogOps)
	}
	if len(o.Outbound) != 2 {
		t.Fatalf("expected one heartbeat per peer, got %d", len(o.Outbound))
	}
	if len(o.FollowerStateUpdates) != 2 {
		t.Fatalf("expected follower state seeded for both peers, got %d", len(o.FollowerStateUpdates))
	}
	for _, u := range o.FollowerStateUpdates {
		// The no-op itself lands at index 0 (appendIndex was NoIndex on an
		// empty log); nextIndex must point AT it, not past it, or an idle
		// leader's heartbeat loop will never replicate the no-op at all.
		if u.NextIndex != 0 {
			t.Fatalf("expected NextIndex seeded to 0 (the no-op's own index), got %d for peer %v", u.NextIndex, u.Peer)
		}
		if u.MatchIndex != NoIndex {
			t.Fatalf("expected MatchIndex seeded to NoIndex, got %d for peer %v", u.MatchIndex, u.Peer)
		}
	}
}

func TestCandidateStaysCandidateWithoutMajority(t *testing.T) {
	self, p1, p2, p3 := newID(1), newID(2), newID(3), newID(4)
	s := baseCandidateState(self, memberSet(self, p1, p2, p3), newMemLog())

	o := Handle(s, VoteResponse{envelope: envelope{Term: 2, From: p1}, Granted: true})

	if o.NextRole != Candidate {
		t.Fatalf("expected to remain Candidate with 2/4 votes, got %v", o.NextRole)
	}
	if o.VoteGrantedBy == nil || *o.VoteGrantedBy != p1 {
		t.Fatal("expected VoteGrantedBy to still be recorded")
	}
}

func TestCandidateIgnoresVoteResponseFromStaleTerm(t *testing.T) {
	self, p1 := newID(1), newID(2)
	s := baseCandidateState(self, memberSet(self, p1), newMemLog())

	o := Handle(s, VoteResponse{envelope: envelope{Term: 1, From: p1}, Granted: true})

	if o.VoteGrantedBy != nil {
		t.Fatal("expected a stale-term vote response to be ignored entirely")
	}
	if o.NextRole != Candidate {
		t.Fatal("expected no role change")
	}
}

func TestCandidateStepsDownOnHeartbeatSameTerm(t *testing.T) {
	self, leader := newID(1), newID(2)
	s := baseCandidateState(self, memberSet(self, leader), newMemLog())

	o := Handle(s, Heartbeat{envelope: envelope{Term: 2, From: leader}, CommitIndex: NoIndex})

	if o.NextRole != Follower {
		t.Fatalf("expected to step down to Follower on same-term Heartbeat, got %v", o.NextRole)
	}
	if o.LeaderAdvance == nil || *o.LeaderAdvance != leader {
		t.Fatal("expected LeaderAdvance to record the heartbeating leader")
	}
}
