package raft

// startElection implements the spec §4.4 Candidate "On entry" rule, used
// both for a Follower's ElectionTimeout and a Candidate's own
// ElectionTimeout (re-broadcast in a fresh term).
func startElection(s State) Outcome {
	newTerm := s.CurrentTerm + 1

	o := emptyOutcome(Candidate)
	o.NewTerm = &newTerm
	o.VoteChanged = true
	self := s.Self
	o.NewVote = &self
	o.ElectionStartedInThisTerm = true
	o.ElectionTimerReset = true

	o.Outbound = []Outbound{{Recipient: BroadcastTo, Message: VoteRequest{
		envelope:     envelope{Term: newTerm, From: s.Self},
		LastLogIndex: s.Log.AppendIndex(),
		LastLogTerm:  s.lastLogTerm(),
	}}}
	return o
}

// handleCandidate implements the spec §4.4 "Candidate" behaviors. s.Role
// is always Candidate on entry.
func handleCandidate(s State, m Message) Outcome {
	switch msg := m.(type) {
	case VoteResponse:
		return candidateHandleVoteResponse(s, msg)
	case AppendEntriesRequest:
		// "Any AppendEntries/Heartbeat at term >= currentTerm: step down
		// to Follower and re-handle." Handle's preamble only steps down on
		// term > currentTerm; a same-term AppendEntries from a legitimate
		// new leader must still demote us.
		return handleFollower(stepDownToFollower(s), m)
	case Heartbeat:
		return handleFollower(stepDownToFollower(s), m)
	case ElectionTimeout:
		return startElection(s)
	default:
		return emptyOutcome(Candidate)
	}
}

func stepDownToFollower(s State) State {
	s.Role = Follower
	s.VotesGranted = nil
	s.Followers = nil
	return s
}

func candidateHandleVoteResponse(s State, msg VoteResponse) Outcome {
	o := emptyOutcome(Candidate)
	if msg.Term != s.CurrentTerm || !msg.Granted {
		return o
	}
	from := msg.From
	o.VoteGrantedBy = &from

	granted := make(map[MemberId]bool, len(s.VotesGranted)+1)
	for k := range s.VotesGranted {
		granted[k] = true
	}
	granted[s.Self] = true
	granted[msg.From] = true

	if len(granted) >= s.Members.Majority() {
		o.NextRole = Leader
		o.ElectionWonInThisTerm = true
		return buildLeaderEntryOutcome(s, o)
	}

	// Not yet a majority: the driver is responsible for persisting the
	// updated votesGranted set (tracked outside Outcome, as volatile
	// Candidate-only state the machine keeps directly).
	o.NextRole = Candidate
	return o
}

// buildLeaderEntryOutcome implements the Leader "On entry" rule (spec
// §4.4): append a no-op entry at the new term and broadcast an initial
// heartbeat. followerStateUpdates are populated with NextIndex ==
// appendIndex(after the no-op) -- nothing is confirmed replicated yet, so
// the leader's next send to every peer must start with the no-op itself,
// not past it -- and MatchIndex == NoIndex, one entry per peer.
func buildLeaderEntryOutcome(s State, o Outcome) Outcome {
	noop := Entry{Term: s.CurrentTerm, Command: Command{Kind: CommandApplication, Payload: nil}}
	o.LogOps = append(o.LogOps, LogOp{Kind: LogOpAppend, Entries: []Entry{noop}})

	newAppendIndex := s.Log.AppendIndex() + 1
	leader := s.Self
	o.LeaderAdvance = &leader

	for _, p := range s.Members.Members {
		if p == s.Self {
			continue
		}
		o.FollowerStateUpdates = append(o.FollowerStateUpdates, FollowerStateUpdate{
			Peer:       p,
			MatchIndex: NoIndex,
			NextIndex:  newAppendIndex,
		})
		o.Outbound = append(o.Outbound, Outbound{Recipient: To(p), Message: Heartbeat{
			envelope:    envelope{Term: s.CurrentTerm, From: s.Self},
			CommitIndex: s.CommitIndex,
			CommitTerm:  s.lastLogTerm(),
		}})
	}
	o.HeartbeatTimerReset = true
	return o
}
