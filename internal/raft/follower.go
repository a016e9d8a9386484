package raft

// handleFollower implements the spec §4.4 "Follower" behaviors. s.Role is
// always Follower on entry (Handle has already applied the term
// preamble).
func handleFollower(s State, m Message) Outcome {
	switch msg := m.(type) {
	case VoteRequest:
		return followerHandleVote(s, msg)
	case AppendEntriesRequest:
		return followerHandleAppend(s, msg)
	case Heartbeat:
		return followerHandleHeartbeat(s, msg)
	case LogCompactionInfo:
		return followerHandleCompactionInfo(s, msg)
	case ElectionTimeout:
		return followerHandleElectionTimeout(s)
	default:
		// AppendEntriesResponse, VoteResponse, HeartbeatResponse and
		// client-submission messages arriving at a Follower carry no
		// defined behavior; ignore.
		return emptyOutcome(Follower)
	}
}

func followerHandleVote(s State, msg VoteRequest) Outcome {
	o := emptyOutcome(Follower)

	eligible := s.VotedFor == NilMember || s.VotedFor == msg.From
	upToDate := isAtLeastAsUpToDate(msg.LastLogTerm, msg.LastLogIndex, s.lastLogTerm(), s.Log.AppendIndex())

	granted := eligible && upToDate
	if granted {
		from := msg.From
		o.NewVote = &from
		o.VoteChanged = true
		o.ElectionTimerReset = true
	}

	o.Outbound = []Outbound{{Recipient: To(msg.From), Message: VoteResponse{
		envelope: envelope{Term: s.CurrentTerm, From: s.Self},
		Granted:  granted,
	}}}
	return o
}

func followerHandleAppend(s State, msg AppendEntriesRequest) Outcome {
	o := emptyOutcome(Follower)

	appendIndex := s.Log.AppendIndex()

	termMatches := true
	if msg.PrevLogIndex != s.Log.PrevIndex() {
		if msg.PrevLogIndex > appendIndex {
			termMatches = false
		} else {
			t, err := s.Log.ReadEntryTerm(msg.PrevLogIndex)
			if err != nil || t != msg.PrevLogTerm {
				termMatches = false
			}
		}
	} else if msg.PrevLogTerm != s.Log.PrevTerm() {
		termMatches = false
	}

	if msg.PrevLogIndex > appendIndex || !termMatches {
		o.Outbound = []Outbound{{Recipient: To(msg.From), Message: AppendEntriesResponse{
			envelope:    envelope{Term: s.CurrentTerm, From: s.Self},
			Success:     false,
			MatchIndex:  appendIndex,
			AppendIndex: appendIndex,
		}}}
		return o
	}

	// Find the first incoming entry that conflicts with what we already
	// hold (same index, different term), and truncate from there; then
	// append whatever suffix of the incoming batch is genuinely new.
	conflictAt := LogIndex(-1)
	idx := msg.PrevLogIndex + 1
	for i, e := range msg.Entries {
		if idx > appendIndex {
			break
		}
		existingTerm, err := s.Log.ReadEntryTerm(idx)
		if err != nil || existingTerm != e.Term {
			conflictAt = idx
			break
		}
		idx++
		_ = i
	}

	if conflictAt != -1 {
		o.LogOps = append(o.LogOps, LogOp{Kind: LogOpTruncate, Index: conflictAt})
	}

	var toAppend []Entry
	if conflictAt != -1 {
		toAppend = msg.Entries[conflictAt-msg.PrevLogIndex-1:]
	} else if idx <= msg.PrevLogIndex+LogIndex(len(msg.Entries)) {
		toAppend = msg.Entries[idx-msg.PrevLogIndex-1:]
	}
	if len(toAppend) > 0 {
		o.LogOps = append(o.LogOps, LogOp{Kind: LogOpAppend, Entries: toAppend})
	}

	lastNewEntryIndex := msg.PrevLogIndex + LogIndex(len(msg.Entries))

	if msg.LeaderCommit > s.CommitIndex {
		newCommit := msg.LeaderCommit
		if lastNewEntryIndex < newCommit {
			newCommit = lastNewEntryIndex
		}
		if newCommit > s.CommitIndex {
			o.CommitIndexAdvance = &newCommit
		}
	}

	o.ElectionTimerReset = true
	leader := msg.From
	o.LeaderAdvance = &leader

	o.Outbound = []Outbound{{Recipient: To(msg.From), Message: AppendEntriesResponse{
		envelope:    envelope{Term: s.CurrentTerm, From: s.Self},
		Success:     true,
		MatchIndex:  lastNewEntryIndex,
		AppendIndex: lastNewEntryIndex,
	}}}
	return o
}

func followerHandleHeartbeat(s State, msg Heartbeat) Outcome {
	o := emptyOutcome(Follower)
	o.ElectionTimerReset = true
	leader := msg.From
	o.LeaderAdvance = &leader

	if msg.CommitIndex > s.CommitIndex {
		newCommit := msg.CommitIndex
		if s.Log.AppendIndex() < newCommit {
			newCommit = s.Log.AppendIndex()
		}
		if newCommit > s.CommitIndex {
			o.CommitIndexAdvance = &newCommit
		}
	}

	o.Outbound = []Outbound{{Recipient: To(msg.From), Message: HeartbeatResponse{
		envelope:    envelope{Term: s.CurrentTerm, From: s.Self},
		AppendIndex: s.Log.AppendIndex(),
	}}}
	return o
}

func followerHandleCompactionInfo(s State, msg LogCompactionInfo) Outcome {
	o := emptyOutcome(Follower)
	if s.Log.AppendIndex() < msg.PrevIndex {
		// Out-of-scope hook: a real deployment would request a snapshot
		// install from the leader or a read-replica catch-up source here.
		// The core only surfaces the need; it does not fetch snapshots.
	}
	return o
}

func followerHandleElectionTimeout(s State) Outcome {
	return startElection(s)
}
