package raft

// handleLeader implements the spec §4.4 "Leader" behaviors. s.Role is
// always Leader on entry; AppendEntries/VoteRequest at a strictly higher
// term were already stepped down by Handle's preamble.
func handleLeader(s State, m Message) Outcome {
	switch msg := m.(type) {
	case NewEntryRequest:
		return leaderHandleNewEntry(s, [][]byte{msg.Payload})
	case NewBatchRequest:
		return leaderHandleNewEntry(s, msg.Payloads)
	case AppendEntriesResponse:
		return leaderHandleAppendResponse(s, msg)
	case HeartbeatResponse:
		return leaderHandleHeartbeatResponse(s, msg)
	case HeartbeatTimeout:
		return leaderHandleHeartbeatTimeout(s)
	case memberSetRequest:
		return leaderHandleMemberSet(s, msg)
	default:
		return emptyOutcome(Leader)
	}
}

// leaderHandleMemberSet appends a MemberSet entry (spec §4.6). The caller
// (RaftMachine.ProposeMemberSet) has already enforced the
// one-uncommitted-change-at-a-time rule before enqueueing this message.
func leaderHandleMemberSet(s State, msg memberSetRequest) Outcome {
	entry := Entry{Term: s.CurrentTerm, Command: Command{Kind: CommandMemberSet, Members: msg.set}}
	return leaderAppendAndReplicate(s, []Entry{entry})
}

func leaderHandleNewEntry(s State, payloads [][]byte) Outcome {
	entries := make([]Entry, len(payloads))
	for i, p := range payloads {
		entries[i] = Entry{Term: s.CurrentTerm, Command: Command{Kind: CommandApplication, Payload: p}}
	}
	return leaderAppendAndReplicate(s, entries)
}

// leaderAppendAndReplicate appends entries and immediately builds a
// replication batch for every peer. The peer-facing State's Log is
// overlaid with the not-yet-durable entries (pendingTailLog) so the
// freshly submitted command is included in this round's AppendEntries
// rather than waiting for the entry to actually land on disk, which the
// driver's commit() step only does after this Outcome is built.
func leaderAppendAndReplicate(s State, entries []Entry) Outcome {
	o := emptyOutcome(Leader)
	o.LogOps = append(o.LogOps, LogOp{Kind: LogOpAppend, Entries: entries})

	pending := s
	pending.Log = pendingTailLog{Log: s.Log, tail: entries}

	lastIndex := pending.Log.AppendIndex()
	for _, p := range s.Members.Members {
		if p == s.Self {
			continue
		}
		o.Outbound = append(o.Outbound, replicationMessage(pending, p, lastIndex))
	}
	return o
}

// pendingTailLog overlays entries that an Outcome is about to append, but
// that the driver has not yet committed to the real Log, so
// replicationMessage can include them in the very Outbound batch the
// Outcome carries rather than deferring them to the next replication
// round.
type pendingTailLog struct {
	Log
	tail []Entry
}

func (l pendingTailLog) AppendIndex() LogIndex {
	return l.Log.AppendIndex() + LogIndex(len(l.tail))
}

func (l pendingTailLog) ReadEntry(index LogIndex) (Entry, error) {
	base := l.Log.AppendIndex()
	if index <= base {
		return l.Log.ReadEntry(index)
	}
	i := index - base - 1
	if i < 0 || int(i) >= len(l.tail) {
		return Entry{}, ErrOutOfRange
	}
	return l.tail[i], nil
}

func (l pendingTailLog) ReadEntryTerm(index LogIndex) (Term, error) {
	base := l.Log.AppendIndex()
	if index <= base {
		return l.Log.ReadEntryTerm(index)
	}
	e, err := l.ReadEntry(index)
	if err != nil {
		return 0, err
	}
	return e.Term, nil
}

// replicationMessage builds the AppendEntries batch owed to peer, given
// its current nextIndex, bounded by the configured byte/count budget
// (spec §9: "specify a byte budget too").
func replicationMessage(s State, peer MemberId, _ LogIndex) Outbound {
	fstate := s.Followers[peer]
	nextIndex := fstate.NextIndex
	if nextIndex < s.Log.PrevIndex()+1 {
		nextIndex = s.Log.PrevIndex() + 1
	}

	prevLogIndex := nextIndex - 1
	var prevLogTerm Term
	if prevLogIndex == s.Log.PrevIndex() {
		prevLogTerm = s.Log.PrevTerm()
	} else if t, err := s.Log.ReadEntryTerm(prevLogIndex); err == nil {
		prevLogTerm = t
	} else {
		// prevLogIndex has been pruned out from under this follower; it
		// needs a snapshot instead of a stream.
		return Outbound{Recipient: To(peer), Message: LogCompactionInfo{
			envelope:  envelope{Term: s.CurrentTerm, From: s.Self},
			PrevIndex: s.Log.PrevIndex(),
		}}
	}

	var entries []Entry
	appendIndex := s.Log.AppendIndex()
	batchBytes := 0
	for idx := nextIndex; idx <= appendIndex; idx++ {
		if len(entries) >= s.Config.MaxAppendBatchEntries {
			break
		}
		e, err := s.Log.ReadEntry(idx)
		if err != nil {
			break
		}
		sz := len(encodeCommand(e.Command))
		if batchBytes > 0 && batchBytes+sz > s.Config.MaxAppendBatchBytes {
			break
		}
		entries = append(entries, e)
		batchBytes += sz
	}

	return Outbound{Recipient: To(peer), Message: AppendEntriesRequest{
		envelope:     envelope{Term: s.CurrentTerm, From: s.Self},
		PrevLogIndex: prevLogIndex,
		PrevLogTerm:  prevLogTerm,
		Entries:      entries,
		LeaderCommit: s.CommitIndex,
	}}
}

func leaderHandleAppendResponse(s State, msg AppendEntriesResponse) Outcome {
	o := emptyOutcome(Leader)

	if msg.Success {
		match := msg.MatchIndex
		if cur := s.Followers[msg.From].MatchIndex; cur > match {
			match = cur
		}
		o.FollowerStateUpdates = append(o.FollowerStateUpdates, FollowerStateUpdate{
			Peer:       msg.From,
			MatchIndex: match,
			NextIndex:  match + 1,
		})

		newCommit := computeCommitAdvance(s, msg.From, match)
		if newCommit != nil {
			o.CommitIndexAdvance = newCommit
		}
		return o
	}

	// Failure: decrement nextIndex, bounded below by prevIndex+1, and let
	// the next HeartbeatTimeout retry; never advance matchIndex.
	cur := s.Followers[msg.From]
	next := cur.NextIndex - 1
	if floor := s.Log.PrevIndex() + 1; next < floor {
		next = floor
	}
	o.FollowerStateUpdates = append(o.FollowerStateUpdates, FollowerStateUpdate{
		Peer:       msg.From,
		MatchIndex: cur.MatchIndex,
		NextIndex:  next,
	})
	return o
}

// computeCommitAdvance implements the spec §4.4 commit advancement rule:
// the highest N > commitIndex such that a majority of members have
// matchIndex >= N and entryTerm(N) == currentTerm.
func computeCommitAdvance(s State, updatedPeer MemberId, updatedMatch LogIndex) *LogIndex {
	matchOf := func(id MemberId) LogIndex {
		if id == s.Self {
			return s.Log.AppendIndex()
		}
		if id == updatedPeer {
			return updatedMatch
		}
		return s.Followers[id].MatchIndex
	}

	best := s.CommitIndex
	for n := s.Log.AppendIndex(); n > s.CommitIndex; n-- {
		term, err := s.Log.ReadEntryTerm(n)
		if err != nil || term != s.CurrentTerm {
			continue
		}
		if s.Members.HasQuorum(matchOf, n) {
			best = n
			break
		}
	}
	if best <= s.CommitIndex {
		return nil
	}
	return &best
}

func leaderHandleHeartbeatTimeout(s State) Outcome {
	o := emptyOutcome(Leader)
	o.HeartbeatTimerReset = true

	appendIndex := s.Log.AppendIndex()
	for _, p := range s.Members.Members {
		if p == s.Self {
			continue
		}
		fstate := s.Followers[p]
		if fstate.NextIndex > appendIndex {
			o.Outbound = append(o.Outbound, Outbound{Recipient: To(p), Message: Heartbeat{
				envelope:    envelope{Term: s.CurrentTerm, From: s.Self},
				CommitIndex: s.CommitIndex,
				CommitTerm:  s.lastLogTerm(),
			}})
			continue
		}
		o.Outbound = append(o.Outbound, replicationMessage(s, p, appendIndex))
	}
	return o
}

func leaderHandleHeartbeatResponse(s State, msg HeartbeatResponse) Outcome {
	o := emptyOutcome(Leader)
	retainedFloor := s.Log.PrevIndex()
	if msg.AppendIndex < retainedFloor {
		o.Outbound = []Outbound{{Recipient: To(msg.From), Message: LogCompactionInfo{
			envelope:  envelope{Term: s.CurrentTerm, From: s.Self},
			PrevIndex: retainedFloor,
		}}}
	}
	return o
}
