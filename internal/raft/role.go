package raft

// State is the read-only snapshot of everything role logic needs to
// decide an Outcome. The RaftMachine builds one of these before each
// dispatch; role functions never see or touch the live machine, keeping
// handle() a pure (State, Message) -> Outcome function as mandated by
// spec §4.3/§9.
type State struct {
	Self MemberId

	Role        Role
	CurrentTerm Term
	VotedFor    MemberId // NilMember means "no vote cast this term"

	Log     Log
	Members MemberSet

	CommitIndex LogIndex
	LastApplied LogIndex
	Leader      MemberId // NilMember means "no known leader this term"

	Config MachineConfig

	// VotesGranted is populated only when Role == Candidate.
	VotesGranted map[MemberId]bool

	// Followers is populated only when Role == Leader.
	Followers FollowerStates
}

// lastLogTerm is the term of the most recent log entry (or PrevTerm if the
// log is empty), used in every "at least as up-to-date" comparison.
func (s State) lastLogTerm() Term {
	idx := s.Log.AppendIndex()
	if idx == s.Log.PrevIndex() {
		return s.Log.PrevTerm()
	}
	t, err := s.Log.ReadEntryTerm(idx)
	if err != nil {
		return s.Log.PrevTerm()
	}
	return t
}

// isAtLeastAsUpToDate implements the spec §4.4 candidate-log comparison:
// lexicographic order on (lastLogTerm, lastLogIndex).
func isAtLeastAsUpToDate(candidateTerm Term, candidateIndex LogIndex, ownTerm Term, ownIndex LogIndex) bool {
	if candidateTerm != ownTerm {
		return candidateTerm > ownTerm
	}
	return candidateIndex >= ownIndex
}

// Handle is the single entry point for all role dispatch: it applies the
// universal preamble from spec §4.4 ("If message.term > currentTerm...",
// "If message.term < currentTerm...") and then dispatches to the
// role-specific handler. A higher-term message is re-handled as a Follower
// by mergeDispatch, and the Candidate handler re-handles a same-term
// AppendEntries/Heartbeat as a Follower once it steps down (spec: "step
// down to Follower and re-handle").
//
// ElectionTimeout and HeartbeatTimeout are enqueued by the driver's own
// timers with a zero envelope; they always refer to the current term and
// are never treated as stale.
func Handle(s State, m Message) Outcome {
	term := m.MessageTerm()
	switch m.(type) {
	case ElectionTimeout, HeartbeatTimeout:
		term = s.CurrentTerm
	}

	if term > s.CurrentTerm {
		s.Role = Follower
		s.CurrentTerm = term
		s.VotedFor = NilMember
		s.VotesGranted = nil
		s.Followers = nil
		o := withTermChange(emptyOutcome(Follower), term)
		o.SteppedDown = true
		return mergeDispatch(s, m, o)
	}

	if term < s.CurrentTerm {
		return rejectStale(s, m)
	}

	switch s.Role {
	case Follower:
		return handleFollower(s, m)
	case Candidate:
		return handleCandidate(s, m)
	case Leader:
		return handleLeader(s, m)
	default:
		return emptyOutcome(s.Role)
	}
}

// mergeDispatch re-runs dispatch at the post-step-down state (now
// Follower, term bumped) and merges the step-down bookkeeping from base
// into whatever Outcome the re-handle produces, so the term/vote change
// is never lost even when the specific message type yields no further
// effect at Follower.
func mergeDispatch(s State, m Message, base Outcome) Outcome {
	next := handleFollower(s, m)
	next.NewTerm = base.NewTerm
	next.NewVote = base.NewVote
	next.VoteChanged = base.VoteChanged
	next.SteppedDown = base.SteppedDown
	return next
}

// rejectStale handles the "message.term < currentTerm" branch: minimal
// reject where a response exists, drop otherwise.
func rejectStale(s State, m Message) Outcome {
	o := emptyOutcome(s.Role)
	switch msg := m.(type) {
	case VoteRequest:
		o.Outbound = []Outbound{{Recipient: To(msg.From), Message: VoteResponse{
			envelope: envelope{Term: s.CurrentTerm, From: s.Self},
			Granted:  false,
		}}}
	case AppendEntriesRequest:
		o.Outbound = []Outbound{{Recipient: To(msg.From), Message: AppendEntriesResponse{
			envelope:    envelope{Term: s.CurrentTerm, From: s.Self},
			Success:     false,
			MatchIndex:  s.Log.AppendIndex(),
			AppendIndex: s.Log.AppendIndex(),
		}}}
	case Heartbeat:
		o.Outbound = []Outbound{{Recipient: To(msg.From), Message: HeartbeatResponse{
			envelope:    envelope{Term: s.CurrentTerm, From: s.Self},
			AppendIndex: s.Log.AppendIndex(),
		}}}
	}
	return o
}
