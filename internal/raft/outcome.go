package raft

// LogOpKind tags the kind of deferred log mutation an Outcome requests.
type LogOpKind int

const (
	LogOpAppend LogOpKind = iota
	LogOpTruncate
	LogOpPrune
)

// LogOp is one deferred, ordered log mutation. The RaftMachine applies
// LogOps in order as part of committing an Outcome, before any outbound
// message derived from that Outcome is emitted (spec §5: "persistence...
// completes before any outbound message... is emitted").
type LogOp struct {
	Kind    LogOpKind
	Entries []Entry  // LogOpAppend
	Index   LogIndex // LogOpTruncate (discard >= Index), LogOpPrune (prune <= Index)
}

// Recipient is either a specific peer or the broadcast sentinel.
type Recipient struct {
	Broadcast bool
	To        MemberId
}

// BroadcastTo is the sentinel recipient meaning "every other current member".
var BroadcastTo = Recipient{Broadcast: true}

// To addresses a single peer.
func To(id MemberId) Recipient { return Recipient{To: id} }

// Outbound pairs a recipient with the message to deliver.
type Outbound struct {
	Recipient Recipient
	Message   Message
}

// FollowerStateUpdate is a leader-only per-peer update to matchIndex and/or
// nextIndex, applied atomically with the rest of an Outcome.
type FollowerStateUpdate struct {
	Peer       MemberId
	MatchIndex LogIndex
	NextIndex  LogIndex
}

// Outcome is the complete, immutable description of the effect of handling
// one inbound message, produced by pure role logic and applied atomically
// by the RaftMachine (spec §4.3, §9). Role functions never mutate shared
// state directly -- every side effect the driver must perform is named
// here.
type Outcome struct {
	NextRole Role

	NewTerm    *Term     // nil: unchanged
	NewVote    *MemberId // nil: unchanged; points at NilMember to mean "cleared"
	VoteChanged bool      // true iff NewVote should be applied even if it is NilMember

	LogOps []LogOp

	CommitIndexAdvance *LogIndex // nil: unchanged
	LeaderAdvance      *MemberId // nil: unchanged; known leader for this term

	FollowerStateUpdates []FollowerStateUpdate

	// VoteGrantedBy records a peer whose VoteResponse should be added to
	// the driver's Candidate-only votesGranted set for the current term.
	// Candidate volatile state (spec §3) is not itself part of Outcome;
	// this is the one signal the driver needs to keep it in sync with
	// pure role logic.
	VoteGrantedBy *MemberId

	Outbound []Outbound

	ElectionTimerReset  bool
	HeartbeatTimerReset bool

	// Observable signals for metrics/monitoring (spec §4.3).
	ElectionStartedInThisTerm bool
	ElectionWonInThisTerm     bool
	SteppedDown               bool

	// PruneUpTo is carried on the Outcome but no role function sets it and
	// the driver does not read it; no prune is issued from an Outcome.
	PruneUpTo *LogIndex
}

// emptyOutcome is convenient zero value role functions build on top of.
func emptyOutcome(role Role) Outcome {
	return Outcome{NextRole: role}
}

// withTermChange records a term bump and vote-clear, matching the spec
// §4.4 preamble rule 1: "If message.term > currentTerm: newTerm :=
// message.term, newVote := None, step down to Follower".
func withTermChange(o Outcome, term Term) Outcome {
	t := term
	o.NewTerm = &t
	o.VoteChanged = true
	o.NewVote = &NilMember
	return o
}
