package raft

// Message is anything a RoleState can handle. Every concrete message type
// carries the sender's term and identity per the spec §4.4 preamble
// ("every message carries (senderTerm, from)").
type Message interface {
	MessageTerm() Term
	MessageFrom() MemberId
}

// envelope factors the (term, from) pair shared by every wire message.
type envelope struct {
	Term Term
	From MemberId
}

func (e envelope) MessageTerm() Term     { return e.Term }
func (e envelope) MessageFrom() MemberId { return e.From }

// VoteRequest is sent by a Candidate to solicit a vote.
type VoteRequest struct {
	envelope
	LastLogIndex LogIndex
	LastLogTerm  Term
}

// VoteResponse answers a VoteRequest.
type VoteResponse struct {
	envelope
	Granted bool
}

// AppendEntriesRequest replicates a batch (possibly empty) of entries.
type AppendEntriesRequest struct {
	envelope
	PrevLogIndex LogIndex
	PrevLogTerm  Term
	Entries      []Entry
	LeaderCommit LogIndex
}

// AppendEntriesResponse answers an AppendEntriesRequest.
type AppendEntriesResponse struct {
	envelope
	Success     bool
	MatchIndex  LogIndex
	AppendIndex LogIndex
}

// Heartbeat is a content-free AppendEntriesRequest sent on the heartbeat
// timer; it is handled identically to an empty AppendEntriesRequest but is
// a distinct wire message so the transport can prioritize it.
type Heartbeat struct {
	envelope
	CommitIndex LogIndex
	CommitTerm  Term
}

// HeartbeatResponse answers a Heartbeat with the follower's appendIndex.
type HeartbeatResponse struct {
	envelope
	AppendIndex LogIndex
}

// LogCompactionInfo tells a lagging follower the leader has pruned past
// what the follower can consume via normal AppendEntries; the follower is
// expected to request or await a snapshot install out-of-band (out of
// scope for this core, per spec §1).
type LogCompactionInfo struct {
	envelope
	PrevIndex LogIndex
}

// NewEntryRequest is submitted locally by a client of this node (not a
// peer); From is the submitting node's own id for bookkeeping only.
type NewEntryRequest struct {
	envelope
	Payload []byte
}

// NewBatchRequest batches several client payloads into one Outcome.
type NewBatchRequest struct {
	envelope
	Payloads [][]byte
}

// PruneRequest names an out-of-band prune up to (and including)
// PruneIndex. It round-trips through internal/wire, but no role handler
// acts on it: handling one leaves the log unchanged.
type PruneRequest struct {
	envelope
	PruneIndex LogIndex
}

// ElectionTimeout is a synthetic internal message enqueued by the election
// timer.
type ElectionTimeout struct {
	envelope
}

// HeartbeatTimeout is a synthetic internal message enqueued by the
// heartbeat timer (Leader only).
type HeartbeatTimeout struct {
	envelope
}

// WithEnvelope returns each message value with its (term, from) envelope
// filled in. These exist so internal/wire -- which decodes the envelope
// fields separately from the per-type payload -- can construct a
// complete Message without reaching into the unexported envelope field
// directly.
func (m VoteRequest) WithEnvelope(term Term, from MemberId) Message {
	m.envelope = envelope{Term: term, From: from}
	return m
}

func (m VoteResponse) WithEnvelope(term Term, from MemberId) Message {
	m.envelope = envelope{Term: term, From: from}
	return m
}

func (m AppendEntriesRequest) WithEnvelope(term Term, from MemberId) Message {
	m.envelope = envelope{Term: term, From: from}
	return m
}

func (m AppendEntriesResponse) WithEnvelope(term Term, from MemberId) Message {
	m.envelope = envelope{Term: term, From: from}
	return m
}

func (m Heartbeat) WithEnvelope(term Term, from MemberId) Message {
	m.envelope = envelope{Term: term, From: from}
	return m
}

func (m HeartbeatResponse) WithEnvelope(term Term, from MemberId) Message {
	m.envelope = envelope{Term: term, From: from}
	return m
}

func (m LogCompactionInfo) WithEnvelope(term Term, from MemberId) Message {
	m.envelope = envelope{Term: term, From: from}
	return m
}

func (m NewEntryRequest) WithEnvelope(term Term, from MemberId) Message {
	m.envelope = envelope{Term: term, From: from}
	return m
}

func (m NewBatchRequest) WithEnvelope(term Term, from MemberId) Message {
	m.envelope = envelope{Term: term, From: from}
	return m
}

func (m PruneRequest) WithEnvelope(term Term, from MemberId) Message {
	m.envelope = envelope{Term: term, From: from}
	return m
}
