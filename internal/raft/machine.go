package raft

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Sender delivers Outbound messages to peers. The transport package
// implements this over the wire codec; tests may substitute an in-memory
// fake to build the scenario harness from spec §8.
type Sender interface {
	Send(to MemberId, cluster ClusterId, m Message)
}

// Ticket is returned by Submit; AwaitCommit blocks until the entry at
// Index commits (or the context is done).
type Ticket struct {
	Index LogIndex
	Term  Term
}

// RaftMachine is the single-threaded cooperative driver described in
// spec §5: it owns the only mutable state cell, consumes an in-memory
// message queue, and applies each Outcome atomically (durable-before-
// emit). Grounded on the teacher's internal/node/node.go Node type in
// spirit -- a long-lived struct owning log/term/vote/role state and
// exposing the same public surface (DoElection-equivalent via
// ElectionTimeout, SendAppend-equivalent via the replication path) --
// but restructured so that the actual decision logic lives in the pure
// role functions instead of inline in the node methods.
type RaftMachine struct {
	cfg       MachineConfig
	clusterID ClusterId

	log       Log
	termStore *TermStore

	sender  Sender
	metrics Metrics
	events  *RaftEvents

	inbox chan Message

	electionTimer  *ElectionTimer
	heartbeatTimer *HeartbeatTimer

	mu sync.RWMutex // guards the fields below, read by the public accessors

	currentTerm Term
	votedFor    MemberId
	role        Role
	leader      MemberId
	commitIndex LogIndex
	lastApplied LogIndex

	members    MemberSet
	membership *MembershipHistory

	votesGranted map[MemberId]bool
	followers    FollowerStates

	pendingMemberSet bool // spec §4.6: refuse a new MemberSet while one is uncommitted

	// membershipScanned is the highest log index recordMembershipUpTo has
	// already scanned for MemberSet commands, so each commit advance only
	// walks the newly committed suffix instead of rescanning from the
	// start of the retained log.
	membershipScanned LogIndex

	waiters map[LogIndex][]chan struct{}

	stopped bool
}

// NewRaftMachine constructs a machine from its durable collaborators. The
// caller is responsible for having already run ClusterBinding to
// establish clusterID (spec §4.7) before calling this.
func NewRaftMachine(cfg MachineConfig, clusterID ClusterId, l Log, ts *TermStore, bootstrap MemberSet, sender Sender, metrics Metrics) (*RaftMachine, error) {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	term, err := ts.ReadTerm()
	if err != nil {
		return nil, err
	}
	voteTerm, votedFor, hasVote, err := ts.ReadVote()
	if err != nil {
		return nil, err
	}
	if !hasVote || voteTerm != term {
		votedFor = NilMember
	}

	m := &RaftMachine{
		cfg:         cfg,
		clusterID:   clusterID,
		log:         l,
		termStore:   ts,
		sender:      sender,
		metrics:     metrics,
		events:      newRaftEvents(),
		inbox:       make(chan Message, 4096),
		currentTerm: term,
		votedFor:    votedFor,
		role:        Follower,
		leader:      NilMember,
		commitIndex: NoIndexToZero(l.PrevIndex()),
		lastApplied: NoIndexToZero(l.PrevIndex()),
		members:           bootstrap,
		membership:        NewMembershipHistory(bootstrap),
		membershipScanned: l.PrevIndex(),
		waiters:           make(map[LogIndex][]chan struct{}),
	}
	m.electionTimer = NewElectionTimer(cfg.ElectionTimeoutBase)
	m.heartbeatTimer = NewHeartbeatTimer(cfg.HeartbeatInterval)
	return m, nil
}

// NoIndexToZero maps the empty-log sentinel to a commit/applied floor of
// -1 semantics: commitIndex and lastApplied both start at the log's
// prevIndex, which is NoIndex (-1) for a brand-new node.
func NoIndexToZero(prevIndex LogIndex) LogIndex { return prevIndex }

// Run is the driver loop: it blocks consuming m.inbox until ctx is
// canceled. Callers start it on its own goroutine.
func (m *RaftMachine) Run(ctx context.Context) {
	m.electionTimer.Reset(func() { m.Enqueue(ElectionTimeout{}) })
	for {
		select {
		case <-ctx.Done():
			m.electionTimer.Stop()
			m.heartbeatTimer.Stop()
			return
		case msg := <-m.inbox:
			m.step(msg)
		}
	}
}

// Enqueue places a message on the driver loop's queue. Safe to call from
// any goroutine (network intake, timers).
func (m *RaftMachine) Enqueue(msg Message) {
	select {
	case m.inbox <- msg:
	default:
		m.metrics.MessageDropped("inbox full")
	}
}

func (m *RaftMachine) snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return State{
		Self:         m.cfg.Self,
		Role:         m.role,
		CurrentTerm:  m.currentTerm,
		VotedFor:     m.votedFor,
		Log:          m.log,
		Members:      m.members,
		CommitIndex:  m.commitIndex,
		LastApplied:  m.lastApplied,
		Leader:       m.leader,
		Config:       m.cfg,
		VotesGranted: m.votesGranted,
		Followers:    m.followers,
	}
}

// step dispatches one message through the pure role logic and commits
// the resulting Outcome. This is the only place that mutates driver
// state, satisfying the single-threaded cooperative model of spec §5.
func (m *RaftMachine) step(msg Message) {
	if m.isStopped() {
		return
	}
	s := m.snapshot()
	o := Handle(s, msg)
	m.commit(s, o)
}

func (m *RaftMachine) isStopped() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stopped
}

// commit applies an Outcome atomically: persistence first (term, vote,
// log), then volatile state, then outbound emission -- the
// "durable-before-emit" ordering spec §5 calls non-negotiable.
func (m *RaftMachine) commit(prev State, o Outcome) {
	m.mu.Lock()

	if o.NewTerm != nil && *o.NewTerm != m.currentTerm {
		if err := m.termStore.WriteTerm(*o.NewTerm); err != nil {
			m.stopLocked(err)
			return
		}
		m.currentTerm = *o.NewTerm
		m.metrics.TermChanged(m.currentTerm)
		publishDropOldest(m.events.TermChanged, m.currentTerm)
	}
	if o.VoteChanged {
		votedFor := NilMember
		if o.NewVote != nil {
			votedFor = *o.NewVote
		}
		if err := m.termStore.WriteVote(m.currentTerm, votedFor); err != nil {
			m.stopLocked(err)
			return
		}
		m.votedFor = votedFor
	}

	for _, op := range o.LogOps {
		if err := m.applyLogOp(op); err != nil {
			m.stopLocked(err)
			return
		}
		if op.Kind == LogOpAppend {
			m.metrics.AppendAccepted(len(op.Entries))
		}
	}

	if o.VoteGrantedBy != nil {
		if m.votesGranted == nil {
			m.votesGranted = map[MemberId]bool{}
		}
		m.votesGranted[*o.VoteGrantedBy] = true
	}

	if o.NextRole != prev.Role || (o.NextRole == Candidate && o.ElectionStartedInThisTerm) {
		m.transitionRoleLocked(o)
	}

	for _, u := range o.FollowerStateUpdates {
		if m.followers == nil {
			m.followers = FollowerStates{}
		}
		fs := m.followers[u.Peer]
		fs.MatchIndex = u.MatchIndex
		fs.NextIndex = u.NextIndex
		fs.LastContact = time.Now()
		fs.InFlight = false
		m.followers[u.Peer] = fs
	}

	if o.CommitIndexAdvance != nil && *o.CommitIndexAdvance > m.commitIndex {
		m.commitIndex = *o.CommitIndexAdvance
		m.recordMembershipUpTo(m.commitIndex)
		m.metrics.CommitAdvanced(m.commitIndex)
		publishDropOldest(m.events.CommitAdvanced, m.commitIndex)
		m.wakeWaitersLocked(m.commitIndex)
	}

	if o.LeaderAdvance != nil && *o.LeaderAdvance != m.leader {
		m.leader = *o.LeaderAdvance
		publishDropOldest(m.events.LeaderChanged, m.leader)
	}

	if o.ElectionTimerReset {
		m.electionTimer.Reset(func() { m.Enqueue(ElectionTimeout{}) })
	}
	if o.HeartbeatTimerReset {
		m.heartbeatTimer.Reset(func() { m.Enqueue(HeartbeatTimeout{}) })
	}
	if o.SteppedDown {
		m.heartbeatTimer.Stop()
	}
	if (prev.Role == Candidate || prev.Role == Leader) && o.NextRole == Follower {
		m.metrics.SteppedDown(prev.CurrentTerm)
	}
	if o.ElectionStartedInThisTerm {
		m.metrics.ElectionStarted(m.currentTerm)
	}
	if o.ElectionWonInThisTerm {
		m.metrics.ElectionWon(m.currentTerm)
	}

	outbound := o.Outbound
	members := m.members
	self := m.cfg.Self
	cluster := m.clusterID
	sender := m.sender

	m.mu.Unlock()

	for _, ob := range outbound {
		if ob.Recipient.Broadcast {
			for _, p := range members.Members {
				if p == self {
					continue
				}
				sender.Send(p, cluster, ob.Message)
			}
			continue
		}
		sender.Send(ob.Recipient.To, cluster, ob.Message)
	}
}

func (m *RaftMachine) applyLogOp(op LogOp) error {
	switch op.Kind {
	case LogOpAppend:
		_, err := m.log.Append(op.Entries)
		return err
	case LogOpTruncate:
		return m.log.Truncate(op.Index)
	case LogOpPrune:
		if err := m.log.Prune(op.Index); err != nil {
			return err
		}
		m.metrics.LogPruned(op.Index)
		return nil
	default:
		return fmt.Errorf("raft: unknown log op %d", op.Kind)
	}
}

func (m *RaftMachine) transitionRoleLocked(o Outcome) {
	m.role = o.NextRole
	switch o.NextRole {
	case Candidate:
		m.votesGranted = map[MemberId]bool{}
		m.followers = nil
	case Leader:
		m.followers = NewFollowerStates(m.members.Members, m.log.AppendIndex())
		m.votesGranted = nil
	case Follower:
		m.votesGranted = nil
		m.followers = nil
	}
}

func (m *RaftMachine) recordMembershipUpTo(commitIndex LogIndex) {
	// Walk newly committed entries looking for MemberSet commands; record
	// each into the history and update the live active set (spec §4.6:
	// "the active member set is the most recent MemberSet entry whose
	// index <= commitIndex").
	for idx := m.membershipScanned + 1; idx <= commitIndex; idx++ {
		e, err := m.log.ReadEntry(idx)
		if err != nil {
			continue
		}
		if e.Command.Kind == CommandMemberSet {
			m.membership.Record(idx, e.Command.Members)
			m.members = e.Command.Members
			m.pendingMemberSet = false
			publishDropOldest(m.events.MemberSetChanged, m.members)
		}
	}
	m.membershipScanned = commitIndex
}

func (m *RaftMachine) wakeWaitersLocked(commitIndex LogIndex) {
	for idx, chans := range m.waiters {
		if idx > commitIndex {
			continue
		}
		for _, c := range chans {
			close(c)
		}
		delete(m.waiters, idx)
	}
}

func (m *RaftMachine) stopLocked(err error) {
	m.role = Stopped
	m.stopped = true
	log.Error().Err(err).Msg("raft: unrecoverable durability failure, node stopped")
}

// Submit implements the leader-only submit(command) -> ticket surface
// (spec §6). Non-leaders return the plain ErrNotLeader sentinel; the error
// carries no leader hint, and the known leader, if any, is read separately
// through CurrentLeader.
func (m *RaftMachine) Submit(payload []byte) (Ticket, error) {
	if len(payload) > m.cfg.MaxCommandSize {
		return Ticket{}, ErrCommandTooLarge
	}
	m.mu.RLock()
	role := m.role
	term := m.currentTerm
	appendIndex := m.log.AppendIndex()
	self := m.cfg.Self
	m.mu.RUnlock()

	if role == Stopped {
		return Ticket{}, ErrStopped
	}
	if role != Leader {
		return Ticket{}, ErrNotLeader
	}

	m.Enqueue(NewEntryRequest{envelope: envelope{Term: term, From: self}, Payload: payload})
	return Ticket{Index: appendIndex + 1, Term: term}, nil
}

// AwaitCommit blocks until ticket.Index <= commitIndex or ctx is done.
func (m *RaftMachine) AwaitCommit(ctx context.Context, ticket Ticket) error {
	m.mu.Lock()
	if m.commitIndex >= ticket.Index {
		m.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	m.waiters[ticket.Index] = append(m.waiters[ticket.Index], ch)
	m.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *RaftMachine) CurrentRole() Role {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.role
}

func (m *RaftMachine) CurrentLeader() MemberId {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.leader
}

func (m *RaftMachine) CurrentTerm() Term {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentTerm
}

func (m *RaftMachine) CommitIndex() LogIndex {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.commitIndex
}

func (m *RaftMachine) Members() MemberSet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.members
}

func (m *RaftMachine) Events() *RaftEvents { return m.events }

// ProposeMemberSet submits a membership change (spec §4.6). Refuses while
// a prior MemberSet is still uncommitted.
func (m *RaftMachine) ProposeMemberSet(next MemberSet) error {
	m.mu.Lock()
	if m.role != Leader {
		m.mu.Unlock()
		return ErrNotLeader
	}
	if m.pendingMemberSet {
		m.mu.Unlock()
		return ErrUncommittedMemberSet
	}
	m.pendingMemberSet = true
	term := m.currentTerm
	self := m.cfg.Self
	m.mu.Unlock()

	payload := encodeCommand(Command{Kind: CommandMemberSet, Members: next})
	m.Enqueue(memberSetRequest{envelope: envelope{Term: term, From: self}, encoded: payload, set: next})
	return nil
}

// memberSetRequest is an internal-only message type (never sent over the
// wire): it lets ProposeMemberSet reuse the normal Enqueue/step path
// while carrying a typed MemberSet rather than round-tripping it through
// bytes.
type memberSetRequest struct {
	envelope
	encoded []byte
	set     MemberSet
}
