package raft

import "time"

// FollowerState is the leader's view of a single peer (spec §4.5):
// replicated progress plus in-flight batch bookkeeping used for
// backpressure. Owned exclusively by the driver loop; role logic reads a
// snapshot and returns FollowerStateUpdates rather than mutating this
// directly, keeping the (state, message) -> Outcome functions pure.
type FollowerState struct {
	MatchIndex LogIndex
	NextIndex  LogIndex

	LastContact time.Time

	// InFlight marks an unacknowledged AppendEntries batch to this peer.
	// Nothing sets it to true, and the driver resets it to false whenever it
	// applies a FollowerStateUpdate, so batches to a peer are not limited
	// to one at a time.
	InFlight      bool
	InFlightSince time.Time
	// InFlightPrevLogIndex/Term identify the batch currently in flight, so
	// a retry after the RTT budget expires can resend with the identical
	// prevLogIndex/prevLogTerm rather than speculatively advancing.
	InFlightPrevLogIndex LogIndex
	InFlightPrevLogTerm  Term
}

// FollowerStates is the leader's complete per-peer table.
type FollowerStates map[MemberId]FollowerState

// NewFollowerStates initializes one entry per peer with nextIndex ==
// lastLogIndex and matchIndex == NoIndex (spec §4.4 "On entry" rule for a
// freshly elected leader): matchIndex starts at "nothing", not at the
// first real log position -- seeding it at 0 would let an unresponsive
// follower count toward quorum for index 0 before it has replicated
// anything.
//
// nextIndex deliberately starts at lastLogIndex itself, not
// lastLogIndex+1: unlike the Raft paper's optimistic "assume followers are
// caught up, back off on conflict" initialization, leaderHandleHeartbeatTimeout
// only emits a real, rejectable AppendEntriesRequest when nextIndex <=
// appendIndex -- whenever nextIndex is past the end of the log it instead
// emits a content-free Heartbeat that carries no prevLogIndex and can never
// be rejected. Starting one past the last entry would leave a freshly
// elected leader's own still-unreplicated no-op entry permanently stuck:
// every periodic heartbeat would take the content-free branch forever,
// with no AppendEntriesResponse ever arriving to correct nextIndex back
// down, and only a subsequent client Submit would happen to repair it.
func NewFollowerStates(peers []MemberId, lastLogIndex LogIndex) FollowerStates {
	fs := make(FollowerStates, len(peers))
	for _, p := range peers {
		fs[p] = FollowerState{
			MatchIndex: NoIndex,
			NextIndex:  lastLogIndex,
		}
	}
	return fs
}

// MatchIndexOf returns the known matchIndex for id, treating the leader
// itself as caught up to selfAppendIndex whether or not it has a table
// entry.
func (fs FollowerStates) MatchIndexOf(self, id MemberId, selfAppendIndex LogIndex) LogIndex {
	if id == self {
		return selfAppendIndex
	}
	return fs[id].MatchIndex
}

// PastRTTBudget reports whether the in-flight batch to id, if any, has
// been outstanding longer than budget. No caller uses it, and since
// InFlight is never set it always reports false.
func (fs FollowerStates) PastRTTBudget(id MemberId, budget time.Duration, now time.Time) bool {
	st, ok := fs[id]
	if !ok || !st.InFlight {
		return false
	}
	return now.Sub(st.InFlightSince) > budget
}
