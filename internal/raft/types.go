// Package raft implements the consensus core of the cluster: a
// single-writer-per-term state machine driven by asynchronous messages. It
// covers the durable log, term/vote persistence, role transition logic,
// membership, and the driver that applies the pure Outcome values role
// logic produces. Everything outside this package (storage engine, Bolt
// sessions, read-replica catch-up) is an external collaborator.
package raft

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Term is a monotonically non-decreasing epoch. At most one leader exists
// cluster-wide within a term.
type Term uint64

// LogIndex is a non-negative, contiguous, never-reused position in the log.
type LogIndex int64

// NoIndex denotes "before the first entry ever" -- an empty log at the
// start of a term (see AppendEntries prevLogIndex == -1 in the wire spec).
const NoIndex LogIndex = -1

// MemberId is the 128-bit stable identifier of a core member.
type MemberId uuid.UUID

// NilMember is the zero MemberId, the in-memory sentinel for "no vote" and
// "no known leader". On disk TermStore records a cleared vote with an
// all-ones pattern instead.
var NilMember MemberId

// String renders a MemberId the way a log line wants to see it.
func (m MemberId) String() string { return uuid.UUID(m).String() }

// ClusterId is the 128-bit identifier bound once at bootstrap.
type ClusterId uuid.UUID

// NilCluster is the zero ClusterId -- "not yet bound".
var NilCluster ClusterId

func (c ClusterId) String() string { return uuid.UUID(c).String() }

// CommandKind distinguishes an opaque application payload from a
// membership-change command.
type CommandKind uint8

const (
	CommandApplication CommandKind = iota
	CommandMemberSet
)

// Command is the payload half of an Entry: either opaque application bytes
// or a MemberSet describing a committed membership change.
type Command struct {
	Kind    CommandKind
	Payload []byte    // valid when Kind == CommandApplication
	Members MemberSet // valid when Kind == CommandMemberSet
}

// Entry is a single record in the replicated log.
type Entry struct {
	Term    Term
	Command Command
}

// Role is the tag of the RoleState variant a RaftMachine currently occupies.
type Role int

const (
	Follower Role = iota
	Candidate
	Leader
	// Stopped is the inert role a node enters after an unrecoverable
	// durability failure (spec §7): it refuses further messages.
	Stopped
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "Follower"
	case Candidate:
		return "Candidate"
	case Leader:
		return "Leader"
	case Stopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Sentinel errors, grouped the way internal/node/node.go groups them in the
// teacher repo: one var block per package, one line of doc per error.
var (
	// ErrNotLeader indicates a client attempted to submit a command to a
	// node that does not currently believe itself to be leader.
	ErrNotLeader = errors.New("raft: not the leader")

	// ErrClusterUnavailable indicates a quorum could not be reached to
	// service a request within the caller's patience.
	ErrClusterUnavailable = errors.New("raft: cluster unavailable")

	// ErrCommandTooLarge indicates a submitted command exceeds the
	// configured maximum entry payload size.
	ErrCommandTooLarge = errors.New("raft: command too large")

	// ErrOutOfRange indicates a log read outside (prevIndex, appendIndex].
	// The driver treats this as a programming bug: an assertion failure,
	// not a recoverable condition.
	ErrOutOfRange = errors.New("raft: log index out of range")

	// ErrLogIO indicates a durability failure on a log operation required
	// for a critical step (term persist, vote persist, an append that
	// will be advertised in an AppendEntriesResponse).
	ErrLogIO = errors.New("raft: log durability failure")

	// ErrBindingTimeout indicates a non-bootstrap member polled discovery
	// for a ClusterId past its configured deadline without success.
	ErrBindingTimeout = errors.New("raft: cluster binding timed out")

	// ErrBindingMismatch indicates a member's persisted ClusterId does not
	// match the one currently published in discovery.
	ErrBindingMismatch = errors.New("raft: cluster binding mismatch")

	// ErrUncommittedMemberSet indicates a leader refused a new MemberSet
	// entry because a prior one is still uncommitted (spec §4.6).
	ErrUncommittedMemberSet = errors.New("raft: a membership change is already pending")

	// ErrStopped indicates the node is in the inert Stopped role following
	// an unrecoverable durability failure.
	ErrStopped = errors.New("raft: node stopped after unrecoverable failure")
)

// MachineConfig holds the configurable properties of a RaftMachine, in the
// spirit of the teacher's NodeConfig.
type MachineConfig struct {
	Self  MemberId
	Peers []MemberId

	DataDir string

	ElectionTimeoutBase time.Duration // T: timer draws uniformly from [T, 2T]
	HeartbeatInterval   time.Duration // H, H << T

	// MaxAppendBatchEntries and MaxAppendBatchBytes bound a single
	// AppendEntries batch (spec §9: "specify a byte budget too").
	MaxAppendBatchEntries int
	MaxAppendBatchBytes   int

	// PruneSafetyMargin is a retained-entry count for pruning. Neither
	// RaftMachine nor any role function reads it, and no prune path
	// applies it.
	PruneSafetyMargin LogIndex

	// ReplicationRTTBudget is a time budget for an unanswered
	// AppendEntries batch. Neither RaftMachine nor any role function reads
	// it; unanswered batches are not resent on a timer.
	ReplicationRTTBudget time.Duration

	MaxCommandSize int
}

// DefaultMachineConfig returns sane defaults, mirroring the teacher's
// NewNodeConfig constructor pattern.
func DefaultMachineConfig(self MemberId, peers []MemberId, dataDir string) MachineConfig {
	return MachineConfig{
		Self:                  self,
		Peers:                 peers,
		DataDir:               dataDir,
		ElectionTimeoutBase:   150 * time.Millisecond,
		HeartbeatInterval:     30 * time.Millisecond,
		MaxAppendBatchEntries: 256,
		MaxAppendBatchBytes:   256 * 1024,
		PruneSafetyMargin:     1000,
		ReplicationRTTBudget:  200 * time.Millisecond,
		MaxCommandSize:        1 << 20,
	}
}
