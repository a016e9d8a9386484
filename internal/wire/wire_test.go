package wire

import (
	"testing"

	"github.com/google/uuid"

	"github.com/jsxtech/neo4j-sub001/internal/raft"
)

func TestRoundTrip(t *testing.T) {
	cluster := raft.ClusterId(uuid.New())
	from := raft.MemberId(uuid.New())

	cases := []raft.Message{
		raft.VoteRequest{LastLogIndex: 5, LastLogTerm: 2}.WithEnvelope(3, from),
		raft.VoteResponse{Granted: true}.WithEnvelope(3, from),
		raft.AppendEntriesRequest{
			PrevLogIndex: 4,
			PrevLogTerm:  2,
			LeaderCommit: 3,
			Entries: []raft.Entry{
				{Term: 3, Command: raft.Command{Kind: raft.CommandApplication, Payload: []byte("hello")}},
				{Term: 3, Command: raft.Command{Kind: raft.CommandMemberSet, Members: raft.MemberSet{Members: []raft.MemberId{from}}}},
			},
		}.WithEnvelope(3, from),
		raft.AppendEntriesResponse{Success: true, MatchIndex: 5, AppendIndex: 5}.WithEnvelope(3, from),
		raft.Heartbeat{CommitIndex: 5, CommitTerm: 3}.WithEnvelope(3, from),
		raft.HeartbeatResponse{AppendIndex: 5}.WithEnvelope(3, from),
		raft.LogCompactionInfo{PrevIndex: 10}.WithEnvelope(3, from),
		raft.NewEntryRequest{Payload: []byte("payload")}.WithEnvelope(3, from),
		raft.NewBatchRequest{Payloads: [][]byte{[]byte("a"), []byte("b")}}.WithEnvelope(3, from),
		raft.PruneRequest{PruneIndex: 2}.WithEnvelope(3, from),
	}

	for _, m := range cases {
		buf, err := Encode(cluster, m)
		if err != nil {
			t.Fatalf("encode %T: %v", m, err)
		}
		gotCluster, gotMsg, err := Decode(buf)
		if err != nil {
			t.Fatalf("decode %T: %v", m, err)
		}
		if gotCluster != cluster {
			t.Fatalf("%T: cluster mismatch", m)
		}
		if gotMsg.MessageTerm() != m.MessageTerm() || gotMsg.MessageFrom() != m.MessageFrom() {
			t.Fatalf("%T: envelope mismatch: got %+v want %+v", m, gotMsg, m)
		}
		assertPayloadEqual(t, m, gotMsg)
	}
}

func assertPayloadEqual(t *testing.T, want, got raft.Message) {
	t.Helper()
	switch w := want.(type) {
	case raft.VoteRequest:
		g := got.(raft.VoteRequest)
		if w.LastLogIndex != g.LastLogIndex || w.LastLogTerm != g.LastLogTerm {
			t.Fatalf("VoteRequest mismatch: %+v != %+v", w, g)
		}
	case raft.VoteResponse:
		g := got.(raft.VoteResponse)
		if w.Granted != g.Granted {
			t.Fatalf("VoteResponse mismatch")
		}
	case raft.AppendEntriesRequest:
		g := got.(raft.AppendEntriesRequest)
		if w.PrevLogIndex != g.PrevLogIndex || w.PrevLogTerm != g.PrevLogTerm || w.LeaderCommit != g.LeaderCommit {
			t.Fatalf("AppendEntriesRequest header mismatch")
		}
		if len(w.Entries) != len(g.Entries) {
			t.Fatalf("entry count mismatch: %d != %d", len(w.Entries), len(g.Entries))
		}
		for i := range w.Entries {
			if w.Entries[i].Term != g.Entries[i].Term {
				t.Fatalf("entry %d term mismatch", i)
			}
			if w.Entries[i].Command.Kind != g.Entries[i].Command.Kind {
				t.Fatalf("entry %d command kind mismatch", i)
			}
		}
	case raft.AppendEntriesResponse:
		g := got.(raft.AppendEntriesResponse)
		if w.Success != g.Success || w.MatchIndex != g.MatchIndex || w.AppendIndex != g.AppendIndex {
			t.Fatalf("AppendEntriesResponse mismatch")
		}
	case raft.Heartbeat:
		g := got.(raft.Heartbeat)
		if w.CommitIndex != g.CommitIndex || w.CommitTerm != g.CommitTerm {
			t.Fatalf("Heartbeat mismatch")
		}
	case raft.HeartbeatResponse:
		g := got.(raft.HeartbeatResponse)
		if w.AppendIndex != g.AppendIndex {
			t.Fatalf("HeartbeatResponse mismatch")
		}
	case raft.LogCompactionInfo:
		g := got.(raft.LogCompactionInfo)
		if w.PrevIndex != g.PrevIndex {
			t.Fatalf("LogCompactionInfo mismatch")
		}
	case raft.NewEntryRequest:
		g := got.(raft.NewEntryRequest)
		if string(w.Payload) != string(g.Payload) {
			t.Fatalf("NewEntryRequest mismatch")
		}
	case raft.NewBatchRequest:
		g := got.(raft.NewBatchRequest)
		if len(w.Payloads) != len(g.Payloads) {
			t.Fatalf("NewBatchRequest count mismatch")
		}
	case raft.PruneRequest:
		g := got.(raft.PruneRequest)
		if w.PruneIndex != g.PruneIndex {
			t.Fatalf("PruneRequest mismatch")
		}
	}
}

func TestDecodeRejectsTruncatedFrame(t *testing.T) {
	cluster := raft.ClusterId(uuid.New())
	from := raft.MemberId(uuid.New())
	buf, err := Encode(cluster, raft.Heartbeat{CommitIndex: 1, CommitTerm: 1}.WithEnvelope(1, from))
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := Decode(buf[:len(buf)-1]); err == nil {
		t.Fatal("expected error decoding truncated frame")
	}
}
