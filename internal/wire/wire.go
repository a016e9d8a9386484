// Package wire implements the binary Raft message protocol from spec §6:
// a fixed little-endian frame carrying a cluster id and sender id ahead
// of a per-type payload. This is kept deliberately off the
// protobuf/gRPC path used by internal/clusterbinding -- the spec
// mandates an exact byte layout for the hot-path Raft RPCs, which a
// generated protobuf codec would not reproduce bit-for-bit.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/jsxtech/neo4j-sub001/internal/raft"
)

// Message type codes (spec §6, exhaustive).
const (
	TypeVoteRequest           uint8 = 1
	TypeVoteResponse          uint8 = 2
	TypeAppendEntriesRequest  uint8 = 3
	TypeAppendEntriesResponse uint8 = 4
	TypeHeartbeat             uint8 = 5
	TypeHeartbeatResponse     uint8 = 6
	TypeLogCompactionInfo     uint8 = 7
	TypeNewEntryRequest       uint8 = 8
	TypeNewBatchRequest       uint8 = 9
	TypePruneRequest          uint8 = 10
)

// frameHeaderSize is |total-len u32|msg-type u8|cluster-id[16]|from[16]|.
const frameHeaderSize = 4 + 1 + 16 + 16

// Encode serializes m, prefixed by the cluster id it is stamped with, to
// the exact wire layout of spec §6.
func Encode(cluster raft.ClusterId, m raft.Message) ([]byte, error) {
	msgType, payload, err := encodePayload(m)
	if err != nil {
		return nil, err
	}

	// total-len counts the bytes after the 4-byte length prefix itself.
	total := frameHeaderSize - 4 + len(payload)
	buf := make([]byte, 4+total)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(total))
	buf[4] = msgType
	clusterBytes := uuid.UUID(cluster)
	copy(buf[5:21], clusterBytes[:])
	from := uuid.UUID(m.MessageFrom())
	copy(buf[21:37], from[:])
	copy(buf[37:], payload)
	return buf, nil
}

// Decode parses one complete frame (as produced by Encode, total-len
// prefix included) back into a cluster id and a raft.Message.
func Decode(frame []byte) (raft.ClusterId, raft.Message, error) {
	if len(frame) < frameHeaderSize {
		return raft.ClusterId{}, nil, fmt.Errorf("wire: frame too short (%d bytes)", len(frame))
	}
	total := binary.LittleEndian.Uint32(frame[0:4])
	if int(total)+4 != len(frame) {
		return raft.ClusterId{}, nil, fmt.Errorf("wire: length mismatch: header says %d, got %d", total, len(frame)-4)
	}
	msgType := frame[4]
	var cluster uuid.UUID
	copy(cluster[:], frame[5:21])
	var from uuid.UUID
	copy(from[:], frame[21:37])
	payload := frame[37:]

	m, err := decodePayload(msgType, raft.MemberId(from), payload)
	if err != nil {
		return raft.ClusterId{}, nil, err
	}
	return raft.ClusterId(cluster), m, nil
}

func encodePayload(m raft.Message) (uint8, []byte, error) {
	switch msg := m.(type) {
	case raft.VoteRequest:
		buf := make([]byte, 8+16+8+8)
		binary.LittleEndian.PutUint64(buf[0:8], uint64(msg.MessageTerm()))
		candidate := uuid.UUID(msg.MessageFrom())
		copy(buf[8:24], candidate[:])
		binary.LittleEndian.PutUint64(buf[24:32], uint64(msg.LastLogIndex))
		binary.LittleEndian.PutUint64(buf[32:40], uint64(msg.LastLogTerm))
		return TypeVoteRequest, buf, nil

	case raft.VoteResponse:
		buf := make([]byte, 8+1)
		binary.LittleEndian.PutUint64(buf[0:8], uint64(msg.MessageTerm()))
		if msg.Granted {
			buf[8] = 1
		}
		return TypeVoteResponse, buf, nil

	case raft.AppendEntriesRequest:
		head := make([]byte, 8+8+8+8+4)
		binary.LittleEndian.PutUint64(head[0:8], uint64(msg.MessageTerm()))
		binary.LittleEndian.PutUint64(head[8:16], uint64(msg.PrevLogIndex))
		binary.LittleEndian.PutUint64(head[16:24], uint64(msg.PrevLogTerm))
		binary.LittleEndian.PutUint64(head[24:32], uint64(msg.LeaderCommit))
		binary.LittleEndian.PutUint32(head[32:36], uint32(len(msg.Entries)))

		buf := head
		for _, e := range msg.Entries {
			payload := raft.EncodeCommand(e.Command)
			frame := make([]byte, 8+4+len(payload))
			binary.LittleEndian.PutUint64(frame[0:8], uint64(e.Term))
			binary.LittleEndian.PutUint32(frame[8:12], uint32(len(payload)))
			copy(frame[12:], payload)
			buf = append(buf, frame...)
		}
		return TypeAppendEntriesRequest, buf, nil

	case raft.AppendEntriesResponse:
		buf := make([]byte, 8+1+8+8)
		binary.LittleEndian.PutUint64(buf[0:8], uint64(msg.MessageTerm()))
		if msg.Success {
			buf[8] = 1
		}
		binary.LittleEndian.PutUint64(buf[9:17], uint64(msg.MatchIndex))
		binary.LittleEndian.PutUint64(buf[17:25], uint64(msg.AppendIndex))
		return TypeAppendEntriesResponse, buf, nil

	case raft.Heartbeat:
		buf := make([]byte, 8+8+8)
		binary.LittleEndian.PutUint64(buf[0:8], uint64(msg.MessageTerm()))
		binary.LittleEndian.PutUint64(buf[8:16], uint64(msg.CommitIndex))
		binary.LittleEndian.PutUint64(buf[16:24], uint64(msg.CommitTerm))
		return TypeHeartbeat, buf, nil

	case raft.HeartbeatResponse:
		buf := make([]byte, 8+8)
		binary.LittleEndian.PutUint64(buf[0:8], uint64(msg.MessageTerm()))
		binary.LittleEndian.PutUint64(buf[8:16], uint64(msg.AppendIndex))
		return TypeHeartbeatResponse, buf, nil

	case raft.LogCompactionInfo:
		buf := make([]byte, 8+8)
		binary.LittleEndian.PutUint64(buf[0:8], uint64(msg.MessageTerm()))
		binary.LittleEndian.PutUint64(buf[8:16], uint64(msg.PrevIndex))
		return TypeLogCompactionInfo, buf, nil

	case raft.NewEntryRequest:
		buf := make([]byte, 8+4+len(msg.Payload))
		binary.LittleEndian.PutUint64(buf[0:8], uint64(msg.MessageTerm()))
		binary.LittleEndian.PutUint32(buf[8:12], uint32(len(msg.Payload)))
		copy(buf[12:], msg.Payload)
		return TypeNewEntryRequest, buf, nil

	case raft.NewBatchRequest:
		buf := make([]byte, 8+4)
		binary.LittleEndian.PutUint64(buf[0:8], uint64(msg.MessageTerm()))
		binary.LittleEndian.PutUint32(buf[8:12], uint32(len(msg.Payloads)))
		for _, p := range msg.Payloads {
			entry := make([]byte, 4+len(p))
			binary.LittleEndian.PutUint32(entry[0:4], uint32(len(p)))
			copy(entry[4:], p)
			buf = append(buf, entry...)
		}
		return TypeNewBatchRequest, buf, nil

	case raft.PruneRequest:
		buf := make([]byte, 8+8)
		binary.LittleEndian.PutUint64(buf[0:8], uint64(msg.MessageTerm()))
		binary.LittleEndian.PutUint64(buf[8:16], uint64(msg.PruneIndex))
		return TypePruneRequest, buf, nil

	default:
		return 0, nil, fmt.Errorf("wire: unencodable message type %T", m)
	}
}

func decodePayload(msgType uint8, from raft.MemberId, p []byte) (raft.Message, error) {
	switch msgType {
	case TypeVoteRequest:
		if len(p) < 40 {
			return nil, fmt.Errorf("wire: truncated VoteRequest")
		}
		term := raft.Term(binary.LittleEndian.Uint64(p[0:8]))
		var candidate uuid.UUID
		copy(candidate[:], p[8:24])
		return raft.VoteRequest{
			LastLogIndex: raft.LogIndex(binary.LittleEndian.Uint64(p[24:32])),
			LastLogTerm:  raft.Term(binary.LittleEndian.Uint64(p[32:40])),
		}.WithEnvelope(term, raft.MemberId(candidate)), nil

	case TypeVoteResponse:
		if len(p) < 9 {
			return nil, fmt.Errorf("wire: truncated VoteResponse")
		}
		term := raft.Term(binary.LittleEndian.Uint64(p[0:8]))
		return raft.VoteResponse{Granted: p[8] != 0}.WithEnvelope(term, from), nil

	case TypeAppendEntriesRequest:
		if len(p) < 36 {
			return nil, fmt.Errorf("wire: truncated AppendEntriesRequest")
		}
		term := raft.Term(binary.LittleEndian.Uint64(p[0:8]))
		prevIdx := raft.LogIndex(binary.LittleEndian.Uint64(p[8:16]))
		prevTerm := raft.Term(binary.LittleEndian.Uint64(p[16:24]))
		leaderCommit := raft.LogIndex(binary.LittleEndian.Uint64(p[24:32]))
		count := binary.LittleEndian.Uint32(p[32:36])

		off := 36
		entries := make([]raft.Entry, 0, count)
		for i := uint32(0); i < count; i++ {
			if len(p) < off+12 {
				return nil, fmt.Errorf("wire: truncated entry header")
			}
			eTerm := raft.Term(binary.LittleEndian.Uint64(p[off : off+8]))
			payloadLen := int(binary.LittleEndian.Uint32(p[off+8 : off+12]))
			off += 12
			if len(p) < off+payloadLen {
				return nil, fmt.Errorf("wire: truncated entry payload")
			}
			cmd, err := raft.DecodeCommand(p[off : off+payloadLen])
			if err != nil {
				return nil, err
			}
			entries = append(entries, raft.Entry{Term: eTerm, Command: cmd})
			off += payloadLen
		}

		return raft.AppendEntriesRequest{
			PrevLogIndex: prevIdx,
			PrevLogTerm:  prevTerm,
			Entries:      entries,
			LeaderCommit: leaderCommit,
		}.WithEnvelope(term, from), nil

	case TypeAppendEntriesResponse:
		if len(p) < 25 {
			return nil, fmt.Errorf("wire: truncated AppendEntriesResponse")
		}
		term := raft.Term(binary.LittleEndian.Uint64(p[0:8]))
		return raft.AppendEntriesResponse{
			Success:     p[8] != 0,
			MatchIndex:  raft.LogIndex(binary.LittleEndian.Uint64(p[9:17])),
			AppendIndex: raft.LogIndex(binary.LittleEndian.Uint64(p[17:25])),
		}.WithEnvelope(term, from), nil

	case TypeHeartbeat:
		if len(p) < 24 {
			return nil, fmt.Errorf("wire: truncated Heartbeat")
		}
		term := raft.Term(binary.LittleEndian.Uint64(p[0:8]))
		return raft.Heartbeat{
			CommitIndex: raft.LogIndex(binary.LittleEndian.Uint64(p[8:16])),
			CommitTerm:  raft.Term(binary.LittleEndian.Uint64(p[16:24])),
		}.WithEnvelope(term, from), nil

	case TypeHeartbeatResponse:
		if len(p) < 16 {
			return nil, fmt.Errorf("wire: truncated HeartbeatResponse")
		}
		term := raft.Term(binary.LittleEndian.Uint64(p[0:8]))
		return raft.HeartbeatResponse{
			AppendIndex: raft.LogIndex(binary.LittleEndian.Uint64(p[8:16])),
		}.WithEnvelope(term, from), nil

	case TypeLogCompactionInfo:
		if len(p) < 16 {
			return nil, fmt.Errorf("wire: truncated LogCompactionInfo")
		}
		term := raft.Term(binary.LittleEndian.Uint64(p[0:8]))
		return raft.LogCompactionInfo{
			PrevIndex: raft.LogIndex(binary.LittleEndian.Uint64(p[8:16])),
		}.WithEnvelope(term, from), nil

	case TypeNewEntryRequest:
		if len(p) < 12 {
			return nil, fmt.Errorf("wire: truncated NewEntryRequest")
		}
		term := raft.Term(binary.LittleEndian.Uint64(p[0:8]))
		n := int(binary.LittleEndian.Uint32(p[8:12]))
		if len(p) < 12+n {
			return nil, fmt.Errorf("wire: truncated NewEntryRequest payload")
		}
		payload := make([]byte, n)
		copy(payload, p[12:12+n])
		return raft.NewEntryRequest{Payload: payload}.WithEnvelope(term, from), nil

	case TypeNewBatchRequest:
		if len(p) < 12 {
			return nil, fmt.Errorf("wire: truncated NewBatchRequest")
		}
		term := raft.Term(binary.LittleEndian.Uint64(p[0:8]))
		count := binary.LittleEndian.Uint32(p[8:12])
		off := 12
		payloads := make([][]byte, 0, count)
		for i := uint32(0); i < count; i++ {
			if len(p) < off+4 {
				return nil, fmt.Errorf("wire: truncated NewBatchRequest entry")
			}
			n := int(binary.LittleEndian.Uint32(p[off : off+4]))
			off += 4
			if len(p) < off+n {
				return nil, fmt.Errorf("wire: truncated NewBatchRequest payload")
			}
			payload := make([]byte, n)
			copy(payload, p[off:off+n])
			payloads = append(payloads, payload)
			off += n
		}
		return raft.NewBatchRequest{Payloads: payloads}.WithEnvelope(term, from), nil

	case TypePruneRequest:
		if len(p) < 16 {
			return nil, fmt.Errorf("wire: truncated PruneRequest")
		}
		term := raft.Term(binary.LittleEndian.Uint64(p[0:8]))
		return raft.PruneRequest{
			PruneIndex: raft.LogIndex(binary.LittleEndian.Uint64(p[8:16])),
		}.WithEnvelope(term, from), nil

	default:
		return nil, fmt.Errorf("wire: unknown message type %d", msgType)
	}
}
