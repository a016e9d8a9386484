package raft

import (
	"encoding/binary"
	"fmt"
)

// encodeCommand serializes a Command to the byte form used both inside a
// log segment's entry frame and inside an AppendEntriesRequest entry on the
// wire (spec §6: "An entry within AppendEntriesRequest: | term u64 |
// payloadLen u32 | payload |" -- payload here is this encoded Command).
//
// Layout: | kind u8 | body |
//   kind == CommandApplication: body is Payload verbatim.
//   kind == CommandMemberSet:   body is | count u32 | (member [16])* |.
func encodeCommand(c Command) []byte {
	switch c.Kind {
	case CommandMemberSet:
		buf := make([]byte, 1+4+16*len(c.Members.Members))
		buf[0] = byte(CommandMemberSet)
		binary.LittleEndian.PutUint32(buf[1:5], uint32(len(c.Members.Members)))
		off := 5
		for _, m := range c.Members.Members {
			copy(buf[off:off+16], m[:])
			off += 16
		}
		return buf
	default:
		buf := make([]byte, 1+len(c.Payload))
		buf[0] = byte(CommandApplication)
		copy(buf[1:], c.Payload)
		return buf
	}
}

// EncodeCommand is the exported form of encodeCommand, used by
// internal/wire to frame entries inside AppendEntriesRequest (spec §6).
func EncodeCommand(c Command) []byte { return encodeCommand(c) }

// DecodeCommand is the exported form of decodeCommand.
func DecodeCommand(b []byte) (Command, error) { return decodeCommand(b) }

// decodeCommand is the inverse of encodeCommand.
func decodeCommand(b []byte) (Command, error) {
	if len(b) < 1 {
		return Command{}, fmt.Errorf("raft: empty command frame")
	}
	kind := CommandKind(b[0])
	body := b[1:]
	switch kind {
	case CommandMemberSet:
		if len(body) < 4 {
			return Command{}, fmt.Errorf("raft: truncated member-set command")
		}
		n := int(binary.LittleEndian.Uint32(body[0:4]))
		body = body[4:]
		if len(body) < n*16 {
			return Command{}, fmt.Errorf("raft: truncated member-set members")
		}
		members := make([]MemberId, n)
		for i := 0; i < n; i++ {
			copy(members[i][:], body[i*16:i*16+16])
		}
		return Command{Kind: CommandMemberSet, Members: MemberSet{Members: members}}, nil
	default:
		payload := make([]byte, len(body))
		copy(payload, body)
		return Command{Kind: CommandApplication, Payload: payload}, nil
	}
}
