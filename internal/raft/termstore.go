package raft

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// TermStore is the durable home for currentTerm and the vote cast in it,
// the two pieces of state the spec calls "the only state that must be
// fsynced before a vote or term change is acknowledged" (§4.2). It is kept
// separate from the Log because both entries are written far more often,
// in isolation, than a log append.
//
// On-disk layout is fixed-width and spec-mandated (§6), so this is one of
// the few places in this package that serializes by hand with
// encoding/binary rather than through a library codec -- there is no
// third-party format in the examined stack that guarantees this exact
// byte-for-byte shape, and the teacher's own WriteTerm/ReadTerm
// (internal/node/node.go) takes the same raw-bytes-to-disk approach, just
// via proto.Marshal for its own (non-fixed) message instead.
type TermStore struct {
	dir string
}

// NewTermStore returns a TermStore rooted at dir/raft-state.
func NewTermStore(dir string) (*TermStore, error) {
	stateDir := filepath.Join(dir, "raft-state")
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("raft: create state dir: %w", err)
	}
	return &TermStore{dir: stateDir}, nil
}

func (s *TermStore) termPath() string { return filepath.Join(s.dir, "current-term") }
func (s *TermStore) votePath() string { return filepath.Join(s.dir, "vote") }

// clearedVoteSentinel is the all-ones pattern WriteVote writes in place of
// NilMember's all-zero bytes, so an explicit "no vote" is distinguishable
// from a true nil-UUID vote (which never occurs in practice).
var clearedVoteSentinel = uuid.UUID{
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
}

// ReadTerm returns the persisted current term, or 0 if none has ever been
// written (a brand-new node).
func (s *TermStore) ReadTerm() (Term, error) {
	b, err := os.ReadFile(s.termPath())
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: read term: %v", ErrLogIO, err)
	}
	if len(b) != 8 {
		return 0, fmt.Errorf("%w: corrupt term file (len=%d)", ErrLogIO, len(b))
	}
	return Term(binary.LittleEndian.Uint64(b)), nil
}

// WriteTerm durably persists term, fsynced before returning.
func (s *TermStore) WriteTerm(term Term) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(term))
	return atomicWriteFsync(s.termPath(), buf)
}

// ReadVote returns the vote cast alongside the current term: (castForTerm,
// votedFor, ok). ok is false if no vote has ever been persisted.
func (s *TermStore) ReadVote() (Term, MemberId, bool, error) {
	b, err := os.ReadFile(s.votePath())
	if os.IsNotExist(err) {
		return 0, NilMember, false, nil
	}
	if err != nil {
		return 0, NilMember, false, fmt.Errorf("%w: read vote: %v", ErrLogIO, err)
	}
	if len(b) != 24 {
		return 0, NilMember, false, fmt.Errorf("%w: corrupt vote file (len=%d)", ErrLogIO, len(b))
	}
	term := Term(binary.LittleEndian.Uint64(b[0:8]))
	var raw uuid.UUID
	copy(raw[:], b[8:24])
	if raw == clearedVoteSentinel {
		// All-ones sentinel distinguishes "explicitly cleared" from "voted
		// for the nil member"; a true nil-UUID vote never occurs since
		// MemberId is always a real generated UUID.
		return term, NilMember, false, nil
	}
	return term, MemberId(raw), true, nil
}

// WriteVote durably persists (term, votedFor) together, fsynced before
// returning, satisfying the spec §4.4 rule that a vote grant and the term
// it is cast in are made crash-atomic together.
func (s *TermStore) WriteVote(term Term, votedFor MemberId) error {
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(term))
	if votedFor == NilMember {
		for i := 8; i < 24; i++ {
			buf[i] = 0xff
		}
	} else {
		copy(buf[8:24], votedFor[:])
	}
	return atomicWriteFsync(s.votePath(), buf)
}

// atomicWriteFsync writes data to a temp file in the same directory,
// fsyncs it, then renames it over path -- the write-temp-fsync-rename
// pattern that makes a crash mid-write leave the prior value intact
// instead of a torn file.
func atomicWriteFsync(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open temp: %v", ErrLogIO, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("%w: write temp: %v", ErrLogIO, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("%w: fsync temp: %v", ErrLogIO, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close temp: %v", ErrLogIO, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("%w: rename: %v", ErrLogIO, err)
	}
	return nil
}
