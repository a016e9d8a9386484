package raft

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// segmentMagic identifies a valid segment header (spec §6: "magic u32").
const segmentMagic uint32 = 0x52414654 // "RAFT"

// segmentHeaderSize is the fixed byte size of a segment file's header:
// prevIndex i64, prevTerm u64, version u64, magic u32.
const segmentHeaderSize = 8 + 8 + 8 + 4

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// segment is one "raft-log/v<N>.seg" file: a header describing the log
// state at the time it was created, followed by framed entries appended
// since. Segments are chunking for on-disk storage and pruning; the
// SegmentedLog presents a single contiguous view across all of them.
type segment struct {
	version   uint64
	path      string
	file      *os.File // open for append while active; nil once sealed
	prevIndex LogIndex
	prevTerm  Term
	size      int64
}

// SegmentedLog is the durable Log implementation described in spec §4.1: a
// sequence of segment files, each headed by (prevIndex, prevTerm, version),
// holding length-prefixed, checksummed entry frames. A new segment begins
// once the active one crosses sizeThreshold bytes.
//
// Grounded on vzdtic-distributed-consensus-raft-kv-store's pkg/wal/wal.go
// (length+CRC framing, truncate-on-bad-record recovery), generalized here
// from a single file into true multi-segment rollover and pruning, per
// spec §4.1's explicit "physical layout" requirement.
type SegmentedLog struct {
	mu            sync.Mutex
	dir           string
	sizeThreshold int64

	segments []*segment // ascending version; last is active

	// entries[i] is the entry at LogIndex(prevIndex+1+i); a single
	// contiguous in-memory view backed by possibly many segment files.
	entries   []Entry
	prevIndex LogIndex
	prevTerm  Term
}

// OpenSegmentedLog opens (creating if necessary) a segmented log rooted at
// dir/raft-log, replaying the highest-version segments to reconstruct
// appendIndex, truncating any trailing partial or ill-framed entry found
// during replay (spec §6: "a trailing truncated/bad-CRC entry causes a
// truncation to the last good record, logged prominently").
func OpenSegmentedLog(dir string, sizeThreshold int64) (*SegmentedLog, error) {
	logDir := filepath.Join(dir, "raft-log")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("raft: create log dir: %w", err)
	}

	l := &SegmentedLog{
		dir:           logDir,
		sizeThreshold: sizeThreshold,
		prevIndex:     NoIndex,
		prevTerm:      0,
	}

	versions, err := listSegmentVersions(logDir)
	if err != nil {
		return nil, err
	}

	if len(versions) == 0 {
		if err := l.rollNewSegment(NoIndex, 0); err != nil {
			return nil, err
		}
		return l, nil
	}

	for i, v := range versions {
		seg, entries, truncated, err := loadSegment(logDir, v)
		if err != nil {
			return nil, fmt.Errorf("raft: load segment v%d: %w", v, err)
		}
		if truncated {
			log.Warn().Uint64("version", v).Msg("raft: truncated ill-framed tail entry during log recovery")
		}
		l.segments = append(l.segments, seg)
		if i == 0 {
			l.prevIndex = seg.prevIndex
			l.prevTerm = seg.prevTerm
		}
		l.entries = append(l.entries, entries...)
	}

	active := l.segments[len(l.segments)-1]
	f, err := os.OpenFile(active.path, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("raft: reopen active segment: %w", err)
	}
	active.file = f

	return l, nil
}

func listSegmentVersions(dir string) ([]uint64, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("raft: list segments: %w", err)
	}
	var versions []uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, "v") || !strings.HasSuffix(name, ".seg") {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, "v"), ".seg"), 10, 64)
		if err != nil {
			continue
		}
		versions = append(versions, n)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions, nil
}

func segmentPath(dir string, version uint64) string {
	return filepath.Join(dir, fmt.Sprintf("v%d.seg", version))
}

func loadSegment(dir string, version uint64) (*segment, []Entry, bool, error) {
	path := segmentPath(dir, version)
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, false, err
	}
	defer f.Close()

	hdr := make([]byte, segmentHeaderSize)
	if _, err := io.ReadFull(f, hdr); err != nil {
		return nil, nil, false, fmt.Errorf("raft: read segment header: %w", err)
	}
	prevIndex := LogIndex(int64(binary.LittleEndian.Uint64(hdr[0:8])))
	prevTerm := Term(binary.LittleEndian.Uint64(hdr[8:16]))
	hdrVersion := binary.LittleEndian.Uint64(hdr[16:24])
	magic := binary.LittleEndian.Uint32(hdr[24:28])
	if magic != segmentMagic || hdrVersion != version {
		return nil, nil, false, fmt.Errorf("raft: corrupt segment header in %s", path)
	}

	var entries []Entry
	var size int64 = segmentHeaderSize
	truncated := false

	for {
		frameLen := make([]byte, 4)
		if _, err := io.ReadFull(f, frameLen); err != nil {
			if err == io.EOF {
				break
			}
			truncated = true
			break
		}
		payloadLen := binary.LittleEndian.Uint32(frameLen)

		rest := make([]byte, 8+payloadLen+4) // term + payload + crc
		if _, err := io.ReadFull(f, rest); err != nil {
			truncated = true
			break
		}
		term := Term(binary.LittleEndian.Uint64(rest[0:8]))
		payload := rest[8 : 8+payloadLen]
		wantCRC := binary.LittleEndian.Uint32(rest[8+payloadLen:])

		got := crc32.Checksum(rest[0:8+payloadLen], crc32cTable)
		if got != wantCRC {
			truncated = true
			break
		}

		cmd, err := decodeCommand(payload)
		if err != nil {
			truncated = true
			break
		}
		entries = append(entries, Entry{Term: term, Command: cmd})
		size += int64(4 + 8 + payloadLen + 4)
	}

	if truncated {
		// Seal the good prefix; the caller reopens for append after us.
		if err := os.Truncate(path, size); err != nil {
			return nil, nil, false, fmt.Errorf("raft: truncate ill-framed tail: %w", err)
		}
	}

	return &segment{
		version:   version,
		path:      path,
		prevIndex: prevIndex,
		prevTerm:  prevTerm,
		size:      size,
	}, entries, truncated, nil
}

func (l *SegmentedLog) rollNewSegment(prevIndex LogIndex, prevTerm Term) error {
	version := uint64(1)
	if len(l.segments) > 0 {
		prior := l.segments[len(l.segments)-1]
		if prior.file != nil {
			prior.file.Close()
			prior.file = nil
		}
		version = prior.version + 1
	}

	path := segmentPath(l.dir, version)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: create segment: %v", ErrLogIO, err)
	}

	hdr := make([]byte, segmentHeaderSize)
	binary.LittleEndian.PutUint64(hdr[0:8], uint64(int64(prevIndex)))
	binary.LittleEndian.PutUint64(hdr[8:16], uint64(prevTerm))
	binary.LittleEndian.PutUint64(hdr[16:24], version)
	binary.LittleEndian.PutUint32(hdr[24:28], segmentMagic)

	if _, err := f.Write(hdr); err != nil {
		return fmt.Errorf("%w: write segment header: %v", ErrLogIO, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("%w: fsync segment header: %v", ErrLogIO, err)
	}

	l.segments = append(l.segments, &segment{
		version:   version,
		path:      path,
		file:      f,
		prevIndex: prevIndex,
		prevTerm:  prevTerm,
		size:      segmentHeaderSize,
	})
	return nil
}

func frameSize(payloadLen int) int64 { return int64(4 + 8 + payloadLen + 4) }

// Append implements Log.Append. It writes every entry's frame to the
// active segment and fsyncs before returning, per the spec §4.1 durability
// contract.
func (l *SegmentedLog) Append(entries []Entry) (LogIndex, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	active := l.segments[len(l.segments)-1]

	for _, e := range entries {
		payload := encodeCommand(e.Command)
		frame := make([]byte, frameSize(len(payload)))
		binary.LittleEndian.PutUint32(frame[0:4], uint32(len(payload)))
		binary.LittleEndian.PutUint64(frame[4:12], uint64(e.Term))
		copy(frame[12:12+len(payload)], payload)
		crc := crc32.Checksum(frame[4:12+len(payload)], crc32cTable)
		binary.LittleEndian.PutUint32(frame[12+len(payload):], crc)

		if _, err := active.file.Write(frame); err != nil {
			return 0, fmt.Errorf("%w: append: %v", ErrLogIO, err)
		}
		if err := active.file.Sync(); err != nil {
			return 0, fmt.Errorf("%w: fsync append: %v", ErrLogIO, err)
		}

		active.size += int64(len(frame))
		l.entries = append(l.entries, e)

		if active.size >= l.sizeThreshold {
			lastIdx := l.appendIndexLocked()
			lastTerm := e.Term
			if err := l.rollNewSegment(lastIdx, lastTerm); err != nil {
				return 0, err
			}
			active = l.segments[len(l.segments)-1]
		}
	}

	return l.appendIndexLocked(), nil
}

// Truncate implements Log.Truncate: discard all entries at fromIndex and
// above. Precondition: fromIndex > PrevIndex().
func (l *SegmentedLog) Truncate(fromIndex LogIndex) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if fromIndex <= l.prevIndex {
		return fmt.Errorf("raft: truncate precondition violated: fromIndex=%d prevIndex=%d", fromIndex, l.prevIndex)
	}
	keep := int(fromIndex - l.prevIndex - 1)
	if keep < 0 {
		keep = 0
	}
	if keep > len(l.entries) {
		return nil
	}
	l.entries = l.entries[:keep]

	// Find which segment holds the new tail and truncate the file to the
	// matching byte offset; drop any segments entirely past the tail.
	keptGlobalIndex := l.prevIndex + LogIndex(keep)
	for i := len(l.segments) - 1; i >= 0; i-- {
		seg := l.segments[i]
		if seg.prevIndex < keptGlobalIndex || i == 0 {
			// This segment holds (part of) the kept tail; recompute its
			// byte size by replaying frames up to keptGlobalIndex and
			// truncate the underlying file there.
			if err := l.truncateSegmentToIndex(seg, keptGlobalIndex); err != nil {
				return err
			}
			for j := i + 1; j < len(l.segments); j++ {
				dropped := l.segments[j]
				if dropped.file != nil {
					dropped.file.Close()
				}
				os.Remove(dropped.path)
			}
			l.segments = l.segments[:i+1]
			break
		}
	}
	return nil
}

func (l *SegmentedLog) truncateSegmentToIndex(seg *segment, keptIndex LogIndex) error {
	wasActive := seg.file != nil
	if seg.file != nil {
		seg.file.Close()
		seg.file = nil
	}

	_, entries, _, err := loadSegment(filepath.Dir(seg.path), seg.version)
	if err != nil {
		return err
	}
	keepN := int(keptIndex - seg.prevIndex)
	if keepN < 0 {
		keepN = 0
	}
	if keepN > len(entries) {
		keepN = len(entries)
	}

	size := int64(segmentHeaderSize)
	for _, e := range entries[:keepN] {
		size += frameSize(len(encodeCommand(e.Command)))
	}

	if err := os.Truncate(seg.path, size); err != nil {
		return fmt.Errorf("%w: truncate segment: %v", ErrLogIO, err)
	}
	seg.size = size

	if wasActive {
		f, err := os.OpenFile(seg.path, os.O_RDWR|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("%w: reopen after truncate: %v", ErrLogIO, err)
		}
		seg.file = f
	}
	return nil
}

// Prune implements Log.Prune: advance prevIndex to upToIndex, dropping
// fully-covered segment files. upToIndex is clamped to AppendIndex(); Prune
// does not check commitIndex or any peer's matchIndex, and RaftMachine
// never calls it.
func (l *SegmentedLog) Prune(upToIndex LogIndex) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if upToIndex <= l.prevIndex {
		return nil
	}
	if upToIndex > l.appendIndexLocked() {
		upToIndex = l.appendIndexLocked()
	}

	keepFrom := int(upToIndex - l.prevIndex)
	newPrevTerm := l.prevTerm
	if keepFrom > 0 && keepFrom <= len(l.entries) {
		newPrevTerm = l.entries[keepFrom-1].Term
	}
	if keepFrom > len(l.entries) {
		keepFrom = len(l.entries)
	}

	l.entries = l.entries[keepFrom:]
	l.prevIndex = upToIndex
	l.prevTerm = newPrevTerm

	// Drop any sealed segment fully at or below the new prevIndex.
	kept := l.segments[:0:0]
	for i, seg := range l.segments {
		isActive := i == len(l.segments)-1
		nextPrev := l.appendIndexLocked()
		if i+1 < len(l.segments) {
			nextPrev = l.segments[i+1].prevIndex
		}
		if !isActive && nextPrev <= upToIndex {
			if seg.file != nil {
				seg.file.Close()
			}
			os.Remove(seg.path)
			continue
		}
		kept = append(kept, seg)
	}
	l.segments = kept
	return nil
}

func (l *SegmentedLog) ReadEntry(index LogIndex) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index <= l.prevIndex || index > l.appendIndexLocked() {
		return Entry{}, ErrOutOfRange
	}
	return l.entries[int(index-l.prevIndex-1)], nil
}

func (l *SegmentedLog) ReadEntryTerm(index LogIndex) (Term, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index == l.prevIndex {
		return l.prevTerm, nil
	}
	if index <= l.prevIndex || index > l.appendIndexLocked() {
		return 0, ErrOutOfRange
	}
	return l.entries[int(index-l.prevIndex-1)].Term, nil
}

func (l *SegmentedLog) AppendIndex() LogIndex {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendIndexLocked()
}

func (l *SegmentedLog) appendIndexLocked() LogIndex {
	return l.prevIndex + LogIndex(len(l.entries))
}

func (l *SegmentedLog) PrevIndex() LogIndex {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.prevIndex
}

func (l *SegmentedLog) PrevTerm() Term {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.prevTerm
}

// Close closes the active segment file.
func (l *SegmentedLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.segments) == 0 {
		return nil
	}
	active := l.segments[len(l.segments)-1]
	if active.file != nil {
		return active.file.Close()
	}
	return nil
}

var _ Log = (*SegmentedLog)(nil)
