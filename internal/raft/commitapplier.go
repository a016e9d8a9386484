package raft

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Application is the collaborator that receives committed entries in
// order (spec §6: "Application.apply(entries[])... idempotent keyed on
// entry index", "Application.snapshotLastApplied() -> index").
type Application interface {
	Apply(entries []AppliedEntry) error
	SnapshotLastApplied() (LogIndex, error)
}

// AppliedEntry pairs a committed entry with the index it was committed
// at, since Command alone doesn't carry position.
type AppliedEntry struct {
	Index LogIndex
	Entry Entry
}

// CommitApplier is the single-threaded consumer described in spec §4.9:
// whenever commitIndex > lastApplied, it reads (lastApplied, commitIndex]
// in order and hands the entries to Application.apply, then advances
// lastApplied. It runs on its own goroutine, reading the log and the
// commitIndex watermark exposed by the driver; it never mutates raft
// state directly.
type CommitApplier struct {
	machine *RaftMachine
	app     Application
	poll    time.Duration
}

func NewCommitApplier(m *RaftMachine, app Application) *CommitApplier {
	return &CommitApplier{machine: m, app: app, poll: 10 * time.Millisecond}
}

// Run recovers lastApplied from the application's checkpoint, then polls
// commitIndex until ctx is done, applying newly committed entries as they
// appear. Polling (rather than the driver pushing applies inline) keeps
// CommitApplier off the hot path per spec §5's concurrency model: "The
// CommitApplier runs on its own thread... the driver loop suspends only
// on (a)/(b)/(c)", none of which include waiting on application code.
func (c *CommitApplier) Run(ctx context.Context) error {
	lastApplied, err := c.app.SnapshotLastApplied()
	if err != nil {
		return err
	}

	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			commit := c.machine.CommitIndex()
			if commit <= lastApplied {
				continue
			}
			entries := make([]AppliedEntry, 0, commit-lastApplied)
			for idx := lastApplied + 1; idx <= commit; idx++ {
				e, err := c.machine.log.ReadEntry(idx)
				if err != nil {
					log.Error().Err(err).Int64("index", int64(idx)).Msg("raft: commit applier read failure")
					break
				}
				entries = append(entries, AppliedEntry{Index: idx, Entry: e})
			}
			if len(entries) == 0 {
				continue
			}
			if err := c.app.Apply(entries); err != nil {
				log.Error().Err(err).Msg("raft: application apply failed, will retry on next tick")
				continue
			}
			lastApplied = entries[len(entries)-1].Index
		}
	}
}
