// Package clusterbinding implements the spec §4.7 handshake that stamps
// a shared ClusterId onto every member before the first election: the
// one piece of the discovery/gossip layer this core is responsible for.
// Bulk peer discovery, health gossip, and topology maintenance remain
// out of scope (spec §1) -- only the publish/observe primitives needed
// to agree on a ClusterId are specified here.
package clusterbinding

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/jsxtech/neo4j-sub001/internal/raft"
)

// Discovery is the collaborator the core consumes (spec §6): "consumed
// by the core" interfaces for publishing and observing the cluster id
// and for learning the bootstrap member set.
type Discovery interface {
	// PublishClusterId attempts to register id as the cluster's identity.
	// Returns true if this publication was accepted (either this call
	// registered it, or an identical id was already registered).
	PublishClusterId(ctx context.Context, id raft.ClusterId) (bool, error)

	// ObserveClusterId returns the currently published id, if any.
	ObserveClusterId(ctx context.Context) (raft.ClusterId, bool, error)

	// CoreMembers returns the bootstrap core member set.
	CoreMembers(ctx context.Context) ([]raft.MemberId, error)

	// IsBootstrapCapable reports whether this process is the one
	// designated to mint a fresh ClusterId when none exists yet.
	IsBootstrapCapable(ctx context.Context) (bool, error)
}

// Binder runs the four-step protocol from spec §4.7 and persists the
// agreed ClusterId to dataDir/raft-state/cluster-id.
type Binder struct {
	dataDir      string
	discovery    Discovery
	pollInterval time.Duration
	deadline     time.Duration
}

func NewBinder(dataDir string, discovery Discovery, pollInterval, deadline time.Duration) *Binder {
	return &Binder{dataDir: dataDir, discovery: discovery, pollInterval: pollInterval, deadline: deadline}
}

func (b *Binder) clusterIDPath() string {
	return filepath.Join(b.dataDir, "raft-state", "cluster-id")
}

// Bind runs the handshake to completion, returning the agreed ClusterId.
// Per spec §9 design notes, cluster-id immutability (once persisted,
// never changes) is a testable property (§8); Bind enforces that by
// never overwriting an existing persisted id with anything but itself.
func (b *Binder) Bind(ctx context.Context) (raft.ClusterId, error) {
	persisted, ok, err := b.readPersisted()
	if err != nil {
		return raft.ClusterId{}, err
	}
	if ok {
		if _, err := b.discovery.PublishClusterId(ctx, persisted); err != nil {
			log.Warn().Err(err).Msg("clusterbinding: republish of persisted cluster id failed, continuing")
		}
		if observed, observedOK, err := b.discovery.ObserveClusterId(ctx); err == nil && observedOK && observed != persisted {
			return raft.ClusterId{}, fmt.Errorf("%w: persisted=%s observed=%s", raft.ErrBindingMismatch, persisted, observed)
		}
		return persisted, nil
	}

	bootstrapCapable, err := b.discovery.IsBootstrapCapable(ctx)
	if err != nil {
		return raft.ClusterId{}, err
	}
	if bootstrapCapable {
		fresh := raft.ClusterId(uuid.New())
		accepted, err := b.discovery.PublishClusterId(ctx, fresh)
		if err != nil {
			return raft.ClusterId{}, err
		}
		if accepted {
			if err := b.persist(fresh); err != nil {
				return raft.ClusterId{}, err
			}
			return fresh, nil
		}
		// Another bootstrap-capable member won the race; fall through to
		// the polling path like any non-bootstrap member.
	}

	deadline := time.Now().Add(b.deadline)
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()
	for {
		if id, found, err := b.discovery.ObserveClusterId(ctx); err == nil && found {
			if err := b.persist(id); err != nil {
				return raft.ClusterId{}, err
			}
			return id, nil
		}
		if time.Now().After(deadline) {
			return raft.ClusterId{}, raft.ErrBindingTimeout
		}
		select {
		case <-ctx.Done():
			return raft.ClusterId{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (b *Binder) readPersisted() (raft.ClusterId, bool, error) {
	data, err := os.ReadFile(b.clusterIDPath())
	if os.IsNotExist(err) {
		return raft.ClusterId{}, false, nil
	}
	if err != nil {
		return raft.ClusterId{}, false, fmt.Errorf("clusterbinding: read cluster id: %w", err)
	}
	if len(data) != 16 {
		return raft.ClusterId{}, false, fmt.Errorf("clusterbinding: corrupt cluster-id file (len=%d)", len(data))
	}
	var id uuid.UUID
	copy(id[:], data)
	return raft.ClusterId(id), true, nil
}

func (b *Binder) persist(id raft.ClusterId) error {
	dir := filepath.Join(b.dataDir, "raft-state")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("clusterbinding: create state dir: %w", err)
	}
	raw := uuid.UUID(id)
	path := b.clusterIDPath()
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("clusterbinding: open temp: %w", err)
	}
	if _, err := f.Write(raw[:]); err != nil {
		f.Close()
		return fmt.Errorf("clusterbinding: write temp: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("clusterbinding: fsync temp: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("clusterbinding: close temp: %w", err)
	}
	return os.Rename(tmp, path)
}
