package clusterbinding

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jsxtech/neo4j-sub001/internal/clusterbinding/discoverypb"
	"github.com/jsxtech/neo4j-sub001/internal/raft"
)

// InMemoryDiscovery is a single-process Discovery, used by cmd/raftnode:
// a shared struct standing in for the separate discovery/gossip layer.
type InMemoryDiscovery struct {
	mu               sync.Mutex
	clusterID        raft.ClusterId
	published        bool
	members          []raft.MemberId
	bootstrapCapable map[raft.MemberId]bool
	self             raft.MemberId
}

func NewInMemoryDiscovery(self raft.MemberId, members []raft.MemberId, bootstrapCapable map[raft.MemberId]bool) *InMemoryDiscovery {
	return &InMemoryDiscovery{self: self, members: members, bootstrapCapable: bootstrapCapable}
}

func (d *InMemoryDiscovery) PublishClusterId(ctx context.Context, id raft.ClusterId) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.published {
		return d.clusterID == id, nil
	}
	d.clusterID = id
	d.published = true
	return true, nil
}

func (d *InMemoryDiscovery) ObserveClusterId(ctx context.Context) (raft.ClusterId, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clusterID, d.published, nil
}

func (d *InMemoryDiscovery) CoreMembers(ctx context.Context) ([]raft.MemberId, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]raft.MemberId, len(d.members))
	copy(out, d.members)
	return out, nil
}

func (d *InMemoryDiscovery) IsBootstrapCapable(ctx context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bootstrapCapable[d.self], nil
}

var _ Discovery = (*InMemoryDiscovery)(nil)

// Server exposes an InMemoryDiscovery (or any compatible store) over
// gRPC via discoverypb.ClusterBindingServer, for the bootstrap member's
// process to answer other members' Observe/Publish calls across the
// network.
type Server struct {
	discoverypb.UnimplementedClusterBindingServer
	store *InMemoryDiscovery
}

func NewServer(store *InMemoryDiscovery) *Server { return &Server{store: store} }

func (s *Server) Publish(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	idStr := req.Fields["cluster_id"].GetStringValue()
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, err
	}
	accepted, err := s.store.PublishClusterId(ctx, raft.ClusterId(id))
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]interface{}{"accepted": accepted})
}

func (s *Server) Observe(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, found, err := s.store.ObserveClusterId(ctx)
	if err != nil {
		return nil, err
	}
	if !found {
		return structpb.NewStruct(map[string]interface{}{"found": false})
	}
	return structpb.NewStruct(map[string]interface{}{
		"found":      true,
		"cluster_id": uuid.UUID(id).String(),
	})
}

// RemoteDiscovery adapts a discoverypb.ClusterBindingClient (dialed to
// the bootstrap member) to the Discovery interface non-bootstrap members
// consume.
type RemoteDiscovery struct {
	client           discoverypb.ClusterBindingClient
	self             raft.MemberId
	members          []raft.MemberId
	bootstrapCapable bool
}

func NewRemoteDiscovery(client discoverypb.ClusterBindingClient, self raft.MemberId, members []raft.MemberId, bootstrapCapable bool) *RemoteDiscovery {
	return &RemoteDiscovery{client: client, self: self, members: members, bootstrapCapable: bootstrapCapable}
}

func (r *RemoteDiscovery) PublishClusterId(ctx context.Context, id raft.ClusterId) (bool, error) {
	req, err := structpb.NewStruct(map[string]interface{}{"cluster_id": uuid.UUID(id).String()})
	if err != nil {
		return false, err
	}
	resp, err := r.client.Publish(ctx, req)
	if err != nil {
		return false, err
	}
	return resp.Fields["accepted"].GetBoolValue(), nil
}

func (r *RemoteDiscovery) ObserveClusterId(ctx context.Context) (raft.ClusterId, bool, error) {
	resp, err := r.client.Observe(ctx, &structpb.Struct{})
	if err != nil {
		return raft.ClusterId{}, false, err
	}
	if !resp.Fields["found"].GetBoolValue() {
		return raft.ClusterId{}, false, nil
	}
	id, err := uuid.Parse(resp.Fields["cluster_id"].GetStringValue())
	if err != nil {
		return raft.ClusterId{}, false, err
	}
	return raft.ClusterId(id), true, nil
}

func (r *RemoteDiscovery) CoreMembers(ctx context.Context) ([]raft.MemberId, error) {
	out := make([]raft.MemberId, len(r.members))
	copy(out, r.members)
	return out, nil
}

func (r *RemoteDiscovery) IsBootstrapCapable(ctx context.Context) (bool, error) {
	return r.bootstrapCapable, nil
}

var _ Discovery = (*RemoteDiscovery)(nil)
