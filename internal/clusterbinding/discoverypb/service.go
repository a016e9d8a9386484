// Package discoverypb defines the gRPC service contract for the one-time
// cluster-id binding handshake (spec §4.7). The handshake is small and
// low-frequency enough that it is worth the protoc toolchain's generated
// ceremony only in spirit: messages are carried as
// google.golang.org/protobuf/types/known/structpb.Struct (a regular,
// fully generated proto.Message already vendored by the protobuf module
// itself), and this file hand-authors the client/server stubs and
// grpc.ServiceDesc the way protoc-gen-go-grpc would emit them for a
// two-method service. This keeps the wire format genuinely
// protobuf-encoded without requiring a protoc invocation.
package discoverypb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	serviceName = "discoverypb.ClusterBinding"

	publishMethod = "/" + serviceName + "/Publish"
	observeMethod = "/" + serviceName + "/Observe"
)

// ClusterBindingClient is the client side of the handshake service.
type ClusterBindingClient interface {
	Publish(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Observe(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type clusterBindingClient struct {
	cc grpc.ClientConnInterface
}

// NewClusterBindingClient adapts an established grpc.ClientConn.
func NewClusterBindingClient(cc grpc.ClientConnInterface) ClusterBindingClient {
	return &clusterBindingClient{cc: cc}
}

func (c *clusterBindingClient) Publish(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, publishMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *clusterBindingClient) Observe(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, observeMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ClusterBindingServer is the server side of the handshake service.
type ClusterBindingServer interface {
	Publish(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Observe(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// UnimplementedClusterBindingServer embeds into concrete implementations
// for forward compatibility, mirroring protoc-gen-go-grpc's convention.
type UnimplementedClusterBindingServer struct{}

func (UnimplementedClusterBindingServer) Publish(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Publish not implemented")
}

func (UnimplementedClusterBindingServer) Observe(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Observe not implemented")
}

func _ClusterBinding_Publish_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClusterBindingServer).Publish(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: publishMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ClusterBindingServer).Publish(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _ClusterBinding_Observe_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClusterBindingServer).Observe(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: observeMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ClusterBindingServer).Observe(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// ClusterBinding_ServiceDesc is the grpc.ServiceDesc for this service,
// registered via RegisterClusterBindingServer.
var ClusterBinding_ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ClusterBindingServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Publish", Handler: _ClusterBinding_Publish_Handler},
		{MethodName: "Observe", Handler: _ClusterBinding_Observe_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "discoverypb/clusterbinding.proto",
}

// RegisterClusterBindingServer registers srv with s, the way
// protoc-gen-go-grpc's generated RegisterXServer function would.
func RegisterClusterBindingServer(s grpc.ServiceRegistrar, srv ClusterBindingServer) {
	s.RegisterService(&ClusterBinding_ServiceDesc, srv)
}
