package apiv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	SnapshotService_GetStateInfo_FullMethodName   = "/worldsync.v1.SnapshotService/GetStateInfo"
	SnapshotService_GetComponents_FullMethodName  = "/worldsync.v1.SnapshotService/GetComponents"
	SnapshotService_GetEntities_FullMethodName    = "/worldsync.v1.SnapshotService/GetEntities"
	SnapshotService_StreamRemovals_FullMethodName = "/worldsync.v1.SnapshotService/StreamRemovals"
	SnapshotService_StreamValues_FullMethodName   = "/worldsync.v1.SnapshotService/StreamValues"
)

// SnapshotServiceClient reads reconciled world state from an indexer.
type SnapshotServiceClient interface {
	GetStateInfo(ctx context.Context, in *StateInfoRequest, opts ...grpc.CallOption) (*StateInfo, error)
	GetComponents(ctx context.Context, in *TableRequest, opts ...grpc.CallOption) (*TableResponse, error)
	GetEntities(ctx context.Context, in *TableRequest, opts ...grpc.CallOption) (*TableResponse, error)
	StreamRemovals(ctx context.Context, in *RemovalsRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[RemovalChunk], error)
	StreamValues(ctx context.Context, in *ValuesRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[ValueChunk], error)
}

type snapshotServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewSnapshotServiceClient(cc grpc.ClientConnInterface) SnapshotServiceClient {
	return &snapshotServiceClient{cc}
}

func (c *snapshotServiceClient) GetStateInfo(ctx context.Context, in *StateInfoRequest, opts ...grpc.CallOption) (*StateInfo, error) {
	out := new(StateInfo)
	if err := c.cc.Invoke(ctx, SnapshotService_GetStateInfo_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *snapshotServiceClient) GetComponents(ctx context.Context, in *TableRequest, opts ...grpc.CallOption) (*TableResponse, error) {
	out := new(TableResponse)
	if err := c.cc.Invoke(ctx, SnapshotService_GetComponents_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *snapshotServiceClient) GetEntities(ctx context.Context, in *TableRequest, opts ...grpc.CallOption) (*TableResponse, error) {
	out := new(TableResponse)
	if err := c.cc.Invoke(ctx, SnapshotService_GetEntities_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *snapshotServiceClient) StreamRemovals(ctx context.Context, in *RemovalsRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[RemovalChunk], error) {
	stream, err := c.cc.NewStream(ctx, &SnapshotService_ServiceDesc.Streams[0], SnapshotService_StreamRemovals_FullMethodName, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[RemovalsRequest, RemovalChunk]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

func (c *snapshotServiceClient) StreamValues(ctx context.Context, in *ValuesRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[ValueChunk], error) {
	stream, err := c.cc.NewStream(ctx, &SnapshotService_ServiceDesc.Streams[1], SnapshotService_StreamValues_FullMethodName, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[ValuesRequest, ValueChunk]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// SnapshotServiceServer is implemented by snapshot indexers.
type SnapshotServiceServer interface {
	GetStateInfo(context.Context, *StateInfoRequest) (*StateInfo, error)
	GetComponents(context.Context, *TableRequest) (*TableResponse, error)
	GetEntities(context.Context, *TableRequest) (*TableResponse, error)
	StreamRemovals(*RemovalsRequest, grpc.ServerStreamingServer[RemovalChunk]) error
	StreamValues(*ValuesRequest, grpc.ServerStreamingServer[ValueChunk]) error
}

// UnimplementedSnapshotServiceServer can be embedded to satisfy the interface.
type UnimplementedSnapshotServiceServer struct{}

func (UnimplementedSnapshotServiceServer) GetStateInfo(context.Context, *StateInfoRequest) (*StateInfo, error) {
	return nil, status.Errorf(codes.Unimplemented, "method GetStateInfo not implemented")
}
func (UnimplementedSnapshotServiceServer) GetComponents(context.Context, *TableRequest) (*TableResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method GetComponents not implemented")
}
func (UnimplementedSnapshotServiceServer) GetEntities(context.Context, *TableRequest) (*TableResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method GetEntities not implemented")
}
func (UnimplementedSnapshotServiceServer) StreamRemovals(*RemovalsRequest, grpc.ServerStreamingServer[RemovalChunk]) error {
	return status.Errorf(codes.Unimplemented, "method StreamRemovals not implemented")
}
func (UnimplementedSnapshotServiceServer) StreamValues(*ValuesRequest, grpc.ServerStreamingServer[ValueChunk]) error {
	return status.Errorf(codes.Unimplemented, "method StreamValues not implemented")
}

func RegisterSnapshotServiceServer(s grpc.ServiceRegistrar, srv SnapshotServiceServer) {
	s.RegisterService(&SnapshotService_ServiceDesc, srv)
}

func _SnapshotService_GetStateInfo_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(StateInfoRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SnapshotServiceServer).GetStateInfo(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SnapshotService_GetStateInfo_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SnapshotServiceServer).GetStateInfo(ctx, req.(*StateInfoRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _SnapshotService_GetComponents_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(TableRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SnapshotServiceServer).GetComponents(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SnapshotService_GetComponents_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SnapshotServiceServer).GetComponents(ctx, req.(*TableRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _SnapshotService_GetEntities_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(TableRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SnapshotServiceServer).GetEntities(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SnapshotService_GetEntities_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SnapshotServiceServer).GetEntities(ctx, req.(*TableRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _SnapshotService_StreamRemovals_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(RemovalsRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(SnapshotServiceServer).StreamRemovals(m, &grpc.GenericServerStream[RemovalsRequest, RemovalChunk]{ServerStream: stream})
}

func _SnapshotService_StreamValues_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(ValuesRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(SnapshotServiceServer).StreamValues(m, &grpc.GenericServerStream[ValuesRequest, ValueChunk]{ServerStream: stream})
}

// SnapshotService_ServiceDesc describes SnapshotService for grpc.RegisterService.
var SnapshotService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "worldsync.v1.SnapshotService",
	HandlerType: (*SnapshotServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStateInfo", Handler: _SnapshotService_GetStateInfo_Handler},
		{MethodName: "GetComponents", Handler: _SnapshotService_GetComponents_Handler},
		{MethodName: "GetEntities", Handler: _SnapshotService_GetEntities_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamRemovals", Handler: _SnapshotService_StreamRemovals_Handler, ServerStreams: true},
		{StreamName: "StreamValues", Handler: _SnapshotService_StreamValues_Handler, ServerStreams: true},
	},
	Metadata: "worldsync/v1/snapshot",
}

// Server-side stream aliases.
type (
	SnapshotService_StreamRemovalsServer = grpc.ServerStreamingServer[RemovalChunk]
	SnapshotService_StreamValuesServer   = grpc.ServerStreamingServer[ValueChunk]
)
