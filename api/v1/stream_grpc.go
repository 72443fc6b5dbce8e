package apiv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const StreamService_SubscribeUpdates_FullMethodName = "/worldsync.v1.StreamService/SubscribeUpdates"

// StreamServiceClient subscribes to per-block world updates.
type StreamServiceClient interface {
	SubscribeUpdates(ctx context.Context, in *SubscribeRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[UpdateBatch], error)
}

type streamServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewStreamServiceClient(cc grpc.ClientConnInterface) StreamServiceClient {
	return &streamServiceClient{cc}
}

func (c *streamServiceClient) SubscribeUpdates(ctx context.Context, in *SubscribeRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[UpdateBatch], error) {
	stream, err := c.cc.NewStream(ctx, &StreamService_ServiceDesc.Streams[0], StreamService_SubscribeUpdates_FullMethodName, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[SubscribeRequest, UpdateBatch]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type StreamServiceServer interface {
	SubscribeUpdates(*SubscribeRequest, grpc.ServerStreamingServer[UpdateBatch]) error
}

type UnimplementedStreamServiceServer struct{}

func (UnimplementedStreamServiceServer) SubscribeUpdates(*SubscribeRequest, grpc.ServerStreamingServer[UpdateBatch]) error {
	return status.Errorf(codes.Unimplemented, "method SubscribeUpdates not implemented")
}

func RegisterStreamServiceServer(s grpc.ServiceRegistrar, srv StreamServiceServer) {
	s.RegisterService(&StreamService_ServiceDesc, srv)
}

func _StreamService_SubscribeUpdates_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(SubscribeRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(StreamServiceServer).SubscribeUpdates(m, &grpc.GenericServerStream[SubscribeRequest, UpdateBatch]{ServerStream: stream})
}

var StreamService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "worldsync.v1.StreamService",
	HandlerType: (*StreamServiceServer)(nil),
	Streams: []grpc.StreamDesc{
		{StreamName: "SubscribeUpdates", Handler: _StreamService_SubscribeUpdates_Handler, ServerStreams: true},
	},
	Metadata: "worldsync/v1/stream",
}

type StreamService_SubscribeUpdatesServer = grpc.ServerStreamingServer[UpdateBatch]
