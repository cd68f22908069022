package comm

import (
	"context"

	"google.golang.org/grpc"
)

// ReceiverServer is the gRPC service every replica
// exposes to its peers.
type ReceiverServer interface {

	// Incoming takes in one broadcast operation.
	Incoming(ctx context.Context, msg *Msg) (*Conf, error)

	// Sync takes in the full state of a peer.
	Sync(ctx context.Context, sync *SyncMsg) (*Conf, error)
}

// ReceiverClient is the client side of ReceiverServer.
type ReceiverClient interface {
	Incoming(ctx context.Context, msg *Msg, opts ...grpc.CallOption) (*Conf, error)
	Sync(ctx context.Context, sync *SyncMsg, opts ...grpc.CallOption) (*Conf, error)
}

type receiverClient struct {
	cc grpc.ClientConnInterface
}

// NewReceiverClient returns a client stub for the
// receiver service reachable via cc.
func NewReceiverClient(cc grpc.ClientConnInterface) ReceiverClient {
	return &receiverClient{cc}
}

func (c *receiverClient) Incoming(ctx context.Context, msg *Msg, opts ...grpc.CallOption) (*Conf, error) {

	out := new(Conf)
	if err := c.cc.Invoke(ctx, "/orset.Receiver/Incoming", msg, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

func (c *receiverClient) Sync(ctx context.Context, sync *SyncMsg, opts ...grpc.CallOption) (*Conf, error) {

	out := new(Conf)
	if err := c.cc.Invoke(ctx, "/orset.Receiver/Sync", sync, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

// RegisterReceiverServer makes srv available on s.
func RegisterReceiverServer(s *grpc.Server, srv ReceiverServer) {
	s.RegisterService(&receiverServiceDesc, srv)
}

func incomingHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {

	in := new(Msg)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(ReceiverServer).Incoming(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/orset.Receiver/Incoming",
	}

	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ReceiverServer).Incoming(ctx, req.(*Msg))
	}

	return interceptor(ctx, in, info, handler)
}

func syncHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {

	in := new(SyncMsg)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(ReceiverServer).Sync(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/orset.Receiver/Sync",
	}

	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ReceiverServer).Sync(ctx, req.(*SyncMsg))
	}

	return interceptor(ctx, in, info, handler)
}

var receiverServiceDesc = grpc.ServiceDesc{
	ServiceName: "orset.Receiver",
	HandlerType: (*ReceiverServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Incoming",
			Handler:    incomingHandler,
		},
		{
			MethodName: "Sync",
			Handler:    syncHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "comm/service.go",
}
