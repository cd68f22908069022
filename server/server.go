package server

import (
	"context"

	"github.com/go-pluto/orset/comm"
	"github.com/go-pluto/orset/node"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Structs

// ValueReq names the value an operation targets.
type ValueReq struct {
	Value string `json:"value"`
}

// Empty is the request of calls without arguments.
type Empty struct{}

// Reply carries the result of a call. Present answers
// Contains, Elements lists the set for Elements.
type Reply struct {
	Present  bool     `json:"present"`
	Elements []string `json:"elements,omitempty"`
}

// SetServer is the gRPC service clients use to
// operate on a replica.
type SetServer interface {
	Add(ctx context.Context, req *ValueReq) (*Reply, error)
	Remove(ctx context.Context, req *ValueReq) (*Reply, error)
	Contains(ctx context.Context, req *ValueReq) (*Reply, error)
	Elements(ctx context.Context, req *Empty) (*Reply, error)
}

// Server answers client calls from a replica service.
type Server struct {
	service node.Service
}

// Client is a typed client of the set service.
type Client struct {
	cc grpc.ClientConnInterface
}

// Functions

// Register makes svc available to clients on s.
func Register(s *grpc.Server, svc node.Service) {
	s.RegisterService(&setServiceDesc, &Server{service: svc})
}

// Add inserts the requested value.
func (s *Server) Add(ctx context.Context, req *ValueReq) (*Reply, error) {

	if err := s.service.Add(req.Value); err != nil {
		return nil, status.Errorf(codes.Internal, "add failed: %v", err)
	}

	return &Reply{Present: true}, nil
}

// Remove retracts the requested value.
func (s *Server) Remove(ctx context.Context, req *ValueReq) (*Reply, error) {

	if err := s.service.Remove(req.Value); err != nil {
		return nil, status.Errorf(codes.Internal, "remove failed: %v", err)
	}

	return &Reply{Present: false}, nil
}

// Contains reports whether the requested value is present.
func (s *Server) Contains(ctx context.Context, req *ValueReq) (*Reply, error) {
	return &Reply{Present: s.service.Contains(req.Value)}, nil
}

// Elements lists all present values, sorted.
func (s *Server) Elements(ctx context.Context, req *Empty) (*Reply, error) {

	elements := s.service.Elements()

	return &Reply{
		Present:  len(elements) > 0,
		Elements: elements,
	}, nil
}

// NewClient returns a client talking to the set
// service reachable via cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, in interface{}) (*Reply, error) {

	out := new(Reply)

	err := c.cc.Invoke(ctx, "/orset.Set/"+method, in, out, grpc.CallContentSubtype(comm.CodecName))
	if err != nil {
		return nil, err
	}

	return out, nil
}

// Add inserts value at the replica.
func (c *Client) Add(ctx context.Context, value string) error {

	_, err := c.invoke(ctx, "Add", &ValueReq{Value: value})

	return err
}

// Remove retracts value at the replica.
func (c *Client) Remove(ctx context.Context, value string) error {

	_, err := c.invoke(ctx, "Remove", &ValueReq{Value: value})

	return err
}

// Contains asks the replica whether value is present.
func (c *Client) Contains(ctx context.Context, value string) (bool, error) {

	reply, err := c.invoke(ctx, "Contains", &ValueReq{Value: value})
	if err != nil {
		return false, err
	}

	return reply.Present, nil
}

// Elements fetches all present values, sorted.
func (c *Client) Elements(ctx context.Context) ([]string, error) {

	reply, err := c.invoke(ctx, "Elements", &Empty{})
	if err != nil {
		return nil, err
	}

	if reply.Elements == nil {
		return []string{}, nil
	}

	return reply.Elements, nil
}

func valueHandler(method string, call func(SetServer, context.Context, *ValueReq) (*Reply, error)) grpc.MethodDesc {

	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {

			in := new(ValueReq)
			if err := dec(in); err != nil {
				return nil, err
			}

			if interceptor == nil {
				return call(srv.(SetServer), ctx, in)
			}

			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/orset.Set/" + method,
			}

			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(SetServer), ctx, req.(*ValueReq))
			}

			return interceptor(ctx, in, info, handler)
		},
	}
}

func elementsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {

	in := new(Empty)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(SetServer).Elements(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/orset.Set/Elements",
	}

	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SetServer).Elements(ctx, req.(*Empty))
	}

	return interceptor(ctx, in, info, handler)
}

var setServiceDesc = grpc.ServiceDesc{
	ServiceName: "orset.Set",
	HandlerType: (*SetServer)(nil),
	Methods: []grpc.MethodDesc{
		valueHandler("Add", SetServer.Add),
		valueHandler("Remove", SetServer.Remove),
		valueHandler("Contains", SetServer.Contains),
		{
			MethodName: "Elements",
			Handler:    elementsHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "server/server.go",
}
