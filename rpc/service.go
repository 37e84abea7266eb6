package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// serviceName and the Optimize method path below stand in for what
// protoc-gen-go-grpc would otherwise generate from a .proto file; this
// package hand-writes the same shapes (ServiceDesc, stream wrappers,
// client) since no protoc toolchain runs as part of this build.
const serviceName = "squim.Optimizer"

// OptimizerServer is implemented by the conversion service: one
// bidirectional-streaming RPC, Optimize, carrying the RequestPart/
// ResponsePart wire types over ServiceDesc below.
type OptimizerServer interface {
	Optimize(OptimizerOptimizeServer) error
}

// OptimizerOptimizeServer is the server's view of one Optimize stream.
type OptimizerOptimizeServer interface {
	Send(*ResponsePart) error
	Recv() (*RequestPart, error)
	grpc.ServerStream
}

type optimizerOptimizeServer struct {
	grpc.ServerStream
}

func (x *optimizerOptimizeServer) Send(m *ResponsePart) error {
	return x.ServerStream.SendMsg(m)
}

func (x *optimizerOptimizeServer) Recv() (*RequestPart, error) {
	m := new(RequestPart)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func optimizeHandler(srv any, stream grpc.ServerStream) error {
	return srv.(OptimizerServer).Optimize(&optimizerOptimizeServer{ServerStream: stream})
}

// ServiceDesc registers the Optimize stream with a *grpc.Server via
// RegisterService(&ServiceDesc, impl).
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*OptimizerServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Optimize",
			Handler:       optimizeHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "squim/optimizer.rpc",
}

// RegisterOptimizerServer is the conventional protoc-gen-go-grpc-style
// registration helper.
func RegisterOptimizerServer(s *grpc.Server, srv OptimizerServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// OptimizerClient is the client's view of the service.
type OptimizerClient interface {
	Optimize(ctx context.Context, opts ...grpc.CallOption) (OptimizerOptimizeClient, error)
}

type optimizerClient struct {
	cc grpc.ClientConnInterface
}

// NewOptimizerClient wraps an established connection (e.g. from Dial).
func NewOptimizerClient(cc grpc.ClientConnInterface) OptimizerClient {
	return &optimizerClient{cc: cc}
}

func (c *optimizerClient) Optimize(ctx context.Context, opts ...grpc.CallOption) (OptimizerOptimizeClient, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], "/"+serviceName+"/Optimize", opts...)
	if err != nil {
		return nil, err
	}
	return &optimizerOptimizeClient{ClientStream: stream}, nil
}

// OptimizerOptimizeClient is the client's view of one Optimize stream.
type OptimizerOptimizeClient interface {
	Send(*RequestPart) error
	Recv() (*ResponsePart, error)
	grpc.ClientStream
}

type optimizerOptimizeClient struct {
	grpc.ClientStream
}

func (x *optimizerOptimizeClient) Send(m *RequestPart) error {
	return x.ClientStream.SendMsg(m)
}

func (x *optimizerOptimizeClient) Recv() (*ResponsePart, error) {
	m := new(ResponsePart)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
