package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name of the control API.
const ServiceName = "latencyguard.v1.LatencyGuard"

const (
	runCycleMethod      = "/" + ServiceName + "/RunCycle"
	listAnomaliesMethod = "/" + ServiceName + "/ListAnomalies"
	statusMethod        = "/" + ServiceName + "/Status"
)

// LatencyGuardServer is the control API. Messages use the well-known Struct type so the
// service needs no generated stubs.
type LatencyGuardServer interface {
	RunCycle(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListAnomalies(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Status(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// RegisterLatencyGuardServer registers srv on s.
func RegisterLatencyGuardServer(s grpc.ServiceRegistrar, srv LatencyGuardServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LatencyGuardServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RunCycle", Handler: runCycleHandler},
		{MethodName: "ListAnomalies", Handler: listAnomaliesHandler},
		{MethodName: "Status", Handler: statusHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "latencyguard/v1/latencyguard.proto",
}

func runCycleHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LatencyGuardServer).RunCycle(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: runCycleMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LatencyGuardServer).RunCycle(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func listAnomaliesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LatencyGuardServer).ListAnomalies(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: listAnomaliesMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LatencyGuardServer).ListAnomalies(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func statusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LatencyGuardServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: statusMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LatencyGuardServer).Status(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// Client calls the control API over an existing connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// RunCycle asks the server to run one detection cycle.
func (c *Client) RunCycle(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, runCycleMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ListAnomalies lists labeled anomalies matching query.
func (c *Client) ListAnomalies(ctx context.Context, query *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if query == nil {
		query = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, listAnomaliesMethod, query, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Status reports the latest run and scheduler statistics.
func (c *Client) Status(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, statusMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
