package v1alpha1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName       = "graphexec.v1alpha1.GraphExecutor"
	ExecuteMethodName = "/" + ServiceName + "/Execute"
)

// GraphExecutorServer is the server API for the GraphExecutor service.
// Messages are structpb.Struct in the forms described by ExecuteRequest and ExecuteResponse.
type GraphExecutorServer interface {
	Execute(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
}

type GraphExecutorClient interface {
	Execute(ctx context.Context, request *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

func RegisterGraphExecutorServer(s grpc.ServiceRegistrar, srv GraphExecutorServer) {
	s.RegisterService(&GraphExecutor_ServiceDesc, srv)
}

func executeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GraphExecutorServer).Execute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: ExecuteMethodName,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(GraphExecutorServer).Execute(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var GraphExecutor_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GraphExecutorServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Execute",
			Handler:    executeHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "graphexec/v1alpha1/service.proto",
}

type graphExecutorClient struct {
	cc grpc.ClientConnInterface
}

func NewGraphExecutorClient(cc grpc.ClientConnInterface) GraphExecutorClient {
	return &graphExecutorClient{cc: cc}
}

func (c *graphExecutorClient) Execute(ctx context.Context, request *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ExecuteMethodName, request, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
