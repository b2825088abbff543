package backendgrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const serviceName = "sessiondeck.backend.v1.Backend"

const (
	methodConnect    = "Connect"
	methodDisconnect = "Disconnect"
	methodSendInput  = "SendInput"
	methodResize     = "Resize"
	methodPing       = "Ping"
	streamEvents     = "Events"
)

// backendService is the server half of the backend protocol. Every message is a
// structpb.Struct so no generated code is needed on either side.
type backendService interface {
	Connect(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Disconnect(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SendInput(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Resize(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Ping(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Events(*structpb.Struct, grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*backendService)(nil),
	Methods: []grpc.MethodDesc{
		unary(methodConnect, backendService.Connect),
		unary(methodDisconnect, backendService.Disconnect),
		unary(methodSendInput, backendService.SendInput),
		unary(methodResize, backendService.Resize),
		unary(methodPing, backendService.Ping),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    streamEvents,
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := new(structpb.Struct)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(backendService).Events(in, stream)
			},
		},
	},
	Metadata: "sessiondeck/backend.proto",
}

func unary(method string, call func(backendService, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			svc := srv.(backendService)
			if interceptor == nil {
				return call(svc, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(svc, ctx, req.(*structpb.Struct))
			})
		},
	}
}

func fullMethod(method string) string {
	return "/" + serviceName + "/" + method
}
