package grpcservice

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "wlsel.v1.SelectionService"

const (
	copyMethod   = "/" + ServiceName + "/Copy"
	pasteMethod  = "/" + ServiceName + "/Paste"
	clearMethod  = "/" + ServiceName + "/Clear"
	statusMethod = "/" + ServiceName + "/Status"
	watchMethod  = "/" + ServiceName + "/Watch"
)

// SelectionServer is the server API for the selection service. Messages are
// protobuf well-known types; call parameters that are not payload travel in
// request metadata (see the MD* constants).
type SelectionServer interface {
	// Copy sets the caller's selection to the payload, typed by MDMime.
	Copy(context.Context, *wrapperspb.BytesValue) (*emptypb.Empty, error)
	// Paste returns the selection payload for the requested MIME type. The
	// type actually served is returned in the MDMime response header.
	Paste(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error)
	// Clear withdraws the selection.
	Clear(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	// Status describes the channels and connected clients.
	Status(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	// Watch streams ownership changes.
	Watch(*emptypb.Empty, grpc.ServerStreamingServer[structpb.Struct]) error
}

// Register registers srv on s.
func Register(s grpc.ServiceRegistrar, srv SelectionServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc describes the selection service for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SelectionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Copy", Handler: copyHandler},
		{MethodName: "Paste", Handler: pasteHandler},
		{MethodName: "Clear", Handler: clearHandler},
		{MethodName: "Status", Handler: statusHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Watch", Handler: watchHandler, ServerStreams: true},
	},
}

func copyHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SelectionServer).Copy(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: copyMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SelectionServer).Copy(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func pasteHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SelectionServer).Paste(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: pasteMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SelectionServer).Paste(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func clearHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SelectionServer).Clear(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: clearMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SelectionServer).Clear(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func statusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SelectionServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: statusMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SelectionServer).Status(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(SelectionServer).Watch(in, &grpc.GenericServerStream[emptypb.Empty, structpb.Struct]{ServerStream: stream})
}
