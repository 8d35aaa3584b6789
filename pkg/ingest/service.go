// Package ingest accepts execution events over gRPC.
//
// The service is declared by hand on top of the well-known protobuf types,
// so producers need no generated stubs:
//
//	service EventIngest {
//	  rpc Publish(google.protobuf.Struct) returns (google.protobuf.Empty);
//	}
//
// The request struct carries "workflow_id" and either "event" (one
// envelope) or "events" (a list of envelopes).
package ingest

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "flowscope.v1.EventIngest"

const publishMethod = "/" + ServiceName + "/Publish"

// EventIngestServer is the server API for the EventIngest service.
type EventIngestServer interface {
	Publish(context.Context, *structpb.Struct) (*emptypb.Empty, error)
}

// ServiceDesc is the grpc.ServiceDesc for the EventIngest service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EventIngestServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Publish",
			Handler:    publishHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "flowscope/v1/ingest.proto",
}

func publishHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EventIngestServer).Publish(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: publishMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(EventIngestServer).Publish(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
