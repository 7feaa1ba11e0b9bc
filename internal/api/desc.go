package api

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "clinichat.v1.Inbox"

// InboxServer is the daemon's client-facing API.
type InboxServer interface {
	GetStatus(context.Context, *Empty) (*StatusResponse, error)
	StartAuth(*Empty, grpc.ServerStreamingServer[AuthEvent]) error
	Logout(context.Context, *Empty) (*Empty, error)
	ListConversations(context.Context, *ConversationsRequest) (*ConversationsResponse, error)
	Refresh(context.Context, *Empty) (*ConversationsResponse, error)
	MarkRead(context.Context, *JIDRequest) (*Empty, error)
	Open(context.Context, *JIDRequest) (*ThreadResponse, error)
	Close(context.Context, *Empty) (*Empty, error)
	LoadMore(context.Context, *Empty) (*ThreadResponse, error)
	ListMessages(context.Context, *Empty) (*ThreadResponse, error)
	SendText(context.Context, *SendTextRequest) (*ThreadResponse, error)
	SendMedia(context.Context, *SendMediaRequest) (*ThreadResponse, error)
	WatchEvents(*WatchRequest, grpc.ServerStreamingServer[Event]) error
}

var _ InboxServer = (*Service)(nil)

// Method returns the full method path of an Inbox call.
func Method(name string) string {
	return "/" + ServiceName + "/" + name
}

// Register adds the Inbox service to s.
func Register(s grpc.ServiceRegistrar, srv InboxServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc describes the Inbox service for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*InboxServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetStatus", InboxServer.GetStatus),
		unary("Logout", InboxServer.Logout),
		unary("ListConversations", InboxServer.ListConversations),
		unary("Refresh", InboxServer.Refresh),
		unary("MarkRead", InboxServer.MarkRead),
		unary("Open", InboxServer.Open),
		unary("Close", InboxServer.Close),
		unary("LoadMore", InboxServer.LoadMore),
		unary("ListMessages", InboxServer.ListMessages),
		unary("SendText", InboxServer.SendText),
		unary("SendMedia", InboxServer.SendMedia),
	},
	Streams: []grpc.StreamDesc{
		serverStream("StartAuth", InboxServer.StartAuth),
		serverStream("WatchEvents", InboxServer.WatchEvents),
	},
}

func unary[Req, Resp any](name string, call func(InboxServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(InboxServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: Method(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(InboxServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func serverStream[Req, Resp any](name string, call func(InboxServer, *Req, grpc.ServerStreamingServer[Resp]) error) grpc.StreamDesc {
	return grpc.StreamDesc{
		StreamName:    name,
		ServerStreams: true,
		Handler: func(srv any, stream grpc.ServerStream) error {
			in := new(Req)
			if err := stream.RecvMsg(in); err != nil {
				return err
			}
			return call(srv.(InboxServer), in, &grpc.GenericServerStream[Req, Resp]{ServerStream: stream})
		},
	}
}
