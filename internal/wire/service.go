package wire

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified relay service name.
const ServiceName = "yarning.v1.Relay"

// Full method names, as seen by interceptors.
const (
	MethodConnect            = "/" + ServiceName + "/Connect"
	MethodCreateConversation = "/" + ServiceName + "/CreateConversation"
	MethodListConversations  = "/" + ServiceName + "/ListConversations"
	MethodListMessages       = "/" + ServiceName + "/ListMessages"
)

// RelayServer is implemented by the relay.
type RelayServer interface {
	Connect(RelayConnectServer) error
	CreateConversation(context.Context, *CreateConversationRequest) (*CreateConversationResponse, error)
	ListConversations(context.Context, *ListConversationsRequest) (*ListConversationsResponse, error)
	ListMessages(context.Context, *ListMessagesRequest) (*ListMessagesResponse, error)
}

// RelayConnectServer is the relay side of one channel.
type RelayConnectServer interface {
	Send(*Envelope) error
	Recv() (*Envelope, error)
	grpc.ServerStream
}

type relayConnectServer struct {
	grpc.ServerStream
}

func (x *relayConnectServer) Send(m *Envelope) error {
	return x.ServerStream.SendMsg(m)
}

func (x *relayConnectServer) Recv() (*Envelope, error) {
	m := new(Envelope)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// RegisterRelayServer registers srv on s.
func RegisterRelayServer(s grpc.ServiceRegistrar, srv RelayServer) {
	s.RegisterService(&RelayServiceDesc, srv)
}

func connectHandler(srv any, stream grpc.ServerStream) error {
	return srv.(RelayServer).Connect(&relayConnectServer{stream})
}

func createConversationHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CreateConversationRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RelayServer).CreateConversation(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodCreateConversation}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RelayServer).CreateConversation(ctx, req.(*CreateConversationRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func listConversationsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ListConversationsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RelayServer).ListConversations(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodListConversations}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RelayServer).ListConversations(ctx, req.(*ListConversationsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func listMessagesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ListMessagesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RelayServer).ListMessages(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodListMessages}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RelayServer).ListMessages(ctx, req.(*ListMessagesRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// RelayServiceDesc describes the relay service. Messages are JSON encoded
// through the codec registered under CodecName.
var RelayServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RelayServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateConversation", Handler: createConversationHandler},
		{MethodName: "ListConversations", Handler: listConversationsHandler},
		{MethodName: "ListMessages", Handler: listMessagesHandler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Connect",
			Handler:       connectHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "yarning/v1/relay",
}

// RelayConnectClient is the client side of one channel.
type RelayConnectClient interface {
	Send(*Envelope) error
	Recv() (*Envelope, error)
	grpc.ClientStream
}

type relayConnectClient struct {
	grpc.ClientStream
}

func (x *relayConnectClient) Send(m *Envelope) error {
	return x.ClientStream.SendMsg(m)
}

func (x *relayConnectClient) Recv() (*Envelope, error) {
	m := new(Envelope)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// RelayClient calls the relay service.
type RelayClient struct {
	cc grpc.ClientConnInterface
}

// NewRelayClient wraps a client connection.
func NewRelayClient(cc grpc.ClientConnInterface) *RelayClient {
	return &RelayClient{cc: cc}
}

func callOptions(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}

// Connect opens a channel.
func (c *RelayClient) Connect(ctx context.Context, opts ...grpc.CallOption) (RelayConnectClient, error) {
	stream, err := c.cc.NewStream(ctx, &RelayServiceDesc.Streams[0], MethodConnect, callOptions(opts)...)
	if err != nil {
		return nil, err
	}
	return &relayConnectClient{stream}, nil
}

// CreateConversation creates or returns a conversation.
func (c *RelayClient) CreateConversation(ctx context.Context, in *CreateConversationRequest, opts ...grpc.CallOption) (*CreateConversationResponse, error) {
	out := new(CreateConversationResponse)
	if err := c.cc.Invoke(ctx, MethodCreateConversation, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// ListConversations lists the caller's conversations.
func (c *RelayClient) ListConversations(ctx context.Context, in *ListConversationsRequest, opts ...grpc.CallOption) (*ListConversationsResponse, error) {
	out := new(ListConversationsResponse)
	if err := c.cc.Invoke(ctx, MethodListConversations, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// ListMessages pages through a conversation's history.
func (c *RelayClient) ListMessages(ctx context.Context, in *ListMessagesRequest, opts ...grpc.CallOption) (*ListMessagesResponse, error) {
	out := new(ListMessagesResponse)
	if err := c.cc.Invoke(ctx, MethodListMessages, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}
