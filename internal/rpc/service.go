package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "clipcache.v1.Authority"

const (
	methodOpen          = "/" + ServiceName + "/Open"
	methodClose         = "/" + ServiceName + "/Close"
	methodClaimAndEmpty = "/" + ServiceName + "/ClaimAndEmpty"
	methodPut           = "/" + ServiceName + "/Put"
	methodPublish       = "/" + ServiceName + "/Publish"
	methodGet           = "/" + ServiceName + "/Get"
	methodEnumerateNext = "/" + ServiceName + "/EnumerateNext"
	methodRequestRender = "/" + ServiceName + "/RequestRender"
	methodRegister      = "/" + ServiceName + "/Register"
	methodStatus        = "/" + ServiceName + "/Status"
	methodAttach        = "/" + ServiceName + "/Attach"
)

// AuthorityServer is the server API for the Authority service.
type AuthorityServer interface {
	Open(context.Context, *Empty) (*OpenResponse, error)
	Close(context.Context, *Empty) (*Empty, error)
	ClaimAndEmpty(context.Context, *Empty) (*SeqResponse, error)
	Put(context.Context, *PutRequest) (*SeqResponse, error)
	Publish(context.Context, *PublishRequest) (*SeqResponse, error)
	Get(context.Context, *GetRequest) (*GetResponse, error)
	EnumerateNext(context.Context, *EnumerateRequest) (*EnumerateResponse, error)
	RequestRender(context.Context, *RenderRequest) (*Empty, error)
	Register(context.Context, *RegisterRequest) (*RegisterResponse, error)
	Status(context.Context, *Empty) (*StatusResponse, error)
	Attach(*AttachRequest, grpc.ServerStreamingServer[RenderEvent]) error
}

// RegisterAuthorityServer registers srv on s.
func RegisterAuthorityServer(s grpc.ServiceRegistrar, srv AuthorityServer) {
	s.RegisterService(&AuthorityServiceDesc, srv)
}

func unary[Req, Res any](call func(AuthorityServer, context.Context, *Req) (*Res, error), method string) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AuthorityServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AuthorityServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func attachHandler(srv any, stream grpc.ServerStream) error {
	in := new(AttachRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(AuthorityServer).Attach(in, &grpc.GenericServerStream[AttachRequest, RenderEvent]{ServerStream: stream})
}

// AuthorityServiceDesc is the grpc.ServiceDesc for the Authority service.
var AuthorityServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AuthorityServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Open", Handler: unary(AuthorityServer.Open, methodOpen)},
		{MethodName: "Close", Handler: unary(AuthorityServer.Close, methodClose)},
		{MethodName: "ClaimAndEmpty", Handler: unary(AuthorityServer.ClaimAndEmpty, methodClaimAndEmpty)},
		{MethodName: "Put", Handler: unary(AuthorityServer.Put, methodPut)},
		{MethodName: "Publish", Handler: unary(AuthorityServer.Publish, methodPublish)},
		{MethodName: "Get", Handler: unary(AuthorityServer.Get, methodGet)},
		{MethodName: "EnumerateNext", Handler: unary(AuthorityServer.EnumerateNext, methodEnumerateNext)},
		{MethodName: "RequestRender", Handler: unary(AuthorityServer.RequestRender, methodRequestRender)},
		{MethodName: "Register", Handler: unary(AuthorityServer.Register, methodRegister)},
		{MethodName: "Status", Handler: unary(AuthorityServer.Status, methodStatus)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Attach", Handler: attachHandler, ServerStreams: true},
	},
	Metadata: "clipcache/v1/authority.proto",
}

// AuthorityClient is the client API for the Authority service.
type AuthorityClient struct {
	cc grpc.ClientConnInterface
}

func NewAuthorityClient(cc grpc.ClientConnInterface) *AuthorityClient {
	return &AuthorityClient{cc: cc}
}

func invoke[Res any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Res, error) {
	out := new(Res)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AuthorityClient) Open(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*OpenResponse, error) {
	return invoke[OpenResponse](ctx, c.cc, methodOpen, in, opts)
}

func (c *AuthorityClient) Close(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, methodClose, in, opts)
}

func (c *AuthorityClient) ClaimAndEmpty(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*SeqResponse, error) {
	return invoke[SeqResponse](ctx, c.cc, methodClaimAndEmpty, in, opts)
}

func (c *AuthorityClient) Put(ctx context.Context, in *PutRequest, opts ...grpc.CallOption) (*SeqResponse, error) {
	return invoke[SeqResponse](ctx, c.cc, methodPut, in, opts)
}

func (c *AuthorityClient) Publish(ctx context.Context, in *PublishRequest, opts ...grpc.CallOption) (*SeqResponse, error) {
	return invoke[SeqResponse](ctx, c.cc, methodPublish, in, opts)
}

func (c *AuthorityClient) Get(ctx context.Context, in *GetRequest, opts ...grpc.CallOption) (*GetResponse, error) {
	return invoke[GetResponse](ctx, c.cc, methodGet, in, opts)
}

func (c *AuthorityClient) EnumerateNext(ctx context.Context, in *EnumerateRequest, opts ...grpc.CallOption) (*EnumerateResponse, error) {
	return invoke[EnumerateResponse](ctx, c.cc, methodEnumerateNext, in, opts)
}

func (c *AuthorityClient) RequestRender(ctx context.Context, in *RenderRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, methodRequestRender, in, opts)
}

func (c *AuthorityClient) Register(ctx context.Context, in *RegisterRequest, opts ...grpc.CallOption) (*RegisterResponse, error) {
	return invoke[RegisterResponse](ctx, c.cc, methodRegister, in, opts)
}

func (c *AuthorityClient) Status(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*StatusResponse, error) {
	return invoke[StatusResponse](ctx, c.cc, methodStatus, in, opts)
}

// Attach opens the render-request stream for the calling process.
func (c *AuthorityClient) Attach(ctx context.Context, in *AttachRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[RenderEvent], error) {
	stream, err := c.cc.NewStream(ctx, &AuthorityServiceDesc.Streams[0], methodAttach, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[AttachRequest, RenderEvent]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
