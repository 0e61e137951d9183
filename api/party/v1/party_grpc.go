package partyv1

import (
	"context"

	platformgrpc "github.com/secretdoor/montyhall/internal/platform/grpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// PartyServiceClient is the client API for PartyService.
type PartyServiceClient interface {
	SampleRandomness(ctx context.Context, in *SampleRandomnessRequest, opts ...grpc.CallOption) (*SampleRandomnessResponse, error)
	InitGame(ctx context.Context, in *InitGameRequest, opts ...grpc.CallOption) (*InitGameResponse, error)
	RevealDoor(ctx context.Context, in *RevealDoorRequest, opts ...grpc.CallOption) (*RevealDoorResponse, error)
}

type partyServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewPartyServiceClient returns a client that encodes every call with the
// cbor codec.
func NewPartyServiceClient(cc grpc.ClientConnInterface) PartyServiceClient {
	return &partyServiceClient{cc: cc}
}

func callOptions(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(platformgrpc.CodecName)}, opts...)
}

func (c *partyServiceClient) SampleRandomness(ctx context.Context, in *SampleRandomnessRequest, opts ...grpc.CallOption) (*SampleRandomnessResponse, error) {
	out := new(SampleRandomnessResponse)
	if err := c.cc.Invoke(ctx, SampleRandomnessMethod, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *partyServiceClient) InitGame(ctx context.Context, in *InitGameRequest, opts ...grpc.CallOption) (*InitGameResponse, error) {
	out := new(InitGameResponse)
	if err := c.cc.Invoke(ctx, InitGameMethod, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *partyServiceClient) RevealDoor(ctx context.Context, in *RevealDoorRequest, opts ...grpc.CallOption) (*RevealDoorResponse, error) {
	out := new(RevealDoorResponse)
	if err := c.cc.Invoke(ctx, RevealDoorMethod, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// PartyServiceServer is the server API for PartyService.
type PartyServiceServer interface {
	SampleRandomness(context.Context, *SampleRandomnessRequest) (*SampleRandomnessResponse, error)
	InitGame(context.Context, *InitGameRequest) (*InitGameResponse, error)
	RevealDoor(context.Context, *RevealDoorRequest) (*RevealDoorResponse, error)
}

// UnimplementedPartyServiceServer can be embedded for forward compatibility.
type UnimplementedPartyServiceServer struct{}

func (UnimplementedPartyServiceServer) SampleRandomness(context.Context, *SampleRandomnessRequest) (*SampleRandomnessResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method SampleRandomness not implemented")
}

func (UnimplementedPartyServiceServer) InitGame(context.Context, *InitGameRequest) (*InitGameResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method InitGame not implemented")
}

func (UnimplementedPartyServiceServer) RevealDoor(context.Context, *RevealDoorRequest) (*RevealDoorResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method RevealDoor not implemented")
}

// RegisterPartyServiceServer registers srv on s.
func RegisterPartyServiceServer(s grpc.ServiceRegistrar, srv PartyServiceServer) {
	s.RegisterService(&PartyService_ServiceDesc, srv)
}

func sampleRandomnessHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SampleRandomnessRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PartyServiceServer).SampleRandomness(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SampleRandomnessMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PartyServiceServer).SampleRandomness(ctx, req.(*SampleRandomnessRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func initGameHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(InitGameRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PartyServiceServer).InitGame(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: InitGameMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PartyServiceServer).InitGame(ctx, req.(*InitGameRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func revealDoorHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(RevealDoorRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PartyServiceServer).RevealDoor(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: RevealDoorMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PartyServiceServer).RevealDoor(ctx, req.(*RevealDoorRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// PartyService_ServiceDesc is the grpc.ServiceDesc for PartyService.
var PartyService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PartyServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SampleRandomness", Handler: sampleRandomnessHandler},
		{MethodName: "InitGame", Handler: initGameHandler},
		{MethodName: "RevealDoor", Handler: revealDoorHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "party/v1/party.go",
}
