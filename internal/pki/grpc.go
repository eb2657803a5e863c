package pki

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// The PKI speaks wirepact.pki.v1.PkiService. Requests and responses are
// protobuf well-known types so no generated code is involved:
//
//	GetCA(google.protobuf.Empty) returns (google.protobuf.BytesValue)     // CA PEM
//	SignCSR(google.protobuf.BytesValue) returns (google.protobuf.BytesValue) // CSR PEM -> cert PEM
const (
	serviceName   = "wirepact.pki.v1.PkiService"
	getCAMethod   = "/" + serviceName + "/GetCA"
	signCSRMethod = "/" + serviceName + "/SignCSR"
	protoFile     = "pki.proto"
)

// PkiServiceServer is implemented by PKI servers; the provider only ships one
// for tests.
type PkiServiceServer interface {
	GetCA(context.Context, *emptypb.Empty) (*wrapperspb.BytesValue, error)
	SignCSR(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

// UnimplementedPkiServiceServer can be embedded to have forward compatible implementations.
type UnimplementedPkiServiceServer struct{}

func (UnimplementedPkiServiceServer) GetCA(context.Context, *emptypb.Empty) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method GetCA not implemented")
}
func (UnimplementedPkiServiceServer) SignCSR(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method SignCSR not implemented")
}

// RegisterPkiServiceServer registers the PKI service on a gRPC server.
func RegisterPkiServiceServer(s grpc.ServiceRegistrar, srv PkiServiceServer) {
	s.RegisterService(&PkiService_ServiceDesc, srv)
}

// PkiServiceClient is the client API for the PKI service.
type PkiServiceClient interface {
	GetCA(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	SignCSR(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
}

type pkiServiceClient struct{ cc grpc.ClientConnInterface }

func NewPkiServiceClient(cc grpc.ClientConnInterface) PkiServiceClient {
	return &pkiServiceClient{cc: cc}
}

func (c *pkiServiceClient) GetCA(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, getCAMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *pkiServiceClient) SignCSR(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, signCSRMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func _PkiService_GetCA_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PkiServiceServer).GetCA(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getCAMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PkiServiceServer).GetCA(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func _PkiService_SignCSR_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PkiServiceServer).SignCSR(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: signCSRMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PkiServiceServer).SignCSR(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// PkiService_ServiceDesc is the grpc.ServiceDesc for the PKI service.
var PkiService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*PkiServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetCA", Handler: _PkiService_GetCA_Handler},
		{MethodName: "SignCSR", Handler: _PkiService_SignCSR_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: protoFile,
}
