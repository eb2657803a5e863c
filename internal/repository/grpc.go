package repository

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// The repository speaks wirepact.contracts.v1.ContractRepository with protobuf
// well-known types:
//
//	ListContracts(google.protobuf.StringValue) returns (google.protobuf.Struct)
//	  request:  trust zone id
//	  response: {revision?: string, contracts: [{id: string, trustZone?: string}]}
//	GetContract(google.protobuf.Struct) returns (google.protobuf.Struct)
//	  request:  {id: string, trustZone: string}
//	  response: {id: string, certificate: string (PEM), trustZone?: string}
const (
	serviceName         = "wirepact.contracts.v1.ContractRepository"
	listContractsMethod = "/" + serviceName + "/ListContracts"
	getContractMethod   = "/" + serviceName + "/GetContract"
	protoFile           = "contracts.proto"
)

// ContractRepositoryServer is implemented by repository servers.
type ContractRepositoryServer interface {
	ListContracts(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	GetContract(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// UnimplementedContractRepositoryServer can be embedded to have forward compatible implementations.
type UnimplementedContractRepositoryServer struct{}

func (UnimplementedContractRepositoryServer) ListContracts(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method ListContracts not implemented")
}
func (UnimplementedContractRepositoryServer) GetContract(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method GetContract not implemented")
}

// RegisterContractRepositoryServer registers the repository service on a gRPC server.
func RegisterContractRepositoryServer(s grpc.ServiceRegistrar, srv ContractRepositoryServer) {
	s.RegisterService(&ContractRepository_ServiceDesc, srv)
}

// ContractRepositoryClient is the client API for the repository service.
type ContractRepositoryClient interface {
	ListContracts(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error)
	GetContract(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type contractRepositoryClient struct{ cc grpc.ClientConnInterface }

func NewContractRepositoryClient(cc grpc.ClientConnInterface) ContractRepositoryClient {
	return &contractRepositoryClient{cc: cc}
}

func (c *contractRepositoryClient) ListContracts(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, listContractsMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *contractRepositoryClient) GetContract(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, getContractMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func _ContractRepository_ListContracts_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ContractRepositoryServer).ListContracts(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: listContractsMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ContractRepositoryServer).ListContracts(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _ContractRepository_GetContract_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ContractRepositoryServer).GetContract(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getContractMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ContractRepositoryServer).GetContract(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// ContractRepository_ServiceDesc is the grpc.ServiceDesc for the repository service.
var ContractRepository_ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ContractRepositoryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListContracts", Handler: _ContractRepository_ListContracts_Handler},
		{MethodName: "GetContract", Handler: _ContractRepository_GetContract_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: protoFile,
}
