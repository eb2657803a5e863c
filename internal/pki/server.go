package pki

import (
	"context"
	"sync/atomic"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Signer issues certificates for CSRs.
type Signer interface {
	SignCSR(csrPEM []byte) ([]byte, error)
}

// Server is a minimal in-process PKI used by tests and local development.
type Server struct {
	UnimplementedPkiServiceServer

	CAPEM  []byte
	Signer Signer

	signed atomic.Int64
}

func (s *Server) GetCA(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.BytesValue, error) {
	if len(s.CAPEM) == 0 {
		return nil, status.Error(codes.FailedPrecondition, "missing CA")
	}
	return wrapperspb.Bytes(s.CAPEM), nil
}

func (s *Server) SignCSR(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if s.Signer == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing signer")
	}
	cert, err := s.Signer.SignCSR(in.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	s.signed.Add(1)
	return wrapperspb.Bytes(cert), nil
}

// Signed reports how many CSRs were signed.
func (s *Server) Signed() int64 { return s.signed.Load() }
