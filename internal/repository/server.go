package repository

import (
	"context"
	"sort"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/aspect-build/contract-provider/internal/contract"
)

// Server is an in-memory repository for tests and local development. It serves
// the contracts of a single trust zone.
type Server struct {
	UnimplementedContractRepositoryServer

	mu        sync.Mutex
	trustZone string
	revision  string
	contracts map[string][]byte
	listHook  func(*structpb.Struct)
	getCalls  int
}

func NewServer(trustZone string) *Server {
	return &Server{trustZone: trustZone, contracts: map[string][]byte{}}
}

// Put adds or replaces a contract.
func (s *Server) Put(id string, certPEM []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contracts[id] = certPEM
}

// Delete removes a contract.
func (s *Server) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contracts, id)
}

// SetRevision sets the revision reported by ListContracts.
func (s *Server) SetRevision(rev string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revision = rev
}

// SetListHook lets tests tamper with ListContracts replies.
func (s *Server) SetListHook(fn func(*structpb.Struct)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listHook = fn
}

// GetCalls reports how many GetContract calls were served.
func (s *Server) GetCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getCalls
}

// Load replaces all contracts with the given set.
func (s *Server) Load(set *contract.Set) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contracts = set.Data()
}

func (s *Server) ListContracts(_ context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if in.GetValue() != s.trustZone {
		return nil, status.Errorf(codes.NotFound, "unknown trust zone %q", in.GetValue())
	}
	ids := make([]string, 0, len(s.contracts))
	for id := range s.contracts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	entries := make([]any, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, map[string]any{"id": id, "trustZone": s.trustZone})
	}
	fields := map[string]any{"contracts": entries}
	if s.revision != "" {
		fields["revision"] = s.revision
	}
	reply, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	if s.listHook != nil {
		s.listHook(reply)
	}
	return reply, nil
}

func (s *Server) GetContract(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	id := in.GetFields()["id"].GetStringValue()
	cert, ok := s.contracts[id]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "contract %q not found", id)
	}
	reply, err := structpb.NewStruct(map[string]any{
		"id":          id,
		"certificate": string(cert),
		"trustZone":   s.trustZone,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return reply, nil
}
