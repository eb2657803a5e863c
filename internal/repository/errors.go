package repository

import (
	"errors"
	"fmt"

	"github.com/aspect-build/contract-provider/internal/rpc"
)

// Kind classifies fetch failures.
type Kind int

const (
	Unreachable Kind = iota
	Unauthorized
	MalformedResponse
)

func (k Kind) String() string {
	switch k {
	case Unreachable:
		return "unreachable"
	case Unauthorized:
		return "unauthorized"
	case MalformedResponse:
		return "malformed response"
	default:
		return "unknown"
	}
}

// FetchError is returned by FetchContracts. Any FetchError invalidates the
// whole fetch.
type FetchError struct {
	Kind Kind
	// ContractID is set when the failure concerns a single contract.
	ContractID string
	Err        error
}

func (e *FetchError) Error() string {
	if e.ContractID != "" {
		return fmt.Sprintf("fetch contracts (%s): contract %s: %v", e.Kind, e.ContractID, e.Err)
	}
	return fmt.Sprintf("fetch contracts (%s): %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// KindOf reports the kind of a fetch error.
func KindOf(err error) (Kind, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return 0, false
}

func malformed(id string, format string, args ...any) error {
	return &FetchError{Kind: MalformedResponse, ContractID: id, Err: fmt.Errorf(format, args...)}
}

// fromRPC classifies a failed repository call.
func fromRPC(id string, err error) error {
	kind := Unreachable
	switch rpc.Classify(err) {
	case rpc.Unauthorized:
		kind = Unauthorized
	case rpc.Rejected, rpc.Malformed:
		kind = MalformedResponse
	}
	return &FetchError{Kind: kind, ContractID: id, Err: err}
}
