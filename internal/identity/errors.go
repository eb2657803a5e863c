package identity

import (
	"errors"
	"fmt"

	"github.com/aspect-build/contract-provider/internal/rpc"
)

// Kind classifies identity failures.
type Kind int

const (
	// Unreachable means the PKI could not be contacted.
	Unreachable Kind = iota
	// Rejected means the PKI refused the request or answered with unusable material.
	Rejected
)

func (k Kind) String() string {
	switch k {
	case Unreachable:
		return "unreachable"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// ErrCAChanged is reported by Current when the PKI now serves a different
// trust zone CA. Picking it up needs a restart.
var ErrCAChanged = errors.New("trust zone CA changed since the identity was obtained, restart to adopt it")

// Error is returned by Obtain and Current.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("identity %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func rejected(op string, err error) error {
	return &Error{Kind: Rejected, Op: op, Err: err}
}

// fromRPC classifies a PKI call failure.
func fromRPC(op string, err error) error {
	kind := Rejected
	if rpc.Classify(err) == rpc.Unreachable {
		kind = Unreachable
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports the kind of an identity error.
func KindOf(err error) (Kind, bool) {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Kind, true
	}
	return 0, false
}
