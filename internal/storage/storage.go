// Package storage defines the sink the reconciled contract set is published to.
// Implementations live in the local and kubernetes sub-packages.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/aspect-build/contract-provider/internal/contract"
)

// Storage reads and replaces the persisted contract set.
type Storage interface {
	// Read returns the stored set, or an empty set if nothing was stored yet.
	Read(ctx context.Context) (*contract.Set, error)
	// Write replaces the stored set wholesale. A failed write leaves the
	// previously stored set intact.
	Write(ctx context.Context, set *contract.Set) error
	// Describe names the storage handle for log lines.
	Describe() string
}

// Kind classifies storage failures.
type Kind int

const (
	Unreachable Kind = iota
	Forbidden
	Conflict
)

func (k Kind) String() string {
	switch k {
	case Unreachable:
		return "unreachable"
	case Forbidden:
		return "forbidden"
	case Conflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Error is returned by every Storage implementation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf wraps err as a storage error of the given kind.
func Errorf(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports the kind of a storage error.
func KindOf(err error) (Kind, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return 0, false
}

// IsConflict reports whether err is an optimistic concurrency failure.
func IsConflict(err error) bool {
	k, ok := KindOf(err)
	return ok && k == Conflict
}
