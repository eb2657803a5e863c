package reconcile

import (
	"bytes"

	"github.com/aspect-build/contract-provider/internal/contract"
)

// Kind tells the scheduler what to do with a fetched set.
type Kind int

const (
	Skip Kind = iota
	Replace
)

func (k Kind) String() string {
	switch k {
	case Skip:
		return "skip"
	case Replace:
		return "replace"
	default:
		return "unknown"
	}
}

// Action is the outcome of Reconcile. Set is only populated for Replace and
// always holds the complete fetched set.
type Action struct {
	Kind Kind
	Set  *contract.Set
}

// Reconcile compares the stored set with a freshly fetched one. A nil current
// set is treated as empty. A current set that came back with unreadable
// entries always differs, so the write replaces them.
func Reconcile(current, fetched *contract.Set) Action {
	if current.Equal(fetched) && (current == nil || len(current.Unreadable) == 0) {
		return Action{Kind: Skip}
	}
	return Action{Kind: Replace, Set: fetched}
}

// Changes lists the ids that differ between two sets. It only feeds log lines;
// writes always carry the full set.
type Changes struct {
	Added   []string
	Removed []string
	Changed []string
}

func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Changed) == 0
}

// Diff computes the per-id changes from current to fetched.
func Diff(current, fetched *contract.Set) Changes {
	var ch Changes
	for _, id := range fetched.IDs() {
		next, _ := fetched.Get(id)
		prev, ok := current.Get(id)
		switch {
		case !ok:
			ch.Added = append(ch.Added, id)
		case !bytes.Equal(prev.Certificate, next.Certificate):
			ch.Changed = append(ch.Changed, id)
		}
	}
	for _, id := range current.IDs() {
		if _, ok := fetched.Get(id); !ok {
			ch.Removed = append(ch.Removed, id)
		}
	}
	return ch
}
