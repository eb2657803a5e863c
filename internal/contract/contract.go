package contract

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/util/validation"
)

// Contract binds a participant of a trust zone to its public certificate.
type Contract struct {
	ID          string `json:"id" yaml:"id"`
	TrustZone   string `json:"trustZone,omitempty" yaml:"trustZone,omitempty"`
	Certificate []byte `json:"certificate" yaml:"certificate"`
}

var (
	ErrMissingID          = errors.New("contract id is empty")
	ErrMissingCertificate = errors.New("contract certificate is empty")
)

// Validate checks the structural requirements every sink relies on: a key-safe
// id and at least one PEM certificate block.
func (c Contract) Validate() error {
	if c.ID == "" {
		return ErrMissingID
	}
	if errs := validation.IsConfigMapKey(c.ID); len(errs) > 0 {
		return fmt.Errorf("contract id %q is invalid: %s", c.ID, strings.Join(errs, "; "))
	}
	if len(bytes.TrimSpace(c.Certificate)) == 0 {
		return fmt.Errorf("contract %s: %w", c.ID, ErrMissingCertificate)
	}
	if !hasCertificateBlock(c.Certificate) {
		return fmt.Errorf("contract %s: certificate holds no PEM CERTIFICATE block", c.ID)
	}
	return nil
}

func hasCertificateBlock(data []byte) bool {
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return false
		}
		if block.Type == "CERTIFICATE" {
			return true
		}
	}
}

// DuplicateIDError reports a set that lists the same contract id twice.
type DuplicateIDError struct {
	ID string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("duplicate contract id %q", e.ID)
}

// Set is an order-irrelevant collection of contracts keyed by id.
type Set struct {
	// FetchedAt is zero for sets read back from storage.
	FetchedAt time.Time
	// Revision is the repository revision marker, if it supplied one.
	Revision string
	// Unreadable names stored entries that are not valid contracts. They are
	// never part of the set and the next write drops them.
	Unreadable []string

	items map[string]Contract
}

// NewSet builds a set from contracts, rejecting duplicates and invalid entries.
func NewSet(contracts ...Contract) (*Set, error) {
	s := &Set{items: make(map[string]Contract, len(contracts))}
	for _, c := range contracts {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if _, ok := s.items[c.ID]; ok {
			return nil, &DuplicateIDError{ID: c.ID}
		}
		c.Certificate = normalizePEM(c.Certificate)
		s.items[c.ID] = c
	}
	return s, nil
}

// Empty returns a set with no contracts.
func Empty() *Set {
	return &Set{items: map[string]Contract{}}
}

func clone(c Contract) Contract {
	c.Certificate = append([]byte(nil), c.Certificate...)
	return c
}

// normalizePEM trims surrounding whitespace and terminates with one newline so
// certificates compare equal after a round trip through any sink.
func normalizePEM(data []byte) []byte {
	out := append([]byte(nil), bytes.TrimSpace(data)...)
	return append(out, '\n')
}

// Len returns the number of contracts; a nil set is empty.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

// Get returns the contract with the given id.
func (s *Set) Get(id string) (Contract, bool) {
	if s == nil {
		return Contract{}, false
	}
	c, ok := s.items[id]
	return c, ok
}

// IDs returns all ids in ascending order.
func (s *Set) IDs() []string {
	if s == nil {
		return nil
	}
	ids := make([]string, 0, len(s.items))
	for id := range s.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Contracts returns all contracts sorted by id.
func (s *Set) Contracts() []Contract {
	ids := s.IDs()
	out := make([]Contract, 0, len(ids))
	for _, id := range ids {
		out = append(out, clone(s.items[id]))
	}
	return out
}

// With returns a copy of s extended by c.
func (s *Set) With(c Contract) (*Set, error) {
	next, err := NewSet(append(s.Contracts(), c)...)
	if err != nil {
		return nil, err
	}
	next.FetchedAt = s.FetchedAt
	next.Revision = s.Revision
	return next, nil
}

// Data returns the id -> certificate mapping.
func (s *Set) Data() map[string][]byte {
	data := make(map[string][]byte, s.Len())
	for _, c := range s.Contracts() {
		data[c.ID] = c.Certificate
	}
	return data
}

// Equal compares the id -> certificate mapping of two sets. Trust zone,
// revision and fetch time do not take part.
func (s *Set) Equal(other *Set) bool {
	if s.Len() != other.Len() {
		return false
	}
	for _, id := range s.IDs() {
		theirs, ok := other.Get(id)
		if !ok {
			return false
		}
		ours, _ := s.Get(id)
		if !bytes.Equal(ours.Certificate, theirs.Certificate) {
			return false
		}
	}
	return true
}

// Digest is a stable hex sha256 over the sorted id -> certificate mapping.
func (s *Set) Digest() string {
	h := sha256.New()
	for _, c := range s.Contracts() {
		fmt.Fprintf(h, "%d:%s\n%d:", len(c.ID), c.ID, len(c.Certificate))
		h.Write(c.Certificate)
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
